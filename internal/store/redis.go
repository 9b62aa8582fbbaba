package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const maxTxRetries = 16

// RedisConfig holds the connection settings for RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore shares the tree between clients through Redis. Each top-level
// collection ("thread", "messages", ...) is one JSON document under
// <prefix>:doc:<name>; writes run as optimistic WATCH/MULTI transactions and
// announce the touched paths on <prefix>:changes. Every listener re-reads its
// document when a change overlaps its path.
type RedisStore struct {
	client *redis.Client
	prefix string
	keys   *keyGen
	log    zerolog.Logger

	pubsub *redis.PubSub
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	listeners map[uint64]*redisListener
	nextID    uint64
}

type redisListener struct {
	id    uint64
	path  string
	segs  []string
	fn    Listener
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
	store *RedisStore
}

type changeNotice struct {
	Paths []string `json:"paths"`
}

// NewRedisStore connects to Redis and starts the change feed.
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(ctx, client, cfg.Prefix, logger)
}

// NewRedisStoreWithClient wraps an existing client. The store owns it from
// here on and closes it in Close.
func NewRedisStoreWithClient(ctx context.Context, client *redis.Client, prefix string, logger zerolog.Logger) (*RedisStore, error) {
	if prefix == "" {
		prefix = "roomline"
	}
	r := &RedisStore{
		client:    client,
		prefix:    prefix,
		keys:      newKeyGen(),
		log:       logger.With().Str("component", "store.redis").Logger(),
		listeners: map[uint64]*redisListener{},
	}

	ps := client.Subscribe(ctx, r.channel())
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe change feed: %w", err)
	}
	r.pubsub = ps
	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.wg.Add(1)
	go r.dispatch(ps.Channel())
	return r, nil
}

func (r *RedisStore) channel() string { return r.prefix + ":changes" }

func (r *RedisStore) docKey(top string) string { return r.prefix + ":doc:" + top }

func (r *RedisStore) NewKey() string { return r.keys.next() }

func (r *RedisStore) Get(ctx context.Context, path string) (Node, error) {
	segs, err := splitNonRoot(path)
	if err != nil {
		return Node{}, err
	}
	root, err := r.load(ctx, segs[0])
	if err != nil {
		return Node{}, err
	}
	return nodeOf(root, path, segs)
}

func (r *RedisStore) Set(ctx context.Context, path string, v any) error {
	segs, err := splitNonRoot(path)
	if err != nil {
		return err
	}
	w, err := setWrite(segs, v)
	if err != nil {
		return err
	}
	return r.commit(ctx, []write{w})
}

func (r *RedisStore) Update(ctx context.Context, path string, fields map[string]any) error {
	base, err := splitPath(path)
	if err != nil {
		return err
	}
	writes, err := updateWrites(base, fields)
	if err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}
	return r.commit(ctx, writes)
}

func (r *RedisStore) Remove(ctx context.Context, path string) error {
	segs, err := splitNonRoot(path)
	if err != nil {
		return err
	}
	return r.commit(ctx, []write{{segs: segs}})
}

func (r *RedisStore) Subscribe(_ context.Context, path string, fn Listener) (Handle, error) {
	segs, err := splitNonRoot(path)
	if err != nil {
		return nil, err
	}
	if r.ctx.Err() != nil {
		return nil, ErrClosed
	}

	r.mu.Lock()
	r.nextID++
	l := &redisListener{
		id:    r.nextID,
		path:  path,
		segs:  segs,
		fn:    fn,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		store: r,
	}
	r.listeners[l.id] = l
	r.mu.Unlock()

	r.wg.Add(1)
	go l.run()
	l.notify()
	return l, nil
}

func (r *RedisStore) Close() error {
	r.cancel()
	r.mu.Lock()
	for id, l := range r.listeners {
		l.stop()
		delete(r.listeners, id)
	}
	r.mu.Unlock()

	err := r.pubsub.Close()
	r.wg.Wait()
	return errors.Join(err, r.client.Close())
}

// load reads one top-level document into a fresh root.
func (r *RedisStore) load(ctx context.Context, top string) (map[string]any, error) {
	root := map[string]any{}
	raw, err := r.client.Get(ctx, r.docKey(top)).Bytes()
	if errors.Is(err, redis.Nil) {
		return root, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", top, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", top, err)
	}
	root[top] = doc
	return root, nil
}

func (r *RedisStore) commit(ctx context.Context, writes []write) error {
	var tops, keys []string
	seen := map[string]bool{}
	for _, w := range writes {
		if top := w.segs[0]; !seen[top] {
			seen[top] = true
			tops = append(tops, top)
			keys = append(keys, r.docKey(top))
		}
	}

	txf := func(tx *redis.Tx) error {
		vals, err := tx.MGet(ctx, keys...).Result()
		if err != nil {
			return err
		}
		root := map[string]any{}
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				continue
			}
			var doc any
			if err := json.Unmarshal([]byte(s), &doc); err != nil {
				return fmt.Errorf("decode %s: %w", tops[i], err)
			}
			root[tops[i]] = doc
		}

		apply(root, writes)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, top := range tops {
				doc, ok := root[top]
				if !ok {
					pipe.Del(ctx, keys[i])
					continue
				}
				b, err := json.Marshal(doc)
				if err != nil {
					return err
				}
				pipe.Set(ctx, keys[i], b, 0)
			}
			return nil
		})
		return err
	}

	for range maxTxRetries {
		err := r.client.Watch(ctx, txf, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return r.announce(ctx, writes)
	}
	return ErrConflict
}

func (r *RedisStore) announce(ctx context.Context, writes []write) error {
	notice := changeNotice{Paths: make([]string, len(writes))}
	for i, w := range writes {
		notice.Paths[i] = w.path()
	}
	b, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel(), b).Err()
}

func (r *RedisStore) dispatch(ch <-chan *redis.Message) {
	defer r.wg.Done()
	for msg := range ch {
		var notice changeNotice
		if err := json.Unmarshal([]byte(msg.Payload), &notice); err != nil {
			r.log.Warn().Err(err).Msg("dropping malformed change notice")
			continue
		}
		changed := make([][]string, 0, len(notice.Paths))
		for _, p := range notice.Paths {
			if segs, err := splitPath(p); err == nil {
				changed = append(changed, segs)
			}
		}

		r.mu.Lock()
		for _, l := range r.listeners {
			for _, segs := range changed {
				if overlaps(l.segs, segs) {
					l.notify()
					break
				}
			}
		}
		r.mu.Unlock()
	}
}

func (l *redisListener) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *redisListener) run() {
	r := l.store
	defer r.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case <-r.ctx.Done():
			return
		case <-l.wake:
		}

		root, err := r.load(r.ctx, l.segs[0])
		if err != nil {
			r.log.Error().Err(err).Str("path", l.path).Msg("refresh snapshot")
			continue
		}
		snap, err := snapshotOf(root, l.path, l.segs)
		if err != nil {
			r.log.Error().Err(err).Str("path", l.path).Msg("build snapshot")
			continue
		}

		select {
		case <-l.done:
			return
		default:
		}
		l.fn(snap)
	}
}

func (l *redisListener) stop() {
	l.once.Do(func() { close(l.done) })
}

func (l *redisListener) Close() {
	l.stop()
	l.store.mu.Lock()
	delete(l.store.listeners, l.id)
	l.store.mu.Unlock()
}
