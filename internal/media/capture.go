// Package media implements the call SDK on top of pion/webrtc. Devices are
// file backed: the camera and display are IVF/VP8 files and the microphone
// is an Ogg/Opus file.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog"

	"github.com/BioHazard786/roomline/internal/session"
)

const (
	defaultFrameDuration = 33 * time.Millisecond
	opusSampleRate       = 48000
)

// Devices names the files that stand in for capture hardware.
type Devices struct {
	Camera     string
	Microphone string
	Display    string
}

// Capturer opens file-backed capture devices.
type Capturer struct {
	devices Devices
	log     zerolog.Logger
}

func NewCapturer(devices Devices, logger zerolog.Logger) *Capturer {
	return &Capturer{devices: devices, log: logger}
}

func (c *Capturer) CaptureMicrophoneAndCamera(ctx context.Context) (session.LocalStream, session.LocalStream, error) {
	if err := errors.Join(validateSource(c.devices.Microphone), validateSource(c.devices.Camera)); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	audio, err := newStream(session.KindAudio, c.devices.Microphone, true, c.log)
	if err != nil {
		return nil, nil, err
	}
	video, err := newStream(session.KindVideo, c.devices.Camera, true, c.log)
	if err != nil {
		audio.Close()
		return nil, nil, err
	}
	return audio, video, nil
}

func (c *Capturer) CaptureDisplay(ctx context.Context) (session.LocalStream, error) {
	if err := validateSource(c.devices.Display); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	display, err := newStream(session.KindVideo, c.devices.Display, false, c.log)
	if err != nil {
		return nil, err
	}
	return display, nil
}

// validateSource checks that a device file exists and can be read.
func validateSource(path string) error {
	if path == "" {
		return fmt.Errorf("%w: no device configured", session.ErrMediaUnavailable)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", session.ErrMediaUnavailable, path, err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s: file does not exist", session.ErrMediaUnavailable, path)
		}
		return fmt.Errorf("%w: %s: %v", session.ErrMediaUnavailable, path, err)
	}
	if stat.IsDir() {
		return fmt.Errorf("%w: %s: is a directory", session.ErrMediaUnavailable, path)
	}
	if stat.Size() == 0 {
		return fmt.Errorf("%w: %s: file is empty", session.ErrMediaUnavailable, path)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return fmt.Errorf("%w: %s: cannot open file: %v", session.ErrMediaUnavailable, path, err)
	}
	return file.Close()
}

// source yields encoded samples from one pass over a file.
type source interface {
	next() (pionmedia.Sample, error)
}

type ivfSource struct {
	reader   *ivfreader.IVFReader
	duration time.Duration
}

func newIVFSource(r io.Reader) (source, error) {
	reader, header, err := ivfreader.NewWith(r)
	if err != nil {
		return nil, err
	}
	d := defaultFrameDuration
	if header.TimebaseDenominator != 0 && header.TimebaseNumerator != 0 {
		d = time.Duration(header.TimebaseNumerator) * time.Second / time.Duration(header.TimebaseDenominator)
	}
	return &ivfSource{reader: reader, duration: d}, nil
}

func (s *ivfSource) next() (pionmedia.Sample, error) {
	frame, _, err := s.reader.ParseNextFrame()
	if err != nil {
		return pionmedia.Sample{}, err
	}
	return pionmedia.Sample{Data: frame, Duration: s.duration}, nil
}

type oggSource struct {
	reader  *oggreader.OggReader
	granule uint64
}

func newOggSource(r io.Reader) (source, error) {
	reader, _, err := oggreader.NewWith(r)
	if err != nil {
		return nil, err
	}
	return &oggSource{reader: reader}, nil
}

func (s *oggSource) next() (pionmedia.Sample, error) {
	page, header, err := s.reader.ParseNextPage()
	if err != nil {
		return pionmedia.Sample{}, err
	}
	samples := header.GranulePosition - s.granule
	s.granule = header.GranulePosition
	d := time.Duration(float64(samples) / opusSampleRate * float64(time.Second))
	return pionmedia.Sample{Data: page, Duration: d}, nil
}

// Stream is a local source writing samples into a pion track until closed.
type Stream struct {
	kind  session.Kind
	path  string
	loop  bool
	track *webrtc.TrackLocalStaticSample
	log   zerolog.Logger

	enabled atomic.Bool
	written atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	ended   bool
	onEnded []func()
}

func newStream(kind session.Kind, path string, loop bool, logger zerolog.Logger) (*Stream, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
	if kind == session.KindAudio {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
	}
	track, err := webrtc.NewTrackLocalStaticSample(codec, string(kind), "roomline-"+filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Stream{
		kind:   kind,
		path:   path,
		loop:   loop,
		track:  track,
		log:    logger.With().Str("source", filepath.Base(path)).Logger(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.enabled.Store(true)
	go s.run(ctx)
	return s, nil
}

func (s *Stream) Kind() session.Kind { return s.kind }

// Track is the pion track publications send.
func (s *Stream) Track() webrtc.TrackLocal { return s.track }

// Written is the number of samples written so far.
func (s *Stream) Written() int64 { return s.written.Load() }

// SetEnabled pauses or resumes sample writes. Reading continues so the
// source stays in real time.
func (s *Stream) SetEnabled(enabled bool) { s.enabled.Store(enabled) }

func (s *Stream) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *Stream) OnEnded(fn func()) {
	s.mu.Lock()
	if !s.ended {
		s.onEnded = append(s.onEnded, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.done)

	for {
		n, err := s.play(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, io.EOF) && s.loop && n > 0:
			continue
		case err != nil && !errors.Is(err, io.EOF):
			s.log.Error().Err(err).Msg("source failed")
		}
		s.end()
		return
	}
}

// play streams one pass over the file and reports how many samples it read.
func (s *Stream) play(ctx context.Context) (int, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	var src source
	if s.kind == session.KindAudio {
		src, err = newOggSource(file)
	} else {
		src, err = newIVFSource(file)
	}
	if err != nil {
		return 0, err
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case <-timer.C:
		}

		sample, err := src.next()
		if err != nil {
			return n, err
		}
		if s.enabled.Load() {
			if err := s.track.WriteSample(sample); err != nil {
				return n, err
			}
			s.written.Add(1)
		}
		timer.Reset(sample.Duration)
	}
}

func (s *Stream) end() {
	s.mu.Lock()
	s.ended = true
	fns := s.onEnded
	s.onEnded = nil
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
