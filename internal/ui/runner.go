package ui

import (
	"context"
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/roomline/internal/chat"
	"github.com/BioHazard786/roomline/internal/feed"
	"github.com/BioHazard786/roomline/internal/session"
	"github.com/BioHazard786/roomline/internal/workspace"
)

const updateBuffer = 256

type (
	threadsMsg  feed.List
	roomsMsg    feed.List
	messagesMsg struct {
		thread string
		items  []chat.Item
	}
	likedMsg struct {
		id    string
		liked bool
	}
	scrollMsg int
	callMsg   session.State
)

// Bridge turns workspace renders into program messages. Renders arrive on
// store and call goroutines, possibly before the program is running, so
// they are queued and read back by a listening command.
type Bridge struct {
	updates chan tea.Msg
	done    chan struct{}
	once    sync.Once
}

func NewBridge() *Bridge {
	return &Bridge{
		updates: make(chan tea.Msg, updateBuffer),
		done:    make(chan struct{}),
	}
}

// Views returns the callbacks to hand to workspace.New.
func (b *Bridge) Views() workspace.Views {
	return workspace.Views{
		Threads:  func(l feed.List) { b.push(threadsMsg(l)) },
		Rooms:    func(l feed.List) { b.push(roomsMsg(l)) },
		Messages: b,
		Call:     func(s session.State) { b.push(callMsg(s)) },
	}
}

func (b *Bridge) RenderMessages(threadID string, items []chat.Item) {
	b.push(messagesMsg{thread: threadID, items: items})
}

func (b *Bridge) MarkLiked(messageID string, liked bool) {
	b.push(likedMsg{id: messageID, liked: liked})
}

func (b *Bridge) RestoreScroll(offset int) {
	b.push(scrollMsg(offset))
}

// Close stops delivery. Pending and later renders are dropped.
func (b *Bridge) Close() {
	b.once.Do(func() { close(b.done) })
}

func (b *Bridge) push(msg tea.Msg) {
	select {
	case b.updates <- msg:
	case <-b.done:
	}
}

func (b *Bridge) listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-b.updates:
			return msg
		case <-b.done:
			return nil
		}
	}
}

// Run shows the full screen client until the user quits or ctx ends.
func Run(ctx context.Context, ws *workspace.Workspace, b *Bridge) error {
	defer b.Close()

	p := tea.NewProgram(NewApp(ws, b), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("ui: %w", err)
	}
	return nil
}
