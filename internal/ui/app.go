package ui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/roomline/internal/chat"
	"github.com/BioHazard786/roomline/internal/feed"
	"github.com/BioHazard786/roomline/internal/session"
	"github.com/BioHazard786/roomline/internal/workspace"
)

const actionTimeout = 30 * time.Second

type tab int

const (
	tabHome tab = iota
	tabVideo
)

type mode int

const (
	modeBrowse mode = iota
	modeCompose
	modeTitle
)

// doneMsg reports the outcome of a user action.
type doneMsg struct {
	status string
	err    error
}

// App is the full screen client: a Home tab with threads and messages and
// a Video tab with rooms and the call.
type App struct {
	ws     *workspace.Workspace
	bridge *Bridge

	tab  tab
	mode mode

	threads      feed.List
	rooms        feed.List
	threadCursor int
	roomCursor   int

	thread    string
	items     []chat.Item
	liked     map[string]bool
	msgCursor int

	call session.State

	messages viewport.Model
	composer textarea.Model
	title    textinput.Model
	spinner  spinner.Model

	status string
	err    error

	width  int
	height int
}

func NewApp(ws *workspace.Workspace, b *Bridge) *App {
	ta := textarea.New()
	ta.Placeholder = "Write a message..."
	ta.ShowLineNumbers = false
	ta.CharLimit = 4000
	ta.SetHeight(3)

	ti := textinput.New()
	ti.CharLimit = 120

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &App{
		ws:       ws,
		bridge:   b,
		liked:    map[string]bool{},
		messages: viewport.New(0, 0),
		composer: ta,
		title:    ti,
		spinner:  s,
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.bridge.listen())
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.resize(msg.Width, msg.Height)
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case threadsMsg:
		a.threads = feed.List(msg)
		a.threadCursor = cursorFor(a.threads, a.threadCursor)
		return a, a.bridge.listen()

	case roomsMsg:
		a.rooms = feed.List(msg)
		a.roomCursor = cursorFor(a.rooms, a.roomCursor)
		return a, a.bridge.listen()

	case messagesMsg:
		a.setMessages(msg.thread, msg.items)
		return a, a.bridge.listen()

	case likedMsg:
		a.liked[msg.id] = msg.liked
		a.refreshMessages()
		return a, a.bridge.listen()

	case scrollMsg:
		a.messages.SetYOffset(int(msg))
		return a, a.bridge.listen()

	case callMsg:
		a.call = session.State(msg)
		if a.call.Err != nil {
			a.err = a.call.Err
		}
		return a, a.bridge.listen()

	case doneMsg:
		a.status, a.err = msg.status, msg.err
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return a, tea.Quit
	}

	switch a.mode {
	case modeCompose:
		return a.handleComposeKey(msg)
	case modeTitle:
		return a.handleTitleKey(msg)
	}

	switch msg.String() {
	case "q":
		return a, tea.Quit
	case "tab":
		if a.tab == tabHome {
			a.tab = tabVideo
		} else {
			a.tab = tabHome
		}
		return a, nil
	case "up":
		a.moveCursor(-1)
		return a, nil
	case "down":
		a.moveCursor(1)
		return a, nil
	case "enter":
		return a, a.selectCursor()
	case "n":
		a.mode = modeTitle
		a.title.Reset()
		if a.tab == tabHome {
			a.title.Placeholder = "New thread title"
		} else {
			a.title.Placeholder = "New room title"
		}
		return a, a.title.Focus()
	}

	if a.tab == tabHome {
		return a.handleHomeKey(msg)
	}
	return a.handleVideoKey(msg)
}

func (a *App) handleHomeKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "c":
		if a.thread == "" {
			return a, nil
		}
		a.mode = modeCompose
		return a, a.composer.Focus()
	case "left":
		if a.msgCursor > 0 {
			a.msgCursor--
			a.refreshMessages()
		}
	case "right":
		if a.msgCursor < len(a.items)-1 {
			a.msgCursor++
			a.refreshMessages()
		}
	case "l":
		if it, ok := a.cursorItem(); ok {
			return a, a.act("", func(ctx context.Context) error {
				_, err := a.ws.Chat.ToggleLike(ctx, it.ID)
				return err
			})
		}
	case "d":
		if it, ok := a.cursorItem(); ok && it.Deletable {
			return a, a.act("Message deleted", func(ctx context.Context) error {
				return a.ws.Chat.Delete(ctx, it.ID)
			})
		}
	case "pgup":
		a.messages.PageUp()
		a.ws.Chat.SaveScroll(a.messages.YOffset)
	case "pgdown":
		a.messages.PageDown()
		a.ws.Chat.SaveScroll(a.messages.YOffset)
	}
	return a, nil
}

func (a *App) handleVideoKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	call := a.ws.Call
	switch msg.String() {
	case "j":
		if a.rooms.Header == "" {
			a.err = errors.New("select a room first")
			return a, nil
		}
		a.err = nil
		return a, a.act("", a.ws.JoinCurrentRoom)
	case "x":
		return a, a.act("Left the call", call.Leave)
	case "m":
		return a, a.act("", func(ctx context.Context) error {
			_, err := call.ToggleAudio(ctx)
			return err
		})
	case "v":
		return a, a.act("", func(ctx context.Context) error {
			_, err := call.ToggleVideo(ctx)
			return err
		})
	case "s":
		if a.call.Sharing {
			return a, a.act("Screen share stopped", call.StopScreenShare)
		}
		return a, a.act("Sharing screen", call.StartScreenShare)
	}
	return a, nil
}

func (a *App) handleComposeKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		a.mode = modeBrowse
		a.composer.Blur()
		return a, nil
	case tea.KeyCtrlS:
		body := a.composer.Value()
		a.composer.Reset()
		a.composer.Blur()
		a.mode = modeBrowse
		return a, a.act("", func(ctx context.Context) error {
			_, err := a.ws.Chat.Send(ctx, body)
			return err
		})
	}
	var cmd tea.Cmd
	a.composer, cmd = a.composer.Update(msg)
	return a, cmd
}

func (a *App) handleTitleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		a.mode = modeBrowse
		a.title.Blur()
		return a, nil
	case tea.KeyEnter:
		title := strings.TrimSpace(a.title.Value())
		a.title.Reset()
		a.title.Blur()
		a.mode = modeBrowse
		if title == "" {
			return a, nil
		}
		target := a.ws.Threads
		if a.tab == tabVideo {
			target = a.ws.Rooms
		}
		return a, a.act("Created "+title, func(ctx context.Context) error {
			_, err := target.Create(ctx, title)
			return err
		})
	}
	var cmd tea.Cmd
	a.title, cmd = a.title.Update(msg)
	return a, cmd
}

// act runs fn off the update loop and reports back with a doneMsg.
func (a *App) act(status string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			return doneMsg{err: err}
		}
		return doneMsg{status: status}
	}
}

func (a *App) moveCursor(delta int) {
	if a.tab == tabHome {
		a.threadCursor = clampIndex(a.threadCursor+delta, len(a.threads.Rows))
		return
	}
	a.roomCursor = clampIndex(a.roomCursor+delta, len(a.rooms.Rows))
}

func (a *App) selectCursor() tea.Cmd {
	list, cursor, target := a.threads, a.threadCursor, a.ws.Threads
	if a.tab == tabVideo {
		list, cursor, target = a.rooms, a.roomCursor, a.ws.Rooms
	}
	if cursor < 0 || cursor >= len(list.Rows) {
		return nil
	}
	key := list.Rows[cursor].Key
	return a.act("", func(context.Context) error { return target.Select(key) })
}

func (a *App) cursorItem() (chat.Item, bool) {
	if a.msgCursor < 0 || a.msgCursor >= len(a.items) {
		return chat.Item{}, false
	}
	return a.items[a.msgCursor], true
}

func (a *App) setMessages(thread string, items []chat.Item) {
	if thread != a.thread {
		a.thread = thread
		a.msgCursor = len(items) - 1
	}
	// Like marks follow every render.
	a.liked = map[string]bool{}
	a.items = items
	a.msgCursor = clampIndex(a.msgCursor, len(items))

	atBottom := a.messages.AtBottom()
	a.refreshMessages()
	if atBottom {
		a.messages.GotoBottom()
	}
}

func (a *App) refreshMessages() {
	a.messages.SetContent(renderMessages(a.items, a.liked, a.msgCursor, a.messages.Width))
}

func (a *App) resize(w, h int) {
	a.width, a.height = w, h

	listW := listWidth(w)
	mainW := max(w-listW-4, 10)
	a.messages.Width = mainW - 2
	a.messages.Height = max(h-composerHeight-chromeHeight, 3)
	a.composer.SetWidth(mainW - 2)
	a.title.Width = max(mainW-4, 10)
	a.refreshMessages()
}

// cursorFor keeps the cursor on the current row after a re-render.
func cursorFor(l feed.List, cursor int) int {
	for i, r := range l.Rows {
		if r.Current {
			return i
		}
	}
	return clampIndex(cursor, len(l.Rows))
}

func clampIndex(i, n int) int {
	if n == 0 {
		return 0
	}
	return min(max(i, 0), n-1)
}
