package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/BioHazard786/roomline/internal/chat"
	"github.com/BioHazard786/roomline/internal/feed"
	"github.com/BioHazard786/roomline/internal/session"
)

const (
	composerHeight = 5
	chromeHeight   = 8
	minTileWidth   = 16
)

func listWidth(total int) int {
	return min(max(total/4, 20), 36)
}

func (a *App) View() string {
	if a.width == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(a.viewTabs())
	b.WriteString("\n")

	if a.tab == tabHome {
		b.WriteString(a.viewHome())
	} else {
		b.WriteString(a.viewVideo())
	}

	b.WriteString("\n")
	b.WriteString(a.viewStatus())
	b.WriteString("\n")
	b.WriteString(FooterStyle.Render(a.help()))
	return b.String()
}

func (a *App) viewTabs() string {
	home, video := TabStyle, TabStyle
	if a.tab == tabHome {
		home = ActiveTabStyle
	} else {
		video = ActiveTabStyle
	}
	who := MutedStyle.Render("signed out")
	if id := a.ws.Auth.Current(); id != nil {
		who = SubtitleStyle.Render(id.DisplayName)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top,
		TitleStyle.Render("roomline "),
		home.Render(IconThread+" Home"),
		video.Render(IconCamera+" Video"),
		"  ", who,
	)
}

func (a *App) viewHome() string {
	listW := listWidth(a.width)
	list := renderList(a.threads, a.threadCursor, "No threads yet", listW)

	var main strings.Builder
	header := a.threads.Header
	if header == "" {
		header = "No thread selected"
	}
	main.WriteString(HeaderStyle.Render(header))
	main.WriteString("\n")
	main.WriteString(a.messages.View())
	main.WriteString("\n")
	switch a.mode {
	case modeCompose:
		main.WriteString(a.composer.View())
	case modeTitle:
		main.WriteString(a.title.View())
	default:
		main.WriteString(MutedStyle.Render("Press c to write a message"))
	}

	mainStyle := PaneStyle
	if a.mode == modeCompose {
		mainStyle = FocusedPaneStyle
	}
	return lipgloss.JoinHorizontal(lipgloss.Top,
		FocusedPaneStyle.Width(listW).Render(list),
		mainStyle.Width(max(a.width-listW-4, 10)).Render(main.String()),
	)
}

func (a *App) viewVideo() string {
	listW := listWidth(a.width)
	list := renderList(a.rooms, a.roomCursor, "No rooms yet", listW)
	mainW := max(a.width-listW-4, 10)

	var main string
	switch a.call.Phase {
	case session.Joining:
		main = a.viewJoining()
	case session.Live:
		main = a.viewLive(mainW)
	case session.Leaving:
		main = fmt.Sprintf("%s Leaving %s...", a.spinner.View(), a.call.Room)
	default:
		main = a.viewIdle()
	}
	if a.mode == modeTitle {
		main += "\n\n" + a.title.View()
	}

	return lipgloss.JoinHorizontal(lipgloss.Top,
		FocusedPaneStyle.Width(listW).Render(list),
		PaneStyle.Width(mainW).Render(main),
	)
}

func (a *App) viewIdle() string {
	if a.rooms.Header == "" {
		return MutedStyle.Render("Select a room to start a call")
	}
	return fmt.Sprintf("%s %s\n\n%s",
		IconRoom, BoldStyle.Render(a.rooms.Header),
		MutedStyle.Render("Press j to join"))
}

func (a *App) viewJoining() string {
	return fmt.Sprintf("%s Joining %s...", a.spinner.View(), BoldStyle.Render(a.call.Room))
}

func (a *App) viewLive(width int) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s  %s\n\n",
		IconConnect, BoldStyle.Render(a.call.Room), StatusStyle.Render(a.call.Phase.String())))
	b.WriteString(renderGrid(a.call, width))
	b.WriteString("\n")
	b.WriteString(RosterView(a.call.Tiles))
	return b.String()
}

// renderGrid lays the local preview and the remote tiles out on a square
// grid. Tiles past the grid capacity are summarised.
func renderGrid(st session.State, width int) string {
	tiles := make([]string, 0, len(st.Tiles)+1)
	tiles = append(tiles, localTile(st))
	for _, t := range st.Tiles {
		tiles = append(tiles, remoteTile(t))
	}

	cols, rows, shown := gridLayout(len(tiles))
	tileW := max(width/cols-4, minTileWidth)

	var lines []string
	for r := 0; r < rows; r++ {
		var row []string
		for c := 0; c < cols; c++ {
			i := r*cols + c
			if i >= shown {
				break
			}
			row = append(row, tileStyle(st, i).Width(tileW).Render(tiles[i]))
		}
		if len(row) == 0 {
			break
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, row...))
	}
	if extra := len(tiles) - shown; extra > 0 {
		lines = append(lines, MutedStyle.Render(fmt.Sprintf("+%d more", extra)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func tileStyle(st session.State, i int) lipgloss.Style {
	if i == 0 {
		return LocalTileStyle
	}
	for _, el := range st.Tiles[i-1].Elements {
		if !el.Paused {
			return TileStyle
		}
	}
	return PausedTileStyle
}

func localTile(st session.State) string {
	source := IconCamera + " camera"
	if st.Preview == session.PreviewScreen {
		source = IconScreen + " screen"
	}
	var flags []string
	if st.AudioMuted {
		flags = append(flags, IconMicOff)
	}
	if st.VideoMuted {
		flags = append(flags, IconCamOff)
	}
	return fmt.Sprintf("%s\n%s %s", BoldStyle.Render("You"), source, strings.Join(flags, " "))
}

func remoteTile(t session.Tile) string {
	name := t.Name
	if name == "" {
		name = t.MemberID
	}
	var kinds []string
	for _, el := range t.Elements {
		k := string(el.Kind)
		if el.Paused {
			k = MutedStyle.Render(k + " (paused)")
		}
		kinds = append(kinds, k)
	}
	return fmt.Sprintf("%s %s\n%s", IconPeer, BoldStyle.Render(truncate(name, 20)), strings.Join(kinds, " "))
}

func renderList(l feed.List, cursor int, empty string, width int) string {
	if len(l.Rows) == 0 {
		if l.Pending {
			return MutedStyle.Render(IconWaiting + " Loading...")
		}
		return MutedStyle.Render(empty)
	}

	var b strings.Builder
	for i, r := range l.Rows {
		line := truncate(r.Title, width-4)
		if r.Current {
			line = SelectedRowStyle.Render("● " + line)
		} else {
			line = "  " + line
		}
		if i == cursor {
			line = CursorRowStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderMessages(items []chat.Item, liked map[string]bool, cursor, width int) string {
	if len(items) == 0 {
		return MutedStyle.Render("No messages yet")
	}

	body := lipgloss.NewStyle()
	if width > 0 {
		body = body.Width(width)
	}

	var b strings.Builder
	for i, it := range items {
		heart := IconUnlike
		if liked[it.ID] {
			heart = IconLike
		}
		header := fmt.Sprintf("%s  %s  %s %d",
			BoldStyle.Render(it.AuthorName), MutedStyle.Render(it.Date), heart, it.LikeCount)
		if i == cursor {
			header = CursorRowStyle.Render("▸ " + header)
		}
		b.WriteString(header)
		b.WriteString("\n")
		b.WriteString(body.Render(it.Text))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *App) viewStatus() string {
	if a.err != nil {
		return FormatError(a.err)
	}
	if a.status != "" {
		return SuccessStyle.Render(a.status)
	}
	return ""
}

func (a *App) help() string {
	switch {
	case a.mode == modeCompose:
		return "ctrl+s send • esc cancel"
	case a.mode == modeTitle:
		return "enter create • esc cancel"
	case a.tab == tabHome:
		return "tab video • ↑/↓ threads • enter open • n new • c compose • ←/→ message • l like • d delete • pgup/pgdn scroll • q quit"
	default:
		return "tab home • ↑/↓ rooms • enter select • n new • j join • m mic • v camera • s share • x leave • q quit"
	}
}
