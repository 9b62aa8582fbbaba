package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/BioHazard786/roomline/internal/session"
)

// packetCounter is implemented by remote streams that count what they
// receive.
type packetCounter interface {
	Packets() int64
}

// RosterRow is one remote member in the call.
type RosterRow struct {
	Name    string
	Audio   string
	Video   string
	Packets int64
}

func rosterRows(tiles []session.Tile) []RosterRow {
	rows := make([]RosterRow, 0, len(tiles))
	for _, t := range tiles {
		row := RosterRow{Name: t.Name, Audio: "-", Video: "-"}
		if row.Name == "" {
			row.Name = t.MemberID
		}
		for _, el := range t.Elements {
			state := "on"
			if el.Paused {
				state = "paused"
			}
			switch el.Kind {
			case session.KindAudio:
				row.Audio = state
			case session.KindVideo:
				row.Video = state
			}
			if pc, ok := el.Stream.(packetCounter); ok {
				row.Packets += pc.Packets()
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// RosterView renders the remote members of a call as a table.
func RosterView(tiles []session.Tile) string {
	if len(tiles) == 0 {
		return MutedStyle.Render("Nobody else is here yet")
	}

	var rows [][]string
	for i, r := range rosterRows(tiles) {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			truncate(r.Name, 24),
			r.Audio,
			r.Video,
			fmt.Sprintf("%d", r.Packets),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "Member", "Audio", "Video", "Packets").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
