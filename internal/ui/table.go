package ui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	pretty "github.com/jedib0t/go-pretty/v6/table"

	"github.com/confera/confera/internal/room"
)

// PeersView renders the members of a room using lipgloss/table.
func PeersView(peers []room.Participant) string {
	if len(peers) == 0 {
		return MutedStyle.Render("No one else is here yet")
	}

	rows := make([][]string, 0, len(peers))
	for i, p := range peers {
		rows = append(rows, []string{strconv.Itoa(i + 1), p.DisplayName, p.ConnectionID})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "Name", "Connection").
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

// RoomsView renders the public room listing using go-pretty.
func RoomsView(rooms []room.RoomInfo) string {
	if len(rooms) == 0 {
		return MutedStyle.Render("No public rooms")
	}

	t := pretty.NewWriter()
	t.SetStyle(pretty.StyleRounded)
	t.AppendHeader(pretty.Row{"Room", "Participants"})
	total := 0
	for _, r := range rooms {
		t.AppendRow(pretty.Row{r.ID, r.ParticipantCount})
		total += r.ParticipantCount
	}
	t.AppendFooter(pretty.Row{fmt.Sprintf("%d rooms", len(rooms)), total})
	return t.Render()
}

// RoomCreatedView is the summary box printed after creating a room.
func RoomCreatedView(roomID, joinLink string, private bool) string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(Success).
		Padding(1, 2)

	kind := "public"
	if private {
		kind = IconLock + " private"
	}
	content := fmt.Sprintf("%s Room Created!\n\n%s Room ID:    %s\n%s Join link:  %s\n%s Type:       %s",
		IconSuccess,
		IconRoom, BoldStyle.Foreground(Primary).Render(roomID),
		IconLink, MutedStyle.Render(joinLink),
		IconInfo, kind,
	)
	return boxStyle.Render(content)
}
