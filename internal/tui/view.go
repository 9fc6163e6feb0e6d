package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/bit2swaz/ghostnet/internal/store"
	"github.com/charmbracelet/lipgloss"
)

const sidebarWidth = 26

var (
	colorGreen = lipgloss.Color("2")
	colorBlack = lipgloss.Color("0")
	colorGray  = lipgloss.Color("240")
	colorCyan  = lipgloss.Color("14")
	colorWhite = lipgloss.Color("231")

	selectedPeerStyle = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	peerStyle         = lipgloss.NewStyle().Foreground(colorGray)

	selfStyle     = lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	peerNameStyle = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	timeStyle     = lipgloss.NewStyle().Foreground(colorGray)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorBlack).
			Background(colorGreen).
			Padding(0, 1)

	flashStyle = lipgloss.NewStyle().
			Foreground(colorBlack).
			Background(colorWhite).
			Bold(true).
			Padding(0, 1)

	sidebarStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, true, false, false).
			BorderForeground(colorGreen).
			Padding(0, 1)

	streamStyle = lipgloss.NewStyle().PaddingLeft(1)
)

func (m model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	sidebar := sidebarStyle.Width(sidebarWidth).Height(m.viewport.Height).Render(m.renderPeerList())
	stream := streamStyle.Render(m.viewport.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, stream)

	bar := statusBarStyle
	if ShouldFlash(m.lastIn, time.Now()) {
		bar = flashStyle
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		body,
		m.textInput.View(),
		bar.Width(m.width).Render(m.status),
	)
}

func (m model) renderPeerList() string {
	var s strings.Builder
	s.WriteString("PEERS\n-----\n")
	if len(m.peers) == 0 {
		s.WriteString(peerStyle.Render("searching...") + "\n")
	}
	for _, p := range m.peers {
		line := fmt.Sprintf("%s\n  %s", p.Username, p.Address)
		if p.Address == m.selected {
			s.WriteString(selectedPeerStyle.Render("> "+line) + "\n")
		} else {
			s.WriteString(peerStyle.Render("  "+line) + "\n")
		}
	}
	return s.String()
}

func renderHistory(entries []store.Entry, peerName string) string {
	if len(entries) == 0 {
		return "No messages yet.\n"
	}
	var sb strings.Builder
	for _, e := range entries {
		ts := time.Unix(int64(e.Timestamp), 0).Format("15:04:05")
		name := peerNameStyle.Render(peerName)
		if e.Sender == store.SenderSelf {
			name = selfStyle.Render("You")
		}
		content := e.Content
		if e.Kind == store.KindFile {
			content = "[FILE] " + content
		}
		fmt.Fprintf(&sb, "%s %s: %s\n", timeStyle.Render("["+ts+"]"), name, content)
	}
	return sb.String()
}

// ShouldFlash reports whether a message that arrived at at is recent enough
// to highlight the status bar.
func ShouldFlash(at, now time.Time) bool {
	return !at.IsZero() && now.Sub(at) < 500*time.Millisecond
}
