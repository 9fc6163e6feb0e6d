package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bit2swaz/ghostnet/internal/discovery"
	"github.com/bit2swaz/ghostnet/internal/engine"
	"github.com/bit2swaz/ghostnet/internal/netinfo"
	"github.com/bit2swaz/ghostnet/internal/store"
	"github.com/bit2swaz/ghostnet/internal/transfer"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

const historyLimit = 200

// Engine is what the terminal client needs from a running node.
type Engine interface {
	Username() string
	LocalAddress() string
	Peers() map[string]discovery.Entry
	PeerName(address string) string
	History(address string, limit int) []store.Entry
	SendText(target, text string) error
	SendFile(target, path string, onProgress transfer.ProgressFunc) *transfer.Task
}

type (
	peersMsg    map[string]discovery.Entry
	incomingMsg struct {
		peer string
		text string
		at   time.Time
	}
	networkMsg netinfo.Change
	sentMsg    struct {
		peer string
		err  error
	}
	progressMsg struct {
		peer        string
		sent, total int64
	}
	tickMsg time.Time
)

// Notifier turns engine events into program messages. Events that arrive
// before a program is attached are dropped.
type Notifier struct {
	mu sync.Mutex
	p  *tea.Program
}

func (n *Notifier) attach(p *tea.Program) {
	n.mu.Lock()
	n.p = p
	n.mu.Unlock()
}

func (n *Notifier) send(msg tea.Msg) {
	n.mu.Lock()
	p := n.p
	n.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Events wires the notifier into engine options.
func (n *Notifier) Events() engine.Events {
	return engine.Events{
		PeersChanged: func(peers map[string]discovery.Entry) { n.send(peersMsg(peers)) },
		MessageReceived: func(peer, text string, at time.Time) {
			n.send(incomingMsg{peer: peer, text: text, at: at})
		},
		FileReceived: func(peer, filename, _ string, at time.Time) {
			n.send(incomingMsg{peer: peer, text: "[FILE] " + filename, at: at})
		},
		NetworkChanged: func(c netinfo.Change) { n.send(networkMsg(c)) },
	}
}

type peerItem struct {
	Address  string
	Username string
	LastSeen time.Time
}

type model struct {
	engine    Engine
	peers     []peerItem
	selected  string
	viewport  viewport.Model
	textInput textinput.Model
	status    string
	lastIn    time.Time
	width     int
	height    int
	ready     bool
}

func initialModel(eng Engine) model {
	ti := textinput.New()
	ti.Placeholder = "Type a message, or /file <path>"
	ti.Focus()
	ti.CharLimit = 2000
	ti.Width = 40

	m := model{
		engine:    eng,
		textInput: ti,
		status:    fmt.Sprintf("%s @ %s", eng.Username(), eng.LocalAddress()),
	}
	m.setPeers(eng.Peers())
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func sendTextCmd(eng Engine, peer, text string) tea.Cmd {
	return func() tea.Msg {
		return sentMsg{peer: peer, err: eng.SendText(peer, text)}
	}
}

func sendFileCmd(eng Engine, peer, path string, n *Notifier) tea.Cmd {
	return func() tea.Msg {
		task := eng.SendFile(peer, path, func(sent, total int64) {
			if n != nil {
				n.send(progressMsg{peer: peer, sent: sent, total: total})
			}
		})
		return sentMsg{peer: peer, err: task.Wait(context.Background())}
	}
}

func (m *model) setPeers(peers map[string]discovery.Entry) {
	m.peers = m.peers[:0]
	for addr, e := range peers {
		m.peers = append(m.peers, peerItem{Address: addr, Username: e.Username, LastSeen: e.LastSeen})
	}
	sortPeers(m.peers)
	if m.selected == "" && len(m.peers) > 0 {
		m.selected = m.peers[0].Address
	}
}

func (m *model) cycle(step int) {
	if len(m.peers) == 0 {
		return
	}
	idx := 0
	for i, p := range m.peers {
		if p.Address == m.selected {
			idx = i
			break
		}
	}
	idx = (idx + step + len(m.peers)) % len(m.peers)
	m.selected = m.peers[idx].Address
	m.refresh()
}

func (m *model) refresh() {
	if !m.ready || m.selected == "" {
		return
	}
	m.viewport.SetContent(renderHistory(m.engine.History(m.selected, historyLimit), m.engine.PeerName(m.selected)))
	m.viewport.GotoBottom()
}

func (m model) update(msg tea.Msg, n *Notifier) (model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tickMsg:
		return m, tick()

	case peersMsg:
		m.setPeers(msg)
		m.refresh()
		return m, nil

	case incomingMsg:
		m.lastIn = msg.at
		if m.selected == "" {
			m.selected = msg.peer
		}
		if msg.peer == m.selected {
			m.refresh()
		} else {
			m.status = fmt.Sprintf("New message from %s", m.engine.PeerName(msg.peer))
		}
		return m, nil

	case networkMsg:
		m.status = fmt.Sprintf("Network changed: %s -> %s (%s)", msg.OldAddress, msg.NewAddress, msg.Type)
		return m, nil

	case progressMsg:
		if msg.total > 0 {
			m.status = fmt.Sprintf("Sending to %s: %d%%", msg.peer, msg.sent*100/msg.total)
		}
		return m, nil

	case sentMsg:
		if msg.err != nil {
			m.status = "Send failed: " + msg.err.Error()
		} else {
			m.status = "Sent to " + m.engine.PeerName(msg.peer)
		}
		if msg.peer == m.selected {
			m.refresh()
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyTab:
			m.cycle(1)
			return m, nil
		case tea.KeyShiftTab:
			m.cycle(-1)
			return m, nil
		case tea.KeyEnter:
			text := strings.TrimSpace(m.textInput.Value())
			if text == "" {
				return m, nil
			}
			if m.selected == "" {
				m.status = "No peer selected"
				return m, nil
			}
			m.textInput.Reset()
			if path, ok := strings.CutPrefix(text, "/file "); ok {
				m.status = "Sending " + strings.TrimSpace(path)
				return m, sendFileCmd(m.engine, m.selected, strings.TrimSpace(path), n)
			}
			return m, sendTextCmd(m.engine, m.selected, text)
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		vpWidth := msg.Width - sidebarWidth - 4
		vpHeight := msg.Height - 4
		if !m.ready {
			m.viewport = viewport.New(vpWidth, vpHeight)
			m.ready = true
			m.refresh()
		} else {
			m.viewport.Width = vpWidth
			m.viewport.Height = vpHeight
		}
		m.textInput.Width = vpWidth
	}

	m.textInput, tiCmd = m.textInput.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd)
}

// sortPeers orders by username, then address.
func sortPeers(peers []peerItem) {
	sort.Slice(peers, func(i, j int) bool {
		if peers[i].Username != peers[j].Username {
			return peers[i].Username < peers[j].Username
		}
		return peers[i].Address < peers[j].Address
	})
}

// program wraps model so file progress can reach the notifier.
type program struct {
	model
	n *Notifier
}

func (p program) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	m, cmd := p.model.update(msg, p.n)
	p.model = m
	return p, cmd
}

// Run blocks until the user quits.
func Run(eng Engine, n *Notifier) error {
	p := tea.NewProgram(program{model: initialModel(eng), n: n}, tea.WithAltScreen())
	n.attach(p)
	defer n.attach(nil)
	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}
