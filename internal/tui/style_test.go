package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/bit2swaz/ghostnet/internal/discovery"
	"github.com/bit2swaz/ghostnet/internal/store"
	"github.com/bit2swaz/ghostnet/internal/transfer"
	tea "github.com/charmbracelet/bubbletea"
)

func TestFlashLogic(t *testing.T) {
	now := time.Now()
	if !ShouldFlash(now, now) {
		t.Error("Expected ShouldFlash(now) to be true")
	}
	if ShouldFlash(now.Add(-2*time.Second), now) {
		t.Error("Expected ShouldFlash(old) to be false")
	}
	if ShouldFlash(time.Time{}, now) {
		t.Error("Zero time should not flash")
	}
}

func TestPeerSorting(t *testing.T) {
	peers := []peerItem{
		{Username: "Zebra", Address: "10.0.0.1"},
		{Username: "Alpha", Address: "10.0.0.9"},
		{Username: "Alpha", Address: "10.0.0.2"},
	}

	sortPeers(peers)

	want := []string{"10.0.0.2", "10.0.0.9", "10.0.0.1"}
	for i, addr := range want {
		if peers[i].Address != addr {
			t.Errorf("Position %d: expected %s, got %s", i, addr, peers[i].Address)
		}
	}
}

func TestRenderHistory(t *testing.T) {
	out := renderHistory([]store.Entry{
		{Sender: store.SenderPeer, Content: "hi", Kind: store.KindText, Timestamp: 1},
		{Sender: store.SenderSelf, Content: "notes.txt", Kind: store.KindFile, Timestamp: 2},
	}, "Bob")
	if !strings.Contains(out, "hi") || !strings.Contains(out, "[FILE] notes.txt") {
		t.Errorf("Unexpected render: %q", out)
	}
	if strings.Count(out, "\n") != 2 {
		t.Errorf("Expected two lines, got %q", out)
	}
	if got := renderHistory(nil, "Bob"); got != "No messages yet.\n" {
		t.Errorf("Unexpected empty render %q", got)
	}
}

type fakeEngine struct {
	peers map[string]discovery.Entry
	sent  []string
}

func (f *fakeEngine) Username() string                  { return "Tester" }
func (f *fakeEngine) LocalAddress() string              { return "10.0.0.5" }
func (f *fakeEngine) Peers() map[string]discovery.Entry { return f.peers }
func (f *fakeEngine) PeerName(string) string            { return "Peer" }
func (f *fakeEngine) History(string, int) []store.Entry { return nil }

func (f *fakeEngine) SendText(target, text string) error {
	f.sent = append(f.sent, target+"|"+text)
	return nil
}

func (f *fakeEngine) SendFile(target, path string, _ transfer.ProgressFunc) *transfer.Task {
	task := transfer.NewTask(target, path, nil)
	task.Finish(nil)
	return task
}

func TestEnterSendsToSelectedPeer(t *testing.T) {
	eng := &fakeEngine{peers: map[string]discovery.Entry{
		"10.0.0.2": {Username: "Bob"},
		"10.0.0.1": {Username: "Alice"},
	}}
	m := initialModel(eng)
	if m.selected != "10.0.0.1" {
		t.Fatalf("Expected Alice selected first, got %s", m.selected)
	}

	m, _ = m.update(tea.KeyMsg{Type: tea.KeyTab}, nil)
	if m.selected != "10.0.0.2" {
		t.Fatalf("Tab should select Bob, got %s", m.selected)
	}

	m.textInput.SetValue("hello")
	m, cmd := m.update(tea.KeyMsg{Type: tea.KeyEnter}, nil)
	if cmd == nil {
		t.Fatal("Expected a send command")
	}
	msg := cmd()
	if sent, ok := msg.(sentMsg); !ok || sent.err != nil {
		t.Fatalf("Unexpected result %#v", msg)
	}
	if len(eng.sent) != 1 || eng.sent[0] != "10.0.0.2|hello" {
		t.Errorf("Unexpected sends %v", eng.sent)
	}
	if m.textInput.Value() != "" {
		t.Error("Input not cleared after send")
	}
}
