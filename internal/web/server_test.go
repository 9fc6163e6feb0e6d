package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bit2swaz/ghostnet/internal/discovery"
	"github.com/bit2swaz/ghostnet/internal/engine"
	"github.com/bit2swaz/ghostnet/internal/metrics"
	"github.com/bit2swaz/ghostnet/internal/netinfo"
	"github.com/bit2swaz/ghostnet/internal/store"
	"github.com/bit2swaz/ghostnet/internal/transfer"
	"github.com/prometheus/client_golang/prometheus"
)

// MockEngine implements the Engine interface for testing
type MockEngine struct {
	mu       sync.Mutex
	Sent     []string
	SendErr  error
	Files    []string
	peers    map[string]discovery.Entry
	messages map[string][]store.Entry
}

func newMockEngine() *MockEngine {
	return &MockEngine{
		peers: map[string]discovery.Entry{
			"192.168.1.20": {Username: "Bob", LastSeen: time.Unix(1700000000, 0), Port: 37021},
			"192.168.1.10": {Username: "Alice", LastSeen: time.Unix(1700000005, 0)},
		},
		messages: map[string][]store.Entry{
			"192.168.1.10": {
				{ID: 1, Sender: store.SenderPeer, Content: "hi", Kind: store.KindText, Timestamp: 1},
				{ID: 2, Sender: store.SenderSelf, Content: "hello", Kind: store.KindText, Timestamp: 2},
			},
		},
	}
}

func (m *MockEngine) Username() string   { return "QuietOwl07" }
func (m *MockEngine) DiscoveryPort() int { return 37020 }
func (m *MockEngine) MessagingPort() int { return 37021 }

func (m *MockEngine) NetworkStatus() engine.NetworkStatus {
	return engine.NetworkStatus{Address: "192.168.1.5", Type: netinfo.KindWifi, Connected: true}
}

func (m *MockEngine) Peers() map[string]discovery.Entry { return m.peers }

func (m *MockEngine) PeerName(address string) string {
	if e, ok := m.peers[address]; ok {
		return e.Username
	}
	return "Unknown"
}

func (m *MockEngine) History(address string, limit int) []store.Entry {
	h := m.messages[address]
	if len(h) > limit {
		h = h[len(h)-limit:]
	}
	return h
}

func (m *MockEngine) SendText(target, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.Sent = append(m.Sent, target+"|"+text)
	return nil
}

func (m *MockEngine) SendFile(target, path string, _ transfer.ProgressFunc) *transfer.Task {
	m.mu.Lock()
	m.Files = append(m.Files, target+"|"+path)
	m.mu.Unlock()
	task := transfer.NewTask(target, path, nil)
	task.SetTotal(10)
	task.Advance(10)
	task.Finish(nil)
	return task
}

type fixedStats store.Stats

func (f fixedStats) Statistics() store.Stats { return store.Stats(f) }

func setupTestServer(t *testing.T) (http.Handler, *MockEngine, *metrics.Recorder) {
	t.Helper()
	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)
	mockEngine := newMockEngine()
	server := NewServer(mockEngine, fixedStats{TotalMessages: 2, TotalPeers: 2}, reg, "127.0.0.1:0")
	return server.Handler(), mockEngine, rec
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestStatus(t *testing.T) {
	h, _, _ := setupTestServer(t)
	w := do(t, h, "GET", "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var got map[string]any
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if got["ip"] != "192.168.1.5" || got["type"] != "wifi" || got["is_connected"] != true {
		t.Errorf("Unexpected network fields: %v", got)
	}
	if got["username"] != "QuietOwl07" || got["peers"] != float64(2) || got["messaging_port"] != float64(37021) {
		t.Errorf("Unexpected node fields: %v", got)
	}
}

func TestPeersSortedByAddress(t *testing.T) {
	h, _, _ := setupTestServer(t)
	w := do(t, h, "GET", "/api/peers", nil)

	var peers []peerView
	if err := json.NewDecoder(w.Body).Decode(&peers); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if len(peers) != 2 || peers[0].Address != "192.168.1.10" || peers[1].Username != "Bob" || peers[1].Port != 37021 {
		t.Errorf("Unexpected peers: %+v", peers)
	}
}

func TestHistory(t *testing.T) {
	h, _, _ := setupTestServer(t)

	w := do(t, h, "GET", "/api/history/192.168.1.10?limit=1", nil)
	var got struct {
		Username string        `json:"username"`
		Messages []store.Entry `json:"messages"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if got.Username != "Alice" || len(got.Messages) != 1 || got.Messages[0].Content != "hello" {
		t.Errorf("Unexpected history: %+v", got)
	}

	w = do(t, h, "GET", "/api/history/10.0.0.9", nil)
	if !strings.Contains(w.Body.String(), `"messages":[]`) {
		t.Errorf("Expected empty list for unknown peer, got %s", w.Body.String())
	}

	if w := do(t, h, "GET", "/api/history/192.168.1.10?limit=zero", nil); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad limit, got %d", w.Code)
	}
}

func TestPostMessage(t *testing.T) {
	h, mockEngine, _ := setupTestServer(t)

	w := do(t, h, "POST", "/api/messages", map[string]string{"to": "192.168.1.10", "content": "Hello Web"})
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(mockEngine.Sent) != 1 || mockEngine.Sent[0] != "192.168.1.10|Hello Web" {
		t.Errorf("Unexpected sends: %v", mockEngine.Sent)
	}

	if w := do(t, h, "POST", "/api/messages", map[string]string{"to": "192.168.1.10"}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without content, got %d", w.Code)
	}
	if w := do(t, h, "GET", "/api/messages", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET, got %d", w.Code)
	}

	mockEngine.SendErr = fmt.Errorf("send: %w", engine.ErrNotRunning)
	if w := do(t, h, "POST", "/api/messages", map[string]string{"to": "x", "content": "y"}); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 when stopped, got %d", w.Code)
	}
	mockEngine.SendErr = errors.New("connection refused")
	if w := do(t, h, "POST", "/api/messages", map[string]string{"to": "x", "content": "y"}); w.Code != http.StatusBadGateway {
		t.Errorf("Expected 502 on delivery failure, got %d", w.Code)
	}
}

func TestPostFileAndPoll(t *testing.T) {
	h, mockEngine, _ := setupTestServer(t)

	w := do(t, h, "POST", "/api/files", map[string]string{"to": "192.168.1.10", "path": "/tmp/a.txt"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var created taskView
	json.NewDecoder(w.Body).Decode(&created)
	if created.ID == "" || len(mockEngine.Files) != 1 {
		t.Fatalf("Transfer not started: %+v", created)
	}

	w = do(t, h, "GET", "/api/files/"+created.ID, nil)
	var polled taskView
	json.NewDecoder(w.Body).Decode(&polled)
	if !polled.Done || polled.Sent != 10 || polled.Total != 10 || polled.Error != "" {
		t.Errorf("Unexpected task state: %+v", polled)
	}

	if w := do(t, h, "GET", "/api/files/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown task, got %d", w.Code)
	}
}

func TestStatsAndMetrics(t *testing.T) {
	h, _, rec := setupTestServer(t)

	w := do(t, h, "GET", "/api/stats", nil)
	var stats store.Stats
	json.NewDecoder(w.Body).Decode(&stats)
	if stats.TotalMessages != 2 || stats.TotalPeers != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	rec.BeaconSent()
	w = do(t, h, "GET", "/metrics", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ghostnet_beacons_sent_total 1") {
		t.Errorf("Metrics not exposed: %d", w.Code)
	}
}

func TestWrongMethodIs405(t *testing.T) {
	h, _, _ := setupTestServer(t)
	for _, tc := range []struct{ method, path string }{
		{"GET", "/api/messages"},
		{"GET", "/api/files"},
		{"DELETE", "/api/peers"},
		{"POST", "/api/history/192.168.1.10"},
	} {
		w := do(t, h, tc.method, tc.path, nil)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected 405, got %d", tc.method, tc.path, w.Code)
			continue
		}
		if !strings.Contains(w.Body.String(), `"error"`) {
			t.Errorf("%s %s: expected JSON error body, got %s", tc.method, tc.path, w.Body.String())
		}
	}
	if w := do(t, h, "GET", "/api/nothing", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown path, got %d", w.Code)
	}
}
