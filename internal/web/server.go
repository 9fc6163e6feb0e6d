// Package web serves a local JSON API over a running node.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bit2swaz/ghostnet/internal/discovery"
	"github.com/bit2swaz/ghostnet/internal/engine"
	"github.com/bit2swaz/ghostnet/internal/metrics"
	"github.com/bit2swaz/ghostnet/internal/store"
	"github.com/bit2swaz/ghostnet/internal/transfer"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

// Engine is the part of *engine.Engine the API drives.
type Engine interface {
	Username() string
	DiscoveryPort() int
	MessagingPort() int
	NetworkStatus() engine.NetworkStatus
	Peers() map[string]discovery.Entry
	PeerName(address string) string
	History(address string, limit int) []store.Entry
	SendText(target, text string) error
	SendFile(target, path string, onProgress transfer.ProgressFunc) *transfer.Task
}

// StatsSource reports store totals. *store.Store implements it.
type StatsSource interface {
	Statistics() store.Stats
}

type Server struct {
	engine   Engine
	stats    StatsSource
	registry *prometheus.Registry
	addr     string

	mu    sync.Mutex
	tasks map[string]*transfer.Task
}

// NewServer builds a server for addr. stats and reg may be nil, which
// disables /api/stats and /metrics.
func NewServer(eng Engine, stats StatsSource, reg *prometheus.Registry, addr string) *Server {
	return &Server{
		engine:   eng,
		stats:    stats,
		registry: reg,
		addr:     addr,
		tasks:    make(map[string]*transfer.Task),
	}
}

// Handler returns the router with every route registered. A known path hit
// with the wrong method gets 405.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/api/peers", s.handlePeers).Methods("GET")
	r.HandleFunc("/api/history/{addr}", s.handleHistory).Methods("GET")
	r.HandleFunc("/api/messages", s.handlePostMessage).Methods("POST")
	r.HandleFunc("/api/files", s.handlePostFile).Methods("POST")
	r.HandleFunc("/api/files/{id}", s.handleFileStatus).Methods("GET")
	if s.stats != nil {
		r.HandleFunc("/api/stats", s.handleStats).Methods("GET")
	}
	if s.registry != nil {
		r.Handle("/metrics", metrics.Handler(s.registry))
	}
	return r
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Web server starting", "addr", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusResponse struct {
	engine.NetworkStatus
	Username      string `json:"username"`
	DiscoveryPort int    `json:"discovery_port"`
	MessagingPort int    `json:"messaging_port"`
	Peers         int    `json:"peers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, statusResponse{
		NetworkStatus: s.engine.NetworkStatus(),
		Username:      s.engine.Username(),
		DiscoveryPort: s.engine.DiscoveryPort(),
		MessagingPort: s.engine.MessagingPort(),
		Peers:         len(s.engine.Peers()),
	})
}

type peerView struct {
	Address  string    `json:"ip"`
	Username string    `json:"username"`
	LastSeen time.Time `json:"last_seen"`
	Port     int       `json:"port,omitempty"`
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	peers := []peerView{}
	for addr, e := range s.engine.Peers() {
		peers = append(peers, peerView{Address: addr, Username: e.Username, LastSeen: e.LastSeen, Port: e.Port})
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Address < peers[j].Address })
	respondJSON(w, http.StatusOK, peers)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["addr"]
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries := s.engine.History(addr, limit)
	if entries == nil {
		entries = []store.Entry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"peer":     addr,
		"username": s.engine.PeerName(addr),
		"messages": entries,
	})
}

type sendRequest struct {
	To      string `json:"to"`
	Content string `json:"content"`
	Path    string `json:"path"`
}

func decodeSend(r *http.Request) (sendRequest, error) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, err
	}
	if req.To == "" {
		return req, errors.New("to required")
	}
	return req, nil
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSend(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Content == "" {
		respondError(w, http.StatusBadRequest, "content required")
		return
	}

	if err := s.engine.SendText(req.To, req.Content); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, engine.ErrNotRunning) {
			status = http.StatusServiceUnavailable
		}
		respondError(w, status, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

type taskView struct {
	ID     string `json:"id"`
	Target string `json:"to"`
	Path   string `json:"path"`
	Sent   int64  `json:"sent"`
	Total  int64  `json:"total"`
	Done   bool   `json:"done"`
	Error  string `json:"error,omitempty"`
}

func viewTask(t *transfer.Task) taskView {
	sent, total := t.Progress()
	v := taskView{ID: t.ID, Target: t.Target, Path: t.Path, Sent: sent, Total: total}
	select {
	case <-t.Done():
		v.Done = true
		if err := t.Err(); err != nil {
			v.Error = err.Error()
		}
	default:
	}
	return v
}

func (s *Server) handlePostFile(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSend(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Path == "" {
		respondError(w, http.StatusBadRequest, "path required")
		return
	}

	task := s.engine.SendFile(req.To, req.Path, nil)
	s.mu.Lock()
	s.tasks[task.ID] = task
	s.mu.Unlock()
	respondJSON(w, http.StatusAccepted, viewTask(task))
}

func (s *Server) handleFileStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	task, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		respondError(w, http.StatusNotFound, "unknown transfer")
		return
	}
	respondJSON(w, http.StatusOK, viewTask(task))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.stats.Statistics())
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
