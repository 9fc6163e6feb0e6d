// Package engine runs a node: discovery beacons, the live peer directory,
// the TCP accept loop and inbound routing, outbound sends, and the network
// and retention workers.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bit2swaz/ghostnet/internal/cipher"
	"github.com/bit2swaz/ghostnet/internal/discovery"
	"github.com/bit2swaz/ghostnet/internal/metrics"
	"github.com/bit2swaz/ghostnet/internal/netinfo"
	"github.com/bit2swaz/ghostnet/internal/store"
	"github.com/bit2swaz/ghostnet/internal/transport"
)

var (
	ErrNotRunning     = errors.New("engine: not running")
	ErrAlreadyRunning = errors.New("engine: already running")
)

// Store is the persistence the engine writes to. *store.Store implements it.
type Store interface {
	UpsertPeer(address, username string, seenAt time.Time)
	PeerName(address string) (string, bool)
	SaveMessage(peer, sender, content, kind, filePath string, ts time.Time)
	History(peer string, limit int) []store.Entry
	CleanupOlderThan(hours int) int64
}

// Settings supplies user settings that may change while running.
// *config.Settings implements it.
type Settings interface {
	Username() string
	RetentionHours() int
	AutoCleanup() bool
	MaxFileSize() int64
	Subscribe(fn func(key string, old, new any)) (unsubscribe func())
}

// Events are called from engine goroutines and must not block for long.
// Any of them may be nil.
type Events struct {
	PeersChanged    func(peers map[string]discovery.Entry)
	MessageReceived func(peer, text string, at time.Time)
	FileReceived    func(peer, filename, path string, at time.Time)
	NetworkChanged  func(change netinfo.Change)
}

type Options struct {
	DiscoveryPort  int
	MessagingPort  int
	PortAttempts   int
	BroadcastAddrs []string
	DownloadsDir   string

	BeaconInterval  time.Duration
	PeerTimeout     time.Duration
	PruneInterval   time.Duration
	MonitorInterval time.Duration
	CleanupInterval time.Duration

	TextTimeout time.Duration
	FileTimeout time.Duration
	JoinTimeout time.Duration

	// MaxFileSize applies when no Settings are given.
	MaxFileSize int64
	ChunkSize   int

	Detector *netinfo.Detector
	Metrics  *metrics.Recorder
	Events   Events
}

// DefaultOptions matches the deployed protocol.
func DefaultOptions() Options {
	return Options{
		DiscoveryPort:   37020,
		MessagingPort:   37021,
		PortAttempts:    5,
		BroadcastAddrs:  []string{"255.255.255.255"},
		BeaconInterval:  2 * time.Second,
		PeerTimeout:     10 * time.Second,
		PruneInterval:   3 * time.Second,
		MonitorInterval: 5 * time.Second,
		CleanupInterval: time.Hour,
		TextTimeout:     10 * time.Second,
		FileTimeout:     30 * time.Second,
		JoinTimeout:     2 * time.Second,
		MaxFileSize:     100 << 20,
		ChunkSize:       4096,
	}
}

// NetworkStatus is the node's view of its own connectivity.
type NetworkStatus struct {
	Address    string                       `json:"ip"`
	Type       netinfo.Kind                 `json:"type"`
	Interfaces map[string]netinfo.Interface `json:"interfaces"`
	Connected  bool                         `json:"is_connected"`
}

type Engine struct {
	opts     Options
	store    Store
	cipher   cipher.Provider
	settings Settings
	metrics  *metrics.Recorder
	events   Events

	detector  *netinfo.Detector
	monitor   *netinfo.Monitor
	directory *discovery.Directory
	transport *transport.Manager

	mu            sync.RWMutex
	running       bool
	ctx           context.Context
	cancel        context.CancelFunc
	udp           *net.UDPConn
	discoveryPort int
	messagingPort int
	localAddr     string
	netKind       netinfo.Kind
	unsubscribe   func()

	wg sync.WaitGroup
}

// New builds an engine. settings may be nil, in which case the username is
// "GhostUser" and retention cleanup is off.
func New(st Store, c cipher.Provider, settings Settings, opts Options) *Engine {
	def := DefaultOptions()
	if opts.PortAttempts <= 0 {
		opts.PortAttempts = def.PortAttempts
	}
	if len(opts.BroadcastAddrs) == 0 {
		opts.BroadcastAddrs = def.BroadcastAddrs
	}
	setDuration(&opts.BeaconInterval, def.BeaconInterval)
	setDuration(&opts.PeerTimeout, def.PeerTimeout)
	setDuration(&opts.PruneInterval, def.PruneInterval)
	setDuration(&opts.MonitorInterval, def.MonitorInterval)
	setDuration(&opts.CleanupInterval, def.CleanupInterval)
	setDuration(&opts.TextTimeout, def.TextTimeout)
	setDuration(&opts.FileTimeout, def.FileTimeout)
	setDuration(&opts.JoinTimeout, def.JoinTimeout)
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = def.MaxFileSize
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.DownloadsDir == "" {
		opts.DownloadsDir = "."
	}
	if c == nil {
		c = cipher.Passthrough{Reason: "no cipher configured"}
	}
	detector := opts.Detector
	if detector == nil {
		detector = &netinfo.Detector{}
	}

	return &Engine{
		opts:      opts,
		store:     st,
		cipher:    c,
		settings:  settings,
		metrics:   opts.Metrics,
		events:    opts.Events,
		detector:  detector,
		directory: discovery.NewDirectory(nil),
		transport: transport.NewManager(),
	}
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

// Start binds sockets and launches the workers. A socket that cannot be
// bound is logged and its subsystem skipped; only a second Start fails.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}

	if err := os.MkdirAll(e.opts.DownloadsDir, 0o755); err != nil {
		slog.Warn("Downloads directory unavailable", "path", e.opts.DownloadsDir, "error", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	e.ctx, e.cancel = ctx, cancel
	e.monitor = netinfo.NewMonitor(e.detector)
	e.localAddr, e.netKind = e.monitor.Current()
	e.metrics.CipherDegraded(e.cipher.Degraded())
	slog.Info("Engine starting", "username", e.username(), "ip", e.localAddr, "type", e.netKind)

	e.discoveryPort, e.messagingPort = 0, 0
	udp, port, err := discovery.BindUDP(e.opts.DiscoveryPort, e.opts.PortAttempts)
	if err != nil {
		slog.Error("Running without discovery", "error", err)
	} else {
		e.udp, e.discoveryPort = udp, port
		slog.Info("UDP socket bound", "port", port)
	}

	port, err = e.transport.Listen(ctx, e.opts.MessagingPort, e.opts.PortAttempts, e.handleConnection)
	if err != nil {
		slog.Error("Running without messaging", "error", err)
	} else {
		e.messagingPort = port
		slog.Info("TCP server listening", "port", port)
	}

	// Workers get their own reference; Stop clears e.udp.
	if udp != nil {
		targets := discovery.Targets(e.opts.BroadcastAddrs, e.discoveryPort)
		e.spawn(func() {
			discovery.StartHeartbeat(ctx, udp, targets, e.opts.BeaconInterval, e.beacon)
		})
		e.spawn(func() {
			if err := discovery.StartListener(ctx, udp, e.LocalAddress, e.onBeacon); err != nil {
				slog.Error("Beacon listener stopped", "error", err)
			}
		})
	}
	e.spawn(func() {
		discovery.StartReaper(ctx, e.directory, e.opts.PruneInterval, e.opts.PeerTimeout, func([]string) {
			e.peersChanged()
		})
	})
	e.spawn(func() { e.runMonitor(ctx) })
	if e.settings != nil {
		e.spawn(func() { e.runCleanup(ctx) })
		e.unsubscribe = e.settings.Subscribe(e.onSettingChanged)
	}

	e.running = true
	return nil
}

func (e *Engine) spawn(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// spawnRunning is spawn for callers outside Start. It does nothing once Stop
// has begun, so Stop never waits on a worker added after it.
func (e *Engine) spawnRunning(fn func()) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.running {
		return false
	}
	e.spawn(fn)
	return true
}

// Stop cancels the workers, closes sockets and waits up to JoinTimeout for
// them. Workers that do not finish in time are left behind.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	slog.Info("Engine shutting down")
	e.running = false
	e.cancel()
	if e.udp != nil {
		e.udp.Close()
		e.udp = nil
	}
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	e.mu.Unlock()

	e.transport.CloseAll()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(e.opts.JoinTimeout):
		slog.Warn("Workers did not stop in time", "timeout", e.opts.JoinTimeout)
	}
	if !e.transport.Wait(e.opts.JoinTimeout) {
		slog.Warn("Connections did not close in time", "timeout", e.opts.JoinTimeout)
	}
	e.directory.Clear()
	slog.Info("Shutdown complete")
}

func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// DiscoveryPort is the UDP port actually bound, 0 without discovery.
func (e *Engine) DiscoveryPort() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.discoveryPort
}

// MessagingPort is the TCP port actually bound, 0 without messaging.
func (e *Engine) MessagingPort() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.messagingPort
}

// LocalAddress is the address announced in beacons.
func (e *Engine) LocalAddress() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.localAddr
}

// Peers returns a snapshot of the live directory.
func (e *Engine) Peers() map[string]discovery.Entry {
	return e.directory.Snapshot()
}

// PeerName looks address up in the live directory, then in the store.
func (e *Engine) PeerName(address string) string {
	if entry, ok := e.directory.Get(address); ok {
		return entry.Username
	}
	if e.store != nil {
		if name, ok := e.store.PeerName(address); ok {
			return name
		}
	}
	return "Unknown"
}

func (e *Engine) History(address string, limit int) []store.Entry {
	if e.store == nil {
		return nil
	}
	return e.store.History(address, limit)
}

func (e *Engine) NetworkStatus() NetworkStatus {
	e.mu.RLock()
	addr, kind := e.localAddr, e.netKind
	e.mu.RUnlock()
	if addr == "" {
		addr, kind = e.detector.Best()
	}
	return NetworkStatus{
		Address:    addr,
		Type:       kind,
		Interfaces: e.detector.All(),
		Connected:  addr != netinfo.Loopback,
	}
}

// Username is the name announced in beacons.
func (e *Engine) Username() string { return e.username() }

func (e *Engine) username() string {
	if e.settings != nil {
		if name := e.settings.Username(); name != "" {
			return name
		}
	}
	return "GhostUser"
}

func (e *Engine) maxFileSize() int64 {
	if e.settings != nil {
		if n := e.settings.MaxFileSize(); n > 0 {
			return n
		}
	}
	return e.opts.MaxFileSize
}

func (e *Engine) peersChanged() {
	snap := e.directory.Snapshot()
	e.metrics.LivePeers(len(snap))
	if e.events.PeersChanged != nil {
		e.events.PeersChanged(snap)
	}
}
