package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/bit2swaz/ghostnet/internal/protocol"
)

func (e *Engine) beacon() protocol.Beacon {
	e.metrics.BeaconSent()
	return protocol.NewBeacon(e.username(), e.LocalAddress(), e.MessagingPort())
}

func (e *Engine) onBeacon(b protocol.Beacon, from string) {
	entry := e.directory.Upsert(from, b.Username, b.Port)
	e.metrics.BeaconReceived()
	if e.store != nil {
		e.store.UpsertPeer(from, b.Username, entry.LastSeen)
	}
	e.peersChanged()
}

// runMonitor follows the best local interface. A change updates the address
// used in beacons and is reported along with a fresh peer snapshot.
func (e *Engine) runMonitor(ctx context.Context) {
	ticker := time.NewTicker(e.opts.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			change, ok := e.monitor.Check()
			if !ok {
				continue
			}
			slog.Info("Network changed", "old", change.OldAddress, "new", change.NewAddress, "type", change.Type)
			e.mu.Lock()
			e.localAddr, e.netKind = change.NewAddress, change.Type
			e.mu.Unlock()
			e.metrics.NetworkChanged()
			if e.events.NetworkChanged != nil {
				e.events.NetworkChanged(change)
			}
			e.peersChanged()
		}
	}
}

// runCleanup applies the retention window at start and then every
// CleanupInterval while auto cleanup is on.
func (e *Engine) runCleanup(ctx context.Context) {
	e.cleanup()
	ticker := time.NewTicker(e.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.cleanup()
		}
	}
}

func (e *Engine) cleanup() {
	if e.store == nil || !e.settings.AutoCleanup() {
		return
	}
	hours := e.settings.RetentionHours()
	if n := e.store.CleanupOlderThan(hours); n > 0 {
		slog.Info("Retention cleanup", "deleted", n, "hours", hours)
		e.metrics.CleanedUp(n)
	}
}

func (e *Engine) onSettingChanged(key string, _, _ any) {
	switch key {
	case "retention_hours", "auto_cleanup":
		e.spawnRunning(e.cleanup)
	case "username":
		slog.Info("Username changed", "username", e.username())
	}
}
