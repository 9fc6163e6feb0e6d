// Package discovery announces this node with UDP broadcast beacons and keeps
// the directory of peers heard from recently.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/bit2swaz/ghostnet/internal/protocol"
)

const (
	// ReadTimeout bounds each blocking read so the listener notices shutdown.
	ReadTimeout = time.Second
	bufferSize  = 4096
)

// BindUDP binds the discovery port, falling forward through the next
// attempts-1 ports when it is taken. It returns the port actually bound,
// which for port 0 is the one the kernel picked.
func BindUDP(port, attempts int) (*net.UDPConn, int, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		p := port + i
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: p})
		if err == nil {
			if i > 0 {
				slog.Warn("Discovery port in use, using fallback", "wanted", port, "port", p)
			}
			return conn, conn.LocalAddr().(*net.UDPAddr).Port, nil
		}
		lastErr = err
	}
	return nil, 0, fmt.Errorf("failed to bind UDP ports %d-%d: %w", port, port+attempts-1, lastErr)
}

// Targets resolves each broadcast host on port. Unresolvable hosts are skipped.
func Targets(hosts []string, port int) []*net.UDPAddr {
	var out []*net.UDPAddr
	for _, h := range hosts {
		addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(h, fmt.Sprint(port)))
		if err != nil {
			slog.Warn("Skipping broadcast target", "host", h, "error", err)
			continue
		}
		out = append(out, addr)
	}
	return out
}

// StartHeartbeat sends a beacon to every target right away and then every
// interval until ctx is done. beacon is called per tick so username and
// address changes are picked up.
func StartHeartbeat(ctx context.Context, conn *net.UDPConn, targets []*net.UDPAddr, interval time.Duration, beacon func() protocol.Beacon) {
	if len(targets) == 0 {
		slog.Warn("Heartbeat has no targets")
		return
	}
	slog.Info("Heartbeat started", "targets", len(targets), "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		data, err := beacon().Marshal()
		if err == nil {
			for _, t := range targets {
				if _, err := conn.WriteToUDP(data, t); err != nil && ctx.Err() == nil {
					slog.Debug("Beacon send failed", "target", t.String(), "error", err)
				}
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// StartListener reads beacons from conn until ctx is done. Datagrams whose
// source IP equals self() are dropped, as are malformed ones. found is called
// with the beacon and the sender's IP.
func StartListener(ctx context.Context, conn *net.UDPConn, self func() string, found func(b protocol.Beacon, from string)) error {
	buf := make([]byte, bufferSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		_ = conn.SetReadDeadline(time.Now().Add(ReadTimeout))
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}

		from := remote.IP.String()
		if from == self() {
			continue
		}
		b, err := protocol.ParseBeacon(buf[:n])
		if err != nil {
			slog.Debug("Ignoring datagram", "from", from, "error", err)
			continue
		}
		found(b, from)
	}
}

// StartReaper prunes dir every interval and calls onRemoved only when
// something was removed.
func StartReaper(ctx context.Context, dir *Directory, interval, ttl time.Duration, onRemoved func(removed []string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := dir.Prune(ttl); len(removed) > 0 {
				slog.Info("Pruned stale peers", "peers", removed)
				onRemoved(removed)
			}
		}
	}
}
