// Package transport owns the TCP side of the messenger: binding the
// messaging port, accepting one-exchange connections and dialing peers.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// AcceptTimeout is how long Accept blocks before re-checking for shutdown.
const AcceptTimeout = time.Second

type Manager struct {
	conns sync.Map // map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func NewManager() *Manager {
	return &Manager{}
}

// BindTCP listens on port, or on one of the next attempts-1 ports if it is
// taken. It returns the port actually bound.
func BindTCP(port, attempts int) (*net.TCPListener, int, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		p := port + i
		ln, err := net.ListenTCP("tcp4", &net.TCPAddr{Port: p})
		if err == nil {
			if i > 0 {
				slog.Warn("Messaging port in use, using fallback", "wanted", port, "port", p)
			}
			return ln, ln.Addr().(*net.TCPAddr).Port, nil
		}
		lastErr = err
	}
	return nil, 0, fmt.Errorf("failed to listen on ports %d-%d: %w", port, port+attempts-1, lastErr)
}

// Listen binds with fallback and spawns the accept loop. Each connection gets
// its own goroutine running handler, and is closed when handler returns. The
// loop stops when ctx is cancelled.
func (m *Manager) Listen(ctx context.Context, port, attempts int, handler func(net.Conn)) (int, error) {
	ln, bound, err := BindTCP(port, attempts)
	if err != nil {
		return 0, err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer ln.Close()
		for {
			if ctx.Err() != nil {
				return
			}
			_ = ln.SetDeadline(time.Now().Add(AcceptTimeout))
			conn, err := ln.Accept()
			if err != nil {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					continue
				}
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				slog.Warn("Accept error", "error", err)
				continue
			}

			m.register(conn)
			m.wg.Add(1)
			go func(c net.Conn) {
				defer m.wg.Done()
				defer m.unregister(c)
				defer c.Close()
				handler(c)
			}(conn)
		}
	}()

	return bound, nil
}

// Dial connects to addr with timeout applied to the connect and, as a
// deadline, to all later I/O. Closing the returned conn releases it.
func (m *Manager) Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}
	m.register(conn)
	return &trackedConn{Conn: conn, m: m}, nil
}

type trackedConn struct {
	net.Conn
	m    *Manager
	once sync.Once
}

func (c *trackedConn) Close() error {
	c.once.Do(func() { c.m.unregister(c.Conn) })
	return c.Conn.Close()
}

func (m *Manager) register(conn net.Conn) {
	m.conns.Store(conn, struct{}{})
}

func (m *Manager) unregister(conn net.Conn) {
	m.conns.Delete(conn)
}

// Active reports the number of open connections.
func (m *Manager) Active() int {
	n := 0
	m.conns.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// CloseAll closes all active connections.
func (m *Manager) CloseAll() {
	m.conns.Range(func(key, _ any) bool {
		if conn, ok := key.(net.Conn); ok {
			conn.Close()
		}
		return true
	})
}

// Wait blocks until the accept loop and all handlers return, or timeout
// elapses. It reports whether everything finished.
func (m *Manager) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
