package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bit2swaz/ghostnet/internal/protocol"
	"github.com/bit2swaz/ghostnet/internal/store"
	"github.com/bit2swaz/ghostnet/internal/transfer"
	"github.com/bit2swaz/ghostnet/internal/transport"
)

// resolveTarget accepts "host" or "host:port". A bare host is dialed on the
// port from its last beacon, or the configured messaging port.
func (e *Engine) resolveTarget(target string) (host, addr string) {
	if h, _, err := net.SplitHostPort(target); err == nil {
		return h, target
	}
	port := e.opts.MessagingPort
	if entry, ok := e.directory.Get(target); ok && entry.Port > 0 {
		port = entry.Port
	}
	return target, net.JoinHostPort(target, strconv.Itoa(port))
}

func (e *Engine) runContext() (context.Context, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.running {
		return nil, ErrNotRunning
	}
	return e.ctx, nil
}

func (e *Engine) seal(h protocol.Header) ([]byte, error) {
	plain, err := protocol.MarshalHeader(h)
	if err != nil {
		return nil, err
	}
	return e.cipher.Encrypt(plain)
}

// SendText delivers text to target and records it as sent. A nil error
// means the peer accepted the connection and the header was written.
func (e *Engine) SendText(target, text string) error {
	ctx, err := e.runContext()
	if err != nil {
		return err
	}
	host, addr := e.resolveTarget(target)

	if err := e.sendText(ctx, addr, text); err != nil {
		e.metrics.SendFailed(store.KindText)
		slog.Warn("Send failed", "peer", target, "error", err)
		return fmt.Errorf("send to %s: %w", target, err)
	}

	if e.store != nil {
		e.store.SaveMessage(host, store.SenderSelf, text, store.KindText, "", time.Time{})
	}
	e.metrics.MessageSent(store.KindText)
	slog.Info("Message sent", "peer", target)
	return nil
}

func (e *Engine) sendText(ctx context.Context, addr, text string) error {
	sealed, err := e.seal(protocol.TextHeader{Content: text, Timestamp: time.Now()})
	if err != nil {
		return err
	}
	conn, err := e.transport.Dial(ctx, addr, e.opts.TextTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	return transport.WriteEnvelope(conn, sealed)
}

// SendFile streams the file at path to target in the background. The
// returned task completes once the file was sent and recorded, or failed.
func (e *Engine) SendFile(target, path string, onProgress transfer.ProgressFunc) *transfer.Task {
	task := transfer.NewTask(target, path, onProgress)
	ctx, err := e.runContext()
	if err != nil {
		task.Finish(err)
		return task
	}
	host, addr := e.resolveTarget(target)

	started := e.spawnRunning(func() {
		err := e.sendFile(ctx, task, addr)
		if err != nil {
			e.metrics.SendFailed(store.KindFile)
			slog.Warn("File send failed", "peer", target, "path", path, "task", task.ID, "error", err)
			task.Finish(fmt.Errorf("send %s to %s: %w", filepath.Base(path), target, err))
			return
		}
		if e.store != nil {
			e.store.SaveMessage(host, store.SenderSelf, filepath.Base(path), store.KindFile, path, time.Time{})
		}
		e.metrics.MessageSent(store.KindFile)
		slog.Info("File sent", "peer", target, "path", path, "task", task.ID)
		task.Finish(nil)
	})
	if !started {
		task.Finish(ErrNotRunning)
	}
	return task
}

func (e *Engine) sendFile(ctx context.Context, task *transfer.Task, addr string) error {
	info, err := os.Stat(task.Path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", task.Path)
	}
	if max := e.maxFileSize(); info.Size() > max {
		return fmt.Errorf("%w: %d bytes, limit %d", transfer.ErrTooLarge, info.Size(), max)
	}
	task.SetTotal(info.Size())

	sum, err := transfer.FileChecksum(task.Path)
	if err != nil {
		return err
	}
	sealed, err := e.seal(protocol.FileHeader{
		Filename:  filepath.Base(task.Path),
		Filesize:  info.Size(),
		Checksum:  sum,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}

	f, err := os.Open(task.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	conn, err := e.transport.Dial(ctx, addr, e.opts.FileTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := transport.WriteEnvelope(conn, sealed); err != nil {
		return err
	}

	buf := make([]byte, e.opts.ChunkSize)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(e.opts.FileTimeout))
			if _, err := conn.Write(buf[:n]); err != nil {
				return err
			}
			e.metrics.TransferBytes("out", int64(n))
			task.Advance(int64(n))
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
