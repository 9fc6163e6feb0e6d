package engine

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/bit2swaz/ghostnet/internal/protocol"
	"github.com/bit2swaz/ghostnet/internal/store"
	"github.com/bit2swaz/ghostnet/internal/transfer"
	"github.com/bit2swaz/ghostnet/internal/transport"
)

// handleConnection processes the single exchange carried by conn. Anything
// that fails before the payload is accepted leaves no trace.
func (e *Engine) handleConnection(conn net.Conn) {
	peer := remoteHost(conn)
	_ = conn.SetReadDeadline(time.Now().Add(e.opts.FileTimeout))

	sealed, rest, err := transport.ReadHeader(conn, transport.MaxHeaderSize)
	if err != nil {
		e.reject(peer, "framing", err)
		return
	}
	plain, err := e.cipher.Decrypt(sealed)
	if err != nil {
		e.reject(peer, "decrypt", err)
		return
	}
	header, err := protocol.ParseHeader(plain)
	if err != nil {
		e.reject(peer, "header", err)
		return
	}

	switch h := header.(type) {
	case protocol.TextHeader:
		e.receiveText(peer, h)
	case protocol.FileHeader:
		e.receiveFile(conn, peer, h, rest)
	}
}

func (e *Engine) reject(peer, reason string, err error) {
	slog.Warn("Dropped inbound exchange", "peer", peer, "reason", reason, "error", err)
	e.metrics.Rejected(reason)
}

func (e *Engine) receiveText(peer string, h protocol.TextHeader) {
	at := time.Now()
	slog.Info("Message received", "peer", peer)
	if e.store != nil {
		e.store.SaveMessage(peer, store.SenderPeer, h.Content, store.KindText, "", at)
	}
	e.metrics.MessageReceived(store.KindText)
	if e.events.MessageReceived != nil {
		e.events.MessageReceived(peer, h.Content, at)
	}
}

func (e *Engine) receiveFile(conn net.Conn, peer string, h protocol.FileHeader, initial []byte) {
	if max := e.maxFileSize(); h.Filesize > max {
		e.reject(peer, "too_large", transfer.ErrTooLarge)
		return
	}

	name := transfer.SanitizeFilename(h.Filename, time.Now())
	f, path, err := transfer.CreateUnique(e.opts.DownloadsDir, name)
	if err != nil {
		e.reject(peer, "io", err)
		return
	}
	slog.Info("Receiving file", "peer", peer, "file", h.Filename, "size", h.Filesize, "path", path)

	written, err := e.copyPayload(f, conn, initial, h.Filesize)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	e.metrics.TransferBytes("in", written)
	if err != nil {
		os.Remove(path)
		e.reject(peer, "incomplete", err)
		return
	}

	sum, err := transfer.FileChecksum(path)
	if err != nil || !strings.EqualFold(sum, h.Checksum) {
		os.Remove(path)
		if err == nil {
			err = transfer.ErrChecksumMismatch
		}
		e.reject(peer, "checksum", err)
		return
	}

	at := time.Now()
	if e.store != nil {
		e.store.SaveMessage(peer, store.SenderPeer, h.Filename, store.KindFile, path, at)
	}
	e.metrics.MessageReceived(store.KindFile)
	slog.Info("File received", "peer", peer, "file", h.Filename, "path", path)
	if e.events.FileReceived != nil {
		e.events.FileReceived(peer, h.Filename, path, at)
	}
}

// copyPayload writes up to size bytes: first what arrived with the header,
// then chunks from conn until size is reached or the peer stops sending.
func (e *Engine) copyPayload(w io.Writer, conn net.Conn, initial []byte, size int64) (int64, error) {
	if int64(len(initial)) > size {
		initial = initial[:size]
	}
	n, err := w.Write(initial)
	written := int64(n)
	if err != nil {
		return written, err
	}

	buf := make([]byte, e.opts.ChunkSize)
	for written < size {
		_ = conn.SetReadDeadline(time.Now().Add(e.opts.FileTimeout))
		want := int64(len(buf))
		if left := size - written; left < want {
			want = left
		}
		n, rerr := conn.Read(buf[:want])
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return written, io.ErrUnexpectedEOF
			}
			return written, rerr
		}
	}
	return written, nil
}

func remoteHost(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
