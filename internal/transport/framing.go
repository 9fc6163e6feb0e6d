package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/bit2swaz/ghostnet/internal/protocol"
)

// MaxHeaderSize bounds how much a receiver buffers while looking for the
// delimiter.
const MaxHeaderSize = 64 * 1024

const readChunk = 1024

var (
	ErrHeaderTooLarge = errors.New("transport: no delimiter within header limit")
	ErrNoDelimiter    = errors.New("transport: connection closed before delimiter")
)

// WriteEnvelope writes the sealed header followed by the delimiter. For a
// FILE exchange the caller streams the payload on the same writer afterwards.
func WriteEnvelope(w io.Writer, sealedHeader []byte) error {
	buf := make([]byte, 0, len(sealedHeader)+len(protocol.Delimiter))
	buf = append(buf, sealedHeader...)
	buf = append(buf, protocol.Delimiter...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// ReadHeader reads from r until the delimiter shows up. It returns the bytes
// before it and whatever payload bytes arrived in the same reads.
func ReadHeader(r io.Reader, max int) (header, rest []byte, err error) {
	if max <= 0 {
		max = MaxHeaderSize
	}
	var buf []byte
	chunk := make([]byte, readChunk)
	for {
		n, rerr := r.Read(chunk)
		if n > 0 {
			// Only the tail can complete a delimiter split across reads.
			from := len(buf) - len(protocol.Delimiter) + 1
			if from < 0 {
				from = 0
			}
			buf = append(buf, chunk[:n]...)
			if i := bytes.Index(buf[from:], protocol.Delimiter); i >= 0 {
				i += from
				return buf[:i], buf[i+len(protocol.Delimiter):], nil
			}
			if len(buf) > max {
				return nil, nil, ErrHeaderTooLarge
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil, nil, ErrNoDelimiter
			}
			return nil, nil, fmt.Errorf("failed to read header: %w", rerr)
		}
	}
}
