// Package protocol defines the discovery datagram and the TCP header that
// precedes every payload.
package protocol

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Packet types
const (
	TypeBeacon = "BEACON"
	TypeText   = "TEXT"
	TypeFile   = "FILE"
)

// Delimiter separates the encrypted header from the raw payload. Fernet
// tokens are URL-safe base64, so '<' and '>' never occur inside one.
var Delimiter = []byte("<HEADER_END>")

var (
	ErrMalformedHeader = errors.New("protocol: malformed header")
	ErrUnknownType     = errors.New("protocol: unknown header type")
)

// Beacon announces presence on the discovery port. It travels in plaintext.
type Beacon struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Address  string `json:"ip"`
	// Port is the messaging port the sender actually bound. Older peers omit it.
	Port int `json:"port,omitempty"`
}

func NewBeacon(username, address string, port int) Beacon {
	return Beacon{Type: TypeBeacon, Username: username, Address: address, Port: port}
}

func (b Beacon) Marshal() ([]byte, error) {
	return json.Marshal(b)
}

// ParseBeacon decodes a datagram; anything that is not a BEACON is rejected.
func ParseBeacon(data []byte) (Beacon, error) {
	var b Beacon
	if err := json.Unmarshal(data, &b); err != nil {
		return Beacon{}, fmt.Errorf("decode beacon: %w", err)
	}
	if b.Type != TypeBeacon {
		return Beacon{}, fmt.Errorf("%w: %q", ErrUnknownType, b.Type)
	}
	if b.Username == "" {
		b.Username = "Unknown"
	}
	return b, nil
}

// Header is either a TextHeader or a FileHeader.
type Header interface {
	Type() string
	isHeader()
}

// TextHeader carries the whole message; no payload follows the delimiter.
type TextHeader struct {
	Content   string
	Timestamp time.Time
}

// FileHeader announces Filesize raw bytes after the delimiter.
type FileHeader struct {
	Filename  string
	Filesize  int64
	Checksum  string // hex SHA-256 of the plaintext file
	Timestamp time.Time
}

func (TextHeader) Type() string { return TypeText }
func (FileHeader) Type() string { return TypeFile }
func (TextHeader) isHeader()    {}
func (FileHeader) isHeader()    {}

// wireHeader is the JSON shape shared by both variants.
type wireHeader struct {
	Type      string  `json:"type"`
	Content   *string `json:"content,omitempty"`
	Filename  *string `json:"filename,omitempty"`
	Filesize  *int64  `json:"filesize,omitempty"`
	Checksum  *string `json:"checksum,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
}

const tsLayout = "2006-01-02T15:04:05.000000"

// MarshalHeader encodes h as the plaintext header JSON.
func MarshalHeader(h Header) ([]byte, error) {
	var w wireHeader
	switch v := h.(type) {
	case TextHeader:
		w = wireHeader{Type: TypeText, Content: &v.Content, Timestamp: formatTS(v.Timestamp)}
	case FileHeader:
		if err := v.validate(); err != nil {
			return nil, err
		}
		w = wireHeader{
			Type:      TypeFile,
			Filename:  &v.Filename,
			Filesize:  &v.Filesize,
			Checksum:  &v.Checksum,
			Timestamp: formatTS(v.Timestamp),
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, h)
	}
	return json.Marshal(w)
}

// ParseHeader decodes plaintext header JSON into its variant. Missing
// required fields are an error, not a zero value.
func ParseHeader(data []byte) (Header, error) {
	var w wireHeader
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	ts := parseTS(w.Timestamp)
	switch w.Type {
	case TypeText:
		if w.Content == nil {
			return nil, fmt.Errorf("%w: TEXT without content", ErrMalformedHeader)
		}
		return TextHeader{Content: *w.Content, Timestamp: ts}, nil
	case TypeFile:
		if w.Filename == nil || w.Filesize == nil || w.Checksum == nil {
			return nil, fmt.Errorf("%w: FILE missing filename, filesize or checksum", ErrMalformedHeader)
		}
		h := FileHeader{Filename: *w.Filename, Filesize: *w.Filesize, Checksum: *w.Checksum, Timestamp: ts}
		if err := h.validate(); err != nil {
			return nil, err
		}
		return h, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
	}
}

func (h FileHeader) validate() error {
	if h.Filesize < 0 {
		return fmt.Errorf("%w: negative filesize %d", ErrMalformedHeader, h.Filesize)
	}
	if sum, err := hex.DecodeString(h.Checksum); err != nil || len(sum) != 32 {
		return fmt.Errorf("%w: checksum is not hex SHA-256", ErrMalformedHeader)
	}
	return nil
}

func formatTS(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(tsLayout)
}

func parseTS(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{tsLayout, "2006-01-02T15:04:05", time.RFC3339Nano} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}
