// Package cipher holds the symmetric encryption used on the wire and at rest.
//
// Daily derives its key from the calendar date alone, so every instance on
// the network shares it: it keeps wire compatibility with deployed peers and
// offers no authentication between them. Static (Fernet) and KeyFile
// (XChaCha20-Poly1305) use a random key stored next to the database and only
// protect data at rest.
package cipher

import (
	"errors"
	"log/slog"
)

// ErrDecrypt is returned when a ciphertext fails authentication.
var ErrDecrypt = errors.New("cipher: message authentication failed")

// Provider encrypts and decrypts opaque payloads. Implementations are safe for
// concurrent use.
type Provider interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
	// Degraded reports whether the provider passes data through unencrypted.
	Degraded() bool
}

// Passthrough is the degraded-mode provider: it returns its input unchanged
// and logs a warning on every call.
type Passthrough struct {
	Reason string
}

func (p Passthrough) Encrypt(plaintext []byte) ([]byte, error) {
	slog.Warn("Cipher unavailable, payload left unencrypted", "reason", p.Reason)
	return append([]byte(nil), plaintext...), nil
}

func (p Passthrough) Decrypt(ciphertext []byte) ([]byte, error) {
	slog.Warn("Cipher unavailable, payload returned as stored", "reason", p.Reason)
	return append([]byte(nil), ciphertext...), nil
}

func (Passthrough) Degraded() bool { return true }
