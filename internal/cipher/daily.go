package cipher

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fernet/fernet-go"
)

// SchemeV1 names the legacy derivation: SHA-256("GhostNet-" + YYYY-MM-DD)
// used directly as a Fernet key. Any listener that knows the scheme can read
// the traffic; a handshake-based scheme would need a new protocol version.
const SchemeV1 = "ghostnet-daily-v1"

const v1Prefix = "GhostNet-"

// DeriveKeyV1 returns the v1 key for the calendar day of t (in t's location).
func DeriveKeyV1(t time.Time) (*fernet.Key, error) {
	sum := sha256.Sum256([]byte(v1Prefix + t.Format("2006-01-02")))
	k := fernet.Key(sum)
	// Round-trip through the encoded form so a bad key is caught here rather
	// than on the first message.
	decoded, err := fernet.DecodeKey(k.Encode())
	if err != nil {
		return nil, fmt.Errorf("derive %s key: %w", SchemeV1, err)
	}
	return decoded, nil
}

type dayKey struct {
	day string
	key *fernet.Key
}

// Daily is the wire cipher. The key is derived once per calendar day and
// cached; a failed derivation never replaces a key that already worked.
type Daily struct {
	now     func() time.Time
	current atomic.Pointer[dayKey]
}

// NewDaily builds the wire cipher. When the first key cannot be derived it
// returns the degraded pass-through provider instead.
func NewDaily(now func() time.Time) Provider {
	if now == nil {
		now = time.Now
	}
	d := &Daily{now: now}
	if _, err := d.key(); err != nil {
		slog.Error("Wire cipher unavailable, running unencrypted", "error", err)
		return Passthrough{Reason: err.Error()}
	}
	return d
}

// NewFixedDay pins the wire cipher to one calendar day.
func NewFixedDay(day time.Time) (*Daily, error) {
	d := &Daily{now: func() time.Time { return day }}
	if _, err := d.key(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Daily) key() (*fernet.Key, error) {
	day := d.now().Format("2006-01-02")
	if cur := d.current.Load(); cur != nil && cur.day == day {
		return cur.key, nil
	}
	k, err := DeriveKeyV1(d.now())
	if err != nil {
		if cur := d.current.Load(); cur != nil {
			slog.Warn("Daily key rotation failed, keeping previous key", "error", err, "day", cur.day)
			return cur.key, nil
		}
		return nil, err
	}
	d.current.Store(&dayKey{day: day, key: k})
	return k, nil
}

// Encrypt returns a Fernet token.
func (d *Daily) Encrypt(plaintext []byte) ([]byte, error) {
	k, err := d.key()
	if err != nil {
		return nil, err
	}
	tok, err := fernet.EncryptAndSign(plaintext, k)
	if err != nil {
		return nil, fmt.Errorf("fernet encrypt: %w", err)
	}
	return tok, nil
}

// Decrypt verifies and opens a Fernet token produced under today's key.
func (d *Daily) Decrypt(ciphertext []byte) ([]byte, error) {
	k, err := d.key()
	if err != nil {
		return nil, err
	}
	msg := fernet.VerifyAndDecrypt(ciphertext, 0, []*fernet.Key{k})
	if msg == nil {
		return nil, ErrDecrypt
	}
	return msg, nil
}

func (d *Daily) Degraded() bool { return false }
