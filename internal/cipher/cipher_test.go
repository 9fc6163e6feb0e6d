package cipher

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fernet/fernet-go"
)

func fixedDay(t *testing.T, s string) *Daily {
	t.Helper()
	day, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatal(err)
	}
	d, err := NewFixedDay(day)
	if err != nil {
		t.Fatalf("NewFixedDay failed: %v", err)
	}
	return d
}

func TestDeriveKeyV1MatchesScheme(t *testing.T) {
	day := time.Date(2024, 3, 9, 15, 4, 5, 0, time.UTC)
	k, err := DeriveKeyV1(day)
	if err != nil {
		t.Fatalf("DeriveKeyV1 failed: %v", err)
	}
	want := sha256.Sum256([]byte("GhostNet-2024-03-09"))
	if !bytes.Equal(k[:], want[:]) {
		t.Errorf("Derived key does not match SHA-256 of the date seed")
	}

	// Same day, different hour: same key.
	k2, _ := DeriveKeyV1(day.Add(5 * time.Hour))
	if *k != *k2 {
		t.Error("Expected identical keys within one calendar day")
	}
}

func TestDailyRoundTrip(t *testing.T) {
	d := fixedDay(t, "2024-05-01")

	big := make([]byte, 3<<20)
	if _, err := rand.Read(big); err != nil {
		t.Fatal(err)
	}
	cases := map[string][]byte{
		"empty":  {},
		"text":   []byte(`{"type":"TEXT","content":"hi"}`),
		"binary": {0x00, 0xff, 0x10, 0x80},
		"3MiB":   big,
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			ct, err := d.Encrypt(msg)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}
			if len(msg) > 0 && bytes.Contains(ct, msg) {
				t.Error("Ciphertext contains the plaintext")
			}
			pt, err := d.Decrypt(ct)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if !bytes.Equal(pt, msg) {
				t.Errorf("Round trip mismatch: got %d bytes, want %d", len(pt), len(msg))
			}
		})
	}
}

func TestDailyTokensInteroperate(t *testing.T) {
	// A token minted directly with the derived key (as a peer would) opens.
	day := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	k, _ := DeriveKeyV1(day)
	tok, err := fernet.EncryptAndSign([]byte("hello"), k)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := fixedDay(t, "2025-01-02").Decrypt(tok)
	if err != nil || string(pt) != "hello" {
		t.Errorf("Expected hello, got %q (err=%v)", pt, err)
	}
}

func TestDailyRejectsOtherDay(t *testing.T) {
	monday := fixedDay(t, "2024-05-06")
	tuesday := fixedDay(t, "2024-05-07")

	ct, err := monday.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tuesday.Decrypt(ct); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Expected ErrDecrypt across days, got %v", err)
	}
}

func TestDailyRejectsTampering(t *testing.T) {
	d := fixedDay(t, "2024-05-06")
	ct, _ := d.Encrypt([]byte("secret"))
	ct[len(ct)/2] ^= 0x01
	if _, err := d.Decrypt(ct); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Expected ErrDecrypt for tampered token, got %v", err)
	}
	if _, err := d.Decrypt([]byte("not a token")); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Expected ErrDecrypt for garbage, got %v", err)
	}
}

func TestDailyRotatesWithClock(t *testing.T) {
	now := time.Date(2024, 6, 1, 23, 59, 0, 0, time.UTC)
	p := NewDaily(func() time.Time { return now })
	d, ok := p.(*Daily)
	if !ok {
		t.Fatalf("Expected *Daily, got %T", p)
	}
	ct, _ := d.Encrypt([]byte("late night"))

	now = now.Add(2 * time.Minute)
	if _, err := d.Decrypt(ct); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Expected yesterday's token to fail after rotation, got %v", err)
	}
}

func TestPassthrough(t *testing.T) {
	p := Passthrough{Reason: "test"}
	ct, err := p.Encrypt([]byte("plain"))
	if err != nil || string(ct) != "plain" {
		t.Errorf("Encrypt = %q, %v", ct, err)
	}
	pt, err := p.Decrypt([]byte("plain"))
	if err != nil || string(pt) != "plain" {
		t.Errorf("Decrypt = %q, %v", pt, err)
	}
	if !p.Degraded() {
		t.Error("Passthrough must report degraded")
	}
}

func TestKeyFileCreateAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.key")

	first := LoadOrCreateKeyFile(path)
	if first.Degraded() {
		t.Fatal("Expected a working key file cipher")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Key file not written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected 0600 key file, got %v", info.Mode().Perm())
	}

	ct, err := first.Encrypt([]byte("at rest"))
	if err != nil {
		t.Fatal(err)
	}
	second := LoadOrCreateKeyFile(path)
	pt, err := second.Decrypt(ct)
	if err != nil || string(pt) != "at rest" {
		t.Errorf("Reloaded key failed to decrypt: %q, %v", pt, err)
	}
}

func TestKeyFileCorruptKeyDegrades(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.key")
	if err := os.WriteFile(path, []byte("short"), 0o600); err != nil {
		t.Fatal(err)
	}
	p := LoadOrCreateKeyFile(path)
	if !p.Degraded() {
		t.Error("Expected degraded provider for a corrupt key")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "short" {
		t.Error("Corrupt key file must not be overwritten")
	}
}

func TestKeyFileRejectsForeignCiphertext(t *testing.T) {
	a, _ := NewKeyFile(bytes.Repeat([]byte{1}, 32))
	b, _ := NewKeyFile(bytes.Repeat([]byte{2}, 32))
	ct, _ := a.Encrypt([]byte("mine"))
	if _, err := b.Decrypt(ct); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Expected ErrDecrypt, got %v", err)
	}
	if _, err := a.Decrypt([]byte{1, 2, 3}); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Expected ErrDecrypt for short input, got %v", err)
	}
}

func TestKeyFileNewKeyIsFernet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.key")
	p := LoadOrCreateKeyFile(path)
	if _, ok := p.(*Static); !ok {
		t.Fatalf("Expected a Fernet provider for a new key, got %T", p)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 44 {
		t.Errorf("Expected a 44-byte base64 key, got %d bytes", len(data))
	}
	if _, err := fernet.DecodeKey(string(data)); err != nil {
		t.Errorf("Key file is not a Fernet key: %v", err)
	}
}

func TestKeyFileReadsExistingFernetKey(t *testing.T) {
	const encoded = "cw_0x689RpI-jtRR7oE8h_eQsKImvJapLeSbXpwF4e4="
	key, err := fernet.DecodeKey(encoded)
	if err != nil {
		t.Fatal(err)
	}
	// A row sealed by an earlier release under that key.
	stored, err := fernet.EncryptAndSign([]byte("from last week"), key)
	if err != nil {
		t.Fatal(err)
	}

	for name, contents := range map[string]string{
		"bare":    encoded,
		"newline":  encoded + "\n",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "secret.key")
			if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
				t.Fatal(err)
			}
			p := LoadOrCreateKeyFile(path)
			if p.Degraded() {
				t.Fatal("Existing Fernet key must not degrade")
			}
			pt, err := p.Decrypt(stored)
			if err != nil || string(pt) != "from last week" {
				t.Fatalf("Failed to open stored row: %q, %v", pt, err)
			}
			ct, err := p.Encrypt([]byte("new row"))
			if err != nil {
				t.Fatal(err)
			}
			if got := fernet.VerifyAndDecrypt(ct, 0, []*fernet.Key{key}); string(got) != "new row" {
				t.Errorf("New rows must stay readable with the same key, got %q", got)
			}
			data, _ := os.ReadFile(path)
			if string(data) != contents {
				t.Error("Existing key file must not be rewritten")
			}
		})
	}
}

func TestKeyFileReadsRawXChaChaKey(t *testing.T) {
	raw := make([]byte, 32)
	rand.Read(raw)
	path := filepath.Join(t.TempDir(), "secret.key")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatal(err)
	}
	kf, _ := NewKeyFile(raw)
	stored, _ := kf.Encrypt([]byte("sealed"))

	p := LoadOrCreateKeyFile(path)
	if _, ok := p.(*KeyFile); !ok {
		t.Fatalf("Expected XChaCha provider for a raw key, got %T", p)
	}
	if pt, err := p.Decrypt(stored); err != nil || string(pt) != "sealed" {
		t.Errorf("Failed to open stored row: %q, %v", pt, err)
	}
}
