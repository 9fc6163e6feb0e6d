package cipher

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeyFile encrypts data at rest with XChaCha20-Poly1305 under a random key
// persisted on disk. Output layout is nonce || sealed box.
type KeyFile struct {
	aead cipher.AEAD
}

// LoadOrCreateKeyFile opens the key at path, generating it when the file does
// not exist. New files hold a url-safe base64 Fernet key, the format every
// GhostNet release reads; a 32-byte raw file is an XChaCha20-Poly1305 key.
// An existing but unusable key file puts the provider in degraded mode rather
// than replacing the key and orphaning stored rows.
func LoadOrCreateKeyFile(path string) Provider {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		var k fernet.Key
		if err := k.Generate(); err != nil {
			slog.Error("Failed to generate storage key", "error", err)
			return Passthrough{Reason: err.Error()}
		}
		if err := os.WriteFile(path, []byte(k.Encode()), 0o600); err != nil {
			slog.Error("Failed to persist storage key", "path", path, "error", err)
			return Passthrough{Reason: err.Error()}
		}
		slog.Info("Generated storage key", "path", path)
		return &Static{key: &k}
	case err != nil:
		slog.Error("Failed to read storage key", "path", path, "error", err)
		return Passthrough{Reason: err.Error()}
	}

	if len(data) == chacha20poly1305.KeySize {
		kf, err := NewKeyFile(data)
		if err != nil {
			slog.Error("Storage key unusable", "path", path, "error", err)
			return Passthrough{Reason: err.Error()}
		}
		return kf
	}
	st, err := NewStatic(string(data))
	if err != nil {
		slog.Error("Storage key unusable", "path", path, "size", len(data), "error", err)
		return Passthrough{Reason: err.Error()}
	}
	return st
}

// Static is Fernet under one fixed key, the at-rest format of databases
// written with a base64 secret.key.
type Static struct {
	key *fernet.Key
}

// NewStatic decodes a Fernet key as written to secret.key. Surrounding
// whitespace is ignored.
func NewStatic(encoded string) (*Static, error) {
	k, err := fernet.DecodeKey(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode fernet key: %w", err)
	}
	return &Static{key: k}, nil
}

func (s *Static) Encrypt(plaintext []byte) ([]byte, error) {
	tok, err := fernet.EncryptAndSign(plaintext, s.key)
	if err != nil {
		return nil, fmt.Errorf("fernet encrypt: %w", err)
	}
	return tok, nil
}

func (s *Static) Decrypt(ciphertext []byte) ([]byte, error) {
	msg := fernet.VerifyAndDecrypt(ciphertext, 0, []*fernet.Key{s.key})
	if msg == nil {
		return nil, ErrDecrypt
	}
	return msg, nil
}

func (s *Static) Degraded() bool { return false }

// NewKeyFile builds the at-rest cipher from raw key material.
func NewKeyFile(key []byte) (*KeyFile, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("storage key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init xchacha20-poly1305: %w", err)
	}
	return &KeyFile{aead: aead}, nil
}

func (k *KeyFile) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, k.aead.NonceSize(), k.aead.NonceSize()+len(plaintext)+k.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return k.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (k *KeyFile) Decrypt(ciphertext []byte) ([]byte, error) {
	ns := k.aead.NonceSize()
	if len(ciphertext) < ns+k.aead.Overhead() {
		return nil, ErrDecrypt
	}
	out, err := k.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return out, nil
}

func (k *KeyFile) Degraded() bool { return false }
