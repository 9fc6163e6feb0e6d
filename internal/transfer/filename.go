// Package transfer holds the file side of the messenger: safe local names
// for received files, checksums, and the Task handle for outbound sends.
package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// MaxFilenameBytes is the longest name SanitizeFilename returns.
const MaxFilenameBytes = 255

const truncateTo = 250

var (
	ErrChecksumMismatch = errors.New("transfer: checksum mismatch")
	ErrTooLarge         = errors.New("transfer: file exceeds size limit")
)

const denied = `<>:"|?*\/`

// SanitizeFilename turns a name announced by a peer into a single path
// element that is safe to create under the downloads directory.
func SanitizeFilename(name string, now time.Time) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	s := strings.Map(func(r rune) rune {
		if strings.ContainsRune(denied, r) || unicode.IsControl(r) || r == utf8.RuneError {
			return '_'
		}
		return r
	}, name)

	if len(s) > MaxFilenameBytes {
		ext := filepath.Ext(s)
		if len(ext) > 32 {
			ext = ""
		}
		s = truncateUTF8(strings.TrimSuffix(s, ext), truncateTo-len(ext)) + ext
	}

	if strings.TrimSpace(s) == "" || s == "." || s == ".." {
		ext := filepath.Ext(s)
		if ext == "." {
			ext = ""
		}
		return fmt.Sprintf("file_%d%s", now.Unix(), ext)
	}
	return s
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// CreateUnique creates name inside dir without replacing anything. On a
// collision it tries base_1.ext, base_2.ext and so on.
func CreateUnique(dir, name string) (*os.File, string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := filepath.Join(dir, name)
	for i := 1; ; i++ {
		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("create %s: %w", candidate, err)
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, ext))
	}
}

// FileChecksum returns the hex SHA-256 of the file at path.
func FileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for checksum: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
