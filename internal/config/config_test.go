package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
)

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GHOSTNET_DATA_DIR", "/tmp/ghost-data")
	t.Setenv("GHOSTNET_DISCOVERY_PORT", "40000")
	t.Setenv("GHOSTNET_MESSAGING_PORT", "not-a-port")
	t.Setenv("GHOSTNET_BROADCAST", "192.168.1.255, 10.0.0.255")
	t.Setenv("GHOSTNET_REQUIRE_ENCRYPTION", "true")

	cfg := Load()
	if cfg.DataDir != "/tmp/ghost-data" {
		t.Errorf("Expected data dir override, got %s", cfg.DataDir)
	}
	if cfg.DiscoveryPort != 40000 {
		t.Errorf("Expected discovery port 40000, got %d", cfg.DiscoveryPort)
	}
	if cfg.MessagingPort != DefaultMessagingPort {
		t.Errorf("Invalid port should keep default, got %d", cfg.MessagingPort)
	}
	if len(cfg.BroadcastAddrs) != 2 || cfg.BroadcastAddrs[1] != "10.0.0.255" {
		t.Errorf("Unexpected broadcast list %v", cfg.BroadcastAddrs)
	}
	if !cfg.RequireEncryption {
		t.Error("Expected RequireEncryption")
	}
	if cfg.DBPath() != filepath.Join("/tmp/ghost-data", "ghostnet.db") {
		t.Errorf("Unexpected db path %s", cfg.DBPath())
	}
}

func TestResolveDownloadsDir(t *testing.T) {
	want := filepath.Join(t.TempDir(), "dl")
	cfg := Default()
	cfg.DownloadsDir = want
	if got := cfg.ResolveDownloadsDir(); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("Directory not created: %v", err)
	}
}

func TestOwnsDownloadsDir(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	for dir, want := range map[string]bool{
		filepath.Join(home, "Downloads", "GhostNet"): true,
		".ghostnet_downloads":                        true,
		filepath.Join(home, "Downloads"):             false,
		home:                                         false,
		".":                                          false,
		t.TempDir():                                  false,
	} {
		if got := OwnsDownloadsDir(dir); got != want {
			t.Errorf("OwnsDownloadsDir(%q) = %v, want %v", dir, got, want)
		}
	}
}

func TestLoadSettingsFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s := LoadSettings(path)

	if !regexp.MustCompile(`^[A-Z][a-z]+[A-Z][a-z]+\d{2}$`).MatchString(s.Username()) {
		t.Errorf("Unexpected generated username %q", s.Username())
	}
	v := s.Values()
	if v.RetentionHours != 24 || !v.AutoCleanup || v.MaxFileSizeMB != 100 {
		t.Errorf("Unexpected defaults %+v", v)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Settings not written: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{KeyUsername, KeyRetentionHours, KeyDarkMode, KeyAutoCleanup, KeyNotificationSound, KeySaveFiles, KeyMaxFileSizeMB} {
		if _, ok := m[key]; !ok {
			t.Errorf("Key %s missing from settings.json", key)
		}
	}

	again := LoadSettings(path)
	if again.Username() != s.Username() {
		t.Errorf("Username not persisted: %s vs %s", again.Username(), s.Username())
	}
}

func TestLoadSettingsPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"username": "Alice", "retention_hours": 500}`), 0o600); err != nil {
		t.Fatal(err)
	}
	s := LoadSettings(path)
	v := s.Values()
	if v.Username != "Alice" || v.RetentionHours != 24 || !v.SaveFiles {
		t.Errorf("Unexpected values %+v", v)
	}
}

func TestSetValidatesAndNotifies(t *testing.T) {
	s := LoadSettings(filepath.Join(t.TempDir(), "settings.json"))

	type change struct {
		key      string
		old, new any
	}
	var mu sync.Mutex
	var got []change
	unsubscribe := s.Subscribe(func(key string, old, new any) {
		mu.Lock()
		got = append(got, change{key, old, new})
		mu.Unlock()
	})

	if err := s.Set(KeyRetentionHours, "48"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(KeyRetentionHours, "48"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(KeyRetentionHours, "0"); !errors.Is(err, ErrInvalidSetting) {
		t.Errorf("Expected ErrInvalidSetting, got %v", err)
	}
	if err := s.Set("colour", "blue"); !errors.Is(err, ErrInvalidSetting) {
		t.Errorf("Expected ErrInvalidSetting for unknown key, got %v", err)
	}
	if err := s.Set(KeyUsername, "   "); !errors.Is(err, ErrInvalidSetting) {
		t.Errorf("Expected ErrInvalidSetting for blank username, got %v", err)
	}
	if s.RetentionHours() != 48 {
		t.Errorf("Expected 48, got %d", s.RetentionHours())
	}

	mu.Lock()
	if len(got) != 1 || got[0].key != KeyRetentionHours || got[0].old != 24 || got[0].new != 48 {
		t.Errorf("Unexpected notifications %+v", got)
	}
	mu.Unlock()

	unsubscribe()
	if err := s.Set(KeyDarkMode, "false"); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	if len(got) != 1 {
		t.Errorf("Notified after unsubscribe: %+v", got)
	}
	mu.Unlock()

	if v, ok := s.Get(KeyDarkMode); !ok || v != false {
		t.Errorf("Get(dark_mode) = %v, %v", v, ok)
	}
}

func TestResetToDefaultsKeepsUsername(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s := LoadSettings(path)
	if err := s.Set(KeyUsername, "Bob"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(KeyMaxFileSizeMB, "250"); err != nil {
		t.Fatal(err)
	}
	if s.MaxFileSize() != 250<<20 {
		t.Errorf("Unexpected max file size %d", s.MaxFileSize())
	}
	s.ResetToDefaults()
	if s.Username() != "Bob" || s.Values().MaxFileSizeMB != 100 {
		t.Errorf("Unexpected values after reset %+v", s.Values())
	}

	if err := s.Delete(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("settings.json still present")
	}
	if err := s.Delete(); err != nil {
		t.Errorf("Second delete should be a no-op, got %v", err)
	}
}
