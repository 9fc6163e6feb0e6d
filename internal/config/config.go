// Package config holds the runtime configuration of a node and the user
// settings persisted between runs.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Default ports. A node falls forward through PortAttempts ports from each.
const (
	DefaultDiscoveryPort = 37020
	DefaultMessagingPort = 37021
	DefaultPortAttempts  = 5
)

// Config holds the runtime configuration
type Config struct {
	DataDir           string
	DiscoveryPort     int
	MessagingPort     int
	PortAttempts      int
	BroadcastAddrs    []string
	DownloadsDir      string
	WebAddr           string
	LogFile           string
	LogLevel          string
	RequireEncryption bool
	Headless          bool
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	dataDir := ".ghostnet"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".ghostnet")
	}
	return &Config{
		DataDir:        dataDir,
		DiscoveryPort:  DefaultDiscoveryPort,
		MessagingPort:  DefaultMessagingPort,
		PortAttempts:   DefaultPortAttempts,
		BroadcastAddrs: []string{"255.255.255.255"},
		WebAddr:        "127.0.0.1:8080",
		LogLevel:       "info",
	}
}

// Load returns Default overridden by GHOSTNET_* environment variables. A
// .env file in the working directory is read first if present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := Default()
	cfg.DataDir = getEnv("GHOSTNET_DATA_DIR", cfg.DataDir)
	cfg.DiscoveryPort = getEnvInt("GHOSTNET_DISCOVERY_PORT", cfg.DiscoveryPort)
	cfg.MessagingPort = getEnvInt("GHOSTNET_MESSAGING_PORT", cfg.MessagingPort)
	cfg.PortAttempts = getEnvInt("GHOSTNET_PORT_ATTEMPTS", cfg.PortAttempts)
	cfg.DownloadsDir = getEnv("GHOSTNET_DOWNLOADS_DIR", cfg.DownloadsDir)
	cfg.WebAddr = getEnv("GHOSTNET_WEB_ADDR", cfg.WebAddr)
	cfg.LogFile = getEnv("GHOSTNET_LOG_FILE", cfg.LogFile)
	cfg.LogLevel = getEnv("GHOSTNET_LOG_LEVEL", cfg.LogLevel)
	cfg.RequireEncryption = getEnv("GHOSTNET_REQUIRE_ENCRYPTION", "false") == "true"
	cfg.Headless = getEnv("GHOSTNET_HEADLESS", "false") == "true"
	if v := os.Getenv("GHOSTNET_BROADCAST"); v != "" {
		cfg.BroadcastAddrs = splitList(v)
	}
	return cfg
}

func (c *Config) DBPath() string       { return filepath.Join(c.DataDir, "ghostnet.db") }
func (c *Config) KeyPath() string      { return filepath.Join(c.DataDir, "secret.key") }
func (c *Config) SettingsPath() string { return filepath.Join(c.DataDir, "settings.json") }

// LogPath is where the rotating log lives unless LogFile is set.
func (c *Config) LogPath() string {
	if c.LogFile != "" {
		return c.LogFile
	}
	return filepath.Join(c.DataDir, "ghostnet.log")
}

// ResolveDownloadsDir returns the first writable directory out of the
// configured one, ~/Downloads/GhostNet, ./.ghostnet_downloads and the working
// directory.
func (c *Config) ResolveDownloadsDir() string {
	var candidates []string
	if c.DownloadsDir != "" {
		candidates = append(candidates, c.DownloadsDir)
	}
	candidates = append(candidates, ownedDownloadsDirs()...)

	for _, dir := range candidates {
		if writable(dir) {
			if abs, err := filepath.Abs(dir); err == nil {
				dir = abs
			}
			return dir
		}
		slog.Warn("Downloads directory not usable", "path", dir)
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// ownedDownloadsDirs are the fallback directories created for GhostNet alone.
func ownedDownloadsDirs() []string {
	var dirs []string
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, "Downloads", "GhostNet"))
	}
	return append(dirs, ".ghostnet_downloads")
}

// OwnsDownloadsDir reports whether dir is one of the fallback directories
// GhostNet creates for itself. A directory set through DownloadsDir may be
// shared with other programs and is never owned.
func OwnsDownloadsDir(dir string) bool {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	for _, d := range ownedDownloadsDirs() {
		if owned, err := filepath.Abs(d); err == nil && owned == abs {
			return true
		}
	}
	return false
}

func writable(dir string) bool {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring invalid integer", "key", key, "value", v)
		return defaultValue
	}
	return n
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
