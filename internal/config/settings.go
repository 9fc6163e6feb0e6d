package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// Setting keys as written to settings.json.
const (
	KeyUsername          = "username"
	KeyRetentionHours    = "retention_hours"
	KeyDarkMode          = "dark_mode"
	KeyAutoCleanup       = "auto_cleanup"
	KeyNotificationSound = "notification_sound"
	KeySaveFiles         = "save_files"
	KeyMaxFileSizeMB     = "max_file_size_mb"
)

var ErrInvalidSetting = errors.New("config: invalid setting")

// Values is the content of settings.json.
type Values struct {
	Username          string `json:"username"`
	RetentionHours    int    `json:"retention_hours"`
	DarkMode          bool   `json:"dark_mode"`
	AutoCleanup       bool   `json:"auto_cleanup"`
	NotificationSound bool   `json:"notification_sound"`
	SaveFiles         bool   `json:"save_files"`
	MaxFileSizeMB     int    `json:"max_file_size_mb"`
}

func defaultValues() Values {
	return Values{
		RetentionHours:    24,
		DarkMode:          true,
		AutoCleanup:       true,
		NotificationSound: true,
		SaveFiles:         true,
		MaxFileSizeMB:     100,
	}
}

func (v Values) validate() error {
	if strings.TrimSpace(v.Username) == "" {
		return fmt.Errorf("%w: username must not be empty", ErrInvalidSetting)
	}
	if v.RetentionHours < 1 || v.RetentionHours > 168 {
		return fmt.Errorf("%w: retention_hours must be 1..168, got %d", ErrInvalidSetting, v.RetentionHours)
	}
	if v.MaxFileSizeMB < 1 || v.MaxFileSizeMB > 500 {
		return fmt.Errorf("%w: max_file_size_mb must be 1..500, got %d", ErrInvalidSetting, v.MaxFileSizeMB)
	}
	return nil
}

// ChangeFunc observes one changed key.
type ChangeFunc func(key string, old, new any)

// Settings is the persisted user configuration. It is safe for concurrent
// use; subscribers run after the change is applied, outside the lock.
type Settings struct {
	mu     sync.Mutex
	path   string
	values Values
	subs   map[int]ChangeFunc
	nextID int
}

var (
	adjectives = []string{"Silent", "Shadow", "Phantom", "Ghost", "Dark", "Night",
		"Cyber", "Neon", "Electric", "Quantum", "Digital", "Crypto"}
	nouns = []string{"Wolf", "Hawk", "Fox", "Raven", "Tiger", "Dragon",
		"Ninja", "Samurai", "Knight", "Warrior", "Sentinel", "Guardian"}
)

// RandomUsername returns a name like "SilentFox42".
func RandomUsername() string {
	return fmt.Sprintf("%s%s%d",
		adjectives[rand.Intn(len(adjectives))],
		nouns[rand.Intn(len(nouns))],
		10+rand.Intn(90))
}

// LoadSettings reads path, filling missing keys with defaults and a fresh
// username on first run, and writes the result back. A file that cannot be
// parsed is replaced by defaults.
func LoadSettings(path string) *Settings {
	v := defaultValues()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &v); err != nil {
			slog.Warn("Settings unreadable, using defaults", "path", path, "error", err)
			v = defaultValues()
		}
	case !errors.Is(err, os.ErrNotExist):
		slog.Warn("Settings unreadable, using defaults", "path", path, "error", err)
	}
	if strings.TrimSpace(v.Username) == "" {
		v.Username = RandomUsername()
		slog.Info("Generated username", "username", v.Username)
	}
	def := defaultValues()
	if v.RetentionHours < 1 || v.RetentionHours > 168 {
		v.RetentionHours = def.RetentionHours
	}
	if v.MaxFileSizeMB < 1 || v.MaxFileSizeMB > 500 {
		v.MaxFileSizeMB = def.MaxFileSizeMB
	}

	s := &Settings{path: path, values: v, subs: make(map[int]ChangeFunc)}
	if err := s.save(v); err != nil {
		slog.Warn("Failed to save settings", "path", path, "error", err)
	}
	return s
}

func (s *Settings) Path() string { return s.path }

// Values returns a copy of all settings.
func (s *Settings) Values() Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values
}

func (s *Settings) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values.Username
}

func (s *Settings) RetentionHours() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values.RetentionHours
}

func (s *Settings) AutoCleanup() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values.AutoCleanup
}

func (s *Settings) SaveFiles() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values.SaveFiles
}

// MaxFileSize is max_file_size_mb in bytes.
func (s *Settings) MaxFileSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(s.values.MaxFileSizeMB) << 20
}

// Get returns the value stored under a settings.json key.
func (s *Settings) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := fields(s.values)[key]
	return v, ok
}

// Set parses raw for key and applies it.
func (s *Settings) Set(key, raw string) error {
	return s.Update(func(v *Values) error {
		var err error
		switch key {
		case KeyUsername:
			v.Username = strings.TrimSpace(raw)
		case KeyRetentionHours:
			v.RetentionHours, err = strconv.Atoi(raw)
		case KeyMaxFileSizeMB:
			v.MaxFileSizeMB, err = strconv.Atoi(raw)
		case KeyDarkMode:
			v.DarkMode, err = strconv.ParseBool(raw)
		case KeyAutoCleanup:
			v.AutoCleanup, err = strconv.ParseBool(raw)
		case KeyNotificationSound:
			v.NotificationSound, err = strconv.ParseBool(raw)
		case KeySaveFiles:
			v.SaveFiles, err = strconv.ParseBool(raw)
		default:
			return fmt.Errorf("%w: unknown key %q", ErrInvalidSetting, key)
		}
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidSetting, key, err)
		}
		return nil
	})
}

// Update applies fn to a copy of the settings. The result is validated,
// persisted and only then published to subscribers, once per changed key.
func (s *Settings) Update(fn func(*Values) error) error {
	s.mu.Lock()
	old := s.values
	next := old
	if err := fn(&next); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := next.validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.values = next
	err := s.save(next)
	subs := s.subscribers()
	s.mu.Unlock()

	if err != nil {
		slog.Warn("Failed to save settings", "path", s.path, "error", err)
	}
	notify(subs, old, next)
	return nil
}

// ResetToDefaults restores every setting except the username.
func (s *Settings) ResetToDefaults() {
	_ = s.Update(func(v *Values) error {
		name := v.Username
		*v = defaultValues()
		v.Username = name
		return nil
	})
}

// Delete removes settings.json. In-memory values are kept.
func (s *Settings) Delete() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Subscribe registers fn for changes and returns a function that removes it.
func (s *Settings) Subscribe(fn func(key string, old, new any)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Settings) subscribers() []ChangeFunc {
	out := make([]ChangeFunc, 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}

func (s *Settings) save(v Values) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func notify(subs []ChangeFunc, old, next Values) {
	if len(subs) == 0 {
		return
	}
	before := fields(old)
	for key, now := range fields(next) {
		was := before[key]
		if was == now {
			continue
		}
		for _, fn := range subs {
			func() {
				defer func() {
					if r := recover(); r != nil {
						slog.Error("Settings subscriber panicked", "key", key, "panic", r)
					}
				}()
				fn(key, was, now)
			}()
		}
	}
}

// fields maps each json key of v to its value.
func fields(v Values) map[string]any {
	rv := reflect.ValueOf(v)
	rt := rv.Type()
	out := make(map[string]any, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		tag := rt.Field(i).Tag.Get("json")
		out[strings.Split(tag, ",")[0]] = rv.Field(i).Interface()
	}
	return out
}
