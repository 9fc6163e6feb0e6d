// Package store persists peers and encrypted message history in a single
// SQLite file. It is a best-effort cache: operations never return errors to
// the caller, they log and publish a Failure instead.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bit2swaz/ghostnet/internal/cipher"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Failure describes an operation that was swallowed.
type Failure struct {
	Op  string
	Err error
	At  time.Time
}

func (f Failure) Error() string { return f.Op + ": " + f.Err.Error() }

type Store struct {
	mu       sync.Mutex
	db       *gorm.DB
	cipher   cipher.Provider
	path     string
	failures chan Failure
	now      func() time.Time
}

func Init(path string) (*gorm.DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := vacuum(db); err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Peer{}, &Message{}); err != nil {
		return nil, err
	}
	return db, nil
}

// Open opens (or creates) the database at path. Content is sealed with c.
func Open(path string, c cipher.Provider) (*Store, error) {
	if c == nil {
		c = cipher.Passthrough{Reason: "no cipher configured"}
	}
	db, err := Init(path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	slog.Info("Store opened", "path", path, "degraded", c.Degraded())
	return &Store{
		db:       db,
		cipher:   c,
		path:     path,
		failures: make(chan Failure, 64),
		now:      time.Now,
	}, nil
}

// Failures returns swallowed errors. Publishing never blocks; failures are
// dropped when nobody drains the channel.
func (s *Store) Failures() <-chan Failure {
	return s.failures
}

func (s *Store) fail(op string, err error) {
	slog.Error("Store operation failed", "op", op, "error", err)
	select {
	case s.failures <- Failure{Op: op, Err: err, At: time.Now()}:
	default:
	}
}

func vacuum(db *gorm.DB) error {
	return db.Exec("VACUUM").Error
}

func (s *Store) Vacuum() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := vacuum(s.db); err != nil {
		s.fail("vacuum", err)
	}
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	sqlDB, err := s.db.DB()
	if err != nil {
		s.fail("close", err)
		return
	}
	if err := sqlDB.Close(); err != nil {
		s.fail("close", err)
	}
}

// Wipe closes the database and deletes it with its WAL files, then every
// extra path (key file, downloads directory, settings). It keeps going past
// individual failures and returns them joined.
func (s *Store) Wipe(extra ...string) error {
	s.Close()
	var errs []error
	targets := append([]string{s.path, s.path + "-wal", s.path + "-shm"}, extra...)
	for _, p := range targets {
		if p == "" {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		s.fail("wipe", err)
	} else {
		slog.Warn("Panic wipe completed", "paths", len(targets))
	}
	return err
}
