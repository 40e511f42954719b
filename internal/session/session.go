// Package session holds the state shared by one run of the tool: the cached
// merged-store handle, the time zone resolver and the data directory
// housekeeping.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/roach88/ddt/internal/config"
	"github.com/roach88/ddt/internal/store"
	"github.com/roach88/ddt/internal/timezone"
)

// ErrNoMergedStore is returned when the merged store has not been built.
var ErrNoMergedStore = errors.New("merged store does not exist; run a merge first")

// storeSideFiles are the SQLite companions removed with a store.
var storeSideFiles = []string{"-wal", "-shm", "-journal"}

// Session is the explicit context of one run.
//
// Thread-safety: all methods are safe for concurrent use.
type Session struct {
	ID       string
	Config   *config.Config
	Resolver *timezone.Resolver

	mu     sync.Mutex
	merged *store.Store
	// sleep and remove are replaced in tests.
	sleep  func(time.Duration)
	remove func(string) error
}

// New creates a session. A nil gen uses UUIDv7Generator.
func New(cfg *config.Config, gen IDGenerator) *Session {
	if gen == nil {
		gen = UUIDv7Generator{}
	}
	return &Session{
		ID:       gen.Generate(),
		Config:   cfg,
		Resolver: timezone.NewResolver(),
		sleep:    time.Sleep,
		remove:   os.Remove,
	}
}

// Logger returns the default logger tagged with the session ID.
func (s *Session) Logger() *slog.Logger {
	return slog.Default().With("session", s.ID)
}

// MergedStore returns the open merged store, opening it on first use.
func (s *Session) MergedStore(ctx context.Context) (*store.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.merged != nil {
		return s.merged, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.Config.MergedStorePath()
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoMergedStore
		}
		return nil, fmt.Errorf("stat merged store: %w", err)
	}

	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open merged store: %w", err)
	}
	s.merged = st
	return st, nil
}

// CloseMergedStore closes the cached handle, if any. The next MergedStore
// call reopens the file.
func (s *Session) CloseMergedStore() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeMergedLocked()
}

func (s *Session) closeMergedLocked() error {
	if s.merged == nil {
		return nil
	}
	err := s.merged.Close()
	s.merged = nil
	if err != nil {
		return fmt.Errorf("close merged store: %w", err)
	}
	return nil
}

// Close releases the session's resources.
func (s *Session) Close() error {
	return s.CloseMergedStore()
}

// DeleteMergedStore closes the cached handle and removes the merged store
// with its side files. Removal is retried after Cleanup.Delay up to
// Cleanup.Attempts times. The resolver is reset, since a new merge may carry
// a different offset.
func (s *Session) DeleteMergedStore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.closeMergedLocked(); err != nil {
		slog.Warn("closing merged store before delete", "error", err)
	}
	s.Resolver.Reset()

	path := s.Config.MergedStorePath()
	return s.removeWithRetry(ctx, path)
}

// Cleanup removes every *.db file in the data directory except the user
// store. It returns the removed paths. Every file is attempted; failures are
// joined into the returned error.
func (s *Session) Cleanup(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.Config.DataDir, "*.db"))
	if err != nil {
		return nil, fmt.Errorf("list data directory: %w", err)
	}

	keep := filepath.Clean(s.Config.UserStorePath())
	var (
		removed []string
		errs    []error
	)
	for _, path := range matches {
		if filepath.Clean(path) == keep {
			continue
		}
		if err := s.removeWithRetry(ctx, path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, path)
	}
	slog.Info("data directory cleaned", "dir", s.Config.DataDir, "removed", len(removed), "failed", len(errs))
	return removed, errors.Join(errs...)
}

// removeWithRetry removes path and its side files. A missing file is not an
// error.
func (s *Session) removeWithRetry(ctx context.Context, path string) error {
	attempts := s.Config.Cleanup.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = s.removeStore(path); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		slog.Debug("remove failed, retrying", "path", path, "attempt", attempt, "error", err)
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		s.sleep(s.Config.Cleanup.Delay)
	}
	return fmt.Errorf("remove %s after %d attempts: %w", filepath.Base(path), attempts, err)
}

func (s *Session) removeStore(path string) error {
	var errs []error
	for _, p := range append([]string{path}, sideFiles(path)...) {
		if err := s.remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func sideFiles(path string) []string {
	out := make([]string, 0, len(storeSideFiles))
	for _, suffix := range storeSideFiles {
		out = append(out, path+suffix)
	}
	return out
}
