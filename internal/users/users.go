// Package users resolves controller user IDs to login names.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/roach88/ddt/internal/store"
)

// Directory looks up a display name by numeric user ID.
// found is false when the ID is unknown; err is reserved for store failures.
type Directory interface {
	LookupUser(ctx context.Context, id int64) (name string, found bool, err error)
}

// SQLDirectory reads the fb_users table of the user store. Results,
// including misses, are cached for the directory's lifetime.
type SQLDirectory struct {
	st *store.Store

	mu    sync.Mutex
	cache map[int64]cached
}

type cached struct {
	name  string
	found bool
}

// Open opens the user store at path read-only.
func Open(path string) (*SQLDirectory, error) {
	st, err := store.OpenReadOnly(path)
	if err != nil {
		return nil, fmt.Errorf("open user store: %w", err)
	}
	return NewSQLDirectory(st), nil
}

// OpenOrEmpty opens the user store at path. A missing store yields an empty
// directory so that decoding keeps raw IDs instead of failing.
func OpenOrEmpty(path string) (Directory, func() error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Warn("user store missing, user IDs will not be resolved", "path", path)
		return Static{}, func() error { return nil }
	}
	dir, err := Open(path)
	if err != nil {
		slog.Warn("user store unreadable, user IDs will not be resolved", "path", path, "error", err)
		return Static{}, func() error { return nil }
	}
	return dir, dir.Close
}

// NewSQLDirectory wraps an open store.
func NewSQLDirectory(st *store.Store) *SQLDirectory {
	return &SQLDirectory{st: st, cache: map[int64]cached{}}
}

// LookupUser implements Directory.
func (d *SQLDirectory) LookupUser(ctx context.Context, id int64) (string, bool, error) {
	d.mu.Lock()
	c, ok := d.cache[id]
	d.mu.Unlock()
	if ok {
		return c.name, c.found, nil
	}

	name, found, err := d.st.UserName(ctx, id)
	if err != nil {
		return "", false, err
	}

	d.mu.Lock()
	d.cache[id] = cached{name: name, found: found}
	d.mu.Unlock()
	return name, found, nil
}

// Close closes the underlying store.
func (d *SQLDirectory) Close() error {
	return d.st.Close()
}

// Static is an in-memory directory.
type Static map[int64]string

// LookupUser implements Directory.
func (s Static) LookupUser(_ context.Context, id int64) (string, bool, error) {
	name, ok := s[id]
	return name, ok, nil
}
