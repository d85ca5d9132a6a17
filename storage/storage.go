// Package storage is the persistent key-value store backing the engine's
// persistent filesystem mount. Keys are virtual filesystem paths.
package storage

import (
	"context"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wippyai/unity-host/errors"
)

// Entry is one persisted filesystem node. Directories carry fs.ModeDir and
// no contents.
type Entry struct {
	ModTime  time.Time
	Key      string
	Contents []byte
	Mode     fs.FileMode
}

func (e Entry) IsDir() bool { return e.Mode.IsDir() }

// Store persists entries across runs.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, e Entry) error
	Delete(ctx context.Context, key string) error
	// List returns entries whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Entry, error)
	Close() error
}

// ValidateName rejects database names that could escape the data directory.
func ValidateName(name string) error {
	switch {
	case name == "":
		return errors.InvalidInput(errors.PhaseFilesystem, "database name must not be empty")
	case len(name) > 128:
		return errors.InvalidInput(errors.PhaseFilesystem, "database name too long")
	case strings.Contains(name, ".."):
		return errors.InvalidInput(errors.PhaseFilesystem, "database name contains path traversal")
	case strings.ContainsAny(name, `/\`):
		return errors.InvalidInput(errors.PhaseFilesystem, "database name contains path separator")
	case strings.ContainsRune(name, 0):
		return errors.InvalidInput(errors.PhaseFilesystem, "database name contains null byte")
	}
	return nil
}

// Memory is a map-backed Store. It does not survive the process.
type Memory struct {
	entries map[string]Entry
	mu      sync.RWMutex
	closed  bool
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) Get(ctx context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Entry{}, false, errors.Closed(errors.PhaseFilesystem, "store")
	}
	e, ok := m.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	return cloneEntry(e), true, nil
}

func (m *Memory) Put(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.Closed(errors.PhaseFilesystem, "store")
	}
	m.entries[e.Key] = cloneEntry(e)
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.Closed(errors.PhaseFilesystem, "store")
	}
	delete(m.entries, key)
	return nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.Closed(errors.PhaseFilesystem, "store")
	}
	var out []Entry
	for k, e := range m.entries {
		if strings.HasPrefix(k, prefix) {
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func cloneEntry(e Entry) Entry {
	if e.Contents != nil {
		e.Contents = append([]byte(nil), e.Contents...)
	}
	return e
}
