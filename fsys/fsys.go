// Package fsys is the engine's virtual filesystem namespace. The namespace
// is rooted at a host directory that is handed to the guest as its WASI root;
// persistent mounts inside it are reconciled against a storage.Store, the way
// IDBFS reconciles a MEMFS subtree against IndexedDB.
package fsys

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/unity-host/errors"
	"github.com/wippyai/unity-host/storage"
)

// Kind names a filesystem driver that can be mounted.
type Kind string

// Persistent mounts are backed by a storage.Store.
const Persistent Kind = "IDBFS"

// Mount is a mounted subtree.
type Mount struct {
	Store storage.Store
	Point string
	Kind  Kind
}

// FS is the virtual filesystem. Virtual paths are absolute and slash separated.
type FS struct {
	logger *zap.Logger
	mounts map[string]*Mount
	root   string
	mu     sync.RWMutex
}

// New roots the namespace at dir, creating it if needed.
func New(dir string, logger *zap.Logger) (*FS, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseFilesystem, errors.KindInvalidInput, err, "resolve root")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrap(errors.PhaseFilesystem, errors.KindInvalidInput, err, "create root")
	}
	return &FS{
		logger: logger,
		mounts: make(map[string]*Mount),
		root:   abs,
	}, nil
}

// Root returns the host directory backing "/".
func (f *FS) Root() string { return f.root }

// Clean normalizes a virtual path. Paths are resolved against "/" and can
// never climb above it.
func Clean(p string) string {
	return path.Clean("/" + strings.ReplaceAll(p, `\`, "/"))
}

// HostPath maps a virtual path to the host path backing it.
func (f *FS) HostPath(p string) string {
	return filepath.Join(f.root, filepath.FromSlash(Clean(p)))
}

// Mkdir creates a directory and any missing parents. An existing directory
// is not an error; an existing file is.
func (f *FS) Mkdir(p string) error {
	host := f.HostPath(p)
	if info, err := os.Stat(host); err == nil && !info.IsDir() {
		return errors.New(errors.PhaseFilesystem, errors.KindInvalidInput).
			Path(Clean(p)).
			Detail("exists and is not a directory").
			Build()
	}
	if err := os.MkdirAll(host, 0o755); err != nil {
		return errors.Wrap(errors.PhaseFilesystem, errors.KindInvalidInput, err, "mkdir "+Clean(p))
	}
	return nil
}

// WriteFile writes a file, creating parent directories.
func (f *FS) WriteFile(p string, data []byte, mode fs.FileMode) error {
	host := f.HostPath(p)
	if err := os.MkdirAll(filepath.Dir(host), 0o755); err != nil {
		return errors.Wrap(errors.PhaseFilesystem, errors.KindInvalidInput, err, "mkdir parent of "+Clean(p))
	}
	if mode == 0 {
		mode = 0o644
	}
	if err := os.WriteFile(host, data, mode.Perm()); err != nil {
		return errors.Wrap(errors.PhaseFilesystem, errors.KindInvalidInput, err, "write "+Clean(p))
	}
	return nil
}

// ReadFile reads a file.
func (f *FS) ReadFile(p string) ([]byte, error) {
	data, err := os.ReadFile(f.HostPath(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(errors.PhaseFilesystem, "file", Clean(p))
		}
		return nil, errors.Wrap(errors.PhaseFilesystem, errors.KindInvalidData, err, "read "+Clean(p))
	}
	return data, nil
}

// Mount attaches a driver at an existing directory. The root cannot be
// mounted over and a point can only be mounted once.
func (f *FS) Mount(kind Kind, point string, store storage.Store) error {
	point = Clean(point)
	if point == "/" {
		return errors.InvalidInput(errors.PhaseFilesystem, "cannot mount over the root")
	}
	if kind != Persistent {
		return errors.InvalidInput(errors.PhaseFilesystem, "unknown filesystem kind "+string(kind))
	}
	if store == nil {
		return errors.NotInitialized(errors.PhaseFilesystem, "persistent store")
	}
	info, err := os.Stat(f.HostPath(point))
	if err != nil || !info.IsDir() {
		return errors.NotFound(errors.PhaseFilesystem, "mount point", point)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.mounts[point]; exists {
		return errors.New(errors.PhaseFilesystem, errors.KindInvalidInput).
			Path(point).
			Detail("already mounted").
			Build()
	}
	f.mounts[point] = &Mount{Store: store, Point: point, Kind: kind}
	f.logger.Debug("mounted", zap.String("point", point), zap.String("kind", string(kind)))
	return nil
}

// Unmount detaches a mount. The directory contents stay in place.
func (f *FS) Unmount(point string) error {
	point = Clean(point)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.mounts[point]; !ok {
		return errors.NotFound(errors.PhaseFilesystem, "mount", point)
	}
	delete(f.mounts, point)
	return nil
}

// Mounts returns the current mounts sorted by point.
func (f *FS) Mounts() []Mount {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Mount, 0, len(f.mounts))
	for _, m := range f.mounts {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Point < out[j].Point })
	return out
}

// FSConfig exposes the namespace to the guest as its root directory.
func (f *FS) FSConfig() wazero.FSConfig {
	return wazero.NewFSConfig().WithDirMount(f.root, "/")
}

// SyncFS reconciles every persistent mount. With populate the store is the
// source of truth and the directory is rewritten from it; without, the
// directory is persisted into the store. All mounts are attempted; the first
// error is returned.
func (f *FS) SyncFS(ctx context.Context, populate bool) error {
	var firstErr error
	for _, m := range f.Mounts() {
		if m.Kind != Persistent {
			continue
		}
		var err error
		if populate {
			err = f.populate(ctx, m)
		} else {
			err = f.persist(ctx, m)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SyncFSAsync runs SyncFS in its own goroutine and reports the result to
// done exactly once.
func (f *FS) SyncFSAsync(ctx context.Context, populate bool, done func(error)) {
	go func() {
		done(f.SyncFS(ctx, populate))
	}()
}
