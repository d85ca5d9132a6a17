package fsys

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/unity-host/errors"
	"github.com/wippyai/unity-host/storage"
)

// node is the comparable part of an entry; contents are read only when
// an entry has to be transferred.
type node struct {
	modTime time.Time
	mode    fs.FileMode
}

func (n node) sameAs(o node) bool {
	return n.mode.IsDir() == o.mode.IsDir() && n.modTime.UnixMilli() == o.modTime.UnixMilli()
}

func (f *FS) scanLocal(point string) (map[string]node, error) {
	base := f.HostPath(point)
	out := make(map[string]node)
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == base {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		out[path.Join(point, filepath.ToSlash(rel))] = node{
			modTime: info.ModTime().Truncate(time.Millisecond),
			mode:    info.Mode(),
		}
		return nil
	})
	return out, err
}

func (f *FS) scanStore(ctx context.Context, m Mount) (map[string]storage.Entry, error) {
	entries, err := m.Store.List(ctx, m.Point+"/")
	if err != nil {
		return nil, err
	}
	out := make(map[string]storage.Entry, len(entries))
	for _, e := range entries {
		out[e.Key] = e
	}
	return out, nil
}

// populate rewrites the mount directory from the store.
func (f *FS) populate(ctx context.Context, m Mount) error {
	remote, err := f.scanStore(ctx, m)
	if err != nil {
		return errors.Sync("from store", err)
	}
	local, err := f.scanLocal(m.Point)
	if err != nil {
		return errors.Sync("from store", err)
	}

	var create, remove []string
	for key, e := range remote {
		if l, ok := local[key]; !ok || !l.sameAs(node{modTime: e.ModTime, mode: e.Mode}) {
			create = append(create, key)
		}
	}
	for key := range local {
		if _, ok := remote[key]; !ok {
			remove = append(remove, key)
		}
	}
	sort.Strings(create)
	sort.Sort(sort.Reverse(sort.StringSlice(remove)))

	for _, key := range remove {
		if err := os.RemoveAll(f.HostPath(key)); err != nil {
			return errors.Sync("from store", err)
		}
	}

	var dirs []storage.Entry
	for _, key := range create {
		e := remote[key]
		host := f.HostPath(key)
		if e.IsDir() {
			if info, err := os.Stat(host); err == nil && !info.IsDir() {
				_ = os.Remove(host)
			}
			if err := os.MkdirAll(host, dirPerm(e.Mode)); err != nil {
				return errors.Sync("from store", err)
			}
			dirs = append(dirs, e)
			continue
		}
		if info, err := os.Stat(host); err == nil && info.IsDir() {
			if err := os.RemoveAll(host); err != nil {
				return errors.Sync("from store", err)
			}
		}
		if err := os.MkdirAll(filepath.Dir(host), 0o755); err != nil {
			return errors.Sync("from store", err)
		}
		if err := os.WriteFile(host, e.Contents, filePerm(e.Mode)); err != nil {
			return errors.Sync("from store", err)
		}
		if err := os.Chtimes(host, e.ModTime, e.ModTime); err != nil {
			return errors.Sync("from store", err)
		}
	}
	// children update their parent's mtime, so directories are stamped last, deepest first
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.Chtimes(f.HostPath(dirs[i].Key), dirs[i].ModTime, dirs[i].ModTime); err != nil {
			return errors.Sync("from store", err)
		}
	}

	f.logger.Debug("populated mount from store",
		zap.String("point", m.Point),
		zap.Int("created", len(create)),
		zap.Int("removed", len(remove)))
	return nil
}

// persist writes the mount directory into the store.
func (f *FS) persist(ctx context.Context, m Mount) error {
	local, err := f.scanLocal(m.Point)
	if err != nil {
		return errors.Sync("to store", err)
	}
	remote, err := f.scanStore(ctx, m)
	if err != nil {
		return errors.Sync("to store", err)
	}

	var create, remove []string
	for key, l := range local {
		if e, ok := remote[key]; !ok || !l.sameAs(node{modTime: e.ModTime, mode: e.Mode}) {
			create = append(create, key)
		}
	}
	for key := range remote {
		if _, ok := local[key]; !ok {
			remove = append(remove, key)
		}
	}
	sort.Strings(create)
	sort.Strings(remove)

	for _, key := range create {
		l := local[key]
		e := storage.Entry{Key: key, Mode: l.mode, ModTime: l.modTime}
		if !l.mode.IsDir() {
			data, err := os.ReadFile(f.HostPath(key))
			if err != nil {
				return errors.Sync("to store", err)
			}
			e.Contents = data
		}
		if err := m.Store.Put(ctx, e); err != nil {
			return errors.Sync("to store", err)
		}
	}
	for _, key := range remove {
		if err := m.Store.Delete(ctx, key); err != nil {
			return errors.Sync("to store", err)
		}
	}

	f.logger.Debug("persisted mount to store",
		zap.String("point", m.Point),
		zap.Int("written", len(create)),
		zap.Int("deleted", len(remove)))
	return nil
}

func dirPerm(mode fs.FileMode) fs.FileMode {
	if p := mode.Perm(); p != 0 {
		return p
	}
	return 0o755
}

func filePerm(mode fs.FileMode) fs.FileMode {
	if p := mode.Perm(); p != 0 {
		return p
	}
	return 0o644
}
