package storage

import (
	"context"
	"io/fs"
	"testing"
	"time"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	lite, err := OpenSQLiteMemory()
	if err != nil {
		t.Fatalf("OpenSQLiteMemory: %v", err)
	}
	file, err := OpenSQLite(t.TempDir(), "saves")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	return map[string]Store{
		"memory":        NewMemory(),
		"sqlite-memory": lite,
		"sqlite-file":   file,
	}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mtime := time.UnixMilli(1700000000123)

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer s.Close()

			if _, ok, err := s.Get(ctx, "/idbfs/missing"); err != nil || ok {
				t.Fatalf("Get missing = %v, %v", ok, err)
			}

			file := Entry{Key: "/idbfs/save.dat", Mode: 0o644, ModTime: mtime, Contents: []byte("level=3")}
			dir := Entry{Key: "/idbfs/slots", Mode: fs.ModeDir | 0o755, ModTime: mtime}
			for _, e := range []Entry{file, dir} {
				if err := s.Put(ctx, e); err != nil {
					t.Fatalf("Put %s: %v", e.Key, err)
				}
			}

			got, ok, err := s.Get(ctx, file.Key)
			if err != nil || !ok {
				t.Fatalf("Get = %v, %v", ok, err)
			}
			if string(got.Contents) != "level=3" || got.Mode != 0o644 || !got.ModTime.Equal(mtime) {
				t.Errorf("Get = %+v", got)
			}

			got, _, _ = s.Get(ctx, dir.Key)
			if !got.IsDir() {
				t.Errorf("directory mode lost: %v", got.Mode)
			}

			file.Contents = []byte("level=4")
			if err := s.Put(ctx, file); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			got, _, _ = s.Get(ctx, file.Key)
			if string(got.Contents) != "level=4" {
				t.Errorf("overwrite not applied: %q", got.Contents)
			}

			if err := s.Put(ctx, Entry{Key: "/other/x", Mode: 0o600, ModTime: mtime}); err != nil {
				t.Fatalf("Put: %v", err)
			}
			list, err := s.List(ctx, "/idbfs/")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(list) != 2 || list[0].Key != "/idbfs/save.dat" || list[1].Key != "/idbfs/slots" {
				t.Errorf("List = %+v", list)
			}

			if err := s.Delete(ctx, file.Key); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, ok, _ := s.Get(ctx, file.Key); ok {
				t.Error("entry still present after Delete")
			}
		})
	}
}

func TestMemory_ClonesContents(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	buf := []byte("abc")
	_ = m.Put(ctx, Entry{Key: "k", Contents: buf})
	buf[0] = 'x'

	got, _, _ := m.Get(ctx, "k")
	if string(got.Contents) != "abc" {
		t.Errorf("store aliases caller buffer: %q", got.Contents)
	}
}

func TestMemory_Closed(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Close()
	if err := m.Put(ctx, Entry{Key: "k"}); err == nil {
		t.Error("Put after Close should fail")
	}
	if _, err := m.List(ctx, ""); err == nil {
		t.Error("List after Close should fail")
	}
}

func TestValidateName(t *testing.T) {
	valid := []string{"saves", "game-1", "a.b"}
	for _, n := range valid {
		if err := ValidateName(n); err != nil {
			t.Errorf("ValidateName(%q) = %v", n, err)
		}
	}

	long := make([]byte, 129)
	for i := range long {
		long[i] = 'a'
	}
	invalid := []string{"", "..", "a/b", `a\b`, "a\x00b", string(long)}
	for _, n := range invalid {
		if err := ValidateName(n); err == nil {
			t.Errorf("ValidateName(%q) should fail", n)
		}
	}
}
