// Package testbed runs the whole host against the stand-in engine binary:
// compressed build files on disk, a SQLite-backed persistent mount and the
// WebSocket bridge.
package testbed

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/unity-host/asset"
	"github.com/wippyai/unity-host/bridge"
	"github.com/wippyai/unity-host/env"
	"github.com/wippyai/unity-host/internal/wasmfixture"
	"github.com/wippyai/unity-host/loader"
	"github.com/wippyai/unity-host/storage"
	"github.com/wippyai/unity-host/webdata"
)

// engineHost answers the stand-in engine's ABI imports.
type engineHost struct {
	l      *loader.Loader
	mu     sync.Mutex
	floats []float64
	texts  []string
	next   uint32
	live   int
}

func (h *engineHost) str(ptr uint32) string {
	s, _ := h.l.Instance().Memory().UTF8ToString(ptr)
	return s
}

func (h *engineHost) options() []loader.Option {
	funcs := map[string]any{
		"malloc": func(size uint32) uint32 {
			ptr := h.next
			h.next += (size + 7) &^ 7
			h.live++
			return ptr
		},
		"free":         func(uint32) { h.live-- },
		"send_message": func(obj, method uint32) {},
		"send_message_string": func(obj, method, arg uint32) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.texts = append(h.texts, h.str(obj)+"."+h.str(method)+"="+h.str(arg))
		},
		"send_message_float": func(obj, method uint32, v float64) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.floats = append(h.floats, v)
		},
		"main":  func(argc int32, argv uint32) int32 { return 0 },
		"ctors": func() {},
	}
	var opts []loader.Option
	for name, fn := range funcs {
		opts = append(opts, loader.WithHostFunc(wasmfixture.Namespace, name, fn))
	}
	return opts
}

// writeBuild lays out a Build directory the way Unity's WebGL export does.
func writeBuild(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	build := filepath.Join(dir, "Build")
	if err := os.MkdirAll(build, 0o755); err != nil {
		t.Fatal(err)
	}

	wasm, err := asset.Encode(wasmfixture.Engine(), asset.Brotli)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(build, "game.wasm.br"), wasm, 0o644); err != nil {
		t.Fatal(err)
	}

	data := webdata.Build(map[string][]byte{
		"data.unity3d":                   []byte("scenes"),
		"StreamingAssets/levels/01.json": []byte(`{"enemies":3}`),
	})
	gz, err := asset.Encode(data, asset.Gzip)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(build, "game.data.gz"), gz, 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newHost(t *testing.T, site string, store storage.Store, logger *zap.Logger) (*loader.Loader, *engineHost) {
	t.Helper()
	h := &engineHost{next: 4096}
	opts := append([]loader.Option{
		loader.WithLogger(logger),
		loader.WithGlobals(env.Globals{
			env.GlobalProcess: "",
			env.ValueDirname:  filepath.ToSlash(filepath.Join(site, "Build")),
		}),
		loader.WithRoot(t.TempDir()),
		loader.WithStore(store),
		loader.WithEnginePath("game.wasm.br"),
		loader.WithDataPath("game.data.gz", "/"),
		loader.WithSyncTimeout(5 * time.Second),
	}, h.options()...)
	h.l = loader.New(opts...)
	return h.l, h
}

func TestHost_EndToEnd(t *testing.T) {
	ctx := context.Background()
	site := writeBuild(t)
	store, err := storage.OpenSQLite(t.TempDir(), "idbfs")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	l, h := newHost(t, site, store, zap.New(core))

	if err := l.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !l.Environment().Server {
		t.Errorf("Environment() = %s", l.Environment())
	}
	if logs.FilterMessage("engine ready").Len() != 1 {
		t.Error("ready not logged")
	}

	level, err := l.Module().FS.ReadFile("/StreamingAssets/levels/01.json")
	if err != nil || string(level) != `{"enemies":3}` {
		t.Errorf("data package file = %q, %v", level, err)
	}

	srv := httptest.NewServer(bridge.Handler(l, bridge.Options{}))
	defer srv.Close()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for i, req := range []bridge.Request{
		{ID: 1, Target: "Player", Method: "SetScore", Arg: []byte("42")},
		{ID: 2, Target: "HUD", Method: "Show", Arg: []byte(`"paused"`)},
	} {
		if err := wsjson.Write(ctx, conn, req); err != nil {
			t.Fatal(err)
		}
		var resp bridge.Response
		if err := wsjson.Read(ctx, conn, &resp); err != nil {
			t.Fatal(err)
		}
		if !resp.OK || resp.ID != int64(i+1) {
			t.Errorf("response %d = %+v", i, resp)
		}
	}

	h.mu.Lock()
	if len(h.floats) != 1 || h.floats[0] != 42 {
		t.Errorf("float sends = %v", h.floats)
	}
	if len(h.texts) != 1 || h.texts[0] != "HUD.Show=paused" {
		t.Errorf("string sends = %v", h.texts)
	}
	h.mu.Unlock()
	if h.live != 0 {
		t.Errorf("%d allocations not freed", h.live)
	}

	if err := l.Module().FS.WriteFile("/idbfs/progress.sav", []byte("level=2"), 0); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// a fresh host sees the save through the SQLite store
	again, _ := newHost(t, site, store, zap.NewNop())
	defer again.Close(ctx)
	if err := again.Initialize(ctx); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	save, err := again.Module().FS.ReadFile("/idbfs/progress.sav")
	if err != nil || string(save) != "level=2" {
		t.Errorf("restored save = %q, %v", save, err)
	}
}

func TestHost_MissingBuild(t *testing.T) {
	l, _ := newHost(t, t.TempDir(), storage.NewMemory(), zap.NewNop())
	defer l.Close(context.Background())

	err := l.Initialize(context.Background())
	if err == nil || !strings.Contains(err.Error(), loader.StepData) {
		t.Fatalf("Initialize = %v, want a data package failure", err)
	}
	if l.State() != loader.StateFailed {
		t.Errorf("State() = %s", l.State())
	}
}
