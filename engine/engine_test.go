package engine

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/unity-host/errors"
	"github.com/wippyai/unity-host/internal/wasmfixture"
)

func TestNewEngine(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		cfg  *Config
		name string
	}{
		{nil, "nil config"},
		{&Config{}, "default config"},
		{&Config{MemoryLimitPages: 256}, "16MB limit"},
		{&Config{CloseOnContextDone: true}, "close on context done"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, err := NewEngine(ctx, tc.cfg)
			if err != nil {
				t.Fatalf("NewEngine failed: %v", err)
			}
			defer e.Close(ctx)

			if e.runtime == nil {
				t.Error("engine runtime should not be nil")
			}
		})
	}
}

func TestLoadModule_Invalid(t *testing.T) {
	ctx := context.Background()
	e, _ := NewEngine(ctx, nil)
	defer e.Close(ctx)

	_, err := e.LoadModule(ctx, []byte("not wasm"))
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindInvalidData}) {
		t.Errorf("LoadModule = %v", err)
	}
}

func TestModule_ImportsAndExports(t *testing.T) {
	ctx := context.Background()
	e, _ := NewEngine(ctx, nil)
	defer e.Close(ctx)

	mod, err := e.LoadModule(ctx, engineFixture())
	if err != nil {
		t.Fatal(err)
	}
	if !mod.HasExport("memory") || !mod.HasExport("SendMessageFloat") || mod.HasExport("nope") {
		t.Errorf("HasExport mismatch, exports = %v", mod.ExportNames())
	}
	imports := mod.Imports()
	if len(imports) != 9 || imports[0] != "env#invoke_vi" {
		t.Errorf("Imports() = %v", imports)
	}
}

func TestModule_MissingImports(t *testing.T) {
	ctx := context.Background()
	e, _ := NewEngine(ctx, nil)
	defer e.Close(ctx)

	mod, err := e.LoadModule(ctx, engineFixture())
	if err != nil {
		t.Fatal(err)
	}

	reg := NewHostRegistry()
	newFakeEngine().register(t, reg)
	if err := mod.MissingImports(ctx, reg); err != nil {
		t.Fatalf("complete registry reported missing imports: %v", err)
	}

	partial := NewHostRegistry()
	_ = partial.RegisterFunc(fixtureNS, "malloc", func(uint32) uint32 { return 0 })
	err = mod.MissingImports(ctx, partial)
	var missing *errors.MissingImportsError
	if !stderrors.As(err, &missing) {
		t.Fatalf("MissingImports = %v, want MissingImportsError", err)
	}
	if len(missing.Imports) != 6 {
		t.Errorf("got %d missing imports, want 6: %v", len(missing.Imports), missing.Imports)
	}
	for _, imp := range missing.Imports {
		if imp.Module != fixtureNS {
			t.Errorf("WASI or Emscripten import reported missing: %+v", imp)
		}
	}
}

func TestInstance_SendMessageEntryPoints(t *testing.T) {
	ctx := context.Background()
	inst, fake := instantiateFixture(t)

	write := func(s string) uint32 {
		size := inst.LengthBytesUTF8(s) + 1
		ptr, err := inst.Malloc(ctx, size)
		if err != nil {
			t.Fatalf("Malloc: %v", err)
		}
		if _, err := inst.StringToUTF8(s, ptr, size); err != nil {
			t.Fatalf("StringToUTF8: %v", err)
		}
		return ptr
	}

	obj, method, arg := write("Player"), write("SetName"), write("Zoë")
	if err := inst.SendMessage(ctx, obj, method); err != nil {
		t.Fatal(err)
	}
	if err := inst.SendMessageString(ctx, obj, method, arg); err != nil {
		t.Fatal(err)
	}
	if err := inst.SendMessageFloat(ctx, obj, method, 1.5); err != nil {
		t.Fatal(err)
	}
	for _, p := range []uint32{obj, method, arg} {
		if err := inst.Free(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	want := []sent{
		{entry: "SendMessage", obj: "Player", method: "SetName"},
		{entry: "SendMessageString", obj: "Player", method: "SetName", text: "Zoë"},
		{entry: "SendMessageFloat", obj: "Player", method: "SetName", number: 1.5},
	}
	if len(fake.sent) != len(want) {
		t.Fatalf("sent = %+v", fake.sent)
	}
	for n := range want {
		if fake.sent[n] != want[n] {
			t.Errorf("sent[%d] = %+v, want %+v", n, fake.sent[n], want[n])
		}
	}
	if len(fake.live) != 0 {
		t.Errorf("%d allocations still live", len(fake.live))
	}
}

func TestInstance_GuestAllocator(t *testing.T) {
	ctx := context.Background()
	inst, fake := instantiateWasm(t, wasmfixture.AllocatingEngine())
	global := func(name string) uint32 {
		g := inst.Module().ExportedGlobal(name)
		if g == nil {
			t.Fatalf("global %s not exported", name)
		}
		return api.DecodeU32(g.Get())
	}

	var ptrs []uint32
	for _, s := range []string{"Player", "SetName", "Zoë"} {
		size := inst.LengthBytesUTF8(s) + 1
		ptr, err := inst.Malloc(ctx, size)
		if err != nil {
			t.Fatalf("Malloc(%d): %v", size, err)
		}
		if _, err := inst.StringToUTF8(s, ptr, size); err != nil {
			t.Fatalf("StringToUTF8: %v", err)
		}
		ptrs = append(ptrs, ptr)
	}
	want := []uint32{wasmfixture.HeapBase, wasmfixture.HeapBase + 8, wasmfixture.HeapBase + 16}
	for n := range want {
		if ptrs[n] != want[n] {
			t.Errorf("ptr[%d] = %d, want %d", n, ptrs[n], want[n])
		}
	}
	if top := global("heap_top"); top != wasmfixture.HeapBase+24 {
		t.Errorf("heap_top = %d", top)
	}

	if err := inst.SendMessageString(ctx, ptrs[0], ptrs[1], ptrs[2]); err != nil {
		t.Fatal(err)
	}
	for _, p := range ptrs {
		if err := inst.Free(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	wantSent := sent{entry: "SendMessageString", obj: "Player", method: "SetName", text: "Zoë"}
	if len(fake.sent) != 1 || fake.sent[0] != wantSent {
		t.Errorf("sent = %+v", fake.sent)
	}
	if fake.allocs != 0 || fake.frees != 0 {
		t.Errorf("host allocator used: allocs=%d frees=%d", fake.allocs, fake.frees)
	}
	if n := global("frees"); n != 3 {
		t.Errorf("guest frees = %d, want 3", n)
	}
}

func TestInstance_GuestAllocatorExhausted(t *testing.T) {
	ctx := context.Background()
	inst, _ := instantiateWasm(t, wasmfixture.AllocatingEngine())

	for _, size := range []uint32{inst.Memory().Size(), 0xfffffff0} {
		_, err := inst.Malloc(ctx, size)
		if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindAllocation}) {
			t.Errorf("Malloc(%d) = %v, want allocation failure", size, err)
		}
	}
	ptr, err := inst.Malloc(ctx, 1)
	if err != nil || ptr != wasmfixture.HeapBase {
		t.Errorf("Malloc after failures = %d, %v", ptr, err)
	}
}

func TestInstance_CallInitAndMain(t *testing.T) {
	ctx := context.Background()
	inst, fake := instantiateFixture(t)

	if err := inst.CallInit(ctx); err != nil {
		t.Fatalf("CallInit: %v", err)
	}
	if fake.ctors != 1 {
		t.Errorf("ctors ran %d times", fake.ctors)
	}

	code, err := inst.CallMain(ctx, []string{"unity", "-batchmode"})
	if err != nil {
		t.Fatalf("CallMain: %v", err)
	}
	if code != 7 {
		t.Errorf("exit code = %d, want 7", code)
	}
	if len(fake.argv) != 2 || fake.argv[0] != "unity" || fake.argv[1] != "-batchmode" {
		t.Errorf("argv = %q", fake.argv)
	}
	if len(fake.live) != 0 {
		t.Errorf("argv buffers leaked: %d", len(fake.live))
	}
}

func TestInstance_StringRoundTrip(t *testing.T) {
	inst, _ := instantiateFixture(t)
	mem := inst.Memory()

	n, err := mem.StringToUTF8("héllo", 100, 4)
	if err != nil {
		t.Fatal(err)
	}
	// "h" + 2-byte "é" fits in 3 bytes; the terminator takes the fourth
	if n != 3 {
		t.Errorf("wrote %d bytes, want 3", n)
	}
	s, err := inst.UTF8ToString(100)
	if err != nil || s != "hé" {
		t.Errorf("UTF8ToString = %q, %v", s, err)
	}

	n, _ = mem.StringToUTF8("héllo", 200, 3)
	if n != 1 {
		t.Errorf("truncation split a rune: wrote %d bytes", n)
	}

	if _, err := inst.UTF8ToString(mem.Size()); err == nil {
		t.Error("reading past the end of memory should fail")
	}
}

func TestInstance_MissingEntryPoint(t *testing.T) {
	ctx := context.Background()
	e, _ := NewEngine(ctx, nil)
	defer e.Close(ctx)

	mod, err := e.LoadModule(ctx, engineFixture())
	if err != nil {
		t.Fatal(err)
	}
	reg := NewHostRegistry()
	newFakeEngine().register(t, reg)

	names := DefaultExportNames()
	names.SendMessageFloat = "SendMessageDouble"
	inst, err := mod.Instantiate(ctx, InstanceConfig{Registry: reg, ExportNames: names})
	if err != nil {
		t.Fatal(err)
	}
	defer inst.Close(ctx)

	err = inst.SendMessageFloat(ctx, 0, 0, 1)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindMissingExport}) {
		t.Errorf("SendMessageFloat = %v", err)
	}
}

func TestInstantiate_MissingMalloc(t *testing.T) {
	ctx := context.Background()
	e, _ := NewEngine(ctx, nil)
	defer e.Close(ctx)

	mod, _ := e.LoadModule(ctx, engineFixture())
	reg := NewHostRegistry()
	newFakeEngine().register(t, reg)

	names := DefaultExportNames()
	names.Malloc = "dlmalloc"
	_, err := mod.Instantiate(ctx, InstanceConfig{Registry: reg, ExportNames: names})
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindMissingExport}) {
		t.Errorf("Instantiate = %v", err)
	}
}

func TestInstance_CloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	inst, _ := instantiateFixture(t)
	if err := inst.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := inst.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := inst.Malloc(ctx, 4); err == nil {
		t.Error("Malloc after Close should fail")
	}
}
