package engine

import (
	"context"
	"testing"

	"github.com/wippyai/unity-host/internal/wasmfixture"
)

const fixtureNS = wasmfixture.Namespace

func engineFixture() []byte { return wasmfixture.Engine() }

type sent struct {
	entry  string
	obj    string
	method string
	text   string
	number float64
}

// fakeEngine implements the fixture namespace. Strings are read through
// the guest's memory, which is attached after instantiation.
type fakeEngine struct {
	mem    *Memory
	live   map[uint32]uint32
	sent   []sent
	argv   []string
	next   uint32
	ctors  int
	frees  int
	allocs int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{live: make(map[uint32]uint32), next: 1024}
}

func (f *fakeEngine) str(t *testing.T, ptr uint32) string {
	s, err := f.mem.UTF8ToString(ptr)
	if err != nil {
		t.Errorf("UTF8ToString(%d): %v", ptr, err)
	}
	return s
}

func (f *fakeEngine) register(t *testing.T, r *HostRegistry) {
	t.Helper()
	funcs := map[string]any{
		"malloc": func(size uint32) uint32 {
			ptr := f.next
			f.next += (size + 7) &^ 7
			f.live[ptr] = size
			f.allocs++
			return ptr
		},
		"free": func(ptr uint32) {
			delete(f.live, ptr)
			f.frees++
		},
		"send_message": func(obj, method uint32) {
			f.sent = append(f.sent, sent{entry: "SendMessage", obj: f.str(t, obj), method: f.str(t, method)})
		},
		"send_message_string": func(obj, method, arg uint32) {
			f.sent = append(f.sent, sent{entry: "SendMessageString", obj: f.str(t, obj), method: f.str(t, method), text: f.str(t, arg)})
		},
		"send_message_float": func(obj, method uint32, v float64) {
			f.sent = append(f.sent, sent{entry: "SendMessageFloat", obj: f.str(t, obj), method: f.str(t, method), number: v})
		},
		"main": func(argc int32, argv uint32) int32 {
			for n := int32(0); n < argc; n++ {
				p, err := f.mem.ReadU32(argv + uint32(n)*4)
				if err != nil {
					t.Errorf("argv[%d]: %v", n, err)
					return 1
				}
				f.argv = append(f.argv, f.str(t, p))
			}
			return 7
		},
		"ctors": func() { f.ctors++ },
	}
	for name, fn := range funcs {
		if err := r.RegisterFunc(fixtureNS, name, fn); err != nil {
			t.Fatalf("RegisterFunc(%s): %v", name, err)
		}
	}
}

func instantiateFixture(t *testing.T) (*Instance, *fakeEngine) {
	t.Helper()
	return instantiateWasm(t, engineFixture())
}

func instantiateWasm(t *testing.T, wasm []byte) (*Instance, *fakeEngine) {
	t.Helper()
	ctx := context.Background()

	e, err := NewEngine(ctx, &Config{MemoryLimitPages: 16})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close(ctx) })

	mod, err := e.LoadModule(ctx, wasm)
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}

	fake := newFakeEngine()
	reg := NewHostRegistry()
	fake.register(t, reg)

	inst, err := mod.Instantiate(ctx, InstanceConfig{Registry: reg})
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	t.Cleanup(func() { _ = inst.Close(ctx) })
	fake.mem = inst.Memory()
	return inst, fake
}
