package message

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/wippyai/unity-host/errors"
)

type call struct {
	entry  string
	obj    string
	method string
	text   string
	number float64
}

// fakeABI records every call and keeps a byte heap so strings written by
// Send can be read back at dispatch time.
type fakeABI struct {
	heap     []byte
	live     map[uint32]uint32
	calls    []call
	allocs   int
	frees    int
	failWith error
	panicOn  string
	next     uint32
}

func newFakeABI() *fakeABI {
	return &fakeABI{heap: make([]byte, 4096), live: make(map[uint32]uint32), next: 8}
}

func (f *fakeABI) Malloc(_ context.Context, size uint32) (uint32, error) {
	ptr := f.next
	f.next += size
	f.live[ptr] = size
	f.allocs++
	return ptr, nil
}

func (f *fakeABI) Free(_ context.Context, ptr uint32) error {
	if _, ok := f.live[ptr]; !ok {
		return stderrors.New("double free")
	}
	delete(f.live, ptr)
	f.frees++
	return nil
}

func (f *fakeABI) LengthBytesUTF8(s string) uint32 { return uint32(len(s)) }

func (f *fakeABI) StringToUTF8(s string, ptr, maxBytes uint32) (uint32, error) {
	n := copy(f.heap[ptr:ptr+maxBytes-1], s)
	f.heap[ptr+uint32(n)] = 0
	return uint32(n), nil
}

func (f *fakeABI) str(ptr uint32) string {
	end := ptr
	for f.heap[end] != 0 {
		end++
	}
	return string(f.heap[ptr:end])
}

func (f *fakeABI) record(c call) error {
	if f.panicOn == c.entry {
		panic("engine trap")
	}
	f.calls = append(f.calls, c)
	return f.failWith
}

func (f *fakeABI) SendMessage(_ context.Context, obj, method uint32) error {
	return f.record(call{entry: "SendMessage", obj: f.str(obj), method: f.str(method)})
}

func (f *fakeABI) SendMessageString(_ context.Context, obj, method, arg uint32) error {
	return f.record(call{entry: "SendMessageString", obj: f.str(obj), method: f.str(method), text: f.str(arg)})
}

func (f *fakeABI) SendMessageFloat(_ context.Context, obj, method uint32, arg float64) error {
	return f.record(call{entry: "SendMessageFloat", obj: f.str(obj), method: f.str(method), number: arg})
}

func TestSend_RoutesByShape(t *testing.T) {
	tests := []struct {
		name   string
		arg    Argument
		want   call
		allocs int
	}{
		{"none", None(), call{entry: "SendMessage", obj: "GameManager", method: "Pause"}, 2},
		{"text", Text("level-2"), call{entry: "SendMessageString", obj: "GameManager", method: "Pause", text: "level-2"}, 3},
		{"number", Number(0.25), call{entry: "SendMessageFloat", obj: "GameManager", method: "Pause", number: 0.25}, 2},
		{"empty text", Text(""), call{entry: "SendMessageString", obj: "GameManager", method: "Pause"}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			abi := newFakeABI()
			if err := Send(context.Background(), abi, "GameManager", "Pause", tt.arg); err != nil {
				t.Fatalf("Send: %v", err)
			}
			if len(abi.calls) != 1 {
				t.Fatalf("got %d dispatches, want 1", len(abi.calls))
			}
			if abi.calls[0] != tt.want {
				t.Errorf("call = %+v, want %+v", abi.calls[0], tt.want)
			}
			if abi.allocs != tt.allocs || abi.frees != tt.allocs || len(abi.live) != 0 {
				t.Errorf("allocs=%d frees=%d live=%d, want %d each and none live", abi.allocs, abi.frees, len(abi.live), tt.allocs)
			}
		})
	}
}

func TestSend_PlayerSetScore(t *testing.T) {
	abi := newFakeABI()
	arg, err := FromAny(42)
	if err != nil {
		t.Fatal(err)
	}
	if err := Send(context.Background(), abi, "Player", "SetScore", arg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	want := call{entry: "SendMessageFloat", obj: "Player", method: "SetScore", number: 42}
	if len(abi.calls) != 1 || abi.calls[0] != want {
		t.Fatalf("calls = %+v", abi.calls)
	}
	if len(abi.live) != 0 {
		t.Errorf("%d buffers leaked", len(abi.live))
	}
}

func TestSend_UnsupportedKindBeforeAllocation(t *testing.T) {
	abi := newFakeABI()
	err := Send(context.Background(), abi, "Player", "SetScore", Argument{kind: Kind(7)})
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseMessage, Kind: errors.KindUnsupportedArgument}) {
		t.Fatalf("Send = %v", err)
	}
	if abi.allocs != 0 || len(abi.calls) != 0 {
		t.Errorf("allocs=%d calls=%d, want none", abi.allocs, len(abi.calls))
	}
}

func TestSend_FreesOnDispatchFailure(t *testing.T) {
	abi := newFakeABI()
	abi.failWith = stderrors.New("no such object")

	err := Send(context.Background(), abi, "Ghost", "Boo", Text("x"))
	if !stderrors.Is(err, abi.failWith) {
		t.Fatalf("Send = %v, want cause preserved", err)
	}
	if abi.allocs != 3 || abi.frees != 3 {
		t.Errorf("allocs=%d frees=%d", abi.allocs, abi.frees)
	}
}

func TestSend_FreesOnPanic(t *testing.T) {
	abi := newFakeABI()
	abi.panicOn = "SendMessageFloat"

	func() {
		defer func() {
			if recover() == nil {
				t.Error("panic was swallowed")
			}
		}()
		_ = Send(context.Background(), abi, "Player", "Die", Number(1))
	}()
	if abi.allocs != 2 || abi.frees != 2 {
		t.Errorf("allocs=%d frees=%d", abi.allocs, abi.frees)
	}
}

func TestSend_NilABI(t *testing.T) {
	err := Send(context.Background(), nil, "a", "b", None())
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseMessage, Kind: errors.KindNotInitialized}) {
		t.Errorf("Send(nil) = %v", err)
	}
}

func TestFromAny(t *testing.T) {
	tests := []struct {
		in   any
		kind Kind
		num  float64
		text string
	}{
		{nil, KindNone, 0, ""},
		{"hi", KindText, 0, "hi"},
		{int8(-3), KindNumber, -3, ""},
		{uint16(7), KindNumber, 7, ""},
		{int64(1 << 40), KindNumber, 1 << 40, ""},
		{float32(0.5), KindNumber, 0.5, ""},
		{3.25, KindNumber, 3.25, ""},
		{Text("pass"), KindText, 0, "pass"},
	}
	for _, tt := range tests {
		a, err := FromAny(tt.in)
		if err != nil {
			t.Errorf("FromAny(%#v): %v", tt.in, err)
			continue
		}
		if a.Kind() != tt.kind || a.Number() != tt.num || a.Text() != tt.text {
			t.Errorf("FromAny(%#v) = %v", tt.in, a)
		}
	}

	for _, bad := range []any{true, []byte("x"), struct{}{}, map[string]int{}} {
		_, err := FromAny(bad)
		if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseMessage, Kind: errors.KindUnsupportedArgument}) {
			t.Errorf("FromAny(%#v) = %v, want unsupported argument", bad, err)
		}
	}
}

func TestSender_SendAny(t *testing.T) {
	abi := newFakeABI()
	s := NewSender(abi)

	if err := s.SendAny(context.Background(), "UI", "Show", "menu"); err != nil {
		t.Fatal(err)
	}
	if err := s.SendAny(context.Background(), "UI", "Show", []int{1}); err == nil {
		t.Fatal("SendAny with a slice should fail")
	}
	if len(abi.calls) != 1 || abi.allocs != 3 {
		t.Errorf("calls=%d allocs=%d", len(abi.calls), abi.allocs)
	}
}
