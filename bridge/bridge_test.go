package bridge

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/unity-host/message"
	"github.com/wippyai/unity-host/ready"
)

type call struct {
	target string
	method string
	arg    message.Argument
}

type fakeDispatcher struct {
	ready *ready.Signal
	mu    sync.Mutex
	calls []call
}

func (f *fakeDispatcher) Ready() *ready.Signal { return f.ready }

func (f *fakeDispatcher) SendMessage(_ context.Context, target, method string, arg message.Argument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{target, method, arg})
	return nil
}

func dial(t *testing.T, d Dispatcher, opts Options) (*websocket.Conn, context.Context) {
	t.Helper()
	srv := httptest.NewServer(Handler(d, opts))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func roundTrip(t *testing.T, ctx context.Context, conn *websocket.Conn, req string) Response {
	t.Helper()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(req)))
	var resp Response
	require.NoError(t, wsjson.Read(ctx, conn, &resp))
	return resp
}

func TestRequest_Argument(t *testing.T) {
	tests := []struct {
		raw     string
		want    message.Argument
		wantErr string
	}{
		{"", message.None(), ""},
		{"null", message.None(), ""},
		{`"Game Over"`, message.Text("Game Over"), ""},
		{"42", message.Number(42), ""},
		{"-0.5", message.Number(-0.5), ""},
		{"true", message.Argument{}, "unsupported_argument"},
		{"[1]", message.Argument{}, "unsupported_argument"},
		{`{"a":1}`, message.Argument{}, "unsupported_argument"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Request{Arg: json.RawMessage(tt.raw)}.Argument()
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandler_Dispatches(t *testing.T) {
	sig := ready.New()
	sig.Resolve()
	d := &fakeDispatcher{ready: sig}
	conn, ctx := dial(t, d, Options{})

	resp := roundTrip(t, ctx, conn, `{"id":1,"target":"Player","method":"SetScore","arg":42}`)
	assert.Equal(t, Response{ID: 1, OK: true}, resp)

	resp = roundTrip(t, ctx, conn, `{"id":2,"target":"Player","method":"Jump"}`)
	assert.True(t, resp.OK)

	resp = roundTrip(t, ctx, conn, `{"id":3,"target":"Player","method":"SetAlive","arg":true}`)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "unsupported_argument")

	// the connection survives a rejected request
	resp = roundTrip(t, ctx, conn, `{"id":4,"target":"HUD","method":"Show","arg":"hi"}`)
	assert.True(t, resp.OK)

	resp = roundTrip(t, ctx, conn, `{"id":5,"method":"Show"}`)
	assert.False(t, resp.OK)

	d.mu.Lock()
	defer d.mu.Unlock()
	require.Len(t, d.calls, 3)
	assert.Equal(t, call{"Player", "SetScore", message.Number(42)}, d.calls[0])
	assert.Equal(t, call{"Player", "Jump", message.None()}, d.calls[1])
	assert.Equal(t, call{"HUD", "Show", message.Text("hi")}, d.calls[2])
}

func TestHandler_MalformedRequest(t *testing.T) {
	sig := ready.New()
	sig.Resolve()
	conn, ctx := dial(t, &fakeDispatcher{ready: sig}, Options{})

	resp := roundTrip(t, ctx, conn, `{"id":`)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "malformed request")

	resp = roundTrip(t, ctx, conn, `{"id":9,"target":"A","method":"B"}`)
	assert.Equal(t, Response{ID: 9, OK: true}, resp)
}

func TestHandler_WaitsForReadiness(t *testing.T) {
	sig := ready.New()
	d := &fakeDispatcher{ready: sig}
	conn, ctx := dial(t, d, Options{})

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"id":1,"target":"A","method":"B"}`)))
	time.Sleep(20 * time.Millisecond)
	d.mu.Lock()
	assert.Empty(t, d.calls, "dispatched before ready")
	d.mu.Unlock()

	sig.Resolve()
	var resp Response
	require.NoError(t, wsjson.Read(ctx, conn, &resp))
	assert.True(t, resp.OK)
}

func TestHandler_ReadyTimeout(t *testing.T) {
	conn, ctx := dial(t, &fakeDispatcher{ready: ready.New()}, Options{ReadyTimeout: 10 * time.Millisecond})
	resp := roundTrip(t, ctx, conn, `{"id":1,"target":"A","method":"B"}`)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "deadline")
}
