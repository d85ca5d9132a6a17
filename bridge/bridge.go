// Package bridge exposes sendMessage over a WebSocket so a remote page or
// tool can drive a running engine. Each text frame carries one JSON
// request and is answered with one JSON response.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/wippyai/unity-host/errors"
	"github.com/wippyai/unity-host/message"
	"github.com/wippyai/unity-host/ready"
)

// MaxMessageBytes bounds a single request frame.
const MaxMessageBytes = 64 << 10

// Dispatcher is the part of the loader the bridge drives.
type Dispatcher interface {
	Ready() *ready.Signal
	SendMessage(ctx context.Context, target, method string, arg message.Argument) error
}

// Request is one sendMessage call. Arg may be absent, null, a string or a
// number.
type Request struct {
	Target string          `json:"target"`
	Method string          `json:"method"`
	Arg    json.RawMessage `json:"arg,omitempty"`
	ID     int64           `json:"id"`
}

type Response struct {
	Error string `json:"error,omitempty"`
	ID    int64  `json:"id"`
	OK    bool   `json:"ok"`
}

// Argument decodes the raw arg.
func (r Request) Argument() (message.Argument, error) {
	raw := bytes.TrimSpace(r.Arg)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return message.None(), nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return message.Argument{}, errors.Wrap(errors.PhaseMessage, errors.KindInvalidData, err, "decode string argument")
		}
		return message.Text(s), nil
	case 't', 'f':
		return message.Argument{}, errors.UnsupportedArgument("bool")
	case '[':
		return message.Argument{}, errors.UnsupportedArgument("array")
	case '{':
		return message.Argument{}, errors.UnsupportedArgument("object")
	default:
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			return message.Argument{}, errors.Wrap(errors.PhaseMessage, errors.KindInvalidData, err, "decode number argument")
		}
		return message.Number(n), nil
	}
}

// Options tune a Handler.
type Options struct {
	Logger *zap.Logger
	// ReadyTimeout bounds the wait for the engine before a request is
	// answered with an error. Zero waits for as long as the connection
	// lives.
	ReadyTimeout time.Duration
	// OriginPatterns are passed to websocket.Accept.
	OriginPatterns []string
}

type handler struct {
	d    Dispatcher
	opts Options
	log  *zap.Logger
}

// Handler returns an http.Handler that upgrades to a WebSocket and
// dispatches requests to d in arrival order.
func Handler(d Dispatcher, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &handler{d: d, opts: opts, log: log}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.opts.OriginPatterns})
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(MaxMessageBytes)

	log := h.log.With(zap.String("remote", r.RemoteAddr))
	log.Debug("bridge connected")

	ctx := r.Context()
	if err := h.serve(ctx, conn, log); err != nil {
		status := websocket.CloseStatus(err)
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			log.Debug("bridge disconnected")
			return
		}
		log.Warn("bridge connection ended", zap.Error(err))
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (h *handler) serve(ctx context.Context, conn *websocket.Conn, log *zap.Logger) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var req Request
		if typ != websocket.MessageText {
			err = errors.InvalidInput(errors.PhaseMessage, "requests must be text frames")
		} else if jerr := json.Unmarshal(data, &req); jerr != nil {
			err = errors.Wrap(errors.PhaseMessage, errors.KindInvalidData, jerr, "malformed request")
		}
		if err != nil {
			if err := wsjson.Write(ctx, conn, Response{Error: err.Error()}); err != nil {
				return err
			}
			continue
		}

		resp := Response{ID: req.ID, OK: true}
		if err := h.dispatch(ctx, req); err != nil {
			resp.OK = false
			resp.Error = err.Error()
			log.Debug("request failed", zap.Int64("id", req.ID), zap.Error(err))
		}
		if err := wsjson.Write(ctx, conn, resp); err != nil {
			return err
		}
	}
}

func (h *handler) dispatch(ctx context.Context, req Request) error {
	if req.Target == "" || req.Method == "" {
		return errors.InvalidInput(errors.PhaseMessage, "target and method are required")
	}
	arg, err := req.Argument()
	if err != nil {
		return err
	}

	waitCtx := ctx
	if h.opts.ReadyTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, h.opts.ReadyTimeout)
		defer cancel()
	}
	if err := h.d.Ready().Wait(waitCtx); err != nil {
		return err
	}
	return h.d.SendMessage(ctx, req.Target, req.Method, arg)
}
