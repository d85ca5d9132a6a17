// Package loader is the runtime loader: it prepares the hosting
// environment for the engine and exposes the sendMessage call-in API once
// the engine is running.
//
// A Loader is built with New and started with Initialize, which runs a
// fixed sequence: detect the environment, build the configuration object,
// register the persistent filesystem hook, create the graphics context,
// create the audio context, then load and start the engine. Any failure
// rejects the readiness signal with an initialization error; a failed
// Loader is not retried.
package loader

import (
	"context"
	stderrors "errors"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/unity-host/engine"
	"github.com/wippyai/unity-host/env"
	"github.com/wippyai/unity-host/errors"
	"github.com/wippyai/unity-host/gl"
	"github.com/wippyai/unity-host/handle"
	"github.com/wippyai/unity-host/message"
	"github.com/wippyai/unity-host/module"
	"github.com/wippyai/unity-host/ready"
	"github.com/wippyai/unity-host/storage"
)

// State is the loader lifecycle state.
type State int32

const (
	StateConstructed State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Loader prepares and runs one engine.
type Loader struct {
	opts     options
	logger   *zap.Logger
	ready    *ready.Signal
	env      env.Descriptor
	module   *module.Module
	table    *handle.Table
	graphics *gl.Factory
	store    storage.Store
	engine   *engine.Engine
	compiled *engine.Module
	instance *engine.Instance
	sender   *message.Sender
	tempRoot string
	step     string
	state    atomic.Int32
	ownStore bool
	closeMu  sync.Mutex
	closed   bool
}

// New creates a Loader. Nothing is started until Initialize.
func New(opts ...Option) *Loader {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return &Loader{
		opts:   o,
		logger: o.logger,
		ready:  ready.New(),
		table:  handle.NewTable(),
	}
}

// Ready returns the readiness signal. It settles when Initialize finishes.
func (l *Loader) Ready() *ready.Signal { return l.ready }

func (l *Loader) State() State { return State(l.state.Load()) }

// Environment returns the detected hosting context. Zero until Initialize
// has run its first step.
func (l *Loader) Environment() env.Descriptor { return l.env }

// Module returns the configuration object, or nil before Initialize.
func (l *Loader) Module() *module.Module { return l.module }

// Graphics returns the context factory, or nil before it is installed.
func (l *Loader) Graphics() *gl.Factory { return l.graphics }

// Instance returns the running engine, or nil when no engine is loaded.
func (l *Loader) Instance() *engine.Instance { return l.instance }

// SendMessage invokes method on the engine object named target.
func (l *Loader) SendMessage(ctx context.Context, target, method string, arg message.Argument) error {
	if l.State() != StateReady {
		return errors.NotInitialized(errors.PhaseMessage, "engine ("+l.State().String()+")")
	}
	if l.sender == nil {
		return errors.NotInitialized(errors.PhaseMessage, "engine (no binary loaded)")
	}
	err := l.sender.Send(ctx, target, method, arg)
	if err != nil {
		l.logger.Warn("sendMessage failed",
			zap.String("target", target),
			zap.String("method", method),
			zap.Stringer("arg", arg),
			zap.Error(err))
	}
	return err
}

// SendMessageAny converts v with message.FromAny and sends it. An
// unsupported value fails before the engine is touched.
func (l *Loader) SendMessageAny(ctx context.Context, target, method string, v any) error {
	arg, err := message.FromAny(v)
	if err != nil {
		return err
	}
	return l.SendMessage(ctx, target, method, arg)
}

// SyncFS persists the mounted filesystem into the store.
func (l *Loader) SyncFS(ctx context.Context) error {
	if l.module == nil || l.module.FS == nil {
		return errors.NotInitialized(errors.PhaseFilesystem, "filesystem")
	}
	return l.module.FS.SyncFS(ctx, false)
}

// Close persists the filesystem and releases every resource. It is safe to
// call more than once and on a failed loader.
func (l *Loader) Close(ctx context.Context) error {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	var errs []error
	if l.State() == StateReady && l.module != nil && l.module.FS != nil && len(l.module.FS.Mounts()) > 0 {
		if err := l.module.FS.SyncFS(ctx, false); err != nil {
			errs = append(errs, err)
		}
	}
	if l.module != nil && l.module.Audio != nil {
		if err := l.module.Audio.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if l.graphics != nil && l.module != nil && l.module.GLHandle != 0 {
		l.graphics.Destroy(l.module.GLHandle)
	}
	if l.instance != nil {
		if err := l.instance.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if l.engine != nil {
		if err := l.engine.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if l.ownStore && l.store != nil {
		if err := l.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	_ = l.table.Close()
	if l.tempRoot != "" {
		if err := os.RemoveAll(l.tempRoot); err != nil {
			errs = append(errs, err)
		}
	}

	l.logger.Debug("loader closed", zap.Int("errors", len(errs)))
	return stderrors.Join(errs...)
}
