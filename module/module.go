// Package module holds the configuration object the host hands to the
// engine: output sinks, pre-run and post-run hooks, run dependencies, the
// readiness signal, and the handles attached during initialization.
//
// The loader owns a Module exclusively until it hands it to the engine.
// Run dependency bookkeeping is safe for concurrent use because filesystem
// sync callbacks complete on their own goroutines.
package module

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/unity-host/audio"
	"github.com/wippyai/unity-host/fsys"
	"github.com/wippyai/unity-host/gl"
	"github.com/wippyai/unity-host/handle"
	"github.com/wippyai/unity-host/ready"
)

// Hook runs before or after the engine's main entry point.
type Hook func(ctx context.Context, m *Module) error

// Module is the engine configuration object.
type Module struct {
	// Print and PrintErr receive the engine's stdout and stderr lines.
	Print    func(line string)
	PrintErr func(line string)

	// LocateFileFunc overrides LocateFile when set.
	LocateFileFunc func(name, scriptDirectory string) string

	Ready *ready.Signal

	FS       *fsys.FS
	GL       gl.Context
	GLHandle handle.Handle
	Audio    audio.Context

	ScriptDirectory string
	Arguments       []string

	logger  *zap.Logger
	preRun  []Hook
	postRun []Hook
	deps    runDependencies
	hookMu  sync.Mutex
}

// New creates a Module with an unsettled readiness signal and empty hook
// lists. The default sinks write to logger at info and warn level.
func New(logger *zap.Logger) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	sink := logger.Named("engine")
	m := &Module{
		Ready:  ready.New(),
		logger: logger,
		Print: func(line string) {
			sink.Info(line)
		},
		PrintErr: func(line string) {
			sink.Warn(line)
		},
	}
	m.deps.init(logger)
	return m
}

// Logger returns the logger the module reports warnings to.
func (m *Module) Logger() *zap.Logger { return m.logger }

// LocateFile resolves a file name the engine asks for, relative to the
// script directory unless an override is installed.
func (m *Module) LocateFile(name string) string {
	if m.LocateFileFunc != nil {
		return m.LocateFileFunc(name, m.ScriptDirectory)
	}
	if m.ScriptDirectory == "" || strings.Contains(name, "://") {
		return name
	}
	return m.ScriptDirectory + name
}

// AddPreRun appends a hook to run before main.
func (m *Module) AddPreRun(h Hook) {
	m.hookMu.Lock()
	m.preRun = append(m.preRun, h)
	m.hookMu.Unlock()
}

// AddPostRun appends a hook to run after main.
func (m *Module) AddPostRun(h Hook) {
	m.hookMu.Lock()
	m.postRun = append(m.postRun, h)
	m.hookMu.Unlock()
}

// PreRunLen returns the number of pre-run hooks not yet executed.
func (m *Module) PreRunLen() int {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	return len(m.preRun)
}

// PostRunLen returns the number of post-run hooks not yet executed.
func (m *Module) PostRunLen() int {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	return len(m.postRun)
}

// RunPreRun shifts pre-run hooks off the list in registration order and
// runs each, then blocks until every run dependency has been removed.
// A hook may register further hooks; they run in the same pass.
func (m *Module) RunPreRun(ctx context.Context) error {
	if err := m.drain(ctx, &m.preRun); err != nil {
		return err
	}
	return m.WaitRunDependencies(ctx)
}

// RunPostRun shifts post-run hooks off the list in registration order
// and runs each.
func (m *Module) RunPostRun(ctx context.Context) error {
	return m.drain(ctx, &m.postRun)
}

func (m *Module) drain(ctx context.Context, list *[]Hook) error {
	for {
		m.hookMu.Lock()
		if len(*list) == 0 {
			m.hookMu.Unlock()
			return nil
		}
		h := (*list)[0]
		*list = (*list)[1:]
		m.hookMu.Unlock()

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h(ctx, m); err != nil {
			return err
		}
	}
}
