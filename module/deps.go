package module

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// runDependencies counts outstanding named tokens that must clear before
// the engine's main entry point may run.
type runDependencies struct {
	logger    *zap.Logger
	ids       map[string]struct{}
	idle      chan struct{}
	onSettled func()
	mu        sync.Mutex
}

func (d *runDependencies) init(logger *zap.Logger) {
	d.logger = logger
	d.ids = make(map[string]struct{})
	d.idle = make(chan struct{})
	close(d.idle)
}

// AddRunDependency registers an outstanding dependency. Adding an id that is
// already outstanding is reported and otherwise ignored.
func (m *Module) AddRunDependency(id string) {
	d := &m.deps
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, dup := d.ids[id]; dup {
		d.logger.Warn("run dependency added twice", zap.String("id", id))
		return
	}
	if len(d.ids) == 0 {
		d.idle = make(chan struct{})
	}
	d.ids[id] = struct{}{}
	d.logger.Debug("run dependency added", zap.String("id", id), zap.Int("outstanding", len(d.ids)))
}

// RemoveRunDependency clears a dependency. Removing an unknown id is
// reported and otherwise ignored. When the last dependency clears, waiters
// are released and the settled callback runs.
func (m *Module) RemoveRunDependency(id string) {
	d := &m.deps
	d.mu.Lock()
	if _, ok := d.ids[id]; !ok {
		d.mu.Unlock()
		d.logger.Warn("run dependency removed without being added", zap.String("id", id))
		return
	}
	delete(d.ids, id)
	remaining := len(d.ids)
	var settled func()
	if remaining == 0 {
		close(d.idle)
		settled = d.onSettled
	}
	d.mu.Unlock()

	d.logger.Debug("run dependency removed", zap.String("id", id), zap.Int("outstanding", remaining))
	if settled != nil {
		settled()
	}
}

// RunDependencies returns the number of outstanding dependencies.
func (m *Module) RunDependencies() int {
	m.deps.mu.Lock()
	defer m.deps.mu.Unlock()
	return len(m.deps.ids)
}

// PendingRunDependencies returns the outstanding ids, sorted.
func (m *Module) PendingRunDependencies() []string {
	m.deps.mu.Lock()
	defer m.deps.mu.Unlock()
	out := make([]string, 0, len(m.deps.ids))
	for id := range m.deps.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// OnRunDependenciesSettled installs a callback run each time the counter
// drops to zero.
func (m *Module) OnRunDependenciesSettled(fn func()) {
	m.deps.mu.Lock()
	m.deps.onSettled = fn
	m.deps.mu.Unlock()
}

// WaitRunDependencies blocks until no dependency is outstanding or ctx is done.
func (m *Module) WaitRunDependencies(ctx context.Context) error {
	m.deps.mu.Lock()
	idle := m.deps.idle
	m.deps.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		m.logger.Warn("gave up waiting for run dependencies",
			zap.Strings("pending", m.PendingRunDependencies()),
			zap.Error(ctx.Err()))
		return ctx.Err()
	}
}
