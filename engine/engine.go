package engine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/emscripten"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/unity-host/errors"
)

// WASINamespace is the module name of WASI preview1 imports.
const WASINamespace = wasi_snapshot_preview1.ModuleName

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32

	// CloseOnContextDone makes guest calls observe context cancellation.
	// Off by default: the engine is not written to be interrupted.
	CloseOnContextDone bool
}

// Engine owns a wazero runtime.
type Engine struct {
	runtime      wazero.Runtime
	wasiInitMu   sync.Mutex
	wasiInitDone atomic.Bool
}

// NewEngine creates an engine. A nil cfg uses defaults.
func NewEngine(ctx context.Context, cfg *Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg != nil {
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
		if cfg.CloseOnContextDone {
			runtimeCfg = runtimeCfg.WithCloseOnContextDone(true)
		}
	}
	return &Engine{runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg)}, nil
}

func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// initWASI instantiates the WASI singleton for this engine's runtime.
func (e *Engine) initWASI(ctx context.Context) error {
	if e.wasiInitDone.Load() {
		return nil
	}

	e.wasiInitMu.Lock()
	defer e.wasiInitMu.Unlock()

	if e.wasiInitDone.Load() {
		return nil
	}
	if e.runtime.Module(WASINamespace) == nil {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, e.runtime); err != nil {
			if e.runtime.Module(WASINamespace) == nil {
				return errors.Wrap(errors.PhaseLink, errors.KindInstantiation, err, "instantiate WASI")
			}
		}
	}
	e.wasiInitDone.Store(true)
	return nil
}

// LoadModule compiles an engine binary.
func (e *Engine) LoadModule(ctx context.Context, wasmBytes []byte) (*Module, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Load("compile engine binary", err)
	}

	Logger().Debug("engine binary compiled",
		zap.Int("bytes", len(wasmBytes)),
		zap.Int("imports", len(compiled.ImportedFunctions())),
		zap.Int("exports", len(compiled.ExportedFunctions())))

	return &Module{engine: e, compiled: compiled}, nil
}

// Module is a compiled engine binary.
type Module struct {
	engine   *Engine
	compiled wazero.CompiledModule
}

// Imports returns every function import as "module#name", sorted.
func (m *Module) Imports() []string {
	var out []string
	for _, def := range m.compiled.ImportedFunctions() {
		mod, name, _ := def.Import()
		out = append(out, importKey(mod, name))
	}
	sort.Strings(out)
	return out
}

// ExportNames returns the names of exported functions, sorted.
func (m *Module) ExportNames() []string {
	out := make([]string, 0, len(m.compiled.ExportedFunctions()))
	for name := range m.compiled.ExportedFunctions() {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HasExport reports whether the binary exports a function or memory by name.
func (m *Module) HasExport(name string) bool {
	if _, ok := m.compiled.ExportedFunctions()[name]; ok {
		return true
	}
	_, ok := m.compiled.ExportedMemories()[name]
	return ok
}

// MissingImports reports imports that neither registry, WASI, nor the
// Emscripten trampolines satisfy. Imported memories are always reported
// since host modules cannot provide them. Returns nil when every import is
// satisfied.
func (m *Module) MissingImports(ctx context.Context, registry *HostRegistry) error {
	provided, err := m.providedImports(ctx, registry)
	if err != nil {
		return err
	}

	var missing []string
	for _, def := range m.compiled.ImportedFunctions() {
		mod, name, _ := def.Import()
		if !provided[importKey(mod, name)] {
			missing = append(missing, importKey(mod, name))
		}
	}
	for _, def := range m.compiled.ImportedMemories() {
		mod, name, _ := def.Import()
		missing = append(missing, importKey(mod, name))
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return errors.NewMissingImportsError(missing)
}

func (m *Module) providedImports(ctx context.Context, registry *HostRegistry) (map[string]bool, error) {
	provided := make(map[string]bool)
	builders, err := m.hostBuilders(registry)
	if err != nil {
		return nil, err
	}
	wasi := m.engine.runtime.NewHostModuleBuilder(WASINamespace)
	wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(wasi)
	builders[WASINamespace] = wasi

	for ns, b := range builders {
		compiled, err := b.Compile(ctx)
		if err != nil {
			return nil, errors.Registration(errors.PhaseLink, ns, "*", err)
		}
		for name := range compiled.ExportedFunctions() {
			provided[importKey(ns, name)] = true
		}
		_ = compiled.Close(ctx)
	}
	return provided, nil
}

// hostBuilders prepares one host module per namespace the guest imports
// from, other than WASI.
func (m *Module) hostBuilders(registry *HostRegistry) (map[string]wazero.HostModuleBuilder, error) {
	namespaces := make(map[string]bool)
	for _, def := range m.compiled.ImportedFunctions() {
		mod, _, _ := def.Import()
		if mod != WASINamespace {
			namespaces[mod] = true
		}
	}

	builders := make(map[string]wazero.HostModuleBuilder, len(namespaces))
	for ns := range namespaces {
		b := m.engine.runtime.NewHostModuleBuilder(ns)
		if registry != nil {
			registry.Bind(ns, b)
		}
		if ns == EnvNamespace {
			exporter, err := emscripten.NewFunctionExporterForModule(m.compiled)
			if err != nil {
				return nil, errors.Registration(errors.PhaseLink, ns, "invoke_*", err)
			}
			exporter.ExportFunctions(b)
		}
		builders[ns] = b
	}
	return builders, nil
}

// Close releases the compiled code.
func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

var _ api.Closer = (*Module)(nil)
