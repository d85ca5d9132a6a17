package engine

import (
	"context"
	"crypto/rand"
	stderrors "errors"
	"io"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/unity-host/errors"
)

// ExportNames maps the engine ABI onto export names.
type ExportNames struct {
	Malloc            string
	Free              string
	SendMessage       string
	SendMessageString string
	SendMessageFloat  string
	Memory            string
	Init              string
	Main              string
}

// DefaultExportNames are the names a Unity build exports.
func DefaultExportNames() ExportNames {
	return ExportNames{
		Malloc:            "malloc",
		Free:              "free",
		SendMessage:       "SendMessage",
		SendMessageString: "SendMessageString",
		SendMessageFloat:  "SendMessageFloat",
		Memory:            "memory",
		Init:              "__wasm_call_ctors",
		Main:              "main",
	}
}

func (n ExportNames) withDefaults() ExportNames {
	d := DefaultExportNames()
	if n.Malloc == "" {
		n.Malloc = d.Malloc
	}
	if n.Free == "" {
		n.Free = d.Free
	}
	if n.SendMessage == "" {
		n.SendMessage = d.SendMessage
	}
	if n.SendMessageString == "" {
		n.SendMessageString = d.SendMessageString
	}
	if n.SendMessageFloat == "" {
		n.SendMessageFloat = d.SendMessageFloat
	}
	if n.Memory == "" {
		n.Memory = d.Memory
	}
	if n.Init == "" {
		n.Init = d.Init
	}
	if n.Main == "" {
		n.Main = d.Main
	}
	return n
}

// InstanceConfig holds configuration for engine instantiation
type InstanceConfig struct {
	FS          wazero.FSConfig
	Stdout      io.Writer
	Stderr      io.Writer
	Registry    *HostRegistry
	Env         map[string]string
	Name        string
	Args        []string
	ExportNames ExportNames
}

// Instantiate links the host modules and instantiates the guest. Start
// functions are not run; use CallInit and CallMain.
func (m *Module) Instantiate(ctx context.Context, cfg InstanceConfig) (*Instance, error) {
	if err := m.engine.initWASI(ctx); err != nil {
		return nil, err
	}

	builders, err := m.hostBuilders(cfg.Registry)
	if err != nil {
		return nil, err
	}
	namespaces := make([]string, 0, len(builders))
	for ns := range builders {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)

	inst := &Instance{names: cfg.ExportNames.withDefaults()}
	for _, ns := range namespaces {
		host, err := builders[ns].Instantiate(ctx)
		if err != nil {
			_ = inst.Close(ctx)
			return nil, errors.Wrap(errors.PhaseLink, errors.KindInstantiation, err, "instantiate host module "+ns)
		}
		inst.hosts = append(inst.hosts, host)
	}

	modCfg := wazero.NewModuleConfig().
		WithStartFunctions().
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithRandSource(rand.Reader)
	if cfg.Name != "" {
		modCfg = modCfg.WithName(cfg.Name)
	}
	if cfg.FS != nil {
		modCfg = modCfg.WithFSConfig(cfg.FS)
	}
	if cfg.Stdout != nil {
		modCfg = modCfg.WithStdout(cfg.Stdout)
	}
	if cfg.Stderr != nil {
		modCfg = modCfg.WithStderr(cfg.Stderr)
	}
	if len(cfg.Args) > 0 {
		modCfg = modCfg.WithArgs(cfg.Args...)
	}
	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		modCfg = modCfg.WithEnv(k, cfg.Env[k])
	}

	guest, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, modCfg)
	if err != nil {
		_ = inst.Close(ctx)
		return nil, errors.Instantiation(err)
	}
	inst.module = guest

	if err := inst.resolve(); err != nil {
		_ = inst.Close(ctx)
		return nil, err
	}

	Logger().Debug("engine instantiated",
		zap.Strings("host_modules", namespaces),
		zap.Uint32("memory_bytes", inst.memory.Size()))
	return inst, nil
}

// Instance is a running engine.
type Instance struct {
	module api.Module
	hosts  []api.Module
	memory *Memory
	malloc api.Function
	free   api.Function
	names  ExportNames
	mu     sync.Mutex
	closed bool
}

// resolve looks up the exports every call path needs. The entry points are
// looked up lazily so an engine without them can still run main.
func (i *Instance) resolve() error {
	mem := i.module.ExportedMemory(i.names.Memory)
	if mem == nil {
		return errors.MissingExport(i.names.Memory)
	}
	i.memory = &Memory{mem: mem}

	if i.malloc = i.module.ExportedFunction(i.names.Malloc); i.malloc == nil {
		return errors.MissingExport(i.names.Malloc)
	}
	if i.free = i.module.ExportedFunction(i.names.Free); i.free == nil {
		return errors.MissingExport(i.names.Free)
	}
	return nil
}

// Memory returns the engine's linear memory.
func (i *Instance) Memory() *Memory { return i.memory }

// ExportNames returns the export names the instance resolved against.
func (i *Instance) ExportNames() ExportNames { return i.names }

// Module returns the underlying wazero module.
func (i *Instance) Module() api.Module { return i.module }

// HasExport reports whether the guest exports a function by name.
func (i *Instance) HasExport(name string) bool {
	return i.module != nil && i.module.ExportedFunction(name) != nil
}

func (i *Instance) export(name string) (api.Function, error) {
	if i.module == nil {
		return nil, errors.Closed(errors.PhaseRuntime, "engine instance")
	}
	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return nil, errors.MissingExport(name)
	}
	return fn, nil
}

// Malloc allocates size bytes on the engine heap.
func (i *Instance) Malloc(ctx context.Context, size uint32) (uint32, error) {
	if i.malloc == nil {
		return 0, errors.Closed(errors.PhaseRuntime, "engine instance")
	}
	res, err := i.malloc.Call(ctx, api.EncodeU32(size))
	if err != nil {
		return 0, errors.AllocationFailed(errors.PhaseRuntime, size, err)
	}
	ptr := api.DecodeU32(res[0])
	if ptr == 0 {
		return 0, errors.AllocationFailed(errors.PhaseRuntime, size, nil)
	}
	return ptr, nil
}

// Free releases a pointer returned by Malloc. Freeing 0 is a no-op.
func (i *Instance) Free(ctx context.Context, ptr uint32) error {
	if ptr == 0 {
		return nil
	}
	if i.free == nil {
		return errors.Closed(errors.PhaseRuntime, "engine instance")
	}
	if _, err := i.free.Call(ctx, api.EncodeU32(ptr)); err != nil {
		return errors.Wrap(errors.PhaseRuntime, errors.KindAllocation, err, "free")
	}
	return nil
}

func (i *Instance) LengthBytesUTF8(s string) uint32 { return LengthBytesUTF8(s) }

func (i *Instance) StringToUTF8(s string, ptr, maxBytes uint32) (uint32, error) {
	if i.memory == nil {
		return 0, errors.Closed(errors.PhaseRuntime, "engine instance")
	}
	return i.memory.StringToUTF8(s, ptr, maxBytes)
}

func (i *Instance) UTF8ToString(ptr uint32) (string, error) {
	if i.memory == nil {
		return "", errors.Closed(errors.PhaseRuntime, "engine instance")
	}
	return i.memory.UTF8ToString(ptr)
}

// SendMessage calls the no-argument entry point with pointers to the
// object and method names.
func (i *Instance) SendMessage(ctx context.Context, obj, method uint32) error {
	fn, err := i.export(i.names.SendMessage)
	if err != nil {
		return err
	}
	_, err = fn.Call(ctx, api.EncodeU32(obj), api.EncodeU32(method))
	return callErr(i.names.SendMessage, err)
}

// SendMessageString calls the string entry point.
func (i *Instance) SendMessageString(ctx context.Context, obj, method, arg uint32) error {
	fn, err := i.export(i.names.SendMessageString)
	if err != nil {
		return err
	}
	_, err = fn.Call(ctx, api.EncodeU32(obj), api.EncodeU32(method), api.EncodeU32(arg))
	return callErr(i.names.SendMessageString, err)
}

// SendMessageFloat calls the numeric entry point with v unmodified.
func (i *Instance) SendMessageFloat(ctx context.Context, obj, method uint32, v float64) error {
	fn, err := i.export(i.names.SendMessageFloat)
	if err != nil {
		return err
	}
	_, err = fn.Call(ctx, api.EncodeU32(obj), api.EncodeU32(method), api.EncodeF64(v))
	return callErr(i.names.SendMessageFloat, err)
}

// CallInit runs static constructors if the engine exports them.
func (i *Instance) CallInit(ctx context.Context) error {
	if !i.HasExport(i.names.Init) {
		return nil
	}
	fn, err := i.export(i.names.Init)
	if err != nil {
		return err
	}
	_, err = fn.Call(ctx)
	return callErr(i.names.Init, err)
}

// CallMain runs main and returns its exit status. A main taking
// (argc, argv) receives args marshaled onto the engine heap. An engine
// that exits through proc_exit reports the exit code.
func (i *Instance) CallMain(ctx context.Context, args []string) (int32, error) {
	fn, err := i.export(i.names.Main)
	if err != nil {
		return 0, err
	}

	var params []uint64
	if len(fn.Definition().ParamTypes()) == 2 {
		argv, free, err := i.marshalArgv(ctx, args)
		if err != nil {
			return 0, err
		}
		defer free()
		params = []uint64{api.EncodeI32(int32(len(args))), api.EncodeU32(argv)}
	}

	res, err := fn.Call(ctx, params...)
	if err != nil {
		var exit *sys.ExitError
		if stderrors.As(err, &exit) {
			return int32(exit.ExitCode()), nil
		}
		return 0, callErr(i.names.Main, err)
	}
	if len(res) == 0 {
		return 0, nil
	}
	return api.DecodeI32(res[0]), nil
}

// marshalArgv writes a null-terminated argv array and its strings.
func (i *Instance) marshalArgv(ctx context.Context, args []string) (uint32, func(), error) {
	var ptrs []uint32
	free := func() {
		for _, p := range ptrs {
			_ = i.Free(ctx, p)
		}
	}

	argv, err := i.Malloc(ctx, uint32(len(args)+1)*4)
	if err != nil {
		return 0, free, err
	}
	ptrs = append(ptrs, argv)

	for n, a := range args {
		size := LengthBytesUTF8(a) + 1
		p, err := i.Malloc(ctx, size)
		if err != nil {
			free()
			return 0, func() {}, err
		}
		ptrs = append(ptrs, p)
		if _, err := i.memory.StringToUTF8(a, p, size); err != nil {
			free()
			return 0, func() {}, err
		}
		if err := i.memory.WriteU32(argv+uint32(n)*4, p); err != nil {
			free()
			return 0, func() {}, err
		}
	}
	if err := i.memory.WriteU32(argv+uint32(len(args))*4, 0); err != nil {
		free()
		return 0, func() {}, err
	}
	return argv, free, nil
}

func callErr(name string, err error) error {
	if err == nil {
		return nil
	}
	return errors.New(errors.PhaseRuntime, errors.KindInvalidData).
		Path(name).
		Detail("engine call trapped").
		Cause(err).
		Build()
}

func (i *Instance) Close(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true

	var firstErr error
	if i.module != nil {
		if err := i.module.Close(ctx); err != nil {
			firstErr = err
		}
		i.module = nil
	}
	for n := len(i.hosts) - 1; n >= 0; n-- {
		if err := i.hosts[n].Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	i.hosts = nil
	i.memory = nil
	i.malloc = nil
	i.free = nil
	return firstErr
}
