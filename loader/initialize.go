package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/wippyai/unity-host/asset"
	"github.com/wippyai/unity-host/audio"
	"github.com/wippyai/unity-host/engine"
	"github.com/wippyai/unity-host/env"
	"github.com/wippyai/unity-host/errors"
	"github.com/wippyai/unity-host/fsys"
	"github.com/wippyai/unity-host/gl"
	"github.com/wippyai/unity-host/handle"
	"github.com/wippyai/unity-host/message"
	"github.com/wippyai/unity-host/module"
	"github.com/wippyai/unity-host/storage"
	"github.com/wippyai/unity-host/webdata"
)

// Initialization steps, as reported in initialization errors.
const (
	StepEnvironment = "detect environment"
	StepModule      = "create configuration object"
	StepFilesystem  = "mount persistent filesystem"
	StepGraphics    = "create graphics context"
	StepAudio       = "create audio context"
	StepData        = "load data package"
	StepLoad        = "load engine"
	StepLink        = "link engine"
	StepInstantiate = "instantiate engine"
	StepPreRun      = "run pre-run hooks"
	StepConstructor = "run constructors"
	StepMain        = "run main"
	StepPostRun     = "run post-run hooks"
)

const (
	syncDependency = "syncfs"
	thisProgram    = "./this.program"
)

// Initialize runs the initialization sequence once. Later calls wait for
// and return the settled result of the first. A panic inside a step fails
// initialization like any other error.
func (l *Loader) Initialize(ctx context.Context) (err error) {
	if !l.state.CompareAndSwap(int32(StateConstructed), int32(StateInitializing)) {
		return l.ready.Wait(ctx)
	}

	defer func() {
		if r := recover(); r != nil {
			err = l.fail(fmt.Errorf("panic: %v", r))
		}
	}()

	if err := l.initialize(ctx); err != nil {
		return l.fail(err)
	}

	l.state.Store(int32(StateReady))
	l.ready.Resolve()
	l.logger.Info("engine ready",
		zap.Stringer("environment", l.env),
		zap.Bool("engine_loaded", l.instance != nil))
	return nil
}

// fail settles the loader as failed at the current step.
func (l *Loader) fail(cause error) error {
	ierr := errors.Initialization(l.step, cause)
	l.state.Store(int32(StateFailed))
	l.ready.Reject(ierr)
	l.logger.Error("initialization failed", zap.String("step", l.step), zap.Error(cause))
	return ierr
}

func (l *Loader) initialize(ctx context.Context) error {
	l.step = StepEnvironment
	l.detectEnvironment()

	l.step = StepModule
	if err := l.createModule(); err != nil {
		return err
	}

	l.step = StepFilesystem
	if l.env.Worker {
		l.logger.Debug("worker context, persistent filesystem not mounted")
	} else {
		l.module.AddPreRun(l.mountPersistent)
	}

	l.step = StepGraphics
	if err := l.createGraphics(); err != nil {
		return err
	}
	l.step = StepAudio
	if err := l.createAudio(); err != nil {
		return err
	}
	l.step = StepData
	if err := l.registerData(); err != nil {
		return err
	}
	if err := l.loadEngine(ctx); err != nil {
		return err
	}
	return l.run(ctx)
}

// detectEnvironment computes the hosting context once.
func (l *Loader) detectEnvironment() {
	probe := l.opts.probe
	globals := l.opts.globals
	if probe == nil {
		globals = env.HostGlobals()
		probe = globals
	}
	l.env = env.Detect(probe)
	l.logger.Debug("environment detected", zap.Stringer("environment", l.env))
}

// createModule builds the configuration object and the filesystem root.
func (l *Loader) createModule() error {
	globals := l.opts.globals
	if globals == nil && l.opts.probe == nil {
		globals = env.HostGlobals()
	}

	m := module.New(l.logger)
	m.Ready = l.ready
	m.ScriptDirectory = env.ScriptDirectory(l.env, globals)
	m.Arguments = l.opts.args

	root := l.opts.root
	if root == "" {
		dir, err := os.MkdirTemp("", "unity-host-*")
		if err != nil {
			return errors.Wrap(errors.PhaseFilesystem, errors.KindInvalidInput, err, "create filesystem root")
		}
		root = dir
		l.tempRoot = dir
	}
	fs, err := fsys.New(root, l.logger.Named("fs"))
	if err != nil {
		return err
	}
	m.FS = fs

	l.store = l.opts.store
	if l.store == nil {
		l.store = storage.NewMemory()
		l.ownStore = true
	}

	l.module = m
	return nil
}

// mountPersistent runs as the first pre-run hook. A failed sync is
// logged and startup continues; the run dependency is always cleared.
// Mount failures are reported against the filesystem step.
func (l *Loader) mountPersistent(ctx context.Context, m *module.Module) error {
	l.step = StepFilesystem
	point := l.opts.persistentPath
	if err := m.FS.Mkdir(point); err != nil {
		return err
	}
	if err := m.FS.Mount(fsys.Persistent, point, l.store); err != nil {
		return err
	}
	l.step = StepPreRun

	m.AddRunDependency(syncDependency)
	m.FS.SyncFSAsync(ctx, true, func(err error) {
		if err != nil {
			l.logger.Warn("failed to populate persistent storage",
				zap.String("mount", point),
				zap.Error(err))
		}
		m.RemoveRunDependency(syncDependency)
	})
	return nil
}

// createGraphics installs the context factory and makes its context
// current. A provider that yields no context fails.
func (l *Loader) createGraphics() error {
	provider := l.opts.graphics
	if provider == nil {
		provider = gl.Headless()
	}
	l.graphics = gl.NewFactory(provider, l.table, l.logger.Named("gl"))

	h, err := l.graphics.CreateContext(l.opts.canvas, l.opts.glAttrs)
	if err != nil {
		return err
	}
	ctx, _ := l.graphics.Context(h)
	l.graphics.MakeCurrent(h)
	l.module.GL = ctx
	l.module.GLHandle = h
	return nil
}

func (l *Loader) createAudio() error {
	ctor := l.opts.audio
	if ctor == nil {
		ctor = audio.NewHeadless
	}
	ac, err := ctor(l.opts.audioOpts)
	if err != nil {
		return errors.ContextCreation(errors.PhaseAudio, "audio constructor failed", err)
	}
	if ac == nil {
		return errors.ContextCreation(errors.PhaseAudio, "audio constructor returned no context", nil)
	}
	l.table.Insert(handle.TypeAudioContext, ac)
	l.module.Audio = ac
	return nil
}

// registerData queues extraction of the data package behind a run
// dependency, after the filesystem hook.
func (l *Loader) registerData() error {
	data := l.opts.dataPackage
	name := "data"
	if data == nil && l.opts.dataPath != "" {
		name = filepath.Base(l.opts.dataPath)
		raw, _, err := asset.Read(l.resolve(l.opts.dataPath))
		if err != nil {
			return err
		}
		data = raw
	}
	if data == nil {
		return nil
	}
	pkg, err := webdata.Parse(data)
	if err != nil {
		return err
	}

	id := "datafile_" + name
	dir := l.opts.dataDir
	l.module.AddPreRun(func(ctx context.Context, m *module.Module) error {
		l.step = StepData
		m.AddRunDependency(id)
		defer m.RemoveRunDependency(id)
		if err := pkg.ExtractTo(m.FS, dir); err != nil {
			return err
		}
		l.step = StepPreRun
		l.logger.Debug("data package extracted",
			zap.String("dir", dir),
			zap.Int("files", len(pkg.Files)),
			zap.Uint64("bytes", pkg.Size()))
		return nil
	})
	return nil
}

// resolve locates a build artefact: existing relative paths are used as
// is, others are located against the script directory.
func (l *Loader) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return l.module.LocateFile(p)
}

func (l *Loader) loadEngine(ctx context.Context) error {
	l.step = StepLoad
	var (
		wasm []byte
		enc  asset.Encoding
		err  error
	)
	switch {
	case l.opts.engineBytes != nil:
		wasm, enc, err = asset.Decode(l.opts.engineBytes, l.opts.engineName)
	case l.opts.enginePath != "":
		wasm, enc, err = asset.Read(l.resolve(l.opts.enginePath))
	default:
		l.logger.Debug("no engine binary configured")
		return nil
	}
	if err != nil {
		return err
	}

	eng, err := engine.NewEngine(ctx, l.opts.engineConfig)
	if err != nil {
		return err
	}
	l.engine = eng

	compiled, err := eng.LoadModule(ctx, wasm)
	if err != nil {
		return err
	}
	l.compiled = compiled
	l.logger.Debug("engine binary loaded", zap.Int("bytes", len(wasm)), zap.String("encoding", string(enc)))

	l.step = StepLink
	registry := engine.NewHostRegistry()
	if err := l.registerHost(registry); err != nil {
		return err
	}
	if err := compiled.MissingImports(ctx, registry); err != nil {
		return err
	}

	l.step = StepInstantiate
	inst, err := compiled.Instantiate(ctx, engine.InstanceConfig{
		FS:          l.module.FS.FSConfig(),
		Stdout:      l.module.Stdout(),
		Stderr:      l.module.Stderr(),
		Registry:    registry,
		Args:        append([]string{thisProgram}, l.opts.args...),
		Env:         l.opts.env,
		ExportNames: l.opts.exportNames,
	})
	if err != nil {
		return err
	}
	l.instance = inst
	l.sender = message.NewSender(inst)
	return nil
}

func (l *Loader) run(ctx context.Context) error {
	l.step = StepPreRun
	waitCtx := ctx
	if l.opts.syncTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.opts.syncTimeout)
		defer cancel()
	}
	if err := l.module.RunPreRun(waitCtx); err != nil {
		return err
	}

	if l.instance != nil {
		l.step = StepConstructor
		if err := l.instance.CallInit(ctx); err != nil {
			return err
		}
		if l.instance.HasExport(l.instance.ExportNames().Main) {
			l.step = StepMain
			code, err := l.instance.CallMain(ctx, append([]string{thisProgram}, l.opts.args...))
			if err != nil {
				return err
			}
			if code != 0 {
				return errors.New(errors.PhaseRuntime, errors.KindInvalidData).
					Value(code).
					Detail("main exited with status %d", code).
					Build()
			}
		}
	}

	l.step = StepPostRun
	if err := l.module.RunPostRun(ctx); err != nil {
		return err
	}
	return nil
}
