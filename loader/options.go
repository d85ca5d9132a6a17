package loader

import (
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/unity-host/audio"
	"github.com/wippyai/unity-host/engine"
	"github.com/wippyai/unity-host/env"
	"github.com/wippyai/unity-host/gl"
	"github.com/wippyai/unity-host/storage"
)

// DefaultPersistentPath is where the persistent store is mounted.
const DefaultPersistentPath = "/idbfs"

// DefaultCanvas matches the canvas size of Unity's default WebGL template.
var DefaultCanvas = gl.Canvas{ID: "#unity-canvas", Width: 960, Height: 600}

type hostFunc struct {
	fn        any
	namespace string
	name      string
}

type options struct {
	logger         *zap.Logger
	probe          env.Probe
	globals        env.Globals
	store          storage.Store
	graphics       gl.Provider
	audio          audio.Constructor
	engineConfig   *engine.Config
	exportNames    engine.ExportNames
	canvas         gl.Canvas
	glAttrs        gl.Attributes
	audioOpts      audio.Options
	engineBytes    []byte
	engineName     string
	enginePath     string
	dataPackage    []byte
	dataPath       string
	dataDir        string
	persistentPath string
	root           string
	hostFuncs      []hostFunc
	hosts          []engine.Host
	args           []string
	env            map[string]string
	syncTimeout    time.Duration
}

func defaultOptions() options {
	return options{
		canvas:         DefaultCanvas,
		glAttrs:        gl.DefaultAttributes(),
		persistentPath: DefaultPersistentPath,
		dataDir:        "/",
		engineName:     "engine.wasm",
	}
}

// Option configures a Loader.
type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithProbe replaces environment detection. Host values used for path
// resolution are taken from WithGlobals.
func WithProbe(p env.Probe) Option {
	return func(o *options) { o.probe = p }
}

// WithGlobals supplies both the probe and the host values.
func WithGlobals(g env.Globals) Option {
	return func(o *options) {
		o.globals = g
		o.probe = g
	}
}

// WithStore backs the persistent mount. The caller keeps ownership.
func WithStore(s storage.Store) Option {
	return func(o *options) { o.store = s }
}

func WithGraphics(p gl.Provider) Option {
	return func(o *options) { o.graphics = p }
}

func WithCanvas(c gl.Canvas) Option {
	return func(o *options) { o.canvas = c }
}

func WithGLAttributes(a gl.Attributes) Option {
	return func(o *options) { o.glAttrs = a }
}

func WithAudio(c audio.Constructor) Option {
	return func(o *options) { o.audio = c }
}

func WithAudioOptions(a audio.Options) Option {
	return func(o *options) { o.audioOpts = a }
}

// WithEngine supplies the engine binary. name selects decompression by
// suffix, as for files.
func WithEngine(wasm []byte, name string) Option {
	return func(o *options) {
		o.engineBytes = wasm
		if name != "" {
			o.engineName = name
		}
	}
}

// WithEnginePath reads the engine binary from disk during Initialize.
func WithEnginePath(path string) Option {
	return func(o *options) { o.enginePath = path }
}

func WithEngineConfig(c engine.Config) Option {
	return func(o *options) { o.engineConfig = &c }
}

func WithExportNames(n engine.ExportNames) Option {
	return func(o *options) { o.exportNames = n }
}

// WithDataPackage supplies a UnityWebData1.0 package extracted into dir
// before the engine starts.
func WithDataPackage(data []byte, dir string) Option {
	return func(o *options) {
		o.dataPackage = data
		if dir != "" {
			o.dataDir = dir
		}
	}
}

// WithDataPath reads the data package from disk; a relative path is
// resolved against the script directory.
func WithDataPath(path, dir string) Option {
	return func(o *options) {
		o.dataPath = path
		if dir != "" {
			o.dataDir = dir
		}
	}
}

func WithPersistentPath(p string) Option {
	return func(o *options) { o.persistentPath = p }
}

// WithRoot sets the host directory backing the virtual filesystem. Without
// it a temporary directory is created and removed on Close.
func WithRoot(dir string) Option {
	return func(o *options) { o.root = dir }
}

// WithHostFunc registers an extra engine import.
func WithHostFunc(namespace, name string, fn any) Option {
	return func(o *options) {
		o.hostFuncs = append(o.hostFuncs, hostFunc{namespace: namespace, name: name, fn: fn})
	}
}

// WithHost registers every function of a struct host.
func WithHost(h engine.Host) Option {
	return func(o *options) { o.hosts = append(o.hosts, h) }
}

// WithArgs sets the arguments passed to main after the program name.
func WithArgs(args ...string) Option {
	return func(o *options) { o.args = append([]string(nil), args...) }
}

func WithEnv(key, value string) Option {
	return func(o *options) {
		if o.env == nil {
			o.env = make(map[string]string)
		}
		o.env[key] = value
	}
}

// WithSyncTimeout bounds the wait for run dependencies before main.
func WithSyncTimeout(d time.Duration) Option {
	return func(o *options) { o.syncTimeout = d }
}
