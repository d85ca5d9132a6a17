package main

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/unity-host/audio"
	"github.com/wippyai/unity-host/config"
	"github.com/wippyai/unity-host/engine"
	"github.com/wippyai/unity-host/gl"
	"github.com/wippyai/unity-host/loader"
	"github.com/wippyai/unity-host/logging"
	"github.com/wippyai/unity-host/message"
	"github.com/wippyai/unity-host/storage"
)

// host is a configured, not yet initialized loader plus what it needs
// closed afterwards.
type host struct {
	cfg    *config.Config
	logger *zap.Logger
	loader *loader.Loader
	store  storage.Store
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.NewConfig(path)
}

func newHost(cfg *config.Config) (*host, error) {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	engine.SetLogger(logger.Named("engine"))

	var store storage.Store
	if cfg.Storage.Path != "" {
		s, err := storage.OpenSQLite(cfg.Storage.Path, cfg.Storage.Name)
		if err != nil {
			_ = logger.Sync()
			return nil, err
		}
		store = s
	} else {
		store = storage.NewMemory()
	}

	opts := loaderOptions(cfg, logger, store)
	return &host{
		cfg:    cfg,
		logger: logger,
		loader: loader.New(opts...),
		store:  store,
	}, nil
}

func loaderOptions(cfg *config.Config, logger *zap.Logger, store storage.Store) []loader.Option {
	g := cfg.Graphics
	opts := []loader.Option{
		loader.WithLogger(logger),
		loader.WithStore(store),
		loader.WithPersistentPath(cfg.Storage.Mount),
		loader.WithRoot(cfg.Storage.Root),
		loader.WithCanvas(gl.Canvas{ID: g.CanvasID, Width: g.Width, Height: g.Height}),
		loader.WithGLAttributes(gl.Attributes{
			PowerPreference: "default",
			MajorVersion:    g.MajorVersion,
			Alpha:           g.Alpha,
			Depth:           g.Depth,
			Stencil:         g.Stencil,
			Antialias:       g.Antialias,
		}),
		loader.WithAudioOptions(audio.Options{
			SampleRate:  cfg.Audio.SampleRate,
			LatencyHint: cfg.Audio.LatencyHint,
		}),
		loader.WithEngineConfig(engine.Config{MemoryLimitPages: cfg.Engine.MemoryLimitPages}),
		loader.WithArgs(cfg.Engine.Args...),
		loader.WithSyncTimeout(cfg.SyncTimeoutDuration()),
	}
	if g.HeadlessFail {
		opts = append(opts, loader.WithGraphics(gl.Failing()))
	}
	if cfg.Engine.Path != "" {
		opts = append(opts, loader.WithEnginePath(cfg.Engine.Path))
	}
	if cfg.Engine.Data != "" {
		opts = append(opts, loader.WithDataPath(cfg.Engine.Data, "/"))
	}
	for k, v := range cfg.Engine.Env {
		opts = append(opts, loader.WithEnv(k, v))
	}
	return opts
}

// Close shuts the loader down and then the store it was handed.
func (h *host) Close(ctx context.Context) error {
	err := h.loader.Close(ctx)
	if cerr := h.store.Close(); err == nil {
		err = cerr
	}
	_ = h.logger.Sync()
	return err
}

// sendSpec is one "target:method[:arg]" message given on the command line.
type sendSpec struct {
	target string
	method string
	arg    message.Argument
}

// parseSend splits target:method[:arg]. An argument that parses as a
// number is sent as one; anything else is sent as text. Only the first two
// colons separate fields.
func parseSend(s string) (sendSpec, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return sendSpec{}, fmt.Errorf("message %q: want target:method[:arg]", s)
	}
	spec := sendSpec{target: parts[0], method: parts[1], arg: message.None()}
	if len(parts) == 3 {
		spec.arg = inferArg(parts[2])
	}
	return spec, nil
}

// inferArg sends values that parse as finite numbers as numbers. NaN and
// infinities stay text.
func inferArg(v string) message.Argument {
	if n, ok := parseFinite(v); ok {
		return message.Number(n)
	}
	return message.Text(v)
}

func parseFinite(v string) (float64, bool) {
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// sendArg builds the argument of the send command, where the type is
// explicit.
func sendArg(args []string, number bool) (message.Argument, error) {
	if len(args) == 0 {
		if number {
			return message.Argument{}, fmt.Errorf("--number needs an argument")
		}
		return message.None(), nil
	}
	if !number {
		return message.Text(args[0]), nil
	}
	n, ok := parseFinite(args[0])
	if !ok {
		return message.Argument{}, fmt.Errorf("argument %q is not a finite number", args[0])
	}
	return message.Number(n), nil
}
