// Package config loads the host settings file. Settings are TOML; any key
// left out keeps its default.
package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/wippyai/unity-host/errors"
)

var (
	ErrFailedToLoadConfig     = stderrors.New("failed to load config")
	ErrFailedToValidateConfig = stderrors.New("failed to validate config")
)

// Config is the parsed settings file.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Storage  StorageConfig  `toml:"storage"`
	Graphics GraphicsConfig `toml:"graphics"`
	Audio    AudioConfig    `toml:"audio"`
	Log      LogConfig      `toml:"log"`
	Bridge   BridgeConfig   `toml:"bridge"`
}

type EngineConfig struct {
	// Path of the engine binary; .br and .gz files are decompressed.
	Path string `toml:"path"`
	// Data is an optional UnityWebData1.0 package extracted before start.
	Data             string            `toml:"data"`
	Args             []string          `toml:"args"`
	Env              map[string]string `toml:"env"`
	MemoryLimitPages uint32            `toml:"memory_limit_pages"`
	// SyncTimeout bounds the wait for run dependencies, e.g. "30s".
	SyncTimeout string `toml:"sync_timeout"`
}

type StorageConfig struct {
	// Path is the directory holding the SQLite database. Empty keeps the
	// store in memory.
	Path  string `toml:"path"`
	Name  string `toml:"name"`
	Mount string `toml:"mount"`
	// Root is the host directory backing the virtual filesystem. Empty
	// uses a temporary directory.
	Root string `toml:"root"`
}

type GraphicsConfig struct {
	CanvasID     string `toml:"canvas_id"`
	Width        int    `toml:"width"`
	Height       int    `toml:"height"`
	MajorVersion int    `toml:"major_version"`
	Alpha        bool   `toml:"alpha"`
	Depth        bool   `toml:"depth"`
	Stencil      bool   `toml:"stencil"`
	Antialias    bool   `toml:"antialias"`
	// HeadlessFail forces context creation to fail.
	HeadlessFail bool `toml:"headless_fail"`
}

type AudioConfig struct {
	SampleRate  int    `toml:"sample_rate"`
	LatencyHint string `toml:"latency_hint"`
}

type LogConfig struct {
	Level       string `toml:"level"`
	Format      string `toml:"format"`
	Development bool   `toml:"development"`
}

type BridgeConfig struct {
	// Listen is the bridge address; empty disables it.
	Listen string `toml:"listen"`
	Path   string `toml:"path"`
}

// Default returns the settings used for keys the file leaves out.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			SyncTimeout: "30s",
		},
		Storage: StorageConfig{
			Name:  "idbfs",
			Mount: "/idbfs",
		},
		Graphics: GraphicsConfig{
			CanvasID:     "#unity-canvas",
			Width:        960,
			Height:       600,
			MajorVersion: 2,
			Alpha:        true,
			Depth:        true,
			Stencil:      true,
			Antialias:    true,
		},
		Audio: AudioConfig{
			SampleRate:  48000,
			LatencyHint: "interactive",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Bridge: BridgeConfig{
			Path: "/ws",
		},
	}
}

// NewConfig loads and validates a .toml settings file. Relative paths in
// the file are resolved against the file's directory.
func NewConfig(path string) (*Config, error) {
	if ext := filepath.Ext(path); ext != ".toml" {
		return nil, fmt.Errorf("%w: unsupported config format %q, only .toml is supported", ErrFailedToLoadConfig, ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %w", ErrFailedToLoadConfig, errors.NotFound(errors.PhaseConfig, "config file", path))
		}
		return nil, fmt.Errorf("%w: %w", ErrFailedToLoadConfig, err)
	}
	cfg, err := FromBytes(data)
	if err != nil {
		return nil, err
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// FromBytes parses and validates TOML settings. Unknown keys are rejected.
func FromBytes(data []byte) (*Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToLoadConfig,
			errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse toml"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToValidateConfig, err)
	}
	return cfg, nil
}

func (c *Config) resolvePaths(base string) {
	for _, p := range []*string{&c.Engine.Path, &c.Engine.Data, &c.Storage.Path, &c.Storage.Root} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

// String renders the settings back as TOML.
func (c *Config) String() string {
	out, err := toml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return string(out)
}
