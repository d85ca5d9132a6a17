package config

import (
	stderrors "errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/wippyai/unity-host/errors"
	"github.com/wippyai/unity-host/gl"
	"github.com/wippyai/unity-host/storage"
)

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf(format, args...)))
	}

	if c.Engine.SyncTimeout != "" {
		if d, err := time.ParseDuration(c.Engine.SyncTimeout); err != nil {
			invalid("engine.sync_timeout: %v", err)
		} else if d < 0 {
			invalid("engine.sync_timeout must not be negative")
		}
	}
	if c.Engine.MemoryLimitPages > 65536 {
		invalid("engine.memory_limit_pages %d exceeds 65536", c.Engine.MemoryLimitPages)
	}

	if err := storage.ValidateName(c.Storage.Name); err != nil {
		errs = append(errs, fmt.Errorf("storage.name: %w", err))
	}
	if c.Storage.Mount == "" || !path.IsAbs(c.Storage.Mount) || path.Clean(c.Storage.Mount) == "/" {
		invalid("storage.mount must be an absolute path below the root, got %q", c.Storage.Mount)
	}

	if c.Graphics.Width <= 0 || c.Graphics.Height <= 0 {
		invalid("graphics size %dx%d must be positive", c.Graphics.Width, c.Graphics.Height)
	} else if c.Graphics.Width > gl.MaxCanvasSize || c.Graphics.Height > gl.MaxCanvasSize {
		invalid("graphics size %dx%d exceeds %d", c.Graphics.Width, c.Graphics.Height, gl.MaxCanvasSize)
	}
	if c.Graphics.MajorVersion != 1 && c.Graphics.MajorVersion != 2 {
		invalid("graphics.major_version must be 1 or 2, got %d", c.Graphics.MajorVersion)
	}

	if c.Audio.SampleRate < 0 {
		invalid("audio.sample_rate must not be negative")
	}
	switch c.Audio.LatencyHint {
	case "", "interactive", "balanced", "playback":
	default:
		invalid("audio.latency_hint %q is not one of interactive, balanced, playback", c.Audio.LatencyHint)
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		invalid("log.level: %v", err)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		invalid("log.format must be json or console, got %q", c.Log.Format)
	}

	if c.Bridge.Listen != "" && (c.Bridge.Path == "" || c.Bridge.Path[0] != '/') {
		invalid("bridge.path must start with /, got %q", c.Bridge.Path)
	}

	return stderrors.Join(errs...)
}

// SyncTimeoutDuration returns the parsed engine.sync_timeout; zero when
// unset.
func (c *Config) SyncTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Engine.SyncTimeout)
	return d
}
