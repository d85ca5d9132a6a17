package loader

import (
	"context"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/unity-host/engine"
)

// Unity's JS_Log_Dump severities.
const (
	logError     = 0
	logAssert    = 1
	logWarning   = 2
	logMessage   = 3
	logException = 4
)

// runtimeHost provides the "env" imports the loader itself can answer:
// the clock, screen geometry from the canvas, and the engine log.
type runtimeHost struct {
	l     *Loader
	start time.Time
}

func (runtimeHost) Namespace() string { return engine.EnvNamespace }

func (h runtimeHost) Register() map[string]any {
	return map[string]any{
		"emscripten_get_now": func() float64 {
			return float64(time.Since(h.start).Nanoseconds()) / 1e6
		},
		"JS_SystemInfo_GetScreenSize": func(_ context.Context, mod api.Module, outWidth, outHeight uint32) {
			mem := mod.Memory()
			if mem == nil {
				return
			}
			mem.WriteFloat64Le(outWidth, float64(h.l.opts.canvas.Width))
			mem.WriteFloat64Le(outHeight, float64(h.l.opts.canvas.Height))
		},
		"JS_Log_Dump": func(_ context.Context, mod api.Module, ptr uint32, severity int32) {
			line := readCString(mod, ptr)
			switch severity {
			case logError, logAssert, logException:
				h.l.module.PrintErr(line)
			case logWarning:
				h.l.logger.Named("engine").Warn(line)
			default:
				h.l.module.Print(line)
			}
		},
	}
}

func readCString(mod api.Module, ptr uint32) string {
	mem := mod.Memory()
	if mem == nil || ptr >= mem.Size() {
		return ""
	}
	view, ok := mem.Read(ptr, mem.Size()-ptr)
	if !ok {
		return ""
	}
	for i, b := range view {
		if b == 0 {
			return string(view[:i])
		}
	}
	return string(view)
}

// registerHost binds the built-in imports, then user functions, which may
// replace them.
func (l *Loader) registerHost(r *engine.HostRegistry) error {
	if err := r.RegisterHost(runtimeHost{l: l, start: time.Now()}); err != nil {
		return err
	}
	for _, h := range l.opts.hosts {
		if err := r.RegisterHost(h); err != nil {
			return err
		}
	}
	for _, hf := range l.opts.hostFuncs {
		if err := r.RegisterFunc(hf.namespace, hf.name, hf.fn); err != nil {
			return err
		}
	}
	l.logger.Debug("host imports registered", zap.Strings("namespaces", r.Namespaces()))
	return nil
}
