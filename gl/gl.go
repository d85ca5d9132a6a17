// Package gl binds graphics contexts for the engine. The host API that
// produces contexts is a Provider; the Factory wraps it, refuses to hand the
// engine a missing context, and tracks contexts by integer handle.
package gl

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/unity-host/errors"
	"github.com/wippyai/unity-host/handle"
)

// Canvas identifies the drawing surface a context renders into.
type Canvas struct {
	ID     string
	Width  int
	Height int
}

// Attributes mirror WebGL context creation attributes.
type Attributes struct {
	PowerPreference       string
	MajorVersion          int
	Alpha                 bool
	Depth                 bool
	Stencil               bool
	Antialias             bool
	PreserveDrawingBuffer bool
}

// DefaultAttributes are the attributes Unity requests for a WebGL 2 build.
func DefaultAttributes() Attributes {
	return Attributes{
		PowerPreference: "default",
		MajorVersion:    2,
		Alpha:           true,
		Depth:           true,
		Stencil:         true,
		Antialias:       true,
	}
}

// Context is a live graphics context.
type Context interface {
	Canvas() Canvas
	Attributes() Attributes
	Viewport(x, y, width, height int)
	Clear(r, g, b, a float32)
	// Frame returns the current framebuffer contents.
	Frame() *image.RGBA
	Lost() bool
	Drop()
}

// Provider is the host API that creates contexts. Returning a nil
// context with a nil error is the host's way of saying "no context".
type Provider interface {
	GetContext(canvas Canvas, attrs Attributes) (Context, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(canvas Canvas, attrs Attributes) (Context, error)

func (f ProviderFunc) GetContext(canvas Canvas, attrs Attributes) (Context, error) {
	return f(canvas, attrs)
}

// Factory creates contexts through a Provider and registers them in a
// handle table.
type Factory struct {
	provider Provider
	table    *handle.Table
	logger   *zap.Logger
	current  handle.Handle
	mu       sync.Mutex
}

func NewFactory(provider Provider, table *handle.Table, logger *zap.Logger) *Factory {
	if table == nil {
		table = handle.NewTable()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{provider: provider, table: table, logger: logger}
}

// CreateContext asks the provider for a context. A provider error or a nil
// context both fail with a graphics context_creation error.
func (f *Factory) CreateContext(canvas Canvas, attrs Attributes) (handle.Handle, error) {
	if f.provider == nil {
		return 0, errors.NotInitialized(errors.PhaseGraphics, "graphics provider")
	}

	ctx, err := f.provider.GetContext(canvas, attrs)
	if err != nil {
		return 0, errors.ContextCreation(errors.PhaseGraphics, "provider failed for canvas "+canvas.ID, err)
	}
	if ctx == nil {
		return 0, errors.ContextCreation(errors.PhaseGraphics, "provider returned no context for canvas "+canvas.ID, nil)
	}

	h := f.table.Insert(handle.TypeGraphicsContext, ctx)
	if h == 0 {
		ctx.Drop()
		return 0, errors.Closed(errors.PhaseGraphics, "context table")
	}

	f.logger.Debug("graphics context created",
		zap.Uint32("handle", uint32(h)),
		zap.String("canvas", canvas.ID),
		zap.Int("major_version", attrs.MajorVersion))
	return h, nil
}

// Context returns the context behind h.
func (f *Factory) Context(h handle.Handle) (Context, bool) {
	v, ok := f.table.GetTyped(h, handle.TypeGraphicsContext)
	if !ok {
		return nil, false
	}
	return v.(Context), true
}

// MakeCurrent selects the context subsequent engine calls render with.
// Handle 0 clears the selection.
func (f *Factory) MakeCurrent(h handle.Handle) bool {
	if h != 0 {
		if _, ok := f.Context(h); !ok {
			return false
		}
	}
	f.mu.Lock()
	f.current = h
	f.mu.Unlock()
	return true
}

// Current returns the handle of the current context, or 0.
func (f *Factory) Current() handle.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Destroy drops the context and clears it if current.
func (f *Factory) Destroy(h handle.Handle) bool {
	if _, ok := f.Context(h); !ok {
		return false
	}
	f.mu.Lock()
	if f.current == h {
		f.current = 0
	}
	f.mu.Unlock()
	_, ok := f.table.Remove(h)
	return ok
}

// MaxCanvasSize is the largest canvas edge, matching the common WebGL
// renderbuffer limit.
const MaxCanvasSize = 16384

// Headless returns a Provider rendering into memory. Canvases larger than
// MaxCanvasSize on either edge are refused.
func Headless() Provider {
	return ProviderFunc(func(canvas Canvas, attrs Attributes) (Context, error) {
		w, h := canvas.Width, canvas.Height
		if w <= 0 || h <= 0 {
			return nil, nil
		}
		if w > MaxCanvasSize || h > MaxCanvasSize {
			return nil, errors.InvalidInput(errors.PhaseGraphics,
				fmt.Sprintf("canvas %dx%d exceeds %d", w, h, MaxCanvasSize))
		}
		return &softwareContext{
			canvas: canvas,
			attrs:  attrs,
			frame:  image.NewRGBA(image.Rect(0, 0, w, h)),
			vp:     image.Rect(0, 0, w, h),
		}, nil
	})
}

// Failing returns a Provider that never produces a context.
func Failing() Provider {
	return ProviderFunc(func(Canvas, Attributes) (Context, error) {
		return nil, nil
	})
}

type softwareContext struct {
	frame  *image.RGBA
	canvas Canvas
	attrs  Attributes
	vp     image.Rectangle
	mu     sync.Mutex
	lost   bool
}

func (c *softwareContext) Canvas() Canvas         { return c.canvas }
func (c *softwareContext) Attributes() Attributes { return c.attrs }

func (c *softwareContext) Viewport(x, y, width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vp = image.Rect(x, y, x+width, y+height).Intersect(c.frame.Bounds())
}

func (c *softwareContext) Clear(r, g, b, a float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lost {
		return
	}
	if !c.attrs.Alpha {
		a = 1
	}
	px := color.RGBA{R: channel(r * a), G: channel(g * a), B: channel(b * a), A: channel(a)}
	for y := c.vp.Min.Y; y < c.vp.Max.Y; y++ {
		for x := c.vp.Min.X; x < c.vp.Max.X; x++ {
			c.frame.SetRGBA(x, y, px)
		}
	}
}

func (c *softwareContext) Frame() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := image.NewRGBA(c.frame.Bounds())
	copy(out.Pix, c.frame.Pix)
	return out
}

func (c *softwareContext) Lost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lost
}

func (c *softwareContext) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lost = true
}

func channel(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	default:
		return uint8(v*255 + 0.5)
	}
}
