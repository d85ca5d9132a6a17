// Package audio provides the audio context the engine mixes into.
package audio

import (
	"context"
	"sync"
	"time"

	"github.com/wippyai/unity-host/errors"
)

const DefaultSampleRate = 48000

type State string

const (
	StateSuspended State = "suspended"
	StateRunning   State = "running"
	StateClosed    State = "closed"
)

type Options struct {
	LatencyHint string
	SampleRate  int
}

func (o Options) withDefaults() Options {
	if o.SampleRate <= 0 {
		o.SampleRate = DefaultSampleRate
	}
	if o.LatencyHint == "" {
		o.LatencyHint = "interactive"
	}
	return o
}

// Context is a live audio context. Closing is terminal.
type Context interface {
	SampleRate() int
	State() State
	// CurrentTime is the context clock in seconds; it advances only while running.
	CurrentTime() float64
	Resume(ctx context.Context) error
	Suspend(ctx context.Context) error
	Close(ctx context.Context) error
}

// Constructor is the host API that builds audio contexts.
type Constructor func(Options) (Context, error)

// NewHeadless builds a context with a wall-clock driven timeline and no output device.
func NewHeadless(opts Options) (Context, error) {
	opts = opts.withDefaults()
	if opts.SampleRate < 3000 || opts.SampleRate > 768000 {
		return nil, errors.New(errors.PhaseAudio, errors.KindInvalidInput).
			Value(opts.SampleRate).
			Detail("sample rate %d outside [3000, 768000]", opts.SampleRate).
			Build()
	}
	return &headless{
		opts:  opts,
		state: StateSuspended,
		now:   time.Now,
	}, nil
}

type headless struct {
	now     func() time.Time
	started time.Time
	opts    Options
	state   State
	elapsed time.Duration
	mu      sync.Mutex
}

func (h *headless) SampleRate() int { return h.opts.SampleRate }

func (h *headless) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *headless) CurrentTime() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	d := h.elapsed
	if h.state == StateRunning {
		d += h.now().Sub(h.started)
	}
	// quantize to whole frames like a real render quantum clock
	frames := int64(d.Seconds() * float64(h.opts.SampleRate))
	return float64(frames) / float64(h.opts.SampleRate)
}

func (h *headless) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case StateClosed:
		return errors.Closed(errors.PhaseAudio, "audio context")
	case StateSuspended:
		h.started = h.now()
		h.state = StateRunning
	}
	return nil
}

func (h *headless) Suspend(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case StateClosed:
		return errors.Closed(errors.PhaseAudio, "audio context")
	case StateRunning:
		h.elapsed += h.now().Sub(h.started)
		h.state = StateSuspended
	}
	return nil
}

func (h *headless) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateRunning {
		h.elapsed += h.now().Sub(h.started)
	}
	h.state = StateClosed
	return nil
}
