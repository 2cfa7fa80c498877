// Package capture acquires a fixed number of IQ samples from a receiver.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cadeo111/iqcapture/internal/logging"
	"github.com/cadeo111/iqcapture/internal/sdr"
	"github.com/cadeo111/iqcapture/internal/telemetry"
)

// PreviewLen is the number of samples echoed after a capture.
const PreviewLen = 10

var (
	ErrInvalidRequest  = errors.New("invalid capture request")
	ErrChannelMismatch = errors.New("receiver returned wrong number of channels")
	ErrShortBlock      = errors.New("receiver returned channels of unequal length")
	ErrStalled         = errors.New("receiver stopped delivering samples")
)

// Request describes one acquisition: NumSamples samples per channel at
// CenterFreq and SampleRate with Gain applied to every channel.
type Request struct {
	NumSamples int     `json:"num_samples"`
	CenterFreq float64 `json:"center_freq"`
	SampleRate float64 `json:"sample_rate"`
	Gain       float64 `json:"gain"`
	Channels   []int   `json:"channels"`
}

// Validate checks the request before any hardware is touched.
func (r Request) Validate() error {
	switch {
	case r.NumSamples <= 0:
		return fmt.Errorf("%w: num_samples must be > 0, got %d", ErrInvalidRequest, r.NumSamples)
	case r.CenterFreq <= 0:
		return fmt.Errorf("%w: center_freq must be > 0, got %g", ErrInvalidRequest, r.CenterFreq)
	case r.SampleRate <= 0:
		return fmt.Errorf("%w: sample_rate must be > 0, got %g", ErrInvalidRequest, r.SampleRate)
	case len(r.Channels) == 0:
		return fmt.Errorf("%w: at least one channel is required", ErrInvalidRequest)
	}
	seen := make(map[int]bool, len(r.Channels))
	for _, ch := range r.Channels {
		if ch < 0 {
			return fmt.Errorf("%w: channel %d is negative", ErrInvalidRequest, ch)
		}
		if seen[ch] {
			return fmt.Errorf("%w: channel %d listed twice", ErrInvalidRequest, ch)
		}
		seen[ch] = true
	}
	return nil
}

// Capture is a completed acquisition. Samples holds one slice per requested
// channel, in request order, each exactly NumSamples long.
type Capture struct {
	Request
	Device     string
	StartedAt  time.Time
	FinishedAt time.Time
	Samples    [][]complex64
}

// Duration is the wall time spent receiving.
func (c *Capture) Duration() time.Duration { return c.FinishedAt.Sub(c.StartedAt) }

// Preview returns the first n samples of each channel, or all of them when
// the capture is shorter.
func (c *Capture) Preview(n int) [][]complex64 {
	out := make([][]complex64, len(c.Samples))
	for i, s := range c.Samples {
		k := min(n, len(s))
		out[i] = append([]complex64(nil), s[:k]...)
	}
	return out
}

type options struct {
	warmup     int
	maxEmpty   int
	bufferSize int
	reporter   telemetry.Reporter
	logger     logging.Logger
	base       sdr.Config
	now        func() time.Time
}

// Option tunes Acquire.
type Option func(*options)

// WithWarmupBuffers discards the first n blocks after tuning.
func WithWarmupBuffers(n int) Option { return func(o *options) { o.warmup = n } }

// WithMaxEmptyReads sets how many consecutive empty blocks are tolerated.
func WithMaxEmptyReads(n int) Option { return func(o *options) { o.maxEmpty = n } }

// WithBufferSize sets the receiver block size in samples per channel.
func WithBufferSize(n int) Option { return func(o *options) { o.bufferSize = n } }

// WithReporter receives progress events.
func WithReporter(r telemetry.Reporter) Option { return func(o *options) { o.reporter = r } }

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option { return func(o *options) { o.logger = l } }

// WithDeviceConfig supplies backend specific settings (URI, SSH fallback,
// mock tone). Tuning fields are always taken from the Request.
func WithDeviceConfig(cfg sdr.Config) Option { return func(o *options) { o.base = cfg } }

// Acquire tunes rx to req and blocks until req.NumSamples samples per channel
// have been received, ctx is done, or the receiver fails. The receiver is
// left open; the caller closes it.
func Acquire(ctx context.Context, rx sdr.Receiver, req Request, opts ...Option) (*Capture, error) {
	o := options{
		maxEmpty: 8,
		reporter: telemetry.Nop{},
		logger:   logging.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req.Channels = append([]int(nil), req.Channels...)

	cfg := o.base
	cfg.CenterFreq = req.CenterFreq
	cfg.SampleRate = req.SampleRate
	cfg.Gain = req.Gain
	cfg.Channels = append([]int(nil), req.Channels...)
	if o.bufferSize > 0 {
		cfg.BufferSize = o.bufferSize
	}
	if err := rx.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("init %s: %w", rx.Name(), err)
	}
	log := o.logger.With(logging.String("device", rx.Name()))

	for i := 0; i < o.warmup; i++ {
		if _, err := rx.RX(ctx); err != nil {
			return nil, fmt.Errorf("warm-up read %d: %w", i+1, err)
		}
	}
	if o.warmup > 0 {
		log.Debug("discarded warm-up buffers", logging.Int("buffers", o.warmup))
	}

	c := &Capture{
		Request:   req,
		Device:    rx.Name(),
		StartedAt: o.now(),
		Samples:   make([][]complex64, len(req.Channels)),
	}
	for i := range c.Samples {
		c.Samples[i] = make([]complex64, req.NumSamples)
	}

	received, empty := 0, 0
	for received < req.NumSamples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		blocks, err := rx.RX(ctx)
		if err != nil {
			return nil, fmt.Errorf("receive after %d samples: %w", received, err)
		}
		n, err := blockLen(blocks, len(req.Channels))
		if err != nil {
			return nil, err
		}
		if n == 0 {
			empty++
			if empty > o.maxEmpty {
				return nil, fmt.Errorf("%w: %d empty reads after %d samples", ErrStalled, empty, received)
			}
			continue
		}
		empty = 0
		take := min(n, req.NumSamples-received)
		for i, b := range blocks {
			copy(c.Samples[i][received:], b[:take])
		}
		received += take
		o.reporter.Progress(received, req.NumSamples)
	}
	c.FinishedAt = o.now()
	o.reporter.Done(received, c.Duration())
	return c, nil
}

func blockLen(blocks [][]complex64, want int) (int, error) {
	if len(blocks) != want {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrChannelMismatch, len(blocks), want)
	}
	n := len(blocks[0])
	for i, b := range blocks[1:] {
		if len(b) != n {
			return 0, fmt.Errorf("%w: channel %d has %d samples, channel 0 has %d", ErrShortBlock, i+1, len(b), n)
		}
	}
	return n, nil
}
