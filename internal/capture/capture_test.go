package capture

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/cadeo111/iqcapture/internal/sdr"
)

// scriptedReceiver records Init and serves the queued blocks in order.
type scriptedReceiver struct {
	cfg    sdr.Config
	inits  int
	blocks [][][]complex64
	reads  int
	err    error
}

func (s *scriptedReceiver) Init(_ context.Context, cfg sdr.Config) error {
	s.cfg = cfg
	s.inits++
	return nil
}

func (s *scriptedReceiver) RX(context.Context) ([][]complex64, error) {
	if s.reads >= len(s.blocks) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, errors.New("script exhausted")
	}
	b := s.blocks[s.reads]
	s.reads++
	return b, nil
}

func (s *scriptedReceiver) Name() string { return "scripted" }
func (s *scriptedReceiver) Close() error { return nil }

func ramp(start, n int) []complex64 {
	out := make([]complex64, n)
	for i := range out {
		out[i] = complex(float32(start+i), float32(-(start + i)))
	}
	return out
}

func TestAcquirePassesRequestToReceiver(t *testing.T) {
	m := sdr.NewMock()
	req := Request{NumSamples: 20_000, CenterFreq: 2460e6, SampleRate: 4e6, Gain: 50, Channels: []int{0}}
	c, err := Acquire(context.Background(), m, req, WithBufferSize(4096), WithDeviceConfig(sdr.Config{Seed: 3, ToneOffset: 1e5}))
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	got := m.LastConfig()
	if got.CenterFreq != 2460e6 || got.SampleRate != 4e6 || got.Gain != 50 || !reflect.DeepEqual(got.Channels, []int{0}) {
		t.Fatalf("receiver tuned with %+v", got)
	}
	if got.BufferSize != 4096 || got.Seed != 3 || got.ToneOffset != 1e5 {
		t.Fatalf("device settings not forwarded: %+v", got)
	}
	if len(c.Samples) != 1 || len(c.Samples[0]) != req.NumSamples {
		t.Fatalf("unexpected capture shape %d x %d", len(c.Samples), len(c.Samples[0]))
	}
	// 20000 samples in 4096 sample blocks: four full blocks plus a truncated fifth.
	if m.Reads() != 5 {
		t.Fatalf("expected 5 reads, got %d", m.Reads())
	}
}

func TestAcquireTruncatesFinalBlock(t *testing.T) {
	rx := &scriptedReceiver{blocks: [][][]complex64{
		{ramp(0, 4), ramp(100, 4)},
		{ramp(4, 4), ramp(104, 4)},
	}}
	c, err := Acquire(context.Background(), rx, Request{NumSamples: 6, CenterFreq: 1e9, SampleRate: 1e6, Channels: []int{1, 0}})
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if !reflect.DeepEqual(c.Samples[0], ramp(0, 6)) || !reflect.DeepEqual(c.Samples[1], ramp(100, 6)) {
		t.Fatalf("unexpected samples %v", c.Samples)
	}
	if !reflect.DeepEqual(rx.cfg.Channels, []int{1, 0}) {
		t.Fatalf("channel order not preserved: %v", rx.cfg.Channels)
	}
}

func TestAcquireDiscardsWarmup(t *testing.T) {
	rx := &scriptedReceiver{blocks: [][][]complex64{
		{ramp(900, 4)},
		{ramp(950, 4)},
		{ramp(0, 4)},
	}}
	c, err := Acquire(context.Background(), rx, Request{NumSamples: 4, CenterFreq: 1e9, SampleRate: 1e6, Channels: []int{0}}, WithWarmupBuffers(2))
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if !reflect.DeepEqual(c.Samples[0], ramp(0, 4)) {
		t.Fatalf("warm-up data leaked into capture: %v", c.Samples[0])
	}
}

func TestAcquireDetectsStall(t *testing.T) {
	rx := &scriptedReceiver{}
	for i := 0; i < 5; i++ {
		rx.blocks = append(rx.blocks, [][]complex64{{}})
	}
	_, err := Acquire(context.Background(), rx, Request{NumSamples: 4, CenterFreq: 1e9, SampleRate: 1e6, Channels: []int{0}}, WithMaxEmptyReads(3))
	if !errors.Is(err, ErrStalled) {
		t.Fatalf("expected ErrStalled, got %v", err)
	}
}

func TestAcquireRejectsBadBlocks(t *testing.T) {
	req := Request{NumSamples: 4, CenterFreq: 1e9, SampleRate: 1e6, Channels: []int{0, 1}}
	rx := &scriptedReceiver{blocks: [][][]complex64{{ramp(0, 4)}}}
	if _, err := Acquire(context.Background(), rx, req); !errors.Is(err, ErrChannelMismatch) {
		t.Fatalf("expected ErrChannelMismatch, got %v", err)
	}
	rx = &scriptedReceiver{blocks: [][][]complex64{{ramp(0, 4), ramp(0, 3)}}}
	if _, err := Acquire(context.Background(), rx, req); !errors.Is(err, ErrShortBlock) {
		t.Fatalf("expected ErrShortBlock, got %v", err)
	}
}

func TestAcquireWrapsReceiverError(t *testing.T) {
	boom := errors.New("usb went away")
	rx := &scriptedReceiver{err: boom}
	_, err := Acquire(context.Background(), rx, Request{NumSamples: 4, CenterFreq: 1e9, SampleRate: 1e6, Channels: []int{0}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped receiver error, got %v", err)
	}
}

func TestAcquireValidatesBeforeInit(t *testing.T) {
	rx := &scriptedReceiver{}
	bad := []Request{
		{NumSamples: 0, CenterFreq: 1e9, SampleRate: 1e6, Channels: []int{0}},
		{NumSamples: 1, CenterFreq: 0, SampleRate: 1e6, Channels: []int{0}},
		{NumSamples: 1, CenterFreq: 1e9, SampleRate: 0, Channels: []int{0}},
		{NumSamples: 1, CenterFreq: 1e9, SampleRate: 1e6},
		{NumSamples: 1, CenterFreq: 1e9, SampleRate: 1e6, Channels: []int{0, 0}},
		{NumSamples: 1, CenterFreq: 1e9, SampleRate: 1e6, Channels: []int{-1}},
	}
	for _, req := range bad {
		if _, err := Acquire(context.Background(), rx, req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest for %+v, got %v", req, err)
		}
	}
	if rx.inits != 0 {
		t.Fatalf("receiver initialized for invalid request")
	}
}

func TestAcquireHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Acquire(ctx, sdr.NewMock(), Request{NumSamples: 1 << 20, CenterFreq: 1e9, SampleRate: 1e6, Channels: []int{0}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type progressRecorder struct {
	progress []int
	done     int
}

func (p *progressRecorder) Progress(received, _ int)        { p.progress = append(p.progress, received) }
func (p *progressRecorder) Done(total int, _ time.Duration) { p.done = total }

func TestAcquireReportsProgress(t *testing.T) {
	rec := &progressRecorder{}
	rx := &scriptedReceiver{blocks: [][][]complex64{{ramp(0, 4)}, {ramp(4, 4)}, {ramp(8, 4)}}}
	_, err := Acquire(context.Background(), rx, Request{NumSamples: 10, CenterFreq: 1e9, SampleRate: 1e6, Channels: []int{0}}, WithReporter(rec))
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if !reflect.DeepEqual(rec.progress, []int{4, 8, 10}) || rec.done != 10 {
		t.Fatalf("unexpected progress %v done %d", rec.progress, rec.done)
	}
}

func TestPreview(t *testing.T) {
	c := &Capture{Samples: [][]complex64{ramp(0, 20), ramp(100, 3)}}
	p := c.Preview(PreviewLen)
	if len(p[0]) != 10 || len(p[1]) != 3 {
		t.Fatalf("unexpected preview lengths %d %d", len(p[0]), len(p[1]))
	}
	p[0][0] = 42
	if c.Samples[0][0] == 42 {
		t.Fatalf("preview must not alias the capture buffer")
	}
}

func TestFormatPreview(t *testing.T) {
	var buf bytes.Buffer
	err := FormatPreview(&buf, [][]complex64{
		{complex(0.25, -1), complex(-0.0012, 0.5)},
		{complex(0, 0)},
	})
	if err != nil {
		t.Fatalf("FormatPreview returned error: %v", err)
	}
	want := "[[0.25-1j -0.0012+0.5j]\n [0+0j]]\n"
	if buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}
}
