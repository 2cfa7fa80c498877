package sdr

import (
	"context"
	"errors"
	"math/cmplx"
	"testing"
)

func TestMockSDRShapeAndDeterminism(t *testing.T) {
	cfg := Config{SampleRate: 4e6, CenterFreq: 2.46e9, Gain: 50, Channels: []int{0, 1}, BufferSize: 256, ToneOffset: 100e3, Seed: 7}

	read := func() [][]complex64 {
		m := NewMock()
		if err := m.Init(context.Background(), cfg); err != nil {
			t.Fatalf("init failed: %v", err)
		}
		blocks, err := m.RX(context.Background())
		if err != nil {
			t.Fatalf("rx failed: %v", err)
		}
		return blocks
	}
	a, b := read(), read()
	if len(a) != 2 || len(a[0]) != 256 || len(a[1]) != 256 {
		t.Fatalf("unexpected shape %d x %d", len(a), len(a[0]))
	}
	for i := range a[0] {
		if a[0][i] != b[0][i] || a[1][i] != b[1][i] {
			t.Fatalf("same seed produced different sample at %d", i)
		}
	}
	if mag := cmplx.Abs(complex128(a[0][10])); mag < 0.45 || mag > 0.55 {
		t.Fatalf("unexpected tone magnitude %f", mag)
	}
	if a[0][0] == a[1][0] {
		t.Fatalf("channels should be phase rotated")
	}
}

func TestMockSDRPhaseContinuesAcrossBlocks(t *testing.T) {
	m := NewMock()
	cfg := Config{SampleRate: 1e6, Channels: []int{0}, BufferSize: 8, ToneOffset: 125e3}
	if err := m.Init(context.Background(), cfg); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	first, _ := m.RX(context.Background())
	second, _ := m.RX(context.Background())
	// 125 kHz at 1 MS/s repeats every 8 samples.
	if d := cmplx.Abs(complex128(first[0][0] - second[0][0])); d > 0.01 {
		t.Fatalf("tone phase not continuous across blocks: %v vs %v", first[0][0], second[0][0])
	}
	if m.Reads() != 2 {
		t.Fatalf("expected 2 reads, got %d", m.Reads())
	}
}

func TestMockSDRRecordsConfig(t *testing.T) {
	m := NewMock()
	chans := []int{3}
	if err := m.Init(context.Background(), Config{SampleRate: 2e6, CenterFreq: 1e9, Gain: 20, Channels: chans}); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	chans[0] = 9
	got := m.LastConfig()
	if got.CenterFreq != 1e9 || got.Gain != 20 || got.Channels[0] != 3 {
		t.Fatalf("unexpected recorded config %+v", got)
	}
}

func TestMockSDRErrors(t *testing.T) {
	m := NewMock()
	if _, err := m.RX(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := m.Init(context.Background(), Config{SampleRate: 1e6}); !errors.Is(err, ErrUnsupportedChannel) {
		t.Fatalf("expected ErrUnsupportedChannel, got %v", err)
	}
	if err := m.Init(context.Background(), Config{Channels: []int{0}}); err == nil {
		t.Fatalf("expected error for zero sample rate")
	}
	if err := m.Init(context.Background(), Config{SampleRate: 1e6, Channels: []int{0}}); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.RX(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
