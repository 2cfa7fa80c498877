package dsp

import (
	"math"
	"reflect"
	"testing"
)

func tone(n int, cyclesPerSample, amp float64) []complex64 {
	out := make([]complex64, n)
	for i := range out {
		phase := 2 * math.Pi * cyclesPerSample * float64(i)
		out[i] = complex64(complex(amp*math.Cos(phase), amp*math.Sin(phase)))
	}
	return out
}

func TestPowerSpectrumPeak(t *testing.T) {
	n := 8
	db := PowerSpectrum(tone(n, 1.0/8, 1), n)
	if len(db) != n {
		t.Fatalf("unexpected length %d", len(db))
	}
	maxIdx := 0
	for i, v := range db {
		if math.IsNaN(v) {
			t.Fatalf("spectrum contains NaN")
		}
		if v > db[maxIdx] {
			maxIdx = i
		}
	}
	expectedIdx := n/2 + 1
	if maxIdx != expectedIdx {
		t.Fatalf("expected peak at %d got %d", expectedIdx, maxIdx)
	}
}

func TestPowerSpectrumFullScale(t *testing.T) {
	db := PowerSpectrum(tone(4096, 0.25, 1), 1024)
	peak := math.Inf(-1)
	for _, v := range db {
		peak = math.Max(peak, v)
	}
	if math.Abs(peak) > 0.01 {
		t.Fatalf("full scale tone should peak at 0 dBFS, got %.3f", peak)
	}
}

func TestPowerSpectrumShortInput(t *testing.T) {
	if got := PowerSpectrum(tone(100, 0.1, 1), 1024); len(got) != 100 {
		t.Fatalf("expected frame shrunk to 100, got %d", len(got))
	}
	if got := PowerSpectrum(nil, 1024); len(got) != 0 {
		t.Fatalf("expected empty spectrum")
	}
}

func TestFFTShift(t *testing.T) {
	if out := FFTShift([]complex128{0, 1, 2, 3}); !reflect.DeepEqual(out, []complex128{2, 3, 0, 1}) {
		t.Fatalf("even shift got %v", out)
	}
	if out := FFTShift([]float64{0, 1, 2, 3, 4}); !reflect.DeepEqual(out, []float64{3, 4, 0, 1, 2}) {
		t.Fatalf("odd shift got %v", out)
	}
}

func TestDBFloor(t *testing.T) {
	if math.Abs(DB(0)+200) > 1e-9 {
		t.Fatalf("expected floor at -200 dB, got %v", DB(0))
	}
	if math.Abs(DB(0.25)-(-6.0206)) > 1e-3 {
		t.Fatalf("unexpected DB(0.25) %v", DB(0.25))
	}
}
