package spectrogram

import (
	"errors"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func tone(n int, cyclesPerSample float64) []complex64 {
	out := make([]complex64, n)
	for i := range out {
		phase := 2 * math.Pi * cyclesPerSample * float64(i)
		out[i] = complex64(complex(0.5*math.Cos(phase), 0.5*math.Sin(phase)))
	}
	return out
}

func TestRowsAveragesIntoMaxRows(t *testing.T) {
	tests := []struct {
		samples, fft, maxRows, want int
	}{
		{samples: 256 * 10, fft: 256, maxRows: 512, want: 10},
		{samples: 256 * 10, fft: 256, maxRows: 5, want: 5},
		{samples: 256 * 10, fft: 256, maxRows: 4, want: 4},
		{samples: 256*10 + 100, fft: 256, maxRows: 3, want: 3},
	}
	for _, tc := range tests {
		rows, err := Rows(tone(tc.samples, 0.25), Options{FFTSize: tc.fft, MaxRows: tc.maxRows})
		if err != nil {
			t.Fatalf("Rows returned error: %v", err)
		}
		if len(rows) != tc.want {
			t.Fatalf("%d samples, fft %d, max %d: got %d rows, want %d", tc.samples, tc.fft, tc.maxRows, len(rows), tc.want)
		}
		for _, row := range rows {
			if len(row) != tc.fft {
				t.Fatalf("row width %d, want %d", len(row), tc.fft)
			}
		}
	}
}

func TestRowsPeakIsShifted(t *testing.T) {
	rows, err := Rows(tone(1024, 0.25), Options{FFTSize: 256})
	if err != nil {
		t.Fatalf("Rows returned error: %v", err)
	}
	peak := 0
	for i, v := range rows[0] {
		if v > rows[0][peak] {
			peak = i
		}
	}
	// +fs/4 lands three quarters of the way across.
	if peak != 192 {
		t.Fatalf("expected peak at bin 192, got %d", peak)
	}
}

func TestRowsTooFewSamples(t *testing.T) {
	if _, err := Rows(tone(100, 0.1), Options{FFTSize: 256}); !errors.Is(err, ErrTooFewSamples) {
		t.Fatalf("expected ErrTooFewSamples, got %v", err)
	}
}

func TestRenderDimensions(t *testing.T) {
	img, err := Render(tone(256*20, 0.1), Options{FFTSize: 256, MaxRows: 8, CenterFreq: 2.46e9, SampleRate: 4e6})
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 256+2*sideBorder || b.Dy() != 7+topBorder+bottomBorder {
		t.Fatalf("unexpected image size %dx%d", b.Dx(), b.Dy())
	}
}

func TestWritePNG(t *testing.T) {
	img, err := Render(tone(4096, 0.1), Options{FFTSize: 512, SampleRate: 1e6, CenterFreq: 100e6})
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	path := filepath.Join(t.TempDir(), "out", "waterfall.png")
	if err := WritePNG(path, img); err != nil {
		t.Fatalf("WritePNG returned error: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open png: %v", err)
	}
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if cfg.Width != img.Bounds().Dx() || cfg.Height != img.Bounds().Dy() {
		t.Fatalf("decoded %dx%d", cfg.Width, cfg.Height)
	}
}

func TestGradientEnds(t *testing.T) {
	cm := newColorMap(-100, 0)
	if got := cm.at(-200); got != stops[0] {
		t.Fatalf("below range should clamp to first stop, got %v", got)
	}
	if got := cm.at(10); got != stops[len(stops)-1] {
		t.Fatalf("above range should clamp to last stop, got %v", got)
	}
	if got := gradient(0.25); got != (color.RGBA{0x1b, 0x0c, 0x7a, 0xff}) {
		t.Fatalf("quarter point should hit the second stop, got %v", got)
	}
}

func TestColorMapClampsOutOfRange(t *testing.T) {
	cm := newColorMap(-100, 0)
	low := cm.at(-100)
	for _, db := range []float64{math.NaN(), math.Inf(-1), -500} {
		if got := cm.at(db); got != low {
			t.Fatalf("at(%v) = %v, want %v", db, got, low)
		}
	}
	if got := cm.at(math.Inf(1)); got != cm.at(0) {
		t.Fatalf("+Inf should map to the top color, got %v", got)
	}
}
