// Package spectrogram renders a capture as a waterfall PNG: frequency
// across, time down, power as color.
package spectrogram

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/cadeo111/iqcapture/internal/dsp"
)

const (
	DefaultFFTSize = 1024
	DefaultMaxRows = 512

	topBorder    = 28
	bottomBorder = 24
	sideBorder   = 8
)

var ErrTooFewSamples = errors.New("too few samples for one spectrogram row")

// Options controls rendering. Zero values select the defaults.
type Options struct {
	FFTSize    int
	MaxRows    int
	CenterFreq float64
	SampleRate float64
}

func (o Options) withDefaults() Options {
	if o.FFTSize <= 0 {
		o.FFTSize = DefaultFFTSize
	}
	if o.MaxRows <= 0 {
		o.MaxRows = DefaultMaxRows
	}
	return o
}

// Rows computes the waterfall in dBFS. Consecutive FFT frames are averaged
// so that at most MaxRows rows remain; every row is fft-shifted.
func Rows(samples []complex64, opts Options) ([][]float64, error) {
	opts = opts.withDefaults()
	frames := len(samples) / opts.FFTSize
	if frames == 0 {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrTooFewSamples, len(samples), opts.FFTSize)
	}
	group := (frames + opts.MaxRows - 1) / opts.MaxRows
	plan := dsp.NewPlan(opts.FFTSize)

	var rows [][]float64
	for start := 0; start < frames; start += group {
		end := min(start+group, frames)
		acc := make([]float64, opts.FFTSize)
		for f := start; f < end; f++ {
			plan.Accumulate(acc, samples[f*opts.FFTSize:(f+1)*opts.FFTSize])
		}
		row := dsp.FFTShift(acc)
		for i, v := range row {
			row[i] = dsp.DB(v / float64(end-start))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Render draws the waterfall of samples with a labelled frequency axis.
func Render(samples []complex64, opts Options) (*image.RGBA, error) {
	opts = opts.withDefaults()
	rows, err := Rows(samples, opts)
	if err != nil {
		return nil, err
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, row := range rows {
		for _, v := range row {
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
	}
	cm := newColorMap(lo, hi)

	width, height := opts.FFTSize, len(rows)
	img := image.NewRGBA(image.Rect(0, 0, width+2*sideBorder, height+topBorder+bottomBorder))
	draw.Draw(img, img.Bounds(), image.Black, image.Point{}, draw.Src)
	area := image.Rect(sideBorder, topBorder, sideBorder+width, topBorder+height)
	for y, row := range rows {
		for x, v := range row {
			img.SetRGBA(area.Min.X+x, area.Min.Y+y, cm.at(v))
		}
	}

	ann, err := newAnnotator()
	if err != nil {
		return nil, fmt.Errorf("creating annotator: %w", err)
	}
	defer ann.Close()
	ann.setTarget(img)
	if opts.SampleRate > 0 {
		if err := ann.frequencyScale(img, area, opts.CenterFreq, opts.SampleRate); err != nil {
			return nil, fmt.Errorf("drawing annotations: %w", err)
		}
	}
	info := fmt.Sprintf("%.1f to %.1f dBFS", lo, hi)
	if opts.SampleRate > 0 {
		span := time.Duration(float64(len(samples)) / opts.SampleRate * float64(time.Second))
		info = fmt.Sprintf("center %s, span %s, %s", humanHz(opts.CenterFreq), span.Round(time.Microsecond), info)
	}
	if err := ann.infoBar(img, area, info); err != nil {
		return nil, fmt.Errorf("drawing annotations: %w", err)
	}
	return img, nil
}

// WritePNG encodes img to path, creating the parent directory.
func WritePNG(path string, img image.Image) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if err := png.Encode(out, img); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return nil
}
