// Package dsp holds the spectral helpers behind capture summaries and
// spectrograms. Samples are assumed normalized so full scale is 1.0.
package dsp

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// powerFloor keeps log10 finite for empty bins (-200 dBFS).
const powerFloor = 1e-20

// FFTShift returns a copy of data with the zero frequency bin moved to the
// center, matching numpy.fft.fftshift for odd and even lengths.
func FFTShift[T any](data []T) []T {
	n := len(data)
	out := make([]T, 0, n)
	split := (n + 1) / 2
	out = append(out, data[split:]...)
	return append(out, data[:split]...)
}

// DB converts a linear power ratio to decibels.
func DB(p float64) float64 {
	return 10 * math.Log10(math.Max(p, powerFloor))
}

// Plan caches the window and FFT for one frame size. A Plan is not safe for
// concurrent use.
type Plan struct {
	size   int
	win    []float64
	norm   float64
	fft    *fourier.CmplxFFT
	frame  []complex128
	coeffs []complex128
}

// NewPlan prepares a Hamming windowed FFT of size points.
func NewPlan(size int) *Plan {
	win := Hamming(size)
	sum := 0.0
	for _, v := range win {
		sum += v
	}
	return &Plan{
		size: size,
		win:  win,
		norm: 1 / (sum * sum),
		fft:  fourier.NewCmplxFFT(size),
	}
}

// Size is the frame length in samples.
func (p *Plan) Size() int { return p.size }

// Accumulate adds the linear power of one frame to acc in natural FFT order.
// A tone at full scale contributes 1.0 to its bin. frame must be Size long.
func (p *Plan) Accumulate(acc []float64, frame []complex64) {
	p.frame = ApplyWindow(p.frame, frame, p.win)
	if len(p.frame) != p.size {
		return
	}
	p.coeffs = p.fft.Coefficients(p.coeffs, p.frame)
	for i, c := range p.coeffs {
		acc[i] += (real(c)*real(c) + imag(c)*imag(c)) * p.norm
	}
}

// PowerSpectrum averages the power of consecutive non-overlapping frames of
// size samples and returns it fft-shifted in dBFS. Fewer than size samples
// shrink the frame to the sample count.
func PowerSpectrum(samples []complex64, size int) []float64 {
	if len(samples) == 0 || size <= 0 {
		return []float64{}
	}
	size = min(size, len(samples))
	lin := averagePower(NewPlan(size), samples)
	out := make([]float64, len(lin))
	for i, v := range FFTShift(lin) {
		out[i] = DB(v)
	}
	return out
}

func averagePower(p *Plan, samples []complex64) []float64 {
	acc := make([]float64, p.Size())
	frames := len(samples) / p.Size()
	for f := 0; f < frames; f++ {
		p.Accumulate(acc, samples[f*p.Size():(f+1)*p.Size()])
	}
	for i := range acc {
		acc[i] /= float64(frames)
	}
	return acc
}
