package dsp

import (
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// DefaultSummaryFFT is the frame size Summarize uses for the averaged
// spectrum.
const DefaultSummaryFFT = 4096

// Summary describes one channel of a capture.
type Summary struct {
	MeanPowerDBFS  float64
	PeakPowerDBFS  float64
	NoiseFloorDBFS float64
	DCOffset       float64
	PeakOffsetHz   float64
	PeakDBFS       float64
}

// SNR is the strongest bin above the median bin, in dB.
func (s Summary) SNR() float64 { return s.PeakDBFS - s.NoiseFloorDBFS }

// Summarize measures the power levels of samples and locates the strongest
// spectral component relative to the tuned center, for a capture taken at
// sampleRate.
func Summarize(samples []complex64, sampleRate float64) Summary {
	if len(samples) == 0 {
		return Summary{
			MeanPowerDBFS:  DB(0),
			PeakPowerDBFS:  DB(0),
			NoiseFloorDBFS: DB(0),
			PeakDBFS:       DB(0),
		}
	}

	var sum complex128
	var energy, peak float64
	for _, v := range samples {
		c := complex128(v)
		sum += c
		p := real(c)*real(c) + imag(c)*imag(c)
		energy += p
		peak = math.Max(peak, p)
	}
	n := float64(len(samples))

	size := min(DefaultSummaryFFT, len(samples))
	spectrum := FFTShift(averagePower(NewPlan(size), samples))
	peakBin := 0
	for i, v := range spectrum {
		if v > spectrum[peakBin] {
			peakBin = i
		}
	}
	sorted := append([]float64(nil), spectrum...)
	sort.Float64s(sorted)
	median := stat.Quantile(0.5, stat.Empirical, sorted, nil)

	binHz := sampleRate / float64(size)
	return Summary{
		MeanPowerDBFS:  DB(energy / n),
		PeakPowerDBFS:  DB(peak),
		NoiseFloorDBFS: DB(median),
		DCOffset:       cmplx.Abs(sum / complex(n, 0)),
		PeakOffsetHz:   float64(peakBin-size/2) * binHz,
		PeakDBFS:       DB(spectrum[peakBin]),
	}
}
