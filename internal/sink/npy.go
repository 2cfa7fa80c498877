package sink

import (
	"fmt"
	"strings"

	"github.com/kshedden/gonpy"

	"github.com/cadeo111/iqcapture/internal/capture"
)

// NPY writes a NumPy .npy file holding a complex64 array of shape
// (channels, samples) in C order, loadable with numpy.load.
type NPY struct{}

func (NPY) Name() string { return "npy" }

func (NPY) Write(path string, c *capture.Capture) ([]string, error) {
	if !strings.HasSuffix(path, ".npy") {
		path += ".npy"
	}
	rows := len(c.Samples)
	if rows == 0 {
		return nil, fmt.Errorf("write npy: capture has no channels")
	}
	cols := len(c.Samples[0])
	flat := make([]complex64, 0, rows*cols)
	for i, s := range c.Samples {
		if len(s) != cols {
			return nil, fmt.Errorf("write npy: channel %d has %d samples, want %d", i, len(s), cols)
		}
		flat = append(flat, s...)
	}

	err := writeFileAtomic(path, func(tmp string) error {
		w, err := gonpy.NewFileWriter(tmp)
		if err != nil {
			return fmt.Errorf("create npy writer: %w", err)
		}
		w.Shape = []int{rows, cols}
		// WriteComplex64 closes the file.
		if err := w.WriteComplex64(flat); err != nil {
			return fmt.Errorf("write npy data: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return []string{path}, nil
}

// Array is a complex array read back from an .npy file.
type Array struct {
	Shape []int
	Dtype string
	Data  []complex64
}

// IsComplex reports whether the stored dtype is a complex type.
func (a *Array) IsComplex() bool {
	return strings.HasPrefix(strings.TrimLeft(a.Dtype, "<>|="), "c")
}

// Rows splits a two dimensional array into its rows.
func (a *Array) Rows() [][]complex64 {
	if len(a.Shape) != 2 {
		return [][]complex64{a.Data}
	}
	out := make([][]complex64, a.Shape[0])
	for i := range out {
		out[i] = a.Data[i*a.Shape[1] : (i+1)*a.Shape[1]]
	}
	return out
}

// LoadNPY reads a complex64 .npy file.
func LoadNPY(path string) (*Array, error) {
	r, err := gonpy.NewFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("open npy %s: %w", path, err)
	}
	a := &Array{Shape: append([]int(nil), r.Shape...), Dtype: r.Dtype}
	if !a.IsComplex() {
		return nil, fmt.Errorf("npy %s: dtype %q is not complex", path, r.Dtype)
	}
	if a.Data, err = r.GetComplex64(); err != nil {
		return nil, fmt.Errorf("read npy %s: %w", path, err)
	}
	return a, nil
}
