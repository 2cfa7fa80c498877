package capture

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// FormatComplex renders v in NumPy's complex notation, e.g. "0.25-1j" or
// "-0.0012+0.5j". Each part uses the shortest float32 round-trip form, so
// the text parses back to the exact stored value.
func FormatComplex(v complex64) string {
	re, im := real(v), imag(v)
	sign := "+"
	if im < 0 || (im == 0 && math.Signbit(float64(im))) {
		sign = "-"
		im = -im
	}
	return formatFloat32(re) + sign + formatFloat32(im) + "j"
}

func formatFloat32(f float32) string {
	switch {
	case math.IsNaN(float64(f)):
		return "nan"
	case math.IsInf(float64(f), 1):
		return "inf"
	case math.IsInf(float64(f), -1):
		return "-inf"
	}
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}

// FormatPreview writes preview as a bracketed (channels, n) array, one row
// per channel. Only the notation follows NumPy: values are not padded to a
// shared precision.
func FormatPreview(w io.Writer, preview [][]complex64) error {
	var b strings.Builder
	b.WriteByte('[')
	for i, row := range preview {
		if i > 0 {
			b.WriteString("\n ")
		}
		b.WriteByte('[')
		for j, v := range row {
			if j > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(FormatComplex(v))
		}
		b.WriteByte(']')
	}
	b.WriteString("]\n")
	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write preview: %w", err)
	}
	return nil
}
