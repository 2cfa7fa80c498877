package sink

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/cadeo111/iqcapture/internal/capture"
)

// CF32 writes one raw little-endian float32 I/Q file per channel, named
// <base>_ch<id>.cf32. GNU Radio and inspectrum read this layout directly.
type CF32 struct{}

func (CF32) Name() string { return "cf32" }

func (CF32) Write(path string, c *capture.Capture) ([]string, error) {
	base := stem(path, ".cf32", ".npy")
	paths := make([]string, 0, len(c.Samples))
	for i, s := range c.Samples {
		ch := i
		if i < len(c.Channels) {
			ch = c.Channels[i]
		}
		p := fmt.Sprintf("%s_ch%d.cf32", base, ch)
		err := writeFileAtomic(p, func(tmp string) error {
			return writeInterleaved(tmp, [][]complex64{s})
		})
		if err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// writeInterleaved writes the channels sample by sample: for every index
// each channel's I then Q as float32 little endian.
func writeInterleaved(path string, chans [][]complex64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := bufio.NewWriterSize(f, 1<<20)
	if err := encodeInterleaved(w, chans); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return f.Close()
}

func encodeInterleaved(w io.Writer, chans [][]complex64) error {
	if len(chans) == 0 {
		return nil
	}
	n := len(chans[0])
	var word [8]byte
	for i := 0; i < n; i++ {
		for _, ch := range chans {
			v := ch[i]
			binary.LittleEndian.PutUint32(word[0:4], math.Float32bits(real(v)))
			binary.LittleEndian.PutUint32(word[4:8], math.Float32bits(imag(v)))
			if _, err := w.Write(word[:]); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadCF32 loads a single channel .cf32 file.
func ReadCF32(path string) ([]complex64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("%s: size %d is not a whole number of cf32 samples", path, len(raw))
	}
	out := make([]complex64, len(raw)/8)
	for i := range out {
		re := math.Float32frombits(binary.LittleEndian.Uint32(raw[i*8:]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(raw[i*8+4:]))
		out[i] = complex(re, im)
	}
	return out, nil
}
