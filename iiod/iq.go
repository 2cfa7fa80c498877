package iiod

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Mask is the channel enable bitmap sent with OPEN.
type Mask []uint32

// NewMask returns a mask able to hold n channels.
func NewMask(n int) Mask {
	words := (n + 31) / 32
	if words == 0 {
		words = 1
	}
	return make(Mask, words)
}

// Set enables scan index i.
func (m Mask) Set(i int) {
	m[i/32] |= 1 << uint(i%32)
}

// IsSet reports whether scan index i is enabled.
func (m Mask) IsSet(i int) bool {
	if i/32 >= len(m) {
		return false
	}
	return m[i/32]&(1<<uint(i%32)) != 0
}

// Count returns the number of enabled channels.
func (m Mask) Count() int {
	n := 0
	for i := 0; i < len(m)*32; i++ {
		if m.IsSet(i) {
			n++
		}
	}
	return n
}

// String renders the mask as iiod expects: 8 hex digits per word, most
// significant word first.
func (m Mask) String() string {
	var b strings.Builder
	for i := len(m) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "%08x", m[i])
	}
	return b.String()
}

// DecodeIQ splits a buffer of interleaved 16-bit scan samples into complex
// streams. Each frame holds scans elements; consecutive pairs form the I and
// Q of one stream. Values are sign extended from f.Bits and scaled to [-1, 1).
func DecodeIQ(raw []byte, scans int, f Format) ([][]complex64, error) {
	if f.Storage != 16 {
		return nil, fmt.Errorf("decode iq: unsupported storage width %d", f.Storage)
	}
	if scans <= 0 || scans%2 != 0 {
		return nil, fmt.Errorf("decode iq: need an even number of scan elements, got %d", scans)
	}
	frame := scans * 2
	if len(raw)%frame != 0 {
		return nil, fmt.Errorf("decode iq: %d bytes is not a multiple of the %d byte frame", len(raw), frame)
	}
	var order binary.ByteOrder = binary.BigEndian
	if f.LittleEndian {
		order = binary.LittleEndian
	}
	n := len(raw) / frame
	streams := make([][]complex64, scans/2)
	for s := range streams {
		streams[s] = make([]complex64, n)
	}
	scale := float32(1) / float32(int(1)<<(f.Bits-1))
	for i := 0; i < n; i++ {
		off := i * frame
		for s := range streams {
			re := decodeWord(order.Uint16(raw[off+4*s:]), f)
			im := decodeWord(order.Uint16(raw[off+4*s+2:]), f)
			streams[s][i] = complex(float32(re)*scale, float32(im)*scale)
		}
	}
	return streams, nil
}

func decodeWord(w uint16, f Format) int32 {
	v := uint32(w) >> uint(f.Shift)
	if f.Bits < 32 {
		v &= (1 << uint(f.Bits)) - 1
	}
	if f.Signed && v&(1<<uint(f.Bits-1)) != 0 {
		return int32(v) - int32(1)<<uint(f.Bits)
	}
	return int32(v)
}
