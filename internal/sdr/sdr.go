// Package sdr abstracts the radio front ends a capture can be taken from.
package sdr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cadeo111/iqcapture/internal/logging"
)

// DefaultBufferSize is the number of samples per channel fetched by one RX call
// when Config.BufferSize is zero.
const DefaultBufferSize = 1 << 16

var (
	ErrUnknownBackend     = errors.New("unknown sdr backend")
	ErrBackendUnavailable = errors.New("sdr backend not available in this build")
	ErrUnsupportedChannel = errors.New("unsupported receive channel")
	ErrNotInitialized     = errors.New("sdr not initialized")
)

// Config carries the tuning parameters applied by Init.
type Config struct {
	URI        string
	CenterFreq float64 // Hz
	SampleRate float64 // samples per second
	Gain       float64 // dB
	Channels   []int
	BufferSize int // samples per channel per RX call

	// Mock only.
	ToneOffset float64
	Seed       int64

	// Pluto only: sysfs fallback when iiod rejects attribute writes.
	SSH *SSHConfig
}

func (c Config) bufferSize() int {
	if c.BufferSize > 0 {
		return c.BufferSize
	}
	return DefaultBufferSize
}

// Receiver is a tunable multi-channel IQ source.
type Receiver interface {
	// Init tunes the device and prepares streaming.
	Init(ctx context.Context, cfg Config) error
	// RX returns one block per configured channel, in Config.Channels order.
	// All blocks have the same length.
	RX(ctx context.Context) ([][]complex64, error)
	// Name identifies the backend and, once known, the device.
	Name() string
	Close() error
}

var backends = []string{"mock", "pluto", "rtltcp", "rtlsdr"}

// Backends lists the backend names accepted by New.
func Backends() []string { return append([]string(nil), backends...) }

// New returns an uninitialized receiver for the named backend.
func New(backend string, logger logging.Logger) (Receiver, error) {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With(logging.String("backend", backend))
	switch strings.ToLower(backend) {
	case "mock":
		return NewMock(), nil
	case "pluto":
		return NewPluto(WithLogger(logger)), nil
	case "rtltcp":
		return NewRTLTCP(logger), nil
	case "rtlsdr":
		return newRTLSDR(logger)
	default:
		return nil, fmt.Errorf("%w %q (want one of %s)", ErrUnknownBackend, backend, strings.Join(backends, ", "))
	}
}

// checkChannels rejects empty, duplicate, negative or out of range channels.
// maxChannel < 0 means unbounded.
func checkChannels(channels []int, maxChannel int) error {
	if len(channels) == 0 {
		return fmt.Errorf("%w: no channels requested", ErrUnsupportedChannel)
	}
	seen := make(map[int]bool, len(channels))
	for _, ch := range channels {
		if ch < 0 || (maxChannel >= 0 && ch > maxChannel) {
			return fmt.Errorf("%w: %d", ErrUnsupportedChannel, ch)
		}
		if seen[ch] {
			return fmt.Errorf("%w: %d requested twice", ErrUnsupportedChannel, ch)
		}
		seen[ch] = true
	}
	return nil
}

// sortedChannels returns channels ascending along with, for each position in
// the original order, its index in the sorted slice.
func sortedChannels(channels []int) ([]int, []int) {
	sorted := append([]int(nil), channels...)
	sort.Ints(sorted)
	pos := make([]int, len(channels))
	for i, ch := range channels {
		pos[i] = sort.SearchInts(sorted, ch)
	}
	return sorted, pos
}
