//go:build rtlsdr

package sdr

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	rtl "github.com/jpoirier/gortlsdr"

	"github.com/cadeo111/iqcapture/internal/logging"
)

// librtlsdr requires synchronous reads in multiples of this size.
const rtlReadQuantum = 512

// RTLSDR reads a locally attached RTL2832U dongle through librtlsdr. Config.URI
// holds the device index, default 0.
type RTLSDR struct {
	mu  sync.Mutex
	log logging.Logger
	dev *rtl.Context
	idx int
	buf []byte
}

func newRTLSDR(logger logging.Logger) (Receiver, error) {
	return &RTLSDR{log: logger}, nil
}

func (r *RTLSDR) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev != nil {
		return fmt.Sprintf("rtlsdr (%s)", rtl.GetDeviceName(r.idx))
	}
	return "rtlsdr"
}

func (r *RTLSDR) Init(ctx context.Context, cfg Config) error {
	if err := checkChannels(cfg.Channels, 0); err != nil {
		return err
	}
	idx := 0
	if cfg.URI != "" {
		n, err := strconv.Atoi(cfg.URI)
		if err != nil {
			return fmt.Errorf("rtlsdr: device index %q: %w", cfg.URI, err)
		}
		idx = n
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev != nil {
		return errors.New("rtlsdr: already initialized")
	}
	if count := rtl.GetDeviceCount(); idx >= count {
		return fmt.Errorf("rtlsdr: device %d not found (%d attached)", idx, count)
	}
	dev, err := rtl.Open(idx)
	if err != nil {
		return fmt.Errorf("open rtlsdr %d: %w", idx, err)
	}
	steps := []struct {
		what string
		fn   func() error
	}{
		{"set sample rate", func() error { return dev.SetSampleRate(int(cfg.SampleRate)) }},
		{"set center frequency", func() error { return dev.SetCenterFreq(int(cfg.CenterFreq)) }},
		{"set manual gain mode", func() error { return dev.SetTunerGainMode(true) }},
		{"set gain", func() error { return dev.SetTunerGain(int(math.Round(cfg.Gain * 10))) }},
		{"reset buffer", dev.ResetBuffer},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			dev.Close()
			return fmt.Errorf("rtlsdr %s: %w", s.what, err)
		}
	}

	size := 2 * cfg.bufferSize()
	if rem := size % rtlReadQuantum; rem != 0 {
		size += rtlReadQuantum - rem
	}
	r.dev, r.idx, r.buf = dev, idx, make([]byte, size)
	r.log.Info("rtlsdr ready",
		logging.Int("index", idx),
		logging.Int("sample_rate_hz", dev.GetSampleRate()),
		logging.Int("center_freq_hz", dev.GetCenterFreq()),
	)
	return nil
}

func (r *RTLSDR) RX(ctx context.Context) ([][]complex64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev == nil {
		return nil, ErrNotInitialized
	}
	n, err := r.dev.ReadSync(r.buf, len(r.buf))
	if err != nil {
		return nil, fmt.Errorf("read rtlsdr samples: %w", err)
	}
	return [][]complex64{u8ToComplex(r.buf[:n])}, nil
}

func (r *RTLSDR) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev == nil {
		return nil
	}
	err := r.dev.Close()
	r.dev = nil
	return err
}
