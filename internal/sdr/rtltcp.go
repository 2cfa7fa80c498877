package sdr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/bemasher/rtltcp"

	"github.com/cadeo111/iqcapture/internal/logging"
)

const rtltcpDefaultAddr = "127.0.0.1:1234"

// RTLTCP reads an RTL2832U dongle served by rtl_tcp. Dongles have a single
// receive channel, 0.
type RTLTCP struct {
	mu        sync.Mutex
	log       logging.Logger
	sdr       rtltcp.SDR
	connected bool
	buf       []byte
}

func NewRTLTCP(logger logging.Logger) *RTLTCP {
	if logger == nil {
		logger = logging.Default()
	}
	return &RTLTCP{log: logger}
}

func (r *RTLTCP) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connected {
		return fmt.Sprintf("rtltcp (tuner %s)", r.sdr.Info.Tuner)
	}
	return "rtltcp"
}

func (r *RTLTCP) Init(ctx context.Context, cfg Config) error {
	if err := checkChannels(cfg.Channels, 0); err != nil {
		return err
	}
	if err := checkRTLTCPTuning(cfg); err != nil {
		return err
	}
	addrStr := cfg.URI
	if addrStr == "" {
		addrStr = rtltcpDefaultAddr
	}
	addr, err := net.ResolveTCPAddr("tcp", addrStr)
	if err != nil {
		return fmt.Errorf("resolve rtl_tcp address: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connected {
		return errors.New("rtltcp: already initialized")
	}
	if err := r.sdr.Connect(addr); err != nil {
		return fmt.Errorf("connect rtl_tcp %s: %w", addr, err)
	}
	r.connected = true

	steps := []struct {
		what string
		fn   func() error
	}{
		{"set sample rate", func() error { return r.sdr.SetSampleRate(uint32(cfg.SampleRate)) }},
		{"set center frequency", func() error { return r.sdr.SetCenterFreq(uint32(cfg.CenterFreq)) }},
		// SetGainMode(true) enables AGC; false sends 1, manual gain.
		{"set manual gain mode", func() error { return r.sdr.SetGainMode(false) }},
		{"set gain", func() error { return r.sdr.SetGain(uint32(math.Round(cfg.Gain * 10))) }},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			r.sdr.Close()
			r.connected = false
			return fmt.Errorf("rtltcp %s: %w", s.what, err)
		}
	}
	r.buf = make([]byte, 2*cfg.bufferSize())
	r.log.Info("rtl_tcp ready",
		logging.String("addr", addr.String()),
		logging.String("tuner", r.sdr.Info.Tuner.String()),
		logging.Int("gain_count", int(r.sdr.Info.GainCount)),
	)
	return nil
}

// checkRTLTCPTuning rejects values the 32-bit rtl_tcp command parameters
// cannot carry.
func checkRTLTCPTuning(cfg Config) error {
	switch {
	case cfg.SampleRate <= 0 || cfg.CenterFreq <= 0:
		return errors.New("rtltcp: sample rate and center frequency must be positive")
	case cfg.SampleRate > math.MaxUint32:
		return fmt.Errorf("rtltcp: sample rate %g exceeds %d", cfg.SampleRate, uint32(math.MaxUint32))
	case cfg.CenterFreq > math.MaxUint32:
		return fmt.Errorf("rtltcp: center frequency %g exceeds %d", cfg.CenterFreq, uint32(math.MaxUint32))
	case cfg.Gain < 0:
		return fmt.Errorf("rtltcp: gain %g dB must be >= 0", cfg.Gain)
	case math.Round(cfg.Gain*10) > math.MaxUint32:
		return fmt.Errorf("rtltcp: gain %g dB out of range", cfg.Gain)
	}
	return nil
}

func (r *RTLTCP) RX(ctx context.Context) ([][]complex64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected {
		return nil, ErrNotInitialized
	}
	r.sdr.SetReadDeadline(time.Time{})
	// Unblock the read once ctx is done; ctx.Err() is set by then.
	stop := context.AfterFunc(ctx, func() { r.sdr.SetReadDeadline(time.Now()) })
	defer stop()

	if _, err := io.ReadFull(&r.sdr, r.buf); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("read rtl_tcp samples: %w", err)
	}
	return [][]complex64{u8ToComplex(r.buf)}, nil
}

func (r *RTLTCP) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected {
		return nil
	}
	r.connected = false
	return r.sdr.Close()
}

// u8ToComplex converts offset-binary u8 I/Q pairs to [-1, 1] floats.
func u8ToComplex(buf []byte) []complex64 {
	out := make([]complex64, len(buf)/2)
	for i := range out {
		re := (float32(buf[2*i]) - 127.5) / 127.5
		im := (float32(buf[2*i+1]) - 127.5) / 127.5
		out[i] = complex(re, im)
	}
	return out
}
