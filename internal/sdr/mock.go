package sdr

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
)

// MockSDR synthesizes a complex tone plus Gaussian noise on every channel.
// Each channel is rotated by a fixed phase so channels stay distinguishable.
type MockSDR struct {
	mu     sync.Mutex
	cfg    Config
	rng    *rand.Rand
	index  int
	inited bool
	reads  int
}

const (
	mockAmplitude    = 0.5
	mockNoise        = 1e-3
	mockChannelPhase = math.Pi / 6
)

func NewMock() *MockSDR { return &MockSDR{} }

func (m *MockSDR) Init(_ context.Context, cfg Config) error {
	if err := checkChannels(cfg.Channels, -1); err != nil {
		return err
	}
	if cfg.SampleRate <= 0 {
		return fmt.Errorf("mock: sample rate must be positive, got %g", cfg.SampleRate)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg.Channels = append([]int(nil), cfg.Channels...)
	m.cfg = cfg
	m.rng = rand.New(rand.NewSource(cfg.Seed))
	m.index = 0
	m.inited = true
	m.reads = 0
	return nil
}

func (m *MockSDR) RX(ctx context.Context) ([][]complex64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inited {
		return nil, ErrNotInitialized
	}
	n := m.cfg.bufferSize()
	step := 2 * math.Pi * m.cfg.ToneOffset / m.cfg.SampleRate
	out := make([][]complex64, len(m.cfg.Channels))
	for c, ch := range m.cfg.Channels {
		out[c] = make([]complex64, n)
		offset := mockChannelPhase * float64(ch)
		for i := 0; i < n; i++ {
			phase := step*float64(m.index+i) + offset
			re := mockAmplitude*math.Cos(phase) + m.rng.NormFloat64()*mockNoise
			im := mockAmplitude*math.Sin(phase) + m.rng.NormFloat64()*mockNoise
			out[c][i] = complex(float32(re), float32(im))
		}
	}
	m.index += n
	m.reads++
	return out, nil
}

func (m *MockSDR) Name() string { return "mock" }

func (m *MockSDR) Close() error {
	m.mu.Lock()
	m.inited = false
	m.mu.Unlock()
	return nil
}

// LastConfig returns the configuration passed to the most recent Init.
func (m *MockSDR) LastConfig() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := m.cfg
	cfg.Channels = append([]int(nil), m.cfg.Channels...)
	return cfg
}

// Reads reports how many RX calls were served since the last Init.
func (m *MockSDR) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}
