package sdr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/cadeo111/iqcapture/iiod"
	"github.com/cadeo111/iqcapture/internal/logging"
)

const (
	plutoDefaultURI = "192.168.2.1"
	plutoPhyName    = "ad9361-phy"
	plutoRXName     = "cf-ad9361-lpc"
	plutoRXLO       = "altvoltage0"
)

// PlutoSDR drives an AD9361 based radio (ADALM-Pluto, FMComms) through iiod.
type PlutoSDR struct {
	mu      sync.Mutex
	log     logging.Logger
	sysfs   AttributeWriter
	ownsFS  bool
	client  *iiod.Client
	phy     *iiod.Device
	rx      *iiod.Device
	model   string
	format  iiod.Format
	scans   int
	streams []int // position of each requested channel in the decoded streams
	raw     []byte
	open    bool
}

// PlutoOption configures a PlutoSDR.
type PlutoOption func(*PlutoSDR)

// WithLogger sets the logger used for device events.
func WithLogger(l logging.Logger) PlutoOption {
	return func(p *PlutoSDR) {
		if l != nil {
			p.log = l
		}
	}
}

// WithAttributeWriter installs a fallback used when iiod rejects a write.
func WithAttributeWriter(w AttributeWriter) PlutoOption {
	return func(p *PlutoSDR) { p.sysfs = w }
}

func NewPluto(opts ...PlutoOption) *PlutoSDR {
	p := &PlutoSDR{log: logging.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *PlutoSDR) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model != "" {
		return "pluto (" + p.model + ")"
	}
	return "pluto"
}

// Init connects to iiod, tunes the phy and opens an RX buffer covering the
// requested channels.
func (p *PlutoSDR) Init(ctx context.Context, cfg Config) error {
	if err := checkChannels(cfg.Channels, 1); err != nil {
		return err
	}
	if cfg.SampleRate <= 0 {
		return fmt.Errorf("pluto: sample rate must be positive, got %g", cfg.SampleRate)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return errors.New("pluto: already initialized")
	}

	uri := strings.TrimPrefix(cfg.URI, "ip:")
	if uri == "" {
		uri = plutoDefaultURI
	}
	p.log.Info("connecting to iiod", logging.String("uri", uri))
	client, err := iiod.Dial(ctx, uri, iiod.WithLogger(p.log))
	if err != nil {
		return fmt.Errorf("connect to iiod: %w", err)
	}
	p.client = client
	if err := p.setup(ctx, cfg); err != nil {
		p.teardown()
		return err
	}
	return nil
}

func (p *PlutoSDR) setup(ctx context.Context, cfg Config) error {
	if v, err := p.client.Version(); err == nil {
		p.log.Debug("iiod version", logging.String("version", v.String()))
	}
	desc, err := p.client.Context()
	if err != nil {
		return fmt.Errorf("read iio context: %w", err)
	}
	var ok bool
	if p.phy, ok = desc.Device(plutoPhyName); !ok {
		return fmt.Errorf("pluto: device %s not found", plutoPhyName)
	}
	if p.rx, ok = desc.Device(plutoRXName); !ok {
		return fmt.Errorf("pluto: device %s not found", plutoRXName)
	}
	p.model, _ = desc.Attr("hw_model")
	mask, err := p.buildMask(cfg.Channels)
	if err != nil {
		return err
	}

	if cfg.SSH != nil && p.sysfs == nil {
		w, err := NewSSHAttributeWriter(*cfg.SSH)
		if err != nil {
			return fmt.Errorf("configure sysfs fallback: %w", err)
		}
		p.sysfs, p.ownsFS = w, true
	}

	sampleRate := strconv.FormatInt(int64(cfg.SampleRate), 10)
	if err := p.write(ctx, iiod.Attr{Device: p.phy.ID, Channel: "voltage0", Name: "sampling_frequency"}, sampleRate); err != nil {
		return fmt.Errorf("set sample rate: %w", err)
	}
	lo := strconv.FormatInt(int64(cfg.CenterFreq), 10)
	if err := p.write(ctx, iiod.Attr{Device: p.phy.ID, Channel: plutoRXLO, Output: true, Name: "frequency"}, lo); err != nil {
		return fmt.Errorf("set rx lo: %w", err)
	}
	gain := strconv.FormatFloat(cfg.Gain, 'f', -1, 64)
	for _, ch := range cfg.Channels {
		id := "voltage" + strconv.Itoa(ch)
		if err := p.write(ctx, iiod.Attr{Device: p.phy.ID, Channel: id, Name: "gain_control_mode"}, "manual"); err != nil {
			return fmt.Errorf("set rx%d gain mode: %w", ch, err)
		}
		if err := p.write(ctx, iiod.Attr{Device: p.phy.ID, Channel: id, Name: "hardwaregain"}, gain); err != nil {
			return fmt.Errorf("set rx%d gain: %w", ch, err)
		}
	}

	size := cfg.bufferSize()
	if err := p.client.OpenBuffer(p.rx.ID, size, mask, false); err != nil {
		return fmt.Errorf("open rx buffer: %w", err)
	}
	p.open = true
	p.raw = make([]byte, size*p.scans*p.format.Bytes())
	p.log.Info("pluto ready",
		logging.String("model", p.model),
		logging.Float("center_freq_hz", cfg.CenterFreq),
		logging.Float("sample_rate_hz", cfg.SampleRate),
		logging.Float("gain_db", cfg.Gain),
		logging.String("mask", mask.String()),
	)
	return nil
}

// buildMask enables the I/Q scan elements voltage(2n) and voltage(2n+1) of
// every receive channel n.
func (p *PlutoSDR) buildMask(channels []int) (iiod.Mask, error) {
	scans := p.rx.ScanChannels()
	byID := make(map[string]iiod.Channel, len(scans))
	maxIndex := 0
	for _, sc := range scans {
		byID[sc.ID] = sc
		if sc.Scan.Index > maxIndex {
			maxIndex = sc.Scan.Index
		}
	}
	mask := iiod.NewMask(maxIndex + 1)
	sorted, pos := sortedChannels(channels)
	var format string
	for _, ch := range sorted {
		for _, id := range []string{fmt.Sprintf("voltage%d", 2*ch), fmt.Sprintf("voltage%d", 2*ch+1)} {
			sc, ok := byID[id]
			if !ok {
				return nil, fmt.Errorf("%w: rx%d has no scan element %s", ErrUnsupportedChannel, ch, id)
			}
			mask.Set(sc.Scan.Index)
			format = sc.Scan.Format
		}
	}
	f, err := iiod.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	p.format = f
	p.scans = mask.Count()
	p.streams = pos
	return mask, nil
}

// write sets an attribute through iiod and, when rejected, through sysfs.
func (p *PlutoSDR) write(ctx context.Context, a iiod.Attr, value string) error {
	_, err := p.client.WriteAttr(a, value)
	if err == nil || p.sysfs == nil || !errors.Is(err, iiod.ErrRejected) {
		return err
	}
	p.log.Warn("iiod rejected write, using sysfs", logging.String("attr", a.String()), logging.Err(err))
	return p.sysfs.WriteAttribute(ctx, a.Device, p.sysfsName(a), value)
}

func (p *PlutoSDR) sysfsName(a iiod.Attr) string {
	if ch, ok := p.phy.Channel(a.Channel, a.Output); ok {
		for _, attr := range ch.Attributes {
			if attr.Name == a.Name && attr.Filename != "" {
				return attr.Filename
			}
		}
	}
	return sysfsFilename(a.Channel, a.Output, a.Name)
}

// RX refills the kernel buffer and returns one block per requested channel.
func (p *PlutoSDR) RX(ctx context.Context) ([][]complex64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil || !p.open {
		return nil, ErrNotInitialized
	}
	n, err := p.client.ReadBuffer(ctx, p.rx.ID, p.raw)
	if err != nil {
		return nil, fmt.Errorf("read rx buffer: %w", err)
	}
	frame := p.scans * p.format.Bytes()
	n -= n % frame
	decoded, err := iiod.DecodeIQ(p.raw[:n], p.scans, p.format)
	if err != nil {
		return nil, err
	}
	out := make([][]complex64, len(p.streams))
	for i, s := range p.streams {
		out[i] = decoded[s]
	}
	return out, nil
}

// Close releases the RX buffer and the iiod connection.
func (p *PlutoSDR) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.teardown()
}

func (p *PlutoSDR) teardown() error {
	var errs []error
	if p.client != nil {
		if p.open {
			if err := p.client.CloseBuffer(p.rx.ID); err != nil {
				errs = append(errs, fmt.Errorf("close rx buffer: %w", err))
			}
			p.open = false
		}
		if err := p.client.Close(); err != nil {
			errs = append(errs, err)
		}
		p.client = nil
	}
	if p.ownsFS && p.sysfs != nil {
		if err := p.sysfs.Close(); err != nil {
			errs = append(errs, err)
		}
		p.sysfs, p.ownsFS = nil, false
	}
	return errors.Join(errs...)
}
