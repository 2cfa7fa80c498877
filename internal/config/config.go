// Package config loads the capture settings. Defaults reproduce the
// reference recording (20M samples at 2.46 GHz, 4 MS/s, 50 dB, channel 0);
// a YAML or TOML file can override any of them.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/cadeo111/iqcapture/internal/logging"
	"github.com/cadeo111/iqcapture/internal/sdr"
	"github.com/cadeo111/iqcapture/internal/sink"
)

// ErrUnsupportedFormat is returned for config files that are neither YAML
// nor TOML.
var ErrUnsupportedFormat = errors.New("unsupported config file extension")

// Config is the top-level configuration, mirroring the file sections.
type Config struct {
	Capture CaptureConfig `yaml:"capture" toml:"capture" json:"capture"`
	Device  DeviceConfig  `yaml:"device"  toml:"device"  json:"device"`
	Output  OutputConfig  `yaml:"output"  toml:"output"  json:"output"`
	Logging LoggingConfig `yaml:"logging" toml:"logging" json:"logging"`
	Catalog CatalogConfig `yaml:"catalog" toml:"catalog" json:"catalog"`
}

type CaptureConfig struct {
	NumSamples    int     `yaml:"num_samples"     toml:"num_samples"     json:"num_samples"`
	CenterFreq    float64 `yaml:"center_freq"     toml:"center_freq"     json:"center_freq"`
	SampleRate    float64 `yaml:"sample_rate"     toml:"sample_rate"     json:"sample_rate"`
	Gain          float64 `yaml:"gain"            toml:"gain"            json:"gain"`
	Channels      []int   `yaml:"channels"        toml:"channels"        json:"channels"`
	WarmupBuffers int     `yaml:"warmup_buffers"  toml:"warmup_buffers"  json:"warmup_buffers"`
	BufferSize    int     `yaml:"buffer_size"     toml:"buffer_size"     json:"buffer_size"`
	MaxEmptyReads int     `yaml:"max_empty_reads" toml:"max_empty_reads" json:"max_empty_reads"`
}

type DeviceConfig struct {
	Backend            string         `yaml:"backend"              toml:"backend"              json:"backend"`
	URI                string         `yaml:"uri"                  toml:"uri"                  json:"uri"`
	DiscoveryTimeoutMS int            `yaml:"discovery_timeout_ms" toml:"discovery_timeout_ms" json:"discovery_timeout_ms"`
	ToneOffset         float64        `yaml:"tone_offset"          toml:"tone_offset"          json:"tone_offset"`
	Seed               int64          `yaml:"seed"                 toml:"seed"                 json:"seed"`
	SSH                *sdr.SSHConfig `yaml:"ssh"                  toml:"ssh"                  json:"ssh,omitempty"`
}

// DiscoveryTimeout is how long mDNS browsing may take when no URI is set.
func (d DeviceConfig) DiscoveryTimeout() time.Duration {
	return time.Duration(d.DiscoveryTimeoutMS) * time.Millisecond
}

type OutputConfig struct {
	Path        string `yaml:"path"        toml:"path"        json:"path"`
	Format      string `yaml:"format"      toml:"format"      json:"format"`
	Preview     int    `yaml:"preview"     toml:"preview"     json:"preview"`
	Spectrogram string `yaml:"spectrogram" toml:"spectrogram" json:"spectrogram"`
	Summary     bool   `yaml:"summary"     toml:"summary"     json:"summary"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"  toml:"level"  json:"level"`
	Format string `yaml:"format" toml:"format" json:"format"`
}

type CatalogConfig struct {
	Path string `yaml:"path" toml:"path" json:"path"`
}

// Default returns the reference capture parameters.
func Default() Config {
	return Config{
		Capture: CaptureConfig{
			NumSamples:    20_000_000,
			CenterFreq:    2.46e9,
			SampleRate:    4e6,
			Gain:          50,
			Channels:      []int{0},
			WarmupBuffers: 0,
			BufferSize:    sdr.DefaultBufferSize,
			MaxEmptyReads: 8,
		},
		Device: DeviceConfig{
			Backend:            "pluto",
			DiscoveryTimeoutMS: 2000,
			ToneOffset:         200e3,
			Seed:               1,
		},
		Output: OutputConfig{
			Path:    "DATA_4mhz.npy",
			Format:  "npy",
			Preview: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load decodes the file at path and validates the result.
func Load(path string) (Config, error) {
	cfg, err := Decode(path)
	if err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Decode reads the file at path and layers it on top of the defaults without
// validating, so later overrides can still fix a value. The decoder is chosen
// by extension: .yaml/.yml or .toml.
func Decode(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field; the error names the offending key.
func Validate(cfg Config) error {
	c := cfg.Capture
	switch {
	case c.NumSamples <= 0:
		return errors.New("capture.num_samples must be > 0")
	case c.CenterFreq <= 0:
		return errors.New("capture.center_freq must be > 0")
	case c.SampleRate <= 0:
		return errors.New("capture.sample_rate must be > 0")
	case len(c.Channels) == 0:
		return errors.New("capture.channels must not be empty")
	case c.WarmupBuffers < 0:
		return errors.New("capture.warmup_buffers must be >= 0")
	case c.BufferSize < 0:
		return errors.New("capture.buffer_size must be >= 0")
	case c.MaxEmptyReads < 0:
		return errors.New("capture.max_empty_reads must be >= 0")
	}
	seen := make(map[int]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if ch < 0 {
			return fmt.Errorf("capture.channels: channel %d must be >= 0", ch)
		}
		if seen[ch] {
			return fmt.Errorf("capture.channels: channel %d listed twice", ch)
		}
		seen[ch] = true
	}

	if !contains(sdr.Backends(), strings.ToLower(cfg.Device.Backend)) {
		return fmt.Errorf("device.backend must be one of %s, got %q", strings.Join(sdr.Backends(), ", "), cfg.Device.Backend)
	}
	if cfg.Device.DiscoveryTimeoutMS < 0 {
		return errors.New("device.discovery_timeout_ms must be >= 0")
	}

	if cfg.Output.Path == "" {
		return errors.New("output.path must not be empty")
	}
	if _, err := sink.ForFormat(cfg.Output.Format); err != nil {
		return fmt.Errorf("output.format: %w", err)
	}
	if cfg.Output.Preview < 0 {
		return errors.New("output.preview must be >= 0")
	}

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if _, err := logging.ParseFormat(cfg.Logging.Format); err != nil {
		return fmt.Errorf("logging.format: %w", err)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
