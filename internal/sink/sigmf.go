package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cadeo111/iqcapture/internal/capture"
)

const sigmfVersion = "1.0.0"

// SigMF writes a <base>.sigmf-data recording (channels interleaved per
// sample, cf32_le) and its <base>.sigmf-meta description.
type SigMF struct {
	Recorder string
}

func (SigMF) Name() string { return "sigmf" }

// Meta is the subset of the SigMF metadata schema this tool produces.
type Meta struct {
	Global      Global        `json:"global"`
	Captures    []MetaCapture `json:"captures"`
	Annotations []any         `json:"annotations"`
}

type Global struct {
	Datatype    string  `json:"core:datatype"`
	SampleRate  float64 `json:"core:sample_rate"`
	Version     string  `json:"core:version"`
	NumChannels int     `json:"core:num_channels"`
	Hardware    string  `json:"core:hw,omitempty"`
	Recorder    string  `json:"core:recorder,omitempty"`
	Description string  `json:"core:description,omitempty"`
}

type MetaCapture struct {
	SampleStart int     `json:"core:sample_start"`
	Frequency   float64 `json:"core:frequency"`
	Datetime    string  `json:"core:datetime,omitempty"`
}

func (s SigMF) Write(path string, c *capture.Capture) ([]string, error) {
	base := stem(path, ".sigmf-data", ".sigmf-meta", ".sigmf", ".npy")
	dataPath := base + ".sigmf-data"
	metaPath := base + ".sigmf-meta"

	for i, ch := range c.Samples {
		if len(ch) != len(c.Samples[0]) {
			return nil, fmt.Errorf("write sigmf: channel %d has %d samples, want %d", i, len(ch), len(c.Samples[0]))
		}
	}
	err := writeFileAtomic(dataPath, func(tmp string) error {
		return writeInterleaved(tmp, c.Samples)
	})
	if err != nil {
		return nil, err
	}

	meta := s.meta(c)
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return []string{dataPath}, fmt.Errorf("encode sigmf metadata: %w", err)
	}
	err = writeFileAtomic(metaPath, func(tmp string) error {
		return os.WriteFile(tmp, append(raw, '\n'), 0o644)
	})
	if err != nil {
		return []string{dataPath}, err
	}
	return []string{dataPath, metaPath}, nil
}

func (s SigMF) meta(c *capture.Capture) Meta {
	m := Meta{
		Global: Global{
			Datatype:    "cf32_le",
			SampleRate:  c.SampleRate,
			Version:     sigmfVersion,
			NumChannels: len(c.Samples),
			Hardware:    c.Device,
			Recorder:    s.Recorder,
			Description: fmt.Sprintf("channels %v gain %g dB", c.Channels, c.Gain),
		},
		Captures:    []MetaCapture{{SampleStart: 0, Frequency: c.CenterFreq}},
		Annotations: []any{},
	}
	if !c.StartedAt.IsZero() {
		m.Captures[0].Datetime = c.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

// ReadMeta loads a .sigmf-meta file.
func ReadMeta(path string) (*Meta, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &m, nil
}
