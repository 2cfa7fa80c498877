package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func openTemp(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "db", "captures.db"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRecordAndList(t *testing.T) {
	c := openTemp(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	first := Entry{
		CreatedAt:  base,
		Path:       "DATA_4mhz.npy",
		Format:     "npy",
		Backend:    "pluto",
		Device:     "pluto",
		CenterFreq: 2.46e9,
		SampleRate: 4e6,
		Gain:       50,
		NumSamples: 20_000_000,
		Channels:   []int{0},
		Duration:   5 * time.Second,
	}
	second := first
	second.CreatedAt = base.Add(time.Minute)
	second.Channels = []int{1, 0}
	second.Backend = "mock"

	for _, e := range []Entry{first, second} {
		if _, err := c.Record(ctx, e); err != nil {
			t.Fatalf("Record returned error: %v", err)
		}
	}

	entries, err := c.List(ctx, 0)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Backend != "mock" || !entries[0].CreatedAt.Equal(second.CreatedAt) {
		t.Fatalf("expected newest first, got %+v", entries[0])
	}
	if !reflect.DeepEqual(entries[0].Channels, []int{1, 0}) {
		t.Fatalf("channels not preserved: %v", entries[0].Channels)
	}
	got := entries[1]
	if got.CenterFreq != 2.46e9 || got.SampleRate != 4e6 || got.Gain != 50 || got.NumSamples != 20_000_000 || got.Duration != 5*time.Second {
		t.Fatalf("unexpected entry %+v", got)
	}

	limited, err := c.List(ctx, 1)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != entries[0].ID {
		t.Fatalf("limit not applied: %+v", limited)
	}
}

func TestGet(t *testing.T) {
	c := openTemp(t)
	ctx := context.Background()
	id, err := c.Record(ctx, Entry{Path: "x.npy", Format: "npy", Backend: "mock", Device: "mock", Channels: []int{0}})
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	e, err := c.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if e.Path != "x.npy" || e.CreatedAt.IsZero() {
		t.Fatalf("unexpected entry %+v", e)
	}
	if _, err := c.Get(ctx, id+100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCloseTwice(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "captures.db"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
}
