// Package sink persists captures to disk.
package sink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cadeo111/iqcapture/internal/capture"
)

var ErrUnknownFormat = errors.New("unknown output format")

// Sink writes a capture and returns the paths of the files it created.
type Sink interface {
	Write(path string, c *capture.Capture) ([]string, error)
	Name() string
}

var formats = map[string]Sink{
	"npy":   NPY{},
	"cf32":  CF32{},
	"sigmf": SigMF{Recorder: "iqcapture"},
}

// Formats lists the accepted format names.
func Formats() []string { return []string{"npy", "cf32", "sigmf"} }

// ForFormat returns the sink registered under name.
func ForFormat(name string) (Sink, error) {
	s, ok := formats[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w %q (want one of %s)", ErrUnknownFormat, name, strings.Join(Formats(), ", "))
	}
	return s, nil
}

// stem strips a known extension so sibling files share a base name.
func stem(path string, exts ...string) string {
	for _, ext := range exts {
		if strings.HasSuffix(path, ext) {
			return strings.TrimSuffix(path, ext)
		}
	}
	return strings.TrimSuffix(path, filepath.Ext(path))
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory %s: %w", dir, err)
	}
	return nil
}

// writeFileAtomic writes through a temporary sibling and renames it into
// place, so a failed write never leaves a truncated file at path.
func writeFileAtomic(path string, write func(tmp string) error) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	tmp := path + ".part"
	if err := write(tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
