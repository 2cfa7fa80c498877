// Package telemetry reports acquisition progress.
package telemetry

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cadeo111/iqcapture/internal/logging"
)

// Reporter receives acquisition progress events.
type Reporter interface {
	// Progress reports samples received per channel so far.
	Progress(received, total int)
	// Done reports a completed acquisition.
	Done(total int, elapsed time.Duration)
}

// Nop discards all events.
type Nop struct{}

func (Nop) Progress(int, int)       {}
func (Nop) Done(int, time.Duration) {}

// MultiReporter fans events out to every reporter.
type MultiReporter []Reporter

func (m MultiReporter) Progress(received, total int) {
	for _, r := range m {
		r.Progress(received, total)
	}
}

func (m MultiReporter) Done(total int, elapsed time.Duration) {
	for _, r := range m {
		r.Done(total, elapsed)
	}
}

// LogReporter logs progress at most once per interval.
type LogReporter struct {
	logger   logging.Logger
	interval time.Duration
	now      func() time.Time
	last     time.Time
}

// NewLogReporter builds a reporter logging through logger every interval.
func NewLogReporter(logger logging.Logger, interval time.Duration) *LogReporter {
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &LogReporter{
		logger:   logger.With(logging.String("subsystem", "telemetry")),
		interval: interval,
		now:      time.Now,
	}
}

func (r *LogReporter) Progress(received, total int) {
	now := r.now()
	if r.last.IsZero() {
		r.last = now
		return
	}
	if now.Sub(r.last) < r.interval {
		return
	}
	r.last = now
	pct := 0.0
	if total > 0 {
		pct = 100 * float64(received) / float64(total)
	}
	r.logger.Info("capture progress",
		logging.String("received", humanize.Comma(int64(received))),
		logging.String("total", humanize.Comma(int64(total))),
		logging.Float("percent", pct),
	)
}

func (r *LogReporter) Done(total int, elapsed time.Duration) {
	fields := []logging.Field{
		logging.String("samples", humanize.Comma(int64(total))),
		logging.Duration("elapsed", elapsed),
	}
	if secs := elapsed.Seconds(); secs > 0 {
		v, unit := humanize.ComputeSI(float64(total) / secs)
		fields = append(fields, logging.String("throughput", humanize.FtoaWithDigits(v, 3)+" "+unit+"S/s"))
	}
	r.logger.Info("capture complete", fields...)
}
