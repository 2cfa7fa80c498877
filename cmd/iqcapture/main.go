// Iqcapture tunes a software-defined radio, records a fixed number of IQ
// samples from one or more receive channels, saves them to disk and prints
// the first samples of each channel.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/cadeo111/iqcapture/internal/capture"
	"github.com/cadeo111/iqcapture/internal/catalog"
	"github.com/cadeo111/iqcapture/internal/config"
	"github.com/cadeo111/iqcapture/internal/dsp"
	"github.com/cadeo111/iqcapture/internal/logging"
	"github.com/cadeo111/iqcapture/internal/mdns"
	"github.com/cadeo111/iqcapture/internal/sdr"
	"github.com/cadeo111/iqcapture/internal/sink"
	"github.com/cadeo111/iqcapture/internal/spectrogram"
	"github.com/cadeo111/iqcapture/internal/telemetry"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const envPrefix = "IQCAP_"

// discoverIIOD is swapped out in tests.
var discoverIIOD = mdns.DiscoverIIOD

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.LookupEnv, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run dispatches to a command and returns the process exit code.
func run(ctx context.Context, args []string, lookup func(string) (string, bool), stdout, stderr io.Writer) int {
	cmd, rest := "capture", args
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, rest = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "capture":
		err = captureCommand(ctx, rest, lookup, stdout, stderr)
	case "devices":
		err = devicesCommand(ctx, rest, stdout)
	case "history":
		err = historyCommand(ctx, rest, lookup, stdout)
	case "version":
		fmt.Fprintf(stdout, "iqcapture %s\n", version)
	case "help":
		usage(stdout)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		usage(stderr)
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, pflag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintln(stderr, "error:", err)
		return 2
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(stderr, "error: capture cancelled, nothing written")
		return 130
	default:
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
}

func usage(w io.Writer) {
	fmt.Fprint(w, `
  iqcapture - one-shot IQ capture

  USAGE
    iqcapture [capture] [flags]
    iqcapture devices [--timeout 2s]
    iqcapture history [--catalog PATH] [--limit N]
    iqcapture version

  Run "iqcapture capture --help" for the capture flags. Every capture flag
  can also be set with an IQCAP_* environment variable or a config file.
`)
}

// captureFlags holds the flag targets; only flags the user changed are
// applied on top of the file and environment values.
type captureFlags struct {
	fs *pflag.FlagSet

	configPath    string
	logLevel      string
	logFormat     string
	numSamples    int
	freq          float64
	rate          float64
	gain          float64
	channels      []int
	backend       string
	uri           string
	discovery     time.Duration
	output        string
	format        string
	preview       int
	warmupBuffers int
	bufferSize    int
	spectrogram   string
	catalog       string
	summary       bool
	seed          int64
	toneOffset    float64
}

func newCaptureFlags(def config.Config) *captureFlags {
	f := &captureFlags{fs: pflag.NewFlagSet("capture", pflag.ContinueOnError)}
	fs := f.fs
	fs.StringVarP(&f.configPath, "config", "c", "", "YAML or TOML config file (env IQCAP_CONFIG)")
	fs.StringVar(&f.logLevel, "log-level", def.Logging.Level, "Log level (debug|info|warn|error)")
	fs.StringVar(&f.logFormat, "log-format", def.Logging.Format, "Log format (text|json)")
	fs.IntVarP(&f.numSamples, "num-samples", "n", def.Capture.NumSamples, "Samples to capture per channel")
	fs.Float64Var(&f.freq, "freq", def.Capture.CenterFreq, "Center frequency in Hz")
	fs.Float64Var(&f.rate, "rate", def.Capture.SampleRate, "Sample rate in samples per second")
	fs.Float64VarP(&f.gain, "gain", "g", def.Capture.Gain, "Receive gain in dB")
	fs.IntSliceVar(&f.channels, "channels", def.Capture.Channels, "Receive channels, e.g. 0,1")
	fs.StringVarP(&f.backend, "backend", "b", def.Device.Backend, "SDR backend ("+strings.Join(sdr.Backends(), "|")+")")
	fs.StringVar(&f.uri, "uri", def.Device.URI, "Device address, e.g. ip:192.168.2.1 or 127.0.0.1:1234")
	fs.DurationVar(&f.discovery, "discovery-timeout", def.Device.DiscoveryTimeout(), "mDNS browse time when pluto has no --uri (0 disables)")
	fs.StringVarP(&f.output, "output", "o", def.Output.Path, "Output file")
	fs.StringVarP(&f.format, "format", "f", def.Output.Format, "Output format ("+strings.Join(sink.Formats(), "|")+")")
	fs.IntVar(&f.preview, "preview", def.Output.Preview, "Samples per channel echoed to stdout")
	fs.IntVar(&f.warmupBuffers, "warmup-buffers", def.Capture.WarmupBuffers, "Receive buffers to discard after tuning")
	fs.IntVar(&f.bufferSize, "buffer-size", def.Capture.BufferSize, "Samples per channel per receive call")
	fs.StringVar(&f.spectrogram, "spectrogram", def.Output.Spectrogram, "Also render a spectrogram PNG of the first channel")
	fs.StringVar(&f.catalog, "catalog", def.Catalog.Path, "Record the capture in this SQLite catalog")
	fs.BoolVar(&f.summary, "summary", def.Output.Summary, "Print a power summary per channel")
	fs.Int64Var(&f.seed, "seed", def.Device.Seed, "Mock backend noise seed")
	fs.Float64Var(&f.toneOffset, "tone-offset", def.Device.ToneOffset, "Mock backend tone offset in Hz")
	return f
}

// apply copies the flags that were set on the command line into cfg.
func (f *captureFlags) apply(cfg *config.Config) {
	set := func(name string, fn func()) {
		if f.fs.Changed(name) {
			fn()
		}
	}
	set("log-level", func() { cfg.Logging.Level = f.logLevel })
	set("log-format", func() { cfg.Logging.Format = f.logFormat })
	set("num-samples", func() { cfg.Capture.NumSamples = f.numSamples })
	set("freq", func() { cfg.Capture.CenterFreq = f.freq })
	set("rate", func() { cfg.Capture.SampleRate = f.rate })
	set("gain", func() { cfg.Capture.Gain = f.gain })
	set("channels", func() { cfg.Capture.Channels = append([]int(nil), f.channels...) })
	set("backend", func() { cfg.Device.Backend = f.backend })
	set("uri", func() { cfg.Device.URI = f.uri })
	set("discovery-timeout", func() { cfg.Device.DiscoveryTimeoutMS = int(f.discovery.Milliseconds()) })
	set("output", func() { cfg.Output.Path = f.output })
	set("format", func() { cfg.Output.Format = f.format })
	set("preview", func() { cfg.Output.Preview = f.preview })
	set("warmup-buffers", func() { cfg.Capture.WarmupBuffers = f.warmupBuffers })
	set("buffer-size", func() { cfg.Capture.BufferSize = f.bufferSize })
	set("spectrogram", func() { cfg.Output.Spectrogram = f.spectrogram })
	set("catalog", func() { cfg.Catalog.Path = f.catalog })
	set("summary", func() { cfg.Output.Summary = f.summary })
	set("seed", func() { cfg.Device.Seed = f.seed })
	set("tone-offset", func() { cfg.Device.ToneOffset = f.toneOffset })
}

// parseCaptureConfig resolves the capture settings: defaults, then the
// config file, then IQCAP_* environment variables, then flags.
func parseCaptureConfig(args []string, lookup func(string) (string, bool), stderr io.Writer) (config.Config, error) {
	f := newCaptureFlags(config.Default())
	f.fs.SetOutput(stderr)
	if err := f.fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	if f.fs.NArg() > 0 {
		return config.Config{}, fmt.Errorf("%w: unexpected argument %q", errUsage, f.fs.Arg(0))
	}

	cfg := config.Default()
	path := f.configPath
	if !f.fs.Changed("config") {
		path = envString(lookup, envPrefix+"CONFIG", "")
	}
	if path != "" {
		loaded, err := config.Decode(path)
		if err != nil {
			return config.Config{}, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return config.Config{}, err
	}
	f.apply(&cfg)
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, fmt.Errorf("%w: %v", errUsage, err)
	}
	return cfg, nil
}

func applyEnv(cfg *config.Config, lookup func(string) (string, bool)) error {
	var err error
	c := &cfg.Capture
	c.NumSamples = envInt(lookup, envPrefix+"NUM_SAMPLES", c.NumSamples, &err)
	c.CenterFreq = envFloat(lookup, envPrefix+"FREQ", c.CenterFreq, &err)
	c.SampleRate = envFloat(lookup, envPrefix+"RATE", c.SampleRate, &err)
	c.Gain = envFloat(lookup, envPrefix+"GAIN", c.Gain, &err)
	c.Channels = envInts(lookup, envPrefix+"CHANNELS", c.Channels, &err)
	c.WarmupBuffers = envInt(lookup, envPrefix+"WARMUP_BUFFERS", c.WarmupBuffers, &err)
	c.BufferSize = envInt(lookup, envPrefix+"BUFFER_SIZE", c.BufferSize, &err)
	cfg.Device.Backend = envString(lookup, envPrefix+"BACKEND", cfg.Device.Backend)
	cfg.Device.URI = envString(lookup, envPrefix+"URI", cfg.Device.URI)
	cfg.Output.Path = envString(lookup, envPrefix+"OUTPUT", cfg.Output.Path)
	cfg.Output.Format = envString(lookup, envPrefix+"FORMAT", cfg.Output.Format)
	cfg.Catalog.Path = envString(lookup, envPrefix+"CATALOG", cfg.Catalog.Path)
	cfg.Logging.Level = envString(lookup, envPrefix+"LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = envString(lookup, envPrefix+"LOG_FORMAT", cfg.Logging.Format)
	return err
}

// The env helpers keep def when the variable is unset. A malformed value
// keeps def and is reported through *errp; the first one wins.

func envFloat(lookup func(string) (string, bool), key string, def float64, errp *error) float64 {
	if val, ok := lookup(key); ok {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err == nil {
			return parsed
		}
		setErr(errp, key, val)
	}
	return def
}

func envInt(lookup func(string) (string, bool), key string, def int, errp *error) int {
	if val, ok := lookup(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(val))
		if err == nil {
			return parsed
		}
		setErr(errp, key, val)
	}
	return def
}

func envInts(lookup func(string) (string, bool), key string, def []int, errp *error) []int {
	val, ok := lookup(key)
	if !ok {
		return def
	}
	var out []int
	for _, part := range strings.Split(val, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			setErr(errp, key, val)
			return def
		}
		out = append(out, n)
	}
	return out
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}

func setErr(errp *error, key, val string) {
	if *errp == nil {
		*errp = fmt.Errorf("%w: invalid value %q for %s", errUsage, val, key)
	}
}

func newLogger(cfg config.LoggingConfig, w io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	return logging.New(level, format, w), nil
}

func captureCommand(ctx context.Context, args []string, lookup func(string) (string, bool), stdout, stderr io.Writer) error {
	cfg, err := parseCaptureConfig(args, lookup, stderr)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging, stderr)
	if err != nil {
		return err
	}
	logging.SetDefault(logger)
	return runCapture(ctx, cfg, stdout, logger)
}

// runCapture performs one acquisition and everything that follows it. A
// failed or cancelled acquisition writes nothing.
func runCapture(ctx context.Context, cfg config.Config, stdout io.Writer, log logging.Logger) error {
	out, err := sink.ForFormat(cfg.Output.Format)
	if err != nil {
		return err
	}
	uri := resolveURI(ctx, cfg.Device, log)

	rx, err := sdr.New(cfg.Device.Backend, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := rx.Close(); err != nil {
			log.Warn("close receiver", logging.Err(err))
		}
	}()

	req := capture.Request{
		NumSamples: cfg.Capture.NumSamples,
		CenterFreq: cfg.Capture.CenterFreq,
		SampleRate: cfg.Capture.SampleRate,
		Gain:       cfg.Capture.Gain,
		Channels:   cfg.Capture.Channels,
	}
	log.Info("starting capture",
		logging.String("backend", cfg.Device.Backend),
		logging.String("uri", uri),
		logging.String("samples", humanize.Comma(int64(req.NumSamples))),
		logging.String("freq", humanHz(req.CenterFreq)),
		logging.String("rate", humanHz(req.SampleRate)),
		logging.Float("gain_db", req.Gain),
		logging.String("channels", fmt.Sprint(req.Channels)),
	)
	c, err := capture.Acquire(ctx, rx, req,
		capture.WithWarmupBuffers(cfg.Capture.WarmupBuffers),
		capture.WithMaxEmptyReads(cfg.Capture.MaxEmptyReads),
		capture.WithBufferSize(cfg.Capture.BufferSize),
		capture.WithReporter(telemetry.NewLogReporter(log, time.Second)),
		capture.WithLogger(log),
		capture.WithDeviceConfig(sdr.Config{
			URI:        uri,
			ToneOffset: cfg.Device.ToneOffset,
			Seed:       cfg.Device.Seed,
			SSH:        cfg.Device.SSH,
		}),
	)
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}

	paths, err := out.Write(cfg.Output.Path, c)
	if err != nil {
		return fmt.Errorf("save capture: %w", err)
	}
	log.Info("saved capture",
		logging.String("format", out.Name()),
		logging.String("files", strings.Join(paths, ", ")),
		logging.String("size", humanize.Bytes(uint64(len(c.Samples)*c.NumSamples*8))),
	)

	if cfg.Output.Preview > 0 {
		if err := capture.FormatPreview(stdout, c.Preview(cfg.Output.Preview)); err != nil {
			return err
		}
	}
	if cfg.Output.Summary {
		printSummary(stdout, c)
	}
	if cfg.Output.Spectrogram != "" {
		if err := writeSpectrogram(cfg.Output.Spectrogram, c); err != nil {
			log.Warn("spectrogram not written", logging.Err(err))
		} else {
			log.Info("wrote spectrogram", logging.String("path", cfg.Output.Spectrogram))
		}
	}
	if cfg.Catalog.Path != "" {
		if err := record(ctx, cfg, c, paths); err != nil {
			return fmt.Errorf("record capture: %w", err)
		}
	}
	return nil
}

// resolveURI finds a Pluto over mDNS when none is configured. Discovery
// failures leave the URI empty so the backend falls back to its default
// address.
func resolveURI(ctx context.Context, d config.DeviceConfig, log logging.Logger) string {
	if d.URI != "" || strings.ToLower(d.Backend) != "pluto" || d.DiscoveryTimeout() <= 0 {
		return d.URI
	}
	hosts, err := discoverIIOD(ctx, d.DiscoveryTimeout())
	if err != nil {
		log.Warn("iiod discovery failed", logging.Err(err))
		return ""
	}
	if len(hosts) == 0 {
		log.Info("no iiod host advertised, using default address")
		return ""
	}
	log.Info("discovered iiod host", logging.String("instance", hosts[0].Instance), logging.String("addr", hosts[0].Addr()))
	return hosts[0].Addr()
}

func printSummary(w io.Writer, c *capture.Capture) {
	for i, s := range c.Samples {
		sum := dsp.Summarize(s, c.SampleRate)
		fmt.Fprintf(w, "ch%d: mean %.1f dBFS, peak %.1f dBFS, floor %.1f dBFS, dc %.4f, strongest %s (%+.1f dB SNR)\n",
			c.Channels[i], sum.MeanPowerDBFS, sum.PeakPowerDBFS, sum.NoiseFloorDBFS, sum.DCOffset,
			humanHz(c.CenterFreq+sum.PeakOffsetHz), sum.SNR())
	}
}

func writeSpectrogram(path string, c *capture.Capture) error {
	img, err := spectrogram.Render(c.Samples[0], spectrogram.Options{
		CenterFreq: c.CenterFreq,
		SampleRate: c.SampleRate,
	})
	if err != nil {
		return err
	}
	return spectrogram.WritePNG(path, img)
}

func record(ctx context.Context, cfg config.Config, c *capture.Capture, paths []string) (err error) {
	cat, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := cat.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()
	_, err = cat.Record(ctx, catalog.Entry{
		CreatedAt:  c.StartedAt,
		Path:       paths[0],
		Format:     cfg.Output.Format,
		Backend:    cfg.Device.Backend,
		Device:     c.Device,
		CenterFreq: c.CenterFreq,
		SampleRate: c.SampleRate,
		Gain:       c.Gain,
		NumSamples: c.NumSamples,
		Channels:   c.Channels,
		Duration:   c.Duration(),
	})
	return err
}

func devicesCommand(ctx context.Context, args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("devices", pflag.ContinueOnError)
	timeout := fs.Duration("timeout", 2*time.Second, "How long to browse")
	if err := fs.Parse(args); err != nil {
		return err
	}
	hosts, err := discoverIIOD(ctx, *timeout)
	if err != nil {
		return fmt.Errorf("discover iiod hosts: %w", err)
	}
	if len(hosts) == 0 {
		fmt.Fprintln(stdout, "no iiod hosts found")
		return nil
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTANCE\tHOST\tADDRESS")
	for _, h := range hosts {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", h.Instance, strings.TrimSuffix(h.Hostname, "."), h.Addr())
	}
	return tw.Flush()
}

func historyCommand(ctx context.Context, args []string, lookup func(string) (string, bool), stdout io.Writer) error {
	fs := pflag.NewFlagSet("history", pflag.ContinueOnError)
	path := fs.String("catalog", envString(lookup, envPrefix+"CATALOG", ""), "SQLite catalog to read")
	limit := fs.Int("limit", 20, "Entries to show (0 for all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return fmt.Errorf("%w: --catalog or IQCAP_CATALOG is required", errUsage)
	}
	cat, err := catalog.Open(*path)
	if err != nil {
		return err
	}
	defer cat.Close()

	entries, err := cat.List(ctx, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWHEN\tBACKEND\tFREQ\tRATE\tGAIN\tSAMPLES\tCHANNELS\tPATH")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%g dB\t%s\t%v\t%s\n",
			e.ID, humanize.Time(e.CreatedAt), e.Backend, humanHz(e.CenterFreq), humanHz(e.SampleRate),
			e.Gain, humanize.Comma(int64(e.NumSamples)), e.Channels, e.Path)
	}
	return tw.Flush()
}

func humanHz(hz float64) string {
	v, suffix := humanize.ComputeSI(hz)
	return humanize.FtoaWithDigits(v, 4) + " " + suffix + "Hz"
}
