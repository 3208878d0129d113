package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hpcloud/tail"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/lokisink/internal/cli"
	"github.com/ppiankov/lokisink/internal/config"
	"github.com/ppiankov/lokisink/internal/forward"
	"github.com/ppiankov/lokisink/internal/logtypes"
	"github.com/ppiankov/lokisink/internal/loki"
	"github.com/ppiankov/lokisink/internal/sink"
)

const maxLineBytes = 1 << 20 // 1MB

type shipFlags struct {
	url              string
	labels           []string
	tenant           string
	user             string
	password         string
	gzip             bool
	batchLimit       int
	queueLimit       int
	period           string
	minLevel         string
	recordLevel      string
	formatter        string
	createLevelLabel bool
	tlsSkipVerify    bool
	metricsAddr      string
	file             string
	follow           bool
	fromStart        bool
}

func newShipCmd() *cobra.Command {
	var f shipFlags

	cmd := &cobra.Command{
		Use:   "ship",
		Short: "Read log lines from stdin or a file and ship them to Loki",
		Long: `Ship reads stdin (or --file) line by line, queues every line as one log
record and posts them to Loki in batches. On EOF or SIGINT/SIGTERM the
queue is flushed once before exiting. With --follow the file is tailed
until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyConfigDefaults(cmd)

			opts, err := shipOptions(cmd, f)
			if err != nil {
				return err
			}
			recordLevel, err := logtypes.ParseLevel(f.recordLevel)
			if err != nil {
				return cli.NewUsageError(fmt.Sprintf("invalid --record-level: %v", err))
			}
			if (f.follow || f.fromStart) && f.file == "" {
				return cli.NewUsageError("--follow and --from-start need --file")
			}

			logger, err := newLogger(verbose)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			opts.Logger = logger

			var metricsSrv *http.Server
			if f.metricsAddr != "" {
				reg := prometheus.NewRegistry()
				opts.Metrics = sink.NewMetrics(reg)
				metricsSrv = serveMetrics(f.metricsAddr, reg, logger)
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = metricsSrv.Shutdown(ctx)
				}()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			read := scanLines(cmd.InOrStdin())
			if f.file != "" {
				t, err := openTail(f.file, f.follow, f.fromStart)
				if err != nil {
					return err
				}
				defer t.Cleanup()
				defer func() { _ = t.Stop() }()
				read = tailLines(t)
			} else if cmd.InOrStdin() == os.Stdin && stdinIsTerminal() {
				logger.Info("reading log lines from the terminal, Ctrl-D to finish")
			}
			return runShip(ctx, read, opts, recordLevel)
		},
	}

	f.register(cmd)

	return cmd
}

func (f *shipFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.url, "url", "", "Loki base URL, e.g. http://loki:3100")
	fs.StringArrayVarP(&f.labels, "label", "l", nil, "static stream label key=value (repeatable)")
	fs.StringVar(&f.tenant, "tenant", "", "tenant id sent as X-Scope-OrgID")
	fs.StringVar(&f.user, "user", "", "basic auth login")
	fs.StringVar(&f.password, "password", "", "basic auth password")
	fs.BoolVar(&f.gzip, "gzip", false, "gzip request bodies")
	fs.IntVar(&f.batchLimit, "batch-limit", sink.DefaultBatchPostingLimit, "max events per push request")
	fs.IntVar(&f.queueLimit, "queue-limit", 0, "max queued events, 0 for unbounded")
	fs.StringVar(&f.period, "period", sink.DefaultPeriod.String(), "flush period while Loki is healthy")
	fs.StringVar(&f.minLevel, "level", "", "minimum level to ship")
	fs.StringVar(&f.recordLevel, "record-level", "info", "level assigned to every stdin line")
	fs.StringVar(&f.formatter, "formatter", "", "line body format: json or plain")
	fs.BoolVar(&f.createLevelLabel, "level-label", false, "add a level stream label")
	fs.BoolVar(&f.tlsSkipVerify, "tls-skip-verify", false, "skip TLS certificate verification")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.StringVarP(&f.file, "file", "f", "", "read lines from this file instead of stdin")
	fs.BoolVar(&f.follow, "follow", false, "keep reading --file as it grows, across rotation")
	fs.BoolVar(&f.fromStart, "from-start", false, "with --follow, ship the existing content first")
}

// shipOptions layers explicitly set flags over the loaded configuration.
func shipOptions(cmd *cobra.Command, f shipFlags) (sink.Options, error) {
	c := cfg
	if c == nil {
		c = &config.Config{}
	}
	opts, err := c.SinkOptions()
	if err != nil {
		return sink.Options{}, cli.NewConfigError(err)
	}

	changed := cmd.Flags().Changed
	if changed("url") {
		opts.URL = f.url
	}
	if opts.URL == "" {
		return sink.Options{}, cli.NewUsageError("--url is required (or set sink.url / LOKISINK_URL)")
	}
	if changed("label") {
		labels, err := config.ParsePairs(f.labels)
		if err != nil {
			return sink.Options{}, cli.NewUsageError(fmt.Sprintf("invalid --label: %v", err))
		}
		merged := maps.Clone(opts.Labels)
		if merged == nil {
			merged = make(map[string]string, len(labels))
		}
		maps.Copy(merged, labels)
		opts.Labels = merged
	}
	if changed("tenant") {
		opts.Tenant = f.tenant
	}
	if changed("user") || changed("password") {
		cred := forward.Credentials{}
		if opts.Credentials != nil {
			cred = *opts.Credentials
		}
		if changed("user") {
			cred.Login = f.user
		}
		if changed("password") {
			cred.Password = f.password
		}
		opts.Credentials = &cred
	}
	if changed("gzip") {
		opts.Gzip = f.gzip
	}
	if changed("batch-limit") {
		opts.BatchPostingLimit = f.batchLimit
	}
	if changed("queue-limit") {
		if f.queueLimit == 0 {
			opts.QueueLimit = nil
		} else {
			n := f.queueLimit
			opts.QueueLimit = &n
		}
	}
	if changed("period") {
		d, err := time.ParseDuration(f.period)
		if err != nil {
			return sink.Options{}, cli.NewUsageError(fmt.Sprintf("invalid --period: %v", err))
		}
		opts.Period = d
	}
	if changed("level") {
		lvl, err := logtypes.ParseLevel(f.minLevel)
		if err != nil {
			return sink.Options{}, cli.NewUsageError(fmt.Sprintf("invalid --level: %v", err))
		}
		opts.MinimumLevel = lvl
	}
	if changed("formatter") {
		switch f.formatter {
		case "json":
			opts.TextFormatter = nil
		case "plain":
			opts.TextFormatter = loki.PlainTextFormatter{}
		default:
			return sink.Options{}, cli.NewUsageError(fmt.Sprintf("invalid --formatter %q (want json or plain)", f.formatter))
		}
	}
	if changed("level-label") {
		opts.CreateLevelLabel = f.createLevelLabel
	}
	if changed("tls-skip-verify") && f.tlsSkipVerify {
		opts.Client = forward.NewTLSClient(true)
	}
	return opts, nil
}

// lineReader feeds lines to emit until its source is exhausted.
type lineReader func(emit func(line string, ts time.Time)) error

// scanLines reads newline separated lines from in.
func scanLines(in io.Reader) lineReader {
	return func(emit func(string, time.Time)) error {
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
		for sc.Scan() {
			emit(sc.Text(), time.Now())
		}
		if err := sc.Err(); err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		return nil
	}
}

// tailLines reads from a tailed file until the tail stops.
func tailLines(t *tail.Tail) lineReader {
	return func(emit func(string, time.Time)) error {
		for line := range t.Lines {
			if line.Err != nil {
				return fmt.Errorf("tail %s: %w", t.Filename, line.Err)
			}
			emit(line.Text, line.Time)
		}
		return nil
	}
}

// openTail starts tailing path. Following starts at the end of the file
// unless fromStart is set; a one-shot read always starts at the top.
func openTail(path string, follow, fromStart bool) (*tail.Tail, error) {
	tc := tail.Config{
		Follow:    follow,
		ReOpen:    follow,
		Poll:      true,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	}
	if follow && !fromStart {
		tc.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
	}
	t, err := tail.TailFile(path, tc)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return t, nil
}

// runShip emits one record per non-empty line until the reader is done
// or ctx is cancelled, then closes the sink, which flushes what is still
// queued.
func runShip(ctx context.Context, read lineReader, opts sink.Options, level logtypes.Level) error {
	s, err := sink.New(opts)
	if err != nil {
		return err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("shipping lines",
		zap.String("url", forward.PushURL(opts.URL)),
		zap.Int("batchLimit", opts.BatchPostingLimit),
	)

	done := make(chan error, 1)
	go func() {
		done <- read(func(line string, ts time.Time) {
			if line == "" {
				return
			}
			s.Emit(logtypes.LogRecord{
				Timestamp:       ts,
				Level:           level,
				MessageTemplate: line,
				RenderedMessage: line,
			})
		})
	}()

	var readErr error
	select {
	case readErr = <-done:
	case <-ctx.Done():
		logger.Info("interrupted, flushing queue", zap.Int("queued", s.QueueLength()))
	}

	return errors.Join(readErr, s.Close())
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	return srv
}

// stdinIsTerminal reports whether stdin is an interactive terminal.
func stdinIsTerminal() bool {
	fi, err := os.Stdin.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
