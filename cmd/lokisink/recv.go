package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/lokisink/internal/capture"
	"github.com/ppiankov/lokisink/internal/cli"
	"github.com/ppiankov/lokisink/internal/recv"
)

const shutdownTimeout = 5 * time.Second

type recvFlags struct {
	listen      string
	format      string
	bufSize     int
	summary     bool
	dir         string
	segmentSize string
	maxDisk     string
	compress    bool
}

// captureOptions parses the capture flags. A blank dir disables capture.
func (f recvFlags) captureOptions() (capture.Options, error) {
	opts := capture.Options{Dir: f.dir, Compress: f.compress}
	if f.segmentSize != "" {
		n, err := humanize.ParseBytes(f.segmentSize)
		if err != nil {
			return opts, cli.NewUsageError(fmt.Sprintf("invalid --segment-size: %v", err))
		}
		opts.SegmentBytes = int64(n)
	}
	if f.maxDisk != "" {
		n, err := humanize.ParseBytes(f.maxDisk)
		if err != nil {
			return opts, cli.NewUsageError(fmt.Sprintf("invalid --max-disk: %v", err))
		}
		opts.MaxBytes = int64(n)
	}
	return opts, nil
}

func newRecvCmd() *cobra.Command {
	var f recvFlags

	cmd := &cobra.Command{
		Use:   "recv",
		Short: "Run a local Loki push endpoint and print what arrives",
		Long: `Accept Loki push API payloads on /loki/api/v1/push and print every
entry, either as colored console lines or as JSONL. Useful for checking
what a sink sends before pointing it at a real Loki.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			applyConfigDefaults(cmd)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.format != "console" && f.format != "jsonl" {
				return cli.NewUsageError(fmt.Sprintf("invalid --format %q (want console or jsonl)", f.format))
			}
			if f.bufSize < 1 {
				return cli.NewUsageError("--buffer must be at least 1")
			}
			if _, err := f.captureOptions(); err != nil {
				return err
			}

			logger, err := newLogger(verbose)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ln, err := net.Listen("tcp", f.listen)
			if err != nil {
				return fmt.Errorf("listen %s: %w", f.listen, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runRecv(ctx, ln, f, cmd.OutOrStdout(), cmd.ErrOrStderr(), logger)
		},
	}

	cmd.Flags().StringVar(&f.listen, "listen", ":3100", "address to accept pushes on")
	cmd.Flags().StringVar(&f.format, "format", "console", "output format: console or jsonl")
	cmd.Flags().IntVar(&f.bufSize, "buffer", 65536, "jsonl write buffer, in entries")
	cmd.Flags().BoolVar(&f.summary, "summary", true, "print a traffic summary on exit")
	cmd.Flags().StringVar(&f.dir, "dir", "", "also capture entries as JSONL segments in this directory")
	cmd.Flags().StringVar(&f.segmentSize, "segment-size", "64MB", "capture segment size before rotation")
	cmd.Flags().StringVar(&f.maxDisk, "max-disk", "", "capture directory cap, oldest segments removed first")
	cmd.Flags().BoolVar(&f.compress, "compress", false, "zstd compress sealed capture segments")

	return cmd
}

// runRecv serves pushes on ln until ctx is done or the server fails.
func runRecv(ctx context.Context, ln net.Listener, f recvFlags, stdout, stderr io.Writer, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := recv.NewMetrics(reg)
	stats := recv.NewStats()

	var (
		handler recv.Handler
		writers []*recv.Writer
	)
	switch f.format {
	case "jsonl":
		w := recv.NewWriter(f.bufSize, stdout)
		w.SetDropHook(metrics.LinesDropped.Inc)
		writers = append(writers, w)
		handler = w
	default:
		handler = recv.NewConsolePrinter(stdout)
	}

	var store *capture.Store
	if f.dir != "" {
		copts, err := f.captureOptions()
		if err != nil {
			_ = ln.Close()
			return err
		}
		store, err = capture.Open(copts)
		if err != nil {
			_ = ln.Close()
			return err
		}
		store.OnSeal(func(seg capture.Segment) {
			logger.Info("capture segment sealed",
				zap.String("segment", seg.Name),
				zap.Int64("lines", seg.Lines),
				zap.String("size", humanize.IBytes(uint64(seg.Bytes))),
			)
		})
		w := recv.NewWriter(f.bufSize, store)
		w.SetDropHook(metrics.LinesDropped.Inc)
		writers = append(writers, w)
		handler = recv.Tee(handler, w)
	}

	srv := recv.NewServer(ln.Addr().String(), recv.Options{
		Handler:  handler,
		Metrics:  metrics,
		Stats:    stats,
		Logger:   logger,
		Gatherer: reg,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	logger.Info("receiver listening", zap.String("addr", ln.Addr().String()), zap.String("format", f.format))

	var serveErr error
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("receiver shutdown", zap.Error(err))
		}
		<-errCh
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("serve: %w", err)
		}
	}

	for _, w := range writers {
		w.Close()
		if n := w.Dropped(); n > 0 {
			logger.Warn("output could not keep up, entries dropped", zap.Int64("dropped", n))
		}
	}
	if store != nil {
		if err := store.Close(); err != nil {
			serveErr = errors.Join(serveErr, fmt.Errorf("close capture: %w", err))
		}
		logger.Info("capture closed", zap.String("dir", f.dir), zap.String("usage", humanize.IBytes(uint64(store.Usage()))))
	}
	if f.summary {
		recv.NewConsolePrinter(stderr).PrintSummary(stats.Snapshot())
	}
	return serveErr
}
