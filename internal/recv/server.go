package recv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxRequestBytes = 10 << 20 // 10MB

// tenantHeader is read from push requests.
const tenantHeader = "X-Scope-OrgID"

// Options configures a Server. Only Handler is required.
type Options struct {
	Handler Handler
	Metrics *Metrics
	Stats   *Stats
	Logger  *zap.Logger
	// Gatherer backs /metrics. Nil means the default registry.
	Gatherer prometheus.Gatherer
}

// Server is the HTTP receiver server.
type Server struct {
	httpSrv    *http.Server
	handler    Handler
	metrics    *Metrics
	stats      *Stats
	logger     *zap.Logger
	activeConn atomic.Int64
}

// NewServer creates an HTTP server bound to addr.
func NewServer(addr string, opts Options) *Server {
	s := &Server{
		handler: opts.Handler,
		metrics: opts.Metrics,
		stats:   opts.Stats,
		logger:  opts.Logger,
	}
	if s.handler == nil {
		s.handler = HandlerFunc(func([]Entry) {})
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /loki/api/v1/push", s.handlePush)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpSrv.ListenAndServe()
}

// Serve accepts connections on a listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpSrv.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.trackConnOpen()
	defer s.trackConnClose()
	defer func() {
		if s.metrics != nil {
			s.metrics.PushDuration.Observe(time.Since(start).Seconds())
		}
	}()

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	body, err := requestBody(w, r)
	if err != nil {
		s.reject(w, "encoding", http.StatusUnsupportedMediaType, err)
		return
	}
	defer func() { _ = body.Close() }()

	tenant := r.Header.Get(tenantHeader)
	entries, err := DecodePush(body, tenant)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.reject(w, "too_large", http.StatusRequestEntityTooLarge, err)
			return
		}
		s.reject(w, "payload", http.StatusBadRequest, fmt.Errorf("invalid push payload: %w", err))
		return
	}

	var byteCount int
	for _, e := range entries {
		byteCount += len(e.Line)
	}
	s.handler.Handle(entries)

	if s.metrics != nil {
		s.metrics.PushesReceived.Inc()
		s.metrics.LinesReceived.WithLabelValues(tenant).Add(float64(len(entries)))
		s.metrics.BytesReceived.Add(float64(byteCount))
	}
	if s.stats != nil {
		s.stats.RecordPush(entries)
	}
	s.logger.Debug("push received",
		zap.String("remote", stripPort(r.RemoteAddr)),
		zap.String("tenant", tenant),
		zap.Int("lines", len(entries)),
		zap.Int("bytes", byteCount),
		zap.Duration("duration", time.Since(start)),
	)

	w.WriteHeader(http.StatusNoContent)
}

// requestBody returns the decoded request body according to
// Content-Encoding. Decompressed bodies are capped at maxRequestBytes too.
func requestBody(w http.ResponseWriter, r *http.Request) (io.ReadCloser, error) {
	switch enc := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding"))); enc {
	case "", "identity":
		return r.Body, nil
	case "gzip":
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		return http.MaxBytesReader(w, zr, maxRequestBytes), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", enc)
	}
}

func (s *Server) reject(w http.ResponseWriter, reason string, status int, err error) {
	if s.metrics != nil {
		s.metrics.BadRequests.WithLabelValues(reason).Inc()
	}
	s.logger.Warn("push rejected", zap.String("reason", reason), zap.Error(err))
	http.Error(w, err.Error(), status)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) trackConnOpen() {
	n := s.activeConn.Add(1)
	if s.metrics != nil {
		s.metrics.ActiveConnections.Set(float64(n))
	}
}

func (s *Server) trackConnClose() {
	n := s.activeConn.Add(-1)
	if s.metrics != nil {
		s.metrics.ActiveConnections.Set(float64(n))
	}
}

func stripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
