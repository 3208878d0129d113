package sink

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/lokisink/internal/forward"
	"github.com/ppiankov/lokisink/internal/logtypes"
	"github.com/ppiankov/lokisink/internal/loki"
)

// Defaults applied by New to zero-valued options.
const (
	DefaultBatchPostingLimit = 1000
	DefaultPeriod            = time.Second
	DefaultRequestTimeout    = 10 * time.Second
)

// ErrInvalidOptions is returned by New for unusable options.
var ErrInvalidOptions = errors.New("invalid sink options")

// Options configures a Sink.
type Options struct {
	// URL is the Loki base address; /loki/api/v1/push is appended.
	URL string

	// Labels are attached to every stream.
	Labels map[string]string
	// PropertiesAsLabels names record properties promoted to stream labels.
	PropertiesAsLabels []string
	// PropertiesAsStructuredMetadata names record properties sent as
	// structured metadata.
	PropertiesAsStructuredMetadata []string
	// LeavePropertiesIntact keeps promoted properties in the line body.
	LeavePropertiesIntact bool
	// CreateLevelLabel adds a "level" label.
	CreateLevelLabel bool
	// UseInternalTimestamp stamps entries with the time Emit accepted them.
	UseInternalTimestamp bool

	Credentials *forward.Credentials
	Tenant      string
	Headers     map[string]string

	// MinimumLevel filters records in Emit.
	MinimumLevel logtypes.Level

	// BatchPostingLimit caps the events sent in one request. Zero means
	// DefaultBatchPostingLimit.
	BatchPostingLimit int
	// QueueLimit caps queued events; nil means unbounded.
	QueueLimit *int
	// Period between flushes while Loki is healthy. Zero means DefaultPeriod.
	Period time.Duration
	// RequestTimeout bounds each push request. Zero means
	// DefaultRequestTimeout.
	RequestTimeout time.Duration

	// TextFormatter renders line bodies. Nil means loki.JSONTextFormatter
	// using Renaming.
	TextFormatter loki.TextFormatter
	// Renaming resolves property names that collide with reserved fields.
	Renaming loki.RenamingStrategy
	// Client posts payloads. Nil means a forward.HTTPClient.
	Client forward.Client
	// Gzip compresses request bodies.
	Gzip bool

	Logger  *zap.Logger
	Metrics *Metrics

	// Now returns the time recorded as an event's internal timestamp.
	// Nil means time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() (Options, error) {
	if strings.TrimSpace(o.URL) == "" {
		return o, fmt.Errorf("%w: url is required", ErrInvalidOptions)
	}
	if o.BatchPostingLimit < 0 {
		return o, fmt.Errorf("%w: batch posting limit must be positive, got %d", ErrInvalidOptions, o.BatchPostingLimit)
	}
	if o.BatchPostingLimit == 0 {
		o.BatchPostingLimit = DefaultBatchPostingLimit
	}
	if o.Period == 0 {
		o.Period = DefaultPeriod
	}
	if o.RequestTimeout < 0 {
		return o, fmt.Errorf("%w: request timeout must not be negative, got %s", ErrInvalidOptions, o.RequestTimeout)
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.Renaming == nil {
		o.Renaming = loki.DefaultRenaming
	}
	if o.TextFormatter == nil {
		o.TextFormatter = loki.JSONTextFormatter{Renaming: o.Renaming}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o, nil
}
