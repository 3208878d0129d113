package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/lokisink/internal/forward"
	"github.com/ppiankov/lokisink/internal/logtypes"
	"github.com/ppiankov/lokisink/internal/loki"
	"github.com/ppiankov/lokisink/internal/sink"
)

// Config holds persistent defaults loaded from config files.
type Config struct {
	Sink     SinkConfig     `yaml:"sink"`
	Recv     RecvConfig     `yaml:"recv"`
	Defaults DefaultsConfig `yaml:"defaults"`

	// envErrs collects environment values that could not be parsed.
	envErrs error
}

// SinkConfig holds shipping defaults.
type SinkConfig struct {
	URL                   string            `yaml:"url"`
	Labels                map[string]string `yaml:"labels"`
	PropertiesAsLabels    []string          `yaml:"properties_as_labels"`
	StructuredMetadata    []string          `yaml:"structured_metadata"`
	LeavePropertiesIntact bool              `yaml:"leave_properties_intact"`
	CreateLevelLabel      bool              `yaml:"create_level_label"`
	UseInternalTimestamp  bool              `yaml:"use_internal_timestamp"`
	Login                 string            `yaml:"login"`
	Password              string            `yaml:"password"`
	Tenant                string            `yaml:"tenant"`
	Headers               map[string]string `yaml:"headers"`
	MinimumLevel          string            `yaml:"minimum_level"`
	BatchPostingLimit     int               `yaml:"batch_posting_limit"`
	QueueLimit            *int              `yaml:"queue_limit"`
	Period                string            `yaml:"period"`
	RequestTimeout        string            `yaml:"request_timeout"`
	Gzip                  bool              `yaml:"gzip"`
	Formatter             string            `yaml:"formatter"`
	TLSSkipVerify         bool              `yaml:"tls_skip_verify"`
}

// RecvConfig holds debug receiver defaults.
type RecvConfig struct {
	Addr        string `yaml:"addr"`
	Dir         string `yaml:"dir"`
	SegmentSize string `yaml:"segment_size"`
	MaxDisk     string `yaml:"max_disk"`
}

// DefaultsConfig holds global defaults.
type DefaultsConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	Verbose     bool   `yaml:"verbose"`
}

// Load reads config from ~/.lokisink/config.yaml then CWD .lokisink.yaml.
// CWD config values override home config. Missing files are not errors.
// Environment variables (LOKISINK_*) override config file values.
func Load() *Config {
	cfg := &Config{}

	// home config
	if home, err := os.UserHomeDir(); err == nil {
		_ = loadFile(filepath.Join(home, ".lokisink", "config.yaml"), cfg)
	}

	// CWD config overrides
	_ = loadFile(".lokisink.yaml", cfg)

	// env overrides
	applyEnv(cfg)

	return cfg
}

// LoadFrom reads config from a specific path. Used for testing.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{}
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnv(cfg *Config) {
	s := &cfg.Sink
	if v := os.Getenv("LOKISINK_URL"); v != "" {
		s.URL = v
	}
	if v := os.Getenv("LOKISINK_LABELS"); v != "" {
		labels, err := ParsePairs(strings.Split(v, ","))
		cfg.envErrs = multierr.Append(cfg.envErrs, envErr("LOKISINK_LABELS", err))
		if err == nil {
			s.Labels = labels
		}
	}
	if v := os.Getenv("LOKISINK_PROPERTIES_AS_LABELS"); v != "" {
		s.PropertiesAsLabels = splitList(v)
	}
	if v := os.Getenv("LOKISINK_STRUCTURED_METADATA"); v != "" {
		s.StructuredMetadata = splitList(v)
	}
	if v := os.Getenv("LOKISINK_LEAVE_PROPERTIES_INTACT"); v != "" {
		s.LeavePropertiesIntact = parseBool(v)
	}
	if v := os.Getenv("LOKISINK_CREATE_LEVEL_LABEL"); v != "" {
		s.CreateLevelLabel = parseBool(v)
	}
	if v := os.Getenv("LOKISINK_USE_INTERNAL_TIMESTAMP"); v != "" {
		s.UseInternalTimestamp = parseBool(v)
	}
	if v := os.Getenv("LOKISINK_LOGIN"); v != "" {
		s.Login = v
	}
	if v := os.Getenv("LOKISINK_PASSWORD"); v != "" {
		s.Password = v
	}
	if v := os.Getenv("LOKISINK_TENANT"); v != "" {
		s.Tenant = v
	}
	if v := os.Getenv("LOKISINK_HEADERS"); v != "" {
		headers, err := ParsePairs(strings.Split(v, ","))
		cfg.envErrs = multierr.Append(cfg.envErrs, envErr("LOKISINK_HEADERS", err))
		if err == nil {
			s.Headers = headers
		}
	}
	if v := os.Getenv("LOKISINK_MINIMUM_LEVEL"); v != "" {
		s.MinimumLevel = v
	}
	if v := os.Getenv("LOKISINK_BATCH_POSTING_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		cfg.envErrs = multierr.Append(cfg.envErrs, envErr("LOKISINK_BATCH_POSTING_LIMIT", err))
		if err == nil {
			s.BatchPostingLimit = n
		}
	}
	if v := os.Getenv("LOKISINK_QUEUE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		cfg.envErrs = multierr.Append(cfg.envErrs, envErr("LOKISINK_QUEUE_LIMIT", err))
		if err == nil {
			s.QueueLimit = &n
		}
	}
	if v := os.Getenv("LOKISINK_PERIOD"); v != "" {
		s.Period = v
	}
	if v := os.Getenv("LOKISINK_REQUEST_TIMEOUT"); v != "" {
		s.RequestTimeout = v
	}
	if v := os.Getenv("LOKISINK_GZIP"); v != "" {
		s.Gzip = parseBool(v)
	}
	if v := os.Getenv("LOKISINK_FORMATTER"); v != "" {
		s.Formatter = v
	}
	if v := os.Getenv("LOKISINK_TLS_SKIP_VERIFY"); v != "" {
		s.TLSSkipVerify = parseBool(v)
	}
	if v := os.Getenv("LOKISINK_RECV_ADDR"); v != "" {
		cfg.Recv.Addr = v
	}
	if v := os.Getenv("LOKISINK_RECV_DIR"); v != "" {
		cfg.Recv.Dir = v
	}
	if v := os.Getenv("LOKISINK_RECV_MAX_DISK"); v != "" {
		cfg.Recv.MaxDisk = v
	}
	if v := os.Getenv("LOKISINK_METRICS_ADDR"); v != "" {
		cfg.Defaults.MetricsAddr = v
	}
	if v := os.Getenv("LOKISINK_VERBOSE"); v != "" {
		cfg.Defaults.Verbose = parseBool(v)
	}
}

func envErr(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParsePairs parses key=value items into a map. Empty items are skipped.
func ParsePairs(items []string) (map[string]string, error) {
	out := make(map[string]string, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		k, v, ok := strings.Cut(item, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid pair %q, want key=value", item)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

// SinkOptions converts the sink section into sink.Options. Durations,
// levels and formatter names are validated here; the sink validates the
// rest when it is built.
func (c *Config) SinkOptions() (sink.Options, error) {
	s := c.Sink
	errs := c.envErrs

	opts := sink.Options{
		URL:                            s.URL,
		Labels:                         s.Labels,
		PropertiesAsLabels:             s.PropertiesAsLabels,
		PropertiesAsStructuredMetadata: s.StructuredMetadata,
		LeavePropertiesIntact:          s.LeavePropertiesIntact,
		CreateLevelLabel:               s.CreateLevelLabel,
		UseInternalTimestamp:           s.UseInternalTimestamp,
		Tenant:                         s.Tenant,
		Headers:                        s.Headers,
		BatchPostingLimit:              s.BatchPostingLimit,
		QueueLimit:                     s.QueueLimit,
		Gzip:                           s.Gzip,
	}
	if s.Login != "" || s.Password != "" {
		opts.Credentials = &forward.Credentials{Login: s.Login, Password: s.Password}
	}
	if s.TLSSkipVerify {
		opts.Client = forward.NewTLSClient(true)
	}

	if s.MinimumLevel != "" {
		lvl, err := logtypes.ParseLevel(s.MinimumLevel)
		errs = multierr.Append(errs, field("minimum_level", err))
		opts.MinimumLevel = lvl
	}

	var err error
	opts.Period, err = parseDuration(s.Period)
	errs = multierr.Append(errs, field("period", err))
	opts.RequestTimeout, err = parseDuration(s.RequestTimeout)
	errs = multierr.Append(errs, field("request_timeout", err))

	switch strings.ToLower(s.Formatter) {
	case "", "json":
	case "plain", "text":
		opts.TextFormatter = loki.PlainTextFormatter{}
	default:
		errs = multierr.Append(errs, fmt.Errorf("formatter: unknown formatter %q (want json or plain)", s.Formatter))
	}

	if errs != nil {
		return sink.Options{}, fmt.Errorf("invalid config: %w", errs)
	}
	return opts, nil
}

func field(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func parseDuration(v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	return time.ParseDuration(v)
}
