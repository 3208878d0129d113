// Package forward posts Loki push payloads over HTTP.
package forward

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	defaultTimeout = 10 * time.Second
	pushPath       = "/loki/api/v1/push"

	// TenantHeader carries the Loki tenant id.
	TenantHeader = "X-Scope-OrgID"
)

var (
	// ErrInvalidTenant is returned when a tenant id contains forbidden characters.
	ErrInvalidTenant = errors.New("invalid tenant id")
	// ErrInvalidHeader is returned for a header that is not a valid RFC 7230 field.
	ErrInvalidHeader = errors.New("invalid header")
)

var (
	tenantChars = regexp.MustCompile(`^[a-zA-Z0-9!._*'()\-]*$`)
	headerToken = regexp.MustCompile("^[A-Za-z0-9!#$%&'*+\\-.^_`|~]+$")
)

// Client is the transport capability the sink posts batches through.
// Header setters are meant to be called before the first Post.
type Client interface {
	Post(ctx context.Context, url string, body io.Reader) (*http.Response, error)
	SetCredentials(c *Credentials)
	SetTenant(tenant string) error
	SetDefaultHeaders(headers map[string]string) error
	Close() error
}

// Credentials holds basic auth login and password.
type Credentials struct {
	Login    string
	Password string
}

func (c *Credentials) empty() bool {
	return c == nil || c.Login == "" || c.Password == ""
}

// EncodedBody is a request body that already carries a content encoding.
// HTTPClient sets Content-Encoding from it.
type EncodedBody interface {
	io.Reader
	ContentEncoding() string
}

// HTTPClient is the plain JSON transport.
type HTTPClient struct {
	client *http.Client

	mu     sync.RWMutex
	header http.Header
}

// NewHTTPClient wraps client. A nil client gets a 10s timeout.
func NewHTTPClient(client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &HTTPClient{client: client, header: make(http.Header)}
}

// NewTLSClient creates an HTTPClient for https targets.
// Set skipVerify to true for self-signed certificates.
func NewTLSClient(skipVerify bool) *HTTPClient {
	return NewHTTPClient(&http.Client{
		Timeout: defaultTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: skipVerify, //nolint:gosec // user-controlled flag for self-signed certs
			},
		},
	})
}

// Post sends body to url with the client's headers. The caller closes the
// response body.
func (c *HTTPClient) Post(ctx context.Context, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if l, ok := body.(interface{ Len() int }); ok && req.ContentLength == 0 {
		req.ContentLength = int64(l.Len())
	}

	c.mu.RLock()
	for k, vs := range c.header {
		req.Header[k] = append([]string(nil), vs...)
	}
	c.mu.RUnlock()

	req.Header.Set("Content-Type", "application/json")
	if eb, ok := body.(EncodedBody); ok && eb.ContentEncoding() != "" {
		req.Header.Set("Content-Encoding", eb.ContentEncoding())
	}

	return c.client.Do(req)
}

// SetCredentials adds basic auth unless credentials are incomplete or an
// Authorization header is already present.
func (c *HTTPClient) SetCredentials(cred *Credentials) {
	if cred.empty() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.header.Get("Authorization") != "" {
		return
	}
	token := base64.StdEncoding.EncodeToString([]byte(cred.Login + ":" + cred.Password))
	c.header.Set("Authorization", "Basic "+token)
}

// SetTenant sets X-Scope-OrgID. An empty tenant is a no-op.
func (c *HTTPClient) SetTenant(tenant string) error {
	if tenant == "" {
		return nil
	}
	if err := ValidateTenant(tenant); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.header.Get(TenantHeader) == "" {
		c.header.Set(TenantHeader, tenant)
	}
	return nil
}

// SetDefaultHeaders adds headers sent with every request. Headers that are
// already set keep their value. Nothing is applied if any header is invalid.
func (c *HTTPClient) SetDefaultHeaders(headers map[string]string) error {
	for k, v := range headers {
		if err := ValidateHeader(k, v); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range headers {
		k = strings.TrimSpace(k)
		if c.header.Get(k) != "" {
			continue
		}
		c.header.Set(k, v)
	}
	return nil
}

// Header returns a copy of the headers sent with every request.
func (c *HTTPClient) Header() http.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.header.Clone()
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// ValidateTenant reports whether tenant is an acceptable Loki tenant id:
// only [a-zA-Z0-9!._*'()-], no "..", and not exactly ".".
func ValidateTenant(tenant string) error {
	if !tenantChars.MatchString(tenant) || strings.Contains(tenant, "..") || tenant == "." {
		return fmt.Errorf("%w: %q", ErrInvalidTenant, tenant)
	}
	return nil
}

// ValidateHeader checks that key is a token and value is not empty.
func ValidateHeader(key, value string) error {
	k := strings.TrimSpace(key)
	if k == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidHeader)
	}
	if !headerToken.MatchString(k) {
		return fmt.Errorf("%w: name %q", ErrInvalidHeader, key)
	}
	if value == "" {
		return fmt.Errorf("%w: empty value for %q", ErrInvalidHeader, key)
	}
	return nil
}

// PushURL builds the push endpoint from a base address.
// Targets with an explicit scheme are used as-is; plain host:port defaults
// to http://.
func PushURL(base string) string {
	return TargetURL(base, pushPath)
}

// TargetURL constructs a URL for the given target and path, respecting scheme prefixes.
func TargetURL(target, path string) string {
	target = strings.TrimRight(target, "/")
	if strings.HasPrefix(target, "https://") || strings.HasPrefix(target, "http://") {
		return target + path
	}
	return "http://" + target + path
}
