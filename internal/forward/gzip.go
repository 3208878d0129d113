package forward

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/klauspost/compress/gzip"
)

// GzipClient compresses request bodies before handing them to the wrapped
// Client.
type GzipClient struct {
	next  Client
	level int
}

// NewGzipClient wraps next. Level follows compress/gzip; 0 selects the
// default compression.
func NewGzipClient(next Client, level int) (*GzipClient, error) {
	if next == nil {
		next = NewHTTPClient(nil)
	}
	if level == 0 {
		level = gzip.DefaultCompression
	}
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		return nil, fmt.Errorf("invalid gzip level %d", level)
	}
	return &GzipClient{next: next, level: level}, nil
}

type gzipBody struct {
	*bytes.Reader
}

func (gzipBody) ContentEncoding() string { return "gzip" }

// Post gzips body and posts it with Content-Encoding: gzip.
func (g *GzipClient) Post(ctx context.Context, url string, body io.Reader) (*http.Response, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, g.level)
	if err != nil {
		return nil, fmt.Errorf("gzip writer: %w", err)
	}
	if _, err := io.Copy(zw, body); err != nil {
		return nil, fmt.Errorf("gzip body: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return g.next.Post(ctx, url, gzipBody{bytes.NewReader(buf.Bytes())})
}

// SetCredentials forwards to the wrapped client.
func (g *GzipClient) SetCredentials(c *Credentials) { g.next.SetCredentials(c) }

// SetTenant forwards to the wrapped client.
func (g *GzipClient) SetTenant(tenant string) error { return g.next.SetTenant(tenant) }

// SetDefaultHeaders forwards to the wrapped client.
func (g *GzipClient) SetDefaultHeaders(h map[string]string) error { return g.next.SetDefaultHeaders(h) }

// Close closes the wrapped client.
func (g *GzipClient) Close() error { return g.next.Close() }
