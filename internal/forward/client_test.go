package forward

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func noContent() *http.Response {
	return &http.Response{
		StatusCode: http.StatusNoContent,
		Body:       io.NopCloser(bytes.NewReader(nil)),
		Header:     make(http.Header),
	}
}

func capture(got **http.Request, body *[]byte) *http.Client {
	return &http.Client{
		Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			*got = r
			b, err := io.ReadAll(r.Body)
			if err != nil {
				return nil, err
			}
			*body = b
			return noContent(), nil
		}),
	}
}

func TestPost_JSONContentType(t *testing.T) {
	var req *http.Request
	var body []byte
	c := NewHTTPClient(capture(&req, &body))

	resp, err := c.Post(context.Background(), "http://loki:3100/loki/api/v1/push", strings.NewReader(`{"streams":[]}`))
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()

	if req.Method != http.MethodPost {
		t.Errorf("method = %s, want POST", req.Method)
	}
	if ct := req.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if ce := req.Header.Get("Content-Encoding"); ce != "" {
		t.Errorf("Content-Encoding = %q, want empty", ce)
	}
	if string(body) != `{"streams":[]}` {
		t.Errorf("body = %q", body)
	}
}

func TestPost_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(nil)
	defer func() { _ = c.Close() }()

	resp, err := c.Post(context.Background(), PushURL(srv.URL), strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestPost_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewHTTPClient(nil)
	_, err := c.Post(ctx, "http://localhost:9999/loki/api/v1/push", strings.NewReader("{}"))
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestSetCredentials(t *testing.T) {
	c := NewHTTPClient(nil)
	c.SetCredentials(&Credentials{Login: "user", Password: "secret"})

	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("user:secret"))
	if got := c.Header().Get("Authorization"); got != want {
		t.Errorf("Authorization = %q, want %q", got, want)
	}

	// second call keeps the first value
	c.SetCredentials(&Credentials{Login: "other", Password: "x"})
	if got := c.Header().Get("Authorization"); got != want {
		t.Errorf("Authorization overwritten: %q", got)
	}
}

func TestSetCredentials_Incomplete(t *testing.T) {
	tests := []*Credentials{
		nil,
		{},
		{Login: "user"},
		{Password: "secret"},
	}
	for _, cred := range tests {
		c := NewHTTPClient(nil)
		c.SetCredentials(cred)
		if got := c.Header().Get("Authorization"); got != "" {
			t.Errorf("SetCredentials(%+v): Authorization = %q, want empty", cred, got)
		}
	}
}

func TestSetCredentials_ExistingAuthorization(t *testing.T) {
	c := NewHTTPClient(nil)
	if err := c.SetDefaultHeaders(map[string]string{"Authorization": "Bearer abc"}); err != nil {
		t.Fatal(err)
	}
	c.SetCredentials(&Credentials{Login: "user", Password: "secret"})
	if got := c.Header().Get("Authorization"); got != "Bearer abc" {
		t.Errorf("Authorization = %q, want Bearer abc", got)
	}
}

func TestValidateTenant(t *testing.T) {
	tests := []struct {
		tenant string
		ok     bool
	}{
		{"", true},
		{"tenant1", true},
		{"a-b_c'()!*.", true},
		{"team.prod", true},
		{"a..b", false},
		{".", false},
		{"..", false},
		{"has space", false},
		{"slash/tenant", false},
		{"colon:x", false},
		{"ümlaut", false},
	}
	for _, tt := range tests {
		err := ValidateTenant(tt.tenant)
		if tt.ok && err != nil {
			t.Errorf("ValidateTenant(%q) = %v, want nil", tt.tenant, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidTenant) {
			t.Errorf("ValidateTenant(%q) = %v, want ErrInvalidTenant", tt.tenant, err)
		}
	}
}

func TestSetTenant(t *testing.T) {
	c := NewHTTPClient(nil)
	if err := c.SetTenant("a..b"); !errors.Is(err, ErrInvalidTenant) {
		t.Fatalf("err = %v, want ErrInvalidTenant", err)
	}
	if got := c.Header().Get(TenantHeader); got != "" {
		t.Errorf("invalid tenant was applied: %q", got)
	}

	if err := c.SetTenant(""); err != nil {
		t.Fatalf("empty tenant: %v", err)
	}
	if err := c.SetTenant("a-b_c'()!*."); err != nil {
		t.Fatal(err)
	}
	if err := c.SetTenant("second"); err != nil {
		t.Fatal(err)
	}
	if got := c.Header().Get(TenantHeader); got != "a-b_c'()!*." {
		t.Errorf("%s = %q, want first tenant", TenantHeader, got)
	}
}

func TestSetDefaultHeaders(t *testing.T) {
	c := NewHTTPClient(nil)
	if err := c.SetDefaultHeaders(map[string]string{"X-Team": "core", "X-Env": "prod"}); err != nil {
		t.Fatal(err)
	}
	if err := c.SetDefaultHeaders(map[string]string{"X-Team": "other"}); err != nil {
		t.Fatal(err)
	}
	h := c.Header()
	if h.Get("X-Team") != "core" {
		t.Errorf("X-Team = %q, want core", h.Get("X-Team"))
	}
	if h.Get("X-Env") != "prod" {
		t.Errorf("X-Env = %q, want prod", h.Get("X-Env"))
	}
}

func TestSetDefaultHeaders_Invalid(t *testing.T) {
	tests := []map[string]string{
		{"": "v"},
		{"   ": "v"},
		{"Bad Header": "v"},
		{"X-Colon:": "v"},
		{"X-Empty": ""},
	}
	for _, h := range tests {
		c := NewHTTPClient(nil)
		if err := c.SetDefaultHeaders(h); !errors.Is(err, ErrInvalidHeader) {
			t.Errorf("SetDefaultHeaders(%v) = %v, want ErrInvalidHeader", h, err)
		}
		if len(c.Header()) != 0 {
			t.Errorf("SetDefaultHeaders(%v) applied headers: %v", h, c.Header())
		}
	}
}

func TestPost_SendsDefaultHeaders(t *testing.T) {
	var req *http.Request
	var body []byte
	c := NewHTTPClient(capture(&req, &body))
	c.SetCredentials(&Credentials{Login: "u", Password: "p"})
	if err := c.SetTenant("acme"); err != nil {
		t.Fatal(err)
	}
	if err := c.SetDefaultHeaders(map[string]string{"X-Custom": "1"}); err != nil {
		t.Fatal(err)
	}

	resp, err := c.Post(context.Background(), "http://loki/loki/api/v1/push", strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()

	if req.Header.Get(TenantHeader) != "acme" {
		t.Errorf("tenant header = %q", req.Header.Get(TenantHeader))
	}
	if req.Header.Get("X-Custom") != "1" {
		t.Errorf("X-Custom = %q", req.Header.Get("X-Custom"))
	}
	if u, p, ok := req.BasicAuth(); !ok || u != "u" || p != "p" {
		t.Errorf("BasicAuth = %q %q %v", u, p, ok)
	}
}

func TestGzipClient_Post(t *testing.T) {
	var req *http.Request
	var body []byte
	inner := NewHTTPClient(capture(&req, &body))
	g, err := NewGzipClient(inner, 0)
	if err != nil {
		t.Fatal(err)
	}

	payload := `{"streams":[{"stream":{"app":"x"},"values":[["1","hello"]]}]}`
	resp, err := g.Post(context.Background(), "http://loki/loki/api/v1/push", strings.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()

	if ce := req.Header.Get("Content-Encoding"); ce != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", ce)
	}
	if req.ContentLength != int64(len(body)) {
		t.Errorf("ContentLength = %d, want %d", req.ContentLength, len(body))
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	plain, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if string(plain) != payload {
		t.Errorf("decompressed = %q, want %q", plain, payload)
	}
}

func TestGzipClient_Delegates(t *testing.T) {
	inner := NewHTTPClient(nil)
	g, err := NewGzipClient(inner, 0)
	if err != nil {
		t.Fatal(err)
	}
	g.SetCredentials(&Credentials{Login: "u", Password: "p"})
	if err := g.SetTenant("t1"); err != nil {
		t.Fatal(err)
	}
	if err := g.SetTenant("a..b"); !errors.Is(err, ErrInvalidTenant) {
		t.Errorf("SetTenant(a..b) = %v, want ErrInvalidTenant", err)
	}
	if err := g.SetDefaultHeaders(map[string]string{"X-A": "b"}); err != nil {
		t.Fatal(err)
	}
	h := inner.Header()
	if h.Get("Authorization") == "" || h.Get(TenantHeader) != "t1" || h.Get("X-A") != "b" {
		t.Errorf("inner headers = %v", h)
	}
	if err := g.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
}

func TestNewGzipClient_InvalidLevel(t *testing.T) {
	if _, err := NewGzipClient(nil, 42); err == nil {
		t.Fatal("expected error for level 42")
	}
}

func TestPushURL(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{"receiver:3100", "http://receiver:3100/loki/api/v1/push"},
		{"http://receiver:3100", "http://receiver:3100/loki/api/v1/push"},
		{"https://receiver:3100", "https://receiver:3100/loki/api/v1/push"},
		{"https://receiver:3100/", "https://receiver:3100/loki/api/v1/push"},
		{"http://loki:3100//", "http://loki:3100/loki/api/v1/push"},
	}
	for _, tt := range tests {
		got := PushURL(tt.target)
		if got != tt.want {
			t.Errorf("PushURL(%q) = %q, want %q", tt.target, got, tt.want)
		}
	}
}

func TestTargetURL(t *testing.T) {
	tests := []struct {
		target, path, want string
	}{
		{"receiver:3100", "/metrics", "http://receiver:3100/metrics"},
		{"https://receiver:3100", "/metrics", "https://receiver:3100/metrics"},
		{"http://receiver:3100", "/healthz", "http://receiver:3100/healthz"},
	}
	for _, tt := range tests {
		got := TargetURL(tt.target, tt.path)
		if got != tt.want {
			t.Errorf("TargetURL(%q, %q) = %q, want %q", tt.target, tt.path, got, tt.want)
		}
	}
}

func TestNewTLSClient(t *testing.T) {
	c := NewTLSClient(true)
	if c == nil {
		t.Fatal("expected non-nil client")
	}
	tr, ok := c.client.Transport.(*http.Transport)
	if !ok || !tr.TLSClientConfig.InsecureSkipVerify {
		t.Error("expected InsecureSkipVerify transport")
	}
}
