package remote

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/klauspost/compress/gzip"
)

func newTestClient(t *testing.T, opts Options) *HTTPClient {
	t.Helper()
	client, err := NewHTTPClient(opts)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	client.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return client
}

func TestNewHTTPClientUsesConfiguredTimeout(t *testing.T) {
	client := newTestClient(t, Options{Timeout: 45 * time.Second})
	if client.Timeout() != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout())
	}
	if _, err := NewHTTPClient(Options{Proxy: "://bad"}); err == nil {
		t.Fatalf("invalid proxy url should fail")
	}
}

func TestHTTPClientSizeAndFetch(t *testing.T) {
	payload := []byte("specs body")
	var heads, gets int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "gemsync" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		if r.Method == http.MethodHead {
			atomic.AddInt32(&heads, 1)
			return
		}
		atomic.AddInt32(&gets, 1)
		_, _ = w.Write(payload)
	}))
	defer upstream.Close()

	client := newTestClient(t, Options{})
	size, err := client.Size(context.Background(), upstream.URL+"/specs.4.8.gz")
	if err != nil {
		t.Fatalf("size failed: %v", err)
	}
	if size != int64(len(payload)) {
		t.Fatalf("unexpected size %d", size)
	}
	if atomic.LoadInt32(&gets) != 0 {
		t.Fatalf("size probe must not download the body")
	}

	body, err := client.FetchPath(context.Background(), upstream.URL+"/specs.4.8.gz")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("unexpected body %q", body)
	}
	if atomic.LoadInt32(&heads) != 1 || atomic.LoadInt32(&gets) != 1 {
		t.Fatalf("unexpected request counts head=%d get=%d", heads, gets)
	}
}

func TestHTTPClientKeepsGzipContentEncodedBody(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte("--- []\n"))
	_ = zw.Close()
	payload := buf.Bytes()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if enc := r.Header.Get("Accept-Encoding"); enc == "gzip" {
			t.Errorf("client should not negotiate transparent gzip, got %q", enc)
		}
		w.Header().Set("Content-Type", "application/x-gzip")
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(payload)
	}))
	defer upstream.Close()

	client := newTestClient(t, Options{})
	size, err := client.Size(context.Background(), upstream.URL+"/specs.4.8.gz")
	if err != nil {
		t.Fatalf("size failed: %v", err)
	}
	body, err := client.FetchPath(context.Background(), upstream.URL+"/specs.4.8.gz")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if !bytes.Equal(body, payload) {
		t.Fatalf("body must be the raw gzip blob, got %d bytes want %d", len(body), len(payload))
	}
	if size != int64(len(body)) {
		t.Fatalf("HEAD size %d must equal downloaded length %d", size, len(body))
	}
	if _, err := gzip.NewReader(bytes.NewReader(body)); err != nil {
		t.Fatalf("downloaded blob is not gzip: %v", err)
	}
}

func TestHTTPClientStopsRetryingWhenContextCanceled(t *testing.T) {
	var calls int32
	ctx, cancel := context.WithCancel(context.Background())
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		cancel()
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	client := newTestClient(t, Options{MaxRetries: 5})
	_, err := client.FetchPath(ctx, upstream.URL+"/x")
	if !IsUnavailable(err) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("canceled context must stop retries, got %d calls", calls)
	}
}

func TestHTTPClientNotFound(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	defer upstream.Close()

	client := newTestClient(t, Options{MaxRetries: 3})
	_, err := client.FetchPath(context.Background(), upstream.URL+"/quick/index.rz")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("NotFoundError should match ErrNotFound")
	}
	if !IsUnavailable(err) {
		t.Fatalf("not found counts as unavailable")
	}
}

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	client := newTestClient(t, Options{MaxRetries: 2})
	body, err := client.FetchPath(context.Background(), upstream.URL+"/x")
	if err != nil {
		t.Fatalf("fetch should succeed after retries: %v", err)
	}
	if string(body) != "ok" || atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("unexpected result body=%q calls=%d", body, calls)
	}
}

func TestHTTPClientGivesUpAfterRetries(t *testing.T) {
	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	client := newTestClient(t, Options{MaxRetries: 1})
	_, err := client.FetchPath(context.Background(), upstream.URL+"/x")
	var netErr *NetworkError
	if !errors.As(err, &netErr) || netErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 NetworkError, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestHTTPClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer upstream.Close()

	client := newTestClient(t, Options{MaxRetries: 5})
	if _, err := client.FetchPath(context.Background(), upstream.URL+"/x"); !IsUnavailable(err) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("4xx must not be retried, got %d calls", calls)
	}
}

func TestHTTPClientBasicAuth(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "ci" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("private"))
	}))
	defer upstream.Close()

	client := newTestClient(t, Options{Username: "ci", Password: "secret"})
	body, err := client.FetchPath(context.Background(), upstream.URL+"/specs.4.8.gz")
	if err != nil || string(body) != "private" {
		t.Fatalf("basic auth request failed: %v %q", err, body)
	}
}

func TestHTTPClientTransportError(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	addr := upstream.URL
	upstream.Close()

	client := newTestClient(t, Options{})
	_, err := client.Size(context.Background(), addr+"/specs.4.8.gz")
	var netErr *NetworkError
	if !errors.As(err, &netErr) || netErr.Status != 0 {
		t.Fatalf("expected transport NetworkError, got %v", err)
	}
}

type stubClient struct {
	name string
}

func (s stubClient) Size(context.Context, string) (int64, error) { return int64(len(s.name)), nil }

func (s stubClient) FetchPath(context.Context, string) ([]byte, error) {
	return []byte(s.name), nil
}

func TestMuxDispatchesByLongestPrefix(t *testing.T) {
	mux := NewMux(nil)
	mux.Handle("https://gems.example.com/", stubClient{name: "root"})
	mux.Handle("https://gems.example.com/private/", stubClient{name: "private"})

	body, err := mux.FetchPath(context.Background(), "https://gems.example.com/private/specs.4.8.gz")
	if err != nil || string(body) != "private" {
		t.Fatalf("expected private client, got %q %v", body, err)
	}
	body, err = mux.FetchPath(context.Background(), "https://gems.example.com/specs.4.8.gz")
	if err != nil || string(body) != "root" {
		t.Fatalf("expected root client, got %q %v", body, err)
	}
	if _, err := mux.Size(context.Background(), "https://other.example.com/x"); !IsUnavailable(err) {
		t.Fatalf("unregistered url without fallback should fail, got %v", err)
	}

	withFallback := NewMux(stubClient{name: "fallback"})
	if size, err := withFallback.Size(context.Background(), "https://other.example.com/x"); err != nil || size != int64(len("fallback")) {
		t.Fatalf("fallback client not used: %d %v", size, err)
	}
}
