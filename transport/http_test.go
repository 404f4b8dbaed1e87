package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawtrack/netguard/domain"
)

func testRequest(url, method string) *domain.Request {
	return &domain.Request{URL: url, Method: method, Timeout: 2 * time.Second}
}

func TestSuccessResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	fn := New(srv.Client())
	resp, err := fn(context.Background(), testRequest(srv.URL, "GET"))
	require.NoError(t, err)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, []byte(`{"ok":true}`), resp.Body)
	assert.Equal(t, "yes", resp.Headers.Get("X-Test"))
	assert.Greater(t, resp.Latency, time.Duration(0))
}

func TestRequestHeadersAndBodyForwarded(t *testing.T) {
	var gotAuth string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	fn := New(srv.Client())
	req := testRequest(srv.URL, "POST")
	req.Headers = map[string]string{"Authorization": "Bearer tok"}
	req.Body = []byte(`{"name":"rex"}`)

	resp, err := fn(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 201, resp.StatusCode)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, []byte(`{"name":"rex"}`), gotBody)
}

func TestClientErrorTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"no such pet"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	fn := New(srv.Client())
	_, err := fn(context.Background(), testRequest(srv.URL, "GET"))

	var ce *domain.ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 404, ce.Status)
	assert.Contains(t, string(ce.Body), "no such pet")
}

func TestServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	fn := New(srv.Client())
	_, err := fn(context.Background(), testRequest(srv.URL, "GET"))

	var se *domain.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 502, se.Status)
}

func TestRateLimitWithRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	fn := New(srv.Client())
	before := time.Now()
	_, err := fn(context.Background(), testRequest(srv.URL, "GET"))

	var rle *domain.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.WithinDuration(t, before.Add(30*time.Second), rle.ResetAt, 2*time.Second)
}

func TestTimeoutClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	fn := New(srv.Client())
	req := testRequest(srv.URL, "GET")
	req.Timeout = 20 * time.Millisecond

	_, err := fn(context.Background(), req)

	var te *domain.TimeoutError
	require.ErrorAs(t, err, &te)
}

func TestConnectionRefusedClassified(t *testing.T) {
	fn := New(&http.Client{})
	// Reserved port with nothing listening.
	_, err := fn(context.Background(), testRequest("http://127.0.0.1:1", "GET"))

	var ce *domain.ConnectivityError
	require.ErrorAs(t, err, &ce)
}

func TestCancellationClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	fn := New(srv.Client())
	_, err := fn(ctx, testRequest(srv.URL, "GET"))

	var cancelErr *domain.CancellationError
	require.ErrorAs(t, err, &cancelErr)
}
