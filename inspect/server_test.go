package inspect

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawtrack/netguard/cache"
	"github.com/pawtrack/netguard/domain"
	"github.com/pawtrack/netguard/health"
	"github.com/pawtrack/netguard/queue"
)

type fakeSource struct {
	snapshot map[domain.EndpointKey]health.Record
	dead     []queue.Operation
}

func (f *fakeSource) HealthSnapshot() map[domain.EndpointKey]health.Record { return f.snapshot }
func (f *fakeSource) CacheStats() cache.Stats                              { return cache.Stats{Entries: 2, Bytes: 64} }
func (f *fakeSource) QueueStats() queue.Stats                              { return queue.Stats{Depth: 1} }
func (f *fakeSource) DeadLetters() []queue.Operation                       { return f.dead }
func (f *fakeSource) NetworkState() domain.NetworkState {
	return domain.NetworkState{Connected: true, Type: "wifi"}
}

func serve(t *testing.T, src Source, path string) *httptest.ResponseRecorder {
	t.Helper()
	s := NewServer(src, 0)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthAggregateHealthy(t *testing.T) {
	src := &fakeSource{snapshot: map[domain.EndpointKey]health.Record{
		"https://a.example.com/": {Status: health.StatusHealthy},
	}}

	rec := serve(t, src, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHealthAggregateWorstCaseWins(t *testing.T) {
	src := &fakeSource{snapshot: map[domain.EndpointKey]health.Record{
		"https://a.example.com/": {Status: health.StatusHealthy},
		"https://b.example.com/": {Status: health.StatusUnhealthy, CircuitOpen: true},
	}}

	rec := serve(t, src, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body["status"])
}

func TestDetailedHealth(t *testing.T) {
	src := &fakeSource{snapshot: map[domain.EndpointKey]health.Record{
		"https://a.example.com/": {Status: health.StatusDegraded, ConsecutiveFailures: 3},
	}}

	rec := serve(t, src, "/health/detailed")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]health.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body["https://a.example.com/"].ConsecutiveFailures)
}

func TestCacheEndpoint(t *testing.T) {
	rec := serve(t, &fakeSource{}, "/cache")
	assert.Equal(t, http.StatusOK, rec.Code)

	var stats cache.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Entries)
}

func TestQueueEndpointIncludesDeadLetters(t *testing.T) {
	src := &fakeSource{dead: []queue.Operation{{ID: "op-1", URL: "https://a.example.com/x"}}}

	rec := serve(t, src, "/queue")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Depth                int               `json:"depth"`
		DeadLetterOperations []queue.Operation `json:"dead_letter_operations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Depth)
	require.Len(t, body.DeadLetterOperations, 1)
	assert.Equal(t, "op-1", body.DeadLetterOperations[0].ID)
}

func TestNetworkEndpoint(t *testing.T) {
	rec := serve(t, &fakeSource{}, "/network")
	assert.Equal(t, http.StatusOK, rec.Code)

	var state domain.NetworkState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.True(t, state.Connected)
	assert.Equal(t, "wifi", state.Type)
}
