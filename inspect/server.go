// Package inspect serves read-only diagnostics over HTTP: endpoint
// health, cache and queue statistics, network state and Prometheus
// metrics. It is for observability UIs, not control.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pawtrack/netguard/cache"
	"github.com/pawtrack/netguard/domain"
	"github.com/pawtrack/netguard/health"
	"github.com/pawtrack/netguard/queue"
)

// Source is the view of a client the server exposes.
type Source interface {
	HealthSnapshot() map[domain.EndpointKey]health.Record
	CacheStats() cache.Stats
	QueueStats() queue.Stats
	DeadLetters() []queue.Operation
	NetworkState() domain.NetworkState
}

// Server exposes diagnostics endpoints.
type Server struct {
	source Source
	server *http.Server
}

// NewServer builds the server on the given port.
func NewServer(source Source, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		source: source,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.HandleFunc("/cache", s.handleCache)
	mux.HandleFunc("/queue", s.handleQueue)
	mux.HandleFunc("/network", s.handleNetwork)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := s.source.HealthSnapshot()

	// Aggregate status (worst case wins).
	status := health.StatusHealthy
	anyOpen := false
	for _, rec := range snapshot {
		if rec.CircuitOpen {
			anyOpen = true
		}
		if rec.Status == health.StatusUnhealthy {
			status = health.StatusUnhealthy
		}
		if rec.Status == health.StatusDegraded && status == health.StatusHealthy {
			status = health.StatusDegraded
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if anyOpen || status == health.StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(map[string]string{"status": string(status)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.source.HealthSnapshot())
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.source.CacheStats())
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		queue.Stats
		DeadLetterOperations []queue.Operation `json:"dead_letter_operations,omitempty"`
	}{
		Stats:                s.source.QueueStats(),
		DeadLetterOperations: s.source.DeadLetters(),
	})
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.source.NetworkState())
}
