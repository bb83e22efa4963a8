// Package server exposes the routing engine over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/c12/router/carbon"
	"github.com/c12/router/contracts"
	"github.com/c12/router/journal"
	"github.com/c12/router/modelcache"
	"github.com/c12/router/routing"
)

const (
	maxRequestBytes = 1 << 20

	// recentDecisions is how many journal entries /stats surfaces.
	recentDecisions = 20
)

// Server holds the handler dependencies.
type Server struct {
	engine  *routing.Engine
	monitor *carbon.Monitor
	cache   *modelcache.Cache
	alarm   *carbon.StalenessAlarm // optional
	journal *journal.Journal       // optional
	service string
	version string
	started time.Time
}

// New creates a server. alarm may be nil when staleness tracking is off;
// jour may be nil when the decision journal is not configured.
func New(engine *routing.Engine, monitor *carbon.Monitor, cache *modelcache.Cache, alarm *carbon.StalenessAlarm, jour *journal.Journal, service, version string) *Server {
	return &Server{
		engine:  engine,
		monitor: monitor,
		cache:   cache,
		alarm:   alarm,
		journal: jour,
		service: service,
		version: version,
		started: time.Now(),
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ask", s.handleAsk)
	mux.HandleFunc("/api/carbon-intensity", s.handleCarbon)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	return mux
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed, use POST")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req contracts.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	resp, err := s.engine.Route(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		log.Printf("ERROR: /api/ask failed (%d): %v", status, err)
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusFor maps engine errors to HTTP statuses: caller mistakes are 400,
// a lost fallback is 503, and everything else is an upstream failure.
func statusFor(err error) int {
	switch {
	case errors.Is(err, routing.ErrEmptyText), errors.Is(err, routing.ErrUnknownModel):
		return http.StatusBadRequest
	case errors.Is(err, routing.ErrPinnedUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleCarbon(w http.ResponseWriter, r *http.Request) {
	reading := s.monitor.Current(r.Context())
	_, fetchedAt := s.monitor.Snapshot()

	ageSeconds := 0
	if !fetchedAt.IsZero() {
		ageSeconds = int(time.Since(fetchedAt).Seconds())
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"carbon_intensity": reading.ValueGCO2PerKWh,
		"tier":             reading.Tier,
		"source":           reading.Source,
		"zone":             reading.Zone,
		"estimated":        reading.Estimated,
		"observed_at":      reading.ObservedAt,
		"age_seconds":      ageSeconds,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	carbonDegraded := s.alarm != nil && s.alarm.Tripped()
	status := "ok"
	if carbonDegraded {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          status,
		"service":         s.service,
		"version":         s.version,
		"carbon_degraded": carbonDegraded,
		"models_resident": s.cache.Resident(),
		"system":          CollectSystemStats(r.Context()),
		"uptime_seconds":  int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"engine": s.engine.Stats(),
		"cache":  s.cache.Stats(),
	}
	if s.journal != nil {
		recent, err := s.journal.Tail(r.Context(), recentDecisions)
		if err != nil {
			log.Printf("WARN: Failed to read decision journal for /stats: %v", err)
		} else {
			stats["recent_decisions"] = recent
		}
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
