package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/discovery", s.handleDiscovery)
		r.Post("/pairing", s.handlePairing)
	})

	return r
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status      string            `json:"status"`
	Version     string            `json:"version"`
	Coordinator CoordinatorHealth `json:"coordinator"`
	MQTT        string            `json:"mqtt"`
}

// CoordinatorHealth describes the coordinator link.
type CoordinatorHealth struct {
	Connected bool   `json:"connected"`
	Firmware  string `json:"firmware,omitempty"`
}

// handleHealth reports "ok", or "degraded" with 503 when the coordinator
// link is down.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	m := s.bridge.GetMetrics()

	resp := HealthResponse{
		Status:      "ok",
		Version:     s.version,
		Coordinator: CoordinatorHealth{Connected: m.Connected, Firmware: m.Firmware},
		MQTT:        s.mqttState(),
	}
	status := http.StatusOK
	if !m.Connected {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) mqttState() string {
	switch {
	case s.mqtt == nil:
		return "disabled"
	case s.mqtt.IsConnected():
		return "connected"
	default:
		return "disconnected"
	}
}
