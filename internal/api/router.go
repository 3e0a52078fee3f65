package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds the dependency checks behind /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such endpoint")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		r.Post("/commands", s.handleCommands)
		r.Post("/identify", s.handleIdentify)
		r.Post("/generator", s.handleGenerator)
		r.Post("/supply/voltage", s.handleSupplyVoltage)

		r.Route("/scope", func(r chi.Router) {
			r.Put("/channel", s.handleScopeChannel)
			r.Put("/horizontal", s.handleScopeHorizontal)
			r.Post("/{action}", s.handleScopeAction)
		})

		r.Get("/readings", s.handleListReadings)
		r.Get("/waveform/preview", s.handleWaveformPreview)
	})

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/api/v1/ws"
	}
	r.Get(wsPath, s.handleWebSocket)

	return r
}

// handleHealth returns the server health status. Each configured
// dependency is reported by name; any failure reports "degraded" with 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"version": s.version,
	}
	status := http.StatusOK

	checks := []struct {
		name    string
		checker HealthChecker
	}{
		{"database", s.database},
		{"mqtt", s.mqtt},
		{"influxdb", s.metrics},
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()
	for _, c := range checks {
		if c.checker == nil {
			continue
		}
		if err := c.checker.HealthCheck(ctx); err != nil {
			body["status"] = "degraded"
			body[c.name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		body[c.name] = "ok"
	}

	writeJSON(w, status, body)
}
