package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/benchtop-core/internal/telemetry"
)

// maxPreviewSamples bounds the samples query of the preview endpoint.
const maxPreviewSamples = 10000

// handleListReadings returns the most recent readings, newest first.
//
// Query parameters:
//   - limit: number of rows (default 100, max 1000)
func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	if s.readings == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "readings log not configured")
		return
	}

	limit, ok := intQuery(w, r, "limit", telemetry.DefaultReadingsLimit, telemetry.MaxReadingsLimit)
	if !ok {
		return
	}

	readings, err := s.readings.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing readings failed", "error", err)
		writeInternalError(w, "failed to list readings")
		return
	}
	if readings == nil {
		readings = []telemetry.Reading{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"readings": readings,
		"count":    len(readings),
	})
}

// handleWaveformPreview samples one period of the generator settings last
// applied. It never touches the instruments.
//
// Query parameters:
//   - samples: points in the period (default from config, max 10000)
func (s *Server) handleWaveformPreview(w http.ResponseWriter, r *http.Request) {
	n, ok := intQuery(w, r, "samples", 0, maxPreviewSamples)
	if !ok {
		return
	}

	preview, err := s.controller.Preview(n)
	if err != nil {
		writeBenchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// intQuery parses a positive integer query parameter, writing a 400 when
// it is malformed or above limit.
func intQuery(w http.ResponseWriter, r *http.Request, name string, def, limit int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > limit {
		writeBadRequest(w, name+" must be between 1 and "+strconv.Itoa(limit))
		return 0, false
	}
	return n, true
}
