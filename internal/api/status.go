package api

import (
	"context"
	"net/http"
	"time"

	"github.com/nerrad567/benchtop-core/internal/instrument"
	"github.com/nerrad567/benchtop-core/internal/telemetry"
)

// statusResponse is the body of GET /status.
type statusResponse struct {
	Version       string                   `json:"version"`
	UptimeSeconds int64                    `json:"uptime_seconds"`
	Poller        *telemetry.Stats         `json:"poller,omitempty"`
	Sessions      []instrument.SessionInfo `json:"sessions"`
	Latest        *latestResponse          `json:"latest,omitempty"`
	Schema        *schemaStatus            `json:"schema,omitempty"`
	WSClients     int                      `json:"ws_clients"`
}

// schemaStatus summarises the database migrations.
type schemaStatus struct {
	Version string   `json:"version,omitempty"` // Latest applied migration
	Applied int      `json:"applied"`
	Pending []string `json:"pending"`
	Error   string   `json:"error,omitempty"`
}

type latestResponse struct {
	Snapshot telemetry.Snapshot `json:"snapshot"`
	Reading  telemetry.Reading  `json:"reading"`
}

// handleStatus reports poller statistics, open sessions, the schema
// version and the latest poll result.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Sessions:      []instrument.SessionInfo{},
	}
	if s.poller != nil {
		stats := s.poller.Stats()
		resp.Poller = &stats
	}
	if s.sessions != nil {
		if infos := s.sessions.Sessions(); infos != nil {
			resp.Sessions = infos
		}
	}
	if s.latest != nil {
		if snap, reading, ok := s.latest.Latest(); ok {
			resp.Latest = &latestResponse{Snapshot: snap, Reading: reading}
		}
	}
	if s.database != nil {
		resp.Schema = s.migrationStatus(r.Context())
	}
	if s.hub != nil {
		resp.WSClients = s.hub.ClientCount()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) migrationStatus(ctx context.Context) *schemaStatus {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	out := &schemaStatus{Pending: []string{}}
	applied, pending, err := s.database.GetMigrationStatus(ctx)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Applied = len(applied)
	if len(applied) > 0 {
		out.Version = applied[len(applied)-1].Version
	}
	for _, m := range pending {
		out.Pending = append(out.Pending, m.Version)
	}
	return out
}
