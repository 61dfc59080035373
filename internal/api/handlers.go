package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/nerrad567/lightlink/internal/controller"
	"github.com/nerrad567/lightlink/internal/journal"
)

// healthCheckTimeout bounds each component check on /health.
const healthCheckTimeout = 2 * time.Second

// Health statuses.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
)

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	DeviceID   string            `json:"device_id,omitempty"`
	MQTT       string            `json:"mqtt"`
	Components map[string]string `json:"components,omitempty"`
}

// handleHealth reports the MQTT session and every registered component.
// Any failure marks the response degraded with 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.state.Snapshot()
	resp := healthResponse{
		Status:   statusOK,
		Version:  s.version,
		DeviceID: s.deviceID,
		MQTT:     "connected",
	}
	if !snap.Connected {
		resp.Status = statusDegraded
		resp.MQTT = "disconnected"
	}

	if len(s.checks) > 0 {
		resp.Components = make(map[string]string, len(s.checks))
		names := make([]string, 0, len(s.checks))
		for name := range s.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := s.checks[name].HealthCheck(ctx)
			cancel()
			if err != nil {
				s.logger.Warn("health check failed", "component", name, "error", err)
				resp.Components[name] = err.Error()
				resp.Status = statusDegraded
				continue
			}
			resp.Components[name] = statusOK
		}
	}

	status := http.StatusOK
	if resp.Status != statusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleState returns the control loop snapshot.
func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Snapshot())
}

// validResults are the accepted values of the journal result filter.
var validResults = map[string]bool{
	string(controller.ResultApplied):        true,
	string(controller.ResultParseError):     true,
	string(controller.ResultUnknownCommand): true,
	string(controller.ResultActuatorError):  true,
}

// handleJournal lists recent dispatch outcomes, newest first.
//
// Query parameters:
//   - result: optional result filter
//   - limit: page size (default 50, max 200)
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := journal.Filter{Result: q.Get("result")}

	if filter.Result != "" && !validResults[filter.Result] {
		writeBadRequest(w, "invalid result filter: "+filter.Result)
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	if s.journal == nil {
		limit := filter.Limit
		if limit <= 0 {
			limit = journal.DefaultLimit
		}
		limit = min(limit, journal.MaxLimit)
		writeJSON(w, http.StatusOK, journal.ListResult{Entries: []journal.Entry{}, Limit: limit})
		return
	}

	res, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list journal", "error", err)
		writeInternalError(w, "failed to list journal")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
