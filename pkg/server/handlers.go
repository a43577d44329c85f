package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/openpulse/openpulse/pkg/monitor"
	"github.com/openpulse/openpulse/pkg/stores"
)

type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorKind(w http.ResponseWriter, status int, kind, message string) {
	var body errorBody
	body.Error.Kind = kind
	body.Error.Message = message
	writeJSON(w, status, body)
}

// writeError maps a classified error onto an HTTP status and a
// kind+message body. Unclassified errors surface as internal.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := string(monitor.ClassOf(err))
	status := http.StatusInternalServerError
	message := err.Error()

	switch {
	case monitor.IsValidation(err):
		status = http.StatusBadRequest
	case monitor.IsNotFound(err):
		status = http.StatusNotFound
	case monitor.IsAuth(err):
		status = http.StatusForbidden
	case monitor.IsStorage(err):
		status = http.StatusInternalServerError
		message = "storage failure"
		s.logger.WithError(err).Error("request failed on storage")
	default:
		kind = "internal"
		message = "internal error"
		s.logger.WithError(err).Error("request failed")
	}
	writeErrorKind(w, status, kind, message)
}

func intQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	var event stores.MonitoringEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeErrorKind(w, http.StatusBadRequest, "validation", "malformed event body")
		return
	}

	admitted, err := s.monitor.Record(r.Context(), &event)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !admitted {
		writeErrorKind(w, http.StatusTooManyRequests, "rate_limited", "event rejected by rate limit")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": event.ID})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.monitor.GetSummary(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleEnvironmentMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.monitor.GetEnvironmentMetrics(r.Context(), r.PathValue("env"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handleTopIPs(w http.ResponseWriter, r *http.Request) {
	entries, err := s.monitor.GetTopIPs(r.Context(), r.PathValue("env"), intQuery(r, "limit", 10))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleTopDevices(w http.ResponseWriter, r *http.Request) {
	entries, err := s.monitor.GetTopDevices(r.Context(), r.PathValue("env"), intQuery(r, "limit", 10))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleIPEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.monitor.GetIPEvents(r.Context(),
		r.PathValue("ip"),
		r.URL.Query().Get("environment"),
		intQuery(r, "limit", 100))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleDeviceEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.monitor.GetDeviceEvents(r.Context(), r.PathValue("fingerprint"), intQuery(r, "limit", 100))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.monitor.Cleanup(r.Context(), intQuery(r, "days", 0))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (s *Server) handleActiveAlerts(w http.ResponseWriter, r *http.Request) {
	active, err := s.engine.ListActive(r.Context(), r.URL.Query().Get("environment"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, active)
}

func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.engine.List(r.Context(), intQuery(r, "limit", 50), intQuery(r, "offset", 0))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ResolvedBy string `json:"resolved_by"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	resolved, err := s.engine.Resolve(r.Context(), r.PathValue("id"), body.ResolvedBy)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"resolved": resolved})
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	anomalies, err := s.detector.List(r.Context(), intQuery(r, "limit", 50), intQuery(r, "offset", 0))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, anomalies)
}

func (s *Server) handleAnomalyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.detector.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleResolveAnomaly(w http.ResponseWriter, r *http.Request) {
	resolved, err := s.detector.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"resolved": resolved})
}

func (s *Server) handleRecordTrace(w http.ResponseWriter, r *http.Request) {
	var trace stores.PerformanceTrace
	if err := json.NewDecoder(r.Body).Decode(&trace); err != nil {
		writeErrorKind(w, http.StatusBadRequest, "validation", "malformed trace body")
		return
	}

	sampled, err := s.recorder.Record(r.Context(), &trace)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"sampled": sampled})
}

func (s *Server) handleMethodStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.recorder.MethodStats(r.Context(), r.PathValue("class"), r.PathValue("method"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if stats == nil {
		writeErrorKind(w, http.StatusNotFound, "not_found", "no traces for method")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRecentTraces(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.recorder.Recent(r.PathValue("class"), r.PathValue("method")))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErrorKind(w, http.StatusBadRequest, "validation", "malformed login body")
		return
	}

	token, err := s.gate.Authenticate(r.Context(), body.Username, body.Password, requesterFrom(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if token == nil {
		writeErrorKind(w, http.StatusUnauthorized, "auth", "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeErrorKind(w, http.StatusUnauthorized, "auth", "missing bearer token")
		return
	}

	revoked, err := s.gate.RevokeToken(r.Context(), token, requesterFrom(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": revoked})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username        string `json:"username"`
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErrorKind(w, http.StatusBadRequest, "validation", "malformed body")
		return
	}

	if err := s.gate.ChangePassword(r.Context(), body.Username, body.CurrentPassword, body.NewPassword, requesterFrom(r)); err != nil {
		if monitor.IsAuth(err) {
			writeErrorKind(w, http.StatusUnauthorized, "auth", "invalid credentials")
			return
		}
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "changed"})
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.gate.AuditLog(r.Context(), intQuery(r, "limit", 50), intQuery(r, "offset", 0))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleTakeSnapshot(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Label       string `json:"label"`
		Environment string `json:"environment"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	snap, err := s.taker.Take(r.Context(), body.Label, body.Environment)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.taker.List(r.Context(), intQuery(r, "limit", 20))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.taker.Latest(r.Context(), r.URL.Query().Get("environment"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if snap == nil {
		writeErrorKind(w, http.StatusNotFound, "not_found", "no snapshots")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
