// Package server exposes the telemetry core over HTTP. Handlers only
// translate request and response bodies into core calls; every error
// leaves the boundary as a structured kind+message document, never as
// an unwrapped internal error.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/openpulse/openpulse/pkg/alerts"
	"github.com/openpulse/openpulse/pkg/anomaly"
	"github.com/openpulse/openpulse/pkg/auth"
	"github.com/openpulse/openpulse/pkg/monitor"
	"github.com/openpulse/openpulse/pkg/snapshot"
	"github.com/openpulse/openpulse/pkg/telemetry"
	"github.com/openpulse/openpulse/pkg/traces"
)

// Permissions checked on privileged routes.
const (
	PermAlertsWrite    = "alerts:write"
	PermAnomaliesWrite = "anomalies:write"
	PermAuditRead      = "audit:read"
	PermSnapshotsWrite = "snapshots:write"
	PermEventsCleanup  = "events:cleanup"
)

// Config holds the listener settings.
type Config struct {
	ListenAddress string `yaml:"listen_address"`
}

// Server wires the core services behind HTTP routes.
type Server struct {
	monitor  *monitor.Service
	engine   *alerts.Engine
	detector *anomaly.Detector
	recorder *traces.Recorder
	gate     *auth.Gate
	taker    *snapshot.Taker
	logger   *telemetry.Logger

	httpServer *http.Server
}

// New creates the HTTP server.
func New(cfg Config, svc *monitor.Service, engine *alerts.Engine, detector *anomaly.Detector, recorder *traces.Recorder, gate *auth.Gate, taker *snapshot.Taker, logger *telemetry.Logger) *Server {
	addr := cfg.ListenAddress
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		monitor:  svc,
		engine:   engine,
		detector: detector,
		recorder: recorder,
		gate:     gate,
		taker:    taker,
		logger:   logger.NewComponentLogger("server"),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /api/events", s.handleRecordEvent)
	mux.HandleFunc("GET /api/summary", s.handleSummary)
	mux.HandleFunc("GET /api/environments/{env}/metrics", s.handleEnvironmentMetrics)
	mux.HandleFunc("GET /api/environments/{env}/top-ips", s.handleTopIPs)
	mux.HandleFunc("GET /api/environments/{env}/top-devices", s.handleTopDevices)
	mux.HandleFunc("GET /api/events/ip/{ip}", s.handleIPEvents)
	mux.HandleFunc("GET /api/events/device/{fingerprint}", s.handleDeviceEvents)
	mux.HandleFunc("POST /api/cleanup", s.requirePermission(PermEventsCleanup, s.handleCleanup))

	mux.HandleFunc("GET /api/alerts", s.handleActiveAlerts)
	mux.HandleFunc("GET /api/alerts/history", s.handleAlertHistory)
	mux.HandleFunc("POST /api/alerts/{id}/resolve", s.requirePermission(PermAlertsWrite, s.handleResolveAlert))

	mux.HandleFunc("GET /api/anomalies", s.handleAnomalies)
	mux.HandleFunc("GET /api/anomalies/stats", s.handleAnomalyStats)
	mux.HandleFunc("POST /api/anomalies/{id}/resolve", s.requirePermission(PermAnomaliesWrite, s.handleResolveAnomaly))

	mux.HandleFunc("POST /api/traces", s.handleRecordTrace)
	mux.HandleFunc("GET /api/traces/{class}/{method}/stats", s.handleMethodStats)
	mux.HandleFunc("GET /api/traces/{class}/{method}/recent", s.handleRecentTraces)

	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("POST /api/auth/password", s.handleChangePassword)
	mux.HandleFunc("GET /api/audit", s.requirePermission(PermAuditRead, s.handleAuditLog))

	mux.HandleFunc("POST /api/snapshots", s.requirePermission(PermSnapshotsWrite, s.handleTakeSnapshot))
	mux.HandleFunc("GET /api/snapshots", s.handleListSnapshots)
	mux.HandleFunc("GET /api/snapshots/latest", s.handleLatestSnapshot)

	return s.logRequests(mux)
}

// Start runs the listener until Shutdown.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
