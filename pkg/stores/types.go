package stores

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
// Callers that must translate absence into a nil/false result (token
// lookups, alert resolution) match it with errors.Is.
var ErrNotFound = errors.New("not found")

// AlertSeverity represents the severity of a telemetry alert
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// MonitoringEvent represents a single recorded request event.
// Events are immutable once recorded and are removed only by
// age-based cleanup.
type MonitoringEvent struct {
	ID                int64     `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	IP                string    `json:"ip" validate:"required"`
	Environment       string    `json:"environment" validate:"required"`
	Endpoint          string    `json:"endpoint" validate:"required"`
	Method            string    `json:"method" validate:"required"`
	StatusCode        int       `json:"status_code" validate:"gte=100,lte=599"`
	ResponseTimeMs    float64   `json:"response_time_ms" validate:"gte=0"`
	UserAgent         string    `json:"user_agent,omitempty"`
	DeviceType        string    `json:"device_type,omitempty"`
	DeviceFingerprint string    `json:"device_fingerprint,omitempty"`
	Path              string    `json:"path,omitempty"`
}

// TelemetryAlert represents a triggered alert. At most one unresolved
// alert exists per (type, metric, source) key at any time.
type TelemetryAlert struct {
	ID          string        `json:"id"`
	Timestamp   time.Time     `json:"timestamp"`
	Type        string        `json:"type"`
	Severity    AlertSeverity `json:"severity"`
	Source      string        `json:"source"`
	Metric      string        `json:"metric"`
	Value       float64       `json:"value"`
	Threshold   float64       `json:"threshold"`
	Unit        string        `json:"unit,omitempty"`
	Message     string        `json:"message"`
	Environment string        `json:"environment"`
	Resolved    bool          `json:"resolved"`
	ResolvedBy  *string       `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty"`
	Notified    bool          `json:"notified"`
	Channels    string        `json:"notification_channels,omitempty"` // JSON array of channel names
}

// Anomaly represents a statistical deviation flagged by the baseline
// detector. Distinct from TelemetryAlert: it carries the observed
// value, the computed baseline, and the deviation that tripped it.
type Anomaly struct {
	ID          string     `json:"id"`
	Timestamp   time.Time  `json:"timestamp"`
	Metric      string     `json:"metric"`
	Environment string     `json:"environment"`
	Value       float64    `json:"value"`
	Baseline    float64    `json:"baseline"`
	Deviation   float64    `json:"deviation"`
	Factor      float64    `json:"factor"`
	Resolved    bool       `json:"resolved"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// PerformanceTrace represents one sampled method execution.
type PerformanceTrace struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	ClassName   string    `json:"class_name"`
	MethodName  string    `json:"method_name"`
	DurationMs  float64   `json:"duration_ms"`
	Environment string    `json:"environment,omitempty"`
	Metadata    *string   `json:"metadata,omitempty"` // JSON blob (args/result snapshot)
}

// SystemSnapshot is a point-in-time composite of process and
// monitoring metrics, persisted to the store and mirrored to a
// filesystem artifact.
type SystemSnapshot struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Label        string    `json:"label"`
	Environment  string    `json:"environment"`
	Data         string    `json:"data"` // JSON blob
	ArtifactPath string    `json:"artifact_path,omitempty"`
}

// AuthToken is an opaque bearer token with an attached permission set.
// Tokens are never mutated in place; they are invalidated by explicit
// revocation or expiry.
type AuthToken struct {
	Token       string    `json:"token"`
	Name        string    `json:"name"`
	Role        string    `json:"role"`
	Permissions string    `json:"permissions"` // JSON array
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Revoked     bool      `json:"revoked"`
}

// User is a credentialled principal able to authenticate.
type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	Permissions  string    `json:"permissions"` // JSON array
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AuditLogEntry is an append-only record of a privileged action.
// Entries are never mutated or deleted by the system itself.
type AuditLogEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Token     string    `json:"token,omitempty"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource,omitempty"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
}

// EnvironmentMetrics holds aggregate read-side metrics for one environment.
type EnvironmentMetrics struct {
	Environment   string  `json:"environment"`
	TotalEvents   int64   `json:"total_events"`
	ErrorCount    int64   `json:"error_count"`
	ErrorRate     float64 `json:"error_rate"`
	AvgResponseMs float64 `json:"avg_response_ms"`
	UniqueIPs     int64   `json:"unique_ips"`
	UniqueDevices int64   `json:"unique_devices"`
}

// TopEntry is one row of a top-N aggregation (by IP or device).
type TopEntry struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// WindowStat is one fixed-span aggregate bucket, used by the baseline
// detector as its unit of history.
type WindowStat struct {
	Start         time.Time `json:"start"`
	Count         int64     `json:"count"`
	ErrorCount    int64     `json:"error_count"`
	AvgResponseMs float64   `json:"avg_response_ms"`
}

// AnomalyStats summarizes recorded anomalies.
type AnomalyStats struct {
	Total      int64            `json:"total"`
	Unresolved int64            `json:"unresolved"`
	ByMetric   map[string]int64 `json:"by_metric"`
}
