package monitor

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/trace"

	"github.com/openpulse/openpulse/pkg/ratelimit"
	"github.com/openpulse/openpulse/pkg/stores"
	"github.com/openpulse/openpulse/pkg/telemetry"
)

const defaultQueryLimit = 100

// Options configure the monitoring service.
type Options struct {
	// RateLimit is the per-(ip, environment) admission limit. Zero
	// rejects everything; negative disables admission control.
	RateLimit int

	// RateWindowSeconds is the trailing window for the admission limit.
	RateWindowSeconds int

	// RollupCapacity bounds the number of environments tracked in the
	// in-memory rollups.
	RollupCapacity int
}

// Summary is the fast-read rollup of everything recorded since startup.
type Summary struct {
	TotalEvents   int64                `json:"total_events"`
	ErrorCount    int64                `json:"error_count"`
	ErrorRate     float64              `json:"error_rate"`
	Environments  map[string]envCounts `json:"environments"`
	Since         time.Time            `json:"since"`
	StoredEvents  int64                `json:"stored_events"`
	TrackedLimits int                  `json:"tracked_limit_keys"`
}

// Service couples rate-limit admission with durable event recording
// and serves the aggregate read surface.
type Service struct {
	store    *stores.SQLiteStore
	limiter  *ratelimit.Limiter
	validate *validator.Validate
	rollups  *rollupCache
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	opts     Options
	now      func() time.Time

	// onEvent, when set, receives every recorded event asynchronously.
	// Wired to the alert engine's per-event rule check.
	onEvent func(stores.MonitoringEvent)
}

// NewService creates the monitoring service.
func NewService(store *stores.SQLiteStore, limiter *ratelimit.Limiter, logger *telemetry.Logger, metrics *telemetry.Metrics, opts Options) *Service {
	now := time.Now
	return &Service{
		store:    store,
		limiter:  limiter,
		validate: validator.New(),
		rollups:  newRollupCache(opts.RollupCapacity, now().UTC()),
		logger:   logger.NewComponentLogger("monitor"),
		metrics:  metrics,
		opts:     opts,
		now:      now,
	}
}

// OnEvent registers the async per-event hook. Must be called before
// the service starts receiving traffic.
func (s *Service) OnEvent(fn func(stores.MonitoringEvent)) {
	s.onEvent = fn
}

// SetTracer attaches the pipeline tracer. Must be called before the
// service starts receiving traffic; a nil tracer disables spans.
func (s *Service) SetTracer(tr *telemetry.Tracer) {
	s.tracer = tr
}

// Record admits and durably records one monitoring event. The
// admission check is inline with recording: a rejected event is not
// stored and Record returns (false, nil). Validation and storage
// failures are returned as classified errors; a storage failure does
// not touch the in-memory rollups.
func (s *Service) Record(ctx context.Context, event *stores.MonitoringEvent) (admitted bool, err error) {
	start := s.now()

	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.StartRecordSpan(ctx, event.IP, event.Environment)
		span.SetAttributes(
			telemetry.AttrEndpoint.String(event.Endpoint),
			telemetry.AttrStatusCode.Int(event.StatusCode),
		)
		defer func() {
			if err != nil {
				telemetry.RecordError(span, err)
			} else {
				telemetry.RecordSuccess(span)
			}
			span.End()
		}()
	}

	if err := s.validate.Struct(event); err != nil {
		return false, NewValidationError("invalid monitoring event", err).
			WithOperation("record").
			WithCode(ErrCodeValidation)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = start.UTC()
	}

	if s.opts.RateLimit >= 0 {
		if !s.limiter.Admit(event.IP, event.Environment, s.opts.RateLimit, s.opts.RateWindowSeconds) {
			s.metrics.RecordRateLimitRejection(event.Environment)
			s.logger.WithIP(event.IP).WithEnvironment(event.Environment).Debug("event rejected by rate limit")
			return false, nil
		}
	}

	if err := s.store.InsertEvent(ctx, event); err != nil {
		s.metrics.RecordError(string(ErrorClassStorage))
		return false, NewStorageError("failed to record event", err).
			WithOperation("record").
			WithCode(ErrCodeStorageFailed)
	}

	s.rollups.add(event)
	s.metrics.RecordEvent(event.Environment, s.now().Sub(start))

	if s.onEvent != nil {
		e := *event
		go s.onEvent(e)
	}

	return true, nil
}

// GetSummary returns the in-memory rollup summary plus the durable
// event count. Rollup reads do not touch the store.
func (s *Service) GetSummary(ctx context.Context) (*Summary, error) {
	total, errCount, byEnv, since := s.rollups.snapshot()

	stored, err := s.store.CountEvents(ctx, time.Time{})
	if err != nil {
		return nil, NewStorageError("failed to count stored events", err).WithOperation("summary")
	}

	summary := &Summary{
		TotalEvents:   total,
		ErrorCount:    errCount,
		Environments:  byEnv,
		Since:         since,
		StoredEvents:  stored,
		TrackedLimits: s.limiter.Size(),
	}
	if total > 0 {
		summary.ErrorRate = float64(errCount) / float64(total)
	}
	return summary, nil
}

// GetEnvironmentMetrics returns aggregate metrics for one environment.
func (s *Service) GetEnvironmentMetrics(ctx context.Context, environment string) (*stores.EnvironmentMetrics, error) {
	if environment == "" {
		return nil, NewValidationError("environment is required", nil).WithOperation("environment_metrics")
	}

	metrics, err := s.store.GetEnvironmentMetrics(ctx, environment)
	if err != nil {
		return nil, NewStorageError("failed to compute environment metrics", err).
			WithResource(environment).
			WithOperation("environment_metrics")
	}
	return metrics, nil
}

// GetTopIPs returns the most frequent source IPs for an environment.
func (s *Service) GetTopIPs(ctx context.Context, environment string, limit int) ([]stores.TopEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	entries, err := s.store.TopIPs(ctx, environment, limit)
	if err != nil {
		return nil, NewStorageError("failed to query top IPs", err).WithOperation("top_ips")
	}
	return entries, nil
}

// GetTopDevices returns the most frequent device fingerprints for an environment.
func (s *Service) GetTopDevices(ctx context.Context, environment string, limit int) ([]stores.TopEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	entries, err := s.store.TopDevices(ctx, environment, limit)
	if err != nil {
		return nil, NewStorageError("failed to query top devices", err).WithOperation("top_devices")
	}
	return entries, nil
}

// GetIPEvents lists recorded events for an (ip, environment) pair,
// newest first.
func (s *Service) GetIPEvents(ctx context.Context, ip, environment string, limit int) ([]*stores.MonitoringEvent, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	events, err := s.store.ListEventsByIP(ctx, ip, environment, limit)
	if err != nil {
		return nil, NewStorageError("failed to list events by ip", err).
			WithResource(ip).
			WithOperation("ip_events")
	}
	return events, nil
}

// GetDeviceEvents lists recorded events for a device fingerprint,
// newest first.
func (s *Service) GetDeviceEvents(ctx context.Context, fingerprint string, limit int) ([]*stores.MonitoringEvent, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	events, err := s.store.ListEventsByDevice(ctx, fingerprint, limit)
	if err != nil {
		return nil, NewStorageError("failed to list events by device", err).
			WithResource(fingerprint).
			WithOperation("device_events")
	}
	return events, nil
}

// Cleanup removes events older than the given number of days and
// returns the deleted count. Destructive and irreversible; the count
// is always logged.
func (s *Service) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		return 0, NewValidationError("olderThanDays must be positive", nil).WithOperation("cleanup")
	}

	cutoff := s.now().AddDate(0, 0, -olderThanDays)
	deleted, err := s.store.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		return 0, NewStorageError("failed to clean up events", err).WithOperation("cleanup")
	}

	s.logger.WithField("deleted", deleted).WithField("older_than_days", olderThanDays).Info("event cleanup completed")
	return deleted, nil
}
