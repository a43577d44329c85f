// Package export serializes query results to CSV or JSON for
// offline analysis. CSV output follows RFC 4180 quoting, so fields
// containing commas, quotes, or newlines survive a round trip
// through any standard reader.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/openpulse/openpulse/pkg/stores"
)

// Format selects the output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatJSON:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Events writes monitoring events in the given format.
func Events(w io.Writer, format Format, events []*stores.MonitoringEvent) error {
	if format == FormatJSON {
		return writeJSON(w, events)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"id", "timestamp", "ip", "environment", "endpoint", "method",
		"status_code", "response_time_ms", "user_agent", "device_type",
		"device_fingerprint", "path",
	}); err != nil {
		return err
	}
	for _, e := range events {
		record := []string{
			strconv.FormatInt(e.ID, 10),
			formatTime(e.Timestamp),
			e.IP,
			e.Environment,
			e.Endpoint,
			e.Method,
			strconv.Itoa(e.StatusCode),
			strconv.FormatFloat(e.ResponseTimeMs, 'f', -1, 64),
			e.UserAgent,
			e.DeviceType,
			e.DeviceFingerprint,
			e.Path,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Alerts writes telemetry alerts in the given format.
func Alerts(w io.Writer, format Format, alerts []*stores.TelemetryAlert) error {
	if format == FormatJSON {
		return writeJSON(w, alerts)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"id", "timestamp", "type", "severity", "source", "metric",
		"value", "threshold", "unit", "message", "environment",
		"resolved", "notified",
	}); err != nil {
		return err
	}
	for _, a := range alerts {
		record := []string{
			a.ID,
			formatTime(a.Timestamp),
			a.Type,
			string(a.Severity),
			a.Source,
			a.Metric,
			strconv.FormatFloat(a.Value, 'f', -1, 64),
			strconv.FormatFloat(a.Threshold, 'f', -1, 64),
			a.Unit,
			a.Message,
			a.Environment,
			strconv.FormatBool(a.Resolved),
			strconv.FormatBool(a.Notified),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// AuditEntries writes audit log entries in the given format.
func AuditEntries(w io.Writer, format Format, entries []*stores.AuditLogEntry) error {
	if format == FormatJSON {
		return writeJSON(w, entries)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"id", "timestamp", "token", "action", "resource", "ip",
		"user_agent", "success", "reason",
	}); err != nil {
		return err
	}
	for _, e := range entries {
		record := []string{
			strconv.FormatInt(e.ID, 10),
			formatTime(e.Timestamp),
			e.Token,
			e.Action,
			e.Resource,
			e.IP,
			e.UserAgent,
			strconv.FormatBool(e.Success),
			e.Reason,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
