// Package alerts implements threshold rule evaluation, the alert
// lifecycle, de-duplication, and best-effort notification fan-out.
//
// An alert moves through a simple lifecycle: triggered, then (for
// critical severity) notified once any channel delivery succeeds, then
// resolved. At most one unresolved alert exists per (type, metric,
// source) key at any time; re-triggers of an active key are swallowed.
// Notification dispatch is asynchronous and never blocks or fails the
// call that created the alert.
package alerts
