// Package stores provides the persistence layer for the telemetry
// pipeline. It includes SQLite-based storage with WAL mode, connection
// pooling, and indexed queries for monitoring events, alerts,
// anomalies, performance traces, snapshots, tokens, and audit logs.
package stores
