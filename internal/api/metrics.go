package api

import (
	"sync/atomic"
	"time"
)

// Metrics collects in-memory server metrics using atomic counters.
type Metrics struct {
	startTime      time.Time
	requests       atomic.Int64
	serverErrors   atomic.Int64
	clientErrors   atomic.Int64
	recordsApplied atomic.Int64
	recordsStale   atomic.Int64
	changeQueries  atomic.Int64
	blobsStored    atomic.Int64
}

// MetricsSnapshot is a point-in-time view of server metrics.
type MetricsSnapshot struct {
	UptimeSeconds  float64 `json:"uptime_seconds"`
	Requests       int64   `json:"requests"`
	ServerErrors   int64   `json:"server_errors"`
	ClientErrors   int64   `json:"client_errors"`
	RecordsApplied int64   `json:"records_applied"`
	RecordsStale   int64   `json:"records_stale"`
	ChangeQueries  int64   `json:"change_queries"`
	BlobsStored    int64   `json:"blobs_stored"`
}

// NewMetrics creates a new Metrics instance with the current time as start.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordRequest increments the total request counter.
func (m *Metrics) RecordRequest() {
	m.requests.Add(1)
}

// RecordError increments the server error (5xx) counter.
func (m *Metrics) RecordError() {
	m.serverErrors.Add(1)
}

// RecordClientError increments the client error (4xx) counter.
func (m *Metrics) RecordClientError() {
	m.clientErrors.Add(1)
}

// RecordApplied increments the applied-writes counter.
func (m *Metrics) RecordApplied() {
	m.recordsApplied.Add(1)
}

// RecordStale increments the dropped-stale-writes counter.
func (m *Metrics) RecordStale() {
	m.recordsStale.Add(1)
}

// RecordChangeQuery increments the delta query counter.
func (m *Metrics) RecordChangeQuery() {
	m.changeQueries.Add(1)
}

// RecordBlobStored increments the stored attachment counter.
func (m *Metrics) RecordBlobStored() {
	m.blobsStored.Add(1)
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds:  time.Since(m.startTime).Seconds(),
		Requests:       m.requests.Load(),
		ServerErrors:   m.serverErrors.Load(),
		ClientErrors:   m.clientErrors.Load(),
		RecordsApplied: m.recordsApplied.Load(),
		RecordsStale:   m.recordsStale.Load(),
		ChangeQueries:  m.changeQueries.Load(),
		BlobsStored:    m.blobsStored.Load(),
	}
}
