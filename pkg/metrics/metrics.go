// Package metrics provides Prometheus metrics for the lily service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncPagesTotal tracks sync page requests by outcome
	SyncPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lily",
			Subsystem: "sync",
			Name:      "pages_total",
			Help:      "Total number of sync pages by outcome",
		},
		[]string{"outcome"},
	)

	// SyncPageDuration tracks end to end sync page duration
	SyncPageDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lily",
			Subsystem: "sync",
			Name:      "page_duration_seconds",
			Help:      "Duration of sync pages in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 70, 120},
		},
	)

	// SyncRowsTotal tracks reconciled rows by classification
	SyncRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lily",
			Subsystem: "sync",
			Name:      "rows_total",
			Help:      "Total number of reconciled rows by classification",
		},
		[]string{"classification"},
	)

	// SourceFetchDuration tracks external source fetch duration
	SourceFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lily",
			Subsystem: "source",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of external source page fetches in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 70},
		},
		[]string{"status"},
	)

	// InsertChunksTotal tracks bulk insert statements issued
	InsertChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lily",
			Subsystem: "applier",
			Name:      "insert_chunks_total",
			Help:      "Total number of bulk insert chunks by status",
		},
		[]string{"status"},
	)

	// SourceThrottledTotal tracks source queries refused by the shared query budget
	SourceThrottledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lily",
			Subsystem: "source",
			Name:      "throttled_total",
			Help:      "Total number of source queries refused because the shared query budget was spent",
		},
	)

	// LeaseConflictsTotal tracks sync attempts rejected by a foreign lease
	LeaseConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lily",
			Subsystem: "lease",
			Name:      "conflicts_total",
			Help:      "Total number of sync attempts rejected because another session holds the lease",
		},
	)

	// ImportsTotal tracks bulk imports by outcome
	ImportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lily",
			Subsystem: "import",
			Name:      "imports_total",
			Help:      "Total number of bulk imports by outcome",
		},
		[]string{"format", "outcome"},
	)

	// ImportRowsTotal tracks rows written by bulk imports
	ImportRowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lily",
			Subsystem: "import",
			Name:      "rows_total",
			Help:      "Total number of church rows written by bulk imports",
		},
	)

	// HTTPRequestsTotal tracks outbound HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lily",
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests",
		},
		[]string{"method", "status_code"},
	)

	// HTTPRequestDuration tracks outbound HTTP request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lily",
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound HTTP requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 70},
		},
		[]string{"method"},
	)

	// AuditEntriesTotal tracks audit deliveries per sink
	AuditEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lily",
			Subsystem: "audit",
			Name:      "entries_total",
			Help:      "Total number of audit entries delivered per sink by status",
		},
		[]string{"sink", "status"},
	)

	// AuditDeadLettered tracks failed deliveries parked for redelivery
	AuditDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lily",
			Subsystem: "audit",
			Name:      "dead_lettered_total",
			Help:      "Total number of audit deliveries parked on the dead letter stream",
		},
		[]string{"sink"},
	)

	// AuditEntriesDropped tracks audit entries dropped because the queue was full
	AuditEntriesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lily",
			Subsystem: "audit",
			Name:      "entries_dropped_total",
			Help:      "Total number of audit entries dropped because the queue was full",
		},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lily",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lily",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)
)

// RecordSyncPage records a finished sync page
func RecordSyncPage(outcome string, duration time.Duration) {
	SyncPagesTotal.WithLabelValues(outcome).Inc()
	SyncPageDuration.Observe(duration.Seconds())
}

// RecordSyncRows adds count rows to a classification
func RecordSyncRows(classification string, count int) {
	if count <= 0 {
		return
	}
	SyncRowsTotal.WithLabelValues(classification).Add(float64(count))
}

// RecordSourceFetch records an external source fetch
func RecordSourceFetch(duration time.Duration, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	SourceFetchDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordInsertChunk records one bulk insert statement
func RecordInsertChunk(ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	InsertChunksTotal.WithLabelValues(status).Inc()
}

// RecordImport records a bulk import outcome
func RecordImport(format, outcome string, rows int) {
	ImportsTotal.WithLabelValues(format, outcome).Inc()
	if rows > 0 {
		ImportRowsTotal.Add(float64(rows))
	}
}

// RecordHTTPRequest records an outbound HTTP request metric
func RecordHTTPRequest(method string, statusCode int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordAuditDelivery records one audit entry delivery to a sink
func RecordAuditDelivery(sink string, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	AuditEntriesTotal.WithLabelValues(sink, status).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, duration time.Duration) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(duration.Seconds())
}
