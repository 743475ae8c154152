package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ProducerMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securebus_producer_messages_total",
			Help: "Total number of messages handled by the secure producer (count)",
		},
		[]string{"topic", "status"},
	)

	ProducerSendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "securebus_producer_send_duration_ms",
			Help:    "End-to-end send duration in milliseconds, including inline retries",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 30000},
		},
		[]string{"topic"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securebus_retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"component", "topic"},
	)

	RetryQueueSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "securebus_producer_retry_queue_size",
			Help: "Number of sends waiting in the background retry queue (count)",
		},
	)

	RetryQueueDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securebus_producer_retry_dropped_total",
			Help: "Total number of queued sends abandoned after the attempt limit (count)",
		},
		[]string{"topic"},
	)

	ConsumerMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securebus_consumer_messages_total",
			Help: "Total number of records processed by the secure consumer (count)",
		},
		[]string{"topic", "status"},
	)

	ConsumerProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "securebus_consumer_processing_duration_ms",
			Help:    "Per-record processing duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"topic"},
	)

	DeadLetterTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securebus_dead_letter_total",
			Help: "Total number of records routed to the dead-letter store (count)",
		},
		[]string{"topic", "reason"},
	)

	DeadLetterSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "securebus_dead_letter_size",
			Help: "Current number of entries in the dead-letter store (count)",
		},
	)

	DuplicatesSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securebus_consumer_duplicates_total",
			Help: "Total number of redelivered records skipped by message id (count)",
		},
		[]string{"topic"},
	)

	ComplianceVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securebus_compliance_verdicts_total",
			Help: "Total number of compliance validations by result (count)",
		},
		[]string{"topic", "result"},
	)

	ComplianceViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securebus_compliance_violations_total",
			Help: "Total number of rule violations (count)",
		},
		[]string{"rule_id", "severity"},
	)

	AuditDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securebus_audit_dropped_total",
			Help: "Total number of audit records dropped by a sink (count)",
		},
		[]string{"sink", "kind"},
	)

	TransportMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securebus_transport_messages_written_total",
			Help: "Total number of records written to the broker (count)",
		},
		[]string{"topic"},
	)

	TransportMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securebus_transport_messages_read_total",
			Help: "Total number of records read from the broker (count)",
		},
		[]string{"topic"},
	)

	TransportMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "securebus_transport_message_size_bytes",
			Help:    "Size of broker records in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"topic", "direction"},
	)

	TransportWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "securebus_transport_write_duration_ms",
			Help:    "Duration of a single broker write in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"topic"},
	)

	TransportConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "securebus_transport_consumer_lag",
			Help: "Consumer lag reported by the broker reader (count)",
		},
		[]string{"topic", "partition"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "securebus_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securebus_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securebus_circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securebus_rate_limit_requests_total",
			Help: "Total number of ops requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "securebus_database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "securebus_database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"database", "operation"},
	)
)

func RegisterProducerMetrics() {
	prometheus.MustRegister(ProducerMessagesTotal)
	prometheus.MustRegister(ProducerSendDuration)
	prometheus.MustRegister(RetryQueueSize)
	prometheus.MustRegister(RetryQueueDroppedTotal)
}

func RegisterConsumerMetrics() {
	prometheus.MustRegister(ConsumerMessagesTotal)
	prometheus.MustRegister(ConsumerProcessingDuration)
	prometheus.MustRegister(DeadLetterTotal)
	prometheus.MustRegister(DeadLetterSize)
	prometheus.MustRegister(DuplicatesSkippedTotal)
}

func RegisterComplianceMetrics() {
	prometheus.MustRegister(ComplianceVerdictsTotal)
	prometheus.MustRegister(ComplianceViolationsTotal)
	prometheus.MustRegister(AuditDroppedTotal)
}

func RegisterTransportMetrics() {
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(TransportMessagesWrittenTotal)
	prometheus.MustRegister(TransportMessagesReadTotal)
	prometheus.MustRegister(TransportMessageSizeBytes)
	prometheus.MustRegister(TransportWriteDuration)
	prometheus.MustRegister(TransportConsumerLag)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterOpsMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
	prometheus.MustRegister(DatabaseQueriesTotal)
	prometheus.MustRegister(DatabaseQueryDuration)
}

func IncProducerMessage(topic, status string) {
	ProducerMessagesTotal.WithLabelValues(topic, status).Inc()
}

func ObserveProducerSendDuration(topic string, duration time.Duration) {
	ProducerSendDuration.WithLabelValues(topic).Observe(float64(duration.Milliseconds()))
}

func IncRetryAttempt(component, topic string) {
	RetryAttemptsTotal.WithLabelValues(component, topic).Inc()
}

func SetRetryQueueSize(size int) {
	RetryQueueSize.Set(float64(size))
}

func IncRetryQueueDropped(topic string) {
	RetryQueueDroppedTotal.WithLabelValues(topic).Inc()
}

func IncConsumerMessage(topic, status string) {
	ConsumerMessagesTotal.WithLabelValues(topic, status).Inc()
}

func ObserveConsumerProcessingDuration(topic string, duration time.Duration) {
	ConsumerProcessingDuration.WithLabelValues(topic).Observe(float64(duration.Milliseconds()))
}

func IncDeadLetter(topic, reason string) {
	DeadLetterTotal.WithLabelValues(topic, reason).Inc()
}

func SetDeadLetterSize(size int) {
	DeadLetterSize.Set(float64(size))
}

func IncDuplicateSkipped(topic string) {
	DuplicatesSkippedTotal.WithLabelValues(topic).Inc()
}

func IncComplianceVerdict(topic string, compliant bool) {
	result := "compliant"
	if !compliant {
		result = "non_compliant"
	}
	ComplianceVerdictsTotal.WithLabelValues(topic, result).Inc()
}

func IncComplianceViolation(ruleID, severity string) {
	ComplianceViolationsTotal.WithLabelValues(ruleID, severity).Inc()
}

func IncAuditDropped(sink, kind string) {
	AuditDroppedTotal.WithLabelValues(sink, kind).Inc()
}

func IncTransportMessagesWritten(topic string) {
	TransportMessagesWrittenTotal.WithLabelValues(topic).Inc()
}

func IncTransportMessagesRead(topic string) {
	TransportMessagesReadTotal.WithLabelValues(topic).Inc()
}

func ObserveTransportMessageSize(topic, direction string, sizeBytes int) {
	TransportMessageSizeBytes.WithLabelValues(topic, direction).Observe(float64(sizeBytes))
}

func ObserveTransportWriteDuration(topic string, duration time.Duration) {
	TransportWriteDuration.WithLabelValues(topic).Observe(float64(duration.Milliseconds()))
}

func SetTransportConsumerLag(topic string, partition int, lag int64) {
	TransportConsumerLag.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Set(float64(lag))
}

func IncDatabaseQuery(database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(database, operation).Observe(float64(duration.Milliseconds()))
}
