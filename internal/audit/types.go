// Package audit defines the record types the messaging core emits and the
// Sink collaborator that receives them. A Sink never reports failure back to
// its caller; where records land and how durably is the sink's concern.
package audit

import (
	"context"
	"time"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

type Result string

const (
	ResultCompliant    Result = "COMPLIANT"
	ResultNonCompliant Result = "NON_COMPLIANT"
)

const EventTypeComplianceValidation = "COMPLIANCE_VALIDATION"

// Entry is created once per compliance validation and never mutated.
type Entry struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	EventType      string    `json:"eventType"`
	Topic          string    `json:"topic"`
	MessageID      string    `json:"messageId"`
	ViolationCount int       `json:"violationCount"`
	WarningCount   int       `json:"warningCount"`
	Result         Result    `json:"result"`
}

// Security event types.
const (
	SecurityConnected           = "CONNECTED"
	SecurityDisconnected        = "DISCONNECTED"
	SecurityComplianceBlocked   = "COMPLIANCE_BLOCKED"
	SecurityComplianceBypassed  = "COMPLIANCE_BYPASSED"
	SecurityIntegrityFailure    = "INTEGRITY_FAILURE"
	SecurityDeadLettered        = "DEAD_LETTERED"
	SecurityConsumerCrashed     = "CONSUMER_CRASHED"
	SecurityRetryAbandoned      = "RETRY_ABANDONED"
	SecurityUndelivered         = "UNDELIVERED_ON_SHUTDOWN"
	SecurityDataSubjectRequest  = "DATA_SUBJECT_REQUEST"
	SecurityDeadLetterEvicted   = "DEAD_LETTER_EVICTED"
	SecurityDeadLetterRecovered = "DEAD_LETTER_RECOVERED"
	SecurityDeadLetterReplaced  = "DEAD_LETTER_REPLACED"
)

type SecurityEvent struct {
	Timestamp   time.Time              `json:"timestamp"`
	Type        string                 `json:"type"`
	Severity    Severity               `json:"severity"`
	Component   string                 `json:"component"`
	Topic       string                 `json:"topic,omitempty"`
	MessageID   string                 `json:"messageId,omitempty"`
	Description string                 `json:"description"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

type PerformanceMetric struct {
	Timestamp time.Time         `json:"timestamp"`
	Component string            `json:"component"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// Business event types.
const (
	BusinessMessageSent      = "MESSAGE_SENT"
	BusinessMessageProcessed = "MESSAGE_PROCESSED"
)

type BusinessEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	Type      string        `json:"type"`
	Topic     string        `json:"topic"`
	MessageID string        `json:"messageId"`
	Partition int           `json:"partition"`
	Offset    int64         `json:"offset"`
	Duration  time.Duration `json:"durationNs"`
	Encrypted bool          `json:"encrypted"`
}

// Sink receives audit records. Implementations must not block the caller on
// failure and must not drop a record without logging it.
type Sink interface {
	RecordAudit(ctx context.Context, entry Entry)
	RecordSecurity(ctx context.Context, event SecurityEvent)
	RecordPerformance(ctx context.Context, metric PerformanceMetric)
	RecordBusiness(ctx context.Context, event BusinessEvent)
}

// Reader exposes the audit entries a sink retained, for reporting.
type Reader interface {
	Entries(ctx context.Context, from, to time.Time) ([]Entry, error)
}
