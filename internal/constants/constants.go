package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
	KafkaMinBytes     = 1
	KafkaMaxBytes     = 10e6
	KafkaMaxWait      = 500 * time.Millisecond
)

const (
	DefaultCommitInterval  = 5 * time.Second
	DefaultCommitThreshold = 100
)

const (
	DefaultBatchConcurrency      = 10
	DefaultRetrySweepInterval    = 5 * time.Second
	DefaultMaxBackgroundAttempts = 5
)

const (
	DefaultDeadLetterCapacity = 10000
	DefaultMetricsInterval    = 60 * time.Second
	DefaultDuplicateWindow    = time.Hour
	DefaultDeadLetterRetries  = 3
)

const (
	CacheKeyPrefixIdempotency = "securebus:processed:"
)

const (
	DefaultMongoDBName         = "securebus"
	SubjectRecordsCollection   = "subject_records"
	SubjectRequestsCollection  = "subject_requests"
	DefaultAuditTopic          = "securebus.audit"
	DefaultAsyncAuditQueueSize = 1024
)

const (
	ShutdownTimeout = 10 * time.Second
)

const (
	NonCompliantRatioThreshold = 0.05
)

const (
	ComponentProducer   = "secure-producer"
	ComponentConsumer   = "secure-consumer"
	ComponentCompliance = "compliance-engine"
)
