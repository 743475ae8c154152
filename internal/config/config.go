package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const MinMasterKeyBytes = 32

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Producer       ProducerConfig
	Consumer       ConsumerConfig
	Security       SecurityConfig
	Compliance     ComplianceConfig
	Audit          AuditConfig
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port                int             `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration   `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration   `mapstructure:"write_timeout_seconds"`
	RateLimit           RateLimitConfig `mapstructure:"rate_limit"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig
	Redis         RedisConfig
	MongoDB       MongoDBConfig
	RunMigrations bool `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	GroupID         string        `mapstructure:"group_id"`
	ClientID        string        `mapstructure:"client_id"`
	RequiredAcks    string        `mapstructure:"required_acks"`
	BatchTimeout    time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	CommitInterval  time.Duration `mapstructure:"commit_interval"`
	CommitThreshold int           `mapstructure:"commit_threshold"`
}

type RetryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	Jitter          float64       `mapstructure:"jitter"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ProducerConfig struct {
	Source                string        `mapstructure:"source"`
	Version               string        `mapstructure:"version"`
	SensitiveTopics       []string      `mapstructure:"sensitive_topics"`
	Retry                 RetryConfig   `mapstructure:"retry"`
	BatchConcurrency      int           `mapstructure:"batch_concurrency"`
	RetrySweepInterval    time.Duration `mapstructure:"retry_sweep_interval"`
	MaxBackgroundAttempts int           `mapstructure:"max_background_attempts"`
}

type ConsumerConfig struct {
	Topics                  []string      `mapstructure:"topics"`
	FromBeginning           bool          `mapstructure:"from_beginning"`
	AutoCommit              *bool         `mapstructure:"auto_commit"`
	DeadLetterCapacity      int           `mapstructure:"dead_letter_capacity"`
	MetricsInterval         time.Duration `mapstructure:"metrics_interval"`
	DeadLetterRetryInterval time.Duration `mapstructure:"dead_letter_retry_interval"`
	DeadLetterRetryLimit    int           `mapstructure:"dead_letter_retry_limit"`
	SkipDuplicates          bool          `mapstructure:"skip_duplicates"`
	DuplicateWindow         time.Duration `mapstructure:"duplicate_window"`
	IdempotencyStore        string        `mapstructure:"idempotency_store"`
}

type SecurityConfig struct {
	MasterKey        string   `mapstructure:"master_key"`
	KeyVersion       int      `mapstructure:"key_version"`
	SigningAlgorithm string   `mapstructure:"signing_algorithm"`
	MaskedFields     []string `mapstructure:"masked_fields"`
}

// DecodeMasterKey returns the raw master secret. The configured value is
// standard base64.
func (c SecurityConfig) DecodeMasterKey() ([]byte, error) {
	if c.MasterKey == "" {
		return nil, fmt.Errorf("master key is required")
	}
	key, err := base64.StdEncoding.DecodeString(c.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("master key is not valid base64: %w", err)
	}
	return key, nil
}

type ComplianceConfig struct {
	TopicPolicies     map[string]TopicPolicyConfig `mapstructure:"topic_policies"`
	RetentionPolicies []RetentionPolicyConfig      `mapstructure:"retention_policies"`
	ExpressionRules   []ExpressionRuleConfig       `mapstructure:"expression_rules"`
	SubjectStore      string                       `mapstructure:"subject_store"`
}

type TopicPolicyConfig struct {
	AllowedPurposes []string `mapstructure:"allowed_purposes"`
	AllowedFields   []string `mapstructure:"allowed_fields"`
}

type RetentionPolicyConfig struct {
	Category        string        `mapstructure:"category"`
	RetentionPeriod time.Duration `mapstructure:"retention_period"`
	Topics          []string      `mapstructure:"topics"`
}

type ExpressionRuleConfig struct {
	ID          string `mapstructure:"id"`
	Regulation  string `mapstructure:"regulation"`
	Description string `mapstructure:"description"`
	Severity    string `mapstructure:"severity"`
	Expression  string `mapstructure:"expression"`
}

type AuditConfig struct {
	Sinks      []string `mapstructure:"sinks"`
	Topic      string   `mapstructure:"topic"`
	BufferSize int      `mapstructure:"buffer_size"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
