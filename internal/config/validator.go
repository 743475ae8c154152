package config

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateProducer(cfg.Producer); err != nil {
		errors = append(errors, err)
	}

	if err := validateConsumer(cfg.Consumer, cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateSecurity(cfg.Security); err != nil {
		errors = append(errors, err)
	}

	if err := validateCompliance(cfg.Compliance, cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateAudit(cfg.Audit, cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type == "" {
		return &ValidationError{
			Field:   "broker.type",
			Message: "broker type is required",
		}
	}

	switch cfg.Type {
	case "kafka":
		return validateKafka(cfg.Kafka)
	case "memory":
		return nil
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka, memory)", cfg.Type),
		}
	}
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	validAcks := map[string]bool{"": true, "none": true, "one": true, "all": true}
	if !validAcks[strings.ToLower(cfg.RequiredAcks)] {
		return &ValidationError{
			Field:   "broker.kafka.required_acks",
			Message: fmt.Sprintf("invalid required_acks: %s (valid: none, one, all)", cfg.RequiredAcks),
		}
	}

	if cfg.CommitThreshold < 0 {
		return &ValidationError{
			Field:   "broker.kafka.commit_threshold",
			Message: "commit_threshold must be non-negative",
		}
	}

	if cfg.CommitInterval < 0 {
		return &ValidationError{
			Field:   "broker.kafka.commit_interval",
			Message: "commit_interval must be non-negative",
		}
	}

	return nil
}

func validateRetry(field string, cfg RetryConfig) error {
	if cfg.InitialInterval < 0 {
		return &ValidationError{
			Field:   field + ".initial_interval",
			Message: "initial_interval must be non-negative",
		}
	}

	if cfg.MaxInterval < 0 {
		return &ValidationError{
			Field:   field + ".max_interval",
			Message: "max_interval must be non-negative",
		}
	}

	if cfg.MaxInterval > 0 && cfg.InitialInterval > 0 && cfg.MaxInterval < cfg.InitialInterval {
		return &ValidationError{
			Field:   field + ".max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Multiplier < 0 {
		return &ValidationError{
			Field:   field + ".multiplier",
			Message: "multiplier must be non-negative",
		}
	}

	if cfg.Jitter < 0 || cfg.Jitter > 1 {
		return &ValidationError{
			Field:   field + ".jitter",
			Message: "jitter must be between 0 and 1",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Host != "" || cfg.Postgres.Port > 0 {
		if err := validatePostgres(cfg.Postgres); err != nil {
			return err
		}
	}

	if cfg.Redis.Host != "" || cfg.Redis.Port > 0 {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}

	if cfg.MongoDB.URI != "" {
		if err := validateMongoDB(cfg.MongoDB); err != nil {
			return err
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "database.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.TTLSeconds < 0 {
		return &ValidationError{
			Field:   "database.redis.ttl_seconds",
			Message: "TTL must be non-negative",
		}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if cfg.URI == "" {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI is required",
		}
	}

	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{
			Field:   "database.mongodb.database",
			Message: "MongoDB database name is required",
		}
	}

	return nil
}

func validateProducer(cfg ProducerConfig) error {
	if err := validateRetry("producer.retry", cfg.Retry); err != nil {
		return err
	}

	if cfg.BatchConcurrency < 0 {
		return &ValidationError{
			Field:   "producer.batch_concurrency",
			Message: "batch_concurrency must be non-negative",
		}
	}

	if cfg.MaxBackgroundAttempts < 0 {
		return &ValidationError{
			Field:   "producer.max_background_attempts",
			Message: "max_background_attempts must be non-negative",
		}
	}

	for i, topic := range cfg.SensitiveTopics {
		if strings.TrimSpace(topic) == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("producer.sensitive_topics[%d]", i),
				Message: "topic name cannot be empty",
			}
		}
	}

	return nil
}

func validateConsumer(cfg ConsumerConfig, db DatabaseConfig) error {
	if cfg.DeadLetterCapacity < 0 {
		return &ValidationError{
			Field:   "consumer.dead_letter_capacity",
			Message: "dead_letter_capacity must be non-negative",
		}
	}

	if cfg.DeadLetterRetryLimit < 0 {
		return &ValidationError{
			Field:   "consumer.dead_letter_retry_limit",
			Message: "dead_letter_retry_limit must be non-negative",
		}
	}

	switch strings.ToLower(cfg.IdempotencyStore) {
	case "", "memory":
	case "redis":
		if cfg.SkipDuplicates && db.Redis.Host == "" {
			return &ValidationError{
				Field:   "consumer.idempotency_store",
				Message: "redis idempotency store requires database.redis.host",
			}
		}
	default:
		return &ValidationError{
			Field:   "consumer.idempotency_store",
			Message: fmt.Sprintf("invalid idempotency store: %s (valid: memory, redis)", cfg.IdempotencyStore),
		}
	}

	return nil
}

func validateSecurity(cfg SecurityConfig) error {
	key, err := cfg.DecodeMasterKey()
	if err != nil {
		return &ValidationError{
			Field:   "security.master_key",
			Message: err.Error(),
		}
	}
	if len(key) < MinMasterKeyBytes {
		return &ValidationError{
			Field:   "security.master_key",
			Message: fmt.Sprintf("master key must decode to at least %d bytes, got %d", MinMasterKeyBytes, len(key)),
		}
	}

	if cfg.KeyVersion < 1 {
		return &ValidationError{
			Field:   "security.key_version",
			Message: "key_version must be >= 1",
		}
	}

	validAlgorithms := map[string]bool{"hmac-sha256": true, "ed25519": true}
	if cfg.SigningAlgorithm != "" && !validAlgorithms[strings.ToLower(cfg.SigningAlgorithm)] {
		return &ValidationError{
			Field:   "security.signing_algorithm",
			Message: fmt.Sprintf("invalid signing algorithm: %s (valid: hmac-sha256, ed25519)", cfg.SigningAlgorithm),
		}
	}

	return nil
}

func validateCompliance(cfg ComplianceConfig, db DatabaseConfig) error {
	validSeverities := map[string]bool{"LOW": true, "MEDIUM": true, "HIGH": true, "CRITICAL": true}

	seen := make(map[string]bool, len(cfg.ExpressionRules))
	for i, rule := range cfg.ExpressionRules {
		field := fmt.Sprintf("compliance.expression_rules[%d]", i)
		if rule.ID == "" {
			return &ValidationError{Field: field + ".id", Message: "rule id is required"}
		}
		if seen[rule.ID] {
			return &ValidationError{Field: field + ".id", Message: fmt.Sprintf("duplicate rule id: %s", rule.ID)}
		}
		seen[rule.ID] = true
		if rule.Expression == "" {
			return &ValidationError{Field: field + ".expression", Message: "expression is required"}
		}
		if !validSeverities[strings.ToUpper(rule.Severity)] {
			return &ValidationError{
				Field:   field + ".severity",
				Message: fmt.Sprintf("invalid severity: %s (valid: LOW, MEDIUM, HIGH, CRITICAL)", rule.Severity),
			}
		}
	}

	for i, policy := range cfg.RetentionPolicies {
		field := fmt.Sprintf("compliance.retention_policies[%d]", i)
		if policy.RetentionPeriod <= 0 {
			return &ValidationError{Field: field + ".retention_period", Message: "retention_period must be positive"}
		}
		if len(policy.Topics) == 0 {
			return &ValidationError{Field: field + ".topics", Message: "at least one topic is required"}
		}
	}

	switch strings.ToLower(cfg.SubjectStore) {
	case "", "memory":
	case "mongodb":
		if db.MongoDB.URI == "" {
			return &ValidationError{
				Field:   "compliance.subject_store",
				Message: "mongodb subject store requires database.mongodb.uri",
			}
		}
	default:
		return &ValidationError{
			Field:   "compliance.subject_store",
			Message: fmt.Sprintf("invalid subject store: %s (valid: memory, mongodb)", cfg.SubjectStore),
		}
	}

	return nil
}

func validateAudit(cfg AuditConfig, db DatabaseConfig) error {
	for i, sink := range cfg.Sinks {
		field := fmt.Sprintf("audit.sinks[%d]", i)
		switch strings.ToLower(sink) {
		case "log", "memory":
		case "postgres":
			if db.Postgres.Host == "" {
				return &ValidationError{Field: field, Message: "postgres audit sink requires database.postgres.host"}
			}
		case "topic":
			if cfg.Topic == "" {
				return &ValidationError{Field: "audit.topic", Message: "topic audit sink requires audit.topic"}
			}
		default:
			return &ValidationError{
				Field:   field,
				Message: fmt.Sprintf("unknown audit sink: %s (valid: log, memory, postgres, topic)", sink),
			}
		}
	}

	if cfg.BufferSize < 0 {
		return &ValidationError{Field: "audit.buffer_size", Message: "buffer_size must be non-negative"}
	}

	return nil
}
