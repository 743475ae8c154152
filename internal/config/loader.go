package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout_seconds", "10s")
	viper.SetDefault("server.write_timeout_seconds", "10s")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("broker.type", "kafka")
	viper.SetDefault("broker.kafka.client_id", "securebus")
	viper.SetDefault("broker.kafka.required_acks", "all")
	viper.SetDefault("broker.kafka.batch_timeout", "10ms")
	viper.SetDefault("broker.kafka.write_timeout", "10s")
	viper.SetDefault("broker.kafka.commit_interval", "5s")
	viper.SetDefault("broker.kafka.commit_threshold", 100)

	viper.SetDefault("producer.version", "1.0")
	viper.SetDefault("producer.retry.max_retries", 3)
	viper.SetDefault("producer.retry.initial_interval", "100ms")
	viper.SetDefault("producer.retry.max_interval", "30s")
	viper.SetDefault("producer.retry.multiplier", 2.0)
	viper.SetDefault("producer.retry.jitter", 0.5)
	viper.SetDefault("producer.batch_concurrency", 10)
	viper.SetDefault("producer.retry_sweep_interval", "5s")
	viper.SetDefault("producer.max_background_attempts", 5)

	viper.SetDefault("consumer.dead_letter_capacity", 10000)
	viper.SetDefault("consumer.metrics_interval", "60s")
	viper.SetDefault("consumer.dead_letter_retry_limit", 3)
	viper.SetDefault("consumer.duplicate_window", "1h")
	viper.SetDefault("consumer.idempotency_store", "memory")

	viper.SetDefault("security.key_version", 1)
	viper.SetDefault("security.signing_algorithm", "hmac-sha256")

	viper.SetDefault("compliance.subject_store", "memory")

	viper.SetDefault("audit.sinks", []string{"log"})
	viper.SetDefault("audit.buffer_size", 1024)

	viper.SetDefault("tracing.service_name", "securebus")
}

func bindEnvVariables() {
	viper.BindEnv("broker.type", "BROKER_TYPE")
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	viper.BindEnv("broker.kafka.client_id", "BROKER_KAFKA_CLIENT_ID")

	viper.BindEnv("security.master_key", "SECURITY_MASTER_KEY")
	viper.BindEnv("security.key_version", "SECURITY_KEY_VERSION")
	viper.BindEnv("security.signing_algorithm", "SECURITY_SIGNING_ALGORITHM")

	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	viper.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout_seconds", "SERVER_READ_TIMEOUT_SECONDS")
	viper.BindEnv("server.write_timeout_seconds", "SERVER_WRITE_TIMEOUT_SECONDS")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		cfg.Broker.Kafka.Brokers = splitList(brokersEnv)
	}

	if topicsEnv := viper.GetString("PRODUCER_SENSITIVE_TOPICS"); topicsEnv != "" {
		cfg.Producer.SensitiveTopics = splitList(topicsEnv)
	}

	if topicsEnv := viper.GetString("CONSUMER_TOPICS"); topicsEnv != "" {
		cfg.Consumer.Topics = splitList(topicsEnv)
	}

	if otlpEndpoint := viper.GetString("TRACING_OTLP_ENDPOINT"); otlpEndpoint != "" {
		cfg.Tracing.OTLP.Endpoint = otlpEndpoint
	}

	return nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}
