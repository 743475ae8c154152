package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMasterKey = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("m", 32)))

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
broker:
  type: memory
security:
  master_key: `+testMasterKey+`
producer:
  source: payments-service
  sensitive_topics: [payment-completion, user-registration]
compliance:
  topic_policies:
    payment-completion:
      allowed_purposes: [settlement]
      allowed_fields: [amount, currency]
  retention_policies:
    - category: financial
      retention_period: 2160h
      topics: [payment-completion]
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Broker.Type)
	assert.Equal(t, 3, cfg.Producer.Retry.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Producer.Retry.InitialInterval)
	assert.Equal(t, 30*time.Second, cfg.Producer.Retry.MaxInterval)
	assert.Equal(t, 10, cfg.Producer.BatchConcurrency)
	assert.Equal(t, 5*time.Second, cfg.Producer.RetrySweepInterval)
	assert.Equal(t, 5, cfg.Producer.MaxBackgroundAttempts)
	assert.Equal(t, 10000, cfg.Consumer.DeadLetterCapacity)
	assert.Equal(t, 60*time.Second, cfg.Consumer.MetricsInterval)
	assert.Equal(t, "hmac-sha256", cfg.Security.SigningAlgorithm)
	assert.Equal(t, []string{"log"}, cfg.Audit.Sinks)
	assert.Equal(t, []string{"payment-completion", "user-registration"}, cfg.Producer.SensitiveTopics)

	policy, ok := cfg.Compliance.TopicPolicies["payment-completion"]
	require.True(t, ok)
	assert.Equal(t, []string{"settlement"}, policy.AllowedPurposes)
	require.Len(t, cfg.Compliance.RetentionPolicies, 1)
	assert.Equal(t, 2160*time.Hour, cfg.Compliance.RetentionPolicies[0].RetentionPeriod)

	key, err := cfg.Security.DecodeMasterKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("BROKER_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("PRODUCER_SENSITIVE_TOPICS", "invoice-settlement,identity-verification-data")

	path := writeConfig(t, `
broker:
  type: kafka
  kafka:
    brokers: [localhost:9092]
    group_id: securebus
security:
  master_key: `+testMasterKey+`
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Broker.Kafka.Brokers)
	assert.Equal(t, []string{"invoice-settlement", "identity-verification-data"}, cfg.Producer.SensitiveTopics)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_RejectsMissingMasterKey(t *testing.T) {
	path := writeConfig(t, `
broker:
  type: memory
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "security.master_key")
}
