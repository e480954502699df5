package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "localhost:4000", cfg.App.Addr())
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "3306", cfg.Database.DefaultPort())
	assert.Equal(t, "razorpay", cfg.Webhook.Provider)
	assert.Equal(t, "X-Razorpay-Signature", cfg.Webhook.SignatureHeader)
	assert.Equal(t, "X-Razorpay-Event-Id", cfg.Webhook.EventIDHeader)
	assert.Equal(t, 10*time.Minute, cfg.Webhook.ClaimTTL)
	assert.Equal(t, 3, cfg.Dunning.DefaultMaxAttempts)
	assert.False(t, cfg.DeadLetter.Enabled)
	assert.Equal(t, "deadletter", cfg.DeadLetter.Prefix)
	assert.Equal(t, "mealpay", cfg.Telemetry.ServiceName)
	assert.False(t, cfg.StateChange.Enabled)
	assert.Equal(t, "payment.state.changed", cfg.StateChange.Topic)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"APP_ENV":                      "dev",
		"DB_DRIVER":                    "postgres",
		"WEBHOOK_PROVIDER":             " RazorPay ",
		"WEBHOOK_CLAIM_TTL":            "30s",
		"DUNNING_MAX_ATTEMPTS":         "5",
		"DEADLETTER_ENABLED":           "true",
		"DEADLETTER_ACCESS_KEY_ID":     "key",
		"DEADLETTER_SECRET_ACCESS_KEY": "secret",
		"DEADLETTER_BUCKET_NAME":       "dead",
		"OTLP_ENDPOINT":                "collector:4318",
		"KAFKA_ENABLED":                "true",
		"KAFKA_BROKERS":                "kafka-1:9092,kafka-2:9092",
	})
	require.NoError(t, err)

	assert.True(t, cfg.App.IsDev())
	assert.Equal(t, "5432", cfg.Database.DefaultPort())
	assert.Equal(t, "razorpay", cfg.Webhook.Provider)
	assert.Equal(t, 30*time.Second, cfg.Webhook.ClaimTTL)
	assert.Equal(t, 5, cfg.Dunning.DefaultMaxAttempts)
	assert.Equal(t, "dead", cfg.DeadLetter.BucketName)
	assert.Equal(t, "collector:4318", cfg.Telemetry.Endpoint)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.StateChange.Brokers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown driver", map[string]string{"DB_DRIVER": "oracle"}, "DB_DRIVER"},
		{"zero dunning limit", map[string]string{"DUNNING_MAX_ATTEMPTS": "0"}, "DUNNING_MAX_ATTEMPTS"},
		{"retry without cache", map[string]string{"WEBHOOK_RETRY_ENABLED": "true", "CACHE_ENABLED": "false"}, "cache"},
		{"negative claim ttl", map[string]string{"WEBHOOK_CLAIM_TTL": "-1s"}, "WEBHOOK_CLAIM_TTL"},
		{"dead letter without bucket", map[string]string{
			"DEADLETTER_ENABLED":           "true",
			"DEADLETTER_ACCESS_KEY_ID":     "key",
			"DEADLETTER_SECRET_ACCESS_KEY": "secret",
		}, "DEADLETTER_BUCKET_NAME"},
		{"kafka without brokers", map[string]string{"KAFKA_ENABLED": "true"}, "KAFKA_BROKERS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(tt.env)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	_, err := LoadFrom(map[string]string{"WEBHOOK_CLAIM_TTL": "soon"})
	assert.Error(t, err)
}
