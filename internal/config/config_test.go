package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

// clearEnv blanks every variable Load reads so ambient settings don't leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "LOG_FORMAT", "FEATURE_TIMEZONE", "MODEL_SEED",
		"CORS_ALLOWED_ORIGINS", "TRUSTED_PROXIES", "RATE_LIMIT_RPM", "RATE_LIMIT_BURST", "DATABASE_URL",
		"REDIS_URL", "KAFKA_BROKERS", "KAFKA_TOPIC", "OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		setEnv(t, key, "")
	}
}

func validConfig() Config {
	return Config{
		Port:            "3000",
		Env:             "development",
		LogLevel:        "info",
		LogFormat:       "json",
		FeatureTimezone: "UTC",
		RateLimitRPM:    600,
		RateLimitBurst:  50,
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultLogFormat, cfg.LogFormat)
	assert.Equal(t, "UTC", cfg.FeatureTimezone)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Empty(t, cfg.TrustedProxies)
	assert.Equal(t, DefaultRateLimitRPM, cfg.RateLimitRPM)
	assert.Equal(t, DefaultRateLimitBurst, cfg.RateLimitBurst)
	assert.Equal(t, DefaultKafkaTopic, cfg.KafkaTopic)
	assert.Zero(t, cfg.ModelSeed)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.Brokers())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	setEnv(t, "PORT", "9090")
	setEnv(t, "ENV", "production")
	setEnv(t, "FEATURE_TIMEZONE", "Europe/Berlin")
	setEnv(t, "MODEL_SEED", "42")
	setEnv(t, "CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	setEnv(t, "KAFKA_BROKERS", "k1:9092,k2:9092")
	setEnv(t, "TRUSTED_PROXIES", "10.0.0.0/8")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, uint64(42), cfg.ModelSeed)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers())
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.TrustedProxies)
	assert.Equal(t, "Europe/Berlin", cfg.Location().String())
}

func TestLoad_InvalidTimezone(t *testing.T) {
	clearEnv(t)
	setEnv(t, "FEATURE_TIMEZONE", "Mars/Olympus_Mons")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FEATURE_TIMEZONE")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "non-numeric port", mutate: func(c *Config) { c.Port = "http" }, wantErr: "PORT"},
		{name: "port out of range", mutate: func(c *Config) { c.Port = "70000" }, wantErr: "PORT"},
		{name: "unknown env", mutate: func(c *Config) { c.Env = "qa" }, wantErr: "ENV"},
		{name: "unknown log level", mutate: func(c *Config) { c.LogLevel = "verbose" }, wantErr: "LOG_LEVEL"},
		{name: "unknown log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: "LOG_FORMAT"},
		{name: "bad timezone", mutate: func(c *Config) { c.FeatureTimezone = "Nowhere/City" }, wantErr: "FEATURE_TIMEZONE"},
		{name: "zero rate", mutate: func(c *Config) { c.RateLimitRPM = 0 }, wantErr: "RATE_LIMIT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsProduction(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestGetEnvUint64(t *testing.T) {
	setEnv(t, "TEST_SEED", "7")
	setEnv(t, "TEST_NEGATIVE", "-7")

	assert.Equal(t, uint64(7), getEnvUint64("TEST_SEED", 0))
	assert.Equal(t, uint64(3), getEnvUint64("TEST_NEGATIVE", 3))
}
