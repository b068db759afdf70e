package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SERVER_ADDRESS", "ENVIRONMENT", "MAX_BODY_BYTES", "STORE_BACKEND", "SQLITE_PATH",
		"HISTORY_RETENTION", "ENABLE_CIRCUIT_BREAKER", "AWS_REGION", "DYNAMODB_TABLE",
		"DYNAMODB_ENDPOINT", "EVENT_BUS_NAME", "LOG_LEVEL", "ENABLE_METRICS", "ENABLE_TRACING",
		"OTLP_ENDPOINT", "QUERY_CACHE_TTL", "CONFIG_FILE",
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ServerAddress)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, BackendSQLite, cfg.StoreBackend)
	assert.Equal(t, "./data/knowgraph.db", cfg.SQLitePath)
	assert.Equal(t, 20, cfg.HistoryRetention)
	assert.Equal(t, int64(10<<20), cfg.MaxBodyBytes)
	assert.Equal(t, "knowgraph", cfg.DynamoDBTable)
	assert.True(t, cfg.EnableMetrics)
	assert.False(t, cfg.EnableTracing)
	assert.False(t, cfg.EnableCircuitBreaker)
	assert.Equal(t, 60*time.Second, cfg.QueryCacheTTL)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadConfig_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_BACKEND", "dynamodb")
	t.Setenv("DYNAMODB_TABLE", "graphs")
	t.Setenv("HISTORY_RETENTION", "5")
	t.Setenv("ENABLE_CIRCUIT_BREAKER", "yes")
	t.Setenv("QUERY_CACHE_TTL", "5m")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, BackendDynamoDB, cfg.StoreBackend)
	assert.Equal(t, "graphs", cfg.DynamoDBTable)
	assert.Equal(t, 5, cfg.HistoryRetention)
	assert.True(t, cfg.EnableCircuitBreaker)
	assert.Equal(t, 5*time.Minute, cfg.QueryCacheTTL)
}

func TestLoadConfig_FileOverridesEnvironment(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "knowgraph.yaml")
	writeFile(t, path, "log_level: debug\nhistory_retention: 7\nquery_cache_ttl: 10s\n")
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HISTORY_RETENTION", "3")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 7, cfg.HistoryRetention)
	assert.Equal(t, 10*time.Second, cfg.QueryCacheTTL)
	// keys missing from the file keep their environment value
	assert.Equal(t, ":8080", cfg.ServerAddress)
}

func TestLoadConfig_BadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "knowgraph.yaml")
	writeFile(t, path, "history_retention: [oops\n")
	t.Setenv("CONFIG_FILE", path)

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown backend", func(c *Config) { c.StoreBackend = "postgres" }, "unknown STORE_BACKEND"},
		{"no sqlite path", func(c *Config) { c.SQLitePath = "" }, "SQLITE_PATH"},
		{"no table", func(c *Config) { c.StoreBackend = BackendDynamoDB; c.DynamoDBTable = "" }, "DYNAMODB_TABLE"},
		{"zero retention", func(c *Config) { c.HistoryRetention = 0 }, "HISTORY_RETENTION"},
		{"zero body limit", func(c *Config) { c.MaxBodyBytes = 0 }, "MAX_BODY_BYTES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				StoreBackend:     BackendSQLite,
				SQLitePath:       "graphs.db",
				HistoryRetention: 20,
				MaxBodyBytes:     1024,
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWatcher_ReloadAppliesLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowgraph.yaml")
	writeFile(t, path, "log_level: warn\n")

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	w, err := NewWatcher(path, level, zap.NewNop())
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, w.Reload())
	assert.Equal(t, zapcore.WarnLevel, level.Level())

	writeFile(t, path, "log_level: nonsense\n")
	assert.Error(t, w.Reload())
	assert.Equal(t, zapcore.WarnLevel, level.Level())
}

func TestWatcher_PicksUpFileChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowgraph.yaml")
	writeFile(t, path, "log_level: info\n")

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	w, err := NewWatcher(path, level, zap.NewNop())
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	writeFile(t, path, "log_level: error\n")

	assert.Eventually(t, func() bool {
		return level.Level() == zapcore.ErrorLevel
	}, 5*time.Second, 20*time.Millisecond)
}
