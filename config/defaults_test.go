package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, RetrievalConfig{}, cfg.Retrieval)
	assert.NotEqual(t, BackendsConfig{}, cfg.Backends)
	assert.NotEqual(t, ClassifierConfig{}, cfg.Classifier)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, QdrantConfig{}, cfg.Qdrant)
	assert.NotEqual(t, LLMConfig{}, cfg.LLM)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	// JWT 默认关闭
	assert.False(t, cfg.JWT.Enabled())
	assert.NoError(t, cfg.Validate())
}

// --- Individual Default*Config functions ---

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.AllowQueryAPIKey)
	assert.Empty(t, cfg.APIKeys)
	assert.Equal(t, 100, cfg.RateLimitRPS)
	assert.Equal(t, 200, cfg.RateLimitBurst)
}

func TestDefaultRetrievalConfig(t *testing.T) {
	cfg := DefaultRetrievalConfig()
	assert.Equal(t, 10, cfg.TopK)
	assert.Equal(t, 5*time.Second, cfg.AdapterTimeout)
	assert.Equal(t, 3, cfg.MixedPerSourceMin)
	assert.Equal(t, 0.5, cfg.DedupOverlap)
	assert.Equal(t, 0.3, cfg.FuzzyThreshold)
	assert.Equal(t, 200, cfg.SnippetLength)
	assert.True(t, cfg.LegacyCitations)
	assert.False(t, cfg.SupplementWithDense)
	assert.Zero(t, cfg.MaxContextTokens)
}

func TestDefaultBackendsConfig(t *testing.T) {
	cfg := DefaultBackendsConfig()
	assert.Equal(t, "memory", cfg.DenseKind)
	assert.True(t, cfg.Dense)
	assert.True(t, cfg.Graph)
	assert.True(t, cfg.Summary)
	assert.Equal(t, 2, cfg.GraphMaxDepth)
}

func TestDefaultClassifierConfig(t *testing.T) {
	cfg := DefaultClassifierConfig()
	assert.False(t, cfg.UseLLM)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 3, cfg.FollowUpMaxWords)
}

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Equal(t, 0, cfg.DB)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.Equal(t, 30*time.Minute, cfg.DocumentTTL)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.Empty(t, cfg.Driver)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "groundrag", cfg.Name)
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
}

func TestDefaultQdrantConfig(t *testing.T) {
	cfg := DefaultQdrantConfig()
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6333, cfg.Port)
	assert.Equal(t, "groundrag_passages", cfg.Collection)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}

func TestDefaultLLMConfig(t *testing.T) {
	cfg := DefaultLLMConfig()
	assert.Empty(t, cfg.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "groundrag", cfg.ServiceName)
	assert.Equal(t, 0.1, cfg.SampleRate)
}
