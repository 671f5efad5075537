// =============================================================================
// 📦 GroundRAG 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Retrieval:  DefaultRetrievalConfig(),
		Backends:   DefaultBackendsConfig(),
		Classifier: DefaultClassifierConfig(),
		Redis:      DefaultRedisConfig(),
		Database:   DefaultDatabaseConfig(),
		Qdrant:     DefaultQdrantConfig(),
		LLM:        DefaultLLMConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:              10,
		AdapterTimeout:    5 * time.Second,
		MixedPerSourceMin: 3,
		DedupOverlap:      0.5,
		FuzzyThreshold:    0.3,
		SnippetLength:     200,
		LegacyCitations:   true,
	}
}

// DefaultBackendsConfig 返回默认后端开关
func DefaultBackendsConfig() BackendsConfig {
	return BackendsConfig{
		DenseKind:     "memory",
		Dense:         true,
		Graph:         true,
		Summary:       true,
		SummaryDir:    "./data/summary",
		GraphMaxDepth: 2,
		PassagesFile:  "./data/passages.json",
		GraphFile:     "./data/graph.json",
	}
}

// DefaultClassifierConfig 返回默认意图分类配置
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		UseLLM:           false,
		Timeout:          2 * time.Second,
		CacheTTL:         10 * time.Minute,
		FollowUpMaxWords: 3,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DocumentTTL:  30 * time.Minute,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "",
		Host:            "localhost",
		Port:            5432,
		User:            "groundrag",
		Password:        "",
		Name:            "groundrag",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     true,
	}
}

// DefaultQdrantConfig 返回默认 Qdrant 配置
func DefaultQdrantConfig() QdrantConfig {
	return QdrantConfig{
		Host:       "localhost",
		Port:       6333,
		APIKey:     "",
		Collection: "groundrag_passages",
		Timeout:    30 * time.Second,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		APIKey:         "",
		BaseURL:        "https://api.openai.com/v1",
		Model:          "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		Timeout:        2 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:        false,
		OTLPEndpoint:   "localhost:4317",
		ServiceName:    "groundrag",
		SampleRate:     0.1,
		Insecure:       true,
		ExportInterval: 30 * time.Second,
	}
}
