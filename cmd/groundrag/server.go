package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/groundrag/api/handlers"
	"github.com/BaSui01/groundrag/config"
	"github.com/BaSui01/groundrag/grounding"
	"github.com/BaSui01/groundrag/internal/cache"
	"github.com/BaSui01/groundrag/internal/database"
	"github.com/BaSui01/groundrag/internal/docstore"
	"github.com/BaSui01/groundrag/internal/llm"
	"github.com/BaSui01/groundrag/internal/metrics"
	"github.com/BaSui01/groundrag/internal/migration"
	"github.com/BaSui01/groundrag/internal/server"
	"github.com/BaSui01/groundrag/internal/telemetry"
	"github.com/BaSui01/groundrag/rag"
	"github.com/BaSui01/groundrag/types"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 GroundRAG 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 基础设施，按配置可能为 nil
	collector *metrics.Collector
	otel      *telemetry.Providers
	cache     *cache.Manager
	db        *database.PoolManager
	docs      *docstore.Store
	llm       *llm.Client

	components *rag.Components

	// Handlers
	healthHandler    *handlers.HealthHandler
	retrievalHandler *handlers.RetrievalHandler
	apiHandler       http.Handler

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 初始化全部组件并启动 API 与 Metrics 服务器（非阻塞）
func (s *Server) Start(ctx context.Context) error {
	if err := s.init(ctx); err != nil {
		return err
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("tls", s.cfg.Server.TLSCertFile != ""),
	)
	return nil
}

// init 构建除监听端口外的全部组件
func (s *Server) init(ctx context.Context) error {
	// 1. 指标与遥测
	if s.collector == nil {
		s.collector = metrics.NewCollector("groundrag", s.logger)
	}
	s.initTelemetry()

	// 2. 缓存、文档库
	if err := s.initStorage(ctx); err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}

	// 3. 检索与引用组件
	if err := s.initRetrieval(ctx); err != nil {
		return fmt.Errorf("failed to init retrieval: %w", err)
	}

	// 4. Handlers 与路由
	s.initHandlers()
	s.apiHandler = s.buildAPIHandler()
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

func (s *Server) initTelemetry() {
	providers, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry, continuing without OTel export", zap.Error(err))
		return
	}
	s.otel = providers
}

// initStorage 连接 Redis 与文档库。Redis 失败只告警；配置了数据库但连接失败则启动失败。
func (s *Server) initStorage(ctx context.Context) error {
	if s.cfg.Redis.Enabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Addr = s.cfg.Redis.Addr
		cacheCfg.Password = s.cfg.Redis.Password
		cacheCfg.DB = s.cfg.Redis.DB
		cacheCfg.KeyPrefix = "groundrag:"
		cacheCfg.DefaultTTL = s.cfg.Redis.DocumentTTL
		cacheCfg.PoolSize = s.cfg.Redis.PoolSize
		cacheCfg.MinIdleConns = s.cfg.Redis.MinIdleConns
		cacheCfg.TLS = s.cfg.Redis.TLS

		c, err := cache.NewManager(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn("Redis not available, caching disabled", zap.Error(err))
		} else {
			s.cache = c
		}
	}

	if s.cfg.Database.Driver == "" {
		s.logger.Info("Document database not configured, /api/v1/resolve accepts source_text only")
		return nil
	}

	if s.cfg.Database.AutoMigrate {
		if err := s.autoMigrate(ctx); err != nil {
			return err
		}
	}

	db, err := database.Open(s.cfg.Database, s.logger,
		database.WithStatsRecorder(s.cfg.Database.Driver, s.collector))
	if err != nil {
		return err
	}
	s.db = db

	opts := []docstore.Option{
		docstore.WithRecorder(s.collector),
		docstore.WithTransactor(db, 0),
	}
	if s.cache != nil {
		opts = append(opts, docstore.WithCache(s.cache, s.cfg.Redis.DocumentTTL))
	}
	s.docs = docstore.New(db.DB(), s.logger, opts...)
	return nil
}

func (s *Server) autoMigrate(ctx context.Context) error {
	m, err := migration.NewMigratorFromConfig(s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	version, _, err := m.Version(ctx)
	if err == nil {
		s.logger.Info("Document schema up to date", zap.Uint("version", version))
	}
	return nil
}

// initRetrieval 创建 LLM 客户端并由配置构造检索组件
func (s *Server) initRetrieval(ctx context.Context) error {
	opts := []rag.FactoryOption{
		rag.WithLogger(s.logger),
		rag.WithObserver(s.collector),
	}

	client := llm.NewClient(llm.Config{
		APIKey:         s.cfg.LLM.APIKey,
		BaseURL:        s.cfg.LLM.BaseURL,
		Model:          s.cfg.LLM.Model,
		EmbeddingModel: s.cfg.LLM.EmbeddingModel,
		Timeout:        s.cfg.LLM.Timeout,
	}, s.collector, s.logger)
	if client.Configured() {
		s.llm = client
		opts = append(opts,
			rag.WithEmbedder(client),
			rag.WithCompletionProvider(client),
			rag.WithGenerator(client),
		)
	} else {
		s.logger.Info("LLM API key not configured, using keyword classification and term-coverage ranking")
	}

	if s.cache != nil {
		opts = append(opts, rag.WithIntentCache(s.cache))
	}
	if s.docs != nil {
		opts = append(opts, rag.WithDocumentTextSource(s.docs))
	}
	if s.otel.Enabled() {
		in, err := s.otel.Instruments()
		if err != nil {
			s.logger.Warn("failed to create retrieval instruments", zap.Error(err))
		} else {
			opts = append(opts, rag.WithInstruments(in))
		}
	}

	components, err := rag.NewComponentsFromConfig(ctx, s.cfg, opts...)
	if err != nil {
		return err
	}
	s.components = components
	return nil
}

var errServerDraining = errors.New("http server is shutting down")

// checkServing 关闭开始后让就绪检查失败，负载均衡据此摘除实例
func (s *Server) checkServing(context.Context) error {
	if s.httpManager != nil && !s.httpManager.IsRunning() {
		return errServerDraining
	}
	return nil
}

// initHandlers 初始化所有 handlers 与健康检查
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)

	router := s.components.Router
	s.healthHandler.RegisterCheck(handlers.NewBackendCheck(router, types.BackendDense))
	if s.cfg.Backends.Graph {
		s.healthHandler.RegisterCheck(handlers.Optional(handlers.NewBackendCheck(router, types.BackendGraph)))
	}
	if s.cfg.Backends.Summary {
		s.healthHandler.RegisterCheck(handlers.Optional(handlers.NewBackendCheck(router, types.BackendSummary)))
	}
	if q := s.components.QdrantDense; q != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("qdrant", func(ctx context.Context) error {
			_, err := q.Count(ctx)
			return err
		}))
	}
	if s.db != nil {
		s.healthHandler.RegisterCheck(handlers.Optional(handlers.NewPingCheck("database", s.db.Ping)))
	}
	if s.cache != nil {
		s.healthHandler.RegisterCheck(handlers.Optional(handlers.NewPingCheck("redis", s.cache.Ping)))
	}
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("http_server", s.checkServing))

	opts := []handlers.RetrievalOption{
		handlers.WithOffsetRecorder(s.collector),
		handlers.WithOffsetResolver(grounding.NewOffsetResolver(s.cfg.Retrieval.FuzzyThreshold)),
	}
	if s.docs != nil {
		opts = append(opts, handlers.WithDocuments(s.docs))
	}
	if s.llm != nil {
		opts = append(opts, handlers.WithTurns(s.components.Pipeline))
	}
	s.retrievalHandler = handlers.NewRetrievalHandler(s.components.Pipeline, s.logger, opts...)

	s.logger.Info("Handlers initialized")
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// skipAuthPaths 无需认证的路径
var skipAuthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

// buildAPIHandler 注册路由并构建中间件链
func (s *Server) buildAPIHandler() http.Handler {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// 检索与引用 API
	mux.HandleFunc("POST /api/v1/retrieve", s.retrievalHandler.HandleRetrieve)
	mux.HandleFunc("POST /api/v1/citations", s.retrievalHandler.HandleCitations)
	mux.HandleFunc("POST /api/v1/resolve", s.retrievalHandler.HandleResolve)
	mux.HandleFunc("POST /api/v1/turn", s.retrievalHandler.HandleTurn)

	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
	}

	// JWT 优先于 API Key；两者都未配置时不认证
	rateKey := ClientIPKey
	switch {
	case s.cfg.JWT.Enabled():
		middlewares = append(middlewares, JWTAuth(s.cfg.JWT, skipAuthPaths, s.logger))
		rateKey = TenantKey
	case len(s.cfg.Server.APIKeys) > 0:
		middlewares = append(middlewares,
			APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.cfg.Server.AllowQueryAPIKey, s.logger))
	default:
		s.logger.Warn("No authentication configured, API is open")
	}

	if s.cfg.Server.RateLimitRPS > 0 {
		middlewares = append(middlewares,
			RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, rateKey, s.logger))
	}

	return Chain(mux, middlewares...)
}

// startHTTPServer 启动 API 服务器
func (s *Server) startHTTPServer() error {
	serverConfig := server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		TLSCertFile:     s.cfg.Server.TLSCertFile,
		TLSKeyFile:      s.cfg.Server.TLSKeyFile,
	}

	s.httpManager = server.NewManager(s.apiHandler, serverConfig, s.logger)
	return s.httpManager.Start()
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器；端口为 0 时不启动
func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		s.logger.Info("Metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	serverConfig := server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	return s.metricsManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Wait 阻塞直到 ctx 结束或任一服务器异常退出
func (s *Server) Wait(ctx context.Context) error {
	var metricsErrs <-chan error
	if s.metricsManager != nil {
		metricsErrs = s.metricsManager.Errors()
	}

	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received")
		return nil
	case err := <-s.httpManager.Errors():
		return fmt.Errorf("api server: %w", err)
	case err := <-metricsErrs:
		return fmt.Errorf("metrics server: %w", err)
	}
}

// Shutdown 优雅关闭所有服务与连接
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")
	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	if err := s.otel.Shutdown(ctx); err != nil {
		s.logger.Error("Telemetry shutdown error", zap.Error(err))
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Database close error", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("Redis close error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
