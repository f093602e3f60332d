package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/visionflow/api/handlers"
	"github.com/BaSui01/visionflow/cache"
	"github.com/BaSui01/visionflow/config"
	"github.com/BaSui01/visionflow/executor"
	"github.com/BaSui01/visionflow/inference"
	"github.com/BaSui01/visionflow/inference/circuitbreaker"
	"github.com/BaSui01/visionflow/inference/retry"
	"github.com/BaSui01/visionflow/internal/database"
	"github.com/BaSui01/visionflow/internal/metrics"
	"github.com/BaSui01/visionflow/internal/server"
	"github.com/BaSui01/visionflow/internal/telemetry"
	"github.com/BaSui01/visionflow/ocr"
	"github.com/BaSui01/visionflow/pipeline"
	"github.com/BaSui01/visionflow/planner"
	"github.com/BaSui01/visionflow/providers/openaichat"
	"github.com/BaSui01/visionflow/types"
	"github.com/BaSui01/visionflow/verify"
	"github.com/BaSui01/visionflow/vision"
)

const (
	// 内存缓存层容量（条目数）
	memoryCacheCapacity = 2048

	// 终态截图落盘目录
	snapshotDir = "snapshots"

	// 过期挂起记录的清扫间隔
	purgeInterval = 10 * time.Minute
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 VisionFlow 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	otel   *telemetry.Providers

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Handlers
	healthHandler   *handlers.HealthHandler
	pipelineHandler *handlers.PipelineHandler

	// 指标收集器
	metricsCollector *metrics.Collector

	// 持久层
	pool       *database.PoolManager
	redisCache *cache.Redis

	// 流水线编排器
	orchestrator *pipeline.Orchestrator

	// 后台任务（连接池健康检查、挂起记录清扫）生命周期
	backgroundCancel context.CancelFunc

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otel *telemetry.Providers) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		otel:   otel,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	s.backgroundCancel = backgroundCancel

	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("visionflow", s.logger)

	// 2. 初始化持久层（数据库 + 缓存后端）
	s.initStores(backgroundCtx)

	// 3. 装配流水线
	s.initPipeline(backgroundCtx)

	// 4. 初始化 Handlers
	s.initHandlers()

	// 5. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 6. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("database_enabled", s.pool != nil),
		zap.String("cache_backend", s.cfg.Cache.Backend),
	)

	return nil
}

// =============================================================================
// 🗄️ 持久层初始化
// =============================================================================

// initStores 打开数据库与缓存后端。
// 数据库不可用不阻止启动：运行记录与挂起裁决降级为内存存储。
func (s *Server) initStores(ctx context.Context) {
	db, err := database.Open(s.cfg.Database.Driver, s.cfg.Database.DSN(), s.logger)
	if err != nil {
		s.logger.Warn("Database not available, run records and pending verdicts kept in memory only",
			zap.Error(err))
		return
	}

	poolCfg := database.DefaultPoolConfig()
	if s.cfg.Database.MaxOpenConns > 0 {
		poolCfg.MaxOpenConns = s.cfg.Database.MaxOpenConns
	}
	if s.cfg.Database.MaxIdleConns > 0 {
		poolCfg.MaxIdleConns = s.cfg.Database.MaxIdleConns
	}
	if s.cfg.Database.ConnMaxLifetime > 0 {
		poolCfg.ConnMaxLifetime = s.cfg.Database.ConnMaxLifetime
	}

	pool, err := database.NewPoolManager(db, poolCfg, s.logger)
	if err != nil {
		s.logger.Warn("Connection pool setup failed, continuing without database", zap.Error(err))
		return
	}

	driver := s.cfg.Database.Driver
	collector := s.metricsCollector
	pool.OnStats = func(stats database.PoolStats) {
		collector.RecordDBConnections(driver, stats.OpenConnections, stats.Idle)
	}
	if err := database.Instrument(db, func(operation string, elapsed time.Duration) {
		collector.RecordDBQuery(driver, operation, elapsed)
	}); err != nil {
		s.logger.Warn("Database instrumentation failed", zap.Error(err))
	}

	pool.StartHealthCheck(ctx)
	s.pool = pool
}

// newCacheBackend 按配置选择缓存后端。
// redis 后端组成两级缓存（本地 LRU + Redis）；连接失败降级为纯内存。
func (s *Server) newCacheBackend() cache.Cache {
	local := cache.NewMemory(memoryCacheCapacity)
	if s.cfg.Cache.Backend != "redis" {
		return local
	}

	remote, err := cache.NewRedis(cache.RedisConfig{
		Addr:         s.cfg.Redis.Addr,
		Password:     s.cfg.Redis.Password,
		DB:           s.cfg.Redis.DB,
		PoolSize:     s.cfg.Redis.PoolSize,
		MinIdleConns: s.cfg.Redis.MinIdleConns,
	}, s.logger)
	if err != nil {
		s.logger.Warn("Redis not available, falling back to in-memory cache", zap.Error(err))
		return local
	}

	s.redisCache = remote
	// 本地层 TTL 取较短的计划 TTL，命中后仍以 Redis 为准
	return cache.NewTiered(local, remote, s.cfg.Cache.PlanTTL, s.logger)
}

// =============================================================================
// 🔬 流水线装配
// =============================================================================

// initPipeline 把推理客户端、缓存、核对闸口和执行器装配成编排器，
// 并把各阶段的观测钩子桥接到指标收集器。
func (s *Server) initPipeline(ctx context.Context) {
	collector := s.metricsCollector

	// 推理网关：视觉与推理两个 OpenAI 兼容后端，共享重试策略，各自熔断
	visionClient := openaichat.New(openaichat.Config{
		Name:        inference.ServiceVision,
		APIKey:      s.cfg.VisionService.APIKey,
		BaseURL:     s.cfg.VisionService.BaseURL,
		Model:       s.cfg.VisionService.Model,
		Timeout:     s.cfg.VisionService.Timeout,
		Temperature: float32(s.cfg.VisionService.Temperature),
		MaxTokens:   s.cfg.VisionService.MaxTokens,
	}, s.logger)
	reasoningClient := openaichat.New(openaichat.Config{
		Name:        inference.ServiceReasoning,
		APIKey:      s.cfg.ReasoningService.APIKey,
		BaseURL:     s.cfg.ReasoningService.BaseURL,
		Model:       s.cfg.ReasoningService.Model,
		Timeout:     s.cfg.ReasoningService.Timeout,
		Temperature: float32(s.cfg.ReasoningService.Temperature),
		MaxTokens:   s.cfg.ReasoningService.MaxTokens,
	}, s.logger)

	gateway := inference.NewGateway(visionClient, reasoningClient, &inference.Config{
		RetryPolicy: &retry.Policy{
			MaxRetries:   s.cfg.Retry.MaxRetries,
			InitialDelay: s.cfg.Retry.InitialDelay,
			MaxDelay:     s.cfg.Retry.MaxDelay,
			Multiplier:   s.cfg.Retry.Multiplier,
			Jitter:       s.cfg.Retry.Jitter,
		},
		Breaker: &circuitbreaker.Config{
			Threshold:        s.cfg.Breaker.Threshold,
			Timeout:          s.cfg.Breaker.CallTimeout,
			ResetTimeout:     s.cfg.Breaker.ResetTimeout,
			HalfOpenMaxCalls: s.cfg.Breaker.HalfOpenMaxCalls,
		},
		OnCall: func(service, outcome string, duration time.Duration) {
			collector.RecordInferenceCall(service, outcome, duration)
		},
		OnBreakerStateChange: func(service string, _, to circuitbreaker.State) {
			collector.SetBreakerState(service, int(to))
		},
	}, s.logger)

	// OCR 旁路：未启用时保持接口为 nil，分析器跳过该通道
	var extractor vision.TextExtractor
	if s.cfg.OCR.Enabled {
		extractor = ocr.New(ocr.Config{
			BaseURL:  s.cfg.OCR.BaseURL,
			APIKey:   s.cfg.OCR.APIKey,
			Timeout:  s.cfg.OCR.Timeout,
			Language: s.cfg.OCR.Language,
		}, s.logger)
	}

	// 视觉与计划各持一个缓存组，事件分别计数
	visionGroup := cache.NewGroup(s.newCacheBackend(), s.logger)
	visionGroup.OnEvent = func(event string) { collector.RecordCacheEvent("vision", event) }
	planGroup := cache.NewGroup(s.newCacheBackend(), s.logger)
	planGroup.OnEvent = func(event string) { collector.RecordCacheEvent("plan", event) }

	analyzer := vision.NewAnalyzer(gateway, extractor, visionGroup, &vision.Config{
		MinElements:   s.cfg.Vision.MinElements,
		MinWidth:      s.cfg.Vision.MinWidth,
		MinHeight:     s.cfg.Vision.MinHeight,
		MinBrightness: s.cfg.Vision.MinBrightness,
		MaxBrightness: s.cfg.Vision.MaxBrightness,
		MinSharpness:  s.cfg.Vision.MinSharpness,
		CacheTTL:      s.cfg.Cache.VisionTTL,
	}, s.logger)

	plnr := planner.New(gateway, planGroup, &planner.Config{
		ConfidenceThreshold: s.cfg.Planner.ConfidenceThreshold,
		MaxSteps:            s.cfg.Planner.MaxSteps,
		PromptTokenBudget:   s.cfg.Planner.PromptTokenBudget,
		CacheTTL:            s.cfg.Cache.PlanTTL,
	}, s.logger)

	// 核对闸口：数据库可用时挂起记录走内存+数据库两级存储，可跨重启恢复
	var verifyStore verify.Store = verify.NewMemoryStore()
	if s.pool != nil {
		if dbStore, err := verify.NewDBStore(s.pool.DB(), s.logger); err != nil {
			s.logger.Warn("Verification DB store setup failed, pending verdicts in memory only",
				zap.Error(err))
		} else {
			verifyStore = verify.NewTieredStore(verify.NewMemoryStore(), dbStore, s.logger)
			s.startPurgeJanitor(ctx, dbStore)
		}
	}
	gate := verify.NewGate(verifyStore, nil, &verify.Config{
		Enabled:    s.cfg.Verification.Enabled,
		Keywords:   s.cfg.Verification.Keywords,
		PendingTTL: s.cfg.Verification.PendingTTL,
	}, s.logger)

	// 执行器：每次运行一个全新浏览器会话
	factory := executor.NewChromeFactory(executor.ChromeConfig{
		Headless:       s.cfg.Browser.Headless,
		ViewportWidth:  s.cfg.Browser.ViewportWidth,
		ViewportHeight: s.cfg.Browser.ViewportHeight,
	}, s.logger)
	exec := executor.New(factory, executor.NewFileSnapshotStore(snapshotDir), &executor.Config{
		ActionTimeout: s.cfg.Browser.ActionTimeout,
		StartURL:      s.cfg.Browser.StartURL,
	}, s.logger)
	exec.OnStep = func(action types.ActionType, level types.OutcomeLevel) {
		collector.RecordExecutorStep(string(action), string(level))
	}

	// 运行记录：数据库可用时持久化，否则留在内存
	var runs pipeline.RunStore = pipeline.NewMemoryRunStore()
	if s.pool != nil {
		if dbRuns, err := pipeline.NewDBRunStore(s.pool.DB(), s.logger); err != nil {
			s.logger.Warn("Run record DB store setup failed, run records in memory only",
				zap.Error(err))
		} else {
			runs = dbRuns
		}
	}

	s.orchestrator = pipeline.New(analyzer, plnr, gate, exec, runs, &pipeline.Config{
		Deadline: s.cfg.Pipeline.Deadline,
	}, s.logger)
	s.orchestrator.OnRun = func(status types.Status) {
		collector.RecordPipelineRun(string(status))
	}
}

// startPurgeJanitor 周期性清除编辑窗口已过期的挂起记录。
// 随 backgroundCancel 停止。
func (s *Server) startPurgeJanitor(ctx context.Context, store *verify.DBStore) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(purgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				purged, err := store.PurgeExpired(ctx, time.Now())
				if err != nil {
					s.logger.Warn("Pending verdict purge failed", zap.Error(err))
					continue
				}
				if purged > 0 {
					s.logger.Info("Purged expired pending verdicts", zap.Int64("count", purged))
				}
			}
		}
	}()
}

// =============================================================================
// 🔧 Handler 初始化
// =============================================================================

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	// 健康检查 handler；依赖探测按实际装配的后端注册
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	if s.pool != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", s.pool.Ping))
	}
	if s.redisCache != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("redis", s.redisCache.Ping))
	}

	// 流水线 handler
	s.pipelineHandler = handlers.NewPipelineHandler(s.orchestrator, s.cfg.Server.MaxBodyBytes, s.logger)

	s.logger.Info("Handlers initialized")
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)

	// 版本信息端点
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// 流水线 API 路由
	// ========================================
	mux.HandleFunc("POST /api/v1/pipeline/run", s.pipelineHandler.HandleRun)
	mux.HandleFunc("POST /api/v1/pipeline/runs/{id}/resume", s.pipelineHandler.HandleResume)
	mux.HandleFunc("GET /api/v1/pipeline/runs/{id}", s.pipelineHandler.HandleGetRun)

	// ========================================
	// 构建中间件链
	// ========================================
	skipAuthPaths := s.cfg.Auth.SkipPaths
	if len(skipAuthPaths) == 0 {
		skipAuthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}
	}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
		CORS(s.cfg.Server.AllowedOrigins),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
		APIKeyAuth(s.cfg.Auth.APIKeys, skipAuthPaths, s.logger),
	}
	if s.cfg.Auth.JWTSecret != "" {
		middlewares = append(middlewares, JWTAuth(s.cfg.Auth.JWTSecret, skipAuthPaths, s.logger))
	}
	handler := Chain(mux, middlewares...)

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	idleTimeout := s.cfg.Server.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 2 * s.cfg.Server.ReadTimeout
	}
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     idleTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.String("addr", s.httpManager.Addr()))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.String("addr", s.metricsManager.Addr()))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	// 使用 httpManager 的 WaitForShutdown（它会监听信号）
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	// 执行清理
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 0. 停止 rate limiter 清理与后台任务 goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.backgroundCancel != nil {
		s.backgroundCancel()
	}

	// 1. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 3. 等待后台 goroutine 完成
	s.wg.Wait()

	// 4. 释放持久层连接
	if s.redisCache != nil {
		if err := s.redisCache.Close(); err != nil {
			s.logger.Error("Redis shutdown error", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("Database shutdown error", zap.Error(err))
		}
	}

	// 5. 停止遥测导出
	if s.otel != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.otel.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
