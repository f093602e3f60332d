// =============================================================================
// 📦 VisionFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:           DefaultServerConfig(),
		Pipeline:         DefaultPipelineConfig(),
		Vision:           DefaultVisionConfig(),
		Planner:          DefaultPlannerConfig(),
		Verification:     DefaultVerificationConfig(),
		Browser:          DefaultBrowserConfig(),
		Retry:            DefaultRetryConfig(),
		Breaker:          DefaultBreakerConfig(),
		Cache:            DefaultCacheConfig(),
		Redis:            DefaultRedisConfig(),
		Database:         DefaultDatabaseConfig(),
		VisionService:    DefaultVisionServiceConfig(),
		ReasoningService: DefaultReasoningServiceConfig(),
		OCR:              DefaultOCRConfig(),
		Auth:             AuthConfig{},
		Log:              DefaultLogConfig(),
		Telemetry:        DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
		MaxBodyBytes:    16 << 20, // 16 MB，需容纳 base64 编码的图片
	}
}

// DefaultPipelineConfig 返回默认流水线配置
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Deadline: 3 * time.Minute,
	}
}

// DefaultVisionConfig 返回默认视觉分析配置
func DefaultVisionConfig() VisionConfig {
	return VisionConfig{
		MinElements:   3,
		MinWidth:      64,
		MinHeight:     64,
		MinBrightness: 20,
		MaxBrightness: 235,
		MinSharpness:  15,
	}
}

// DefaultPlannerConfig 返回默认计划生成配置
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		ConfidenceThreshold: 0.5,
		MaxSteps:            20,
		PromptTokenBudget:   6000,
	}
}

// DefaultVerificationConfig 返回默认人工核对配置
func DefaultVerificationConfig() VerificationConfig {
	return VerificationConfig{
		Enabled:    true,
		Keywords:   []string{"submit", "save", "delete", "pay", "confirm", "提交", "保存", "删除", "支付"},
		PendingTTL: 30 * time.Minute,
	}
}

// DefaultBrowserConfig 返回默认浏览器配置
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Headless:       true,
		ActionTimeout:  30 * time.Second,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		StartURL:       "about:blank",
	}
}

// DefaultRetryConfig 返回默认重试配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// DefaultBreakerConfig 返回默认熔断器配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:        5,
		CallTimeout:      30 * time.Second,
		ResetTimeout:     60 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Backend:   "memory",
		VisionTTL: 24 * time.Hour,
		PlanTTL:   1 * time.Hour,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Name:            "visionflow.db",
		Host:            "localhost",
		Port:            5432,
		User:            "visionflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultVisionServiceConfig 返回默认视觉推理服务配置
func DefaultVisionServiceConfig() InferenceServiceConfig {
	return InferenceServiceConfig{
		BaseURL:     "https://open.bigmodel.cn/api/paas/v4",
		Model:       "glm-4v",
		Timeout:     60 * time.Second,
		Temperature: 0.2,
		MaxTokens:   2048,
	}
}

// DefaultReasoningServiceConfig 返回默认文本推理服务配置
func DefaultReasoningServiceConfig() InferenceServiceConfig {
	return InferenceServiceConfig{
		BaseURL:     "https://open.bigmodel.cn/api/paas/v4",
		Model:       "glm-4",
		Timeout:     45 * time.Second,
		Temperature: 0.2,
		MaxTokens:   2048,
	}
}

// DefaultOCRConfig 返回默认 OCR 配置
func DefaultOCRConfig() OCRConfig {
	return OCRConfig{
		Enabled:  true,
		BaseURL:  "http://localhost:8089",
		Timeout:  20 * time.Second,
		Language: "chi_sim+eng",
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
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "visionflow",
		SampleRate:   1.0,
	}
}
