// 默认配置测试。
package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 验证服务器默认值
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	// 验证流水线默认值
	assert.Equal(t, 3*time.Minute, cfg.Pipeline.Deadline)

	// 验证视觉分析默认值
	assert.Equal(t, 3, cfg.Vision.MinElements)
	assert.Equal(t, 64, cfg.Vision.MinWidth)
	assert.Less(t, cfg.Vision.MinBrightness, cfg.Vision.MaxBrightness)

	// 验证计划生成默认值
	assert.Equal(t, 0.5, cfg.Planner.ConfidenceThreshold)
	assert.Equal(t, 20, cfg.Planner.MaxSteps)

	// 验证重试与熔断默认值
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 1*time.Second, cfg.Retry.InitialDelay)
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)
	assert.True(t, cfg.Retry.Jitter)
	assert.Equal(t, 5, cfg.Breaker.Threshold)
	assert.Equal(t, 60*time.Second, cfg.Breaker.ResetTimeout)

	// 验证缓存默认值：视觉 TTL 长于计划 TTL
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Greater(t, cfg.Cache.VisionTTL, cfg.Cache.PlanTTL)

	// 验证核对关卡默认值
	assert.True(t, cfg.Verification.Enabled)
	assert.NotEmpty(t, cfg.Verification.Keywords)

	// 验证日志默认值
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	// 默认配置必须通过自身校验
	require.NoError(t, cfg.Validate())
}
