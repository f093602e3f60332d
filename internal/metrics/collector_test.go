package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.httpRequestDuration)
	assert.NotNil(t, collector.inferenceRequestsTotal)
	assert.NotNil(t, collector.inferenceRequestDuration)
	assert.NotNil(t, collector.pipelineRunsTotal)
	assert.NotNil(t, collector.executorStepsTotal)
	assert.NotNil(t, collector.breakerState)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 记录请求
	collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)

	// 验证指标
	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, count, 0)

	// 再记录一次相同的请求
	collector.RecordHTTPRequest("GET", "/test", 200, 50*time.Millisecond, 512, 1024)

	// 验证计数增加
	newCount := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.GreaterOrEqual(t, newCount, count)
}

func TestCollector_RecordInferenceCall(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 记录推理调用
	collector.RecordInferenceCall("vision", "success", 500*time.Millisecond)
	collector.RecordInferenceCall("vision", "failure", 2*time.Second)
	collector.RecordInferenceCall("reasoning", "rejected", time.Millisecond)

	// 验证按 service/outcome 分组计数
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.inferenceRequestsTotal.WithLabelValues("vision", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.inferenceRequestsTotal.WithLabelValues("vision", "failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.inferenceRequestsTotal.WithLabelValues("reasoning", "rejected")))

	durationCount := testutil.CollectAndCount(collector.inferenceRequestDuration)
	assert.Greater(t, durationCount, 0)
}

func TestCollector_SetBreakerState(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 熔断器状态是覆盖写，不是累加
	collector.SetBreakerState("vision", 0)
	assert.Equal(t, float64(0), testutil.ToFloat64(collector.breakerState.WithLabelValues("vision")))

	collector.SetBreakerState("vision", 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.breakerState.WithLabelValues("vision")))

	collector.SetBreakerState("vision", 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(collector.breakerState.WithLabelValues("vision")))
}

func TestCollector_RecordPipelineRun(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordPipelineRun("success")
	collector.RecordPipelineRun("success")
	collector.RecordPipelineRun("verification_required")

	assert.Equal(t, float64(2), testutil.ToFloat64(collector.pipelineRunsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.pipelineRunsTotal.WithLabelValues("verification_required")))
}

func TestCollector_RecordExecutorStep(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordExecutorStep("fill", "success")
	collector.RecordExecutorStep("click", "failure")

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.executorStepsTotal.WithLabelValues("fill", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.executorStepsTotal.WithLabelValues("click", "failure")))
}

func TestCollector_RecordCacheOperation(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 记录缓存命中
	collector.RecordCacheHit("vision")

	// 记录缓存未命中
	collector.RecordCacheMiss("vision")

	// 验证指标
	hitCount := testutil.CollectAndCount(collector.cacheHits)
	assert.Greater(t, hitCount, 0)

	missCount := testutil.CollectAndCount(collector.cacheMisses)
	assert.Greater(t, missCount, 0)
}

func TestCollector_RecordCacheEventRouting(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// OnEvent 钩子传来的事件名按 hit/miss 路由，未知事件丢弃
	collector.RecordCacheEvent("plan", "hit")
	collector.RecordCacheEvent("plan", "miss")
	collector.RecordCacheEvent("plan", "miss")
	collector.RecordCacheEvent("plan", "expired")

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.cacheHits.WithLabelValues("plan")))
	assert.Equal(t, float64(2), testutil.ToFloat64(collector.cacheMisses.WithLabelValues("plan")))
}

func TestCollector_RecordDatabaseQuery(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 记录数据库查询
	collector.RecordDBQuery("postgres", "SELECT", 20*time.Millisecond)

	// 验证指标
	count := testutil.CollectAndCount(collector.dbQueryDuration)
	assert.Greater(t, count, 0)
}

func TestCollector_UpdateConnectionPool(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 更新连接池状态
	collector.RecordDBConnections("postgres", 10, 5)

	// 验证指标
	assert.Equal(t, float64(10), testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, float64(5), testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("postgres")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 并发记录多个指标
	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)
			collector.RecordInferenceCall("vision", "success", 500*time.Millisecond)
			collector.RecordCacheHit("vision")
			collector.RecordExecutorStep("click", "success")
			done <- true
		}(i)
	}

	// 等待所有 goroutine 完成
	for i := 0; i < 10; i++ {
		<-done
	}

	// 验证指标被正确记录
	assert.Equal(t, float64(10), testutil.ToFloat64(collector.inferenceRequestsTotal.WithLabelValues("vision", "success")))
	assert.Equal(t, float64(10), testutil.ToFloat64(collector.cacheHits.WithLabelValues("vision")))
	assert.Equal(t, float64(10), testutil.ToFloat64(collector.executorStepsTotal.WithLabelValues("click", "success")))
}

func TestCollector_MetricsRegistration(t *testing.T) {
	logger := zap.NewNop()

	// 创建自定义 registry
	registry := prometheus.NewRegistry()

	// 创建 collector（会自动注册到默认 registry）
	collector := NewCollector(nextTestNamespace(), logger)

	// 手动注册到自定义 registry
	registry.MustRegister(collector.httpRequestsTotal)
	registry.MustRegister(collector.httpRequestDuration)

	// 记录一些数据
	collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 0, 0)

	// 验证可以从自定义 registry 收集指标
	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, count, 0)
}

func TestStatusCode(t *testing.T) {
	cases := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
		{100, "unknown"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusCode(tc.code), "code %d", tc.code)
	}
}
