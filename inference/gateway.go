package inference

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/visionflow/inference/circuitbreaker"
	"github.com/BaSui01/visionflow/inference/retry"
	"github.com/BaSui01/visionflow/types"
)

// 服务名常量，用于日志、指标与错误归属
const (
	ServiceVision    = "vision"
	ServiceReasoning = "reasoning"
)

// Config 网关弹性配置
// 两个服务共享重试策略，各自持有独立熔断器
type Config struct {
	// RetryPolicy 重试策略，nil 使用默认策略
	RetryPolicy *retry.Policy

	// Breaker 熔断器配置，nil 使用默认配置
	Breaker *circuitbreaker.Config

	// OnCall 每次调用完成后的回调（outcome: success / failure / rejected）
	OnCall func(service string, outcome string, duration time.Duration)

	// OnBreakerStateChange 熔断器状态变化回调
	OnBreakerStateChange func(service string, from, to circuitbreaker.State)
}

// DefaultConfig 返回默认网关配置
func DefaultConfig() *Config {
	return &Config{
		RetryPolicy: retry.DefaultPolicy(),
		Breaker:     circuitbreaker.DefaultConfig(),
	}
}

// Gateway 统一封装视觉与推理两个上游服务
// 装饰器模式：重试循环包裹熔断器，熔断器包裹底层 Client
// 单次调用超时由熔断器的 Timeout 保证
type Gateway struct {
	vision    *service
	reasoning *service
	logger    *zap.Logger
}

type service struct {
	name    string
	client  Client
	retryer retry.Retryer
	breaker circuitbreaker.CircuitBreaker
	onCall  func(service string, outcome string, duration time.Duration)
	logger  *zap.Logger
}

// NewGateway 创建推理网关
func NewGateway(visionClient, reasoningClient Client, cfg *Config, logger *zap.Logger) *Gateway {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "inference_gateway"))

	return &Gateway{
		vision:    newService(ServiceVision, visionClient, cfg, logger),
		reasoning: newService(ServiceReasoning, reasoningClient, cfg, logger),
		logger:    logger,
	}
}

func newService(name string, client Client, cfg *Config, logger *zap.Logger) *service {
	policy := cfg.RetryPolicy
	if policy == nil {
		policy = retry.DefaultPolicy()
	}
	// 只重试可重试错误（瞬时故障、限流），熔断拒绝与客户端错误快速失败
	p := *policy
	if p.RetryIf == nil {
		p.RetryIf = types.IsRetryable
	}

	breakerCfg := circuitbreaker.DefaultConfig()
	if cfg.Breaker != nil {
		c := *cfg.Breaker
		breakerCfg = &c
	}
	if cfg.OnBreakerStateChange != nil {
		hook := cfg.OnBreakerStateChange
		breakerCfg.OnStateChange = func(from, to circuitbreaker.State) {
			hook(name, from, to)
		}
	}

	return &service{
		name:    name,
		client:  client,
		retryer: retry.NewBackoffRetryer(&p, logger),
		breaker: circuitbreaker.NewCircuitBreaker(breakerCfg, logger),
		onCall:  cfg.OnCall,
		logger:  logger.With(zap.String("service", name)),
	}
}

// InvokeVision 调用视觉服务
func (g *Gateway) InvokeVision(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return g.vision.invoke(ctx, req)
}

// InvokeReasoning 调用推理服务
func (g *Gateway) InvokeReasoning(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return g.reasoning.invoke(ctx, req)
}

// BreakerStates 返回各服务熔断器当前状态
func (g *Gateway) BreakerStates() map[string]circuitbreaker.State {
	return map[string]circuitbreaker.State{
		ServiceVision:    g.vision.breaker.State(),
		ServiceReasoning: g.reasoning.breaker.State(),
	}
}

// HealthCheck 探测两个上游服务
func (g *Gateway) HealthCheck(ctx context.Context) map[string]*HealthStatus {
	out := make(map[string]*HealthStatus, 2)
	for _, s := range []*service{g.vision, g.reasoning} {
		status, err := s.client.HealthCheck(ctx)
		if err != nil || status == nil {
			status = &HealthStatus{Healthy: false}
		}
		out[s.name] = status
	}
	return out
}

func (s *service) invoke(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	resp, err := retry.DoWithResultTyped[*ChatResponse](s.retryer, ctx, func() (*ChatResponse, error) {
		resp, err := circuitbreaker.CallWithResultTyped[*ChatResponse](s.breaker, ctx, func() (*ChatResponse, error) {
			return s.client.Complete(ctx, req)
		})
		if err != nil {
			return nil, s.classify(err)
		}
		return resp, nil
	})

	duration := time.Since(start)
	outcome := "success"
	if err != nil {
		outcome = "failure"
		if types.IsErrorCode(err, types.ErrCircuitOpen) {
			outcome = "rejected"
		}
	}
	if s.onCall != nil {
		s.onCall(s.name, outcome, duration)
	}

	if err != nil {
		s.logger.Warn("inference call failed",
			zap.String("outcome", outcome),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Debug("inference call finished",
		zap.Duration("duration", duration),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return resp, nil
}

// classify 将熔断器层产生的错误归入统一错误分类
// 必须在重试循环内部完成，RetryIf 才能看到归类后的错误
func (s *service) classify(err error) error {
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen),
		errors.Is(err, circuitbreaker.ErrTooManyCallsInHalfOpen):
		return types.NewCircuitOpen(s.name)
	case errors.Is(err, context.DeadlineExceeded):
		// 单次调用超时，视为瞬时故障参与重试
		return types.NewTransientService(s.name, err)
	default:
		return err
	}
}
