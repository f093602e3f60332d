package inference

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/visionflow/inference/circuitbreaker"
	"github.com/BaSui01/visionflow/inference/retry"
	"github.com/BaSui01/visionflow/types"
)

// fakeClient scripts Complete responses by call number.
type fakeClient struct {
	name  string
	calls atomic.Int64
	fn    func(n int64) (*ChatResponse, error)
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) Complete(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	n := f.calls.Add(1)
	if f.fn == nil {
		return &ChatResponse{Content: "ok"}, nil
	}
	return f.fn(n)
}

func (f *fakeClient) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return &HealthStatus{Healthy: true, Latency: time.Millisecond}, nil
}

func fastConfig() *Config {
	return &Config{
		RetryPolicy: &retry.Policy{
			MaxRetries:   3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2.0,
		},
		Breaker: &circuitbreaker.Config{
			Threshold:        2,
			Timeout:          5 * time.Second,
			ResetTimeout:     time.Hour,
			HalfOpenMaxCalls: 1,
		},
	}
}

func userReq(content string) *ChatRequest {
	return &ChatRequest{Messages: []Message{{Role: RoleUser, Content: content}}}
}

// ---------------------------------------------------------------------------
// Success path
// ---------------------------------------------------------------------------

func TestGateway_InvokeVision(t *testing.T) {
	vision := &fakeClient{name: ServiceVision}
	reasoning := &fakeClient{name: ServiceReasoning}
	g := NewGateway(vision, reasoning, fastConfig(), zap.NewNop())

	resp, err := g.InvokeVision(context.Background(), userReq("analyze"))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int64(1), vision.calls.Load())
	assert.Equal(t, int64(0), reasoning.calls.Load())
}

// ---------------------------------------------------------------------------
// Retry on transient failures
// ---------------------------------------------------------------------------

func TestGateway_RetriesTransient(t *testing.T) {
	vision := &fakeClient{
		name: ServiceVision,
		fn: func(n int64) (*ChatResponse, error) {
			if n <= 2 {
				return nil, types.NewTransientService(ServiceVision, assert.AnError)
			}
			return &ChatResponse{Content: "recovered"}, nil
		},
	}
	g := NewGateway(vision, &fakeClient{name: ServiceReasoning}, fastConfig(), zap.NewNop())

	resp, err := g.InvokeVision(context.Background(), userReq("analyze"))
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, int64(3), vision.calls.Load())
}

func TestGateway_NoRetryOnInvalidInput(t *testing.T) {
	vision := &fakeClient{
		name: ServiceVision,
		fn: func(n int64) (*ChatResponse, error) {
			return nil, types.NewInvalidInput("image payload is empty")
		},
	}
	g := NewGateway(vision, &fakeClient{name: ServiceReasoning}, fastConfig(), zap.NewNop())

	_, err := g.InvokeVision(context.Background(), userReq("analyze"))
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidInput))
	assert.Equal(t, int64(1), vision.calls.Load())

	// Client errors never trip the breaker either.
	assert.Equal(t, circuitbreaker.StateClosed, g.BreakerStates()[ServiceVision])
}

// ---------------------------------------------------------------------------
// Circuit breaker integration
// ---------------------------------------------------------------------------

func TestGateway_CircuitOpens(t *testing.T) {
	vision := &fakeClient{
		name: ServiceVision,
		fn: func(n int64) (*ChatResponse, error) {
			return nil, types.NewTransientService(ServiceVision, assert.AnError)
		},
	}
	g := NewGateway(vision, &fakeClient{name: ServiceReasoning}, fastConfig(), zap.NewNop())

	// Threshold 2: two failed attempts open the circuit, the third retry
	// attempt is rejected and ends the loop.
	_, err := g.InvokeVision(context.Background(), userReq("analyze"))
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrCircuitOpen))
	assert.Equal(t, int64(2), vision.calls.Load())
	assert.Equal(t, circuitbreaker.StateOpen, g.BreakerStates()[ServiceVision])

	// While open, calls fail fast without touching the client.
	_, err = g.InvokeVision(context.Background(), userReq("analyze"))
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrCircuitOpen))
	assert.Equal(t, int64(2), vision.calls.Load())
}

func TestGateway_BreakersArePerService(t *testing.T) {
	vision := &fakeClient{
		name: ServiceVision,
		fn: func(n int64) (*ChatResponse, error) {
			return nil, types.NewTransientService(ServiceVision, assert.AnError)
		},
	}
	reasoning := &fakeClient{name: ServiceReasoning}
	g := NewGateway(vision, reasoning, fastConfig(), zap.NewNop())

	_, err := g.InvokeVision(context.Background(), userReq("analyze"))
	require.Error(t, err)
	require.Equal(t, circuitbreaker.StateOpen, g.BreakerStates()[ServiceVision])

	// Reasoning keeps working.
	resp, err := g.InvokeReasoning(context.Background(), userReq("plan"))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, circuitbreaker.StateClosed, g.BreakerStates()[ServiceReasoning])
}

// ---------------------------------------------------------------------------
// Observability hooks
// ---------------------------------------------------------------------------

func TestGateway_OnCallHook(t *testing.T) {
	var mu sync.Mutex
	var outcomes []string

	cfg := fastConfig()
	cfg.OnCall = func(service, outcome string, d time.Duration) {
		mu.Lock()
		outcomes = append(outcomes, service+":"+outcome)
		mu.Unlock()
	}

	vision := &fakeClient{name: ServiceVision}
	g := NewGateway(vision, &fakeClient{name: ServiceReasoning}, cfg, zap.NewNop())

	_, err := g.InvokeVision(context.Background(), userReq("analyze"))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, outcomes, 1)
	assert.Equal(t, "vision:success", outcomes[0])
}

func TestGateway_OnBreakerStateChange(t *testing.T) {
	var mu sync.Mutex
	var changes []string

	cfg := fastConfig()
	cfg.OnBreakerStateChange = func(service string, from, to circuitbreaker.State) {
		mu.Lock()
		changes = append(changes, service+":"+from.String()+"->"+to.String())
		mu.Unlock()
	}

	vision := &fakeClient{
		name: ServiceVision,
		fn: func(n int64) (*ChatResponse, error) {
			return nil, types.NewTransientService(ServiceVision, assert.AnError)
		},
	}
	g := NewGateway(vision, &fakeClient{name: ServiceReasoning}, cfg, zap.NewNop())

	_, _ = g.InvokeVision(context.Background(), userReq("analyze"))

	// The callback fires asynchronously.
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, changes)
	assert.Equal(t, "vision:Closed->Open", changes[0])
}

// ---------------------------------------------------------------------------
// Per-call timeout
// ---------------------------------------------------------------------------

func TestGateway_PerCallTimeout(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryPolicy.MaxRetries = 1
	cfg.Breaker.Timeout = 30 * time.Millisecond
	cfg.Breaker.Threshold = 10

	vision := &fakeClient{
		name: ServiceVision,
		fn: func(n int64) (*ChatResponse, error) {
			time.Sleep(200 * time.Millisecond)
			return &ChatResponse{Content: "late"}, nil
		},
	}
	g := NewGateway(vision, &fakeClient{name: ServiceReasoning}, cfg, zap.NewNop())

	_, err := g.InvokeVision(context.Background(), userReq("analyze"))
	require.Error(t, err)
	// Timeouts rank as transient failures, so the retry budget was spent.
	assert.True(t, types.IsErrorCode(err, types.ErrTransientService))
	assert.Equal(t, int64(2), vision.calls.Load())
}

// ---------------------------------------------------------------------------
// HealthCheck
// ---------------------------------------------------------------------------

func TestGateway_HealthCheck(t *testing.T) {
	g := NewGateway(&fakeClient{name: ServiceVision}, &fakeClient{name: ServiceReasoning}, fastConfig(), zap.NewNop())

	statuses := g.HealthCheck(context.Background())
	require.Len(t, statuses, 2)
	assert.True(t, statuses[ServiceVision].Healthy)
	assert.True(t, statuses[ServiceReasoning].Healthy)
}
