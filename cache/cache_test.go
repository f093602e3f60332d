package cache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Group.GetOrCompute
// ---------------------------------------------------------------------------

func TestGroup_GetOrCompute(t *testing.T) {
	g := NewGroup(NewMemory(16), zap.NewNop())
	ctx := context.Background()

	var calls atomic.Int64
	compute := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte("payload"), nil
	}

	payload, cached, err := g.GetOrCompute(ctx, "k1", time.Minute, compute)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, []byte("payload"), payload)
	assert.Equal(t, int64(1), calls.Load())

	payload, cached, err = g.GetOrCompute(ctx, "k1", time.Minute, compute)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, []byte("payload"), payload)
	assert.Equal(t, int64(1), calls.Load(), "second lookup must not recompute")
}

func TestGroup_SingleFlight(t *testing.T) {
	g := NewGroup(NewMemory(16), zap.NewNop())
	ctx := context.Background()

	var calls atomic.Int64
	compute := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond) // hold concurrent callers in the flight
		return []byte("shared"), nil
	}

	const workers = 20
	start := make(chan struct{})
	var wg sync.WaitGroup
	results := make([][]byte, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], _, errs[i] = g.GetOrCompute(ctx, "hot-key", time.Minute, compute)
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load(), "concurrent same-key callers share one execution")
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte("shared"), results[i])
	}
}

func TestGroup_ComputeErrorsNotCached(t *testing.T) {
	g := NewGroup(NewMemory(16), zap.NewNop())
	ctx := context.Background()

	var calls atomic.Int64
	_, _, err := g.GetOrCompute(ctx, "k", time.Minute, func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return nil, assert.AnError
	})
	require.Error(t, err)

	payload, cached, err := g.GetOrCompute(ctx, "k", time.Minute, func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte("ok"), nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, []byte("ok"), payload)
	assert.Equal(t, int64(2), calls.Load())
}

func TestGroup_EventHook(t *testing.T) {
	g := NewGroup(NewMemory(16), zap.NewNop())
	var events []string
	g.OnEvent = func(event string) { events = append(events, event) }

	ctx := context.Background()
	_, _, err := g.GetOrCompute(ctx, "k", time.Minute, func(ctx context.Context) ([]byte, error) {
		return []byte("v"), nil
	})
	require.NoError(t, err)
	_, _, err = g.GetOrCompute(ctx, "k", time.Minute, func(ctx context.Context) ([]byte, error) {
		return []byte("v"), nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"miss", "hit"}, events)
}

// ---------------------------------------------------------------------------
// GetOrComputeJSON
// ---------------------------------------------------------------------------

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestGetOrComputeJSON(t *testing.T) {
	g := NewGroup(NewMemory(16), zap.NewNop())
	ctx := context.Background()

	var calls atomic.Int64
	compute := func(ctx context.Context) (*sample, error) {
		calls.Add(1)
		return &sample{Name: "login", Count: 3}, nil
	}

	v, cached, err := GetOrComputeJSON(ctx, g, "s1", time.Minute, compute)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "login", v.Name)

	v, cached, err = GetOrComputeJSON(ctx, g, "s1", time.Minute, compute)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, 3, v.Count)
	assert.Equal(t, int64(1), calls.Load())
}

func TestGetOrComputeJSON_CorruptPayloadRecomputed(t *testing.T) {
	mem := NewMemory(16)
	g := NewGroup(mem, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, mem.Put(ctx, "s1", []byte("not json"), time.Minute))

	v, cached, err := GetOrComputeJSON(ctx, g, "s1", time.Minute, func(ctx context.Context) (*sample, error) {
		return &sample{Name: "fresh"}, nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "fresh", v.Name)

	// The corrupt entry was dropped.
	_, err = mem.Get(ctx, "s1")
	assert.True(t, IsCacheMiss(err))
}

// ---------------------------------------------------------------------------
// Tiered
// ---------------------------------------------------------------------------

func TestTiered_BackfillsLocal(t *testing.T) {
	local := NewMemory(16)
	remote := NewMemory(16)
	tiered := NewTiered(local, remote, time.Minute, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, remote.Put(ctx, "k", []byte("v"), time.Minute))

	payload, err := tiered.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), payload)

	// Drop the remote copy: the backfilled local copy still serves.
	require.NoError(t, remote.Delete(ctx, "k"))
	payload, err = tiered.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), payload)
}

func TestTiered_PutWritesBothTiers(t *testing.T) {
	local := NewMemory(16)
	remote := NewMemory(16)
	tiered := NewTiered(local, remote, time.Minute, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, tiered.Put(ctx, "k", []byte("v"), time.Hour))

	_, err := local.Get(ctx, "k")
	assert.NoError(t, err)
	_, err = remote.Get(ctx, "k")
	assert.NoError(t, err)
}

func TestTiered_Delete(t *testing.T) {
	local := NewMemory(16)
	remote := NewMemory(16)
	tiered := NewTiered(local, remote, time.Minute, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, tiered.Put(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, tiered.Delete(ctx, "k"))

	_, err := tiered.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
}

// Sanity check that payloads survive a JSON round trip through Put/Get.
func TestCache_PayloadRoundTrip(t *testing.T) {
	mem := NewMemory(16)
	ctx := context.Background()

	in := sample{Name: "dashboard", Count: 7}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	require.NoError(t, mem.Put(ctx, "k", data, time.Minute))

	got, err := mem.Get(ctx, "k")
	require.NoError(t, err)
	var out sample
	require.NoError(t, json.Unmarshal(got, &out))
	assert.Equal(t, in, out)
}
