package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/visionflow/types"
)

// openTestDB opens a named in-memory SQLite database. The name keeps
// tests isolated while cache=shared keeps the database alive across the
// pooled connections gorm opens.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func sampleRun(id string) *Run {
	url := "https://app.test/done"
	ref := "snapshots/final.png"
	return &Run{
		ID:     id,
		Intent: "submit the signup form",
		Status: types.StatusSuccess,
		Schema: sampleSchema(),
		Plan:   samplePlan(),
		Execution: &types.ExecutionResult{
			Status: types.StatusSuccess,
			Log: []types.StepOutcome{
				{Step: 1, Level: types.OutcomeSuccess, Message: "step 1: fill f1 = 'John': success"},
				{Step: 2, Level: types.OutcomeSuccess, Message: "step 2: click f2: success"},
			},
			FinalURL:      &url,
			ScreenshotRef: &ref,
			Message:       "all 2 steps completed",
		},
		Message:   "all 2 steps completed",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestMemoryRunStore_SaveGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryRunStore()

	run := sampleRun("run-1")
	require.NoError(t, store.SaveRun(ctx, run))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.Intent, got.Intent)
	assert.Equal(t, types.StatusSuccess, got.Status)
	require.NotNil(t, got.Execution)
	assert.Len(t, got.Execution.Log, 2)

	_, err = store.GetRun(ctx, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestMemoryRunStore_CloneIsolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryRunStore()

	run := sampleRun("run-iso")
	require.NoError(t, store.SaveRun(ctx, run))

	// 保存后修改入参不应影响存储内容
	run.Status = types.StatusError
	run.Plan.Steps[0].Target = "mutated"
	*run.Execution.FinalURL = "https://mutated.test"

	got, err := store.GetRun(ctx, "run-iso")
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, got.Status)
	assert.Equal(t, "f1", got.Plan.Steps[0].Target)
	assert.Equal(t, "https://app.test/done", *got.Execution.FinalURL)

	// 修改读出的副本同样不应影响存储内容
	got.Execution.Log[0].Message = "tampered"
	again, err := store.GetRun(ctx, "run-iso")
	require.NoError(t, err)
	assert.Equal(t, "step 1: fill f1 = 'John': success", again.Execution.Log[0].Message)
}

func TestDBRunStore_SaveGetRoundtrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewDBRunStore(openTestDB(t), zap.NewNop())
	require.NoError(t, err)

	run := sampleRun("run-db-1")
	require.NoError(t, store.SaveRun(ctx, run))

	got, err := store.GetRun(ctx, "run-db-1")
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, run.Intent, got.Intent)
	assert.Equal(t, types.StatusSuccess, got.Status)
	require.NotNil(t, got.Schema)
	assert.Len(t, got.Schema.Elements, 2)
	require.NotNil(t, got.Plan)
	require.Len(t, got.Plan.Steps, 2)
	require.NotNil(t, got.Plan.Steps[0].Value)
	assert.Equal(t, "John", *got.Plan.Steps[0].Value)
	require.NotNil(t, got.Execution)
	assert.Equal(t, "snapshots/final.png", *got.Execution.ScreenshotRef)
	assert.WithinDuration(t, run.CreatedAt, got.CreatedAt, time.Second)
}

func TestDBRunStore_UpsertUpdatesStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewDBRunStore(openTestDB(t), zap.NewNop())
	require.NoError(t, err)

	run := sampleRun("run-db-2")
	run.Status = types.StatusVerificationRequired
	run.Execution = nil
	require.NoError(t, store.SaveRun(ctx, run))

	run.Status = types.StatusPlanOnly
	run.Message = "verification cancelled; the plan was not executed"
	require.NoError(t, store.SaveRun(ctx, run))

	got, err := store.GetRun(ctx, "run-db-2")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPlanOnly, got.Status)
	assert.Contains(t, got.Message, "not executed")
	assert.Nil(t, got.Execution)
}

func TestDBRunStore_Missing(t *testing.T) {
	t.Parallel()

	store, err := NewDBRunStore(openTestDB(t), zap.NewNop())
	require.NoError(t, err)

	_, err = store.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}
