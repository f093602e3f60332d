package verify

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

func TestDBStore_SaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewDBStore(openTestDB(t), zap.NewNop())
	require.NoError(t, err)

	p := samplePending("run-db-1")
	require.NoError(t, store.Save(ctx, p))

	got, err := store.Load(ctx, "run-db-1")
	require.NoError(t, err)

	assert.Equal(t, "run-db-1", got.RunID)
	assert.Equal(t, "submit the signup form", got.Intent)
	assert.Equal(t, StatePending, got.State)
	assert.WithinDuration(t, p.CreatedAt, got.CreatedAt, time.Second)
	assert.WithinDuration(t, p.ExpiresAt, got.ExpiresAt, time.Second)

	require.NotNil(t, got.Plan)
	require.Len(t, got.Plan.Steps, 2)
	assert.Equal(t, types.SourceModel, got.Plan.Source)
	require.NotNil(t, got.Plan.Steps[0].Value)
	assert.Equal(t, "John", *got.Plan.Steps[0].Value)

	require.NotNil(t, got.Schema)
	require.Len(t, got.Schema.Elements, 2)
	assert.Equal(t, "Name", got.Schema.Elements[0].Label)
}

func TestDBStore_LoadMissing(t *testing.T) {
	t.Parallel()

	store, err := NewDBStore(openTestDB(t), zap.NewNop())
	require.NoError(t, err)

	_, err = store.Load(context.Background(), "run-missing")
	require.ErrorContains(t, err, "not found")
}

func TestDBStore_UpdatePersistsStateAndEdits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewDBStore(openTestDB(t), zap.NewNop())
	require.NoError(t, err)

	p := samplePending("run-db-2")
	require.NoError(t, store.Save(ctx, p))

	p.State = StateConfirmed
	p.Plan.Steps = p.Plan.Steps[:1]
	p.Plan.Renumber()
	require.NoError(t, store.Update(ctx, p))

	got, err := store.Load(ctx, "run-db-2")
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, got.State)
	assert.Len(t, got.Plan.Steps, 1)
}

func TestDBStore_Delete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewDBStore(openTestDB(t), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, samplePending("run-db-3")))
	require.NoError(t, store.Delete(ctx, "run-db-3"))

	_, err = store.Load(ctx, "run-db-3")
	require.Error(t, err)

	require.NoError(t, store.Delete(ctx, "run-db-3"))
}

func TestDBStore_PurgeExpired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewDBStore(openTestDB(t), zap.NewNop())
	require.NoError(t, err)

	expired := samplePending("run-expired")
	expired.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.Save(ctx, expired))

	live := samplePending("run-live")
	require.NoError(t, store.Save(ctx, live))

	// Resolved records are history, not edit windows; purge leaves them.
	resolved := samplePending("run-resolved")
	resolved.State = StateConfirmed
	resolved.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.Save(ctx, resolved))

	purged, err := store.PurgeExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)

	_, err = store.Load(ctx, "run-expired")
	require.Error(t, err)
	_, err = store.Load(ctx, "run-live")
	require.NoError(t, err)
	_, err = store.Load(ctx, "run-resolved")
	require.NoError(t, err)
}

func TestTieredStore_WritesReachBothTiers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbStore, err := NewDBStore(openTestDB(t), zap.NewNop())
	require.NoError(t, err)
	mem := NewMemoryStore()
	tiered := NewTieredStore(mem, dbStore, zap.NewNop())

	p := samplePending("run-tiered-1")
	require.NoError(t, tiered.Save(ctx, p))

	fromMem, err := mem.Load(ctx, "run-tiered-1")
	require.NoError(t, err)
	fromDB, err := dbStore.Load(ctx, "run-tiered-1")
	require.NoError(t, err)
	assert.Equal(t, fromMem.State, fromDB.State)

	p.State = StateCancelled
	require.NoError(t, tiered.Update(ctx, p))
	fromDB, err = dbStore.Load(ctx, "run-tiered-1")
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, fromDB.State)

	require.NoError(t, tiered.Delete(ctx, "run-tiered-1"))
	_, err = mem.Load(ctx, "run-tiered-1")
	require.Error(t, err)
	_, err = dbStore.Load(ctx, "run-tiered-1")
	require.Error(t, err)
}

func TestTieredStore_PendingSurvivesMemoryLoss(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbStore, err := NewDBStore(openTestDB(t), zap.NewNop())
	require.NoError(t, err)

	tiered := NewTieredStore(NewMemoryStore(), dbStore, zap.NewNop())
	require.NoError(t, tiered.Save(ctx, samplePending("run-tiered-2")))

	// A fresh memory tier over the same database models a process restart.
	freshMem := NewMemoryStore()
	restarted := NewTieredStore(freshMem, dbStore, zap.NewNop())

	got, err := restarted.Load(ctx, "run-tiered-2")
	require.NoError(t, err)
	assert.Equal(t, StatePending, got.State)
	require.Len(t, got.Plan.Steps, 2)

	// The read warms the new memory tier.
	_, err = freshMem.Load(ctx, "run-tiered-2")
	require.NoError(t, err)
}

func TestGate_ResumeAcrossRestart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbStore, err := NewDBStore(openTestDB(t), zap.NewNop())
	require.NoError(t, err)

	before := NewGate(NewTieredStore(NewMemoryStore(), dbStore, zap.NewNop()), nil, nil, zap.NewNop())
	p := samplePending("run-restart")
	_, err = before.Hold(ctx, p.RunID, p.Intent, p.Plan, p.Schema)
	require.NoError(t, err)

	after := NewGate(NewTieredStore(NewMemoryStore(), dbStore, zap.NewNop()), nil, nil, zap.NewNop())
	resolved, err := after.Resolve(ctx, "run-restart", VerdictConfirm, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, resolved.State)
	require.NoError(t, resolved.Plan.Validate())
}
