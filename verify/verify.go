package verify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/visionflow/types"
)

// State 核对状态
type State string

const (
	// StateDraft is the phase before the gate: the plan exists but has not
	// been held for confirmation.
	StateDraft State = "draft"

	// StatePending means the plan is held and editable, waiting for a verdict.
	StatePending State = "pending_verification"

	StateConfirmed State = "confirmed"
	StateCancelled State = "cancelled"
)

// transitions 允许的状态转移
var transitions = map[State][]State{
	StateDraft:   {StatePending},
	StatePending: {StateConfirmed, StateCancelled},
}

// CanTransition reports whether the state machine permits from → to.
// Confirmed and cancelled are terminal.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Verdict 人工裁决
type Verdict string

const (
	VerdictConfirm Verdict = "confirm"
	VerdictCancel  Verdict = "cancel"
)

// Pending 一条挂起的核对记录
type Pending struct {
	RunID     string            `json:"run_id"`
	Intent    string            `json:"intent"`
	Plan      *types.ActionPlan `json:"plan"`
	Schema    *types.UISchema   `json:"schema"`
	State     State             `json:"state"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Clone returns a deep copy so store reads and writes never alias the
// caller's plan or schema.
func (p *Pending) Clone() *Pending {
	out := *p
	if p.Plan != nil {
		out.Plan = p.Plan.Clone()
	}
	if p.Schema != nil {
		out.Schema = p.Schema.Clone()
	}
	return &out
}

// Config 闸口配置
type Config struct {
	// Enabled turns predicate-based gating on. A caller forcing
	// verification is honored even when disabled.
	Enabled bool
	// Keywords feed the default predicate when no custom one is injected.
	Keywords []string
	// PendingTTL bounds how long a held plan stays editable.
	PendingTTL time.Duration
}

// DefaultConfig returns the gate defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Keywords:   append([]string(nil), defaultKeywords...),
		PendingTTL: 30 * time.Minute,
	}
}

// Gate 人工核对闸口
//
// 持有谓词与存储，负责 Hold/Edit/Resolve 的状态转移校验。
type Gate struct {
	store     Store
	predicate Predicate
	cfg       Config
	logger    *zap.Logger
}

// NewGate creates a gate. store defaults to an in-memory store, predicate
// to the keyword predicate built from cfg.Keywords.
func NewGate(store Store, predicate Predicate, cfg *Config, logger *zap.Logger) *Gate {
	c := DefaultConfig()
	if cfg != nil {
		c = *cfg
	}
	if c.PendingTTL <= 0 {
		c.PendingTTL = 30 * time.Minute
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if predicate == nil {
		predicate = NewKeywordPredicate(c.Keywords)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		store:     store,
		predicate: predicate,
		cfg:       c,
		logger:    logger.With(zap.String("component", "verification")),
	}
}

// Required reports whether the run must pause at the gate. force wins
// unconditionally; otherwise the predicate decides, and only when the
// gate is enabled.
func (g *Gate) Required(intent string, plan *types.ActionPlan, force bool) bool {
	if force {
		return true
	}
	if !g.cfg.Enabled {
		return false
	}
	return g.predicate.Requires(intent, plan)
}

// Hold parks a plan and its schema for human review. The stored copies
// are clones, so the caller's plan stays untouched by later edits.
func (g *Gate) Hold(ctx context.Context, runID, intent string, plan *types.ActionPlan, schema *types.UISchema) (*Pending, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, types.NewInvalidInput("run id is empty")
	}
	if plan == nil || len(plan.Steps) == 0 {
		return nil, types.NewInvalidInput("a non-empty plan is required for verification")
	}
	if schema == nil {
		return nil, types.NewInvalidInput("a schema is required for verification")
	}

	now := time.Now()
	p := &Pending{
		RunID:     runID,
		Intent:    intent,
		Plan:      plan.Clone(),
		Schema:    schema.Clone(),
		State:     StatePending,
		CreatedAt: now,
		ExpiresAt: now.Add(g.cfg.PendingTTL),
	}
	p.Plan.Renumber()

	if err := g.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save pending verification: %w", err)
	}

	g.logger.Info("plan held for verification",
		zap.String("run_id", runID),
		zap.Int("steps", len(p.Plan.Steps)),
		zap.Time("expires_at", p.ExpiresAt),
	)
	return p, nil
}

// Get returns the verification record for a run. Pending records past
// their expiry are dropped and reported as not found.
func (g *Gate) Get(ctx context.Context, runID string) (*Pending, error) {
	return g.load(ctx, runID)
}

// Edit replaces the held plan and/or schema while the record is pending.
// Nil arguments leave the corresponding part unchanged. The edited plan
// keeps the original source and confidence and is renumbered, so every
// plan read back from the gate satisfies the contiguity invariant.
func (g *Gate) Edit(ctx context.Context, runID string, plan *types.ActionPlan, schema *types.UISchema) (*Pending, error) {
	p, err := g.load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if p.State != StatePending {
		return nil, notPending(runID, p.State)
	}

	if err := applyEdits(p, plan, schema); err != nil {
		return nil, err
	}
	if err := g.store.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update pending verification: %w", err)
	}

	g.logger.Info("pending verification edited",
		zap.String("run_id", runID),
		zap.Int("steps", len(p.Plan.Steps)),
	)
	return p, nil
}

// Resolve applies the human verdict. On confirm, optional last-round edits
// are applied and the plan is renumbered before the record moves to
// confirmed; the returned pending carries the plan the executor must run.
// On cancel the record moves to cancelled and the pipeline ends plan_only.
func (g *Gate) Resolve(ctx context.Context, runID string, verdict Verdict, editedPlan *types.ActionPlan, editedSchema *types.UISchema) (*Pending, error) {
	var target State
	switch verdict {
	case VerdictConfirm:
		target = StateConfirmed
	case VerdictCancel:
		target = StateCancelled
	default:
		return nil, types.NewInvalidInput(fmt.Sprintf("verdict must be %q or %q", VerdictConfirm, VerdictCancel))
	}

	p, err := g.load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(p.State, target) {
		return nil, notPending(runID, p.State)
	}

	if verdict == VerdictConfirm {
		if err := applyEdits(p, editedPlan, editedSchema); err != nil {
			return nil, err
		}
		p.Plan.Renumber()
	}
	p.State = target

	if err := g.store.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update pending verification: %w", err)
	}

	g.logger.Info("verification resolved",
		zap.String("run_id", runID),
		zap.String("verdict", string(verdict)),
		zap.String("state", string(p.State)),
	)
	return p, nil
}

// load fetches a record and enforces the edit window: an expired pending
// record is deleted and reported as not found.
func (g *Gate) load(ctx context.Context, runID string) (*Pending, error) {
	p, err := g.store.Load(ctx, runID)
	if err != nil {
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("no pending verification for run %s", runID)).
			WithCause(err).
			WithHTTPStatus(http.StatusNotFound)
	}
	if p.State == StatePending && time.Now().After(p.ExpiresAt) {
		if delErr := g.store.Delete(ctx, runID); delErr != nil {
			g.logger.Warn("expired verification cleanup failed",
				zap.String("run_id", runID), zap.Error(delErr))
		}
		g.logger.Info("pending verification expired", zap.String("run_id", runID))
		return nil, types.NewError(types.ErrNotFound,
			fmt.Sprintf("verification for run %s expired, submit the run again", runID)).
			WithHTTPStatus(http.StatusNotFound)
	}
	return p, nil
}

// applyEdits merges human edits into the held record. The plan keeps its
// original task, source and confidence; only the steps are replaced.
// Actions outside the known enum degrade to read, matching how model
// output is normalized.
func applyEdits(p *Pending, plan *types.ActionPlan, schema *types.UISchema) error {
	if plan != nil {
		if len(plan.Steps) == 0 {
			return types.NewInvalidInput("edited plan has no steps")
		}
		edited := plan.Clone()
		edited.Source = p.Plan.Source
		edited.Confidence = p.Plan.Confidence
		if strings.TrimSpace(edited.Task) == "" {
			edited.Task = p.Plan.Task
		}
		for i := range edited.Steps {
			edited.Steps[i].Action = types.NormalizeActionType(string(edited.Steps[i].Action))
			edited.Steps[i].Target = strings.TrimSpace(edited.Steps[i].Target)
		}
		edited.Renumber()
		p.Plan = edited
	}
	if schema != nil {
		if err := validateSchema(schema); err != nil {
			return err
		}
		p.Schema = schema.Clone()
	}
	return nil
}

// validateSchema rejects edited schemas that break the element id
// uniqueness invariant the executor relies on for target resolution.
func validateSchema(s *types.UISchema) error {
	seen := make(map[string]struct{}, len(s.Elements))
	for i := range s.Elements {
		id := s.Elements[i].ID
		if strings.TrimSpace(id) == "" {
			return types.NewInvalidInput(fmt.Sprintf("schema element at index %d has no id", i))
		}
		if _, dup := seen[id]; dup {
			return types.NewInvalidInput(fmt.Sprintf("schema element id %q is duplicated", id))
		}
		seen[id] = struct{}{}
	}
	return nil
}

func notPending(runID string, state State) error {
	return types.NewError(types.ErrInvalidRequest,
		fmt.Sprintf("verification for run %s is no longer pending (state: %s)", runID, state)).
		WithHTTPStatus(http.StatusConflict)
}
