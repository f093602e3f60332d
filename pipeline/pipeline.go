package pipeline

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/visionflow/executor"
	"github.com/BaSui01/visionflow/planner"
	"github.com/BaSui01/visionflow/types"
	"github.com/BaSui01/visionflow/verify"
)

// pageHintKey 是请求上下文里给视觉分析的页面提示键
const pageHintKey = "page_hint"

// SchemaAnalyzer 由 vision.Analyzer 满足
type SchemaAnalyzer interface {
	Analyze(ctx context.Context, image []byte, hint string) (*types.UISchema, error)
}

// PlanGenerator 由 planner.Planner 满足
type PlanGenerator interface {
	Plan(ctx context.Context, req *planner.Request) (*types.ActionPlan, error)
}

// PlanExecutor 由 executor.Executor 满足
type PlanExecutor interface {
	Execute(ctx context.Context, in executor.Input) (*types.ExecutionResult, error)
}

// Config 控制编排行为。
type Config struct {
	// 单次运行（含执行阶段）的总体截止时间
	Deadline time.Duration
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() *Config {
	return &Config{Deadline: 3 * time.Minute}
}

// RunInput is one new pipeline request. Context carries optional key/value
// hints; "page_hint" is forwarded to vision analysis and the remaining
// entries feed plan generation (form values and similar).
type RunInput struct {
	Image               []byte
	Intent              string
	Context             map[string]string
	RequireVerification bool
}

// ResumeInput resolves a run paused at the verification gate.
type ResumeInput struct {
	RunID         string
	Verdict       verify.Verdict
	EditedPlan    *types.ActionPlan
	EditedSchema  *types.UISchema
	StartLocation string
}

// RunResult is the outcome of Run or Resume. Status is terminal except for
// verification_required, which pauses the run until Resume.
type RunResult struct {
	RunID     string                 `json:"run_id"`
	Status    types.Status           `json:"status"`
	Schema    *types.UISchema        `json:"schema,omitempty"`
	Plan      *types.ActionPlan      `json:"plan,omitempty"`
	Execution *types.ExecutionResult `json:"execution,omitempty"`
	Message   string                 `json:"message,omitempty"`
}

// Orchestrator runs the Vision→Plan→Execute pipeline. Runs are sequential
// within one request; concurrent runs share only the caches and breaker
// behind the stage implementations.
type Orchestrator struct {
	vision   SchemaAnalyzer
	planner  PlanGenerator
	gate     *verify.Gate
	executor PlanExecutor
	runs     RunStore
	cfg      *Config
	logger   *zap.Logger
	tracer   trace.Tracer

	// OnRun, when set, observes the status of every finished or paused
	// run. Used for metrics wiring; set before the first Run call.
	OnRun func(status types.Status)
}

// New creates an Orchestrator. runs may be nil to disable run records.
func New(vision SchemaAnalyzer, plan PlanGenerator, gate *verify.Gate, exec PlanExecutor, runs RunStore, cfg *Config, logger *zap.Logger) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 3 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if gate == nil {
		gate = verify.NewGate(nil, nil, nil, nil)
	}
	return &Orchestrator{
		vision:   vision,
		planner:  plan,
		gate:     gate,
		executor: exec,
		runs:     runs,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "pipeline")),
		tracer:   otel.Tracer("visionflow/pipeline"),
	}
}

// Run executes one new pipeline request end to end. It returns an error
// only for rejected input (empty intent, empty or poor-quality image) and
// gate storage failures; every other outcome lands in the result status.
func (o *Orchestrator) Run(ctx context.Context, in RunInput) (*RunResult, error) {
	intent := strings.TrimSpace(in.Intent)
	if intent == "" {
		return nil, types.NewInvalidInput("intent is empty")
	}
	if len(in.Image) == 0 {
		return nil, types.NewInvalidInput("image payload is empty")
	}

	runID := uuid.NewString()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Deadline)
	defer cancel()

	ctx, span := o.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	logger := o.logger.With(zap.String("run_id", runID))
	logger.Info("pipeline run started",
		zap.String("intent", intent),
		zap.Int("image_bytes", len(in.Image)),
		zap.Bool("require_verification", in.RequireVerification))

	run := &Run{ID: runID, Intent: intent, CreatedAt: time.Now()}

	schema, err := o.vision.Analyze(ctx, in.Image, in.Context[pageHintKey])
	if err != nil {
		span.RecordError(err)
		logger.Warn("vision stage rejected the request", zap.Error(err))
		return nil, err
	}
	run.Schema = schema
	span.SetAttributes(attribute.Int("schema.elements", len(schema.Elements)))

	plan, err := o.planner.Plan(ctx, &planner.Request{
		Intent:  intent,
		Schema:  schema,
		Context: in.Context,
	})
	if err != nil {
		span.RecordError(err)
		logger.Warn("plan stage rejected the request", zap.Error(err))
		return nil, err
	}
	run.Plan = plan
	span.SetAttributes(
		attribute.String("plan.source", string(plan.Source)),
		attribute.Int("plan.steps", len(plan.Steps)))

	if o.gate.Required(intent, plan, in.RequireVerification) {
		if _, err := o.gate.Hold(ctx, runID, intent, plan, schema); err != nil {
			span.RecordError(err)
			return nil, err
		}
		run.Status = types.StatusVerificationRequired
		run.Message = "verification required; resume the run with a verdict"
		o.finish(ctx, logger, run)
		return resultFromRun(run), nil
	}

	exec, err := o.executor.Execute(ctx, executor.Input{Plan: plan, Schema: schema})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	run.Status = exec.Status
	run.Execution = exec
	run.Message = exec.Message
	o.finish(ctx, logger, run)
	return resultFromRun(run), nil
}

// Resume resolves a pending verification and, on confirmation, executes
// the (possibly edited) plan. A cancelled run ends as plan_only without a
// browser session.
func (o *Orchestrator) Resume(ctx context.Context, in ResumeInput) (*RunResult, error) {
	runID := strings.TrimSpace(in.RunID)
	if runID == "" {
		return nil, types.NewInvalidInput("run id is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Deadline)
	defer cancel()

	ctx, span := o.tracer.Start(ctx, "pipeline.resume",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("verdict", string(in.Verdict))))
	defer span.End()

	logger := o.logger.With(zap.String("run_id", runID))

	pending, err := o.gate.Resolve(ctx, runID, in.Verdict, in.EditedPlan, in.EditedSchema)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	run := &Run{
		ID:        runID,
		Intent:    pending.Intent,
		Schema:    pending.Schema,
		Plan:      pending.Plan,
		CreatedAt: pending.CreatedAt,
	}

	if pending.State == verify.StateCancelled {
		run.Status = types.StatusPlanOnly
		run.Message = "verification cancelled; the plan was not executed"
		o.finish(ctx, logger, run)
		return resultFromRun(run), nil
	}

	exec, err := o.executor.Execute(ctx, executor.Input{
		Plan:     pending.Plan,
		Schema:   pending.Schema,
		StartURL: in.StartLocation,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	run.Status = exec.Status
	run.Execution = exec
	run.Message = exec.Message
	o.finish(ctx, logger, run)
	return resultFromRun(run), nil
}

// Status returns the stored record of a run, either paused or finished.
func (o *Orchestrator) Status(ctx context.Context, runID string) (*RunResult, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, types.NewInvalidInput("run id is empty")
	}

	// 暂停中的运行以确认门的记录为准
	if pending, err := o.gate.Get(ctx, runID); err == nil && pending.State == verify.StatePending {
		return &RunResult{
			RunID:   runID,
			Status:  types.StatusVerificationRequired,
			Schema:  pending.Schema,
			Plan:    pending.Plan,
			Message: "verification required; resume the run with a verdict",
		}, nil
	}

	if o.runs == nil {
		return nil, types.NewError(types.ErrNotFound, "run "+runID+" not found").
			WithHTTPStatus(http.StatusNotFound)
	}
	run, err := o.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, types.NewError(types.ErrNotFound, "run "+runID+" not found").
			WithCause(err).
			WithHTTPStatus(http.StatusNotFound)
	}
	return resultFromRun(run), nil
}

// finish persists the run record and reports the status. Persistence is
// best-effort: the gate store drives resume, run records only serve status
// queries.
func (o *Orchestrator) finish(ctx context.Context, logger *zap.Logger, run *Run) {
	run.UpdatedAt = time.Now()
	if o.runs != nil {
		if err := o.runs.SaveRun(ctx, run); err != nil {
			logger.Warn("run record save failed", zap.Error(err))
		}
	}
	if o.OnRun != nil {
		o.OnRun(run.Status)
	}
	logger.Info("pipeline run recorded",
		zap.String("status", string(run.Status)),
		zap.String("message", run.Message))
}

func resultFromRun(run *Run) *RunResult {
	return &RunResult{
		RunID:     run.ID,
		Status:    run.Status,
		Schema:    run.Schema,
		Plan:      run.Plan,
		Execution: run.Execution,
		Message:   run.Message,
	}
}
