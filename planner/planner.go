// Package planner turns a user intent plus a page schema into an ordered
// action plan, falling through model, heuristic and generic strategies.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/visionflow/cache"
	"github.com/BaSui01/visionflow/inference"
	"github.com/BaSui01/visionflow/types"
)

// Config tunes plan generation.
type Config struct {
	// Model plans below this confidence fall through to the heuristic tier.
	ConfidenceThreshold float64
	// Plans are truncated to this many steps.
	MaxSteps int
	// Token budget for the reasoning prompt; OCR and schema text are
	// truncated to fit.
	PromptTokenBudget int
	// Plan cache TTL, effective only when a cache group is injected.
	CacheTTL time.Duration
}

// DefaultConfig returns sensible planning defaults.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.5,
		MaxSteps:            20,
		PromptTokenBudget:   6000,
		CacheTTL:            time.Hour,
	}
}

// InferenceClient is satisfied by inference.Gateway; only the reasoning
// side is needed here.
type InferenceClient interface {
	InvokeReasoning(ctx context.Context, req *inference.ChatRequest) (*inference.ChatResponse, error)
}

// Request carries everything known about the page when planning.
type Request struct {
	Intent  string
	Schema  *types.UISchema
	Context map[string]string
	OCRText string
}

// Planner generates plans through an ordered strategy table: the model
// tier first, a mechanical heuristic when the model is unavailable or its
// plan is rejected, and a generic whole-page read as the last resort.
// A returned plan is never empty and its steps are numbered from 1.
type Planner struct {
	gateway InferenceClient
	group   *cache.Group
	cfg     Config
	counter *tokenCounter
	logger  *zap.Logger
}

// New creates a planner. gateway may be nil (model tier disabled) and
// group may be nil (caching disabled).
func New(gateway InferenceClient, group *cache.Group, cfg *Config, logger *zap.Logger) *Planner {
	c := DefaultConfig()
	if cfg != nil {
		c = *cfg
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		gateway: gateway,
		group:   group,
		cfg:     c,
		counter: newTokenCounter(),
		logger:  logger.With(zap.String("component", "planner")),
	}
}

// strategy is one tier of the fallback ladder.
type strategy struct {
	source  types.PlanSource
	applies func(req *Request) bool
	produce func(ctx context.Context, req *Request) (*types.ActionPlan, error)
}

func (p *Planner) strategies() []strategy {
	return []strategy{
		{
			source:  types.SourceModel,
			applies: func(*Request) bool { return p.gateway != nil },
			produce: p.modelPlan,
		},
		{
			source:  types.SourceHeuristic,
			applies: func(req *Request) bool { return len(req.Schema.Elements) > 0 },
			produce: func(_ context.Context, req *Request) (*types.ActionPlan, error) {
				return heuristicPlan(req), nil
			},
		},
		{
			source:  types.SourceGeneric,
			applies: func(*Request) bool { return true },
			produce: func(_ context.Context, req *Request) (*types.ActionPlan, error) {
				return genericPlan(req), nil
			},
		},
	}
}

// Plan produces an action plan for the request. Results are cached under
// the combined schema+intent+context key when a cache group is configured.
func (p *Planner) Plan(ctx context.Context, req *Request) (*types.ActionPlan, error) {
	if req == nil || strings.TrimSpace(req.Intent) == "" {
		return nil, types.NewInvalidInput("intent is empty")
	}
	if req.Schema == nil {
		return nil, types.NewInvalidInput("schema is required for planning")
	}

	if p.group != nil {
		plan, fromCache, err := cache.GetOrComputeJSON(ctx, p.group, cache.PlanKey(req.Schema, req.Intent, req.Context), p.cfg.CacheTTL,
			func(ctx context.Context) (*types.ActionPlan, error) {
				return p.generate(ctx, req)
			})
		if err != nil {
			return nil, err
		}
		if fromCache {
			p.logger.Debug("plan served from cache", zap.String("task", plan.Task))
		}
		return plan, nil
	}
	return p.generate(ctx, req)
}

func (p *Planner) generate(ctx context.Context, req *Request) (*types.ActionPlan, error) {
	for _, s := range p.strategies() {
		if !s.applies(req) {
			continue
		}
		plan, err := s.produce(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			p.logger.Warn("plan strategy failed, falling through",
				zap.String("strategy", string(s.source)),
				zap.Error(err))
			continue
		}
		p.finalize(plan, s.source, req)
		p.logger.Info("plan generated",
			zap.String("source", string(s.source)),
			zap.Int("steps", len(plan.Steps)),
			zap.Float64("confidence", plan.Confidence))
		return plan, nil
	}
	// Unreachable: the generic strategy always applies and never fails.
	return nil, types.NewError(types.ErrInternalError, "no plan strategy produced a plan")
}

func (p *Planner) finalize(plan *types.ActionPlan, source types.PlanSource, req *Request) {
	plan.Source = source
	if plan.Task == "" {
		plan.Task = req.Intent
	}
	if p.cfg.MaxSteps > 0 && len(plan.Steps) > p.cfg.MaxSteps {
		plan.Steps = plan.Steps[:p.cfg.MaxSteps]
	}
	plan.Renumber()
	if plan.Confidence < 0 {
		plan.Confidence = 0
	}
	if plan.Confidence > 1 {
		plan.Confidence = 1
	}
}

type rawPlan struct {
	Task       string    `json:"task"`
	Confidence float64   `json:"confidence"`
	Steps      []rawStep `json:"steps"`
}

type rawStep struct {
	Step        int     `json:"step"`
	Action      string  `json:"action"`
	Target      string  `json:"target"`
	Value       *string `json:"value"`
	Description string  `json:"description"`
}

func (p *Planner) modelPlan(ctx context.Context, req *Request) (*types.ActionPlan, error) {
	resp, err := p.gateway.InvokeReasoning(ctx, &inference.ChatRequest{
		Messages:    []inference.Message{{Role: inference.RoleUser, Content: p.buildPrompt(req)}},
		Temperature: 0.3,
		MaxTokens:   2000,
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}

	var raw rawPlan
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Content)), &raw); err != nil {
		return nil, fmt.Errorf("parse model plan: %w", err)
	}
	if len(raw.Steps) == 0 {
		return nil, fmt.Errorf("model plan has no steps")
	}
	if raw.Confidence < p.cfg.ConfidenceThreshold {
		return nil, types.NewError(types.ErrLowConfidencePlan,
			fmt.Sprintf("model confidence %.2f is below threshold %.2f", raw.Confidence, p.cfg.ConfidenceThreshold))
	}

	plan := &types.ActionPlan{Task: raw.Task, Confidence: raw.Confidence}
	for _, rs := range raw.Steps {
		plan.Steps = append(plan.Steps, types.ActionStep{
			Action:      types.NormalizeActionType(rs.Action),
			Target:      strings.TrimSpace(rs.Target),
			Value:       rs.Value,
			Description: rs.Description,
		})
	}
	if !referencesPage(plan, req.Schema) {
		return nil, types.NewError(types.ErrLowConfidencePlan,
			"model plan references no schema element or navigation target")
	}
	return plan, nil
}

// referencesPage reports whether at least one step acts on a known schema
// element or navigates to an explicit target. A plan that touches neither
// cannot do anything useful on this page.
func referencesPage(plan *types.ActionPlan, schema *types.UISchema) bool {
	for i := range plan.Steps {
		s := &plan.Steps[i]
		if s.Action == types.ActionNavigate && s.Target != "" {
			return true
		}
		if _, ok := schema.ElementByID(s.Target); ok {
			return true
		}
	}
	return false
}

// extractJSONObject slices out the outermost JSON object, tolerating
// markdown fences around the model output.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
