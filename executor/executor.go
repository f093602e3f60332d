package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/visionflow/types"
)

const (
	// pageTarget 是 read 步骤的整页目标，由计划生成器的兜底层产出。
	pageTarget = "page"

	// defaultWait applies when a bare wait step carries no parsable duration.
	defaultWait = time.Second

	aboutBlank = "about:blank"
)

// Config 控制执行阶段的行为。
type Config struct {
	// 单个动作的超时
	ActionTimeout time.Duration
	// 执行前的默认起始页面；显式传入的 StartURL 和 schema 的 URL 提示优先
	StartURL string
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() *Config {
	return &Config{
		ActionTimeout: 30 * time.Second,
		StartURL:      aboutBlank,
	}
}

// Input carries one confirmed plan into execution. StartURL overrides the
// schema URL hint and the configured default when set.
type Input struct {
	Plan     *types.ActionPlan
	Schema   *types.UISchema
	StartURL string
}

// Executor drives a browser session through an action plan and reports the
// outcome of every step. It is the only pipeline stage allowed to end a run
// with status error; infrastructure failures are absorbed into the result
// with an actionable message instead of being returned as Go errors.
type Executor struct {
	factory   Factory
	snapshots SnapshotStore
	cfg       *Config
	logger    *zap.Logger

	// OnStep, when set, observes every logged step outcome. Used for
	// metrics wiring; must be set before the first Execute call.
	OnStep func(action types.ActionType, level types.OutcomeLevel)
}

// New creates an Executor. snapshots may be nil, in which case no final
// screenshot is taken.
func New(factory Factory, snapshots SnapshotStore, cfg *Config, logger *zap.Logger) *Executor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		factory:   factory,
		snapshots: snapshots,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "executor")),
	}
}

// resolved is one plan step bound to something the driver can act on.
type resolved struct {
	step   types.ActionStep
	target *Target       // element target; nil for navigate, page reads and bare waits
	url    string        // navigate destination
	wait   time.Duration // bare wait duration
	ok     bool          // false when the target cannot be resolved
}

// Execute runs the plan against a fresh browser session. A non-nil error is
// returned only for caller mistakes (nil plan or schema); everything that
// goes wrong during execution lands in the result status and log.
func (e *Executor) Execute(ctx context.Context, in Input) (*types.ExecutionResult, error) {
	if in.Plan == nil || len(in.Plan.Steps) == 0 {
		return nil, types.NewInvalidInput("a non-empty plan is required for execution")
	}
	if in.Schema == nil {
		return nil, types.NewInvalidInput("a page schema is required for execution")
	}

	steps := make([]resolved, 0, len(in.Plan.Steps))
	resolvable := 0
	for _, st := range in.Plan.Steps {
		r := resolve(st, in.Schema)
		if r.ok {
			resolvable++
		}
		steps = append(steps, r)
	}

	res := &types.ExecutionResult{}
	if resolvable == 0 {
		for _, r := range steps {
			e.record(res, r.step, types.OutcomeWarning, skippedLine(r.step))
		}
		res.Status = types.StatusNoElements
		res.Message = "no plan step matches an element on this page; retake the screenshot or adjust the intent"
		e.logger.Warn("no resolvable steps", zap.Int("planned", len(steps)))
		return res, nil
	}

	driver, err := e.factory.Open(ctx)
	if err != nil {
		e.logger.Error("browser session open failed", zap.Error(err))
		res.Status = types.StatusError
		res.Message = "could not start an automation session; check that the browser runtime is installed and reachable"
		return res, nil
	}
	defer func() {
		if cerr := driver.Close(); cerr != nil {
			e.logger.Warn("browser session close failed", zap.Error(cerr))
		}
	}()

	var (
		completed int
		failures  int
		skips     int
		fatalMsg  string
		deadline  bool
	)

	// 起始页面：显式参数 > schema 提示 > 配置默认
	start := firstNonBlank(in.StartURL, in.Schema.URLHint, e.cfg.StartURL)
	if start != "" && start != aboutBlank {
		if err := e.act(ctx, func(actCtx context.Context) error {
			return driver.Navigate(actCtx, start)
		}); err != nil {
			e.logger.Error("start page navigation failed", zap.String("url", start), zap.Error(err))
			fatalMsg = fmt.Sprintf("could not open the starting page %s; check the URL and connectivity", start)
		}
	}

	if fatalMsg == "" {
		for _, r := range steps {
			if ctx.Err() != nil {
				deadline = true
				break
			}
			if !r.ok {
				skips++
				e.record(res, r.step, types.OutcomeWarning, skippedLine(r.step))
				continue
			}
			if err := e.step(ctx, driver, r); err != nil {
				failures++
				e.record(res, r.step, types.OutcomeFailure, failedLine(r.step, err))
				e.logger.Warn("step failed",
					zap.Int("step", r.step.Step),
					zap.String("action", string(r.step.Action)),
					zap.String("target", r.step.Target),
					zap.Error(err))
				if r.step.Action == types.ActionNavigate || r.step.Action == types.ActionClick {
					// 页面状态不可知，继续执行只会放大问题
					fatalMsg = fmt.Sprintf("aborted after step %d: a failed %s leaves the page state unknown; rerun from a fresh screenshot", r.step.Step, r.step.Action)
					break
				}
				continue
			}
			completed++
			e.record(res, r.step, types.OutcomeSuccess, successLine(r.step))
		}
	}

	e.capture(driver, res)

	switch {
	case fatalMsg != "":
		res.Status = types.StatusError
		res.Message = fatalMsg
	case deadline:
		res.Status = types.StatusPartial
		res.Message = fmt.Sprintf("deadline reached after %d of %d steps", completed, len(steps))
	case failures > 0 || skips > 0:
		res.Status = types.StatusPartial
		res.Message = fmt.Sprintf("%d of %d steps completed", completed, len(steps))
	default:
		res.Status = types.StatusSuccess
		res.Message = fmt.Sprintf("all %d steps completed", completed)
	}

	e.logger.Info("execution finished",
		zap.String("status", string(res.Status)),
		zap.Int("completed", completed),
		zap.Int("failed", failures),
		zap.Int("skipped", skips))
	return res, nil
}

// resolve binds one step to its target. Navigate takes its target as a
// literal URL; read accepts the whole-page target; wait without a target is
// a plain delay taken from the step value.
func resolve(step types.ActionStep, schema *types.UISchema) resolved {
	r := resolved{step: step}
	switch step.Action {
	case types.ActionNavigate:
		r.url = strings.TrimSpace(step.Target)
		r.ok = r.url != ""
		return r
	case types.ActionWait:
		if strings.TrimSpace(step.Target) == "" {
			r.wait = waitDuration(step.Value)
			r.ok = true
			return r
		}
	case types.ActionRead:
		if step.Target == pageTarget {
			r.ok = true
			return r
		}
	}
	el, found := schema.ElementByID(step.Target)
	if !found {
		return r
	}
	r.target = &Target{
		ElementID: el.ID,
		Kind:      el.Type,
		Label:     el.Label,
		Point:     el.Position,
	}
	r.ok = true
	return r
}

// step executes one resolved step under the per-action timeout.
func (e *Executor) step(ctx context.Context, driver Driver, r resolved) error {
	return e.act(ctx, func(actCtx context.Context) error {
		switch r.step.Action {
		case types.ActionNavigate:
			return driver.Navigate(actCtx, r.url)
		case types.ActionClick:
			return driver.Click(actCtx, *r.target)
		case types.ActionFill:
			return driver.Fill(actCtx, *r.target, strVal(r.step.Value))
		case types.ActionSelect:
			return driver.Select(actCtx, *r.target, strVal(r.step.Value))
		case types.ActionRead:
			if r.target == nil {
				_, err := driver.PageText(actCtx)
				return err
			}
			_, err := driver.ReadText(actCtx, *r.target)
			return err
		case types.ActionWait:
			if r.target == nil {
				select {
				case <-actCtx.Done():
					return actCtx.Err()
				case <-time.After(r.wait):
					return nil
				}
			}
			return driver.WaitVisible(actCtx, *r.target)
		default:
			return fmt.Errorf("unsupported action: %s", r.step.Action)
		}
	})
}

func (e *Executor) act(ctx context.Context, fn func(context.Context) error) error {
	actCtx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	defer cancel()
	return fn(actCtx)
}

// capture collects the final URL and screenshot. It runs on its own context
// so the final state is still recorded after a pipeline deadline; failures
// here only degrade the report.
func (e *Executor) capture(driver Driver, res *types.ExecutionResult) {
	cctx, cancel := context.WithTimeout(context.Background(), e.cfg.ActionTimeout)
	defer cancel()

	if url, err := driver.CurrentURL(cctx); err == nil {
		res.FinalURL = &url
	} else {
		e.logger.Warn("final URL capture failed", zap.Error(err))
	}

	if e.snapshots == nil {
		return
	}
	data, err := driver.Screenshot(cctx)
	if err != nil {
		e.logger.Warn("final screenshot failed", zap.Error(err))
		return
	}
	ref, err := e.snapshots.Save(cctx, data)
	if err != nil {
		e.logger.Warn("snapshot save failed", zap.Error(err))
		return
	}
	res.ScreenshotRef = &ref
}

func (e *Executor) record(res *types.ExecutionResult, step types.ActionStep, level types.OutcomeLevel, message string) {
	res.Log = append(res.Log, types.StepOutcome{Step: step.Step, Level: level, Message: message})
	if e.OnStep != nil {
		e.OnStep(step.Action, level)
	}
}

// describe renders one step the way it appears in the execution log,
// e.g. `fill f1 = 'John'` or `click f2`.
func describe(step types.ActionStep) string {
	switch step.Action {
	case types.ActionFill, types.ActionSelect:
		return fmt.Sprintf("%s %s = '%s'", step.Action, step.Target, strVal(step.Value))
	case types.ActionWait:
		if strings.TrimSpace(step.Target) == "" {
			return fmt.Sprintf("wait %s", waitDuration(step.Value))
		}
		return fmt.Sprintf("wait %s", step.Target)
	default:
		return fmt.Sprintf("%s %s", step.Action, step.Target)
	}
}

func successLine(step types.ActionStep) string {
	return fmt.Sprintf("step %d: %s: success", step.Step, describe(step))
}

func failedLine(step types.ActionStep, err error) string {
	return fmt.Sprintf("step %d: %s: failed: %v", step.Step, describe(step), err)
}

func skippedLine(step types.ActionStep) string {
	return fmt.Sprintf("step %d: %s: skipped: no matching element in the page schema", step.Step, describe(step))
}

func waitDuration(value *string) time.Duration {
	if value == nil {
		return defaultWait
	}
	d, err := time.ParseDuration(strings.TrimSpace(*value))
	if err != nil || d <= 0 {
		return defaultWait
	}
	return d
}

func strVal(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
