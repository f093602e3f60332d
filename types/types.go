package types

import "fmt"

// ElementType classifies a detected interface element.
type ElementType string

const (
	ElementText   ElementType = "text"
	ElementInput  ElementType = "input"
	ElementButton ElementType = "button"
	ElementSelect ElementType = "select"
	ElementImage  ElementType = "image"
	ElementLabel  ElementType = "label"
	ElementOther  ElementType = "other"
)

// NormalizeElementType maps a free-form type string onto the known enum,
// defaulting to ElementOther. Vision model output is not trusted to stay
// inside the enum.
func NormalizeElementType(s string) ElementType {
	switch ElementType(s) {
	case ElementText, ElementInput, ElementButton, ElementSelect, ElementImage, ElementLabel:
		return ElementType(s)
	default:
		return ElementOther
	}
}

// Box is a bounding box in page coordinates.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// UIElement is one detected interface element.
// ID is unique within its schema.
type UIElement struct {
	ID         string      `json:"id"`
	Type       ElementType `json:"type"`
	Label      string      `json:"label,omitempty"`
	Value      *string     `json:"value,omitempty"`
	Position   *Box        `json:"position,omitempty"`
	Confidence float64     `json:"confidence"`
}

// UISchema is the structured result of one vision analysis. It is created
// once per analysis and never mutated afterwards; verification edits operate
// on a copy.
type UISchema struct {
	PageType string      `json:"page_type"`
	URLHint  string      `json:"url_hint,omitempty"`
	Elements []UIElement `json:"elements"`
}

// ElementByID returns the element with the given ID, if present.
func (s *UISchema) ElementByID(id string) (*UIElement, bool) {
	for i := range s.Elements {
		if s.Elements[i].ID == id {
			return &s.Elements[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the schema. Verification edits mutate the
// copy so the cached original stays intact.
func (s *UISchema) Clone() *UISchema {
	out := &UISchema{PageType: s.PageType, URLHint: s.URLHint}
	if s.Elements != nil {
		out.Elements = make([]UIElement, len(s.Elements))
		copy(out.Elements, s.Elements)
		for i := range out.Elements {
			if v := s.Elements[i].Value; v != nil {
				vv := *v
				out.Elements[i].Value = &vv
			}
			if p := s.Elements[i].Position; p != nil {
				pp := *p
				out.Elements[i].Position = &pp
			}
		}
	}
	return out
}

// ActionType enumerates the supported plan actions.
type ActionType string

const (
	ActionClick    ActionType = "click"
	ActionFill     ActionType = "fill"
	ActionSelect   ActionType = "select"
	ActionRead     ActionType = "read"
	ActionNavigate ActionType = "navigate"
	ActionWait     ActionType = "wait"
)

// NormalizeActionType maps a free-form action string onto the known enum,
// defaulting to ActionRead.
func NormalizeActionType(s string) ActionType {
	switch ActionType(s) {
	case ActionClick, ActionFill, ActionSelect, ActionRead, ActionNavigate, ActionWait:
		return ActionType(s)
	default:
		return ActionRead
	}
}

// PlanSource records which fallback tier produced a plan.
type PlanSource string

const (
	SourceModel     PlanSource = "model"
	SourceHeuristic PlanSource = "heuristic"
	SourceGeneric   PlanSource = "generic"
)

// ActionStep is one unit of planned work. Step numbers are 1-based and
// define total execution order; there is no implicit parallelism.
type ActionStep struct {
	Step        int        `json:"step"`
	Action      ActionType `json:"action"`
	Target      string     `json:"target"`
	Value       *string    `json:"value,omitempty"`
	Description string     `json:"description,omitempty"`
}

// ActionPlan is an ordered, executable plan for one user intent.
type ActionPlan struct {
	Task       string       `json:"task"`
	Steps      []ActionStep `json:"steps"`
	Confidence float64      `json:"confidence"`
	Source     PlanSource   `json:"source"`
}

// Validate checks the plan invariants: at least one step, and step numbers
// contiguous starting at 1.
func (p *ActionPlan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	for i := range p.Steps {
		if p.Steps[i].Step != i+1 {
			return fmt.Errorf("step at index %d has sequence number %d, want %d", i, p.Steps[i].Step, i+1)
		}
	}
	return nil
}

// Renumber rewrites step sequence numbers to be contiguous from 1,
// preserving order. Called after verification edits remove or reorder steps.
func (p *ActionPlan) Renumber() {
	for i := range p.Steps {
		p.Steps[i].Step = i + 1
	}
}

// Clone returns a deep copy of the plan.
func (p *ActionPlan) Clone() *ActionPlan {
	out := &ActionPlan{Task: p.Task, Confidence: p.Confidence, Source: p.Source}
	if p.Steps != nil {
		out.Steps = make([]ActionStep, len(p.Steps))
		copy(out.Steps, p.Steps)
		for i := range out.Steps {
			if v := p.Steps[i].Value; v != nil {
				vv := *v
				out.Steps[i].Value = &vv
			}
		}
	}
	return out
}

// Status is the outcome classification of a pipeline run.
type Status string

const (
	StatusSuccess    Status = "success"
	StatusPartial    Status = "partial"
	StatusError      Status = "error"
	StatusPlanOnly   Status = "plan_only"
	StatusNoElements Status = "no_elements"

	// StatusVerificationRequired is not terminal: the run is paused at the
	// verification gate and completes through Resume.
	StatusVerificationRequired Status = "verification_required"
)

// Terminal reports whether the status ends a run.
func (s Status) Terminal() bool {
	return s != StatusVerificationRequired && s != ""
}

// OutcomeLevel tags one execution log entry.
type OutcomeLevel string

const (
	OutcomeSuccess OutcomeLevel = "success"
	OutcomeFailure OutcomeLevel = "failure"
	OutcomeWarning OutcomeLevel = "warning"
)

// StepOutcome is one entry in the execution log.
type StepOutcome struct {
	Step    int          `json:"step"`
	Level   OutcomeLevel `json:"level"`
	Message string       `json:"message"`
}

// ExecutionResult is the sealed report of one executor run. The log is
// append-only during execution and frozen on completion.
type ExecutionResult struct {
	Status        Status        `json:"status"`
	Log           []StepOutcome `json:"log"`
	FinalURL      *string       `json:"final_url,omitempty"`
	ScreenshotRef *string       `json:"screenshot_ref,omitempty"`
	Message       string        `json:"message,omitempty"`
}
