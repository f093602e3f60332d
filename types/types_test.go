package types

import "testing"

func strptr(s string) *string { return &s }

func TestActionPlan_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		steps   []ActionStep
		wantErr bool
	}{
		{"empty", nil, true},
		{"single", []ActionStep{{Step: 1, Action: ActionRead, Target: "page"}}, false},
		{"contiguous", []ActionStep{{Step: 1}, {Step: 2}, {Step: 3}}, false},
		{"gap", []ActionStep{{Step: 1}, {Step: 3}}, true},
		{"zero based", []ActionStep{{Step: 0}, {Step: 1}}, true},
		{"duplicate", []ActionStep{{Step: 1}, {Step: 1}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &ActionPlan{Task: "t", Steps: tt.steps}
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestActionPlan_Renumber(t *testing.T) {
	t.Parallel()

	p := &ActionPlan{Steps: []ActionStep{{Step: 2}, {Step: 5}, {Step: 9}}}
	p.Renumber()
	if err := p.Validate(); err != nil {
		t.Fatalf("renumbered plan failed validation: %v", err)
	}
	for i, s := range p.Steps {
		if s.Step != i+1 {
			t.Fatalf("step %d renumbered to %d", i, s.Step)
		}
	}
}

func TestActionPlan_CloneIsDeep(t *testing.T) {
	t.Parallel()

	p := &ActionPlan{
		Task:   "fill form",
		Source: SourceModel,
		Steps:  []ActionStep{{Step: 1, Action: ActionFill, Target: "f1", Value: strptr("John")}},
	}
	c := p.Clone()
	*c.Steps[0].Value = "Jane"
	c.Steps[0].Target = "f2"

	if *p.Steps[0].Value != "John" || p.Steps[0].Target != "f1" {
		t.Fatalf("clone mutated original: %+v", p.Steps[0])
	}
}

func TestUISchema_ElementByID(t *testing.T) {
	t.Parallel()

	s := &UISchema{Elements: []UIElement{
		{ID: "f1", Type: ElementInput, Label: "Name"},
		{ID: "b1", Type: ElementButton, Label: "Submit"},
	}}

	el, ok := s.ElementByID("b1")
	if !ok || el.Label != "Submit" {
		t.Fatalf("lookup b1 failed: %+v ok=%v", el, ok)
	}
	if _, ok := s.ElementByID("missing"); ok {
		t.Fatalf("expected miss for unknown id")
	}
}

func TestUISchema_CloneIsDeep(t *testing.T) {
	t.Parallel()

	s := &UISchema{
		PageType: "form",
		Elements: []UIElement{{ID: "f1", Value: strptr("old"), Position: &Box{X: 1}}},
	}
	c := s.Clone()
	*c.Elements[0].Value = "new"
	c.Elements[0].Position.X = 99

	if *s.Elements[0].Value != "old" || s.Elements[0].Position.X != 1 {
		t.Fatalf("clone mutated original: %+v", s.Elements[0])
	}
}

func TestNormalizeEnums(t *testing.T) {
	t.Parallel()

	if got := NormalizeElementType("input"); got != ElementInput {
		t.Fatalf("normalize input: %s", got)
	}
	if got := NormalizeElementType("checkbox"); got != ElementOther {
		t.Fatalf("unknown element type should map to other, got %s", got)
	}
	if got := NormalizeActionType("navigate"); got != ActionNavigate {
		t.Fatalf("normalize navigate: %s", got)
	}
	if got := NormalizeActionType("hover"); got != ActionRead {
		t.Fatalf("unknown action should map to read, got %s", got)
	}
}

func TestStatus_Terminal(t *testing.T) {
	t.Parallel()

	terminal := []Status{StatusSuccess, StatusPartial, StatusError, StatusPlanOnly, StatusNoElements}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("status %s should be terminal", s)
		}
	}
	if StatusVerificationRequired.Terminal() {
		t.Fatalf("verification_required is a pause, not a terminal status")
	}
}
