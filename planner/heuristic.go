package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/visionflow/types"
)

// Fixed confidences for the mechanical tiers. Both sit below the model
// acceptance threshold on purpose: they describe how much the plan knows
// about the page, not how likely it is to be accepted.
const (
	heuristicConfidence = 0.4
	genericConfidence   = 0.2
)

// heuristicPlan synthesizes a plan mechanically from the schema, in schema
// order: a fill step per input element without a value, a read step per
// remaining element. Context values are matched to input labels by
// normalized substring in either direction.
func heuristicPlan(req *Request) *types.ActionPlan {
	plan := &types.ActionPlan{Task: req.Intent, Confidence: heuristicConfidence}
	for _, el := range req.Schema.Elements {
		if el.Type == types.ElementInput && valueless(el) {
			step := types.ActionStep{
				Action:      types.ActionFill,
				Target:      el.ID,
				Description: fmt.Sprintf("Fill %s", labelOrID(el)),
			}
			if v, ok := contextValue(req.Context, el.Label); ok {
				vv := v
				step.Value = &vv
			}
			plan.Steps = append(plan.Steps, step)
			continue
		}
		plan.Steps = append(plan.Steps, types.ActionStep{
			Action:      types.ActionRead,
			Target:      el.ID,
			Description: fmt.Sprintf("Read %s", labelOrID(el)),
		})
	}
	return plan
}

// genericPlan is the last-resort tier: a single whole-page read. The
// executor understands the "page" target as the full page text.
func genericPlan(req *Request) *types.ActionPlan {
	return &types.ActionPlan{
		Task:       req.Intent,
		Confidence: genericConfidence,
		Steps: []types.ActionStep{{
			Action:      types.ActionRead,
			Target:      "page",
			Description: "Read the page content",
		}},
	}
}

func valueless(el types.UIElement) bool {
	return el.Value == nil || strings.TrimSpace(*el.Value) == ""
}

func labelOrID(el types.UIElement) string {
	if el.Label != "" {
		return el.Label
	}
	return el.ID
}

// contextValue finds a context value whose key matches the element label.
// Keys are scanned in sorted order so the synthesized plan is
// deterministic regardless of map iteration.
func contextValue(ctx map[string]string, label string) (string, bool) {
	if len(ctx) == 0 || label == "" {
		return "", false
	}
	normLabel := normalizeKey(label)
	for _, k := range sortedKeys(ctx) {
		nk := normalizeKey(k)
		if nk == "" {
			continue
		}
		if strings.Contains(normLabel, nk) || strings.Contains(nk, normLabel) {
			return ctx[k], true
		}
	}
	return "", false
}

// normalizeKey lowercases and treats underscores and hyphens as spaces,
// so the context key "first_name" matches the label "First Name".
func normalizeKey(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.ReplaceAll(s, "-", " ")
	return strings.Join(strings.Fields(s), " ")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
