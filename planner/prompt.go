package planner

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/BaSui01/visionflow/types"
)

// tokenCounter counts prompt tokens with tiktoken, falling back to a
// character-based estimate when the encoding is unavailable (the BPE data
// may need a download on first use).
type tokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

func newTokenCounter() *tokenCounter { return &tokenCounter{} }

func (c *tokenCounter) count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil))
	}
	return estimateTokens(text)
}

// estimateTokens approximates the token count without an encoding: CJK
// runs about 1.5 characters per token, everything else about 4.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	var cjk, other int
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FA5 {
			cjk++
		} else {
			other++
		}
	}
	n := int(float64(cjk)/1.5 + float64(other)/4.0)
	if n < 1 {
		n = 1
	}
	return n
}

// truncateToTokens returns the longest prefix of text that fits the
// budget, found by binary search over rune boundaries.
func truncateToTokens(text string, budget int, count func(string) int) string {
	if budget <= 0 {
		return ""
	}
	if count(text) <= budget {
		return text
	}
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if count(string(runes[:mid])) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}

const planPromptHeader = `You are a UI automation planner. Create a step-by-step action plan for the user intent on the page described below.`

const planPromptFormat = `Output as JSON:
{
  "task": "restate the intent",
  "confidence": 0.9,
  "steps": [
    {"step": 1, "action": "fill|click|select|read|navigate|wait", "target": "element id or URL", "value": "text to enter or null", "description": "what this step does"}
  ]
}

Rules:
- target is an element id from the list above, or a URL for navigate steps.
- Keep the plan focused and achievable (max %d steps).
Only return valid JSON, no markdown.`

// buildPrompt assembles the reasoning prompt. The fixed sections are
// never cut; the element list and OCR text split what is left of the
// token budget, elements taking up to two thirds.
func (p *Planner) buildPrompt(req *Request) string {
	intro := fmt.Sprintf("%s\n\nPage type: %s", planPromptHeader, req.Schema.PageType)
	if req.Schema.URLHint != "" {
		intro += fmt.Sprintf("\nPage URL: %s", req.Schema.URLHint)
	}
	if len(req.Context) > 0 {
		var b strings.Builder
		b.WriteString("\n\nKnown values:")
		for _, k := range sortedKeys(req.Context) {
			fmt.Fprintf(&b, "\n- %s: %s", k, req.Context[k])
		}
		intro += b.String()
	}
	tail := fmt.Sprintf("\n\nUser intent: %s\n\n%s",
		req.Intent, fmt.Sprintf(planPromptFormat, p.cfg.MaxSteps))

	remaining := p.cfg.PromptTokenBudget - p.counter.count(intro) - p.counter.count(tail)
	if remaining < 0 {
		remaining = 0
	}
	elements := truncateToTokens(renderElements(req.Schema), remaining*2/3, p.counter.count)
	ocrText := truncateToTokens(req.OCRText, remaining-p.counter.count(elements), p.counter.count)

	var sb strings.Builder
	sb.WriteString(intro)
	if elements != "" {
		sb.WriteString("\n\nInterface elements:\n")
		sb.WriteString(elements)
	}
	if ocrText != "" {
		sb.WriteString("\n\nText on the page:\n")
		sb.WriteString(ocrText)
	}
	sb.WriteString(tail)
	return sb.String()
}

// renderElements lists schema elements one per line, the way the model is
// expected to reference them.
func renderElements(schema *types.UISchema) string {
	lines := make([]string, 0, len(schema.Elements))
	for _, el := range schema.Elements {
		line := fmt.Sprintf("- %s %s", el.ID, el.Type)
		if el.Label != "" {
			line += fmt.Sprintf(" %q", el.Label)
		}
		if el.Value != nil && *el.Value != "" {
			line += fmt.Sprintf(" (value: %q)", *el.Value)
		} else if el.Type == types.ElementInput {
			line += " (empty)"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
