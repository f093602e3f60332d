package verify

import (
	"strings"

	"github.com/BaSui01/visionflow/types"
)

// Predicate decides whether a plan needs human confirmation before it may
// execute. Implementations may inspect the intent, the plan, or both.
type Predicate interface {
	Requires(intent string, plan *types.ActionPlan) bool
}

// defaultKeywords 未配置关键词时的默认触发词
// 中英文都要覆盖，意图是混合语言输入的
var defaultKeywords = []string{
	"submit", "save", "delete", "pay", "confirm",
	"提交", "保存", "删除", "支付",
}

// KeywordPredicate fires when the intent contains any configured keyword.
// Matching is case-insensitive and substring-based. The plan argument is
// not inspected here; it exists for richer custom predicates.
type KeywordPredicate struct {
	keywords []string
}

// NewKeywordPredicate builds a predicate over the given keywords, falling
// back to the default list when none survive trimming.
func NewKeywordPredicate(keywords []string) *KeywordPredicate {
	if len(keywords) == 0 {
		keywords = defaultKeywords
	}
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			lowered = append(lowered, kw)
		}
	}
	if len(lowered) == 0 {
		lowered = append(lowered, defaultKeywords...)
	}
	return &KeywordPredicate{keywords: lowered}
}

// Requires implements Predicate.
func (p *KeywordPredicate) Requires(intent string, _ *types.ActionPlan) bool {
	lowered := strings.ToLower(intent)
	for _, kw := range p.keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}
