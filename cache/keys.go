package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/visionflow/types"
)

// VisionKey returns the content-addressed key for a vision analysis:
// same image bytes, same key.
func VisionKey(image []byte) string {
	sum := sha256.Sum256(image)
	return "vision:" + hex.EncodeToString(sum[:16])
}

// NormalizeIntent lowercases and collapses whitespace so trivially
// different phrasings of the same intent share a plan key.
func NormalizeIntent(intent string) string {
	return strings.Join(strings.Fields(strings.ToLower(intent)), " ")
}

// PlanKey keys a plan by schema content, normalized intent and context.
// json.Marshal sorts map keys, so the encoding is canonical.
func PlanKey(schema *types.UISchema, intent string, context map[string]string) string {
	payload, err := json.Marshal(struct {
		Schema  *types.UISchema   `json:"schema"`
		Intent  string            `json:"intent"`
		Context map[string]string `json:"context,omitempty"`
	}{
		Schema:  schema,
		Intent:  NormalizeIntent(intent),
		Context: context,
	})
	if err != nil {
		// fallback: deterministic string to avoid key collisions
		payload = []byte(fmt.Sprintf("%v|%s|%v", schema, intent, context))
	}
	sum := sha256.Sum256(payload)
	return "plan:" + hex.EncodeToString(sum[:16])
}
