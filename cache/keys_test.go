package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/visionflow/types"
)

func TestVisionKey(t *testing.T) {
	img1 := []byte("image-bytes-1")
	img2 := []byte("image-bytes-2")

	assert.Equal(t, VisionKey(img1), VisionKey(img1), "same image, same key")
	assert.NotEqual(t, VisionKey(img1), VisionKey(img2))
	assert.True(t, strings.HasPrefix(VisionKey(img1), "vision:"))
}

func TestNormalizeIntent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Fill Name With John", "fill name with john"},
		{"  fill   name\twith  john ", "fill name with john"},
		{"查询 患者 信息", "查询 患者 信息"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeIntent(tt.in))
	}
}

func TestPlanKey(t *testing.T) {
	schema := &types.UISchema{
		PageType: "form",
		Elements: []types.UIElement{
			{ID: "f1", Type: types.ElementInput, Label: "Name"},
		},
	}

	k1 := PlanKey(schema, "fill name with John", nil)
	assert.True(t, strings.HasPrefix(k1, "plan:"))

	// Whitespace and case variants of the intent share the key.
	assert.Equal(t, k1, PlanKey(schema, "  Fill  NAME with john ", nil))

	// nil and empty context share the key.
	assert.Equal(t, k1, PlanKey(schema, "fill name with John", map[string]string{}))

	// Different intent, schema or context each change the key.
	assert.NotEqual(t, k1, PlanKey(schema, "read everything", nil))

	other := &types.UISchema{PageType: "form", Elements: []types.UIElement{
		{ID: "f2", Type: types.ElementInput, Label: "Email"},
	}}
	assert.NotEqual(t, k1, PlanKey(other, "fill name with John", nil))

	assert.NotEqual(t, k1, PlanKey(schema, "fill name with John", map[string]string{"name": "John"}))
}
