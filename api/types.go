package api

import (
	"github.com/BaSui01/visionflow/types"
)

// =============================================================================
// 流水线运行类型
// =============================================================================

// RunRequest 是 POST /api/v1/pipeline/run 的 JSON 请求体。
// multipart 表单上传走独立的字段约定（见 handlers.PipelineHandler）。
type RunRequest struct {
	// 用户意图，例如 "fill the name field with John"
	Intent string `json:"intent" example:"fill name with John"`
	// Base64 编码的截图（标准编码，非 URL 安全变体）
	ImageBase64 string `json:"image_base64"`
	// 可选的键值上下文；"page_hint" 传给视觉分析，其余喂给计划生成
	Context map[string]string `json:"context,omitempty"`
	// 强制人工确认，无论意图是否命中敏感词
	RequireVerification bool `json:"require_verification,omitempty"`
}

// ResumeRequest 是 POST /api/v1/pipeline/runs/{id}/resume 的 JSON 请求体。
type ResumeRequest struct {
	// "confirm" 或 "cancel"
	Verdict string `json:"verdict" example:"confirm"`
	// 确认前对计划的人工编辑（可选，整体替换）
	EditedPlan *types.ActionPlan `json:"edited_plan,omitempty"`
	// 确认前对 schema 的人工编辑（可选，整体替换）
	EditedSchema *types.UISchema `json:"edited_schema,omitempty"`
	// 执行起始页面地址（可选）
	StartLocation string `json:"start_location,omitempty"`
}

// RunData 是 run/resume/status 响应的 data 字段。
type RunData struct {
	RunID     string                 `json:"run_id"`
	Status    types.Status           `json:"status"`
	Schema    *types.UISchema        `json:"schema,omitempty"`
	Plan      *types.ActionPlan      `json:"plan,omitempty"`
	Execution *types.ExecutionResult `json:"execution,omitempty"`
	Message   string                 `json:"message,omitempty"`
}

// VersionInfo 是 GET /version 的 data 字段。
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}
