package inference

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ImagePart 随消息一起发送的图像附件
type ImagePart struct {
	Data []byte // 原始图像字节
	MIME string // 如 "image/png"
}

// DataURL 返回 base64 data URL 形式的图像内容
func (p ImagePart) DataURL() string {
	mime := p.MIME
	if mime == "" {
		mime = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(p.Data))
}

type Message struct {
	Role    Role
	Content string
	Images  []ImagePart
}

type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature float32
	MaxTokens   int
	JSONMode    bool // 要求服务端返回 JSON 对象
}

type ChatUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResponse chat completion 响应（仅保留首个 choice）
type ChatResponse struct {
	ID           string
	Model        string
	Content      string
	FinishReason string
	Usage        ChatUsage
}

type HealthStatus struct {
	Healthy bool
	Latency time.Duration
}

// Client 单个推理服务的 chat completion 后端
type Client interface {
	// Name 返回后端名称（用于日志与错误归属）
	Name() string

	// Complete 执行一次 chat completion 调用
	Complete(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// HealthCheck 探测后端可用性
	HealthCheck(ctx context.Context) (*HealthStatus, error)
}
