package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/visionflow/cache"
	"github.com/BaSui01/visionflow/inference"
	"github.com/BaSui01/visionflow/ocr"
	"github.com/BaSui01/visionflow/types"
)

// Config 视觉分析配置，由 config.VisionConfig 映射而来
type Config struct {
	// 提示词中要求模型识别的最小元素数量
	MinElements int
	// 质量门槛参数
	MinWidth      int
	MinHeight     int
	MinBrightness float64
	MaxBrightness float64
	MinSharpness  float64
	// 分析结果缓存 TTL（仅在注入缓存组时生效）
	CacheTTL time.Duration
}

// DefaultConfig 返回适合常规截图的默认配置
func DefaultConfig() Config {
	return Config{
		MinElements:   3,
		MinWidth:      64,
		MinHeight:     64,
		MinBrightness: 20,
		MaxBrightness: 235,
		MinSharpness:  15,
		CacheTTL:      24 * time.Hour,
	}
}

// InferenceClient 由 inference.Gateway 满足，这里只依赖视觉调用能力
type InferenceClient interface {
	InvokeVision(ctx context.Context, req *inference.ChatRequest) (*inference.ChatResponse, error)
}

// TextExtractor 由 ocr.Client 满足
type TextExtractor interface {
	Extract(ctx context.Context, image []byte) (*ocr.Result, error)
}

// Analyzer 将截图转换为结构化的 UISchema。
// 本地质量门槛不通过的图像不会触发任何推理调用；
// OCR 为旁路增强，失败只记日志不中断流程。
type Analyzer struct {
	gateway InferenceClient
	ocr     TextExtractor
	group   *cache.Group
	cfg     Config
	logger  *zap.Logger
}

// NewAnalyzer 创建视觉分析器。extractor 与 group 均可为 nil，
// 分别表示关闭 OCR 旁路与关闭结果缓存。
func NewAnalyzer(gateway InferenceClient, extractor TextExtractor, group *cache.Group, cfg *Config, logger *zap.Logger) *Analyzer {
	c := DefaultConfig()
	if cfg != nil {
		c = *cfg
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		gateway: gateway,
		ocr:     extractor,
		group:   group,
		cfg:     c,
		logger:  logger.With(zap.String("component", "vision_analyzer")),
	}
}

// Analyze 分析截图并返回页面结构。
// 推理调用在重试与熔断之后仍然失败时降级为空 schema（page_type=unknown），
// 只有质量门槛与输入校验会返回错误。
func (a *Analyzer) Analyze(ctx context.Context, image []byte, hint string) (*types.UISchema, error) {
	if len(image) == 0 {
		return nil, types.NewInvalidInput("image payload is empty")
	}

	report, err := CheckQuality(image, a.cfg)
	if err != nil {
		a.logger.Warn("image rejected by quality gate", zap.Error(err))
		return nil, err
	}
	a.logger.Debug("quality gate passed",
		zap.Int("width", report.Width),
		zap.Int("height", report.Height),
		zap.Float64("brightness", report.Brightness),
		zap.Float64("sharpness", report.Sharpness))

	var (
		schema    *types.UISchema
		fromCache bool
	)
	if a.group != nil {
		schema, fromCache, err = cache.GetOrComputeJSON(ctx, a.group, cache.VisionKey(image), a.cfg.CacheTTL,
			func(ctx context.Context) (*types.UISchema, error) {
				return a.analyze(ctx, image, hint)
			})
	} else {
		schema, err = a.analyze(ctx, image, hint)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		// 降级结果不写缓存，服务恢复后下一次分析会重新调用模型
		a.logger.Warn("vision analysis failed after retries, degrading to empty schema",
			zap.Error(err))
		return emptySchema(), nil
	}

	a.logger.Debug("vision analysis complete",
		zap.Int("elements", len(schema.Elements)),
		zap.String("page_type", schema.PageType),
		zap.Bool("cached", fromCache))
	return schema, nil
}

func (a *Analyzer) analyze(ctx context.Context, image []byte, hint string) (*types.UISchema, error) {
	ocrText := a.extractText(ctx, image)

	resp, err := a.gateway.InvokeVision(ctx, a.buildRequest(image, hint, ocrText))
	if err != nil {
		return nil, err
	}
	return a.parseSchema(resp.Content), nil
}

func (a *Analyzer) extractText(ctx context.Context, image []byte) string {
	if a.ocr == nil {
		return ""
	}
	res, err := a.ocr.Extract(ctx, image)
	if err != nil {
		a.logger.Warn("ocr extraction failed, continuing without text", zap.Error(err))
		return ""
	}
	a.logger.Debug("ocr text extracted",
		zap.Int("chars", len(res.Text)),
		zap.Float64("confidence", res.Confidence))
	return res.Text
}

const schemaPrompt = `Analyze this interface screenshot and return a JSON object:
{
  "page_type": "login|search|form|article|dashboard|other",
  "url_hint": "probable page URL or empty string",
  "elements": [{"id": "elem_1", "type": "text|input|button|select|image|label", "label": "visible label", "value": "current value or null", "position": {"x": 0, "y": 0, "width": 0, "height": 0}, "confidence": 0.9}]
}`

func (a *Analyzer) buildRequest(image []byte, hint, ocrText string) *inference.ChatRequest {
	var sb strings.Builder
	sb.WriteString(schemaPrompt)
	if hint != "" {
		fmt.Fprintf(&sb, "\n\nPage hint from the caller: %s", hint)
	}
	if ocrText != "" {
		fmt.Fprintf(&sb, "\n\nText extracted from the page by OCR:\n%s", ocrText)
	}
	fmt.Fprintf(&sb, "\n\nIdentify at least %d elements when the page has that many.", a.cfg.MinElements)
	sb.WriteString("\nOnly return valid JSON, no markdown.")

	return &inference.ChatRequest{
		Messages: []inference.Message{{
			Role:    inference.RoleUser,
			Content: sb.String(),
			Images: []inference.ImagePart{{
				Data: image,
				MIME: http.DetectContentType(image),
			}},
		}},
		JSONMode: true,
	}
}

type rawElement struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Label      string     `json:"label"`
	Value      *string    `json:"value"`
	Position   *types.Box `json:"position"`
	Confidence *float64   `json:"confidence"`
}

// parseSchema 容错解析模型输出：缺失字段给默认值、置信度截断到 [0,1]、
// 元素 ID 去重，单个元素解析失败只跳过该元素
func (a *Analyzer) parseSchema(content string) *types.UISchema {
	var raw struct {
		PageType string            `json:"page_type"`
		URLHint  string            `json:"url_hint"`
		Elements []json.RawMessage `json:"elements"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(content)), &raw); err != nil {
		a.logger.Warn("failed to parse vision response as JSON, using empty schema",
			zap.Error(err))
		return emptySchema()
	}

	schema := &types.UISchema{
		PageType: raw.PageType,
		URLHint:  raw.URLHint,
		Elements: make([]types.UIElement, 0, len(raw.Elements)),
	}
	if schema.PageType == "" {
		schema.PageType = "unknown"
	}

	seen := make(map[string]bool, len(raw.Elements))
	for i, data := range raw.Elements {
		var el rawElement
		if err := json.Unmarshal(data, &el); err != nil {
			a.logger.Warn("skipping malformed element in vision response",
				zap.Int("index", i), zap.Error(err))
			continue
		}

		id := el.ID
		if id == "" {
			id = fmt.Sprintf("elem_%d", i+1)
		}
		base := id
		for n := 2; seen[id]; n++ {
			id = fmt.Sprintf("%s_%d", base, n)
		}
		seen[id] = true

		confidence := 0.5
		if el.Confidence != nil {
			confidence = *el.Confidence
			if confidence < 0 {
				confidence = 0
			}
			if confidence > 1 {
				confidence = 1
			}
		}

		schema.Elements = append(schema.Elements, types.UIElement{
			ID:         id,
			Type:       types.NormalizeElementType(el.Type),
			Label:      el.Label,
			Value:      el.Value,
			Position:   el.Position,
			Confidence: confidence,
		})
	}
	return schema
}

// extractJSONObject 截取响应中最外层的 JSON 对象，容忍 markdown 代码块包裹
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func emptySchema() *types.UISchema {
	return &types.UISchema{PageType: "unknown", Elements: []types.UIElement{}}
}
