package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/visionflow/api"
	"github.com/BaSui01/visionflow/pipeline"
	"github.com/BaSui01/visionflow/types"
	"github.com/BaSui01/visionflow/verify"
)

// =============================================================================
// 🚀 流水线接口 Handler
// =============================================================================

// PipelineService 由 pipeline.Orchestrator 满足
type PipelineService interface {
	Run(ctx context.Context, in pipeline.RunInput) (*pipeline.RunResult, error)
	Resume(ctx context.Context, in pipeline.ResumeInput) (*pipeline.RunResult, error)
	Status(ctx context.Context, runID string) (*pipeline.RunResult, error)
}

// PipelineHandler 流水线接口处理器
type PipelineHandler struct {
	svc          PipelineService
	maxBodyBytes int64
	logger       *zap.Logger
}

// DefaultMaxBodyBytes 默认请求体上限（截图 + 表单余量）
const DefaultMaxBodyBytes = 16 << 20 // 16 MB

// NewPipelineHandler 创建流水线处理器
func NewPipelineHandler(svc PipelineService, maxBodyBytes int64, logger *zap.Logger) *PipelineHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PipelineHandler{
		svc:          svc,
		maxBodyBytes: maxBodyBytes,
		logger:       logger.With(zap.String("component", "pipeline_handler")),
	}
}

// HandleRun 处理新的流水线请求
// @Summary 运行流水线
// @Description 上传截图和意图，运行 Vision→Plan→Execute 流水线
// @Tags 流水线
// @Accept json
// @Accept multipart/form-data
// @Produce json
// @Param request body api.RunRequest true "运行请求（JSON 模式）"
// @Success 200 {object} Response "终态运行结果"
// @Success 202 {object} Response "运行暂停，等待人工确认"
// @Failure 400 {object} Response "无效请求"
// @Failure 422 {object} Response "图片质量不合格"
// @Security ApiKeyAuth
// @Router /api/v1/pipeline/run [post]
func (h *PipelineHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	in, ok := h.decodeRunInput(w, r)
	if !ok {
		return
	}

	res, err := h.svc.Run(r.Context(), in)
	if err != nil {
		WriteAnyError(w, r, err, h.logger)
		return
	}

	h.writeRunResult(w, r, res)
}

// HandleResume 处理确认门裁决请求
// @Summary 恢复暂停的运行
// @Description 确认或取消一个等待人工确认的运行，确认时可附带编辑后的计划
// @Tags 流水线
// @Accept json
// @Produce json
// @Param id path string true "运行 ID"
// @Param request body api.ResumeRequest true "裁决请求"
// @Success 200 {object} Response "终态运行结果"
// @Failure 400 {object} Response "无效裁决或编辑"
// @Failure 404 {object} Response "运行不存在"
// @Security ApiKeyAuth
// @Router /api/v1/pipeline/runs/{id}/resume [post]
func (h *PipelineHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	// 裁决体只含裁决和可选的编辑，1 MB 足够
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req api.ResumeRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	res, err := h.svc.Resume(r.Context(), pipeline.ResumeInput{
		RunID:         runID,
		Verdict:       verify.Verdict(req.Verdict),
		EditedPlan:    req.EditedPlan,
		EditedSchema:  req.EditedSchema,
		StartLocation: req.StartLocation,
	})
	if err != nil {
		WriteAnyError(w, r, err, h.logger)
		return
	}

	h.writeRunResult(w, r, res)
}

// HandleGetRun 查询运行记录
// @Summary 查询运行
// @Description 返回一次运行的存档记录，暂停中的运行返回当前待确认状态
// @Tags 流水线
// @Produce json
// @Param id path string true "运行 ID"
// @Success 200 {object} Response "运行记录"
// @Failure 404 {object} Response "运行不存在"
// @Security ApiKeyAuth
// @Router /api/v1/pipeline/runs/{id} [get]
func (h *PipelineHandler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	res, err := h.svc.Status(r.Context(), runID)
	if err != nil {
		WriteAnyError(w, r, err, h.logger)
		return
	}

	WriteSuccess(w, r, runDataFrom(res))
}

// =============================================================================
// 🔧 请求解码
// =============================================================================

// decodeRunInput 按 Content-Type 分发：multipart 表单或 JSON+base64。
func (h *PipelineHandler) decodeRunInput(w http.ResponseWriter, r *http.Request) (pipeline.RunInput, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "multipart/form-data":
		return h.decodeMultipartRun(w, r)
	case "application/json":
		return h.decodeJSONRun(w, r)
	default:
		WriteErrorMessage(w, r, http.StatusUnsupportedMediaType, types.ErrInvalidRequest,
			"Content-Type must be application/json or multipart/form-data", h.logger)
		return pipeline.RunInput{}, false
	}
}

// decodeJSONRun 解码 JSON 请求体，截图为标准 base64。
func (h *PipelineHandler) decodeJSONRun(w http.ResponseWriter, r *http.Request) (pipeline.RunInput, bool) {
	var req api.RunRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return pipeline.RunInput{}, false
	}

	image, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		WriteError(w, r, types.NewInvalidInput("image_base64 is not valid base64").WithCause(err), h.logger)
		return pipeline.RunInput{}, false
	}

	return pipeline.RunInput{
		Image:               image,
		Intent:              req.Intent,
		Context:             req.Context,
		RequireVerification: req.RequireVerification,
	}, true
}

// decodeMultipartRun 解码 multipart 表单：文件字段 "image"，文本字段
// "intent" 与 "require_verification"，其余文本字段进入运行上下文。
func (h *PipelineHandler) decodeMultipartRun(w http.ResponseWriter, r *http.Request) (pipeline.RunInput, bool) {
	if err := r.ParseMultipartForm(h.maxBodyBytes); err != nil {
		h.writeBodyError(w, r, err)
		return pipeline.RunInput{}, false
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		WriteError(w, r, types.NewInvalidInput(`multipart form needs a file field named "image"`).WithCause(err), h.logger)
		return pipeline.RunInput{}, false
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		h.writeBodyError(w, r, err)
		return pipeline.RunInput{}, false
	}

	in := pipeline.RunInput{
		Image:  image,
		Intent: r.FormValue("intent"),
	}
	if v := r.FormValue("require_verification"); v != "" {
		in.RequireVerification, _ = strconv.ParseBool(v)
	}

	for key, values := range r.MultipartForm.Value {
		if key == "intent" || key == "require_verification" || len(values) == 0 {
			continue
		}
		if in.Context == nil {
			in.Context = make(map[string]string)
		}
		in.Context[key] = values[0]
	}

	return in, true
}

// writeBodyError 区分请求体超限和其他读取失败。
func (h *PipelineHandler) writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
		WriteError(w, r, types.NewInvalidInput("request body exceeds the upload limit").
			WithHTTPStatus(http.StatusRequestEntityTooLarge).WithCause(err), h.logger)
		return
	}
	WriteError(w, r, types.NewInvalidInput("malformed request body").WithCause(err), h.logger)
}

// =============================================================================
// 🔄 响应构造
// =============================================================================

// writeRunResult 写运行结果；等待确认的运行返回 202。
func (h *PipelineHandler) writeRunResult(w http.ResponseWriter, r *http.Request, res *pipeline.RunResult) {
	status := http.StatusOK
	if res.Status == types.StatusVerificationRequired {
		status = http.StatusAccepted
	}
	WriteSuccessStatus(w, r, status, runDataFrom(res))
}

func runDataFrom(res *pipeline.RunResult) *api.RunData {
	return &api.RunData{
		RunID:     res.RunID,
		Status:    res.Status,
		Schema:    res.Schema,
		Plan:      res.Plan,
		Execution: res.Execution,
		Message:   res.Message,
	}
}
