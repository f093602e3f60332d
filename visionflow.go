// =============================================================================
// Package visionflow — One-Line Pipeline Construction
// =============================================================================
// Provides a convenience entry point for building the screenshot automation
// pipeline with minimal boilerplate. Delegates to the stage packages
// (vision, planner, verify, executor, pipeline) internally; the full server
// wiring lives in cmd/visionflow.
//
// Usage:
//
//	import "github.com/BaSui01/visionflow"
//
//	vf, err := visionflow.New(
//	    visionflow.WithVisionService("https://open.bigmodel.cn/api/paas/v4", "glm-4v"),
//	)
//	res, err := vf.Run(ctx, pipeline.RunInput{Image: png, Intent: "click the save button"})
//
// =============================================================================
package visionflow

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/BaSui01/visionflow/cache"
	"github.com/BaSui01/visionflow/executor"
	"github.com/BaSui01/visionflow/inference"
	"github.com/BaSui01/visionflow/ocr"
	"github.com/BaSui01/visionflow/pipeline"
	"github.com/BaSui01/visionflow/planner"
	"github.com/BaSui01/visionflow/providers/openaichat"
	"github.com/BaSui01/visionflow/verify"
	"github.com/BaSui01/visionflow/vision"
)

// Option configures the pipeline created by New.
type Option func(*options)

type options struct {
	visionBaseURL    string
	visionModel      string
	reasoningBaseURL string
	reasoningModel   string
	apiKey           string

	ocrBaseURL string
	keywords   []string
	headless   bool
	startURL   string
	factory    executor.Factory
	logger     *zap.Logger
}

// WithVisionService sets the vision model backend (an OpenAI-compatible chat
// completions endpoint that accepts images). The API key is read from the
// VISIONFLOW_VISION_SERVICE_API_KEY environment variable, the same one the
// config loader uses.
func WithVisionService(baseURL, model string) Option {
	return func(o *options) {
		o.visionBaseURL = baseURL
		o.visionModel = model
		if o.apiKey == "" {
			o.apiKey = os.Getenv("VISIONFLOW_VISION_SERVICE_API_KEY")
		}
	}
}

// WithReasoningService sets a separate text backend for plan generation.
// When omitted, the vision service handles reasoning too.
func WithReasoningService(baseURL, model string) Option {
	return func(o *options) {
		o.reasoningBaseURL = baseURL
		o.reasoningModel = model
	}
}

// WithAPIKey overrides the API key for both services.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithOCR enables the OCR sidecar against the given service.
func WithOCR(baseURL string) Option {
	return func(o *options) { o.ocrBaseURL = baseURL }
}

// WithVerification enables the human verification gate for intents matching
// any of the given keywords. No keywords means the built-in sensitive set.
func WithVerification(keywords ...string) Option {
	return func(o *options) { o.keywords = keywords }
}

// WithHeadless controls whether the browser runs headless. Defaults to true.
func WithHeadless(headless bool) Option {
	return func(o *options) { o.headless = headless }
}

// WithStartURL sets the page the browser opens before the first navigate step.
func WithStartURL(url string) Option {
	return func(o *options) { o.startURL = url }
}

// WithExecutorFactory substitutes the browser factory. Used by tests and by
// callers driving something other than Chrome.
func WithExecutorFactory(f executor.Factory) Option {
	return func(o *options) { o.factory = f }
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New creates a ready-to-run pipeline Orchestrator with in-memory caches and
// run records. At minimum the vision service must be configured via
// WithVisionService.
func New(opts ...Option) (*pipeline.Orchestrator, error) {
	o := &options{headless: true}
	for _, opt := range opts {
		opt(o)
	}

	if o.visionBaseURL == "" || o.visionModel == "" {
		return nil, fmt.Errorf("vision service is required: use WithVisionService")
	}
	if o.apiKey == "" {
		return nil, fmt.Errorf("API key is required: set VISIONFLOW_VISION_SERVICE_API_KEY or use WithAPIKey")
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	// 未单独配置推理服务时，视觉后端同时承担推理
	if o.reasoningBaseURL == "" {
		o.reasoningBaseURL = o.visionBaseURL
		o.reasoningModel = o.visionModel
	}

	visionClient := openaichat.New(openaichat.Config{
		Name:    inference.ServiceVision,
		APIKey:  o.apiKey,
		BaseURL: o.visionBaseURL,
		Model:   o.visionModel,
	}, o.logger)
	reasoningClient := openaichat.New(openaichat.Config{
		Name:    inference.ServiceReasoning,
		APIKey:  o.apiKey,
		BaseURL: o.reasoningBaseURL,
		Model:   o.reasoningModel,
	}, o.logger)
	gateway := inference.NewGateway(visionClient, reasoningClient, nil, o.logger)

	var extractor vision.TextExtractor
	if o.ocrBaseURL != "" {
		extractor = ocr.New(ocr.Config{BaseURL: o.ocrBaseURL}, o.logger)
	}

	visionGroup := cache.NewGroup(cache.NewMemory(512), o.logger)
	planGroup := cache.NewGroup(cache.NewMemory(512), o.logger)

	analyzer := vision.NewAnalyzer(gateway, extractor, visionGroup, nil, o.logger)
	plnr := planner.New(gateway, planGroup, nil, o.logger)

	gateCfg := verify.DefaultConfig()
	if len(o.keywords) > 0 {
		gateCfg.Keywords = o.keywords
	}
	gate := verify.NewGate(nil, nil, &gateCfg, o.logger)

	factory := o.factory
	if factory == nil {
		factory = executor.NewChromeFactory(executor.ChromeConfig{Headless: o.headless}, o.logger)
	}
	exec := executor.New(factory, nil, &executor.Config{StartURL: o.startURL}, o.logger)

	return pipeline.New(analyzer, plnr, gate, exec, pipeline.NewMemoryRunStore(), nil, o.logger), nil
}
