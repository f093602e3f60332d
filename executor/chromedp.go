package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/BaSui01/visionflow/types"
)

// ChromeConfig 控制浏览器会话的启动参数。
type ChromeConfig struct {
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	UserAgent      string
	ProxyURL       string
}

// ChromeFactory opens one headless Chrome session per run.
type ChromeFactory struct {
	cfg    ChromeConfig
	logger *zap.Logger
}

// NewChromeFactory creates a factory with sane viewport defaults.
func NewChromeFactory(cfg ChromeConfig, logger *zap.Logger) *ChromeFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = 1920
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = 1080
	}
	return &ChromeFactory{cfg: cfg, logger: logger}
}

// Open starts the browser and verifies it came up. The returned driver owns
// the session; Close releases both the tab and the allocator.
func (f *ChromeFactory) Open(ctx context.Context) (Driver, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", f.cfg.Headless),
		chromedp.WindowSize(f.cfg.ViewportWidth, f.cfg.ViewportHeight),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if f.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(f.cfg.UserAgent))
	}
	if f.cfg.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(f.cfg.ProxyURL))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			f.logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	// 先跑一次空任务，确认浏览器真的起来了
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	f.logger.Info("browser session started",
		zap.Bool("headless", f.cfg.Headless),
		zap.Int("viewport_w", f.cfg.ViewportWidth),
		zap.Int("viewport_h", f.cfg.ViewportHeight))

	return &chromeDriver{
		allocCancel: allocCancel,
		ctx:         browserCtx,
		cancel:      browserCancel,
		logger:      f.logger.With(zap.String("component", "chrome_driver")),
	}, nil
}

// chromeDriver 在单个 chromedp 会话上实现 Driver。
type chromeDriver struct {
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	logger      *zap.Logger
	mu          sync.Mutex
}

// run executes actions on the session context while honoring the caller's
// deadline.
func (d *chromeDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	runCtx := d.ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(d.ctx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

func (d *chromeDriver) Navigate(ctx context.Context, url string) error {
	d.logger.Debug("navigating", zap.String("url", url))
	return d.run(ctx, chromedp.Navigate(url))
}

func (d *chromeDriver) Click(ctx context.Context, target Target) error {
	if target.Point != nil {
		x, y := center(target.Point)
		d.logger.Debug("clicking", zap.String("element", target.ElementID), zap.Int("x", x), zap.Int("y", y))
		return d.run(ctx,
			chromedp.ActionFunc(func(ctx context.Context) error {
				return input.DispatchMouseEvent(
					input.MousePressed,
					float64(x), float64(y),
				).WithButton(input.Left).WithClickCount(1).Do(ctx)
			}),
			chromedp.ActionFunc(func(ctx context.Context) error {
				return input.DispatchMouseEvent(
					input.MouseReleased,
					float64(x), float64(y),
				).WithButton(input.Left).WithClickCount(1).Do(ctx)
			}),
		)
	}

	sel, err := clickQuery(target)
	if err != nil {
		return err
	}
	d.logger.Debug("clicking", zap.String("element", target.ElementID), zap.String("query", sel))
	return d.run(ctx, chromedp.Click(sel, chromedp.BySearch))
}

func (d *chromeDriver) Fill(ctx context.Context, target Target, value string) error {
	if target.Point != nil {
		// 点击聚焦后逐字符输入
		if err := d.Click(ctx, target); err != nil {
			return err
		}
		return d.run(ctx, typeText(value))
	}

	sel, err := inputQuery(target)
	if err != nil {
		return err
	}
	d.logger.Debug("filling", zap.String("element", target.ElementID), zap.String("query", sel))
	return d.run(ctx,
		chromedp.Clear(sel, chromedp.BySearch),
		chromedp.SendKeys(sel, value, chromedp.BySearch),
	)
}

func (d *chromeDriver) Select(ctx context.Context, target Target, value string) error {
	if target.Point == nil {
		sel, err := selectQuery(target)
		if err != nil {
			return err
		}
		return d.run(ctx, chromedp.SetValue(sel, value, chromedp.BySearch))
	}
	// 坐标路径：点击展开，输入选项文本，回车确认
	if err := d.Click(ctx, target); err != nil {
		return err
	}
	return d.run(ctx, typeText(value), chromedp.KeyEvent("\r"))
}

func (d *chromeDriver) ReadText(ctx context.Context, target Target) (string, error) {
	label := strings.TrimSpace(target.Label)
	if label == "" {
		// 没有标签没法定位单个元素，退回整页文本
		return d.PageText(ctx)
	}
	q := xpathQuote(label)
	sel := fmt.Sprintf(`//*[contains(normalize-space(.), %s)][not(.//*[contains(normalize-space(.), %s)])]`, q, q)

	var text string
	if err := d.run(ctx, chromedp.Text(sel, &text, chromedp.BySearch)); err != nil {
		return "", fmt.Errorf("failed to read element %s: %w", target.ElementID, err)
	}
	return text, nil
}

func (d *chromeDriver) PageText(ctx context.Context) (string, error) {
	var text string
	if err := d.run(ctx, chromedp.Text("body", &text, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page text: %w", err)
	}
	return text, nil
}

func (d *chromeDriver) WaitVisible(ctx context.Context, target Target) error {
	if target.Point != nil {
		// 截图里已有坐标，说明元素可见
		return nil
	}
	label := strings.TrimSpace(target.Label)
	if label == "" {
		return fmt.Errorf("element %s has neither position nor label", target.ElementID)
	}
	sel := fmt.Sprintf(`//*[contains(normalize-space(.), %s)]`, xpathQuote(label))
	return d.run(ctx, chromedp.WaitVisible(sel, chromedp.BySearch))
}

func (d *chromeDriver) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := d.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to get URL: %w", err)
	}
	return url, nil
}

func (d *chromeDriver) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

func (d *chromeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Info("closing browser session")
	d.cancel()
	d.allocCancel()
	return nil
}

// typeText dispatches one key event per character into the focused element.
func typeText(text string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, ch := range text {
			if err := input.DispatchKeyEvent(input.KeyChar).
				WithText(string(ch)).Do(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func center(box *types.Box) (x, y int) {
	return box.X + box.Width/2, box.Y + box.Height/2
}

// clickQuery locates a clickable element by its visible text.
func clickQuery(target Target) (string, error) {
	label := strings.TrimSpace(target.Label)
	if label == "" {
		return "", fmt.Errorf("element %s has neither position nor label", target.ElementID)
	}
	q := xpathQuote(label)
	return fmt.Sprintf(
		`//button[contains(normalize-space(.), %s)] | //a[contains(normalize-space(.), %s)] | //input[(@type="submit" or @type="button") and contains(@value, %s)]`,
		q, q, q), nil
}

// inputQuery locates a text input by placeholder, accessible name or an
// adjacent label.
func inputQuery(target Target) (string, error) {
	label := strings.TrimSpace(target.Label)
	if label == "" {
		return "", fmt.Errorf("element %s has neither position nor label", target.ElementID)
	}
	q := xpathQuote(label)
	return fmt.Sprintf(
		`//input[@placeholder=%s or @aria-label=%s or @name=%s] | //label[contains(normalize-space(.), %s)]/following::input[1] | //textarea[@placeholder=%s or @aria-label=%s]`,
		q, q, q, q, q, q), nil
}

func selectQuery(target Target) (string, error) {
	label := strings.TrimSpace(target.Label)
	if label == "" {
		return "", fmt.Errorf("element %s has neither position nor label", target.ElementID)
	}
	q := xpathQuote(label)
	return fmt.Sprintf(
		`//select[@name=%s or @aria-label=%s] | //label[contains(normalize-space(.), %s)]/following::select[1]`,
		q, q, q), nil
}

// xpathQuote embeds a string literal into an XPath expression. XPath 1.0
// has no escape syntax, so strings holding both quote kinds need concat().
func xpathQuote(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	for i, p := range parts {
		parts[i] = `"` + p + `"`
	}
	return "concat(" + strings.Join(parts, `, '"', `) + ")"
}
