package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const (
	launchTimeout  = 30 * time.Second
	viewportWidth  = 1366
	viewportHeight = 768
)

// Chrome drives a headless Chrome process through the DevTools protocol.
// The process is launched on the first NewPage call and lives until Close;
// every page is a separate tab.
type Chrome struct {
	logger   *slog.Logger
	headless bool

	mu          sync.Mutex
	started     bool
	allocCancel context.CancelFunc
	browserCtx  context.Context
}

var _ Browser = (*Chrome)(nil)

// NewChrome prepares a Chrome handle without launching anything yet.
func NewChrome(logger *slog.Logger, headless bool) *Chrome {
	return &Chrome{
		logger:   logger.With(slog.String("component", "browser")),
		headless: headless,
	}
}

// ensureStarted launches the browser process once.
func (c *Chrome) ensureStarted(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.NoSandbox)
	if !c.headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, _ := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		c.logger.Debug(fmt.Sprintf(format, args...))
	}))

	launchCtx, cancel := context.WithTimeout(browserCtx, launchTimeout)
	defer cancel()
	if err := chromedp.Run(launchCtx); err != nil {
		allocCancel()
		return fmt.Errorf("launching browser: %w", err)
	}

	c.allocCancel = allocCancel
	c.browserCtx = browserCtx
	c.started = true
	c.logger.Info("browser process started", slog.Bool("headless", c.headless))
	return nil
}

// NewPage opens a new tab with a fixed viewport.
func (c *Chrome) NewPage(ctx context.Context) (Page, error) {
	if err := c.ensureStarted(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	browserCtx := c.browserCtx
	c.mu.Unlock()

	tabCtx, cancel := chromedp.NewContext(browserCtx)
	p := &chromePage{ctx: tabCtx, cancel: cancel}
	if err := p.run(ctx, chromedp.EmulateViewport(viewportWidth, viewportHeight)); err != nil {
		cancel()
		return nil, fmt.Errorf("opening browsing context: %w", err)
	}
	return p, nil
}

// Close shuts the browser process down gracefully.
func (c *Chrome) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	err := chromedp.Cancel(c.browserCtx)
	c.allocCancel()
	c.started = false
	c.logger.Info("browser process stopped")
	if err != nil {
		return fmt.Errorf("stopping browser: %w", err)
	}
	return nil
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
}

var _ Page = (*chromePage)(nil)

// run executes actions on this tab while honoring the caller's deadline
// and cancellation.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var dcancel context.CancelFunc
		runCtx, dcancel = context.WithDeadline(runCtx, deadline)
		defer dcancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) Fill(ctx context.Context, selector, value string) error {
	return p.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *chromePage) Text(ctx context.Context, selector string) (string, error) {
	var text string
	if err := p.run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return text, nil
}

// visibleScript resolves in-page so a missing element reports not visible
// instead of blocking on a wait.
const visibleScript = `(() => {
	const el = document.querySelector(%q);
	if (!el) return false;
	const style = window.getComputedStyle(el);
	if (style.display === 'none' || style.visibility === 'hidden') return false;
	const rect = el.getBoundingClientRect();
	return rect.width > 0 && rect.height > 0;
})()`

func (p *chromePage) Visible(ctx context.Context, selector string) (bool, error) {
	var visible bool
	if err := p.run(ctx, chromedp.Evaluate(fmt.Sprintf(visibleScript, selector), &visible)); err != nil {
		return false, err
	}
	return visible, nil
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var location string
	if err := p.run(ctx, chromedp.Location(&location)); err != nil {
		return "", err
	}
	return location, nil
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close wipes cookies so nothing leaks into later runs, then drops the tab.
func (p *chromePage) Close(ctx context.Context) error {
	err := p.run(ctx, network.ClearBrowserCookies())
	p.cancel()
	return err
}
