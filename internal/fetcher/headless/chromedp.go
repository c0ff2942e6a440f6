// Package headless renders pages in headless Chrome via chromedp and exposes
// the live DOM for extraction.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-mirror/internal/crawler"
	"github.com/JakeFAU/site-mirror/internal/policy/ratelimit"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultWaitSelector = "body"
	defaultTimeout      = 60 * time.Second
	defaultWaitTimeout  = 15 * time.Second
	defaultSettle       = 2 * time.Second
	defaultScrollPause  = time.Second
	defaultQueryTimeout = 10 * time.Second
)

// Config controls the behavior of the renderer.
type Config struct {
	UserAgent string
	// MaxParallel bounds open tabs; zero means one.
	MaxParallel int
	// Timeout bounds navigation through serialization for one page.
	Timeout time.Duration
	// WaitSelector marks the page as having content.
	WaitSelector string
	// WaitTimeout bounds the wait for WaitSelector; on expiry rendering proceeds.
	WaitTimeout time.Duration
	// Settle is the pause after scrolling that lets lazy content load.
	Settle time.Duration
	// ScrollPause is the pause while scrolled to the bottom.
	ScrollPause time.Duration
	// QueryTimeout bounds each DOM query made through a handle.
	QueryTimeout time.Duration
	// QPS limits renders per host; zero disables it.
	QPS float64
}

// Renderer renders pages in tabs of one shared headless browser.
type Renderer struct {
	cfg           Config
	logger        *zap.Logger
	sem           chan struct{}
	limiter       *ratelimit.Limiter
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	closeOnce     sync.Once
}

// NewChromedp starts the browser and returns a renderer. It fails when Chrome
// cannot be launched.
func NewChromedp(cfg Config, logger *zap.Logger) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	cfg = withDefaults(cfg)
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(1920, 1080),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Renderer{
		cfg:           cfg,
		logger:        logger,
		sem:           make(chan struct{}, cfg.MaxParallel),
		limiter:       ratelimit.New(ratelimit.Config{RPS: cfg.QPS, Burst: 1}),
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.MaxParallel == 0 {
		cfg.MaxParallel = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = DefaultWaitSelector
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = defaultWaitTimeout
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	} else if cfg.Settle == 0 {
		cfg.Settle = defaultSettle
	}
	if cfg.ScrollPause <= 0 {
		cfg.ScrollPause = defaultScrollPause
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}
	return cfg
}

// Close shuts the browser down. Open DOM handles become unusable.
func (r *Renderer) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		r.browserCancel()
		r.allocCancel()
	})
}

// Render loads rawURL in a new tab, waits for content, scrolls to trigger
// lazy loading, and returns the serialized DOM with a handle on the still
// open tab. The handle owns a render slot until it is closed.
func (r *Renderer) Render(ctx context.Context, rawURL string) (string, crawler.DOMHandle, error) {
	if r == nil {
		return "", nil, crawler.ErrRendererUnavailable
	}
	release, err := r.acquireSlot(ctx)
	if err != nil {
		return "", nil, err
	}
	if err := r.limiter.Wait(ctx, rawURL); err != nil {
		release()
		return "", nil, fmt.Errorf("render rate limit: %w", err)
	}

	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	// Create the target outside any deadline so a timeout never tears down the browser.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		release()
		return "", nil, fmt.Errorf("open tab: %w", err)
	}

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	html, err := r.renderTab(ctx, tabCtx, rawURL)
	if err == nil {
		if status := meta.status(); status >= http.StatusBadRequest {
			err = fmt.Errorf("http status %d", status)
		}
	}
	if err != nil {
		cancelTab()
		release()
		return "", nil, err
	}

	handle := &domHandle{
		tabCtx:       tabCtx,
		cancelTab:    cancelTab,
		release:      release,
		queryTimeout: r.cfg.QueryTimeout,
	}
	return html, handle, nil
}

func (r *Renderer) renderTab(ctx, tabCtx context.Context, rawURL string) (string, error) {
	taskCtx, cancelTask := context.WithTimeout(tabCtx, r.cfg.Timeout)
	defer cancelTask()
	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	if err := chromedp.Run(taskCtx, r.networkSetupAction(), chromedp.Navigate(rawURL)); err != nil {
		return "", fmt.Errorf("chromedp navigate: %w", err)
	}

	waitCtx, cancelWait := context.WithTimeout(taskCtx, r.cfg.WaitTimeout)
	err := chromedp.Run(waitCtx, chromedp.WaitReady(r.cfg.WaitSelector, chromedp.ByQuery))
	cancelWait()
	if err != nil {
		if taskCtx.Err() != nil {
			return "", fmt.Errorf("chromedp wait: %w", taskCtx.Err())
		}
		r.logger.Debug("Content marker not found in time; continuing",
			zap.String("url", rawURL),
			zap.String("selector", r.cfg.WaitSelector),
		)
	}

	var (
		scrolled bool
		html     string
	)
	tasks := chromedp.Tasks{
		chromedp.Evaluate(`window.scrollTo(0, document.body ? document.body.scrollHeight : 0); true`, &scrolled),
		chromedp.Sleep(r.cfg.ScrollPause),
		chromedp.Evaluate(`window.scrollTo(0, 0); true`, &scrolled),
		chromedp.Sleep(r.cfg.Settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	if html == "" {
		return "", errors.New("rendered page is empty")
	}
	return html, nil
}

func (r *Renderer) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case r.sem <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-r.sem }) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire render slot: %w", ctx.Err())
	}
}

// forwardCancel cancels the task when parent is done; the returned func stops forwarding.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

type responseMeta struct {
	mu         sync.RWMutex
	statusCode int
	url        string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// The first document response is the navigation; later ones are iframes.
	if m.statusCode != 0 {
		return
	}
	m.statusCode = int(event.Response.Status)
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) status() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusCode
}
