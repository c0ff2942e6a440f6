// Package fetcher combines the static HTTP client and the optional browser
// renderer into the crawler.PageFetcher used by the engine.
package fetcher

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-mirror/internal/crawler"
)

// Renderer renders a page in a browser and returns a live DOM handle.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (string, crawler.DOMHandle, error)
}

var errEmptyBody = errors.New("empty response body")

// StaticOnly fetches pages over plain HTTP and cannot render.
type StaticOnly struct {
	client crawler.Fetcher
	delay  time.Duration
	logger *zap.Logger
}

// NewStaticOnly returns a PageFetcher that never renders. delay is applied
// after every successful fetch.
func NewStaticOnly(client crawler.Fetcher, delay time.Duration, logger *zap.Logger) *StaticOnly {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StaticOnly{client: client, delay: delay, logger: logger}
}

// FetchStatic returns the response body of a plain GET.
func (f *StaticOnly) FetchStatic(ctx context.Context, rawURL string) (string, error) {
	resp, err := f.client.Fetch(ctx, rawURL)
	if err != nil {
		return "", crawler.NewFetchError(rawURL, crawler.FetchModeStatic, err)
	}
	if len(resp.Body) == 0 {
		return "", crawler.NewFetchError(rawURL, crawler.FetchModeStatic, errEmptyBody)
	}
	f.logger.Debug("Fetched page",
		zap.String("url", rawURL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(resp.Body)),
		zap.Duration("duration", resp.Duration),
	)
	crawler.Pause(ctx, f.delay)
	return string(resp.Body), nil
}

// FetchRendered always fails with crawler.ErrRendererUnavailable.
func (f *StaticOnly) FetchRendered(_ context.Context, rawURL string) (string, crawler.DOMHandle, error) {
	return "", nil, crawler.NewFetchError(rawURL, crawler.FetchModeRendered, crawler.ErrRendererUnavailable)
}

// CanRender reports false.
func (f *StaticOnly) CanRender() bool {
	return false
}

// Rendering adds a browser renderer on top of StaticOnly.
type Rendering struct {
	*StaticOnly
	renderer Renderer
}

// NewRendering returns a PageFetcher that can render through renderer.
func NewRendering(client crawler.Fetcher, renderer Renderer, delay time.Duration, logger *zap.Logger) *Rendering {
	return &Rendering{
		StaticOnly: NewStaticOnly(client, delay, logger),
		renderer:   renderer,
	}
}

// FetchRendered renders the page and returns its DOM handle.
func (f *Rendering) FetchRendered(ctx context.Context, rawURL string) (string, crawler.DOMHandle, error) {
	html, dom, err := f.renderer.Render(ctx, rawURL)
	if err != nil {
		return "", nil, crawler.NewFetchError(rawURL, crawler.FetchModeRendered, err)
	}
	if html == "" {
		if dom != nil {
			_ = dom.Close()
		}
		return "", nil, crawler.NewFetchError(rawURL, crawler.FetchModeRendered, errEmptyBody)
	}
	crawler.Pause(ctx, f.delay)
	return html, dom, nil
}

// CanRender reports true.
func (f *Rendering) CanRender() bool {
	return true
}
