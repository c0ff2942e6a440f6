package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-mirror/internal/crawler"
)

func TestNewChromedpRejectsNegativeParallel(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{MaxParallel: -1}, nil); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
}

func TestWithDefaults(t *testing.T) {
	t.Parallel()

	cfg := withDefaults(Config{})
	if cfg.MaxParallel != 1 || cfg.WaitSelector != DefaultWaitSelector {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.WaitTimeout != defaultWaitTimeout || cfg.Timeout != defaultTimeout || cfg.Settle != defaultSettle {
		t.Fatalf("unexpected timing defaults: %+v", cfg)
	}

	cfg = withDefaults(Config{MaxParallel: 3, WaitSelector: "#app", Settle: -1})
	if cfg.MaxParallel != 3 || cfg.WaitSelector != "#app" || cfg.Settle != 0 {
		t.Fatalf("overrides not kept: %+v", cfg)
	}
}

func TestNilRendererIsUnavailable(t *testing.T) {
	t.Parallel()

	var r *Renderer
	if _, _, err := r.Render(context.Background(), "https://example.com"); !errors.Is(err, crawler.ErrRendererUnavailable) {
		t.Fatalf("expected ErrRendererUnavailable, got %v", err)
	}
	r.Close()
}

func TestResponseMetaKeepsNavigationResponse(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500, URL: "https://example.com/app.js"},
	})
	if meta.status() != 0 {
		t.Fatalf("non-document responses must be ignored, got %d", meta.status())
	}
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404, URL: "https://example.com/missing"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://example.com/frame"},
	})
	if meta.status() != 404 {
		t.Fatalf("expected first document status 404, got %d", meta.status())
	}
}

func TestQueryAttributesScriptEscapes(t *testing.T) {
	t.Parallel()

	script, err := queryAttributesScript(`a[data-x="1"]`, []string{"href", "rel"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(script, `document.querySelectorAll("a[data-x=\"1\"]")`) {
		t.Fatalf("selector not JSON encoded: %s", script)
	}
	if !strings.Contains(script, `const attrs = ["href","rel"];`) {
		t.Fatalf("attributes not JSON encoded: %s", script)
	}
}

func TestDOMHandleCloseReleasesOnce(t *testing.T) {
	t.Parallel()

	tabCtx, cancel := context.WithCancel(context.Background())
	released := 0
	handle := &domHandle{
		tabCtx:       tabCtx,
		cancelTab:    cancel,
		release:      func() { released++ },
		queryTimeout: time.Second,
	}
	if err := handle.Close(); err != nil {
		t.Fatal(err)
	}
	if err := handle.Close(); err != nil {
		t.Fatal(err)
	}
	if released != 1 {
		t.Fatalf("expected slot released once, got %d", released)
	}
	if _, err := handle.QueryAttributes(context.Background(), "a", []string{"href"}); err == nil {
		t.Fatal("expected error querying a closed tab")
	}
}

func TestForwardCancel(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()
	stop := forwardCancel(parent, cancelChild)
	defer stop()

	cancelParent()
	select {
	case <-child.Done():
	case <-time.After(time.Second):
		t.Fatal("parent cancellation was not forwarded")
	}
}

func TestRendererRenderAndQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<!doctype html><html><body>
<div style="background-image:url('/bg.png')">x</div>
<script>
document.body.insertAdjacentHTML('beforeend', '<div id="late"><a href="/next">late content</a><img src="img/logo.png"></div>');
</script></body></html>`)
	}))
	defer srv.Close()

	renderer, err := NewChromedp(Config{
		UserAgent:   "TestAgent",
		Timeout:     10 * time.Second,
		WaitTimeout: 2 * time.Second,
		Settle:      10 * time.Millisecond,
		ScrollPause: 10 * time.Millisecond,
	}, zap.NewNop())
	if err != nil {
		t.Skipf("chromedp unavailable: %v", err)
	}
	defer renderer.Close()

	ctx := context.Background()
	html, dom, err := renderer.Render(ctx, srv.URL)
	if err != nil {
		t.Skipf("render failed: %v", err)
	}
	defer dom.Close()

	if !strings.Contains(html, "late content") {
		t.Fatal("rendered body missing dynamic content")
	}

	links, err := dom.QueryAttributes(ctx, "a", []string{"href"})
	if err != nil {
		t.Fatalf("query links: %v", err)
	}
	if len(links) != 1 || links[0]["href"] != srv.URL+"/next" {
		t.Fatalf("expected resolved href, got %v", links)
	}

	imgs, err := dom.QueryAttributes(ctx, "img", []string{"src", "data-src"})
	if err != nil {
		t.Fatalf("query images: %v", err)
	}
	if len(imgs) != 1 || imgs[0]["src"] != srv.URL+"/img/logo.png" {
		t.Fatalf("expected resolved src, got %v", imgs)
	}
	if _, ok := imgs[0]["data-src"]; ok {
		t.Fatalf("absent attributes must be omitted, got %v", imgs[0])
	}

	backgrounds, err := dom.ComputedBackgrounds(ctx, 100)
	if err != nil {
		t.Fatalf("computed backgrounds: %v", err)
	}
	if len(backgrounds) != 1 || !strings.Contains(backgrounds[0], "/bg.png") {
		t.Fatalf("expected computed background, got %v", backgrounds)
	}

	// The handle holds the only render slot until closed.
	_ = dom.Close()
	if _, _, err := renderer.Render(ctx, srv.URL+"/missing"); err == nil {
		t.Fatal("expected error status to fail the render")
	}
}
