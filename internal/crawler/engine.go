package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-mirror/internal/metrics"
)

// Phase is the engine lifecycle state.
type Phase int32

// Engine phases. Transitions only move forward.
const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseDraining
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseDraining:
		return "draining"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Config holds the settings for a crawl session.
// This struct is decoupled from Viper, making the engine easy to test independently.
type Config struct {
	BaseURL  string
	MaxPages int
	Workers  int
	Mode     FetchMode
}

// Engine drives a single crawl from the base URL until the frontier is
// exhausted, the page budget is spent, or the context is cancelled.
type Engine struct {
	cfg        Config
	baseDomain string
	siteURL    string
	fetcher    PageFetcher
	extractor  Extractor
	assets     AssetStore
	pages      PageStore
	sink       SummarySink
	detector   Detector
	logger     *zap.Logger
	now        func() time.Time

	state *CrawlState
	phase atomic.Int32

	mu      sync.Mutex
	records []PageRecord
}

// NewEngine wires the engine dependencies. detector may be nil.
func NewEngine(
	cfg Config,
	fetcher PageFetcher,
	extractor Extractor,
	assets AssetStore,
	pages PageStore,
	sink SummarySink,
	detector Detector,
	logger *zap.Logger,
) (*Engine, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Host == "" {
		return nil, &ConfigError{Field: "url", Reason: fmt.Sprintf("invalid base url %q", cfg.BaseURL)}
	}
	if fetcher == nil || extractor == nil || assets == nil || pages == nil || sink == nil {
		return nil, errors.New("engine requires fetcher, extractor, asset store, page store and sink")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Mode == "" {
		cfg.Mode = FetchModeStatic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:        cfg,
		baseDomain: base.Host,
		siteURL:    strings.TrimRight(cfg.BaseURL, "/"),
		fetcher:    fetcher,
		extractor:  extractor,
		assets:     assets,
		pages:      pages,
		sink:       sink,
		detector:   detector,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		state:      NewCrawlState(),
	}, nil
}

// State exposes the crawl bookkeeping.
func (e *Engine) State() *CrawlState {
	return e.state
}

// Phase returns the current lifecycle phase.
func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

// Run crawls the site and always flushes the summary once before returning.
// A cancelled context yields the context error after the flush; a panic in a
// page handler is returned as an error after the flush.
func (e *Engine) Run(ctx context.Context) (err error) {
	if !e.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseRunning)) {
		return ErrEngineStarted
	}
	e.logger.Info("Starting crawl",
		zap.String("url", e.cfg.BaseURL),
		zap.String("mode", string(e.cfg.Mode)),
		zap.Int("max_pages", e.cfg.MaxPages),
		zap.Int("workers", e.cfg.Workers),
	)
	e.state.Enqueue(NormalizeURL(e.cfg.BaseURL))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("crawl aborted: %v", r)
		}
		e.phase.Store(int32(PhaseDraining))
		if flushErr := e.flush(ctx); flushErr != nil {
			err = errors.Join(err, flushErr)
		}
		e.phase.Store(int32(PhaseDone))
	}()

	if err := e.crawl(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			e.logger.Warn("Crawl interrupted; saving progress", zap.Error(err))
		} else {
			e.logger.Error("Crawl stopped", zap.Error(err))
		}
		return err
	}
	e.logger.Info("Scraping complete",
		zap.Int("pages", e.state.VisitedCount()),
		zap.Int("failed", len(e.state.Failed())),
		zap.Int("assets", e.state.AssetCount()),
	)
	return nil
}

func (e *Engine) crawl(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	wake := make(chan struct{}, 1)

loop:
	for gctx.Err() == nil {
		next, status := e.state.Claim(e.cfg.MaxPages)
		switch status {
		case ClaimDone:
			break loop
		case ClaimWait:
			select {
			case <-wake:
			case <-gctx.Done():
			}
			continue
		}
		g.Go(func() error {
			defer func() {
				e.state.Release()
				select {
				case wake <- struct{}{}:
				default:
				}
			}()
			return e.visit(gctx, next)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	return nil
}

// visit converts a panic in the page pipeline into an error so the errgroup
// stops the crawl and the summary still gets written.
func (e *Engine) visit(ctx context.Context, pageURL string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page handler panic for %s: %v", pageURL, r)
		}
	}()
	if ctx.Err() != nil {
		return nil
	}
	e.processPage(ctx, pageURL)
	return nil
}

func (e *Engine) processPage(ctx context.Context, pageURL string) {
	logger := e.logger.With(zap.String("url", pageURL))
	logger.Info("Scraping")

	html, dom, mode, err := e.fetch(ctx, pageURL)
	if err != nil {
		if ctx.Err() != nil {
			logger.Debug("Fetch abandoned on shutdown", zap.Error(err))
			return
		}
		e.state.MarkFailed(pageURL)
		metrics.ObservePage(pageURL, string(mode), metrics.StatusFailed, 0)
		logger.Warn("Failed to fetch page", zap.Error(err))
		return
	}
	if dom != nil {
		defer func() {
			if cerr := dom.Close(); cerr != nil {
				logger.Debug("Closing DOM handle", zap.Error(cerr))
			}
		}()
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		e.state.MarkFailed(pageURL)
		metrics.ObservePage(pageURL, string(mode), metrics.StatusFailed, 0)
		logger.Warn("Failed to parse page", zap.Error(err))
		return
	}

	for _, ref := range e.extractor.Assets(ctx, doc, dom, e.siteURL) {
		if ctx.Err() != nil {
			return
		}
		e.assets.Download(ctx, ref.URL, ref.Category, e.state)
	}

	record, err := e.pages.Save(ctx, pageURL, html, doc)
	if err != nil {
		e.state.MarkFailed(pageURL)
		metrics.ObservePage(pageURL, string(mode), metrics.StatusFailed, 0)
		logger.Error("Failed to save page", zap.Error(err))
		return
	}
	e.appendRecord(record)
	metrics.ObservePage(pageURL, string(mode), metrics.StatusOK, len(html))

	for _, link := range e.extractor.Links(ctx, doc, dom, pageURL, e.baseDomain) {
		e.state.Enqueue(link)
	}

	queued := e.state.FrontierLen()
	metrics.SetFrontierSize(queued)
	logger.Info("Progress",
		zap.String("mode", string(mode)),
		zap.Int("visited", e.state.VisitedCount()),
		zap.Int("queued", queued),
		zap.Int("assets", e.state.AssetCount()),
	)
}

// fetch applies the render policy: rendered sites try the browser first and
// fall back to a static fetch; static sites promote script-driven pages to
// the browser when the detector asks for it.
func (e *Engine) fetch(ctx context.Context, pageURL string) (string, DOMHandle, FetchMode, error) {
	canRender := e.fetcher.CanRender()
	if e.cfg.Mode == FetchModeRendered && canRender {
		html, dom, err := e.fetcher.FetchRendered(ctx, pageURL)
		if err == nil {
			return html, dom, FetchModeRendered, nil
		}
		if ctx.Err() != nil {
			return "", nil, FetchModeRendered, err
		}
		metrics.ObserveRenderFallback()
		e.logger.Warn("Rendered fetch failed; falling back to static",
			zap.String("url", pageURL), zap.Error(err))
	}

	html, err := e.fetcher.FetchStatic(ctx, pageURL)
	if err != nil {
		return "", nil, FetchModeStatic, err
	}
	if e.cfg.Mode == FetchModeStatic && canRender && e.detector != nil && e.detector.NeedsJS(ctx, html) {
		rendered, dom, rerr := e.fetcher.FetchRendered(ctx, pageURL)
		if rerr == nil {
			metrics.ObserveRenderPromotion()
			e.logger.Debug("Promoted page to rendered fetch", zap.String("url", pageURL))
			return rendered, dom, FetchModeRendered, nil
		}
		e.logger.Debug("Promotion failed; keeping static HTML",
			zap.String("url", pageURL), zap.Error(rerr))
	}
	return html, nil, FetchModeStatic, nil
}

func (e *Engine) appendRecord(record PageRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, record)
}

// Summary snapshots the current run report.
func (e *Engine) Summary() RunSummary {
	e.mu.Lock()
	pages := append([]PageRecord{}, e.records...)
	e.mu.Unlock()

	failed := e.state.Failed()
	return RunSummary{
		BaseURL:     e.siteURL,
		ScrapedAt:   e.now(),
		TotalPages:  e.state.VisitedCount(),
		FailedPages: len(failed),
		TotalAssets: e.state.AssetCount(),
		Pages:       pages,
		VisitedURLs: e.state.Visited(),
		FailedURLs:  failed,
	}
}

func (e *Engine) flush(ctx context.Context) error {
	summary := e.Summary()
	if err := e.sink.WriteSummary(context.WithoutCancel(ctx), summary); err != nil {
		e.logger.Error("Failed to save summary", zap.Error(err))
		return fmt.Errorf("flush summary: %w", err)
	}
	return nil
}
