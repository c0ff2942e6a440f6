package crawler

import (
	"context"

	"github.com/PuerkitoBio/goquery"
)

// Fetcher performs a plain HTTP GET and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (FetchResponse, error)
}

// PageFetcher obtains page HTML, statically or through a browser.
type PageFetcher interface {
	// FetchStatic returns the raw server response body.
	FetchStatic(ctx context.Context, rawURL string) (string, error)
	// FetchRendered returns the post-script DOM serialization plus a live
	// handle on the rendered page. Callers must Close the handle.
	FetchRendered(ctx context.Context, rawURL string) (string, DOMHandle, error)
	// CanRender reports whether FetchRendered can succeed at all.
	CanRender() bool
}

// DOMHandle queries a page that is still open in the browser.
type DOMHandle interface {
	// QueryAttributes returns, for every element matching selector, the
	// requested attributes that are present. For href and src the browser's
	// resolved property value is preferred over the raw attribute.
	QueryAttributes(ctx context.Context, selector string, attrs []string) ([]map[string]string, error)
	// ComputedBackgrounds returns up to limit computed background-image values
	// that reference a url().
	ComputedBackgrounds(ctx context.Context, limit int) ([]string, error)
	Close() error
}

// Extractor discovers links and assets on a page. dom may be nil.
type Extractor interface {
	Links(ctx context.Context, doc *goquery.Document, dom DOMHandle, pageURL, baseDomain string) []string
	Assets(ctx context.Context, doc *goquery.Document, dom DOMHandle, baseURL string) []AssetRef
}

// AssetStore mirrors one asset and records it in state.
type AssetStore interface {
	Download(ctx context.Context, assetURL string, hint AssetCategory, state *CrawlState) (string, bool)
}

// PageStore persists a page body and derives its record.
type PageStore interface {
	Save(ctx context.Context, rawURL, html string, doc *goquery.Document) (PageRecord, error)
}

// SummarySink writes the end-of-run report.
type SummarySink interface {
	WriteSummary(ctx context.Context, summary RunSummary) error
}

// Detector decides whether statically fetched HTML needs a browser.
type Detector interface {
	NeedsJS(ctx context.Context, html string) bool
}
