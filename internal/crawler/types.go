package crawler

import (
	"net/http"
	"time"
)

// FetchMode names how a page's HTML was obtained.
type FetchMode string

// Fetch modes.
const (
	FetchModeStatic   FetchMode = "static"
	FetchModeRendered FetchMode = "rendered"
)

// FetchResponse is the raw result of a single HTTP GET.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// AssetRef is an asset URL discovered on a page together with its inferred category.
type AssetRef struct {
	URL      string
	Category AssetCategory
}

// PageRecord is written for every page that was fetched and saved.
type PageRecord struct {
	URL            string    `json:"url"`
	Filename       string    `json:"filename"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	TextContent    string    `json:"text_content"`
	StructuredData []any     `json:"structured_data"`
	ScrapedAt      time.Time `json:"scraped_at"`
}

// RunSummary is the end-of-run report flushed to scraping_summary.json.
type RunSummary struct {
	BaseURL     string       `json:"base_url"`
	ScrapedAt   time.Time    `json:"scraped_at"`
	TotalPages  int          `json:"total_pages"`
	FailedPages int          `json:"failed_pages"`
	TotalAssets int          `json:"total_assets"`
	Pages       []PageRecord `json:"pages"`
	VisitedURLs []string     `json:"visited_urls"`
	FailedURLs  []string     `json:"failed_urls"`
}
