package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/site-mirror/internal/crawler"
	"github.com/JakeFAU/site-mirror/internal/storage/local"
)

const (
	indexPage = "index.html"
	// TextExcerptRunes caps PageRecord.TextContent.
	TextExcerptRunes = 1000
)

// PageStore implements crawler.PageStore.
type PageStore struct {
	blobs  *local.BlobStore
	logger *zap.Logger
	now    func() time.Time
}

// NewPageStore returns a PageStore writing under blobs.
func NewPageStore(blobs *local.BlobStore, logger *zap.Logger) *PageStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageStore{
		blobs:  blobs,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Save writes the page body to pages/<name> and returns its record. Pages
// whose names collide overwrite one another.
func (s *PageStore) Save(ctx context.Context, rawURL, body string, doc *goquery.Document) (crawler.PageRecord, error) {
	if doc == nil {
		parsed, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			return crawler.PageRecord{}, fmt.Errorf("parse page: %w", err)
		}
		doc = parsed
	}

	name := PageFilename(rawURL)
	if _, err := s.blobs.PutObject(ctx, path.Join(PagesDir, name), []byte(body)); err != nil {
		return crawler.PageRecord{}, fmt.Errorf("write page %s: %w", name, err)
	}

	record := crawler.PageRecord{
		URL:            rawURL,
		Filename:       name,
		Title:          strings.TrimSpace(doc.Find("title").First().Text()),
		Description:    metaDescription(doc),
		TextContent:    truncateRunes(textContent(doc), TextExcerptRunes),
		StructuredData: s.structuredData(rawURL, doc),
		ScrapedAt:      s.now(),
	}
	s.logger.Debug("Saved page", zap.String("url", rawURL), zap.String("file", name))
	return record, nil
}

// PageFilename derives the file a page is saved as: the last non-empty path
// segment (index.html for the root) with .html appended unless it already
// ends in .html or .htm, sanitized for the filesystem.
func PageFilename(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(strings.TrimSpace(rawURL)); err == nil {
		p = u.Path
	}
	var last string
	for _, segment := range strings.Split(p, "/") {
		if segment != "" {
			last = segment
		}
	}
	if last == "" {
		return indexPage
	}
	lower := strings.ToLower(last)
	if !strings.HasSuffix(lower, ".html") && !strings.HasSuffix(lower, ".htm") {
		last += ".html"
	}
	return crawler.SanitizeFilename(last)
}

func metaDescription(doc *goquery.Document) string {
	var description string
	doc.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !strings.EqualFold(strings.TrimSpace(s.AttrOr("name", "")), "description") {
			return true
		}
		description = s.AttrOr("content", "")
		return false
	})
	return description
}

// structuredData decodes every JSON-LD block; malformed blocks are dropped.
func (s *PageStore) structuredData(rawURL string, doc *goquery.Document) []any {
	data := make([]any, 0)
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		var v any
		if err := json.Unmarshal([]byte(sel.Text()), &v); err != nil {
			s.logger.Debug("Dropping malformed JSON-LD", zap.String("url", rawURL), zap.Error(err))
			return
		}
		data = append(data, v)
	})
	return data
}

// textContent joins the trimmed, non-empty text nodes of the document with
// newlines. Script, style, and template bodies are not text.
func textContent(doc *goquery.Document) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "template", "noscript":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
	return strings.Join(parts, "\n")
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}
