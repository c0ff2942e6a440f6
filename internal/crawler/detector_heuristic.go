package crawler

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultDetectorKeywords are markers left in server HTML by client-rendered frameworks.
var DefaultDetectorKeywords = []string{
	"__next_data__",
	"data-reactroot",
	"ng-app",
	"window.__apollo_state__",
	`id="__next"`,
	`id="root"`,
	`id="app"`,
}

const scriptCoveragePercent = 25

// HeuristicDetector implements Detector using simple HTML signals.
type HeuristicDetector struct {
	minHTMLBytes int
	selectors    []string
	keywords     []string
}

// NewHeuristicDetector constructs a Detector with the configured thresholds.
func NewHeuristicDetector(minBytes int, selectors, keywords []string) *HeuristicDetector {
	lowerKeywords := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lowerKeywords = append(lowerKeywords, strings.ToLower(kw))
	}
	return &HeuristicDetector{
		minHTMLBytes: minBytes,
		selectors:    selectors,
		keywords:     lowerKeywords,
	}
}

// NeedsJS inspects the page for signals that indicate JS rendering is required.
func (d *HeuristicDetector) NeedsJS(_ context.Context, html string) bool {
	if d == nil {
		return false
	}
	lower := strings.ToLower(html)
	switch {
	case d.bodyBelowThreshold(html):
		return true
	case d.containsKeywords(lower):
		return true
	case scriptDensityHigh(lower):
		return true
	default:
		return d.missingSelectors(html)
	}
}

func (d *HeuristicDetector) bodyBelowThreshold(html string) bool {
	return d.minHTMLBytes > 0 && len(html) < d.minHTMLBytes
}

func (d *HeuristicDetector) containsKeywords(lower string) bool {
	if lower == "" {
		return false
	}
	for _, kw := range d.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (d *HeuristicDetector) missingSelectors(html string) bool {
	if len(d.selectors) == 0 || html == "" {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return true
	}
	for _, sel := range d.selectors {
		if sel == "" {
			continue
		}
		if doc.Find(sel).Length() == 0 {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether <script> elements make up a large share
// of the markup. lower must already be lowercased.
func scriptDensityHigh(lower string) bool {
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Malformed tail; count it all as script.
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1
		end := strings.Index(lower[contentStart:], closeTag)
		next := total
		if end != -1 {
			next = contentStart + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= scriptCoveragePercent
}
