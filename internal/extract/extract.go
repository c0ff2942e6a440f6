// Package extract discovers same-domain links and mirrorable assets in page
// markup and, when a page was rendered, in the live browser DOM.
package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-mirror/internal/crawler"
)

// BackgroundSampleLimit caps how many computed backgrounds are read from a rendered page.
const BackgroundSampleLimit = 100

var cssURLPattern = regexp.MustCompile(`url\(\s*["']?([^"')]+?)["']?\s*\)`)

var skippedLinkPrefixes = []string{"javascript:", "mailto:", "tel:", "#", "data:"}

var imageAttrs = []string{"src", "data-src", "data-original", "data-lazy-src"}

// attrSource yields the requested attributes of every element matching selector.
type attrSource func(ctx context.Context, selector string, attrs []string) ([]map[string]string, error)

// Extractor implements crawler.Extractor.
type Extractor struct {
	logger *zap.Logger
}

// New returns an Extractor.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Links returns the in-domain page links found on the page, normalized and
// deduplicated in discovery order.
func (x *Extractor) Links(
	ctx context.Context,
	doc *goquery.Document,
	dom crawler.DOMHandle,
	pageURL, baseDomain string,
) []string {
	links := &linkSet{pageURL: pageURL, baseDomain: baseDomain, seen: make(map[string]struct{})}
	if doc != nil {
		x.scanLinks(ctx, markupSource(doc), links)
	}
	if dom != nil {
		x.scanLinks(ctx, dom.QueryAttributes, links)
	}
	return links.urls
}

func (x *Extractor) scanLinks(ctx context.Context, src attrSource, links *linkSet) {
	anchors, err := src(ctx, "a[href]", []string{"href"})
	if err != nil {
		x.logger.Debug("Link scan failed", zap.Error(err))
		return
	}
	for _, a := range anchors {
		links.add(a["href"])
	}
}

// Assets returns every asset referenced by the page with its inferred
// category, resolved against baseURL and deduplicated by URL.
func (x *Extractor) Assets(
	ctx context.Context,
	doc *goquery.Document,
	dom crawler.DOMHandle,
	baseURL string,
) []crawler.AssetRef {
	assets := &assetSet{baseURL: baseURL, seen: make(map[string]struct{})}
	if doc != nil {
		x.scanAssets(ctx, markupSource(doc), assets, true)
		doc.Find("style").Each(func(_ int, s *goquery.Selection) {
			assets.addStyleBlock(s.Text())
		})
	}
	if dom != nil {
		x.scanAssets(ctx, dom.QueryAttributes, assets, false)
		backgrounds, err := dom.ComputedBackgrounds(ctx, BackgroundSampleLimit)
		if err != nil {
			x.logger.Debug("Computed background scan failed", zap.Error(err))
		}
		for _, bg := range backgrounds {
			assets.addStyleAttr(bg)
		}
	}
	return assets.refs
}

// scanAssets collects assets from src. With allImageSources every present
// image attribute of an <img> is added; otherwise only the first one.
func (x *Extractor) scanAssets(ctx context.Context, src attrSource, assets *assetSet, allImageSources bool) {
	x.each(ctx, src, "img", append([]string{"srcset"}, imageAttrs...), func(el map[string]string) {
		for _, name := range imageAttrs {
			if v := el[name]; v != "" {
				assets.add(v, crawler.CategoryImages)
				if !allImageSources {
					break
				}
			}
		}
		for _, candidate := range srcsetImages(el["srcset"]) {
			assets.add(candidate, crawler.CategoryImages)
		}
	})

	x.each(ctx, src, "link", []string{"href", "data-href", "rel", "as"}, func(el map[string]string) {
		href := el["href"]
		if href == "" {
			href = el["data-href"]
		}
		if href == "" {
			return
		}
		if category, ok := linkCategory(el["rel"], el["as"], href); ok {
			assets.add(href, category)
		}
	})

	x.each(ctx, src, "script", []string{"src", "data-url"}, func(el map[string]string) {
		if v := firstNonEmpty(el["src"], el["data-url"]); v != "" {
			assets.add(v, crawler.CategoryJS)
		}
	})

	x.each(ctx, src, "[style]", []string{"style"}, func(el map[string]string) {
		assets.addStyleAttr(el["style"])
	})

	x.each(ctx, src, "video, video source", []string{"src"}, func(el map[string]string) {
		assets.add(el["src"], crawler.CategoryVideos)
	})
	x.each(ctx, src, "video[poster]", []string{"poster"}, func(el map[string]string) {
		assets.add(el["poster"], crawler.CategoryImages)
	})

	x.each(ctx, src, "audio, audio source", []string{"src"}, func(el map[string]string) {
		assets.add(el["src"], crawler.CategoryOther)
	})
}

// each runs fn for every element; a failed query is logged and skipped.
func (x *Extractor) each(
	ctx context.Context,
	src attrSource,
	selector string,
	attrs []string,
	fn func(map[string]string),
) {
	elements, err := src(ctx, selector, attrs)
	if err != nil {
		x.logger.Debug("Asset scan failed", zap.String("selector", selector), zap.Error(err))
		return
	}
	for _, el := range elements {
		fn(el)
	}
}

// markupSource adapts a parsed document to attrSource. Raw attribute text is
// returned unchanged.
func markupSource(doc *goquery.Document) attrSource {
	return func(_ context.Context, selector string, attrs []string) ([]map[string]string, error) {
		var out []map[string]string
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			el := make(map[string]string, len(attrs))
			for _, name := range attrs {
				if v, ok := s.Attr(name); ok && v != "" {
					el[name] = v
				}
			}
			out = append(out, el)
		})
		return out, nil
	}
}

// linkCategory classifies a <link> element. The boolean is false for links
// that are not assets (canonical, alternate, and so on).
func linkCategory(rel, as, href string) (crawler.AssetCategory, bool) {
	rels := strings.Fields(strings.ToLower(rel))
	as = strings.ToLower(strings.TrimSpace(as))
	switch {
	case hasToken(rels, "stylesheet"):
		return crawler.CategoryCSS, true
	case hasToken(rels, "preload"), hasToken(rels, "prefetch"), hasToken(rels, "modulepreload"):
		switch as {
		case "font":
			return crawler.CategoryFonts, true
		case "style":
			return crawler.CategoryCSS, true
		case "script":
			return crawler.CategoryJS, true
		case "image":
			return crawler.CategoryImages, true
		default:
			return crawler.CategoryOther, true
		}
	case hasToken(rels, "icon"), hasToken(rels, "apple-touch-icon"):
		return crawler.CategoryImages, true
	}
	switch crawler.Classify(href) {
	case crawler.CategoryCSS:
		return crawler.CategoryCSS, true
	case crawler.CategoryFonts:
		return crawler.CategoryFonts, true
	}
	return "", false
}

// srcsetImages returns the srcset candidates whose URL has an image extension.
func srcsetImages(srcset string) []string {
	if strings.TrimSpace(srcset) == "" {
		return nil
	}
	var out []string
	for _, candidate := range strings.Split(srcset, ",") {
		fields := strings.Fields(candidate)
		if len(fields) == 0 {
			continue
		}
		if crawler.Classify(fields[0]) == crawler.CategoryImages {
			out = append(out, fields[0])
		}
	}
	return out
}

// cssURLs returns the url(...) references in a CSS fragment.
func cssURLs(css string) []string {
	matches := cssURLPattern.FindAllStringSubmatch(css, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if v := strings.TrimSpace(m[1]); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func hasToken(tokens []string, want string) bool {
	for _, t := range tokens {
		if t == want {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func skippedLink(raw string) bool {
	lower := strings.ToLower(raw)
	for _, prefix := range skippedLinkPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

type linkSet struct {
	pageURL    string
	baseDomain string
	seen       map[string]struct{}
	urls       []string
}

func (l *linkSet) add(href string) {
	href = strings.TrimSpace(href)
	if href == "" || skippedLink(href) {
		return
	}
	resolved, ok := crawler.ResolveURL(l.pageURL, href)
	if !ok || !crawler.IsHTTPURL(resolved) {
		return
	}
	normalized := crawler.NormalizeURL(resolved)
	if !crawler.SameDomain(normalized, l.baseDomain) {
		return
	}
	if _, dup := l.seen[normalized]; dup {
		return
	}
	l.seen[normalized] = struct{}{}
	l.urls = append(l.urls, normalized)
}

type assetSet struct {
	baseURL string
	seen    map[string]struct{}
	refs    []crawler.AssetRef
}

func (a *assetSet) add(raw string, hint crawler.AssetCategory) {
	raw = strings.TrimSpace(raw)
	if raw == "" || skippedLink(raw) {
		return
	}
	resolved, ok := crawler.ResolveURL(a.baseURL, raw)
	if !ok || !crawler.IsHTTPURL(resolved) {
		return
	}
	if _, dup := a.seen[resolved]; dup {
		return
	}
	a.seen[resolved] = struct{}{}
	a.refs = append(a.refs, crawler.AssetRef{
		URL:      resolved,
		Category: crawler.ClassifyWithHint(resolved, hint),
	})
}

// addStyleAttr handles inline style attributes and computed backgrounds,
// where url() almost always names an image.
func (a *assetSet) addStyleAttr(style string) {
	for _, u := range cssURLs(style) {
		a.add(u, crawler.CategoryImages)
	}
}

// addStyleBlock handles <style> bodies. Only references with a recognized
// extension are kept; extensionless url()s there are usually fragments or
// font-service endpoints.
func (a *assetSet) addStyleBlock(css string) {
	for _, u := range cssURLs(css) {
		category := crawler.Classify(u)
		if category == crawler.CategoryOther {
			continue
		}
		a.add(u, category)
	}
}
