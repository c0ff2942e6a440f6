// Package mirror writes fetched pages and assets into the output tree.
package mirror

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-mirror/internal/crawler"
	"github.com/JakeFAU/site-mirror/internal/metrics"
	"github.com/JakeFAU/site-mirror/internal/storage/local"
)

// PagesDir is the output-relative directory holding saved pages.
const PagesDir = "pages"

// PrepareLayout creates pages/ and every assets/<category>/ directory.
func PrepareLayout(blobs *local.BlobStore) error {
	dirs := []string{PagesDir}
	for _, category := range crawler.AssetCategories {
		dirs = append(dirs, filepath.Dir(crawler.AssetRelPath(category, "x")))
	}
	if err := blobs.EnsureDirs(dirs...); err != nil {
		return fmt.Errorf("prepare output layout: %w", err)
	}
	return nil
}

// AssetStoreConfig controls which assets are mirrored.
type AssetStoreConfig struct {
	// BaseURL, without its trailing slash, resolves relative asset references
	// and defines the home domain.
	BaseURL string
	// CDNHosts lists off-domain hosts whose assets are still mirrored.
	CDNHosts []string
	// Delay is applied after every successful download.
	Delay time.Duration
}

// AssetStore implements crawler.AssetStore on top of a blob store.
type AssetStore struct {
	blobs      *local.BlobStore
	fetcher    crawler.Fetcher
	baseURL    string
	baseDomain string
	cdn        *crawler.HostMatcher
	delay      time.Duration
	logger     *zap.Logger
}

// NewAssetStore returns an AssetStore writing under blobs.
func NewAssetStore(
	blobs *local.BlobStore,
	fetcher crawler.Fetcher,
	cfg AssetStoreConfig,
	logger *zap.Logger,
) *AssetStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssetStore{
		blobs:      blobs,
		fetcher:    fetcher,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		baseDomain: crawler.HostOf(cfg.BaseURL),
		cdn:        crawler.NewHostMatcher(cfg.CDNHosts),
		delay:      cfg.Delay,
		logger:     logger,
	}
}

// Download mirrors assetURL and returns its output-relative path. It is a
// no-op returning false when the asset is off-domain, already mirrored, or
// being mirrored by another worker. Failures are logged, never returned.
func (s *AssetStore) Download(
	ctx context.Context,
	assetURL string,
	hint crawler.AssetCategory,
	state *crawler.CrawlState,
) (string, bool) {
	resolved, ok := crawler.ResolveURL(s.baseURL, assetURL)
	if !ok || !crawler.IsHTTPURL(resolved) {
		return "", false
	}
	category := crawler.ClassifyWithHint(resolved, hint)
	if !s.allowed(resolved) {
		metrics.ObserveAsset(string(category), metrics.AssetSkipped, 0)
		return "", false
	}
	if !state.BeginAsset(resolved) {
		return "", false
	}
	var stored bool
	defer func() { state.FinishAsset(resolved, stored) }()

	logger := s.logger.With(zap.String("asset", resolved), zap.String("category", string(category)))
	relPath := crawler.AssetRelPath(category, resolved)
	if s.blobs.Exists(relPath) {
		stored = true
		metrics.ObserveAsset(string(category), metrics.AssetCached, 0)
		logger.Debug("Asset already on disk", zap.String("path", relPath))
		return relPath, true
	}

	resp, err := s.fetcher.Fetch(ctx, resolved)
	if err != nil {
		metrics.ObserveAsset(string(category), metrics.AssetFailed, 0)
		logger.Warn("Failed to download asset", zap.Error(err))
		return "", false
	}
	if _, err := s.blobs.PutObject(ctx, relPath, resp.Body); err != nil {
		metrics.ObserveAsset(string(category), metrics.AssetFailed, 0)
		logger.Warn("Failed to write asset", zap.Error(err))
		return "", false
	}
	stored = true
	metrics.ObserveAsset(string(category), metrics.AssetDownloaded, len(resp.Body))
	logger.Debug("Downloaded asset", zap.String("path", relPath), zap.Int("bytes", len(resp.Body)))

	crawler.Pause(ctx, s.delay)
	return relPath, true
}

func (s *AssetStore) allowed(rawURL string) bool {
	if crawler.SameDomain(rawURL, s.baseDomain) {
		return true
	}
	return s.cdn.Matches(crawler.HostOf(rawURL))
}
