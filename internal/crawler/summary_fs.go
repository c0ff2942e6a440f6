package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Output file names written at the end of a run.
const (
	SummaryFileName = "scraping_summary.json"
	SitemapFileName = "sitemap.txt"
)

// FileSystemSummarySink writes the run summary and sitemap under root.
type FileSystemSummarySink struct {
	root   string
	logger *zap.Logger
}

// NewFileSystemSummarySink returns a sink rooted at dir.
func NewFileSystemSummarySink(root string, logger *zap.Logger) (*FileSystemSummarySink, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create summary dir %s: %w", root, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSystemSummarySink{
		root:   root,
		logger: logger,
	}, nil
}

// WriteSummary writes scraping_summary.json and sitemap.txt. The context is
// not consulted so a cancelled run can still flush.
func (s *FileSystemSummarySink) WriteSummary(_ context.Context, summary RunSummary) error {
	if summary.Pages == nil {
		summary.Pages = []PageRecord{}
	}
	if summary.VisitedURLs == nil {
		summary.VisitedURLs = []string{}
	}
	if summary.FailedURLs == nil {
		summary.FailedURLs = []string{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	summaryPath := filepath.Join(s.root, SummaryFileName)
	if err := os.WriteFile(summaryPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write summary %s: %w", summaryPath, err)
	}

	var sitemap strings.Builder
	for _, page := range summary.Pages {
		sitemap.WriteString(page.URL)
		sitemap.WriteByte('\n')
	}
	sitemapPath := filepath.Join(s.root, SitemapFileName)
	if err := os.WriteFile(sitemapPath, []byte(sitemap.String()), 0o600); err != nil {
		return fmt.Errorf("write sitemap %s: %w", sitemapPath, err)
	}

	s.logger.Info("Summary saved",
		zap.String("path", summaryPath),
		zap.Int("pages", len(summary.Pages)),
	)
	return nil
}
