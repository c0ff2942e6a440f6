package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-mirror/internal/crawler"
	"github.com/JakeFAU/site-mirror/internal/fetcher/headless"
)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, `<html><head><title>Home</title><link rel="stylesheet" href="/site.css"></head>
<body><h1>Hello</h1><a href="/about">About</a></body></html>`)
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, `<html><head><title>About</title></head><body><img src="/team.png"></body></html>`)
	})
	mux.HandleFunc("/site.css", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		_, _ = io.WriteString(w, "body{}")
	})
	mux.HandleFunc("/team.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func stubBrowser(t *testing.T, err error) *int {
	t.Helper()
	calls := 0
	previous := startBrowser
	startBrowser = func(headless.Config, *zap.Logger) (browser, error) {
		calls++
		return nil, err
	}
	t.Cleanup(func() { startBrowser = previous })
	return &calls
}

// fakeBrowser renders every URL to the same markup.
type fakeBrowser struct {
	renders int
	closed  bool
}

func (b *fakeBrowser) Render(context.Context, string) (string, crawler.DOMHandle, error) {
	b.renders++
	return `<html><head><title>Rendered</title></head><body>hydrated</body></html>`, nil, nil
}

func (b *fakeBrowser) Close() { b.closed = true }

func execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.ExecuteContext(context.Background())
}

func TestMissingURLIsConfigError(t *testing.T) {
	err := execute(t, "--output", t.TempDir())

	var cfgErr *crawler.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "url", cfgErr.Field)
}

func TestRenderFlagsAreExclusive(t *testing.T) {
	err := execute(t, "--url", "https://example.com", "--selenium", "--no-selenium")
	require.Error(t, err)
}

func TestScrapeStaticSite(t *testing.T) {
	srv := newSite(t)
	calls := stubBrowser(t, errors.New("should not start"))
	out := filepath.Join(t.TempDir(), "mirror")

	err := execute(t,
		"--url", srv.URL,
		"--output", out,
		"--no-selenium",
		"--delay", "0",
		"--log", filepath.Join(out, "scraper.log"),
	)
	require.NoError(t, err)
	assert.Zero(t, *calls)

	for _, rel := range []string{
		"pages/index.html",
		"pages/about.html",
		"assets/css/site.css",
		"assets/images/team.png",
		"assets/fonts",
		"sitemap.txt",
		"scraper.log",
	} {
		_, statErr := os.Stat(filepath.Join(out, rel))
		assert.NoError(t, statErr, rel)
	}

	data, err := os.ReadFile(filepath.Join(out, crawler.SummaryFileName))
	require.NoError(t, err)
	var summary crawler.RunSummary
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, srv.URL, summary.BaseURL)
	assert.Equal(t, 2, summary.TotalPages)
	assert.Equal(t, 0, summary.FailedPages)
	assert.Equal(t, 2, summary.TotalAssets)
	require.Len(t, summary.Pages, 2)
	assert.Equal(t, "Home", summary.Pages[0].Title)
}

func TestForcedRenderWithoutBrowserFails(t *testing.T) {
	srv := newSite(t)
	calls := stubBrowser(t, errors.New("chrome not found"))
	out := t.TempDir()

	err := execute(t,
		"--url", srv.URL,
		"--output", out,
		"--selenium",
		"--log", filepath.Join(out, "scraper.log"),
	)

	var cfgErr *crawler.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "selenium", cfgErr.Field)
	assert.Equal(t, 1, *calls)
	assert.NoFileExists(t, filepath.Join(out, crawler.SummaryFileName))
}

func TestAutoRenderFallsBackToStatic(t *testing.T) {
	srv := newSite(t)
	calls := stubBrowser(t, errors.New("chrome not found"))
	out := t.TempDir()

	err := execute(t,
		"--url", srv.URL,
		"--output", out,
		"--delay", "0",
		"--max-pages", "1",
		"--log", filepath.Join(out, "scraper.log"),
	)
	require.NoError(t, err)
	assert.Equal(t, 1, *calls)
	assert.FileExists(t, filepath.Join(out, "pages", "index.html"))
	assert.NoFileExists(t, filepath.Join(out, "pages", "about.html"))
}

func TestDefaultRunRendersWhenBrowserStarts(t *testing.T) {
	srv := newSite(t)
	b := &fakeBrowser{}
	previous := startBrowser
	startBrowser = func(headless.Config, *zap.Logger) (browser, error) { return b, nil }
	t.Cleanup(func() { startBrowser = previous })
	out := t.TempDir()

	err := execute(t,
		"--url", srv.URL,
		"--output", out,
		"--delay", "0",
		"--max-pages", "1",
		"--log", filepath.Join(out, "scraper.log"),
	)
	require.NoError(t, err)
	assert.Equal(t, 1, b.renders)
	assert.True(t, b.closed)

	data, err := os.ReadFile(filepath.Join(out, "pages", "index.html"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "hydrated"), "page should hold the rendered markup")
}
