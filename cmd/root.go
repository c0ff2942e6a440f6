// Package cmd defines the scrape command line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-mirror/internal/config"
	"github.com/JakeFAU/site-mirror/internal/crawler"
	"github.com/JakeFAU/site-mirror/internal/extract"
	"github.com/JakeFAU/site-mirror/internal/fetcher"
	collyfetcher "github.com/JakeFAU/site-mirror/internal/fetcher/colly"
	"github.com/JakeFAU/site-mirror/internal/fetcher/headless"
	"github.com/JakeFAU/site-mirror/internal/id/uuid"
	"github.com/JakeFAU/site-mirror/internal/logging"
	"github.com/JakeFAU/site-mirror/internal/metrics"
	"github.com/JakeFAU/site-mirror/internal/mirror"
	"github.com/JakeFAU/site-mirror/internal/storage/local"
)

// browser is a started renderer that must be shut down.
type browser interface {
	fetcher.Renderer
	Close()
}

// startBrowser launches headless Chrome. It's a variable so tests can
// replace it.
var startBrowser = func(cfg headless.Config, logger *zap.Logger) (browser, error) {
	r, err := headless.NewChromedp(cfg, logger)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// flagKeys maps each command line flag to its configuration key.
var flagKeys = map[string]string{
	"url":             "url",
	"output":          "output",
	"max-pages":       "max_pages",
	"delay":           "delay",
	"selenium":        "selenium",
	"no-selenium":     "no_selenium",
	"log":             "log",
	"log-development": "log_development",
	"workers":         "workers",
	"user-agent":      "user_agent",
	"request-timeout": "request_timeout",
	"metrics-addr":    "metrics_addr",
}

// NewRootCmd creates the scrape command.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "scrape --url <baseUrl>",
		Short: "Mirror a single website to a local directory",
		Long: `scrape crawls every page reachable from the base URL on the same domain,
saves each page's HTML, downloads the images, stylesheets, scripts, fonts and
videos it references, and writes a run summary and sitemap.

Client-rendered sites are loaded in headless Chrome when it is available.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				var cfgErr *crawler.ConfigError
				if errors.As(err, &cfgErr) && cfgErr.Field == "url" {
					_ = cmd.Usage()
				}
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "optional YAML config file")
	flags.String("url", "", "base URL of the site to mirror (required)")
	flags.String("output", "scraped_content", "output directory")
	flags.Int("max-pages", 1000, "maximum number of pages to visit")
	flags.Float64("delay", 1.0, "delay between requests in seconds")
	flags.Bool("selenium", false, "render every page in headless Chrome")
	flags.Bool("no-selenium", false, "never start headless Chrome")
	flags.String("log", "scraper.log", "log file path")
	flags.Bool("log-development", false, "human-readable development logging")
	flags.Int("workers", 1, "number of pages processed concurrently")
	flags.String("user-agent", config.DefaultUserAgent, "User-Agent header for all requests")
	flags.Duration("request-timeout", 30*time.Second, "HTTP request timeout")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	cmd.MarkFlagsMutuallyExclusive("selenium", "no-selenium")

	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}
	return cmd
}

// Execute runs the command with SIGINT/SIGTERM cancellation and returns the
// process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Config) error {
	logger, err := logging.New(logging.Options{Development: cfg.LogDevelopment, Path: cfg.Log})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger = logger.With(zap.String("run_id", uuid.New().RunID()))

	blobs, err := local.New(local.Config{BaseDir: cfg.Output})
	if err != nil {
		return fmt.Errorf("init output dir: %w", err)
	}
	if err := mirror.PrepareLayout(blobs); err != nil {
		return err
	}

	client := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.UserAgent,
		Timeout:      cfg.RequestTimeout,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	pageFetcher, closeBrowser, err := buildPageFetcher(cfg, client, logger)
	if err != nil {
		return err
	}
	defer closeBrowser()

	mode := crawler.SelectFetchMode(cfg.URL, cfg.RenderPreference(), pageFetcher.CanRender(), cfg.Render.Signatures, logger)
	detector := crawler.NewHeuristicDetector(cfg.Detector.MinHTMLBytes, cfg.Detector.Selectors, cfg.Detector.Keywords)
	assets := mirror.NewAssetStore(blobs, client, mirror.AssetStoreConfig{
		BaseURL:  cfg.URL,
		CDNHosts: cfg.CDNHosts,
		Delay:    cfg.DelayDuration(),
	}, logger)
	sink, err := crawler.NewFileSystemSummarySink(cfg.Output, logger)
	if err != nil {
		return fmt.Errorf("init summary sink: %w", err)
	}

	engine, err := crawler.NewEngine(
		crawler.Config{
			BaseURL:  cfg.URL,
			MaxPages: cfg.MaxPages,
			Workers:  cfg.Workers,
			Mode:     mode,
		},
		pageFetcher,
		extract.New(logger),
		assets,
		mirror.NewPageStore(blobs, logger),
		sink,
		detector,
		logger,
	)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		metricsCtx, cancelMetrics := context.WithCancel(ctx)
		defer cancelMetrics()
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.MetricsAddr, logger); err != nil {
				logger.Warn("Metrics server stopped", zap.Error(err))
			}
		}()
	}

	if err := engine.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("Interrupted; partial results saved", zap.String("output", cfg.Output))
			return nil
		}
		return fmt.Errorf("run scraper: %w", err)
	}
	return nil
}

// buildPageFetcher starts the browser unless rendering is disabled. A browser
// that fails to start is fatal only when rendering was explicitly requested.
func buildPageFetcher(
	cfg config.Config,
	client crawler.Fetcher,
	logger *zap.Logger,
) (crawler.PageFetcher, func(), error) {
	delay := cfg.DelayDuration()
	pref := cfg.RenderPreference()
	if pref == crawler.RenderDisabled {
		return fetcher.NewStaticOnly(client, delay, logger), func() {}, nil
	}

	b, err := startBrowser(headless.Config{
		UserAgent:    cfg.UserAgent,
		MaxParallel:  cfg.Render.MaxParallel,
		Timeout:      cfg.Render.Timeout,
		WaitSelector: cfg.Render.WaitSelector,
		WaitTimeout:  cfg.Render.WaitTimeout,
		Settle:       cfg.Render.Settle,
		QPS:          cfg.Render.QPS,
	}, logger)
	if err != nil {
		if pref == crawler.RenderForce {
			return nil, nil, &crawler.ConfigError{
				Field:  "selenium",
				Reason: fmt.Sprintf("headless browser unavailable: %v", err),
			}
		}
		logger.Warn("Headless browser unavailable; using static fetches only", zap.Error(err))
		return fetcher.NewStaticOnly(client, delay, logger), func() {}, nil
	}
	return fetcher.NewRendering(client, b, delay, logger), b.Close, nil
}
