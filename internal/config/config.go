// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/site-mirror/internal/crawler"
)

// EnvPrefix namespaces environment overrides, e.g. SCRAPE_MAX_PAGES.
const EnvPrefix = "SCRAPE"

// DefaultUserAgent mimics a desktop browser; many site builders serve
// degraded markup to unknown agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// DefaultCDNHosts are the asset hosts mirrored alongside the site domain.
var DefaultCDNHosts = []string{
	"static.wixstatic.com",
	"static.parastorage.com",
	"video.wixstatic.com",
	"siteassets.parastorage.com",
	"viewer-assets.parastorage.com",
}

// Config captures every scraper knob loaded via Viper.
type Config struct {
	URL            string         `mapstructure:"url"`
	Output         string         `mapstructure:"output"`
	MaxPages       int            `mapstructure:"max_pages"`
	Delay          float64        `mapstructure:"delay"`
	Selenium       bool           `mapstructure:"selenium"`
	NoSelenium     bool           `mapstructure:"no_selenium"`
	Log            string         `mapstructure:"log"`
	LogDevelopment bool           `mapstructure:"log_development"`
	Workers        int            `mapstructure:"workers"`
	UserAgent      string         `mapstructure:"user_agent"`
	RequestTimeout time.Duration  `mapstructure:"request_timeout"`
	MaxBodyBytes   int            `mapstructure:"max_body_bytes"`
	CDNHosts       []string       `mapstructure:"cdn_hosts"`
	MetricsAddr    string         `mapstructure:"metrics_addr"`
	Render         RenderConfig   `mapstructure:"render"`
	Detector       DetectorConfig `mapstructure:"detector"`
}

// RenderConfig configures the headless browser.
type RenderConfig struct {
	WaitSelector string        `mapstructure:"wait_selector"`
	WaitTimeout  time.Duration `mapstructure:"wait_timeout"`
	Settle       time.Duration `mapstructure:"settle"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxParallel  int           `mapstructure:"max_parallel"`
	QPS          float64       `mapstructure:"qps"`
	Signatures   []string      `mapstructure:"signatures"`
	Selective    bool          `mapstructure:"selective"`
}

// DetectorConfig tunes when a static page is promoted to a rendered fetch.
type DetectorConfig struct {
	MinHTMLBytes int      `mapstructure:"min_html_bytes"`
	Selectors    []string `mapstructure:"selectors"`
	Keywords     []string `mapstructure:"keywords"`
}

// SetDefaults registers every key with its default so environment
// overrides apply to all of them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("url", "")
	v.SetDefault("output", "scraped_content")
	v.SetDefault("max_pages", 1000)
	v.SetDefault("delay", 1.0)
	v.SetDefault("selenium", false)
	v.SetDefault("no_selenium", false)
	v.SetDefault("log", "scraper.log")
	v.SetDefault("log_development", false)
	v.SetDefault("workers", 1)
	v.SetDefault("user_agent", DefaultUserAgent)
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("max_body_bytes", 0)
	v.SetDefault("cdn_hosts", DefaultCDNHosts)
	v.SetDefault("metrics_addr", "")

	v.SetDefault("render.wait_selector", "body")
	v.SetDefault("render.wait_timeout", 15*time.Second)
	v.SetDefault("render.settle", 2*time.Second)
	v.SetDefault("render.timeout", 60*time.Second)
	v.SetDefault("render.max_parallel", 1)
	v.SetDefault("render.qps", 0.0)
	v.SetDefault("render.signatures", crawler.DefaultRenderSignatures)
	v.SetDefault("render.selective", false)

	v.SetDefault("detector.min_html_bytes", 2000)
	v.SetDefault("detector.selectors", []string{})
	v.SetDefault("detector.keywords", crawler.DefaultDetectorKeywords)
}

// Load reads cfgFile (when set), environment overrides, and any flags already
// bound to v, then validates the result.
func Load(v *viper.Viper, cfgFile string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.URL = strings.TrimSpace(cfg.URL)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.URL == "" {
		errs = append(errs, &crawler.ConfigError{Field: "url", Reason: "is required"})
	} else if u, err := url.Parse(c.URL); err != nil || u.Host == "" ||
		(u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, &crawler.ConfigError{Field: "url", Reason: fmt.Sprintf("%q is not an absolute http(s) URL", c.URL)})
	}
	if strings.TrimSpace(c.Output) == "" {
		errs = append(errs, &crawler.ConfigError{Field: "output", Reason: "must not be empty"})
	}
	if c.MaxPages <= 0 {
		errs = append(errs, &crawler.ConfigError{Field: "max_pages", Reason: "must be > 0"})
	}
	if c.Delay < 0 {
		errs = append(errs, &crawler.ConfigError{Field: "delay", Reason: "must be >= 0"})
	}
	if c.Selenium && c.NoSelenium {
		errs = append(errs, &crawler.ConfigError{Field: "selenium", Reason: "--selenium and --no-selenium are mutually exclusive"})
	}
	if c.Workers <= 0 {
		errs = append(errs, &crawler.ConfigError{Field: "workers", Reason: "must be > 0"})
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, &crawler.ConfigError{Field: "request_timeout", Reason: "must be > 0"})
	}
	if c.MaxBodyBytes < 0 {
		errs = append(errs, &crawler.ConfigError{Field: "max_body_bytes", Reason: "must be >= 0"})
	}
	if c.Render.MaxParallel <= 0 {
		errs = append(errs, &crawler.ConfigError{Field: "render.max_parallel", Reason: "must be > 0"})
	}
	if c.Render.QPS < 0 {
		errs = append(errs, &crawler.ConfigError{Field: "render.qps", Reason: "must be >= 0"})
	}
	return errors.Join(errs...)
}

// DelayDuration converts the delay in seconds to a duration.
func (c Config) DelayDuration() time.Duration {
	return time.Duration(c.Delay * float64(time.Second))
}

// RenderPreference maps the --selenium/--no-selenium pair and
// render.selective to a preference.
func (c Config) RenderPreference() crawler.RenderPreference {
	switch {
	case c.NoSelenium:
		return crawler.RenderDisabled
	case c.Selenium:
		return crawler.RenderForce
	case c.Render.Selective:
		return crawler.RenderSelective
	default:
		return crawler.RenderAuto
	}
}
