// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Run        RunConfig        `mapstructure:"run"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Output     OutputConfig     `mapstructure:"output"`
	Warehouse  WarehouseConfig  `mapstructure:"warehouse"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Ops        OpsConfig        `mapstructure:"ops"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Categories []CategoryConfig `mapstructure:"categories"`
}

// RunConfig identifies the deployment's region, store, and wall-clock budget.
type RunConfig struct {
	Region          string `mapstructure:"region"`
	Store           string `mapstructure:"store"`
	StoreURL        string `mapstructure:"store_url"`
	BaseURL         string `mapstructure:"base_url"`
	DispensariesURL string `mapstructure:"dispensaries_url"`
	BudgetSeconds   int    `mapstructure:"budget_seconds"`
}

// CrawlerConfig governs pagination, politeness, and the headless browser.
type CrawlerConfig struct {
	Concurrency       int     `mapstructure:"concurrency"`
	MaxPages          int     `mapstructure:"max_pages"`
	DelayMinMs        int     `mapstructure:"delay_min_ms"`
	DelayMaxMs        int     `mapstructure:"delay_max_ms"`
	UserAgent         string  `mapstructure:"user_agent"`
	NavTimeoutSeconds int     `mapstructure:"nav_timeout_seconds"`
	HostQPS           float64 `mapstructure:"host_qps"`
}

// RetryConfig parameterizes the shared backoff policy.
type RetryConfig struct {
	MaxRetries  int `mapstructure:"max_retries"`
	BaseDelayMs int `mapstructure:"base_delay_ms"`
	MaxDelayMs  int `mapstructure:"max_delay_ms"`
}

// OutputConfig sets where CSV artifacts land.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// WarehouseConfig controls access to Postgres. An empty DSN disables the
// warehouse writer.
type WarehouseConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// ArchiveConfig controls artifact mirroring. An empty bucket disables it.
type ArchiveConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for the run summary event. An empty topic
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// OpsConfig controls the operational HTTP endpoints.
type OpsConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features and optional file output.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	FilePath    string `mapstructure:"file_path"`
}

// CategoryConfig is one crawl target.
type CategoryConfig struct {
	URL          string `mapstructure:"url"`
	Subcategory  string `mapstructure:"subcategory"`
	OutputPrefix string `mapstructure:"output_prefix"`
	TargetTable  string `mapstructure:"target_table"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MENUCRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run.region", "FL")
	v.SetDefault("run.base_url", "https://www.trulieve.com")
	v.SetDefault("run.dispensaries_url", "https://www.trulieve.com/dispensaries")
	v.SetDefault("run.budget_seconds", 1800)
	v.SetDefault("crawler.concurrency", 2)
	v.SetDefault("crawler.max_pages", 50)
	v.SetDefault("crawler.delay_min_ms", 700)
	v.SetDefault("crawler.delay_max_ms", 1500)
	v.SetDefault("crawler.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	v.SetDefault("crawler.nav_timeout_seconds", 45)
	v.SetDefault("crawler.host_qps", 0.5)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay_ms", 500)
	v.SetDefault("retry.max_delay_ms", 5000)
	v.SetDefault("output.dir", "data/menus")
	v.SetDefault("archive.prefix", "menus")
	v.SetDefault("ops.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("categories", []map[string]any{
		{
			"url":           "/category/flower/whole-flower",
			"subcategory":   "Whole Flower",
			"output_prefix": "trulieve_FL_whole_flower",
			"target_table":  "tl_scrape_whole_flower",
		},
		{
			"url":           "/category/flower/pre-rolls",
			"subcategory":   "Pre-Rolls",
			"output_prefix": "trulieve_FL_pre_rolls",
			"target_table":  "tl_scrape_pre_rolls",
		},
		{
			"url":           "/category/flower/minis",
			"subcategory":   "Ground & Shake",
			"output_prefix": "trulieve_FL_ground_shake",
			"target_table":  "tl_scrape_ground_shake",
		},
	})
}

// Validate enforces every fatal pre-flight condition: a run aborts here
// before any crawling begins.
func (c Config) Validate() error {
	if len(c.Categories) == 0 {
		return fmt.Errorf("categories must not be empty")
	}
	for i, cat := range c.Categories {
		if cat.URL == "" || cat.Subcategory == "" || cat.OutputPrefix == "" || cat.TargetTable == "" {
			return fmt.Errorf("categories[%d] requires url, subcategory, output_prefix, target_table", i)
		}
	}
	if c.Run.Store == "" {
		return fmt.Errorf("run.store is required")
	}
	if c.Run.StoreURL == "" {
		return fmt.Errorf("run.store_url is required")
	}
	if c.Run.BudgetSeconds <= 0 {
		return fmt.Errorf("run.budget_seconds must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.DelayMinMs < 0 || c.Crawler.DelayMaxMs < c.Crawler.DelayMinMs {
		return fmt.Errorf("crawler.delay_min_ms/delay_max_ms must form a non-negative range")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if c.Retry.BaseDelayMs <= 0 || c.Retry.MaxDelayMs < c.Retry.BaseDelayMs {
		return fmt.Errorf("retry.base_delay_ms/max_delay_ms must form a positive range")
	}
	if c.Ops.Port <= 0 {
		return fmt.Errorf("ops.port must be > 0")
	}
	return nil
}

// Budget returns the wall-clock run budget.
func (c Config) Budget() time.Duration {
	return time.Duration(c.Run.BudgetSeconds) * time.Second
}

// Delays returns the politeness delay range.
func (c Config) Delays() (time.Duration, time.Duration) {
	return time.Duration(c.Crawler.DelayMinMs) * time.Millisecond,
		time.Duration(c.Crawler.DelayMaxMs) * time.Millisecond
}

// NavTimeout returns the per-navigation browser timeout.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Crawler.NavTimeoutSeconds) * time.Second
}

// RetryDelays returns the backoff base and cap.
func (c Config) RetryDelays() (time.Duration, time.Duration) {
	return time.Duration(c.Retry.BaseDelayMs) * time.Millisecond,
		time.Duration(c.Retry.MaxDelayMs) * time.Millisecond
}
