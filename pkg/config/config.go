package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Mode selects between a full-range crawl and a checkpoint-bounded one.
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// Config holds all configuration options for the forum scraper
type Config struct {
	// Source endpoint settings
	Source SourceConfig `yaml:"source" json:"source"`

	// Crawl loop settings
	Crawl CrawlConfig `yaml:"crawl" json:"crawl"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Retry/backoff configuration
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// SourceConfig holds forum endpoint configuration
type SourceConfig struct {
	BaseURL   string        `yaml:"base_url" json:"base_url"`
	ListPath  string        `yaml:"list_path" json:"list_path"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	// Headless is a pass-through toggle for deployments that front the
	// source with a rendering proxy. The crawler itself never reads it.
	Headless bool `yaml:"headless" json:"headless"`
}

// CrawlConfig holds crawl loop configuration
type CrawlConfig struct {
	Mode      string `yaml:"mode" json:"mode"`
	StartDate string `yaml:"start_date" json:"start_date"` // YYYY-MM-DD, inclusive boundary
	MaxPages  int    `yaml:"max_pages" json:"max_pages"`   // 0 = unbounded
	MaxPosts  int    `yaml:"max_posts" json:"max_posts"`   // 0 = unbounded
	// IncludeUnparsedDates keeps posts whose publish time cannot be
	// resolved instead of excluding them as out-of-range.
	IncludeUnparsedDates bool `yaml:"include_unparsed_dates" json:"include_unparsed_dates"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	QPS       float64 `yaml:"qps" json:"qps"`
	Burst     int     `yaml:"burst" json:"burst"`
	JitterMin float64 `yaml:"jitter_min" json:"jitter_min"`
	JitterMax float64 `yaml:"jitter_max" json:"jitter_max"`
}

// RetryConfig holds retry/backoff configuration
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base" json:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max" json:"backoff_max"`
}

// OutputConfig holds data directory configuration
type OutputConfig struct {
	DataDir       string `yaml:"data_dir" json:"data_dir"`
	DatasetFile   string `yaml:"dataset_file" json:"dataset_file"`
	ExportDataset bool   `yaml:"export_dataset" json:"export_dataset"`
	MetricsFile   string `yaml:"metrics_file" json:"metrics_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			BaseURL:   "https://m.ydl.com",
			ListPath:  "/ask",
			UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 14_7_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.2 Mobile/15E148 Safari/604.1",
			Timeout:   30 * time.Second,
			Headless:  true,
		},
		Crawl: CrawlConfig{
			Mode:     ModeFull,
			MaxPages: 3000,
			MaxPosts: 0,
		},
		RateLimit: RateLimitConfig{
			QPS:       0.5,
			Burst:     2,
			JitterMin: 0.1,
			JitterMax: 0.3,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BackoffBase: 1 * time.Second,
			BackoffMax:  60 * time.Second,
		},
		Output: OutputConfig{
			DataDir:       "data",
			DatasetFile:   "dataset.jsonl",
			ExportDataset: true,
			MetricsFile:   "logs/metrics.jsonl",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if baseURL := os.Getenv("ASKSCRAPER_BASE_URL"); baseURL != "" {
		c.Source.BaseURL = baseURL
	}
	if userAgent := os.Getenv("ASKSCRAPER_USER_AGENT"); userAgent != "" {
		c.Source.UserAgent = userAgent
	}
	if mode := os.Getenv("ASKSCRAPER_MODE"); mode != "" {
		c.Crawl.Mode = mode
	}
	if qps := os.Getenv("ASKSCRAPER_QPS"); qps != "" {
		var val float64
		fmt.Sscanf(qps, "%g", &val)
		if val > 0 {
			c.RateLimit.QPS = val
		}
	}
	if burst := os.Getenv("ASKSCRAPER_BURST"); burst != "" {
		var val int
		fmt.Sscanf(burst, "%d", &val)
		if val > 0 {
			c.RateLimit.Burst = val
		}
	}
	if dataDir := os.Getenv("ASKSCRAPER_DATA_DIR"); dataDir != "" {
		c.Output.DataDir = dataDir
	}
	if logLevel := os.Getenv("ASKSCRAPER_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".askscraper.yaml",
		".askscraper.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "askscraper", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "askscraper", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".askscraper.yaml"),
		filepath.Join(os.Getenv("HOME"), ".askscraper.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// StartDate parses the configured start-date boundary. A zero time is
// returned when no boundary is configured.
func (c *Config) StartDate() (time.Time, error) {
	if c.Crawl.StartDate == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation("2006-01-02", c.Crawl.StartDate, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start date %q: %w", c.Crawl.StartDate, err)
	}
	return t, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Source.BaseURL == "" {
		errs = append(errs, errors.New("source base URL is required"))
	}
	if c.Source.Timeout <= 0 {
		errs = append(errs, errors.New("source timeout must be positive"))
	}

	if c.Crawl.Mode != ModeFull && c.Crawl.Mode != ModeIncremental {
		errs = append(errs, fmt.Errorf("invalid crawl mode %q", c.Crawl.Mode))
	}
	if c.Crawl.MaxPages < 0 {
		errs = append(errs, errors.New("max pages cannot be negative"))
	}
	if c.Crawl.MaxPosts < 0 {
		errs = append(errs, errors.New("max posts cannot be negative"))
	}
	if _, err := c.StartDate(); err != nil {
		errs = append(errs, err)
	}

	if c.RateLimit.QPS <= 0 {
		errs = append(errs, errors.New("qps must be positive"))
	}
	if c.RateLimit.Burst < 1 {
		errs = append(errs, errors.New("burst must be at least 1"))
	}
	if c.RateLimit.JitterMin < 0 || c.RateLimit.JitterMax < c.RateLimit.JitterMin {
		errs = append(errs, errors.New("jitter range is invalid"))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry max attempts must be at least 1"))
	}
	if c.Retry.BackoffBase <= 0 {
		errs = append(errs, errors.New("backoff base must be positive"))
	}

	if c.Output.DataDir == "" {
		errs = append(errs, errors.New("data directory is required"))
	}
	if c.Output.DatasetFile == "" {
		errs = append(errs, errors.New("dataset file name is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeFlags merges command line flag values into the configuration
func (c *Config) MergeFlags(flags map[string]interface{}) {
	if mode, ok := flags["mode"].(string); ok && mode != "" {
		c.Crawl.Mode = mode
	}
	if startDate, ok := flags["start-date"].(string); ok && startDate != "" {
		c.Crawl.StartDate = startDate
	}
	if maxPages, ok := flags["max-pages"].(int); ok && maxPages >= 0 {
		c.Crawl.MaxPages = maxPages
	}
	if maxPosts, ok := flags["max-posts"].(int); ok && maxPosts >= 0 {
		c.Crawl.MaxPosts = maxPosts
	}
	if qps, ok := flags["qps"].(float64); ok && qps > 0 {
		c.RateLimit.QPS = qps
	}
	if burst, ok := flags["burst"].(int); ok && burst > 0 {
		c.RateLimit.Burst = burst
	}
	if dataDir, ok := flags["data-dir"].(string); ok && dataDir != "" {
		c.Output.DataDir = dataDir
	}
	if export, ok := flags["export"].(bool); ok {
		c.Output.ExportDataset = export
	}
	if headless, ok := flags["headless"].(bool); ok {
		c.Source.Headless = headless
	}
	if includeUnparsed, ok := flags["include-unparsed-dates"].(bool); ok {
		c.Crawl.IncludeUnparsedDates = includeUnparsed
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".askscraper.env"))

	// Start with defaults
	config := DefaultConfig()

	// Load from config file
	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Override with command line flags
	config.MergeFlags(flags)

	// Validate final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
