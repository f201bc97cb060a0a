package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "THREADCRAWL_"

// Config holds every option of the crawler.
type Config struct {
	Reddit    RedditConfig    `yaml:"reddit" json:"reddit"`
	Auth      AuthConfig      `yaml:"auth" json:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Crawl     CrawlConfig     `yaml:"crawl" json:"crawl"`
	Output    OutputConfig    `yaml:"output" json:"output"`
	Enrich    EnrichConfig    `yaml:"enrich" json:"enrich"`
	Archive   ArchiveConfig   `yaml:"archive" json:"archive"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// RedditConfig holds the API application credentials and endpoints.
type RedditConfig struct {
	ClientID     string        `yaml:"client_id" json:"client_id"`
	ClientSecret string        `yaml:"client_secret" json:"client_secret"`
	Username     string        `yaml:"username" json:"username"`
	Password     string        `yaml:"password" json:"password"`
	UserAgent    string        `yaml:"user_agent" json:"user_agent"`
	APIBaseURL   string        `yaml:"api_base_url" json:"api_base_url"`
	TokenURL     string        `yaml:"token_url" json:"token_url"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	ProxyURL     string        `yaml:"proxy_url" json:"proxy_url"`
	Account      string        `yaml:"account" json:"account"`
}

// AuthConfig controls the bearer token cache.
type AuthConfig struct {
	TokenCache    string        `yaml:"token_cache" json:"token_cache"`
	RefreshMargin time.Duration `yaml:"refresh_margin" json:"refresh_margin"`
}

// RateLimitConfig describes the shared request quota.
type RateLimitConfig struct {
	Ceiling           int           `yaml:"ceiling" json:"ceiling"`
	Window            time.Duration `yaml:"window" json:"window"`
	LedgerPath        string        `yaml:"ledger_path" json:"ledger_path"`
	SafetyMargin      time.Duration `yaml:"safety_margin" json:"safety_margin"`
	CommitEvery       int           `yaml:"commit_every" json:"commit_every"`
	SpreadFull        bool          `yaml:"spread_full" json:"spread_full"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int           `yaml:"burst" json:"burst"`
}

// CrawlConfig holds listing and tree fetch parameters.
type CrawlConfig struct {
	PageSize    int    `yaml:"page_size" json:"page_size"`
	TreeDepth   int    `yaml:"tree_depth" json:"tree_depth"`
	TreeLimit   int    `yaml:"tree_limit" json:"tree_limit"`
	Concurrency int    `yaml:"concurrency" json:"concurrency"`
	Sort        string `yaml:"sort" json:"sort"`
}

// OutputConfig holds the output directory.
type OutputConfig struct {
	Directory string `yaml:"directory" json:"directory"`
	Indent    bool   `yaml:"indent" json:"indent"`
}

// EnrichConfig selects the text enrichment provider.
type EnrichConfig struct {
	Provider        string        `yaml:"provider" json:"provider"`
	SentimentModel  string        `yaml:"sentiment_model" json:"sentiment_model"`
	EmbeddingModel  string        `yaml:"embedding_model" json:"embedding_model"`
	Endpoint        string        `yaml:"endpoint" json:"endpoint"`
	APIKey          string        `yaml:"api_key" json:"api_key"`
	Concurrency     int           `yaml:"concurrency" json:"concurrency"`
	MaxAttempts     int           `yaml:"max_attempts" json:"max_attempts"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout"`
	DetectLanguages bool          `yaml:"detect_languages" json:"detect_languages"`
}

// ArchiveConfig enables the SQL archive of crawled trees.
type ArchiveConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

// MetricsConfig exposes run metrics.
type MetricsConfig struct {
	ListenAddress string `yaml:"listen_address" json:"listen_address"`
	TextfilePath  string `yaml:"textfile_path" json:"textfile_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `yaml:"level" json:"level"`
	File    string `yaml:"file" json:"file"`
	Format  string `yaml:"format" json:"format"`
	NoColor bool   `yaml:"no_color" json:"no_color"`
}

// DefaultConfig returns a Config instance with the quota and fetch
// parameters of the public API.
func DefaultConfig() *Config {
	return &Config{
		Reddit: RedditConfig{
			UserAgent:  "threadcrawl/1.0",
			APIBaseURL: "https://oauth.reddit.com",
			TokenURL:   "https://www.reddit.com/api/v1/access_token",
			Timeout:    30 * time.Second,
		},
		Auth: AuthConfig{
			TokenCache:    "token.txt",
			RefreshMargin: 600 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Ceiling:           1000,
			Window:            10 * time.Minute,
			LedgerPath:        "requestlog.txt",
			SafetyMargin:      100 * time.Millisecond,
			CommitEvery:       50,
			SpreadFull:        true,
			RequestsPerSecond: 0,
			Burst:             1,
		},
		Crawl: CrawlConfig{
			PageSize:    100,
			TreeDepth:   10,
			TreeLimit:   500,
			Concurrency: 8,
			Sort:        "new",
		},
		Output: OutputConfig{
			Directory: "./data_outputs",
		},
		Enrich: EnrichConfig{
			Provider:       "none",
			SentimentModel: "gemini-2.5-flash",
			EmbeddingModel: "text-embedding-004",
			Concurrency:    4,
			MaxAttempts:    3,
			Timeout:        30 * time.Second,
		},
		Archive: ArchiveConfig{
			Driver: "sqlite",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	// Variable names used by earlier versions of the pipeline.
	setString(&c.Reddit.ClientID, "REDDIT_CLIENTID")
	setString(&c.Reddit.ClientSecret, "REDDIT_SECRET")
	setString(&c.Reddit.Username, "REDDIT_USERNAME")
	setString(&c.Reddit.Password, "REDDIT_PASSWORD")

	setString(&c.Reddit.ClientID, EnvPrefix+"CLIENT_ID")
	setString(&c.Reddit.ClientSecret, EnvPrefix+"CLIENT_SECRET")
	setString(&c.Reddit.Username, EnvPrefix+"USERNAME")
	setString(&c.Reddit.Password, EnvPrefix+"PASSWORD")
	setString(&c.Reddit.UserAgent, EnvPrefix+"USER_AGENT")
	setString(&c.Reddit.APIBaseURL, EnvPrefix+"API_BASE_URL")
	setString(&c.Reddit.TokenURL, EnvPrefix+"TOKEN_URL")
	setString(&c.Reddit.ProxyURL, EnvPrefix+"PROXY_URL")
	setString(&c.Reddit.Account, EnvPrefix+"ACCOUNT")
	setString(&c.Auth.TokenCache, EnvPrefix+"TOKEN_CACHE")
	setString(&c.RateLimit.LedgerPath, EnvPrefix+"LEDGER_PATH")
	setString(&c.Output.Directory, EnvPrefix+"OUT_DIR")
	setString(&c.Enrich.Provider, EnvPrefix+"ENRICH_PROVIDER")
	setString(&c.Enrich.Endpoint, EnvPrefix+"ENRICH_ENDPOINT")
	setString(&c.Enrich.APIKey, "GOOGLE_API_KEY")
	setString(&c.Enrich.APIKey, EnvPrefix+"ENRICH_API_KEY")
	setString(&c.Archive.Driver, EnvPrefix+"ARCHIVE_DRIVER")
	setString(&c.Archive.DSN, EnvPrefix+"ARCHIVE_DSN")
	setString(&c.Metrics.ListenAddress, EnvPrefix+"METRICS_ADDR")
	setString(&c.Logging.Level, EnvPrefix+"LOG_LEVEL")
	setString(&c.Logging.File, EnvPrefix+"LOG_FILE")

	if err := setInt(&c.RateLimit.Ceiling, EnvPrefix+"QUOTA_CEILING"); err != nil {
		errs = append(errs, err)
	}
	if err := setInt(&c.Crawl.Concurrency, EnvPrefix+"CONCURRENCY"); err != nil {
		errs = append(errs, err)
	}
	if err := setDuration(&c.RateLimit.Window, EnvPrefix+"QUOTA_WINDOW"); err != nil {
		errs = append(errs, err)
	}
	if v := os.Getenv(EnvPrefix + "REQUESTS_PER_SECOND"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sREQUESTS_PER_SECOND: %w", EnvPrefix, err))
		} else {
			c.RateLimit.RequestsPerSecond = rps
		}
	}

	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

// LoadFromFile loads configuration from a YAML file. An empty path searches
// the default locations and is not an error when none exists.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return nil
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

// ConfigFileLocations lists the files searched when no --config is given,
// in order of precedence.
func ConfigFileLocations() []string {
	home, _ := os.UserHomeDir()
	return []string{
		"threadcrawl.yaml",
		".threadcrawl.yaml",
		".threadcrawl.yml",
		filepath.Join(home, ".config", "threadcrawl", "config.yaml"),
		filepath.Join(home, ".threadcrawl.yaml"),
	}
}

func findConfigFile() string {
	for _, loc := range ConfigFileLocations() {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}

var (
	validSorts     = map[string]bool{"new": true, "hot": true, "top": true, "rising": true}
	validProviders = map[string]bool{"none": true, "gemini": true, "ollama": true}
	validDrivers   = map[string]bool{"sqlite": true, "postgres": true}
	validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "quiet": true}
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Reddit.APIBaseURL == "" {
		errs = append(errs, errors.New("api base url is required"))
	} else if _, err := url.Parse(c.Reddit.APIBaseURL); err != nil {
		errs = append(errs, fmt.Errorf("invalid api base url: %w", err))
	}
	if c.Reddit.TokenURL == "" {
		errs = append(errs, errors.New("token url is required"))
	}
	if c.Reddit.UserAgent == "" {
		errs = append(errs, errors.New("user agent is required"))
	}
	if c.Reddit.Timeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.Reddit.ProxyURL != "" {
		if u, err := url.Parse(c.Reddit.ProxyURL); err != nil || u.Scheme != "socks5" {
			errs = append(errs, errors.New("proxy url must be a socks5:// url"))
		}
	}

	if c.Auth.TokenCache == "" {
		errs = append(errs, errors.New("token cache path is required"))
	}
	if c.Auth.RefreshMargin < 0 {
		errs = append(errs, errors.New("refresh margin cannot be negative"))
	}

	if c.RateLimit.Ceiling <= 0 {
		errs = append(errs, errors.New("quota ceiling must be positive"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("quota window must be positive"))
	}
	if c.RateLimit.LedgerPath == "" {
		errs = append(errs, errors.New("ledger path is required"))
	}
	if c.RateLimit.SafetyMargin < 0 {
		errs = append(errs, errors.New("safety margin cannot be negative"))
	}
	if c.RateLimit.CommitEvery <= 0 {
		errs = append(errs, errors.New("commit_every must be positive"))
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("requests per second cannot be negative"))
	}

	if c.Crawl.PageSize <= 0 || c.Crawl.PageSize > 100 {
		errs = append(errs, errors.New("page size must be between 1 and 100"))
	}
	if c.Crawl.TreeDepth <= 0 {
		errs = append(errs, errors.New("tree depth must be positive"))
	}
	if c.Crawl.TreeLimit <= 0 {
		errs = append(errs, errors.New("tree limit must be positive"))
	}
	if c.Crawl.Concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be positive"))
	}
	if !validSorts[c.Crawl.Sort] {
		errs = append(errs, fmt.Errorf("invalid sort %q", c.Crawl.Sort))
	}

	if c.Output.Directory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}

	if !validProviders[strings.ToLower(c.Enrich.Provider)] {
		errs = append(errs, fmt.Errorf("invalid enrich provider %q", c.Enrich.Provider))
	}
	if c.Enrich.Concurrency <= 0 {
		errs = append(errs, errors.New("enrich concurrency must be positive"))
	}
	if c.Enrich.MaxAttempts <= 0 {
		errs = append(errs, errors.New("enrich max attempts must be positive"))
	}

	if c.Archive.DSN != "" && !validDrivers[c.Archive.Driver] {
		errs = append(errs, fmt.Errorf("invalid archive driver %q", c.Archive.Driver))
	}

	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// 0600: the file may carry the client secret and password.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags applies flag values collected by the CLI. Only keys
// that were explicitly set should be present in flags.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["out-dir"].(string); ok && v != "" {
		c.Output.Directory = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["no-color"].(bool); ok {
		c.Logging.NoColor = v
	}
	if v, ok := flags["account"].(string); ok && v != "" {
		c.Reddit.Account = v
	}
	if v, ok := flags["ledger"].(string); ok && v != "" {
		c.RateLimit.LedgerPath = v
	}
	if v, ok := flags["concurrency"].(int); ok && v > 0 {
		c.Crawl.Concurrency = v
	}
	if v, ok := flags["sort"].(string); ok && v != "" {
		c.Crawl.Sort = v
	}
	if v, ok := flags["enrich"].(string); ok && v != "" {
		c.Enrich.Provider = v
	}
	if v, ok := flags["archive"].(string); ok && v != "" {
		c.Archive.DSN = v
	}
	if v, ok := flags["metrics-addr"].(string); ok && v != "" {
		c.Metrics.ListenAddress = v
	}
	if v, ok := flags["requests-per-second"].(float64); ok && v >= 0 {
		c.RateLimit.RequestsPerSecond = v
	}
}

// Load loads configuration from all sources with proper precedence:
// flags > environment (including .env) > config file > defaults.
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	home, _ := os.UserHomeDir()
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(home, ".threadcrawl.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
