package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"threadcrawl/pkg/config"
	"threadcrawl/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage threadcrawl configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (THREADCRAWL_*, also read from a .env file)
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file will be created in the current directory as 'threadcrawl.yaml'
unless a different path is specified with the --config flag.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Show the effective configuration after merging every source.

Secrets are masked.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate a configuration file for syntax errors and invalid values.

This command checks:
  - YAML syntax
  - Value ranges and known names
  - Output and log directory accessibility`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

const exampleConfig = `# threadcrawl configuration file
#
# Every value can also be set with an environment variable prefixed with
# THREADCRAWL_, for example THREADCRAWL_CLIENT_ID or THREADCRAWL_OUT_DIR.

# API application credentials. Leave empty to use an account stored with
# 'threadcrawl auth login'.
reddit:
  client_id: ""
  client_secret: ""
  username: ""
  password: ""
  user_agent: "threadcrawl/1.0"
  api_base_url: "https://oauth.reddit.com"
  token_url: "https://www.reddit.com/api/v1/access_token"
  timeout: 30s
  # http://, https:// or socks5:// proxy
  proxy_url: ""
  # stored account to use; empty selects the first one
  account: ""

auth:
  # bearer token cache
  token_cache: "token.txt"
  # refresh the token this long before it expires
  refresh_margin: 10m

# Request quota shared by every run that uses the same ledger file
rate_limit:
  ceiling: 1000
  window: 10m
  ledger_path: "requestlog.txt"
  # added to every quota sleep
  safety_margin: 100ms
  # commit pending calls to the ledger after this many calls
  commit_every: 50
  # in full mode, space calls evenly until the quota window refills
  spread_full: true
  # client-side pacing; 0 disables it
  requests_per_second: 0
  burst: 1

crawl:
  page_size: 100
  tree_depth: 10
  tree_limit: 500
  # parallel comment tree fetches
  concurrency: 8
  # new, hot, top, rising
  sort: "new"

output:
  directory: "./data_outputs"
  indent: false

# Sentiment and language annotations: none, gemini, ollama
enrich:
  provider: "none"
  sentiment_model: "gemini-2.5-flash"
  embedding_model: "text-embedding-004"
  # ollama base URL
  endpoint: ""
  api_key: ""
  concurrency: 4
  max_attempts: 3
  timeout: 30s
  detect_languages: false

# Optional SQL archive of every crawl: sqlite or postgres
archive:
  driver: "sqlite"
  dsn: ""

metrics:
  # serve /metrics on this address during a run, e.g. ":9090"
  listen_address: ""
  # write a node_exporter textfile when the run ends
  textfile_path: ""

logging:
  # debug, info, warn, error, quiet
  level: "info"
  # console or json
  format: "console"
  file: ""
  no_color: false
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = "threadcrawl.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		ui.PrintError("Configuration file already exists", configPath)
		fmt.Println("\nTo overwrite, first remove the existing file:")
		fmt.Printf("  rm %s\n", configPath)
		return fmt.Errorf("%s already exists", configPath)
	}

	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	// 0600: the file is meant to hold the client secret.
	if err := os.WriteFile(configPath, []byte(exampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Add your application credentials or run 'threadcrawl auth login'")
	fmt.Println("2. Run 'threadcrawl config validate' to check the configuration")
	fmt.Println("3. Start crawling with 'threadcrawl crawl <subreddit>'")
	return nil
}

// maskSecret keeps the first and last four characters of long values.
func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) > 8:
		return s[:4] + "..." + s[len(s)-4:]
	default:
		return "***"
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, globalFlags(cmd))
	if err != nil {
		return err
	}

	display := *cfg
	display.Reddit.ClientSecret = maskSecret(display.Reddit.ClientSecret)
	display.Reddit.Password = maskSecret(display.Reddit.Password)
	display.Enrich.APIKey = maskSecret(display.Enrich.APIKey)

	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Printf("2. Environment variables (%s*)\n", config.EnvPrefix)
	if configFile != "" {
		fmt.Printf("3. Configuration file: %s\n", configFile)
	} else {
		fmt.Println("3. Configuration file: (first found of the default locations)")
	}
	fmt.Println("4. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		for _, loc := range config.ConfigFileLocations() {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
		if path == "" {
			ui.PrintError("No configuration file found", "Specify a file with --config flag")
			return errors.New("no configuration file found")
		}
	}

	ui.PrintInfo("Validating configuration", path)

	// Load runs Validate.
	cfg, err := config.Load(path, nil)
	if err != nil {
		ui.PrintError("Configuration validation failed", err.Error())
		return err
	}

	var problems, warnings []string

	if cfg.Reddit.ClientID == "" {
		warnings = append(warnings, "no client_id configured; a stored account will be used")
	} else if cfg.Reddit.ClientSecret == "" || cfg.Reddit.Username == "" || cfg.Reddit.Password == "" {
		problems = append(problems, "client_id is set but client_secret, username or password is missing")
	}

	if cfg.Output.Directory != "" {
		if err := os.MkdirAll(cfg.Output.Directory, 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create output directory: %v", err))
		}
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create log directory: %v", err))
		}
	}
	if cfg.Enrich.Provider == "gemini" && cfg.Enrich.APIKey == "" && os.Getenv("GEMINI_API_KEY") == "" && os.Getenv("GOOGLE_API_KEY") == "" {
		warnings = append(warnings, "gemini enrichment without an api_key; GEMINI_API_KEY must be set at run time")
	}

	if len(problems) > 0 {
		ui.PrintError("Configuration has errors")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		return fmt.Errorf("%d configuration errors", len(problems))
	}

	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
		fmt.Println()
	}

	ui.PrintSuccess("Configuration is valid")

	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Output directory: %s\n", cfg.Output.Directory)
	fmt.Printf("  Quota: %d calls per %s (ledger %s)\n", cfg.RateLimit.Ceiling, cfg.RateLimit.Window, cfg.RateLimit.LedgerPath)
	fmt.Printf("  Tree concurrency: %d\n", cfg.Crawl.Concurrency)
	fmt.Printf("  Enrichment: %s\n", cfg.Enrich.Provider)
	if cfg.Archive.DSN != "" {
		fmt.Printf("  Archive: %s\n", cfg.Archive.Driver)
	}
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
	return nil
}
