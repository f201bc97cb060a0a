package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"threadcrawl/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile    string
	logLevel      string
	outDir        string
	accountName   string
	ledgerPath    string
	noColor       bool
	quiet         bool
	notifications bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "threadcrawl",
	Short: "Crawl subreddit posts and their full comment trees within the API quota",
	Long: `threadcrawl collects posts from a subreddit together with their complete
comment trees, expanding every "load more comments" placeholder.

Every call is admitted against a rolling request quota kept in a ledger file
shared by all runs, so batch jobs never exceed the API limit.

Features:
  - Full and count crawl modes with end-or-sleep quota handling
  - Batch files with checkpointed resume
  - Per-user and per-word statistics in every output file
  - Optional sentiment, embedding and language enrichment
  - Optional SQLite or Postgres archive of crawled trees
  - Prometheus metrics endpoint or textfile`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if quiet || logLevel == "quiet" || logLevel == "error" {
			ui.SetQuiet(true)
		}
		if noColor || os.Getenv("NO_COLOR") != "" {
			ui.DisableColor()
		}

		if cmd.Name() != "version" && cmd.Name() != "help" && cmd.Name() != "quota" {
			ui.PrintLogo()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default: ./threadcrawl.yaml or ~/.config/threadcrawl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error, quiet)")
	rootCmd.PersistentFlags().StringVarP(&outDir, "out-dir", "o", "", "output directory (default: ./data_outputs)")
	rootCmd.PersistentFlags().StringVarP(&accountName, "account", "a", "", "use a specific stored account")
	rootCmd.PersistentFlags().StringVar(&ledgerPath, "ledger", "", "request ledger file shared by all runs")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&notifications, "notifications", false, "send a desktop notification when a batch finishes")

	rootCmd.SetVersionTemplate(`threadcrawl {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// globalFlags collects the global flags that were set explicitly.
func globalFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	set := func(name string, value interface{}) {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			flags[name] = value
		}
	}
	set("out-dir", outDir)
	set("log-level", logLevel)
	set("no-color", noColor)
	set("account", accountName)
	set("ledger", ledgerPath)
	if quiet {
		flags["log-level"] = "quiet"
	}
	return flags
}
