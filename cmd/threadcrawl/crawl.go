package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"threadcrawl/pkg/crawler"
	"threadcrawl/pkg/logger"
	"threadcrawl/pkg/ui"
)

// crawlCmd represents the crawl command
var crawlCmd = &cobra.Command{
	Use:   "crawl <subreddit>",
	Short: "Crawl posts and comment trees from one subreddit",
	Long: `Crawl posts from a subreddit and resolve their complete comment trees.

Modes:
  full    collect the whole listing; waits whenever the quota runs out
  count   collect --count posts; --burst-mode decides what happens when the
          quota runs out: 'end' stops and keeps what was collected, 'sleep'
          waits for the window to refill

The result is written to <out-dir>/<out>, by default <subreddit>_data.json.`,
	Example: `  # Collect the 200 newest posts, stopping if the quota runs out
  threadcrawl crawl golang --mode count --count 200 --burst-mode end

  # Collect the whole listing into a custom file
  threadcrawl crawl golang --mode full --out golang_all.json

  # Same, with flags only
  threadcrawl crawl --subreddit golang --mode full`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCrawl,
}

func init() {
	rootCmd.AddCommand(crawlCmd)
	crawlCmd.Flags().AddFlagSet(crawler.NewFlagSet("crawl"))
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runCrawl(cmd *cobra.Command, args []string) error {
	task, err := crawler.TaskFromFlags(cmd.Flags())
	if err != nil {
		return err
	}
	if len(args) == 1 {
		task.Subreddit = args[0]
	}

	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("sort") {
		task.Sort = cfg.Crawl.Sort
	}
	task.Normalize()
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	ctx, stop := signalContext()
	defer stop()

	display := ui.NewProgressDisplay(1, cfg.Logging.Level == "debug")
	a, err := newApp(ctx, cfg, display)
	if err != nil {
		return err
	}
	defer a.close()

	ui.PrintInfo("Subreddit", "r/"+task.Subreddit)
	ui.PrintInfo("Mode", fmt.Sprintf("%s (%s)", task.Mode, task.BurstMode))
	ui.PrintInfo("Output", a.storage.GetOutputDir())
	for _, w := range task.Warnings {
		ui.PrintWarning(w)
	}

	res := a.runner.Run(ctx, task)
	logger.LogMetrics("crawl", map[string]interface{}{
		"task_id":  res.TaskID,
		"requests": res.Requests,
		"posts":    res.Posts,
		"comments": res.Comments,
	})

	if !res.Success {
		return fmt.Errorf("crawl of r/%s failed at %s", task.Subreddit, res.Stage)
	}
	if res.Partial {
		ui.PrintWarning("Quota ran out before the crawl finished; the output is partial")
	}
	ui.PrintSuccess(fmt.Sprintf("Saved %s", res.OutputPath))
	return nil
}
