package main

import (
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"threadcrawl/pkg/checkpoint"
	"threadcrawl/pkg/crawler"
	"threadcrawl/pkg/ui"
)

var (
	resumeBatch  bool
	forceRestart bool
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Run the crawl tasks listed in a batch file",
	Long: `Run crawl tasks one after another. A failing task does not stop the batch.

The file is either comma-separated task commands:

  --subreddit=golang --mode=count --count=100, --subreddit=rust --mode=full

or YAML:

  tasks:
    - subreddit: golang
      mode: count
      count: 100
    - subreddit: rust
      mode: full

Batch tasks always wait for the quota to refill. A manifest with totals and
per-stage counts is written to <out-dir>/batch_manifest.json.`,
	Example: `  # Run a batch
  threadcrawl batch tasks.txt

  # Resume after an interruption, skipping finished tasks
  threadcrawl batch tasks.txt --resume

  # Ignore an existing checkpoint
  threadcrawl batch tasks.txt --force-restart`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().BoolVar(&resumeBatch, "resume", false, "skip tasks finished by an earlier run of this file")
	batchCmd.Flags().BoolVar(&forceRestart, "force-restart", false, "discard the checkpoint of this file")
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]

	tasks, err := crawler.LoadBatchFile(file)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	display := ui.NewProgressDisplay(len(tasks), cfg.Logging.Level == "debug")
	a, err := newApp(ctx, cfg, display)
	if err != nil {
		return err
	}
	defer a.close()

	cp, err := checkpoint.NewManager(file)
	if err != nil {
		return err
	}
	batchID := ulid.Make().String()
	if _, err := cp.Resume(file, batchID, forceRestart || !resumeBatch); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}

	ui.PrintInfo("Batch", file)
	ui.PrintInfo("Tasks", fmt.Sprintf("%d", len(tasks)))

	batch := crawler.NewBatch(a.runner,
		crawler.WithProgress(cp),
		crawler.WithSource(file),
		crawler.WithBatchLogger(a.log),
	)
	batch.ID = batchID
	manifest := batch.Run(ctx, tasks)

	path, err := a.storage.WriteManifest(manifest)
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	display.Complete(manifest)
	ui.PrintInfo("Manifest", path)

	if notifications {
		ui.NewNotifier().NotifyBatch(manifest)
	}

	if !manifest.Interrupted && manifest.Failed == 0 {
		if err := cp.Delete(); err != nil {
			a.log.WithError(err).Warn("Failed to delete checkpoint")
		}
	}
	if manifest.Interrupted {
		return fmt.Errorf("batch interrupted after %d of %d tasks", len(manifest.Tasks), manifest.Total)
	}
	return nil
}
