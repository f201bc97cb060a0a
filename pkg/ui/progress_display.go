package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"threadcrawl/pkg/crawler"
)

// ProgressDisplay prints one line per finished task and a closing summary
type ProgressDisplay struct {
	mu        sync.Mutex
	total     int
	finished  int
	failed    int
	partial   int
	posts     int
	comments  int
	requests  int
	startTime time.Time
	isDebug   bool
}

// NewProgressDisplay creates a display for total tasks
func NewProgressDisplay(total int, debug bool) *ProgressDisplay {
	return &ProgressDisplay{
		total:     total,
		startTime: time.Now(),
		isDebug:   debug,
	}
}

// TaskFinished records a task outcome and prints its line. Its signature
// matches crawler.WithResultHook.
func (p *ProgressDisplay) TaskFinished(res *crawler.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.finished++
	p.requests += res.Requests

	switch {
	case !res.Success:
		p.failed++
	case res.Partial:
		p.partial++
	}
	if res.Success {
		p.posts += res.Posts
		p.comments += res.Comments
	}

	printf("%s\n", p.line(res))
	if p.isDebug && len(res.Warnings) > 0 {
		for _, w := range res.Warnings {
			printf("    %s %s\n", Yellow("!"), Dim(w))
		}
	}
}

func (p *ProgressDisplay) line(res *crawler.Result) string {
	prefix := fmt.Sprintf("[%s] %d/%d", Bar(p.finished, p.total), p.finished, p.total)
	subject := Cyan("r/" + res.Subreddit)

	if !res.Success {
		reason := res.Stage
		msg := ""
		if len(res.Errors) > 0 {
			msg = truncate(res.Errors[0], 80)
		}
		return fmt.Sprintf("%s %s %s failed at %s • %s", prefix, Red("✗"), subject, reason, Dim(msg))
	}

	mark := Green("✓")
	if res.Partial {
		mark = Yellow("◐")
	}
	line := fmt.Sprintf("%s %s %s • %d posts • %d comments • %d calls",
		prefix, mark, subject, res.Posts, res.Comments, res.Requests)
	if res.Unresolved > 0 {
		line += " • " + Yellow(fmt.Sprintf("%d unresolved", res.Unresolved))
	}
	if res.OutputPath != "" {
		line += " • " + Dim(res.OutputPath)
	}
	return line
}

// Complete prints the summary of a batch
func (p *ProgressDisplay) Complete(manifest *crawler.Manifest) {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Since(p.startTime)

	printf("\n%s %d/%d tasks succeeded in %s\n",
		Green("✓"),
		manifest.Succeeded,
		manifest.Total,
		FormatDuration(elapsed),
	)
	printf("  %s %d posts • %d comments • %d calls\n", Dim("•"), p.posts, p.comments, p.requests)
	if manifest.Partial > 0 {
		printf("  %s %d cut short by the quota\n", Dim("•"), manifest.Partial)
	}
	if manifest.Skipped > 0 {
		printf("  %s %d skipped from checkpoint\n", Dim("•"), manifest.Skipped)
	}
	if manifest.Failed > 0 {
		printf("  %s %s\n", Dim("•"), Red(fmt.Sprintf("%d failed", manifest.Failed)))
	}
	if manifest.Interrupted {
		printf("  %s %s\n", Dim("•"), Yellow("interrupted; rerun with --resume to continue"))
	}
}

// Admitted, Waited and Terminated let the display observe the scheduler.
func (p *ProgressDisplay) Admitted() {}

// Waited shows that a task is sleeping for the quota window
func (p *ProgressDisplay) Waited(wait time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	printf("%s Quota exhausted. Waiting %s...\n", Yellow("⚠"), FormatDuration(wait))
}

func (p *ProgressDisplay) Terminated() {
	p.mu.Lock()
	defer p.mu.Unlock()

	printf("%s Quota exhausted. Stopping the current task.\n", Yellow("⚠"))
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
