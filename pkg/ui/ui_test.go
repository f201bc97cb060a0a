package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"threadcrawl/pkg/crawler"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	DisableColor()
	buf := &bytes.Buffer{}
	prev := SetOutput(buf)
	t.Cleanup(func() {
		SetOutput(prev)
		SetQuiet(false)
	})
	return buf
}

func TestBar(t *testing.T) {
	tests := []struct {
		done, total int
		filled      int
	}{
		{0, 10, 0},
		{5, 10, 10},
		{10, 10, 20},
		{15, 10, 20},
		{3, 0, 0},
	}
	for _, tt := range tests {
		bar := Bar(tt.done, tt.total)
		if got := strings.Count(bar, ProgressBar); got != tt.filled {
			t.Errorf("Bar(%d, %d) filled %d cells, want %d", tt.done, tt.total, got, tt.filled)
		}
		if got := strings.Count(bar, ProgressBar) + strings.Count(bar, ProgressEmpty); got != barWidth {
			t.Errorf("Bar(%d, %d) has width %d", tt.done, tt.total, got)
		}
	}
}

func TestQuotaStatus(t *testing.T) {
	full := QuotaStatus(1000, 1000, 0)
	if !strings.Contains(full, "1000/1000 calls left") || strings.Contains(full, "expires") {
		t.Errorf("Unexpected full quota line: %s", full)
	}

	used := QuotaStatus(997, 1000, 9*time.Minute+30*time.Second)
	if !strings.Contains(used, "997/1000") || !strings.Contains(used, "9m30s") {
		t.Errorf("Unexpected used quota line: %s", used)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := map[time.Duration]string{
		42 * time.Second:               "42s",
		3*time.Minute + 5*time.Second:  "3m5s",
		2*time.Hour + 15*time.Minute:   "2h15m",
	}
	for d, want := range tests {
		if got := FormatDuration(d); got != want {
			t.Errorf("FormatDuration(%s) = %s, want %s", d, got, want)
		}
	}
}

func TestProgressDisplay(t *testing.T) {
	buf := captureOutput(t)

	p := NewProgressDisplay(2, false)

	ok := &crawler.Result{}
	ok.Subreddit, ok.Success, ok.Posts, ok.Comments, ok.Requests = "golang", true, 10, 40, 12
	ok.Unresolved = 2
	p.TaskFinished(ok)

	failed := &crawler.Result{}
	failed.Subreddit, failed.Stage = "secret", crawler.StageValidate
	failed.Errors = []string{"subject_invalid error: r/secret is private"}
	p.TaskFinished(failed)

	p.Complete(&crawler.Manifest{Total: 2, Succeeded: 1, Failed: 1})

	out := buf.String()
	for _, want := range []string{
		"1/2", "r/golang", "10 posts", "40 comments", "2 unresolved",
		"r/secret failed at validate", "is private",
		"1/2 tasks succeeded", "1 failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Output missing %q:\n%s", want, out)
		}
	}
}

func TestQuietSuppressesAllButErrors(t *testing.T) {
	buf := captureOutput(t)
	SetQuiet(true)

	PrintInfo("Subreddit", "golang")
	PrintSuccess("done")
	PrintError("boom")

	out := buf.String()
	if strings.Contains(out, "golang") || strings.Contains(out, "done") {
		t.Errorf("Quiet mode printed info output: %s", out)
	}
	if !strings.Contains(out, "boom") {
		t.Errorf("Quiet mode suppressed an error: %s", out)
	}
}

type recordingSender struct {
	titles []string
}

func (r *recordingSender) Send(title, message string) error {
	r.titles = append(r.titles, title)
	return nil
}

func TestNotifyBatch(t *testing.T) {
	captureOutput(t)

	sender := &recordingSender{}
	n := NewNotifierWith(sender)

	n.NotifyBatch(&crawler.Manifest{Total: 2, Succeeded: 2})
	n.NotifyBatch(&crawler.Manifest{Total: 2, Succeeded: 1, Failed: 1})
	n.NotifyBatch(&crawler.Manifest{Total: 2, Interrupted: true})

	want := []string{"Batch complete", "Batch finished with failures", "Batch interrupted"}
	if len(sender.titles) != len(want) {
		t.Fatalf("Expected %d notifications, got %v", len(want), sender.titles)
	}
	for i := range want {
		if sender.titles[i] != want[i] {
			t.Errorf("Notification %d: got %q, want %q", i, sender.titles[i], want[i])
		}
	}
}
