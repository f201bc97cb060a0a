package crawler

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"threadcrawl/pkg/logger"
)

// TaskRunner runs one task to completion.
type TaskRunner interface {
	Run(ctx context.Context, task *Task) *Result
}

// Progress remembers which tasks of a batch already succeeded, so that a
// resumed batch skips them.
type Progress interface {
	Completed(key string) (Summary, bool)
	Complete(key string, summary Summary) error
}

// Manifest summarises a batch run.
type Manifest struct {
	BatchID    string    `json:"batch_id"`
	Source     string    `json:"source,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Partial   int `json:"partial"`
	Skipped   int `json:"skipped"`
	Requests  int `json:"requests"`

	// Stages counts tasks by the stage they ended in.
	Stages      map[Stage]int `json:"stages"`
	Interrupted bool          `json:"interrupted,omitempty"`
	Tasks       []Summary     `json:"tasks"`
}

// Batch runs tasks one after another. A failed task never stops the
// batch; cancelling ctx does.
type Batch struct {
	ID       string
	Source   string
	runner   TaskRunner
	progress Progress
	logger   logger.Logger
	now      func() time.Time
}

// BatchOption configures a Batch.
type BatchOption func(*Batch)

// WithProgress enables resuming through p.
func WithProgress(p Progress) BatchOption {
	return func(b *Batch) { b.progress = p }
}

// WithSource records the batch file in the manifest.
func WithSource(path string) BatchOption {
	return func(b *Batch) { b.Source = path }
}

func WithBatchLogger(l logger.Logger) BatchOption {
	return func(b *Batch) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBatch creates a batch with a fresh time-ordered id.
func NewBatch(runner TaskRunner, opts ...BatchOption) *Batch {
	b := &Batch{
		ID:     ulid.Make().String(),
		runner: runner,
		logger: logger.GetLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run executes tasks in order and returns the manifest. Tasks recorded as
// completed by the progress store are skipped and reported with their
// earlier summary.
func (b *Batch) Run(ctx context.Context, tasks []*Task) *Manifest {
	m := &Manifest{
		BatchID:   b.ID,
		Source:    b.Source,
		StartedAt: b.now(),
		Total:     len(tasks),
		Stages:    make(map[Stage]int),
	}
	log := b.logger.WithField("batch_id", b.ID)
	logger.LogComponentStart("batch", map[string]interface{}{"tasks": len(tasks), "batch_id": b.ID})

	for i, task := range tasks {
		if ctx.Err() != nil {
			m.Interrupted = true
			log.WithField("remaining", len(tasks)-i).Warn("Batch interrupted")
			break
		}

		key := task.Key(i)
		if b.progress != nil {
			if done, ok := b.progress.Completed(key); ok {
				m.Skipped++
				m.add(done)
				log.WithField("subreddit", task.Subreddit).Info("Task already completed, skipping")
				continue
			}
		}

		if task.Mode == ModeCount && task.BurstMode != BurstSleep {
			task.BurstMode = BurstSleep
			task.warn("batch tasks wait for quota, running with burst mode 'sleep'")
		}

		log.InfoWithFields("Running task", map[string]interface{}{
			"index":     i + 1,
			"of":        len(tasks),
			"subreddit": task.Subreddit,
			"mode":      task.Mode,
		})
		res := b.runner.Run(ctx, task)
		m.add(res.Summary)
		m.Requests += res.Requests

		if res.Success && b.progress != nil {
			if err := b.progress.Complete(key, res.Summary); err != nil {
				log.WithError(err).Warn("Failed to save batch progress")
			}
		}
	}

	m.FinishedAt = b.now()
	logger.LogComponentStop("batch", "finished")
	log.InfoWithFields("Batch finished", map[string]interface{}{
		"succeeded": m.Succeeded,
		"failed":    m.Failed,
		"skipped":   m.Skipped,
	})
	return m
}

func (m *Manifest) add(s Summary) {
	m.Tasks = append(m.Tasks, s)
	m.Stages[s.Stage]++
	if s.Success {
		m.Succeeded++
		if s.Partial {
			m.Partial++
		}
		return
	}
	m.Failed++
}
