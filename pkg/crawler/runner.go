package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"threadcrawl/pkg/enrich"
	errs "threadcrawl/pkg/errors"
	"threadcrawl/pkg/logger"
	"threadcrawl/pkg/metadata"
	"threadcrawl/pkg/models"
	"threadcrawl/pkg/reddit"
	"threadcrawl/pkg/scheduler"
)

// Stage names the step a task reached.
type Stage string

const (
	StageParse    Stage = "parse"
	StageAuth     Stage = "auth"
	StageValidate Stage = "validate"
	StagePaginate Stage = "paginate"
	StageResolve  Stage = "resolve_tree"
	StageEnrich   Stage = "enrich"
	StageWrite    Stage = "write"
	StageDone     Stage = "done"
)

// Summary is the serialisable outcome of one task.
type Summary struct {
	TaskID    string `json:"task_id"`
	Subreddit string `json:"subreddit"`
	Mode      string `json:"mode"`
	Count     int    `json:"count,omitempty"`
	BurstMode string `json:"burst_mode,omitempty"`
	Sort      string `json:"sort,omitempty"`
	Out       string `json:"out"`

	Stage    Stage    `json:"stage"`
	Success  bool     `json:"success"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`

	Requests   int `json:"requests"`
	Posts      int `json:"posts"`
	Comments   int `json:"comments"`
	Users      int `json:"unique_users"`
	Words      int `json:"unique_words"`
	Unresolved int `json:"unresolved_placeholders"`
	// Partial marks a success cut short by quota exhaustion.
	Partial bool `json:"quota_exhausted_partial"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Duration   float64   `json:"duration_seconds"`
	OutputPath string    `json:"output_path,omitempty"`
}

// Result is a Summary plus the data a successful task produced.
type Result struct {
	Summary

	Task        *Task
	Err         error
	Stats       ResolveStats
	Index       *models.NodeIndex
	Report      *metadata.Report
	Annotations map[string]enrich.Annotation

	// UserEmbeddings holds the unit mean embedding of users with more
	// than one annotated text.
	UserEmbeddings map[string][]float32
}

// Enricher annotates the nodes of an index.
type Enricher interface {
	Annotate(ctx context.Context, ix *models.NodeIndex) (map[string]enrich.Annotation, error)
}

// Writer persists a task result. Writers see successful and failed
// results; a successful result carries its Index.
type Writer interface {
	Write(ctx context.Context, res *Result) error
}

// BudgetFactory creates the budget of one task.
type BudgetFactory func(mode scheduler.Mode) Budget

// Settings shape the listing and tree requests of every task.
type Settings struct {
	PageSize    int
	TreeDepth   int
	TreeLimit   int
	Concurrency int
}

// Runner drives one task through its stages.
type Runner struct {
	auth      Authenticator
	api       API
	newBudget BudgetFactory
	enricher  Enricher
	writers   []Writer
	hooks     []func(*Result)
	settings  Settings
	logger    logger.Logger
	now       func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithEnricher enables the enrich stage.
func WithEnricher(e Enricher) RunnerOption {
	return func(r *Runner) { r.enricher = e }
}

// WithWriter appends a writer; writers run in order.
func WithWriter(w Writer) RunnerOption {
	return func(r *Runner) {
		if w != nil {
			r.writers = append(r.writers, w)
		}
	}
}

// WithResultHook registers fn to see every finished result.
func WithResultHook(fn func(*Result)) RunnerOption {
	return func(r *Runner) { r.hooks = append(r.hooks, fn) }
}

func WithSettings(s Settings) RunnerOption {
	return func(r *Runner) { r.settings = s }
}

func WithRunnerLogger(l logger.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRunnerClock replaces time.Now, for tests.
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a runner. auth may be nil when api authenticates on
// its own.
func NewRunner(auth Authenticator, api API, newBudget BudgetFactory, opts ...RunnerOption) *Runner {
	r := &Runner{
		auth:      auth,
		api:       api,
		newBudget: newBudget,
		settings: Settings{
			PageSize:    reddit.DefaultPageSize,
			TreeDepth:   reddit.DefaultTreeDepth,
			TreeLimit:   reddit.DefaultTreeLimit,
			Concurrency: 8,
		},
		logger: logger.GetLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes task. It never returns nil: failures are reported in the
// result, tagged with the stage that failed.
func (r *Runner) Run(ctx context.Context, task *Task) *Result {
	res := &Result{Task: task}
	res.StartedAt = r.now()
	res.fill(task)

	log := r.logger.WithFields(map[string]interface{}{
		"task_id":   task.ID,
		"subreddit": task.Subreddit,
	})
	for _, w := range task.Warnings {
		log.Warn(w)
	}

	var budget Budget
	err := r.run(ctx, task, res, &budget, log)
	if budget != nil {
		if ferr := budget.Flush(); ferr != nil {
			log.WithError(ferr).Warn("Failed to flush usage to ledger")
		}
		res.Requests = budget.Spent()
	}
	if err != nil {
		res.fail(err)
	}

	if !res.Success && res.Stage != StageWrite {
		r.writeFailure(ctx, res, log)
	}
	if res.FinishedAt.IsZero() {
		r.finish(res)
	}

	logger.LogStageResult(task.ID, string(res.Stage), res.Requests, res.Err)
	for _, hook := range r.hooks {
		hook(res)
	}
	return res
}

func (r *Runner) run(ctx context.Context, task *Task, res *Result, budgetOut *Budget, log logger.Logger) error {
	res.Stage = StageParse
	if task.parseErr != nil {
		return task.parseErr
	}
	if err := task.Validate(); err != nil {
		return err
	}

	budget := r.newBudget(task.BudgetMode())
	*budgetOut = budget

	res.Stage = StageAuth
	if r.auth != nil {
		if _, err := r.auth.Headers(ctx); err != nil {
			return err
		}
	}

	res.Stage = StageValidate
	admitted, err := r.validate(ctx, task.Subreddit, budget)
	if err != nil {
		return err
	}

	var roots []*models.Root
	if admitted {
		res.Stage = StagePaginate
		p := NewPaginator(r.api, budget, task.Subreddit, task.Sort, r.settings.PageSize, log)
		roots, err = p.Collect(ctx, task.Target())
		res.Posts = len(roots)
		if err != nil {
			return err
		}
		log.InfoWithFields("Listing collected", map[string]interface{}{
			"posts": len(roots),
			"pages": p.Pages(),
		})
	}

	res.Stage = StageResolve
	resolver := NewResolver(r.api, budget,
		WithConcurrency(r.settings.Concurrency),
		WithTreeShape(r.settings.TreeDepth, r.settings.TreeLimit),
		WithResolverLogger(log),
	)
	ix, err := resolver.Resolve(ctx, roots)
	if err != nil {
		return err
	}
	res.Stats = resolver.Stats()
	res.Index = ix
	res.Unresolved = res.Stats.Unresolved + res.Stats.TreesSkipped
	res.Partial = budget.Terminated()

	report := metadata.Build(ix)
	res.Report = report
	res.Posts = report.Posts
	res.Comments = report.Comments
	res.Users = report.UniqueUsers()
	res.Words = report.UniqueWords()

	if r.enricher != nil {
		res.Stage = StageEnrich
		annotations, err := r.enricher.Annotate(ctx, ix)
		if err != nil {
			return err
		}
		res.Annotations = annotations
		res.UserEmbeddings = enrich.UserEmbeddings(ix, report, annotations)
	}

	// Writers record the finished summary.
	res.Stage, res.Success = StageDone, true
	res.Requests = budget.Spent()
	r.finish(res)
	for _, w := range r.writers {
		if err := w.Write(ctx, res); err != nil {
			res.Stage = StageWrite
			return fmt.Errorf("write result: %w", err)
		}
	}
	return nil
}

// validate checks that the subreddit exists and is public. It reports
// false, without error, when the budget ends before the check could run.
func (r *Runner) validate(ctx context.Context, subreddit string, budget Budget) (bool, error) {
	if !reddit.IsValidSubreddit(subreddit) {
		return false, errs.SubjectInvalid(fmt.Sprintf("%q is not a valid subreddit name", subreddit), nil)
	}

	ok, err := budget.Acquire(ctx)
	if err != nil || !ok {
		return false, err
	}

	about, err := r.api.About(ctx, subreddit)
	switch errs.StatusCode(err) {
	case http.StatusForbidden:
		return false, errs.SubjectInvalid(fmt.Sprintf("r/%s is private", subreddit), err)
	case http.StatusNotFound:
		return false, errs.SubjectInvalid(fmt.Sprintf("r/%s does not exist", subreddit), err)
	}
	if err != nil {
		return false, err
	}

	if !about.Found() {
		return false, errs.SubjectInvalid(fmt.Sprintf("r/%s does not exist", subreddit), nil)
	}
	if !about.Public() {
		return false, errs.SubjectInvalid(fmt.Sprintf("r/%s is private or NSFW", subreddit), nil)
	}
	return true, nil
}

// writeFailure records a failed result with every writer. A writer error
// is logged; the task has failed already.
func (r *Runner) writeFailure(ctx context.Context, res *Result, log logger.Logger) {
	r.finish(res)
	for _, w := range r.writers {
		if err := w.Write(ctx, res); err != nil {
			log.WithError(err).Error("Failed to record failed task")
		}
	}
}

func (r *Runner) finish(res *Result) {
	res.FinishedAt = r.now()
	res.Duration = res.FinishedAt.Sub(res.StartedAt).Seconds()
}

func (res *Result) fill(t *Task) {
	res.TaskID = t.ID
	res.Subreddit = t.Subreddit
	res.Mode = t.Mode
	res.Count = t.Count
	res.BurstMode = t.BurstMode
	res.Sort = t.Sort
	res.Out = t.Out
	res.Warnings = t.Warnings
}

func (res *Result) fail(err error) {
	res.Err = err
	res.Success = false
	res.Index = nil
	res.Annotations = nil
	res.UserEmbeddings = nil
	res.Errors = flattenErrors(err)
}

// flattenErrors lists the messages of a joined error one by one.
func flattenErrors(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, flattenErrors(e)...)
		}
		return out
	}
	return []string{err.Error()}
}

// ErrorType returns the taxonomy type of a failed result's error.
func (res *Result) ErrorType() errs.ErrorType {
	if res.Err == nil {
		return ""
	}
	if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
		return errs.ErrorTypeCanceled
	}
	return errs.TypeOf(res.Err)
}
