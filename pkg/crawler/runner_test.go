package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threadcrawl/pkg/enrich"
	errs "threadcrawl/pkg/errors"
	"threadcrawl/pkg/logger"
	"threadcrawl/pkg/models"
	"threadcrawl/pkg/ratelimit"
	"threadcrawl/pkg/reddit"
	"threadcrawl/pkg/scheduler"
)

type recordingWriter struct {
	mu      sync.Mutex
	results []Summary
	indexed []bool
	err     error
}

func (w *recordingWriter) Write(ctx context.Context, res *Result) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.results = append(w.results, res.Summary)
	w.indexed = append(w.indexed, res.Index != nil)
	return w.err
}

type stubEnricher struct {
	err   error
	calls int
}

func (e *stubEnricher) Annotate(ctx context.Context, ix *models.NodeIndex) (map[string]enrich.Annotation, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make(map[string]enrich.Annotation)
	for _, r := range ix.Roots {
		out[r.Name] = enrich.Annotation{Sentiment: &enrich.Sentiment{Label: enrich.LabelNeutral, Score: 0.5}}
	}
	return out, nil
}

func ledgerFactory(t *testing.T, opts ...ratelimit.Option) (*ratelimit.Ledger, BudgetFactory) {
	t.Helper()
	ledger := ratelimit.NewLedger(filepath.Join(t.TempDir(), "ledger"), opts...)
	return ledger, func(mode scheduler.Mode) Budget {
		return scheduler.New(ledger, mode, scheduler.WithLogger(logger.NewNopLogger()))
	}
}

func discussionAPI() *fakeAPI {
	api := newFakeAPI()
	a := root("a", 2)
	b := root("b", 0)
	api.pages[""] = &reddit.Page{Roots: []*models.Root{a, b}}
	api.trees["t3_a"] = func() []models.Node {
		return []models.Node{
			comment("c1", "t3_a", "bob", "Gophers love channels"),
			placeholder("m1", "t3_a", "c2"),
		}
	}
	api.more["c2"] = func() []models.Node {
		return []models.Node{comment("c2", "t3_a", "[deleted]", "[deleted]")}
	}
	return api
}

func newTestRunner(auth Authenticator, api API, budgets BudgetFactory, opts ...RunnerOption) *Runner {
	opts = append([]RunnerOption{WithRunnerLogger(logger.NewNopLogger())}, opts...)
	return NewRunner(auth, api, budgets, opts...)
}

func TestRunSuccess(t *testing.T) {
	api := discussionAPI()
	ledger, budgets := ledgerFactory(t)
	auth := &fakeAuth{}
	writer := &recordingWriter{}
	enricher := &stubEnricher{}

	var hooked *Result
	r := newTestRunner(auth, api, budgets,
		WithWriter(writer),
		WithEnricher(enricher),
		WithResultHook(func(res *Result) { hooked = res }),
	)
	res := r.Run(context.Background(), NewTask("golang", "full", 0, "", "", ""))
	require.NoError(t, res.Err)

	assert.True(t, res.Success)
	assert.Equal(t, StageDone, res.Stage)
	assert.False(t, res.Partial)
	assert.Equal(t, 2, res.Posts)
	assert.Equal(t, 2, res.Comments)
	// about + listing + one tree + one expansion
	assert.Equal(t, 4, res.Requests)
	assert.Equal(t, 4, ledgerTotal(ledger))
	assert.Equal(t, 1, auth.calls)
	assert.Zero(t, res.Unresolved)
	assert.Equal(t, 3, res.Users) // author_a, author_b, bob
	assert.Positive(t, res.Words)
	assert.Len(t, res.Annotations, 2)
	assert.Empty(t, res.UserEmbeddings, "stub annotations carry no embeddings")
	assert.Equal(t, 1, enricher.calls)
	require.NotNil(t, res.Index)
	assert.True(t, res.Index.Resolved())

	require.Len(t, writer.results, 1)
	assert.True(t, writer.results[0].Success)
	assert.Equal(t, StageDone, writer.results[0].Stage)
	assert.Equal(t, 4, writer.results[0].Requests)
	assert.True(t, writer.indexed[0])
	assert.Same(t, res, hooked)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))
}

func TestRunParseFailure(t *testing.T) {
	api := newFakeAPI()
	_, budgets := ledgerFactory(t)
	writer := &recordingWriter{}
	auth := &fakeAuth{}

	res := newTestRunner(auth, api, budgets, WithWriter(writer)).
		Run(context.Background(), NewTask("golang", "count", 0, "end", "", ""))

	assert.False(t, res.Success)
	assert.Equal(t, StageParse, res.Stage)
	assert.NotEmpty(t, res.Errors)
	assert.Zero(t, api.calls())
	assert.Zero(t, auth.calls)
	require.Len(t, writer.results, 1)
	assert.False(t, writer.results[0].Success)
	assert.False(t, writer.indexed[0])
}

func TestRunJoinedValidationErrorsAreListed(t *testing.T) {
	_, budgets := ledgerFactory(t)
	res := newTestRunner(nil, newFakeAPI(), budgets).
		Run(context.Background(), NewTask("", "count", 0, "", "a?.json", ""))

	assert.Equal(t, StageParse, res.Stage)
	assert.Len(t, res.Errors, 3)
}

func TestRunAuthFailure(t *testing.T) {
	api := newFakeAPI()
	_, budgets := ledgerFactory(t)
	auth := &fakeAuth{err: errs.AuthFailed("bad credentials", nil).WithCode(401)}

	res := newTestRunner(auth, api, budgets).Run(context.Background(), NewTask("golang", "full", 0, "", "", ""))
	assert.Equal(t, StageAuth, res.Stage)
	assert.Equal(t, errs.ErrorTypeAuthFailed, res.ErrorType())
	assert.Zero(t, api.calls())
	assert.Zero(t, res.Requests)
}

func TestRunValidateFailures(t *testing.T) {
	nsfw := true
	tests := []struct {
		name      string
		subreddit string
		about     *reddit.About
		aboutErr  error
		wantMsg   string
		wantCalls int
	}{
		{"malformed name", "no spaces allowed", nil, nil, "not a valid subreddit name", 0},
		{"private", "golang", nil, errs.FetchFailed("forbidden", nil).WithCode(http.StatusForbidden), "is private", 1},
		{"missing", "golang", nil, errs.FetchFailed("not found", nil).WithCode(http.StatusNotFound), "does not exist", 1},
		{"no flags", "golang", &reddit.About{}, nil, "does not exist", 1},
		{"restricted", "golang", &reddit.About{SubredditType: "restricted", Over18: new(bool)}, nil, "private or NSFW", 1},
		{"nsfw", "golang", &reddit.About{SubredditType: "public", Over18: &nsfw}, nil, "private or NSFW", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI()
			api.about = tt.about
			api.aboutErr = tt.aboutErr
			_, budgets := ledgerFactory(t)

			task := NewTask(tt.subreddit, "full", 0, "", "out.json", "")
			res := newTestRunner(nil, api, budgets).Run(context.Background(), task)

			assert.Equal(t, StageValidate, res.Stage)
			assert.Equal(t, errs.ErrorTypeSubjectInvalid, res.ErrorType())
			assert.Contains(t, res.Err.Error(), tt.wantMsg)
			assert.Equal(t, tt.wantCalls, api.calls())
			assert.Equal(t, tt.wantCalls, res.Requests)
		})
	}
}

func TestRunValidateServerErrorKeepsType(t *testing.T) {
	api := newFakeAPI()
	api.aboutErr = errs.FetchFailed("bad gateway", nil).WithCode(http.StatusBadGateway)
	_, budgets := ledgerFactory(t)

	res := newTestRunner(nil, api, budgets).Run(context.Background(), NewTask("golang", "full", 0, "", "", ""))
	assert.Equal(t, StageValidate, res.Stage)
	assert.Equal(t, errs.ErrorTypeFetchFailed, res.ErrorType())
}

func TestRunQuotaGoneBeforeValidateIsPartialSuccess(t *testing.T) {
	api := discussionAPI()
	ledger, budgets := ledgerFactory(t, ratelimit.WithCeiling(5))
	require.NoError(t, ledger.Commit(5))
	writer := &recordingWriter{}

	res := newTestRunner(nil, api, budgets, WithWriter(writer)).
		Run(context.Background(), NewTask("golang", "count", 10, "end", "", ""))

	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.True(t, res.Partial)
	assert.Zero(t, res.Posts)
	assert.Zero(t, res.Requests)
	assert.Zero(t, api.calls())
	require.Len(t, writer.results, 1)
	assert.True(t, writer.results[0].Partial)
}

func TestRunBurstEndMidTreeIsPartialSuccess(t *testing.T) {
	api := discussionAPI()
	_, budgets := ledgerFactory(t, ratelimit.WithCeiling(3))

	res := newTestRunner(nil, api, budgets).
		Run(context.Background(), NewTask("golang", "count", 10, "end", "", ""))

	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.True(t, res.Partial)
	assert.Equal(t, 3, res.Requests)
	assert.Equal(t, 2, res.Posts)
	assert.Equal(t, 1, res.Comments)
	assert.Equal(t, 1, res.Unresolved)
}

func TestRunEnrichFailure(t *testing.T) {
	_, budgets := ledgerFactory(t)
	enricher := &stubEnricher{err: errs.Enrichment("provider down", nil).WithCode(503)}
	writer := &recordingWriter{}

	res := newTestRunner(nil, discussionAPI(), budgets, WithEnricher(enricher), WithWriter(writer)).
		Run(context.Background(), NewTask("golang", "full", 0, "", "", ""))

	assert.Equal(t, StageEnrich, res.Stage)
	assert.Equal(t, errs.ErrorTypeEnrichment, res.ErrorType())
	assert.Nil(t, res.Index)
	assert.Equal(t, 4, res.Requests)
	require.Len(t, writer.results, 1)
	assert.Equal(t, StageEnrich, writer.results[0].Stage)
}

func TestRunWriteFailure(t *testing.T) {
	_, budgets := ledgerFactory(t)
	writer := &recordingWriter{err: errors.New("disk full")}

	res := newTestRunner(nil, discussionAPI(), budgets, WithWriter(writer)).
		Run(context.Background(), NewTask("golang", "full", 0, "", "", ""))

	assert.False(t, res.Success)
	assert.Equal(t, StageWrite, res.Stage)
	assert.Contains(t, res.Errors[0], "disk full")
	assert.Len(t, writer.results, 1)
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, budgets := ledgerFactory(t)

	res := newTestRunner(nil, discussionAPI(), budgets).Run(ctx, NewTask("golang", "full", 0, "", "", ""))
	assert.Equal(t, StageValidate, res.Stage)
	assert.Equal(t, errs.ErrorTypeCanceled, res.ErrorType())
}

func TestRunCanceledDuringTreeFetch(t *testing.T) {
	api := discussionAPI()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api.onTree = cancel
	_, budgets := ledgerFactory(t)
	writer := &recordingWriter{}

	res := newTestRunner(nil, api, budgets, WithWriter(writer)).Run(ctx, NewTask("golang", "full", 0, "", "", ""))
	assert.False(t, res.Success)
	assert.Equal(t, StageResolve, res.Stage)
	assert.Equal(t, errs.ErrorTypeCanceled, res.ErrorType())
	assert.Equal(t, 2, res.Posts)
	require.Len(t, writer.results, 1)
	assert.False(t, writer.results[0].Success)
}

func TestRunListingFailureKeepsCollectedPosts(t *testing.T) {
	api := &failingListingAPI{fakeAPI: newFakeAPI()}
	page := make([]*models.Root, 0, 100)
	for i := 0; i < 100; i++ {
		page = append(page, root(fmt.Sprintf("p%d", i), 0))
	}
	api.pages[""] = &reddit.Page{Roots: page, After: "t3_p99"}
	api.failAfter = "t3_p99"
	_, budgets := ledgerFactory(t)

	res := newTestRunner(nil, api, budgets).Run(context.Background(), NewTask("golang", "full", 0, "", "", ""))
	assert.False(t, res.Success)
	assert.Equal(t, StagePaginate, res.Stage)
	assert.Equal(t, errs.ErrorTypeFetchFailed, res.ErrorType())
	// about + two listing pages
	assert.Equal(t, 3, res.Requests)
	assert.Equal(t, 100, res.Posts)
}

// failingListingAPI fails the listing page requested with cursor failAfter.
type failingListingAPI struct {
	*fakeAPI
	failAfter string
}

func (f *failingListingAPI) Listing(ctx context.Context, subreddit, sort, after string, limit int) (*reddit.Page, error) {
	if after == f.failAfter {
		return nil, errs.FetchFailed("listing unavailable", nil).WithCode(http.StatusBadGateway)
	}
	return f.fakeAPI.Listing(ctx, subreddit, sort, after, limit)
}

func TestRunUsesClock(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	now := start
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	_, budgets := ledgerFactory(t)

	res := newTestRunner(nil, discussionAPI(), budgets, WithRunnerClock(clock)).
		Run(context.Background(), NewTask("golang", "full", 0, "", "", ""))
	require.True(t, res.Success)
	assert.Equal(t, start.Add(time.Second), res.StartedAt)
	assert.Equal(t, 1.0, res.Duration)
}
