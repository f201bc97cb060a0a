package crawler

import (
	"context"
	"net/http"

	"threadcrawl/pkg/models"
	"threadcrawl/pkg/reddit"
)

// API is the subset of the remote API the crawl consumes.
type API interface {
	Listing(ctx context.Context, subreddit, sort, after string, limit int) (*reddit.Page, error)
	Tree(ctx context.Context, rootID string, depth, limit int) (*models.Root, []models.Node, error)
	MoreChildren(ctx context.Context, linkID string, ids []string) ([]models.Node, error)
	About(ctx context.Context, subreddit string) (*reddit.About, error)
}

// Budget admits remote calls for one task. *scheduler.Scheduler
// implements it.
type Budget interface {
	Acquire(ctx context.Context) (bool, error)
	Flush() error
	Terminated() bool
	Spent() int
}

// Authenticator yields the headers of an authenticated call, refreshing
// the credential when needed.
type Authenticator interface {
	Headers(ctx context.Context) (http.Header, error)
}
