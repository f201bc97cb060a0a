package crawler

import (
	"context"
	"fmt"

	"threadcrawl/pkg/logger"
	"threadcrawl/pkg/models"
	"threadcrawl/pkg/reddit"
)

// Paginator walks a subreddit listing with the server's cursor.
type Paginator struct {
	api       API
	budget    Budget
	subreddit string
	sort      string
	pageSize  int
	logger    logger.Logger

	pages int
}

// NewPaginator creates a paginator over r/subreddit sorted by sort.
func NewPaginator(api API, budget Budget, subreddit, sort string, pageSize int, log logger.Logger) *Paginator {
	if pageSize <= 0 || pageSize > reddit.DefaultPageSize {
		pageSize = reddit.DefaultPageSize
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Paginator{
		api:       api,
		budget:    budget,
		subreddit: subreddit,
		sort:      sort,
		pageSize:  pageSize,
		logger:    log,
	}
}

// Collect gathers up to target roots; target <= 0 collects until the
// listing ends. It stops early, without error, when the budget terminates.
// A failed page fetch fails the whole collection.
func (p *Paginator) Collect(ctx context.Context, target int) ([]*models.Root, error) {
	defer func() {
		if err := p.budget.Flush(); err != nil {
			p.logger.WithError(err).Warn("Failed to flush listing usage to ledger")
		}
	}()

	var roots []*models.Root
	seen := make(map[string]bool)
	after := ""

	for target <= 0 || len(roots) < target {
		ok, err := p.budget.Acquire(ctx)
		if err != nil {
			return roots, err
		}
		if !ok {
			p.logger.InfoWithFields("Quota exhausted, listing stopped early", map[string]interface{}{
				"subreddit": p.subreddit,
				"collected": len(roots),
			})
			break
		}

		page, err := p.api.Listing(ctx, p.subreddit, p.sort, after, p.pageSize)
		if err != nil {
			return roots, fmt.Errorf("fetch listing page %d of r/%s: %w", p.pages+1, p.subreddit, err)
		}
		p.pages++

		if len(page.Roots) == 0 {
			break
		}
		for _, r := range page.Roots {
			if seen[r.Name] {
				continue
			}
			seen[r.Name] = true
			roots = append(roots, r)
		}

		p.logger.DebugWithFields("Listing page collected", map[string]interface{}{
			"subreddit": p.subreddit,
			"page":      p.pages,
			"collected": len(roots),
		})

		if page.After == "" {
			break
		}
		after = page.After
	}

	if target > 0 && len(roots) > target {
		roots = roots[:target]
	}
	return roots, nil
}

// Pages returns the number of pages fetched so far.
func (p *Paginator) Pages() int {
	return p.pages
}
