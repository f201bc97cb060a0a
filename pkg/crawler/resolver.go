package crawler

import (
	"context"
	"fmt"

	"threadcrawl/internal/fetchpool"
	errs "threadcrawl/pkg/errors"
	"threadcrawl/pkg/logger"
	"threadcrawl/pkg/models"
	"threadcrawl/pkg/reddit"
)

// ResolveStats counts the work of one Resolve call.
type ResolveStats struct {
	TreesFetched     int `json:"trees_fetched"`
	TreesSkipped     int `json:"trees_skipped"`
	PlaceholderCalls int `json:"placeholder_calls"`
	Dropped          int `json:"dropped_placeholders"`
	Unresolved       int `json:"unresolved_placeholders"`
}

// request is a queued placeholder resolution.
type request struct {
	placeholder *models.Placeholder
	parent      models.Parent
	rootID      string
}

// Resolver builds complete discussion trees for a set of roots: it fetches
// each root's tree, indexes it and resolves placeholders until none remain
// or the budget runs out.
type Resolver struct {
	api         API
	budget      Budget
	concurrency int
	depth       int
	limit       int
	logger      logger.Logger

	stats ResolveStats
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithConcurrency bounds the number of tree fetches in flight.
func WithConcurrency(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithTreeShape sets the depth and child limit of the first tree fetch.
func WithTreeShape(depth, limit int) ResolverOption {
	return func(r *Resolver) {
		if depth > 0 {
			r.depth = depth
		}
		if limit > 0 {
			r.limit = limit
		}
	}
}

func WithResolverLogger(l logger.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver creates a resolver spending budget on api calls.
func NewResolver(api API, budget Budget, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		api:         api,
		budget:      budget,
		concurrency: 8,
		depth:       reddit.DefaultTreeDepth,
		limit:       reddit.DefaultTreeLimit,
		logger:      logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Stats returns the counters of the last Resolve call.
func (r *Resolver) Stats() ResolveStats {
	return r.stats
}

// Resolve indexes roots and their trees. Roots already loaded are not
// fetched again, so resolving a fully resolved set spends no calls. When
// the budget terminates, the index is returned with the remaining
// placeholders in place.
func (r *Resolver) Resolve(ctx context.Context, roots []*models.Root) (*models.NodeIndex, error) {
	r.stats = ResolveStats{}
	defer func() {
		if err := r.budget.Flush(); err != nil {
			r.logger.WithError(err).Warn("Failed to flush tree usage to ledger")
		}
	}()

	ix := models.NewNodeIndex(roots)

	err := r.fetchTrees(ctx, ix.Roots)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, errs.Canceled(ctxErr)
	}
	if err != nil {
		return nil, err
	}

	var queue []request
	for _, root := range ix.Roots {
		queue = r.flatten(ix, root, root.Name, queue)
	}

	queue, err = r.resolvePlaceholders(ctx, ix, queue)
	if err != nil {
		return nil, err
	}
	r.stats.Unresolved = len(queue)

	r.logger.DebugWithFields("Trees resolved", map[string]interface{}{
		"roots":             len(ix.Roots),
		"comments":          ix.CommentCount(),
		"trees_fetched":     r.stats.TreesFetched,
		"placeholder_calls": r.stats.PlaceholderCalls,
		"unresolved":        r.stats.Unresolved,
	})
	return ix, nil
}

// fetchTrees loads the first-level tree of every root that needs one,
// concurrently, and returns once all fetches are done.
func (r *Resolver) fetchTrees(ctx context.Context, roots []*models.Root) error {
	var pending []*models.Root
	for _, root := range roots {
		switch {
		case root.Loaded:
		case root.NumComments <= 0:
			root.Children = []models.Node{}
			root.Loaded = true
		default:
			pending = append(pending, root)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	workers := r.concurrency
	if workers > len(pending) {
		workers = len(pending)
	}
	pool := fetchpool.NewWorkerPool(ctx, workers, r.api, r.budget, r.depth, r.limit, r.logger)
	pool.Start()

	go func() {
		defer pool.Stop()
		for i, root := range pending {
			if err := pool.Submit(fetchpool.Job{Seq: i, Root: root}); err != nil {
				return
			}
		}
	}()

	var firstErr error
	for res := range pool.Results() {
		switch {
		case res.Err != nil:
			if firstErr == nil {
				firstErr = res.Err
				pool.Cancel()
			}
		case res.Skipped:
			res.Job.Root.Children = []models.Node{}
			r.stats.TreesSkipped++
		default:
			res.Job.Root.Children = res.Children
			res.Job.Root.Loaded = true
			r.stats.TreesFetched++
		}
	}
	return firstErr
}

// flatten walks the subtree under start breadth-first, indexing comments
// and queueing placeholders. Empty placeholders are removed from their
// parent. Duplicate comments are unlinked so each appears once.
func (r *Resolver) flatten(ix *models.NodeIndex, start models.Parent, rootID string, queue []request) []request {
	work := []models.Parent{start}
	for len(work) > 0 {
		parent := work[0]
		work = work[1:]

		children := append([]models.Node(nil), parent.ChildNodes()...)
		for _, child := range children {
			switch n := child.(type) {
			case *models.Comment:
				if !ix.InsertComment(n) {
					if existing, _ := ix.Comment(n.Name); existing != n {
						parent.RemoveChild(n)
						continue
					}
				}
				work = append(work, n)
			case *models.Placeholder:
				if n.RootID == "" {
					n.RootID = rootID
				}
				if n.Empty() {
					parent.RemoveChild(n)
					r.stats.Dropped++
					continue
				}
				queue = append(queue, request{placeholder: n, parent: parent, rootID: n.RootID})
			}
		}
	}
	return queue
}

// resolvePlaceholders runs the sequential resolution loop and returns the
// requests left when the budget terminated.
func (r *Resolver) resolvePlaceholders(ctx context.Context, ix *models.NodeIndex, queue []request) ([]request, error) {
	for len(queue) > 0 && !r.budget.Terminated() {
		req := queue[0]

		ok, err := r.budget.Acquire(ctx)
		if err != nil {
			return queue, err
		}
		if !ok {
			break
		}
		queue = queue[1:]

		nodes, err := r.api.MoreChildren(ctx, req.rootID, req.placeholder.ChildIDs)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return queue, errs.Canceled(ctxErr)
		}
		if err != nil {
			return queue, fmt.Errorf("resolve placeholder %s: %w", req.placeholder.Name, err)
		}
		r.stats.PlaceholderCalls++

		queue, err = r.splice(ix, req, nodes, queue)
		if err != nil {
			return queue, err
		}
	}
	return queue, nil
}

// splice puts the nodes returned for req into the tree. Direct children
// of the placeholder's parent take the placeholder's position; deeper
// nodes are appended to their own parent.
func (r *Resolver) splice(ix *models.NodeIndex, req request, nodes []models.Node, queue []request) ([]request, error) {
	parentName := req.parent.Fullname()
	var direct []models.Node

	for _, node := range nodes {
		switch n := node.(type) {
		case *models.Comment:
			if _, dup := ix.Comment(n.Name); dup {
				continue
			}
			if n.ParentID == parentName {
				ix.InsertComment(n)
				direct = append(direct, n)
			} else {
				parent, ok := ix.Parent(n.ParentID)
				if !ok {
					return queue, errs.OrphanNode(n.Name, n.ParentID)
				}
				ix.InsertComment(n)
				parent.AppendChild(n)
			}
			queue = r.flatten(ix, n, req.rootID, queue)

		case *models.Placeholder:
			if n.RootID == "" {
				n.RootID = req.rootID
			}
			if n.Empty() {
				r.stats.Dropped++
				continue
			}
			if n.ParentID == parentName {
				direct = append(direct, n)
				queue = append(queue, request{placeholder: n, parent: req.parent, rootID: n.RootID})
				continue
			}
			parent, ok := ix.Parent(n.ParentID)
			if !ok {
				return queue, errs.OrphanNode(n.Name, n.ParentID)
			}
			parent.AppendChild(n)
			queue = append(queue, request{placeholder: n, parent: parent, rootID: n.RootID})
		}
	}

	if !req.parent.ReplaceChild(req.placeholder, direct) {
		for _, n := range direct {
			req.parent.AppendChild(n)
		}
	}
	return queue, nil
}
