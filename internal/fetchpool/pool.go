package fetchpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	errs "threadcrawl/pkg/errors"
	"threadcrawl/pkg/logger"
	"threadcrawl/pkg/models"
)

// Job asks for the comment tree of one root. Seq is the root's position in
// the listing so results can be put back in order.
type Job struct {
	Seq  int
	Root *models.Root
}

// Result is the outcome of a Job. Skipped is set when the budget refused
// the call; Children is nil then.
type Result struct {
	Job      Job
	Children []models.Node
	Skipped  bool
	Err      error
	Duration time.Duration
}

// TreeFetcher fetches a root's first-level comment tree.
type TreeFetcher interface {
	Tree(ctx context.Context, rootID string, depth, limit int) (*models.Root, []models.Node, error)
}

// Budget admits one remote call at a time.
type Budget interface {
	Acquire(ctx context.Context) (bool, error)
}

// WorkerPool fetches trees concurrently, one call in flight per root.
type WorkerPool struct {
	numWorkers  int
	depth       int
	limit       int
	jobQueue    chan Job
	resultQueue chan Result
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	fetcher     TreeFetcher
	budget      Budget
	logger      logger.Logger
}

// NewWorkerPool creates a pool of numWorkers fetching trees of the given
// depth and child limit. Cancelling ctx stops the workers.
func NewWorkerPool(
	ctx context.Context,
	numWorkers int,
	fetcher TreeFetcher,
	budget Budget,
	depth, limit int,
	log logger.Logger,
) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	ctx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		numWorkers:  numWorkers,
		depth:       depth,
		limit:       limit,
		jobQueue:    make(chan Job, numWorkers*2),
		resultQueue: make(chan Result, numWorkers),
		ctx:         ctx,
		cancel:      cancel,
		fetcher:     fetcher,
		budget:      budget,
		logger:      log,
	}
}

// Start starts all workers.
func (wp *WorkerPool) Start() {
	wp.logger.DebugWithFields("Starting tree fetch pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the job queue, waits for the workers and closes Results. It
// must be called exactly once, after the last Submit.
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()
}

// Cancel aborts in-flight and queued jobs. Stop must still be called.
func (wp *WorkerPool) Cancel() {
	wp.cancel()
}

// Submit queues a job. It fails once the pool has been cancelled.
func (wp *WorkerPool) Submit(job Job) error {
	select {
	case wp.jobQueue <- job:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("tree fetch pool is shutting down")
	}
}

// Results returns the channel of job results. It is closed by Stop and
// must be drained until then: every submitted job yields one result, and
// jobs taken after a cancellation carry a canceled error.
func (wp *WorkerPool) Results() <-chan Result {
	return wp.resultQueue
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		var result Result
		if err := wp.ctx.Err(); err != nil {
			result = Result{Job: job, Err: errs.Canceled(err)}
		} else {
			result = wp.processJob(job, id)
		}
		wp.resultQueue <- result
	}
}

func (wp *WorkerPool) processJob(job Job, workerID int) Result {
	start := time.Now()
	result := Result{Job: job}

	ok, err := wp.budget.Acquire(wp.ctx)
	if err != nil {
		result.Err = err
		result.Duration = time.Since(start)
		return result
	}
	if !ok {
		wp.logger.DebugWithFields("Budget exhausted, tree not fetched", map[string]interface{}{
			"worker_id": workerID,
			"root":      job.Root.Name,
		})
		result.Skipped = true
		result.Duration = time.Since(start)
		return result
	}

	_, children, err := wp.fetcher.Tree(wp.ctx, job.Root.Name, wp.depth, wp.limit)
	result.Duration = time.Since(start)
	if err != nil {
		result.Err = fmt.Errorf("fetch tree of %s: %w", job.Root.Name, err)
		wp.logger.ErrorWithFields("Worker failed to fetch tree", map[string]interface{}{
			"worker_id": workerID,
			"root":      job.Root.Name,
			"error":     err.Error(),
		})
		return result
	}

	result.Children = children
	wp.logger.DebugWithFields("Worker fetched tree", map[string]interface{}{
		"worker_id": workerID,
		"root":      job.Root.Name,
		"children":  len(children),
		"duration":  result.Duration,
	})
	return result
}

// Size returns the number of workers.
func (wp *WorkerPool) Size() int {
	return wp.numWorkers
}
