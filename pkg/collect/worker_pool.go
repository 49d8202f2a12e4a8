package collect

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gnana997/sasspipe/pkg/stream"
	"github.com/gnana997/sasspipe/pkg/util"
)

// ReadJob is one output file to turn into a record.
type ReadJob struct {
	Entry Entry
	JobID int
}

// ReadResult is a finished record. JobID is the job's position in
// enumeration order.
type ReadResult struct {
	Record *stream.FileRecord
	JobID  int
}

// ReadError is a failed job.
type ReadError struct {
	JobID int
	Err   error
}

// ProcessFunc converts one job into a record.
type ProcessFunc func(ctx context.Context, job ReadJob) (*stream.FileRecord, error)

// WorkerPool reads output files on a fixed number of goroutines.
//
// Results arrive in completion order; callers re-establish enumeration order
// from JobID.
//
// **Usage:**
//
//	pool := NewWorkerPool(numWorkers, process, logger)
//	pool.Start()
//	defer pool.Stop()
//
//	pool.Submit(ReadJob{Entry: e, JobID: 0})
//	pool.FinishSubmitting()
//
//	select {
//	case r := <-pool.Results():
//	case e := <-pool.Errors():
//	}
type WorkerPool struct {
	numWorkers int
	jobs       chan ReadJob
	results    chan ReadResult
	errors     chan ReadError
	wg         sync.WaitGroup
	process    ProcessFunc
	logger     *slog.Logger

	ctx        context.Context
	cancel     context.CancelFunc
	started    atomic.Bool
	stopped    atomic.Bool
	jobsClosed atomic.Bool

	jobsSubmitted atomic.Int64
	jobsProcessed atomic.Int64
	jobsFailed    atomic.Int64
}

// NewWorkerPool creates a new worker pool. numWorkers == 0 uses
// util.GetOptimalPoolSize().
func NewWorkerPool(numWorkers int, process ProcessFunc, logger *slog.Logger) *WorkerPool {
	numWorkers = util.GetOptimalPoolSizeWithOverride(numWorkers)
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		numWorkers: numWorkers,
		jobs:       make(chan ReadJob, numWorkers*2),
		results:    make(chan ReadResult, numWorkers),
		errors:     make(chan ReadError, numWorkers),
		process:    process,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start spawns all worker goroutines. Must be called before Submit.
func (wp *WorkerPool) Start() {
	if !wp.started.CompareAndSwap(false, true) {
		wp.logger.Warn("WorkerPool already started")
		return
	}

	wp.logger.Debug("Starting worker pool", "workers", wp.numWorkers)

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			return

		case job, ok := <-wp.jobs:
			if !ok {
				return
			}
			wp.processJob(id, job)
		}
	}
}

func (wp *WorkerPool) processJob(workerID int, job ReadJob) {
	rec, err := wp.process(wp.ctx, job)
	if err != nil {
		wp.logger.Debug("Read job failed", "worker_id", workerID, "file", job.Entry.Rel, "error", err)
		wp.jobsFailed.Add(1)
		select {
		case wp.errors <- ReadError{JobID: job.JobID, Err: err}:
		case <-wp.ctx.Done():
		}
		return
	}

	wp.jobsProcessed.Add(1)
	select {
	case wp.results <- ReadResult{Record: rec, JobID: job.JobID}:
	case <-wp.ctx.Done():
	}
}

// Submit enqueues a job, blocking while the queue is full. Submit must not
// race with Stop.
func (wp *WorkerPool) Submit(job ReadJob) error {
	if wp.stopped.Load() || wp.jobsClosed.Load() {
		return fmt.Errorf("worker pool is stopped")
	}

	wp.jobsSubmitted.Add(1)

	select {
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool cancelled")
	case wp.jobs <- job:
		return nil
	}
}

// Results returns the results channel.
func (wp *WorkerPool) Results() <-chan ReadResult {
	return wp.results
}

// Errors returns the errors channel.
func (wp *WorkerPool) Errors() <-chan ReadError {
	return wp.errors
}

// FinishSubmitting closes the jobs channel so workers exit once it drains.
// Idempotent.
func (wp *WorkerPool) FinishSubmitting() {
	if wp.jobsClosed.CompareAndSwap(false, true) {
		close(wp.jobs)
	}
}

// Cancel abandons queued and in-flight jobs. Workers stop at their next
// hand-off; results not yet delivered are discarded.
func (wp *WorkerPool) Cancel() {
	wp.cancel()
}

// Stop waits for the workers and closes the result channels. Call Cancel
// first to abort instead of draining. Idempotent.
func (wp *WorkerPool) Stop() {
	if !wp.stopped.CompareAndSwap(false, true) {
		return
	}

	if wp.jobsClosed.CompareAndSwap(false, true) {
		close(wp.jobs)
	}

	wp.wg.Wait()

	close(wp.results)
	close(wp.errors)

	wp.cancel()

	wp.logger.Debug("Worker pool stopped",
		"jobs_submitted", wp.jobsSubmitted.Load(),
		"jobs_processed", wp.jobsProcessed.Load(),
		"jobs_failed", wp.jobsFailed.Load())
}

// GetStats returns current worker pool statistics.
func (wp *WorkerPool) GetStats() WorkerPoolStats {
	return WorkerPoolStats{
		NumWorkers:    wp.numWorkers,
		JobsSubmitted: wp.jobsSubmitted.Load(),
		JobsProcessed: wp.jobsProcessed.Load(),
		JobsFailed:    wp.jobsFailed.Load(),
		QueueLength:   len(wp.jobs),
	}
}

// WorkerPoolStats contains statistics about the worker pool.
type WorkerPoolStats struct {
	NumWorkers    int
	JobsSubmitted int64
	JobsProcessed int64
	JobsFailed    int64
	QueueLength   int
}
