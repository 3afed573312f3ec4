package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mzxrai/memva-sub002/internal/db/models"
	"github.com/mzxrai/memva-sub002/internal/db/repos"
	"github.com/mzxrai/memva-sub002/internal/logger"
)

// ErrNonRetryable marks a handler error as a validation failure that must
// fail the job terminally instead of counting against its retry budget.
// Handlers wrap with NonRetryable; the worker tests with errors.Is.
var ErrNonRetryable = errors.New("non-retryable")

// NonRetryable wraps err so the worker fails the job terminally.
func NonRetryable(err error) error {
	return fmt.Errorf("%w: %v", ErrNonRetryable, err)
}

// WorkerConfig holds the scheduling parameters for a worker instance.
type WorkerConfig struct {
	// Concurrency is the maximum number of jobs in flight at once.
	Concurrency int
	// PollInterval is how often the claim loop checks the store.
	PollInterval time.Duration
	// LockDuration is the claim lock lifetime; the heartbeat renews it
	// while a handler runs, so handlers may outlive it by any margin.
	LockDuration time.Duration
	// HeartbeatInterval is how often the lock is renewed for running jobs.
	HeartbeatInterval time.Duration
	// RetryBackoff is the delay before a failed job is claimable again.
	RetryBackoff time.Duration
	// DrainTimeout bounds how long Run waits for in-flight handlers after
	// shutdown begins; handlers still running after it are abandoned and
	// reclaimed by lock expiry.
	DrainTimeout time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.LockDuration <= 0 {
		c.LockDuration = 5 * time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = c.LockDuration / 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 30 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	return c
}

// Worker polls the job store, claims jobs up to its concurrency limit and
// invokes the registered handler for each. Multiple worker instances are
// safe against the same store because claiming is atomic at the store level.
type Worker struct {
	id       string
	jobs     *repos.JobRepository
	registry *Registry
	cfg      WorkerConfig

	slots chan struct{}
	wg    sync.WaitGroup
}

// NewWorker creates a worker with a unique identity used as the claim owner.
func NewWorker(jobs *repos.JobRepository, registry *Registry, cfg WorkerConfig) *Worker {
	cfg = cfg.withDefaults()
	return &Worker{
		id:       "worker-" + uuid.NewString(),
		jobs:     jobs,
		registry: registry,
		cfg:      cfg,
		slots:    make(chan struct{}, cfg.Concurrency),
	}
}

// ID returns the worker's claim-owner identity.
func (w *Worker) ID() string {
	return w.id
}

// Run is the worker's scheduling loop. It blocks until ctx is cancelled,
// then stops claiming and waits up to DrainTimeout for in-flight handlers.
func (w *Worker) Run(ctx context.Context) {
	logger.Infof("Worker %s started (concurrency=%d)", w.id, w.cfg.Concurrency)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Infof("Worker %s received shutdown signal, draining...", w.id)
			w.drain()
			return
		case <-ticker.C:
			w.claimAvailable(ctx)
		}
	}
}

// claimAvailable claims jobs until every slot is busy or the store has
// nothing claimable.
func (w *Worker) claimAvailable(ctx context.Context) {
	for {
		select {
		case w.slots <- struct{}{}:
		default:
			return // all slots busy
		}

		job, err := w.jobs.ClaimNext(ctx, w.id, w.registry.Types(), w.cfg.LockDuration)
		if err != nil {
			<-w.slots
			if !errors.Is(err, repos.ErrNoClaimableJob) && ctx.Err() == nil {
				logger.Errorf("Worker %s claim error: %v", w.id, err)
			}
			return
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-w.slots }()
			w.runJob(ctx, job)
		}()
	}
}

// runJob invokes the handler for a claimed job and applies the completion
// policy: success completes the job, a non-retryable error fails it
// terminally, anything else counts against its retry budget.
func (w *Worker) runJob(ctx context.Context, job *models.Job) {
	handler, ok := w.registry.Get(job.Type)
	if !ok {
		// Claims are filtered to registered types, so this only happens if
		// the registry changed under us.
		if err := w.jobs.FailTerminal(ctx, job.ID, fmt.Sprintf("no handler registered for job type %q", job.Type)); err != nil {
			logger.Errorf("Worker %s failed to fail job %d: %v", w.id, job.ID, err)
		}
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.heartbeat(jobCtx, cancel, job.ID)

	logger.InfoWithFields("Worker claimed job", map[string]interface{}{
		"worker": w.id, "job_id": job.ID, "type": job.Type, "attempt": job.Attempts + 1,
	})

	result, handlerErr := handler(jobCtx, job)

	// Settlement must still reach the store when the handler finished
	// during a shutdown drain.
	settleCtx := context.WithoutCancel(ctx)
	if handlerErr != nil {
		w.settleFailure(settleCtx, job.ID, handlerErr)
		return
	}

	if err := w.jobs.Complete(settleCtx, job.ID, result); err != nil {
		if errors.Is(err, repos.ErrInvalidTransition) {
			// Cancelled while the handler was finishing; the cancellation wins.
			logger.Infof("Worker %s: job %d left active before completion", w.id, job.ID)
			return
		}
		logger.Errorf("Worker %s failed to complete job %d: %v", w.id, job.ID, err)
	}
}

func (w *Worker) settleFailure(ctx context.Context, jobID uint, handlerErr error) {
	var err error
	if errors.Is(handlerErr, ErrNonRetryable) {
		err = w.jobs.FailTerminal(ctx, jobID, handlerErr.Error())
	} else {
		err = w.jobs.Fail(ctx, jobID, handlerErr.Error(), w.cfg.RetryBackoff)
	}
	if err != nil {
		if errors.Is(err, repos.ErrInvalidTransition) {
			logger.Infof("Worker %s: job %d left active before failure was recorded", w.id, jobID)
			return
		}
		logger.Errorf("Worker %s failed to record failure for job %d: %v", w.id, jobID, err)
	}
}

// heartbeat renews the claim lock while a handler runs. A claimed job may
// legitimately stay active for a very long time, e.g. while a human
// deliberates over a permission request, so the lock must never expire
// under a live handler. Losing the lock means the job was cancelled or
// reclaimed; the handler context is cancelled so it can stop cooperatively.
func (w *Worker) heartbeat(ctx context.Context, cancel context.CancelFunc, jobID uint) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := w.jobs.ExtendLock(ctx, jobID, w.id, w.cfg.LockDuration)
			if err != nil {
				logger.Errorf("Worker %s heartbeat error for job %d: %v", w.id, jobID, err)
				continue
			}
			if !held {
				logger.Infof("Worker %s lost claim on job %d, cancelling handler", w.id, jobID)
				cancel()
				return
			}
		}
	}
}

func (w *Worker) drain() {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Infof("Worker %s drained cleanly", w.id)
	case <-time.After(w.cfg.DrainTimeout):
		logger.Warnf("Worker %s drain timeout elapsed, abandoning in-flight jobs", w.id)
	}
}
