package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-provisioning-service/internal/monitoring"
)

// Config holds runner tuning
type Config struct {
	Workers        int
	PollInterval   time.Duration
	LockRetryDelay time.Duration
	// JobTimeout bounds one handler run. Zero leaves it unbounded.
	JobTimeout time.Duration
}

// Runner executes queued jobs on a pool of workers. At most one job per
// tenant runs at a time across every runner sharing the Locker. A job whose
// tenant is busy goes back on the queue so the worker stays free.
type Runner struct {
	queue    Queue
	locker   Locker
	clock    clock.Clock
	handlers map[Kind]Handler

	workers        int
	pollInterval   time.Duration
	lockRetryDelay time.Duration
	jobTimeout     time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRunner(queue Queue, locker Locker, clk clock.Clock, cfg Config) *Runner {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.LockRetryDelay <= 0 {
		cfg.LockRetryDelay = time.Second
	}
	return &Runner{
		queue:          queue,
		locker:         locker,
		clock:          clk,
		handlers:       make(map[Kind]Handler),
		workers:        cfg.Workers,
		pollInterval:   cfg.PollInterval,
		lockRetryDelay: cfg.LockRetryDelay,
		jobTimeout:     cfg.JobTimeout,
	}
}

// Handle registers the handler for a job kind. Register before Start.
func (r *Runner) Handle(kind Kind, h Handler) {
	r.handlers[kind] = h
}

// Submit enqueues a job as due now
func (r *Runner) Submit(ctx context.Context, job *Job) error {
	return r.queue.Enqueue(ctx, job, r.clock.Now())
}

// Start launches the workers. They stop when ctx is cancelled or Stop is
// called.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.work(ctx, i)
	}
	log.Info().Int("workers", r.workers).Msg("Job runner started")
}

// Stop cancels the workers and waits for in-flight jobs to return. Jobs
// already running are not cancelled.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
	log.Info().Msg("Job runner stopped")
}

// ProcessDue runs every job that is currently due on the calling goroutine
// and returns how many it handled. Jobs rescheduled into the future are
// left on the queue.
func (r *Runner) ProcessDue(ctx context.Context) (int, error) {
	n := 0
	for {
		job, err := r.queue.Next(ctx)
		if err != nil {
			return n, err
		}
		if job == nil {
			return n, nil
		}
		r.process(ctx, job)
		n++
	}
}

func (r *Runner) work(ctx context.Context, id int) {
	defer r.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := r.queue.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Int("worker", id).Msg("Failed to poll job queue")
			}
		}
		if job != nil {
			r.process(ctx, job)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(r.pollInterval):
		}
	}
}

func (r *Runner) process(ctx context.Context, job *Job) {
	logger := log.With().
		Str("job_id", job.ID.String()).
		Str("tenant_id", job.TenantID.String()).
		Str("kind", string(job.Kind)).
		Int("attempt", job.Attempt).
		Logger()

	h, ok := r.handlers[job.Kind]
	if !ok {
		logger.Error().Msg("No handler registered, dropping job")
		monitoring.JobsProcessed.WithLabelValues(string(job.Kind), "dropped").Inc()
		return
	}

	unlock, locked, err := r.locker.TryLock(ctx, LockKey(job.TenantID))
	if err != nil || !locked {
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to acquire tenant lock")
		} else {
			logger.Debug().Msg("Tenant busy, deferring job")
		}
		r.enqueue(ctx, logger, job, r.lockRetryDelay)
		return
	}
	defer unlock()

	// Shutdown stops polling but lets a started deploy or delete finish
	jobCtx := context.WithoutCancel(ctx)
	if r.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, r.jobTimeout)
		defer cancel()
	}

	outcome, err := r.run(jobCtx, h, job)
	if err != nil {
		logger.Error().Err(err).Msg("Job handler panicked, dropping job")
		monitoring.JobsProcessed.WithLabelValues(string(job.Kind), "panic").Inc()
		monitoring.Alert("job handler panicked", map[string]string{
			"tenant_id": job.TenantID.String(),
			"kind":      string(job.Kind),
		})
		return
	}

	if !outcome.Retry {
		monitoring.JobsProcessed.WithLabelValues(string(job.Kind), "done").Inc()
		return
	}

	job.Attempt++
	monitoring.JobsProcessed.WithLabelValues(string(job.Kind), "retry").Inc()
	monitoring.JobRetries.WithLabelValues(string(job.Kind)).Inc()
	logger.Info().Dur("delay", outcome.Delay).Int("next_attempt", job.Attempt).Msg("Job scheduled for retry")
	r.enqueue(ctx, logger, job, outcome.Delay)
}

func (r *Runner) run(ctx context.Context, h Handler, job *Job) (outcome Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h.Handle(ctx, job), nil
}

func (r *Runner) enqueue(ctx context.Context, logger zerolog.Logger, job *Job, delay time.Duration) {
	// Requeue even during shutdown so durable queues keep the job
	if err := r.queue.Enqueue(context.WithoutCancel(ctx), job, r.clock.Now().Add(delay)); err != nil {
		logger.Error().Err(err).Msg("Failed to requeue job")
	}
}
