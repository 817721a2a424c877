package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/growlabs/bibscan-go/internal/logging"
)

// JobQueue manages a queue of jobs that can be retried
type JobQueue struct {
	jobs          []*Job
	mu            sync.Mutex
	stats         Stats
	stopCh        chan struct{}
	runningJobs   sync.WaitGroup // Track running jobs for graceful shutdown
	isRunning     bool
	maxJobs       int // Maximum number of pending jobs in the queue
	processCancel context.CancelFunc
	interval      time.Duration // Processing ticker interval
	logger        *slog.Logger
}

// NewJobQueue creates a new job queue with the given capacity.
func NewJobQueue(maxJobs int) *JobQueue {
	if maxJobs <= 0 {
		maxJobs = 100
	}
	logger := logging.ForService("jobqueue")
	if logger == nil {
		logger = slog.Default().With("service", "jobqueue")
	}
	return &JobQueue{
		jobs:     make([]*Job, 0),
		stopCh:   make(chan struct{}),
		maxJobs:  maxJobs,
		interval: 100 * time.Millisecond,
		logger:   logger,
	}
}

// SetProcessingInterval overrides the ticker interval, mainly for tests.
func (q *JobQueue) SetProcessingInterval(interval time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.interval = interval
}

// Start starts the job queue processing.
func (q *JobQueue) Start() {
	q.StartWithContext(context.Background())
}

// StartWithContext starts the job queue processing with a context.
func (q *JobQueue) StartWithContext(ctx context.Context) {
	q.mu.Lock()
	if q.isRunning {
		q.mu.Unlock()
		return
	}
	q.isRunning = true
	q.stopCh = make(chan struct{})

	processCtx, cancel := context.WithCancel(ctx)
	q.processCancel = cancel
	q.mu.Unlock()

	go q.processJobs(processCtx)
}

// Stop stops the job queue processing and waits for running jobs.
func (q *JobQueue) Stop() error {
	return q.StopWithTimeout(10 * time.Second)
}

// StopWithTimeout stops the job queue, waiting up to the timeout for running
// jobs to finish.
func (q *JobQueue) StopWithTimeout(timeout time.Duration) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	if q.processCancel != nil {
		q.processCancel()
		q.processCancel = nil
	}
	close(q.stopCh)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.runningJobs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for jobs to complete after %v", timeout)
	}
}

// Enqueue adds a job to the queue.
func (q *JobQueue) Enqueue(action Action, data any, config RetryConfig) (*Job, error) {
	if action == nil {
		return nil, ErrNilAction
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.isRunning {
		return nil, ErrQueueStopped
	}
	if len(q.jobs) >= q.maxJobs {
		return nil, fmt.Errorf("%w: maximum queue size (%d) reached", ErrQueueFull, q.maxJobs)
	}

	job := &Job{
		ID:        uuid.New().String(),
		Action:    action,
		Data:      data,
		CreatedAt: time.Now(),
		Status:    JobStatusPending,
		Config:    config,
	}
	q.jobs = append(q.jobs, job)
	q.stats.TotalJobs++

	q.logger.Debug("job enqueued",
		"job_id", job.ID,
		"action", action.Description(),
		"pending", len(q.jobs))

	return job, nil
}

// GetStats returns a snapshot of the queue statistics.
func (q *JobQueue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshot := q.stats
	snapshot.PendingJobs = len(q.jobs)
	snapshot.MaxQueueSize = q.maxJobs
	return snapshot
}

// processJobs runs due jobs until the context is cancelled.
func (q *JobQueue) processJobs(ctx context.Context) {
	q.mu.Lock()
	interval := q.interval
	q.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.runDueJobs(ctx)
		}
	}
}

// runDueJobs starts every pending job whose retry time has passed.
func (q *JobQueue) runDueJobs(ctx context.Context) {
	now := time.Now()

	q.mu.Lock()
	due := make([]*Job, 0)
	for _, job := range q.jobs {
		if job.Status == JobStatusPending || (job.Status == JobStatusRetrying && !job.NextRetryAt.After(now)) {
			job.Status = JobStatusRunning
			due = append(due, job)
		}
	}
	q.mu.Unlock()

	for _, job := range due {
		q.runningJobs.Add(1)
		go func(job *Job) {
			defer q.runningJobs.Done()
			q.executeJob(ctx, job)
		}(job)
	}
}

// executeJob runs one attempt and schedules a retry or finalizes the job.
func (q *JobQueue) executeJob(ctx context.Context, job *Job) {
	start := time.Now()
	err := job.Action.Execute(ctx, job.Data)
	duration := time.Since(start)

	q.mu.Lock()
	defer q.mu.Unlock()

	job.Attempts++
	job.LastError = err

	switch {
	case err == nil:
		job.Status = JobStatusCompleted
		q.stats.SuccessfulJobs++
		q.removeJob(job.ID)
		q.logger.Debug("job completed",
			"job_id", job.ID,
			"action", job.Action.Description(),
			"attempts", job.Attempts,
			"duration_ms", duration.Milliseconds())

	case job.Config.Enabled && job.Attempts <= job.Config.MaxRetries:
		job.Status = JobStatusRetrying
		job.NextRetryAt = time.Now().Add(q.retryDelay(job))
		q.stats.RetryAttempts++
		q.logger.Warn("job failed, will retry",
			"job_id", job.ID,
			"action", job.Action.Description(),
			"attempt", job.Attempts,
			"max_retries", job.Config.MaxRetries,
			"error", err)

	default:
		job.Status = JobStatusFailed
		q.stats.FailedJobs++
		q.removeJob(job.ID)
		q.logger.Error("job failed permanently",
			"job_id", job.ID,
			"action", job.Action.Description(),
			"attempts", job.Attempts,
			"error", err)
	}
}

// retryDelay computes the exponential backoff delay for the next attempt.
func (q *JobQueue) retryDelay(job *Job) time.Duration {
	delay := float64(job.Config.InitialDelay) * math.Pow(job.Config.Multiplier, float64(job.Attempts-1))
	if maxDelay := float64(job.Config.MaxDelay); job.Config.MaxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return time.Duration(delay)
}

// removeJob drops a finished job from the queue. Caller must hold the lock.
func (q *JobQueue) removeJob(id string) {
	for i, job := range q.jobs {
		if job.ID == id {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return
		}
	}
}
