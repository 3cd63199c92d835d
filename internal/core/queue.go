package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"forfar/internal/config"
	"forfar/internal/db"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusDead       JobStatus = "dead"
)

// JobHandler runs one render job. The bool reports whether the call
// applied the rendered transition, so a duplicate delivery completes
// without firing its side effects twice. ErrUnknownCheck aborts the job
// for good; any other error triggers the retry policy.
type JobHandler interface {
	Handle(ctx context.Context, checkID int64) (bool, error)
}

// EventSender publishes check lifecycle events to external listeners.
type EventSender interface {
	SendCheckEvent(event string, checkID, printerID int64, errorMsg string)
}

type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Done       int `json:"done"`
	Dead       int `json:"dead"`
	Total      int `json:"total"`
}

// Queue delivers render jobs to workers with at-least-once semantics.
// Jobs live in the render_jobs table; the channel is only a fast path,
// and a polling dispatcher re-feeds anything still pending, so a job
// survives a dropped channel send or a process restart.
type Queue struct {
	handler JobHandler
	events  EventSender
	config  *config.QueueConfig
	workers int
	stopCh  chan struct{}
	jobCh   chan int64
	mu      sync.Mutex
	running bool
}

func NewQueue(handler JobHandler, events EventSender, cfg *config.QueueConfig) *Queue {
	if cfg == nil {
		cfg = &config.QueueConfig{
			MaxRetries:    3,
			RetryDelay:    10 * time.Second,
			WorkerCount:   2,
			RenderTimeout: 60 * time.Second,
		}
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 2
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = 60 * time.Second
	}

	return &Queue{
		handler: handler,
		events:  events,
		config:  cfg,
		workers: cfg.WorkerCount,
		stopCh:  make(chan struct{}),
		jobCh:   make(chan int64, 1000),
	}
}

func (q *Queue) Start() error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = true
	q.mu.Unlock()

	if err := q.recoverJobs(); err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}

	for i := 0; i < q.workers; i++ {
		go q.worker()
	}

	go q.dispatcher()

	return nil
}

func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	q.mu.Unlock()

	close(q.stopCh)
}

// Enqueue records a durable render job for the check and wakes a worker.
func (q *Queue) Enqueue(ctx context.Context, checkID int64) (int64, error) {
	job := &db.RenderJob{CheckID: checkID}
	if err := db.Jobs.CreateJob(ctx, job); err != nil {
		return 0, err
	}

	select {
	case q.jobCh <- job.ID:
	default:
	}

	return job.ID, nil
}

// RetryDead requeues a dead-lettered job after operator intervention.
func (q *Queue) RetryDead(ctx context.Context, jobID int64) error {
	reset, err := db.Jobs.ResetDeadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !reset {
		return fmt.Errorf("only dead jobs can be retried")
	}

	select {
	case q.jobCh <- jobID:
	default:
	}

	return nil
}

func (q *Queue) GetStats(ctx context.Context) (*QueueStats, error) {
	counts, err := db.Jobs.CountJobsByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := &QueueStats{
		Pending:    counts[string(JobStatusPending)],
		Processing: counts[string(JobStatusProcessing)],
		Done:       counts[string(JobStatusDone)],
		Dead:       counts[string(JobStatusDead)],
	}
	stats.Total = stats.Pending + stats.Processing + stats.Done + stats.Dead
	return stats, nil
}

// recoverJobs returns jobs interrupted by a previous shutdown to the
// pending pool. A job that already rendered its check before the crash
// is re-delivered and lands in the handler's idempotent no-op path.
func (q *Queue) recoverJobs() error {
	ctx := context.Background()
	if err := db.Jobs.ResetProcessingJobs(ctx); err != nil {
		return err
	}

	ids, err := db.Jobs.ListPendingJobIDs(ctx, cap(q.jobCh))
	if err != nil {
		return err
	}

	for _, id := range ids {
		select {
		case q.jobCh <- id:
		default:
		}
	}

	return nil
}

func (q *Queue) dispatcher() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.enqueuePendingJobs()
		}
	}
}

func (q *Queue) enqueuePendingJobs() {
	ids, err := db.Jobs.ListPendingJobIDs(context.Background(), 100)
	if err != nil {
		log.Printf("queue: failed to list pending jobs: %v", err)
		return
	}

	for _, id := range ids {
		select {
		case q.jobCh <- id:
		default:
			return
		}
	}
}

func (q *Queue) worker() {
	for {
		select {
		case <-q.stopCh:
			return
		case jobID := <-q.jobCh:
			q.processJob(jobID)
		}
	}
}

func (q *Queue) processJob(jobID int64) {
	ctx := context.Background()

	job, err := db.Jobs.GetJobByID(ctx, jobID)
	if err != nil {
		log.Printf("queue: failed to load job %d: %v", jobID, err)
		return
	}

	if job.Status != string(JobStatusPending) {
		return
	}

	claimed, err := db.Jobs.MarkJobProcessing(ctx, jobID)
	if err != nil {
		log.Printf("queue: failed to claim job %d: %v", jobID, err)
		return
	}
	if !claimed {
		return
	}

	renderCtx, cancel := context.WithTimeout(ctx, q.config.RenderTimeout)
	applied, err := q.handler.Handle(renderCtx, job.CheckID)
	cancel()

	if err == nil {
		if err := db.Jobs.MarkJobDone(ctx, jobID); err != nil {
			log.Printf("queue: failed to complete job %d: %v", jobID, err)
		}
		if applied {
			q.sendEvent("check_rendered", job.CheckID, "")
		}
		return
	}

	if errors.Is(err, ErrUnknownCheck) {
		// The check will never exist; retrying is pointless.
		log.Printf("queue: dropping job %d: %v", jobID, err)
		if err := db.Jobs.MarkJobDead(ctx, jobID, err.Error()); err != nil {
			log.Printf("queue: failed to dead-letter job %d: %v", jobID, err)
		}
		return
	}

	q.handleJobFailure(ctx, job, err)
}

func (q *Queue) handleJobFailure(ctx context.Context, job *db.RenderJob, cause error) {
	if job.Attempts < q.config.MaxRetries {
		if err := db.Jobs.IncrementAttempts(ctx, job.ID); err != nil {
			log.Printf("queue: failed to record attempt for job %d: %v", job.ID, err)
		}
		delay := q.calculateBackoff(job.Attempts)
		log.Printf("queue: job %d failed (attempt %d), retrying in %s: %v",
			job.ID, job.Attempts+1, delay, cause)
		time.AfterFunc(delay, func() {
			q.retryJob(job.ID)
		})
		return
	}

	log.Printf("queue: job %d dead-lettered after %d attempts: %v", job.ID, job.Attempts, cause)
	if err := db.Jobs.MarkJobDead(ctx, job.ID, cause.Error()); err != nil {
		log.Printf("queue: failed to dead-letter job %d: %v", job.ID, err)
	}
	q.sendEvent("render_failed", job.CheckID, cause.Error())
}

func (q *Queue) calculateBackoff(attempts int) time.Duration {
	baseDelay := q.config.RetryDelay
	if baseDelay == 0 {
		baseDelay = 10 * time.Second
	}
	backoff := baseDelay * time.Duration(1<<uint(attempts))
	maxBackoff := 5 * time.Minute
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

func (q *Queue) retryJob(jobID int64) {
	if err := db.Jobs.RequeueJob(context.Background(), jobID); err != nil {
		log.Printf("queue: failed to requeue job %d: %v", jobID, err)
		return
	}
	select {
	case q.jobCh <- jobID:
	default:
	}
}

func (q *Queue) sendEvent(event string, checkID int64, errorMsg string) {
	if q.events == nil {
		return
	}
	printerID := int64(0)
	if chk, err := db.Checks.GetCheckByID(context.Background(), checkID); err == nil {
		printerID = chk.PrinterID
	}
	q.events.SendCheckEvent(event, checkID, printerID, errorMsg)
}
