// -----------------------------------------------------------------------
// Worker pool - pulls queue messages, claims the backing job row, runs
// the registered processor, records the outcome, and publishes progress
// events. Extract work is serialized through a capacity-1 semaphore;
// other kinds run at full pool concurrency.
// -----------------------------------------------------------------------

package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
	"golang.org/x/time/rate"
)

// Config holds the pool's runtime knobs
type Config struct {
	Concurrency      int
	PollInterval     time.Duration
	MaxAttempts      int
	RetryDelay       time.Duration
	ProgressThrottle time.Duration
}

// Pool runs jobs pulled from the queue
type Pool struct {
	config     Config
	queue      interfaces.QueueManager
	jobs       interfaces.JobStorage
	documents  interfaces.DocumentService
	jobService interfaces.JobService
	events     interfaces.EventService
	processors map[models.JobKind]interfaces.Processor

	// extractSem serializes extract jobs: text extraction is the heavy
	// kind and running several at once starves everything else
	extractSem chan struct{}

	// running maps in-flight job IDs to their cancel funcs so a batch skip
	// can abort the document's processor instead of just abandoning it
	runningMu sync.Mutex
	running   map[string]context.CancelFunc

	chainClassify bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger arbor.ILogger
}

// NewPool creates a worker pool. chainClassify enables the follow-on
// classify job enqueued when an extract job completes with text.
func NewPool(
	config Config,
	queue interfaces.QueueManager,
	jobs interfaces.JobStorage,
	documents interfaces.DocumentService,
	jobService interfaces.JobService,
	events interfaces.EventService,
	chainClassify bool,
) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		config:        config,
		queue:         queue,
		jobs:          jobs,
		documents:     documents,
		jobService:    jobService,
		events:        events,
		processors:    make(map[models.JobKind]interfaces.Processor),
		extractSem:    make(chan struct{}, 1),
		running:       make(map[string]context.CancelFunc),
		chainClassify: chainClassify,
		ctx:           ctx,
		cancel:        cancel,
		logger:        common.GetLogger(),
	}
}

// RegisterProcessor registers the processor for a job kind
func (p *Pool) RegisterProcessor(processor interfaces.Processor) {
	p.processors[processor.Kind()] = processor
	p.logger.Debug().
		Str("kind", string(processor.Kind())).
		Msg("Processor registered")
}

// Start launches the worker goroutines
func (p *Pool) Start() error {
	if len(p.processors) == 0 {
		return fmt.Errorf("no processors registered")
	}

	p.logger.Info().
		Int("concurrency", p.config.Concurrency).
		Dur("poll_interval", p.config.PollInterval).
		Int("max_attempts", p.config.MaxAttempts).
		Msg("Starting worker pool")

	for i := 0; i < p.config.Concurrency; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return nil
}

// Stop cancels the workers and waits for in-flight jobs to finish
func (p *Pool) Stop() {
	p.logger.Info().Msg("Stopping worker pool")
	p.cancel()
	p.wg.Wait()
}

func (p *Pool) worker(workerID int) {
	defer p.wg.Done()

	// Stagger worker starts to spread polling across the interval
	stagger := (p.config.PollInterval / time.Duration(p.config.Concurrency)) * time.Duration(workerID)
	select {
	case <-time.After(stagger):
	case <-p.ctx.Done():
		return
	}

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug().Int("worker_id", workerID).Msg("Worker stopped")
			return
		case <-ticker.C:
			if err := p.processNext(workerID); err != nil && !errors.Is(err, models.ErrNoMessage) {
				p.logger.Warn().
					Err(err).
					Int("worker_id", workerID).
					Msg("Error processing queue message")
			}
		}
	}
}

// processNext receives one queue message and runs its job end to end
func (p *Pool) processNext(workerID int) error {
	msg, deleteFn, err := p.queue.Receive(p.ctx)
	if err != nil {
		return err
	}

	// The claim is the exactly-once gate: on a redelivered message whose
	// job already ran, the claim loses and the message is just deleted.
	job, err := p.jobs.ClaimJob(p.ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("failed to claim job %s: %w", msg.JobID, err)
	}
	if job == nil {
		p.logger.Debug().
			Str("job_id", msg.JobID).
			Msg("Job claim lost or job not pending, dropping message")
		return deleteFn()
	}

	p.logger.Info().
		Int("worker_id", workerID).
		Str("job_id", job.ID).
		Str("document_id", job.DocumentID).
		Str("kind", string(job.Kind)).
		Int("attempt", job.Attempts).
		Msg("Job started")

	p.publishJob(models.EventJobStarted, job)

	p.runJob(job)

	return deleteFn()
}

// CancelJob aborts the named in-flight job by cancelling its processor
// context. Reports false when this pool is not currently running the job.
func (p *Pool) CancelJob(jobID string) bool {
	p.runningMu.Lock()
	cancel, ok := p.running[jobID]
	p.runningMu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (p *Pool) registerRunning(jobID string, cancel context.CancelFunc) {
	p.runningMu.Lock()
	p.running[jobID] = cancel
	p.runningMu.Unlock()
}

func (p *Pool) unregisterRunning(jobID string) {
	p.runningMu.Lock()
	delete(p.running, jobID)
	p.runningMu.Unlock()
}

// runJob executes the job's processor and records the outcome
func (p *Pool) runJob(job *models.Job) {
	processor, ok := p.processors[job.Kind]
	if !ok {
		p.failJob(job, fmt.Sprintf("no processor for kind %s", job.Kind))
		return
	}

	if job.Kind == models.JobKindExtract {
		select {
		case p.extractSem <- struct{}{}:
			defer func() { <-p.extractSem }()
		case <-p.ctx.Done():
			return
		}
	}

	jobCtx, jobCancel := context.WithCancel(p.ctx)
	p.registerRunning(job.ID, jobCancel)
	defer func() {
		p.unregisterRunning(job.ID)
		jobCancel()
	}()

	doc, err := p.documents.GetDocument(jobCtx, job.DocumentID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			p.failJob(job, fmt.Sprintf("document %s not found", job.DocumentID))
		} else {
			p.handleProcessError(job, fmt.Errorf("%w: failed to load document %s: %v", interfaces.ErrUnavailable, job.DocumentID, err))
		}
		return
	}

	result, err := processor.Process(jobCtx, doc, p.progressReporter(job))
	if err != nil {
		if jobCtx.Err() != nil && p.ctx.Err() == nil {
			p.failJob(job, "processing cancelled")
			return
		}
		p.handleProcessError(job, err)
		return
	}

	// Apply the document patch before the job goes terminal so a client
	// reacting to job.completed reads the updated document
	if result.Patch != nil && !result.Patch.IsEmpty() {
		if _, patchErr := p.documents.UpdateDocumentMetadata(p.ctx, job.DocumentID, result.Patch); patchErr != nil {
			p.handleProcessError(job, fmt.Errorf("failed to apply document update: %w", patchErr))
			return
		}
	}

	job.MarkCompleted(result.Result)
	if err := p.jobs.SaveJob(p.ctx, job); err != nil {
		p.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to save completed job")
	}
	p.publishJob(models.EventJobCompleted, job)

	p.logger.Info().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Int("attempts", job.Attempts).
		Msg("Job completed")

	// A cancel that raced with completion still suppresses chaining: the
	// skip targeted this document, follow-on work included
	if jobCtx.Err() == nil {
		p.maybeChain(job, result)
	}
}

// maybeChain enqueues the follow-on classify job after a successful extract
// that produced text
func (p *Pool) maybeChain(job *models.Job, result *interfaces.ProcessResult) {
	if !p.chainClassify || job.Kind != models.JobKindExtract {
		return
	}
	if extracted, ok := result.Result["text_extracted"].(bool); !ok || !extracted {
		return
	}

	chained, err := p.jobService.EnqueueJob(p.ctx, job.DocumentID, job.Owner, models.JobKindClassify, job.ID)
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("job_id", job.ID).
			Str("document_id", job.DocumentID).
			Msg("Failed to enqueue follow-on classify job")
		return
	}

	p.logger.Info().
		Str("job_id", chained.ID).
		Str("caused_by", job.ID).
		Msg("Follow-on classify job enqueued")
}

// handleProcessError routes a processor failure: input errors fail
// immediately, transient errors retry with exponential backoff until the
// attempt budget runs out
func (p *Pool) handleProcessError(job *models.Job, err error) {
	if errors.Is(err, interfaces.ErrInput) {
		p.failJob(job, err.Error())
		return
	}

	if job.Attempts >= p.config.MaxAttempts {
		p.failJob(job, fmt.Sprintf("failed after %d attempts: %s", job.Attempts, err.Error()))
		return
	}

	// Backoff doubles per attempt: base, 2x, 4x ...
	delay := p.config.RetryDelay * (1 << (job.Attempts - 1))

	job.MarkRetrying(err.Error())
	if saveErr := p.jobs.SaveJob(p.ctx, job); saveErr != nil {
		p.logger.Error().Err(saveErr).Str("job_id", job.ID).Msg("Failed to save retrying job")
		return
	}

	msg := models.QueueMessage{JobID: job.ID, DocumentID: job.DocumentID, Kind: job.Kind}
	if enqErr := p.queue.EnqueueDelayed(p.ctx, msg, delay); enqErr != nil {
		p.failJob(job, fmt.Sprintf("failed to schedule retry: %s", enqErr.Error()))
		return
	}

	p.logger.Warn().
		Str("job_id", job.ID).
		Int("attempt", job.Attempts).
		Dur("retry_in", delay).
		Str("error", err.Error()).
		Msg("Job failed, retry scheduled")
}

func (p *Pool) failJob(job *models.Job, errorMsg string) {
	job.MarkFailed(errorMsg)
	if err := p.jobs.SaveJob(p.ctx, job); err != nil {
		p.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to save failed job")
	}
	p.publishJob(models.EventJobFailed, job)

	p.logger.Warn().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Str("error", errorMsg).
		Msg("Job failed")
}

// progressReporter persists and publishes progress updates, throttled so a
// chatty processor cannot flood storage or the event stream. The job row is
// the source of truth; events are advisory.
func (p *Pool) progressReporter(job *models.Job) interfaces.ProgressFunc {
	var limiter *rate.Limiter
	if p.config.ProgressThrottle > 0 {
		limiter = rate.NewLimiter(rate.Every(p.config.ProgressThrottle), 1)
	}

	var mu sync.Mutex
	return func(progress int) {
		mu.Lock()
		defer mu.Unlock()

		before := job.Progress
		job.SetProgress(progress)
		if job.Progress == before {
			return
		}
		if limiter != nil && !limiter.Allow() {
			return
		}

		if err := p.jobs.SaveJob(p.ctx, job); err != nil {
			p.logger.Debug().Err(err).Str("job_id", job.ID).Msg("Failed to save job progress")
			return
		}
		p.publishJob(models.EventJobProgress, job)
	}
}

func (p *Pool) publishJob(eventType models.EventType, job *models.Job) {
	p.events.Publish(models.NewEvent(eventType, job.Owner, models.JobPayload(job)))
}
