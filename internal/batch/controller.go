// -----------------------------------------------------------------------
// Batch controller - supervises one controllable sweep of jobs over a
// filtered document set. Control operations set flags on the run's
// control block and return immediately; the supervising loop consumes
// the flags at its checkpoints.
// -----------------------------------------------------------------------

package batch

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
)

// ErrRunActive is returned when an owner already has a running batch
var ErrRunActive = errors.New("another batch run is already active for this owner")

// ErrRunNotFound is returned by control operations on unknown or finished runs
var ErrRunNotFound = errors.New("batch run not found")

// skipPollInterval is how often the loop re-checks the skip flag while a
// document's job is in flight
const skipPollInterval = 200 * time.Millisecond

// controlFlags is the run's control block. Flags are set by API calls and
// consumed (read-and-cleared) by the single supervising loop.
type controlFlags struct {
	mu     sync.Mutex
	paused bool
	cancel bool
	skip   bool
}

func (f *controlFlags) setPaused(paused bool) {
	f.mu.Lock()
	f.paused = paused
	f.mu.Unlock()
}

func (f *controlFlags) isPaused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

func (f *controlFlags) requestCancel() {
	f.mu.Lock()
	f.cancel = true
	f.mu.Unlock()
}

func (f *controlFlags) cancelRequested() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancel
}

func (f *controlFlags) requestSkip() {
	f.mu.Lock()
	f.skip = true
	f.mu.Unlock()
}

// consumeSkip clears the skip flag and reports whether it was set
func (f *controlFlags) consumeSkip() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.skip
	f.skip = false
	return was
}

// runHandle pairs a live run with its control block
type runHandle struct {
	run   *models.BatchRun
	flags *controlFlags
}

// Config holds the controller's runtime knobs
type Config struct {
	PausePollInterval time.Duration
}

// Controller owns all live batch runs. One loop goroutine per run; at most
// one running run per owner.
type Controller struct {
	config    Config
	storage   interfaces.BatchStorage
	documents interfaces.DocumentService
	jobs      interfaces.JobService
	events    interfaces.EventService
	canceller interfaces.JobCanceller

	mu       sync.Mutex
	byOwner  map[string]*runHandle
	byRunID  map[string]*runHandle
	wg       sync.WaitGroup
	shutdown bool

	logger arbor.ILogger
}

// NewController creates the batch controller. canceller aborts the
// in-flight job on skip; nil degrades to abandoning the wait.
func NewController(
	config Config,
	storage interfaces.BatchStorage,
	documents interfaces.DocumentService,
	jobs interfaces.JobService,
	events interfaces.EventService,
	canceller interfaces.JobCanceller,
) *Controller {
	if config.PausePollInterval <= 0 {
		config.PausePollInterval = 2 * time.Second
	}
	return &Controller{
		config:    config,
		storage:   storage,
		documents: documents,
		jobs:      jobs,
		events:    events,
		canceller: canceller,
		byOwner:   make(map[string]*runHandle),
		byRunID:   make(map[string]*runHandle),
		logger:    common.GetLogger(),
	}
}

// Start materializes the filtered document list and launches the supervising
// loop. Rejects when the owner already has a running batch.
func (c *Controller) Start(ctx context.Context, owner string, kind models.JobKind, filter models.BatchFilter) (*models.BatchRun, error) {
	if !models.ValidJobKind(kind) {
		return nil, fmt.Errorf("invalid batch kind: %s", kind)
	}

	docIDs, err := c.documents.ListDocumentIDs(ctx, owner, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil, fmt.Errorf("controller is shutting down")
	}
	if existing, ok := c.byOwner[owner]; ok {
		c.mu.Unlock()
		c.events.Publish(models.NewEvent(models.EventBatchCompleted, owner, models.BatchEventPayload{
			RunID:      existing.run.ID,
			Status:     models.BatchStatusBlocked,
			StatusText: "Another batch run is already active",
		}))
		return nil, fmt.Errorf("%w: run %s", ErrRunActive, existing.run.ID)
	}

	run := models.NewBatchRun(common.NewRunID(), owner, kind, filter, len(docIDs))
	handle := &runHandle{run: run, flags: &controlFlags{}}
	c.byOwner[owner] = handle
	c.byRunID[run.ID] = handle
	c.wg.Add(1)
	c.mu.Unlock()

	if err := c.storage.SaveRun(ctx, run); err != nil {
		c.release(handle)
		c.wg.Done()
		return nil, fmt.Errorf("failed to save batch run: %w", err)
	}

	c.logger.Info().
		Str("run_id", run.ID).
		Str("owner", owner).
		Str("kind", string(kind)).
		Str("filter", string(filter)).
		Int("total", run.Total).
		Msg("Batch run started")

	go c.supervise(handle, docIDs)

	return run, nil
}

// Pause asserts the run's pause flag. Idempotent.
func (c *Controller) Pause(runID string) error {
	handle, err := c.handle(runID)
	if err != nil {
		return err
	}
	handle.flags.setPaused(true)
	return nil
}

// Resume clears the run's pause flag. Idempotent.
func (c *Controller) Resume(runID string) error {
	handle, err := c.handle(runID)
	if err != nil {
		return err
	}
	handle.flags.setPaused(false)
	return nil
}

// Skip asserts the skip flag for the run's in-flight document. The flag is
// advisory and self-clearing; skipping a document that already finished is
// silently ignored.
func (c *Controller) Skip(runID string) error {
	handle, err := c.handle(runID)
	if err != nil {
		return err
	}
	handle.flags.requestSkip()
	return nil
}

// Cancel asserts the run's cancel flag. The loop exits at its next
// checkpoint; the in-flight document is allowed to finish.
func (c *Controller) Cancel(runID string) error {
	handle, err := c.handle(runID)
	if err != nil {
		return err
	}
	handle.flags.requestCancel()
	return nil
}

// GetRun returns the persisted run row, live or terminal
func (c *Controller) GetRun(ctx context.Context, runID string) (*models.BatchRun, error) {
	return c.storage.GetRun(ctx, runID)
}

// ActiveRun returns the owner's live run, or nil
func (c *Controller) ActiveRun(owner string) *models.BatchRun {
	c.mu.Lock()
	defer c.mu.Unlock()
	if handle, ok := c.byOwner[owner]; ok {
		return handle.run
	}
	return nil
}

// Shutdown waits for all live runs to finish their current document and exit
func (c *Controller) Shutdown() {
	c.mu.Lock()
	c.shutdown = true
	for _, handle := range c.byRunID {
		handle.flags.requestCancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Controller) handle(runID string) (*runHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	handle, ok := c.byRunID[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return handle, nil
}

func (c *Controller) release(handle *runHandle) {
	c.mu.Lock()
	delete(c.byOwner, handle.run.Owner)
	delete(c.byRunID, handle.run.ID)
	c.mu.Unlock()
}

// supervise is the run's single-writer loop. Only this goroutine mutates
// the run's counters.
func (c *Controller) supervise(handle *runHandle, docIDs []string) {
	defer c.wg.Done()
	defer c.release(handle)

	ctx := context.Background()
	run := handle.run
	flags := handle.flags

	c.publishProgress(run, fmt.Sprintf("Starting batch run over %d documents...", run.Total))

	for _, docID := range docIDs {
		if flags.cancelRequested() {
			c.finishCancelled(ctx, run)
			return
		}

		if c.holdWhilePaused(run, flags) {
			c.finishCancelled(ctx, run)
			return
		}

		c.processDocument(ctx, run, flags, docID)
		c.saveRun(ctx, run)
		c.publishProgress(run, "")
	}

	if flags.cancelRequested() {
		c.finishCancelled(ctx, run)
		return
	}

	run.MarkCompleted()
	c.saveRun(ctx, run)
	c.events.Publish(models.NewEvent(models.EventBatchCompleted, run.Owner, models.BatchPayload(run,
		fmt.Sprintf("Completed %d/%d documents", run.Current, run.Total))))

	c.logger.Info().
		Str("run_id", run.ID).
		Int("succeeded", run.Succeeded).
		Int("failed", run.Failed).
		Int("skipped", run.Skipped).
		Msg("Batch run completed")
}

// holdWhilePaused blocks while the pause flag is set, publishing the paused
// progress event exactly once per entry to the held state. Returns true if
// the run was cancelled while held.
func (c *Controller) holdWhilePaused(run *models.BatchRun, flags *controlFlags) bool {
	if !flags.isPaused() {
		return false
	}

	run.Paused = true
	c.publishProgress(run, fmt.Sprintf("Paused at %d/%d", run.Current, run.Total))
	c.logger.Info().Str("run_id", run.ID).Msg("Batch run paused")

	for flags.isPaused() {
		if flags.cancelRequested() {
			return true
		}
		time.Sleep(c.config.PausePollInterval)
	}

	run.Paused = false
	c.logger.Info().Str("run_id", run.ID).Msg("Batch run resumed")
	return flags.cancelRequested()
}

// processDocument runs one document's job to a terminal state and folds the
// outcome into the run's counters
func (c *Controller) processDocument(ctx context.Context, run *models.BatchRun, flags *controlFlags, docID string) {
	defer func() {
		run.Current++
		run.CurrentDocument = ""
	}()

	doc, err := c.documents.GetDocument(ctx, docID)
	if err != nil || doc == nil {
		run.Skipped++
		return
	}

	name := doc.DisplayName()
	run.CurrentDocument = name
	c.publishProgress(run, fmt.Sprintf("Processing: %s", name))

	// A skip asserted before this document started is stale; the flag only
	// ever targets the in-flight document
	flags.consumeSkip()

	job, err := c.jobs.EnqueueJob(ctx, docID, run.Owner, run.Kind, "")
	if err != nil {
		run.Failed++
		run.Errors = append(run.Errors, models.BatchError{Document: name, Error: err.Error()})
		return
	}

	final, skipped := c.awaitJob(ctx, flags, job.ID)
	if skipped {
		run.Skipped++
		c.logger.Info().
			Str("run_id", run.ID).
			Str("document", name).
			Msg("Document skipped by request")
		return
	}

	switch {
	case final == nil:
		run.Failed++
		run.Errors = append(run.Errors, models.BatchError{Document: name, Error: "job state lost"})
	case final.Status == models.JobStatusCompleted:
		run.Succeeded++
	default:
		run.Failed++
		run.Errors = append(run.Errors, models.BatchError{Document: name, Error: final.Error})
	}
}

// awaitJob waits for the job to go terminal while watching the skip flag.
// A skip aborts the in-flight job through the canceller and abandons the
// wait.
func (c *Controller) awaitJob(ctx context.Context, flags *controlFlags, jobID string) (*models.Job, bool) {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		job *models.Job
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		job, err := c.jobs.AwaitTerminal(waitCtx, jobID)
		done <- outcome{job, err}
	}()

	ticker := time.NewTicker(skipPollInterval)
	defer ticker.Stop()

	for {
		select {
		case result := <-done:
			if result.err != nil {
				return nil, false
			}
			return result.job, false
		case <-ticker.C:
			if flags.consumeSkip() {
				if c.canceller != nil {
					c.canceller.CancelJob(jobID)
				}
				cancel()
				<-done
				return nil, true
			}
		}
	}
}

func (c *Controller) finishCancelled(ctx context.Context, run *models.BatchRun) {
	run.MarkCancelled()
	c.saveRun(ctx, run)
	c.events.Publish(models.NewEvent(models.EventBatchCancelled, run.Owner, models.BatchPayload(run,
		fmt.Sprintf("Cancelled after %d/%d documents", run.Current, run.Total))))

	c.logger.Info().
		Str("run_id", run.ID).
		Int("processed", run.Current).
		Msg("Batch run cancelled")
}

func (c *Controller) publishProgress(run *models.BatchRun, statusText string) {
	if statusText == "" {
		statusText = fmt.Sprintf("Processing %d/%d...", run.Current, run.Total)
	}
	c.events.Publish(models.NewEvent(models.EventBatchProgress, run.Owner, models.BatchPayload(run, statusText)))
}

func (c *Controller) saveRun(ctx context.Context, run *models.BatchRun) {
	if err := c.storage.SaveRun(ctx, run); err != nil {
		c.logger.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to persist batch run")
	}
}
