package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
)

const historyLimit = 20

// Service is the enqueue/query surface over jobs. Enqueueing writes the
// job row first and the queue message second, so a visible queue message
// always has a backing record.
type Service struct {
	storage      interfaces.JobStorage
	queue        interfaces.QueueManager
	events       interfaces.EventService
	pollInterval time.Duration
	logger       arbor.ILogger
}

var _ interfaces.JobService = (*Service)(nil)

// NewService creates a job service over the given storage and queue
func NewService(storage interfaces.JobStorage, queue interfaces.QueueManager, events interfaces.EventService) *Service {
	return &Service{
		storage:      storage,
		queue:        queue,
		events:       events,
		pollInterval: 500 * time.Millisecond,
		logger:       common.GetLogger(),
	}
}

// EnqueueJob creates a pending job row and enqueues its work message.
// causedBy links a follow-on job back to the job that spawned it.
func (s *Service) EnqueueJob(ctx context.Context, documentID, owner string, kind models.JobKind, causedBy string) (*models.Job, error) {
	if !models.ValidJobKind(kind) {
		return nil, fmt.Errorf("invalid job kind: %s", kind)
	}
	if documentID == "" {
		return nil, fmt.Errorf("document id is required")
	}

	job := models.NewJob(common.NewJobID(), documentID, owner, kind)
	job.CausedBy = causedBy

	if err := s.storage.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	msg := models.QueueMessage{
		JobID:      job.ID,
		DocumentID: documentID,
		Kind:       kind,
	}
	if err := s.queue.Enqueue(ctx, msg); err != nil {
		// The pending row stays behind; the stale-job reaper re-enqueues it
		s.logger.Error().
			Err(err).
			Str("job_id", job.ID).
			Msg("Failed to enqueue job message")
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("document_id", documentID).
		Str("kind", string(kind)).
		Msg("Job enqueued")

	return job, nil
}

// GetJob returns the current job row
func (s *Service) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	return s.storage.GetJob(ctx, jobID)
}

// ActiveJobsForDocument returns pending and processing jobs for a document,
// oldest first
func (s *Service) ActiveJobsForDocument(ctx context.Context, documentID string) ([]*models.Job, error) {
	return s.storage.GetActiveJobsByDocument(ctx, documentID)
}

// JobHistoryForDocument returns recent jobs for a document, newest first
func (s *Service) JobHistoryForDocument(ctx context.Context, documentID string) ([]*models.Job, error) {
	return s.storage.GetJobHistoryByDocument(ctx, documentID, historyLimit)
}

// AwaitTerminal polls the job row until it reaches a terminal state or the
// context is cancelled
func (s *Service) AwaitTerminal(ctx context.Context, jobID string) (*models.Job, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		job, err := s.storage.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.IsTerminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}
