package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("job not found: %s", jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// ClaimJob flips pending -> processing inside a single badgerhold update so
// exactly one worker ever owns a pending job. A lost race returns nil, nil.
func (s *JobStorage) ClaimJob(ctx context.Context, jobID string) (*models.Job, error) {
	var claimed *models.Job

	err := s.db.Store().UpdateMatching(&models.Job{},
		badgerhold.Where(badgerhold.Key).Eq(jobID).And("Status").Eq(models.JobStatusPending),
		func(record interface{}) error {
			job, ok := record.(*models.Job)
			if !ok {
				return fmt.Errorf("unexpected record type %T", record)
			}
			job.MarkStarted()
			snapshot := *job
			claimed = &snapshot
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return claimed, nil
}

func (s *JobStorage) GetActiveJobsByDocument(ctx context.Context, documentID string) ([]*models.Job, error) {
	var jobs []models.Job
	query := badgerhold.Where("DocumentID").Eq(documentID).
		And("Status").In(models.JobStatusPending, models.JobStatusProcessing).
		SortBy("CreatedAt")
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) GetJobHistoryByDocument(ctx context.Context, documentID string, limit int) ([]*models.Job, error) {
	var jobs []models.Job
	query := badgerhold.Where("DocumentID").Eq(documentID).
		SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list job history: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) GetStaleProcessingJobs(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	var jobs []models.Job
	query := badgerhold.Where("Status").Eq(models.JobStatusProcessing)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list processing jobs: %w", err)
	}

	var stale []*models.Job
	for i := range jobs {
		started := jobs[i].StartedAt
		if started != nil && started.Before(cutoff) {
			stale = append(stale, &jobs[i])
		}
	}
	return stale, nil
}

func (s *JobStorage) DeleteJobsByDocument(ctx context.Context, documentID string) error {
	if err := s.db.Store().DeleteMatching(&models.Job{}, badgerhold.Where("DocumentID").Eq(documentID)); err != nil {
		return fmt.Errorf("failed to delete jobs for document: %w", err)
	}
	return nil
}
