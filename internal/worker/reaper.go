package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
)

// Reaper periodically sweeps jobs stuck in processing past the liveness
// timeout. A job goes stale when its worker died between claim and
// completion; the sweep resets the row to pending and re-enqueues it so
// another worker picks it up.
type Reaper struct {
	jobs            interfaces.JobStorage
	queue           interfaces.QueueManager
	livenessTimeout time.Duration
	schedule        string
	cron            *cron.Cron
	logger          arbor.ILogger
}

// NewReaper creates the stuck-job sweeper
func NewReaper(jobs interfaces.JobStorage, queue interfaces.QueueManager, livenessTimeout time.Duration, schedule string) *Reaper {
	return &Reaper{
		jobs:            jobs,
		queue:           queue,
		livenessTimeout: livenessTimeout,
		schedule:        schedule,
		cron:            cron.New(),
		logger:          common.GetLogger(),
	}
}

// Start registers the sweep on its cron schedule and runs one sweep
// immediately to recover jobs orphaned by the previous process
func (r *Reaper) Start() error {
	if _, err := r.cron.AddFunc(r.schedule, func() {
		if err := r.Sweep(context.Background()); err != nil {
			r.logger.Warn().Err(err).Msg("Stuck-job sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid reaper schedule %q: %w", r.schedule, err)
	}

	r.cron.Start()
	r.logger.Info().
		Str("schedule", r.schedule).
		Dur("liveness_timeout", r.livenessTimeout).
		Msg("Stuck-job reaper started")

	if err := r.Sweep(context.Background()); err != nil {
		r.logger.Warn().Err(err).Msg("Startup stuck-job sweep failed")
	}
	return nil
}

// Stop halts the cron schedule
func (r *Reaper) Stop() {
	r.cron.Stop()
}

// Sweep resets stale processing jobs to pending and re-enqueues them
func (r *Reaper) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-r.livenessTimeout)
	stale, err := r.jobs.GetStaleProcessingJobs(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to query stale jobs: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	for _, job := range stale {
		job.MarkRetrying("worker lost, job requeued")
		if err := r.jobs.SaveJob(ctx, job); err != nil {
			r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to reset stale job")
			continue
		}

		msg := models.QueueMessage{JobID: job.ID, DocumentID: job.DocumentID, Kind: job.Kind}
		if err := r.queue.Enqueue(ctx, msg); err != nil {
			r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to re-enqueue stale job")
			continue
		}

		r.logger.Info().
			Str("job_id", job.ID).
			Str("kind", string(job.Kind)).
			Msg("Stale job requeued")
	}

	return nil
}
