package services

import (
	"context"
	"fmt"

	"wattwatch/models"
	"wattwatch/store"

	"go.uber.org/zap"
)

// JobHistory keeps the ordered list of completed jobs per device
type JobHistory struct {
	repo    *store.Repository
	maxJobs int
	logger  *zap.Logger
}

// NewJobHistory creates a job history. maxJobs <= 0 keeps every job.
func NewJobHistory(repo *store.Repository, maxJobs int, logger *zap.Logger) *JobHistory {
	return &JobHistory{
		repo:    repo,
		maxJobs: maxJobs,
		logger:  logger,
	}
}

// Append adds job at the end of the device history and writes the whole list back.
// A job with the same start as the last recorded one is a retried finish and is not added again.
func (h *JobHistory) Append(ctx context.Context, deviceID string, job models.Job) error {
	jobs, err := h.repo.Jobs(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("read job history: %w", err)
	}

	if n := len(jobs); n > 0 && job.Started > 0 && jobs[n-1].Started == job.Started {
		h.logger.Info("Job already recorded",
			zap.String("device_id", deviceID),
			zap.String("job_id", jobs[n-1].ID),
			zap.Int64("started", job.Started))
		return nil
	}

	jobs = append(jobs, job)
	if h.maxJobs > 0 && len(jobs) > h.maxJobs {
		jobs = jobs[len(jobs)-h.maxJobs:]
	}

	if err := h.repo.SaveJobs(ctx, deviceID, jobs); err != nil {
		return fmt.Errorf("save job history: %w", err)
	}

	h.logger.Info("Job recorded",
		zap.String("device_id", deviceID),
		zap.String("job_id", job.ID),
		zap.Float64("total_wh", job.Total),
		zap.Int64("runtime_seconds", job.Runtime),
		zap.Int("history_size", len(jobs)))

	return nil
}

// List returns the device history, oldest first
func (h *JobHistory) List(ctx context.Context, deviceID string) ([]models.Job, error) {
	jobs, err := h.repo.Jobs(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("read job history: %w", err)
	}
	return jobs, nil
}
