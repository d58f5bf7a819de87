package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mssind/configurator/internal/config"
	"github.com/mssind/configurator/internal/job"
	"github.com/mssind/configurator/internal/models"
	"gorm.io/gorm"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

var _ job.JobRepoInterface = (*JobRepository)(nil)

// Create inserts a new job record. The model hook assigns the UUID and the
// PENDING status; callers get the populated record back through the pointer.
func (r *JobRepository) Create(ctx context.Context, j *models.Job) error {
	if err := r.db.WithContext(ctx).Create(j).Error; err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// Get retrieves a single job by ID. Unknown IDs yield job.ErrNotFound.
func (r *JobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	var j models.Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, job.ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

// ClaimNext atomically claims up to limit dispatch-eligible jobs for the
// given worker. Eligible means PENDING with next_run_at in the past, oldest
// first. The claim is a conditional update keyed on the PENDING status, so
// two concurrent dispatchers can never take the same job: whoever loses the
// update simply gets zero rows affected and skips it. The lease starts at
// the claim, not at MarkProcessing: a worker that dies holding a QUEUED job
// must still be visible to the reaper.
func (r *JobRepository) ClaimNext(ctx context.Context, limit int, workerID string, lease time.Duration) ([]models.Job, error) {
	now := time.Now().UTC()
	leaseUntil := now.Add(lease)

	var candidates []models.Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_run_at <= ?", config.JobStatusPending, now).
		Order("created_at ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("list eligible jobs: %w", err)
	}

	claimed := make([]models.Job, 0, len(candidates))
	for i := range candidates {
		c := candidates[i]
		res := r.db.WithContext(ctx).Model(&models.Job{}).
			Where("id = ? AND status = ?", c.ID, config.JobStatusPending).
			Updates(map[string]any{
				"status":      config.JobStatusQueued,
				"worker_id":   workerID,
				"lease_until": leaseUntil,
			})
		if res.Error != nil {
			return claimed, fmt.Errorf("claim job %s: %w", c.ID, res.Error)
		}
		if res.RowsAffected != 1 {
			// Lost the race to another claimer or a cancel.
			continue
		}
		c.Status = config.JobStatusQueued
		c.WorkerID = &workerID
		c.LeaseUntil = &leaseUntil
		claimed = append(claimed, c)
	}
	return claimed, nil
}

// MarkProcessing moves a claimed job into PROCESSING, stamping started_at
// and the lease deadline the reaper watches.
func (r *JobRepository) MarkProcessing(ctx context.Context, id string, lease time.Duration) error {
	now := time.Now().UTC()
	leaseUntil := now.Add(lease)
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, config.JobStatusQueued).
		Updates(map[string]any{
			"status":      config.JobStatusProcessing,
			"started_at":  now,
			"lease_until": leaseUntil,
		})
	if res.Error != nil {
		return fmt.Errorf("mark processing: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("mark processing: job %s is not QUEUED", id)
	}
	return nil
}

// UpdateProgress is a best-effort write: it only applies while the job is
// still PROCESSING and never moves progress backwards within an attempt.
func (r *JobRepository) UpdateProgress(ctx context.Context, id string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ? AND progress <= ?", id, config.JobStatusProcessing, progress).
		Update("progress", progress).Error
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// MarkCompleted writes the terminal COMPLETED state in a single update:
// result URL set, error fields cleared, progress pinned to 100. Readers can
// never observe COMPLETED without a result URL.
func (r *JobRepository) MarkCompleted(ctx context.Context, id string, resultURL string) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, config.JobStatusProcessing).
		Updates(map[string]any{
			"status":        config.JobStatusCompleted,
			"progress":      100,
			"result_url":    resultURL,
			"error_code":    nil,
			"error_message": nil,
			"lease_until":   nil,
			"completed_at":  now,
		})
	if res.Error != nil {
		return fmt.Errorf("mark completed: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("mark completed: job %s is not PROCESSING", id)
	}
	return nil
}

// Requeue returns a failed attempt to PENDING: retry count up, progress
// reset, worker released, and the job invisible to dispatch until nextRunAt.
// It accepts QUEUED as well as PROCESSING so the reaper can recover claims
// whose worker died before ever starting the render.
func (r *JobRepository) Requeue(ctx context.Context, id string, errCode, errMsg string, nextRunAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status IN ?", id, []config.JobStatus{config.JobStatusQueued, config.JobStatusProcessing}).
		Updates(map[string]any{
			"status":        config.JobStatusPending,
			"retry_count":   gorm.Expr("retry_count + ?", 1),
			"progress":      0,
			"worker_id":     nil,
			"lease_until":   nil,
			"error_code":    errCode,
			"error_message": errMsg,
			"next_run_at":   nextRunAt.UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("requeue job: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("requeue: job %s is not QUEUED or PROCESSING", id)
	}
	return nil
}

// MarkFailed writes the terminal FAILED state with its classification. Like
// Requeue it accepts QUEUED, for reaped claims that are out of retries.
func (r *JobRepository) MarkFailed(ctx context.Context, id string, errCode, errMsg string) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status IN ?", id, []config.JobStatus{config.JobStatusQueued, config.JobStatusProcessing}).
		Updates(map[string]any{
			"status":        config.JobStatusFailed,
			"error_code":    errCode,
			"error_message": errMsg,
			"lease_until":   nil,
			"completed_at":  now,
		})
	if res.Error != nil {
		return fmt.Errorf("mark failed: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("mark failed: job %s is not QUEUED or PROCESSING", id)
	}
	return nil
}

// Cancel moves a PENDING or QUEUED job to CANCELLED. The conditional update
// is the arbiter: a job snatched by the dispatcher in between comes back as
// job.ErrInvalidState, never as a silent overwrite of PROCESSING.
func (r *JobRepository) Cancel(ctx context.Context, id string) (*models.Job, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status IN ?", id, []config.JobStatus{config.JobStatusPending, config.JobStatusQueued}).
		Updates(map[string]any{
			"status":       config.JobStatusCancelled,
			"worker_id":    nil,
			"completed_at": now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("cancel job: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		// Distinguish unknown id from a non-cancellable state.
		j, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return j, job.ErrInvalidState
	}
	return r.Get(ctx, id)
}

// List returns jobs, optionally filtered by status, newest first.
func (r *JobRepository) List(ctx context.Context, status config.JobStatus, limit int) ([]models.Job, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var jobs []models.Job
	if err := q.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// ListExpiredLeases returns claimed jobs whose lease deadline has passed,
// i.e. jobs whose worker died without writing a terminal state. QUEUED is
// included: a claim whose worker never reached PROCESSING holds a lease too.
func (r *JobRepository) ListExpiredLeases(ctx context.Context) ([]models.Job, error) {
	now := time.Now().UTC()
	var jobs []models.Job
	err := r.db.WithContext(ctx).
		Where("status IN ? AND lease_until IS NOT NULL AND lease_until <= ?",
			[]config.JobStatus{config.JobStatusQueued, config.JobStatusProcessing}, now).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("list expired leases: %w", err)
	}
	return jobs, nil
}
