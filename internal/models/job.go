package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/mssind/configurator/internal/config"
	"gorm.io/gorm"
)

// Job is one GLB generation request for a saved configuration.
//
// State is owned by the scheduler once the job leaves PENDING; the API only
// ever creates jobs and cancels them while they are still cancellable.
type Job struct {
	ID              string           `gorm:"type:varchar(36);primaryKey"`
	ConfigurationID string           `gorm:"type:varchar(36);not null;index"`
	Status          config.JobStatus `gorm:"type:varchar(20);not null;default:'PENDING';index"`
	Progress        int              `gorm:"not null;default:0"`
	ResultURL       *string          `gorm:"type:varchar(500)"`
	ErrorCode       *string          `gorm:"type:varchar(100)"`
	ErrorMessage    *string          `gorm:"type:text"`
	RetryCount      int              `gorm:"not null;default:0"`
	MaxRetries      int              `gorm:"not null;default:3"`
	WorkerID        *string          `gorm:"type:varchar(100)"`

	// NextRunAt gates dispatch eligibility; a requeued job is invisible to
	// ClaimNext until its backoff delay has elapsed.
	NextRunAt time.Time `gorm:"not null;index"`

	// LeaseUntil is set while PROCESSING; the reaper requeues jobs whose
	// lease expired without the worker writing a terminal state.
	LeaseUntil *time.Time

	CreatedAt   time.Time `gorm:"autoCreateTime"`
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = config.JobStatusPending
	}
	if j.NextRunAt.IsZero() {
		j.NextRunAt = time.Now().UTC()
	}
	return nil
}

// CanRetry reports whether one more failed attempt may be requeued.
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}
