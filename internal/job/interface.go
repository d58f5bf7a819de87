package job

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mssind/configurator/internal/config"
	"github.com/mssind/configurator/internal/dto"
	"github.com/mssind/configurator/internal/models"
)

// ErrNotFound is returned for unknown job or configuration IDs.
var ErrNotFound = errors.New("not found")

// ErrInvalidState is returned when an operation is not legal for the job's
// current status, e.g. cancelling a job that is already processing.
var ErrInvalidState = errors.New("invalid state for operation")

// JobRepoInterface defines the contract for the durable job store. All state
// transitions are single conditional updates; concurrent writers arbitrate
// through rows-affected, never through application locks.
type JobRepoInterface interface {
	Create(ctx context.Context, j *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)

	// ClaimNext atomically claims up to limit eligible PENDING jobs (oldest
	// first, next_run_at elapsed) for workerID, moving them to QUEUED and
	// starting their lease.
	ClaimNext(ctx context.Context, limit int, workerID string, lease time.Duration) ([]models.Job, error)
	MarkProcessing(ctx context.Context, id string, lease time.Duration) error
	UpdateProgress(ctx context.Context, id string, progress int) error
	MarkCompleted(ctx context.Context, id string, resultURL string) error
	Requeue(ctx context.Context, id string, errCode, errMsg string, nextRunAt time.Time) error
	MarkFailed(ctx context.Context, id string, errCode, errMsg string) error

	Cancel(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, status config.JobStatus, limit int) ([]models.Job, error)
	ListExpiredLeases(ctx context.Context) ([]models.Job, error)
}

// ConfigurationSource is the read-only lookup into the CRUD layer.
type ConfigurationSource interface {
	GetConfiguration(ctx context.Context, id string) (*models.Configuration, error)
	GetStyle(ctx context.Context, id string) (*models.Style, error)
}

// Waker lets the API nudge the dispatcher when a job is created, instead of
// waiting for the next tick.
type Waker interface {
	Wake()
}

// JobServiceInterface defines the contract for job business logic operations.
type JobServiceInterface interface {
	CreateJob(ctx context.Context, req *dto.JobCreateDTO) (*dto.JobResponseDTO, error)
	GetJob(ctx context.Context, id string) (*dto.JobResponseDTO, error)
	CancelJob(ctx context.Context, id string) (*dto.JobResponseDTO, error)
	ListJobs(ctx context.Context, status config.JobStatus, limit int) (*dto.JobListDTO, error)
}

// JobHandlerInterface defines the contract for HTTP request handlers.
type JobHandlerInterface interface {
	Create(c *gin.Context)
	Get(c *gin.Context)
	Cancel(c *gin.Context)
	List(c *gin.Context)
}
