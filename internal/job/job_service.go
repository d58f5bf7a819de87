package job

import (
	"context"
	"errors"
	"net/http"

	"github.com/mssind/configurator/common"
	"github.com/mssind/configurator/internal/config"
	"github.com/mssind/configurator/internal/dto"
	"github.com/mssind/configurator/internal/models"
	"github.com/xeipuuv/gojsonschema"
)

type JobService struct {
	repo       JobRepoInterface
	source     ConfigurationSource
	waker      Waker
	maxRetries int
}

// NewJobService wires the service. waker may be nil when no in-process
// dispatcher is running (the standalone worker picks jobs up on its tick).
func NewJobService(repo JobRepoInterface, source ConfigurationSource, waker Waker, maxRetries int) *JobService {
	return &JobService{repo: repo, source: source, waker: waker, maxRetries: maxRetries}
}

var _ JobServiceInterface = (*JobService)(nil)

// CreateJob validates the referenced configuration and persists a PENDING
// job. Validation failures are surfaced synchronously and create nothing;
// the render pipeline never sees a malformed configuration.
func (s *JobService) CreateJob(ctx context.Context, req *dto.JobCreateDTO) (*dto.JobResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request canceled or timed out")
	}

	cfg, err := s.source.GetConfiguration(ctx, req.ConfigurationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, common.CodeErrf(http.StatusNotFound, config.ErrCodeNotFound, "configuration not found")
		}
		return nil, common.Errf(http.StatusInternalServerError, "failed to look up configuration")
	}

	if cfg.ClientID == "" {
		return nil, common.CodeErrf(http.StatusBadRequest, config.ErrCodeValidation,
			"configuration must belong to a client")
	}

	style, err := s.source.GetStyle(ctx, cfg.StyleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, common.CodeErrf(http.StatusUnprocessableEntity, config.ErrCodeValidation,
				"configuration references unknown style")
		}
		return nil, common.Errf(http.StatusInternalServerError, "failed to look up style")
	}

	if err := validateConfigData(cfg, style); err != nil {
		return nil, err
	}

	j := models.Job{
		ConfigurationID: cfg.ID,
		Status:          config.JobStatusPending,
		MaxRetries:      s.maxRetries,
	}
	if err := s.repo.Create(ctx, &j); err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
		default:
			return nil, common.Errf(http.StatusInternalServerError, "failed to create job")
		}
	}

	if s.waker != nil {
		s.waker.Wake()
	}

	resp := dto.FromJob(&j)
	return &resp, nil
}

// GetJob returns the current snapshot of a job. Clients poll this until the
// job reaches a terminal state.
func (s *JobService) GetJob(ctx context.Context, id string) (*dto.JobResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "failed to get job")
	}

	resp := dto.FromJob(j)
	return &resp, nil
}

// CancelJob cancels a job that has not started processing. Once a worker
// owns the job the render run is not interruptible, so the caller gets a
// conflict explaining why instead of a silent no-op.
func (s *JobService) CancelJob(ctx context.Context, id string) (*dto.JobResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	j, err := s.repo.Cancel(ctx, id)
	if err != nil {
		if errors.Is(err, ErrInvalidState) {
			return nil, common.CodeErrf(http.StatusConflict, config.ErrCodeInvalidState,
				"cannot cancel job in status %s: only PENDING or QUEUED jobs can be cancelled", j.Status)
		}
		return nil, mapRepoError(err, "failed to cancel job")
	}

	resp := dto.FromJob(j)
	return &resp, nil
}

// ListJobs returns jobs, optionally filtered by status.
func (s *JobService) ListJobs(ctx context.Context, status config.JobStatus, limit int) (*dto.JobListDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	jobs, err := s.repo.List(ctx, status, limit)
	if err != nil {
		return nil, mapRepoError(err, "failed to list jobs")
	}

	return &dto.JobListDTO{Items: dto.FromJobs(jobs), Total: len(jobs)}, nil
}

// validateConfigData checks the configuration values against the style's
// JSON Schema. Styles without a schema accept anything.
func validateConfigData(cfg *models.Configuration, style *models.Style) error {
	if len(style.ConfigSchema) == 0 {
		return nil
	}
	if len(cfg.ConfigData) == 0 {
		return common.CodeErrf(http.StatusUnprocessableEntity, config.ErrCodeValidation,
			"configuration has no config data")
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(style.ConfigSchema),
		gojsonschema.NewBytesLoader(cfg.ConfigData),
	)
	if err != nil {
		return common.CodeErrf(http.StatusUnprocessableEntity, config.ErrCodeValidation,
			"configuration could not be validated: %v", err)
	}

	if !result.Valid() {
		fields := map[string]any{}
		for _, desc := range result.Errors() {
			fields[desc.Field()] = desc.Description()
		}
		return common.APIError{
			Status:  http.StatusUnprocessableEntity,
			Code:    config.ErrCodeValidation,
			Message: "configuration does not match style schema",
			Fields:  fields,
		}
	}
	return nil
}

func mapRepoError(err error, fallback string) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return common.CodeErrf(http.StatusNotFound, config.ErrCodeNotFound, "job not found")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return common.Errf(http.StatusRequestTimeout, "request timed out")
	default:
		return common.Errf(http.StatusInternalServerError, "%s", fallback)
	}
}
