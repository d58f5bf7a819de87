package dto

import (
	"time"

	"github.com/mssind/configurator/internal/config"
	"github.com/mssind/configurator/internal/models"
)

type JobCreateDTO struct {
	ConfigurationID string `json:"configuration_id" validate:"required,uuid4"`
}

type JobResponseDTO struct {
	ID              string           `json:"id"`
	ConfigurationID string           `json:"configuration_id"`
	Status          config.JobStatus `json:"status"`
	Progress        int              `json:"progress"`
	ResultURL       *string          `json:"result_url"`
	ErrorCode       *string          `json:"error_code"`
	ErrorMessage    *string          `json:"error_message"`
	RetryCount      int              `json:"retry_count"`
	MaxRetries      int              `json:"max_retries"`
	WorkerID        *string          `json:"worker_id"`
	CreatedAt       time.Time        `json:"created_at"`
	StartedAt       *time.Time       `json:"started_at"`
	CompletedAt     *time.Time       `json:"completed_at"`
}

type JobListDTO struct {
	Items []JobResponseDTO `json:"items"`
	Total int              `json:"total"`
}

// FromJob maps the persistence model onto the wire representation.
func FromJob(j *models.Job) JobResponseDTO {
	return JobResponseDTO{
		ID:              j.ID,
		ConfigurationID: j.ConfigurationID,
		Status:          j.Status,
		Progress:        j.Progress,
		ResultURL:       j.ResultURL,
		ErrorCode:       j.ErrorCode,
		ErrorMessage:    j.ErrorMessage,
		RetryCount:      j.RetryCount,
		MaxRetries:      j.MaxRetries,
		WorkerID:        j.WorkerID,
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
	}
}

func FromJobs(jobs []models.Job) []JobResponseDTO {
	out := make([]JobResponseDTO, len(jobs))
	for i := range jobs {
		out[i] = FromJob(&jobs[i])
	}
	return out
}
