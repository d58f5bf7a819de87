package mocks

import (
	"context"
	"time"

	"github.com/mssind/configurator/internal/config"
	"github.com/mssind/configurator/internal/models"
	"github.com/stretchr/testify/mock"
)

type JobRepoMock struct {
	mock.Mock
}

func (m *JobRepoMock) Create(ctx context.Context, j *models.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}

func (m *JobRepoMock) Get(ctx context.Context, id string) (*models.Job, error) {
	args := m.Called(ctx, id)

	j, _ := args.Get(0).(*models.Job)
	return j, args.Error(1)
}

func (m *JobRepoMock) ClaimNext(ctx context.Context, limit int, workerID string, lease time.Duration) ([]models.Job, error) {
	args := m.Called(ctx, limit, workerID, lease)

	jobs, _ := args.Get(0).([]models.Job)
	return jobs, args.Error(1)
}

func (m *JobRepoMock) MarkProcessing(ctx context.Context, id string, lease time.Duration) error {
	args := m.Called(ctx, id, lease)
	return args.Error(0)
}

func (m *JobRepoMock) UpdateProgress(ctx context.Context, id string, progress int) error {
	args := m.Called(ctx, id, progress)
	return args.Error(0)
}

func (m *JobRepoMock) MarkCompleted(ctx context.Context, id string, resultURL string) error {
	args := m.Called(ctx, id, resultURL)
	return args.Error(0)
}

func (m *JobRepoMock) Requeue(ctx context.Context, id string, errCode, errMsg string, nextRunAt time.Time) error {
	args := m.Called(ctx, id, errCode, errMsg, nextRunAt)
	return args.Error(0)
}

func (m *JobRepoMock) MarkFailed(ctx context.Context, id string, errCode, errMsg string) error {
	args := m.Called(ctx, id, errCode, errMsg)
	return args.Error(0)
}

func (m *JobRepoMock) Cancel(ctx context.Context, id string) (*models.Job, error) {
	args := m.Called(ctx, id)

	j, _ := args.Get(0).(*models.Job)
	return j, args.Error(1)
}

func (m *JobRepoMock) List(ctx context.Context, status config.JobStatus, limit int) ([]models.Job, error) {
	args := m.Called(ctx, status, limit)

	jobs, _ := args.Get(0).([]models.Job)
	return jobs, args.Error(1)
}

func (m *JobRepoMock) ListExpiredLeases(ctx context.Context) ([]models.Job, error) {
	args := m.Called(ctx)

	jobs, _ := args.Get(0).([]models.Job)
	return jobs, args.Error(1)
}
