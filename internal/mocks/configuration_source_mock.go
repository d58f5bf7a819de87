package mocks

import (
	"context"

	"github.com/mssind/configurator/internal/models"
	"github.com/stretchr/testify/mock"
)

type ConfigurationSourceMock struct {
	mock.Mock
}

func (m *ConfigurationSourceMock) GetConfiguration(ctx context.Context, id string) (*models.Configuration, error) {
	args := m.Called(ctx, id)

	cfg, _ := args.Get(0).(*models.Configuration)
	return cfg, args.Error(1)
}

func (m *ConfigurationSourceMock) GetStyle(ctx context.Context, id string) (*models.Style, error) {
	args := m.Called(ctx, id)

	style, _ := args.Get(0).(*models.Style)
	return style, args.Error(1)
}
