package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/mssind/configurator/internal/job"
	"github.com/mssind/configurator/internal/models"
	"gorm.io/gorm"
)

// ConfigurationSource is the read-only view into the CRUD layer's tables the
// orchestration core needs: the configuration being rendered and the style
// that owns its template and schema.
type ConfigurationSource struct {
	db *gorm.DB
}

func NewConfigurationSource(db *gorm.DB) *ConfigurationSource {
	return &ConfigurationSource{db: db}
}

var _ job.ConfigurationSource = (*ConfigurationSource)(nil)

func (s *ConfigurationSource) GetConfiguration(ctx context.Context, id string) (*models.Configuration, error) {
	var cfg models.Configuration
	if err := s.db.WithContext(ctx).First(&cfg, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, job.ErrNotFound
		}
		return nil, fmt.Errorf("get configuration: %w", err)
	}
	return &cfg, nil
}

func (s *ConfigurationSource) GetStyle(ctx context.Context, id string) (*models.Style, error) {
	var style models.Style
	if err := s.db.WithContext(ctx).First(&style, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, job.ErrNotFound
		}
		return nil, fmt.Errorf("get style: %w", err)
	}
	return &style, nil
}
