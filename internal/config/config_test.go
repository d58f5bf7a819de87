package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateSettings(t *testing.T) {
	valid := func() *Settings {
		return &Settings{
			Port:            8000,
			EnginePath:      "/usr/bin/blender",
			RenderTimeout:   5 * time.Minute,
			MaxConcurrent:   2,
			DispatchTick:    500 * time.Millisecond,
			BackoffBase:     time.Second,
			BackoffFactor:   2,
			MaxRetries:      3,
			ArtifactBackend: "fs",
		}
	}

	t.Run("valid settings pass", func(t *testing.T) {
		assert.NoError(t, validateSettings(valid()))
	})

	tests := []struct {
		name     string
		mutate   func(*Settings)
		contains string
	}{
		{"bad port", func(s *Settings) { s.Port = 0 }, "HTTP_PORT"},
		{"empty engine path", func(s *Settings) { s.EnginePath = "  " }, "RENDER_ENGINE_PATH"},
		{"zero timeout", func(s *Settings) { s.RenderTimeout = 0 }, "RENDER_TIMEOUT"},
		{"zero concurrency", func(s *Settings) { s.MaxConcurrent = 0 }, "RENDER_MAX_CONCURRENT"},
		{"zero tick", func(s *Settings) { s.DispatchTick = 0 }, "DISPATCH_TICK"},
		{"backoff factor below one", func(s *Settings) { s.BackoffFactor = 0.5 }, "RETRY_BACKOFF_FACTOR"},
		{"negative retries", func(s *Settings) { s.MaxRetries = -1 }, "JOB_MAX_RETRIES"},
		{"unknown artifact backend", func(s *Settings) { s.ArtifactBackend = "azure" }, "ARTIFACT_BACKEND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			err := validateSettings(s)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestJobStatusHelpers(t *testing.T) {
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.True(t, JobStatusCancelled.IsTerminal())
	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusQueued.IsTerminal())
	assert.False(t, JobStatusProcessing.IsTerminal())

	assert.True(t, JobStatusPending.Cancellable())
	assert.True(t, JobStatusQueued.Cancellable())
	assert.False(t, JobStatusProcessing.Cancellable())
	assert.False(t, JobStatusCompleted.Cancellable())
}
