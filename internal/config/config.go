package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Settings holds everything outside the database connection, which lives in
// internal/storage/postgres. All knobs come from the environment.
type Settings struct {
	Host string `env:"HTTP_HOST,default=0.0.0.0"`
	Port int    `env:"HTTP_PORT,default=8000"`

	// Render engine (headless Blender).
	EnginePath    string        `env:"RENDER_ENGINE_PATH,default=/usr/bin/blender"`
	EngineScript  string        `env:"RENDER_SCRIPT_PATH,default=scripts/generate_glb.py"`
	RenderTimeout time.Duration `env:"RENDER_TIMEOUT,default=300s"`

	// Scheduler.
	MaxConcurrent int           `env:"RENDER_MAX_CONCURRENT,default=2"`
	DispatchTick  time.Duration `env:"DISPATCH_TICK,default=500ms"`
	LeaseSlack    time.Duration `env:"LEASE_SLACK,default=30s"`
	BackoffBase   time.Duration `env:"RETRY_BACKOFF_BASE,default=1s"`
	BackoffFactor float64       `env:"RETRY_BACKOFF_FACTOR,default=2"`
	BackoffMax    time.Duration `env:"RETRY_BACKOFF_MAX,default=5m"`
	MaxRetries    int           `env:"JOB_MAX_RETRIES,default=3"`

	// Artifact store: "minio" or "fs".
	ArtifactBackend string `env:"ARTIFACT_BACKEND,default=fs"`
	ArtifactDir     string `env:"ARTIFACT_DIR,default=./artifacts"`
	ArtifactBaseURL string `env:"ARTIFACT_BASE_URL,default=http://localhost:8000/artifacts"`

	MinioEndpoint  string `env:"MINIO_ENDPOINT,default=localhost:9000"`
	MinioAccessKey string `env:"MINIO_ACCESS_KEY,default=minioadmin"`
	MinioSecretKey string `env:"MINIO_SECRET_KEY,default=minioadmin"`
	MinioBucket    string `env:"MINIO_BUCKET,default=configurator"`
	MinioUseSSL    bool   `env:"MINIO_USE_SSL,default=false"`
}

// LoadSettings processes the environment and validates the result.
func LoadSettings(ctx context.Context) (*Settings, error) {
	var s Settings
	if err := envconfig.Process(ctx, &s); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	if err := validateSettings(&s); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &s, nil
}

func validateSettings(s *Settings) error {
	var errors []string

	if s.Port < 1 || s.Port > 65535 {
		errors = append(errors, "HTTP_PORT must be between 1 and 65535")
	}
	if strings.TrimSpace(s.EnginePath) == "" {
		errors = append(errors, "RENDER_ENGINE_PATH is required")
	}
	if s.RenderTimeout <= 0 {
		errors = append(errors, "RENDER_TIMEOUT must be positive")
	}
	if s.MaxConcurrent < 1 {
		errors = append(errors, "RENDER_MAX_CONCURRENT must be at least 1")
	}
	if s.DispatchTick <= 0 {
		errors = append(errors, "DISPATCH_TICK must be positive")
	}
	if s.BackoffBase <= 0 {
		errors = append(errors, "RETRY_BACKOFF_BASE must be positive")
	}
	if s.BackoffFactor < 1 {
		errors = append(errors, "RETRY_BACKOFF_FACTOR must be at least 1")
	}
	if s.MaxRetries < 0 {
		errors = append(errors, "JOB_MAX_RETRIES must be non-negative")
	}

	switch s.ArtifactBackend {
	case "minio", "fs":
	default:
		errors = append(errors, "ARTIFACT_BACKEND must be one of: minio, fs")
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, "; "))
	}
	return nil
}
