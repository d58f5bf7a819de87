package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mssind/configurator/internal/artifact"
	"github.com/mssind/configurator/internal/config"
	"github.com/mssind/configurator/internal/models"
	"github.com/mssind/configurator/internal/render"
	"github.com/mssind/configurator/internal/scheduler"
	"github.com/mssind/configurator/internal/storage/postgres"
)

// Standalone worker: scheduler only, no HTTP surface. Runs against the same
// database as the API for deployments that separate rendering from serving.
func main() {
	log.Println("Starting Worker...")

	ctx := context.Background()

	settings, err := config.LoadSettings(ctx)
	if err != nil {
		log.Fatal("Failed to load settings:", err)
	}

	dbCfg, err := postgres.LoadConfigFromEnv(ctx)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	db, err := postgres.ConnectDB(ctx, dbCfg)
	if err != nil {
		log.Fatal("Connection failed:", err)
	}

	if err := postgres.MigrateModels(db, &models.Job{}); err != nil {
		log.Fatal("Migration failed:", err)
	}

	store, err := buildArtifactStore(ctx, settings)
	if err != nil {
		log.Fatal("Artifact store setup failed:", err)
	}

	repo := postgres.NewJobRepository(db)
	source := postgres.NewConfigurationSource(db)
	invoker := render.NewEngineInvoker(settings.EnginePath, settings.EngineScript, settings.RenderTimeout)

	sched := scheduler.New(repo, source, invoker, store, scheduler.Options{
		MaxConcurrent: settings.MaxConcurrent,
		Tick:          settings.DispatchTick,
		RenderTimeout: settings.RenderTimeout,
		LeaseSlack:    settings.LeaseSlack,
		BackoffBase:   settings.BackoffBase,
		BackoffFactor: settings.BackoffFactor,
		BackoffMax:    settings.BackoffMax,
	})

	sched.Start()
	log.Println("Worker active. Press Ctrl+C to stop.")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	sched.Stop()
	log.Println("Shutdown complete.")
}

func buildArtifactStore(ctx context.Context, s *config.Settings) (artifact.Store, error) {
	switch s.ArtifactBackend {
	case "minio":
		return artifact.NewMinioStore(ctx, artifact.MinioOptions{
			Endpoint:  s.MinioEndpoint,
			AccessKey: s.MinioAccessKey,
			SecretKey: s.MinioSecretKey,
			Bucket:    s.MinioBucket,
			UseSSL:    s.MinioUseSSL,
		})
	default:
		return artifact.NewFSStore(s.ArtifactDir, s.ArtifactBaseURL)
	}
}
