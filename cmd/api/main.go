package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mssind/configurator/internal/artifact"
	"github.com/mssind/configurator/internal/config"
	"github.com/mssind/configurator/internal/job"
	"github.com/mssind/configurator/internal/models"
	"github.com/mssind/configurator/internal/render"
	"github.com/mssind/configurator/internal/scheduler"
	"github.com/mssind/configurator/internal/storage/postgres"
	"github.com/mssind/configurator/middleware"
)

// The API binary runs the HTTP surface and the render scheduler in one
// process. The scheduler sits behind the job package's interfaces, so
// extracting it into cmd/worker later is a wiring change, not a rewrite.
func main() {
	log.Println("Starting API...")

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

	service := job.NewJobService(repo, source, sched, settings.MaxRetries)
	handler := job.NewJobHandler(service)

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), middleware.ErrorHandler())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", settings.Host, settings.Port),
		Handler: r,
	}

	go func() {
		log.Printf("Listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed:", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Println("HTTP shutdown:", err)
	}
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
