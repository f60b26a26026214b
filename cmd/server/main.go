package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"piaoju/internal/batch"
	"piaoju/internal/config"
	"piaoju/internal/handler"
	"piaoju/internal/port"
	"piaoju/internal/provider"
	"piaoju/internal/repository/postgres"
	"piaoju/internal/router"
	"piaoju/internal/service"
	s3storage "piaoju/internal/storage/s3"
	"piaoju/internal/template"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := config.InitLogger(cfg.Log); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer zap.L().Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load template definitions
	source, cleanup, err := templateSource(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	repo, err := template.Load(ctx, source)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}
	zap.L().Info("templates loaded",
		zap.Int("count", repo.Len()),
		zap.String("source", cfg.Templates.Source),
	)

	// Provider client
	ocr := provider.NewHTTPClient(provider.HTTPOptions{
		BaseURL:    cfg.Provider.BaseURL,
		APIKey:     cfg.Provider.APIKey,
		Timeout:    time.Duration(cfg.Provider.TimeoutSecs) * time.Second,
		MaxRetries: cfg.Provider.MaxRetries,
		RateLimit:  rate.Limit(cfg.Provider.RateLimit),
		RateBurst:  cfg.Provider.RateBurst,
	})

	pollCfg := batch.PollConfig{
		InitialInterval: time.Duration(cfg.Poll.InitialIntervalSecs) * time.Second,
		BackoffFactor:   cfg.Poll.BackoffFactor,
		MaxInterval:     time.Duration(cfg.Poll.MaxIntervalSecs) * time.Second,
		Timeout:         time.Duration(cfg.Poll.TimeoutSecs) * time.Second,
	}

	orch := service.NewOrchestrator(repo, ocr, pollCfg, cfg.Extract.UploadFan, cfg.Extract.ExtractFan)

	var archiveStore port.ObjectStorage
	if cfg.S3.Bucket != "" {
		s3Client, err := s3storage.NewS3Client(&cfg.S3)
		if err != nil {
			return fmt.Errorf("failed to initialize S3 client: %w", err)
		}
		archiveStore = s3Client
		orch = orch.WithArchiveRetention(archiveStore, cfg.S3.Bucket)
		zap.L().Info("archive retention enabled", zap.String("bucket", cfg.S3.Bucket))
	}

	// Batch queue
	store := service.NewJobStore()
	worker := service.NewBatchWorker(store, orch, service.BatchWorkerConfig{
		PollInterval: time.Duration(cfg.Queue.PollIntervalSecs) * time.Second,
		Concurrency:  cfg.Queue.Concurrency,
		JobTimeout:   time.Duration(cfg.Queue.JobTimeoutSecs) * time.Second,
	})
	go worker.Start(ctx)

	maxFileSize := cfg.Extract.MaxFileSizeMB * 1024 * 1024

	// Initialize handlers
	extractH := handler.NewExtractHandler(orch, maxFileSize)
	batchH := handler.NewBatchHandler(store, maxFileSize)
	if archiveStore != nil {
		batchH = batchH.WithArchiveStore(archiveStore, cfg.S3.Bucket)
	}
	healthH := handler.NewHealthHandler(repo)

	r := router.Setup(extractH, batchH, healthH, cfg.CORS.AllowedOrigins)

	zap.L().Info("server starting", zap.String("port", cfg.Server.Port))
	if err := r.Run(cfg.Server.Port); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// templateSource picks the configured template backend. The cleanup func
// closes the database connection when the postgres source is in use.
func templateSource(cfg *config.Config) (port.TemplateSource, func(), error) {
	switch cfg.Templates.Source {
	case "postgres":
		db, err := postgres.NewDB(&cfg.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return template.NewPostgresSource(db), func() { db.Close() }, nil
	case "file", "":
		return template.NewFileSource(cfg.Templates.Dir), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown template source %q", cfg.Templates.Source)
	}
}
