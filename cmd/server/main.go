package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/JonMunkholm/catalogimport/internal/config"
	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/logging"
	"github.com/JonMunkholm/catalogimport/internal/metrics"
	"github.com/JonMunkholm/catalogimport/internal/ratelimit"
	"github.com/JonMunkholm/catalogimport/internal/storage"
	"github.com/JonMunkholm/catalogimport/internal/store"
	"github.com/JonMunkholm/catalogimport/internal/web"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Load .env file if it exists; real environment variables win
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()

	// Database
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}

	if cfg.Database.AutoMigrate {
		if err := store.Migrate(ctx, pool); err != nil {
			slog.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		slog.Info("database schema applied")
	}
	catalog := store.New(pool)

	// Asset host
	storageOpts := storage.Options{
		Bucket:          cfg.Storage.Bucket,
		Region:          cfg.Storage.Region,
		Endpoint:        cfg.Storage.Endpoint,
		PublicBaseURL:   cfg.Storage.PublicBaseURL,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		UsePathStyle:    cfg.Storage.UsePathStyle,
		PresignExpiry:   cfg.Storage.PresignExpiry,
	}
	awsCfg, err := storage.LoadAWSConfig(ctx, storageOpts)
	if err != nil {
		slog.Error("failed to load AWS configuration", "error", err)
		os.Exit(1)
	}
	s3Client := storage.NewS3Client(awsCfg, storageOpts)
	signer := storage.NewSigner(cfg.Security.UploadSigningSecret, cfg.Storage.CredentialTTL)
	uploader := storage.NewUploader(s3Client, signer, storageOpts)
	presigner := storage.NewPresigner(s3Client, storageOpts)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	importMetrics := metrics.NewImportMetrics(registry)

	// Rate limiting: shared through Redis when enabled, per process otherwise
	checks := map[string]web.Pinger{"postgres": catalog}
	var apiLimiter, importLimiter ratelimit.Limiter
	if cfg.Redis.Enabled {
		client, err := ratelimit.Connect(ctx, ratelimit.RedisOptions{
			URL:          cfg.Redis.URL,
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer client.Close()

		redisAPI := ratelimit.NewRedisLimiter(client, "api", ratelimit.PerMinute(cfg.Rate.RequestsPerMinute))
		apiLimiter = redisAPI
		importLimiter = ratelimit.NewRedisLimiter(client, "imports", ratelimit.PerMinute(cfg.Rate.ImportLimit))
		checks["redis"] = redisAPI
		slog.Info("rate limiting via redis")
	} else {
		apiLimiter = ratelimit.NewLocalLimiter(ratelimit.PerMinute(cfg.Rate.RequestsPerMinute))
		importLimiter = ratelimit.NewLocalLimiter(ratelimit.PerMinute(cfg.Rate.ImportLimit))
	}

	service := core.NewService(catalog, catalog, signer, uploader, core.ServiceOptions{
		Palette:            cfg.Import.Palette,
		ImageExt:           cfg.Import.ImageExt,
		StrictArchiveNames: cfg.Import.StrictArchiveNames,
		MaxImageSize:       cfg.Import.MaxImageSize,
		UploadBatchSize:    cfg.Import.UploadBatchSize,
		UploadPhaseWeight:  cfg.Import.UploadPhaseWeight,
		AssetFolder:        cfg.Import.AssetFolder,
		MaxConcurrent:      cfg.Import.MaxConcurrent,
		MaxWaitTime:        cfg.Import.MaxWaitTime,
		CommitTimeout:      cfg.Import.CommitTimeout,
		SessionTTL:         cfg.Import.SessionTTL,
		Metrics:            importMetrics,
	})

	server := web.NewServer(cfg, service, web.Options{
		Presigner:     presigner,
		APILimiter:    apiLimiter,
		ImportLimiter: importLimiter,
		Metrics:       importMetrics,
		Gatherer:      registry,
		Checks:        checks,
	})

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		// Commits run detached from requests; let them finish
		if status := service.LimiterStatus(); status.Active > 0 {
			slog.Info("waiting for imports to complete", "active", status.Active)
			if err := service.WaitForImports(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time", "error", err)
			} else {
				slog.Info("all imports completed")
			}
		}
	}()

	if err := server.Start(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-stopped
	slog.Info("server stopped")
}
