package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"barriers/api/internal/app"
	"barriers/api/internal/config"
	"barriers/api/internal/documents"
	"barriers/api/internal/email"
	"barriers/api/internal/events"
	"barriers/api/internal/metrics"
	"barriers/api/internal/notify"
	"barriers/api/internal/reference"
	"barriers/api/internal/search"
	"barriers/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	var (
		dataStore store.Store
		fallback  search.Searcher
	)
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store, data will not survive a restart")
		dataStore = store.NewMemoryStore()
	default:
		pg, err := store.Connect(ctx, cfg.DatabaseURL, cfg.MigrationsDir)
		if err != nil {
			fatal(logger, "database connection failed", err)
		}
		defer pg.DB().Close()
		pg.SetLockTimeout(cfg.LockTimeout)
		dataStore = pg
		fallback = search.NewPostgres(pg.DB())
	}

	var cache reference.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisCache, err := reference.NewRedisCache(cfg.RedisURL)
		if err != nil {
			fatal(logger, "redis connection failed", err)
		}
		defer redisCache.Close()
		cache = redisCache
	}
	resolver := reference.NewResolver(
		reference.FileSource{Path: cfg.CataloguePath},
		reference.WithCache(cache),
		reference.WithTTL(cfg.CatalogueTTL),
		reference.WithLogger(logger),
	)

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, cfg.MeiliIndex, logger)
		defer meili.Close()
	}
	searchService := search.NewService(meili, fallback, logger)

	opts := []app.Option{
		app.WithSearch(searchService),
		app.WithMetrics(m),
		app.WithLogger(logger),
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger, m)
		if err != nil {
			fatal(logger, "kafka client failed", err)
		}
		defer publisher.Close()
		opts = append(opts, app.WithEvents(publisher))
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		storage, err := documents.NewMinio(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			fatal(logger, "minio client failed", err)
		}
		if err := storage.EnsureBucket(ctx); err != nil {
			fatal(logger, "minio bucket setup failed", err)
		}
		opts = append(opts, app.WithDocuments(storage, cfg.PresignTTL))
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		logger.Info("smtp not configured, email notifications disabled")
	}
	notifier := notify.New(mailer, logger, m, cfg.FrontendURL)
	opts = append(opts, app.WithNotifier(notifier))

	service := app.New(dataStore, resolver, cfg.TokenSecret, opts...)
	if n, err := service.Reindex(ctx); err != nil {
		logger.Warn("initial search reindex failed", "error", err)
	} else if meili != nil {
		logger.Info("queued search reindex", "barriers", n)
	}

	go runEvery(ctx, logger, "saved search sweep", cfg.SavedSearchNotifyInterval, service.SweepSavedSearches)
	go runEvery(ctx, logger, "document purge", cfg.DocumentPurgeInterval, service.PurgeDocuments)

	httpServer := app.NewHTTPServer(service, app.HTTPOptions{
		CORSOrigin:     cfg.CORSOrigin,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
		Metrics:        m,
		Gatherer:       registry,
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("barriers api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "server failed", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	notifier.Wait()
}

// runEvery calls job on every tick of interval until ctx is cancelled. A zero
// interval disables the job.
func runEvery(ctx context.Context, logger *slog.Logger, name string, interval time.Duration, job func(context.Context) (int, error)) {
	if interval <= 0 {
		logger.Info("background job disabled", "job", name)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := job(ctx)
			if err != nil {
				logger.Error("background job failed", "job", name, "error", err)
				continue
			}
			logger.Debug("background job finished", "job", name, "count", n)
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
