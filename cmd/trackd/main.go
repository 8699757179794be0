// Package main implements trackd, the track and token lifecycle daemon. It
// serves the REST API, runs database migrations at startup and schedules the
// nightly round check over all respondent tracks.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	app "github.com/CareTrack-Labs/track_engine/internal/app"
	"github.com/CareTrack-Labs/track_engine/internal/app/httpapi"
	"github.com/CareTrack-Labs/track_engine/internal/app/services/batch"
	"github.com/CareTrack-Labs/track_engine/internal/app/storage/postgres"
	"github.com/CareTrack-Labs/track_engine/internal/app/surveysource"
	"github.com/CareTrack-Labs/track_engine/internal/config"
	"github.com/CareTrack-Labs/track_engine/internal/httputil"
	"github.com/CareTrack-Labs/track_engine/internal/middleware"
	"github.com/CareTrack-Labs/track_engine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault("trackd").WithError(err).Fatal("load configuration")
	}

	log := logger.New("trackd", logger.LoggingConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: "stdout",
	})

	stores := app.Stores{}
	if cfg.DatabaseURL != "" {
		if err := runMigrations(cfg); err != nil {
			log.WithError(err).Fatal("run migrations")
		}
		db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("connect to postgres")
		}
		defer db.Close()
		db.SetMaxOpenConns(20)
		db.SetConnMaxIdleTime(5 * time.Minute)

		pg := postgres.New(db.DB)
		stores.Tracks = pg
		stores.RespondentTracks = pg
		stores.Tokens = pg
		stores.Appointments = pg
		log.Info("using postgres storage")
	} else {
		log.Warn("DATABASE_URL not set; using in-memory storage")
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.WithError(err).Fatal("connect to redis")
		}
		defer rdb.Close()
		stores.BatchProgress = batch.NewRedisProgressStore(rdb, 7*24*time.Hour)
		log.Info("using redis batch progress store")
	}

	opts := app.Options{}
	if cfg.SurveySourceURL != "" {
		source, err := surveysource.NewHTTPSource(httputil.ClientConfig{
			BaseURL: cfg.SurveySourceURL,
			APIKey:  cfg.SurveySourceKey,
		}, log)
		if err != nil {
			log.WithError(err).Fatal("configure survey source")
		}
		opts.Source = source
		log.WithField("url", cfg.SurveySourceURL).Info("using HTTP survey source")
	}

	application, err := app.New(stores, opts, log)
	if err != nil {
		log.WithError(err).Fatal("build application")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatal("start application")
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.CheckRoundsSchedule, func() {
		jobID := "check-rounds-" + uuid.NewString()
		state, err := application.Batch.CheckRounds(context.Background(), jobID, "", batch.NopProgress{})
		if err != nil {
			log.WithError(err).WithField("job_id", jobID).Error("scheduled round check failed")
			return
		}
		log.WithField("job_id", jobID).
			WithField("done", state.Done).
			WithField("created", state.Created).
			WithField("updated", state.Updated).
			Info("scheduled round check finished")
	}); err != nil {
		log.WithError(err).Fatal("schedule round check")
	}
	scheduler.Start()

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst, log)
	limiter.StartCleanup(10 * time.Minute)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           limiter.Handler(httpapi.NewHandler(application)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	<-scheduler.Stop().Done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("application shutdown")
	}
}

func runMigrations(cfg config.Config) error {
	m, err := migrate.New("file://"+cfg.MigrationsPath, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
