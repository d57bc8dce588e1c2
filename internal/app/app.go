// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2025-2026 spike-sync contributors
// https://github.com/spikeapp/spike-sync

// Package app wires the engine together: config, logger, stores, lifecycle
// manager, scheduler, event publisher, and the HTTP server.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spikeapp/spike-sync/internal/api"
	"github.com/spikeapp/spike-sync/internal/events"
	natsclient "github.com/spikeapp/spike-sync/internal/nats"
	"github.com/spikeapp/spike-sync/internal/pkg/logger"
	"github.com/spikeapp/spike-sync/internal/repository/postgres"
	"github.com/spikeapp/spike-sync/internal/repository/redis"
	"github.com/spikeapp/spike-sync/internal/scheduler"
	syncmgr "github.com/spikeapp/spike-sync/internal/sync"
)

// Version is injected at build time.
var Version = "dev"

// App holds the wired components for the serve command.
type App struct {
	cfg    *Config
	logger *logger.Logger

	db     *postgres.DB
	redis  *redis.Client
	nats   *natsclient.Client
	server *api.Server
	sched  *scheduler.Scheduler
}

// New wires every component from config. Nothing starts serving until Run.
func New(ctx context.Context, cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := postgres.New(ctx, cfg.Database.URL, postgres.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MinIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis.URL, redis.Options{
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	app := &App{cfg: cfg, logger: log, db: db, redis: redisClient}

	// NATS is optional: without it the engine runs with the Nop publisher
	// and every operation still works, just without downstream events.
	var publisher syncmgr.EventPublisher = events.NopPublisher{}
	if cfg.NATS.URL != "" {
		nc, err := natsclient.NewClient(natsclient.Config{
			URL:           cfg.NATS.URL,
			Name:          cfg.NATS.Name,
			Token:         cfg.NATS.Token,
			Username:      cfg.NATS.Username,
			Password:      cfg.NATS.Password,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			Timeout:       cfg.NATS.Timeout,
		}, log.Base())
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to create NATS client: %w", err)
		}
		if err := nc.Connect(ctx); err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		app.nats = nc
		publisher = events.NewPublisher(nc, log)
	} else {
		log.Warn("NATS URL not configured, job events will not be published")
	}

	jobRepo := postgres.NewJobRepository(db, log)
	scheduleRepo := postgres.NewScheduleRepository(db, log)
	progressCache := redis.NewProgressCache(redisClient)
	heartbeats := redis.NewHeartbeatStore(redisClient)

	manager := syncmgr.NewManager(jobRepo, publisher, progressCache, log)

	app.sched = scheduler.New(scheduleRepo, manager, heartbeats, log, scheduler.Options{
		RetentionDays:   cfg.Scheduler.RetentionDays,
		HeartbeatMaxAge: cfg.Scheduler.HeartbeatMaxAge,
	})

	health := api.NewHealthHandler(Version, log)
	health.Register("database", db.Ping)
	health.Register("redis", redisClient.Ping)
	if app.nats != nil {
		health.Register("nats", app.nats.Health)
	}

	app.server = api.NewServer(api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		RouterConfig: api.RouterConfig{
			RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
			RequestTimeout:     cfg.Server.RequestTimeout,
			AllowedOrigins:     cfg.Server.AllowedOrigins,
		},
	}, &api.Handlers{
		Jobs:      api.NewJobsHandler(manager, progressCache, log),
		Schedules: api.NewSchedulesHandler(app.sched, log),
		Health:    health,
	}, log)

	return app, nil
}

// Run reloads persisted schedules, starts the scheduler and HTTP server, and
// blocks until SIGINT/SIGTERM or a server error.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	// Schedules must be registered before traffic can mutate them.
	if err := a.sched.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}
	a.sched.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-sigCh:
		a.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		a.logger.Info("context cancelled, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("error during server shutdown", "error", err)
	}
	a.sched.Close()
	return nil
}

// Close releases every held connection. Safe to call on a partially wired
// app.
func (a *App) Close() {
	if a.nats != nil {
		a.nats.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("error closing Redis client", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
