package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tasksync/api"
	"tasksync/calendar"
	"tasksync/config"
	"tasksync/notify"
	"tasksync/render"
	"tasksync/service"
	"tasksync/storage"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := log.New()
			if cfg.Debug {
				logger.SetLevel(log.DebugLevel)
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (service.Backend, func(), error) {
	switch cfg.StorageBackend {
	case config.BackendTables:
		store, err := storage.NewTables(cfg.StorageConnectionString, cfg.TasksTable)
		if err != nil {
			return nil, nil, fmt.Errorf("storage: %w", err)
		}
		if err := store.EnsureTable(ctx); err != nil {
			return nil, nil, fmt.Errorf("create table %s: %w", cfg.TasksTable, err)
		}
		return store, func() {}, nil
	case config.BackendMemory:
		logger.Warn("using in-memory storage, tasks are lost on restart")
		return storage.NewMemory(), func() {}, nil
	}
	store, err := storage.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: %w", err)
	}
	return store, func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Error("close sqlite")
		}
	}, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := notify.NewHub(cfg.PushBuffer, logger)
	publishers := notify.Fanout{hub}
	opts := []api.Option{api.WithKeepAlive(cfg.KeepAlive)}

	if cfg.RedisConnectionString != "" {
		redisOpts, err := config.RedisOptions(cfg.RedisConnectionString)
		if err != nil {
			return err
		}
		rc := redis.NewClient(redisOpts)
		defer rc.Close()

		relay := notify.NewRelay(rc, cfg.TaskUpdatesChannel, hub, logger, notify.WithPublishTimeout(cfg.RelayPublishTimeout))
		go relay.Run(ctx)
		publishers = append(publishers, relay)
		opts = append(opts, api.WithCreateKeys(api.NewRedisCreateKeys(rc, cfg.DeduperTTL)))
	}

	if cfg.ChangesQueue != "" {
		queue, err := notify.NewAzureQueue(cfg.StorageConnectionString, cfg.ChangesQueue)
		if err != nil {
			return fmt.Errorf("queue: %w", err)
		}
		if err := queue.EnsureQueue(ctx); err != nil {
			return fmt.Errorf("create queue %s: %w", cfg.ChangesQueue, err)
		}
		sink := notify.NewQueueSink(queue, notify.SinkConfig{
			Workers:        cfg.ExportWorkers,
			Buffer:         cfg.ExportBuffer,
			EnqueueTimeout: cfg.ExportEnqueueTimeout,
			HandoffTimeout: cfg.ExportHandoffTimeout,
		}, logger)
		defer sink.Close()
		publishers = append(publishers, sink)
	}

	views, err := render.New()
	if err != nil {
		return fmt.Errorf("templates: %w", err)
	}
	tasks := service.New(store, publishers, views, service.WithLogger(logger))

	e := echo.New()
	e.HideBanner = true
	// Streams end when serve is cancelled, so Shutdown does not wait on them.
	e.Server.BaseContext = func(net.Listener) context.Context { return ctx }
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, "Idempotency-Key", "Datastar-Request"},
	}))
	api.Configure(e)
	api.Register(e, tasks, calendar.NewFeed(tasks), hub, views, logger, opts...)

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(log.Fields{"addr": cfg.ListenAddr(), "storage": cfg.StorageBackend}).Info("listening")
		errCh <- e.Start(cfg.ListenAddr())
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
