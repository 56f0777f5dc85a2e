package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"EpiCast/internal/usecase"
	"EpiCast/pkg/config"
	xhttp "EpiCast/pkg/http"
	pkgkafka "EpiCast/pkg/kafka"
	applogger "EpiCast/pkg/logger"
	"EpiCast/pkg/queue"
)

// App encapsulates the application lifecycle: the HTTP API, the dataset
// trigger consumer and the background tuning queue around one Pipeline.
type App struct {
	cfg        *config.Config
	logger     *applogger.Logger
	Pipeline   *usecase.Pipeline
	httpServer *xhttp.Server
	consumer   *pkgkafka.Consumer
	trigger    pkgkafka.MessageHandler
	jobs       *queue.RedisQueue
	closers    []namedCloser
}

type namedCloser struct {
	name string
	c    io.Closer
}

// New creates an App. consumer, trigger and jobs may be nil when Kafka or
// Redis are disabled.
func New(
	cfg *config.Config,
	logger *applogger.Logger,
	pipeline *usecase.Pipeline,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
	trigger pkgkafka.MessageHandler,
	jobs *queue.RedisQueue,
) *App {
	if logger == nil {
		logger = applogger.Nop()
	}
	return &App{
		cfg:        cfg,
		logger:     logger,
		Pipeline:   pipeline,
		httpServer: httpServer,
		consumer:   consumer,
		trigger:    trigger,
		jobs:       jobs,
	}
}

// Jobs returns the tuning queue, or nil when Redis is unavailable.
func (a *App) Jobs() *queue.RedisQueue {
	return a.jobs
}

// AddCloser registers infrastructure released on shutdown, in reverse order.
func (a *App) AddCloser(name string, c io.Closer) {
	if c != nil {
		a.closers = append(a.closers, namedCloser{name: name, c: c})
	}
}

// Run starts every configured service and blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a.jobs != nil {
		if err := a.jobs.Start(); err != nil {
			return fmt.Errorf("start tune queue: %w", err)
		}
		a.logger.Info("tune queue started", applogger.Int("workers", a.cfg.Redis.Workers))
	}

	if a.consumer != nil && a.trigger != nil {
		a.consumer.RegisterHandler(a.trigger)
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
		a.logger.Info("kafka consumer started", applogger.String("topic", a.trigger.Topic()))
	}

	if err := a.httpServer.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	<-ctx.Done()
	a.logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return a.shutdown(shutdownCtx)
}

// shutdown stops intake first, then releases infrastructure.
func (a *App) shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")
	start := time.Now()

	if err := a.httpServer.Stop(ctx); err != nil {
		a.logger.Error("http shutdown error", applogger.Error(err))
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.logger.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.jobs != nil {
		if err := a.jobs.Stop(ctx); err != nil {
			a.logger.Warn("tune queue stop error", applogger.Error(err))
		}
	}

	err := a.Close()
	a.logger.Info("shutdown complete", applogger.Duration("took", time.Since(start)))
	return err
}

// Close releases infrastructure clients. One-shot CLI runs call it directly.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		nc := a.closers[i]
		if err := nc.c.Close(); err != nil {
			a.logger.Warn("close error", applogger.String("component", nc.name), applogger.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", nc.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
