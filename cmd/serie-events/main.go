// Command serie-events consumes series change events from RabbitMQ and
// reports which accounts and categories need their budgets refreshed.
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"serie/internal/amqp"
	"serie/internal/cli"
	applog "serie/internal/log"
	"serie/internal/worker"
)

const (
	flushInterval   = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(nil, os.Stdout, applog.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger.Logger)
	logger = cli.SetupLogger(cfg, os.Stdout, applog.ComponentWorker)

	logger.Info("Starting serie-events")

	if !cfg.AMQPEnabled() {
		logger.Error("AMQP_URL is required to consume change events")
		os.Exit(1)
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		os.Exit(1)
	}

	// the store is only read, so the consumer never publishes itself
	storeCfg := *cfg
	storeCfg.AMQPURL = ""
	be := cli.InitBackend(context.Background(), logger.Logger, &storeCfg)

	refresher := worker.NewRefreshWorker(be.Store)

	ctx, done := cli.GracefulShutdown(logger.Logger, shutdownTimeout, func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close AMQP client", applog.FieldError, err)
		}
		if err := be.Cleanup(); err != nil {
			logger.Warn("Failed to close backend", applog.FieldError, err)
		}
	})

	go refresher.Run(ctx, flushInterval)

	go func() {
		err := client.ConsumeChangeEvents(ctx, refresher.HandleChangeEvent)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", applog.FieldError, err)
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(ctx, done)
}
