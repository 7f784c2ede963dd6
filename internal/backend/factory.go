package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"serie/internal/amqp"
	applog "serie/internal/log"
	"serie/internal/series"
	"serie/internal/services"
	"serie/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger.With(applog.FieldComponent, applog.ComponentBackend),
	}
}

// CreateBackend opens the store, connects the optional AMQP publisher and
// wires the series service on top of them.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	store, err := f.createStore(config)
	if err != nil {
		return nil, err
	}

	notifier, amqpClient := f.createNotifier(ctx, config)

	expander := series.NewExpander(series.Options{
		HorizonMonths:  config.HorizonMonths,
		MaxOccurrences: config.MaxOccurrences,
	})

	cleanup := func() error {
		var errs []error
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close AMQP client: %w", err))
			}
		}
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		return errors.Join(errs...)
	}

	return &BackendResult{
		Store:    store,
		Notifier: notifier,
		Service:  services.NewSeriesService(store, expander, notifier),
		Cleanup:  cleanup,
	}, nil
}

func (f *DefaultFactory) createStore(config Config) (storage.Store, error) {
	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
		return repo, nil
	case MemoryBackend:
		f.logger.Info("Initialized memory backend")
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

// createNotifier always logs changes and, when AMQP is configured and
// reachable, publishes them too. A broker that cannot be reached is not fatal.
func (f *DefaultFactory) createNotifier(ctx context.Context, config Config) (services.Notifier, *amqp.Client) {
	if config.AMQPURL == "" {
		return services.LogNotifier{}, nil
	}

	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
	if err != nil {
		f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without publishing",
			applog.FieldError, err)
		return services.LogNotifier{}, nil
	}

	f.logger.InfoContext(ctx, "Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)
	return services.MultiNotifier{services.LogNotifier{}, client}, client
}
