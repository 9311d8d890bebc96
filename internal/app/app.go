// Package app wires configuration, storage, brokers and the domain services
// into one container shared by the API and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"innkeeper/internal/config"
	"innkeeper/internal/database"
	"innkeeper/internal/domain/booking"
	"innkeeper/internal/domain/history"
	"innkeeper/internal/domain/inventory"
	"innkeeper/internal/domain/payment"
	"innkeeper/internal/domain/policy"
	"innkeeper/internal/events"
	"innkeeper/internal/jobs"
	"innkeeper/internal/pkg/jwt"
	"innkeeper/internal/pkg/reference"
	"innkeeper/internal/pkg/validator"
)

// Migrate creates or updates every table the services use.
func Migrate(db *gorm.DB) error {
	steps := []struct {
		name    string
		migrate func(*gorm.DB) error
	}{
		{"inventory", inventory.Migrate},
		{"payment", payment.Migrate},
		{"history", history.Migrate},
		{"booking", booking.Migrate},
	}
	for _, step := range steps {
		if err := step.migrate(db); err != nil {
			return fmt.Errorf("migrate %s: %w", step.name, err)
		}
	}
	return nil
}

type App struct {
	Config *config.Config
	Log    logrus.FieldLogger
	DB     *gorm.DB
	JWT    *jwt.Service

	Publisher events.Publisher
	Hub       *history.Hub

	Ledger   *inventory.Ledger
	Policies *policy.Service
	Payments *payment.Service
	History  *history.Recorder
	Bookings *booking.Service

	redis *redis.Client
}

// New connects to the database, migrates it and builds the services. Redis
// and the event broker are optional: when either is unreachable the app logs
// a warning and runs without it.
func New(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*App, error) {
	db, err := database.Connect(cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return build(ctx, cfg, log, db)
}

func build(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, db *gorm.DB) (*App, error) {
	if err := validator.RegisterGinValidations(); err != nil {
		return nil, fmt.Errorf("register validations: %w", err)
	}

	a := &App{
		Config: cfg,
		Log:    log,
		DB:     db,
		JWT:    jwt.New(cfg.JWTSecret, cfg.JWTTTL),
		Hub:    history.NewHub(log.WithField("component", "ws")),
	}

	broker := events.Open(ctx, events.Options{
		Driver:           cfg.EventsDriver,
		RabbitMQURL:      cfg.RabbitMQURL,
		RabbitMQExchange: cfg.RabbitMQExchange,
		KafkaBrokers:     cfg.KafkaBrokers,
		KafkaTopic:       cfg.KafkaTopic,
	}, log)
	a.Publisher = events.Multi{broker, a.Hub}

	if cfg.RedisURL != "" {
		client, err := reference.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.WithError(err).Warn("redis unavailable, references allocated from tables")
		} else {
			a.redis = client
		}
	}

	a.Ledger = inventory.NewLedger(db)
	a.Policies = policy.NewService(a.Ledger)
	a.Payments = payment.NewService(db, a.allocator("payments", "payment_reference"), a.Publisher,
		log.WithField("component", "payment"), cfg.TxMaxAttempts)
	a.History = history.NewRecorder(db, a.Publisher, log.WithField("component", "history"), cfg.TxMaxAttempts)
	a.Bookings = booking.NewService(booking.Deps{
		DB:        db,
		Ledger:    a.Ledger,
		Policies:  a.Policies,
		Payments:  a.Payments,
		History:   a.History,
		Refs:      a.allocator("bookings", "booking_reference"),
		Publisher: a.Publisher,
		Log:       log.WithField("component", "booking"),
		Attempts:  cfg.TxMaxAttempts,
	})
	return a, nil
}

func (a *App) allocator(table, column string) reference.Allocator {
	tableAlloc := reference.NewTableAllocator(table, column)
	if a.redis == nil {
		return tableAlloc
	}
	return reference.NewRedisAllocator(a.redis, tableAlloc, a.Log.WithField("component", "reference"))
}

// Jobs returns the maintenance jobs bound to the booking service.
func (a *App) Jobs() *jobs.Jobs {
	return jobs.NewJobs(a.Bookings, a.Log.WithField("component", "jobs"), a.Config.ArchiveRetention)
}

// Close releases the broker, Redis and database connections.
func (a *App) Close() error {
	var errs []error
	if a.Publisher != nil {
		errs = append(errs, a.Publisher.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	return errors.Join(errs...)
}
