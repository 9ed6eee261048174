package app

import (
	"context"
	"fmt"
	"log/slog"

	sweeperapp "authtoken/internal/app/sweeper"
	"authtoken/internal/config"
	"authtoken/internal/issuer"
	"authtoken/internal/mailer"
	"authtoken/internal/services/tokens"
	"authtoken/internal/storage"
	"authtoken/internal/storage/mongodb"
	"authtoken/internal/storage/sqlite"
)

// Store is what the token service needs from a storage backend.
type Store interface {
	tokens.RecordSaver
	tokens.RecordProvider
	tokens.RecordRemover
	AfterSave(hook storage.SaveHook)
	Close(ctx context.Context) error
}

type App struct {
	Tokens  *tokens.Tokens
	Sweeper *sweeperapp.App
	Storage Store
}

func New(logger *slog.Logger, cfg *config.Config) *App {
	store, err := newStore(cfg)
	if err != nil {
		panic(err)
	}
	store.AfterSave(tokens.SaveLogger(logger))

	var notifier tokens.Notifier
	if cfg.Mail.Enabled() {
		notifier = mailer.New(logger, cfg.Mail)
	} else {
		logger.Warn("smtp is not configured, notifications are discarded")
		notifier = mailer.NewDiscard(logger)
	}

	tokenService := tokens.New(logger, store, store, store, issuer.New(), notifier, cfg.Tokens)
	sweeper := sweeperapp.New(logger, tokenService, cfg.SweepInterval)

	return &App{
		Tokens:  tokenService,
		Sweeper: sweeper,
		Storage: store,
	}
}

// Close releases the storage backend.
func (a *App) Close(ctx context.Context) error {
	return a.Storage.Close(ctx)
}

func newStore(cfg *config.Config) (Store, error) {
	const op = "app.newStore"

	switch cfg.Storage.Driver {
	case config.DriverMongo:
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Mongo.Timeout)
		defer cancel()

		st, err := mongodb.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return st, nil
	case config.DriverSQLite:
		st, err := sqlite.New(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("%s: unknown storage driver %q", op, cfg.Storage.Driver)
	}
}
