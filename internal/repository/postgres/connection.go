package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Loyalty-microservice/pkg/logger"
	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect создает пул соединений к PostgreSQL, повторяя попытки с
// экспоненциальной задержкой, пока база поднимается.
func Connect(ctx context.Context, dsn string, log *logger.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	var pool *pgxpool.Pool

	operation := func() error {
		pool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return err
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		log.Errorw("Failed to connect to database after retries", "error", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Infow("Database connection established")
	return pool, nil
}

// Migrate применяет файловые миграции схемы при старте сервиса.
func Migrate(dsn, migrationsPath string, log *logger.Logger) error {
	m, err := migrate.New("file://"+migrationsPath, dsn)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	log.Infow("Database migrations applied")
	return nil
}
