package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Loyalty-microservice/internal/domain"
	"github.com/Dhoini/Loyalty-microservice/internal/repository"
	"github.com/Dhoini/Loyalty-microservice/pkg/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const inboxColumns = `
	id, shop_id, external_event_id, kind, payload,
	processed, processing_error, retry_count, created_at, updated_at
`

// PostgresInboxRepository durable-очередь внешних событий через PostgreSQL.
// Идемпотентность приема обеспечивается уникальным ограничением
// (shop_id, external_event_id) на самой таблице, а не проверкой перед вставкой.
type PostgresInboxRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewPostgresInboxRepository создает новый репозиторий инбокса через PostgreSQL
func NewPostgresInboxRepository(db *pgxpool.Pool, log *logger.Logger) *PostgresInboxRepository {
	return &PostgresInboxRepository{
		db:  db,
		log: log,
	}
}

func scanInboxEvent(row pgx.Row) (*domain.InboxEvent, error) {
	var e domain.InboxEvent
	var processingError *string
	err := row.Scan(
		&e.ID,
		&e.ShopID,
		&e.ExternalEventID,
		&e.Kind,
		&e.Payload,
		&e.Processed,
		&processingError,
		&e.RetryCount,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if processingError != nil {
		e.ProcessingError = *processingError
	}
	return &e, nil
}

// CreateEvent вставляет событие; нарушение уникальности означает дубликат
// и возвращается как repository.ErrDuplicate без каких-либо побочных эффектов.
func (r *PostgresInboxRepository) CreateEvent(ctx context.Context, event *domain.InboxEvent) (*domain.InboxEvent, error) {
	query := `
		INSERT INTO inbox_events (id, shop_id, external_event_id, kind, payload,
			processed, processing_error, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, NULL, 0, $6, $6)
		RETURNING created_at, updated_at
	`

	now := time.Now().UTC()
	err := r.db.QueryRow(ctx, query,
		event.ID, event.ShopID, event.ExternalEventID, event.Kind, event.Payload, now,
	).Scan(&event.CreatedAt, &event.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23505" {
				return nil, repository.ErrDuplicate
			}
		}
		return nil, fmt.Errorf("failed to insert inbox event: %w", err)
	}

	return event, nil
}

// UnprocessedBatch возвращает до limit необработанных событий без ошибки,
// упорядоченных по времени прибытия. События с записанной ошибкой ждут
// отдельного retry-прохода.
func (r *PostgresInboxRepository) UnprocessedBatch(ctx context.Context, limit int) ([]domain.InboxEvent, error) {
	query := `
		SELECT ` + inboxColumns + `
		FROM inbox_events
		WHERE processed = FALSE AND processing_error IS NULL
		ORDER BY created_at
		LIMIT $1
	`

	return r.queryEvents(ctx, query, limit)
}

// RetryableBatch возвращает события с ошибкой из окна недавности, не
// исчерпавшие бюджет повторов. События за пределами бюджета остаются
// необработанными навсегда (dead-letter) для ручного разбора.
func (r *PostgresInboxRepository) RetryableBatch(ctx context.Context, window time.Duration, maxRetries, limit int) ([]domain.InboxEvent, error) {
	query := `
		SELECT ` + inboxColumns + `
		FROM inbox_events
		WHERE processed = FALSE
			AND processing_error IS NOT NULL
			AND retry_count < $1
			AND created_at > $2
		ORDER BY created_at
		LIMIT $3
	`

	cutoff := time.Now().UTC().Add(-window)
	return r.queryEvents(ctx, query, maxRetries, cutoff, limit)
}

func (r *PostgresInboxRepository) queryEvents(ctx context.Context, query string, args ...any) ([]domain.InboxEvent, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query inbox events: %w", err)
	}
	defer rows.Close()

	var events []domain.InboxEvent
	for rows.Next() {
		e, err := scanInboxEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan inbox event: %w", err)
		}
		events = append(events, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating inbox events: %w", err)
	}

	return events, nil
}

// MarkProcessed помечает событие успешно обработанным
func (r *PostgresInboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE inbox_events
		SET processed = TRUE, processing_error = NULL, updated_at = $1
		WHERE id = $2
	`

	result, err := r.db.Exec(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// MarkFailed записывает текст ошибки и увеличивает счетчик повторов,
// событие остается необработанным.
func (r *PostgresInboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	query := `
		UPDATE inbox_events
		SET processing_error = $1, retry_count = retry_count + 1, updated_at = $2
		WHERE id = $3
	`

	result, err := r.db.Exec(ctx, query, message, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ClearError сбрасывает записанную ошибку перед повторной обработкой
func (r *PostgresInboxRepository) ClearError(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE inbox_events SET processing_error = NULL, updated_at = $1 WHERE id = $2`

	result, err := r.db.Exec(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to clear event error: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AcquireShopLock берет advisory-блокировку магазина, чтобы события одного
// магазина не обрабатывались двумя батчами одновременно. Возвращает false,
// если блокировка занята другим процессом. Блокировка живет на выделенном
// соединении пула до вызова release.
func (r *PostgresInboxRepository) AcquireShopLock(ctx context.Context, shopID string) (release func(), acquired bool, err error) {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire connection for shop lock: %w", err)
	}

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, shopID).Scan(&locked); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("failed to take shop advisory lock: %w", err)
	}

	if !locked {
		conn.Release()
		return nil, false, nil
	}

	release = func() {
		// Снимаем блокировку на том же соединении, на котором брали
		if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, shopID); err != nil {
			r.log.Errorw("Failed to release shop advisory lock", "shop_id", shopID, "error", err)
		}
		conn.Release()
	}

	return release, true, nil
}
