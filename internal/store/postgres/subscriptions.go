package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/catalog-importer/internal/core"
)

const subscriptionColumns = `id, url, event_type, enabled, last_response_code, last_response_time_ms, created_at, updated_at`

func scanSubscription(row pgx.Row) (*core.Subscription, error) {
	var sub core.Subscription
	err := row.Scan(&sub.ID, &sub.URL, &sub.EventType, &sub.Enabled,
		&sub.LastResponseCode, &sub.LastResponseTimeMs, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &sub, nil
}

func (s *Store) querySubscriptions(ctx context.Context, sql string, args ...any) ([]core.Subscription, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	out := []core.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

func (s *Store) ListSubscriptions(ctx context.Context) ([]core.Subscription, error) {
	return s.querySubscriptions(ctx, `SELECT `+subscriptionColumns+` FROM webhook_subscriptions ORDER BY id DESC`)
}

func (s *Store) ListEnabledSubscriptions(ctx context.Context, eventType string) ([]core.Subscription, error) {
	return s.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE enabled AND event_type = $1 ORDER BY id DESC`,
		eventType)
}

func (s *Store) GetSubscription(ctx context.Context, id int64) (*core.Subscription, error) {
	return scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE id = $1`, id))
}

func (s *Store) CreateSubscription(ctx context.Context, sub *core.Subscription) (*core.Subscription, error) {
	return scanSubscription(s.pool.QueryRow(ctx, `
		INSERT INTO webhook_subscriptions (url, event_type, enabled)
		VALUES ($1, $2, $3)
		RETURNING `+subscriptionColumns,
		sub.URL, sub.EventType, sub.Enabled))
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *core.Subscription) (*core.Subscription, error) {
	return scanSubscription(s.pool.QueryRow(ctx, `
		UPDATE webhook_subscriptions
		SET url = $2, event_type = $3, enabled = $4, updated_at = now()
		WHERE id = $1
		RETURNING `+subscriptionColumns,
		sub.ID, sub.URL, sub.EventType, sub.Enabled))
}

func (s *Store) DeleteSubscription(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

// RecordDelivery stores the outcome of the latest delivery. A nil code means
// no HTTP response was received.
func (s *Store) RecordDelivery(ctx context.Context, id int64, code *int, elapsedMs float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_subscriptions
		SET last_response_code = $2, last_response_time_ms = $3
		WHERE id = $1`,
		id, code, elapsedMs)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}
