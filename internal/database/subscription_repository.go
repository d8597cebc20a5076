package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matthewgrima/twitchcommands/internal/domain"
)

// SubscriptionRepo implements domain.SubscriptionRepository.
type SubscriptionRepo struct {
	pool *pgxpool.Pool
}

var _ domain.SubscriptionRepository = (*SubscriptionRepo)(nil)

func NewSubscriptionRepo(pool *pgxpool.Pool) *SubscriptionRepo {
	return &SubscriptionRepo{pool: pool}
}

func (r *SubscriptionRepo) Create(ctx context.Context, twitchUserID, subscriptionID, subscriptionType string) error {
	query := `
		INSERT INTO eventsub_subscriptions (twitch_user_id, subscription_id, type)
		VALUES ($1, $2, $3)
		ON CONFLICT (twitch_user_id) DO UPDATE SET
			subscription_id = EXCLUDED.subscription_id,
			type            = EXCLUDED.type,
			created_at      = now()`

	if _, err := r.pool.Exec(ctx, query, twitchUserID, subscriptionID, subscriptionType); err != nil {
		return fmt.Errorf("failed to create subscription record: %w", err)
	}
	return nil
}

func (r *SubscriptionRepo) GetByTwitchUserID(ctx context.Context, twitchUserID string) (*domain.EventSubSubscription, error) {
	query := `
		SELECT twitch_user_id, subscription_id, type, created_at
		FROM eventsub_subscriptions
		WHERE twitch_user_id = $1`

	var sub domain.EventSubSubscription
	err := r.pool.QueryRow(ctx, query, twitchUserID).Scan(
		&sub.TwitchUserID, &sub.SubscriptionID, &sub.Type, &sub.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription record: %w", err)
	}
	return &sub, nil
}

func (r *SubscriptionRepo) Delete(ctx context.Context, twitchUserID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM eventsub_subscriptions WHERE twitch_user_id = $1`, twitchUserID); err != nil {
		return fmt.Errorf("failed to delete subscription record: %w", err)
	}
	return nil
}
