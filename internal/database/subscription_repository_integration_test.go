package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewgrima/twitchcommands/internal/crypto"
	"github.com/matthewgrima/twitchcommands/internal/domain"
)

func createTestCredential(t *testing.T, twitchUserID string) {
	t.Helper()
	repo := NewCredentialRepo(testPool, crypto.NoopService{})
	_, err := repo.Upsert(context.Background(), testCredentialRecord(twitchUserID))
	require.NoError(t, err)
}

func TestSubscriptionRepo_CreateAndGet(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewSubscriptionRepo(pool)
	createTestCredential(t, "100")
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, "100", "sub-1", "channel.follow"))

	sub, err := repo.GetByTwitchUserID(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "100", sub.TwitchUserID)
	assert.Equal(t, "sub-1", sub.SubscriptionID)
	assert.Equal(t, "channel.follow", sub.Type)
	assert.False(t, sub.CreatedAt.IsZero())
}

func TestSubscriptionRepo_CreateUpserts(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewSubscriptionRepo(pool)
	createTestCredential(t, "100")
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, "100", "sub-1", "channel.follow"))
	require.NoError(t, repo.Create(ctx, "100", "sub-2", "channel.follow"))

	sub, err := repo.GetByTwitchUserID(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "sub-2", sub.SubscriptionID)
}

func TestSubscriptionRepo_GetNotFound(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewSubscriptionRepo(pool)

	_, err := repo.GetByTwitchUserID(context.Background(), "999")
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
}

func TestSubscriptionRepo_Delete(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewSubscriptionRepo(pool)
	createTestCredential(t, "100")
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, "100", "sub-1", "channel.follow"))
	require.NoError(t, repo.Delete(ctx, "100"))

	_, err := repo.GetByTwitchUserID(ctx, "100")
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
}

func TestSubscriptionRepo_CascadeOnCredentialDelete(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewSubscriptionRepo(pool)
	credRepo := NewCredentialRepo(pool, crypto.NoopService{})
	createTestCredential(t, "100")
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, "100", "sub-1", "channel.follow"))
	require.NoError(t, credRepo.Delete(ctx, "100"))

	_, err := repo.GetByTwitchUserID(ctx, "100")
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
}
