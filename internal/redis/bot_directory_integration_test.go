package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBotDirectory_ReplaceAllAndLookup(t *testing.T) {
	client := setupTestClient(t)
	dir := NewBotDirectory(client)
	ctx := context.Background()

	require.NoError(t, dir.ReplaceAll(ctx, []string{"Nightbot", "streamelements", "sery_bot"}))

	isBot, err := dir.IsBot(ctx, "nightbot")
	require.NoError(t, err)
	assert.True(t, isBot)

	// Lookups fold case.
	isBot, err = dir.IsBot(ctx, "StreamElements")
	require.NoError(t, err)
	assert.True(t, isBot)

	isBot, err = dir.IsBot(ctx, "regular_viewer")
	require.NoError(t, err)
	assert.False(t, isBot)
}

func TestBotDirectory_ReplaceAllSwapsWholeSet(t *testing.T) {
	client := setupTestClient(t)
	dir := NewBotDirectory(client)
	ctx := context.Background()

	require.NoError(t, dir.ReplaceAll(ctx, []string{"oldbot"}))
	require.NoError(t, dir.ReplaceAll(ctx, []string{"newbot"}))

	isBot, err := dir.IsBot(ctx, "oldbot")
	require.NoError(t, err)
	assert.False(t, isBot)

	isBot, err = dir.IsBot(ctx, "newbot")
	require.NoError(t, err)
	assert.True(t, isBot)
}

func TestBotDirectory_EmptyRefreshClearsDirectory(t *testing.T) {
	client := setupTestClient(t)
	dir := NewBotDirectory(client)
	ctx := context.Background()

	require.NoError(t, dir.ReplaceAll(ctx, []string{"somebot"}))
	require.NoError(t, dir.ReplaceAll(ctx, nil))

	isBot, err := dir.IsBot(ctx, "somebot")
	require.NoError(t, err)
	assert.False(t, isBot)
}
