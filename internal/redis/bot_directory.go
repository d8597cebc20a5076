package redis

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/matthewgrima/twitchcommands/internal/domain"
	"github.com/matthewgrima/twitchcommands/internal/metrics"
)

const (
	botSetKey     = "bots:known"
	botSetTempKey = "bots:known:staging"

	// SADD batch size during a refresh. 50k logins land well under
	// Redis' argument limits at this size.
	botAddBatch = 5000
)

// BotDirectory stores known bot logins in a Redis set. A refresh
// builds the new set under a staging key and renames it onto the live
// key, so readers always see either the old list or the new one whole.
type BotDirectory struct {
	rdb *goredis.Client
}

var _ domain.BotDirectory = (*BotDirectory)(nil)

func NewBotDirectory(client *Client) *BotDirectory {
	return &BotDirectory{rdb: client.Underlying()}
}

// IsBot reports whether the login is a known bot. Logins are stored
// lowercased; lookups fold case the same way.
func (d *BotDirectory) IsBot(ctx context.Context, login string) (bool, error) {
	isBot, err := d.rdb.SIsMember(ctx, botSetKey, strings.ToLower(login)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check bot membership: %w", err)
	}
	return isBot, nil
}

// ReplaceAll swaps the whole directory for the given logins.
func (d *BotDirectory) ReplaceAll(ctx context.Context, logins []string) error {
	if err := d.rdb.Del(ctx, botSetTempKey).Err(); err != nil {
		return fmt.Errorf("failed to clear staging set: %w", err)
	}

	for start := 0; start < len(logins); start += botAddBatch {
		end := min(start+botAddBatch, len(logins))
		members := make([]any, 0, end-start)
		for _, login := range logins[start:end] {
			members = append(members, strings.ToLower(login))
		}
		if err := d.rdb.SAdd(ctx, botSetTempKey, members...).Err(); err != nil {
			return fmt.Errorf("failed to stage bot logins: %w", err)
		}
	}

	if len(logins) == 0 {
		// RENAME fails on a missing source key; an empty refresh just
		// drops the live set.
		if err := d.rdb.Del(ctx, botSetKey).Err(); err != nil {
			return fmt.Errorf("failed to clear bot directory: %w", err)
		}
	} else if err := d.rdb.Rename(ctx, botSetTempKey, botSetKey).Err(); err != nil {
		return fmt.Errorf("failed to publish bot directory: %w", err)
	}

	metrics.BotListSize.Set(float64(len(logins)))
	return nil
}
