package botlist

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/matthewgrima/twitchcommands/internal/domain"
	"github.com/matthewgrima/twitchcommands/internal/platform/retry"
)

// botSource is the subset of Client the refresher needs.
type botSource interface {
	ActiveBots(ctx context.Context, now time.Time) ([]string, error)
}

// Refresher periodically replaces the bot directory with the current
// upstream list. A failed refresh keeps the previous list; the
// directory is only ever swapped whole.
type Refresher struct {
	source    botSource
	directory domain.BotDirectory
	clock     clockwork.Clock
	interval  time.Duration
	policy    retry.Policy
}

func NewRefresher(source botSource, directory domain.BotDirectory, clock clockwork.Clock, interval time.Duration) *Refresher {
	return &Refresher{
		source:    source,
		directory: directory,
		clock:     clock,
		interval:  interval,
		policy: retry.Policy{
			MaxAttempts:    3,
			InitialBackoff: 2 * time.Second,
			OnRetry: func(attempt int, err error, backoff time.Duration) {
				slog.Warn("Retrying bot list fetch", "attempt", attempt, "backoff", backoff, "error", err)
			},
		},
	}
}

// Run refreshes once immediately, then on every tick until ctx is
// cancelled.
func (r *Refresher) Run(ctx context.Context) {
	if err := r.RefreshOnce(ctx); err != nil {
		slog.Error("Initial bot list refresh failed", "error", err)
	}

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			if err := r.RefreshOnce(ctx); err != nil {
				slog.Error("Bot list refresh failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// RefreshOnce fetches the upstream list and swaps it into the
// directory. Upstream hiccups are retried with backoff.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	// The upstream is a plain public endpoint: every failure mode we
	// see from it (5xx, timeout, transit error) is worth another try.
	retryAll := func(error) retry.Action { return retry.Retry }

	logins, err := retry.Do(ctx, r.policy, retryAll, func() ([]string, error) {
		return r.source.ActiveBots(ctx, r.clock.Now())
	})
	if err != nil {
		return err
	}

	if err := r.directory.ReplaceAll(ctx, logins); err != nil {
		return err
	}

	slog.Info("Bot directory refreshed", "bots", len(logins))
	return nil
}
