package vault

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/matthewgrima/twitchcommands/internal/domain"
	"github.com/matthewgrima/twitchcommands/internal/metrics"
)

// State of a channel's credential lifecycle.
type State int

const (
	StateUnauthenticated State = iota
	StateActive
	StateRefreshPending
	StateRevoked
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateActive:
		return "active"
	case StateRefreshPending:
		return "refresh_pending"
	case StateRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Snapshot is credential metadata safe to hand to request handlers.
// Access and refresh tokens are deliberately absent.
type Snapshot struct {
	TwitchUserID string
	TwitchLogin  string
	Scopes       []string
	TokenExpiry  time.Time
	IDToken      string
	State        State
}

// --- Command types ---

type actorCmd interface{ actorCmd() }

type cmdLogin struct {
	cred    *domain.Credential
	replyCh chan error
}

func (cmdLogin) actorCmd() {}

type cmdGet struct {
	replyCh chan getResult
}

func (cmdGet) actorCmd() {}

type getResult struct {
	accessToken string
	err         error
}

type cmdRevoke struct {
	replyCh chan error
}

func (cmdRevoke) actorCmd() {}

type cmdSnapshot struct {
	replyCh chan snapshotResult
}

func (cmdSnapshot) actorCmd() {}

type snapshotResult struct {
	snap Snapshot
	err  error
}

type cmdStop struct {
	doneCh chan struct{}
}

func (cmdStop) actorCmd() {}

// --- Actor ---

type actor struct {
	twitchUserID string
	cmdCh        chan actorCmd

	refresher      tokenRefresher
	repo           domain.CredentialRepository
	clock          clockwork.Clock
	refreshSkew    time.Duration
	refreshTimeout time.Duration

	// Owned exclusively by the run goroutine.
	state State
	cred  *domain.Credential

	// Last transient refresh failure, shared with callers that arrive
	// just after the refresh concluded so they don't each redial a
	// provider that just failed.
	lastRefreshErr error
	lastRefreshAt  time.Time
}

// refreshFailureCooldown is how long a transient refresh failure is
// answered from memory before another network attempt is made.
const refreshFailureCooldown = 5 * time.Second

func newActor(twitchUserID string, cred *domain.Credential, v *Vault) *actor {
	a := &actor{
		twitchUserID:   twitchUserID,
		cmdCh:          make(chan actorCmd, 16),
		refresher:      v.refresher,
		repo:           v.repo,
		clock:          v.clock,
		refreshSkew:    v.refreshSkew,
		refreshTimeout: v.refreshTimeout,
		state:          StateUnauthenticated,
	}
	if cred != nil {
		a.cred = cred
		a.state = StateActive
	}
	go a.run()
	return a
}

func (a *actor) run() {
	for cmd := range a.cmdCh {
		if a.handle(cmd) {
			return
		}
	}
}

// handle processes one command and reports whether it was a stop. A
// stop can also surface from the refresh drain replay, so every call
// site must honour the return value.
func (a *actor) handle(cmd actorCmd) (stopped bool) {
	switch c := cmd.(type) {
	case cmdLogin:
		c.replyCh <- a.handleLogin(c.cred)
	case cmdGet:
		return a.handleGet(c)
	case cmdRevoke:
		c.replyCh <- a.handleRevoke()
	case cmdSnapshot:
		c.replyCh <- a.handleSnapshot()
	case cmdStop:
		close(c.doneCh)
		return true
	}
	return false
}

// handleLogin stores a fresh credential. Repeated logins overwrite:
// last writer wins, which is fine for a user-initiated, infrequent
// operation. A revoked actor comes back to life on login.
func (a *actor) handleLogin(cred *domain.Credential) error {
	saved, err := a.repo.Upsert(context.Background(), cred)
	if err != nil {
		// Leave the previous state untouched so a storage blip does
		// not lose a working credential.
		return errInternal("failed to persist credential", err)
	}

	a.cred = saved
	a.state = StateActive
	a.lastRefreshErr = nil
	slog.Info("Credential stored", "twitch_user_id", a.twitchUserID)
	return nil
}

func (a *actor) handleGet(c cmdGet) (stopped bool) {
	switch a.state {
	case StateRevoked:
		c.replyCh <- getResult{err: domain.ErrRevoked}
		return false
	case StateUnauthenticated:
		c.replyCh <- getResult{err: domain.ErrNotAuthenticated}
		return false
	}

	if a.clock.Now().Before(a.cred.TokenExpiry.Add(-a.refreshSkew)) {
		c.replyCh <- getResult{accessToken: a.cred.AccessToken}
		return false
	}

	if a.lastRefreshErr != nil && a.clock.Now().Sub(a.lastRefreshAt) < refreshFailureCooldown {
		c.replyCh <- getResult{err: a.lastRefreshErr}
		return false
	}

	return a.refreshAndReply(c)
}

// refreshAndReply performs exactly one refresh for every Get currently
// queued against this actor. Gets that arrived while the token was
// going stale are drained and answered with the single outcome; any
// other queued commands are replayed afterwards in arrival order. A
// stop found in the replay takes effect only after every waiter has
// its answer, and is reported to the run loop.
func (a *actor) refreshAndReply(first cmdGet) (stopped bool) {
	waiters := []cmdGet{first}
	var deferred []actorCmd

drain:
	for {
		select {
		case cmd := <-a.cmdCh:
			if g, ok := cmd.(cmdGet); ok {
				waiters = append(waiters, g)
			} else {
				deferred = append(deferred, cmd)
			}
		default:
			break drain
		}
	}

	a.state = StateRefreshPending

	// The refresh call is bounded so the actor is never wedged behind
	// a hung network call. Waiter cancellation does not cancel the
	// refresh; other waiters still need its result.
	ctx, cancel := context.WithTimeout(context.Background(), a.refreshTimeout)
	grant, err := a.refresher.Refresh(ctx, a.cred.RefreshToken)
	cancel()

	result := a.applyRefresh(grant, err)
	for _, w := range waiters {
		// Reply channels are buffered; abandoned waiters never block us.
		w.replyCh <- result
	}

	for _, cmd := range deferred {
		if a.handle(cmd) {
			return true
		}
	}
	return false
}

func (a *actor) applyRefresh(grant *domain.TokenGrant, err error) getResult {
	if err != nil {
		if isInvalidGrant(err) {
			// The refresh token is dead. Discard secrets; the user
			// must log in again.
			metrics.TokenRefreshesTotal.WithLabelValues("invalid_grant").Inc()
			slog.Warn("Refresh token rejected, credential discarded", "twitch_user_id", a.twitchUserID)
			a.discardCredential()
			a.state = StateUnauthenticated

			// Remove the row too, or a restart would restore a
			// credential Twitch no longer honours.
			ctx, cancel := context.WithTimeout(context.Background(), a.refreshTimeout)
			defer cancel()
			if err := a.repo.Delete(ctx, a.twitchUserID); err != nil {
				slog.Error("Failed to delete credential row", "twitch_user_id", a.twitchUserID, "error", err)
			}
			return getResult{err: domain.ErrCredentialExpired}
		}

		// Transient: keep the old credential so a later call can retry
		// without losing state.
		metrics.TokenRefreshesTotal.WithLabelValues("transient").Inc()
		slog.Warn("Token refresh failed transiently", "twitch_user_id", a.twitchUserID, "error", err)
		a.state = StateActive
		a.lastRefreshErr = err
		a.lastRefreshAt = a.clock.Now()
		return getResult{err: err}
	}

	a.lastRefreshErr = nil

	a.cred.AccessToken = grant.AccessToken
	a.cred.RefreshToken = grant.RefreshToken
	a.cred.TokenExpiry = a.clock.Now().Add(time.Duration(grant.ExpiresIn) * time.Second)
	if len(grant.Scopes) > 0 {
		a.cred.Scopes = grant.Scopes
	}
	a.state = StateActive
	metrics.TokenRefreshesTotal.WithLabelValues("success").Inc()

	// Write-through. The in-memory credential is authoritative: the
	// old refresh token is already invalid, so a persistence failure
	// must not fail the call. The row heals on the next refresh.
	persistCtx, cancel := context.WithTimeout(context.Background(), a.refreshTimeout)
	defer cancel()
	if err := a.repo.UpdateTokens(persistCtx, a.twitchUserID, a.cred.AccessToken, a.cred.RefreshToken, a.cred.TokenExpiry); err != nil {
		slog.Error("Failed to persist refreshed tokens", "twitch_user_id", a.twitchUserID, "error", err)
	}

	return getResult{accessToken: a.cred.AccessToken}
}

func (a *actor) handleRevoke() error {
	if a.state == StateRevoked {
		return nil
	}

	a.discardCredential()
	a.state = StateRevoked

	ctx, cancel := context.WithTimeout(context.Background(), a.refreshTimeout)
	defer cancel()
	if err := a.repo.Delete(ctx, a.twitchUserID); err != nil {
		slog.Error("Failed to delete credential row", "twitch_user_id", a.twitchUserID, "error", err)
	}

	slog.Info("Credential revoked", "twitch_user_id", a.twitchUserID)
	return nil
}

func (a *actor) handleSnapshot() snapshotResult {
	switch a.state {
	case StateRevoked:
		return snapshotResult{err: domain.ErrRevoked}
	case StateUnauthenticated:
		return snapshotResult{err: domain.ErrNotAuthenticated}
	}

	return snapshotResult{snap: Snapshot{
		TwitchUserID: a.cred.TwitchUserID,
		TwitchLogin:  a.cred.TwitchLogin,
		Scopes:       append([]string(nil), a.cred.Scopes...),
		TokenExpiry:  a.cred.TokenExpiry,
		IDToken:      a.cred.IDToken,
		State:        a.state,
	}}
}

func (a *actor) discardCredential() {
	if a.cred == nil {
		return
	}
	a.cred.AccessToken = ""
	a.cred.RefreshToken = ""
	a.cred = nil
}
