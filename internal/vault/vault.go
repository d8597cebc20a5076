package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/matthewgrima/twitchcommands/internal/domain"
)

const (
	// defaultRefreshSkew refreshes tokens a little before Twitch would
	// reject them, so in-flight API calls never race expiry.
	defaultRefreshSkew    = 60 * time.Second
	defaultRefreshTimeout = 10 * time.Second
)

// tokenRefresher is the subset of the token client the vault needs.
type tokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*domain.TokenGrant, error)
}

// Vault is the registry of per-channel credential actors, keyed by
// Twitch user id. The registry lock guards only the map; credential
// state is owned by the actors themselves.
type Vault struct {
	refresher      tokenRefresher
	repo           domain.CredentialRepository
	clock          clockwork.Clock
	refreshSkew    time.Duration
	refreshTimeout time.Duration

	mu     sync.RWMutex
	actors map[string]*actor
}

func New(refresher tokenRefresher, repo domain.CredentialRepository, clock clockwork.Clock) *Vault {
	return &Vault{
		refresher:      refresher,
		repo:           repo,
		clock:          clock,
		refreshSkew:    defaultRefreshSkew,
		refreshTimeout: defaultRefreshTimeout,
		actors:         make(map[string]*actor),
	}
}

// Login stores a freshly exchanged credential for its channel,
// creating the channel's actor if this is the first login.
func (v *Vault) Login(ctx context.Context, cred *domain.Credential) error {
	if cred == nil || cred.TwitchUserID == "" {
		return errors.New("credential must carry a twitch user id")
	}

	a := v.actorForLogin(cred.TwitchUserID)

	replyCh := make(chan error, 1)
	if err := v.send(ctx, a, cmdLogin{cred: cred, replyCh: replyCh}); err != nil {
		return err
	}
	select {
	case err := <-replyCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns a currently valid access token for the channel,
// refreshing it first if needed. Concurrent calls while a refresh is
// in flight share that refresh's outcome. Cancelling ctx abandons only
// this caller's wait; the refresh itself is never cancelled.
func (v *Vault) Get(ctx context.Context, twitchUserID string) (string, error) {
	a, err := v.actorFor(ctx, twitchUserID)
	if err != nil {
		return "", err
	}

	replyCh := make(chan getResult, 1)
	if err := v.send(ctx, a, cmdGet{replyCh: replyCh}); err != nil {
		return "", err
	}
	select {
	case res := <-replyCh:
		return res.accessToken, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Revoke discards the channel's secrets. The actor stays registered in
// the terminal Revoked state so later calls fail loudly instead of
// silently resurrecting from storage.
func (v *Vault) Revoke(ctx context.Context, twitchUserID string) error {
	a, err := v.actorFor(ctx, twitchUserID)
	if err != nil {
		return err
	}

	replyCh := make(chan error, 1)
	if err := v.send(ctx, a, cmdRevoke{replyCh: replyCh}); err != nil {
		return err
	}
	select {
	case err := <-replyCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns credential metadata without secrets, for session
// validation and page rendering.
func (v *Vault) Snapshot(ctx context.Context, twitchUserID string) (Snapshot, error) {
	a, err := v.actorFor(ctx, twitchUserID)
	if err != nil {
		return Snapshot{}, err
	}

	replyCh := make(chan snapshotResult, 1)
	if err := v.send(ctx, a, cmdSnapshot{replyCh: replyCh}); err != nil {
		return Snapshot{}, err
	}
	select {
	case res := <-replyCh:
		return res.snap, res.err
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Close stops every actor. Queued commands are answered before each
// actor exits.
func (v *Vault) Close() {
	v.mu.Lock()
	actors := make([]*actor, 0, len(v.actors))
	for _, a := range v.actors {
		actors = append(actors, a)
	}
	v.actors = make(map[string]*actor)
	v.mu.Unlock()

	for _, a := range actors {
		doneCh := make(chan struct{})
		a.cmdCh <- cmdStop{doneCh: doneCh}
		<-doneCh
	}
}

func (v *Vault) send(ctx context.Context, a *actor, cmd actorCmd) error {
	select {
	case a.cmdCh <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// actorForLogin returns the channel's actor, creating an empty one if
// none exists. Login populates it.
func (v *Vault) actorForLogin(twitchUserID string) *actor {
	v.mu.RLock()
	a, ok := v.actors[twitchUserID]
	v.mu.RUnlock()
	if ok {
		return a
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if a, ok := v.actors[twitchUserID]; ok {
		return a
	}
	a = newActor(twitchUserID, nil, v)
	v.actors[twitchUserID] = a
	return a
}

// actorFor returns the channel's actor, lazily restoring it from the
// credential repository after a restart. Unknown channels do not get
// an actor; that would let arbitrary ids grow the registry.
func (v *Vault) actorFor(ctx context.Context, twitchUserID string) (*actor, error) {
	v.mu.RLock()
	a, ok := v.actors[twitchUserID]
	v.mu.RUnlock()
	if ok {
		return a, nil
	}

	cred, err := v.repo.GetByTwitchUserID(ctx, twitchUserID)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return nil, domain.ErrNotAuthenticated
		}
		return nil, errInternal("failed to load credential", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if a, ok := v.actors[twitchUserID]; ok {
		return a, nil
	}
	a = newActor(twitchUserID, cred, v)
	v.actors[twitchUserID] = a
	return a, nil
}

func isInvalidGrant(err error) bool {
	return errors.Is(err, domain.ErrInvalidGrant) || errors.Is(err, domain.ErrInvalidScope)
}

func errInternal(msg string, cause error) error {
	return fmt.Errorf("%s: %w", msg, cause)
}
