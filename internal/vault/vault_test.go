package vault

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewgrima/twitchcommands/internal/domain"
)

// --- Fakes ---

type fakeRefresher struct {
	mu      sync.Mutex
	calls   int32
	grant   *domain.TokenGrant
	err     error
	blockCh chan struct{} // when set, Refresh blocks until closed
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*domain.TokenGrant, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.blockCh != nil {
		<-f.blockCh
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	g := *f.grant
	return &g, nil
}

func (f *fakeRefresher) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

func (f *fakeRefresher) set(grant *domain.TokenGrant, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grant = grant
	f.err = err
}

type memoryRepo struct {
	mu    sync.Mutex
	creds map[string]*domain.Credential
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{creds: make(map[string]*domain.Credential)}
}

func (r *memoryRepo) Upsert(_ context.Context, cred *domain.Credential) (*domain.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *cred
	r.creds[cred.TwitchUserID] = &c
	out := c
	return &out, nil
}

func (r *memoryRepo) GetByTwitchUserID(_ context.Context, twitchUserID string) (*domain.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.creds[twitchUserID]
	if !ok {
		return nil, domain.ErrCredentialNotFound
	}
	out := *c
	return &out, nil
}

func (r *memoryRepo) UpdateTokens(_ context.Context, twitchUserID, accessToken, refreshToken string, tokenExpiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.creds[twitchUserID]
	if !ok {
		return domain.ErrCredentialNotFound
	}
	c.AccessToken = accessToken
	c.RefreshToken = refreshToken
	c.TokenExpiry = tokenExpiry
	return nil
}

func (r *memoryRepo) Delete(_ context.Context, twitchUserID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.creds, twitchUserID)
	return nil
}

// gatedRepo lets a test hold the actor inside a repository call so
// commands pile up in its queue.
type gatedRepo struct {
	*memoryRepo
	mu   sync.Mutex
	gate chan struct{}
}

func newGatedRepo() *gatedRepo {
	return &gatedRepo{memoryRepo: newMemoryRepo()}
}

func (r *gatedRepo) hold() {
	r.mu.Lock()
	r.gate = make(chan struct{})
	r.mu.Unlock()
}

func (r *gatedRepo) release() {
	r.mu.Lock()
	close(r.gate)
	r.gate = nil
	r.mu.Unlock()
}

func (r *gatedRepo) Upsert(ctx context.Context, cred *domain.Credential) (*domain.Credential, error) {
	r.mu.Lock()
	gate := r.gate
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return r.memoryRepo.Upsert(ctx, cred)
}

// --- Helpers ---

const testUserID = "141981764"

func testCredential(clock clockwork.Clock) *domain.Credential {
	return &domain.Credential{
		TwitchUserID: testUserID,
		TwitchLogin:  "somechannel",
		AccessToken:  "a1",
		RefreshToken: "r1",
		Scopes:       []string{"moderator:read:followers"},
		TokenExpiry:  clock.Now().Add(time.Hour),
		IDToken:      "id-token-1",
	}
}

func newTestVault(t *testing.T, refresher tokenRefresher, clock clockwork.Clock) (*Vault, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	v := New(refresher, repo, clock)
	t.Cleanup(v.Close)
	return v, repo
}

// --- Tests ---

func TestGet_FreshTokenNoRefresh(t *testing.T) {
	clock := clockwork.NewFakeClock()
	refresher := &fakeRefresher{}
	v, _ := newTestVault(t, refresher, clock)

	require.NoError(t, v.Login(context.Background(), testCredential(clock)))

	token, err := v.Get(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, "a1", token)
	assert.Equal(t, 0, refresher.callCount())
}

func TestGet_UnknownChannel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v, _ := newTestVault(t, &fakeRefresher{}, clock)

	_, err := v.Get(context.Background(), "999999")
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestGet_RefreshesExpiredToken(t *testing.T) {
	clock := clockwork.NewFakeClock()
	refresher := &fakeRefresher{}
	refresher.set(&domain.TokenGrant{AccessToken: "a2", RefreshToken: "r2", ExpiresIn: 3600}, nil)
	v, repo := newTestVault(t, refresher, clock)

	require.NoError(t, v.Login(context.Background(), testCredential(clock)))
	clock.Advance(2 * time.Hour)

	token, err := v.Get(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, "a2", token)
	assert.Equal(t, 1, refresher.callCount())

	// New tokens were written through to storage.
	stored, err := repo.GetByTwitchUserID(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, "a2", stored.AccessToken)
	assert.Equal(t, "r2", stored.RefreshToken)
}

func TestGet_RefreshesInsideSkewWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	refresher := &fakeRefresher{}
	refresher.set(&domain.TokenGrant{AccessToken: "a2", RefreshToken: "r2", ExpiresIn: 3600}, nil)
	v, _ := newTestVault(t, refresher, clock)

	require.NoError(t, v.Login(context.Background(), testCredential(clock)))

	// 30s before expiry is inside the 60s skew: refresh proactively.
	clock.Advance(time.Hour - 30*time.Second)

	token, err := v.Get(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, "a2", token)
	assert.Equal(t, 1, refresher.callCount())
}

func TestGet_ConcurrentCallersShareOneRefresh(t *testing.T) {
	clock := clockwork.NewFakeClock()
	refresher := &fakeRefresher{blockCh: make(chan struct{})}
	refresher.set(&domain.TokenGrant{AccessToken: "a2", RefreshToken: "r2", ExpiresIn: 3600}, nil)
	v, _ := newTestVault(t, refresher, clock)

	require.NoError(t, v.Login(context.Background(), testCredential(clock)))
	clock.Advance(2 * time.Hour)

	const callers = 20
	tokens := make([]string, callers)
	errs := make([]error, callers)

	var started, done sync.WaitGroup
	started.Add(callers)
	done.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer done.Done()
			started.Done()
			tokens[i], errs[i] = v.Get(context.Background(), testUserID)
		}(i)
	}

	// Let all callers queue against the actor, then release the one
	// in-flight refresh.
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(refresher.blockCh)
	done.Wait()

	assert.Equal(t, 1, refresher.callCount())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "a2", tokens[i])
	}
}

func TestGet_InvalidGrantDiscardsCredential(t *testing.T) {
	clock := clockwork.NewFakeClock()
	refresher := &fakeRefresher{}
	refresher.set(nil, fmt.Errorf("refresh: %w", domain.ErrInvalidGrant))
	v, repo := newTestVault(t, refresher, clock)

	require.NoError(t, v.Login(context.Background(), testCredential(clock)))
	clock.Advance(2 * time.Hour)

	_, err := v.Get(context.Background(), testUserID)
	assert.ErrorIs(t, err, domain.ErrCredentialExpired)

	// State is Unauthenticated now, not Revoked; the row is gone.
	_, err = v.Get(context.Background(), testUserID)
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
	_, err = repo.GetByTwitchUserID(context.Background(), testUserID)
	assert.ErrorIs(t, err, domain.ErrCredentialNotFound)
}

func TestGet_TransientFailureKeepsCredential(t *testing.T) {
	clock := clockwork.NewFakeClock()
	refresher := &fakeRefresher{}
	refresher.set(nil, fmt.Errorf("refresh: %w", domain.ErrTransient))
	v, _ := newTestVault(t, refresher, clock)

	require.NoError(t, v.Login(context.Background(), testCredential(clock)))
	clock.Advance(2 * time.Hour)

	_, err := v.Get(context.Background(), testUserID)
	require.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, 1, refresher.callCount())

	// Once the provider recovers and the cooldown passes, the same
	// refresh token is retried and succeeds.
	refresher.set(&domain.TokenGrant{AccessToken: "a2", RefreshToken: "r2", ExpiresIn: 3600}, nil)
	clock.Advance(refreshFailureCooldown + time.Second)

	token, err := v.Get(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, "a2", token)
}

func TestGet_TransientFailureSharedDuringCooldown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	refresher := &fakeRefresher{}
	refresher.set(nil, fmt.Errorf("refresh: %w", domain.ErrTransient))
	v, _ := newTestVault(t, refresher, clock)

	require.NoError(t, v.Login(context.Background(), testCredential(clock)))
	clock.Advance(2 * time.Hour)

	_, err := v.Get(context.Background(), testUserID)
	require.ErrorIs(t, err, domain.ErrTransient)

	// A caller arriving right after the failure gets the same answer
	// without a second network call.
	_, err = v.Get(context.Background(), testUserID)
	require.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, 1, refresher.callCount())
}

func TestLogin_IdempotentLastWriterWins(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v, repo := newTestVault(t, &fakeRefresher{}, clock)

	first := testCredential(clock)
	require.NoError(t, v.Login(context.Background(), first))

	second := testCredential(clock)
	second.AccessToken = "a1b"
	second.IDToken = "id-token-2"
	require.NoError(t, v.Login(context.Background(), second))

	token, err := v.Get(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, "a1b", token)

	repo.mu.Lock()
	count := len(repo.creds)
	repo.mu.Unlock()
	assert.Equal(t, 1, count)

	snap, err := v.Snapshot(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, "id-token-2", snap.IDToken)
}

func TestRevoke_Terminal(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v, repo := newTestVault(t, &fakeRefresher{}, clock)

	require.NoError(t, v.Login(context.Background(), testCredential(clock)))
	require.NoError(t, v.Revoke(context.Background(), testUserID))

	_, err := v.Get(context.Background(), testUserID)
	assert.ErrorIs(t, err, domain.ErrRevoked)

	_, err = v.Snapshot(context.Background(), testUserID)
	assert.ErrorIs(t, err, domain.ErrRevoked)

	_, err = repo.GetByTwitchUserID(context.Background(), testUserID)
	assert.ErrorIs(t, err, domain.ErrCredentialNotFound)

	// Revoking again is a no-op.
	assert.NoError(t, v.Revoke(context.Background(), testUserID))
}

func TestLogin_AfterRevokeReactivates(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v, _ := newTestVault(t, &fakeRefresher{}, clock)

	require.NoError(t, v.Login(context.Background(), testCredential(clock)))
	require.NoError(t, v.Revoke(context.Background(), testUserID))
	require.NoError(t, v.Login(context.Background(), testCredential(clock)))

	token, err := v.Get(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, "a1", token)
}

func TestGet_RestoresFromRepositoryAfterRestart(t *testing.T) {
	clock := clockwork.NewFakeClock()
	refresher := &fakeRefresher{}
	repo := newMemoryRepo()

	v1 := New(refresher, repo, clock)
	require.NoError(t, v1.Login(context.Background(), testCredential(clock)))
	v1.Close()

	// Fresh registry over the same storage.
	v2 := New(refresher, repo, clock)
	defer v2.Close()

	token, err := v2.Get(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, "a1", token)
	assert.Equal(t, 0, refresher.callCount())
}

func TestGet_CallerCancellationDoesNotCancelRefresh(t *testing.T) {
	clock := clockwork.NewFakeClock()
	refresher := &fakeRefresher{blockCh: make(chan struct{})}
	refresher.set(&domain.TokenGrant{AccessToken: "a2", RefreshToken: "r2", ExpiresIn: 3600}, nil)
	v, _ := newTestVault(t, refresher, clock)

	require.NoError(t, v.Login(context.Background(), testCredential(clock)))
	clock.Advance(2 * time.Hour)

	// First caller triggers the refresh then gives up waiting.
	ctx, cancel := context.WithCancel(context.Background())
	abandonedCh := make(chan error, 1)
	go func() {
		_, err := v.Get(ctx, testUserID)
		abandonedCh <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-abandonedCh, context.Canceled)

	// Second caller still benefits from the in-flight refresh.
	resultCh := make(chan string, 1)
	go func() {
		token, err := v.Get(context.Background(), testUserID)
		require.NoError(t, err)
		resultCh <- token
	}()
	time.Sleep(50 * time.Millisecond)
	close(refresher.blockCh)

	assert.Equal(t, "a2", <-resultCh)
	assert.Equal(t, 1, refresher.callCount())
}

func TestClose_DuringRefreshDrainStopsActor(t *testing.T) {
	clock := clockwork.NewFakeClock()
	refresher := &fakeRefresher{}
	refresher.set(&domain.TokenGrant{AccessToken: "a2", RefreshToken: "r2", ExpiresIn: 3600}, nil)

	repo := newGatedRepo()
	v := New(refresher, repo, clock)

	require.NoError(t, v.Login(context.Background(), testCredential(clock)))
	clock.Advance(2 * time.Hour)

	// Hold the actor inside the next login so a stale Get and a stop
	// queue up behind it; the Get's refresh then drains both.
	repo.hold()
	stale := testCredential(clock)
	stale.TokenExpiry = clock.Now()
	loginCh := make(chan error, 1)
	go func() { loginCh <- v.Login(context.Background(), stale) }()
	time.Sleep(50 * time.Millisecond)

	tokenCh := make(chan string, 1)
	go func() {
		token, err := v.Get(context.Background(), testUserID)
		require.NoError(t, err)
		tokenCh <- token
	}()
	time.Sleep(50 * time.Millisecond)

	closedCh := make(chan struct{})
	go func() {
		v.Close()
		close(closedCh)
	}()
	time.Sleep(50 * time.Millisecond)

	repo.release()

	require.NoError(t, <-loginCh)
	assert.Equal(t, "a2", <-tokenCh)

	select {
	case <-closedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return; stop swallowed by the refresh drain")
	}
}

func TestSnapshot_CarriesNoSecrets(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v, _ := newTestVault(t, &fakeRefresher{}, clock)

	require.NoError(t, v.Login(context.Background(), testCredential(clock)))

	snap, err := v.Snapshot(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, testUserID, snap.TwitchUserID)
	assert.Equal(t, "somechannel", snap.TwitchLogin)
	assert.Equal(t, "id-token-1", snap.IDToken)
	assert.Equal(t, StateActive, snap.State)
}
