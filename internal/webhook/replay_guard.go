package webhook

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/matthewgrima/twitchcommands/internal/metrics"
)

// ReplayGuard is a time-windowed set of EventSub message ids. Twitch
// delivers at least once, so duplicates are normal; the guard lets the
// pipeline acknowledge them without reprocessing. Entries expire after
// the provider's maximum redelivery window, keeping the set bounded.
type ReplayGuard struct {
	mu      sync.Mutex
	entries map[string]time.Time
	window  time.Duration
	clock   clockwork.Clock
}

// NewReplayGuard creates a guard that remembers message ids for the
// given window. Twitch redelivers for at most 10 minutes, so that is
// the natural choice.
func NewReplayGuard(window time.Duration, clock clockwork.Clock) *ReplayGuard {
	return &ReplayGuard{
		entries: make(map[string]time.Time),
		window:  window,
		clock:   clock,
	}
}

// Seen atomically tests and inserts a message id. The first caller for
// an id gets false; every caller within the window afterwards gets
// true. Concurrent deliveries of the same id race on the single lock,
// so exactly one of them wins.
func (g *ReplayGuard) Seen(messageID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	firstSeen, ok := g.entries[messageID]
	if ok && now.Sub(firstSeen) < g.window {
		return true
	}

	g.entries[messageID] = now
	if !ok {
		metrics.ReplayGuardEntries.Set(float64(len(g.entries)))
	}
	return false
}

// Forget removes a message id so a redelivery is processed instead of
// being swallowed as a duplicate. Used after a notification handler
// fails and the delivery is answered with a 5xx.
func (g *ReplayGuard) Forget(messageID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.entries[messageID]; !ok {
		return
	}
	delete(g.entries, messageID)
	metrics.ReplayGuardEntries.Set(float64(len(g.entries)))
}

// Size returns the current number of entries, including expired ones
// not yet evicted.
func (g *ReplayGuard) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// EvictExpired removes entries older than the window and returns how
// many were dropped.
func (g *ReplayGuard) EvictExpired() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	evicted := 0
	for id, firstSeen := range g.entries {
		if now.Sub(firstSeen) >= g.window {
			delete(g.entries, id)
			evicted++
		}
	}
	if evicted > 0 {
		metrics.ReplayGuardEntries.Set(float64(len(g.entries)))
	}
	return evicted
}

// StartEvictionTimer evicts expired entries in the background until the
// returned stop function is called.
func (g *ReplayGuard) StartEvictionTimer(interval time.Duration) func() {
	stopCh := make(chan struct{})
	go func() {
		ticker := g.clock.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				g.EvictExpired()
			case <-stopCh:
				return
			}
		}
	}()
	return func() { close(stopCh) }
}
