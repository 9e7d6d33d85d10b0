// Package storetest holds the behaviour suite every store.Store backend must
// pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/tokenlife/store"
	"github.com/stretchr/testify/require"
)

// Factory builds a fresh, empty store for one subtest.
type Factory func(t *testing.T, opts store.Options) store.Store

// Clock is a manually advanced clock for pruning tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("AppendAndLookup", func(t *testing.T) { testAppendAndLookup(t, newStore) })
	t.Run("RefreshReplace", func(t *testing.T) { testRefreshReplace(t, newStore) })
	t.Run("TerminateClearsAndBumpsEpoch", func(t *testing.T) { testTerminate(t, newStore) })
	t.Run("StaleEpochRejected", func(t *testing.T) { testStaleEpoch(t, newStore) })
	t.Run("PruneExpiredOnAppend", func(t *testing.T) { testPrune(t, newStore) })
	t.Run("CapEvictsOldest", func(t *testing.T) { testCap(t, newStore) })
	t.Run("CapKeepsNewestOnTiedExpiry", func(t *testing.T) { testCapKeepsNewest(t, newStore) })
	t.Run("IdentitiesIsolated", func(t *testing.T) { testIsolation(t, newStore) })
	t.Run("ConcurrentAppendsAllRegistered", func(t *testing.T) { testConcurrentAppend(t, newStore) })
}

func fp(s string) store.Fingerprint {
	return store.FingerprintOf(s)
}

func testAppendAndLookup(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, store.Options{})
	exp := time.Now().Add(time.Hour)

	epoch, err := s.Epoch(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, s.AppendAccess(ctx, "alice", epoch, fp("a1"), exp))
	require.NoError(t, s.AppendAccess(ctx, "alice", epoch, fp("a2"), exp.Add(time.Second)))
	require.NoError(t, s.AppendAccess(ctx, "alice", epoch, fp("a2"), exp.Add(time.Second)))

	for _, tok := range []string{"a1", "a2"} {
		ok, err := s.HasAccess(ctx, "alice", fp(tok))
		require.NoError(t, err)
		require.True(t, ok, tok)
	}
	ok, err := s.HasAccess(ctx, "alice", fp("a3"))
	require.NoError(t, err)
	require.False(t, ok)

	n, err := s.AccessCount(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func testRefreshReplace(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, store.Options{})
	exp := time.Now().Add(24 * time.Hour)

	ok, err := s.RefreshMatches(ctx, "alice", fp("r1"))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.ReplaceRefresh(ctx, "alice", 0, fp("r1"), exp))
	ok, err = s.RefreshMatches(ctx, "alice", fp("r1"))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.ReplaceRefresh(ctx, "alice", 0, fp("r2"), exp))
	ok, err = s.RefreshMatches(ctx, "alice", fp("r1"))
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = s.RefreshMatches(ctx, "alice", fp("r2"))
	require.NoError(t, err)
	require.True(t, ok)

	// Refresh replacement never touches the access record.
	require.NoError(t, s.AppendAccess(ctx, "alice", 0, fp("a1"), exp))
	require.NoError(t, s.ReplaceRefresh(ctx, "alice", 0, fp("r3"), exp))
	ok, err = s.HasAccess(ctx, "alice", fp("a1"))
	require.NoError(t, err)
	require.True(t, ok)
}

func testTerminate(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, store.Options{})
	exp := time.Now().Add(time.Hour)

	require.NoError(t, s.AppendAccess(ctx, "alice", 0, fp("a1"), exp))
	require.NoError(t, s.ReplaceRefresh(ctx, "alice", 0, fp("r1"), exp))

	epoch, err := s.Terminate(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, uint64(1), epoch)

	ok, err := s.HasAccess(ctx, "alice", fp("a1"))
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = s.RefreshMatches(ctx, "alice", fp("r1"))
	require.NoError(t, err)
	require.False(t, ok)

	// Terminating an empty identity is fine and still advances the epoch.
	epoch, err = s.Terminate(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, uint64(2), epoch)

	got, err := s.Epoch(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, uint64(2), got)

	epoch, err = s.Terminate(ctx, "never-seen")
	require.NoError(t, err)
	require.Equal(t, uint64(1), epoch)
}

func testStaleEpoch(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, store.Options{})
	exp := time.Now().Add(time.Hour)

	epoch, err := s.Epoch(ctx, "alice")
	require.NoError(t, err)
	_, err = s.Terminate(ctx, "alice")
	require.NoError(t, err)

	require.ErrorIs(t, s.AppendAccess(ctx, "alice", epoch, fp("a1"), exp), store.ErrTerminated)
	require.ErrorIs(t, s.ReplaceRefresh(ctx, "alice", epoch, fp("r1"), exp), store.ErrTerminated)

	ok, err := s.HasAccess(ctx, "alice", fp("a1"))
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = s.RefreshMatches(ctx, "alice", fp("r1"))
	require.NoError(t, err)
	require.False(t, ok)
}

func testPrune(t *testing.T, newStore Factory) {
	ctx := context.Background()
	clock := NewClock(time.Now().Truncate(time.Second))
	s := newStore(t, store.Options{Now: clock.Now})

	require.NoError(t, s.AppendAccess(ctx, "alice", 0, fp("old"), clock.Now().Add(time.Minute)))
	clock.Advance(2 * time.Minute)
	require.NoError(t, s.AppendAccess(ctx, "alice", 0, fp("new"), clock.Now().Add(time.Minute)))

	ok, err := s.HasAccess(ctx, "alice", fp("old"))
	require.NoError(t, err)
	require.False(t, ok)

	n, err := s.AccessCount(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func testCap(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, store.Options{MaxAccessTokens: 3})
	base := time.Now().Add(time.Hour).Truncate(time.Second)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendAccess(ctx, "alice", 0, fp(fmt.Sprintf("a%d", i)), base.Add(time.Duration(i)*time.Second)))
	}

	n, err := s.AccessCount(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	for i := 0; i < 5; i++ {
		ok, err := s.HasAccess(ctx, "alice", fp(fmt.Sprintf("a%d", i)))
		require.NoError(t, err)
		require.Equal(t, i >= 2, ok, "a%d", i)
	}
}

// Tokens issued within the same second share an expiry; the cap must still
// never evict the entry being appended.
func testCapKeepsNewest(t *testing.T, newStore Factory) {
	for _, limit := range []int{1, 2} {
		t.Run(fmt.Sprintf("max_%d", limit), func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t, store.Options{MaxAccessTokens: limit})
			exp := time.Now().Add(time.Hour).Truncate(time.Second)

			for i := 0; i < 20; i++ {
				f := fp(fmt.Sprintf("same-second-%d", i))
				require.NoError(t, s.AppendAccess(ctx, "alice", 0, f, exp))

				ok, err := s.HasAccess(ctx, "alice", f)
				require.NoError(t, err)
				require.True(t, ok, "append %d evicted itself", i)

				n, err := s.AccessCount(ctx, "alice")
				require.NoError(t, err)
				require.Equal(t, min(i+1, limit), n)
			}
		})
	}
}

func testIsolation(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, store.Options{})
	exp := time.Now().Add(time.Hour)

	require.NoError(t, s.AppendAccess(ctx, "alice", 0, fp("shared"), exp))
	require.NoError(t, s.ReplaceRefresh(ctx, "bob", 0, fp("rb"), exp))
	require.NoError(t, s.AppendAccess(ctx, "bob", 0, fp("ab"), exp))

	_, err := s.Terminate(ctx, "alice")
	require.NoError(t, err)

	ok, err := s.HasAccess(ctx, "bob", fp("ab"))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.RefreshMatches(ctx, "bob", fp("rb"))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.HasAccess(ctx, "bob", fp("shared"))
	require.NoError(t, err)
	require.False(t, ok)
}

func testConcurrentAppend(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t, store.Options{})
	exp := time.Now().Add(time.Hour)

	const workers = 32
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.AppendAccess(ctx, "alice", 0, fp(fmt.Sprintf("tok-%d", i)), exp)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	n, err := s.AccessCount(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, workers, n)
	for i := 0; i < workers; i++ {
		ok, err := s.HasAccess(ctx, "alice", fp(fmt.Sprintf("tok-%d", i)))
		require.NoError(t, err)
		require.True(t, ok)
	}
}
