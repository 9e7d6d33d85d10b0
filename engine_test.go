package tokenlife

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/tokenlife/internal/logx"
	"github.com/MrEthical07/tokenlife/keys"
	"github.com/MrEthical07/tokenlife/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var (
	testKeyOnce sync.Once
	testKey     *keys.KeyPair
	testKeyErr  error
)

// sharedKey avoids generating a key pair per test.
func sharedKey(t testing.TB) *keys.KeyPair {
	t.Helper()
	testKeyOnce.Do(func() {
		testKey, testKeyErr = keys.Generate(keys.AlgorithmES256, 0)
	})
	if testKeyErr != nil {
		t.Fatalf("generate key: %v", testKeyErr)
	}
	return testKey
}

func discardLogger() *slog.Logger {
	return logx.Discard()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.AccessTTL = time.Minute
	cfg.JWT.RefreshTTL = time.Hour
	cfg.JWT.Issuer = "tokenlife-test"
	cfg.Keys.Algorithm = keys.AlgorithmES256
	return cfg
}

func testDirectory() *StaticDirectory {
	return NewStaticDirectory(
		Account{Subject: "u1", LoginName: "alice", Roles: []string{"reader"}, Enabled: true},
		Account{Subject: "u2", LoginName: "bob", Roles: []string{"admin"}, Enabled: true},
		Account{Subject: "u3", LoginName: "carol", Enabled: false},
		Account{Subject: "u4", LoginName: "dave", Enabled: true, Locked: true},
		Account{Subject: "u5", LoginName: "erin", Enabled: true, CredentialsExpired: true},
	)
}

type engineOpts struct {
	cfg   Config
	clock *manualClock
	dir   *StaticDirectory
	redis redis.UniversalClient
	sink  AuditSink
	store store.Store
}

func buildTestEngine(t *testing.T, opts engineOpts) *Engine {
	t.Helper()

	if opts.cfg.JWT.AccessTTL == 0 {
		opts.cfg = testConfig()
	}
	if opts.dir == nil {
		opts.dir = testDirectory()
	}

	b := New().
		WithConfig(opts.cfg).
		WithDirectory(opts.dir).
		WithKeyProvider(sharedKey(t)).
		WithLogger(discardLogger())
	if opts.clock != nil {
		b = b.WithClock(opts.clock.Now)
	}
	if opts.redis != nil {
		b = b.WithRedis(opts.redis)
	}
	if opts.sink != nil {
		b = b.WithAuditSink(opts.sink)
	}
	if opts.store != nil {
		b = b.WithStore(opts.store)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func newTestRedis(t testing.TB) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func requireKind(t *testing.T, err error, want ErrorKind) {
	t.Helper()
	got, ok := KindOf(err)
	if !ok {
		t.Fatalf("expected AuthError of kind %s, got %v", want, err)
	}
	if got != want {
		t.Fatalf("expected kind %s, got %s (%v)", want, got, err)
	}
}

func TestEngineLifecycle(t *testing.T) {
	clock := newManualClock()
	engine := buildTestEngine(t, engineOpts{clock: clock})
	ctx := context.Background()

	pair, err := engine.Login(ctx, Identity{Subject: "u1", Roles: []string{"reader"}})
	require.NoError(t, err)

	ok, err := engine.Validate(ctx, pair.AccessToken, "u1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = engine.Validate(ctx, pair.RefreshToken, "u1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = engine.Validate(ctx, pair.AccessToken, "u2")
	requireKind(t, err, KindSubjectMismatch)

	id, err := engine.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "u1", id.Subject)
	require.Equal(t, []string{"reader"}, id.Roles)

	access2, err := engine.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pair.AccessToken, access2)

	// Both access tokens stay valid; the refresh token is not rotated.
	for _, tok := range []string{pair.AccessToken, access2, pair.RefreshToken} {
		_, err := engine.Validate(ctx, tok, "")
		require.NoError(t, err)
	}

	n, err := engine.ActiveAccessTokens(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.NoError(t, engine.Logout(ctx, "u1"))

	for _, tok := range []string{pair.AccessToken, access2, pair.RefreshToken} {
		_, err := engine.Validate(ctx, tok, "u1")
		requireKind(t, err, KindRevoked)
		require.ErrorIs(t, err, ErrUnauthorized)
	}

	_, err = engine.Refresh(ctx, pair.RefreshToken)
	requireKind(t, err, KindRevoked)

	n, err = engine.ActiveAccessTokens(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestEngineLogoutIsIdempotent(t *testing.T) {
	engine := buildTestEngine(t, engineOpts{})
	ctx := context.Background()

	require.NoError(t, engine.Logout(ctx, "never-logged-in"))
	require.NoError(t, engine.Logout(ctx, "never-logged-in"))
	require.ErrorIs(t, engine.Logout(ctx, ""), ErrEmptySubject)

	pair, err := engine.Login(ctx, Identity{Subject: "u1"})
	require.NoError(t, err)
	require.NoError(t, engine.Logout(ctx, "u1"))
	require.NoError(t, engine.Logout(ctx, "u1"))

	// A fresh login after logout works normally.
	pair2, err := engine.Login(ctx, Identity{Subject: "u1"})
	require.NoError(t, err)
	_, err = engine.Validate(ctx, pair2.AccessToken, "u1")
	require.NoError(t, err)
	_, err = engine.Validate(ctx, pair.AccessToken, "u1")
	requireKind(t, err, KindRevoked)
}

func TestEngineSecondLoginRevokesFirstRefresh(t *testing.T) {
	engine := buildTestEngine(t, engineOpts{})
	ctx := context.Background()

	first, err := engine.Login(ctx, Identity{Subject: "u1"})
	require.NoError(t, err)
	second, err := engine.Login(ctx, Identity{Subject: "u1"})
	require.NoError(t, err)

	_, err = engine.Refresh(ctx, first.RefreshToken)
	requireKind(t, err, KindRevoked)

	_, err = engine.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)

	// Access tokens of the first login survive.
	_, err = engine.Validate(ctx, first.AccessToken, "u1")
	require.NoError(t, err)
}

func TestEngineExpiry(t *testing.T) {
	clock := newManualClock()
	engine := buildTestEngine(t, engineOpts{clock: clock})
	ctx := context.Background()

	pair, err := engine.Login(ctx, Identity{Subject: "u1"})
	require.NoError(t, err)

	clock.Advance(time.Minute + time.Second)
	_, err = engine.Validate(ctx, pair.AccessToken, "u1")
	requireKind(t, err, KindExpired)
	require.ErrorIs(t, err, ErrExpired)

	// The refresh token outlives the access token and still mints.
	access, err := engine.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	_, err = engine.Validate(ctx, access, "u1")
	require.NoError(t, err)

	n, err := engine.ActiveAccessTokens(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	clock.Advance(time.Hour)
	_, err = engine.Refresh(ctx, pair.RefreshToken)
	requireKind(t, err, KindExpired)
}

func TestEngineRejectsWrongKind(t *testing.T) {
	engine := buildTestEngine(t, engineOpts{})
	ctx := context.Background()

	pair, err := engine.Login(ctx, Identity{Subject: "u1"})
	require.NoError(t, err)

	_, err = engine.Refresh(ctx, pair.AccessToken)
	requireKind(t, err, KindWrongKind)

	_, err = engine.Authenticate(ctx, pair.RefreshToken)
	requireKind(t, err, KindWrongKind)
}

func TestEngineRejectsForgedTokens(t *testing.T) {
	engine := buildTestEngine(t, engineOpts{})
	ctx := context.Background()

	pair, err := engine.Login(ctx, Identity{Subject: "u1"})
	require.NoError(t, err)

	_, err = engine.Validate(ctx, "not-a-token", "")
	requireKind(t, err, KindMalformedToken)
	_, err = engine.Validate(ctx, "", "")
	requireKind(t, err, KindMalformedToken)

	tampered := []byte(pair.AccessToken)
	last := len(tampered) - 2
	if tampered[last] == 'A' {
		tampered[last] = 'B'
	} else {
		tampered[last] = 'A'
	}
	_, err = engine.Validate(ctx, string(tampered), "u1")
	requireKind(t, err, KindInvalidSignature)

	// A token signed by another key pair is rejected even though it is
	// well formed.
	otherKey, err := keys.Generate(keys.AlgorithmES256, 0)
	require.NoError(t, err)
	other, err := New().
		WithConfig(testConfig()).
		WithDirectory(testDirectory()).
		WithKeyProvider(otherKey).
		WithLogger(discardLogger()).
		Build()
	require.NoError(t, err)
	defer other.Close()

	foreign, err := other.Login(ctx, Identity{Subject: "u1"})
	require.NoError(t, err)
	_, err = engine.Validate(ctx, foreign.AccessToken, "u1")
	requireKind(t, err, KindInvalidSignature)
}

func TestEngineRefreshUsesCurrentRoles(t *testing.T) {
	dir := testDirectory()
	engine := buildTestEngine(t, engineOpts{dir: dir})
	ctx := context.Background()

	pair, err := engine.Login(ctx, Identity{Subject: "u1", Roles: []string{"reader"}})
	require.NoError(t, err)

	dir.Put(Account{Subject: "u1", LoginName: "alice", Roles: []string{"reader", "editor"}, Enabled: true})

	access, err := engine.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	id, err := engine.Authenticate(ctx, access)
	require.NoError(t, err)
	require.Equal(t, []string{"reader", "editor"}, id.Roles)

	// The earlier token keeps its snapshot.
	id, err = engine.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, []string{"reader"}, id.Roles)

	dir.Remove("u1")
	_, err = engine.Refresh(ctx, pair.RefreshToken)
	requireKind(t, err, KindUnknownIdentity)
}

func TestEngineLoginByName(t *testing.T) {
	engine := buildTestEngine(t, engineOpts{})
	ctx := context.Background()

	pair, err := engine.LoginByName(ctx, "bob")
	require.NoError(t, err)
	id, err := engine.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, Identity{Subject: "u2", Roles: []string{"admin"}}, id)

	for _, name := range []string{"carol", "dave", "erin"} {
		_, err := engine.LoginByName(ctx, name)
		requireKind(t, err, KindAccountUnavailable)
		require.ErrorIs(t, err, ErrAccountUnavailable)
	}

	_, err = engine.LoginByName(ctx, "mallory")
	requireKind(t, err, KindUnknownIdentity)
	require.ErrorIs(t, err, ErrIdentityNotFound)
}

func TestEngineIssueIndividually(t *testing.T) {
	engine := buildTestEngine(t, engineOpts{})
	ctx := context.Background()

	access, err := engine.IssueAccessToken(ctx, Identity{Subject: "u1", Roles: []string{"reader"}})
	require.NoError(t, err)
	_, err = engine.Validate(ctx, access, "u1")
	require.NoError(t, err)

	r1, err := engine.IssueRefreshToken(ctx, Identity{Subject: "u1"})
	require.NoError(t, err)
	r2, err := engine.IssueRefreshToken(ctx, Identity{Subject: "u1"})
	require.NoError(t, err)

	_, err = engine.Validate(ctx, r1, "u1")
	requireKind(t, err, KindRevoked)
	_, err = engine.Validate(ctx, r2, "u1")
	require.NoError(t, err)

	_, err = engine.IssueAccessToken(ctx, Identity{})
	require.ErrorIs(t, err, ErrEmptySubject)
	_, err = engine.IssueRefreshToken(ctx, Identity{})
	require.ErrorIs(t, err, ErrEmptySubject)
}

func TestEngineLogoutByAccessToken(t *testing.T) {
	engine := buildTestEngine(t, engineOpts{})
	ctx := context.Background()

	pair, err := engine.Login(ctx, Identity{Subject: "u1"})
	require.NoError(t, err)

	requireKind(t, engine.LogoutByAccessToken(ctx, pair.RefreshToken), KindWrongKind)
	require.NoError(t, engine.LogoutByAccessToken(ctx, pair.AccessToken))

	_, err = engine.Validate(ctx, pair.RefreshToken, "u1")
	requireKind(t, err, KindRevoked)
	requireKind(t, engine.LogoutByAccessToken(ctx, pair.AccessToken), KindRevoked)
}

func TestEngineMaxAccessTokens(t *testing.T) {
	cfg := testConfig()
	cfg.Store.MaxAccessTokens = 2
	engine := buildTestEngine(t, engineOpts{cfg: cfg})
	ctx := context.Background()

	var tokens []string
	for range 3 {
		tok, err := engine.IssueAccessToken(ctx, Identity{Subject: "u1"})
		require.NoError(t, err)
		tokens = append(tokens, tok)
	}

	_, err := engine.Validate(ctx, tokens[0], "u1")
	requireKind(t, err, KindRevoked)
	for _, tok := range tokens[1:] {
		_, err := engine.Validate(ctx, tok, "u1")
		require.NoError(t, err)
	}
}

func TestEngineRedisCapKeepsIssuedToken(t *testing.T) {
	_, rdb := newTestRedis(t)
	cfg := testConfig()
	cfg.Store.Backend = StoreRedis
	cfg.Store.MaxAccessTokens = 1
	engine := buildTestEngine(t, engineOpts{cfg: cfg, redis: rdb})
	ctx := context.Background()

	// Most of these land in the same second and share an expiry.
	for i := range 40 {
		tok, err := engine.IssueAccessToken(ctx, Identity{Subject: "u1"})
		require.NoError(t, err)
		_, err = engine.Authenticate(ctx, tok)
		require.NoError(t, err, "issued token %d not registered", i)
	}

	n, err := engine.ActiveAccessTokens(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestEngineRedisBackend(t *testing.T) {
	_, rdb := newTestRedis(t)
	cfg := testConfig()
	cfg.Store.Backend = StoreRedis
	engine := buildTestEngine(t, engineOpts{cfg: cfg, redis: rdb})
	ctx := context.Background()

	require.NoError(t, engine.Ping(ctx))

	pair, err := engine.Login(ctx, Identity{Subject: "u1"})
	require.NoError(t, err)
	access, err := engine.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	_, err = engine.Validate(ctx, access, "u1")
	require.NoError(t, err)

	require.NoError(t, engine.Logout(ctx, "u1"))
	_, err = engine.Validate(ctx, access, "u1")
	requireKind(t, err, KindRevoked)
}

func TestEngineStoreUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	cfg := testConfig()
	cfg.Store.Backend = StoreRedis
	engine := buildTestEngine(t, engineOpts{cfg: cfg, redis: rdb})
	ctx := context.Background()

	pair, err := engine.Login(ctx, Identity{Subject: "u1"})
	require.NoError(t, err)

	mr.Close()

	_, err = engine.Validate(ctx, pair.AccessToken, "u1")
	require.ErrorIs(t, err, store.ErrUnavailable)
	if _, ok := KindOf(err); ok {
		t.Fatalf("store failure must not look like a rejection: %v", err)
	}

	_, err = engine.Login(ctx, Identity{Subject: "u1"})
	require.ErrorIs(t, err, store.ErrUnavailable)
	require.ErrorIs(t, engine.Logout(ctx, "u1"), store.ErrUnavailable)
	require.ErrorIs(t, engine.Ping(ctx), store.ErrUnavailable)
}

func TestEngineRefreshThrottle(t *testing.T) {
	cfg := testConfig()
	cfg.Security.EnableRefreshThrottle = true
	cfg.Security.MaxRefreshAttempts = 2
	cfg.Security.RefreshCooldownDuration = time.Minute
	engine := buildTestEngine(t, engineOpts{cfg: cfg})
	ctx := context.Background()

	pair, err := engine.Login(ctx, Identity{Subject: "u1"})
	require.NoError(t, err)

	for range 2 {
		_, err := engine.Refresh(ctx, pair.RefreshToken)
		require.NoError(t, err)
	}
	_, err = engine.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshRateLimited)
	if _, ok := KindOf(err); ok {
		t.Fatal("throttling is not a token rejection")
	}
}

func TestEngineNotReady(t *testing.T) {
	var engine *Engine
	ctx := context.Background()

	_, err := engine.Login(ctx, Identity{Subject: "u1"})
	require.ErrorIs(t, err, ErrEngineNotReady)
	_, err = engine.Validate(ctx, "x", "")
	require.ErrorIs(t, err, ErrEngineNotReady)
	require.ErrorIs(t, engine.Logout(ctx, "u1"), ErrEngineNotReady)
	require.Zero(t, engine.AuditDropped())
	engine.Close()
}

func TestEngineContextCanceled(t *testing.T) {
	engine := buildTestEngine(t, engineOpts{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Login(ctx, Identity{Subject: "u1"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEngineRedisContextCanceledIsNotAnOutage(t *testing.T) {
	_, rdb := newTestRedis(t)
	cfg := testConfig()
	cfg.Store.Backend = StoreRedis
	cfg.Metrics.Enabled = true
	engine := buildTestEngine(t, engineOpts{cfg: cfg, redis: rdb})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Login(ctx, Identity{Subject: "u1"})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, engine.MetricsSnapshot().Counters[MetricStoreUnavailable])
}
