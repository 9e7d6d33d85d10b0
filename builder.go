package tokenlife

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/tokenlife/internal/audit"
	"github.com/MrEthical07/tokenlife/internal/flows"
	"github.com/MrEthical07/tokenlife/internal/rate"
	"github.com/MrEthical07/tokenlife/jwt"
	"github.com/MrEthical07/tokenlife/keys"
	"github.com/MrEthical07/tokenlife/store"
	"github.com/MrEthical07/tokenlife/store/pgstore"
	"github.com/MrEthical07/tokenlife/store/redisstore"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const backendConnectTimeout = 10 * time.Second

// Builder assembles an Engine. A Builder can be built once.
type Builder struct {
	config Config

	redis    redis.UniversalClient
	postgres *pgxpool.Pool
	store    store.Store

	directory Directory
	provider  keys.Provider
	auditSink AuditSink
	logger    *slog.Logger
	clock     func() time.Time

	built bool
}

func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the Redis client used by the redis store backend and
// the refresh throttle. The engine does not close it.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPostgres supplies the pool used by the postgres store backend. The
// engine does not close it.
func (b *Builder) WithPostgres(pool *pgxpool.Pool) *Builder {
	b.postgres = pool
	return b
}

// WithStore overrides backend selection entirely.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

func (b *Builder) WithDirectory(d Directory) *Builder {
	b.directory = d
	return b
}

// WithKeyProvider skips key generation and signs with p.
func (b *Builder) WithKeyProvider(p keys.Provider) *Builder {
	b.provider = p
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces time.Now for issuance, expiry checks and the memory
// store. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, obtains the key pair and wires the
// store backend. A key pair that cannot be generated or loaded is returned
// as an *AuthError of kind KindKeyGenerationFailure.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.directory == nil {
		return nil, errors.New("directory required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	// -------- KEYS --------
	provider := b.provider
	if provider == nil {
		kp, err := keys.New(keys.Options{
			Algorithm: cfg.Keys.Algorithm,
			RSABits:   cfg.Keys.RSABits,
			Mode:      cfg.Keys.Mode,
			File:      cfg.Keys.File,
		})
		if err != nil {
			return nil, newAuthError(KindKeyGenerationFailure, err)
		}
		provider = kp
	}

	codec, err := jwt.NewCodec(provider, jwt.CodecConfig{Issuer: cfg.JWT.Issuer})
	if err != nil {
		return nil, newAuthError(KindKeyGenerationFailure, err)
	}

	// -------- STORE --------
	engine := &Engine{
		config:    cfg,
		provider:  provider,
		codec:     codec,
		directory: b.directory,
		logger:    logger,
		clock:     clock,
	}

	st, err := b.buildStore(cfg, clock, engine)
	if err != nil {
		engine.closeBackends()
		return nil, err
	}
	engine.store = st

	// -------- REFRESH THROTTLE --------
	var limiter flows.RefreshRateLimiter
	if cfg.Security.EnableRefreshThrottle {
		rc := rate.Config{
			MaxRefreshAttempts:      cfg.Security.MaxRefreshAttempts,
			RefreshCooldownDuration: cfg.Security.RefreshCooldownDuration,
			Prefix:                  cfg.Store.RedisPrefix,
		}
		if b.redis != nil {
			limiter = rate.New(b.redis, rc)
		} else {
			limiter = rate.NewLocal(rc)
		}
	}

	// -------- FLOWS --------
	issue := flows.IssueDeps{
		Encode:     codec.Encode,
		Issuer:     cfg.JWT.Issuer,
		Now:        clock,
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
		Store:      st,
	}
	validate := flows.ValidateDeps{
		Decode: codec.Decode,
		Now:    clock,
		Store:  st,
	}
	engine.flows = flows.New(flows.Deps{
		Issue:    issue,
		Validate: validate,
		Refresh: flows.RefreshDeps{
			Validate:        validate,
			Issue:           issue,
			Roles:           b.directory.Roles,
			UnknownIdentity: ErrIdentityNotFound,
			RateLimiter:     limiter,
		},
		Terminate: flows.TerminateDeps{Store: st},
	})

	engine.metrics = NewMetrics(cfg.Metrics)
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Logger:     logger,
	}, b.auditSink)

	logger.Info("token engine ready",
		slog.String("algorithm", provider.Algorithm()),
		slog.String("kid", provider.KeyID()),
		slog.String("key_mode", cfg.Keys.Mode),
		slog.String("store", storeName(cfg, b.store)),
		slog.Duration("access_ttl", cfg.JWT.AccessTTL),
		slog.Duration("refresh_ttl", cfg.JWT.RefreshTTL),
		slog.Bool("refresh_throttle", limiter != nil),
	)

	b.built = true
	return engine, nil
}

func (b *Builder) buildStore(cfg Config, clock func() time.Time, engine *Engine) (store.Store, error) {
	if b.store != nil {
		return b.store, nil
	}

	opts := store.Options{MaxAccessTokens: cfg.Store.MaxAccessTokens, Now: clock}

	switch cfg.Store.Backend {
	case StoreRedis:
		client := b.redis
		if client == nil {
			rc := redis.NewClient(&redis.Options{
				Addr:     cfg.Store.RedisAddr,
				Password: cfg.Store.RedisPassword,
				DB:       cfg.Store.RedisDB,
			})
			engine.closers = append(engine.closers, func() { _ = rc.Close() })
			b.redis = rc
			client = rc
		}
		return redisstore.New(client, cfg.Store.RedisPrefix, opts), nil

	case StorePostgres:
		ctx, cancel := context.WithTimeout(context.Background(), backendConnectTimeout)
		defer cancel()

		pool := b.postgres
		if pool == nil {
			p, err := pgstore.Connect(ctx, cfg.Store.PostgresDSN, cfg.Store.PostgresMaxConns)
			if err != nil {
				return nil, fmt.Errorf("postgres store: %w", err)
			}
			engine.closers = append(engine.closers, p.Close)
			pool = p
		}
		s := pgstore.New(pool, opts)
		if err := s.Migrate(); err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		return s, nil

	default:
		return store.NewMemory(opts), nil
	}
}

func storeName(cfg Config, override store.Store) string {
	if override != nil {
		return fmt.Sprintf("%T", override)
	}
	return cfg.Store.Backend
}
