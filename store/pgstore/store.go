// Package pgstore implements store.Store on PostgreSQL.
//
// Each mutation runs in a transaction that first locks the identity row in
// token_identities. The lock serialises appends and logouts for one subject
// without blocking any other subject.
package pgstore

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/tokenlife/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is a PostgreSQL-backed [store.Store].
type Store struct {
	pool *pgxpool.Pool
	max  int
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

// New wraps an existing pool. Call [Store.Migrate] once before use.
func New(pool *pgxpool.Pool, opts store.Options) *Store {
	return &Store{
		pool: pool,
		max:  opts.MaxAccessTokens,
		now:  opts.Clock(),
	}
}

// Connect parses dsn, opens a pool and pings it.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return pool, nil
}

// execTx runs fn in a transaction. Errors returned by fn pass through
// unchanged; driver errors are wrapped in store.ErrUnavailable.
func (s *Store) execTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin: %w", store.ErrUnavailable, err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", store.ErrUnavailable, err)
	}
	return nil
}

// lockEpoch creates the identity row if needed and returns its epoch with the
// row locked for the rest of tx.
func lockEpoch(ctx context.Context, tx pgx.Tx, subject string) (uint64, error) {
	if _, err := tx.Exec(ctx,
		`INSERT INTO token_identities (subject) VALUES ($1) ON CONFLICT (subject) DO NOTHING`,
		subject,
	); err != nil {
		return 0, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}

	var epoch int64
	if err := tx.QueryRow(ctx,
		`SELECT epoch FROM token_identities WHERE subject = $1 FOR UPDATE`,
		subject,
	).Scan(&epoch); err != nil {
		return 0, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return uint64(epoch), nil
}

func (s *Store) Epoch(ctx context.Context, subject string) (uint64, error) {
	var epoch int64
	err := s.pool.QueryRow(ctx,
		`SELECT epoch FROM token_identities WHERE subject = $1`,
		subject,
	).Scan(&epoch)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return uint64(epoch), nil
}

func (s *Store) AppendAccess(ctx context.Context, subject string, epoch uint64, fp store.Fingerprint, expiresAt time.Time) error {
	return s.execTx(ctx, func(tx pgx.Tx) error {
		current, err := lockEpoch(ctx, tx, subject)
		if err != nil {
			return err
		}
		if current != epoch {
			return store.ErrTerminated
		}

		batch := &pgx.Batch{}
		batch.Queue(
			`DELETE FROM access_tokens WHERE subject = $1 AND expires_at <= $2`,
			subject, s.now(),
		)
		batch.Queue(
			`INSERT INTO access_tokens (subject, fingerprint, expires_at) VALUES ($1, $2, $3)
			 ON CONFLICT (subject, fingerprint) DO NOTHING`,
			subject, fp[:], expiresAt,
		)
		if s.max > 0 {
			batch.Queue(
				`DELETE FROM access_tokens WHERE subject = $1 AND fingerprint IN (
				   SELECT fingerprint FROM access_tokens WHERE subject = $1 AND fingerprint <> $3
				   ORDER BY expires_at DESC, fingerprint OFFSET $2)`,
				subject, s.max-1, fp[:],
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
		}
		return nil
	})
}

func (s *Store) ReplaceRefresh(ctx context.Context, subject string, epoch uint64, fp store.Fingerprint, expiresAt time.Time) error {
	return s.execTx(ctx, func(tx pgx.Tx) error {
		current, err := lockEpoch(ctx, tx, subject)
		if err != nil {
			return err
		}
		if current != epoch {
			return store.ErrTerminated
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO refresh_tokens (subject, fingerprint, expires_at) VALUES ($1, $2, $3)
			 ON CONFLICT (subject) DO UPDATE SET fingerprint = EXCLUDED.fingerprint, expires_at = EXCLUDED.expires_at`,
			subject, fp[:], expiresAt,
		); err != nil {
			return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
		}
		return nil
	})
}

func (s *Store) HasAccess(ctx context.Context, subject string, fp store.Fingerprint) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM access_tokens WHERE subject = $1 AND fingerprint = $2)`,
		subject, fp[:],
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return ok, nil
}

func (s *Store) RefreshMatches(ctx context.Context, subject string, fp store.Fingerprint) (bool, error) {
	var stored []byte
	err := s.pool.QueryRow(ctx,
		`SELECT fingerprint FROM refresh_tokens WHERE subject = $1 AND expires_at > $2`,
		subject, s.now(),
	).Scan(&stored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return subtle.ConstantTimeCompare(stored, fp[:]) == 1, nil
}

func (s *Store) AccessCount(ctx context.Context, subject string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM access_tokens WHERE subject = $1 AND expires_at > $2`,
		subject, s.now(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return n, nil
}

func (s *Store) Terminate(ctx context.Context, subject string) (uint64, error) {
	var epoch int64
	err := s.execTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`INSERT INTO token_identities (subject, epoch) VALUES ($1, 1)
			 ON CONFLICT (subject) DO UPDATE SET epoch = token_identities.epoch + 1
			 RETURNING epoch`,
			subject,
		).Scan(&epoch); err != nil {
			return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
		}

		batch := &pgx.Batch{}
		batch.Queue(`DELETE FROM access_tokens WHERE subject = $1`, subject)
		batch.Queue(`DELETE FROM refresh_tokens WHERE subject = $1`, subject)
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return uint64(epoch), nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
