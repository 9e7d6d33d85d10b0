package redisstore

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/tokenlife/store"
	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "tl"

// refreshRecord is the CBOR value stored under the refresh key.
type refreshRecord struct {
	Fingerprint []byte `cbor:"1,keyasint"`
	ExpiresAt   int64  `cbor:"2,keyasint"`
}

// Store is a Redis-backed [store.Store].
//
// Per identity it keeps three keys sharing a {subject} hash tag so that the
// Lua scripts touching them are valid on Redis Cluster:
//
//	<prefix>:{subject}:at   sorted set of access fingerprints scored by expiry (ms)
//	<prefix>:{subject}:rt   CBOR refresh record, TTL = refresh expiry
//	<prefix>:{subject}:ep   termination epoch, no TTL
type Store struct {
	redis  redis.UniversalClient
	prefix string
	max    int
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates a [Store] on the given client. An empty prefix selects
// [DefaultPrefix].
func New(rdb redis.UniversalClient, prefix string, opts store.Options) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{
		redis:  rdb,
		prefix: prefix,
		max:    opts.MaxAccessTokens,
		now:    opts.Clock(),
	}
}

func (s *Store) accessKey(subject string) string {
	return s.prefix + ":{" + subject + "}:at"
}

func (s *Store) refreshKey(subject string) string {
	return s.prefix + ":{" + subject + "}:rt"
}

func (s *Store) epochKey(subject string) string {
	return s.prefix + ":{" + subject + "}:ep"
}

func (s *Store) Epoch(ctx context.Context, subject string) (uint64, error) {
	v, err := s.redis.Get(ctx, s.epochKey(subject)).Uint64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return v, nil
}

// AppendAccess runs one script that checks the epoch, prunes expired
// members, adds fp and applies the cap.
//
//	Performance: 1 EVALSHA.
func (s *Store) AppendAccess(ctx context.Context, subject string, epoch uint64, fp store.Fingerprint, expiresAt time.Time) error {
	res, err := appendAccessLua.Run(
		ctx,
		s.redis,
		[]string{s.accessKey(subject), s.epochKey(subject)},
		strconv.FormatUint(epoch, 10),
		fp.String(),
		expiresAt.UnixMilli(),
		s.now().UnixMilli(),
		s.max,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return scriptStatus(res)
}

// ReplaceRefresh overwrites the refresh record when the epoch still matches.
func (s *Store) ReplaceRefresh(ctx context.Context, subject string, epoch uint64, fp store.Fingerprint, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("redisstore: refresh token already expired")
	}

	blob, err := cbor.Marshal(refreshRecord{Fingerprint: fp[:], ExpiresAt: expiresAt.Unix()})
	if err != nil {
		return fmt.Errorf("redisstore: encode refresh record: %w", err)
	}

	res, err := replaceRefreshLua.Run(
		ctx,
		s.redis,
		[]string{s.refreshKey(subject), s.epochKey(subject)},
		strconv.FormatUint(epoch, 10),
		blob,
		ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return scriptStatus(res)
}

func scriptStatus(code int64) error {
	switch code {
	case statusStored:
		return nil
	case statusTerminated:
		return store.ErrTerminated
	default:
		return fmt.Errorf("%w: unknown script status %d", store.ErrUnavailable, code)
	}
}

func (s *Store) HasAccess(ctx context.Context, subject string, fp store.Fingerprint) (bool, error) {
	err := s.redis.ZScore(ctx, s.accessKey(subject), fp.String()).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return true, nil
}

func (s *Store) RefreshMatches(ctx context.Context, subject string, fp store.Fingerprint) (bool, error) {
	data, err := s.redis.Get(ctx, s.refreshKey(subject)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}

	var rec refreshRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return false, fmt.Errorf("%w: corrupt refresh record: %v", store.ErrUnavailable, err)
	}
	return subtle.ConstantTimeCompare(rec.Fingerprint, fp[:]) == 1, nil
}

func (s *Store) AccessCount(ctx context.Context, subject string) (int, error) {
	floor := "(" + strconv.FormatInt(s.now().UnixMilli(), 10)
	n, err := s.redis.ZCount(ctx, s.accessKey(subject), floor, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return int(n), nil
}

// Terminate bumps the epoch and deletes both records in one script.
//
//	Performance: 1 EVALSHA.
func (s *Store) Terminate(ctx context.Context, subject string) (uint64, error) {
	epoch, err := terminateLua.Run(
		ctx,
		s.redis,
		[]string{s.accessKey(subject), s.refreshKey(subject), s.epochKey(subject)},
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return uint64(epoch), nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return nil
}
