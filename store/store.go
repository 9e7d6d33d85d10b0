package store

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/zeebo/blake3"
)

var (
	// ErrTerminated is returned by registration calls when the identity was
	// logged out after the caller read its epoch. The token must not be
	// handed out.
	ErrTerminated = errors.New("identity terminated during issuance")
	// ErrUnavailable wraps every backend failure (network, driver, decode).
	ErrUnavailable = errors.New("revocation store unavailable")
)

// Fingerprint is the BLAKE3-256 digest of a token string. Records hold
// fingerprints rather than tokens so a store dump cannot be replayed.
type Fingerprint [32]byte

// FingerprintOf hashes token.
func FingerprintOf(token string) Fingerprint {
	return Fingerprint(blake3.Sum256([]byte(token)))
}

// String returns the lowercase hex form used as a Redis member.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Store holds the per-identity revocation state: an ordered, duplicate-free
// set of access fingerprints, at most one refresh fingerprint, and a
// termination epoch bumped by every logout.
//
// Implementations must make AppendAccess, ReplaceRefresh and Terminate
// atomic per subject, and must make their effects visible to every later
// call once they return.
type Store interface {
	// Epoch returns the current termination epoch of subject (0 if unknown).
	Epoch(ctx context.Context, subject string) (uint64, error)

	// AppendAccess registers an access token fingerprint valid until
	// expiresAt. It fails with ErrTerminated if the epoch is no longer
	// epoch. Entries already expired are pruned in the same step.
	AppendAccess(ctx context.Context, subject string, epoch uint64, fp Fingerprint, expiresAt time.Time) error

	// ReplaceRefresh makes fp the single refresh token of subject, with the
	// same epoch check as AppendAccess.
	ReplaceRefresh(ctx context.Context, subject string, epoch uint64, fp Fingerprint, expiresAt time.Time) error

	// HasAccess reports whether fp is in the access record of subject.
	HasAccess(ctx context.Context, subject string, fp Fingerprint) (bool, error)

	// RefreshMatches reports whether fp is the current refresh token.
	RefreshMatches(ctx context.Context, subject string, fp Fingerprint) (bool, error)

	// AccessCount returns the number of unexpired access entries.
	AccessCount(ctx context.Context, subject string) (int, error)

	// Terminate clears both records and bumps the epoch in one step. It is
	// idempotent apart from the epoch increment and returns the new epoch.
	Terminate(ctx context.Context, subject string) (uint64, error)

	// Ping checks backend reachability.
	Ping(ctx context.Context) error
}

// Options tunes record maintenance shared by all backends.
type Options struct {
	// MaxAccessTokens caps the access record per identity. When an append
	// exceeds it the entries closest to expiry are evicted. 0 means no cap.
	MaxAccessTokens int
	// Now overrides the clock used for pruning. Nil means time.Now.
	Now func() time.Time
}

// Clock returns the configured clock.
func (o Options) Clock() func() time.Time {
	if o.Now != nil {
		return o.Now
	}
	return time.Now
}
