package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/tokenlife/jwt"
	"github.com/MrEthical07/tokenlife/store"
)

// ValidateFailureKind classifies validation failures for root-level mapping.
type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureMalformed
	ValidateFailureSignature
	ValidateFailureSubjectMismatch
	ValidateFailureWrongKind
	ValidateFailureExpired
	ValidateFailureRevoked
	ValidateFailureStore
)

// ValidateRequest narrows what a caller accepts. Zero values accept any
// subject and any kind.
type ValidateRequest struct {
	ExpectedSubject string
	Kind            jwt.Kind
}

// ValidateResult returns either the verified claims or a classified failure.
type ValidateResult struct {
	Failure ValidateFailureKind
	Err     error
	Claims  *jwt.Claims
}

type ValidateStore interface {
	HasAccess(ctx context.Context, subject string, fp store.Fingerprint) (bool, error)
	RefreshMatches(ctx context.Context, subject string, fp store.Fingerprint) (bool, error)
}

// ValidateDeps captures validation dependencies.
type ValidateDeps struct {
	Decode func(string) (*jwt.Claims, error)
	Now    func() time.Time
	Store  ValidateStore
}

// RunValidate checks a token in a fixed order and stops at the first
// failure: signature, subject, kind, expiry, then store membership. Only the
// last step performs I/O.
func RunValidate(ctx context.Context, token string, req ValidateRequest, deps ValidateDeps) ValidateResult {
	claims, failure, err := decodeClaims(token, deps)
	if failure != ValidateFailureNone {
		return ValidateResult{Failure: failure, Err: err}
	}

	if req.ExpectedSubject != "" && claims.Subject != req.ExpectedSubject {
		return ValidateResult{Failure: ValidateFailureSubjectMismatch, Claims: claims}
	}
	if req.Kind != "" && claims.Kind != req.Kind {
		return ValidateResult{Failure: ValidateFailureWrongKind, Claims: claims}
	}
	if claims.Expired(deps.Now()) {
		return ValidateResult{Failure: ValidateFailureExpired, Claims: claims}
	}

	ok, err := storeHas(ctx, token, claims, deps.Store)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureStore, Err: err, Claims: claims}
	}
	if !ok {
		return ValidateResult{Failure: ValidateFailureRevoked, Claims: claims}
	}

	return ValidateResult{Claims: claims}
}

func decodeClaims(token string, deps ValidateDeps) (*jwt.Claims, ValidateFailureKind, error) {
	claims, err := deps.Decode(token)
	if err == nil {
		return claims, ValidateFailureNone, nil
	}
	switch {
	case errors.Is(err, jwt.ErrSignature), errors.Is(err, jwt.ErrUnsupportedAlgorithm):
		return nil, ValidateFailureSignature, err
	default:
		return nil, ValidateFailureMalformed, err
	}
}

func storeHas(ctx context.Context, token string, claims *jwt.Claims, s ValidateStore) (bool, error) {
	fp := store.FingerprintOf(token)
	if claims.Kind == jwt.KindRefresh {
		return s.RefreshMatches(ctx, claims.Subject, fp)
	}
	return s.HasAccess(ctx, claims.Subject, fp)
}
