package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/tokenlife/jwt"
)

// RefreshState is the last state the refresh flow reached.
type RefreshState int

const (
	RefreshPresented RefreshState = iota
	RefreshSignatureChecked
	RefreshKindChecked
	RefreshExpiryChecked
	RefreshStoreChecked
	RefreshAccessReissued
)

func (s RefreshState) String() string {
	switch s {
	case RefreshPresented:
		return "presented"
	case RefreshSignatureChecked:
		return "signature_checked"
	case RefreshKindChecked:
		return "kind_checked"
	case RefreshExpiryChecked:
		return "expiry_checked"
	case RefreshStoreChecked:
		return "store_checked"
	case RefreshAccessReissued:
		return "access_reissued"
	default:
		return "unknown"
	}
}

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureMalformed
	RefreshFailureSignature
	RefreshFailureRateLimited
	RefreshFailureWrongKind
	RefreshFailureExpired
	RefreshFailureRevoked
	RefreshFailureUnknownIdentity
	RefreshFailureStore
	RefreshFailureIssue
)

// RefreshResult carries the new access token or the state the flow stopped
// in with its failure.
type RefreshResult struct {
	State       RefreshState
	Failure     RefreshFailureKind
	Err         error
	Subject     string
	Roles       []string
	AccessToken string
	Issue       IssueResult
}

type RefreshRateLimiter interface {
	CheckRefresh(ctx context.Context, subject string) error
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Validate ValidateDeps
	Issue    IssueDeps
	// Roles returns the current roles of subject. It must return an error
	// matching UnknownIdentity when the directory no longer knows it.
	Roles           func(ctx context.Context, subject string) ([]string, error)
	UnknownIdentity error
	RateLimiter     RefreshRateLimiter
}

// RunRefresh walks PRESENTED → SIGNATURE_CHECKED → KIND_CHECKED →
// EXPIRY_CHECKED → STORE_CHECKED → ACCESS_REISSUED. The refresh token itself
// is never rotated.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	res := RefreshResult{State: RefreshPresented}

	claims, failure, err := decodeClaims(refreshToken, deps.Validate)
	if failure != ValidateFailureNone {
		res.Err = err
		res.Failure = RefreshFailureMalformed
		if failure == ValidateFailureSignature {
			res.Failure = RefreshFailureSignature
		}
		return res
	}
	res.State = RefreshSignatureChecked
	res.Subject = claims.Subject

	if deps.RateLimiter != nil {
		if err := deps.RateLimiter.CheckRefresh(ctx, claims.Subject); err != nil {
			res.Failure = RefreshFailureRateLimited
			res.Err = err
			return res
		}
	}

	if claims.Kind != jwt.KindRefresh {
		res.Failure = RefreshFailureWrongKind
		return res
	}
	res.State = RefreshKindChecked

	if claims.Expired(deps.Validate.Now()) {
		res.Failure = RefreshFailureExpired
		return res
	}
	res.State = RefreshExpiryChecked

	// The epoch is read before the membership check so a logout landing
	// between the check and issuance fences the new access token.
	epoch, err := deps.Issue.Store.Epoch(ctx, claims.Subject)
	if err != nil {
		res.Failure = RefreshFailureStore
		res.Err = err
		return res
	}

	ok, err := storeHas(ctx, refreshToken, claims, deps.Validate.Store)
	if err != nil {
		res.Failure = RefreshFailureStore
		res.Err = err
		return res
	}
	if !ok {
		res.Failure = RefreshFailureRevoked
		return res
	}
	res.State = RefreshStoreChecked

	roles, err := deps.Roles(ctx, claims.Subject)
	if err != nil {
		res.Err = err
		res.Failure = RefreshFailureStore
		if deps.UnknownIdentity != nil && errors.Is(err, deps.UnknownIdentity) {
			res.Failure = RefreshFailureUnknownIdentity
		}
		return res
	}
	res.Roles = roles

	issued := issueAccess(ctx, claims.Subject, roles, epoch, deps.Issue)
	res.Issue = issued
	if issued.Failure != IssueFailureNone {
		res.Err = issued.Err
		switch issued.Failure {
		case IssueFailureTerminated:
			res.Failure = RefreshFailureRevoked
		case IssueFailureStore:
			res.Failure = RefreshFailureStore
		default:
			res.Failure = RefreshFailureIssue
		}
		return res
	}

	res.State = RefreshAccessReissued
	res.AccessToken = issued.Token
	return res
}
