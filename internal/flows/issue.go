package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/tokenlife/jwt"
	"github.com/MrEthical07/tokenlife/store"
)

// IssueFailureKind classifies issuance failures for root-level mapping.
type IssueFailureKind int

const (
	IssueFailureNone IssueFailureKind = iota
	IssueFailureEncode
	IssueFailureTerminated
	IssueFailureStore
)

// IssueResult carries the minted token or the failure.
type IssueResult struct {
	Failure IssueFailureKind
	Err     error
	Token   string
	Claims  jwt.Claims
}

type IssueStore interface {
	Epoch(ctx context.Context, subject string) (uint64, error)
	AppendAccess(ctx context.Context, subject string, epoch uint64, fp store.Fingerprint, expiresAt time.Time) error
	ReplaceRefresh(ctx context.Context, subject string, epoch uint64, fp store.Fingerprint, expiresAt time.Time) error
}

// IssueDeps captures issuance dependencies.
type IssueDeps struct {
	Encode     func(jwt.Claims) (string, error)
	Issuer     string
	Now        func() time.Time
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Store      IssueStore
}

// LoginResult carries an access/refresh pair minted under one epoch.
type LoginResult struct {
	Access  IssueResult
	Refresh IssueResult
}

// Failed returns the first failing half of the pair, if any.
func (r LoginResult) Failed() (IssueResult, bool) {
	if r.Access.Failure != IssueFailureNone {
		return r.Access, true
	}
	if r.Refresh.Failure != IssueFailureNone {
		return r.Refresh, true
	}
	return IssueResult{}, false
}

// RunIssueAccess mints an access token for subject carrying roles and
// appends it to the access record. The token is returned only once it is
// registered.
func RunIssueAccess(ctx context.Context, subject string, roles []string, deps IssueDeps) IssueResult {
	epoch, err := deps.Store.Epoch(ctx, subject)
	if err != nil {
		return IssueResult{Failure: IssueFailureStore, Err: err}
	}
	return issueAccess(ctx, subject, roles, epoch, deps)
}

// RunIssueRefresh mints a refresh token for subject and replaces the
// previous one.
func RunIssueRefresh(ctx context.Context, subject string, deps IssueDeps) IssueResult {
	epoch, err := deps.Store.Epoch(ctx, subject)
	if err != nil {
		return IssueResult{Failure: IssueFailureStore, Err: err}
	}
	return issueRefresh(ctx, subject, epoch, deps)
}

// RunLogin mints both tokens against a single epoch read, so a logout that
// lands anywhere inside the call fails the login instead of leaving half a
// session behind.
func RunLogin(ctx context.Context, subject string, roles []string, deps IssueDeps) LoginResult {
	epoch, err := deps.Store.Epoch(ctx, subject)
	if err != nil {
		failed := IssueResult{Failure: IssueFailureStore, Err: err}
		return LoginResult{Access: failed}
	}

	access := issueAccess(ctx, subject, roles, epoch, deps)
	if access.Failure != IssueFailureNone {
		return LoginResult{Access: access}
	}
	return LoginResult{
		Access:  access,
		Refresh: issueRefresh(ctx, subject, epoch, deps),
	}
}

func issueAccess(ctx context.Context, subject string, roles []string, epoch uint64, deps IssueDeps) IssueResult {
	claims := jwt.NewClaims(subject, jwt.KindAccess, roles, deps.Issuer, deps.Now(), deps.AccessTTL)
	token, err := deps.Encode(claims)
	if err != nil {
		return IssueResult{Failure: IssueFailureEncode, Err: err}
	}

	err = deps.Store.AppendAccess(ctx, subject, epoch, store.FingerprintOf(token), claims.ExpiresAt.Time)
	if err != nil {
		return storeFailure(err)
	}
	return IssueResult{Token: token, Claims: claims}
}

func issueRefresh(ctx context.Context, subject string, epoch uint64, deps IssueDeps) IssueResult {
	claims := jwt.NewClaims(subject, jwt.KindRefresh, nil, deps.Issuer, deps.Now(), deps.RefreshTTL)
	token, err := deps.Encode(claims)
	if err != nil {
		return IssueResult{Failure: IssueFailureEncode, Err: err}
	}

	err = deps.Store.ReplaceRefresh(ctx, subject, epoch, store.FingerprintOf(token), claims.ExpiresAt.Time)
	if err != nil {
		return storeFailure(err)
	}
	return IssueResult{Token: token, Claims: claims}
}

func storeFailure(err error) IssueResult {
	if errors.Is(err, store.ErrTerminated) {
		return IssueResult{Failure: IssueFailureTerminated, Err: err}
	}
	return IssueResult{Failure: IssueFailureStore, Err: err}
}
