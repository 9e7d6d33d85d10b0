package tokenlife

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	internalaudit "github.com/MrEthical07/tokenlife/internal/audit"
	"github.com/MrEthical07/tokenlife/internal/flows"
	"github.com/MrEthical07/tokenlife/internal/logx"
	"github.com/MrEthical07/tokenlife/internal/rate"
	"github.com/MrEthical07/tokenlife/jwt"
	"github.com/MrEthical07/tokenlife/keys"
	"github.com/MrEthical07/tokenlife/store"
)

// Engine mints, validates, refreshes and revokes tokens. All methods are
// safe for concurrent use.
type Engine struct {
	config    Config
	provider  keys.Provider
	codec     *jwt.Codec
	store     store.Store
	directory Directory
	flows     flows.Service
	audit     *internalaudit.Dispatcher
	metrics   *Metrics
	logger    *slog.Logger
	clock     func() time.Time
	closers   []func()
}

// Close flushes pending audit events and releases backends the engine
// opened itself.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	e.closeBackends()
}

func (e *Engine) closeBackends() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// PublicKey returns the verification key. Any holder can verify token
// signatures offline; revocation still requires the store.
func (e *Engine) PublicKey() crypto.PublicKey {
	return e.provider.VerifyKey()
}

func (e *Engine) KeyID() string {
	return e.provider.KeyID()
}

// Ping checks the store backend.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.store.Ping(ctx); err != nil {
		return e.storeError(ctx, "ping", "", err)
	}
	return nil
}

func (e *Engine) log(ctx context.Context) *slog.Logger {
	return logx.FromContext(ctx, e.logger)
}

func (e *Engine) ready() bool {
	return e != nil && e.flows.Initialized()
}

/*
====================================
LOGIN
====================================
*/

// Login mints an access and a refresh token for an identity the caller has
// already authenticated. The new refresh token replaces any previous one.
func (e *Engine) Login(ctx context.Context, id Identity) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}
	if id.Subject == "" {
		return TokenPair{}, ErrEmptySubject
	}

	res := e.flows.Login(ctx, id.Subject, slices.Clone(id.Roles))
	if failed, ok := res.Failed(); ok {
		err := e.issueError(ctx, id.Subject, failed)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, id.Subject, err, nil)
		return TokenPair{}, err
	}

	e.metricInc(MetricAccessIssued)
	e.metricInc(MetricRefreshIssued)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, id.Subject, nil, nil)
	e.log(ctx).Debug("login", slog.String("subject", id.Subject))

	return TokenPair{
		AccessToken:  res.Access.Token,
		RefreshToken: res.Refresh.Token,
	}, nil
}

// LoginByName resolves loginName in the directory, checks the account
// flags and logs the account in. Credential verification is the caller's.
func (e *Engine) LoginByName(ctx context.Context, loginName string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}

	account, err := e.directory.FindByLoginName(ctx, loginName)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			err = newAuthError(KindUnknownIdentity, err)
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, "", err, nil)
			e.log(ctx).Debug("login rejected", slog.String("kind", KindUnknownIdentity.String()))
			return TokenPair{}, err
		}
		e.metricInc(MetricLoginFailure)
		return TokenPair{}, e.storeError(ctx, "directory lookup", "", err)
	}

	if !account.Available() {
		reason := accountReason(account)
		err := newAuthError(KindAccountUnavailable, errors.New(reason))
		e.metricInc(MetricLoginAccountUnavailable)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, account.Subject, err, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		e.log(ctx).Debug("login rejected",
			slog.String("kind", KindAccountUnavailable.String()),
			slog.String("subject", account.Subject),
			slog.String("reason", reason),
		)
		return TokenPair{}, err
	}

	return e.Login(ctx, Identity{Subject: account.Subject, Roles: account.Roles})
}

func accountReason(a Account) string {
	switch {
	case !a.Enabled:
		return "disabled"
	case a.Locked:
		return "locked"
	default:
		return "credentials_expired"
	}
}

/*
====================================
ISSUANCE
====================================
*/

// IssueAccessToken mints an access token and appends it to the identity's
// access record. The token validates as soon as this returns.
func (e *Engine) IssueAccessToken(ctx context.Context, id Identity) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	if id.Subject == "" {
		return "", ErrEmptySubject
	}

	res := e.flows.IssueAccess(ctx, id.Subject, slices.Clone(id.Roles))
	if res.Failure != flows.IssueFailureNone {
		return "", e.issueError(ctx, id.Subject, res)
	}

	e.metricInc(MetricAccessIssued)
	e.emitAudit(ctx, auditEventTokenIssued, true, id.Subject, nil, func() map[string]string {
		return map[string]string{"kind": string(jwt.KindAccess)}
	})
	return res.Token, nil
}

// IssueRefreshToken mints a refresh token and makes it the identity's only
// valid refresh token.
func (e *Engine) IssueRefreshToken(ctx context.Context, id Identity) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	if id.Subject == "" {
		return "", ErrEmptySubject
	}

	res := e.flows.IssueRefresh(ctx, id.Subject)
	if res.Failure != flows.IssueFailureNone {
		return "", e.issueError(ctx, id.Subject, res)
	}

	e.metricInc(MetricRefreshIssued)
	e.emitAudit(ctx, auditEventTokenIssued, true, id.Subject, nil, func() map[string]string {
		return map[string]string{"kind": string(jwt.KindRefresh)}
	})
	return res.Token, nil
}

func (e *Engine) issueError(ctx context.Context, subject string, res flows.IssueResult) error {
	switch res.Failure {
	case flows.IssueFailureTerminated:
		// A logout won the race; the token was never registered.
		e.metricInc(MetricIssueTerminated)
		e.log(ctx).Debug("issuance lost to logout", slog.String("subject", subject))
		return newAuthError(KindRevoked, res.Err)
	case flows.IssueFailureStore:
		return e.storeError(ctx, "register token", subject, res.Err)
	default:
		e.log(ctx).Error("token encoding failed",
			slog.String("subject", subject),
			slog.Any("error", res.Err),
		)
		return fmt.Errorf("encode token: %w", res.Err)
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks signature, expectedSubject (when non-empty), expiry and
// revocation, in that order, for a token of either kind. A rejection is
// returned as an *AuthError; a store failure wraps store.ErrUnavailable.
func (e *Engine) Validate(ctx context.Context, token, expectedSubject string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}

	_, err := e.validate(ctx, token, flows.ValidateRequest{ExpectedSubject: expectedSubject})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Authenticate validates an access token and returns its identity with the
// role snapshot taken at issuance.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (Identity, error) {
	if !e.ready() {
		return Identity{}, ErrEngineNotReady
	}

	claims, err := e.validate(ctx, accessToken, flows.ValidateRequest{Kind: jwt.KindAccess})
	if err != nil {
		return Identity{}, err
	}
	return Identity{Subject: claims.Subject, Roles: claims.Roles}, nil
}

func (e *Engine) validate(ctx context.Context, token string, req flows.ValidateRequest) (*jwt.Claims, error) {
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() {
			e.metrics.Observe(MetricValidateLatency, time.Since(start))
		}()
	}

	res := e.flows.Validate(ctx, token, req)
	if res.Failure == flows.ValidateFailureNone {
		e.metricInc(MetricValidateSuccess)
		return res.Claims, nil
	}

	var subject string
	if res.Claims != nil {
		subject = res.Claims.Subject
	}
	if res.Failure == flows.ValidateFailureStore {
		return nil, e.storeError(ctx, "validate", subject, res.Err)
	}

	kind := validateKind(res.Failure)
	e.reject(ctx, kind, subject, res.Claims)
	return nil, newAuthError(kind, res.Err)
}

func validateKind(f flows.ValidateFailureKind) ErrorKind {
	switch f {
	case flows.ValidateFailureMalformed:
		return KindMalformedToken
	case flows.ValidateFailureSignature:
		return KindInvalidSignature
	case flows.ValidateFailureSubjectMismatch:
		return KindSubjectMismatch
	case flows.ValidateFailureWrongKind:
		return KindWrongKind
	case flows.ValidateFailureExpired:
		return KindExpired
	default:
		return KindRevoked
	}
}

func (e *Engine) reject(ctx context.Context, kind ErrorKind, subject string, claims *jwt.Claims) {
	e.metricInc(validateMetric(kind))

	attrs := []slog.Attr{slog.String("kind", kind.String())}
	if subject != "" {
		attrs = append(attrs, slog.String("subject", subject))
	}
	if claims != nil {
		attrs = append(attrs, slog.String("token_kind", string(claims.Kind)), slog.String("jti", claims.ID))
	}
	e.log(ctx).LogAttrs(ctx, slog.LevelDebug, "token rejected", attrs...)

	e.emitAudit(ctx, auditEventTokenRejected, false, subject, newAuthError(kind, nil), func() map[string]string {
		if claims == nil {
			return nil
		}
		return map[string]string{"token_kind": string(claims.Kind)}
	})
}

/*
====================================
REFRESH
====================================
*/

// Refresh exchanges a valid refresh token for a new access token carrying
// the identity's current roles. The refresh token is not rotated.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}

	res := e.flows.Refresh(ctx, refreshToken)
	if res.Failure == flows.RefreshFailureNone {
		e.metricInc(MetricAccessIssued)
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventRefreshSuccess, true, res.Subject, nil, nil)
		return res.AccessToken, nil
	}

	err := e.refreshError(ctx, res)
	e.metricInc(MetricRefreshFailure)
	if !errors.Is(err, ErrRefreshRateLimited) {
		e.emitAudit(ctx, auditEventRefreshInvalid, false, res.Subject, err, func() map[string]string {
			return map[string]string{"state": res.State.String()}
		})
	}
	return "", err
}

func (e *Engine) refreshError(ctx context.Context, res flows.RefreshResult) error {
	var kind ErrorKind
	switch res.Failure {
	case flows.RefreshFailureRateLimited:
		if errors.Is(res.Err, rate.ErrRateLimited) {
			e.metricInc(MetricRefreshRateLimited)
			e.emitAudit(ctx, auditEventRefreshRateLimited, false, res.Subject, ErrRefreshRateLimited, nil)
			e.log(ctx).Debug("refresh rate limited", slog.String("subject", res.Subject))
			return ErrRefreshRateLimited
		}
		return e.storeError(ctx, "refresh throttle", res.Subject, res.Err)
	case flows.RefreshFailureStore:
		return e.storeError(ctx, "refresh", res.Subject, res.Err)
	case flows.RefreshFailureIssue:
		return e.issueError(ctx, res.Subject, res.Issue)
	case flows.RefreshFailureMalformed:
		kind = KindMalformedToken
	case flows.RefreshFailureSignature:
		kind = KindInvalidSignature
	case flows.RefreshFailureWrongKind:
		kind = KindWrongKind
	case flows.RefreshFailureExpired:
		kind = KindExpired
	case flows.RefreshFailureUnknownIdentity:
		kind = KindUnknownIdentity
	default:
		kind = KindRevoked
	}

	if kind != KindUnknownIdentity {
		e.metricInc(validateMetric(kind))
	}
	e.log(ctx).Debug("refresh rejected",
		slog.String("kind", kind.String()),
		slog.String("subject", res.Subject),
		slog.String("state", res.State.String()),
	)
	return newAuthError(kind, res.Err)
}

/*
====================================
LOGOUT
====================================
*/

// Logout revokes every access token and the refresh token of subject.
// Issuances racing with it fail instead of registering. Calling it for a
// subject with no tokens is not an error.
func (e *Engine) Logout(ctx context.Context, subject string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if subject == "" {
		return ErrEmptySubject
	}

	epoch, err := e.flows.Terminate(ctx, subject)
	if err != nil {
		return e.storeError(ctx, "logout", subject, err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, subject, nil, nil)
	e.log(ctx).Debug("logout", slog.String("subject", subject), slog.Uint64("epoch", epoch))
	return nil
}

// LogoutByAccessToken validates accessToken and logs its subject out.
func (e *Engine) LogoutByAccessToken(ctx context.Context, accessToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	res := e.flows.LogoutByAccessToken(ctx, accessToken)
	vr := res.Validate
	if vr.Failure != flows.ValidateFailureNone {
		var subject string
		if vr.Claims != nil {
			subject = vr.Claims.Subject
		}
		if vr.Failure == flows.ValidateFailureStore {
			return e.storeError(ctx, "logout", subject, vr.Err)
		}
		kind := validateKind(vr.Failure)
		e.reject(ctx, kind, subject, vr.Claims)
		return newAuthError(kind, vr.Err)
	}

	subject := vr.Claims.Subject
	if res.Err != nil {
		return e.storeError(ctx, "logout", subject, res.Err)
	}

	e.metricInc(MetricValidateSuccess)
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, subject, nil, nil)
	e.log(ctx).Debug("logout", slog.String("subject", subject), slog.Uint64("epoch", res.Epoch))
	return nil
}

// ActiveAccessTokens counts the unexpired access tokens registered for
// subject.
func (e *Engine) ActiveAccessTokens(ctx context.Context, subject string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	n, err := e.store.AccessCount(ctx, subject)
	if err != nil {
		return 0, e.storeError(ctx, "count access tokens", subject, err)
	}
	return n, nil
}

// storeError makes sure back-end failures match store.ErrUnavailable so
// callers can tell them from rejections. Context errors pass through.
func (e *Engine) storeError(ctx context.Context, op, subject string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	e.metricInc(MetricStoreUnavailable)
	e.log(ctx).Warn("backend unavailable",
		slog.String("op", op),
		slog.String("subject", subject),
		slog.Any("error", err),
	)
	if errors.Is(err, store.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
}
