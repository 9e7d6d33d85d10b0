package tokenlife

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of reasons a token or login is rejected.
type ErrorKind uint8

const (
	KindInvalidSignature ErrorKind = iota + 1
	KindMalformedToken
	KindSubjectMismatch
	KindWrongKind
	KindExpired
	KindRevoked
	KindUnknownIdentity
	KindAccountUnavailable
	KindKeyGenerationFailure
)

// errorKinds lists every kind in declaration order.
var errorKinds = []ErrorKind{
	KindInvalidSignature,
	KindMalformedToken,
	KindSubjectMismatch,
	KindWrongKind,
	KindExpired,
	KindRevoked,
	KindUnknownIdentity,
	KindAccountUnavailable,
	KindKeyGenerationFailure,
}

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidSignature:
		return "invalid_signature"
	case KindMalformedToken:
		return "malformed_token"
	case KindSubjectMismatch:
		return "subject_mismatch"
	case KindWrongKind:
		return "wrong_kind"
	case KindExpired:
		return "expired"
	case KindRevoked:
		return "revoked"
	case KindUnknownIdentity:
		return "unknown_identity"
	case KindAccountUnavailable:
		return "account_unavailable"
	case KindKeyGenerationFailure:
		return "key_generation_failure"
	default:
		return fmt.Sprintf("error_kind(%d)", uint8(k))
	}
}

var (
	// ErrUnauthorized is the only rejection callers should show externally.
	ErrUnauthorized = errors.New("unauthorized")

	ErrInvalidSignature   = errors.New("invalid token signature")
	ErrMalformedToken     = errors.New("malformed token")
	ErrSubjectMismatch    = errors.New("token subject mismatch")
	ErrWrongKind          = errors.New("wrong token kind")
	ErrExpired            = errors.New("token expired")
	ErrRevoked            = errors.New("token revoked")
	ErrUnknownIdentity    = errors.New("unknown identity")
	ErrAccountUnavailable = errors.New("account unavailable")
	ErrKeyGeneration      = errors.New("key generation failed")

	// ErrRefreshRateLimited is returned when the refresh throttle denies a
	// subject. It is not an AuthError: the token itself may be valid.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrIdentityNotFound must be returned (or wrapped) by Directory
	// implementations for unknown login names and subjects.
	ErrIdentityNotFound = errors.New("identity not found")
	ErrEngineNotReady   = errors.New("engine not initialized")
	ErrEmptySubject     = errors.New("empty subject")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindInvalidSignature:
		return ErrInvalidSignature
	case KindMalformedToken:
		return ErrMalformedToken
	case KindSubjectMismatch:
		return ErrSubjectMismatch
	case KindWrongKind:
		return ErrWrongKind
	case KindExpired:
		return ErrExpired
	case KindRevoked:
		return ErrRevoked
	case KindUnknownIdentity:
		return ErrUnknownIdentity
	case KindAccountUnavailable:
		return ErrAccountUnavailable
	case KindKeyGenerationFailure:
		return ErrKeyGeneration
	default:
		return nil
	}
}

// AuthError is a rejection. Kind is for logs, metrics and audit; callers
// facing clients should return Public() instead.
type AuthError struct {
	Kind ErrorKind
	Err  error
}

func newAuthError(kind ErrorKind, cause error) *AuthError {
	return &AuthError{Kind: kind, Err: cause}
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return e.Kind.sentinel().Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind.sentinel(), e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches the sentinel of the kind, so errors.Is(err, ErrRevoked) holds
// for every revoked rejection. ErrUnauthorized matches every kind except
// key generation.
func (e *AuthError) Is(target error) bool {
	if target == nil {
		return false
	}
	if target == ErrUnauthorized {
		return e.Kind != KindKeyGenerationFailure
	}
	return target == e.Kind.sentinel()
}

// Public hides the kind from external callers.
func (e *AuthError) Public() error {
	return ErrUnauthorized
}

// KindOf reports the kind of err when it wraps an AuthError.
func KindOf(err error) (ErrorKind, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return 0, false
}
