package tokenlife

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/tokenlife/store"
)

const (
	auditEventLoginSuccess       = "login_success"
	auditEventLoginFailure       = "login_failure"
	auditEventRefreshSuccess     = "refresh_success"
	auditEventRefreshInvalid     = "refresh_invalid"
	auditEventRefreshRateLimited = "refresh_rate_limited"
	auditEventTokenRejected      = "token_rejected"
	auditEventTokenIssued        = "token_issued"
	auditEventLogout             = "logout"
)

// AuditErrorCode is the stable error label written to AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrRateLimited  AuditErrorCode = "rate_limited"
	auditErrUnavailable  AuditErrorCode = "backend_unavailable"
	auditErrNotFound     AuditErrorCode = "identity_not_found"
	auditErrInternal     AuditErrorCode = "internal_error"
	auditErrNotReady     AuditErrorCode = "engine_not_ready"
	auditErrEmptySubject AuditErrorCode = "empty_subject"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subject string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Subject:   subject,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}
	if kind, ok := KindOf(err); ok {
		return AuditErrorCode(kind.String())
	}

	switch {
	case errors.Is(err, ErrRefreshRateLimited):
		return auditErrRateLimited
	case errors.Is(err, store.ErrUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrIdentityNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrEngineNotReady):
		return auditErrNotReady
	case errors.Is(err, ErrEmptySubject):
		return auditErrEmptySubject
	default:
		return auditErrInternal
	}
}

func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now()
	}
	return e.clock()
}
