package flows

import (
	"context"

	"github.com/MrEthical07/tokenlife/jwt"
)

type TerminateStore interface {
	Terminate(ctx context.Context, subject string) (uint64, error)
}

// TerminateDeps captures logout dependencies.
type TerminateDeps struct {
	Store TerminateStore
}

// RunTerminate revokes every token of subject. Calling it again for the same
// subject is harmless.
func RunTerminate(ctx context.Context, subject string, deps TerminateDeps) (uint64, error) {
	return deps.Store.Terminate(ctx, subject)
}

// LogoutByAccessResult reports the subject resolved from the presented token.
type LogoutByAccessResult struct {
	Validate ValidateResult
	Epoch    uint64
	Err      error
}

// RunLogoutByAccessToken validates an access token and terminates its
// subject. A token that does not validate terminates nothing.
func RunLogoutByAccessToken(ctx context.Context, accessToken string, validate ValidateDeps, deps TerminateDeps) LogoutByAccessResult {
	vr := RunValidate(ctx, accessToken, ValidateRequest{Kind: jwt.KindAccess}, validate)
	if vr.Failure != ValidateFailureNone {
		return LogoutByAccessResult{Validate: vr}
	}

	epoch, err := RunTerminate(ctx, vr.Claims.Subject, deps)
	return LogoutByAccessResult{Validate: vr, Epoch: epoch, Err: err}
}
