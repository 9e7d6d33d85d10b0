package flows

import "context"

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Validate.Decode != nil && s.deps.Issue.Encode != nil
}

func (s Service) Login(ctx context.Context, subject string, roles []string) LoginResult {
	return RunLogin(ctx, subject, roles, s.deps.Issue)
}

func (s Service) IssueAccess(ctx context.Context, subject string, roles []string) IssueResult {
	return RunIssueAccess(ctx, subject, roles, s.deps.Issue)
}

func (s Service) IssueRefresh(ctx context.Context, subject string) IssueResult {
	return RunIssueRefresh(ctx, subject, s.deps.Issue)
}

func (s Service) Validate(ctx context.Context, token string, req ValidateRequest) ValidateResult {
	return RunValidate(ctx, token, req, s.deps.Validate)
}

func (s Service) Refresh(ctx context.Context, refreshToken string) RefreshResult {
	return RunRefresh(ctx, refreshToken, s.deps.Refresh)
}

func (s Service) Terminate(ctx context.Context, subject string) (uint64, error) {
	return RunTerminate(ctx, subject, s.deps.Terminate)
}

func (s Service) LogoutByAccessToken(ctx context.Context, accessToken string) LogoutByAccessResult {
	return RunLogoutByAccessToken(ctx, accessToken, s.deps.Validate, s.deps.Terminate)
}
