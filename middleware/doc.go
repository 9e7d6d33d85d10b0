// Package middleware adapts a token engine to net/http.
//
// [Guard] reads the bearer access token, authenticates it and stores the
// resulting identity in the request context. [RequireRole] narrows a
// guarded route to identities carrying a role.
//
// Rejections are answered with 401 and never reveal why the token was
// refused. Back-end failures are answered with 503.
package middleware
