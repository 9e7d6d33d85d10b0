// Package tokenlife issues, validates, refreshes and revokes signed tokens
// for identities held in an external directory.
//
// An identity receives short-lived access tokens and one long-lived refresh
// token. Every token is an asymmetrically signed JWT, so any holder of the
// public key can check signatures offline. Revocation is not offline: the
// engine records a BLAKE3 fingerprint of every issued token in a [store.Store]
// and a token validates only while its fingerprint is still recorded.
//
// Engines are assembled with [Builder] and are safe for concurrent use once
// [Builder.Build] returns.
//
// # Token lifecycle
//
//   - [Engine.Login] mints an access/refresh pair. The new refresh token
//     replaces the previous one, so a second login revokes the first.
//   - [Engine.Validate] and [Engine.Authenticate] check signature, subject,
//     expiry and revocation in that order.
//   - [Engine.Refresh] exchanges a refresh token for a new access token that
//     carries the identity's current roles. The refresh token is not rotated.
//   - [Engine.Logout] removes every token of an identity. Issuances racing
//     with it fail instead of registering a token that would outlive it.
//
// # Errors
//
// Rejections are returned as [*AuthError]. Use [KindOf] or errors.Is with
// the kind sentinels to inspect them, and [AuthError.Public] when answering
// clients. Back-end failures wrap [store.ErrUnavailable].
//
// # Backends
//
// Records live in memory, in Redis or in PostgreSQL, selected by
// [StoreConfig.Backend]. Keys are generated at startup, or loaded from and
// written to a PEM file in persistent mode.
package tokenlife
