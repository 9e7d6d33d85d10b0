// Package store defines the revocation store that makes signed tokens
// revocable.
//
// A signature-valid token is accepted only while its fingerprint is present
// in the store. Each identity owns an access record (many entries), a refresh
// record (zero or one entry) and a termination epoch. Issuers read the epoch
// before signing and register the token conditionally on it, so a logout that
// completes between signing and registering wins and the token never
// becomes valid.
//
// Backends: [Memory] in this package, Redis in store/redisstore and
// PostgreSQL in store/pgstore. Backend failures wrap [ErrUnavailable].
package store
