// Package jwt encodes and decodes the signed compact tokens issued by tokenlife.
//
// A token is three base64url segments joined by "." (header, claims,
// signature), verifiable by anyone holding the public key. The codec is pure:
// it never consults the revocation store and never checks expiry. Both are
// layered on top by the engine's validator so that decoding stays unit
// testable without any state.
package jwt
