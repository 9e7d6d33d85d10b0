// Package keys owns the asymmetric key pair that signs every token.
//
// The key pair is immutable after construction. Its lifetime is an explicit
// choice:
//
//   - ModeEphemeral generates the key at start and keeps it in memory only.
//     Restarting the process makes every outstanding token unverifiable.
//   - ModePersistent loads the key from a PEM file, generating and writing it
//     on first start. Tokens survive restarts; rotating the key means
//     replacing the file and restarting, which invalidates outstanding tokens.
//
// Generation or load failures wrap [ErrKeyGeneration] and must abort startup.
package keys
