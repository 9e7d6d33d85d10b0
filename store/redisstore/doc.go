// Package redisstore implements store.Store on Redis.
//
// Every mutation is a single Lua script so the epoch check, pruning and write
// happen atomically on the server. Reads are plain commands. Any client error
// is returned wrapped in store.ErrUnavailable.
package redisstore
