// Package audit implements async event dispatching for token lifecycle
// operations.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, slog, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event]: structured record with timestamp, type, subject, IP, metadata.
//
// This package owns buffering and sink delivery. Which events to emit is
// decided by the engine. It must not import the root package.
package audit
