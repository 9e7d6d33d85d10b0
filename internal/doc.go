// Package internal holds the engine's private building blocks.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: issue, validate, refresh and logout orchestration
//   - httpapi: echo handlers, validation and error mapping for the server
//   - logx: slog construction and request-scoped loggers
//   - metrics: lock-free counters and the validate latency histogram
//   - rate: refresh throttle backed by Redis or x/time/rate
package internal
