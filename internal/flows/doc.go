// Package flows contains the orchestration of every token lifecycle operation.
//
// Each flow function (RunIssueAccess, RunValidate, RunRefresh, RunTerminate)
// accepts a typed dependency struct and returns a result carrying a failure
// classification. The root engine maps failures to its public error kinds,
// metrics and audit events.
//
// # Architecture boundaries
//
// Flows call the token codec and the revocation store through the
// dependency structs. They do not own either; ownership stays with the
// Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import tokenlife (to avoid import cycles).
//   - Log or emit audit events.
package flows
