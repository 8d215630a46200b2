// Package logging provides the structured logging facility used by every
// runhub subsystem. It is a thin wrapper around log/slog that tags each
// entry with the emitting subsystem name so operators can filter engine,
// adapter, cache and indexer output independently.
//
// Credentials and document bodies must never be passed to these functions;
// callers log argument digests and identifiers only.
package logging
