// Package app bootstraps the runhub process.
//
// NewApplication wires the stack in dependency order: configuration,
// logging, metrics, adapter registry and breakers, cache tiers, source
// adapters, the corpus indexer, the health monitor and the engine.
// Run performs the initial index pass, warms the cache, starts the
// background loops and both wire surfaces, then blocks until the context
// is cancelled. Shutdown runs in reverse order and always cleans up the
// adapters.
package app
