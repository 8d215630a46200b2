// Package adapter manages the documentation source adapters: the factory
// registry that maps source types to constructors, and the lifecycle
// manager that initializes, replaces and cleans up adapter instances.
//
// The registry is mutable only during startup: factories register before
// Freeze and the set is immutable afterwards. The manager owns every
// adapter instance it creates and guarantees Cleanup runs on shutdown and
// on replacement, whatever path got there.
package adapter
