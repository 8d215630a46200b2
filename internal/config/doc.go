// Package config loads and validates runhub's declarative configuration.
//
// Configuration is a single YAML document with sections for the wire
// servers, the two cache tiers, the documentation sources, performance
// bounds, per-content-type cache policy, matcher tuning and logging. User
// settings are overlaid onto compiled-in defaults, so a minimal config only
// needs to declare its sources.
//
// Unknown top-level sections are a startup error. Unknown keys inside a
// source entry are passed through to the adapter factory untouched, because
// each adapter type defines its own fields.
package config
