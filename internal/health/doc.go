// Package health tracks adapter and engine health. A monitor probes every
// adapter on a fixed interval and classifies each one from its rolling
// success rate, latency percentiles and breaker state; the engine excludes
// unhealthy adapters from query fan-out until they recover. The package
// also owns the process's Prometheus metrics.
package health
