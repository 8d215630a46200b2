// Package server exposes the engine on the wire.
//
// Two surfaces share one engine:
//   - MCPServer speaks the Model Context Protocol over stdio or
//     streamable-http and registers the seven retrieval tools.
//   - HTTPServer serves the same tools as POST endpoints under /api/v1,
//     plus /healthz and Prometheus /metrics.
//
// Both surfaces are thin: argument decoding, error mapping and transport
// lifecycle. All retrieval semantics live in internal/engine.
package server
