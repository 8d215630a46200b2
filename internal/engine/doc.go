// Package engine implements the tool operations the server exposes:
// runbook search, decision tree and procedure retrieval, knowledge base
// search, escalation paths, source listing and resolution feedback.
//
// Every operation follows the same shape: validate arguments, consult the
// two-tier cache under an epoch-scoped key, produce from the corpus
// snapshot and the adapter fan-out on a miss, and wrap the payload in a
// response envelope carrying timing, degradation and correlation metadata.
// Degraded results are returned but never cached, so a recovered source
// replaces them on the next call instead of after a TTL.
package engine
