// Package matcher turns structured alert queries into ranked runbook and
// document results with confidence scores.
//
// The pipeline is: intent classification and severity normalization,
// context enhancement via configured aliases, bounded parallel fan-out
// across the enabled adapters (each call gated by its breaker and a
// partial deadline), per-candidate confidence scoring, duplicate merging,
// deterministic ranking and the confidence/size cutoff.
//
// Adapter failures never escape the fan-out: each failed branch becomes a
// partial_failures entry and the response degrades instead of erroring.
// Given a fixed corpus epoch and identical query, the ranked output is
// deterministic.
package matcher
