// Package api defines the shared types and interfaces that connect runhub's
// internal packages. Adapters, the cache, the indexer, the matcher and the
// engine all speak in terms of this package so that no internal package needs
// to import another one directly.
//
// The package has three parts:
//
//   - The document model: Document, Runbook, Procedure, DecisionTree,
//     EscalationStep and the supporting value types.
//   - The adapter contract: the Adapter interface every source backend
//     implements, plus SourceConfig and the factory registration types.
//   - The engine surface: query and response types for the seven tool
//     operations, the response envelope, and the engine error model.
//
// Types in this package are treated as immutable once handed across a
// package boundary. The indexer builds documents, the corpus snapshot owns
// them between refresh passes, and readers never mutate them.
package api
