// Package index maintains runhub's corpus: the engine-wide view of every
// document across all adapters.
//
// On each refresh pass the indexer enumerates one adapter's inventory,
// fingerprints every document (content, metadata and structure hashed
// separately), and diffs against the prior pass to produce a ChangeSet of
// additions, updates and deletions. Deletions are confirmed over two
// passes so a transient enumeration gap never drops documents; a
// time-based grace window can be configured instead.
//
// A non-empty ChangeSet bumps the corpus epoch and swaps in a new
// immutable Snapshot. Readers load the snapshot pointer once per tool call
// and never observe a half-applied pass. Because cache keys embed the
// epoch, the swap also invalidates every dependent cache entry without
// explicit deletes.
package index
