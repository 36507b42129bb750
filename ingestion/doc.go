// Package ingestion turns documents into stored, embedded chunks.
//
// The Pipeline type manages the ingestion workflow for a document:
//   - Cleaning and chunking the text, with chapter title extraction
//   - Embedding every chunk in batches through the cached provider
//   - Persisting chunks, idempotently, under deterministic IDs
//
// Chunks whose embedding could not be generated are stored without one; they
// stay reachable through the lexical retrieval tiers and can be filled in
// later by re-embedding. IngestAll processes several documents concurrently
// on a worker pool.
package ingestion
