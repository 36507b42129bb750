// Package reembed regenerates embeddings for stored chunks, typically after
// switching embedding models.
//
// Chunks are read in ID order and embedded in batches. Each batch retries
// with exponential backoff, normalizes the returned vectors and writes them
// back. With a checkpoint repository the run records the last processed
// chunk after every batch, so an interrupted run can resume where it
// stopped.
package reembed
