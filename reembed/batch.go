package reembed

import (
	"context"
	"fmt"

	"github.com/poiesic/lessonrag/ai"
	"github.com/poiesic/lessonrag/core"
	"github.com/poiesic/lessonrag/retry"
	"github.com/poiesic/lessonrag/storage"
)

// BatchProcessor handles embedding generation for batches of chunks.
type BatchProcessor struct {
	repo     storage.ChunkRepository
	embedder ai.Embedder
	policy   retry.Policy
}

// NewBatchProcessor creates a new batch processor.
// policy governs retries of the embedding API call.
func NewBatchProcessor(repo storage.ChunkRepository, embedder ai.Embedder, policy retry.Policy) *BatchProcessor {
	return &BatchProcessor{
		repo:     repo,
		embedder: embedder,
		policy:   policy,
	}
}

// Process generates embeddings for a batch of chunks and updates them in the database.
// Vectors are normalized after embedding to ensure compatibility with cosine similarity.
func (bp *BatchProcessor) Process(ctx context.Context, chunks []*core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	// Generate embeddings with retry
	var embeddings [][]float32
	err := retry.Do(ctx, bp.policy, func(ctx context.Context) error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to generate embeddings after %d attempts: %w", bp.policy.MaxAttempts, err)
	}

	if len(embeddings) != len(chunks) {
		return fmt.Errorf("%w: expected %d, got %d", ErrEmbeddingCountMismatch, len(chunks), len(embeddings))
	}

	for i, c := range chunks {
		if core.IsZeroVector(embeddings[i]) {
			c.Embedding = nil
			continue
		}
		c.Embedding = core.NormalizeVector(embeddings[i])
	}

	if _, err := bp.repo.UpdateChunks(ctx, chunks...); err != nil {
		return fmt.Errorf("failed to update chunks: %w", err)
	}
	return nil
}
