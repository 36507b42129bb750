// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reembed

import (
	"context"

	"github.com/google/uuid"

	"github.com/poiesic/lessonrag/core"
	"github.com/poiesic/lessonrag/storage"
)

const (
	// DefaultBatchSize is the default number of chunks to fetch in each batch
	DefaultBatchSize = 100
)

// ChunkIterator walks stored chunks in ID order, one batch at a time.
type ChunkIterator struct {
	repo        storage.ChunkRepository
	batchSize   int
	onlyMissing bool
}

// NewChunkIterator creates a new chunk iterator.
// batchSize: number of chunks per batch (must be > 0)
// onlyMissing: skip chunks that already carry an embedding
func NewChunkIterator(repo storage.ChunkRepository, batchSize int, onlyMissing bool) *ChunkIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &ChunkIterator{
		repo:        repo,
		batchSize:   batchSize,
		onlyMissing: onlyMissing,
	}
}

// ForEach calls fn for each batch of chunks whose ID sorts after the given
// cursor. Pass uuid.Nil to start from the beginning.
// Each batch is read in its own scan and handed to fn after the scan ends,
// so fn may write to the repository.
// Iteration stops on first error from fn or when all chunks are processed.
// Context cancellation is checked between batches.
func (it *ChunkIterator) ForEach(ctx context.Context, after uuid.UUID, fn func([]*core.Chunk) error) error {
	cursor := after
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch := make([]*core.Chunk, 0, it.batchSize)
		exhausted := true
		err := it.repo.ScanChunksAfter(ctx, cursor, func(c *core.Chunk) bool {
			cursor = c.ID
			if it.onlyMissing && c.HasEmbedding() {
				return true
			}
			batch = append(batch, c)
			if len(batch) == it.batchSize {
				exhausted = false
				return false
			}
			return true
		})
		if err != nil {
			return err
		}

		if len(batch) > 0 {
			if err := fn(batch); err != nil {
				return err
			}
		}
		if exhausted {
			return nil
		}
	}
}
