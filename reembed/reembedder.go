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
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/poiesic/lessonrag/ai"
	"github.com/poiesic/lessonrag/core"
	"github.com/poiesic/lessonrag/retry"
	"github.com/poiesic/lessonrag/storage"
)

// CheckpointName is the name under which reembedding progress is stored.
const CheckpointName = "reembed"

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of chunks to process in each batch
	BatchSize int

	// ReportInterval is how often to report progress (number of chunks)
	ReportInterval int

	// MaxRetries is the maximum number of attempts for each embedding call
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration

	// OnlyMissing skips chunks that already have an embedding
	OnlyMissing bool

	// Resume continues from the stored checkpoint, if any
	Resume bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Option configures a Reembedder.
type Option func(*Reembedder) error

// WithCheckpoints stores progress in repo after every batch.
func WithCheckpoints(repo storage.CheckpointRepository) Option {
	return func(r *Reembedder) error {
		r.checkpoints = repo
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reembedder) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger.With("component", "reembedder")
		return nil
	}
}

// Reembedder orchestrates the reembedding of all chunks in a repository.
type Reembedder struct {
	repo        storage.ChunkRepository
	checkpoints storage.CheckpointRepository
	config      *Config
	progress    io.Writer
	processor   *BatchProcessor
	iterator    *ChunkIterator
	logger      *slog.Logger
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(repo storage.ChunkRepository, embedder ai.Embedder, config *Config, progress io.Writer, opts ...Option) (*Reembedder, error) {
	if repo == nil {
		return nil, ErrRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}

	r := &Reembedder{
		repo:      repo,
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(repo, embedder, retry.Exponential(config.MaxRetries, config.RetryDelay)),
		iterator:  NewChunkIterator(repo, config.BatchSize, config.OnlyMissing),
		logger:    slog.Default().With("component", "reembedder"),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Run executes the reembedding operation.
// Every chunk (or only those without an embedding, when OnlyMissing is set)
// is reembedded with the configured embedder.
// Progress is reported to the configured writer.
func (r *Reembedder) Run(ctx context.Context) error {
	totalChunks, err := r.repo.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count chunks: %w", err)
	}
	if totalChunks == 0 {
		fmt.Fprintf(r.progress, "No chunks found in database (0 chunks)\n")
		return nil
	}

	cursor, processed, err := r.startingPoint(ctx)
	if err != nil {
		return err
	}

	if processed > 0 {
		fmt.Fprintf(r.progress, "Resuming reembedding after %d of %d chunks (batch size: %d)\n",
			processed, totalChunks, r.config.BatchSize)
	} else {
		fmt.Fprintf(r.progress, "Starting reembedding of %d chunks (batch size: %d)\n",
			totalChunks, r.config.BatchSize)
	}

	tracker := NewProgressTracker(r.progress, totalChunks, r.config.ReportInterval)
	tracker.StartAt(processed)
	resumed := processed

	err = r.iterator.ForEach(ctx, cursor, func(chunks []*core.Chunk) error {
		if err := r.processor.Process(ctx, chunks); err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}

		processed += len(chunks)
		tracker.Update(processed)

		return r.saveCheckpoint(ctx, chunks[len(chunks)-1].ID, processed)
	})
	if err != nil {
		r.logger.Warn("reembedding stopped", "processed", processed, "err", err)
		return err
	}

	tracker.Finish()

	if r.checkpoints != nil {
		if err := r.checkpoints.DeleteCheckpoint(ctx, CheckpointName); err != nil {
			return fmt.Errorf("failed to clear checkpoint: %w", err)
		}
	}

	done := processed - resumed
	elapsed := tracker.Elapsed()
	fmt.Fprintf(r.progress, "Reembedding complete. Processed %d chunks in %v (%.1f chunks/sec)\n",
		done, elapsed.Round(time.Second), float64(done)/elapsed.Seconds())
	r.logger.Info("reembedding complete", "processed", done, "elapsed", elapsed)

	return nil
}

func (r *Reembedder) startingPoint(ctx context.Context) (uuid.UUID, int, error) {
	if !r.config.Resume || r.checkpoints == nil {
		return uuid.Nil, 0, nil
	}
	cp, err := r.checkpoints.LoadCheckpoint(ctx, CheckpointName)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if cp == nil {
		return uuid.Nil, 0, nil
	}
	r.logger.Info("resuming from checkpoint", "last_id", cp.LastID, "processed", cp.Processed)
	return cp.LastID, cp.Processed, nil
}

func (r *Reembedder) saveCheckpoint(ctx context.Context, last uuid.UUID, processed int) error {
	if r.checkpoints == nil {
		return nil
	}
	err := r.checkpoints.SaveCheckpoint(ctx, &core.Checkpoint{
		Name:      CheckpointName,
		LastID:    last,
		Processed: processed,
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}
