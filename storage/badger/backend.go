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

package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"golang.org/x/sync/semaphore"

	"github.com/poiesic/lessonrag/storage"
)

const (
	// DefaultMaxConcurrent bounds simultaneous storage operations.
	DefaultMaxConcurrent = 10
	// DefaultAcquireTimeout is how long an operation waits for a free slot.
	DefaultAcquireTimeout = 30 * time.Second
)

// Backend wraps a BadgerDB instance and provides low-level operations.
type Backend struct {
	db             *badger.DB
	slots          *semaphore.Weighted
	maxConcurrent  int64
	acquireTimeout time.Duration
	logger         *slog.Logger
}

// BackendOption configures a Backend.
type BackendOption func(*Backend) error

// WithMaxConcurrent sets how many operations may run against the store at once.
func WithMaxConcurrent(n int) BackendOption {
	return func(b *Backend) error {
		if n < 1 {
			return fmt.Errorf("max concurrent must be positive, got %d", n)
		}
		b.maxConcurrent = int64(n)
		return nil
	}
}

// WithAcquireTimeout sets how long an operation waits for a free slot
// before failing with storage.ErrUnavailable.
func WithAcquireTimeout(d time.Duration) BackendOption {
	return func(b *Backend) error {
		if d <= 0 {
			return fmt.Errorf("acquire timeout must be positive, got %s", d)
		}
		b.acquireTimeout = d
		return nil
	}
}

// WithBackendLogger sets the logger used by the backend and by badger itself.
func WithBackendLogger(logger *slog.Logger) BackendOption {
	return func(b *Backend) error {
		b.logger = logger
		return nil
	}
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenBackend opens a BadgerDB database at the specified path.
// Creates the directory if it doesn't exist.
func OpenBackend(filePath string, inMemory bool, opts ...BackendOption) (*Backend, error) {
	b := &Backend{
		maxConcurrent:  DefaultMaxConcurrent,
		acquireTimeout: DefaultAcquireTimeout,
		logger:         slog.Default().With("component", "badger"),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}

	var badgerOpts badger.Options
	if inMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		info, err := os.Stat(filePath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
			if err := os.MkdirAll(filePath, 0755); err != nil {
				return nil, err
			}
			if info, err = os.Stat(filePath); err != nil {
				return nil, err
			}
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", filePath)
		}
		badgerOpts = badger.DefaultOptions(filePath)
	}

	badgerOpts.Logger = &badgerLoggerAdapter{logger: b.logger}
	badgerOpts.Compression = options.None

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, err
	}
	b.db = db
	b.slots = semaphore.NewWeighted(b.maxConcurrent)
	return b, nil
}

// Close closes the BadgerDB database.
func (b *Backend) Close() error {
	if b.db.IsClosed() {
		return nil
	}
	return b.db.Close()
}

// IsClosed returns true if the database is closed.
func (b *Backend) IsClosed() bool {
	return b.db.IsClosed()
}

// acquire takes one operation slot, waiting at most acquireTimeout.
// The caller must call the returned release func.
func (b *Backend) acquire(ctx context.Context) (func(), error) {
	if b.db.IsClosed() {
		return nil, storage.ErrStorageClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, b.acquireTimeout)
	defer cancel()
	if err := b.slots.Acquire(waitCtx, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: no free slot after %s", storage.ErrUnavailable, b.acquireTimeout)
	}
	return func() { b.slots.Release(1) }, nil
}

// WithTx executes a function within a BadgerDB transaction.
// If isWrite is true, creates a read-write transaction.
// The transaction is automatically discarded if fn returns an error.
func (b *Backend) WithTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	tx := b.db.NewTransaction(isWrite)
	defer tx.Discard()
	return fn(tx)
}

// Run executes fn within a transaction once an operation slot is free.
// Write transactions are committed when fn succeeds.
func (b *Backend) Run(ctx context.Context, fn func(tx *badger.Txn) error, isWrite bool) error {
	release, err := b.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	err = b.WithTx(func(tx *badger.Txn) error {
		if err := fn(tx); err != nil {
			return err
		}
		if isWrite {
			return tx.Commit()
		}
		return nil
	}, isWrite)
	if errors.Is(err, badger.ErrDBClosed) {
		return storage.ErrStorageClosed
	}
	return err
}
