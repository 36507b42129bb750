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

// Package storage provides the storage abstraction layer for lessonrag.
//
// This package defines repository interfaces that decouple storage implementation
// from retrieval logic, plus the binary chunk codec shared by backends.
//
// # Constructor Return Type Pattern
//
// Public backend constructors return interfaces:
//
//	repo, err := badger.NewChunkRepository(backend)  // returns storage.ChunkRepository
//
// Internal package constructors may return concrete types since they're only
// used within the implementation package.
//
// # Architecture
//
//   - Catalog: Facet lookups used to validate query filters
//   - ChunkRepository: Chunk CRUD, filtered cosine search, scans and corpus stats
//
// # Usage
//
//	repo, err := badger.NewMemoryRepository()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer repo.Close()
//
// # Availability
//
// Backends bound the number of concurrent operations. An operation that
// cannot acquire a slot within the configured timeout fails with
// ErrUnavailable rather than queueing forever.
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
