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

package core

import "errors"

// Domain validation errors
var (
	// ErrInvalidChunk indicates a Chunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrContentTooShort indicates chunk content is below MinChunkLength.
	ErrContentTooShort = errors.New("content is too short")

	// ErrMissingProvenance indicates a chunk lacks class grade or subject.
	ErrMissingProvenance = errors.New("class grade and subject are required")

	// ErrValidation wraps every rejection of malformed query input.
	ErrValidation = errors.New("validation error")

	// ErrEmptyQuestion indicates the question is blank.
	ErrEmptyQuestion = errors.New("question cannot be empty")

	// ErrQuestionTooShort indicates the question is below MinQuestionLength.
	ErrQuestionTooShort = errors.New("question is too short")

	// ErrQuestionTooLong indicates the question exceeds MaxQuestionLength.
	ErrQuestionTooLong = errors.New("question is too long")

	// ErrUnknownFilter indicates the filters reference no stored data.
	ErrUnknownFilter = errors.New("filters match no stored content")
)

// Query outcome errors
var (
	// ErrServiceUnavailable indicates storage could not serve the query.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrTimeout indicates the query deadline passed.
	ErrTimeout = errors.New("query timed out")
)
