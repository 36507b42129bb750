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

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MinQuestionLength is the shortest accepted question, in characters.
	MinQuestionLength = 3
	// MaxQuestionLength is the longest accepted question, in characters.
	MaxQuestionLength = 1000
)

// ValidateChunk validates a Chunk according to domain rules.
//
// Validation rules:
//   - Content must be at least MinChunkLength characters
//   - ClassGrade and Subject must not be blank
//
// NOT validated:
//   - Embedding (may be empty when the provider degraded to the zero sentinel)
//   - ID (assigned by the ingestion pipeline)
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}

	if utf8.RuneCountInString(chunk.Content) < MinChunkLength {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrContentTooShort)
	}

	if strings.TrimSpace(chunk.ClassGrade) == "" || strings.TrimSpace(chunk.Subject) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrMissingProvenance)
	}

	return nil
}

// SanitizeMetadata returns a copy of m holding only recognized keys.
// Returns nil when nothing survives.
func SanitizeMetadata(m map[string]string) map[string]string {
	var out map[string]string
	for k, v := range m {
		if !knownMetadataKeys[k] {
			continue
		}
		if out == nil {
			out = make(map[string]string, len(m))
		}
		out[k] = v
	}
	return out
}

// ValidateQuestion trims the question and checks its length.
// Errors wrap ErrValidation.
func ValidateQuestion(question string) (string, error) {
	q := strings.TrimSpace(question)
	n := utf8.RuneCountInString(q)
	switch {
	case n == 0:
		return "", fmt.Errorf("%w: %w", ErrValidation, ErrEmptyQuestion)
	case n < MinQuestionLength:
		return "", fmt.Errorf("%w: %w", ErrValidation, ErrQuestionTooShort)
	case n > MaxQuestionLength:
		return "", fmt.Errorf("%w: %w", ErrValidation, ErrQuestionTooLong)
	}
	return q, nil
}

// NormalizeFilters trims whitespace from every filter field.
func NormalizeFilters(f Filters) Filters {
	return Filters{
		ClassGrade: strings.TrimSpace(f.ClassGrade),
		Subject:    strings.TrimSpace(f.Subject),
	}
}
