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

package storage

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"

	"github.com/poiesic/lessonrag/core"
)

// chunkMUS encodes a chunk as:
//
//	id (16 raw bytes) | class | subject | chapter | content (ord strings) |
//	created_at (varint unix micro) | embedding (varint len, raw float32s) |
//	metadata (varint count, sorted key/value ord strings)
type chunkMUS struct{}

// ChunkMUS is the chunk codec used by storage backends.
var ChunkMUS = chunkMUS{}

const idSize = 16

func (chunkMUS) Marshal(c core.Chunk, bs []byte) (n int) {
	n = copy(bs, c.ID[:])
	n += ord.String.Marshal(c.ClassGrade, bs[n:])
	n += ord.String.Marshal(c.Subject, bs[n:])
	n += ord.String.Marshal(c.Chapter, bs[n:])
	n += ord.String.Marshal(c.Content, bs[n:])
	n += varint.Int64.Marshal(timeToMicro(c.CreatedAt), bs[n:])

	n += varint.Int.Marshal(len(c.Embedding), bs[n:])
	for _, f := range c.Embedding {
		n += raw.Float32.Marshal(f, bs[n:])
	}

	keys := sortedKeys(c.Metadata)
	n += varint.Int.Marshal(len(keys), bs[n:])
	for _, k := range keys {
		n += ord.String.Marshal(k, bs[n:])
		n += ord.String.Marshal(c.Metadata[k], bs[n:])
	}
	return n
}

func (chunkMUS) Unmarshal(bs []byte) (c core.Chunk, n int, err error) {
	if len(bs) < idSize {
		return c, 0, ErrTruncatedData
	}
	copy(c.ID[:], bs[:idSize])
	n = idSize

	var m int
	for _, field := range []*string{&c.ClassGrade, &c.Subject, &c.Chapter, &c.Content} {
		*field, m, err = ord.String.Unmarshal(bs[n:])
		n += m
		if err != nil {
			return c, n, err
		}
	}

	micro, m, err := varint.Int64.Unmarshal(bs[n:])
	n += m
	if err != nil {
		return c, n, err
	}
	c.CreatedAt = microToTime(micro)

	length, m, err := varint.Int.Unmarshal(bs[n:])
	n += m
	if err != nil {
		return c, n, err
	}
	if length < 0 || length*4 > len(bs)-n {
		return c, n, fmt.Errorf("%w: embedding length %d", ErrTruncatedData, length)
	}
	if length > 0 {
		c.Embedding = make([]float32, length)
		for i := range c.Embedding {
			c.Embedding[i], m, err = raw.Float32.Unmarshal(bs[n:])
			n += m
			if err != nil {
				return c, n, err
			}
		}
	}

	count, m, err := varint.Int.Unmarshal(bs[n:])
	n += m
	if err != nil {
		return c, n, err
	}
	if count < 0 || count > len(bs)-n {
		return c, n, fmt.Errorf("%w: metadata count %d", ErrTruncatedData, count)
	}
	if count > 0 {
		c.Metadata = make(map[string]string, count)
		for range count {
			var k, v string
			k, m, err = ord.String.Unmarshal(bs[n:])
			n += m
			if err != nil {
				return c, n, err
			}
			v, m, err = ord.String.Unmarshal(bs[n:])
			n += m
			if err != nil {
				return c, n, err
			}
			c.Metadata[k] = v
		}
	}
	return c, n, nil
}

func (chunkMUS) Size(c core.Chunk) (size int) {
	size = idSize
	size += ord.String.Size(c.ClassGrade)
	size += ord.String.Size(c.Subject)
	size += ord.String.Size(c.Chapter)
	size += ord.String.Size(c.Content)
	size += varint.Int64.Size(timeToMicro(c.CreatedAt))
	size += varint.Int.Size(len(c.Embedding))
	for _, f := range c.Embedding {
		size += raw.Float32.Size(f)
	}
	size += varint.Int.Size(len(c.Metadata))
	for k, v := range c.Metadata {
		size += ord.String.Size(k) + ord.String.Size(v)
	}
	return size
}

// Skip returns the encoded length of the chunk at the start of bs.
func (s chunkMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return n, err
}

func timeToMicro(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func microToTime(micro int64) time.Time {
	if micro == 0 {
		return time.Time{}
	}
	return time.UnixMicro(micro).UTC()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// MarshalChunk serializes a Chunk to bytes.
func MarshalChunk(chunk *core.Chunk) []byte {
	buf := make([]byte, ChunkMUS.Size(*chunk))
	ChunkMUS.Marshal(*chunk, buf)
	return buf
}

// UnmarshalChunk deserializes a Chunk from bytes.
func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	chunk, _, err := ChunkMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &chunk, nil
}

// MarshalID serializes a chunk ID to bytes.
func MarshalID(id uuid.UUID) []byte {
	return slices.Clone(id[:])
}

// UnmarshalID deserializes a chunk ID from bytes.
func UnmarshalID(data []byte) (uuid.UUID, error) {
	if len(data) != idSize {
		return uuid.Nil, ErrTruncatedData
	}
	return uuid.FromBytes(data)
}

// MarshalCheckpoint serializes a Checkpoint to bytes.
func MarshalCheckpoint(cp *core.Checkpoint) []byte {
	micro := timeToMicro(cp.UpdatedAt)
	size := ord.String.Size(cp.Name) + idSize + varint.Int.Size(cp.Processed) + varint.Int64.Size(micro)
	buf := make([]byte, size)
	n := ord.String.Marshal(cp.Name, buf)
	n += copy(buf[n:], cp.LastID[:])
	n += varint.Int.Marshal(cp.Processed, buf[n:])
	varint.Int64.Marshal(micro, buf[n:])
	return buf
}

// UnmarshalCheckpoint deserializes a Checkpoint from bytes.
func UnmarshalCheckpoint(data []byte) (*core.Checkpoint, error) {
	var cp core.Checkpoint
	name, n, err := ord.String.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	cp.Name = name
	if len(data)-n < idSize {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, ErrTruncatedData)
	}
	copy(cp.LastID[:], data[n:n+idSize])
	n += idSize

	processed, m, err := varint.Int.Unmarshal(data[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	cp.Processed = processed
	n += m

	micro, _, err := varint.Int64.Unmarshal(data[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	cp.UpdatedAt = microToTime(micro)
	return &cp, nil
}
