package badger

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Key prefixes for different data types
const (
	chunkPrefix      = "chunk:"
	chunkDatePrefix  = "chunkdt:"
	facetPrefix      = "facet:"
	checkpointPrefix = "chkpt:"
	facetSep         = "\x00"
)

// makeChunkKey generates a key for a chunk by ID.
func makeChunkKey(id uuid.UUID) []byte {
	buf := make([]byte, len(chunkPrefix)+16)
	offset := copy(buf, chunkPrefix)
	copy(buf[offset:], id[:])
	return buf
}

// chunkIDFromKey extracts the chunk ID from a chunk key.
func chunkIDFromKey(key []byte) (uuid.UUID, bool) {
	if len(key) != len(chunkPrefix)+16 {
		return uuid.Nil, false
	}
	id, err := uuid.FromBytes(key[len(chunkPrefix):])
	return id, err == nil
}

// makeChunkDateKey generates a composite key for the creation date index.
// Format: prefix:timestamp:id
func makeChunkDateKey(timestamp time.Time, id uuid.UUID) []byte {
	buf := make([]byte, len(chunkDatePrefix)+8+16)
	offset := copy(buf, chunkDatePrefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], uint64(timestamp.UnixMicro()))
	offset += 8
	copy(buf[offset:], id[:])
	return buf
}

// makeFacetKey generates the key counting chunks for one class, subject
// and chapter. Class and subject are case folded so filter lookups can
// use a prefix scan.
// Format: prefix:class\x00subject\x00chapter
func makeFacetKey(classGrade, subject, chapter string) []byte {
	return []byte(facetPrefix + strings.ToLower(classGrade) + facetSep +
		strings.ToLower(subject) + facetSep + chapter)
}

// makeFacetFilterPrefix generates the prefix matching every facet of a class,
// or of a class and subject when both are set.
func makeFacetFilterPrefix(classGrade, subject string) []byte {
	p := facetPrefix + strings.ToLower(classGrade) + facetSep
	if subject != "" {
		p += strings.ToLower(subject) + facetSep
	}
	return []byte(p)
}

// makeCheckpointKey generates a key for job checkpoints.
func makeCheckpointKey(name string) []byte {
	return []byte(checkpointPrefix + name)
}
