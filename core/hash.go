package core

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

// chunkNamespace scopes the UUIDv5 chunk identifiers.
var chunkNamespace = uuid.MustParse("6f1f7a52-3c0e-4f5b-9a61-2b8f0d8c4e17")

// ContentHash returns a deterministic BLAKE2b-256 hex digest of the trimmed text.
// It keys the embedding cache.
func ContentHash(text string) string {
	h, _ := blake2b.New(32, nil)
	h.Write([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(h.Sum(nil))
}

// ChunkID derives a stable identifier for the index-th chunk of a document,
// so re-ingesting the same source overwrites its chunks instead of duplicating them.
func ChunkID(sourceFile, classGrade, subject string, index int) uuid.UUID {
	name := strings.Join([]string{sourceFile, classGrade, subject, strconv.Itoa(index)}, "\x00")
	return uuid.NewSHA1(chunkNamespace, []byte(name))
}
