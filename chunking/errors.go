package chunking

import "errors"

// ErrInvalidOptions is returned when MinChunkSize exceeds TargetSize,
// which would discard every chunk.
var ErrInvalidOptions = errors.New("chunking: minimum chunk size exceeds target size")
