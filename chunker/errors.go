package chunker

import "errors"

// ErrInvalidChunkConfig indicates maxTokens is not positive or overlap is
// not in [0, maxTokens).
var ErrInvalidChunkConfig = errors.New("invalid chunk configuration")
