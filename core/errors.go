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
	"errors"
	"fmt"
)

// Pipeline error kinds. Callers match them with errors.Is.
var (
	// ErrValidation indicates an article or chunk record failed validation.
	ErrValidation = errors.New("validation failed")

	// ErrFetch indicates the source document could not be retrieved.
	ErrFetch = errors.New("fetch failed")

	// ErrEnrichment indicates summarization failed or timed out.
	ErrEnrichment = errors.New("enrichment failed")

	// ErrEmbedding indicates the embedding function failed for a record.
	ErrEmbedding = errors.New("embedding failed")

	// ErrRateLimited indicates an upstream service rejected the call for
	// exceeding its request quota.
	ErrRateLimited = errors.New("rate limited")
)

// Validation detail errors, always wrapped by ErrValidation.
var (
	// ErrEmptyURL indicates the URL field is empty.
	ErrEmptyURL = errors.New("url cannot be empty")

	// ErrInvalidURL indicates the URL is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("url must be an absolute http or https url")

	// ErrEmptyTitle indicates the Title field is empty.
	ErrEmptyTitle = errors.New("title cannot be empty")

	// ErrNegativeWordCount indicates a negative WordCount.
	ErrNegativeWordCount = errors.New("word count cannot be negative")

	// ErrInvalidChunkIndex indicates ChunkIndex is outside [0, ChunkCount).
	ErrInvalidChunkIndex = errors.New("chunk index out of range")

	// ErrInvalidUTF8 indicates a list value that is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("value is not valid utf-8")
)

// RecordError reports why a single record could not be persisted.
type RecordError struct {
	ID  string
	Err error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %s: %v", e.ID, e.Err)
}

func (e RecordError) Unwrap() error {
	return e.Err
}
