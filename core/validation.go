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
	"unicode/utf8"
)

// ValidateArticle validates an Article before it is chunked.
//
// Validation rules:
//   - URL must not be empty and must be an absolute http(s) URL
//   - Title must not be empty
//   - WordCount must not be negative
//   - Authors, MetaKeywords and Topics must be valid UTF-8
//
// Other enrichment fields and optional metadata are not validated.
func ValidateArticle(article *Article) error {
	if article == nil {
		return fmt.Errorf("%w: article is nil", ErrValidation)
	}
	if article.URL == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyURL)
	}
	if !IsValidURL(article.URL) {
		return fmt.Errorf("%w: %w: %q", ErrValidation, ErrInvalidURL, article.URL)
	}
	if article.Title == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyTitle)
	}
	if article.WordCount < 0 {
		return fmt.Errorf("%w: %w", ErrValidation, ErrNegativeWordCount)
	}
	return validateLists(article.Authors, article.MetaKeywords, article.Topics)
}

// ValidateChunkRecord validates a ChunkRecord before it is written.
//
// Vector, Seq and UpdatedAt are owned by the store and not validated.
func ValidateChunkRecord(record *ChunkRecord) error {
	if record == nil {
		return fmt.Errorf("%w: record is nil", ErrValidation)
	}
	if record.ParentURL == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyURL)
	}
	if record.Title == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyTitle)
	}
	if record.WordCount < 0 {
		return fmt.Errorf("%w: %w", ErrValidation, ErrNegativeWordCount)
	}
	if record.ChunkCount < 1 || record.ChunkIndex < 0 || record.ChunkIndex >= record.ChunkCount {
		return fmt.Errorf("%w: %w: %d of %d", ErrValidation, ErrInvalidChunkIndex, record.ChunkIndex, record.ChunkCount)
	}
	if record.ID != ChunkID(record.ParentURL, record.ChunkIndex) {
		return fmt.Errorf("%w: id %q does not match %s chunk %d", ErrValidation, record.ID, record.ParentURL, record.ChunkIndex)
	}
	return validateLists(record.Authors, record.MetaKeywords, record.Topics)
}

// validateLists rejects list values that would not survive the JSON
// encoding of metadata unchanged.
func validateLists(lists ...[]string) error {
	for _, list := range lists {
		for _, v := range list {
			if !utf8.ValidString(v) {
				return fmt.Errorf("%w: %w: %q", ErrValidation, ErrInvalidUTF8, v)
			}
		}
	}
	return nil
}
