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

package reembed

import (
	"context"

	"github.com/poiesic/gazette/core"
	"github.com/poiesic/gazette/storage"
)

const (
	// DefaultBatchSize is the default number of records to fetch in each batch
	DefaultBatchSize = 100
)

// ChunkIterator walks a collection in ID order, in batches.
type ChunkIterator struct {
	collection storage.Collection
	batchSize  int
}

// NewChunkIterator creates a new chunk iterator.
// batchSize <= 0 selects DefaultBatchSize.
func NewChunkIterator(collection storage.Collection, batchSize int) *ChunkIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &ChunkIterator{
		collection: collection,
		batchSize:  batchSize,
	}
}

// ForEach calls fn for each batch of chunks whose ID sorts after afterID.
// An empty afterID starts at the beginning. Iteration stops on the first
// error from fn or when ctx is done.
func (it *ChunkIterator) ForEach(ctx context.Context, afterID string, fn func([]*core.ChunkRecord) error) error {
	return it.collection.ForEach(ctx, it.batchSize, func(records []*core.ChunkRecord) error {
		if afterID != "" {
			i := 0
			for i < len(records) && records[i].ID <= afterID {
				i++
			}
			records = records[i:]
		}
		if len(records) == 0 {
			return nil
		}
		if err := fn(records); err != nil {
			return err
		}
		return ctx.Err()
	})
}
