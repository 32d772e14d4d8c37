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
	"time"

	"github.com/poiesic/gazette/core"
	"github.com/vmihailenco/msgpack/v5"
)

// recordVersion is the version of the stored record envelope.
const recordVersion = 1

// storedRecord is the on-disk form of a chunk record. Domain fields travel
// as encoded metadata so that filters see exactly what was written.
type storedRecord struct {
	Version   int           `msgpack:"v"`
	Text      string        `msgpack:"t"`
	Metadata  core.Metadata `msgpack:"m"`
	Vector    []float32     `msgpack:"e"`
	Seq       uint64        `msgpack:"s"`
	UpdatedAt time.Time     `msgpack:"u"`
}

// MarshalChunkRecord serializes a ChunkRecord to bytes.
func MarshalChunkRecord(record *core.ChunkRecord) ([]byte, error) {
	data, err := msgpack.Marshal(&storedRecord{
		Version:   recordVersion,
		Text:      record.Text,
		Metadata:  core.EncodeMetadata(record),
		Vector:    record.Vector,
		Seq:       record.Seq,
		UpdatedAt: record.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

// UnmarshalChunkRecord deserializes the record stored under id.
func UnmarshalChunkRecord(id string, data []byte) (*core.ChunkRecord, error) {
	stored, err := unmarshalStored(data)
	if err != nil {
		return nil, err
	}
	record, err := core.DecodeMetadata(id, stored.Text, stored.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	record.Vector = stored.Vector
	record.Seq = stored.Seq
	record.UpdatedAt = stored.UpdatedAt
	return record, nil
}

// UnmarshalMetadata decodes only what a filter needs: the metadata map and
// the vector. It avoids rebuilding the full record for non-matching entries.
func UnmarshalMetadata(data []byte) (core.Metadata, []float32, uint64, error) {
	stored, err := unmarshalStored(data)
	if err != nil {
		return nil, nil, 0, err
	}
	return stored.Metadata, stored.Vector, stored.Seq, nil
}

func unmarshalStored(data []byte) (*storedRecord, error) {
	var stored storedRecord
	if err := msgpack.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	if stored.Version != recordVersion {
		return nil, fmt.Errorf("%w: unsupported record version %d", ErrSerializationFailed, stored.Version)
	}
	return &stored, nil
}

// CollectionInfo describes a collection. It is written once when the
// collection is created.
type CollectionInfo struct {
	Name        string    `msgpack:"n"`
	Description string    `msgpack:"d"`
	Metric      Metric    `msgpack:"m"`
	CreatedAt   time.Time `msgpack:"c"`
}

// MarshalCollectionInfo serializes a CollectionInfo to bytes.
func MarshalCollectionInfo(info *CollectionInfo) ([]byte, error) {
	data, err := msgpack.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

// UnmarshalCollectionInfo deserializes a CollectionInfo from bytes.
func UnmarshalCollectionInfo(data []byte) (*CollectionInfo, error) {
	var info CollectionInfo
	if err := msgpack.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &info, nil
}

// Checkpoint records how far a job has progressed through a collection.
type Checkpoint struct {
	Name      string    `msgpack:"n"`
	LastID    string    `msgpack:"l"`
	Processed int       `msgpack:"p"`
	Model     string    `msgpack:"m"`
	UpdatedAt time.Time `msgpack:"u"`
}

// MarshalCheckpoint serializes a Checkpoint to bytes.
func MarshalCheckpoint(checkpoint *Checkpoint) ([]byte, error) {
	data, err := msgpack.Marshal(checkpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

// UnmarshalCheckpoint deserializes a Checkpoint from bytes.
func UnmarshalCheckpoint(data []byte) (*Checkpoint, error) {
	var checkpoint Checkpoint
	if err := msgpack.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &checkpoint, nil
}
