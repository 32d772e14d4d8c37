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

// Package storage provides the vector store abstraction for gazette.
//
// A Collection holds chunk records together with their embedding vectors
// and answers nearest-neighbour queries. The interface decouples the
// ingestion and search layers from the backend, which today is BadgerDB
// (see the badger subpackage).
//
// # Usage
//
// Open a backend and acquire a collection:
//
//	backend, err := badger.OpenBackend("/path/to/db", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
//	coll, err := backend.Collection(ctx, "news_articles", embedder)
//
// Use in tests with in-memory storage:
//
//	coll, backend, err := badger.NewMemoryCollection("test", embedder)
//
// # Records
//
// Records are stored as a versioned envelope of text, flat metadata and
// vector. Filters match on the flat metadata, see core.Filter.
//
// # Thread Safety
//
// All collection implementations must be thread-safe and support
// concurrent access from multiple goroutines.
//
// # Context Support
//
// All collection methods accept context.Context for cancellation.
package storage
