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

// Package search answers semantic queries over stored article chunks.
//
// The Searcher embeds the query once and asks the collection for the
// nearest chunks. With WithDedupeBySource only the closest chunk of each
// article is kept, so one long article cannot fill the result set with its
// own chunks; the underlying query is widened until enough distinct
// articles are found or the collection is exhausted.
//
// Results are ordered by ascending distance, ties by insertion order, so
// identical queries on an unchanged collection return identical results.
package search
