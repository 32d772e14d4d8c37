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

// Package chunker splits long documents into overlapping spans of at most a
// fixed number of tokens.
//
// A token is a maximal run of letters and digits, or a single other
// non-space character, together with any whitespace that follows it.
// Leading whitespace belongs to the first token. Tokens therefore partition
// the text, and joining the spans returned by Split after removing their
// overlap reproduces the input exactly:
//
//	spans, _ := chunker.Split(text, 200, 20)
//	chunker.Reassemble(spans, 20) == text
//
// Splitting is deterministic. The same text and parameters always produce
// the same spans.
package chunker
