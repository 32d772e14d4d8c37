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

// Package ai defines the AI service interfaces used by gazette.
//
// Two services are involved in ingesting an article:
//
//   - Embedder turns chunk text into vectors for similarity search.
//   - Enricher summarizes an article and labels it with topics.
//
// Implementations live in subpackages: openai talks to any
// OpenAI-compatible API through langchaingo, hashing is a deterministic
// offline embedder, and mock provides test doubles.
//
// # Caching
//
// Query embeddings are often repeated. Wrap an embedder with
// NewCachingEmbedder to keep recent vectors in memory:
//
//	embedder = ai.NewCachingEmbedder(embedder, 10_000)
//
// # Configuration
//
// Config carries host, model and sampling settings shared by providers:
//
//	cfg := ai.NewConfig(
//	    ai.WithHost("http://localhost:11434"),
//	    ai.WithSummarizerModel("qwen2.5:3b"),
//	)
//	provider, err := openai.NewProvider(cfg)
package ai
