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

package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/gazette/ai"
	"github.com/poiesic/gazette/core"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const maxParseAttempts = 3

type Enricher struct {
	client        llms.Model
	temperature   float64
	maxTopics     int
	maxInputChars int
	logger        *slog.Logger
}

var _ ai.Enricher = (*Enricher)(nil)

// enrichment is the JSON shape requested from the model.
type enrichment struct {
	Summary string   `json:"summary"`
	Topics  []string `json:"topics"`
}

// newEnricher is an internal constructor that returns the concrete type.
func newEnricher(config *ai.Config) (*Enricher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.SummarizerHost),
		openai.WithToken(config.APIToken),
		openai.WithModel(config.SummarizerModel),
	)
	if err != nil {
		return nil, err
	}

	return NewEnricherWithModel(client, config)
}

// NewEnricher creates a summarizer using the provided configuration.
// Returns ai.Enricher interface to enforce abstraction.
func NewEnricher(config *ai.Config) (ai.Enricher, error) {
	return newEnricher(config)
}

// NewEnricherWithModel creates an enricher around an existing model client.
func NewEnricherWithModel(client llms.Model, config *ai.Config) (*Enricher, error) {
	if client == nil {
		return nil, errors.New("model client is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Enricher{
		client:        client,
		temperature:   config.Temperature,
		maxTopics:     config.MaxTopics,
		maxInputChars: config.MaxInputChars,
		logger:        slog.Default().With("component", "openai-enricher"),
	}, nil
}

// Enrich asks the model for a summary and topics in JSON mode.
// Malformed responses are retried a few times before giving up.
func (e *Enricher) Enrich(ctx context.Context, title, text string) (*ai.Enrichment, error) {
	content := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{
				llms.TextPart(buildSystemPrompt(e.maxTopics)),
			},
		},
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextPart(buildUserPrompt(title, truncate(text, e.maxInputChars))),
			},
		},
	}

	var result enrichment
	var lastErr error
	for attempt := 0; attempt < maxParseAttempts; attempt++ {
		response, err := e.client.GenerateContent(ctx, content, llms.WithTemperature(e.temperature), llms.WithJSONMode())
		if err != nil {
			e.logger.Error("failed to generate content", "attempt", attempt+1, "err", err)
			return nil, fmt.Errorf("%w: %w", core.ErrEnrichment, mapError(err))
		}

		if len(response.Choices) < 1 {
			return nil, fmt.Errorf("%w: no choices returned from model", core.ErrEnrichment)
		}

		responseText := stripFences(response.Choices[0].Content)
		responseText = repairJSON(responseText)

		result = enrichment{}
		if err := json.Unmarshal([]byte(responseText), &result); err != nil {
			lastErr = err
			e.logger.Warn("error parsing summarizer response",
				"attempt", attempt+1,
				"response", responseText,
				"err", err)
			continue
		}

		lastErr = nil
		break
	}

	if lastErr != nil {
		e.logger.Error("failed to parse summarizer response after retries", "err", lastErr)
		return nil, fmt.Errorf("%w: %w", core.ErrEnrichment, lastErr)
	}

	summary := strings.TrimSpace(result.Summary)
	if summary == "" {
		return nil, fmt.Errorf("%w: empty summary", core.ErrEnrichment)
	}
	topics := ai.CleanTopics(result.Topics, e.maxTopics)

	e.logger.Debug("enriched article", "title", title, "topics", len(topics))
	return &ai.Enrichment{Summary: summary, Topics: topics}, nil
}
