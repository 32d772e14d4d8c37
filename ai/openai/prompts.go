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

import "fmt"

const enrichmentSchema = `{
  "type": "object",
  "properties": {
    "summary": {
      "type": "string"
    },
    "topics": {
      "type": "array",
      "items": {
        "type": "string",
        "pattern": "^[a-z0-9]+( [a-z0-9]+)*$"
      }
    }
  },
  "required": ["summary", "topics"],
  "additionalProperties": false
}`

const enrichmentPromptTemplate = `You analyze news articles. Summarize the article you are given and list its main topics.

Output ONLY valid JSON which complies with the schema given below. Do not include any preamble, explanation,
greeting, or acknowledgment. Start your response directly with the opening brace { and end with the closing
brace }. Your output must exactly follow this schema:

%s

Rules:
- The summary is 2-4 plain sentences in the language of the article.
- Report facts stated in the article only. Do not speculate.
- List at most %d topics, most relevant first.
- Topics are lowercase, 1-3 words, e.g. "climate policy", "elections", "ai".`

func buildSystemPrompt(maxTopics int) string {
	return fmt.Sprintf(enrichmentPromptTemplate, enrichmentSchema, maxTopics)
}

func buildUserPrompt(title, text string) string {
	return "Title: " + title + "\n\n" + text
}
