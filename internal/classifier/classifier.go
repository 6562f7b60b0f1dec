// Copyright (c) 2026 John Earle
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

// Package classifier adapts the reasoning oracle into a classification step
// that never fails: every oracle or payload error is absorbed into a
// deterministic fallback Classification, leaving escalation decisions to
// the pipeline.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slyfone/autoresponder/internal/models"
	"github.com/slyfone/autoresponder/internal/oracle"
	"github.com/slyfone/autoresponder/internal/taxonomy"
)

// Oracle is the subset of the oracle client the classifier needs.
type Oracle interface {
	Complete(ctx context.Context, prompt string) (*oracle.Result, error)
}

// Classifier produces a Classification for inbound emails.
type Classifier struct {
	oracle Oracle
	tree   *taxonomy.Taxonomy
}

// New creates a classifier over the given oracle and category tree.
func New(o Oracle, tree *taxonomy.Taxonomy) *Classifier {
	return &Classifier{oracle: o, tree: tree}
}

// oraclePayload mirrors the JSON shape requested from the oracle.
type oraclePayload struct {
	MainCategory   string   `json:"main_category"`
	SubCategory    string   `json:"sub_category"`
	SentimentScore float64  `json:"sentiment_score"`
	Urgency        string   `json:"urgency"`
	Keywords       []string `json:"keywords"`
	CustomerTone   string   `json:"customer_tone"`
	Confidence     float64  `json:"confidence"`
	Escalation     bool     `json:"requires_escalation"`
}

// Classify sends the normalized subject and body to the oracle and returns a
// validated Classification. It never returns an error: any failure yields
// the fallback value.
func (c *Classifier) Classify(ctx context.Context, subject, body string) models.Classification {
	prompt := c.buildPrompt(subject, body)

	result, err := c.oracle.Complete(ctx, prompt)
	if err != nil {
		slog.Warn("classification fell back", "error", err)
		return Fallback()
	}

	raw, err := oracle.ExtractJSON(result.Text)
	if err != nil {
		slog.Warn("classification payload unusable", "error", err)
		return Fallback()
	}

	var payload oraclePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		slog.Warn("classification payload malformed", "error", err)
		return Fallback()
	}

	return c.validate(payload)
}

// validate clamps and coerces oracle output into the closed domain,
// regardless of what came back.
func (c *Classifier) validate(p oraclePayload) models.Classification {
	cls := models.Classification{
		MainCategory:   p.MainCategory,
		SubCategory:    p.SubCategory,
		SentimentScore: clamp(p.SentimentScore, -1, 1),
		Urgency:        models.Urgency(strings.ToLower(p.Urgency)),
		Keywords:       p.Keywords,
		CustomerTone:   p.CustomerTone,
		Confidence:     clamp(p.Confidence, 0, 1),
		Escalate:       p.Escalation,
	}

	if !cls.Urgency.IsValid() {
		cls.Urgency = models.UrgencyMedium
	}
	if cls.Keywords == nil {
		cls.Keywords = []string{}
	}
	if !c.tree.Contains(cls.MainCategory, cls.SubCategory) {
		// Salvage a recognised main category with an off-tree sub.
		if _, ok := c.tree.Categories[cls.MainCategory]; !ok {
			cls.MainCategory = taxonomy.FallbackCategory
		}
		cls.SubCategory = taxonomy.FallbackSubCategory
	}

	return cls
}

// Fallback is the deterministic classification used when the oracle is
// unreachable or returns garbage.
func Fallback() models.Classification {
	return models.Classification{
		MainCategory:   taxonomy.FallbackCategory,
		SubCategory:    taxonomy.FallbackSubCategory,
		SentimentScore: 0.0,
		Urgency:        models.UrgencyMedium,
		Keywords:       []string{},
		CustomerTone:   "neutral",
		Confidence:     0.0,
		Escalate:       false,
	}
}

func (c *Classifier) buildPrompt(subject, body string) string {
	var sb strings.Builder

	sb.WriteString("Analyze this customer support email:\n\n")
	fmt.Fprintf(&sb, "Subject: %s\n", subject)
	fmt.Fprintf(&sb, "Content: %s\n\n", body)

	sb.WriteString("Classify it using exactly one main category and one of ")
	sb.WriteString("its sub-categories from this list:\n\n")
	sb.WriteString(c.tree.PromptBlock())

	sb.WriteString("\nReturn ONLY a JSON object with these exact fields:\n")
	sb.WriteString(`{
  "main_category": string,
  "sub_category": string,
  "sentiment_score": float between -1 and 1,
  "urgency": "low" | "medium" | "high" | "critical",
  "keywords": [string],
  "customer_tone": "frustrated" | "neutral" | "satisfied",
  "confidence": float between 0 and 1,
  "requires_escalation": boolean
}`)

	return sb.String()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
