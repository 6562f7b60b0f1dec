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

package responder

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/slyfone/autoresponder/internal/models"
	"github.com/slyfone/autoresponder/internal/oracle"
)

type stubOracle struct {
	text   string
	model  string
	usage  oracle.Usage
	err    error
	prompt string
}

func (s *stubOracle) Complete(_ context.Context, prompt string) (*oracle.Result, error) {
	s.prompt = prompt
	if s.err != nil {
		return nil, s.err
	}
	model := s.model
	if model == "" {
		model = "stub"
	}
	return &oracle.Result{Text: s.text, Model: model, Usage: s.usage, Elapsed: 250 * time.Millisecond}, nil
}

func testEmail() models.InboundMessage {
	return models.InboundMessage{
		MessageID:   "<msg-1@example.com>",
		SenderEmail: "customer@example.com",
		SenderName:  "Ada Customer",
		Subject:     "Cannot receive SMS",
		Body:        "My verification codes never arrive.",
	}
}

func testClassification() models.Classification {
	return models.Classification{
		MainCategory:   "Technical_Issues",
		SubCategory:    "SMS_Issues",
		SentimentScore: -0.4,
		Urgency:        models.UrgencyHigh,
		Keywords:       []string{"sms"},
		CustomerTone:   "frustrated",
		Confidence:     0.9,
	}
}

func TestGenerateAppendsSignature(t *testing.T) {
	o := &stubOracle{text: `{
		"response_text": "Hi Ada, we are looking into your SMS delivery issue.",
		"suggested_actions": ["Check carrier routing"],
		"internal_notes": "Known carrier outage",
		"requires_follow_up": true,
		"escalation_needed": false,
		"template_used": "technical_issue"
	}`, model: "claude-3-opus-20240229", usage: oracle.Usage{InputTokens: 120, OutputTokens: 80}}

	r := New(o, "Dee", "SLYFONE Support Team")
	draft := r.Generate(context.Background(), testEmail(), testClassification(), nil)

	if !strings.HasSuffix(draft.Content, "Best regards,\nDee\nSLYFONE Support Team") {
		t.Errorf("signature not appended:\n%s", draft.Content)
	}
	if draft.ID == "" {
		t.Error("draft must carry an ID")
	}
	if draft.MessageID != "<msg-1@example.com>" {
		t.Errorf("message id = %q", draft.MessageID)
	}
	if draft.ModelVersion != "claude-3-opus-20240229" {
		t.Errorf("model version = %q", draft.ModelVersion)
	}
	if draft.PromptTokens != 120 || draft.CompletionTokens != 80 {
		t.Errorf("token counts = %d/%d", draft.PromptTokens, draft.CompletionTokens)
	}
	if draft.ResponseTimeMS != 250 {
		t.Errorf("response time = %dms", draft.ResponseTimeMS)
	}
	if draft.TemplateUsed != "technical_issue" {
		t.Errorf("template = %q", draft.TemplateUsed)
	}
}

func TestGenerateDoesNotDuplicateSignature(t *testing.T) {
	o := &stubOracle{text: `{
		"response_text": "Hi Ada, checking now.\n\nBest regards,\nDee\nSLYFONE Support Team"
	}`}
	r := New(o, "Dee", "SLYFONE Support Team")
	draft := r.Generate(context.Background(), testEmail(), testClassification(), nil)

	if n := strings.Count(draft.Content, "Best regards"); n != 1 {
		t.Errorf("signature appears %d times, want 1:\n%s", n, draft.Content)
	}
}

func TestGenerateFallback(t *testing.T) {
	tests := []struct {
		name string
		o    *stubOracle
	}{
		{"oracle error", &stubOracle{err: fmt.Errorf("rate limited")}},
		{"no JSON", &stubOracle{text: "Here's my reply: hello!"}},
		{"empty response_text", &stubOracle{text: `{"response_text": "  "}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.o, "Dee", "SLYFONE Support Team")
			draft := r.Generate(context.Background(), testEmail(), testClassification(), nil)

			if !strings.Contains(draft.Content, "I apologize") {
				t.Errorf("fallback body missing apology:\n%s", draft.Content)
			}
			if !strings.Contains(draft.Content, "Best regards,\nDee") {
				t.Error("fallback missing signature")
			}
			if !draft.RequiresFollowUp || !draft.EscalationNeeded {
				t.Error("fallback must flag follow-up and escalation")
			}
			if draft.TemplateUsed != "error_fallback" {
				t.Errorf("template = %q, want error_fallback", draft.TemplateUsed)
			}
			if len(draft.SuggestedActions) != 1 || draft.SuggestedActions[0] != "Escalate to supervisor" {
				t.Errorf("suggested actions = %v", draft.SuggestedActions)
			}
			if !strings.Contains(draft.InternalNotes, "Error generating response") {
				t.Errorf("internal notes = %q", draft.InternalNotes)
			}
		})
	}
}

func TestPromptIncludesCustomerContext(t *testing.T) {
	o := &stubOracle{text: `{"response_text": "ok"}`}
	r := New(o, "Dee", "SLYFONE Support Team")

	r.Generate(context.Background(), testEmail(), testClassification(), nil)
	if !strings.Contains(o.prompt, "New Customer") {
		t.Error("nil customer should render as New Customer")
	}

	last := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	r.Generate(context.Background(), testEmail(), testClassification(), &models.Customer{
		Email:              "customer@example.com",
		IsActive:           true,
		SubscriptionStatus: "premium",
		TotalTickets:       4,
		LastContact:        &last,
	})
	for _, want := range []string{"Customer Status: Active", "Subscription: premium", "Total Tickets: 4", "Last Contact: 2026-03-14"} {
		if !strings.Contains(o.prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestPromptCarriesClassificationAndEmail(t *testing.T) {
	o := &stubOracle{text: `{"response_text": "ok"}`}
	r := New(o, "Dee", "SLYFONE Support Team")
	r.Generate(context.Background(), testEmail(), testClassification(), nil)

	for _, want := range []string{
		"Technical_Issues/SMS_Issues",
		"Urgency: high",
		"Cannot receive SMS",
		"verification codes never arrive",
	} {
		if !strings.Contains(o.prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
