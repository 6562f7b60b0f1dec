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

// Package responder adapts the reasoning oracle into a reply-generation
// step that never fails: on any error the pipeline receives a fixed
// apology-and-escalate draft instead, so there is always something to send
// or escalate.
package responder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slyfone/autoresponder/internal/models"
	"github.com/slyfone/autoresponder/internal/oracle"
)

// Oracle is the subset of the oracle client the responder needs.
type Oracle interface {
	Complete(ctx context.Context, prompt string) (*oracle.Result, error)
}

// Responder generates draft replies to classified emails.
type Responder struct {
	oracle        Oracle
	signatureName string
	signatureTeam string
}

// New creates a responder. signatureName and signatureTeam form the closing
// signature appended to any draft that lacks one.
func New(o Oracle, signatureName, signatureTeam string) *Responder {
	return &Responder{
		oracle:        o,
		signatureName: signatureName,
		signatureTeam: signatureTeam,
	}
}

// oraclePayload mirrors the JSON shape requested from the oracle.
type oraclePayload struct {
	ResponseText     string   `json:"response_text"`
	SuggestedActions []string `json:"suggested_actions"`
	InternalNotes    string   `json:"internal_notes"`
	RequiresFollowUp bool     `json:"requires_follow_up"`
	EscalationNeeded bool     `json:"escalation_needed"`
	TemplateUsed     string   `json:"template_used"`
}

// Generate produces a draft reply for the email. customer may be nil for an
// unknown sender. It never returns an error: any failure yields the fixed
// fallback draft.
func (r *Responder) Generate(
	ctx context.Context,
	email models.InboundMessage,
	cls models.Classification,
	customer *models.Customer,
) models.DraftResponse {
	prompt := r.buildPrompt(email, cls, customer)

	result, err := r.oracle.Complete(ctx, prompt)
	if err != nil {
		slog.Warn("response generation fell back", "message_id", email.MessageID, "error", err)
		return r.fallback(email, err)
	}

	raw, err := oracle.ExtractJSON(result.Text)
	if err != nil {
		slog.Warn("response payload unusable", "message_id", email.MessageID, "error", err)
		return r.fallback(email, err)
	}

	var payload oraclePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		slog.Warn("response payload malformed", "message_id", email.MessageID, "error", err)
		return r.fallback(email, err)
	}
	if strings.TrimSpace(payload.ResponseText) == "" {
		slog.Warn("response payload empty", "message_id", email.MessageID)
		return r.fallback(email, fmt.Errorf("empty response_text"))
	}

	draft := models.DraftResponse{
		ID:               uuid.New().String(),
		MessageID:        email.MessageID,
		Content:          r.ensureSignature(payload.ResponseText),
		SuggestedActions: payload.SuggestedActions,
		InternalNotes:    payload.InternalNotes,
		RequiresFollowUp: payload.RequiresFollowUp,
		EscalationNeeded: payload.EscalationNeeded,
		TemplateUsed:     payload.TemplateUsed,
		ModelVersion:     result.Model,
		PromptTokens:     result.Usage.InputTokens,
		CompletionTokens: result.Usage.OutputTokens,
		ResponseTimeMS:   result.Elapsed.Milliseconds(),
		CreatedAt:        time.Now().UTC(),
	}
	return draft
}

// signature renders the deterministic closing block.
func (r *Responder) signature() string {
	return fmt.Sprintf("Best regards,\n%s\n%s", r.signatureName, r.signatureTeam)
}

// ensureSignature appends the closing signature when the generated text
// lacks one.
func (r *Responder) ensureSignature(text string) string {
	if strings.Contains(text, "Best regards") {
		return text
	}
	return strings.TrimRight(text, "\n") + "\n\n" + r.signature()
}

// fallback is the fixed apology-and-escalate draft.
func (r *Responder) fallback(email models.InboundMessage, cause error) models.DraftResponse {
	text := "I apologize, but I'm having trouble generating a response. " +
		"I'll escalate this to our support team who will get back to you shortly." +
		"\n\n" + r.signature()

	return models.DraftResponse{
		ID:               uuid.New().String(),
		MessageID:        email.MessageID,
		Content:          text,
		SuggestedActions: []string{"Escalate to supervisor"},
		InternalNotes:    fmt.Sprintf("Error generating response: %v", cause),
		RequiresFollowUp: true,
		EscalationNeeded: true,
		TemplateUsed:     "error_fallback",
		CreatedAt:        time.Now().UTC(),
	}
}

func (r *Responder) buildPrompt(
	email models.InboundMessage,
	cls models.Classification,
	customer *models.Customer,
) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are %s, a customer support specialist for %s. ",
		r.signatureName, r.signatureTeam)
	sb.WriteString("Generate a response to this customer email.\n\n")

	sb.WriteString("Context:\n")
	fmt.Fprintf(&sb, "- Category: %s/%s\n", cls.MainCategory, cls.SubCategory)
	if cls.CustomerTone != "" {
		fmt.Fprintf(&sb, "- Customer Tone: %s\n", cls.CustomerTone)
	}
	fmt.Fprintf(&sb, "- Urgency: %s\n", cls.Urgency)
	fmt.Fprintf(&sb, "- Sentiment: %.2f\n\n", cls.SentimentScore)

	sb.WriteString("Customer Information:\n")
	sb.WriteString(customerContext(customer))
	sb.WriteString("\n\n")

	sb.WriteString("Original Email:\n")
	fmt.Fprintf(&sb, "Subject: %s\n", email.Subject)
	fmt.Fprintf(&sb, "Content: %s\n\n", email.Body)

	sb.WriteString(`Guidelines:
1. Address the customer by name if available
2. Always maintain a professional and empathetic tone
3. Provide clear, actionable solutions
4. End with a clear next step or call to action
5. Don't mention sentiment scores or internal classifications
6. Keep responses concise but complete

Return ONLY a JSON object:
{
  "response_text": string,
  "suggested_actions": [string],
  "internal_notes": string,
  "requires_follow_up": boolean,
  "escalation_needed": boolean,
  "template_used": string
}`)

	return sb.String()
}

// customerContext renders the known-sender block, or the new-customer
// marker when the sender is unknown.
func customerContext(c *models.Customer) string {
	if c == nil {
		return "New Customer"
	}

	status := "Inactive"
	if c.IsActive {
		status = "Active"
	}
	subscription := c.SubscriptionStatus
	if subscription == "" {
		subscription = "None"
	}
	lastContact := "Never"
	if c.LastContact != nil {
		lastContact = c.LastContact.Format("2006-01-02")
	}

	return fmt.Sprintf(
		"Customer Status: %s\nSubscription: %s\nTotal Tickets: %d\nLast Contact: %s",
		status, subscription, c.TotalTickets, lastContact,
	)
}
