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

// Package models defines the data structures shared across the autoresponder.
package models

import (
	"time"
)

// InboundMessage represents a received customer email. It is created once by
// the mailbox connector and never mutated afterwards.
type InboundMessage struct {
	MessageID      string    `json:"message_id"`
	ThreadID       string    `json:"thread_id,omitempty"`
	SenderEmail    string    `json:"sender_email"`
	SenderName     string    `json:"sender_name,omitempty"`
	RecipientEmail string    `json:"recipient_email"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	ReceivedAt     time.Time `json:"received_at"`
	IsReply        bool      `json:"is_reply"`
}

// Urgency is the closed urgency taxonomy for classified emails.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// IsValid reports whether u is one of the recognised urgency levels.
func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return true
	}
	return false
}

// Classification is the structured judgment the oracle produces about an
// inbound message. Immutable once attached to a record.
type Classification struct {
	MainCategory   string   `json:"main_category"`
	SubCategory    string   `json:"sub_category"`
	SentimentScore float64  `json:"sentiment_score"`
	Urgency        Urgency  `json:"urgency"`
	Keywords       []string `json:"keywords"`
	CustomerTone   string   `json:"customer_tone,omitempty"`
	Confidence     float64  `json:"confidence"`
	Escalate       bool     `json:"requires_escalation"`
}

// DraftResponse is a generated reply plus its provenance and send outcome.
// A record accumulates one draft per generation pass; retries append rather
// than overwrite.
type DraftResponse struct {
	ID               string     `json:"id"`
	MessageID        string     `json:"message_id"`
	Content          string     `json:"content"`
	SuggestedActions []string   `json:"suggested_actions,omitempty"`
	InternalNotes    string     `json:"internal_notes,omitempty"`
	RequiresFollowUp bool       `json:"requires_follow_up"`
	EscalationNeeded bool       `json:"escalation_needed"`
	TemplateUsed     string     `json:"template_used,omitempty"`
	ModelVersion     string     `json:"model_version,omitempty"`
	PromptTokens     int        `json:"prompt_tokens,omitempty"`
	CompletionTokens int        `json:"completion_tokens,omitempty"`
	ResponseTimeMS   int64      `json:"response_time_ms,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	IsSent           bool       `json:"is_sent"`
	SentAt           *time.Time `json:"sent_at,omitempty"`
	SendAttempts     int        `json:"send_attempts"`
	ErrorMessage     string     `json:"error_message,omitempty"`
}

// Customer is the known-sender context used when generating a reply.
type Customer struct {
	ID                 int64      `json:"id"`
	Email              string     `json:"email"`
	Name               string     `json:"name,omitempty"`
	IsActive           bool       `json:"is_active"`
	SubscriptionStatus string     `json:"subscription_status,omitempty"`
	TotalTickets       int        `json:"total_tickets"`
	LastContact        *time.Time `json:"last_contact,omitempty"`
}
