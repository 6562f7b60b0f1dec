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

// Package store provides the Postgres-backed persistence layer for
// processing records, draft responses, and customer context. The unique
// constraint on message_id is what makes concurrent duplicate intake
// resolve to at most one surviving record.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/slyfone/autoresponder/internal/models"
)

// ErrNotFound is returned when a record or draft does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrStaleStatus is returned when a guarded status update finds the record
// no longer in the expected state.
var ErrStaleStatus = errors.New("store: record not in expected status")

// Store provides CRUD operations for the pipeline's persistence boundary.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a store backed by the given Postgres pool.
// It ensures the schema exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	slog.Info("store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS emails (
			id               BIGSERIAL PRIMARY KEY,
			message_id       TEXT NOT NULL UNIQUE,
			thread_id        TEXT DEFAULT '',
			sender_email     TEXT NOT NULL,
			sender_name      TEXT DEFAULT '',
			recipient_email  TEXT DEFAULT '',
			subject          TEXT DEFAULT '',
			body             TEXT DEFAULT '',
			received_at      TIMESTAMPTZ NOT NULL,
			is_reply         BOOLEAN DEFAULT FALSE,
			status           TEXT NOT NULL DEFAULT 'new',
			main_category    TEXT,
			sub_category     TEXT,
			confidence       DOUBLE PRECISION,
			sentiment_score  DOUBLE PRECISION,
			urgency          TEXT,
			keywords         JSONB,
			customer_tone    TEXT,
			escalate         BOOLEAN DEFAULT FALSE,
			error_message    TEXT DEFAULT '',
			archived         BOOLEAN DEFAULT FALSE,
			processed_at     TIMESTAMPTZ,
			created_at       TIMESTAMPTZ DEFAULT NOW(),
			updated_at       TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_emails_status ON emails(status);
		CREATE INDEX IF NOT EXISTS idx_emails_sender ON emails(sender_email);

		CREATE TABLE IF NOT EXISTS responses (
			id                TEXT PRIMARY KEY,
			email_message_id  TEXT NOT NULL REFERENCES emails(message_id),
			content           TEXT NOT NULL,
			suggested_actions JSONB,
			internal_notes    TEXT DEFAULT '',
			requires_followup BOOLEAN DEFAULT FALSE,
			escalation_needed BOOLEAN DEFAULT FALSE,
			template_used     TEXT DEFAULT '',
			model_version     TEXT DEFAULT '',
			prompt_tokens     INTEGER DEFAULT 0,
			completion_tokens INTEGER DEFAULT 0,
			response_time_ms  BIGINT DEFAULT 0,
			is_sent           BOOLEAN DEFAULT FALSE,
			sent_at           TIMESTAMPTZ,
			send_attempts     INTEGER DEFAULT 0,
			error_message     TEXT DEFAULT '',
			created_at        TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_responses_email ON responses(email_message_id);

		CREATE TABLE IF NOT EXISTS customers (
			id                  BIGSERIAL PRIMARY KEY,
			email               TEXT NOT NULL UNIQUE,
			name                TEXT DEFAULT '',
			is_active           BOOLEAN DEFAULT TRUE,
			subscription_status TEXT DEFAULT '',
			total_tickets       INTEGER DEFAULT 0,
			last_contact        TIMESTAMPTZ,
			created_at          TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

// CreateIfAbsent inserts a new processing record for the message, keyed by
// its canonical message identity. It returns the record and whether this
// call created it; a concurrent or earlier insert wins the constraint and
// yields created=false.
func (s *Store) CreateIfAbsent(ctx context.Context, msg models.InboundMessage) (*models.ProcessingRecord, bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO emails
			(message_id, thread_id, sender_email, sender_name, recipient_email,
			 subject, body, received_at, is_reply, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'new')
		ON CONFLICT (message_id) DO NOTHING
	`, msg.MessageID, msg.ThreadID, msg.SenderEmail, msg.SenderName,
		msg.RecipientEmail, msg.Subject, msg.Body, msg.ReceivedAt, msg.IsReply)
	if err != nil {
		return nil, false, fmt.Errorf("insert email: %w", err)
	}

	rec, err := s.GetByMessageID(ctx, msg.MessageID)
	if err != nil {
		return nil, false, err
	}
	return rec, tag.RowsAffected() == 1, nil
}

// GetByID retrieves a record by its row ID.
func (s *Store) GetByID(ctx context.Context, id int64) (*models.ProcessingRecord, error) {
	row := s.pool.QueryRow(ctx, selectRecord+` WHERE id = $1`, id)
	return scanRecord(row)
}

// GetByMessageID retrieves a record by its canonical message identity.
func (s *Store) GetByMessageID(ctx context.Context, messageID string) (*models.ProcessingRecord, error) {
	row := s.pool.QueryRow(ctx, selectRecord+` WHERE message_id = $1`, messageID)
	return scanRecord(row)
}

// ListByStatus returns non-archived records in the given status, oldest
// first. Used by the recovery scan on restart and the ops endpoints.
func (s *Store) ListByStatus(ctx context.Context, status models.Status, limit int) ([]models.ProcessingRecord, error) {
	rows, err := s.pool.Query(ctx, selectRecord+`
		WHERE status = $1 AND NOT archived
		ORDER BY created_at
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

// UpdateStatus moves a record from one status to another. The WHERE guard
// on the current status is what enforces the write-ahead discipline: a
// record that already moved on cannot be dragged backwards.
func (s *Store) UpdateStatus(ctx context.Context, id int64, from, to models.Status) error {
	if !models.CanTransition(from, to) {
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE emails
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

// AttachClassification persists the oracle's judgment on a record.
func (s *Store) AttachClassification(ctx context.Context, id int64, c models.Classification) error {
	keywords, err := json.Marshal(c.Keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE emails
		SET main_category = $1, sub_category = $2, confidence = $3,
		    sentiment_score = $4, urgency = $5, keywords = $6,
		    customer_tone = $7, escalate = $8, updated_at = NOW()
		WHERE id = $9
	`, c.MainCategory, c.SubCategory, c.Confidence, c.SentimentScore,
		c.Urgency, keywords, c.CustomerTone, c.Escalate, id)
	if err != nil {
		return fmt.Errorf("attach classification: %w", err)
	}
	return nil
}

// MarkResponded sets the terminal responded state and stamps processed_at.
func (s *Store) MarkResponded(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE emails
		SET status = 'responded', processed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'sending'
	`, id)
	if err != nil {
		return fmt.Errorf("mark responded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

// MarkFailed sets the terminal failed state with error detail. The record
// stays queryable and manually retriable.
func (s *Store) MarkFailed(ctx context.Context, id int64, detail string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE emails
		SET status = 'failed', error_message = $1, updated_at = NOW()
		WHERE id = $2 AND status NOT IN ('responded', 'failed')
	`, detail, id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// ResetForRetry moves a failed record back to new for full reprocessing.
// Prior drafts are retained.
func (s *Store) ResetForRetry(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE emails
		SET status = 'new', error_message = '', updated_at = NOW()
		WHERE id = $1 AND status = 'failed'
	`, id)
	if err != nil {
		return fmt.Errorf("reset for retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

// ResetForSendRetry moves a record that failed at the send step back to
// sending so its existing draft can be re-dispatched.
func (s *Store) ResetForSendRetry(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE emails
		SET status = 'sending', error_message = '', updated_at = NOW()
		WHERE id = $1 AND status = 'failed'
	`, id)
	if err != nil {
		return fmt.Errorf("reset for send retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

// SetArchived toggles the archival flag that hides a record from active
// views. Records are never deleted.
func (s *Store) SetArchived(ctx context.Context, id int64, archived bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE emails SET archived = $1, updated_at = NOW() WHERE id = $2
	`, archived, id)
	return err
}

// InsertDraft persists a freshly generated draft response.
func (s *Store) InsertDraft(ctx context.Context, d models.DraftResponse) error {
	actions, err := json.Marshal(d.SuggestedActions)
	if err != nil {
		return fmt.Errorf("marshal suggested actions: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO responses
			(id, email_message_id, content, suggested_actions, internal_notes,
			 requires_followup, escalation_needed, template_used, model_version,
			 prompt_tokens, completion_tokens, response_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, d.ID, d.MessageID, d.Content, actions, d.InternalNotes,
		d.RequiresFollowUp, d.EscalationNeeded, d.TemplateUsed, d.ModelVersion,
		d.PromptTokens, d.CompletionTokens, d.ResponseTimeMS, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert draft: %w", err)
	}
	return nil
}

// LatestDraft returns the most recent draft for a message.
func (s *Store) LatestDraft(ctx context.Context, messageID string) (*models.DraftResponse, error) {
	row := s.pool.QueryRow(ctx, selectDraft+`
		WHERE email_message_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, messageID)
	return scanDraft(row)
}

// ListDrafts returns all drafts for a message, oldest first.
func (s *Store) ListDrafts(ctx context.Context, messageID string) ([]models.DraftResponse, error) {
	rows, err := s.pool.Query(ctx, selectDraft+`
		WHERE email_message_id = $1
		ORDER BY created_at
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drafts []models.DraftResponse
	for rows.Next() {
		d, err := scanDraftRow(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, *d)
	}
	return drafts, rows.Err()
}

// MarkDraftSent records a successful delivery.
func (s *Store) MarkDraftSent(ctx context.Context, draftID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE responses
		SET is_sent = TRUE, sent_at = NOW(), send_attempts = send_attempts + 1,
		    error_message = ''
		WHERE id = $1
	`, draftID)
	if err != nil {
		return fmt.Errorf("mark draft sent: %w", err)
	}
	return nil
}

// MarkDraftSendFailed increments the attempt counter and records the
// transport error.
func (s *Store) MarkDraftSendFailed(ctx context.Context, draftID, detail string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE responses
		SET send_attempts = send_attempts + 1, error_message = $1
		WHERE id = $2
	`, detail, draftID)
	if err != nil {
		return fmt.Errorf("mark draft send failed: %w", err)
	}
	return nil
}

// GetCustomerByEmail looks up customer context for a sender address.
// Returns nil (no error) when the sender is unknown.
func (s *Store) GetCustomerByEmail(ctx context.Context, email string) (*models.Customer, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, name, is_active, subscription_status,
		       total_tickets, last_contact
		FROM customers
		WHERE email = $1
	`, email)

	var c models.Customer
	err := row.Scan(&c.ID, &c.Email, &c.Name, &c.IsActive,
		&c.SubscriptionStatus, &c.TotalTickets, &c.LastContact)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// TouchCustomerContact bumps the sender's ticket count and last-contact
// time, creating the customer row on first contact.
func (s *Store) TouchCustomerContact(ctx context.Context, email, name string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO customers (email, name, total_tickets, last_contact)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (email) DO UPDATE SET
			total_tickets = customers.total_tickets + 1,
			last_contact  = NOW()
	`, email, name)
	return err
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const selectRecord = `
	SELECT id, message_id, thread_id, sender_email, sender_name,
	       recipient_email, subject, body, received_at, is_reply, status,
	       main_category, sub_category, confidence, sentiment_score, urgency,
	       keywords, customer_tone, escalate, error_message, archived,
	       processed_at, created_at, updated_at
	FROM emails`

const selectDraft = `
	SELECT id, email_message_id, content, suggested_actions, internal_notes,
	       requires_followup, escalation_needed, template_used, model_version,
	       prompt_tokens, completion_tokens, response_time_ms, is_sent,
	       sent_at, send_attempts, error_message, created_at
	FROM responses`

// scanRecord scans a single row into a ProcessingRecord.
func scanRecord(row pgx.Row) (*models.ProcessingRecord, error) {
	var (
		r            models.ProcessingRecord
		mainCategory *string
		subCategory  *string
		confidence   *float64
		sentiment    *float64
		urgency      *string
		keywordsJSON []byte
		customerTone *string
		escalate     bool
	)
	err := row.Scan(
		&r.ID, &r.Message.MessageID, &r.Message.ThreadID,
		&r.Message.SenderEmail, &r.Message.SenderName,
		&r.Message.RecipientEmail, &r.Message.Subject, &r.Message.Body,
		&r.Message.ReceivedAt, &r.Message.IsReply, &r.Status,
		&mainCategory, &subCategory, &confidence, &sentiment, &urgency,
		&keywordsJSON, &customerTone, &escalate, &r.ErrorMessage,
		&r.Archived, &r.ProcessedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if mainCategory != nil {
		c := models.Classification{
			MainCategory: *mainCategory,
			Escalate:     escalate,
		}
		if subCategory != nil {
			c.SubCategory = *subCategory
		}
		if confidence != nil {
			c.Confidence = *confidence
		}
		if sentiment != nil {
			c.SentimentScore = *sentiment
		}
		if urgency != nil {
			c.Urgency = models.Urgency(*urgency)
		}
		if customerTone != nil {
			c.CustomerTone = *customerTone
		}
		if len(keywordsJSON) > 0 {
			if err := json.Unmarshal(keywordsJSON, &c.Keywords); err != nil {
				return nil, fmt.Errorf("unmarshal keywords: %w", err)
			}
		}
		r.Classification = &c
	}

	return &r, nil
}

// collectRecords scans multiple rows into a slice of ProcessingRecords.
func collectRecords(rows pgx.Rows) ([]models.ProcessingRecord, error) {
	var records []models.ProcessingRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

func scanDraft(row pgx.Row) (*models.DraftResponse, error) {
	d, err := scanDraftRow(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	return d, err
}

func scanDraftRow(row pgx.Row) (*models.DraftResponse, error) {
	var (
		d           models.DraftResponse
		actionsJSON []byte
	)
	err := row.Scan(
		&d.ID, &d.MessageID, &d.Content, &actionsJSON, &d.InternalNotes,
		&d.RequiresFollowUp, &d.EscalationNeeded, &d.TemplateUsed,
		&d.ModelVersion, &d.PromptTokens, &d.CompletionTokens,
		&d.ResponseTimeMS, &d.IsSent, &d.SentAt, &d.SendAttempts,
		&d.ErrorMessage, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(actionsJSON) > 0 {
		if err := json.Unmarshal(actionsJSON, &d.SuggestedActions); err != nil {
			return nil, fmt.Errorf("unmarshal suggested actions: %w", err)
		}
	}
	return &d, nil
}
