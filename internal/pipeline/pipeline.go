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

// Package pipeline owns the email lifecycle: it sequences classification,
// generation, and delivery, persists every transition before taking the
// next step, and decides retry versus terminal failure. Adapters never
// raise, so the only edges into failed are persistence and delivery
// failures.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slyfone/autoresponder/internal/models"
)

// Store is the persistence boundary the pipeline drives.
type Store interface {
	GetByID(ctx context.Context, id int64) (*models.ProcessingRecord, error)
	ListByStatus(ctx context.Context, status models.Status, limit int) ([]models.ProcessingRecord, error)
	UpdateStatus(ctx context.Context, id int64, from, to models.Status) error
	AttachClassification(ctx context.Context, id int64, c models.Classification) error
	InsertDraft(ctx context.Context, d models.DraftResponse) error
	LatestDraft(ctx context.Context, messageID string) (*models.DraftResponse, error)
	MarkResponded(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, detail string) error
	ResetForRetry(ctx context.Context, id int64) error
	ResetForSendRetry(ctx context.Context, id int64) error
	GetCustomerByEmail(ctx context.Context, email string) (*models.Customer, error)
}

// Classifier never fails; oracle errors surface as the fallback value.
type Classifier interface {
	Classify(ctx context.Context, subject, body string) models.Classification
}

// Generator never fails; oracle errors surface as the fallback draft.
type Generator interface {
	Generate(ctx context.Context, email models.InboundMessage, cls models.Classification, customer *models.Customer) models.DraftResponse
}

// Deliverer transmits a draft and records the outcome. It never retries
// internally.
type Deliverer interface {
	Deliver(ctx context.Context, email models.InboundMessage, draft models.DraftResponse) error
}

// Pipeline advances processing records through the state machine.
type Pipeline struct {
	store      Store
	classifier Classifier
	generator  Generator
	deliverer  Deliverer
}

// New creates a pipeline over explicit adapter instances so tests can
// substitute deterministic fakes.
func New(store Store, c Classifier, g Generator, d Deliverer) *Pipeline {
	return &Pipeline{
		store:      store,
		classifier: c,
		generator:  g,
		deliverer:  d,
	}
}

// Process drives a record from its current recorded state to a terminal
// state. Every transition is persisted before the step it announces runs,
// so a crash leaves the record resumable at its last completed state.
func (p *Pipeline) Process(ctx context.Context, rec *models.ProcessingRecord) error {
	for !rec.Status.IsTerminal() {
		if err := p.step(ctx, rec); err != nil {
			p.fail(ctx, rec, err)
			return err
		}
	}
	return nil
}

// step executes the single next action for the record's current state.
func (p *Pipeline) step(ctx context.Context, rec *models.ProcessingRecord) error {
	switch rec.Status {
	case models.StatusNew:
		return p.advance(ctx, rec, models.StatusClassifying)

	case models.StatusClassifying:
		cls := p.classifier.Classify(ctx, rec.Message.Subject, rec.Message.Body)
		if err := p.store.AttachClassification(ctx, rec.ID, cls); err != nil {
			return fmt.Errorf("attach classification: %w", err)
		}
		rec.Classification = &cls
		if cls.Escalate {
			slog.Info("escalation flagged by classifier",
				"message_id", rec.Message.MessageID,
				"category", cls.MainCategory,
				"urgency", cls.Urgency,
			)
		}
		return p.advance(ctx, rec, models.StatusClassified)

	case models.StatusClassified:
		return p.advance(ctx, rec, models.StatusGenerating)

	case models.StatusGenerating:
		cls := p.classification(ctx, rec)
		customer := p.customer(ctx, rec)
		draft := p.generator.Generate(ctx, rec.Message, cls, customer)
		if err := p.store.InsertDraft(ctx, draft); err != nil {
			return fmt.Errorf("persist draft: %w", err)
		}
		if draft.EscalationNeeded {
			slog.Info("escalation flagged by generator",
				"message_id", rec.Message.MessageID,
				"draft_id", draft.ID,
			)
		}
		return p.advance(ctx, rec, models.StatusGenerated)

	case models.StatusGenerated:
		return p.advance(ctx, rec, models.StatusSending)

	case models.StatusSending:
		draft, err := p.store.LatestDraft(ctx, rec.Message.MessageID)
		if err != nil {
			return fmt.Errorf("load draft: %w", err)
		}
		if err := p.deliverer.Deliver(ctx, rec.Message, *draft); err != nil {
			return fmt.Errorf("deliver: %w", err)
		}
		if err := p.store.MarkResponded(ctx, rec.ID); err != nil {
			return fmt.Errorf("mark responded: %w", err)
		}
		rec.Status = models.StatusResponded
		return nil

	default:
		return fmt.Errorf("no action for status %q", rec.Status)
	}
}

// advance persists the transition, then mirrors it on the in-memory record.
func (p *Pipeline) advance(ctx context.Context, rec *models.ProcessingRecord, to models.Status) error {
	if err := p.store.UpdateStatus(ctx, rec.ID, rec.Status, to); err != nil {
		return fmt.Errorf("transition %s -> %s: %w", rec.Status, to, err)
	}
	rec.Status = to
	return nil
}

// fail marks the record terminally failed with detail. The record stays
// queryable and manually retriable.
func (p *Pipeline) fail(ctx context.Context, rec *models.ProcessingRecord, cause error) {
	if err := p.store.MarkFailed(ctx, rec.ID, cause.Error()); err != nil {
		slog.Error("failed to mark record failed",
			"record_id", rec.ID, "cause", cause, "error", err)
		return
	}
	rec.Status = models.StatusFailed
	rec.ErrorMessage = cause.Error()

	slog.Warn("record failed",
		"record_id", rec.ID,
		"message_id", rec.Message.MessageID,
		"error", cause,
	)
}

// classification returns the attached classification, degrading to the
// on-record value or a fresh classification when a resume lost it.
func (p *Pipeline) classification(ctx context.Context, rec *models.ProcessingRecord) models.Classification {
	if rec.Classification != nil {
		return *rec.Classification
	}
	// A record resumed at generating always has its classification
	// persisted; re-read rather than re-classify.
	fresh, err := p.store.GetByID(ctx, rec.ID)
	if err == nil && fresh.Classification != nil {
		rec.Classification = fresh.Classification
		return *fresh.Classification
	}
	slog.Warn("classification missing at generation, re-classifying",
		"record_id", rec.ID)
	cls := p.classifier.Classify(ctx, rec.Message.Subject, rec.Message.Body)
	rec.Classification = &cls
	return cls
}

// customer looks up sender context; lookup failures degrade to unknown.
func (p *Pipeline) customer(ctx context.Context, rec *models.ProcessingRecord) *models.Customer {
	customer, err := p.store.GetCustomerByEmail(ctx, rec.Message.SenderEmail)
	if err != nil {
		slog.Warn("customer lookup failed",
			"sender", rec.Message.SenderEmail, "error", err)
		return nil
	}
	return customer
}

// Resume picks up every record left in a non-terminal state by a previous
// run and drives it to completion, re-entering at the recorded state.
// Adapters are pure functions of input data, so re-invoking the in-flight
// step is safe. batch bounds one scan, not the recovery: each status is
// re-listed until it drains, so a crash with more in-flight records than
// the batch size strands nothing.
func (p *Pipeline) Resume(ctx context.Context, batch int) error {
	resumable := []models.Status{
		models.StatusNew, models.StatusClassifying, models.StatusClassified,
		models.StatusGenerating, models.StatusGenerated, models.StatusSending,
	}

	for _, status := range resumable {
		for {
			records, err := p.store.ListByStatus(ctx, status, batch)
			if err != nil {
				return fmt.Errorf("recovery scan %s: %w", status, err)
			}
			if len(records) == 0 {
				break
			}

			progressed := false
			for i := range records {
				rec := &records[i]
				slog.Info("resuming record",
					"record_id", rec.ID,
					"message_id", rec.Message.MessageID,
					"status", rec.Status,
				)
				if err := p.Process(ctx, rec); err != nil {
					slog.Error("resume failed", "record_id", rec.ID, "error", err)
				}
				if rec.Status != status {
					progressed = true
				}
			}
			// A record that could not even be marked failed stays put;
			// without progress, re-listing would spin on it.
			if !progressed {
				break
			}
		}
	}
	return nil
}

// RetryFailed resets a failed record to new and reprocesses it from the
// top. Prior drafts are retained; a new draft is generated.
func (p *Pipeline) RetryFailed(ctx context.Context, id int64) error {
	if err := p.store.ResetForRetry(ctx, id); err != nil {
		return fmt.Errorf("reset record %d: %w", id, err)
	}
	rec, err := p.store.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load record %d: %w", id, err)
	}
	return p.Process(ctx, rec)
}

// RetrySend re-dispatches the existing draft of a record that failed at the
// send step, without reprocessing classification or generation.
func (p *Pipeline) RetrySend(ctx context.Context, id int64) error {
	rec, err := p.store.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load record %d: %w", id, err)
	}
	if _, err := p.store.LatestDraft(ctx, rec.Message.MessageID); err != nil {
		return fmt.Errorf("record %d has no draft to resend: %w", id, err)
	}
	if err := p.store.ResetForSendRetry(ctx, id); err != nil {
		return fmt.Errorf("reset record %d for send retry: %w", id, err)
	}
	rec.Status = models.StatusSending
	return p.Process(ctx, rec)
}
