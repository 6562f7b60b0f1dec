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

package backfill

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/slyfone/autoresponder/internal/intake"
	"github.com/slyfone/autoresponder/internal/mailbox"
	"github.com/slyfone/autoresponder/internal/models"
	"github.com/slyfone/autoresponder/internal/pipeline"
)

// memStore is a minimal in-memory pipeline.Store for driving records end
// to end.
type memStore struct {
	records map[int64]*models.ProcessingRecord
	drafts  map[string][]models.DraftResponse
}

func newMemStore() *memStore {
	return &memStore{
		records: make(map[int64]*models.ProcessingRecord),
		drafts:  make(map[string][]models.DraftResponse),
	}
}

func (m *memStore) GetByID(_ context.Context, id int64) (*models.ProcessingRecord, error) {
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("record %d: not found", id)
	}
	cp := *rec
	return &cp, nil
}

func (m *memStore) ListByStatus(_ context.Context, status models.Status, _ int) ([]models.ProcessingRecord, error) {
	var out []models.ProcessingRecord
	for _, rec := range m.records {
		if rec.Status == status {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *memStore) UpdateStatus(_ context.Context, id int64, from, to models.Status) error {
	rec := m.records[id]
	if rec.Status != from {
		return fmt.Errorf("record %d: stale status", id)
	}
	rec.Status = to
	return nil
}

func (m *memStore) AttachClassification(_ context.Context, id int64, c models.Classification) error {
	m.records[id].Classification = &c
	return nil
}

func (m *memStore) InsertDraft(_ context.Context, d models.DraftResponse) error {
	m.drafts[d.MessageID] = append(m.drafts[d.MessageID], d)
	return nil
}

func (m *memStore) LatestDraft(_ context.Context, messageID string) (*models.DraftResponse, error) {
	drafts := m.drafts[messageID]
	if len(drafts) == 0 {
		return nil, fmt.Errorf("no drafts for %s", messageID)
	}
	d := drafts[len(drafts)-1]
	return &d, nil
}

func (m *memStore) MarkResponded(_ context.Context, id int64) error {
	m.records[id].Status = models.StatusResponded
	return nil
}

func (m *memStore) MarkFailed(_ context.Context, id int64, detail string) error {
	m.records[id].Status = models.StatusFailed
	m.records[id].ErrorMessage = detail
	return nil
}

func (m *memStore) ResetForRetry(_ context.Context, id int64) error {
	m.records[id].Status = models.StatusNew
	return nil
}

func (m *memStore) ResetForSendRetry(_ context.Context, id int64) error {
	m.records[id].Status = models.StatusSending
	return nil
}

func (m *memStore) GetCustomerByEmail(_ context.Context, _ string) (*models.Customer, error) {
	return nil, nil
}

type stubClassifier struct{}

func (stubClassifier) Classify(_ context.Context, _, _ string) models.Classification {
	return models.Classification{
		MainCategory: "Other", SubCategory: "Unknown",
		Urgency: models.UrgencyMedium, Keywords: []string{},
	}
}

type stubGenerator struct{}

func (stubGenerator) Generate(_ context.Context, email models.InboundMessage, _ models.Classification, _ *models.Customer) models.DraftResponse {
	return models.DraftResponse{ID: "d-" + email.MessageID, MessageID: email.MessageID, Content: "reply"}
}

type stubDeliverer struct{}

func (stubDeliverer) Deliver(_ context.Context, _ models.InboundMessage, _ models.DraftResponse) error {
	return nil
}

type fakeSource struct {
	alias    string
	messages []mailbox.Message
	fetchErr error
	since    time.Time
}

func (s *fakeSource) Alias() string { return s.alias }

func (s *fakeSource) FetchSince(_ context.Context, since time.Time, max int) ([]mailbox.Message, error) {
	s.since = since
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	if max > 0 && len(s.messages) > max {
		return s.messages[:max], nil
	}
	return s.messages, nil
}

// fakeGate admits everything except scripted rejections.
type fakeGate struct {
	store      *memStore
	nextID     int64
	rejections map[string]intake.Rejection
}

func (g *fakeGate) Admit(_ context.Context, msg mailbox.Message) (*models.ProcessingRecord, intake.Rejection, error) {
	if rej, ok := g.rejections[msg.MessageID]; ok {
		return nil, rej, nil
	}
	g.nextID++
	rec := &models.ProcessingRecord{
		ID:      g.nextID,
		Message: models.InboundMessage{MessageID: msg.MessageID, SenderEmail: msg.FromEmail},
		Status:  models.StatusNew,
	}
	g.store.records[rec.ID] = rec
	cp := *rec
	return &cp, intake.RejectedNone, nil
}

func message(id string) mailbox.Message {
	return mailbox.Message{
		MessageID: id,
		FromEmail: "ada@example.com",
		Subject:   "Old ticket",
		Date:      time.Now().UTC().Add(-48 * time.Hour),
		Body:      "from the archive",
	}
}

func newRunner(sources []Source, gate Admitter, store *memStore) *Runner {
	pipe := pipeline.New(store, stubClassifier{}, stubGenerator{}, stubDeliverer{})
	return NewRunner(sources, gate, pipe)
}

func TestRunProcessesHistoricalMessages(t *testing.T) {
	store := newMemStore()
	src := &fakeSource{alias: "support", messages: []mailbox.Message{
		message("old-1@x"), message("old-2@x"), message("old-3@x"),
	}}
	gate := &fakeGate{store: store, rejections: map[string]intake.Rejection{
		"old-2@x": intake.RejectedDuplicate,
	}}
	runner := newRunner([]Source{src}, gate, store)

	result, err := runner.Run(context.Background(), Request{Since: 720 * time.Hour})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.TotalAdmitted != 2 || result.TotalSkipped != 1 {
		t.Errorf("admitted/skipped = %d/%d, want 2/1", result.TotalAdmitted, result.TotalSkipped)
	}
	if len(result.Mailboxes) != 1 {
		t.Fatalf("mailbox results = %d", len(result.Mailboxes))
	}
	mr := result.Mailboxes[0]
	if mr.Alias != "support" || mr.Fetched != 3 || mr.Errors != 0 {
		t.Errorf("mailbox result = %+v", mr)
	}

	for _, rec := range store.records {
		if rec.Status != models.StatusResponded {
			t.Errorf("record %d: status = %s, want responded", rec.ID, rec.Status)
		}
	}

	// The lookback window is applied to the fetch.
	wantSince := time.Now().UTC().Add(-720 * time.Hour)
	if src.since.Before(wantSince.Add(-time.Minute)) || src.since.After(wantSince.Add(time.Minute)) {
		t.Errorf("since = %v, want about %v", src.since, wantSince)
	}
}

func TestRunRespectsPerMailboxCap(t *testing.T) {
	store := newMemStore()
	src := &fakeSource{alias: "support", messages: []mailbox.Message{
		message("a@x"), message("b@x"), message("c@x"),
	}}
	gate := &fakeGate{store: store}
	runner := newRunner([]Source{src}, gate, store)

	result, err := runner.Run(context.Background(), Request{Since: time.Hour, Max: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.TotalAdmitted != 2 {
		t.Errorf("admitted = %d, want capped at 2", result.TotalAdmitted)
	}
}

func TestRunSurvivesFetchFailure(t *testing.T) {
	store := newMemStore()
	broken := &fakeSource{alias: "broken", fetchErr: fmt.Errorf("imap down")}
	healthy := &fakeSource{alias: "healthy", messages: []mailbox.Message{message("ok@x")}}
	runner := newRunner([]Source{broken, healthy}, &fakeGate{store: store}, store)

	result, err := runner.Run(context.Background(), Request{Since: time.Hour})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.TotalAdmitted != 1 {
		t.Errorf("admitted = %d, want the healthy mailbox processed", result.TotalAdmitted)
	}
	if result.Mailboxes[0].Errors != 1 {
		t.Errorf("broken mailbox errors = %d, want 1", result.Mailboxes[0].Errors)
	}
}
