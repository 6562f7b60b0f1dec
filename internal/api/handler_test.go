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

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/slyfone/autoresponder/internal/models"
	"github.com/slyfone/autoresponder/internal/store"
)

type fakeRecordStore struct {
	records  map[int64]*models.ProcessingRecord
	drafts   map[string][]models.DraftResponse
	archived map[int64]bool
	pingErr  error
	listErr  error
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{
		records:  make(map[int64]*models.ProcessingRecord),
		drafts:   make(map[string][]models.DraftResponse),
		archived: make(map[int64]bool),
	}
}

func (s *fakeRecordStore) GetByID(_ context.Context, id int64) (*models.ProcessingRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("record %d: %w", id, store.ErrNotFound)
	}
	return rec, nil
}

func (s *fakeRecordStore) ListByStatus(_ context.Context, status models.Status, limit int) ([]models.ProcessingRecord, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.ProcessingRecord
	for _, rec := range s.records {
		if rec.Status == status && len(out) < limit {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *fakeRecordStore) ListDrafts(_ context.Context, messageID string) ([]models.DraftResponse, error) {
	return s.drafts[messageID], nil
}

func (s *fakeRecordStore) SetArchived(_ context.Context, id int64, archived bool) error {
	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("record %d: %w", id, store.ErrNotFound)
	}
	s.archived[id] = archived
	return nil
}

func (s *fakeRecordStore) Ping(_ context.Context) error { return s.pingErr }

type fakeRetrier struct {
	retried   []int64
	sendRetry []int64
	err       error
}

func (r *fakeRetrier) RetryFailed(_ context.Context, id int64) error {
	if r.err != nil {
		return r.err
	}
	r.retried = append(r.retried, id)
	return nil
}

func (r *fakeRetrier) RetrySend(_ context.Context, id int64) error {
	if r.err != nil {
		return r.err
	}
	r.sendRetry = append(r.sendRetry, id)
	return nil
}

type fakePinger struct{ err error }

func (p *fakePinger) Ping(_ context.Context) error { return p.err }

func testServer(s *fakeRecordStore, r *fakeRetrier, p *fakePinger) *httptest.Server {
	mux := http.NewServeMux()
	NewHandler(s, r, p).Register(mux)
	return httptest.NewServer(mux)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name     string
		pgErr    error
		redisErr error
		want     int
	}{
		{"healthy", nil, nil, http.StatusOK},
		{"postgres down", fmt.Errorf("pg down"), nil, http.StatusServiceUnavailable},
		{"redis down", nil, fmt.Errorf("redis down"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newFakeRecordStore()
			st.pingErr = tt.pgErr
			srv := testServer(st, &fakeRetrier{}, &fakePinger{err: tt.redisErr})
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/health")
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestListRecords(t *testing.T) {
	st := newFakeRecordStore()
	st.records[1] = &models.ProcessingRecord{ID: 1, Status: models.StatusFailed}
	st.records[2] = &models.ProcessingRecord{ID: 2, Status: models.StatusResponded}
	srv := testServer(st, &fakeRetrier{}, &fakePinger{})
	defer srv.Close()

	// Default state is failed.
	resp, err := http.Get(srv.URL + "/records")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var records []models.ProcessingRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].ID != 1 {
		t.Errorf("records = %+v, want the failed record", records)
	}

	// Explicit state filter.
	resp2, err := http.Get(srv.URL + "/records?state=responded")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	records = nil
	if err := json.NewDecoder(resp2.Body).Decode(&records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].ID != 2 {
		t.Errorf("records = %+v, want the responded record", records)
	}
}

func TestListRecordsRejectsUnknownState(t *testing.T) {
	srv := testServer(newFakeRecordStore(), &fakeRetrier{}, &fakePinger{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/records?state=exploded")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListRecordsRejectsBadLimit(t *testing.T) {
	srv := testServer(newFakeRecordStore(), &fakeRetrier{}, &fakePinger{})
	defer srv.Close()

	for _, limit := range []string{"abc", "0", "-5"} {
		resp, err := http.Get(srv.URL + "/records?limit=" + limit)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", limit, resp.StatusCode)
		}
	}
}

func TestGetRecord(t *testing.T) {
	st := newFakeRecordStore()
	st.records[7] = &models.ProcessingRecord{
		ID:      7,
		Status:  models.StatusResponded,
		Message: models.InboundMessage{MessageID: "m7@example.com"},
	}
	st.drafts["m7@example.com"] = []models.DraftResponse{{ID: "d1", MessageID: "m7@example.com"}}
	srv := testServer(st, &fakeRetrier{}, &fakePinger{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/records/7")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var detail struct {
		Record models.ProcessingRecord `json:"record"`
		Drafts []models.DraftResponse  `json:"drafts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		t.Fatal(err)
	}
	if detail.Record.ID != 7 || len(detail.Drafts) != 1 {
		t.Errorf("detail = %+v", detail)
	}
}

func TestGetRecordNotFound(t *testing.T) {
	srv := testServer(newFakeRecordStore(), &fakeRetrier{}, &fakePinger{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/records/99")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetRecordBadID(t *testing.T) {
	srv := testServer(newFakeRecordStore(), &fakeRetrier{}, &fakePinger{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/records/not-a-number")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRetryEndpoints(t *testing.T) {
	st := newFakeRecordStore()
	st.records[3] = &models.ProcessingRecord{ID: 3, Status: models.StatusFailed}
	retrier := &fakeRetrier{}
	srv := testServer(st, retrier, &fakePinger{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/records/3/retry", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("retry status = %d", resp.StatusCode)
	}
	if len(retrier.retried) != 1 || retrier.retried[0] != 3 {
		t.Errorf("retried = %v", retrier.retried)
	}

	resp, err = http.Post(srv.URL+"/records/3/retry-send", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("retry-send status = %d", resp.StatusCode)
	}
	if len(retrier.sendRetry) != 1 || retrier.sendRetry[0] != 3 {
		t.Errorf("sendRetry = %v", retrier.sendRetry)
	}
}

func TestRetryConflictOnStaleStatus(t *testing.T) {
	retrier := &fakeRetrier{err: fmt.Errorf("reset record 3: %w", store.ErrStaleStatus)}
	srv := testServer(newFakeRecordStore(), retrier, &fakePinger{})
	defer srv.Close()

	for _, path := range []string{"/records/3/retry", "/records/3/retry-send"} {
		resp, err := http.Post(srv.URL+path, "", nil)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("%s: status = %d, want 409", path, resp.StatusCode)
		}
	}
}

func TestArchive(t *testing.T) {
	st := newFakeRecordStore()
	st.records[5] = &models.ProcessingRecord{ID: 5, Status: models.StatusResponded}
	srv := testServer(st, &fakeRetrier{}, &fakePinger{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/records/5/archive", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if !st.archived[5] {
		t.Error("record not archived")
	}
}
