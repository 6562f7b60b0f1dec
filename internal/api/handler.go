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

// Package api exposes the thin operator surface: health, state queries over
// processing records, and the manual retry triggers. All semantics live in
// the pipeline; handlers only map requests and responses.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/slyfone/autoresponder/internal/models"
	"github.com/slyfone/autoresponder/internal/store"
)

// RecordStore is the read side the handlers query.
type RecordStore interface {
	GetByID(ctx context.Context, id int64) (*models.ProcessingRecord, error)
	ListByStatus(ctx context.Context, status models.Status, limit int) ([]models.ProcessingRecord, error)
	ListDrafts(ctx context.Context, messageID string) ([]models.DraftResponse, error)
	SetArchived(ctx context.Context, id int64, archived bool) error
	Ping(ctx context.Context) error
}

// Retrier is the pipeline subset driving manual retries.
type Retrier interface {
	RetryFailed(ctx context.Context, id int64) error
	RetrySend(ctx context.Context, id int64) error
}

// Pinger reports dedup backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the operator endpoints.
type Handler struct {
	store   RecordStore
	retrier Retrier
	dedup   Pinger
}

// NewHandler creates the operator API handler.
func NewHandler(s RecordStore, r Retrier, d Pinger) *Handler {
	return &Handler{store: s, retrier: r, dedup: d}
}

// Register wires the handler's routes onto the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /records", h.listRecords)
	mux.HandleFunc("GET /records/{id}", h.getRecord)
	mux.HandleFunc("POST /records/{id}/retry", h.retry)
	mux.HandleFunc("POST /records/{id}/retry-send", h.retrySend)
	mux.HandleFunc("POST /records/{id}/archive", h.archive)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
		return
	}
	if err := h.dedup.Ping(r.Context()); err != nil {
		http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status": "healthy"}`))
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	status := models.Status(r.URL.Query().Get("state"))
	if status == "" {
		status = models.StatusFailed
	}
	if !status.IsValid() {
		http.Error(w, "unknown state", http.StatusBadRequest)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := h.store.ListByStatus(r.Context(), status, limit)
	if err != nil {
		slog.Error("list records failed", "state", status, "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []models.ProcessingRecord{}
	}

	writeJSON(w, records)
}

// recordDetail is a record together with all its drafts.
type recordDetail struct {
	Record models.ProcessingRecord `json:"record"`
	Drafts []models.DraftResponse  `json:"drafts"`
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}

	rec, err := h.store.GetByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "record not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("get record failed", "record_id", id, "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	drafts, err := h.store.ListDrafts(r.Context(), rec.Message.MessageID)
	if err != nil {
		slog.Error("list drafts failed", "record_id", id, "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, recordDetail{Record: *rec, Drafts: drafts})
}

func (h *Handler) retry(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}

	if err := h.retrier.RetryFailed(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrStaleStatus) {
			http.Error(w, "record is not in failed state", http.StatusConflict)
			return
		}
		slog.Error("manual retry failed", "record_id", id, "error", err)
		http.Error(w, "retry failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) retrySend(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}

	if err := h.retrier.RetrySend(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrStaleStatus) {
			http.Error(w, "record is not in failed state", http.StatusConflict)
			return
		}
		slog.Error("manual send retry failed", "record_id", id, "error", err)
		http.Error(w, "retry failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) archive(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}

	if err := h.store.SetArchived(r.Context(), id, true); err != nil {
		slog.Error("archive failed", "record_id", id, "error", err)
		http.Error(w, "archive failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]string{"status": "ok"})
}

func recordID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid record id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}
