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

// Package backfill provides historical email intake by searching a mailbox
// over a lookback window and running the results through the normal intake
// gate and pipeline. Deduplication makes overlap with live polling safe.
package backfill

import (
	"context"
	"log/slog"
	"time"

	"github.com/slyfone/autoresponder/internal/intake"
	"github.com/slyfone/autoresponder/internal/mailbox"
	"github.com/slyfone/autoresponder/internal/models"
	"github.com/slyfone/autoresponder/internal/pipeline"
)

// Request defines the scope of a historical intake run.
type Request struct {
	Since time.Duration // lookback window (e.g. 720h = 30 days)
	Max   int           // per-mailbox message cap, 0 = no cap
}

// MailboxResult tracks per-mailbox backfill progress.
type MailboxResult struct {
	Alias    string
	Fetched  int
	Admitted int
	Skipped  int
	Errors   int
}

// Result summarises a completed backfill run.
type Result struct {
	Mailboxes     []MailboxResult
	TotalAdmitted int
	TotalSkipped  int
	Elapsed       time.Duration
}

// Source is a mailbox searched by lookback window.
type Source interface {
	Alias() string
	FetchSince(ctx context.Context, since time.Time, max int) ([]mailbox.Message, error)
}

// Admitter is the intake gate.
type Admitter interface {
	Admit(ctx context.Context, msg mailbox.Message) (*models.ProcessingRecord, intake.Rejection, error)
}

// Runner performs historical email intake.
type Runner struct {
	sources []Source
	gate    Admitter
	pipe    *pipeline.Pipeline
}

// NewRunner creates a backfill runner.
func NewRunner(sources []Source, gate Admitter, pipe *pipeline.Pipeline) *Runner {
	return &Runner{sources: sources, gate: gate, pipe: pipe}
}

// Run performs the backfill across all mailboxes.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	since := time.Now().UTC().Add(-req.Since)

	slog.Info("starting historical backfill",
		"mailboxes", len(r.sources),
		"since", since.Format(time.RFC3339),
	)

	result := &Result{}

	for _, src := range r.sources {
		mr := r.backfillMailbox(ctx, src, since, req.Max)
		result.Mailboxes = append(result.Mailboxes, mr)
		result.TotalAdmitted += mr.Admitted
		result.TotalSkipped += mr.Skipped
	}

	result.Elapsed = time.Since(start)
	slog.Info("backfill complete",
		"admitted", result.TotalAdmitted,
		"skipped", result.TotalSkipped,
		"elapsed", result.Elapsed,
	)
	return result, nil
}

func (r *Runner) backfillMailbox(ctx context.Context, src Source, since time.Time, max int) MailboxResult {
	mr := MailboxResult{Alias: src.Alias()}

	messages, err := src.FetchSince(ctx, since, max)
	if err != nil {
		slog.Error("backfill fetch failed", "mailbox", src.Alias(), "error", err)
		mr.Errors++
		return mr
	}
	mr.Fetched = len(messages)

	for _, msg := range messages {
		rec, rejection, err := r.gate.Admit(ctx, msg)
		if err != nil {
			slog.Error("backfill intake failed",
				"mailbox", src.Alias(), "uid", msg.UID, "error", err)
			mr.Errors++
			continue
		}
		if rejection != intake.RejectedNone {
			mr.Skipped++
			continue
		}

		mr.Admitted++
		if err := r.pipe.Process(ctx, rec); err != nil {
			slog.Error("backfill pipeline run failed",
				"mailbox", src.Alias(), "record_id", rec.ID, "error", err)
			mr.Errors++
		}
	}

	slog.Info("mailbox backfill finished",
		"mailbox", mr.Alias,
		"fetched", mr.Fetched,
		"admitted", mr.Admitted,
		"skipped", mr.Skipped,
		"errors", mr.Errors,
	)
	return mr
}
