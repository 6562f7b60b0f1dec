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

package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/slyfone/autoresponder/internal/intake"
	"github.com/slyfone/autoresponder/internal/mailbox"
	"github.com/slyfone/autoresponder/internal/models"
)

// Source is a polled mailbox.
type Source interface {
	Alias() string
	FetchUnseen(ctx context.Context, max int) ([]mailbox.Message, error)
	MarkSeen(ctx context.Context, uid imap.UID) error
}

// Admitter is the intake gate.
type Admitter interface {
	Admit(ctx context.Context, msg mailbox.Message) (*models.ProcessingRecord, intake.Rejection, error)
}

// Poller runs the background loop that fetches a bounded batch of unseen
// messages from each mailbox on a fixed interval and runs them through the
// pipeline sequentially.
type Poller struct {
	sources  []Source
	gate     Admitter
	pipe     *Pipeline
	interval time.Duration
	backoff  time.Duration
	max      int
}

// NewPoller creates a poller over the given mailboxes. backoff is the
// longer pause taken after a cycle-level failure such as a mailbox
// connection error.
func NewPoller(sources []Source, gate Admitter, pipe *Pipeline, interval, backoff time.Duration, max int) *Poller {
	return &Poller{
		sources:  sources,
		gate:     gate,
		pipe:     pipe,
		interval: interval,
		backoff:  backoff,
		max:      max,
	}
}

// Run starts the polling loop. It blocks until the context is cancelled;
// an in-flight cycle finishes before the loop exits, since partial
// processing is idempotently resumable.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("mailbox poller starting",
		"mailboxes", len(p.sources),
		"interval", p.interval,
		"max_per_cycle", p.max,
	)

	// Do an initial poll immediately
	failed := p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if failed {
			// Back off after a cycle failure, then resume the normal
			// interval.
			select {
			case <-ctx.Done():
				slog.Info("mailbox poller stopping")
				return
			case <-time.After(p.backoff):
			}
		}

		select {
		case <-ctx.Done():
			slog.Info("mailbox poller stopping")
			return
		case <-ticker.C:
			failed = p.poll(ctx)
		}
	}
}

// poll runs one fetch-and-process cycle across all mailboxes. It returns
// true when a cycle-level failure occurred (fetch error on any mailbox);
// single-message failures are absorbed so the batch continues.
func (p *Poller) poll(ctx context.Context) (failed bool) {
	for _, src := range p.sources {
		messages, err := src.FetchUnseen(ctx, p.max)
		if err != nil {
			slog.Error("failed to fetch unseen messages",
				"mailbox", src.Alias(), "error", err)
			failed = true
			continue
		}
		if len(messages) == 0 {
			slog.Debug("no new messages", "mailbox", src.Alias())
			continue
		}

		slog.Info("found new messages",
			"mailbox", src.Alias(), "count", len(messages))

		for _, msg := range messages {
			p.handle(ctx, src, msg)
		}
	}
	return failed
}

// handle runs one message through intake and, if admitted, the pipeline.
// The message is marked seen once it has a durable outcome: admitted (in
// any terminal state) or rejected. An intake persistence failure leaves it
// unseen for the next cycle.
func (p *Poller) handle(ctx context.Context, src Source, msg mailbox.Message) {
	rec, rejection, err := p.gate.Admit(ctx, msg)
	if err != nil {
		slog.Error("intake failed, message left unseen",
			"mailbox", src.Alias(), "uid", msg.UID, "error", err)
		return
	}

	if rejection != intake.RejectedNone {
		slog.Info("message rejected at intake",
			"mailbox", src.Alias(),
			"uid", msg.UID,
			"reason", rejection,
		)
		p.markSeen(ctx, src, msg)
		return
	}

	// Pipeline failures mark the record failed; the poller survives and
	// continues the batch either way.
	if err := p.pipe.Process(ctx, rec); err != nil {
		slog.Error("pipeline run failed",
			"mailbox", src.Alias(),
			"record_id", rec.ID,
			"error", err,
		)
	} else {
		slog.Info("message processed",
			"mailbox", src.Alias(),
			"record_id", rec.ID,
			"message_id", rec.Message.MessageID,
		)
	}

	p.markSeen(ctx, src, msg)
}

func (p *Poller) markSeen(ctx context.Context, src Source, msg mailbox.Message) {
	if err := src.MarkSeen(ctx, msg.UID); err != nil {
		// Harmless: the dedup gate rejects the re-delivery next cycle.
		slog.Warn("failed to mark message seen",
			"mailbox", src.Alias(), "uid", msg.UID, "error", err)
	}
}
