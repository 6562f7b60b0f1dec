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

// Package intake maps fetched mailbox messages to canonical identities and
// admits each at most once. Replies are rejected outright to prevent the
// pipeline from answering its own answers.
package intake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/slyfone/autoresponder/internal/mailbox"
	"github.com/slyfone/autoresponder/internal/models"
)

// Rejection explains why a message was not admitted. Rejections are
// expected outcomes, not errors.
type Rejection string

const (
	// RejectedNone means the message was admitted.
	RejectedNone Rejection = ""
	// RejectedDuplicate means a record already exists for this identity.
	RejectedDuplicate Rejection = "duplicate"
	// RejectedReply means the message carries reply-linkage headers.
	RejectedReply Rejection = "is_reply"
)

// Deduper is the fast-path duplicate screen in front of the database
// constraint. Forget releases the marker IsNew set, so a message whose
// persistence failed can be re-admitted on a later cycle.
type Deduper interface {
	IsNew(ctx context.Context, messageID string) (bool, error)
	Forget(ctx context.Context, messageID string) error
}

// Store is the persistence subset the gate needs.
type Store interface {
	CreateIfAbsent(ctx context.Context, msg models.InboundMessage) (*models.ProcessingRecord, bool, error)
	TouchCustomerContact(ctx context.Context, email, name string) error
}

// Gate admits raw messages into the pipeline exactly once.
type Gate struct {
	dedup Deduper
	store Store
}

// NewGate creates an intake gate.
func NewGate(d Deduper, s Store) *Gate {
	return &Gate{dedup: d, store: s}
}

// Admit maps the message to its canonical identity and creates its
// processing record in state new. A nil record with a non-empty Rejection
// is an expected no-op outcome; an error means persistence failed and the
// message should be retried on a later cycle.
func (g *Gate) Admit(ctx context.Context, msg mailbox.Message) (*models.ProcessingRecord, Rejection, error) {
	// Reply-linkage headers mean this is our own (or a human's) reply being
	// re-ingested. Reject before any side effects.
	if msg.InReplyTo != "" || msg.References != "" {
		return nil, RejectedReply, nil
	}

	id := CanonicalID(msg)

	// Fast path: Redis screen. A dedup outage is not fatal; the database
	// constraint below remains authoritative.
	isNew, err := g.dedup.IsNew(ctx, id)
	if err != nil {
		slog.Warn("dedup check failed, falling through to database constraint",
			"message_id", id, "error", err)
	} else if !isNew {
		return nil, RejectedDuplicate, nil
	}

	inbound := models.InboundMessage{
		MessageID:      id,
		ThreadID:       msg.References,
		SenderEmail:    msg.FromEmail,
		SenderName:     msg.FromName,
		RecipientEmail: msg.ToEmail,
		Subject:        msg.Subject,
		Body:           msg.Body,
		ReceivedAt:     msg.Date.UTC(),
		IsReply:        false,
	}

	rec, created, err := g.store.CreateIfAbsent(ctx, inbound)
	if err != nil {
		// IsNew already set the seen marker. Release it, or the next cycle
		// would reject this message as a duplicate with no record behind it.
		if forgetErr := g.dedup.Forget(ctx, id); forgetErr != nil {
			slog.Warn("failed to release dedup marker after intake error",
				"message_id", id, "error", forgetErr)
		}
		return nil, RejectedNone, fmt.Errorf("persist intake for %s: %w", id, err)
	}
	if !created {
		return nil, RejectedDuplicate, nil
	}

	// Customer bookkeeping is best-effort; intake already succeeded.
	if err := g.store.TouchCustomerContact(ctx, inbound.SenderEmail, inbound.SenderName); err != nil {
		slog.Warn("customer contact update failed",
			"sender", inbound.SenderEmail, "error", err)
	}

	return rec, RejectedNone, nil
}

// CanonicalID derives the stable identity for a message: the trimmed
// Message-ID header when present, otherwise a digest of the identifying
// headers.
func CanonicalID(msg mailbox.Message) string {
	id := strings.TrimSpace(msg.MessageID)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	if id != "" {
		return id
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s",
		msg.FromEmail, msg.ToEmail, msg.Subject,
		msg.Date.UTC().Format(time.RFC3339))
	return "sha:" + hex.EncodeToString(h.Sum(nil))
}
