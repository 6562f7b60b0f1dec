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

// Package mailer formats generated drafts as replies and transmits them
// over SMTP. It records the delivery outcome on the draft and never retries
// internally; retry policy belongs to the pipeline so attempt counts stay
// authoritative.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/slyfone/autoresponder/internal/config"
	"github.com/slyfone/autoresponder/internal/models"
)

// DraftStore records send outcomes on persisted drafts.
type DraftStore interface {
	MarkDraftSent(ctx context.Context, draftID string) error
	MarkDraftSendFailed(ctx context.Context, draftID, detail string) error
}

// Mailer sends draft replies through a single SMTP transport.
type Mailer struct {
	cfg   config.SMTPConfig
	store DraftStore

	// send is swapped in tests; defaults to SMTPS submission.
	send func(from string, to []string, msg []byte) error
}

// New creates a mailer for the configured transport.
func New(cfg config.SMTPConfig, store DraftStore) *Mailer {
	m := &Mailer{cfg: cfg, store: store}
	m.send = m.sendSMTP
	return m
}

// Deliver formats the draft as a reply to the original email and transmits
// it. Success means accepted by the transport, not read by the customer.
// On failure the attempt counter and error detail are recorded before the
// error is returned to the pipeline.
func (m *Mailer) Deliver(ctx context.Context, email models.InboundMessage, draft models.DraftResponse) error {
	msg := FormatReply(m.cfg.From, email, draft)

	if err := m.send(m.cfg.From, []string{email.SenderEmail}, msg); err != nil {
		if storeErr := m.store.MarkDraftSendFailed(ctx, draft.ID, err.Error()); storeErr != nil {
			slog.Error("failed to record send failure",
				"draft_id", draft.ID, "error", storeErr)
		}
		return fmt.Errorf("send reply for %s: %w", email.MessageID, err)
	}

	if err := m.store.MarkDraftSent(ctx, draft.ID); err != nil {
		return fmt.Errorf("record sent draft %s: %w", draft.ID, err)
	}

	slog.Info("reply delivered",
		"message_id", email.MessageID,
		"draft_id", draft.ID,
		"to", email.SenderEmail,
	)
	return nil
}

func (m *Mailer) sendSMTP(from string, to []string, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	auth := sasl.NewPlainClient("", m.cfg.Username, m.cfg.Password)
	return smtp.SendMailTLS(addr, auth, from, to, bytes.NewReader(msg))
}

// FormatReply renders the RFC 5322 reply message: threading headers back to
// the original, the draft text, and the quoted original body.
func FormatReply(from string, email models.InboundMessage, draft models.DraftResponse) []byte {
	var sb strings.Builder

	subject := email.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	fmt.Fprintf(&sb, "From: %s\r\n", from)
	fmt.Fprintf(&sb, "To: %s\r\n", email.SenderEmail)
	fmt.Fprintf(&sb, "Subject: %s\r\n", subject)
	fmt.Fprintf(&sb, "In-Reply-To: <%s>\r\n", email.MessageID)
	fmt.Fprintf(&sb, "References: <%s>\r\n", email.MessageID)
	fmt.Fprintf(&sb, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	sb.WriteString("\r\n")

	sb.WriteString(strings.ReplaceAll(draft.Content, "\n", "\r\n"))
	sb.WriteString("\r\n")

	if email.Body != "" {
		fmt.Fprintf(&sb, "\r\nOn %s, %s wrote:\r\n",
			email.ReceivedAt.Format("Mon, 2 Jan 2006 15:04"), senderLabel(email))
		for _, line := range strings.Split(email.Body, "\n") {
			sb.WriteString("> ")
			sb.WriteString(line)
			sb.WriteString("\r\n")
		}
	}

	return []byte(sb.String())
}

func senderLabel(email models.InboundMessage) string {
	if email.SenderName != "" {
		return email.SenderName
	}
	return email.SenderEmail
}
