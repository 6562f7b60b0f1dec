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

package mailbox

import (
	"bytes"
	"html"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
)

// parseMessage converts a fetched message buffer into a decoded Message.
func parseMessage(buf *imapclient.FetchMessageBuffer, bodySection *imap.FetchItemBodySection) Message {
	msg := Message{
		UID: buf.UID,
	}

	if buf.Envelope != nil {
		msg.MessageID = strings.TrimSpace(buf.Envelope.MessageID)
		msg.Subject = buf.Envelope.Subject
		msg.Date = buf.Envelope.Date

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			msg.FromEmail = from.Addr()
			msg.FromName = from.Name
		}
		if len(buf.Envelope.To) > 0 {
			msg.ToEmail = buf.Envelope.To[0].Addr()
		}
	}
	if msg.Date.IsZero() {
		msg.Date = time.Now().UTC()
	}

	raw := buf.FindBodySection(bodySection)
	if raw == nil {
		return msg
	}

	textBody, htmlBody, header := parseMIMEBody(raw)
	if header != nil {
		msg.InReplyTo = strings.TrimSpace(header.Get("In-Reply-To"))
		msg.References = strings.TrimSpace(header.Get("References"))
		if msg.MessageID == "" {
			msg.MessageID = strings.TrimSpace(header.Get("Message-Id"))
		}
	}

	body := textBody
	if body == "" && htmlBody != "" {
		body = stripHTML(htmlBody)
	}
	msg.Body = normalizeWhitespace(body)

	return msg
}

// parseMIMEBody parses a raw RFC 2822 message using go-message and extracts
// the text/plain body, the text/html body, and the top-level header.
func parseMIMEBody(raw []byte) (textBody, htmlBody string, header *mail.Header) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// If parsing fails, treat the whole payload as plain text.
		return string(raw), "", nil
	}
	defer mr.Close()

	header = &mr.Header

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()

		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && textBody == "":
			textBody = string(body)
		case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
			htmlBody = string(body)
		}
	}

	return textBody, htmlBody, header
}

// stripHTML reduces an HTML body to its text content. Script and style
// elements are dropped entirely.
func stripHTML(htmlSrc string) string {
	var sb strings.Builder
	inTag := false
	skipUntil := ""

	lower := strings.ToLower(htmlSrc)
	for i := 0; i < len(htmlSrc); i++ {
		if skipUntil != "" {
			if strings.HasPrefix(lower[i:], skipUntil) {
				i += len(skipUntil) - 1
				skipUntil = ""
				inTag = false
			}
			continue
		}

		ch := htmlSrc[i]
		switch {
		case ch == '<':
			inTag = true
			switch {
			case strings.HasPrefix(lower[i:], "<script"):
				skipUntil = "</script>"
			case strings.HasPrefix(lower[i:], "<style"):
				skipUntil = "</style>"
			}
		case ch == '>':
			inTag = false
			sb.WriteByte(' ')
		case !inTag:
			sb.WriteByte(ch)
		}
	}

	return html.UnescapeString(sb.String())
}

// normalizeWhitespace collapses runs of whitespace to single spaces so the
// oracle sees clean prose.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
