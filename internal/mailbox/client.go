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

// Package mailbox provides the IMAP connector: it fetches unseen messages
// from a remote mailbox, decodes headers and bodies, and marks messages
// consumed. The mailbox is treated as at-least-once delivery; the intake
// gate's deduplication makes the pipeline effectively exactly-once.
package mailbox

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/slyfone/autoresponder/internal/config"
)

// Message is a fetched and decoded mailbox message, ready for the intake
// gate.
type Message struct {
	UID        imap.UID
	Mailbox    string // configured mailbox alias
	MessageID  string
	InReplyTo  string
	References string
	FromEmail  string
	FromName   string
	ToEmail    string
	Subject    string
	Date       time.Time
	Body       string
}

// Client wraps go-imap for a single configured mailbox. Each operation
// dials, authenticates, and logs out; connections are not pooled.
type Client struct {
	cfg   config.MailboxConfig
	oauth *clientcredentials.Config
}

// NewClient creates an IMAP client for the mailbox. When OAuth credentials
// are configured, logins use OAUTHBEARER with a client-credentials token;
// otherwise plain LOGIN with the password.
func NewClient(cfg config.MailboxConfig) *Client {
	c := &Client{cfg: cfg}
	if cfg.ClientID != "" && cfg.TokenURL != "" {
		c.oauth = &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
	}
	return c
}

// Alias returns the configured mailbox alias.
func (c *Client) Alias() string {
	return c.cfg.Alias
}

// connect dials the IMAP server and authenticates. The caller is
// responsible for Logout on the returned client.
func (c *Client) connect(ctx context.Context) (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)

	client, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to IMAP %s: %w", addr, err)
	}

	if c.oauth != nil {
		token, err := c.oauth.Token(ctx)
		if err != nil {
			_ = client.Logout().Wait()
			return nil, fmt.Errorf("mint OAuth token for %s: %w", c.cfg.Username, err)
		}
		auth := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: c.cfg.Username,
			Token:    token.AccessToken,
		})
		if err := client.Authenticate(auth); err != nil {
			_ = client.Logout().Wait()
			return nil, fmt.Errorf("OAUTHBEARER auth for %s: %w", c.cfg.Username, err)
		}
	} else {
		if err := client.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
			_ = client.Logout().Wait()
			return nil, fmt.Errorf("login for %s: %w", c.cfg.Username, err)
		}
	}

	return client, nil
}

// FetchUnseen returns up to max unseen INBOX messages, oldest first, fully
// fetched and decoded. Messages are not marked seen here; MarkSeen is
// called only after successful intake.
func (c *Client) FetchUnseen(ctx context.Context, max int) ([]Message, error) {
	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	return c.fetch(ctx, criteria, max)
}

// FetchSince returns up to max messages received since the given time,
// regardless of seen state. Used by the backfill command; the dedup gate
// makes overlap with live polling safe.
func (c *Client) FetchSince(ctx context.Context, since time.Time, max int) ([]Message, error) {
	criteria := &imap.SearchCriteria{
		Since: since,
	}
	return c.fetch(ctx, criteria, max)
}

func (c *Client) fetch(ctx context.Context, criteria *imap.SearchCriteria, max int) ([]Message, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return nil, fmt.Errorf("select INBOX: %w", err)
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if max > 0 && len(uids) > max {
		uids = uids[:max]
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), fetchOpts)
	defer fetchCmd.Close()

	var messages []Message
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		parsed := parseMessage(buf, bodySection)
		parsed.Mailbox = c.cfg.Alias
		messages = append(messages, parsed)
	}

	if err := fetchCmd.Close(); err != nil {
		return messages, fmt.Errorf("fetch messages: %w", err)
	}

	return messages, nil
}

// MarkSeen flags the message as consumed so the next unseen search skips it.
func (c *Client) MarkSeen(ctx context.Context, uid imap.UID) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return fmt.Errorf("select INBOX: %w", err)
	}

	storeCmd := client.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)

	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("mark seen UID %d: %w", uid, err)
	}
	return nil
}
