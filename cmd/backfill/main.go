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

// Historical Backfill Command
//
// Standalone CLI tool that ingests historical emails from the configured
// mailboxes within a lookback window and runs them through the normal
// pipeline. Intended for seeding data on new deployments; deduplication
// makes re-runs and overlap with the live poller safe.
//
// Usage:
//
//	go run ./cmd/backfill/ [--mailbox <alias>] [--since 720h] [--max 200]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/slyfone/autoresponder/internal/backfill"
	"github.com/slyfone/autoresponder/internal/classifier"
	"github.com/slyfone/autoresponder/internal/config"
	"github.com/slyfone/autoresponder/internal/dedup"
	"github.com/slyfone/autoresponder/internal/intake"
	"github.com/slyfone/autoresponder/internal/mailbox"
	"github.com/slyfone/autoresponder/internal/mailer"
	"github.com/slyfone/autoresponder/internal/oracle"
	"github.com/slyfone/autoresponder/internal/pipeline"
	"github.com/slyfone/autoresponder/internal/responder"
	"github.com/slyfone/autoresponder/internal/store"
	"github.com/slyfone/autoresponder/internal/taxonomy"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	mailboxFlag := flag.String("mailbox", "", "Mailbox alias to backfill (optional; empty = all configured mailboxes)")
	sinceFlag := flag.String("since", "720h", "Lookback duration (e.g. 168h for 1 week, 720h for 30 days)")
	maxFlag := flag.Int("max", 0, "Per-mailbox message cap (0 = no cap)")
	flag.Parse()

	sinceDuration, err := time.ParseDuration(*sinceFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid --since duration %q: %v\n", *sinceFlag, err)
		os.Exit(1)
	}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	st, err := store.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise store", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	filter := dedup.NewFilter(rdb)

	// --- Taxonomy + adapters ---
	tree, err := taxonomy.Load(cfg.TaxonomyPath)
	if err != nil {
		slog.Error("failed to load taxonomy", "error", err)
		os.Exit(1)
	}

	oracleClient := oracle.NewClient(cfg.Oracle)
	pipe := pipeline.New(
		st,
		classifier.New(oracleClient, tree),
		responder.New(oracleClient, cfg.SignatureName, cfg.SignatureTeam),
		mailer.New(cfg.SMTP, st),
	)
	gate := intake.NewGate(filter, st)

	// --- Select mailboxes ---
	var sources []backfill.Source
	for _, m := range cfg.Mailboxes {
		if *mailboxFlag != "" && m.Alias != *mailboxFlag {
			continue
		}
		sources = append(sources, mailbox.NewClient(m))
	}
	if len(sources) == 0 {
		slog.Error("no matching mailboxes", "mailbox", *mailboxFlag)
		os.Exit(1)
	}

	// --- Run ---
	runner := backfill.NewRunner(sources, gate, pipe)
	result, err := runner.Run(ctx, backfill.Request{
		Since: sinceDuration,
		Max:   *maxFlag,
	})
	if err != nil {
		slog.Error("backfill failed", "error", err)
		os.Exit(1)
	}

	for _, mr := range result.Mailboxes {
		fmt.Printf("%-24s fetched=%-5d admitted=%-5d skipped=%-5d errors=%d\n",
			mr.Alias, mr.Fetched, mr.Admitted, mr.Skipped, mr.Errors)
	}
	fmt.Printf("\nTotal: %d admitted, %d skipped in %s\n",
		result.TotalAdmitted, result.TotalSkipped, result.Elapsed.Round(time.Millisecond))
}
