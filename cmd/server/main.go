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

// Support-email autoresponder service.
//
// Entry point for the autoresponder. It:
//  1. Loads configuration from config.yaml
//  2. Connects to PostgreSQL and Redis
//  3. Resumes any records a previous run left mid-pipeline
//  4. Runs the mailbox polling loop (fetch, classify, generate, send)
//  5. Serves the health and operator endpoints
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/slyfone/autoresponder/internal/api"
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

	slog.Info("starting autoresponder service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"mailboxes", len(cfg.Mailboxes),
		"poll_interval", cfg.PollInterval,
		"max_per_cycle", cfg.MaxPerCycle,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

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

	filter := dedup.NewFilter(rdb)
	if err := filter.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Taxonomy ---
	tree, err := taxonomy.Load(cfg.TaxonomyPath)
	if err != nil {
		slog.Error("failed to load taxonomy", "error", err)
		os.Exit(1)
	}
	slog.Info("taxonomy loaded", "version", tree.Version, "categories", len(tree.Categories))

	// --- Adapters ---
	oracleClient := oracle.NewClient(cfg.Oracle)
	cls := classifier.New(oracleClient, tree)
	gen := responder.New(oracleClient, cfg.SignatureName, cfg.SignatureTeam)
	sender := mailer.New(cfg.SMTP, st)

	// --- Pipeline + intake gate ---
	pipe := pipeline.New(st, cls, gen, sender)
	gate := intake.NewGate(filter, st)

	// --- Mailbox connectors ---
	var sources []pipeline.Source
	for _, m := range cfg.Mailboxes {
		sources = append(sources, mailbox.NewClient(m))
	}

	// --- Recovery scan: finish what a previous run started ---
	if err := pipe.Resume(ctx, cfg.MaxPerCycle); err != nil {
		slog.Error("recovery scan failed", "error", err)
		os.Exit(1)
	}

	// --- Poller ---
	poller := pipeline.NewPoller(sources, gate, pipe,
		cfg.PollInterval, cfg.ErrorBackoff, cfg.MaxPerCycle)

	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		poller.Run(ctx)
	}()

	// --- Operator HTTP Server ---
	mux := http.NewServeMux()
	api.NewHandler(st, pipe, filter).Register(mux)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel() // Stop the poller between cycles

		// Let the in-flight cycle finish; records are resumable anyway.
		select {
		case <-pollerDone:
		case <-time.After(30 * time.Second):
			slog.Warn("poller did not stop in time")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("autoresponder listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("autoresponder stopped")
}
