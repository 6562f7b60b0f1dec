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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MailboxConfig holds IMAP credentials for a single polled mailbox.
// When ClientID/ClientSecret/TokenURL are set the connector authenticates
// with OAUTHBEARER instead of a password.
type MailboxConfig struct {
	Alias        string `yaml:"alias"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
}

// OracleConfig holds credentials and tuning for the reasoning oracle.
type OracleConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// SMTPConfig holds outbound transport credentials.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Config holds all configuration for the autoresponder service.
type Config struct {
	Mailboxes []MailboxConfig

	// Poller
	PollInterval time.Duration
	MaxPerCycle  int
	ErrorBackoff time.Duration

	// Oracle
	Oracle OracleConfig

	// Delivery
	SMTP SMTPConfig

	// Signature appended to drafts that lack one.
	SignatureName string
	SignatureTeam string

	// Storage
	DatabaseURL string
	RedisURL    string

	// Taxonomy file (empty = builtin tree)
	TaxonomyPath string

	// Server (health + ops endpoints)
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Mailboxes []MailboxConfig `yaml:"mailboxes"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Oracle    struct {
		APIKey string `yaml:"api_key"`
		Model  string `yaml:"model"`
	} `yaml:"oracle"`
	Signature struct {
		Name string `yaml:"name"`
		Team string `yaml:"team"`
	} `yaml:"signature"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Taxonomy string `yaml:"taxonomy"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		PollInterval: envOrDefaultDuration("POLL_INTERVAL", 60*time.Second),
		MaxPerCycle:  envOrDefaultInt("MAX_EMAILS_PER_CYCLE", 10),
		ErrorBackoff: envOrDefaultDuration("ERROR_BACKOFF", 30*time.Second),
		Oracle: OracleConfig{
			APIKey:    firstNonEmpty(raw.Oracle.APIKey, os.Getenv("ANTHROPIC_API_KEY")),
			Model:     firstNonEmpty(raw.Oracle.Model, envOrDefault("ORACLE_MODEL", "claude-3-opus-20240229")),
			MaxTokens: envOrDefaultInt("ORACLE_MAX_TOKENS", 2000),
			Timeout:   envOrDefaultDuration("ORACLE_TIMEOUT", 30*time.Second),
		},
		SMTP:          raw.SMTP,
		SignatureName: firstNonEmpty(raw.Signature.Name, envOrDefault("SIGNATURE_NAME", "Dee")),
		SignatureTeam: firstNonEmpty(raw.Signature.Team, envOrDefault("SIGNATURE_TEAM", "SLYFONE Support Team")),
		DatabaseURL:   firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "postgres://localhost:5432/autoresponder")),
		RedisURL:      firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		TaxonomyPath:  firstNonEmpty(raw.Taxonomy, os.Getenv("TAXONOMY_PATH")),
		Port:          envOrDefaultInt("PORT", 8080),
	}

	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 465
	}
	if cfg.SMTP.From == "" {
		cfg.SMTP.From = cfg.SMTP.Username
	}

	// Build mailbox configs
	for _, m := range raw.Mailboxes {
		// Skip mailboxes with empty credentials (commented out in YAML)
		if m.Host == "" || m.Username == "" {
			continue
		}
		if m.Password == "" && m.ClientSecret == "" {
			continue
		}

		if m.Port == 0 {
			m.Port = 993
		}
		if m.Alias == "" {
			m.Alias = m.Username
		}

		cfg.Mailboxes = append(cfg.Mailboxes, m)
	}

	if len(cfg.Mailboxes) == 0 {
		return nil, fmt.Errorf("no mailboxes configured, check config.yaml and environment variables")
	}

	if cfg.Oracle.APIKey == "" {
		return nil, fmt.Errorf("oracle API key is required (oracle.api_key or ANTHROPIC_API_KEY)")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
