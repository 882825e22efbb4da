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

// Package config loads configuration from an optional config.yaml, a .env
// file and environment variables. The resulting Config is built once in main
// and passed to every component; nothing else reads the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultGraphBaseURL is the Microsoft Graph v1.0 endpoint.
const DefaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

// Config holds all configuration for the sender.
type Config struct {
	// Azure AD public client registration
	ClientID string `yaml:"client_id" env:"CLIENT_ID"`
	TenantID string `yaml:"tenant_id" env:"TENANT_ID"`

	// Account the chats are sent from; must match the cached sign-in.
	ServiceAccountEmail string `yaml:"service_account_email" env:"SERVICE_ACCOUNT_EMAIL"`

	// Token cache written by `chatdm enroll`
	TokenCachePath string `yaml:"token_cache_path" env:"TOKEN_CACHE_PATH"`
	TokenCacheKey  string `yaml:"token_cache_key" env:"TOKEN_CACHE_KEY"`

	// Checkpoint workbook
	WorkbookPath string `yaml:"workbook_path" env:"EXCEL_PATH"`

	// Graph API
	GraphBaseURL   string        `yaml:"graph_base_url" env:"GRAPH_BASE_URL"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	MaxAttempts    int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`

	// Redis (optional): run lock and outcome events
	RedisURL     string        `yaml:"redis_url" env:"REDIS_URL"`
	LockTTL      time.Duration `yaml:"lock_ttl" env:"LOCK_TTL"`
	OutcomeQueue string        `yaml:"outcome_queue" env:"OUTCOME_QUEUE"`

	// Audit ledger (optional): Postgres wins over SQLite when both are set
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	LedgerPath  string `yaml:"ledger_path" env:"LEDGER_PATH"`

	// Server
	Port     int    `yaml:"port" env:"PORT"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		TokenCachePath: "token-cache.json",
		WorkbookPath:   "recipients.xlsx",
		GraphBaseURL:   DefaultGraphBaseURL,
		RequestTimeout: 15 * time.Second,
		MaxAttempts:    3,
		LockTTL:        30 * time.Minute,
		Port:           8080,
		LogLevel:       "info",
	}
}

// Load builds the configuration. configPath may be empty, in which case
// CONFIG_PATH is consulted; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	// .env is optional, like dotenv in local development
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}

	cfg := Default()
	baseDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// fall through to env only
		case err != nil:
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		default:
			// Expand ${VAR} references in the YAML
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("parse config YAML: %w", err)
			}
			baseDir = filepath.Dir(configPath)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.TokenCachePath = resolvePath(baseDir, cfg.TokenCachePath)
	cfg.WorkbookPath = resolvePath(baseDir, cfg.WorkbookPath)
	cfg.LedgerPath = resolvePath(baseDir, cfg.LedgerPath)
	cfg.GraphBaseURL = strings.TrimRight(cfg.GraphBaseURL, "/")

	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	return cfg, nil
}

// Validate checks the settings every subcommand needs to talk to Azure AD.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.ClientID) == "" {
		missing = append(missing, "CLIENT_ID")
	}
	if strings.TrimSpace(c.TenantID) == "" {
		missing = append(missing, "TENANT_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func resolvePath(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
