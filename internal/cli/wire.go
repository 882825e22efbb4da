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

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/chatdm/internal/auth"
	"github.com/bcem/chatdm/internal/config"
	"github.com/bcem/chatdm/internal/dispatch"
	"github.com/bcem/chatdm/internal/graph"
	"github.com/bcem/chatdm/internal/ledger"
	"github.com/bcem/chatdm/internal/queue"
	"github.com/bcem/chatdm/internal/runlock"
	"github.com/bcem/chatdm/internal/server"
	"github.com/bcem/chatdm/internal/workbook"
)

// app is the wired object graph shared by run and serve.
type app struct {
	runner  *dispatch.Runner
	history server.History
	health  []server.HealthCheck
	closers []func()
}

// Close releases every connection opened by newApp, last opened first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp builds the runner and its optional Redis and ledger backends.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	cacheKey, err := auth.ParseCacheKey(cfg.TokenCacheKey)
	if err != nil {
		return nil, &dispatch.RunError{Kind: dispatch.KindConfig, Err: err}
	}

	gate := auth.NewGate(auth.GateConfig{
		CachePath: cfg.TokenCachePath,
		CacheKey:  cacheKey,
		OAuth:     auth.OAuthConfig(cfg.ClientID, cfg.TenantID),
	})

	client := graph.NewClient(graph.ClientConfig{
		BaseURL:     cfg.GraphBaseURL,
		Timeout:     cfg.RequestTimeout,
		MaxAttempts: cfg.MaxAttempts,
	})

	store := workbook.NewStore(cfg.WorkbookPath)
	a.closers = append(a.closers, func() { store.Close() })

	runnerCfg := dispatch.RunnerConfig{
		Gate:                gate,
		Directory:           client,
		Messenger:           client,
		Store:               store,
		ServiceAccountEmail: cfg.ServiceAccountEmail,
		LockKey:             store.Path(),
	}

	// --- Redis: run lock and outcome events ---
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, &dispatch.RunError{Kind: dispatch.KindConfig, Err: fmt.Errorf("invalid REDIS_URL: %w", err)}
		}
		rdb := redis.NewClient(opt)
		a.closers = append(a.closers, func() { rdb.Close() })

		locker := runlock.NewLocker(rdb, cfg.LockTTL)
		if err := locker.Ping(ctx); err != nil {
			a.Close()
			return nil, &dispatch.RunError{Kind: dispatch.KindLock, Err: fmt.Errorf("connect to Redis: %w", err)}
		}
		runnerCfg.Locker = locker
		a.health = append(a.health, server.HealthCheck{Name: "redis", Check: locker.Ping})
		slog.Info("connected to Redis")

		if cfg.OutcomeQueue != "" {
			runnerCfg.Journals = append(runnerCfg.Journals, queue.NewPublisher(rdb, cfg.OutcomeQueue))
			slog.Info("publishing outcome events", "queue", cfg.OutcomeQueue)
		}
	}

	// --- Audit ledger ---
	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, &dispatch.RunError{Kind: dispatch.KindConfig, Err: fmt.Errorf("create Postgres pool: %w", err)}
		}
		a.closers = append(a.closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			a.Close()
			return nil, &dispatch.RunError{Kind: dispatch.KindStore, Err: fmt.Errorf("connect to PostgreSQL: %w", err)}
		}
		l, err := ledger.NewPostgres(ctx, pool)
		if err != nil {
			a.Close()
			return nil, &dispatch.RunError{Kind: dispatch.KindStore, Err: err}
		}
		runnerCfg.Journals = append(runnerCfg.Journals, l)
		a.history = l
		a.health = append(a.health, server.HealthCheck{Name: "postgres", Check: pool.Ping})

	case cfg.LedgerPath != "":
		l, err := ledger.OpenSQLite(ctx, cfg.LedgerPath)
		if err != nil {
			a.Close()
			return nil, &dispatch.RunError{Kind: dispatch.KindStore, Err: err}
		}
		a.closers = append(a.closers, func() { l.Close() })
		runnerCfg.Journals = append(runnerCfg.Journals, l)
		a.history = l
	}

	a.runner = dispatch.NewRunner(runnerCfg)
	return a, nil
}

// configError wraps a validation failure as a run-fatal config error.
func configError(err error) error {
	var re *dispatch.RunError
	if errors.As(err, &re) {
		return err
	}
	return &dispatch.RunError{Kind: dispatch.KindConfig, Err: err}
}
