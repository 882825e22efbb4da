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

// Package runlock provides a Redis lock that keeps two runs from working on
// the same workbook at once. The end-of-run flush overwrites the file, so
// overlapping runs would silently drop each other's results.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a crashed run can block the next one.
	DefaultTTL = 30 * time.Minute

	// keyPrefix namespaces lock keys in Redis.
	keyPrefix = "chatdm:run:"
)

// ErrHeld is returned when another run owns the lock.
var ErrHeld = errors.New("run lock is held by another run")

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out per-workbook run locks.
type Locker struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewLocker creates a lock backed by Redis.
func NewLocker(rdb *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Locker{rdb: rdb, ttl: ttl}
}

// Lock takes the lock for key. The returned function releases it; releasing
// a lock that expired and was taken by someone else is a no-op.
func (l *Locker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	redisKey := keyPrefix + key
	token := uuid.New().String()

	// SET NX = set only if key does not exist.
	ok, err := l.rdb.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock SETNX: %w", err)
	}
	if !ok {
		holder, _ := l.rdb.Get(ctx, redisKey).Result()
		slog.Warn("run lock held", "key", key, "holder", holder)
		return nil, ErrHeld
	}

	slog.Debug("run lock acquired", "key", key, "ttl", l.ttl)

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.rdb, []string{redisKey}, token).Err(); err != nil {
			return fmt.Errorf("release run lock: %w", err)
		}
		return nil
	}, nil
}

// Ping checks the Redis connection.
func (l *Locker) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return l.rdb.Ping(ctx).Err()
}
