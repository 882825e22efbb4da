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

package runlock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// testClient connects to TEST_REDIS_URL or skips.
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse TEST_REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

// TestLock_Exclusive verifies a second lock fails until the first is released.
func TestLock_Exclusive(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	l := NewLocker(rdb, time.Minute)
	key := "test-" + uuid.New().String()

	unlock, err := l.Lock(ctx, key)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}

	if _, err := l.Lock(ctx, key); !errors.Is(err, ErrHeld) {
		t.Fatalf("second lock err = %v, want ErrHeld", err)
	}

	if err := unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	unlock2, err := l.Lock(ctx, key)
	if err != nil {
		t.Fatalf("relock after release: %v", err)
	}
	unlock2(ctx)
}

// TestLock_ReleaseKeepsForeignLock verifies a stale release does not delete
// a lock that now belongs to another run.
func TestLock_ReleaseKeepsForeignLock(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	l := NewLocker(rdb, time.Minute)
	key := "test-" + uuid.New().String()

	unlock, err := l.Lock(ctx, key)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	// Simulate expiry and takeover by another run.
	rdb.Set(ctx, keyPrefix+key, "someone-else", time.Minute)
	defer rdb.Del(ctx, keyPrefix+key)

	if err := unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if got, _ := rdb.Get(ctx, keyPrefix+key).Result(); got != "someone-else" {
		t.Errorf("foreign lock value = %q, want someone-else", got)
	}
}

func TestNewLocker_DefaultTTL(t *testing.T) {
	if l := NewLocker(nil, 0); l.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", l.ttl, DefaultTTL)
	}
}
