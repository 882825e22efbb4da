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

// Package graph is a small Microsoft Graph REST client. Every request goes
// through Client.Do, which authenticates with a delegated bearer token,
// applies a per-attempt timeout and retries throttled or transient failures
// with exponential backoff. The directory lookup and chat operations are thin
// parameterisations of it.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultMaxAttempts = 3

	// defaultRetryAfter is used when a throttled response carries no
	// usable Retry-After header.
	defaultRetryAfter = 2
	maxJitter         = 200 * time.Millisecond

	// Bounds on the Retry-After seconds and on the doubled delay.
	maxRetryAfter = 120
	maxBackoff    = 10 * time.Minute
)

// Client executes authenticated Graph API requests.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	timeout     time.Duration
	maxAttempts int

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// ClientConfig holds the configuration for a Graph client.
type ClientConfig struct {
	HTTPClient  *http.Client
	BaseURL     string
	Timeout     time.Duration // per attempt
	MaxAttempts int
}

// NewClient creates a Graph API client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &Client{
		httpClient:  httpClient,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		timeout:     timeout,
		maxAttempts: attempts,
		sleep:       sleepContext,
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(maxJitter)))
		},
	}
}

// Do sends one logical request. path may be absolute or relative to the
// client's base URL. body, when non-nil, is sent as JSON; a 2xx response is
// decoded into out when out is non-nil.
//
// Only HTTP 429 and 5xx responses are retried. Any other status, a transport
// error or an undecodable success body fails the call immediately. When
// retries run out the last *RemoteError is returned.
func (c *Client) Do(ctx context.Context, method, path, token string, body, out any) error {
	url := path
	if strings.HasPrefix(path, "/") {
		url = c.baseURL + path
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		resp, err := c.attempt(ctx, method, url, token, payload)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}

		if resp.status >= 200 && resp.status < 300 {
			if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
				return nil
			}
			if err := json.Unmarshal(resp.body, out); err != nil {
				return fmt.Errorf("decode %s %s response: %w", method, path, err)
			}
			return nil
		}

		remoteErr := newRemoteError(resp.status, resp.body)
		if !remoteErr.Retryable() || attempt == c.maxAttempts-1 {
			return remoteErr
		}

		delay := backoffDelay(resp.retryAfter, attempt) + c.jitter()
		slog.Warn("transient Graph error, backing off",
			"status", resp.status,
			"method", method,
			"path", path,
			"attempt", attempt+1,
			"backoff", delay,
		)
		if err := c.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
	}

	// unreachable: the loop always returns on its final attempt
	return fmt.Errorf("%s %s: no attempts made", method, path)
}

type attemptResult struct {
	status     int
	body       []byte
	retryAfter string
}

// attempt performs a single HTTP round trip bounded by the per-attempt timeout.
func (c *Client) attempt(ctx context.Context, method, url, token string, payload []byte) (*attemptResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &attemptResult{
		status:     resp.StatusCode,
		body:       body,
		retryAfter: resp.Header.Get("Retry-After"),
	}, nil
}

// backoffDelay returns retryAfter seconds (default 2, at most 120) doubled
// per attempt and capped at maxBackoff.
// Jitter is added by the caller.
func backoffDelay(retryAfter string, attempt int) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(retryAfter))
	if err != nil || secs <= 0 {
		secs = defaultRetryAfter
	}
	secs = min(secs, maxRetryAfter)
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 16 {
		return maxBackoff
	}
	return min(time.Duration(secs)*time.Second<<attempt, maxBackoff)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
