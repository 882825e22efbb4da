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

// Package auth owns the delegated credential: the on-disk token cache written
// by the device-code enrollment, and the Gate that silently turns the cached
// refresh token into a short-lived Graph access token before a run.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/oauth2"
)

const (
	cacheVersion = 1
	sealedPrefix = "sealed:"
	nonceSize    = 24
)

// ErrCacheSealed is returned when a sealed cache is read without a key.
var ErrCacheSealed = errors.New("token cache is sealed and no cache key is configured")

// Account is one signed-in identity in the token cache.
type Account struct {
	Username      string    `json:"username"`
	HomeAccountID string    `json:"home_account_id,omitempty"`
	TenantID      string    `json:"tenant_id"`
	ClientID      string    `json:"client_id"`
	Scopes        []string  `json:"scopes,omitempty"`
	RefreshToken  string    `json:"refresh_token"`
	AccessToken   string    `json:"access_token,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
}

// Cache is the persisted credential bundle.
type Cache struct {
	Version  int       `json:"version"`
	Accounts []Account `json:"accounts"`
}

// Put stores acct as the first (default) account, replacing any entry with
// the same username.
func (c *Cache) Put(acct Account) {
	kept := []Account{acct}
	for _, a := range c.Accounts {
		if !strings.EqualFold(a.Username, acct.Username) {
			kept = append(kept, a)
		}
	}
	c.Accounts = kept
}

// ParseCacheKey decodes a base64 secretbox key. An empty string means the
// cache is stored unsealed.
func ParseCacheKey(s string) (*[32]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode cache key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("cache key must be 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// ReadCache loads the token cache. A missing file is reported with an error
// satisfying errors.Is(err, os.ErrNotExist).
func ReadCache(path string, key *[32]byte) (*Cache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token cache %s: %w", path, err)
	}

	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, sealedPrefix) {
		if key == nil {
			return nil, ErrCacheSealed
		}
		plain, err := open(strings.TrimPrefix(text, sealedPrefix), key)
		if err != nil {
			return nil, fmt.Errorf("unseal token cache: %w", err)
		}
		data = plain
	}

	var cache Cache
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &cache); err != nil {
			return nil, fmt.Errorf("parse token cache: %w", err)
		}
	}
	return &cache, nil
}

// WriteCache persists the cache with owner-only permissions, sealing it
// when a key is given. The file is replaced atomically.
func WriteCache(path string, cache *Cache, key *[32]byte) error {
	cache.Version = cacheVersion
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token cache: %w", err)
	}

	if key != nil {
		sealed, err := seal(data, key)
		if err != nil {
			return err
		}
		data = []byte(sealedPrefix + sealed)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".token-cache-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace token cache %s: %w", path, err)
	}
	return nil
}

// AccountFromToken builds a cache entry from a freshly issued token.
func AccountFromToken(username, tenantID, clientID string, scopes []string, tok *oauth2.Token) Account {
	return Account{
		Username:     username,
		TenantID:     tenantID,
		ClientID:     clientID,
		Scopes:       scopes,
		RefreshToken: tok.RefreshToken,
		AccessToken:  tok.AccessToken,
		ExpiresAt:    tok.Expiry.UTC(),
	}
}

func seal(plain []byte, key *[32]byte) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], plain, &nonce, key)
	return base64.StdEncoding.EncodeToString(box), nil
}

func open(encoded string, key *[32]byte) ([]byte, error) {
	box, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode sealed cache: %w", err)
	}
	if len(box) < nonceSize+secretbox.Overhead {
		return nil, errors.New("sealed cache too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, key)
	if !ok {
		return nil, errors.New("wrong cache key or corrupted cache")
	}
	return plain, nil
}
