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

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// Scopes are the delegated Graph permissions a run needs.
var Scopes = []string{"Chat.Create", "ChatMessage.Send", "User.Read", "offline_access"}

// A cached access token closer than this to expiry is refreshed.
const expiryLeeway = 5 * time.Minute

var (
	ErrNoCachedAccount     = errors.New("no cached account: run `chatdm enroll` and sign in as the service account")
	ErrSilentAcquireFailed = errors.New("silent token acquisition failed")
	ErrNotDelegatedToken   = errors.New("access token has no delegated scopes (scp); app-only credentials cannot send chat messages")
)

// Credential is a usable delegated bearer token.
type Credential struct {
	AccessToken string
	ExpiresAt   time.Time
	Account     string
	Claims      Claims
}

// OAuthConfig returns the public-client OAuth configuration for a tenant.
func OAuthConfig(clientID, tenantID string) *oauth2.Config {
	endpoint := microsoft.AzureADEndpoint(tenantID)
	endpoint.DeviceAuthURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/devicecode", tenantID)
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	return &oauth2.Config{
		ClientID: clientID,
		Endpoint: endpoint,
		Scopes:   Scopes,
	}
}

// Gate acquires the credential a run is allowed to use.
type Gate struct {
	cachePath  string
	cacheKey   *[32]byte
	oauth      *oauth2.Config
	httpClient *http.Client
	now        func() time.Time
}

// GateConfig holds the configuration for the credential gate.
type GateConfig struct {
	CachePath  string
	CacheKey   *[32]byte
	OAuth      *oauth2.Config
	HTTPClient *http.Client // token endpoint client; nil uses the default
}

// NewGate creates a credential gate.
func NewGate(cfg GateConfig) *Gate {
	return &Gate{
		cachePath:  cfg.CachePath,
		cacheKey:   cfg.CacheKey,
		oauth:      cfg.OAuth,
		httpClient: cfg.HTTPClient,
		now:        time.Now,
	}
}

// Acquire loads the token cache, silently obtains an access token for the
// first cached account and checks that it is delegated. The cache file is
// only read, never rewritten.
func (g *Gate) Acquire(ctx context.Context) (*Credential, error) {
	cache, err := ReadCache(g.cachePath, g.cacheKey)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("token cache not found", "path", g.cachePath)
		return nil, ErrNoCachedAccount
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSilentAcquireFailed, err)
	}
	if len(cache.Accounts) == 0 {
		return nil, ErrNoCachedAccount
	}

	slog.Info("token cache loaded", "path", g.cachePath, "accounts", len(cache.Accounts))

	account := cache.Accounts[0]
	tok, err := g.silentToken(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("%w for %s: %v", ErrSilentAcquireFailed, account.Username, err)
	}

	claims := DecodeClaims(tok.AccessToken)
	slog.Info("token claims (partial)",
		"scp", claims.Scopes,
		"roles", claims.Roles,
		"upn", claims.Username,
	)

	if !claims.Delegated() {
		return nil, ErrNotDelegatedToken
	}
	if missing := claims.MissingScopes(Scopes); len(missing) > 0 {
		slog.Warn("access token is missing scopes; sends may be refused", "missing", missing)
	}

	return &Credential{
		AccessToken: tok.AccessToken,
		ExpiresAt:   tok.Expiry,
		Account:     account.Username,
		Claims:      claims,
	}, nil
}

// silentToken reuses the cached access token while it is comfortably valid
// and grants every scope in Scopes, and otherwise redeems the refresh token.
func (g *Gate) silentToken(ctx context.Context, account Account) (*oauth2.Token, error) {
	if account.AccessToken != "" && account.ExpiresAt.After(g.now().Add(expiryLeeway)) {
		missing := DecodeClaims(account.AccessToken).MissingScopes(Scopes)
		if len(missing) == 0 {
			slog.Debug("using cached access token", "account", account.Username, "expires_at", account.ExpiresAt)
			return &oauth2.Token{AccessToken: account.AccessToken, Expiry: account.ExpiresAt}, nil
		}
		slog.Info("cached access token lacks scopes, refreshing",
			"account", account.Username,
			"missing", missing,
		)
	}

	if account.RefreshToken == "" {
		return nil, errors.New("cached account has no refresh token")
	}

	if g.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	}

	// An already-expired token forces the refresh grant.
	src := g.oauth.TokenSource(ctx, &oauth2.Token{
		RefreshToken: account.RefreshToken,
		Expiry:       time.Unix(1, 0),
	})
	tok, err := src.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, errors.New("token endpoint returned no access token")
	}
	return tok, nil
}
