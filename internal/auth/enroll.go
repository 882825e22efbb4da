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
	"io"
	"log/slog"
	"net/http"
	"os"

	"golang.org/x/oauth2"
)

// EnrollConfig holds the configuration for a device-code sign-in.
type EnrollConfig struct {
	OAuth      *oauth2.Config
	TenantID   string
	CachePath  string
	CacheKey   *[32]byte
	HTTPClient *http.Client
	Out        io.Writer // where the sign-in instructions are printed
}

// Enroll runs the OAuth device-code flow for the service account and stores
// the resulting refresh token as the default account in the token cache.
func Enroll(ctx context.Context, cfg EnrollConfig) (*Account, error) {
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}

	// openid/profile give us an id token to name the account with
	oc := *cfg.OAuth
	oc.Scopes = append(append([]string{}, cfg.OAuth.Scopes...), "openid", "profile")

	da, err := oc.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("request device code: %w", err)
	}

	fmt.Fprintf(cfg.Out, "To sign in, use a web browser to open the page %s and enter the code %s to authenticate.\n",
		da.VerificationURI, da.UserCode)

	tok, err := oc.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, fmt.Errorf("device code sign-in: %w", err)
	}
	if tok.RefreshToken == "" {
		return nil, errors.New("device code sign-in returned no refresh token; is offline_access granted?")
	}

	username := accountName(tok)
	account := AccountFromToken(username, cfg.TenantID, oc.ClientID, cfg.OAuth.Scopes, tok)

	cache, err := ReadCache(cfg.CachePath, cfg.CacheKey)
	if errors.Is(err, os.ErrNotExist) {
		cache = &Cache{}
	} else if err != nil {
		return nil, err
	}
	cache.Put(account)

	if err := WriteCache(cfg.CachePath, cache, cfg.CacheKey); err != nil {
		return nil, err
	}

	slog.Info("sign-in complete, token cache written",
		"account", username,
		"path", cfg.CachePath,
		"sealed", cfg.CacheKey != nil,
	)
	return &account, nil
}

// accountName prefers the id token's preferred_username and falls back to
// the access token's upn.
func accountName(tok *oauth2.Token) string {
	if idToken, ok := tok.Extra("id_token").(string); ok {
		if c := DecodeClaims(idToken); c.Username != "" {
			return c.Username
		}
	}
	return DecodeClaims(tok.AccessToken).Username
}
