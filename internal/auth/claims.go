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
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of access token claims the gate inspects.
type Claims struct {
	Scopes   []string // scp, space separated in the token
	Roles    []string // roles, present on app-only tokens
	Subject  string   // oid, falling back to sub
	Username string   // upn, falling back to preferred_username
}

// Delegated reports whether the token represents a signed-in user.
// App-only tokens carry roles but no scp.
func (c Claims) Delegated() bool {
	return len(c.Scopes) > 0
}

// MissingScopes returns the entries of required the token does not grant.
// OIDC scopes such as offline_access never appear in scp and are ignored.
func (c Claims) MissingScopes(required []string) []string {
	var missing []string
	for _, want := range required {
		if oidcScopes[strings.ToLower(want)] {
			continue
		}
		found := false
		for _, got := range c.Scopes {
			if strings.EqualFold(got, want) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, want)
		}
	}
	return missing
}

var oidcScopes = map[string]bool{"offline_access": true, "openid": true, "profile": true, "email": true}

// DecodeClaims reads the payload of a JWT without verifying its signature;
// Graph verifies the token, we only look at what it grants. A malformed
// token yields empty Claims.
func DecodeClaims(raw string) Claims {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, mc); err != nil {
		return Claims{}
	}

	return Claims{
		Scopes:   strings.Fields(stringClaim(mc, "scp")),
		Roles:    listClaim(mc, "roles"),
		Subject:  firstNonEmpty(stringClaim(mc, "oid"), stringClaim(mc, "sub")),
		Username: firstNonEmpty(stringClaim(mc, "upn"), stringClaim(mc, "preferred_username")),
	}
}

func stringClaim(mc jwt.MapClaims, name string) string {
	s, _ := mc[name].(string)
	return s
}

func listClaim(mc jwt.MapClaims, name string) []string {
	switch v := mc[name].(type) {
	case string:
		return strings.Fields(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
