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

package graph

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bcem/chatdm/internal/models"
)

// usersResponse is the /users collection envelope.
type usersResponse struct {
	Value []models.Identity `json:"value"`
}

// FindUserByEmail resolves an address against both mail and
// userPrincipalName. It returns nil, nil when the directory has no match.
func (c *Client) FindUserByEmail(ctx context.Context, token, email string) (*models.Identity, error) {
	params := url.Values{}
	params.Set("$filter", userFilter(email))
	params.Set("$select", "id,displayName,mail,userPrincipalName")

	var page usersResponse
	if err := c.Do(ctx, http.MethodGet, "/users?"+params.Encode(), token, nil, &page); err != nil {
		return nil, fmt.Errorf("find user %s: %w", email, err)
	}

	if len(page.Value) == 0 {
		return nil, nil
	}
	return &page.Value[0], nil
}

// userFilter builds the OData filter. Single quotes are doubled so row data
// cannot break out of the string literal.
func userFilter(email string) string {
	safe := strings.ReplaceAll(strings.TrimSpace(email), "'", "''")
	return fmt.Sprintf("mail eq '%s' or userPrincipalName eq '%s'", safe, safe)
}
