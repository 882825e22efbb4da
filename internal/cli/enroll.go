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
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bcem/chatdm/internal/auth"
)

// NewEnrollCommand creates the enroll command: device-code sign-in of the
// service account, which seeds the token cache used by run and serve.
func NewEnrollCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enroll",
		Short: "Sign in the service account and write the token cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.Config
			if err := cfg.Validate(); err != nil {
				return err
			}
			key, err := auth.ParseCacheKey(cfg.TokenCacheKey)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			acct, err := auth.Enroll(ctx, auth.EnrollConfig{
				OAuth:     auth.OAuthConfig(cfg.ClientID, cfg.TenantID),
				TenantID:  cfg.TenantID,
				CachePath: cfg.TokenCachePath,
				CacheKey:  key,
				Out:       cmd.OutOrStdout(),
			})
			if err != nil {
				return fmt.Errorf("enroll: %w", err)
			}

			slog.Info("enrollment complete",
				"username", acct.Username,
				"cache_path", cfg.TokenCachePath,
				"sealed", key != nil,
			)
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s; token cache written to %s\n", acct.Username, cfg.TokenCachePath)
			return nil
		},
	}
}
