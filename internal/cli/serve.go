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

	"github.com/bcem/chatdm/internal/server"
)

// NewServeCommand creates the serve command: an HTTP trigger for runs.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve POST /api/send to trigger runs over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.Config
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return fmt.Errorf("initialise: %w", err)
			}
			defer a.Close()

			handler := server.NewHandler(server.Config{
				Runner:  a.runner,
				History: a.history,
				Health:  a.health,
			})
			ready, done, err := server.Serve(ctx, cfg.Port, handler)
			if err != nil {
				return err
			}
			<-ready
			slog.Info("chatdm server ready",
				"port", cfg.Port,
				"workbook", cfg.WorkbookPath,
			)

			if err := <-done; err != nil {
				return fmt.Errorf("server: %w", err)
			}
			slog.Info("chatdm server stopped")
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default $PORT or 8080)")
	return cmd
}
