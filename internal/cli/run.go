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
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bcem/chatdm/internal/dispatch"
	"github.com/bcem/chatdm/internal/models"
)

// NewRunCommand creates the run command: one synchronous batch run.
func NewRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Process the workbook once and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			summary, err := runOnce(ctx, opts)
			status, body := dispatch.Response(summary, err)
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", status, body)
			if status != 200 {
				return &ExitError{Code: 1}
			}
			return nil
		},
	}
}

func runOnce(ctx context.Context, opts *RootOptions) (*models.RunSummary, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, configError(err)
	}
	a, err := newApp(ctx, opts.Config)
	if err != nil {
		return nil, configError(err)
	}
	defer a.Close()
	return a.runner.Run(ctx)
}
