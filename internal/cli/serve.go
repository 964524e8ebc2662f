// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keycanary.
//
// go-keycanary is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-keycanary/internal/server"
)

func newServeCommand(opts *Options) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load keys and serve health and metrics",
		Long: `Maps keys, then serves /health, /health/live, /health/ready,
/health/startup and /metrics until interrupted. SIGHUP reloads the key set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := opts.openApp(ctx)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, a.Close()) }()

			cfg := a.Config.Server
			if listen != "" {
				cfg.ListenAddress = listen
			}
			return server.New(cfg, a.Keys, a.Store, a.Logger).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides server.listen_address)")
	return cmd
}
