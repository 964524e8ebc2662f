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

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-keycanary/internal/app"
)

func newCheckCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Map configured keys to canaries and report the key set",
		Long: `Maps every configured key to its canary, creating the active key
canary if this process is allowed to, and prints the resulting key set.
Exits non-zero when no active key can be established.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, a.Close()) }()

			canaries, err := a.Store.FindAll(cmd.Context())
			if err != nil {
				return err
			}
			return NewPrinter(opts.OutputFormat, cmd.OutOrStdout()).PrintKeySet(&KeySetSummary{
				ActiveKeyID:  a.Keys.ActiveUUID(),
				InactiveIDs:  a.Keys.InactiveUUIDs(),
				Canaries:     len(canaries),
				DeclaredKeys: a.Config.Keys(),
				Storage:      a.Config.Storage.Backend,
			})
		},
	}
}

func newCanariesCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "canaries",
		Short: "List persisted canaries without loading providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			store, closeStore, err := app.OpenStore(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, closeStore()) }()

			canaries, err := store.FindAll(cmd.Context())
			if err != nil {
				return err
			}
			return NewPrinter(opts.OutputFormat, cmd.OutOrStdout()).PrintCanaries(canaries)
		},
	}
}
