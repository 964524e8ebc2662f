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

// Package cli implements the keycanary command line.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand returns the keycanary command tree.
func NewRootCommand() *cobra.Command {
	opts := NewOptions()

	root := &cobra.Command{
		Use:   "keycanary",
		Short: "Encryption key lifecycle manager",
		Long: `keycanary reconciles configured encryption keys with persisted
canaries, designates the active key and encrypts values under it.

Supported providers:
  - internal:      password-derived or static AES keys
  - hsm:           PKCS#11 hardware security modules
  - aws-kms:       AWS Key Management Service
  - gcp-kms:       Google Cloud KMS
  - azure-kv:      Azure Key Vault
  - vault-transit: HashiCorp Vault transit engine`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.ConfigFile, "config", "",
		"config file (default is $KEYCANARY_CONFIG or "+DefaultConfigFile+")")
	root.PersistentFlags().StringVarP(&opts.OutputFormat, "output", "o", string(OutputFormatText),
		"output format (text, json)")
	root.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false,
		"verbose output")

	root.AddCommand(
		newVersionCommand(opts),
		newCheckCommand(opts),
		newCanariesCommand(opts),
		newEncryptCommand(opts),
		newDecryptCommand(opts),
		newServeCommand(opts),
	)
	return root
}

// Execute runs the root command
func Execute() error {
	root := NewRootCommand()
	err := root.Execute()
	if err != nil {
		format, _ := root.PersistentFlags().GetString("output")
		_ = NewPrinter(format, root.ErrOrStderr()).PrintError(err)
	}
	return err
}
