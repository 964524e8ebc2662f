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
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

func newEncryptCommand(opts *Options) *cobra.Command {
	var absent bool

	cmd := &cobra.Command{
		Use:   "encrypt [plaintext]",
		Short: "Encrypt a value under the active key",
		Long: `Encrypts the argument, or stdin when no argument is given, under the
active key. With --absent an absent value is encoded without calling any
provider.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			var plaintext *string
			if !absent {
				s, err := argOrStdin(cmd, args)
				if err != nil {
					return err
				}
				plaintext = &s
			}

			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, a.Close()) }()

			value, err := a.Encryptor.Encrypt(cmd.Context(), plaintext)
			if err != nil {
				return err
			}
			return NewPrinter(opts.OutputFormat, cmd.OutOrStdout()).PrintEncryptedValue(value)
		},
	}
	cmd.Flags().BoolVar(&absent, "absent", false, "encode an absent value")
	return cmd
}

func newDecryptCommand(opts *Options) *cobra.Command {
	var keyID, ciphertext, nonce string

	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt a value",
		Long: `Decrypts the value given by --key-id, --ciphertext and --nonce
(base64). Without flags a JSON encrypted value is read from stdin, as
printed by "keycanary encrypt -o json".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			value, err := parseEncryptedValue(cmd.InOrStdin(), keyID, ciphertext, nonce)
			if err != nil {
				return err
			}

			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, a.Close()) }()

			plaintext, err := a.Encryptor.Decrypt(cmd.Context(), value)
			if err != nil {
				return err
			}
			return NewPrinter(opts.OutputFormat, cmd.OutOrStdout()).PrintDecryptedData(plaintext)
		},
	}
	cmd.Flags().StringVar(&keyID, "key-id", "", "key id the value was encrypted under")
	cmd.Flags().StringVar(&ciphertext, "ciphertext", "", "base64 ciphertext")
	cmd.Flags().StringVar(&nonce, "nonce", "", "base64 nonce")
	return cmd
}

func argOrStdin(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimSuffix(string(data), "\n"), nil
}

// parseEncryptedValue builds a value from flags, or decodes JSON from r
// when every flag is empty.
func parseEncryptedValue(r io.Reader, keyID, ciphertext, nonce string) (*types.EncryptedValue, error) {
	if keyID == "" && ciphertext == "" && nonce == "" {
		var v types.EncryptedValue
		if err := json.NewDecoder(r).Decode(&v); err != nil {
			return nil, fmt.Errorf("failed to decode encrypted value: %w", err)
		}
		return &v, nil
	}

	id, err := uuid.Parse(keyID)
	if err != nil {
		return nil, fmt.Errorf("invalid --key-id: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("invalid --ciphertext: %w", err)
	}
	var n []byte
	if nonce != "" {
		if n, err = base64.StdEncoding.DecodeString(nonce); err != nil {
			return nil, fmt.Errorf("invalid --nonce: %w", err)
		}
	}
	return &types.EncryptedValue{KeyID: id, Ciphertext: ct, Nonce: n}, nil
}
