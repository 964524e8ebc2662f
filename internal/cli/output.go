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
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-keycanary/internal/config"
	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// KeySetSummary describes the mapped key set.
type KeySetSummary struct {
	ActiveKeyID  uuid.UUID            `json:"active_key_id"`
	InactiveIDs  []uuid.UUID          `json:"inactive_key_ids"`
	Canaries     int                  `json:"canaries"`
	DeclaredKeys []config.DeclaredKey `json:"declared_keys"`
	Storage      string               `json:"storage"`
}

// PrintKeySet prints the result of mapping keys to canaries.
func (p *Printer) PrintKeySet(s *KeySetSummary) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(s)
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Active key:    %s\n", s.ActiveKeyID)
		fmt.Fprintf(p.writer, "Inactive keys: %d\n", len(s.InactiveIDs))
		for _, id := range s.InactiveIDs {
			fmt.Fprintf(p.writer, "  - %s\n", id)
		}
		fmt.Fprintf(p.writer, "Canaries:      %d (%s)\n", s.Canaries, s.Storage)
		fmt.Fprintln(p.writer, "Declared keys:")
		for _, k := range s.DeclaredKeys {
			marker := ""
			if k.Metadata.Active {
				marker = " [active]"
			}
			fmt.Fprintf(p.writer, "  - %s %s%s\n", k.Provider, k.Metadata.Name(), marker)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintCanaries prints persisted canaries.
func (p *Printer) PrintCanaries(canaries []*types.EncryptionKeyCanary) error {
	switch p.format {
	case OutputFormatJSON:
		list := make([]map[string]any, len(canaries))
		for i, c := range canaries {
			list[i] = map[string]any{
				"id":         c.ID,
				"created_at": c.CreatedAt,
				"salted":     c.HasSalt(),
				"size":       len(c.EncryptedCanaryValue),
			}
		}
		return p.printJSON(map[string]any{"canaries": list})
	case OutputFormatText:
		if len(canaries) == 0 {
			fmt.Fprintln(p.writer, "No canaries found")
			return nil
		}
		fmt.Fprintf(p.writer, "%-36s  %-20s  %-6s  %s\n", "ID", "CREATED", "SALTED", "SIZE")
		fmt.Fprintln(p.writer, strings.Repeat("-", 74))
		for _, c := range canaries {
			fmt.Fprintf(p.writer, "%-36s  %-20s  %-6t  %d\n",
				c.ID, c.CreatedAt.UTC().Format(time.RFC3339), c.HasSalt(), len(c.EncryptedCanaryValue))
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintEncryptedValue prints an encrypted value with base64 fields.
func (p *Printer) PrintEncryptedValue(v *types.EncryptedValue) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(v)
	case OutputFormatText:
		fmt.Fprintf(p.writer, "key_id:     %s\n", v.KeyID)
		fmt.Fprintf(p.writer, "ciphertext: %s\n", base64.StdEncoding.EncodeToString(v.Ciphertext))
		fmt.Fprintf(p.writer, "nonce:      %s\n", base64.StdEncoding.EncodeToString(v.Nonce))
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintDecryptedData prints decrypted plaintext. A nil plaintext is an
// absent value.
func (p *Printer) PrintDecryptedData(plaintext *string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{"plaintext": plaintext})
	case OutputFormatText:
		if plaintext == nil {
			fmt.Fprintln(p.writer, "<absent>")
			return nil
		}
		fmt.Fprintln(p.writer, *plaintext)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{
			"status": "error",
			"error":  err.Error(),
		})
	default:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	}
}

// printJSON prints data as JSON
func (p *Printer) printJSON(data any) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
