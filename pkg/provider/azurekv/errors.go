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

package azurekv

import "errors"

var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("azurekv: invalid configuration")

	// ErrInvalidVaultURL is returned when an invalid vault URL is specified.
	ErrInvalidVaultURL = errors.New("azurekv: invalid vault URL")

	// ErrKeyNotFound is returned when a key is not found in Azure Key Vault.
	ErrKeyNotFound = errors.New("azurekv: key not found")
)
