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

package vault

import "errors"

var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("vault: invalid configuration")

	// ErrInvalidResponse is returned when Vault answers without the expected data.
	ErrInvalidResponse = errors.New("vault: invalid response")

	// ErrKeyNotFound is returned when the transit key does not exist.
	ErrKeyNotFound = errors.New("vault: key not found")
)
