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

package provider

import "errors"

var (
	// ErrInvalidConfig is returned when a provider section is invalid.
	ErrInvalidConfig = errors.New("provider: invalid configuration")

	// ErrFactoryClosed is returned after Close has been called.
	ErrFactoryClosed = errors.New("provider: factory closed")
)
