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

package keyproxy

import "errors"

var (
	// ErrInvalidMetadata is returned when key metadata cannot produce a key.
	ErrInvalidMetadata = errors.New("keyproxy: invalid key metadata")

	// ErrInvalidKey is returned for a malformed static key.
	ErrInvalidKey = errors.New("keyproxy: invalid static key")
)
