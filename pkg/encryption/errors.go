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

package encryption

import "errors"

var (
	// ErrKeyNotFound is returned when a value names a key id that is not in
	// the key set. It is never retried.
	ErrKeyNotFound = errors.New("encryption: key not found")

	// ErrNilValue is returned when decrypting a nil value through the
	// service.
	ErrNilValue = errors.New("encryption: nil encrypted value")
)
