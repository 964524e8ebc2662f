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

package gcpkms

import "errors"

var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("gcpkms: invalid configuration")

	// ErrKeyNotFound is returned when a crypto key does not exist.
	ErrKeyNotFound = errors.New("gcpkms: key not found")

	// ErrChecksumMismatch is returned when a CRC32C integrity check fails.
	ErrChecksumMismatch = errors.New("gcpkms: checksum mismatch")
)
