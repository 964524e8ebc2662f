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

package awskms

import "errors"

var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("awskms: invalid configuration")

	// ErrInvalidRegion is returned when an invalid AWS region is specified.
	ErrInvalidRegion = errors.New("awskms: invalid region")

	// ErrKeyNotFound is returned when a key is not found in KMS.
	ErrKeyNotFound = errors.New("awskms: key not found")

	// ErrKeyDisabled is returned when a key exists but cannot be used.
	ErrKeyDisabled = errors.New("awskms: key not enabled")
)
