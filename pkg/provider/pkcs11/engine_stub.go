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

//go:build !pkcs11

// Package pkcs11 implements the hardware security module engine. This build
// does not include PKCS#11 support.
package pkcs11

import (
	"github.com/jeremyhahn/go-keycanary/pkg/logging"
	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

// New returns ErrNotCompiled. Build with -tags pkcs11 to enable the engine.
func New(name string, config *Config, logger *logging.Logger) (types.EncryptionService, error) {
	return nil, ErrNotCompiled
}
