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

package types

import "strings"

// CanaryValue is the plaintext sealed into every new canary.
var CanaryValue = strings.Repeat("\x00", 128)

// DeprecatedCanaryValue is the sentinel written by earlier releases. It is
// still accepted when matching external keys.
const DeprecatedCanaryValue = "abcdefghijklmnopqrst"
