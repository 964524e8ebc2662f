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

package server

import (
	"context"
	"os"
)

// reloadOnSignal reloads the key set on every signal until ctx ends. A
// failed reload keeps the previous keys.
func (s *Server) reloadOnSignal(ctx context.Context, signals <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			s.logger.Info("reloading encryption keys", "signal", sig.String())
			if err := s.keys.Reload(ctx); err != nil {
				s.logger.Error(err, "reason", "key reload failed, keeping previous keys")
				continue
			}
			s.logger.Info("encryption keys reloaded", "active", s.keys.ActiveUUID(), "keys", s.keys.Len())
		}
	}
}
