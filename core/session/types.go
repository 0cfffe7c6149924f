// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package session holds the per-peer symmetric session keys installed by
// the authentication handshake (core/auth) and used to seal/open
// encrypted envelope payloads.
package session

import "time"

// Config bounds a session's lifetime. A zero Config never expires a
// session on its own — the peer table's inactivity eviction (core/peer)
// is the backstop for abandoned peers.
type Config struct {
	MaxAge      time.Duration
	IdleTimeout time.Duration
}

// Stats summarizes the manager's current session population.
type Stats struct {
	Total   int
	Expired int
}
