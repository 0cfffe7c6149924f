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

package config

import (
	"os"
	"strconv"
	"strings"
)

// applyEnvironmentOverrides applies SAGEMESH_* environment variables on
// top of a loaded config. These always win, even over an explicit
// config file, per the node's env-override-highest-priority rule.
func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("SAGEMESH_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("SAGEMESH_UDP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Network.UDPPort = port
		}
	}
	if v := os.Getenv("SAGEMESH_STUN_SERVER"); v != "" {
		cfg.Network.StunServer = v
	}
	if v := os.Getenv("SAGEMESH_FORCE_LOCALHOST"); v != "" {
		cfg.Network.ForceLocalhost = v == "true" || v == "1"
	}
	if v := os.Getenv("SAGEMESH_GOSSIP_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Gossip.IntervalSeconds = n
		}
	}
	if v := os.Getenv("SAGEMESH_GOSSIP_PEER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Gossip.PeerCount = n
		}
	}
	if v := os.Getenv("SAGEMESH_MESSAGE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Message.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("SAGEMESH_PEER_CLEANUP_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Peer.CleanupIntervalSeconds = n
		}
	}
	if v := os.Getenv("SAGEMESH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SAGEMESH_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
}

// GetEnvironment returns the running environment from SAGEMESH_ENV,
// defaulting to development.
func GetEnvironment() string {
	env := os.Getenv("SAGEMESH_ENV")
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}

// IsProduction reports whether GetEnvironment is "production".
func IsProduction() bool {
	return GetEnvironment() == "production"
}
