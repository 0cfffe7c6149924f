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

package node

import (
	"time"

	"github.com/sage-x-project/sage-mesh/config"
)

// DispatchTick is the fixed period at which the node scans pending
// retransmissions, independent of any individual message's retry spacing.
const DispatchTick = 500 * time.Millisecond

// nodeConfig is the subset of config.Config this package consumes,
// flattened out of the nested YAML sections into plain durations.
type nodeConfig struct {
	deviceID        string
	forceLocalhost  bool
	gossipInterval  time.Duration
	gossipPeerCount int
	messageTimeout  time.Duration
	peerCleanup     time.Duration
}

func fromConfig(cfg *config.Config) nodeConfig {
	return nodeConfig{
		deviceID:        cfg.Username,
		forceLocalhost:  cfg.Network.ForceLocalhost,
		gossipInterval:  cfg.Gossip.Interval(),
		gossipPeerCount: cfg.Gossip.PeerCount,
		messageTimeout:  cfg.Message.MessageTimeout(),
		peerCleanup:     cfg.Peer.CleanupInterval(),
	}
}
