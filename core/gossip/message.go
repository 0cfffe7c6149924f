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

// Package gossip periodically fans out a snapshot of the local peer table
// to a random subset of authenticated peers, and merges snapshots
// received from others into the local table.
package gossip

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sage-x-project/sage-mesh/errs"
)

// Entry is one peer-table row as carried on the wire inside a
// ROUTING_TABLE envelope.
type Entry struct {
	DeviceID      string    `json:"deviceId"`
	IP            string    `json:"ip"`
	Port          int       `json:"port"`
	LastSeen      time.Time `json:"lastSeen"`
	Authenticated bool      `json:"authenticated"`
}

// Snapshot is the ROUTING_TABLE payload: a peer-table view plus the
// sender's clock reading at the moment it was taken.
type Snapshot struct {
	SentAt time.Time `json:"sentAt"`
	Peers  []Entry   `json:"peers"`
}

// Encode serializes a Snapshot to the ROUTING_TABLE envelope payload.
func (s *Snapshot) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("gossip: encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a ROUTING_TABLE envelope payload.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: gossip snapshot: %v", errs.MalformedEnvelope, err)
	}
	return &s, nil
}
