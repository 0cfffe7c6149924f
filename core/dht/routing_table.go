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

package dht

import (
	"sort"

	"github.com/sage-x-project/sage-mesh/core/identity"
	"github.com/sage-x-project/sage-mesh/internal/metrics"
)

// RoutingTable holds the 160 k-buckets indexed by XOR-distance prefix
// length from the local NodeID.
type RoutingTable struct {
	local   identity.NodeID
	buckets [identity.NumBuckets]*KBucket
	metrics *metrics.Metrics
}

// NewRoutingTable creates a routing table for the given local NodeID.
func NewRoutingTable(local identity.NodeID, m *metrics.Metrics) *RoutingTable {
	rt := &RoutingTable{local: local, metrics: m}
	for i := range rt.buckets {
		rt.buckets[i] = NewKBucket()
	}
	return rt
}

// Insert verifies info's signature and, unless it describes the local
// node, places it into the bucket matching its XOR-distance prefix.
func (rt *RoutingTable) Insert(info *SignedPeerInfo) error {
	if err := info.Verify(); err != nil {
		return err
	}
	remote := info.NodeID()
	idx := identity.BucketIndex(rt.local, remote)
	if idx < 0 {
		return nil // describes the local node; nothing to route to
	}
	rt.buckets[idx].Insert(info)
	rt.observeSize()
	return nil
}

// Remove deletes deviceID from whichever bucket it would occupy.
func (rt *RoutingTable) Remove(deviceID string) {
	remote := identity.DeriveNodeID(deviceID)
	idx := identity.BucketIndex(rt.local, remote)
	if idx < 0 {
		return
	}
	rt.buckets[idx].Remove(deviceID)
	rt.observeSize()
}

// FindClosest returns up to k SignedPeerInfo entries across all buckets,
// ordered by ascending XOR distance to target.
func (rt *RoutingTable) FindClosest(target identity.NodeID, k int) []*SignedPeerInfo {
	var all []*SignedPeerInfo
	for _, b := range rt.buckets {
		all = append(all, b.Entries()...)
	}

	sort.Slice(all, func(i, j int) bool {
		di := target.Xor(all[i].NodeID())
		dj := target.Xor(all[j].NodeID())
		return di.Less(dj)
	})

	if len(all) > k {
		all = all[:k]
	}
	return all
}

// Size returns the total number of entries across every bucket.
func (rt *RoutingTable) Size() int {
	total := 0
	for _, b := range rt.buckets {
		total += b.Len()
	}
	return total
}

func (rt *RoutingTable) observeSize() {
	if rt.metrics != nil {
		rt.metrics.RoutingTableSize.Set(float64(rt.Size()))
	}
}
