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
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sage-x-project/sage-mesh/core/identity"
	"github.com/sage-x-project/sage-mesh/errs"
	"github.com/sage-x-project/sage-mesh/internal/metrics"
)

// DefaultRPCTimeout is the per-RPC ceiling; there is no automatic retry.
const DefaultRPCTimeout = 5 * time.Second

// Transport is the minimal send capability the DHT engine needs from C2.
// Frames are delivered to HandleFrame by whatever demultiplexes inbound
// envelopes (node.Core), not by this package.
type Transport interface {
	SendTo(ip string, port uint16, data []byte) error
}

// Engine drives the PING / FIND_NODE / STORE RPCs and the iterative
// lookup over a RoutingTable.
type Engine struct {
	identity  *identity.Identity
	table     *RoutingTable
	transport Transport
	metrics   *metrics.Metrics
	timeout   time.Duration

	selfIP   string
	selfPort uint16

	rpcCounter uint32

	mu      sync.Mutex
	pending map[uint32]chan *Message
}

// NewEngine creates a DHT engine bound to id's identity and table, sending
// frames through transport.
func NewEngine(id *identity.Identity, table *RoutingTable, transport Transport, m *metrics.Metrics) *Engine {
	return &Engine{
		identity:  id,
		table:     table,
		transport: transport,
		metrics:   m,
		timeout:   DefaultRPCTimeout,
		pending:   make(map[uint32]chan *Message),
	}
}

// SetSelfAddress records the node's own advertised (ip, port), used to
// sign the SignedPeerInfo this engine presents to peers. Call once the UDP
// socket has bound (and any STUN probe has completed).
func (e *Engine) SetSelfAddress(ip string, port uint16) {
	e.selfIP = ip
	e.selfPort = port
}

func (e *Engine) selfInfo() *SignedPeerInfo {
	return Sign(e.identity, e.selfIP, e.selfPort)
}

func (e *Engine) nextRPCID() uint32 {
	return atomic.AddUint32(&e.rpcCounter, 1)
}

func (e *Engine) register(rpcID uint32) chan *Message {
	ch := make(chan *Message, 1)
	e.mu.Lock()
	e.pending[rpcID] = ch
	e.mu.Unlock()
	return ch
}

func (e *Engine) unregister(rpcID uint32) {
	e.mu.Lock()
	delete(e.pending, rpcID)
	e.mu.Unlock()
}

func (e *Engine) resolve(rpcID uint32, msg *Message) {
	e.mu.Lock()
	ch, ok := e.pending[rpcID]
	if ok {
		delete(e.pending, rpcID)
	}
	e.mu.Unlock()
	if ok {
		ch <- msg
	}
}

// HandleFrame processes one inbound DHT RPC frame, replying over
// transport where the RPC requires a response and resolving any pending
// local RPC awaiting this reply.
func (e *Engine) HandleFrame(fromIP string, fromPort uint16, data []byte) error {
	msg, err := Decode(data)
	if err != nil {
		return err
	}

	switch msg.Op {
	case OpPing:
		info, err := DecodePeerInfo(msg.Body)
		if err != nil {
			return err
		}
		if err := e.table.Insert(info); err != nil {
			return err
		}
		return e.transport.SendTo(fromIP, fromPort, EncodePong(msg.RPCID, e.selfInfo()))

	case OpPong, OpFoundNode:
		e.resolve(msg.RPCID, msg)
		return nil

	case OpFindNode:
		target, err := DecodeFindNode(msg.Body)
		if err != nil {
			return err
		}
		closest := e.table.FindClosest(target, K)
		return e.transport.SendTo(fromIP, fromPort, EncodeFoundNode(msg.RPCID, closest))

	case OpStore:
		info, err := DecodePeerInfo(msg.Body)
		if err != nil {
			return err
		}
		return e.table.Insert(info)

	default:
		return fmt.Errorf("%w: unknown dht op %#x", errs.MalformedEnvelope, byte(msg.Op))
	}
}

// Ping sends a PING to (ip, port) and, on a PONG within the RPC timeout,
// inserts the responder into the routing table and returns its info.
func (e *Engine) Ping(ip string, port uint16) (*SignedPeerInfo, error) {
	rpcID := e.nextRPCID()
	ch := e.register(rpcID)
	defer e.unregister(rpcID)

	if err := e.transport.SendTo(ip, port, EncodePing(rpcID, e.selfInfo())); err != nil {
		return nil, err
	}

	select {
	case msg := <-ch:
		info, err := DecodePeerInfo(msg.Body)
		if err != nil {
			return nil, err
		}
		if err := e.table.Insert(info); err != nil {
			return nil, err
		}
		return info, nil
	case <-time.After(e.timeout):
		e.observeTimeout("ping")
		return nil, errs.RpcTimeout
	}
}

// FindNode sends a FIND_NODE for target to (ip, port) and returns the
// responder's FOUND_NODE candidates.
func (e *Engine) FindNode(ip string, port uint16, target identity.NodeID) ([]*SignedPeerInfo, error) {
	rpcID := e.nextRPCID()
	ch := e.register(rpcID)
	defer e.unregister(rpcID)

	if err := e.transport.SendTo(ip, port, EncodeFindNode(rpcID, target)); err != nil {
		return nil, err
	}

	select {
	case msg := <-ch:
		return DecodeFoundNode(msg.Body)
	case <-time.After(e.timeout):
		e.observeTimeout("find_node")
		return nil, errs.RpcTimeout
	}
}

// Store sends the local node's SignedPeerInfo to (ip, port). STORE has no
// reply.
func (e *Engine) Store(ip string, port uint16) error {
	rpcID := e.nextRPCID()
	return e.transport.SendTo(ip, port, EncodeStore(rpcID, e.selfInfo()))
}

// Lookup performs the iterative FIND_NODE lookup for target: seed from the
// local table, then query every unqueried candidate in parallel each
// round, merge results, and repeat until a round yields nothing new.
func (e *Engine) Lookup(target identity.NodeID) []*SignedPeerInfo {
	start := time.Now()
	defer e.observeLookupDuration(start)

	candidates := e.table.FindClosest(target, K)
	queried := make(map[string]bool)

	for {
		var toQuery []*SignedPeerInfo
		for _, c := range candidates {
			if !queried[c.DeviceID] {
				toQuery = append(toQuery, c)
			}
		}
		if len(toQuery) == 0 {
			break
		}

		var mu sync.Mutex
		var discovered []*SignedPeerInfo
		g, _ := errgroup.WithContext(context.Background())
		for _, c := range toQuery {
			c := c
			g.Go(func() error {
				found, err := e.FindNode(c.IP, c.Port, target)
				mu.Lock()
				queried[c.DeviceID] = true
				if err == nil {
					discovered = append(discovered, found...)
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		merged := mergeByDeviceID(candidates, discovered)
		merged = sortByDistance(merged, target)
		if len(merged) > K {
			merged = merged[:K]
		}

		if !hasNewEntries(candidates, merged) {
			candidates = merged
			break
		}
		candidates = merged
	}

	return candidates
}

// Join bootstraps the local routing table through donor: PING it, then
// iteratively look up the local NodeID to populate buckets, then publish
// this node's SignedPeerInfo to the k closest known nodes via STORE.
func (e *Engine) Join(donorIP string, donorPort uint16) error {
	if _, err := e.Ping(donorIP, donorPort); err != nil {
		return err
	}

	closest := e.Lookup(e.identity.NodeID())
	for _, c := range closest {
		_ = e.Store(c.IP, c.Port)
	}
	return nil
}

func mergeByDeviceID(existing, incoming []*SignedPeerInfo) []*SignedPeerInfo {
	seen := make(map[string]*SignedPeerInfo, len(existing))
	for _, e := range existing {
		seen[e.DeviceID] = e
	}
	for _, e := range incoming {
		if _, ok := seen[e.DeviceID]; !ok {
			seen[e.DeviceID] = e
		}
	}
	out := make([]*SignedPeerInfo, 0, len(seen))
	for _, v := range seen {
		out = append(out, v)
	}
	return out
}

func sortByDistance(entries []*SignedPeerInfo, target identity.NodeID) []*SignedPeerInfo {
	out := make([]*SignedPeerInfo, len(entries))
	copy(out, entries)
	less := func(i, j int) bool {
		di := target.Xor(out[i].NodeID())
		dj := target.Xor(out[j].NodeID())
		return di.Less(dj)
	}
	// insertion sort is fine here: candidate sets are bounded by K per round.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func hasNewEntries(before, after []*SignedPeerInfo) bool {
	seen := make(map[string]bool, len(before))
	for _, b := range before {
		seen[b.DeviceID] = true
	}
	for _, a := range after {
		if !seen[a.DeviceID] {
			return true
		}
	}
	return false
}

func (e *Engine) observeTimeout(rpc string) {
	if e.metrics != nil {
		e.metrics.RpcTimeouts.WithLabelValues(rpc).Inc()
	}
}

func (e *Engine) observeLookupDuration(start time.Time) {
	if e.metrics != nil {
		e.metrics.LookupDuration.Observe(time.Since(start).Seconds())
	}
}
