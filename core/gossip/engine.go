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

package gossip

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/andres-erbsen/clock"
	"golang.org/x/sync/errgroup"

	"github.com/sage-x-project/sage-mesh/core/peer"
	"github.com/sage-x-project/sage-mesh/internal/metrics"
)

// DefaultInterval and DefaultPeerCount are the gossip round cadence and
// fan-out width when a config doesn't override them.
const (
	DefaultInterval  = 30 * time.Second
	DefaultPeerCount = 3
)

// Sender is the minimal send capability the gossip engine needs: deliver
// an already-encoded ROUTING_TABLE payload to a peer's current address.
type Sender interface {
	SendRoutingTable(p *peer.Peer, payload []byte) error
}

// Engine runs the periodic peer-table fan-out and the receiver-side merge
// rule.
type Engine struct {
	table  *peer.Table
	sender Sender
	clock  clock.Clock

	interval  time.Duration
	peerCount int

	metrics *metrics.Metrics

	ticker *clock.Ticker
	stop   chan struct{}
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithClock overrides the time source, for deterministic round tests.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithPeerCount overrides DefaultPeerCount.
func WithPeerCount(n int) Option {
	return func(e *Engine) { e.peerCount = n }
}

// WithMetrics attaches a Prometheus sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine builds a gossip Engine over table, sending rounds through
// sender.
func NewEngine(table *peer.Table, sender Sender, opts ...Option) *Engine {
	e := &Engine{
		table:     table,
		sender:    sender,
		clock:     clock.New(),
		interval:  DefaultInterval,
		peerCount: DefaultPeerCount,
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins the periodic gossip round loop.
func (e *Engine) Start() {
	e.ticker = e.clock.Ticker(e.interval)
	go func() {
		for {
			select {
			case <-e.ticker.C:
				e.RunRound()
			case <-e.stop:
				return
			}
		}
	}()
}

// Stop halts the periodic gossip round loop.
func (e *Engine) Stop() {
	if e.ticker != nil {
		e.ticker.Stop()
	}
	close(e.stop)
}

// RunRound selects up to peerCount random authenticated peers and sends
// each a snapshot of the local peer table, in parallel.
func (e *Engine) RunRound() {
	targets := e.selectTargets()
	if len(targets) == 0 {
		return
	}

	snapshot := e.snapshot()
	payload, err := snapshot.Encode()
	if err != nil {
		return
	}

	g, _ := errgroup.WithContext(context.Background())
	for _, p := range targets {
		p := p
		g.Go(func() error {
			_ = e.sender.SendRoutingTable(p, payload)
			return nil
		})
	}
	_ = g.Wait()

	if e.metrics != nil {
		e.metrics.GossipRoundsRun.Inc()
		e.metrics.GossipPeersSent.Add(float64(len(targets)))
	}
}

// Nudge sends an immediate routing-table snapshot directly to p, then
// runs a full gossip round. Used right after p authenticates instead of
// waiting for the next periodic tick, so a newly joined peer's arrival
// doesn't have to wait up to a full interval to start propagating.
func (e *Engine) Nudge(p *peer.Peer) {
	snapshot := e.snapshot()
	if payload, err := snapshot.Encode(); err == nil {
		_ = e.sender.SendRoutingTable(p, payload)
	}
	e.RunRound()
}

// selectTargets picks up to peerCount random entries from the
// authenticated peer set, per the gossip contract (unauthenticated peers
// never receive or seed a round).
func (e *Engine) selectTargets() []*peer.Peer {
	candidates := e.table.Authenticated()
	if len(candidates) <= e.peerCount {
		return candidates
	}
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	return candidates[:e.peerCount]
}

// snapshot builds the ROUTING_TABLE payload from the current peer table.
func (e *Engine) snapshot() *Snapshot {
	peers := e.table.All()
	entries := make([]Entry, 0, len(peers))
	for _, p := range peers {
		entries = append(entries, Entry{
			DeviceID:      p.DeviceID,
			IP:            p.IP,
			Port:          p.Port,
			LastSeen:      p.LastSeen,
			Authenticated: p.Authenticated,
		})
	}
	return &Snapshot{SentAt: e.clock.Now(), Peers: entries}
}

// Merge applies an inbound ROUTING_TABLE snapshot to the local peer
// table: unknown device-ids are added as unauthenticated, known entries
// are overwritten only if the incoming last-seen is strictly newer.
// Merges are signature-free here; trust comes from the envelope carrying
// this payload being itself signed and checksum-verified upstream.
func (e *Engine) Merge(s *Snapshot) int {
	applied := 0
	for _, entry := range s.Peers {
		existing, known := e.table.Get(entry.DeviceID)
		if !known {
			e.table.UpsertGossiped(entry.DeviceID, entry.IP, entry.Port, entry.LastSeen)
			applied++
			continue
		}
		if entry.LastSeen.After(existing.LastSeen) {
			e.table.UpsertGossiped(entry.DeviceID, entry.IP, entry.Port, entry.LastSeen)
			applied++
		}
	}
	if applied > 0 && e.metrics != nil {
		e.metrics.GossipMergesApplied.Add(float64(applied))
	}
	return applied
}
