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

// Package peer maintains the node's table of known remotes: device-id to
// Peer, with upsert-on-inbound, inactivity eviction, and the
// force_localhost address-normalization rule.
package peer

import (
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/sage-x-project/sage-mesh/internal/metrics"
)

// Peer is a known remote device.
type Peer struct {
	DeviceID      string
	IP            string
	Port          int
	PublicKey     ed25519.PublicKey // empty until first authenticated contact
	LastSeen      time.Time
	Authenticated bool
	SessionKey    []byte // symmetric, installed after handshake; nil until then
}

// Table maps device-id to Peer, with the inactivity-eviction and
// localhost-normalization rules from the peer table's contract.
type Table struct {
	mu    sync.RWMutex
	peers map[string]*Peer

	clock           clock.Clock
	forceLocalhost  bool
	messageTimeout  time.Duration
	cleanupInterval time.Duration
	metrics         *metrics.Metrics

	ticker *clock.Ticker
	stop   chan struct{}
}

// Option configures a Table at construction time.
type Option func(*Table)

// WithClock overrides the table's time source, for deterministic tests.
func WithClock(c clock.Clock) Option {
	return func(t *Table) { t.clock = c }
}

// WithForceLocalhost enables the same-host test-topology address rewrite:
// every peer IP (self, gossiped, discovered) is normalized to 127.0.0.1.
func WithForceLocalhost(enabled bool) Option {
	return func(t *Table) { t.forceLocalhost = enabled }
}

// WithMetrics attaches a metrics sink for peer-count/eviction observability.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Table) { t.metrics = m }
}

// New creates a peer table. messageTimeout and cleanupInterval drive the
// eviction sweep: authenticated peers inactive for more than
// 2*messageTimeout are removed every cleanupInterval.
func New(messageTimeout, cleanupInterval time.Duration, opts ...Option) *Table {
	t := &Table{
		peers:           make(map[string]*Peer),
		clock:           clock.New(),
		messageTimeout:  messageTimeout,
		cleanupInterval: cleanupInterval,
		stop:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Table) normalizeIP(ip string) string {
	if t.forceLocalhost {
		return "127.0.0.1"
	}
	return ip
}

// Upsert records an inbound sighting of deviceID at (ip, port), per the
// peer table's "upsert on every inbound envelope" rule: creates an
// unauthenticated Peer if unknown, otherwise refreshes LastSeen and the
// advertised endpoint.
func (t *Table) Upsert(deviceID, ip string, port int) *Peer {
	ip = t.normalizeIP(ip)
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.peers[deviceID]
	if !ok {
		p = &Peer{
			DeviceID: deviceID,
			IP:       ip,
			Port:     port,
			LastSeen: now,
		}
		t.peers[deviceID] = p
		t.observeSizeLocked()
		return p
	}

	p.IP = ip
	p.Port = port
	p.LastSeen = now
	return p
}

// UpsertGossiped records a peer sighting learned second-hand (via
// gossip) rather than from a direct inbound envelope: the caller
// supplies lastSeen as advertised by the relaying peer instead of the
// local clock, so repeated merges can keep comparing against the
// originally-claimed timestamp rather than the time this table happened
// to last hear about the peer.
func (t *Table) UpsertGossiped(deviceID, ip string, port int, lastSeen time.Time) *Peer {
	ip = t.normalizeIP(ip)

	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.peers[deviceID]
	if !ok {
		p = &Peer{
			DeviceID: deviceID,
			IP:       ip,
			Port:     port,
			LastSeen: lastSeen,
		}
		t.peers[deviceID] = p
		t.observeSizeLocked()
		return p
	}

	p.IP = ip
	p.Port = port
	p.LastSeen = lastSeen
	return p
}

// Get returns the peer for deviceID, if known.
func (t *Table) Get(deviceID string) (*Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[deviceID]
	return p, ok
}

// MarkAuthenticated installs a peer's signing public key and session key
// after a successful handshake, and flips its authenticated flag.
func (t *Table) MarkAuthenticated(deviceID string, publicKey ed25519.PublicKey, sessionKey []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[deviceID]
	if !ok {
		return
	}
	p.PublicKey = publicKey
	p.SessionKey = sessionKey
	p.Authenticated = true
}

// Touch refreshes a peer's last-seen timestamp, without altering its
// advertised endpoint (used for non-upsert contacts, e.g. a received
// HEARTBEAT or DATA envelope).
func (t *Table) Touch(deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[deviceID]; ok {
		p.LastSeen = t.clock.Now()
	}
}

// All returns a snapshot slice of every known peer, for gossip fan-out and
// routing-table seeding.
func (t *Table) All() []*Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Peer, 0, len(t.peers))
	for _, p := range t.peers {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// Authenticated returns a snapshot slice of every authenticated peer.
func (t *Table) Authenticated() []*Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Peer, 0, len(t.peers))
	for _, p := range t.peers {
		if p.Authenticated {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

// Len returns the number of known peers.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// Remove deletes deviceID from the table unconditionally (e.g. k-bucket
// pressure eviction for an unauthenticated peer).
func (t *Table) Remove(deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, deviceID)
	t.observeSizeLocked()
}

// StartCleanup begins the periodic inactivity sweep. Unauthenticated peers
// are never evicted by this rule.
func (t *Table) StartCleanup() {
	t.ticker = t.clock.Ticker(t.cleanupInterval)
	go func() {
		for {
			select {
			case <-t.ticker.C:
				t.sweep()
			case <-t.stop:
				return
			}
		}
	}()
}

// StopCleanup halts the periodic inactivity sweep.
func (t *Table) StopCleanup() {
	if t.ticker != nil {
		t.ticker.Stop()
	}
	close(t.stop)
}

func (t *Table) sweep() {
	cutoff := t.clock.Now().Add(-2 * t.messageTimeout)

	t.mu.Lock()
	defer t.mu.Unlock()
	evicted := 0
	for id, p := range t.peers {
		if p.Authenticated && p.LastSeen.Before(cutoff) {
			delete(t.peers, id)
			evicted++
		}
	}
	if evicted > 0 && t.metrics != nil {
		t.metrics.PeerEvictions.Add(float64(evicted))
	}
	t.observeSizeLocked()
}

func (t *Table) observeSizeLocked() {
	if t.metrics != nil {
		t.metrics.PeerTableSize.Set(float64(len(t.peers)))
	}
}
