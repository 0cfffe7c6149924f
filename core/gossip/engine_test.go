// SPDX-License-Identifier: LGPL-3.0-or-later

package gossip

import (
	"sync"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage-mesh/core/peer"
	"github.com/sage-x-project/sage-mesh/internal/metrics"
)

// fakeSender records every ROUTING_TABLE payload sent to it, keyed by
// recipient device-id, standing in for a real UDP transport.
type fakeSender struct {
	mu   sync.Mutex
	sent map[string][]byte
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[string][]byte)}
}

func (s *fakeSender) SendRoutingTable(p *peer.Peer, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[p.DeviceID] = payload
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestRunRoundOnlySendsToAuthenticatedPeers(t *testing.T) {
	table := peer.New(time.Minute, time.Minute)
	table.Upsert("unauth-1", "10.0.0.1", 4000)
	table.Upsert("auth-1", "10.0.0.2", 4001)
	table.MarkAuthenticated("auth-1", nil, nil)

	sender := newFakeSender()
	e := NewEngine(table, sender, WithPeerCount(3))
	e.RunRound()

	assert.Equal(t, 1, sender.count())
	_, sent := sender.sent["auth-1"]
	assert.True(t, sent)
	_, sentUnauth := sender.sent["unauth-1"]
	assert.False(t, sentUnauth)
}

func TestRunRoundBoundsFanoutByPeerCount(t *testing.T) {
	table := peer.New(time.Minute, time.Minute)
	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		table.Upsert(id, "10.0.0.1", 4000)
		table.MarkAuthenticated(id, nil, nil)
	}

	sender := newFakeSender()
	e := NewEngine(table, sender, WithPeerCount(3))
	e.RunRound()

	assert.Equal(t, 3, sender.count())
}

func TestRunRoundSendsNothingWithoutAuthenticatedPeers(t *testing.T) {
	table := peer.New(time.Minute, time.Minute)
	table.Upsert("unauth-1", "10.0.0.1", 4000)

	sender := newFakeSender()
	e := NewEngine(table, sender)
	e.RunRound()

	assert.Equal(t, 0, sender.count())
}

func TestPeriodicRoundsFireOnTicker(t *testing.T) {
	mock := clock.NewMock()
	table := peer.New(time.Minute, time.Minute, peer.WithClock(mock))
	table.Upsert("auth-1", "10.0.0.2", 4001)
	table.MarkAuthenticated("auth-1", nil, nil)

	sender := newFakeSender()
	m := metrics.New()
	e := NewEngine(table, sender, WithClock(mock), WithInterval(time.Second), WithMetrics(m))
	e.Start()
	defer e.Stop()

	mock.Add(time.Second)
	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, time.Millisecond)
}

func TestMergeAddsUnknownPeerAsUnauthenticated(t *testing.T) {
	table := peer.New(time.Minute, time.Minute)
	e := NewEngine(table, newFakeSender())

	snapshot := &Snapshot{
		SentAt: time.Now(),
		Peers: []Entry{
			{DeviceID: "device-x", IP: "10.0.0.5", Port: 5000, LastSeen: time.Now(), Authenticated: true},
		},
	}
	applied := e.Merge(snapshot)
	assert.Equal(t, 1, applied)

	p, ok := table.Get("device-x")
	require.True(t, ok)
	assert.False(t, p.Authenticated, "gossiped entries stay unauthenticated until a direct handshake completes")
	assert.Equal(t, "10.0.0.5", p.IP)
}

func TestMergeSkipsKnownPeerWhenNotNewer(t *testing.T) {
	table := peer.New(time.Minute, time.Minute)
	now := time.Now()
	table.UpsertGossiped("device-x", "10.0.0.5", 5000, now)

	e := NewEngine(table, newFakeSender())
	snapshot := &Snapshot{
		SentAt: now,
		Peers: []Entry{
			{DeviceID: "device-x", IP: "10.0.0.9", Port: 9000, LastSeen: now.Add(-time.Minute)},
		},
	}
	applied := e.Merge(snapshot)
	assert.Equal(t, 0, applied)

	p, ok := table.Get("device-x")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", p.IP, "stale gossip must not overwrite a newer local record")
}

func TestMergeOverwritesKnownPeerWhenStrictlyNewer(t *testing.T) {
	table := peer.New(time.Minute, time.Minute)
	now := time.Now()
	table.UpsertGossiped("device-x", "10.0.0.5", 5000, now)

	e := NewEngine(table, newFakeSender())
	snapshot := &Snapshot{
		SentAt: now.Add(time.Minute),
		Peers: []Entry{
			{DeviceID: "device-x", IP: "10.0.0.9", Port: 9000, LastSeen: now.Add(time.Minute)},
		},
	}
	applied := e.Merge(snapshot)
	assert.Equal(t, 1, applied)

	p, ok := table.Get("device-x")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.9", p.IP)
}

func TestSnapshotEncodeDecodeRoundTrip(t *testing.T) {
	table := peer.New(time.Minute, time.Minute)
	table.Upsert("device-1", "10.0.0.1", 4000)
	e := NewEngine(table, newFakeSender())

	payload, err := e.snapshot().Encode()
	require.NoError(t, err)

	decoded, err := DecodeSnapshot(payload)
	require.NoError(t, err)
	require.Len(t, decoded.Peers, 1)
	assert.Equal(t, "device-1", decoded.Peers[0].DeviceID)
}
