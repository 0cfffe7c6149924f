package peer

import (
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertCreatesUnauthenticatedPeer(t *testing.T) {
	table := New(30*time.Second, time.Second)
	p := table.Upsert("device-1", "10.0.0.1", 4000)

	assert.False(t, p.Authenticated)
	assert.Equal(t, "10.0.0.1", p.IP)
	assert.Equal(t, 1, table.Len())
}

func TestUpsertRefreshesEndpointAndLastSeen(t *testing.T) {
	mock := clock.NewMock()
	table := New(30*time.Second, time.Second, WithClock(mock))
	table.Upsert("device-1", "10.0.0.1", 4000)

	mock.Add(time.Second)
	table.Upsert("device-1", "10.0.0.2", 4001)

	p, ok := table.Get("device-1")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.2", p.IP)
	assert.Equal(t, 4001, p.Port)
}

func TestForceLocalhostNormalizesIP(t *testing.T) {
	table := New(30*time.Second, time.Second, WithForceLocalhost(true))
	p := table.Upsert("device-1", "203.0.113.5", 4000)
	assert.Equal(t, "127.0.0.1", p.IP)
}

func TestMarkAuthenticatedSetsFlagAndKeys(t *testing.T) {
	table := New(30*time.Second, time.Second)
	table.Upsert("device-1", "10.0.0.1", 4000)

	table.MarkAuthenticated("device-1", nil, []byte("session-key"))

	p, ok := table.Get("device-1")
	require.True(t, ok)
	assert.True(t, p.Authenticated)
	assert.Equal(t, []byte("session-key"), p.SessionKey)
}

func TestAuthenticatedFiltersUnauthenticatedPeers(t *testing.T) {
	table := New(30*time.Second, time.Second)
	table.Upsert("device-1", "10.0.0.1", 4000)
	table.Upsert("device-2", "10.0.0.2", 4001)
	table.MarkAuthenticated("device-1", nil, nil)

	auth := table.Authenticated()
	require.Len(t, auth, 1)
	assert.Equal(t, "device-1", auth[0].DeviceID)
}

func TestSweepEvictsOnlyInactiveAuthenticatedPeers(t *testing.T) {
	mock := clock.NewMock()
	table := New(10*time.Second, time.Second, WithClock(mock))

	table.Upsert("authenticated-stale", "10.0.0.1", 4000)
	table.MarkAuthenticated("authenticated-stale", nil, nil)

	table.Upsert("unauthenticated-stale", "10.0.0.2", 4001)

	table.Upsert("authenticated-fresh", "10.0.0.3", 4002)
	table.MarkAuthenticated("authenticated-fresh", nil, nil)

	// Advance past 2x messageTimeout (20s) for the first two peers.
	mock.Add(21 * time.Second)
	// Refresh the "fresh" peer right before the sweep.
	table.Touch("authenticated-fresh")

	table.StartCleanup()
	mock.Add(time.Second) // trigger cleanup tick
	time.Sleep(10 * time.Millisecond)
	table.StopCleanup()

	_, authStaleExists := table.Get("authenticated-stale")
	_, unauthStaleExists := table.Get("unauthenticated-stale")
	_, freshExists := table.Get("authenticated-fresh")

	assert.False(t, authStaleExists, "authenticated+inactive peer should be evicted")
	assert.True(t, unauthStaleExists, "unauthenticated peers are never evicted by inactivity")
	assert.True(t, freshExists, "recently touched peer should survive the sweep")
}

func TestRemoveDeletesPeerUnconditionally(t *testing.T) {
	table := New(30*time.Second, time.Second)
	table.Upsert("device-1", "10.0.0.1", 4000)
	table.Remove("device-1")

	_, ok := table.Get("device-1")
	assert.False(t, ok)
}
