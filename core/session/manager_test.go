// SPDX-License-Identifier: LGPL-3.0-or-later

package session

import (
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerInstallGetRemove(t *testing.T) {
	mgr := NewManager()
	defer mgr.Close()

	secret := randomSecret(t)

	sess, err := mgr.Install("device-1", secret)
	require.NoError(t, err)
	require.NotNil(t, sess)

	got, ok := mgr.Get("device-1")
	require.True(t, ok)
	assert.Equal(t, sess, got)

	mgr.Remove("device-1")
	_, ok = mgr.Get("device-1")
	assert.False(t, ok)
}

func TestManagerInstallReplacesExistingSession(t *testing.T) {
	mgr := NewManager()
	defer mgr.Close()

	first, err := mgr.Install("device-1", randomSecret(t))
	require.NoError(t, err)

	second, err := mgr.Install("device-1", randomSecret(t))
	require.NoError(t, err)

	got, ok := mgr.Get("device-1")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.True(t, first.IsExpired())
}

func TestManagerGetEvictsExpiredSession(t *testing.T) {
	mock := clock.NewMock()
	mgr := NewManager(WithManagerClock(mock), WithDefaultConfig(Config{MaxAge: time.Minute}))
	defer mgr.Close()

	_, err := mgr.Install("device-1", randomSecret(t))
	require.NoError(t, err)

	mock.Add(2 * time.Minute)
	_, ok := mgr.Get("device-1")
	assert.False(t, ok)

	stats := mgr.Stats()
	assert.Equal(t, 0, stats.Total)
}

func TestManagerSweepRemovesOnlyExpired(t *testing.T) {
	mock := clock.NewMock()
	mgr := NewManager(WithManagerClock(mock), WithDefaultConfig(Config{IdleTimeout: time.Minute}))
	defer mgr.Close()

	_, err := mgr.Install("stale", randomSecret(t))
	require.NoError(t, err)

	mock.Add(2 * time.Minute)
	_, err = mgr.Install("fresh", randomSecret(t))
	require.NoError(t, err)

	evicted := mgr.Sweep()
	assert.Equal(t, 1, evicted)

	_, ok := mgr.Get("stale")
	assert.False(t, ok)
	_, ok = mgr.Get("fresh")
	assert.True(t, ok)
}

func TestManagerStats(t *testing.T) {
	mgr := NewManager()
	defer mgr.Close()

	_, err := mgr.Install("a", randomSecret(t))
	require.NoError(t, err)
	_, err = mgr.Install("b", randomSecret(t))
	require.NoError(t, err)

	stats := mgr.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 0, stats.Expired)
}
