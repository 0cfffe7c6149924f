// SPDX-License-Identifier: LGPL-3.0-or-later

package auth

import (
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage-mesh/core/identity"
	"github.com/sage-x-project/sage-mesh/core/session"
)

func newTestManager(t *testing.T, deviceID string, c clock.Clock) (*Manager, *identity.Identity) {
	t.Helper()
	id, err := identity.New(deviceID)
	require.NoError(t, err)
	sessions := session.NewManager(session.WithManagerClock(c))
	mgr := NewManager(id, sessions, WithClock(c))
	return mgr, id
}

func TestFullHandshakeInstallsMatchingSessions(t *testing.T) {
	mock := clock.NewMock()
	a, idA := newTestManager(t, "node-a", mock)
	b, idB := newTestManager(t, "node-b", mock)

	challengePayload, err := a.Initiate("node-b")
	require.NoError(t, err)

	responsePayload, remoteOfB, err := b.HandleChallenge("node-a", challengePayload)
	require.NoError(t, err)
	assert.Equal(t, idA.SigningPublicKey(), remoteOfB)

	ok, remoteOfA, err := a.HandleResponse("node-b", "node-b", responsePayload)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, idB.SigningPublicKey(), remoteOfA)

	sessA, ok := a.sessions.Get(SessionLabel("node-a", "node-b"))
	require.True(t, ok)
	sessB, ok := b.sessions.Get(SessionLabel("node-a", "node-b"))
	require.True(t, ok)

	nonce, ciphertext, err := sessA.Seal([]byte("hello b"))
	require.NoError(t, err)
	plaintext, err := sessB.Open(nonce, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello b"), plaintext)
}

func TestHandleResponseRejectsUnknownPeer(t *testing.T) {
	mock := clock.NewMock()
	a, _ := newTestManager(t, "node-a", mock)
	b, _ := newTestManager(t, "node-b", mock)

	challengePayload, err := a.Initiate("node-b")
	require.NoError(t, err)
	responsePayload, _, err := b.HandleChallenge("node-a", challengePayload)
	require.NoError(t, err)

	_, _, err = a.HandleResponse("node-c", "node-c", responsePayload)
	assert.Error(t, err)
}

func TestHandleResponseRejectsTamperedSignature(t *testing.T) {
	mock := clock.NewMock()
	a, _ := newTestManager(t, "node-a", mock)
	b, _ := newTestManager(t, "node-b", mock)

	challengePayload, err := a.Initiate("node-b")
	require.NoError(t, err)
	responsePayload, _, err := b.HandleChallenge("node-a", challengePayload)
	require.NoError(t, err)

	// First signature byte: tag(1) | nonce(32) | sig length(2) | sig...
	responsePayload[1+ChallengeSize+2] ^= 0xFF

	ok, _, err := a.HandleResponse("node-b", "node-b", responsePayload)
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestHandleResponseRejectsExpiredChallenge(t *testing.T) {
	mock := clock.NewMock()
	a, _ := newTestManager(t, "node-a", mock)
	b, _ := newTestManager(t, "node-b", mock)

	challengePayload, err := a.Initiate("node-b")
	require.NoError(t, err)
	responsePayload, _, err := b.HandleChallenge("node-a", challengePayload)
	require.NoError(t, err)

	mock.Add(DefaultChallengeTimeout + time.Second)

	_, _, err = a.HandleResponse("node-b", "node-b", responsePayload)
	assert.Error(t, err)
}

func TestCleanupSweepsExpiredPendingChallenges(t *testing.T) {
	mock := clock.NewMock()
	a, _ := newTestManager(t, "node-a", mock)

	_, err := a.Initiate("node-b")
	require.NoError(t, err)
	assert.Equal(t, 1, a.PendingCount())

	mock.Add(DefaultChallengeTimeout + time.Second)
	a.sweep()
	assert.Equal(t, 0, a.PendingCount())
}
