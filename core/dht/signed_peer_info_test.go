package dht

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage-mesh/core/identity"
	"github.com/sage-x-project/sage-mesh/errs"
)

func TestSignProducesVerifiableInfo(t *testing.T) {
	id, err := identity.New("device-1")
	require.NoError(t, err)

	info := Sign(id, "10.0.0.1", 4000)
	assert.NoError(t, info.Verify())
}

func TestVerifyRejectsTamperedField(t *testing.T) {
	id, err := identity.New("device-1")
	require.NoError(t, err)

	info := Sign(id, "10.0.0.1", 4000)
	info.Port = 4001
	assert.ErrorIs(t, info.Verify(), errs.SignatureMismatch)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	id, err := identity.New("device-1")
	require.NoError(t, err)

	info := Sign(id, "10.0.0.1", 4000)
	encoded := info.Marshal()

	decoded, consumed, err := UnmarshalSignedPeerInfo(encoded)
	require.NoError(t, err)
	assert.Equal(t, len(encoded), consumed)
	assert.Equal(t, info.DeviceID, decoded.DeviceID)
	assert.Equal(t, info.IP, decoded.IP)
	assert.Equal(t, info.Port, decoded.Port)
	assert.Equal(t, []byte(info.PublicKey), []byte(decoded.PublicKey))
	assert.NoError(t, decoded.Verify())
}

func TestNodeIDMatchesDeriveNodeID(t *testing.T) {
	id, err := identity.New("device-1")
	require.NoError(t, err)

	info := Sign(id, "10.0.0.1", 4000)
	assert.Equal(t, identity.DeriveNodeID("device-1"), info.NodeID())
}
