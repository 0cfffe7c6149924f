package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage-mesh/crypto"
	"github.com/sage-x-project/sage-mesh/crypto/keys"
)

func TestDeriveNodeIDIsDeterministic(t *testing.T) {
	a := DeriveNodeID("device-1")
	b := DeriveNodeID("device-1")
	c := DeriveNodeID("device-2")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestNodeIDStringAndBase58Differ(t *testing.T) {
	id := DeriveNodeID("device-1")
	assert.Len(t, id.String(), IDLength*2)
	assert.NotEmpty(t, id.Base58())
	assert.NotEqual(t, id.String(), id.Base58())
}

func TestXorSelfIsZero(t *testing.T) {
	id := DeriveNodeID("device-1")
	zero := id.Xor(id)
	for _, b := range zero {
		assert.Equal(t, byte(0), b)
	}
}

func TestBucketIndexRange(t *testing.T) {
	local := DeriveNodeID("local")
	remote := DeriveNodeID("remote")

	idx := BucketIndex(local, remote)
	assert.GreaterOrEqual(t, idx, 0)
	assert.Less(t, idx, NumBuckets)
}

func TestBucketIndexSelfIsUndefined(t *testing.T) {
	local := DeriveNodeID("local")
	assert.Equal(t, -1, BucketIndex(local, local))
}

func TestNewGeneratesDistinctSigningAndAgreementKeys(t *testing.T) {
	id, err := New("device-1")
	require.NoError(t, err)

	assert.Equal(t, DeriveNodeID("device-1"), id.NodeID())
	assert.Equal(t, crypto.KeyTypeEd25519, id.SigningKeyPair().Type())
	assert.Equal(t, crypto.KeyTypeX25519, id.AgreementKeyPair().Type())
	assert.NotEqual(t, id.SigningKeyPair().ID(), id.AgreementKeyPair().ID())
}

func TestNewRejectsEmptyDeviceID(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	id, err := New("device-1")
	require.NoError(t, err)

	message := []byte("hello mesh")
	sig, err := id.Sign(message)
	require.NoError(t, err)

	assert.True(t, Verify(id.SigningPublicKey(), message, sig))
	assert.False(t, Verify(id.SigningPublicKey(), []byte("tampered"), sig))
}

func TestNewFromSigningKeyRejectsNonEd25519(t *testing.T) {
	secpKey, err := keys.GenerateSecp256k1KeyPair()
	require.NoError(t, err)

	_, err = NewFromSigningKey("device-1", secpKey)
	assert.Error(t, err)
}

func TestNewFromSigningKeyPreservesGivenKey(t *testing.T) {
	signing, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)

	id, err := NewFromSigningKey("device-1", signing)
	require.NoError(t, err)

	assert.Equal(t, signing.ID(), id.SigningKeyPair().ID())
}
