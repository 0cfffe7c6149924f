package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage-mesh/errs"
)

func TestNewComputesChecksum(t *testing.T) {
	e := New(KindData, "alice", "bob", []byte("hello"), 1)
	assert.NotEmpty(t, e.Checksum)
	assert.NoError(t, e.VerifyChecksum())
}

func TestVerifyChecksumDetectsTampering(t *testing.T) {
	e := New(KindData, "alice", "bob", []byte("hello"), 1)
	e.Payload = []byte("tampered")
	assert.ErrorIs(t, e.VerifyChecksum(), errs.ChecksumMismatch)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	e := New(KindData, "alice", "bob", []byte("hello"), 42)

	data, err := e.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, e.Type, got.Type)
	assert.Equal(t, e.FromPeerID, got.FromPeerID)
	assert.Equal(t, e.ToPeerID, got.ToPeerID)
	assert.Equal(t, e.Payload, got.Payload)
	assert.Equal(t, e.SequenceNumber, got.SequenceNumber)
	assert.Equal(t, e.Checksum, got.Checksum)
	assert.NoError(t, got.VerifyChecksum())
}

func TestUnmarshalRejectsMalformedJSON(t *testing.T) {
	_, err := Unmarshal([]byte("not json"))
	assert.Error(t, err)
}

func TestUnmarshalRejectsUnknownKind(t *testing.T) {
	_, err := Unmarshal([]byte(`{"type":99,"fromPeerId":"a","payload":"","sequenceNumber":1,"timestamp":"2024-01-01T00:00:00Z"}`))
	assert.Error(t, err)
}

func TestUnmarshalRejectsMissingSender(t *testing.T) {
	_, err := Unmarshal([]byte(`{"type":0,"payload":"","sequenceNumber":1,"timestamp":"2024-01-01T00:00:00Z"}`))
	assert.Error(t, err)
}

func TestAckPayloadRoundTrip(t *testing.T) {
	ack := NewAck("bob", "alice", 7, 1)
	seq, err := ack.AckedSequence()
	require.NoError(t, err)
	assert.Equal(t, byte(7), seq)
}

func TestNackPayloadRoundTrip(t *testing.T) {
	nack := NewNack("bob", "alice", 7, "checksum mismatch", 1)
	seq, reason, err := nack.NackReason()
	require.NoError(t, err)
	assert.Equal(t, byte(7), seq)
	assert.Equal(t, "checksum mismatch", reason)
}

func TestSequenceCounterIsMonotonic(t *testing.T) {
	var c SequenceCounter
	first := c.Next()
	second := c.Next()
	assert.Equal(t, first+1, second)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "DATA", KindData.String())
	assert.Equal(t, "FILE", KindFile.String())
	assert.Contains(t, Kind(42).String(), "UNKNOWN")
}
