// SPDX-License-Identifier: LGPL-3.0-or-later

package stun

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage-mesh/errs"
)

// buildSuccessResponse hand-assembles a Binding Success Response carrying
// one XOR-MAPPED-ADDRESS attribute for (ip, port), mirroring what a real
// STUN server would send back.
func buildSuccessResponse(t *testing.T, txID TransactionID, ip net.IP, port uint16) []byte {
	t.Helper()
	ip4 := ip.To4()
	require.NotNil(t, ip4)

	value := make([]byte, 8)
	value[1] = 0x01 // family IPv4
	binary.BigEndian.PutUint16(value[2:4], port^uint16(MagicCookie>>16))
	var cookie [4]byte
	binary.BigEndian.PutUint32(cookie[:], MagicCookie)
	for i := 0; i < 4; i++ {
		value[4+i] = ip4[i] ^ cookie[i]
	}

	attr := make([]byte, 4+len(value))
	binary.BigEndian.PutUint16(attr[0:2], attrXorMappedAddress)
	binary.BigEndian.PutUint16(attr[2:4], uint16(len(value)))
	copy(attr[4:], value)

	msg := make([]byte, headerSize+len(attr))
	binary.BigEndian.PutUint16(msg[0:2], typeBindingSuccessResponse)
	binary.BigEndian.PutUint16(msg[2:4], uint16(len(attr)))
	binary.BigEndian.PutUint32(msg[4:8], MagicCookie)
	copy(msg[8:20], txID[:])
	copy(msg[20:], attr)
	return msg
}

func TestEncodeBindingRequestCarriesTransactionID(t *testing.T) {
	id, err := NewTransactionID()
	require.NoError(t, err)

	req := EncodeBindingRequest(id)
	assert.True(t, LooksLikeMessage(req))
	assert.Equal(t, typeBindingRequest, binary.BigEndian.Uint16(req[0:2]))
	assert.Equal(t, id[:], req[8:20])
}

func TestDecodeBindingResponseRoundTrips(t *testing.T) {
	id, err := NewTransactionID()
	require.NoError(t, err)

	wantIP := net.ParseIP("203.0.113.42").To4()
	msg := buildSuccessResponse(t, id, wantIP, 54321)
	require.True(t, LooksLikeMessage(msg))

	resp, err := DecodeBindingResponse(msg)
	require.NoError(t, err)
	assert.Equal(t, id, resp.TransactionID)
	assert.True(t, wantIP.Equal(resp.IP), "got %s want %s", resp.IP, wantIP)
	assert.Equal(t, uint16(54321), resp.Port)
}

func TestDecodeBindingResponseRejectsBadCookie(t *testing.T) {
	id, err := NewTransactionID()
	require.NoError(t, err)
	msg := buildSuccessResponse(t, id, net.ParseIP("127.0.0.1"), 1234)
	binary.BigEndian.PutUint32(msg[4:8], 0xdeadbeef)

	assert.False(t, LooksLikeMessage(msg))
	_, err = DecodeBindingResponse(msg)
	assert.ErrorIs(t, err, errs.MalformedEnvelope)
}

func TestDecodeBindingResponseErrorType(t *testing.T) {
	id, err := NewTransactionID()
	require.NoError(t, err)
	msg := buildSuccessResponse(t, id, net.ParseIP("127.0.0.1"), 1234)
	binary.BigEndian.PutUint16(msg[0:2], typeBindingErrorResponse)

	_, err = DecodeBindingResponse(msg)
	assert.ErrorIs(t, err, errs.StunFailed)
}

func TestDecodeBindingResponseRejectsTruncated(t *testing.T) {
	_, err := DecodeBindingResponse([]byte{0x01, 0x01})
	assert.ErrorIs(t, err, errs.MalformedEnvelope)
}
