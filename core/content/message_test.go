// SPDX-License-Identifier: LGPL-3.0-or-later

package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnouncementEncodeDecodeRoundTrip(t *testing.T) {
	a := &Announcement{ID: "playlist-1", Size: 1024}
	copy(a.Hash[:], []byte("0123456789abcdef0123456789abcdef"))

	decoded, err := DecodeAnnouncement(a.Encode())
	require.NoError(t, err)
	assert.Equal(t, a.ID, decoded.ID)
	assert.Equal(t, a.Size, decoded.Size)
	assert.Equal(t, a.Hash, decoded.Hash)
}

func TestRequestEncodeDecodeRoundTrip(t *testing.T) {
	r := &Request{ID: "playlist-1"}
	decoded, err := DecodeRequest(r.Encode())
	require.NoError(t, err)
	assert.Equal(t, r.ID, decoded.ID)
}

func TestDataEncodeDecodeRoundTrip(t *testing.T) {
	d := &Data{ID: "playlist-1", Bytes: []byte("raw content bytes")}
	decoded, err := DecodeData(d.Encode())
	require.NoError(t, err)
	assert.Equal(t, d.ID, decoded.ID)
	assert.Equal(t, d.Bytes, decoded.Bytes)
}

func TestDecodeAnnouncementRejectsTruncatedInput(t *testing.T) {
	_, err := DecodeAnnouncement([]byte{0x00, 0x05, 'h', 'e'})
	assert.Error(t, err)
}

func TestDecodeRequestRejectsTruncatedInput(t *testing.T) {
	_, err := DecodeRequest([]byte{0x00, 0x05, 'h'})
	assert.Error(t, err)
}
