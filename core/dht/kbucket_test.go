package dht

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage-mesh/core/identity"
)

func signedInfo(t *testing.T, deviceID string) *SignedPeerInfo {
	t.Helper()
	id, err := identity.New(deviceID)
	require.NoError(t, err)
	return Sign(id, "10.0.0.1", 4000)
}

func TestKBucketInsertAndEntries(t *testing.T) {
	b := NewKBucket()
	b.Insert(signedInfo(t, "device-1"))
	b.Insert(signedInfo(t, "device-2"))

	assert.Equal(t, 2, b.Len())
	entries := b.Entries()
	assert.Equal(t, "device-1", entries[0].DeviceID)
	assert.Equal(t, "device-2", entries[1].DeviceID)
}

func TestKBucketReinsertMovesToTail(t *testing.T) {
	b := NewKBucket()
	b.Insert(signedInfo(t, "device-1"))
	b.Insert(signedInfo(t, "device-2"))
	b.Insert(signedInfo(t, "device-1"))

	entries := b.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "device-2", entries[0].DeviceID)
	assert.Equal(t, "device-1", entries[1].DeviceID)
}

func TestKBucketOverflowEvictsHead(t *testing.T) {
	b := NewKBucket()
	for i := 0; i < K+1; i++ {
		b.Insert(signedInfo(t, fmt.Sprintf("device-%d", i)))
	}

	assert.Equal(t, K, b.Len())
	entries := b.Entries()
	assert.Equal(t, "device-1", entries[0].DeviceID) // device-0 evicted
}

func TestKBucketRemove(t *testing.T) {
	b := NewKBucket()
	b.Insert(signedInfo(t, "device-1"))
	b.Remove("device-1")
	assert.Equal(t, 0, b.Len())
}
