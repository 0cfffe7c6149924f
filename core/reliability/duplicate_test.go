package reliability

import (
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/assert"
)

func TestDuplicateFilterDetectsRepeat(t *testing.T) {
	f := NewDuplicateFilter(time.Minute, clock.New())

	assert.False(t, f.Seen("peer-a", 1))
	assert.True(t, f.Seen("peer-a", 1))
}

func TestDuplicateFilterIsolatesSenders(t *testing.T) {
	f := NewDuplicateFilter(time.Minute, clock.New())

	assert.False(t, f.Seen("peer-a", 1))
	assert.False(t, f.Seen("peer-b", 1))
}

func TestDuplicateFilterExpiresAfterTTL(t *testing.T) {
	mock := clock.NewMock()
	f := NewDuplicateFilter(time.Minute, mock)

	assert.False(t, f.Seen("peer-a", 1))
	mock.Add(2 * time.Minute)
	assert.False(t, f.Seen("peer-a", 1))
}

func TestDuplicateFilterForgetSender(t *testing.T) {
	f := NewDuplicateFilter(time.Minute, clock.New())

	f.Seen("peer-a", 1)
	f.ForgetSender("peer-a")
	assert.False(t, f.Seen("peer-a", 1))
}

func TestDuplicateFilterGCRemovesExpiredEntries(t *testing.T) {
	mock := clock.NewMock()
	f := NewDuplicateFilter(time.Minute, mock)
	f.StartGC(time.Second)
	defer f.Stop()

	f.Seen("peer-a", 1)
	mock.Add(2 * time.Minute)
	mock.Add(2 * time.Second) // trigger GC tick
	time.Sleep(10 * time.Millisecond)

	assert.False(t, f.Seen("peer-a", 1))
}
