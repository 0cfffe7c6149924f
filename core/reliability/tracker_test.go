package reliability

import (
	"sync"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage-mesh/errs"
)

type sendRecorder struct {
	mu    sync.Mutex
	sends []string
	fail  bool
}

func (r *sendRecorder) SendFunc(destination string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return assert.AnError
	}
	r.sends = append(r.sends, destination)
	return nil
}

func (r *sendRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sends)
}

func TestTrackAckCompletesSuccessfully(t *testing.T) {
	mock := clock.NewMock()
	rec := &sendRecorder{}
	tr := NewTracker(rec.SendFunc, WithClock(mock), WithRetryPolicy(2*time.Second, 3, 30*time.Second))
	tr.Start()
	defer tr.Stop()

	done, err := tr.Track("peer-a", 1, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.count())

	ok := tr.Ack("peer-a", 1)
	assert.True(t, ok)

	select {
	case result := <-done:
		assert.NoError(t, result)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}
	assert.Equal(t, 0, tr.PendingCount())
}

func TestAckForUnknownMessageReturnsFalse(t *testing.T) {
	tr := NewTracker(func(string, []byte) error { return nil })
	assert.False(t, tr.Ack("peer-a", 99))
}

func TestRetriesUpToMaxThenFails(t *testing.T) {
	mock := clock.NewMock()
	rec := &sendRecorder{}
	tr := NewTracker(rec.SendFunc, WithClock(mock), WithRetryPolicy(2*time.Second, 3, time.Hour))
	tr.Start()
	defer tr.Stop()

	done, err := tr.Track("peer-a", 1, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.count())

	// 3 retries, each after a 2s tick.
	for i := 0; i < 3; i++ {
		mock.Add(2 * time.Second)
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 4, rec.count()) // initial send + 3 retries

	// One more tick beyond maxRetries completes as failure.
	mock.Add(2 * time.Second)

	select {
	case result := <-done:
		assert.ErrorIs(t, result, errs.MaxRetriesExceeded)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for failure")
	}
}

func TestGlobalTimeoutFailsRegardlessOfRetryCount(t *testing.T) {
	mock := clock.NewMock()
	rec := &sendRecorder{}
	tr := NewTracker(rec.SendFunc, WithClock(mock), WithRetryPolicy(time.Hour, 3, 5*time.Second))
	tr.Start()
	defer tr.Stop()

	done, err := tr.Track("peer-a", 1, []byte("hello"))
	require.NoError(t, err)

	mock.Add(6 * time.Second)

	select {
	case result := <-done:
		assert.ErrorIs(t, result, errs.AckTimeout)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for failure")
	}
}

func TestStopCompletesPendingAsTransportClosed(t *testing.T) {
	rec := &sendRecorder{}
	tr := NewTracker(rec.SendFunc)
	tr.Start()

	done, err := tr.Track("peer-a", 1, []byte("hello"))
	require.NoError(t, err)

	tr.Stop()

	select {
	case result := <-done:
		assert.ErrorIs(t, result, errs.TransportClosed)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for shutdown completion")
	}
}

func TestTrackReturnsErrorWhenInitialSendFails(t *testing.T) {
	rec := &sendRecorder{fail: true}
	tr := NewTracker(rec.SendFunc)

	_, err := tr.Track("peer-a", 1, []byte("hello"))
	assert.Error(t, err)
}
