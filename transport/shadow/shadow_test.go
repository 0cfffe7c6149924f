// SPDX-License-Identifier: LGPL-3.0-or-later

package shadow

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReceiver struct {
	received chan []byte
}

func (r *recordingReceiver) HandleEnvelope(data []byte) error {
	r.received <- data
	return nil
}

func TestChannelRoundTripsEnvelopeBytes(t *testing.T) {
	recv := &recordingReceiver{received: make(chan []byte, 1)}

	var serverSide *Channel
	ready := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ch, err := Upgrade(w, r)
		require.NoError(t, err)
		serverSide = ch
		close(ready)
		_ = ch.Serve(recv)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := Dial(wsURL, time.Second)
	require.NoError(t, err)
	defer client.Close()

	<-ready
	defer serverSide.Close()

	require.NoError(t, client.SendEnvelope([]byte(`{"kind":"DATA"}`)))

	select {
	case got := <-recv.received:
		assert.Equal(t, `{"kind":"DATA"}`, string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("envelope not delivered over shadow channel")
	}
}

func TestDialRejectsUnreachableServer(t *testing.T) {
	_, err := Dial("ws://127.0.0.1:1/does-not-exist", 200*time.Millisecond)
	assert.Error(t, err)
}
