// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage-mesh/config"
	"github.com/sage-x-project/sage-mesh/core/node"
	"github.com/sage-x-project/sage-mesh/transport/udp"
)

type selfAddr struct {
	ip   string
	port int
}

func newTestCore(t *testing.T, deviceID string) (*node.Core, selfAddr) {
	t.Helper()

	cfg := &config.Config{
		Username: deviceID,
		Network:  config.NetworkConfig{ForceLocalhost: true},
		Gossip:   config.GossipConfig{IntervalSeconds: 30, PeerCount: 3},
		Message:  config.MessageConfig{TimeoutSeconds: 30},
		Peer:     config.PeerConfig{CleanupIntervalSeconds: 60},
	}

	handle := &transportHandle{}
	core, err := node.NewCore(cfg, handle)
	require.NoError(t, err)

	transport, err := udp.Listen(0, core)
	require.NoError(t, err)
	handle.t = transport
	t.Cleanup(func() { transport.Close() })
	transport.Start()

	addr := selfAddr{ip: "127.0.0.1", port: int(transport.LocalPort())}
	core.SetSelfAddress(addr.ip, addr.port)
	core.Start()
	t.Cleanup(core.Stop)

	return core, addr
}

func TestStatsHandlerReportsDeviceID(t *testing.T) {
	core, _ := newTestCore(t, "node-a")
	srv := httptest.NewServer(newAdminServer(core, "").Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var stats node.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, "node-a", stats.DeviceID)
}

func TestJoinHandlerBootstrapsDonor(t *testing.T) {
	_, donorAddr := newTestCore(t, "donor")

	joiner, _ := newTestCore(t, "joiner")
	srv := httptest.NewServer(newAdminServer(joiner, "").Handler)
	defer srv.Close()

	body, err := json.Marshal(joinRequest{IP: donorAddr.ip, Port: donorAddr.port})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/join", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestJoinHandlerRejectsBadJSON(t *testing.T) {
	core, _ := newTestCore(t, "node-b")
	srv := httptest.NewServer(newAdminServer(core, "").Handler)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/join", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendHandlerRejectsUnknownPeer(t *testing.T) {
	core, _ := newTestCore(t, "node-c")
	srv := httptest.NewServer(newAdminServer(core, "").Handler)
	defer srv.Close()

	body, err := json.Marshal(sendRequest{To: "ghost", Message: "hi"})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/send", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
