// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(LoaderOptions{SkipValidation: true})
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Network.UDPPort)
	assert.Equal(t, 30, cfg.Gossip.IntervalSeconds)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
username: display-node-1
network:
  udp_port: 9500
  force_localhost: true
gossip:
  gossip_interval: 10
  gossip_peer_count: 3
`), 0o644))

	cfg, err := Load(LoaderOptions{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, "display-node-1", cfg.Username)
	assert.Equal(t, 9500, cfg.Network.UDPPort)
	assert.True(t, cfg.Network.ForceLocalhost)
	assert.Equal(t, 10, cfg.Gossip.IntervalSeconds)
}

func TestEnvOverrideWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("username: file-value\nnetwork:\n  udp_port: 9500\n"), 0o644))

	t.Setenv("SAGEMESH_USERNAME", "env-value")
	t.Setenv("SAGEMESH_UDP_PORT", "7000")

	cfg, err := Load(LoaderOptions{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, "env-value", cfg.Username)
	assert.Equal(t, 7000, cfg.Network.UDPPort)
}

func TestValidateRejectsEmptyUsername(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	err := Validate(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "username")
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := &Config{Username: "node"}
	setDefaults(cfg)
	cfg.Network.UDPPort = 70000
	err := Validate(cfg)
	assert.Error(t, err)
}

func TestLoadFailsAtomicallyOnInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("network:\n  udp_port: -1\n"), 0o644))

	_, err := Load(LoaderOptions{ConfigPath: path})
	assert.Error(t, err)
}
