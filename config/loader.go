// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoaderOptions configures Load.
type LoaderOptions struct {
	// ConfigPath is the YAML file to read. Empty means defaults only.
	ConfigPath string
	// DotEnvPath, if non-empty, is read before config file resolution
	// so SAGEMESH_* vars set there are visible to env overrides.
	DotEnvPath string
	// SkipValidation disables Validate after load.
	SkipValidation bool
}

// Load builds a Config from (in ascending priority) built-in defaults,
// an optional YAML file, a .env file, and SAGEMESH_* environment
// variables. The result is validated unless SkipValidation is set, so
// a node either starts with a known-good config or not at all.
func Load(opts LoaderOptions) (*Config, error) {
	if opts.DotEnvPath != "" {
		if err := godotenv.Load(opts.DotEnvPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	var cfg *Config
	if opts.ConfigPath != "" {
		loaded, err := LoadFromFile(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = &Config{}
		setDefaults(cfg)
	}

	applyEnvironmentOverrides(cfg)

	if !opts.SkipValidation {
		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	return cfg, nil
}

// MustLoad calls Load and panics on error, for cmd/ entry points that
// would rather fail fast at startup than run half-configured.
func MustLoad(opts LoaderOptions) *Config {
	cfg, err := Load(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks the fields a node cannot safely run without.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Username == "" {
		errs = append(errs, errors.New("username must not be empty"))
	}
	if cfg.Network.UDPPort <= 0 || cfg.Network.UDPPort > 65535 {
		errs = append(errs, fmt.Errorf("udp_port %d out of range", cfg.Network.UDPPort))
	}
	if cfg.Gossip.PeerCount < 0 {
		errs = append(errs, errors.New("gossip_peer_count must not be negative"))
	}
	if cfg.Message.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("message_timeout_seconds must be positive"))
	}
	if cfg.Peer.CleanupIntervalSeconds <= 0 {
		errs = append(errs, errors.New("peer_cleanup_interval must be positive"))
	}

	return errors.Join(errs...)
}
