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

package session

import (
	"fmt"
	"sync"

	"github.com/andres-erbsen/clock"
)

// Manager is the node-wide store of per-peer sessions, one Session per
// id passed to Install (core/auth uses auth.SessionLabel of the two
// device-ids). Re-authentication replaces a session: Install closes the
// old one and stores the new one outright, since a second successful
// handshake implies a fresh shared secret.
type Manager struct {
	mu            sync.RWMutex
	sessions      map[string]*Session
	clock         clock.Clock
	defaultConfig Config
}

// ManagerOption configures a Manager at construction time.
type ManagerOption func(*Manager)

// WithManagerClock overrides the time source passed to every Session this
// Manager creates.
func WithManagerClock(c clock.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// WithDefaultConfig sets the Config used by Install when the caller does
// not supply one.
func WithDefaultConfig(cfg Config) ManagerOption {
	return func(m *Manager) { m.defaultConfig = cfg }
}

// NewManager creates an empty session store.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		clock:    clock.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Install derives and stores a new Session for peerID from an ECDH
// shared secret, replacing any existing session for that peer.
func (m *Manager) Install(peerID string, sharedSecret []byte) (*Session, error) {
	sess, err := New(peerID, sharedSecret, m.defaultConfig, WithClock(m.clock))
	if err != nil {
		return nil, fmt.Errorf("session manager: install %s: %w", peerID, err)
	}

	m.mu.Lock()
	if old, exists := m.sessions[peerID]; exists {
		old.Close()
	}
	m.sessions[peerID] = sess
	m.mu.Unlock()

	return sess, nil
}

// Get returns the live session for peerID, evicting and reporting
// absence if it has expired.
func (m *Manager) Get(peerID string) (*Session, bool) {
	m.mu.RLock()
	sess, exists := m.sessions[peerID]
	m.mu.RUnlock()
	if !exists {
		return nil, false
	}
	if sess.IsExpired() {
		m.Remove(peerID)
		return nil, false
	}
	return sess, true
}

// Remove closes and deletes the session for peerID, if any.
func (m *Manager) Remove(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, exists := m.sessions[peerID]; exists {
		sess.Close()
		delete(m.sessions, peerID)
	}
}

// Sweep closes and removes every expired session, returning how many
// were evicted. node.Core does not call it; there an expired session is
// removed when Get finds it.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var evicted int
	for id, sess := range m.sessions {
		if sess.IsExpired() {
			sess.Close()
			delete(m.sessions, id)
			evicted++
		}
	}
	return evicted
}

// Stats reports the current session population.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{Total: len(m.sessions)}
	for _, sess := range m.sessions {
		if sess.IsExpired() {
			stats.Expired++
		}
	}
	return stats
}

// Close closes every session and empties the store.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sess := range m.sessions {
		sess.Close()
	}
	m.sessions = make(map[string]*Session)
}
