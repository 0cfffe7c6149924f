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

package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/sage-x-project/sage-mesh/core/identity"
	"github.com/sage-x-project/sage-mesh/core/session"
	"github.com/sage-x-project/sage-mesh/crypto/keys"
	"github.com/sage-x-project/sage-mesh/errs"
	"github.com/sage-x-project/sage-mesh/internal/metrics"
)

// DefaultChallengeTimeout bounds how long an initiator waits for
// AUTH_RESPONSE before the pending challenge is swept.
const DefaultChallengeTimeout = 30 * time.Second

// pendingChallenge is the initiator-side state kept between sending
// AUTH_CHALLENGE and receiving AUTH_RESPONSE, mirroring the teacher
// handshake server's pendingState/savePending/takePending/cleanup-ticker
// shape, generalized to an injectable clock.
type pendingChallenge struct {
	nonce   [ChallengeSize]byte
	expires time.Time
}

// Manager runs both sides of the challenge/response handshake for one
// node and installs completed sessions into a session.Manager.
type Manager struct {
	id       *identity.Identity
	sessions *session.Manager
	clock    clock.Clock
	timeout  time.Duration
	metrics  *metrics.Metrics

	mu      sync.Mutex
	pending map[string]pendingChallenge

	stop chan struct{}
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithClock overrides the time source, for deterministic timeout tests.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithChallengeTimeout overrides DefaultChallengeTimeout.
func WithChallengeTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithMetrics attaches a Prometheus sink.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// NewManager builds a handshake Manager bound to a node identity and the
// session store it installs completed handshakes into.
func NewManager(id *identity.Identity, sessions *session.Manager, opts ...Option) *Manager {
	m := &Manager{
		id:       id,
		sessions: sessions,
		clock:    clock.New(),
		timeout:  DefaultChallengeTimeout,
		pending:  make(map[string]pendingChallenge),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SessionLabel returns the canonical session key under which both ends
// of a handshake between deviceA and deviceB install their Session:
// session.New binds its derived key to the label it's given, so the two
// sides must derive from the identical string rather than each other's
// one-sided view of "the remote peer". Sorting the pair makes the label
// symmetric regardless of which side calls it.
func SessionLabel(deviceA, deviceB string) string {
	if deviceA < deviceB {
		return deviceA + "|" + deviceB
	}
	return deviceB + "|" + deviceA
}

// agreementKeyPair returns the node's ephemeral X25519 keypair as its
// concrete type, the way the teacher's handshake server asserts down
// from crypto.KeyPair to reach DeriveSharedSecret/PublicBytesKey.
func (m *Manager) agreementKeyPair() (*keys.X25519KeyPair, error) {
	kp, ok := m.id.AgreementKeyPair().(*keys.X25519KeyPair)
	if !ok {
		return nil, fmt.Errorf("auth: unexpected agreement key type %T", m.id.AgreementKeyPair())
	}
	return kp, nil
}

// Initiate builds AUTH_CHALLENGE for peerID and records the pending
// state needed to validate AUTH_RESPONSE. The returned bytes are the
// auth-challenge payload to wrap in a DATA envelope and send.
func (m *Manager) Initiate(peerID string) ([]byte, error) {
	agreement, err := m.agreementKeyPair()
	if err != nil {
		return nil, err
	}

	ch := &Challenge{
		SigningPub: m.id.SigningPublicKey(),
		X25519Pub:  agreement.PublicBytesKey(),
	}
	if _, err := rand.Read(ch.Nonce[:]); err != nil {
		return nil, fmt.Errorf("auth: generate challenge nonce: %w", err)
	}

	m.mu.Lock()
	m.pending[peerID] = pendingChallenge{
		nonce:   ch.Nonce,
		expires: m.clock.Now().Add(m.timeout),
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.HandshakesStarted.Inc()
	}
	return ch.Encode(), nil
}

// HandleChallenge processes an inbound AUTH_CHALLENGE from fromPeerID:
// it derives the shared secret, installs the session, and returns the
// AUTH_RESPONSE payload to send back along with the initiator's signing
// public key, so the caller (node.Core) can record it against the peer.
func (m *Manager) HandleChallenge(fromPeerID string, payload []byte) (responsePayload []byte, remoteSigningPub ed25519.PublicKey, err error) {
	ch, err := DecodeChallenge(payload)
	if err != nil {
		m.failure("malformed_challenge")
		return nil, nil, err
	}
	if len(ch.SigningPub) != ed25519.PublicKeySize {
		m.failure("bad_signing_key")
		return nil, nil, fmt.Errorf("auth: invalid initiator signing key length")
	}

	agreement, err := m.agreementKeyPair()
	if err != nil {
		return nil, nil, err
	}

	shared, err := agreement.DeriveSharedSecret(ch.X25519Pub)
	if err != nil {
		m.failure("ecdh_failed")
		return nil, nil, fmt.Errorf("auth: derive shared secret: %w", err)
	}
	if _, err := m.sessions.Install(SessionLabel(m.id.DeviceID(), fromPeerID), shared); err != nil {
		m.failure("session_install_failed")
		return nil, nil, err
	}

	sig, err := m.id.Sign(ch.Nonce[:])
	if err != nil {
		m.failure("sign_failed")
		return nil, nil, fmt.Errorf("auth: sign challenge: %w", err)
	}

	resp := &Response{
		Nonce:      ch.Nonce,
		Signature:  sig,
		SigningPub: m.id.SigningPublicKey(),
		X25519Pub:  agreement.PublicBytesKey(),
	}
	if m.metrics != nil {
		m.metrics.HandshakesComplete.Inc()
	}
	return resp.Encode(), ed25519.PublicKey(ch.SigningPub), nil
}

// HandleResponse processes an inbound AUTH_RESPONSE completing a
// handshake this node Initiate-d. lookupKey is whatever id Initiate was
// called with (usually the remote's device-id; a bootstrap donor's
// placeholder id if the real device-id wasn't known yet); remoteDeviceID
// is the responder's actual device-id, used to install the session
// under the canonical SessionLabel both sides agree on regardless of
// what lookupKey happened to be. It verifies the signature over the
// originally-issued nonce, derives and installs the session key, and
// returns the responder's signing public key so the caller can mark the
// peer authenticated.
func (m *Manager) HandleResponse(lookupKey, remoteDeviceID string, payload []byte) (authenticated bool, remoteSigningPub ed25519.PublicKey, err error) {
	resp, err := DecodeResponse(payload)
	if err != nil {
		m.failure("malformed_response")
		return false, nil, err
	}

	m.mu.Lock()
	pending, ok := m.pending[lookupKey]
	if ok {
		delete(m.pending, lookupKey)
	}
	m.mu.Unlock()

	if !ok {
		m.failure("no_pending_challenge")
		return false, nil, fmt.Errorf("%w: %s", errs.NoPendingChallenge, lookupKey)
	}
	if m.clock.Now().After(pending.expires) {
		m.failure("challenge_expired")
		return false, nil, fmt.Errorf("auth: challenge for %s expired", lookupKey)
	}
	if pending.nonce != resp.Nonce {
		m.failure("nonce_mismatch")
		return false, nil, fmt.Errorf("%w: response nonce does not match issued challenge", errs.SignatureMismatch)
	}
	if len(resp.SigningPub) != ed25519.PublicKeySize {
		m.failure("bad_signing_key")
		return false, nil, fmt.Errorf("auth: invalid responder signing key length")
	}
	if !identity.Verify(ed25519.PublicKey(resp.SigningPub), resp.Nonce[:], resp.Signature) {
		m.failure("signature_mismatch")
		return false, nil, errs.SignatureMismatch
	}

	agreement, err := m.agreementKeyPair()
	if err != nil {
		return false, nil, err
	}
	shared, err := agreement.DeriveSharedSecret(resp.X25519Pub)
	if err != nil {
		m.failure("ecdh_failed")
		return false, nil, fmt.Errorf("auth: derive shared secret: %w", err)
	}
	if _, err := m.sessions.Install(SessionLabel(m.id.DeviceID(), remoteDeviceID), shared); err != nil {
		m.failure("session_install_failed")
		return false, nil, err
	}

	if m.metrics != nil {
		m.metrics.HandshakesComplete.Inc()
	}
	return true, ed25519.PublicKey(resp.SigningPub), nil
}

func (m *Manager) failure(reason string) {
	if m.metrics != nil {
		m.metrics.HandshakeFailures.WithLabelValues(reason).Inc()
	}
}

// PendingCount reports how many challenges this node has issued and is
// still waiting on a response for.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// StartCleanup runs a periodic sweep that drops expired pending
// challenges, so a peer that never responds doesn't leak state forever.
func (m *Manager) StartCleanup(interval time.Duration) {
	go func() {
		ticker := m.clock.Ticker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-m.stop:
				return
			}
		}
	}()
}

// StopCleanup stops the background sweep goroutine started by
// StartCleanup.
func (m *Manager) StopCleanup() {
	close(m.stop)
}

func (m *Manager) sweep() {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for peerID, pending := range m.pending {
		if now.After(pending.expires) {
			delete(m.pending, peerID)
		}
	}
}
