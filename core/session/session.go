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

// Package session holds the per-peer symmetric session keys installed by
// the authentication handshake (core/auth) and used to seal/open
// encrypted envelope payloads.
package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/andres-erbsen/clock"
	"golang.org/x/crypto/hkdf"

	"github.com/sage-x-project/sage-mesh/errs"
)

// keySize and nonceSize match AES-256-GCM: a 256-bit key, a 96-bit
// nonce, a 128-bit authentication tag (appended by cipher.AEAD.Seal).
const (
	keySize   = 32
	nonceSize = 12
)

// NonceSize is the wire size of the nonce Seal returns, exported so
// callers that concatenate nonce||ciphertext for transport (node.Core)
// can split them back apart without hard-coding the AES-GCM nonce length.
const NonceSize = nonceSize

// Session is the AEAD channel installed for one peer after a successful
// authentication handshake. It wraps AES-256-GCM with a key derived from
// the handshake's ECDH shared secret via HKDF, replacing the teacher's
// ChaCha20-Poly1305 choice with the AES-256-GCM the crypto component
// mandates.
type Session struct {
	peerID     string
	createdAt  time.Time
	lastUsedAt time.Time
	config     Config
	clock      clock.Clock

	aead cipher.AEAD

	// noncePrefix is a per-session random salt; the remaining bytes of
	// every nonce are a monotonic counter. Together they guarantee nonce
	// uniqueness for the life of the key without coordinating state
	// between the two peers sharing it.
	noncePrefix [4]byte
	counter     uint64

	closed bool
}

// deriveKey runs HKDF-SHA256 over the ECDH shared secret, binding the key
// to peerID so that two sessions never share key material even if
// (improbably) handed the same shared secret.
func deriveKey(sharedSecret []byte, peerID string) ([]byte, error) {
	h := hkdf.New(sha256.New, sharedSecret, []byte(peerID), []byte("sage-mesh session key v1"))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("session: derive key: %w", err)
	}
	return key, nil
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithClock overrides the time source, for deterministic expiry tests.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// New builds a Session from an ECDH shared secret, keyed to peerID. Both
// sides of a handshake call this with the same shared secret and arrive
// at the same AEAD key independently, without ever transmitting it.
func New(peerID string, sharedSecret []byte, cfg Config, opts ...Option) (*Session, error) {
	key, err := deriveKey(sharedSecret, peerID)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("session: new aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("session: new gcm: %w", err)
	}

	s := &Session{
		peerID: peerID,
		config: cfg,
		clock:  clock.New(),
		aead:   aead,
	}
	if _, err := rand.Read(s.noncePrefix[:]); err != nil {
		return nil, fmt.Errorf("session: generate nonce prefix: %w", err)
	}
	for _, opt := range opts {
		opt(s)
	}
	now := s.clock.Now()
	s.createdAt = now
	s.lastUsedAt = now
	return s, nil
}

// PeerID returns the id this session was created for (via Manager.Install,
// the auth.SessionLabel of the two device-ids).
func (s *Session) PeerID() string { return s.peerID }

// CreatedAt returns when the session was established.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastUsedAt returns the last time Seal or Open succeeded.
func (s *Session) LastUsedAt() time.Time { return s.lastUsedAt }

// IsExpired reports whether the session has outlived its configured
// absolute age or idle timeout. A zero duration in Config disables that
// particular check.
func (s *Session) IsExpired() bool {
	if s.closed {
		return true
	}
	now := s.clock.Now()
	if s.config.MaxAge > 0 && now.After(s.createdAt.Add(s.config.MaxAge)) {
		return true
	}
	if s.config.IdleTimeout > 0 && now.After(s.lastUsedAt.Add(s.config.IdleTimeout)) {
		return true
	}
	return false
}

// nextNonce returns a fresh 96-bit nonce: the fixed per-session random
// prefix followed by a monotonically increasing counter.
func (s *Session) nextNonce() []byte {
	n := atomic.AddUint64(&s.counter, 1)
	nonce := make([]byte, nonceSize)
	copy(nonce, s.noncePrefix[:])
	binary.BigEndian.PutUint64(nonce[4:], n)
	return nonce
}

// Seal encrypts plaintext under this session's key, returning the nonce
// used and the ciphertext (GCM tag included) ready for the wire.
func (s *Session) Seal(plaintext []byte) (nonce, ciphertext []byte, err error) {
	if s.closed {
		return nil, nil, errs.NoSession
	}
	nonce = s.nextNonce()
	ciphertext = s.aead.Seal(nil, nonce, plaintext, nil)
	s.lastUsedAt = s.clock.Now()
	return nonce, ciphertext, nil
}

// Open decrypts a ciphertext produced by the peer's Seal call, given the
// nonce it was sealed with.
func (s *Session) Open(nonce, ciphertext []byte) ([]byte, error) {
	if s.closed {
		return nil, errs.NoSession
	}
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("session: open: %w", err)
	}
	s.lastUsedAt = s.clock.Now()
	return plaintext, nil
}

// Close marks the session unusable. Seal/Open return errs.NoSession
// afterward.
func (s *Session) Close() error {
	s.closed = true
	return nil
}
