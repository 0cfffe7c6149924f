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

// Package content is the local store for publish_content: each item is
// encrypted at rest under a key derived per-item via HPKE export, distinct
// from (and outliving) any peer's unicast session key.
package content

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/sage-x-project/sage-mesh/crypto/keys"
)

const exportLen = 32

// Record is one stored content item's metadata and ciphertext.
type Record struct {
	ID         string
	Size       int
	Hash       [32]byte
	enc        []byte // HPKE encapsulated key, needed to re-derive the export secret
	nonce      []byte
	ciphertext []byte
}

// Store holds published content, sealed at rest with a self-addressed
// HPKE export secret keyed by content id: the node HPKE-encapsulates to
// its own X25519 public key with the id as context, so the derivation is
// bound to that specific item rather than reusing one node-wide key.
type Store struct {
	mu        sync.RWMutex
	items     map[string]*Record
	agreement *keys.X25519KeyPair
}

// NewStore creates a content store that seals items under agreement's
// X25519 keypair.
func NewStore(agreement *keys.X25519KeyPair) *Store {
	return &Store{
		items:     make(map[string]*Record),
		agreement: agreement,
	}
}

func (s *Store) deriveKey(id string) (enc, secret []byte, err error) {
	info := []byte("sage-mesh/content/" + id)
	enc, secret, err = keys.HPKEDeriveSharedSecretToPeer(s.agreement.PublicKey(), info, []byte(id), exportLen)
	if err != nil {
		return nil, nil, fmt.Errorf("content: derive content key: %w", err)
	}
	return enc, secret, nil
}

func (s *Store) openKey(id string, enc []byte) ([]byte, error) {
	info := []byte("sage-mesh/content/" + id)
	secret, err := keys.HPKEOpenSharedSecretWithPriv(s.agreement.PrivateKey(), enc, info, []byte(id), exportLen)
	if err != nil {
		return nil, fmt.Errorf("content: reopen content key: %w", err)
	}
	return secret, nil
}

// Put seals plaintext under id and stores it, overwriting any prior
// content at that id.
func (s *Store) Put(id string, plaintext []byte) (*Record, error) {
	enc, key, err := s.deriveKey(id)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("content: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("content: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("content: generate nonce: %w", err)
	}

	r := &Record{
		ID:         id,
		Size:       len(plaintext),
		Hash:       sha256.Sum256(plaintext),
		enc:        enc,
		nonce:      nonce,
		ciphertext: gcm.Seal(nil, nonce, plaintext, nil),
	}

	s.mu.Lock()
	s.items[id] = r
	s.mu.Unlock()
	return r, nil
}

// Get returns the decrypted plaintext for id.
func (s *Store) Get(id string) ([]byte, bool, error) {
	s.mu.RLock()
	r, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	key, err := s.openKey(id, r.enc)
	if err != nil {
		return nil, true, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, true, fmt.Errorf("content: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, true, fmt.Errorf("content: new gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, r.nonce, r.ciphertext, nil)
	if err != nil {
		return nil, true, fmt.Errorf("content: decrypt: %w", err)
	}
	return plaintext, true, nil
}

// Has reports whether id is stored locally.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[id]
	return ok
}

// Delete removes id from the store.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
}

// List returns the announceable metadata (id, size, hash) for every
// locally stored item.
func (s *Store) List() []Announcement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Announcement, 0, len(s.items))
	for _, r := range s.items {
		out = append(out, Announcement{ID: r.ID, Size: r.Size, Hash: r.Hash})
	}
	return out
}
