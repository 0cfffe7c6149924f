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

// Package identity owns the node's process-lifetime cryptographic identity:
// a long-term Ed25519 signing keypair, an ephemeral X25519 key-agreement
// keypair, and the 160-bit NodeID derived from the device identifier.
package identity

import (
	"crypto/ed25519"
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/sage-x-project/sage-mesh/crypto"
	"github.com/sage-x-project/sage-mesh/crypto/keys"
)

// IDLength is the size in bytes of a NodeID (SHA-1 digest length).
const IDLength = sha1.Size

// NodeID is the 160-bit identifier derived from a device identifier.
type NodeID [IDLength]byte

// DeriveNodeID computes NodeID = SHA-1(deviceID), per the routing table's
// XOR-distance addressing scheme.
func DeriveNodeID(deviceID string) NodeID {
	return NodeID(sha1.Sum([]byte(deviceID)))
}

// String renders the NodeID as lowercase hex, for log lines and wire frames.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// Base58 renders the NodeID in base58, for compact operator-facing output
// (CLI status lines, donor addresses) alongside hex.
func (id NodeID) Base58() string {
	return base58.Encode(id[:])
}

// Bytes returns the NodeID as a byte slice.
func (id NodeID) Bytes() []byte {
	return id[:]
}

// Xor returns the bytewise XOR distance between two NodeIDs.
func (id NodeID) Xor(other NodeID) NodeID {
	var out NodeID
	for i := range out {
		out[i] = id[i] ^ other[i]
	}
	return out
}

// Less reports whether id is lexicographically closer to the origin than
// other — used to order candidates by XOR distance.
func (id NodeID) Less(other NodeID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// PrefixLength returns the zero-based bit position (from the high bit) of
// the most significant set bit in the NodeID, i.e. the routing table bucket
// index this distance belongs in. An all-zero NodeID (self-distance) has no
// defined bucket and returns -1.
func (id NodeID) PrefixLength() int {
	for byteIdx, b := range id {
		if b == 0 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if b&(0x80>>uint(bit)) != 0 {
				return byteIdx*8 + bit
			}
		}
	}
	return -1
}

// NumBuckets is the number of routing table buckets, one per possible bit
// position of a 160-bit NodeID.
const NumBuckets = IDLength * 8

// BucketIndex returns the routing table bucket a peer with NodeID `remote`
// belongs in, relative to `local`. Returns -1 for remote == local.
func BucketIndex(local, remote NodeID) int {
	return local.Xor(remote).PrefixLength()
}

// Identity is the node's process-wide cryptographic identity: a long-term
// signing keypair, an ephemeral key-agreement keypair, and the NodeID they
// are bound to. It is created once at node start and is immutable for the
// lifetime of the process — the NodeID invariant depends on it never
// rotating the signing key.
type Identity struct {
	deviceID string
	nodeID   NodeID

	signing    crypto.KeyPair // Ed25519
	agreement  crypto.KeyPair // X25519, ephemeral per process
}

// New creates a node identity for deviceID, generating a fresh Ed25519
// signing keypair and a fresh X25519 agreement keypair.
func New(deviceID string) (*Identity, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("identity: device id must not be empty")
	}

	signing, err := keys.GenerateEd25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("identity: generate signing key: %w", err)
	}

	agreement, err := keys.GenerateX25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("identity: generate agreement key: %w", err)
	}

	return &Identity{
		deviceID:  deviceID,
		nodeID:    DeriveNodeID(deviceID),
		signing:   signing,
		agreement: agreement,
	}, nil
}

// NewFromSigningKey builds an identity around a caller-supplied signing
// keypair (e.g. loaded from a persisted JWK), generating only a fresh
// ephemeral agreement keypair.
func NewFromSigningKey(deviceID string, signing crypto.KeyPair) (*Identity, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("identity: device id must not be empty")
	}
	if signing.Type() != crypto.KeyTypeEd25519 {
		return nil, fmt.Errorf("identity: signing key must be Ed25519, got %s", signing.Type())
	}

	agreement, err := keys.GenerateX25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("identity: generate agreement key: %w", err)
	}

	return &Identity{
		deviceID:  deviceID,
		nodeID:    DeriveNodeID(deviceID),
		signing:   signing,
		agreement: agreement,
	}, nil
}

// DeviceID returns the identifier this identity's NodeID was derived from.
func (id *Identity) DeviceID() string { return id.deviceID }

// NodeID returns the stable 160-bit identifier for this process.
func (id *Identity) NodeID() NodeID { return id.nodeID }

// SigningKeyPair returns the long-term Ed25519 keypair used for all
// signatures (envelopes, SignedPeerInfo, auth challenges/responses).
func (id *Identity) SigningKeyPair() crypto.KeyPair { return id.signing }

// AgreementKeyPair returns the ephemeral X25519 keypair used to derive
// per-peer session keys during authentication.
func (id *Identity) AgreementKeyPair() crypto.KeyPair { return id.agreement }

// SigningPublicKey returns the raw Ed25519 public key bytes, as embedded in
// AUTH_CHALLENGE/AUTH_RESPONSE payloads and SignedPeerInfo.
func (id *Identity) SigningPublicKey() ed25519.PublicKey {
	return id.signing.PublicKey().(ed25519.PublicKey)
}

// Sign signs bytes under the long-term signing key.
func (id *Identity) Sign(message []byte) ([]byte, error) {
	return id.signing.Sign(message)
}

// Verify checks a signature produced by a remote signing public key. Kept as
// a package function (not a method) since it verifies foreign keys, not
// this identity's own.
func Verify(signingPublicKey ed25519.PublicKey, message, signature []byte) bool {
	return ed25519.Verify(signingPublicKey, message, signature)
}
