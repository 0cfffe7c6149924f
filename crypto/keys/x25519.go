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

package keys

import (
	"crypto"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/cloudflare/circl/hpke"
	sagecrypto "github.com/sage-x-project/sage-mesh/crypto"
)

// X25519KeyPair is the ephemeral agreement keypair every node identity
// carries alongside its long-term Ed25519 signing key: generated fresh per
// process, never persisted, used only to derive the per-peer session key
// in the auth handshake and the per-content HPKE export secret.
type X25519KeyPair struct {
	privateKey *ecdh.PrivateKey
	publicKey  *ecdh.PublicKey
	id         string
}

// GenerateX25519KeyPair generates a new ephemeral X25519 key pair.
func GenerateX25519KeyPair() (sagecrypto.KeyPair, error) {
	privateKey, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral ECDH key: %w", err)
	}
	publicKey := privateKey.PublicKey()

	hash := sha256.Sum256(publicKey.Bytes())
	id := hex.EncodeToString(hash[:8])

	return &X25519KeyPair{
		privateKey: privateKey,
		publicKey:  publicKey,
		id:         id,
	}, nil
}

func (kp *X25519KeyPair) PublicKey() crypto.PublicKey { return kp.publicKey }

// PublicBytesKey is what goes on the wire in AUTH_CHALLENGE/AUTH_RESPONSE's
// x25519_pub field.
func (kp *X25519KeyPair) PublicBytesKey() []byte { return kp.publicKey.Bytes() }

func (kp *X25519KeyPair) PrivateKey() crypto.PrivateKey { return kp.privateKey }

func (kp *X25519KeyPair) Type() sagecrypto.KeyType { return sagecrypto.KeyTypeX25519 }

func (kp *X25519KeyPair) ID() string { return kp.id }

// Sign always fails: X25519 is a key-agreement algorithm, not a signing one.
func (kp *X25519KeyPair) Sign(message []byte) ([]byte, error) {
	return nil, sagecrypto.ErrSignNotSupported
}

// Verify always fails, for the same reason as Sign.
func (kp *X25519KeyPair) Verify(message, signature []byte) error {
	return sagecrypto.ErrVerifyNotSupported
}

// DeriveSharedSecret computes the session key for the auth handshake:
// SHA-256 of the raw X25519 ECDH output between our private key and the
// peer's public key bytes. Both sides derive the same value because ECDH
// is commutative; core/auth/manager.go passes it to
// session.Manager.Install, which derives the session key from it.
func (kp *X25519KeyPair) DeriveSharedSecret(peerPubBytes []byte) ([]byte, error) {
	curve := ecdh.X25519()
	peerPub, err := curve.NewPublicKey(peerPubBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse peer public key: %w", err)
	}

	shared, err := kp.privateKey.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("failed to compute shared secret: %w", err)
	}

	sum := sha256.Sum256(shared)
	return sum[:], nil
}

// hpkeSuite is the single HPKE ciphersuite used across the mesh's
// export-secret derivation: X25519 KEM, HKDF-SHA256, ChaCha20-Poly1305 AEAD
// (the AEAD is unused here since only Export is called, but hpke.NewSuite
// requires one).
func hpkeSuite() hpke.Suite {
	return hpke.NewSuite(hpke.KEM_X25519_HKDF_SHA256, hpke.KDF_HKDF_SHA256, hpke.AEAD_ChaCha20Poly1305)
}

// HPKEDeriveSharedSecretToX25519Peer opens an HPKE Base-mode context to
// peer and exports exportLen bytes of keying material under info/exportCtx
// without encrypting anything. Used by core/content to derive a per-content
// key independent of the unicast session key: both sides must pass
// identical info and exportCtx to land on the same exporterSecret.
func HPKEDeriveSharedSecretToX25519Peer(peer *ecdh.PublicKey, info, exportCtx []byte, exportLen int) (enc, exporterSecret []byte, err error) {
	kem := hpke.KEM_X25519_HKDF_SHA256.Scheme()
	rp, err := kem.UnmarshalBinaryPublicKey(peer.Bytes())
	if err != nil {
		return nil, nil, fmt.Errorf("hpke unmarshal pub: %w", err)
	}

	sender, err := hpkeSuite().NewSender(rp, info)
	if err != nil {
		return nil, nil, fmt.Errorf("hpke new sender: %w", err)
	}

	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("hpke setup: %w", err)
	}

	secret := sealer.Export(exportCtx, uint(exportLen))
	return enc, secret, nil
}

// HPKEOpenSharedSecretWithX25519Priv reproduces the exporterSecret
// HPKEDeriveSharedSecretToX25519Peer derived, given the recipient's private
// key and the sender's enc. info and exportCtx must match the sender's.
func HPKEOpenSharedSecretWithX25519Priv(priv *ecdh.PrivateKey, enc, info, exportCtx []byte, exportLen int) (exporterSecret []byte, err error) {
	kem := hpke.KEM_X25519_HKDF_SHA256.Scheme()
	skR, err := kem.UnmarshalBinaryPrivateKey(priv.Bytes())
	if err != nil {
		return nil, fmt.Errorf("hpke unmarshal priv: %w", err)
	}

	receiver, err := hpkeSuite().NewReceiver(skR, info)
	if err != nil {
		return nil, fmt.Errorf("hpke new receiver: %w", err)
	}

	opener, err := receiver.Setup(enc)
	if err != nil {
		return nil, fmt.Errorf("hpke receiver setup: %w", err)
	}

	return opener.Export(exportCtx, uint(exportLen)), nil
}

// HPKEDeriveSharedSecretToPeer and HPKEOpenSharedSecretWithPriv accept the
// crypto.PublicKey/crypto.PrivateKey interface types core/content's Store
// holds its agreement keypair under, asserting down to the concrete
// *ecdh.PublicKey/*ecdh.PrivateKey the X25519 HPKE calls need.

func HPKEDeriveSharedSecretToPeer(pub crypto.PublicKey, info, exportCtx []byte, exportLen int) (enc, exporterSecret []byte, err error) {
	p, ok := pub.(*ecdh.PublicKey)
	if !ok {
		return nil, nil, fmt.Errorf("expected *ecdh.PublicKey, got %T", pub)
	}
	if p.Curve() != ecdh.X25519() {
		return nil, nil, fmt.Errorf("unsupported KEM curve: want X25519")
	}
	return HPKEDeriveSharedSecretToX25519Peer(p, info, exportCtx, exportLen)
}

func HPKEOpenSharedSecretWithPriv(priv crypto.PrivateKey, enc, info, exportCtx []byte, exportLen int) (exporterSecret []byte, err error) {
	p, ok := priv.(*ecdh.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("expected *ecdh.PrivateKey, got %T", priv)
	}
	if p.Curve() != ecdh.X25519() {
		return nil, fmt.Errorf("unsupported KEM curve: want X25519")
	}
	return HPKEOpenSharedSecretWithX25519Priv(p, enc, info, exportCtx, exportLen)
}
