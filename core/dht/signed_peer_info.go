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

// Package dht implements the Kademlia-style routing table (C6): 160
// k-buckets of SignedPeerInfo entries keyed by XOR distance, the PING /
// FIND_NODE / STORE RPCs, and the iterative lookup used by find_node and
// join.
package dht

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/sage-x-project/sage-mesh/core/identity"
	"github.com/sage-x-project/sage-mesh/errs"
)

// SignedPeerInfo is the DHT-visible tuple: a self-asserted address and
// public key, signed by the peer it describes. Any copy accepted from the
// network must verify under its own embedded public key.
type SignedPeerInfo struct {
	DeviceID  string
	IP        string
	Port      uint16
	PublicKey ed25519.PublicKey
	Timestamp time.Time
	Signature []byte
}

// NodeID returns the 160-bit routing identifier this record addresses.
func (s *SignedPeerInfo) NodeID() identity.NodeID {
	return identity.DeriveNodeID(s.DeviceID)
}

// preimage builds the canonical byte sequence the signature covers: every
// field except the signature itself, in a fixed order and length-prefixed
// encoding so no field can bleed into its neighbor.
func (s *SignedPeerInfo) preimage() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(len(s.DeviceID)))
	buf.WriteString(s.DeviceID)
	buf.WriteByte(byte(len(s.IP)))
	buf.WriteString(s.IP)
	binary.Write(&buf, binary.BigEndian, s.Port)
	binary.Write(&buf, binary.BigEndian, uint16(len(s.PublicKey)))
	buf.Write(s.PublicKey)
	binary.Write(&buf, binary.BigEndian, s.Timestamp.UnixMilli())
	return buf.Bytes()
}

// Sign fills in Timestamp, PublicKey, and Signature using identity's
// long-term signing key.
func Sign(id *identity.Identity, ip string, port uint16) *SignedPeerInfo {
	s := &SignedPeerInfo{
		DeviceID:  id.DeviceID(),
		IP:        ip,
		Port:      port,
		PublicKey: id.SigningPublicKey(),
		Timestamp: time.Now().UTC(),
	}
	sig, err := id.Sign(s.preimage())
	if err != nil {
		// Signing with our own long-term Ed25519 key cannot fail in
		// practice; surfacing a half-signed record would violate the
		// "any SignedPeerInfo accepted must verify" invariant.
		panic(fmt.Sprintf("dht: signing own peer info: %v", err))
	}
	s.Signature = sig
	return s
}

// Verify checks the embedded signature against the embedded public key.
func (s *SignedPeerInfo) Verify() error {
	if len(s.PublicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: invalid public key length", errs.SignatureMismatch)
	}
	if !ed25519.Verify(s.PublicKey, s.preimage(), s.Signature) {
		return errs.SignatureMismatch
	}
	return nil
}

// Marshal encodes a SignedPeerInfo in the compact binary wire format:
// dlen(u8)|d|ilen(u8)|i|port(u16)|klen(u16)|k|slen(u16)|sig|ts(i64 BE).
// Public keys are carried as raw Ed25519 bytes rather than PEM (this mesh
// has no PEM codec; see DESIGN.md), but remain length-prefixed exactly as
// the framing requires so a mixed-key-length future stays wire-compatible.
func (s *SignedPeerInfo) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(len(s.DeviceID)))
	buf.WriteString(s.DeviceID)
	buf.WriteByte(byte(len(s.IP)))
	buf.WriteString(s.IP)
	binary.Write(&buf, binary.BigEndian, s.Port)
	binary.Write(&buf, binary.BigEndian, uint16(len(s.PublicKey)))
	buf.Write(s.PublicKey)
	binary.Write(&buf, binary.BigEndian, uint16(len(s.Signature)))
	buf.Write(s.Signature)
	binary.Write(&buf, binary.BigEndian, s.Timestamp.UnixMilli())
	return buf.Bytes()
}

// UnmarshalSignedPeerInfo decodes the wire format produced by Marshal,
// returning the number of bytes consumed.
func UnmarshalSignedPeerInfo(data []byte) (*SignedPeerInfo, int, error) {
	r := bytes.NewReader(data)

	dlen, err := r.ReadByte()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", errs.MalformedEnvelope, err)
	}
	device := make([]byte, dlen)
	if _, err := readFull(r, device); err != nil {
		return nil, 0, err
	}

	ilen, err := r.ReadByte()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", errs.MalformedEnvelope, err)
	}
	ip := make([]byte, ilen)
	if _, err := readFull(r, ip); err != nil {
		return nil, 0, err
	}

	var port uint16
	if err := binary.Read(r, binary.BigEndian, &port); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", errs.MalformedEnvelope, err)
	}

	var klen uint16
	if err := binary.Read(r, binary.BigEndian, &klen); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", errs.MalformedEnvelope, err)
	}
	pubKey := make([]byte, klen)
	if _, err := readFull(r, pubKey); err != nil {
		return nil, 0, err
	}

	var slen uint16
	if err := binary.Read(r, binary.BigEndian, &slen); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", errs.MalformedEnvelope, err)
	}
	sig := make([]byte, slen)
	if _, err := readFull(r, sig); err != nil {
		return nil, 0, err
	}

	var tsMillis int64
	if err := binary.Read(r, binary.BigEndian, &tsMillis); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", errs.MalformedEnvelope, err)
	}

	consumed := len(data) - r.Len()
	return &SignedPeerInfo{
		DeviceID:  string(device),
		IP:        string(ip),
		Port:      port,
		PublicKey: pubKey,
		Signature: sig,
		Timestamp: time.UnixMilli(tsMillis).UTC(),
	}, consumed, nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	n, err := r.Read(buf)
	if err != nil || n != len(buf) {
		return n, fmt.Errorf("%w: short read", errs.MalformedEnvelope)
	}
	return n, nil
}
