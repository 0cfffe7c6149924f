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

// Package auth implements the two-step challenge/response handshake that
// authenticates a peer and installs a per-peer AEAD session key (C7).
// Its wire messages travel inside a DATA envelope's payload, tagged by
// the prefix byte defined here so node.Core can demultiplex them from
// gossip, DHT RPC, and plain application payloads.
package auth

import (
	"encoding/binary"
	"fmt"

	"github.com/sage-x-project/sage-mesh/errs"
)

// Tag is the 1-byte payload-type prefix node.Core's inbound dispatch
// switches on.
type Tag byte

const (
	TagChallenge Tag = 0x01
	TagResponse  Tag = 0x02
)

// ChallengeSize is the length in bytes of the random challenge nonce.
const ChallengeSize = 32

// Challenge is AUTH_CHALLENGE: a random nonce plus the initiator's
// signing and X25519 agreement public keys.
type Challenge struct {
	Nonce      [ChallengeSize]byte
	SigningPub []byte
	X25519Pub  []byte
}

// Encode serializes a Challenge as: tag(1) | nonce(32) | slen(u16 BE) |
// signingPub | xlen(u16 BE) | x25519Pub.
func (c *Challenge) Encode() []byte {
	buf := make([]byte, 0, 1+ChallengeSize+2+len(c.SigningPub)+2+len(c.X25519Pub))
	buf = append(buf, byte(TagChallenge))
	buf = append(buf, c.Nonce[:]...)
	buf = appendLenPrefixed(buf, c.SigningPub)
	buf = appendLenPrefixed(buf, c.X25519Pub)
	return buf
}

// DecodeChallenge parses a Challenge produced by Encode.
func DecodeChallenge(data []byte) (*Challenge, error) {
	if len(data) < 1+ChallengeSize {
		return nil, fmt.Errorf("%w: auth challenge too short", errs.MalformedEnvelope)
	}
	if Tag(data[0]) != TagChallenge {
		return nil, fmt.Errorf("%w: not an auth challenge", errs.MalformedEnvelope)
	}
	c := &Challenge{}
	copy(c.Nonce[:], data[1:1+ChallengeSize])
	rest := data[1+ChallengeSize:]

	signingPub, rest, err := readLenPrefixed(rest)
	if err != nil {
		return nil, err
	}
	x25519Pub, _, err := readLenPrefixed(rest)
	if err != nil {
		return nil, err
	}
	c.SigningPub = signingPub
	c.X25519Pub = x25519Pub
	return c, nil
}

// Response is AUTH_RESPONSE: the echoed challenge nonce, a signature
// over it under the responder's signing key, and the responder's own
// signing/X25519 public keys.
type Response struct {
	Nonce      [ChallengeSize]byte
	Signature  []byte
	SigningPub []byte
	X25519Pub  []byte
}

// Encode serializes a Response as: tag(1) | nonce(32) | slen(u16)|sig |
// pklen(u16)|signingPub | xlen(u16)|x25519Pub.
func (r *Response) Encode() []byte {
	buf := make([]byte, 0, 1+ChallengeSize+2+len(r.Signature)+2+len(r.SigningPub)+2+len(r.X25519Pub))
	buf = append(buf, byte(TagResponse))
	buf = append(buf, r.Nonce[:]...)
	buf = appendLenPrefixed(buf, r.Signature)
	buf = appendLenPrefixed(buf, r.SigningPub)
	buf = appendLenPrefixed(buf, r.X25519Pub)
	return buf
}

// DecodeResponse parses a Response produced by Encode.
func DecodeResponse(data []byte) (*Response, error) {
	if len(data) < 1+ChallengeSize {
		return nil, fmt.Errorf("%w: auth response too short", errs.MalformedEnvelope)
	}
	if Tag(data[0]) != TagResponse {
		return nil, fmt.Errorf("%w: not an auth response", errs.MalformedEnvelope)
	}
	r := &Response{}
	copy(r.Nonce[:], data[1:1+ChallengeSize])
	rest := data[1+ChallengeSize:]

	sig, rest, err := readLenPrefixed(rest)
	if err != nil {
		return nil, err
	}
	signingPub, rest, err := readLenPrefixed(rest)
	if err != nil {
		return nil, err
	}
	x25519Pub, _, err := readLenPrefixed(rest)
	if err != nil {
		return nil, err
	}
	r.Signature = sig
	r.SigningPub = signingPub
	r.X25519Pub = x25519Pub
	return r, nil
}

func appendLenPrefixed(buf, field []byte) []byte {
	var lenBytes [2]byte
	binary.BigEndian.PutUint16(lenBytes[:], uint16(len(field)))
	buf = append(buf, lenBytes[:]...)
	return append(buf, field...)
}

func readLenPrefixed(data []byte) (field, rest []byte, err error) {
	if len(data) < 2 {
		return nil, nil, fmt.Errorf("%w: truncated length prefix", errs.MalformedEnvelope)
	}
	n := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if len(data) < n {
		return nil, nil, fmt.Errorf("%w: truncated field", errs.MalformedEnvelope)
	}
	return data[:n], data[n:], nil
}
