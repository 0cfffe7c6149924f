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

package node

import (
	"fmt"

	"github.com/sage-x-project/sage-mesh/core/session"
	"github.com/sage-x-project/sage-mesh/errs"
)

// payloadKind is the outer one-byte prefix a DATA envelope's payload
// carries so the dispatch loop can tell an AUTH_CHALLENGE from a
// content-request from a DHT RPC frame from plain application bytes,
// before handing the remainder to the component that owns that wire
// format. Each sub-protocol (core/auth, core/content, core/dht) still
// carries its own internal framing below this byte; this prefix only
// solves the cross-component collision that would otherwise exist
// between e.g. auth's Tag and dht's RPC Op both starting at 0x01.
type payloadKind byte

const (
	payloadAuthChallenge payloadKind = iota + 1
	payloadAuthResponse
	payloadContentAnnouncement
	payloadContentRequest
	payloadContentData
	payloadDHTRPC
	payloadPlainText
)

// wrapPayload prepends kind to body, ready to carry as a DATA envelope's
// payload.
func wrapPayload(kind payloadKind, body []byte) []byte {
	out := make([]byte, 0, 1+len(body))
	out = append(out, byte(kind))
	return append(out, body...)
}

// unwrapPayload splits a DATA envelope's payload into its dispatch kind
// and the remaining sub-protocol bytes.
func unwrapPayload(data []byte) (payloadKind, []byte, error) {
	if len(data) < 1 {
		return 0, nil, fmt.Errorf("%w: empty data payload", errs.MalformedEnvelope)
	}
	return payloadKind(data[0]), data[1:], nil
}

// encFlag prefixes a wrapPayload-tagged body on the wire: 0 for plaintext
// (used before any session exists, e.g. the auth handshake and DHT RPC),
// 1 for sealed under the recipient's installed session.
const (
	encFlagPlain byte = 0
	encFlagSealed byte = 1
)

// buildDataPayload tags body with kind and, when sess is non-nil, seals it
// under the peer's session before framing it for the wire. Callers that
// have no session yet (auth handshake frames, DHT RPC sent to an
// unauthenticated peer) pass a nil sess and the payload travels in the
// clear.
func buildDataPayload(kind payloadKind, body []byte, sess *session.Session) []byte {
	tagged := wrapPayload(kind, body)

	if sess == nil {
		out := make([]byte, 0, 1+len(tagged))
		out = append(out, encFlagPlain)
		return append(out, tagged...)
	}

	nonce, ciphertext, err := sess.Seal(tagged)
	if err != nil {
		// Sealing only fails on a closed session; fall back to plaintext
		// rather than silently dropping the message.
		out := make([]byte, 0, 1+len(tagged))
		out = append(out, encFlagPlain)
		return append(out, tagged...)
	}
	out := make([]byte, 0, 1+len(nonce)+len(ciphertext))
	out = append(out, encFlagSealed)
	out = append(out, nonce...)
	return append(out, ciphertext...)
}

// parseDataPayload reverses buildDataPayload. sess is the caller's
// installed session for the sending peer, if any; hasSess distinguishes
// "no session" from "session is the zero value" since sess may be nil in
// both cases.
func parseDataPayload(data []byte, sess *session.Session, hasSess bool) (payloadKind, []byte, error) {
	if len(data) < 1 {
		return 0, nil, fmt.Errorf("%w: empty data payload", errs.MalformedEnvelope)
	}
	flag, rest := data[0], data[1:]

	switch flag {
	case encFlagPlain:
		return unwrapPayload(rest)
	case encFlagSealed:
		if !hasSess || sess == nil {
			return 0, nil, fmt.Errorf("%w: sealed payload with no installed session", errs.NoSession)
		}
		if len(rest) < session.NonceSize {
			return 0, nil, fmt.Errorf("%w: sealed payload shorter than nonce", errs.MalformedEnvelope)
		}
		nonce, ciphertext := rest[:session.NonceSize], rest[session.NonceSize:]
		plaintext, err := sess.Open(nonce, ciphertext)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: %v", errs.MalformedEnvelope, err)
		}
		return unwrapPayload(plaintext)
	default:
		return 0, nil, fmt.Errorf("%w: unknown encryption flag %d", errs.MalformedEnvelope, flag)
	}
}
