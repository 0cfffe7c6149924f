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

// Package envelope defines the on-wire application message unit shared by
// every node-to-node send: a typed, checksummed, optionally-acked frame.
package envelope

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sage-x-project/sage-mesh/errs"
)

// Kind is the 1-byte envelope type tag.
type Kind int

const (
	KindData Kind = iota
	KindAck
	KindNack
	KindHeartbeat
	KindRoutingTable
	KindPerformance
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "DATA"
	case KindAck:
		return "ACK"
	case KindNack:
		return "NACK"
	case KindHeartbeat:
		return "HEARTBEAT"
	case KindRoutingTable:
		return "ROUTING_TABLE"
	case KindPerformance:
		return "PERFORMANCE"
	case KindFile:
		return "FILE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(k))
	}
}

func (k Kind) valid() bool {
	return k >= KindData && k <= KindFile
}

// Envelope is the on-wire application message unit. Checksum is computed
// over a canonical JSON pre-image (stable key order) so the value is
// unambiguous regardless of the wire encoder used.
type Envelope struct {
	Type           Kind   `json:"type"`
	FromPeerID     string `json:"fromPeerId"`
	ToPeerID       string `json:"toPeerId,omitempty"`
	Payload        []byte `json:"payload"`
	Checksum       string `json:"checksum,omitempty"`
	SequenceNumber uint32 `json:"sequenceNumber"`
	Timestamp      time.Time `json:"timestamp"`
}

// wireEnvelope mirrors Envelope for JSON marshaling, base64-encoding the
// payload and hex-encoding the checksum per the wire format.
type wireEnvelope struct {
	Type           int    `json:"type"`
	FromPeerID     string `json:"fromPeerId"`
	ToPeerID       string `json:"toPeerId,omitempty"`
	Payload        string `json:"payload"`
	Checksum       string `json:"checksum,omitempty"`
	SequenceNumber uint32 `json:"sequenceNumber"`
	Timestamp      string `json:"timestamp"`
}

// New builds an envelope with a freshly computed checksum.
func New(kind Kind, fromPeerID, toPeerID string, payload []byte, seq uint32) *Envelope {
	e := &Envelope{
		Type:           kind,
		FromPeerID:     fromPeerID,
		ToPeerID:       toPeerID,
		Payload:        payload,
		SequenceNumber: seq,
		Timestamp:      time.Now().UTC(),
	}
	e.Checksum = e.computeChecksum()
	return e
}

// NewAck builds an ACK envelope for the given sender/sequence. The
// payload carries the acknowledged sequence number twice: a single
// truncated byte first (the original wire-compact form AckedSequence
// reads), then the full 4-byte big-endian value AckedSequenceFull reads —
// reliability.Tracker needs the latter since sequence numbers routinely
// exceed 255.
func NewAck(fromPeerID, toPeerID string, ackedSeq uint32, seq uint32) *Envelope {
	payload := make([]byte, 1, 5)
	payload[0] = byte(ackedSeq)
	payload = binary.BigEndian.AppendUint32(payload, ackedSeq)
	return New(KindAck, fromPeerID, toPeerID, payload, seq)
}

// NewNack builds a NACK envelope carrying the malformed/rejected sequence
// number and a short UTF-8 reason.
func NewNack(fromPeerID, toPeerID string, rejectedSeq uint32, reason string, seq uint32) *Envelope {
	payload := append([]byte{byte(rejectedSeq)}, []byte(reason)...)
	return New(KindNack, fromPeerID, toPeerID, payload, seq)
}

// canonicalPreimage produces the stable-key-order JSON the checksum is
// computed from: every envelope field except the checksum itself, with the
// payload base64-encoded and the timestamp in Unix milliseconds. The
// struct's field order fixes the key order.
func (e *Envelope) canonicalPreimage() []byte {
	pre := struct {
		Type           int    `json:"type"`
		FromPeerID     string `json:"fromPeerId"`
		ToPeerID       string `json:"toPeerId"`
		Payload        string `json:"payload"`
		SequenceNumber uint32 `json:"sequenceNumber"`
		Timestamp      int64  `json:"timestamp"`
	}{int(e.Type), e.FromPeerID, e.ToPeerID, base64.StdEncoding.EncodeToString(e.Payload), e.SequenceNumber, e.Timestamp.UnixMilli()}
	data, _ := json.Marshal(pre)
	return data
}

func (e *Envelope) computeChecksum() string {
	sum := sha256.Sum256(e.canonicalPreimage())
	return hex.EncodeToString(sum[:])
}

// VerifyChecksum recomputes the checksum over the envelope's fields and
// compares it against the carried value.
func (e *Envelope) VerifyChecksum() error {
	if e.computeChecksum() != e.Checksum {
		return errs.ChecksumMismatch
	}
	return nil
}

// Marshal encodes the envelope as wire JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	w := wireEnvelope{
		Type:           int(e.Type),
		FromPeerID:     e.FromPeerID,
		ToPeerID:       e.ToPeerID,
		Payload:        base64.StdEncoding.EncodeToString(e.Payload),
		Checksum:       e.Checksum,
		SequenceNumber: e.SequenceNumber,
		Timestamp:      e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	return json.Marshal(w)
}

// Unmarshal decodes wire JSON into an Envelope, validating structural
// fields but not the checksum (callers must call VerifyChecksum
// explicitly, since a checksum-mismatched envelope still needs to be read
// far enough to build a NACK).
func Unmarshal(data []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.MalformedEnvelope, err)
	}

	kind := Kind(w.Type)
	if !kind.valid() {
		return nil, fmt.Errorf("%w: unknown type %d", errs.MalformedEnvelope, w.Type)
	}
	if w.FromPeerID == "" {
		return nil, fmt.Errorf("%w: missing fromPeerId", errs.MalformedEnvelope)
	}

	payload, err := base64.StdEncoding.DecodeString(w.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid payload encoding: %v", errs.MalformedEnvelope, err)
	}

	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid timestamp: %v", errs.MalformedEnvelope, err)
	}

	return &Envelope{
		Type:           kind,
		FromPeerID:     w.FromPeerID,
		ToPeerID:       w.ToPeerID,
		Payload:        payload,
		Checksum:       w.Checksum,
		SequenceNumber: w.SequenceNumber,
		Timestamp:      ts,
	}, nil
}

// AckedSequence decodes the acknowledged sequence number from an ACK
// envelope's payload.
func (e *Envelope) AckedSequence() (byte, error) {
	if e.Type != KindAck {
		return 0, fmt.Errorf("envelope is not an ACK")
	}
	if len(e.Payload) < 1 {
		return 0, fmt.Errorf("%w: empty ACK payload", errs.MalformedEnvelope)
	}
	return e.Payload[0], nil
}

// AckedSequenceFull decodes the full uint32 acknowledged sequence number
// from an ACK envelope's payload, for matching against
// reliability.Tracker's pending entries (which are keyed by the full
// sequence, not its truncated low byte).
func (e *Envelope) AckedSequenceFull() (uint32, error) {
	if e.Type != KindAck {
		return 0, fmt.Errorf("envelope is not an ACK")
	}
	if len(e.Payload) < 5 {
		return 0, fmt.Errorf("%w: ack payload missing full sequence", errs.MalformedEnvelope)
	}
	return binary.BigEndian.Uint32(e.Payload[1:5]), nil
}

// NackReason decodes the rejected sequence number and reason string from a
// NACK envelope's payload.
func (e *Envelope) NackReason() (byte, string, error) {
	if e.Type != KindNack {
		return 0, "", fmt.Errorf("envelope is not a NACK")
	}
	if len(e.Payload) < 1 {
		return 0, "", fmt.Errorf("%w: empty NACK payload", errs.MalformedEnvelope)
	}
	return e.Payload[0], string(e.Payload[1:]), nil
}
