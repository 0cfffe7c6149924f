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

package dht

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/sage-x-project/sage-mesh/core/identity"
	"github.com/sage-x-project/sage-mesh/errs"
)

// Op is the 1-byte DHT RPC opcode.
type Op byte

const (
	OpPing      Op = 0x01
	OpPong      Op = 0x02
	OpFindNode  Op = 0x03
	OpFoundNode Op = 0x04
	OpStore     Op = 0x05
)

// Message is a decoded DHT RPC frame: op(1) | rpcId(u32 BE) | body.
type Message struct {
	Op    Op
	RPCID uint32
	Body  []byte
}

// EncodePing builds a PING frame carrying the sender's own SignedPeerInfo.
func EncodePing(rpcID uint32, self *SignedPeerInfo) []byte {
	return frame(OpPing, rpcID, self.Marshal())
}

// EncodePong builds a PONG frame carrying the responder's SignedPeerInfo.
func EncodePong(rpcID uint32, self *SignedPeerInfo) []byte {
	return frame(OpPong, rpcID, self.Marshal())
}

// EncodeFindNode builds a FIND_NODE frame for targetID.
func EncodeFindNode(rpcID uint32, target identity.NodeID) []byte {
	return frame(OpFindNode, rpcID, target.Bytes())
}

// EncodeFoundNode builds a FOUND_NODE frame: count(u8) | (len(u16 BE) | bytes){count}.
func EncodeFoundNode(rpcID uint32, entries []*SignedPeerInfo) []byte {
	var body bytes.Buffer
	body.WriteByte(byte(len(entries)))
	for _, e := range entries {
		encoded := e.Marshal()
		binary.Write(&body, binary.BigEndian, uint16(len(encoded)))
		body.Write(encoded)
	}
	return frame(OpFoundNode, rpcID, body.Bytes())
}

// EncodeStore builds a STORE frame carrying the sender's SignedPeerInfo.
func EncodeStore(rpcID uint32, info *SignedPeerInfo) []byte {
	return frame(OpStore, rpcID, info.Marshal())
}

func frame(op Op, rpcID uint32, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(op))
	binary.Write(&buf, binary.BigEndian, rpcID)
	buf.Write(body)
	return buf.Bytes()
}

// Decode parses a DHT RPC frame's header, leaving op-specific decoding to
// the per-op Decode* helpers below.
func Decode(data []byte) (*Message, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("%w: dht frame too short", errs.MalformedEnvelope)
	}
	return &Message{
		Op:    Op(data[0]),
		RPCID: binary.BigEndian.Uint32(data[1:5]),
		Body:  data[5:],
	}, nil
}

// DecodeFindNode extracts the target NodeID from a FIND_NODE body.
func DecodeFindNode(body []byte) (identity.NodeID, error) {
	var target identity.NodeID
	if len(body) != identity.IDLength {
		return target, fmt.Errorf("%w: bad find_node target length", errs.MalformedEnvelope)
	}
	copy(target[:], body)
	return target, nil
}

// DecodeFoundNode extracts the SignedPeerInfo list from a FOUND_NODE body.
func DecodeFoundNode(body []byte) ([]*SignedPeerInfo, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("%w: empty found_node body", errs.MalformedEnvelope)
	}
	count := int(body[0])
	rest := body[1:]

	out := make([]*SignedPeerInfo, 0, count)
	for i := 0; i < count; i++ {
		if len(rest) < 2 {
			return nil, fmt.Errorf("%w: truncated found_node entry length", errs.MalformedEnvelope)
		}
		entryLen := int(binary.BigEndian.Uint16(rest[:2]))
		rest = rest[2:]
		if len(rest) < entryLen {
			return nil, fmt.Errorf("%w: truncated found_node entry", errs.MalformedEnvelope)
		}
		info, _, err := UnmarshalSignedPeerInfo(rest[:entryLen])
		if err != nil {
			return nil, err
		}
		out = append(out, info)
		rest = rest[entryLen:]
	}
	return out, nil
}

// DecodePeerInfo extracts a single SignedPeerInfo from a PING/PONG/STORE
// body.
func DecodePeerInfo(body []byte) (*SignedPeerInfo, error) {
	info, _, err := UnmarshalSignedPeerInfo(body)
	return info, err
}
