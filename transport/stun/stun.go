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

// Package stun encodes and decodes the minimal subset of RFC 5389 needed
// to learn a node's public (ip, port) mapping through a NAT: a Binding
// Request and the XOR-MAPPED-ADDRESS attribute of a Binding Response.
// It has no socket of its own; transport/udp owns the connection and
// uses this package purely as a wire codec, the same split core/dht
// keeps between rpc.go's framing and engine.go's socket-driven RPCs.
package stun

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/sage-x-project/sage-mesh/errs"
)

// MagicCookie is the fixed RFC 5389 constant XOR'd into the transaction
// id's attribute space and every XOR-MAPPED-ADDRESS attribute.
const MagicCookie uint32 = 0x2112A442

// Message types used by a Binding transaction.
const (
	typeBindingRequest        uint16 = 0x0001
	typeBindingSuccessResponse uint16 = 0x0101
	typeBindingErrorResponse   uint16 = 0x0111
)

const attrXorMappedAddress uint16 = 0x0020

const headerSize = 20 // type(2) | length(2) | magic cookie(4) | transaction id(12)

// TransactionID is the 96-bit random value that disambiguates concurrent
// Binding transactions; responses are matched by this, not by source
// address, since a symmetric NAT may answer from an unexpected port.
type TransactionID [12]byte

// NewTransactionID draws a fresh random transaction id.
func NewTransactionID() (TransactionID, error) {
	var id TransactionID
	if _, err := rand.Read(id[:]); err != nil {
		return id, fmt.Errorf("stun: generate transaction id: %w", err)
	}
	return id, nil
}

// EncodeBindingRequest builds a zero-length Binding Request carrying id.
func EncodeBindingRequest(id TransactionID) []byte {
	buf := make([]byte, headerSize)
	binary.BigEndian.PutUint16(buf[0:2], typeBindingRequest)
	binary.BigEndian.PutUint16(buf[2:4], 0)
	binary.BigEndian.PutUint32(buf[4:8], MagicCookie)
	copy(buf[8:20], id[:])
	return buf
}

// LooksLikeMessage reports whether data's header matches a STUN message
// (magic cookie in place), the discriminator transport/udp's read loop
// uses to route an inbound datagram to the STUN responder instead of the
// mesh envelope/DHT dispatcher.
func LooksLikeMessage(data []byte) bool {
	if len(data) < headerSize {
		return false
	}
	return binary.BigEndian.Uint32(data[4:8]) == MagicCookie
}

// BindingResponse is a decoded Binding Success Response.
type BindingResponse struct {
	TransactionID TransactionID
	IP            net.IP
	Port          uint16
}

// DecodeBindingResponse parses a Binding Success Response and returns the
// XOR-MAPPED-ADDRESS it carries. A Binding Error Response decodes to an
// error naming the message type.
func DecodeBindingResponse(data []byte) (*BindingResponse, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: stun message too short", errs.MalformedEnvelope)
	}
	msgType := binary.BigEndian.Uint16(data[0:2])
	msgLen := int(binary.BigEndian.Uint16(data[2:4]))
	if binary.BigEndian.Uint32(data[4:8]) != MagicCookie {
		return nil, fmt.Errorf("%w: stun magic cookie mismatch", errs.MalformedEnvelope)
	}
	if len(data) < headerSize+msgLen {
		return nil, fmt.Errorf("%w: truncated stun message", errs.MalformedEnvelope)
	}

	resp := &BindingResponse{}
	copy(resp.TransactionID[:], data[8:20])

	if msgType == typeBindingErrorResponse {
		return nil, fmt.Errorf("%w: stun binding error response", errs.StunFailed)
	}
	if msgType != typeBindingSuccessResponse {
		return nil, fmt.Errorf("%w: unexpected stun message type %#x", errs.MalformedEnvelope, msgType)
	}

	attrs := data[headerSize : headerSize+msgLen]
	ip, port, err := findXorMappedAddress(attrs, resp.TransactionID)
	if err != nil {
		return nil, err
	}
	resp.IP = ip
	resp.Port = port
	return resp, nil
}

func findXorMappedAddress(attrs []byte, txID TransactionID) (net.IP, uint16, error) {
	for len(attrs) >= 4 {
		attrType := binary.BigEndian.Uint16(attrs[0:2])
		attrLen := int(binary.BigEndian.Uint16(attrs[2:4]))
		if len(attrs) < 4+attrLen {
			return nil, 0, fmt.Errorf("%w: truncated stun attribute", errs.MalformedEnvelope)
		}
		value := attrs[4 : 4+attrLen]

		if attrType == attrXorMappedAddress {
			return decodeXorMappedAddress(value, txID)
		}

		// attributes are padded to a 4-byte boundary
		padded := (attrLen + 3) &^ 3
		attrs = attrs[4+padded:]
	}
	return nil, 0, fmt.Errorf("%w: xor-mapped-address attribute not present", errs.MalformedEnvelope)
}

func decodeXorMappedAddress(value []byte, txID TransactionID) (net.IP, uint16, error) {
	if len(value) < 4 {
		return nil, 0, fmt.Errorf("%w: short xor-mapped-address", errs.MalformedEnvelope)
	}
	family := value[1]
	xport := binary.BigEndian.Uint16(value[2:4])
	port := xport ^ uint16(MagicCookie>>16)

	switch family {
	case 0x01: // IPv4
		if len(value) < 8 {
			return nil, 0, fmt.Errorf("%w: short ipv4 xor-mapped-address", errs.MalformedEnvelope)
		}
		var xaddr [4]byte
		copy(xaddr[:], value[4:8])
		var cookie [4]byte
		binary.BigEndian.PutUint32(cookie[:], MagicCookie)
		ip := make(net.IP, 4)
		for i := range ip {
			ip[i] = xaddr[i] ^ cookie[i]
		}
		return ip, port, nil

	case 0x02: // IPv6, xor'd against cookie||transaction-id
		if len(value) < 20 {
			return nil, 0, fmt.Errorf("%w: short ipv6 xor-mapped-address", errs.MalformedEnvelope)
		}
		var mask [16]byte
		binary.BigEndian.PutUint32(mask[0:4], MagicCookie)
		copy(mask[4:16], txID[:])
		ip := make(net.IP, 16)
		for i := range ip {
			ip[i] = value[4+i] ^ mask[i]
		}
		return ip, port, nil

	default:
		return nil, 0, fmt.Errorf("%w: unknown xor-mapped-address family %#x", errs.MalformedEnvelope, family)
	}
}
