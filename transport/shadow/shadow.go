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

// Package shadow is the optional TCP/WebSocket fallback channel for
// peers a UDP path can't reach (symmetric NAT, egress-only firewalls).
// It is out of scope as a feature — no retry policy, reconnect loop, or
// wiring into node.Core's dispatch lives here — and exists only to carry
// the Sender/Receiver interfaces a real implementation would satisfy,
// plus a minimal Channel that proves the wire format works: it frames
// nothing of its own and reuses core/envelope's already-marshaled bytes
// as a WebSocket binary message, one message per envelope.
package shadow

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Sender is the minimal capability a shadow channel offers a caller that
// wants to hand it an already-encoded envelope.
type Sender interface {
	SendEnvelope(data []byte) error
}

// Receiver is what a Channel delivers inbound envelope bytes to.
type Receiver interface {
	HandleEnvelope(data []byte) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Channel wraps one WebSocket connection, either dialed out or accepted
// from an Upgrade, as a bidirectional envelope-bytes pipe.
type Channel struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Dial opens a shadow channel to a peer's WebSocket listener.
func Dial(url string, timeout time.Duration) (*Channel, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("shadow: dial %s: %w", url, err)
	}
	return &Channel{conn: conn}, nil
}

// Upgrade accepts an inbound HTTP request as a shadow channel, the
// listener-side counterpart to Dial.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Channel, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("shadow: upgrade: %w", err)
	}
	return &Channel{conn: conn}, nil
}

// SendEnvelope writes data (an already-marshaled core/envelope.Envelope)
// as one binary WebSocket message.
func (c *Channel) SendEnvelope(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("shadow: write: %w", err)
	}
	return nil
}

// Serve blocks reading binary messages off the connection and handing
// each to receiver, until the connection closes or receiver returns an
// error serious enough to stop on (the caller decides that by the error
// it returns from HandleEnvelope; any error here ends the loop).
func (c *Channel) Serve(receiver Receiver) error {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("shadow: read: %w", err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if err := receiver.HandleEnvelope(data); err != nil {
			return err
		}
	}
}

// Close closes the underlying connection.
func (c *Channel) Close() error {
	return c.conn.Close()
}
