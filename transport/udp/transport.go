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

// Package udp binds one IPv4 UDP socket and feeds every inbound datagram
// to a Receiver (ordinarily a *node.Core), gating it first by a
// per-source-IP token bucket. It also drives STUN Binding transactions
// over the same socket to learn the node's public address mapping,
// disambiguating replies from ordinary traffic by the RFC 5389 magic
// cookie rather than by source address, since a STUN server may answer
// from a different port than it was queried on.
package udp

import (
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sage-x-project/sage-mesh/errs"
	"github.com/sage-x-project/sage-mesh/internal/logger"
	"github.com/sage-x-project/sage-mesh/internal/metrics"
	"github.com/sage-x-project/sage-mesh/transport/stun"
)

// DefaultStunTimeout bounds how long DiscoverPublicAddress waits for a
// Binding Response before giving up.
const DefaultStunTimeout = 5 * time.Second

// rateBurst and rateRefill implement "10 packets / 10 seconds" per
// source IP as a token bucket: 10-packet burst capacity, refilling at
// one token per second so a sustained sender settles at the same
// average rate the spec names.
const (
	rateBurst  = 10
	rateRefill = rate.Limit(1)
)

const maxDatagramSize = 65507

// Receiver is the datagram sink a bound Transport feeds: node.Core
// implements this directly.
type Receiver interface {
	HandleDatagram(fromIP string, fromPort int, data []byte) error
}

// Transport owns one bound UDP socket, dispatching inbound datagrams to
// a Receiver after per-source rate limiting and STUN-response
// interception.
type Transport struct {
	conn     *net.UDPConn
	receiver Receiver
	log      logger.Logger
	metrics  *metrics.Metrics

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	stunMu      sync.Mutex
	stunPending map[stun.TransactionID]chan *stun.BindingResponse
	stunTimeout time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
}

// Option configures a Transport at construction time.
type Option func(*Transport)

// WithLogger overrides the default logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// WithMetrics attaches a Prometheus sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Transport) { t.metrics = m }
}

// WithStunTimeout overrides DefaultStunTimeout, for tests that need a
// fast-failing probe.
func WithStunTimeout(d time.Duration) Option {
	return func(t *Transport) { t.stunTimeout = d }
}

// Listen binds an IPv4 UDP socket on port (0 lets the OS assign one) and
// returns a Transport ready to Start. Inbound datagrams are not
// dispatched to receiver until Start is called.
func Listen(port int, receiver Receiver, opts ...Option) (*Transport, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("udp: bind socket: %w", err)
	}

	t := &Transport{
		conn:        conn,
		receiver:    receiver,
		log:         logger.GetDefaultLogger(),
		limiters:    make(map[string]*rate.Limiter),
		stunPending: make(map[stun.TransactionID]chan *stun.BindingResponse),
		stunTimeout: DefaultStunTimeout,
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// LocalPort reports the port the socket ended up bound to, resolving the
// OS-assigned value when Listen was called with port 0.
func (t *Transport) LocalPort() uint16 {
	return uint16(t.conn.LocalAddr().(*net.UDPAddr).Port)
}

// Start begins the background read loop. Safe to call once.
func (t *Transport) Start() {
	t.wg.Add(1)
	go t.readLoop()
}

// Close halts the read loop and releases the socket.
func (t *Transport) Close() error {
	close(t.stop)
	err := t.conn.Close()
	t.wg.Wait()
	return err
}

// SendTo transmits data to (ip, port). Implements node.Transport and
// core/dht.Transport, both of which need exactly this one method.
func (t *Transport) SendTo(ip string, port uint16, data []byte) error {
	addr := &net.UDPAddr{IP: net.ParseIP(ip), Port: int(port)}
	if addr.IP == nil {
		return fmt.Errorf("udp: invalid destination address %q", ip)
	}
	if _, err := t.conn.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("udp: send to %s:%d: %w", ip, port, err)
	}
	if t.metrics != nil {
		t.metrics.PacketsSent.WithLabelValues("datagram").Inc()
	}
	return nil
}

func (t *Transport) readLoop() {
	defer t.wg.Done()
	buf := make([]byte, maxDatagramSize)

	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.stop:
				return
			default:
				t.log.Warn("udp read error", logger.Err(err))
				return
			}
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		t.dispatch(from.IP.String(), from.Port, data)
	}
}

func (t *Transport) dispatch(fromIP string, fromPort int, data []byte) {
	if stun.LooksLikeMessage(data) {
		t.handleStunMessage(data)
		return
	}

	if !t.allow(fromIP) {
		if t.metrics != nil {
			t.metrics.PacketsRateLimited.Inc()
		}
		return
	}

	if t.metrics != nil {
		t.metrics.PacketsReceived.WithLabelValues("datagram").Inc()
	}
	if err := t.receiver.HandleDatagram(fromIP, fromPort, data); err != nil {
		t.log.Debug("datagram rejected", logger.String("from", fromIP), logger.Err(err))
	}
}

// allow applies the per-source-IP token bucket, creating a fresh limiter
// for an IP seen for the first time.
func (t *Transport) allow(ip string) bool {
	t.limitersMu.Lock()
	lim, ok := t.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(rateRefill, rateBurst)
		t.limiters[ip] = lim
	}
	t.limitersMu.Unlock()
	return lim.Allow()
}

// DiscoverPublicAddress issues a Binding Request to serverAddr (host:port)
// and returns the (ip, port) the XOR-MAPPED-ADDRESS attribute of the
// Binding Response names, or errs.StunFailed if none arrives within the
// STUN timeout (DefaultStunTimeout unless set by WithStunTimeout).
func (t *Transport) DiscoverPublicAddress(serverAddr string) (string, int, error) {
	start := time.Now()
	defer t.observeStunDuration(start)

	addr, err := net.ResolveUDPAddr("udp4", serverAddr)
	if err != nil {
		return "", 0, fmt.Errorf("%w: resolve stun server: %v", errs.StunFailed, err)
	}

	txID, err := stun.NewTransactionID()
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", errs.StunFailed, err)
	}

	ch := make(chan *stun.BindingResponse, 1)
	t.stunMu.Lock()
	t.stunPending[txID] = ch
	t.stunMu.Unlock()
	defer func() {
		t.stunMu.Lock()
		delete(t.stunPending, txID)
		t.stunMu.Unlock()
	}()

	if _, err := t.conn.WriteToUDP(stun.EncodeBindingRequest(txID), addr); err != nil {
		return "", 0, fmt.Errorf("%w: send binding request: %v", errs.StunFailed, err)
	}

	select {
	case resp := <-ch:
		return resp.IP.String(), int(resp.Port), nil
	case <-time.After(t.stunTimeout):
		return "", 0, errs.StunFailed
	case <-t.stop:
		return "", 0, errs.TransportClosed
	}
}

func (t *Transport) handleStunMessage(data []byte) {
	resp, err := stun.DecodeBindingResponse(data)
	if err != nil {
		t.log.Debug("discarding malformed stun message", logger.Err(err))
		return
	}

	t.stunMu.Lock()
	ch, ok := t.stunPending[resp.TransactionID]
	t.stunMu.Unlock()
	if !ok {
		return // reply to a transaction we already gave up on
	}
	select {
	case ch <- resp:
	default:
	}
}

func (t *Transport) observeStunDuration(start time.Time) {
	if t.metrics != nil {
		t.metrics.StunProbeDuration.Observe(time.Since(start).Seconds())
	}
}
