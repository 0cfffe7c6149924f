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

// Package node wires the crypto, transport, envelope, reliability, peer
// table, DHT, authentication, gossip, and content-store components into
// one running mesh node: it owns the inbound dispatch loop and every
// timer (gossip rounds, retransmission scans, peer/session/handshake
// cleanup), and exposes the node's public operations to the application
// and to whatever UDP transport feeds it datagrams.
package node

import (
	"errors"
	"fmt"
	"sync"

	"github.com/andres-erbsen/clock"

	"github.com/sage-x-project/sage-mesh/config"
	"github.com/sage-x-project/sage-mesh/core/auth"
	"github.com/sage-x-project/sage-mesh/core/content"
	"github.com/sage-x-project/sage-mesh/core/dht"
	"github.com/sage-x-project/sage-mesh/core/envelope"
	"github.com/sage-x-project/sage-mesh/core/gossip"
	"github.com/sage-x-project/sage-mesh/core/identity"
	"github.com/sage-x-project/sage-mesh/core/peer"
	"github.com/sage-x-project/sage-mesh/core/reliability"
	"github.com/sage-x-project/sage-mesh/core/session"
	"github.com/sage-x-project/sage-mesh/crypto/keys"
	"github.com/sage-x-project/sage-mesh/errs"
	"github.com/sage-x-project/sage-mesh/internal/logger"
	"github.com/sage-x-project/sage-mesh/internal/metrics"
)

// Transport is the send capability a UDP layer provides to the node. A
// single concrete transport satisfies this and core/dht.Transport alike,
// since both interfaces have the identical one-method shape.
type Transport interface {
	SendTo(ip string, port uint16, data []byte) error
}

// dhtOpMin and dhtOpMax bound core/dht's one-byte Op space. HandleDatagram
// sniffs the leading byte of every inbound frame against this range to
// tell a raw DHT RPC frame apart from an envelope, which always starts
// with JSON's '{' (0x7B) — well outside the range.
const (
	dhtOpMin = 0x01
	dhtOpMax = 0x05
)

// Core composes every mesh component into one node and drives its
// lifecycle.
type Core struct {
	identity  *identity.Identity
	transport Transport
	cfg       nodeConfig
	clock     clock.Clock
	log       logger.Logger
	metrics   *metrics.Metrics

	peers    *peer.Table
	sessions *session.Manager
	auth     *auth.Manager
	routing  *dht.RoutingTable
	dhtEngine    *dht.Engine
	gossipEngine *gossip.Engine
	tracker  *reliability.Tracker
	dupes    *reliability.DuplicateFilter
	content  *content.Store
	seq      envelope.SequenceCounter

	selfIP   string
	selfPort uint16

	events   chan PeerEvent
	messages chan Message

	stopOnce sync.Once
}

// Option configures a Core at construction time.
type Option func(*Core)

// WithLogger overrides the default logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Core) { c.log = l }
}

// WithMetrics attaches a caller-owned metrics bundle instead of a fresh
// private one, letting several Core instances share one registry's
// labels where a caller wants that (each instance still needs its own
// prometheus.Registry in practice, since promauto panics on duplicate
// registration, but the option exists for callers that construct their
// own Metrics).
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Core) { c.metrics = m }
}

// WithClock overrides every sub-component's time source, for
// deterministic tests.
func WithClock(clk clock.Clock) Option {
	return func(c *Core) { c.clock = clk }
}

// WithIdentity injects a pre-built identity instead of generating one
// from config.Config.Username, so test harnesses can construct several
// nodes with known device-ids and keys.
func WithIdentity(id *identity.Identity) Option {
	return func(c *Core) { c.identity = id }
}

// NewCore builds a node around cfg and transport. Sub-component timers are
// not started until Start is called.
func NewCore(cfg *config.Config, transport Transport, opts ...Option) (*Core, error) {
	nc := fromConfig(cfg)

	c := &Core{
		transport: transport,
		cfg:       nc,
		clock:     clock.New(),
		log:       logger.GetDefaultLogger(),
		metrics:   metrics.New(),
		events:    make(chan PeerEvent, defaultEventBuffer),
		messages:  make(chan Message, defaultEventBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.identity == nil {
		id, err := identity.New(nc.deviceID)
		if err != nil {
			return nil, fmt.Errorf("node: create identity: %w", err)
		}
		c.identity = id
	}

	agreementKP, ok := c.identity.AgreementKeyPair().(*keys.X25519KeyPair)
	if !ok {
		return nil, fmt.Errorf("node: unexpected agreement key type %T", c.identity.AgreementKeyPair())
	}

	c.peers = peer.New(nc.messageTimeout, nc.peerCleanup,
		peer.WithClock(c.clock),
		peer.WithForceLocalhost(nc.forceLocalhost),
		peer.WithMetrics(c.metrics))

	c.sessions = session.NewManager(session.WithManagerClock(c.clock))

	c.auth = auth.NewManager(c.identity, c.sessions,
		auth.WithClock(c.clock),
		auth.WithMetrics(c.metrics))

	c.routing = dht.NewRoutingTable(c.identity.NodeID(), c.metrics)
	c.dhtEngine = dht.NewEngine(c.identity, c.routing, c.transport, c.metrics)

	c.gossipEngine = gossip.NewEngine(c.peers, c,
		gossip.WithClock(c.clock),
		gossip.WithInterval(nc.gossipInterval),
		gossip.WithPeerCount(nc.gossipPeerCount),
		gossip.WithMetrics(c.metrics))

	c.tracker = reliability.NewTracker(c.sendRaw,
		reliability.WithClock(c.clock),
		reliability.WithTickInterval(DispatchTick),
		reliability.WithRetryPolicy(reliability.DefaultRetryInterval, reliability.DefaultMaxRetries, nc.messageTimeout),
		reliability.WithMetrics(c.metrics))

	c.dupes = reliability.NewDuplicateFilter(nc.messageTimeout, c.clock)

	c.content = content.NewStore(agreementKP)

	return c, nil
}

// SetSelfAddress records the node's own externally-reachable address,
// used to fill in the SignedPeerInfo this node presents during DHT RPCs.
// Called by the UDP transport once it has bound a socket (and, if
// force_localhost is not set, once STUN has resolved the public mapping).
func (c *Core) SetSelfAddress(ip string, port int) {
	c.selfIP = ip
	c.selfPort = uint16(port)
	c.dhtEngine.SetSelfAddress(ip, c.selfPort)
}

// DeviceID returns this node's identifier.
func (c *Core) DeviceID() string { return c.identity.DeviceID() }

// NodeID returns this node's 160-bit DHT routing identifier.
func (c *Core) NodeID() identity.NodeID { return c.identity.NodeID() }

// Events returns the channel of peer-table state changes.
func (c *Core) Events() <-chan PeerEvent { return c.events }

// Messages returns the channel of inbound application-visible payloads.
func (c *Core) Messages() <-chan Message { return c.messages }

// Start begins every background timer: peer-table inactivity sweep,
// handshake-challenge cleanup, ACK retransmission scanning, duplicate
// filter GC, and periodic gossip rounds.
func (c *Core) Start() {
	c.peers.StartCleanup()
	c.auth.StartCleanup(auth.DefaultChallengeTimeout)
	c.tracker.Start()
	c.dupes.StartGC(c.cfg.messageTimeout)
	c.gossipEngine.Start()
	c.log.Info("node started", logger.String("device_id", c.identity.DeviceID()))
}

// Stop halts every background timer and closes installed sessions. Safe
// to call more than once.
func (c *Core) Stop() {
	c.stopOnce.Do(func() {
		c.gossipEngine.Stop()
		c.dupes.Stop()
		c.tracker.Stop()
		c.auth.StopCleanup()
		c.peers.StopCleanup()
		c.sessions.Close()
		c.log.Info("node stopped", logger.String("device_id", c.identity.DeviceID()))
	})
}

// Stats is a point-in-time snapshot of the node's internal state, for
// status reporting (e.g. a CLI's "status" subcommand).
type Stats struct {
	DeviceID               string
	PeerCount              int
	AuthenticatedPeerCount int
	RoutingTableSize       int
	PendingAcks            int
	PendingHandshakes      int
	Sessions               session.Stats
	ContentItems           int
}

// Stats reports a snapshot of the node's current internal state.
func (c *Core) Stats() Stats {
	return Stats{
		DeviceID:               c.identity.DeviceID(),
		PeerCount:              c.peers.Len(),
		AuthenticatedPeerCount: len(c.peers.Authenticated()),
		RoutingTableSize:       c.routing.Size(),
		PendingAcks:            c.tracker.PendingCount(),
		PendingHandshakes:      c.auth.PendingCount(),
		Sessions:               c.sessions.Stats(),
		ContentItems:           len(c.content.List()),
	}
}

// Send delivers payload to recipientID as a plain application message. If
// encrypt is true, the payload is sealed under the peer's installed
// session (errs.NoSession if there isn't one yet). If requireAck is true,
// Send blocks the calling goroutine until the reliability tracker
// resolves the send as acknowledged, retried out, or timed out — this is
// a sanctioned suspension point since Send is only ever invoked by
// application code, never by the inbound dispatch loop.
func (c *Core) Send(recipientID string, payload []byte, requireAck, encrypt bool) error {
	p, ok := c.peers.Get(recipientID)
	if !ok {
		return errs.PeerUnknown
	}

	var sess *session.Session
	if encrypt {
		s, ok := c.sessions.Get(auth.SessionLabel(c.identity.DeviceID(), recipientID))
		if !ok {
			return errs.NoSession
		}
		sess = s
	}
	body := buildDataPayload(payloadPlainText, payload, sess)

	seq := c.seq.Next()
	env := envelope.New(envelope.KindData, c.identity.DeviceID(), recipientID, body, seq)
	wire, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("node: marshal send: %w", err)
	}

	if !requireAck {
		return c.transport.SendTo(p.IP, uint16(p.Port), wire)
	}

	done, err := c.tracker.Track(recipientID, seq, wire)
	if err != nil {
		return err
	}
	return <-done
}

// sendRaw resolves recipientID's current address and transmits payload
// as-is. Used both for a fresh Send and for the tracker's retries, so a
// peer that migrates address mid-retry is still reachable.
func (c *Core) sendRaw(destination string, payload []byte) error {
	p, ok := c.peers.Get(destination)
	if !ok {
		return errs.PeerUnknown
	}
	return c.transport.SendTo(p.IP, uint16(p.Port), payload)
}

// sendEnvelope builds and transmits a fresh envelope of kind carrying
// payload to (ip, port), addressed to toPeerID.
func (c *Core) sendEnvelope(kind envelope.Kind, toPeerID, ip string, port int, payload []byte) error {
	env := envelope.New(kind, c.identity.DeviceID(), toPeerID, payload, c.seq.Next())
	return c.sendEnvelopeRaw(env, ip, port)
}

func (c *Core) sendEnvelopeRaw(env *envelope.Envelope, ip string, port int) error {
	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("node: marshal envelope: %w", err)
	}
	return c.transport.SendTo(ip, uint16(port), data)
}

// ackEnvelope replies to env with an ACK addressed back to its sender at
// (fromIP, fromPort).
func (c *Core) ackEnvelope(env *envelope.Envelope, fromIP string, fromPort int) {
	ack := envelope.NewAck(c.identity.DeviceID(), env.FromPeerID, env.SequenceNumber, c.seq.Next())
	_ = c.sendEnvelopeRaw(ack, fromIP, fromPort)
}

// SendRoutingTable implements gossip.Sender: it wraps an already-encoded
// snapshot in a ROUTING_TABLE envelope and sends it to p's current
// address.
func (c *Core) SendRoutingTable(p *peer.Peer, payload []byte) error {
	return c.sendEnvelope(envelope.KindRoutingTable, p.DeviceID, p.IP, p.Port, payload)
}

// AddDonor bootstraps connectivity through a single known peer at
// (ip, port): it seeds the peer table with a placeholder, pings the donor
// into the DHT routing table via Join, and initiates the authentication
// handshake against it. The placeholder device-id is replaced once the
// real AUTH_RESPONSE names the donor's actual identity.
func (c *Core) AddDonor(ip string, port int) error {
	placeholderID := donorPlaceholderID(ip, port)
	c.peers.Upsert(placeholderID, ip, port)
	c.emitPeerEvent(PeerDiscovered, placeholderID)

	if err := c.dhtEngine.Join(ip, uint16(port)); err != nil {
		c.log.Warn("donor join failed", logger.String("ip", ip), logger.Int("port", port), logger.Err(err))
		return fmt.Errorf("node: join via donor: %w", err)
	}

	challenge, err := c.auth.Initiate(placeholderID)
	if err != nil {
		return fmt.Errorf("node: initiate handshake with donor: %w", err)
	}
	body := buildDataPayload(payloadAuthChallenge, challenge, nil)
	return c.sendEnvelope(envelope.KindData, placeholderID, ip, port, body)
}

func donorPlaceholderID(ip string, port int) string {
	return fmt.Sprintf("unknown@%s:%d", ip, port)
}

// replacePlaceholder drops the synthetic placeholder peer entry created by
// AddDonor once (ip, port)'s real device-id has authenticated, so the
// donor doesn't linger in the table under two identities.
func (c *Core) replacePlaceholder(ip string, port int, realDeviceID string) {
	placeholderID := donorPlaceholderID(ip, port)
	if placeholderID == realDeviceID {
		return
	}
	if p, ok := c.peers.Get(placeholderID); ok && !p.Authenticated && p.IP == ip && p.Port == port {
		c.peers.Remove(placeholderID)
	}
}

// FindNode performs an iterative lookup for target over the DHT, seeded
// from the local routing table.
func (c *Core) FindNode(target identity.NodeID) []*dht.SignedPeerInfo {
	return c.dhtEngine.Lookup(target)
}

// PublishContent stores data locally under id (sealed at rest) and
// broadcasts a content-announcement to every authenticated peer.
func (c *Core) PublishContent(id string, data []byte) error {
	rec, err := c.content.Put(id, data)
	if err != nil {
		return fmt.Errorf("node: store content %s: %w", id, err)
	}

	ann := &content.Announcement{ID: rec.ID, Size: rec.Size, Hash: rec.Hash}
	body := buildDataPayload(payloadContentAnnouncement, ann.Encode(), nil)
	for _, p := range c.peers.Authenticated() {
		_ = c.sendEnvelope(envelope.KindData, p.DeviceID, p.IP, p.Port, body)
	}
	return nil
}

// RequestContent asks peerID to send content-data for id. The item, once
// it arrives, is surfaced through Messages() with ContentID set to id.
func (c *Core) RequestContent(peerID, id string) error {
	p, ok := c.peers.Get(peerID)
	if !ok {
		return errs.PeerUnknown
	}
	req := &content.Request{ID: id}
	body := buildDataPayload(payloadContentRequest, req.Encode(), nil)
	return c.sendEnvelope(envelope.KindData, peerID, p.IP, p.Port, body)
}

// HandleDatagram is the single entry point every inbound UDP datagram is
// fed through, whichever transport received it. It never blocks on
// anything but the synchronous protocol work required to answer the
// frame (per the concurrency model: no suspension point may halt the
// dispatch loop).
func (c *Core) HandleDatagram(fromIP string, fromPort int, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty datagram", errs.MalformedEnvelope)
	}

	if data[0] >= dhtOpMin && data[0] <= dhtOpMax {
		return c.dhtEngine.HandleFrame(fromIP, uint16(fromPort), data)
	}

	env, err := envelope.Unmarshal(data)
	if err != nil {
		return err
	}
	if err := env.VerifyChecksum(); err != nil {
		nack := envelope.NewNack(c.identity.DeviceID(), env.FromPeerID, env.SequenceNumber, "checksum_mismatch", c.seq.Next())
		_ = c.sendEnvelopeRaw(nack, fromIP, fromPort)
		return err
	}

	switch env.Type {
	case envelope.KindAck:
		seq, err := env.AckedSequenceFull()
		if err == nil {
			c.tracker.Ack(env.FromPeerID, seq)
		}
		return nil

	case envelope.KindNack:
		if c.metrics != nil {
			c.metrics.NacksReceived.Inc()
		}
		return nil

	case envelope.KindHeartbeat:
		c.peers.Touch(env.FromPeerID)
		return nil

	case envelope.KindRoutingTable:
		snap, err := gossip.DecodeSnapshot(env.Payload)
		if err != nil {
			return err
		}
		c.gossipEngine.Merge(snap)
		return nil

	case envelope.KindData, envelope.KindFile:
		return c.handleData(env, fromIP, fromPort)

	default:
		c.publishMessage(env.FromPeerID, env.Payload, "")
		return nil
	}
}

// handleData dispatches a DATA/FILE envelope's inner payloadKind to the
// component that owns it.
func (c *Core) handleData(env *envelope.Envelope, fromIP string, fromPort int) error {
	c.peers.Touch(env.FromPeerID)

	if c.dupes.Seen(env.FromPeerID, env.SequenceNumber) {
		c.ackEnvelope(env, fromIP, fromPort)
		return nil
	}

	sess, hasSess := c.sessions.Get(auth.SessionLabel(c.identity.DeviceID(), env.FromPeerID))
	kind, body, err := parseDataPayload(env.Payload, sess, hasSess)
	if err != nil {
		nack := envelope.NewNack(c.identity.DeviceID(), env.FromPeerID, env.SequenceNumber, "malformed_payload", c.seq.Next())
		return c.sendEnvelopeRaw(nack, fromIP, fromPort)
	}

	switch kind {
	case payloadAuthChallenge:
		if err := c.onAuthChallenge(env.FromPeerID, body, fromIP, fromPort); err != nil {
			return err
		}

	case payloadAuthResponse:
		if err := c.onAuthResponse(env.FromPeerID, body, fromIP, fromPort); err != nil {
			return err
		}

	case payloadContentAnnouncement:
		ann, err := content.DecodeAnnouncement(body)
		if err != nil {
			return err
		}
		c.publishMessage(env.FromPeerID, body, ann.ID)

	case payloadContentRequest:
		if err := c.onContentRequest(env.FromPeerID, body, fromIP, fromPort); err != nil {
			return err
		}

	case payloadContentData:
		d, err := content.DecodeData(body)
		if err != nil {
			return err
		}
		c.publishMessage(env.FromPeerID, d.Bytes, d.ID)

	case payloadDHTRPC:
		if err := c.dhtEngine.HandleFrame(fromIP, uint16(fromPort), body); err != nil {
			return err
		}

	case payloadPlainText:
		c.publishMessage(env.FromPeerID, body, "")

	default:
		return fmt.Errorf("%w: unknown payload kind %d", errs.MalformedEnvelope, kind)
	}

	c.ackEnvelope(env, fromIP, fromPort)
	return nil
}

func (c *Core) onAuthChallenge(fromPeerID string, body []byte, fromIP string, fromPort int) error {
	resp, err := c.auth.HandleChallenge(fromPeerID, body)
	if err != nil {
		return fmt.Errorf("node: handle auth challenge from %s: %w", fromPeerID, err)
	}
	if _, known := c.peers.Get(fromPeerID); !known {
		c.emitPeerEvent(PeerDiscovered, fromPeerID)
	}
	c.peers.UpsertGossiped(fromPeerID, fromIP, fromPort, c.clock.Now())

	respBody := buildDataPayload(payloadAuthResponse, resp, nil)
	return c.sendEnvelope(envelope.KindData, fromPeerID, fromIP, fromPort, respBody)
}

func (c *Core) onAuthResponse(fromPeerID string, body []byte, fromIP string, fromPort int) error {
	authenticated, remoteSigningPub, err := c.auth.HandleResponse(fromPeerID, fromPeerID, body)
	if errors.Is(err, errs.NoPendingChallenge) {
		// AddDonor registered the pending challenge under the donor's
		// placeholder id, since the real device-id wasn't known yet at
		// Initiate time; retry the lookup under that key, but still
		// install the resulting session under the real device-id.
		authenticated, remoteSigningPub, err = c.auth.HandleResponse(donorPlaceholderID(fromIP, fromPort), fromPeerID, body)
	}
	if err != nil {
		return fmt.Errorf("node: handle auth response from %s: %w", fromPeerID, err)
	}
	if !authenticated {
		return nil
	}

	// The responder's real device-id has never been upserted under its
	// own key before now — AddDonor only seeded the placeholder entry —
	// so MarkAuthenticated would otherwise be a no-op.
	c.peers.Upsert(fromPeerID, fromIP, fromPort)
	// The actual AEAD key material lives inside the installed
	// session.Session, not the peer table; MarkAuthenticated's
	// sessionKey slot is left nil here.
	c.peers.MarkAuthenticated(fromPeerID, remoteSigningPub, nil)
	c.replacePlaceholder(fromIP, fromPort, fromPeerID)
	c.emitPeerEvent(PeerAuthenticated, fromPeerID)

	// Don't wait for the next periodic tick: hand the new peer a routing
	// table snapshot right away and run an extra round so its arrival
	// reaches the rest of the authenticated set without delay.
	if p, ok := c.peers.Get(fromPeerID); ok {
		c.gossipEngine.Nudge(p)
	}
	return nil
}

func (c *Core) onContentRequest(fromPeerID string, body []byte, fromIP string, fromPort int) error {
	req, err := content.DecodeRequest(body)
	if err != nil {
		return err
	}
	plaintext, found, err := c.content.Get(req.ID)
	if err != nil {
		return fmt.Errorf("node: read content %s: %w", req.ID, err)
	}
	if !found {
		return nil
	}

	reply := &content.Data{ID: req.ID, Bytes: plaintext}
	sess, _ := c.sessions.Get(auth.SessionLabel(c.identity.DeviceID(), fromPeerID))
	respBody := buildDataPayload(payloadContentData, reply.Encode(), sess)
	return c.sendEnvelope(envelope.KindFile, fromPeerID, fromIP, fromPort, respBody)
}

// emitPeerEvent publishes a peer-table state change without blocking the
// dispatch loop.
func (c *Core) emitPeerEvent(kind PeerEventKind, deviceID string) {
	sendNonBlocking(c.events, PeerEvent{Kind: kind, DeviceID: deviceID, At: c.clock.Now()})
}

// publishMessage surfaces an inbound application payload without blocking
// the dispatch loop.
func (c *Core) publishMessage(fromPeerID string, payload []byte, contentID string) {
	sendNonBlocking(c.messages, Message{FromPeerID: fromPeerID, Payload: payload, ContentID: contentID, At: c.clock.Now()})
}
