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

// Package metrics exposes Prometheus instrumentation for every mesh
// subsystem (crypto, transport, reliability, dht, auth, gossip).
//
// Metrics are instance-scoped rather than package-global: node.Core
// owns a *Metrics built on its own prometheus.Registry, because the
// node's single-domain-per-node contract still allows several
// node.Core instances to share one process (the loopback test
// scenarios run exactly that), and promauto.With(DefaultRegisterer)
// would panic on the second node's duplicate registration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sagemesh"

// Metrics bundles every counter, histogram, and gauge the node emits.
type Metrics struct {
	Registry *prometheus.Registry

	CryptoOperations        *prometheus.CounterVec
	CryptoErrors            *prometheus.CounterVec
	CryptoOperationDuration *prometheus.HistogramVec

	PacketsSent      *prometheus.CounterVec
	PacketsReceived  *prometheus.CounterVec
	PacketsRateLimited prometheus.Counter
	StunProbeDuration prometheus.Histogram

	PendingMessages    prometheus.Gauge
	Retransmits        prometheus.Counter
	AcksReceived       prometheus.Counter
	NacksReceived      prometheus.Counter
	MessageTimeouts    prometheus.Counter

	PeerTableSize      prometheus.Gauge
	PeerEvictions      prometheus.Counter

	RoutingTableSize   prometheus.Gauge
	LookupDuration     prometheus.Histogram
	RpcTimeouts        *prometheus.CounterVec

	HandshakesStarted  prometheus.Counter
	HandshakesComplete prometheus.Counter
	HandshakeFailures  *prometheus.CounterVec

	GossipRoundsRun    prometheus.Counter
	GossipPeersSent    prometheus.Counter
	GossipMergesApplied prometheus.Counter
}

// New builds a Metrics bundle registered on a fresh private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		CryptoOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "crypto", Name: "operations_total",
			Help: "Total number of cryptographic operations",
		}, []string{"operation", "algorithm"}),

		CryptoErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "crypto", Name: "errors_total",
			Help: "Total number of cryptographic errors",
		}, []string{"operation"}),

		CryptoOperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "crypto", Name: "operation_duration_seconds",
			Help:    "Cryptographic operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15),
		}, []string{"operation", "algorithm"}),

		PacketsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transport", Name: "packets_sent_total",
			Help: "Total UDP packets sent",
		}, []string{"kind"}),

		PacketsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transport", Name: "packets_received_total",
			Help: "Total UDP packets received",
		}, []string{"kind"}),

		PacketsRateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transport", Name: "packets_rate_limited_total",
			Help: "Packets dropped by the per-source-IP token bucket",
		}),

		StunProbeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "transport", Name: "stun_probe_duration_seconds",
			Help:    "Duration of STUN binding-request round trips",
			Buckets: prometheus.DefBuckets,
		}),

		PendingMessages: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "reliability", Name: "pending_messages",
			Help: "Messages currently awaiting ACK",
		}),

		Retransmits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reliability", Name: "retransmits_total",
			Help: "Total message retransmissions",
		}),

		AcksReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reliability", Name: "acks_received_total",
			Help: "Total ACKs received",
		}),

		NacksReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reliability", Name: "nacks_received_total",
			Help: "Total NACKs received",
		}),

		MessageTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reliability", Name: "message_timeouts_total",
			Help: "Messages that exceeded the 30s overall timeout",
		}),

		PeerTableSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "peer", Name: "table_size",
			Help: "Number of known peers (authenticated and unauthenticated)",
		}),

		PeerEvictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "peer", Name: "evictions_total",
			Help: "Peers evicted by the inactivity sweep",
		}),

		RoutingTableSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "dht", Name: "routing_table_size",
			Help: "Number of peers across all k-buckets",
		}),

		LookupDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "dht", Name: "lookup_duration_seconds",
			Help:    "Duration of iterative FIND_NODE lookups",
			Buckets: prometheus.DefBuckets,
		}),

		RpcTimeouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dht", Name: "rpc_timeouts_total",
			Help: "DHT RPCs that timed out",
		}, []string{"rpc"}),

		HandshakesStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "handshakes_started_total",
			Help: "Challenge/response handshakes initiated",
		}),

		HandshakesComplete: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "handshakes_completed_total",
			Help: "Challenge/response handshakes that installed a session key",
		}),

		HandshakeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "handshake_failures_total",
			Help: "Handshake failures by reason",
		}, []string{"reason"}),

		GossipRoundsRun: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gossip", Name: "rounds_total",
			Help: "Gossip fan-out rounds run",
		}),

		GossipPeersSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gossip", Name: "peers_sent_total",
			Help: "Peer records sent across all gossip rounds",
		}),

		GossipMergesApplied: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gossip", Name: "merges_applied_total",
			Help: "Incoming peer records that replaced a stale local record",
		}),
	}
}

// Handler returns the HTTP handler serving this instance's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
