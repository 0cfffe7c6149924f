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

// Package reliability implements the outbound ACK/retry state machine and
// inbound duplicate suppression for require_ack=true sends.
package reliability

import (
	"fmt"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/sage-x-project/sage-mesh/errs"
	"github.com/sage-x-project/sage-mesh/internal/metrics"
)

const (
	// DefaultRetryInterval is the spacing between retransmissions.
	DefaultRetryInterval = 2 * time.Second
	// DefaultMaxRetries is the number of retransmissions attempted before
	// a pending message completes as a failure.
	DefaultMaxRetries = 3
	// DefaultTimeout is the absolute ceiling on a pending message's
	// lifetime, independent of the retry count.
	DefaultTimeout = 30 * time.Second
)

// SendFunc performs (or retries) the actual transmission of an envelope's
// wire bytes to a destination. The Tracker calls it once at Track time and
// again on every retry.
type SendFunc func(destination string, payload []byte) error

// pendingMessage is an outbound envelope awaiting a matching ACK.
type pendingMessage struct {
	destination string
	payload     []byte
	firstSend   time.Time
	sentAt      time.Time
	retry       int
	done        chan error
	completed   bool
}

// key uniquely identifies a pending message by destination and sequence
// number, matching the ACK envelope's (sender, sequence) pair.
type key struct {
	destination string
	sequence    uint32
}

// Tracker manages the PENDING(retry)→DONE(success|failure) state machine
// for every require_ack=true send, per message: retry every RetryInterval
// up to MaxRetries, or fail at Timeout, whichever comes first.
type Tracker struct {
	mu      sync.Mutex
	pending map[key]*pendingMessage

	send          SendFunc
	clock         clock.Clock
	retryInterval time.Duration
	tickInterval  time.Duration
	maxRetries    int
	timeout       time.Duration
	metrics       *metrics.Metrics

	ticker *clock.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Tracker at construction time.
type Option func(*Tracker)

// WithClock overrides the tracker's time source, for deterministic tests.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithRetryPolicy overrides the retry spacing, retry count, and absolute
// timeout.
func WithRetryPolicy(interval time.Duration, maxRetries int, timeout time.Duration) Option {
	return func(t *Tracker) {
		t.retryInterval = interval
		t.maxRetries = maxRetries
		t.timeout = timeout
	}
}

// WithTickInterval overrides how often the tracker scans pending messages
// for due retries, independent of the retry spacing itself (node.Core
// runs this at a fixed 500ms regardless of retryInterval, so a short
// retryInterval still gets checked promptly). Defaults to retryInterval,
// or to the timeout when that is shorter, when unset.
func WithTickInterval(d time.Duration) Option {
	return func(t *Tracker) { t.tickInterval = d }
}

// WithMetrics attaches a metrics sink for pending-count/retransmit/ack
// observability.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// NewTracker creates a Tracker that calls send to transmit and retransmit
// envelope bytes.
func NewTracker(send SendFunc, opts ...Option) *Tracker {
	t := &Tracker{
		pending:       make(map[key]*pendingMessage),
		send:          send,
		clock:         clock.New(),
		retryInterval: DefaultRetryInterval,
		maxRetries:    DefaultMaxRetries,
		timeout:       DefaultTimeout,
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.tickInterval == 0 {
		t.tickInterval = t.retryInterval
		if t.timeout > 0 && t.timeout < t.tickInterval {
			t.tickInterval = t.timeout
		}
	}
	return t
}

// Start begins the retransmission tick loop. Safe to call once.
func (t *Tracker) Start() {
	t.ticker = t.clock.Ticker(t.tickInterval)
	t.wg.Add(1)
	go t.tickLoop()
}

// Stop cancels the tick loop and completes every still-pending message as
// a failure, per the transport-shutdown lifecycle rule.
func (t *Tracker) Stop() {
	close(t.stop)
	if t.ticker != nil {
		t.ticker.Stop()
	}
	t.wg.Wait()

	t.mu.Lock()
	defer t.mu.Unlock()
	for k, pm := range t.pending {
		t.complete(pm, errs.TransportClosed)
		delete(t.pending, k)
	}
}

// Track registers destination/sequence as awaiting an ACK, performs the
// first send, and returns a channel that receives nil on success or an
// error (errs.AckTimeout or errs.MaxRetriesExceeded) on failure.
func (t *Tracker) Track(destination string, sequence uint32, payload []byte) (<-chan error, error) {
	now := t.clock.Now()
	pm := &pendingMessage{
		destination: destination,
		payload:     payload,
		firstSend:   now,
		sentAt:      now,
		done:        make(chan error, 1),
	}

	t.mu.Lock()
	t.pending[key{destination, sequence}] = pm
	pendingCount := len(t.pending)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.PendingMessages.Set(float64(pendingCount))
	}

	if err := t.send(destination, payload); err != nil {
		t.mu.Lock()
		delete(t.pending, key{destination, sequence})
		t.mu.Unlock()
		return nil, fmt.Errorf("reliability: initial send: %w", err)
	}
	return pm.done, nil
}

// Ack resolves the pending message matching (destination, sequence) as a
// success. Returns false if no such message is pending (already completed
// or never tracked — callers should not treat this as an error since ACKs
// for unknown sequences are simply ignored).
func (t *Tracker) Ack(destination string, sequence uint32) bool {
	k := key{destination, sequence}

	t.mu.Lock()
	pm, ok := t.pending[k]
	if ok {
		delete(t.pending, k)
	}
	pendingCount := len(t.pending)
	t.mu.Unlock()

	if !ok {
		return false
	}

	t.complete(pm, nil)
	if t.metrics != nil {
		t.metrics.PendingMessages.Set(float64(pendingCount))
		t.metrics.AcksReceived.Inc()
	}
	return true
}

// PendingCount returns the number of messages currently awaiting ACK, for
// Stats() snapshots.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Tracker) complete(pm *pendingMessage, err error) {
	if pm.completed {
		return
	}
	pm.completed = true
	pm.done <- err
	close(pm.done)
}

func (t *Tracker) tickLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ticker.C:
			t.onTick()
		case <-t.stop:
			return
		}
	}
}

func (t *Tracker) onTick() {
	now := t.clock.Now()

	t.mu.Lock()
	var toResend []struct {
		k  key
		pm *pendingMessage
	}
	var toFail []struct {
		k   key
		pm  *pendingMessage
		err error
	}

	for k, pm := range t.pending {
		if now.Sub(pm.firstSend) >= t.timeout {
			toFail = append(toFail, struct {
				k   key
				pm  *pendingMessage
				err error
			}{k, pm, errs.AckTimeout})
			continue
		}
		if now.Sub(pm.sentAt) < t.retryInterval {
			continue
		}
		if pm.retry >= t.maxRetries {
			toFail = append(toFail, struct {
				k   key
				pm  *pendingMessage
				err error
			}{k, pm, errs.MaxRetriesExceeded})
			continue
		}
		toResend = append(toResend, struct {
			k  key
			pm *pendingMessage
		}{k, pm})
	}
	for _, f := range toFail {
		delete(t.pending, f.k)
	}
	for _, r := range toResend {
		r.pm.retry++
		r.pm.sentAt = now
	}
	pendingCount := len(t.pending)
	t.mu.Unlock()

	for _, f := range toFail {
		t.complete(f.pm, f.err)
	}
	for _, r := range toResend {
		_ = t.send(r.pm.destination, r.pm.payload)
		if t.metrics != nil {
			t.metrics.Retransmits.Inc()
		}
	}
	if t.metrics != nil {
		t.metrics.PendingMessages.Set(float64(pendingCount))
	}
}
