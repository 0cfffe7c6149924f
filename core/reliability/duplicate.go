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

package reliability

import (
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
)

// DuplicateFilter remembers (senderID, sequenceNumber) pairs seen within a
// TTL window, so inbound duplicates can be ACKed without being re-delivered
// to the application. Structured as a sync.Map of sync.Maps, one inner map
// per sender, so unrelated senders never contend on the same lock.
type DuplicateFilter struct {
	ttl   time.Duration
	clock clock.Clock
	data  sync.Map // senderID -> *sync.Map (sequence -> expiry unix nanos)

	ticker *clock.Ticker
	stop   chan struct{}
}

// NewDuplicateFilter creates a filter that forgets entries ttl after they
// were first recorded; a repeated Seen within the window does not extend
// it.
func NewDuplicateFilter(ttl time.Duration, clk clock.Clock) *DuplicateFilter {
	if clk == nil {
		clk = clock.New()
	}
	return &DuplicateFilter{
		ttl:   ttl,
		clock: clk,
		stop:  make(chan struct{}),
	}
}

// StartGC runs a background sweep that drops expired entries, preventing
// unbounded growth across long-lived senders.
func (f *DuplicateFilter) StartGC(interval time.Duration) {
	f.ticker = f.clock.Ticker(interval)
	go func() {
		for {
			select {
			case <-f.ticker.C:
				f.gc()
			case <-f.stop:
				return
			}
		}
	}()
}

// Stop halts the background GC.
func (f *DuplicateFilter) Stop() {
	if f.ticker != nil {
		f.ticker.Stop()
	}
	close(f.stop)
}

// Seen reports whether (senderID, sequence) was already observed within
// the TTL window; if not, it records the pair and returns false.
func (f *DuplicateFilter) Seen(senderID string, sequence uint32) bool {
	now := f.clock.Now()
	expiry := now.Add(f.ttl).UnixNano()

	v, _ := f.data.LoadOrStore(senderID, &sync.Map{})
	inner := v.(*sync.Map)

	if prev, ok := inner.Load(sequence); ok {
		if prevExpiry, _ := prev.(int64); prevExpiry >= now.UnixNano() {
			return true
		}
	}
	inner.Store(sequence, expiry)
	return false
}

// ForgetSender drops all recorded sequence numbers for senderID, e.g. when
// a peer is evicted from the peer table.
func (f *DuplicateFilter) ForgetSender(senderID string) {
	f.data.Delete(senderID)
}

func (f *DuplicateFilter) gc() {
	now := f.clock.Now().UnixNano()
	f.data.Range(func(sender, v any) bool {
		inner := v.(*sync.Map)
		empty := true
		inner.Range(func(seq, exp any) bool {
			if expiry, _ := exp.(int64); expiry < now {
				inner.Delete(seq)
			} else {
				empty = false
			}
			return true
		})
		if empty {
			f.data.Delete(sender)
		}
		return true
	})
}
