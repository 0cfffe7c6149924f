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

package envelope

import "sync/atomic"

// SequenceCounter issues monotonic per-sender-socket sequence numbers that
// wrap modulo 2^32, per the envelope's opaque sequence-number contract.
type SequenceCounter struct {
	n uint32
}

// Next returns the next sequence number, wrapping silently on overflow.
func (c *SequenceCounter) Next() uint32 {
	return atomic.AddUint32(&c.n, 1)
}
