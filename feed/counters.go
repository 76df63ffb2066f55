/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package feed

import (
	"sync"

	"go.uber.org/atomic"
)

// Counters holds the feed's telemetry: parse skips, rejection statuses,
// admitted updates, cache effectiveness, and fan-out health. All fields are
// lock-free except the per-status rejection map.
type Counters struct {
	PreFilterPass     atomic.Int64
	PreFilterReject   atomic.Int64
	ParseErrors       atomic.Int64
	UnknownSide       atomic.Int64
	PassThroughStatus atomic.Int64
	AdmittedUpdates   atomic.Int64
	ConflictWarnings  atomic.Int64
	TruncationResets  atomic.Int64
	Rotations         atomic.Int64
	SubscriberDrops   atomic.Int64
	TrackedOrders     atomic.Int64
	CacheHits         atomic.Int64
	CacheMisses       atomic.Int64

	mu               sync.Mutex
	rejectedByStatus map[string]int64
}

// NewCounters creates a zeroed counter set.
func NewCounters() *Counters {
	return &Counters{rejectedByStatus: make(map[string]int64)}
}

// RejectStatus counts one dropped line for the given rejection status.
func (c *Counters) RejectStatus(status string) {
	c.mu.Lock()
	c.rejectedByStatus[status]++
	c.mu.Unlock()
}

// RejectedByStatus returns a copy of the per-status rejection counts.
func (c *Counters) RejectedByStatus() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make(map[string]int64, len(c.rejectedByStatus))
	for k, v := range c.rejectedByStatus {
		result[k] = v
	}
	return result
}

// CountersSnapshot is a point-in-time copy of all counters, shaped for the
// status frame.
type CountersSnapshot struct {
	PreFilterPass     int64            `json:"preFilterPass"`
	PreFilterReject   int64            `json:"preFilterReject"`
	ParseErrors       int64            `json:"parseErrors"`
	UnknownSide       int64            `json:"unknownSide"`
	PassThroughStatus int64            `json:"passThroughStatus"`
	AdmittedUpdates   int64            `json:"admittedUpdates"`
	ConflictWarnings  int64            `json:"conflictWarnings"`
	TruncationResets  int64            `json:"truncationResets"`
	Rotations         int64            `json:"rotations"`
	SubscriberDrops   int64            `json:"subscriberDrops"`
	TrackedOrders     int64            `json:"trackedOrders"`
	CacheHits         int64            `json:"cacheHits"`
	CacheMisses       int64            `json:"cacheMisses"`
	RejectedByStatus  map[string]int64 `json:"rejectedByStatus"`
}

// Snapshot returns a consistent-enough copy for telemetry; individual loads
// are atomic but the set is not taken under one lock.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		PreFilterPass:     c.PreFilterPass.Load(),
		PreFilterReject:   c.PreFilterReject.Load(),
		ParseErrors:       c.ParseErrors.Load(),
		UnknownSide:       c.UnknownSide.Load(),
		PassThroughStatus: c.PassThroughStatus.Load(),
		AdmittedUpdates:   c.AdmittedUpdates.Load(),
		ConflictWarnings:  c.ConflictWarnings.Load(),
		TruncationResets:  c.TruncationResets.Load(),
		Rotations:         c.Rotations.Load(),
		SubscriberDrops:   c.SubscriberDrops.Load(),
		TrackedOrders:     c.TrackedOrders.Load(),
		CacheHits:         c.CacheHits.Load(),
		CacheMisses:       c.CacheMisses.Load(),
		RejectedByStatus:  c.RejectedByStatus(),
	}
}
