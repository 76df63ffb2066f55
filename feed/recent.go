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

// RecentBuffer keeps the last N admitted updates for status queries and the
// feedctl `recent` command. It is a read-only convenience view, never a
// source of truth.
//
// Ring Buffer Design:
// A circular buffer instead of a growing slice because:
//  1. Fixed memory footprint - no unbounded growth
//  2. O(1) insertion - no slice copying when the buffer is full
//  3. Zero allocations on eviction - just overwrites the oldest entry
package feed

import "sync"

// RecentBuffer is a thread-safe bounded ring of admitted order updates.
//
//	┌──────────────────────────────────────────────────────┐
//	│ updates[0] │ updates[1] │  ...  │ updates[maxSize-1]  │
//	└──────────────────────────────────────────────────────┘
//	      ↑                                ↑
//	     head                (head + count - 1) % maxSize
//	  (oldest)                         (newest)
//
// When count < maxSize the buffer is filling and head stays at 0; once full,
// head advances on each insert, overwriting the oldest entry.
type RecentBuffer struct {
	mu      sync.RWMutex
	updates []Order
	head    int
	count   int
	maxSize int
	total   int64 // total updates ever added
}

// NewRecentBuffer creates a RecentBuffer with a pre-allocated ring. The ring
// is allocated once and never grows or shrinks.
func NewRecentBuffer(maxSize int) *RecentBuffer {
	return &RecentBuffer{
		updates: make([]Order, maxSize),
		maxSize: maxSize,
	}
}

// Add inserts one update. O(1), zero allocations.
func (rb *RecentBuffer) Add(o Order) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	writeIdx := (rb.head + rb.count) % rb.maxSize
	rb.updates[writeIdx] = o

	if rb.count < rb.maxSize {
		rb.count++
	} else {
		rb.head = (rb.head + 1) % rb.maxSize
	}
	rb.total++
}

// Recent returns up to limit of the newest updates in chronological order
// (oldest first, newest last). Single allocation, exact capacity.
func (rb *RecentBuffer) Recent(limit int) []Order {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	n := rb.count
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return nil
	}

	result := make([]Order, n)
	// Newest is at (head + count - 1) % maxSize; fill from the end so the
	// oldest of the window lands at index 0.
	for i := 0; i < n; i++ {
		idx := (rb.head + rb.count - 1 - i) % rb.maxSize
		result[n-1-i] = rb.updates[idx]
	}
	return result
}

// RecentBySymbol returns up to limit of the newest updates for one symbol in
// chronological order.
//
// Two-pass algorithm to avoid O(n²) prepends: count matches newest to
// oldest, pre-allocate with exact capacity, then fill from the end.
func (rb *RecentBuffer) RecentBySymbol(symbol string, limit int) []Order {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.count == 0 {
		return nil
	}

	matchCount := 0
	for i := 0; i < rb.count && (limit <= 0 || matchCount < limit); i++ {
		idx := (rb.head + rb.count - 1 - i) % rb.maxSize
		if rb.updates[idx].Symbol == symbol {
			matchCount++
		}
	}
	if matchCount == 0 {
		return nil
	}

	result := make([]Order, matchCount)
	resultIdx := matchCount - 1
	for i := 0; i < rb.count && resultIdx >= 0; i++ {
		idx := (rb.head + rb.count - 1 - i) % rb.maxSize
		if rb.updates[idx].Symbol == symbol {
			result[resultIdx] = rb.updates[idx]
			resultIdx--
		}
	}
	return result
}

// Len returns the number of updates currently buffered.
func (rb *RecentBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Total returns the number of updates ever added.
func (rb *RecentBuffer) Total() int64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.total
}
