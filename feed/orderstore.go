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

// Package feed implements the order-status tail pipeline: locating the active
// node log file, tailing it across rotations, parsing order events, batching
// them into the order store, and fanning admitted updates out to subscribers.
//
// OrderStore maintains the current authoritative state of every known order,
// tracking its lifecycle from open through fill or cancellation under a
// strict status-transition lattice.
package feed

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"node-order-feed-go/constants"
)

// Side is the book side of an order.
type Side string

const (
	SideBid Side = "Bid"
	SideAsk Side = "Ask"
)

// Status is an order lifecycle status. The four normalized values below are
// the only ones the store transitions between; raw statuses outside the set
// may still ride on events but never transition stored state.
type Status string

const (
	StatusOpen      Status = constants.StatusOpen
	StatusTriggered Status = constants.StatusTriggered
	StatusFilled    Status = constants.StatusFilled
	StatusCanceled  Status = constants.StatusCanceled
)

// IsTerminal reports whether the status is final. Once an order is filled or
// canceled it never changes again.
func (s Status) IsTerminal() bool {
	return s == StatusFilled || s == StatusCanceled
}

// known reports whether the status is one of the four normalized values.
func (s Status) known() bool {
	switch s {
	case StatusOpen, StatusTriggered, StatusFilled, StatusCanceled:
		return true
	}
	return false
}

// Order is the immutable-valued record held by the store and carried on
// every notification. Fields are ordered for optimal memory alignment.
type Order struct {
	Timestamp time.Time `json:"timestamp"`
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Owner     string    `json:"owner"`
	Side      Side      `json:"side"`
	Status    Status    `json:"status"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
}

// Liquidity is the order's notional value, price times size.
func (o Order) Liquidity() float64 {
	return o.Price * o.Size
}

// OrderEvent is one parsed order-status line from the node log.
type OrderEvent struct {
	Timestamp time.Time
	ID        string
	Symbol    string
	Owner     string
	Side      Side
	Status    Status
	Price     float64
	Size      float64
}

// Liquidity is the event's notional value, price times size.
func (e OrderEvent) Liquidity() float64 {
	return e.Price * e.Size
}

// order builds the Order value an applied event would store.
func (e OrderEvent) order(status Status) Order {
	return Order{
		Timestamp: e.Timestamp,
		ID:        e.ID,
		Symbol:    e.Symbol,
		Owner:     e.Owner,
		Side:      e.Side,
		Status:    status,
		Price:     e.Price,
		Size:      e.Size,
	}
}

// Notifier receives the post-update Order for every admitted change.
// The Hub implements it; the store never learns who is listening.
type Notifier interface {
	Publish(o Order)
}

// OrderStore provides thread-safe storage for order state.
// HOT PATH: ApplyBatch is called for every flush cycle and holds the write
// lock for the duration of one batch; readers take defensive copies.
type OrderStore struct {
	mu       sync.RWMutex
	orders   map[string]Order
	filter   *Filter
	notifier Notifier
	counters *Counters
	clock    clock.Clock
	log      zerolog.Logger
}

// NewOrderStore creates an OrderStore that admits events through filter and
// publishes every applied change to notifier.
func NewOrderStore(filter *Filter, notifier Notifier, counters *Counters, clk clock.Clock, log zerolog.Logger) *OrderStore {
	return &OrderStore{
		orders:   make(map[string]Order),
		filter:   filter,
		notifier: notifier,
		counters: counters,
		clock:    clk,
		log:      log.With().Str("component", "orderstore").Logger(),
	}
}

// resolution accumulates the per-identifier view of a batch before the
// single-event transition rule is applied.
type resolution struct {
	status      Status
	latest      OrderEvent
	sawFilled   bool
	sawCanceled bool
}

// statusPriority orders conflicting statuses within one batch:
// canceled > filled > triggered > open. Pass-through statuses rank below
// everything and only win when nothing normalized competes.
func statusPriority(s Status) int {
	switch s {
	case StatusCanceled:
		return 4
	case StatusFilled:
		return 3
	case StatusTriggered:
		return 2
	case StatusOpen:
		return 1
	default:
		return 0
	}
}

// ApplyBatch resolves one batch of events against the store.
//
// For identifiers that appear more than once the batch collapses to a single
// update first: simultaneous filled and canceled resolve to canceled with a
// warning, otherwise the highest-priority status wins, and the last event in
// batch order supplies the non-status fields. The resolved update then goes
// through admission (symbol filter on price*size) and the transition lattice;
// only applied transitions mutate the map and notify downstream.
func (s *OrderStore) ApplyBatch(events []OrderEvent) {
	if len(events) == 0 {
		return
	}

	// Resolve conflicts per identifier, preserving first-seen batch order
	// so notification order stays deterministic.
	resolved := make(map[string]*resolution, len(events))
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		r, exists := resolved[ev.ID]
		if !exists {
			r = &resolution{status: ev.Status, latest: ev}
			resolved[ev.ID] = r
			ids = append(ids, ev.ID)
		} else {
			if statusPriority(ev.Status) > statusPriority(r.status) {
				r.status = ev.Status
			}
			r.latest = ev
		}
		switch ev.Status {
		case StatusFilled:
			r.sawFilled = true
		case StatusCanceled:
			r.sawCanceled = true
		}
	}

	s.mu.Lock()
	applied := make([]Order, 0, len(ids))
	for _, id := range ids {
		r := resolved[id]
		if r.sawFilled && r.sawCanceled {
			r.status = StatusCanceled
			s.counters.ConflictWarnings.Inc()
			s.log.Warn().Str("oid", id).Msg("batch carried both filled and canceled; resolving to canceled")
		}
		if o, ok := s.apply(id, r.status, r.latest); ok {
			applied = append(applied, o)
		}
	}
	s.mu.Unlock()

	// Notify outside the lock; the hub takes its own subscriber snapshot.
	for _, o := range applied {
		s.counters.AdmittedUpdates.Inc()
		s.notifier.Publish(o)
	}
}

// apply runs the single-event transition rule for one resolved update.
// Callers must hold the write lock. Returns the stored Order and true when
// the update changed stored state.
func (s *OrderStore) apply(id string, status Status, ev OrderEvent) (Order, bool) {
	// Invariant guard: a non-positive price or negative size reaching the
	// store indicates a parser bug, not bad input.
	if ev.Price <= 0 || ev.Size < 0 {
		s.log.Error().Str("oid", id).Float64("price", ev.Price).Float64("size", ev.Size).
			Msg("dropping event violating store invariants")
		return Order{}, false
	}

	if !s.filter.Admit(ev.Symbol, ev.Liquidity()) {
		return Order{}, false
	}

	current, exists := s.orders[id]
	if !s.transitions(current.Status, status, exists) {
		return Order{}, false
	}

	next := ev.order(status)
	s.orders[id] = next
	return next, true
}

// transitions interprets the status lattice strictly:
//
//	current \ incoming | open | triggered | filled | canceled
//	(absent)           |  set |    set    |  set   |   set
//	open               | keep |    set    |  set   |   set
//	triggered          | keep |   keep    |  set   |   set
//	filled             | keep |   keep    |  keep  |  keep
//	canceled           | keep |   keep    |  keep  |  keep
//
// Incoming statuses outside the normalized set never transition, absent or
// not: they would plant an order the lattice cannot move.
func (s *OrderStore) transitions(current, incoming Status, exists bool) bool {
	if !incoming.known() {
		return false
	}
	if !exists {
		return true
	}
	if current.IsTerminal() {
		return false
	}
	switch incoming {
	case StatusOpen:
		return false
	case StatusTriggered:
		return current == StatusOpen
	default: // filled, canceled
		return true
	}
}

// Get retrieves a copy of the order with the given identifier.
func (s *OrderStore) Get(id string) (Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	return o, ok
}

// Len returns the number of orders currently stored.
func (s *OrderStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// Snapshot returns a copy of all stored orders. Iteration order is undefined.
func (s *OrderStore) Snapshot() []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		result = append(result, o)
	}
	return result
}

// EvictOlderThan removes every order whose timestamp precedes now minus age.
// Housekeeping calls this; it never emits notifications. Returns the number
// of orders removed.
func (s *OrderStore) EvictOlderThan(age time.Duration) int {
	cutoff := s.clock.Now().Add(-age)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, o := range s.orders {
		if o.Timestamp.Before(cutoff) {
			delete(s.orders, id)
			evicted++
		}
	}
	return evicted
}
