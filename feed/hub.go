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

// Subscriber hub: concurrent-safe fan-out of admitted order updates over two
// channels with distinct semantics.
//
//   - instant: every admitted update, delivered once, in arrival order.
//   - batched: updates coalesced per period into one {count, orders[]} frame;
//     silent periods emit nothing.
//
// Concurrency Model:
// Broadcasts iterate a snapshot of the subscriber set taken under the lock,
// so connects and disconnects during a fan-out are never observable
// mid-iteration and can never raise mutation errors. A subscriber whose send
// fails is removed atomically and not revisited for that message; the
// remaining fan-out continues.
package feed

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// Channel selects one of the hub's two delivery channels.
type Channel string

const (
	ChannelInstant Channel = "instant"
	ChannelBatched Channel = "batched"
)

// ErrSubscriberClosed is returned by Send on a subscriber whose underlying
// connection is gone. It is a benign failure.
var ErrSubscriberClosed = errors.New("subscriber closed")

// Subscriber is an abstract sink for framed text messages. Implementations
// own their transport and any per-send deadline.
type Subscriber interface {
	Send(frame []byte) error
	Close() error
}

// IsBenignSendError classifies expected subscriber failures: disconnects,
// closed connections, send timeouts, keepalive expirations. These are logged
// at debug level; everything else at error level.
func IsBenignSendError(err error) bool {
	if errors.Is(err, ErrSubscriberClosed) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Hub maintains the subscriber sets and drives both channels from a single
// admitted-update stream.
type Hub struct {
	mu      sync.Mutex
	instant map[Subscriber]struct{}
	batched map[Subscriber]struct{}

	pendingMu sync.Mutex
	pending   []Order

	period   time.Duration
	clock    clock.Clock
	counters *Counters
	log      zerolog.Logger

	started atomic.Bool
	stopped atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewHub creates a Hub delivering batched frames every period.
func NewHub(period time.Duration, clk clock.Clock, counters *Counters, log zerolog.Logger) *Hub {
	return &Hub{
		instant:  make(map[Subscriber]struct{}),
		batched:  make(map[Subscriber]struct{}),
		period:   period,
		clock:    clk,
		counters: counters,
		log:      log.With().Str("component", "hub").Logger(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the batched-delivery loop. Calling Start twice is a no-op.
func (h *Hub) Start() {
	if !h.started.CompareAndSwap(false, true) {
		return
	}
	go h.run()
}

// Stop cancels the batched-delivery period, flushes any pending batch, and
// closes every subscriber. It blocks until the loop has exited.
func (h *Hub) Stop() {
	if !h.stopped.CompareAndSwap(false, true) {
		return
	}
	close(h.stopCh)
	if h.started.Load() {
		<-h.doneCh
	} else {
		h.shutdown()
	}
}

func (h *Hub) run() {
	ticker := h.clock.Ticker(h.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.flushBatch()
		case <-h.stopCh:
			h.shutdown()
			close(h.doneCh)
			return
		}
	}
}

// shutdown flushes the pending batch and closes every subscriber on both
// channels.
func (h *Hub) shutdown() {
	h.flushBatch()

	h.mu.Lock()
	subs := make([]Subscriber, 0, len(h.instant)+len(h.batched))
	for s := range h.instant {
		subs = append(subs, s)
	}
	for s := range h.batched {
		if _, dup := h.instant[s]; !dup {
			subs = append(subs, s)
		}
	}
	h.instant = make(map[Subscriber]struct{})
	h.batched = make(map[Subscriber]struct{})
	h.mu.Unlock()

	for _, s := range subs {
		if err := s.Close(); err != nil {
			if IsBenignSendError(err) {
				h.log.Debug().Err(err).Msg("subscriber close")
			} else {
				h.log.Error().Err(err).Msg("subscriber close")
			}
		}
	}
}

// Subscribe adds a subscriber to the given channel.
func (h *Hub) Subscribe(ch Channel, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channelSet(ch)[s] = struct{}{}
}

// Unsubscribe removes a subscriber from the given channel. The subscriber is
// not closed; disconnect paths own that.
func (h *Hub) Unsubscribe(ch Channel, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.channelSet(ch), s)
}

// SubscriberCount returns the current size of a channel's subscriber set.
func (h *Hub) SubscriberCount(ch Channel) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channelSet(ch))
}

// channelSet must be called with h.mu held.
func (h *Hub) channelSet(ch Channel) map[Subscriber]struct{} {
	if ch == ChannelBatched {
		return h.batched
	}
	return h.instant
}

// Publish delivers one admitted update: immediately on the instant channel,
// and coalesced into the next batched frame.
func (h *Hub) Publish(o Order) {
	frame, err := MarshalInstantFrame(o)
	if err != nil {
		h.log.Error().Err(err).Str("oid", o.ID).Msg("marshal instant frame")
		return
	}
	h.broadcast(ChannelInstant, frame)

	h.pendingMu.Lock()
	h.pending = append(h.pending, o)
	h.pendingMu.Unlock()
}

// flushBatch emits the coalesced frame for the period, if any updates
// accumulated. The pending slice is snapshot-and-cleared so publishes racing
// the flush land in the next period.
func (h *Hub) flushBatch() {
	h.pendingMu.Lock()
	if len(h.pending) == 0 {
		h.pendingMu.Unlock()
		return
	}
	batch := h.pending
	h.pending = nil
	h.pendingMu.Unlock()

	frame, err := MarshalBatchFrame(batch)
	if err != nil {
		h.log.Error().Err(err).Int("count", len(batch)).Msg("marshal batch frame")
		return
	}
	h.broadcast(ChannelBatched, frame)
}

// broadcast fans one frame out to a snapshot of the channel's subscribers.
func (h *Hub) broadcast(ch Channel, frame []byte) {
	h.mu.Lock()
	set := h.channelSet(ch)
	snapshot := make([]Subscriber, 0, len(set))
	for s := range set {
		snapshot = append(snapshot, s)
	}
	h.mu.Unlock()

	for _, s := range snapshot {
		if err := s.Send(frame); err != nil {
			h.drop(ch, s, err)
		}
	}
}

// drop removes a failed subscriber from its channel and closes it. Failure
// isolation: the caller's fan-out continues with the rest of the snapshot.
func (h *Hub) drop(ch Channel, s Subscriber, err error) {
	h.mu.Lock()
	delete(h.channelSet(ch), s)
	h.mu.Unlock()

	h.counters.SubscriberDrops.Inc()
	if IsBenignSendError(err) {
		h.log.Debug().Err(err).Str("channel", string(ch)).Msg("removed subscriber")
	} else {
		h.log.Error().Err(err).Str("channel", string(ch)).Msg("removed subscriber")
	}
	_ = s.Close()
}
