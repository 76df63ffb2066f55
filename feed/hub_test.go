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
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// fakeSubscriber records frames and can be configured to fail.
type fakeSubscriber struct {
	mu       sync.Mutex
	frames   [][]byte
	sendErr  error
	closeErr error
	closed   bool
}

func (s *fakeSubscriber) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.frames = append(s.frames, append([]byte(nil), frame...))
	return nil
}

func (s *fakeSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.closeErr
}

func (s *fakeSubscriber) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *fakeSubscriber) lastFrame() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

func (s *fakeSubscriber) wasClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func testOrder(id string) Order {
	return Order{
		Timestamp: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		ID:        id, Symbol: "BTC", Side: SideBid, Status: StatusOpen, Price: 100, Size: 1,
	}
}

// waitFor polls until cond holds or the deadline passes. The hub's batched
// loop runs on its own goroutine, so assertions on its effects must poll.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

// TestHub_InstantDelivery verifies every published update reaches every
// instant subscriber exactly once, immediately.
func TestHub_InstantDelivery(t *testing.T) {
	h := NewHub(500*time.Millisecond, clock.NewMock(), NewCounters(), zerolog.Nop())
	sub1, sub2 := &fakeSubscriber{}, &fakeSubscriber{}
	h.Subscribe(ChannelInstant, sub1)
	h.Subscribe(ChannelInstant, sub2)

	h.Publish(testOrder("1"))
	h.Publish(testOrder("2"))

	if sub1.frameCount() != 2 || sub2.frameCount() != 2 {
		t.Errorf("expected 2 frames each, got %d and %d", sub1.frameCount(), sub2.frameCount())
	}
}

// TestHub_BatchedDelivery verifies updates coalesce into one frame per period
// and silent periods emit nothing.
func TestHub_BatchedDelivery(t *testing.T) {
	clk := clock.NewMock()
	h := NewHub(500*time.Millisecond, clk, NewCounters(), zerolog.Nop())
	sub := &fakeSubscriber{}
	h.Subscribe(ChannelBatched, sub)

	h.Start()
	defer h.Stop()
	time.Sleep(10 * time.Millisecond) // let the loop register its ticker

	h.Publish(testOrder("1"))
	h.Publish(testOrder("2"))
	h.Publish(testOrder("3"))

	clk.Add(500 * time.Millisecond)
	waitFor(t, func() bool { return sub.frameCount() == 1 })

	var frame BatchFrame
	if err := json.Unmarshal(sub.lastFrame(), &frame); err != nil {
		t.Fatalf("unmarshal batch frame: %v", err)
	}
	if frame.Count != 3 || len(frame.Orders) != 3 {
		t.Errorf("expected 3 coalesced orders, got count=%d len=%d", frame.Count, len(frame.Orders))
	}
	if frame.Orders[0].ID != "1" || frame.Orders[2].ID != "3" {
		t.Errorf("expected admission order preserved, got %v", frame.Orders)
	}

	// A silent period delivers nothing.
	clk.Add(500 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	if sub.frameCount() != 1 {
		t.Errorf("silent period emitted a frame; total %d", sub.frameCount())
	}
}

// TestHub_FailedSubscriberIsDropped verifies that a send failure removes the
// subscriber, closes it, counts the drop, and leaves the rest of the fan-out
// untouched.
func TestHub_FailedSubscriberIsDropped(t *testing.T) {
	counters := NewCounters()
	h := NewHub(500*time.Millisecond, clock.NewMock(), counters, zerolog.Nop())
	bad := &fakeSubscriber{sendErr: syscall.EPIPE}
	good := &fakeSubscriber{}
	h.Subscribe(ChannelInstant, bad)
	h.Subscribe(ChannelInstant, good)

	h.Publish(testOrder("1"))

	if good.frameCount() != 1 {
		t.Errorf("healthy subscriber should receive the frame, got %d", good.frameCount())
	}
	if !bad.wasClosed() {
		t.Error("failed subscriber should be closed")
	}
	if h.SubscriberCount(ChannelInstant) != 1 {
		t.Errorf("expected 1 remaining subscriber, got %d", h.SubscriberCount(ChannelInstant))
	}
	if counters.SubscriberDrops.Load() != 1 {
		t.Errorf("expected SubscriberDrops=1, got %d", counters.SubscriberDrops.Load())
	}

	// The dropped subscriber is not revisited.
	h.Publish(testOrder("2"))
	if good.frameCount() != 2 {
		t.Errorf("expected 2 frames on healthy subscriber, got %d", good.frameCount())
	}
}

// TestHub_StopFlushesAndCloses verifies shutdown delivers the pending batch
// and closes every subscriber on both channels.
func TestHub_StopFlushesAndCloses(t *testing.T) {
	clk := clock.NewMock()
	h := NewHub(time.Hour, clk, NewCounters(), zerolog.Nop())
	instant, batched := &fakeSubscriber{}, &fakeSubscriber{}
	h.Subscribe(ChannelInstant, instant)
	h.Subscribe(ChannelBatched, batched)

	h.Start()
	time.Sleep(10 * time.Millisecond)
	h.Publish(testOrder("1"))
	h.Stop()

	if batched.frameCount() != 1 {
		t.Errorf("expected final flush to deliver 1 batched frame, got %d", batched.frameCount())
	}
	if !instant.wasClosed() || !batched.wasClosed() {
		t.Error("expected all subscribers closed on stop")
	}

	// Stop is idempotent.
	h.Stop()
}

// TestHub_StopLogsCloseFailures verifies shutdown keeps the benign-at-debug,
// unexpected-at-error split for close failures.
func TestHub_StopLogsCloseFailures(t *testing.T) {
	var buf bytes.Buffer
	h := NewHub(time.Hour, clock.NewMock(), NewCounters(), zerolog.New(&buf))
	benign := &fakeSubscriber{closeErr: net.ErrClosed}
	broken := &fakeSubscriber{closeErr: errors.New("flush exploded")}
	h.Subscribe(ChannelInstant, benign)
	h.Subscribe(ChannelBatched, broken)

	h.Stop()

	logged := buf.String()
	if !strings.Contains(logged, `"level":"debug"`) {
		t.Errorf("benign close failure not logged at debug: %s", logged)
	}
	if !strings.Contains(logged, `"level":"error"`) {
		t.Errorf("unexpected close failure not logged at error: %s", logged)
	}
}

// TestHub_Unsubscribe verifies a removed subscriber stops receiving without
// being closed.
func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub(500*time.Millisecond, clock.NewMock(), NewCounters(), zerolog.Nop())
	sub := &fakeSubscriber{}
	h.Subscribe(ChannelInstant, sub)
	h.Unsubscribe(ChannelInstant, sub)

	h.Publish(testOrder("1"))

	if sub.frameCount() != 0 {
		t.Errorf("unsubscribed subscriber received %d frames", sub.frameCount())
	}
	if sub.wasClosed() {
		t.Error("unsubscribe must not close the subscriber")
	}
}

// TestIsBenignSendError classifies the expected disconnect shapes.
func TestIsBenignSendError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"subscriber closed", ErrSubscriberClosed, true},
		{"net closed", net.ErrClosed, true},
		{"eof", io.EOF, true},
		{"epipe", syscall.EPIPE, true},
		{"connreset", syscall.ECONNRESET, true},
		{"wrapped epipe", errors.Join(errors.New("write"), syscall.EPIPE), true},
		{"unexpected", errors.New("marshal exploded"), false},
		{"nil-ish other", syscall.EINVAL, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBenignSendError(tt.err); got != tt.want {
				t.Errorf("IsBenignSendError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
