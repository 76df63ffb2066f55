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

package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"node-order-feed-go/feed"
)

// wsSubscriber adapts one websocket connection to the hub's Subscriber
// interface. Sends are serialized under a mutex because the hub may fan out
// instant and batched frames concurrently, and gorilla permits at most one
// concurrent writer.
type wsSubscriber struct {
	mu          sync.Mutex
	conn        *websocket.Conn
	sendTimeout time.Duration
	closed      bool
}

func newWSSubscriber(conn *websocket.Conn, sendTimeout time.Duration) *wsSubscriber {
	return &wsSubscriber{conn: conn, sendTimeout: sendTimeout}
}

// Send writes one text frame under the per-send deadline. A closed subscriber
// reports the hub's benign sentinel so the drop is logged at debug level.
func (s *wsSubscriber) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return feed.ErrSubscriberClosed
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.sendTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close shuts the connection down. Idempotent; later Sends fail benignly.
func (s *wsSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
