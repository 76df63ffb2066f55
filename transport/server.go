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

// Package transport exposes the feed over HTTP and websocket:
//
//	GET  /ws/instant  - websocket, one frame per admitted update
//	GET  /ws/batched  - websocket, coalesced {count, orders[]} frames
//	POST /search      - reactive order search
//	GET  /recent      - recent admitted updates, optionally per symbol
//	GET  /status      - pipeline health snapshot
package transport

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"node-order-feed-go/feed"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// searchWait bounds how long a request handler waits on the engine before
// reporting a timeout; it dominates scan time by a wide margin.
const searchWait = 10 * time.Second

// Server serves the feed's HTTP and websocket surface.
type Server struct {
	app         *feed.App
	sendTimeout time.Duration
	upgrader    websocket.Upgrader
	mux         *http.ServeMux
	log         zerolog.Logger
}

// NewServer creates a Server over app. sendTimeout is the per-subscriber
// websocket write deadline.
func NewServer(app *feed.App, sendTimeout time.Duration, log zerolog.Logger) *Server {
	s := &Server{
		app:         app,
		sendTimeout: sendTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		mux: http.NewServeMux(),
		log: log.With().Str("component", "transport").Logger(),
	}
	s.mux.HandleFunc("/ws/instant", s.subscribeHandler(feed.ChannelInstant))
	s.mux.HandleFunc("/ws/batched", s.subscribeHandler(feed.ChannelBatched))
	s.mux.HandleFunc("/search", s.handleSearch)
	s.mux.HandleFunc("/recent", s.handleRecent)
	s.mux.HandleFunc("/status", s.handleStatus)
	return s
}

// Handler returns the root handler for an http.Server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// subscribeHandler upgrades the connection and attaches it to one hub
// channel. The read loop exists only to observe disconnect; inbound payloads
// are discarded.
func (s *Server) subscribeHandler(ch feed.Channel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Debug().Err(err).Str("channel", string(ch)).Msg("websocket upgrade failed")
			return
		}

		sub := newWSSubscriber(conn, s.sendTimeout)
		s.app.Hub().Subscribe(ch, sub)
		s.log.Info().Str("channel", string(ch)).Str("remote", r.RemoteAddr).Msg("subscriber connected")

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		s.app.Hub().Unsubscribe(ch, sub)
		_ = sub.Close()
		s.log.Info().Str("channel", string(ch)).Str("remote", r.RemoteAddr).Msg("subscriber disconnected")
	}
}

// searchPayload is the wire shape of a search request; side arrives as the
// human-facing word, case-insensitive.
type searchPayload struct {
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Price     float64 `json:"price"`
	Tolerance float64 `json:"tolerance,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload searchPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	req, err := payload.toRequest()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.app.Search().Submit(req)
	if err != nil {
		if errors.Is(err, feed.ErrSearchBacklog) {
			http.Error(w, "search backlog full", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	select {
	case result := <-res:
		s.writeJSON(w, result)
	case <-time.After(searchWait):
		http.Error(w, "search timed out", http.StatusGatewayTimeout)
	case <-r.Context().Done():
	}
}

func (p searchPayload) toRequest() (feed.SearchRequest, error) {
	if p.Symbol == "" {
		return feed.SearchRequest{}, errors.New("symbol is required")
	}
	if p.Price <= 0 {
		return feed.SearchRequest{}, errors.New("price must be positive")
	}

	var side feed.Side
	switch strings.ToLower(p.Side) {
	case "bid", "buy", "b":
		side = feed.SideBid
	case "ask", "sell", "a":
		side = feed.SideAsk
	default:
		return feed.SearchRequest{}, errors.New("side must be bid or ask")
	}

	req := feed.SearchRequest{
		Symbol:    p.Symbol,
		Side:      side,
		Price:     p.Price,
		Tolerance: p.Tolerance,
	}
	if p.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
		if err != nil {
			return feed.SearchRequest{}, errors.New("timestamp must be RFC 3339")
		}
		req.Timestamp = ts
	}
	return req, nil
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	var orders []feed.Order
	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		orders = s.app.Recent().RecentBySymbol(symbol, limit)
	} else {
		orders = s.app.Recent().Recent(limit)
	}
	if orders == nil {
		orders = []feed.Order{}
	}
	s.writeJSON(w, orders)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.app.Status())
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("writing response")
	}
}
