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

package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"node-order-feed-go/feed"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// client wraps the daemon's HTTP and websocket surface.
type client struct {
	addr string
	http *http.Client
}

func newClient(addr string) *client {
	return &client{
		addr: addr,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

// stream prints count frames from one websocket channel.
func (c *client) stream(channel string, count int) error {
	u := url.URL{Scheme: "ws", Host: c.addr, Path: "/ws/" + channel}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Streaming %d frame(s) from %s; Ctrl-C to abort\n", count, channel)
	for i := 0; i < count; i++ {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		fmt.Println(string(frame))
	}
	return nil
}

func (c *client) search(symbol, side string, price, tolerance float64) (feed.SearchResult, error) {
	payload := map[string]interface{}{
		"symbol": symbol,
		"side":   side,
		"price":  price,
	}
	if tolerance > 0 {
		payload["tolerance"] = tolerance
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return feed.SearchResult{}, err
	}

	resp, err := c.http.Post("http://"+c.addr+"/search", "application/json", bytes.NewReader(body))
	if err != nil {
		return feed.SearchResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return feed.SearchResult{}, fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	var result feed.SearchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return feed.SearchResult{}, err
	}
	return result, nil
}

func (c *client) recent(symbol string, limit int) ([]feed.Order, error) {
	q := url.Values{}
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}

	resp, err := c.http.Get("http://" + c.addr + "/recent?" + q.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	var orders []feed.Order
	if err := json.NewDecoder(resp.Body).Decode(&orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (c *client) status() (feed.StatusSnapshot, error) {
	resp, err := c.http.Get("http://" + c.addr + "/status")
	if err != nil {
		return feed.StatusSnapshot{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return feed.StatusSnapshot{}, fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	var status feed.StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return feed.StatusSnapshot{}, err
	}
	return status, nil
}
