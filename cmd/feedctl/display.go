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
	"fmt"
	"sort"

	"node-order-feed-go/feed"
)

func displayOrders(orders []feed.Order) {
	fmt.Print(`
┌──────────────────────┬─────────────┬──────┬───────────────┬───────────────┬─────────────┬──────────────┐
│ Order ID             │ Symbol      │ Side │ Price         │ Size          │ Status      │ Time         │
├──────────────────────┼─────────────┼──────┼───────────────┼───────────────┼─────────────┼──────────────┤
`)

	for _, o := range orders {
		id := o.ID
		if len(id) > 20 {
			id = id[:17] + "..."
		}

		fmt.Printf("│ %-20s │ %-11s │ %-4s │ %-13.6g │ %-13.6g │ %-11s │ %-12s │\n",
			id,
			o.Symbol,
			o.Side,
			o.Price,
			o.Size,
			o.Status,
			o.Timestamp.Format("15:04:05.000"),
		)
	}

	fmt.Println("└──────────────────────┴─────────────┴──────┴───────────────┴───────────────┴─────────────┴──────────────┘")
}

func displaySearchResult(result feed.SearchResult) {
	if result.Err != "" {
		fmt.Printf("Search error: %s\n", result.Err)
		return
	}

	switch result.Kind {
	case feed.MatchLive:
		fmt.Println("Live match (now tracked):")
	case feed.MatchClosed:
		fmt.Println("Closed match (open and closing events):")
	default:
		fmt.Println("No match")
		return
	}
	displayOrders(result.Orders)
}

func displayStatus(status feed.StatusSnapshot) {
	fmt.Printf(`
Feed Status:
  Tail file:            %s @ offset %d
  Orders stored:        %d
  Tracked matches:      %d
  Updates delivered:    %d
  Subscribers:          %d instant, %d batched

Counters:
  Pre-filter:           %d passed, %d rejected
  Parse errors:         %d
  Unknown sides:        %d
  Pass-through status:  %d
  Admitted updates:     %d
  Conflict warnings:    %d
  Truncation resets:    %d
  Rotations:            %d
  Subscriber drops:     %d
  Parser cache:         %d hits, %d misses
`,
		status.TailPath, status.TailOffset,
		status.Orders,
		status.Tracked,
		status.RecentTotal,
		status.Instant, status.Batched,
		status.Counters.PreFilterPass, status.Counters.PreFilterReject,
		status.Counters.ParseErrors,
		status.Counters.UnknownSide,
		status.Counters.PassThroughStatus,
		status.Counters.AdmittedUpdates,
		status.Counters.ConflictWarnings,
		status.Counters.TruncationResets,
		status.Counters.Rotations,
		status.Counters.SubscriberDrops,
		status.Counters.CacheHits, status.Counters.CacheMisses,
	)

	if len(status.Counters.RejectedByStatus) > 0 {
		fmt.Println("\nRejected by status:")
		keys := make([]string, 0, len(status.Counters.RejectedByStatus))
		for k := range status.Counters.RejectedByStatus {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %-45s %d\n", k, status.Counters.RejectedByStatus[k])
		}
	}
}
