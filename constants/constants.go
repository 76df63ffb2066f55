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

// Package constants defines the wire-level vocabulary of the node order log:
// side codes, status strings, the documented rejection-status list, the
// on-disk directory layout, and the tuning defaults used across the feed.
package constants

// --- Side Codes ---
const (
	SideCodeBid = "B" // Bid (buy)
	SideCodeAsk = "A" // Ask (sell)
)

// --- Normalized Order Statuses ---
const (
	StatusOpen      = "open"
	StatusTriggered = "triggered"
	StatusFilled    = "filled"
	StatusCanceled  = "canceled"
)

// CanceledAliases maps raw statuses that are spelled differently by the node
// but mean "canceled" onto the normalized form.
var CanceledAliases = map[string]string{
	"cancelled":               StatusCanceled,
	"vaultWithdrawalCanceled": StatusCanceled,
}

// RejectionStatuses is the closed list of statuses for orders that were
// rejected or canceled before ever entering the book. Lines carrying one of
// these statuses are dropped entirely: they never produce an order event,
// only a per-status counter increment.
var RejectionStatuses = map[string]struct{}{
	"badAloPxRejected":                {},
	"iocCancelRejected":               {},
	"insufficientSpotBalanceRejected": {},
	"marginCanceled":                  {},
	"minTradeNtlRejected":             {},
	"perpMarginRejected":              {},
	"perpMaxPositionRejected":         {},
	"reduceOnlyCanceled":              {},
	"reduceOnlyRejected":              {},
	"scheduledCancel":                 {},
	"selfTradeCanceled":               {},
	"siblingFilledCanceled":           {},
	"positionIncreaseAtOpenInterestCapRejected": {},
	"positionFlipAtOpenInterestCapRejected":     {},
}

// --- Log Directory Layout ---
//
// The node writes hourly order-status files under:
//
//	<root>/node_order_statuses/hourly/<YYYYMMDD>/<H>
//
// where <H> is the hour 0-23 without zero padding. The file for the current
// hour is the only one being appended to; earlier files are immutable.
const (
	OrderStatusDirName = "node_order_statuses"
	HourlyDirName      = "hourly"
	DateDirLayout      = "20060102"
	MaxHour            = 23
)

// LogTimeLayout parses the node's order timestamps: ISO-8601 with fractional
// seconds and no zone designator. Zoneless timestamps are UTC.
const LogTimeLayout = "2006-01-02T15:04:05.999999999"

// --- Tuning Defaults ---
const (
	DefaultPollIntervalMs    = 5      // tail poll cadence
	DefaultRescanIntervalS   = 30     // fallback locator re-scan cadence
	DefaultBatchSize         = 1000   // events per flush trigger
	DefaultBatchTimeoutMs    = 5      // max wall time between flushes
	DefaultMaxFlushSize      = 100000 // per-flush work cap
	DefaultParallelThreshold = 512    // snapshot size that enables parallel parse
	DefaultParseWorkers      = 4      // parallel parse worker count
	DefaultChunkTimeoutS     = 5      // per-chunk parse timeout
	DefaultBatchPeriodMs     = 500    // batched channel delivery period
	DefaultSendTimeoutMs     = 1000   // per-subscriber send deadline
	DefaultLookBackS         = 2      // search look-back window
	DefaultMaxScanLines      = 10000  // search scan cap
	DefaultBackscanChunk     = 8192   // backward read chunk size (bytes)
	DefaultMonitorIntervalMs = 5      // tracked-order monitor cadence
	DefaultMaxTrackingAgeMin = 60     // tracked-order eviction age
	DefaultSearchCacheTTLs   = 10     // candidate cache window
	DefaultParserCacheSize   = 4096   // parser line memoization entries
	DefaultRecentBufferSize  = 10000  // recent-update ring capacity
	DefaultSearchQueueSize   = 256    // pending search request capacity
	DefaultLineQueueSize     = 4096   // tailer -> batcher hand-off capacity
	DefaultTolerance         = 1e-6   // search price tolerance
)
