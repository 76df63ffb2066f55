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

// Reactive order search over the tail of the active log file.
//
// A search request names a symbol, side, and price; the engine scans the file
// physically backward from the end, bounded by a look-back window and a line
// cap, and resolves the best match:
//
//  1. a candidate that is currently open in the store (max liquidity wins) —
//     published on the instant channel and promoted into the tracked set,
//     whose terminal transition the monitor loop later publishes;
//  2. otherwise a candidate whose open and closing events both fall inside
//     the scanned window — both are published, open first;
//  3. otherwise no match, and nothing is published.
//
// Raw scan results are cached per (symbol, side) for a short TTL so a burst
// of near-identical requests costs one backward read, not one per request.
package feed

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"node-order-feed-go/constants"
)

// ErrSearchBacklog reports that the pending-request queue is full. Callers
// should surface it as back-pressure, not retry immediately.
var ErrSearchBacklog = errors.New("search queue full")

// MatchKind classifies a search result.
type MatchKind string

const (
	MatchNone   MatchKind = "none"   // no candidate satisfied the request
	MatchLive   MatchKind = "live"   // an open order, now tracked
	MatchClosed MatchKind = "closed" // an open/closing pair inside the window
)

// SearchRequest describes one order lookup. Timestamp anchors the look-back
// window and defaults to submission time; Tolerance defaults to the feed-wide
// price tolerance when non-positive.
type SearchRequest struct {
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Tolerance float64   `json:"tolerance,omitempty"`
}

// SearchResult is the engine's answer to one request. Orders carries one
// entry for a live match and the open/closing pair for a closed match,
// oldest first.
type SearchResult struct {
	Request SearchRequest `json:"request"`
	Kind    MatchKind     `json:"kind"`
	Orders  []Order       `json:"orders,omitempty"`
	Tracked bool          `json:"tracked"`
	Err     string        `json:"error,omitempty"`
}

// SearchConfig carries the engine's tuning knobs.
type SearchConfig struct {
	LookBack        time.Duration // scan window behind the request timestamp
	MaxScanLines    int           // hard cap on lines read per scan
	ChunkSize       int           // backward read chunk size in bytes
	MonitorInterval time.Duration // tracked-order monitor cadence
	MaxTrackingAge  time.Duration // tracked entries older than this are dropped
	CacheTTL        time.Duration // per-(symbol, side) scan cache window
	QueueSize       int           // pending request capacity
}

// pendingSearch pairs a request with its single-use result channel.
type pendingSearch struct {
	req SearchRequest
	res chan SearchResult
}

// trackedOrder is one live match awaiting its terminal transition.
type trackedOrder struct {
	order Order
	since time.Time
}

// SearchEngine serializes scans through one worker and watches tracked
// matches with an independent cursor into the active file. It never touches
// the live tailer's offset.
type SearchEngine struct {
	locator  *Locator
	store    *OrderStore
	filter   *Filter
	parser   *Parser
	notifier Notifier
	cfg      SearchConfig
	counters *Counters
	clock    clock.Clock
	log      zerolog.Logger

	queue chan pendingSearch
	cache *gocache.Cache

	trackedMu sync.Mutex
	tracked   map[string]trackedOrder

	// monitor cursor state; owned by the monitor goroutine
	monPath   string
	monFile   *os.File
	monOffset int64
	monRest   []byte
}

// NewSearchEngine creates a SearchEngine. notifier receives the terminal
// update of every tracked match; passing the same notifier the store uses
// keeps subscribers on a single delivery path.
func NewSearchEngine(locator *Locator, store *OrderStore, filter *Filter, parser *Parser,
	notifier Notifier, cfg SearchConfig, counters *Counters, clk clock.Clock, log zerolog.Logger) *SearchEngine {
	return &SearchEngine{
		locator:  locator,
		store:    store,
		filter:   filter,
		parser:   parser,
		notifier: notifier,
		cfg:      cfg,
		counters: counters,
		clock:    clk,
		log:      log.With().Str("component", "search").Logger(),
		queue:    make(chan pendingSearch, cfg.QueueSize),
		cache:    gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		tracked:  make(map[string]trackedOrder),
	}
}

// Submit enqueues a request and returns the channel its result will arrive
// on. The channel is buffered and closed after the single send, so callers
// may abandon it. ErrSearchBacklog reports a full queue.
func (e *SearchEngine) Submit(req SearchRequest) (<-chan SearchResult, error) {
	p := pendingSearch{req: req, res: make(chan SearchResult, 1)}
	select {
	case e.queue <- p:
		return p.res, nil
	default:
		return nil, ErrSearchBacklog
	}
}

// TrackedCount returns the current size of the tracked set.
func (e *SearchEngine) TrackedCount() int {
	e.trackedMu.Lock()
	defer e.trackedMu.Unlock()
	return len(e.tracked)
}

// Run drives the request worker and the tracked-order monitor until ctx is
// canceled.
func (e *SearchEngine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.serve(gctx) })
	g.Go(func() error { return e.monitor(gctx) })
	return g.Wait()
}

// serve answers queued requests one at a time.
func (e *SearchEngine) serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p := <-e.queue:
			p.res <- e.handle(p.req)
			close(p.res)
		}
	}
}

// handle resolves one request against the scanned window and the store.
func (e *SearchEngine) handle(req SearchRequest) SearchResult {
	tol := req.Tolerance
	if tol <= 0 {
		tol = constants.DefaultTolerance
	}
	anchor := req.Timestamp
	if anchor.IsZero() {
		anchor = e.clock.Now()
	}

	cutoff := anchor.Add(-e.cfg.LookBack)
	cands, err := e.candidates(req.Symbol, req.Side, cutoff)
	if err != nil {
		return SearchResult{Request: req, Kind: MatchNone, Err: err.Error()}
	}

	matched := make([]OrderEvent, 0, len(cands))
	for _, ev := range cands {
		if math.Abs(ev.Price-req.Price) > tol {
			continue
		}
		if ev.Timestamp.Before(cutoff) {
			continue
		}
		if !e.filter.Admit(ev.Symbol, ev.Liquidity()) {
			continue
		}
		matched = append(matched, ev)
	}
	if len(matched) == 0 {
		return SearchResult{Request: req, Kind: MatchNone}
	}

	// First preference: a candidate the store still holds open. Highest
	// liquidity wins ties.
	var live Order
	found := false
	for _, ev := range matched {
		o, ok := e.store.Get(ev.ID)
		if !ok || o.Status != StatusOpen {
			continue
		}
		if !found || o.Liquidity() > live.Liquidity() {
			live = o
			found = true
		}
	}
	if found {
		e.track(live)
		e.notifier.Publish(live)
		return SearchResult{Request: req, Kind: MatchLive, Orders: []Order{live}, Tracked: true}
	}

	// Second preference: an open event whose closing event also fell inside
	// the window. Candidates arrive newest first, so the last write per id
	// is the oldest.
	type pair struct {
		open, closing OrderEvent
		hasOpen       bool
		hasClosing    bool
	}
	pairs := make(map[string]*pair, len(matched))
	for _, ev := range matched {
		pr, ok := pairs[ev.ID]
		if !ok {
			pr = &pair{}
			pairs[ev.ID] = pr
		}
		switch {
		case ev.Status == StatusOpen:
			pr.open, pr.hasOpen = ev, true
		case ev.Status.IsTerminal():
			// Keep the newest terminal event; the first one seen.
			if !pr.hasClosing {
				pr.closing, pr.hasClosing = ev, true
			}
		}
	}

	var best *pair
	for _, pr := range pairs {
		if !pr.hasOpen || !pr.hasClosing {
			continue
		}
		if best == nil || pr.open.Liquidity() > best.open.Liquidity() {
			best = pr
		}
	}
	if best != nil {
		open := best.open.order(best.open.Status)
		closing := best.closing.order(best.closing.Status)
		e.notifier.Publish(open)
		e.notifier.Publish(closing)
		return SearchResult{Request: req, Kind: MatchClosed, Orders: []Order{open, closing}}
	}
	return SearchResult{Request: req, Kind: MatchNone}
}

// scanWindow is one cached backward read: the events found and the cutoff
// the scan ran to.
type scanWindow struct {
	events []OrderEvent
	cutoff time.Time
}

// candidates returns events for (symbol, side) no older than cutoff, newest
// first. A cached read is reused only when it reached at least as far back as
// the requested cutoff; the caller re-applies its own window on top.
func (e *SearchEngine) candidates(symbol string, side Side, cutoff time.Time) ([]OrderEvent, error) {
	key := "scan:" + symbol + ":" + string(side)
	if v, ok := e.cache.Get(key); ok {
		if w := v.(scanWindow); !w.cutoff.After(cutoff) {
			return w.events, nil
		}
	}

	cands, err := e.scan(symbol, side, cutoff)
	if err != nil {
		return nil, err
	}
	e.cache.SetDefault(key, scanWindow{events: cands, cutoff: cutoff})
	return cands, nil
}

// scan reads the active file backward, collecting (symbol, side) events until
// cutoff, the line cap, or the start of file ends it.
func (e *SearchEngine) scan(symbol string, side Side, cutoff time.Time) ([]OrderEvent, error) {
	path, err := e.locator.ActiveFile()
	if err != nil {
		return nil, err
	}
	scanner, err := NewReverseLineScanner(path, e.cfg.ChunkSize)
	if err != nil {
		return nil, err
	}
	defer scanner.Close()

	var cands []OrderEvent
	for lines := 0; lines < e.cfg.MaxScanLines; lines++ {
		line, err := scanner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		out := e.parser.ParseLine(line)
		if out.Event == nil {
			continue
		}
		if out.Event.Timestamp.Before(cutoff) {
			break // everything earlier in the file is older still
		}
		if out.Event.Symbol != symbol || out.Event.Side != side {
			continue
		}
		cands = append(cands, *out.Event)
	}
	return cands, nil
}

// track promotes a live match into the tracked set.
func (e *SearchEngine) track(o Order) {
	e.trackedMu.Lock()
	_, exists := e.tracked[o.ID]
	e.tracked[o.ID] = trackedOrder{order: o, since: e.clock.Now()}
	e.trackedMu.Unlock()

	if !exists {
		e.counters.TrackedOrders.Inc()
		e.log.Debug().Str("oid", o.ID).Str("symbol", o.Symbol).Msg("tracking live match")
	}
}

// monitor watches the active file for terminal transitions of tracked orders
// and publishes them, evicting stale entries as it goes. It holds its own
// cursor, initialized at end-of-file, advanced independently of the tailer.
func (e *SearchEngine) monitor(ctx context.Context) error {
	defer e.closeMonitorFile()

	ticker := time.NewTicker(e.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.evictStale()
			if e.TrackedCount() == 0 {
				continue
			}
			for _, line := range e.monitorLines() {
				e.observe(line)
			}
		}
	}
}

// evictStale drops tracked entries older than MaxTrackingAge.
func (e *SearchEngine) evictStale() {
	cutoff := e.clock.Now().Add(-e.cfg.MaxTrackingAge)

	e.trackedMu.Lock()
	var stale []string
	for id, t := range e.tracked {
		if t.since.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(e.tracked, id)
	}
	e.trackedMu.Unlock()

	for _, id := range stale {
		e.counters.TrackedOrders.Dec()
		e.log.Debug().Str("oid", id).Msg("tracked match aged out without terminal transition")
	}
}

// observe parses one monitored line and publishes terminal transitions of
// tracked orders.
func (e *SearchEngine) observe(line string) {
	out := e.parser.ParseLine(line)
	if out.Event == nil || !out.Event.Status.IsTerminal() {
		return
	}

	e.trackedMu.Lock()
	_, tracked := e.tracked[out.Event.ID]
	if tracked {
		delete(e.tracked, out.Event.ID)
	}
	e.trackedMu.Unlock()

	if !tracked {
		return
	}
	e.counters.TrackedOrders.Dec()
	o := out.Event.order(out.Event.Status)
	e.log.Debug().Str("oid", o.ID).Str("status", string(o.Status)).Msg("tracked match reached terminal state")
	e.notifier.Publish(o)
}

// monitorLines reads newly appended complete lines through the monitor's own
// cursor. Failures yield an empty read; the next tick retries.
func (e *SearchEngine) monitorLines() []string {
	path, err := e.locator.ActiveFile()
	if err != nil {
		return nil
	}
	if path != e.monPath {
		if err := e.openMonitorFile(path); err != nil {
			return nil
		}
	}

	st, err := os.Stat(e.monPath)
	if err != nil {
		e.closeMonitorFile()
		return nil
	}
	size := st.Size()
	if size < e.monOffset {
		// Truncated under us; skip to the new end.
		e.monOffset = size
		e.monRest = nil
		return nil
	}
	if size == e.monOffset {
		return nil
	}

	n := size - e.monOffset
	if n > maxReadPerCycle {
		n = maxReadPerCycle
	}
	buf := make([]byte, n)
	read, err := e.monFile.ReadAt(buf, e.monOffset)
	if read <= 0 {
		if err != nil && err != io.EOF {
			e.closeMonitorFile()
		}
		return nil
	}
	e.monOffset += int64(read)

	data := buf[:read]
	if len(e.monRest) > 0 {
		data = append(e.monRest, data...)
	}

	var lines []string
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		if i > 0 {
			lines = append(lines, string(data[:i]))
		}
		data = data[i+1:]
	}
	if len(data) > 0 {
		e.monRest = append([]byte(nil), data...)
	} else {
		e.monRest = nil
	}
	return lines
}

// openMonitorFile transfers the monitor cursor to path. The first acquisition
// starts at end-of-file; a rotation handover starts at the beginning of the
// fresh file so transitions written before the handover tick are not missed.
func (e *SearchEngine) openMonitorFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	offset := int64(0)
	if e.monPath == "" {
		st, err := f.Stat()
		if err != nil {
			f.Close()
			return err
		}
		offset = st.Size()
	}

	e.closeMonitorFile()
	e.monFile = f
	e.monPath = path
	e.monOffset = offset
	e.monRest = nil
	return nil
}

func (e *SearchEngine) closeMonitorFile() {
	if e.monFile != nil {
		e.monFile.Close()
		e.monFile = nil
	}
	e.monPath = ""
	e.monOffset = 0
	e.monRest = nil
}
