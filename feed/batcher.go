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

// Batcher accumulates raw lines from the tailer and flushes them to the
// order store in bounded batches.
//
// Snapshot-and-clear discipline (safety-critical): at flush time the shared
// buffer is snapshot and immediately replaced inside one critical section,
// before any parsing begins. Lines arriving during the flush append to the
// fresh buffer and form the next batch; nothing is lost to in-flight
// clearing and nothing is duplicated. Per-flush work is additionally capped
// at MaxFlushSize, leaving any excess buffered for the next cycle.
package feed

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Applier receives the parsed events of one flush as a single batch. The
// OrderStore implements it.
type Applier interface {
	ApplyBatch(events []OrderEvent)
}

// BatcherConfig carries the batcher's tuning knobs.
type BatcherConfig struct {
	BatchSize         int           // buffered lines that trigger a flush
	BatchTimeout      time.Duration // max wall time between flushes
	MaxFlushSize      int           // per-flush work cap
	ParallelThreshold int           // snapshot size that enables parallel parse
	Workers           int           // parallel parse worker count
	ChunkTimeout      time.Duration // per-chunk parse deadline
}

// Batcher owns the shared line buffer between the tail loop and the store.
type Batcher struct {
	mu  sync.Mutex
	buf []string

	parser  *Parser
	applier Applier
	cfg     BatcherConfig
	log     zerolog.Logger
}

// NewBatcher creates a Batcher that parses with parser and delivers to
// applier.
func NewBatcher(parser *Parser, applier Applier, cfg BatcherConfig, log zerolog.Logger) *Batcher {
	return &Batcher{
		buf:     make([]string, 0, cfg.BatchSize),
		parser:  parser,
		applier: applier,
		cfg:     cfg,
		log:     log.With().Str("component", "batcher").Logger(),
	}
}

// Run consumes lines until ctx is canceled or the channel closes, flushing
// on size and on the batch timeout. A final flush drains whatever remains.
func (b *Batcher) Run(ctx context.Context, lines <-chan string) error {
	ticker := time.NewTicker(b.cfg.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.flush(ctx)
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				b.flush(ctx)
				return nil
			}
			if b.append(line) >= b.cfg.BatchSize {
				b.flush(ctx)
			}
		case <-ticker.C:
			b.flush(ctx)
		}
	}
}

// append adds one line to the shared buffer and returns the new size.
func (b *Batcher) append(line string) int {
	b.mu.Lock()
	b.buf = append(b.buf, line)
	n := len(b.buf)
	b.mu.Unlock()
	return n
}

// Buffered returns the current shared-buffer size.
func (b *Batcher) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// flush snapshots and clears the shared buffer, parses the snapshot, and
// delivers the valid events as one batch. Delivery failures cannot leak
// lines: the buffer was already cleared before any downstream work began.
func (b *Batcher) flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.buf) == 0 {
		b.mu.Unlock()
		return
	}
	var snapshot []string
	if len(b.buf) > b.cfg.MaxFlushSize {
		snapshot = b.buf[:b.cfg.MaxFlushSize:b.cfg.MaxFlushSize]
		// The remainder moves to a fresh backing array so the snapshot's
		// storage is never appended into mid-parse.
		b.buf = append(make([]string, 0, b.cfg.BatchSize), b.buf[b.cfg.MaxFlushSize:]...)
	} else {
		snapshot = b.buf
		b.buf = make([]string, 0, b.cfg.BatchSize)
	}
	b.mu.Unlock()

	events := b.parseSnapshot(ctx, snapshot)
	if len(events) > 0 {
		b.applier.ApplyBatch(events)
	}
}

// parseSnapshot parses every line of the snapshot, sequentially for small
// batches and across the worker pool for large ones.
func (b *Batcher) parseSnapshot(ctx context.Context, snapshot []string) []OrderEvent {
	if b.cfg.Workers <= 1 || len(snapshot) < b.cfg.ParallelThreshold {
		return b.parseLines(snapshot)
	}
	return b.parseParallel(ctx, snapshot)
}

func (b *Batcher) parseLines(lines []string) []OrderEvent {
	events := make([]OrderEvent, 0, len(lines))
	for _, line := range lines {
		if out := b.parser.ParseLine(line); out.Event != nil {
			events = append(events, *out.Event)
		}
	}
	return events
}

// parseParallel splits the snapshot into exactly Workers chunks — never
// "at most N with remainder chunks", which could queue extra tasks and
// deadlock a bounded pool — and gathers results index-stable so batch order
// is preserved. A chunk that misses its deadline yields nothing this cycle;
// the goroutines backing the pool are per-flush, so an expired pool is gone
// as soon as the flush returns.
func (b *Batcher) parseParallel(ctx context.Context, snapshot []string) []OrderEvent {
	workers := b.cfg.Workers
	results := make([][]OrderEvent, workers)

	chunkLen := (len(snapshot) + workers - 1) / workers
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		start := i * chunkLen
		if start >= len(snapshot) {
			break
		}
		end := start + chunkLen
		if end > len(snapshot) {
			end = len(snapshot)
		}
		i, chunk := i, snapshot[start:end]
		g.Go(func() error {
			results[i] = b.parseChunk(gctx, chunk)
			return nil
		})
	}
	_ = g.Wait()

	total := 0
	for _, r := range results {
		total += len(r)
	}
	events := make([]OrderEvent, 0, total)
	for _, r := range results {
		events = append(events, r...)
	}
	return events
}

// parseChunk parses one chunk under the per-chunk deadline.
func (b *Batcher) parseChunk(ctx context.Context, chunk []string) []OrderEvent {
	done := make(chan []OrderEvent, 1)
	go func() {
		done <- b.parseLines(chunk)
	}()

	timer := time.NewTimer(b.cfg.ChunkTimeout)
	defer timer.Stop()

	select {
	case events := <-done:
		return events
	case <-timer.C:
		b.log.Warn().Int("lines", len(chunk)).Dur("timeout", b.cfg.ChunkTimeout).
			Msg("parse chunk missed deadline; dropping its results this cycle")
		return nil
	case <-ctx.Done():
		return nil
	}
}
