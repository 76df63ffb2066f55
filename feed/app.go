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

// Application assembly: one App owns the full pipeline — locator, tailer,
// parser, batcher, store, hub, recent buffer, and search engine — and runs
// it as a single unit under one context.
package feed

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"node-order-feed-go/constants"
)

// Config carries every tuning knob of the pipeline. DefaultConfig returns the
// documented defaults; callers override selectively.
type Config struct {
	LogRoot string       // node data directory holding node_order_statuses/
	Symbols []SymbolRule // admission rules; an empty set admits nothing

	PollInterval      time.Duration
	RescanInterval    time.Duration
	LineQueueSize     int
	BatchSize         int
	BatchTimeout      time.Duration
	MaxFlushSize      int
	ParallelThreshold int
	ParseWorkers      int
	ChunkTimeout      time.Duration
	ParserCacheSize   int
	BatchPeriod       time.Duration
	RecentBufferSize  int

	LookBack        time.Duration
	MaxScanLines    int
	BackscanChunk   int
	MonitorInterval time.Duration
	MaxTrackingAge  time.Duration
	SearchCacheTTL  time.Duration
	SearchQueueSize int
}

// DefaultConfig returns the pipeline defaults. LogRoot and Symbols have no
// default and must be set.
func DefaultConfig() Config {
	return Config{
		PollInterval:      constants.DefaultPollIntervalMs * time.Millisecond,
		RescanInterval:    constants.DefaultRescanIntervalS * time.Second,
		LineQueueSize:     constants.DefaultLineQueueSize,
		BatchSize:         constants.DefaultBatchSize,
		BatchTimeout:      constants.DefaultBatchTimeoutMs * time.Millisecond,
		MaxFlushSize:      constants.DefaultMaxFlushSize,
		ParallelThreshold: constants.DefaultParallelThreshold,
		ParseWorkers:      constants.DefaultParseWorkers,
		ChunkTimeout:      constants.DefaultChunkTimeoutS * time.Second,
		ParserCacheSize:   constants.DefaultParserCacheSize,
		BatchPeriod:       constants.DefaultBatchPeriodMs * time.Millisecond,
		RecentBufferSize:  constants.DefaultRecentBufferSize,
		LookBack:          constants.DefaultLookBackS * time.Second,
		MaxScanLines:      constants.DefaultMaxScanLines,
		BackscanChunk:     constants.DefaultBackscanChunk,
		MonitorInterval:   constants.DefaultMonitorIntervalMs * time.Millisecond,
		MaxTrackingAge:    constants.DefaultMaxTrackingAgeMin * time.Minute,
		SearchCacheTTL:    constants.DefaultSearchCacheTTLs * time.Second,
		SearchQueueSize:   constants.DefaultSearchQueueSize,
	}
}

// fanNotifier delivers every admitted update to the hub and the recent
// buffer. The store and the search engine share it so subscribers see one
// ordered stream regardless of which component produced the update.
type fanNotifier struct {
	hub    *Hub
	recent *RecentBuffer
}

func (f *fanNotifier) Publish(o Order) {
	f.recent.Add(o)
	f.hub.Publish(o)
}

// App is the assembled pipeline.
type App struct {
	cfg      Config
	counters *Counters
	filter   *Filter
	locator  *Locator
	parser   *Parser
	tailer   *Tailer
	store    *OrderStore
	batcher  *Batcher
	hub      *Hub
	recent   *RecentBuffer
	search   *SearchEngine
	clock    clock.Clock
	log      zerolog.Logger
}

// NewApp wires the pipeline. clk is injectable for tests; production callers
// pass clock.New().
func NewApp(cfg Config, clk clock.Clock, log zerolog.Logger) *App {
	counters := NewCounters()
	filter := NewFilter(cfg.Symbols)
	locator := NewLocator(cfg.LogRoot)
	parser := NewParser(counters, cfg.ParserCacheSize, log)
	hub := NewHub(cfg.BatchPeriod, clk, counters, log)
	recent := NewRecentBuffer(cfg.RecentBufferSize)
	notifier := &fanNotifier{hub: hub, recent: recent}
	store := NewOrderStore(filter, notifier, counters, clk, log)

	tailer := NewTailer(locator, TailerConfig{
		PollInterval:   cfg.PollInterval,
		RescanInterval: cfg.RescanInterval,
		QueueSize:      cfg.LineQueueSize,
	}, counters, log)

	batcher := NewBatcher(parser, store, BatcherConfig{
		BatchSize:         cfg.BatchSize,
		BatchTimeout:      cfg.BatchTimeout,
		MaxFlushSize:      cfg.MaxFlushSize,
		ParallelThreshold: cfg.ParallelThreshold,
		Workers:           cfg.ParseWorkers,
		ChunkTimeout:      cfg.ChunkTimeout,
	}, log)

	search := NewSearchEngine(locator, store, filter, parser, notifier, SearchConfig{
		LookBack:        cfg.LookBack,
		MaxScanLines:    cfg.MaxScanLines,
		ChunkSize:       cfg.BackscanChunk,
		MonitorInterval: cfg.MonitorInterval,
		MaxTrackingAge:  cfg.MaxTrackingAge,
		CacheTTL:        cfg.SearchCacheTTL,
		QueueSize:       cfg.SearchQueueSize,
	}, counters, clk, log)

	return &App{
		cfg:      cfg,
		counters: counters,
		filter:   filter,
		locator:  locator,
		parser:   parser,
		tailer:   tailer,
		store:    store,
		batcher:  batcher,
		hub:      hub,
		recent:   recent,
		search:   search,
		clock:    clk,
		log:      log.With().Str("component", "app").Logger(),
	}
}

// Run starts every component and blocks until ctx is canceled or a component
// fails. The hub is stopped last so shutdown flushes the final batch frame.
func (a *App) Run(ctx context.Context) error {
	a.hub.Start()
	defer a.hub.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.tailer.Run(gctx) })
	g.Go(func() error { return a.batcher.Run(gctx, a.tailer.Lines()) })
	g.Go(func() error { return a.search.Run(gctx) })
	g.Go(func() error { return a.housekeeping(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// housekeeping evicts aged orders on a fixed cadence and immediately on disk
// exhaustion signals from the tailer.
func (a *App) housekeeping(ctx context.Context) error {
	ticker := a.clock.Ticker(a.cfg.MaxTrackingAge)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := a.store.EvictOlderThan(a.cfg.MaxTrackingAge); n > 0 {
				a.log.Info().Int("evicted", n).Msg("aged orders evicted")
			}
		case <-a.tailer.CleanupRequests():
			n := a.store.EvictOlderThan(a.cfg.MaxTrackingAge)
			a.log.Error().Int("evicted", n).Msg("emergency cleanup after disk exhaustion")
		}
	}
}

// StatusSnapshot is the feed-wide health view served by the status endpoint
// and the feedctl `status` command.
type StatusSnapshot struct {
	Counters    CountersSnapshot `json:"counters"`
	Orders      int              `json:"orders"`
	Tracked     int              `json:"tracked"`
	RecentTotal int64            `json:"recentTotal"`
	Instant     int              `json:"instantSubscribers"`
	Batched     int              `json:"batchedSubscribers"`
	TailPath    string           `json:"tailPath"`
	TailOffset  int64            `json:"tailOffset"`
}

// Status returns a point-in-time view of the pipeline.
func (a *App) Status() StatusSnapshot {
	return StatusSnapshot{
		Counters:    a.counters.Snapshot(),
		Orders:      a.store.Len(),
		Tracked:     a.search.TrackedCount(),
		RecentTotal: a.recent.Total(),
		Instant:     a.hub.SubscriberCount(ChannelInstant),
		Batched:     a.hub.SubscriberCount(ChannelBatched),
		TailPath:    a.tailer.Path(),
		TailOffset:  a.tailer.Offset(),
	}
}

// Hub exposes the subscriber hub for transport wiring.
func (a *App) Hub() *Hub { return a.hub }

// Store exposes the order store.
func (a *App) Store() *OrderStore { return a.store }

// Search exposes the search engine.
func (a *App) Search() *SearchEngine { return a.search }

// Recent exposes the recent-update buffer.
func (a *App) Recent() *RecentBuffer { return a.recent }

// Filter exposes the admission filter for runtime rule replacement.
func (a *App) Filter() *Filter { return a.filter }
