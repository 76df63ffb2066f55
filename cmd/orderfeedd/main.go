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

// orderfeedd tails the node's order-status log and serves the feed over
// HTTP and websocket.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"node-order-feed-go/config"
	"node-order-feed-go/feed"
	"node-order-feed-go/transport"
)

func main() {
	var (
		configPath string
		logRoot    string
		listen     string
		logLevel   string
	)

	root := &cobra.Command{
		Use:   "orderfeedd",
		Short: "order-status feed daemon",
		Long: `orderfeedd tails the node's rotating order-status log, maintains live
order state, and fans admitted updates out to websocket subscribers on an
instant and a batched channel. It also answers reactive order searches over
the tail of the log.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logRoot != "" {
				cfg.LogRoot = logRoot
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			return run(cfg, configPath)
		},
	}

	root.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	root.Flags().StringVar(&logRoot, "log-root", "", "node data directory (overrides config)")
	root.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config)")
	root.Flags().StringVar(&logLevel, "log-level", "", "zerolog level (overrides config)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Config, configPath string) error {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := feed.NewApp(cfg.Feed(), clock.New(), log)
	server := transport.NewServer(app, cfg.SendTimeout(), log)

	if configPath != "" {
		err := config.Watch(configPath, func(next config.Config) {
			app.Filter().Replace(next.Symbols)
			log.Info().Int("symbols", len(next.Symbols)).Msg("symbol rules reloaded")
		}, log)
		if err != nil {
			return err
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("listen", cfg.Listen).Str("logRoot", cfg.LogRoot).Msg("serving")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("shutdown with error")
		return err
	}
	log.Info().Msg("shutdown complete")
	return nil
}
