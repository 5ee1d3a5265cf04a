package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/northbeam/binarb/internal/domain"
	"github.com/northbeam/binarb/internal/server/ws"
)

// ArbitrageMode runs the full detect-evaluate-execute pipeline: the feed
// ingestor, the market sweeper, the opportunity detector, and (if enabled)
// the status/API server. It blocks until ctx is cancelled.
func (a *App) ArbitrageMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Registry.RunDiscovery(ctx, deps.Discover)
	})

	g.Go(func() error {
		deps.Registry.RunSweeper(ctx, 30*time.Second)
		return nil
	})

	g.Go(func() error {
		return a.reconcileTokens(ctx, deps)
	})

	g.Go(func() error {
		if err := deps.Feed.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		deps.Feed.Stop()
		return ctx.Err()
	})

	g.Go(func() error {
		return deps.Detector.Run(ctx)
	})

	g.Go(func() error {
		return a.runSweepExpiredReservations(ctx, deps)
	})

	if deps.Server != nil {
		g.Go(func() error {
			return a.runServer(ctx, deps)
		})
	}

	return g.Wait()
}

// MonitorMode runs the feed ingestor and detector without the execution
// engine: opportunities are logged and published to the event bus but
// never acted on. Useful for dry-running a configuration against live
// books without risking a reservation cycle.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Registry.RunDiscovery(ctx, deps.Discover)
	})
	g.Go(func() error {
		deps.Registry.RunSweeper(ctx, 30*time.Second)
		return nil
	})
	g.Go(func() error {
		return a.reconcileTokens(ctx, deps)
	})
	g.Go(func() error {
		if err := deps.Feed.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		deps.Feed.Stop()
		return ctx.Err()
	})

	// The handler wired in Wire forwards opportunities to the risk gate and
	// executor; monitor mode replaces it so detections are only recorded.
	deps.Detector.SetHandler(func(_ context.Context, opp domain.Opportunity) {
		deps.Recent.Record(opp)
	})
	g.Go(func() error {
		return deps.Detector.Run(ctx)
	})

	sub, cancel := deps.Bus.Subscribe()
	defer cancel()
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case evt := <-sub:
				a.logger.InfoContext(ctx, "arb event",
					slog.String("type", string(evt.Type)),
					slog.String("market_id", evt.MarketID),
				)
			}
		}
	})

	if deps.Server != nil {
		g.Go(func() error {
			return a.runServer(ctx, deps)
		})
	}

	return g.Wait()
}

// ServerMode runs only the status/API server, with no feed, detector, or
// execution loop. Useful for inspecting stored history without connecting
// to the venue.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	if deps.Server == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return a.runServer(ctx, deps)
}

// runServer starts the HTTP/WebSocket API server and the WebSocket hub's
// event loop, and shuts both down cleanly when ctx is cancelled.
func (a *App) runServer(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.WSHub.Run(ctx)
	})

	if deps.SignalBus != nil {
		g.Go(func() error {
			return ws.BridgeEventBus(ctx, deps.Bus, deps.SignalBus, a.logger)
		})
	}

	g.Go(func() error {
		errCh := make(chan error, 1)
		go func() { errCh <- deps.Server.Start() }()
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return deps.Server.Shutdown(shutdownCtx)
		case err := <-errCh:
			return err
		}
	})

	return g.Wait()
}

// reconcileTokens keeps the feed connector's subscribed token set in sync
// with the registry's current market set, driven off the registry's
// canonical add/remove stream rather than a poll loop.
func (a *App) reconcileTokens(ctx context.Context, deps *Dependencies) error {
	changes := deps.Registry.Subscribe()
	syncTokens := func() {
		markets := deps.Registry.Snapshot()
		tokens := make([]string, 0, len(markets)*2)
		for _, m := range markets {
			tokens = append(tokens, m.UpToken, m.DownToken)
		}
		deps.Feed.SetTokens(tokens)
	}
	syncTokens()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changes:
			syncTokens()
		}
	}
}

// runSweepExpiredReservations periodically releases reservations that have
// outlived their TTL without a terminal execution outcome, so a stuck
// execution never permanently locks bankroll. An expired reservation is
// released with a realized delta of zero; working orders are not cancelled
// here.
func (a *App) runSweepExpiredReservations(ctx context.Context, deps *Dependencies) error {
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			for _, marketID := range deps.Risk.SweepExpiredReservations() {
				a.logger.WarnContext(ctx, "reservation expired without resolution",
					slog.String("market_id", marketID),
				)
				if err := deps.Risk.Release(marketID, 0); err != nil {
					a.logger.ErrorContext(ctx, "release of expired reservation failed",
						slog.String("market_id", marketID), slog.String("error", err.Error()))
				}
			}
		}
	}
}
