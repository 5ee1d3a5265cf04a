package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/northbeam/binarb/internal/domain"
)

// ArbChannel is the signal-bus channel BridgeEventBus publishes every
// domain.ArbEvent onto, and the channel Hub subscribes to for live
// detector/risk/execution traffic.
const ArbChannel = "ch:arb"

// BridgeEventBus subscribes to the in-process event bus and republishes
// every event as JSON onto signalBus's ArbChannel, so anything subscribed
// to the signal bus (the WebSocket hub, or another process entirely) sees
// the same detector/risk/execution events the rest of this process reacts
// to. It runs until ctx is cancelled.
func BridgeEventBus(ctx context.Context, bus domain.EventBus, signalBus domain.SignalBus, logger *slog.Logger) error {
	events, cancel := bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-events:
			data, err := json.Marshal(evt)
			if err != nil {
				logger.ErrorContext(ctx, "ws: marshal event for signal bus failed", slog.String("error", err.Error()))
				continue
			}
			if err := signalBus.Publish(ctx, ArbChannel, data); err != nil {
				logger.WarnContext(ctx, "ws: publish event to signal bus failed", slog.String("error", err.Error()))
			}
		}
	}
}
