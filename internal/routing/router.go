// Package routing provides order-routing collaborators for the risk engine.
//
// A Router accepts order intents and reports acceptance, rejection, and
// fills asynchronously on its Updates channel. Submit must return quickly:
// the engine treats submission as fire-and-forget and never blocks a
// monitor's tick processing on routing I/O.
package routing

import (
	"context"

	"dealdesk/internal/model"
)

// Router is the full order-routing contract: engine.OrderRouter plus the
// asynchronous update stream.
type Router interface {
	// Submit hands off an intent and returns the assigned order id.
	Submit(ctx context.Context, intent model.OrderIntent) (string, error)

	// Cancel requests cancellation of an open order.
	Cancel(ctx context.Context, orderID string) error

	// Updates streams order lifecycle events, in the order they occur.
	Updates() <-chan model.OrderUpdate
}
