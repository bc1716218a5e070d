// Package exchange defines the venue adapter contract and the construction
// options shared by every adapter. An adapter decodes one venue's wire
// frames into normalized events and drives its own book, ticker, and candle
// state; the connection manager owns the socket and hands frames in.
package exchange

import "context"

// Adapter is implemented once per venue wire protocol.
type Adapter interface {
	// Name is the canonical venue name used in emitted events and logs.
	Name() string

	// Endpoint is the websocket URL to dial.
	Endpoint() string

	// SubscribeFrames returns the frames to send after the socket opens,
	// covering auth (when credentials are configured) and the channel
	// subscriptions.
	SubscribeFrames() ([][]byte, error)

	// HandleMessage decodes one inbound frame and drives adapter state.
	// A returned error wrapping domain.ErrSequenceGap or
	// domain.ErrInconsistentBook is fatal for the connection and forces a
	// reconnect; any other error is logged and the frame dropped.
	HandleMessage(ctx context.Context, raw []byte) error

	// Reset clears per-connection state (books, subscription gates,
	// sequence counters). Called before every subscribe, so reconnects
	// start from a clean baseline.
	Reset()

	// Close releases owned resources, in particular candle window timers.
	Close()
}
