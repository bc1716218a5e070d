package domain

import "errors"

var (
	// ErrInconsistentBook signals a mutation against an order id the book
	// does not know about. The book is desynchronized and must be rebuilt
	// from a fresh snapshot.
	ErrInconsistentBook = errors.New("inconsistent order book")

	// ErrSequenceGap signals a missing increment in a venue-provided
	// sequence counter. Messages were lost; a full resubscribe is required.
	ErrSequenceGap = errors.New("sequence gap")

	// ErrReconnectRequested signals that the venue asked the client to
	// reconnect (maintenance, protocol restart).
	ErrReconnectRequested = errors.New("venue requested reconnect")

	ErrUnsupportedChannel = errors.New("channel not supported on venue")
	ErrUnknownSymbol      = errors.New("unknown symbol")
	ErrConnClosed         = errors.New("connection closed")
	ErrRetriesExhausted   = errors.New("reconnect retries exhausted")
	ErrNotFound           = errors.New("not found")
)

// IsDesync reports whether err is a protocol desync that must force a
// reconnect and resubscribe rather than be absorbed.
func IsDesync(err error) bool {
	return errors.Is(err, ErrInconsistentBook) ||
		errors.Is(err, ErrSequenceGap) ||
		errors.Is(err, ErrReconnectRequested)
}
