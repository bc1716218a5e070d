package domain

// TradeHandler is called for every normalized trade.
type TradeHandler func(Trade)

// TickerHandler is called when a ticker refresh is emitted.
type TickerHandler func(Ticker)

// BookHandler is called with a full book view after a snapshot (forced) or
// when the delta throttle elapses.
type BookHandler func(BookSnapshot)

// BookDeltaHandler is called with incremental book changes.
type BookDeltaHandler func(BookDelta)

// CandleHandler is called for candle bars; live and finalized bars are
// delivered through separately registered handlers.
type CandleHandler func(Candle)

// FundingHandler is called for funding rate updates.
type FundingHandler func(Funding)

// OrderHandler is called for authenticated order updates.
type OrderHandler func(OrderUpdate)

// PositionHandler is called for authenticated position updates.
type PositionHandler func(Position)

// Handlers bundles the caller-supplied callbacks for one venue connection.
// Nil entries are skipped. Handlers must not block: the connection manager
// dispatches frames on a single goroutine per venue.
type Handlers struct {
	Trade     TradeHandler
	Ticker    TickerHandler
	Book      BookHandler
	BookDelta BookDeltaHandler
	Candle    CandleHandler
	Kline     CandleHandler
	Funding   FundingHandler
	Order     OrderHandler
	Position  PositionHandler
}

// WantsDeltas reports whether a delta consumer is registered, which enables
// the book-delta emission path and its full-book throttling.
func (h *Handlers) WantsDeltas() bool {
	return h.BookDelta != nil
}

func (h *Handlers) EmitTrade(t Trade) {
	if h.Trade != nil {
		h.Trade(t)
	}
}

func (h *Handlers) EmitTicker(t Ticker) {
	if h.Ticker != nil {
		h.Ticker(t)
	}
}

func (h *Handlers) EmitBook(b BookSnapshot) {
	if h.Book != nil {
		h.Book(b)
	}
}

func (h *Handlers) EmitBookDelta(d BookDelta) {
	if h.BookDelta != nil {
		h.BookDelta(d)
	}
}

func (h *Handlers) EmitCandle(c Candle) {
	if h.Candle != nil {
		h.Candle(c)
	}
}

func (h *Handlers) EmitKline(c Candle) {
	if h.Kline != nil {
		h.Kline(c)
	}
}

func (h *Handlers) EmitFunding(f Funding) {
	if h.Funding != nil {
		h.Funding(f)
	}
}

func (h *Handlers) EmitOrder(o OrderUpdate) {
	if h.Order != nil {
		h.Order(o)
	}
}

func (h *Handlers) EmitPosition(p Position) {
	if h.Position != nil {
		h.Position(p)
	}
}
