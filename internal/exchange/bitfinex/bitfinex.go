// Package bitfinex decodes the Bitfinex v2 websocket feed. Every data frame
// is an array prefixed with a channel id assigned by the subscribe ack, so
// the adapter keeps a live channel table per connection. Sequencing is
// enabled with the SEQ_ALL conf flag; a non-consecutive sequence number
// means frames were lost and the connection must be rebuilt.
package bitfinex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/driftlab/marketfeed/internal/book"
	"github.com/driftlab/marketfeed/internal/domain"
	"github.com/driftlab/marketfeed/internal/exchange"
)

const (
	// Name is the canonical venue name.
	Name = "bitfinex"

	// DefaultEndpoint is the production v2 websocket.
	DefaultEndpoint = "wss://api.bitfinex.com/ws/2"

	// flagSeqAll makes the venue append a sequence number to every frame.
	flagSeqAll = 65536

	defaultTimeframe = "1m"
)

// Info codes that require the client to drop and redial.
const (
	codeRestart         = 20051
	codeMaintenanceEnd  = 20061
	codeMaintenanceSoon = 20060
)

var supported = map[domain.Channel]string{
	domain.ChannelL2Book:  "book",
	domain.ChannelL3Book:  "book",
	domain.ChannelTrades:  "trades",
	domain.ChannelTicker:  "ticker",
	domain.ChannelCandle:  "candles",
	domain.ChannelKline:   "candles",
	domain.ChannelFunding: "trades",
}

func channelName(ch domain.Channel) (string, error) {
	name, ok := supported[ch]
	if !ok {
		return "", domain.ErrUnsupportedChannel
	}
	return name, nil
}

// subscription is one live channel as registered by its subscribe ack.
type subscription struct {
	channel   domain.Channel
	pair      string
	timeframe string
	funding   bool
}

// Adapter implements exchange.Adapter for Bitfinex.
type Adapter struct {
	opts     exchange.Options
	subs     exchange.Subscriptions
	endpoint string
	log      *slog.Logger
	emitter  *exchange.BookEmitter

	timeframes []string

	chans   map[int64]*subscription
	lastSeq int64
	seqSeen bool

	l2 map[string]*book.Book
	l3 map[string]*book.L3Book

	// lastBar tracks the in-progress candle per (pair, timeframe); a new
	// window timestamp finalizes the previous bar.
	lastBar map[string]domain.Candle
}

// New validates opts and builds the adapter.
func New(opts exchange.Options) (*Adapter, error) {
	subs, err := opts.Validate(Name, channelName)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	tfs := opts.Timeframes
	if len(tfs) == 0 {
		tfs = []string{defaultTimeframe}
	}

	a := &Adapter{
		opts:       opts,
		subs:       subs,
		endpoint:   opts.Endpoint,
		log:        log.With(slog.String("component", "bitfinex")),
		emitter:    exchange.NewBookEmitter(Name, opts.BookInterval, opts.Handlers),
		timeframes: tfs,
		chans:      make(map[int64]*subscription),
		l2:         make(map[string]*book.Book),
		l3:         make(map[string]*book.L3Book),
		lastBar:    make(map[string]domain.Candle),
	}
	if a.endpoint == "" {
		a.endpoint = DefaultEndpoint
	}
	return a, nil
}

func (a *Adapter) Name() string     { return Name }
func (a *Adapter) Endpoint() string { return a.endpoint }

// SubscribeFrames returns the conf frame enabling sequence numbers followed
// by one subscribe request per channel and symbol.
func (a *Adapter) SubscribeFrames() ([][]byte, error) {
	var frames [][]byte
	conf, err := json.Marshal(subscribeRequest{Event: "conf", Flags: flagSeqAll})
	if err != nil {
		return nil, err
	}
	frames = append(frames, conf)

	add := func(req subscribeRequest) error {
		payload, err := json.Marshal(req)
		if err != nil {
			return err
		}
		frames = append(frames, payload)
		return nil
	}

	for _, pair := range a.subs[domain.ChannelL2Book] {
		sym, err := a.opts.Info.ExchangeSymbol(pair)
		if err != nil {
			return nil, err
		}
		if err := add(subscribeRequest{Event: "subscribe", Channel: "book", Symbol: sym, Prec: "P0", Freq: "F0", Len: "100"}); err != nil {
			return nil, err
		}
	}
	for _, pair := range a.subs[domain.ChannelL3Book] {
		sym, err := a.opts.Info.ExchangeSymbol(pair)
		if err != nil {
			return nil, err
		}
		if err := add(subscribeRequest{Event: "subscribe", Channel: "book", Symbol: sym, Prec: "R0", Len: "100"}); err != nil {
			return nil, err
		}
	}
	for _, ch := range []domain.Channel{domain.ChannelTrades, domain.ChannelFunding, domain.ChannelTicker} {
		wire := supported[ch]
		for _, pair := range a.subs[ch] {
			sym, err := a.opts.Info.ExchangeSymbol(pair)
			if err != nil {
				return nil, err
			}
			if err := add(subscribeRequest{Event: "subscribe", Channel: wire, Symbol: sym}); err != nil {
				return nil, err
			}
		}
	}

	seen := make(map[string]struct{})
	for _, ch := range []domain.Channel{domain.ChannelCandle, domain.ChannelKline} {
		for _, pair := range a.subs[ch] {
			sym, err := a.opts.Info.ExchangeSymbol(pair)
			if err != nil {
				return nil, err
			}
			for _, tf := range a.timeframes {
				key := "trade:" + tf + ":" + sym
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				if err := add(subscribeRequest{Event: "subscribe", Channel: "candles", Key: key}); err != nil {
					return nil, err
				}
			}
		}
	}

	return frames, nil
}

// HandleMessage decodes one frame. Object frames are protocol events;
// array frames carry channel data.
func (a *Adapter) HandleMessage(ctx context.Context, raw []byte) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '[' {
		return a.handleData(trimmed)
	}
	return a.handleEvent(trimmed)
}

func (a *Adapter) handleEvent(raw []byte) error {
	var ev event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("bitfinex: decode event: %w", err)
	}

	switch ev.Event {
	case "info":
		switch ev.Code {
		case codeRestart, codeMaintenanceEnd:
			return fmt.Errorf("bitfinex: info code %d: %w", ev.Code, domain.ErrReconnectRequested)
		case codeMaintenanceSoon:
			a.log.Warn("venue entering maintenance")
		default:
			a.log.Info("connected", slog.Int("version", ev.Version))
		}
	case "subscribed":
		return a.registerChannel(&ev)
	case "unsubscribed":
		delete(a.chans, ev.ChanID)
	case "conf":
		a.log.Debug("conf ack", slog.String("status", ev.Status))
	case "error":
		a.log.Error("venue error",
			slog.String("message", ev.Msg),
			slog.Int("code", ev.Code),
		)
	default:
		a.log.Debug("unhandled event", slog.String("event", ev.Event))
	}
	return nil
}

// registerChannel records the channel id assigned by a subscribe ack.
func (a *Adapter) registerChannel(ev *event) error {
	sub := &subscription{}
	switch ev.Channel {
	case "trades":
		sub.funding = strings.HasPrefix(ev.Symbol, "f")
		if sub.funding {
			sub.channel = domain.ChannelFunding
		} else {
			sub.channel = domain.ChannelTrades
		}
		pair, err := a.opts.Info.Pair(ev.Symbol)
		if err != nil {
			return fmt.Errorf("bitfinex: subscribe ack: %w", err)
		}
		sub.pair = pair
	case "ticker":
		pair, err := a.opts.Info.Pair(ev.Symbol)
		if err != nil {
			return fmt.Errorf("bitfinex: subscribe ack: %w", err)
		}
		sub.channel = domain.ChannelTicker
		sub.pair = pair
	case "book":
		pair, err := a.opts.Info.Pair(ev.Symbol)
		if err != nil {
			return fmt.Errorf("bitfinex: subscribe ack: %w", err)
		}
		sub.pair = pair
		if ev.Prec == "R0" {
			sub.channel = domain.ChannelL3Book
		} else {
			sub.channel = domain.ChannelL2Book
		}
	case "candles":
		// Key layout: trade:<timeframe>:<symbol>.
		parts := strings.SplitN(ev.Key, ":", 3)
		if len(parts) != 3 {
			return fmt.Errorf("bitfinex: malformed candle key %q", ev.Key)
		}
		pair, err := a.opts.Info.Pair(parts[2])
		if err != nil {
			return fmt.Errorf("bitfinex: subscribe ack: %w", err)
		}
		sub.channel = domain.ChannelCandle
		sub.pair = pair
		sub.timeframe = parts[1]
	default:
		a.log.Debug("unhandled subscription", slog.String("channel", ev.Channel))
		return nil
	}

	a.chans[ev.ChanID] = sub
	a.log.Debug("channel registered",
		slog.Int64("chan_id", ev.ChanID),
		slog.String("channel", string(sub.channel)),
		slog.String("pair", sub.pair),
	)
	return nil
}

func (a *Adapter) handleData(raw []byte) error {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return fmt.Errorf("bitfinex: decode data frame: %w", err)
	}
	if len(elems) < 2 {
		return fmt.Errorf("bitfinex: short data frame: %s", raw)
	}

	var chanID int64
	if err := json.Unmarshal(elems[0], &chanID); err != nil {
		return fmt.Errorf("bitfinex: channel id: %w", err)
	}

	// With SEQ_ALL active the last element of every frame is the sequence
	// number. The check runs before payload handling so gaps surface even
	// on heartbeats and unknown channels.
	if len(elems) >= 3 {
		var seq int64
		if err := json.Unmarshal(elems[len(elems)-1], &seq); err == nil {
			if err := a.checkSeq(seq); err != nil {
				return err
			}
			elems = elems[:len(elems)-1]
		}
	}

	payload := elems[1]
	if bytes.Equal(payload, []byte(`"hb"`)) {
		return nil
	}

	sub := a.chans[chanID]
	if sub == nil {
		a.log.Debug("data for unknown channel", slog.Int64("chan_id", chanID))
		return nil
	}

	// Trade updates name their kind: "te" executed, "tu" has the trade id
	// backfilled (a duplicate of the earlier te), f-prefixed for funding.
	var kind string
	if err := json.Unmarshal(payload, &kind); err == nil {
		switch kind {
		case "te", "fte":
			if len(elems) < 3 {
				return fmt.Errorf("bitfinex: trade update without body")
			}
			return a.handleTradeRow(sub, elems[2])
		case "tu", "ftu":
			return nil
		default:
			a.log.Debug("unhandled update kind", slog.String("kind", kind))
			return nil
		}
	}

	switch sub.channel {
	case domain.ChannelTrades, domain.ChannelFunding:
		return a.handleTradeSnapshot(sub, payload)
	case domain.ChannelTicker:
		return a.handleTicker(sub, payload)
	case domain.ChannelL2Book:
		return a.handleBookP0(sub, payload)
	case domain.ChannelL3Book:
		return a.handleBookR0(sub, payload)
	case domain.ChannelCandle:
		return a.handleCandles(sub, payload)
	}
	return nil
}

// checkSeq enforces that sequence numbers increase by exactly one.
func (a *Adapter) checkSeq(seq int64) error {
	if a.seqSeen && seq != a.lastSeq+1 {
		return fmt.Errorf("bitfinex: expected seq %d, got %d: %w", a.lastSeq+1, seq, domain.ErrSequenceGap)
	}
	a.lastSeq = seq
	a.seqSeen = true
	return nil
}

func (a *Adapter) handleTradeSnapshot(sub *subscription, payload json.RawMessage) error {
	var rows []json.RawMessage
	if err := json.Unmarshal(payload, &rows); err != nil {
		return fmt.Errorf("bitfinex: decode trade snapshot: %w", err)
	}
	// Snapshot rows arrive newest first; replay oldest first.
	for i := len(rows) - 1; i >= 0; i-- {
		if err := a.handleTradeRow(sub, rows[i]); err != nil {
			return err
		}
	}
	return nil
}

// handleTradeRow emits one trade or funding trade. Spot rows are
// [id, mts, amount, price]; funding rows are [id, mts, amount, rate, period].
// The sign of amount encodes the side.
func (a *Adapter) handleTradeRow(sub *subscription, row json.RawMessage) error {
	vals, err := floats(row)
	if err != nil {
		return fmt.Errorf("bitfinex: decode trade row: %w", err)
	}
	if len(vals) < 4 {
		return fmt.Errorf("bitfinex: short trade row: %s", row)
	}

	ts := time.UnixMilli(int64(vals[1])).UTC()
	amount := vals[2]

	if sub.funding {
		if len(vals) < 5 {
			return fmt.Errorf("bitfinex: short funding row: %s", row)
		}
		a.opts.Handlers.EmitFunding(domain.Funding{
			Venue:     Name,
			Symbol:    sub.pair,
			Interval:  strconv.Itoa(int(vals[4])) + "d",
			Rate:      vals[3],
			Timestamp: ts,
		})
		return nil
	}

	a.opts.Handlers.EmitTrade(domain.Trade{
		Venue:     Name,
		Symbol:    sub.pair,
		Side:      sideOf(amount),
		Amount:    math.Abs(amount),
		Price:     vals[3],
		Timestamp: ts,
	})
	return nil
}

// handleTicker emits directly: the venue ticker already carries bid, ask,
// and last in one frame.
func (a *Adapter) handleTicker(sub *subscription, payload json.RawMessage) error {
	vals, err := floats(payload)
	if err != nil {
		return fmt.Errorf("bitfinex: decode ticker: %w", err)
	}
	if len(vals) < 10 {
		return fmt.Errorf("bitfinex: short ticker: %s", payload)
	}
	a.opts.Handlers.EmitTicker(domain.Ticker{
		Venue:     Name,
		Symbol:    sub.pair,
		Bid:       vals[0],
		Ask:       vals[2],
		Last:      vals[6],
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// handleBookP0 applies aggregate (L2) book frames. Rows are
// [price, count, amount]: count is the number of resting orders at the
// level, a zero count deletes it, and the sign of amount picks the side.
func (a *Adapter) handleBookP0(sub *subscription, payload json.RawMessage) error {
	b := a.l2[sub.pair]
	if b == nil {
		b = book.New()
		a.l2[sub.pair] = b
	}

	rows, delta, err := splitRows(payload)
	if err != nil {
		return fmt.Errorf("bitfinex: decode book: %w", err)
	}

	if !delta {
		var bids, asks []domain.PriceLevel
		for _, row := range rows {
			vals, err := floats(row)
			if err != nil || len(vals) < 3 {
				return fmt.Errorf("bitfinex: bad book row: %s", row)
			}
			lvl := domain.PriceLevel{Price: vals[0], Size: math.Abs(vals[2])}
			if vals[2] > 0 {
				bids = append(bids, lvl)
			} else {
				asks = append(asks, lvl)
			}
		}
		b.ApplySnapshot(domain.Buy, bids)
		b.ApplySnapshot(domain.Sell, asks)
	} else {
		vals, err := floats(payload)
		if err != nil || len(vals) < 3 {
			return fmt.Errorf("bitfinex: bad book delta: %s", payload)
		}
		price, count, amount := vals[0], vals[1], vals[2]
		size := math.Abs(amount)
		if count == 0 {
			size = 0
		}
		b.ApplyDelta(sideOf(amount), price, size)
	}

	a.emitter.Emit(sub.pair, b.Forced(), b.TakeChanges(), b.Bids(), b.Asks(), b.Timestamp())
	return nil
}

// handleBookR0 applies raw (order-level) book frames. Rows are
// [orderID, price, amount]; a zero price deletes the order.
func (a *Adapter) handleBookR0(sub *subscription, payload json.RawMessage) error {
	b := a.l3[sub.pair]
	if b == nil {
		b = book.NewL3()
		a.l3[sub.pair] = b
	}

	rows, delta, err := splitRows(payload)
	if err != nil {
		return fmt.Errorf("bitfinex: decode raw book: %w", err)
	}

	apply := func(row json.RawMessage) error {
		vals, err := floats(row)
		if err != nil || len(vals) < 3 {
			return fmt.Errorf("bitfinex: bad raw book row: %s", row)
		}
		id := strconv.FormatInt(int64(vals[0]), 10)
		price, amount := vals[1], vals[2]
		if price == 0 {
			if _, err := b.Delete(id); err != nil {
				return fmt.Errorf("bitfinex: %s: %w", sub.pair, err)
			}
			return nil
		}
		b.Insert(sideOf(amount), id, price, math.Abs(amount))
		return nil
	}

	if !delta {
		b.BeginSnapshot()
		for _, row := range rows {
			if err := apply(row); err != nil {
				return err
			}
		}
	} else if err := apply(payload); err != nil {
		return err
	}

	a.emitter.Emit(sub.pair, b.Forced(), b.TakeChanges(), b.Bids(), b.Asks(), b.Timestamp())
	return nil
}

// handleCandles passes venue-built bars through. The current bar updates in
// place; a new window timestamp finalizes the previous bar.
func (a *Adapter) handleCandles(sub *subscription, payload json.RawMessage) error {
	rows, delta, err := splitRows(payload)
	if err != nil {
		return fmt.Errorf("bitfinex: decode candles: %w", err)
	}

	var row json.RawMessage
	if delta {
		row = payload
	} else {
		if len(rows) == 0 {
			return nil
		}
		// Snapshot rows arrive newest first; only the live bar matters.
		row = rows[0]
	}

	vals, err := floats(row)
	if err != nil || len(vals) < 6 {
		return fmt.Errorf("bitfinex: bad candle row: %s", row)
	}
	bar := domain.Candle{
		Venue:     Name,
		Symbol:    sub.pair,
		Timeframe: sub.timeframe,
		Open:      vals[1],
		Close:     vals[2],
		High:      vals[3],
		Low:       vals[4],
		Volume:    vals[5],
		Timestamp: time.UnixMilli(int64(vals[0])).UTC(),
	}

	key := sub.pair + "@" + sub.timeframe
	if prev, ok := a.lastBar[key]; ok && bar.Timestamp.After(prev.Timestamp) {
		a.opts.Handlers.EmitCandle(prev)
	}
	a.lastBar[key] = bar
	a.opts.Handlers.EmitKline(bar)
	return nil
}

// Reset drops the channel table, sequence state, and books so a reconnect
// starts clean. Last-bar candle state survives to avoid re-finalizing.
func (a *Adapter) Reset() {
	a.chans = make(map[int64]*subscription)
	a.lastSeq = 0
	a.seqSeen = false
	a.l2 = make(map[string]*book.Book)
	a.l3 = make(map[string]*book.L3Book)
	a.emitter.Reset()
}

// Close is a no-op: all candle state is venue-built.
func (a *Adapter) Close() {}

// splitRows reports whether the payload is a snapshot (array of arrays) or
// a single flat row, returning the rows in the snapshot case.
func splitRows(payload json.RawMessage) (rows []json.RawMessage, delta bool, err error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(payload, &elems); err != nil {
		return nil, false, err
	}
	if len(elems) == 0 {
		return nil, false, nil
	}
	first := bytes.TrimSpace(elems[0])
	if len(first) > 0 && first[0] == '[' {
		return elems, false, nil
	}
	return nil, true, nil
}

func floats(raw json.RawMessage) ([]float64, error) {
	var vals []float64
	if err := json.Unmarshal(raw, &vals); err != nil {
		return nil, err
	}
	return vals, nil
}

// sideOf maps a signed amount to a side: positive amounts are bids.
func sideOf(amount float64) domain.Side {
	if amount < 0 {
		return domain.Sell
	}
	return domain.Buy
}
