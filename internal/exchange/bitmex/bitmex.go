// Package bitmex decodes the BitMEX realtime websocket feed. The protocol is
// table oriented: every data frame names a table (trade, quote, orderBookL2,
// ...) and an action (partial, insert, update, delete). Order-level book
// state is keyed by venue order id; mutations before the table's partial are
// discarded, and mutations against unknown order ids mark the book
// inconsistent.
package bitmex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/driftlab/marketfeed/internal/book"
	"github.com/driftlab/marketfeed/internal/candle"
	"github.com/driftlab/marketfeed/internal/crypto"
	"github.com/driftlab/marketfeed/internal/domain"
	"github.com/driftlab/marketfeed/internal/exchange"
	"github.com/driftlab/marketfeed/internal/ticker"
)

const (
	// Name is the canonical venue name.
	Name = "bitmex"

	// DefaultEndpoint is the production realtime websocket.
	DefaultEndpoint = "wss://www.bitmex.com/realtime"

	authPath = "/realtime"
)

// wireChannels maps canonical channels to BitMEX table subscriptions.
// Candles have no native table and are built from the trade stream.
var wireChannels = map[domain.Channel]string{
	domain.ChannelL2Book:   "orderBook10",
	domain.ChannelL3Book:   "orderBookL2",
	domain.ChannelTrades:   "trade",
	domain.ChannelTicker:   "quote",
	domain.ChannelCandle:   "trade",
	domain.ChannelKline:    "trade",
	domain.ChannelFunding:  "funding",
	domain.ChannelOrders:   "order",
	domain.ChannelPosition: "position",
}

func channelName(ch domain.Channel) (string, error) {
	name, ok := wireChannels[ch]
	if !ok {
		return "", domain.ErrUnsupportedChannel
	}
	return name, nil
}

// Adapter implements exchange.Adapter for BitMEX.
type Adapter struct {
	opts     exchange.Options
	subs     exchange.Subscriptions
	endpoint string
	log      *slog.Logger
	emitter  *exchange.BookEmitter

	tradePairs  map[string]struct{}
	tickerPairs map[string]struct{}
	candlePairs map[string]struct{}
	candleTFs   []string

	// partial gates order-level mutations per symbol until the table
	// snapshot has been replayed.
	partial map[string]bool
	l3      map[string]*book.L3Book
	l2      map[string]*book.Book
	tickers map[string]*ticker.Aggregator
	candles map[string]*candle.Constructor
}

// New validates opts and builds the adapter. No network activity happens
// here; the connection manager dials Endpoint and replays SubscribeFrames.
func New(opts exchange.Options) (*Adapter, error) {
	subs, err := opts.Validate(Name, channelName)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	a := &Adapter{
		opts:        opts,
		subs:        subs,
		endpoint:    opts.Endpoint,
		log:         log.With(slog.String("component", "bitmex")),
		emitter:     exchange.NewBookEmitter(Name, opts.BookInterval, opts.Handlers),
		tradePairs:  pairSet(subs[domain.ChannelTrades]),
		tickerPairs: pairSet(subs[domain.ChannelTicker]),
		partial:     make(map[string]bool),
		l3:          make(map[string]*book.L3Book),
		l2:          make(map[string]*book.Book),
		tickers:     make(map[string]*ticker.Aggregator),
		candles:     make(map[string]*candle.Constructor),
	}
	if a.endpoint == "" {
		a.endpoint = DefaultEndpoint
	}
	if len(opts.Timeframes) > 0 && (subs.Has(domain.ChannelCandle) || subs.Has(domain.ChannelKline)) {
		a.candleTFs = opts.Timeframes
		a.candlePairs = pairSet(append(subs[domain.ChannelCandle], subs[domain.ChannelKline]...))
	}
	return a, nil
}

func pairSet(pairs []string) map[string]struct{} {
	set := make(map[string]struct{}, len(pairs))
	for _, p := range pairs {
		set[p] = struct{}{}
	}
	return set
}

func (a *Adapter) Name() string     { return Name }
func (a *Adapter) Endpoint() string { return a.endpoint }

// SubscribeFrames returns the auth frame (when credentials are configured)
// followed by a single subscribe request covering every table.
func (a *Adapter) SubscribeFrames() ([][]byte, error) {
	var frames [][]byte
	if a.opts.APIKey != "" && a.opts.APISecret != "" {
		frame, err := a.authFrame()
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}

	argSet := make(map[string]struct{})
	for ch, pairs := range a.subs {
		wire := wireChannels[ch]
		for _, pair := range pairs {
			sym, err := a.opts.Info.ExchangeSymbol(pair)
			if err != nil {
				return nil, err
			}
			argSet[wire+":"+sym] = struct{}{}
		}
	}
	// The ticker's last price comes off the trade table.
	for _, pair := range a.subs[domain.ChannelTicker] {
		sym, err := a.opts.Info.ExchangeSymbol(pair)
		if err != nil {
			return nil, err
		}
		argSet["trade:"+sym] = struct{}{}
	}

	args := make([]string, 0, len(argSet))
	for arg := range argSet {
		args = append(args, arg)
	}
	sort.Strings(args)

	anyArgs := make([]any, len(args))
	for i, arg := range args {
		anyArgs[i] = arg
	}
	payload, err := json.Marshal(subscribeRequest{Op: "subscribe", Args: anyArgs})
	if err != nil {
		return nil, err
	}
	return append(frames, payload), nil
}

// authFrame builds the authKeyExpires request. The signature is the hex
// HMAC-SHA256 of "GET" + path + expires under the API secret.
func (a *Adapter) authFrame() ([]byte, error) {
	expires := time.Now().Add(30 * time.Second).Unix()
	sig := crypto.SignExpires(a.opts.APISecret, "GET", authPath, expires)
	return json.Marshal(subscribeRequest{
		Op:   "authKeyExpires",
		Args: []any{a.opts.APIKey, expires, sig},
	})
}

// HandleMessage decodes one frame. Control frames (welcome, subscribe acks,
// venue errors) are logged; table frames drive book, ticker, and candle
// state.
func (a *Adapter) HandleMessage(ctx context.Context, raw []byte) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("bitmex: decode frame: %w", err)
	}

	switch {
	case env.Table != "":
		return a.handleTable(ctx, &env)
	case env.Error != "":
		a.log.Error("venue error",
			slog.String("error", env.Error),
			slog.Int("status", env.Status),
		)
	case env.Success != nil:
		if *env.Success {
			a.log.Debug("subscribed", slog.String("channel", env.Subscribe))
		} else {
			a.log.Error("subscription rejected", slog.String("channel", env.Subscribe))
		}
	case env.Info != nil:
		a.log.Info("welcome received")
	default:
		a.log.Debug("unhandled frame", slog.String("raw", string(raw)))
	}
	return nil
}

func (a *Adapter) handleTable(ctx context.Context, env *envelope) error {
	switch env.Table {
	case "trade":
		return a.handleTrades(ctx, env.Data)
	case "quote":
		return a.handleQuotes(env.Data)
	case "orderBook10":
		return a.handleBook10(env.Data)
	case "orderBookL2":
		return a.handleBookL2(env.Action, env.Data)
	case "funding":
		return a.handleFunding(env.Data)
	case "order":
		return a.handleOrders(env.Data)
	case "position":
		return a.handlePositions(env.Data)
	default:
		a.log.Debug("unhandled table", slog.String("table", env.Table))
		return nil
	}
}

func (a *Adapter) handleTrades(ctx context.Context, data json.RawMessage) error {
	var rows []tradeRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("bitmex: decode trades: %w", err)
	}
	for _, row := range rows {
		pair, ok := a.pairFor(row.Symbol)
		if !ok {
			continue
		}
		a.applyTrade(ctx, pair, domain.Trade{
			Venue:     Name,
			Symbol:    pair,
			Side:      sideOf(row.Side),
			Amount:    row.Size,
			Price:     row.Price,
			Timestamp: parseTime(row.Timestamp),
		})
	}
	return nil
}

// applyTrade fans a trade out to the trade handler, the ticker aggregator,
// and the candle constructors, each gated on its own subscription.
func (a *Adapter) applyTrade(ctx context.Context, pair string, t domain.Trade) {
	if _, ok := a.tradePairs[pair]; ok {
		a.opts.Handlers.EmitTrade(t)
	}
	if _, ok := a.tickerPairs[pair]; ok {
		a.aggFor(pair).OnTrade(t.Price)
	}
	if _, ok := a.candlePairs[pair]; ok {
		for _, tf := range a.candleTFs {
			if c := a.candleFor(ctx, pair, tf); c != nil {
				c.OnTrade(t.Price, t.Amount)
			}
		}
	}
}

func (a *Adapter) handleQuotes(data json.RawMessage) error {
	var rows []quoteRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("bitmex: decode quotes: %w", err)
	}
	for _, row := range rows {
		pair, ok := a.pairFor(row.Symbol)
		if !ok {
			continue
		}
		if _, want := a.tickerPairs[pair]; want {
			a.aggFor(pair).OnQuote(row.BidPrice, row.AskPrice)
		}
	}
	return nil
}

func (a *Adapter) handleBook10(data json.RawMessage) error {
	var rows []book10Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("bitmex: decode orderBook10: %w", err)
	}
	for _, row := range rows {
		pair, ok := a.pairFor(row.Symbol)
		if !ok {
			continue
		}
		b := a.l2[pair]
		if b == nil {
			b = book.New()
			a.l2[pair] = b
		}
		b.ApplySnapshot(domain.Buy, levels(row.Bids))
		b.ApplySnapshot(domain.Sell, levels(row.Asks))
		b.Forced()
		b.TakeChanges()

		// Every orderBook10 frame is a full snapshot, so the delta
		// throttle never applies here.
		a.opts.Handlers.EmitBook(domain.BookSnapshot{
			Venue:     Name,
			Symbol:    pair,
			Bids:      b.Bids(),
			Asks:      b.Asks(),
			Timestamp: parseTime(row.Timestamp),
		})
	}
	return nil
}

func levels(raw [][]float64) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) < 2 {
			continue
		}
		out = append(out, domain.PriceLevel{Price: lvl[0], Size: lvl[1]})
	}
	return out
}

func (a *Adapter) handleBookL2(action string, data json.RawMessage) error {
	var rows []bookL2Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("bitmex: decode orderBookL2: %w", err)
	}

	touched := make(map[string]struct{})
	snapped := make(map[string]struct{})
	for _, row := range rows {
		pair, ok := a.pairFor(row.Symbol)
		if !ok {
			continue
		}
		id := strconv.FormatInt(row.ID, 10)

		switch action {
		case "partial":
			b := a.l3Book(pair)
			if _, done := snapped[pair]; !done {
				b.BeginSnapshot()
				snapped[pair] = struct{}{}
				a.partial[pair] = true
			}
			b.Insert(sideOf(row.Side), id, row.Price, row.Size)
			touched[pair] = struct{}{}
		case "insert":
			if !a.partial[pair] {
				continue
			}
			a.l3Book(pair).Insert(sideOf(row.Side), id, row.Price, row.Size)
			touched[pair] = struct{}{}
		case "update":
			if !a.partial[pair] {
				continue
			}
			if _, err := a.l3Book(pair).Update(id, row.Size); err != nil {
				return fmt.Errorf("bitmex: %s: %w", pair, err)
			}
			touched[pair] = struct{}{}
		case "delete":
			if !a.partial[pair] {
				continue
			}
			if _, err := a.l3Book(pair).Delete(id); err != nil {
				return fmt.Errorf("bitmex: %s: %w", pair, err)
			}
			touched[pair] = struct{}{}
		default:
			a.log.Debug("unhandled book action", slog.String("action", action))
			return nil
		}
	}

	for pair := range touched {
		b := a.l3[pair]
		a.emitter.Emit(pair, b.Forced(), b.TakeChanges(), b.Bids(), b.Asks(), b.Timestamp())
	}
	return nil
}

func (a *Adapter) handleFunding(data json.RawMessage) error {
	var rows []fundingRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("bitmex: decode funding: %w", err)
	}
	for _, row := range rows {
		pair, ok := a.pairFor(row.Symbol)
		if !ok {
			continue
		}
		a.opts.Handlers.EmitFunding(domain.Funding{
			Venue:     Name,
			Symbol:    pair,
			Interval:  row.FundingInterval,
			Rate:      row.FundingRate,
			RateDaily: row.FundingRateDaily,
			Timestamp: parseTime(row.Timestamp),
		})
	}
	return nil
}

func (a *Adapter) handleOrders(data json.RawMessage) error {
	var rows []orderRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("bitmex: decode orders: %w", err)
	}
	for _, row := range rows {
		pair, ok := a.pairFor(row.Symbol)
		if !ok {
			continue
		}
		a.opts.Handlers.EmitOrder(domain.OrderUpdate{
			Venue:      Name,
			Symbol:     pair,
			OrderID:    row.OrderID,
			Price:      row.AvgPx,
			Quantity:   row.CumQty,
			IsFilled:   row.OrdStatus == "Filled",
			IsCanceled: row.OrdStatus == "Canceled",
		})
	}
	return nil
}

func (a *Adapter) handlePositions(data json.RawMessage) error {
	var rows []positionRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("bitmex: decode positions: %w", err)
	}
	for _, row := range rows {
		pair, ok := a.pairFor(row.Symbol)
		if !ok {
			continue
		}
		a.opts.Handlers.EmitPosition(domain.Position{
			Venue:            Name,
			Symbol:           pair,
			EntryPrice:       row.AvgEntryPrice,
			Cost:             row.SimpleCost,
			Quantity:         row.SimpleQty,
			PnLPercent:       row.SimplePnlPcnt,
			MarkPrice:        row.MarkPrice,
			LiquidationPrice: row.LiquidationPrice,
			Timestamp:        parseTime(row.Timestamp),
		})
	}
	return nil
}

// Reset drops per-connection state so a reconnect rebuilds books from the
// fresh partials. Candle constructors and ticker state survive reconnects.
func (a *Adapter) Reset() {
	a.partial = make(map[string]bool)
	a.l3 = make(map[string]*book.L3Book)
	a.l2 = make(map[string]*book.Book)
	a.emitter.Reset()
}

// Close stops every candle window timer.
func (a *Adapter) Close() {
	for _, c := range a.candles {
		c.Close()
	}
}

func (a *Adapter) l3Book(pair string) *book.L3Book {
	b := a.l3[pair]
	if b == nil {
		b = book.NewL3()
		a.l3[pair] = b
	}
	return b
}

func (a *Adapter) aggFor(pair string) *ticker.Aggregator {
	agg := a.tickers[pair]
	if agg == nil {
		agg = ticker.NewAggregator(Name, pair, a.opts.Handlers)
		a.tickers[pair] = agg
	}
	return agg
}

// candleFor lazily creates the constructor for one (pair, timeframe),
// seeding it from the last persisted bar when a seeder is configured.
func (a *Adapter) candleFor(ctx context.Context, pair, tf string) *candle.Constructor {
	key := pair + "@" + tf
	if c, ok := a.candles[key]; ok {
		return c
	}

	var seed *domain.Candle
	if a.opts.Seeder != nil {
		last, err := a.opts.Seeder.LastCandle(ctx, Name, pair, tf)
		switch {
		case err == nil:
			seed = &last
		case !errors.Is(err, domain.ErrNotFound):
			a.log.Warn("candle seed lookup failed",
				slog.String("pair", pair),
				slog.String("timeframe", tf),
				slog.String("error", err.Error()),
			)
		}
	}

	c, err := candle.New(Name, pair, tf, a.opts.Handlers, seed)
	if err != nil {
		a.log.Error("candle constructor", slog.String("error", err.Error()))
		return nil
	}
	a.candles[key] = c
	return c
}

// pairFor resolves a venue symbol back to its canonical pair. Symbols
// outside the configured set are dropped.
func (a *Adapter) pairFor(symbol string) (string, bool) {
	pair, err := a.opts.Info.Pair(symbol)
	if err != nil {
		a.log.Debug("unknown symbol", slog.String("symbol", symbol))
		return "", false
	}
	return pair, true
}

func sideOf(s string) domain.Side {
	if strings.EqualFold(s, "sell") {
		return domain.Sell
	}
	return domain.Buy
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}
