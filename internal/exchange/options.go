package exchange

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/driftlab/marketfeed/internal/candle"
	"github.com/driftlab/marketfeed/internal/domain"
	"github.com/driftlab/marketfeed/internal/markets"
)

// Options carries the construction parameters common to all adapters.
// Validation is eager: invalid combinations fail at construction, never at
// runtime.
type Options struct {
	// Pairs is the canonical pair list applied to every channel. Mutually
	// exclusive with ChannelPairs.
	Pairs []string

	// Channels is the channel list used together with Pairs.
	Channels []domain.Channel

	// ChannelPairs maps each channel to its own pair list. Mutually
	// exclusive with Pairs/Channels.
	ChannelPairs map[domain.Channel][]string

	// Timeframes enables candle construction for the given windows.
	Timeframes []string

	// Handlers receives every emitted event. Required.
	Handlers *domain.Handlers

	// Info translates canonical pairs to venue symbols. Required.
	Info markets.Info

	// Seeder, when set, provides the starting bar for resumed candle
	// windows.
	Seeder domain.CandleSeeder

	// APIKey and APISecret enable authenticated channels when both set.
	APIKey    string
	APISecret string

	// Endpoint overrides the venue's default websocket URL, for testnets
	// and tests.
	Endpoint string

	// BookInterval is the delta-throttle refresh interval; 0 uses the
	// default.
	BookInterval int

	Logger *slog.Logger
}

// Subscriptions is the validated channel→pairs table an adapter subscribes
// with, keyed by canonical channel.
type Subscriptions map[domain.Channel][]string

// Validate checks the option set against a venue's channel table and returns
// the normalized subscription map. channelName resolves a canonical channel
// to the venue channel, returning domain.ErrUnsupportedChannel for channels
// the venue does not carry.
func (o *Options) Validate(venue string, channelName func(domain.Channel) (string, error)) (Subscriptions, error) {
	if o.Handlers == nil {
		return nil, errors.New("handlers are required")
	}
	if o.Info == nil {
		return nil, errors.New("market info provider is required")
	}
	if len(o.ChannelPairs) > 0 && (len(o.Pairs) > 0 || len(o.Channels) > 0) {
		return nil, errors.New("use pairs and channels, or a per-channel pair map, not both")
	}
	if len(o.ChannelPairs) == 0 && (len(o.Pairs) == 0 || len(o.Channels) == 0) {
		return nil, errors.New("no pairs or channels configured")
	}

	subs := make(Subscriptions)
	if len(o.ChannelPairs) > 0 {
		for ch, pairs := range o.ChannelPairs {
			subs[ch] = pairs
		}
	} else {
		for _, ch := range o.Channels {
			subs[ch] = o.Pairs
		}
	}

	authed := o.APIKey != "" && o.APISecret != ""
	for ch, pairs := range subs {
		if _, err := channelName(ch); err != nil {
			return nil, fmt.Errorf("%s: channel %s: %w", venue, ch, err)
		}
		if ch.Authenticated() && !authed {
			// Missing credentials only disable authenticated channels;
			// public channels still function.
			delete(subs, ch)
			if o.Logger != nil {
				o.Logger.Warn("skipping authenticated channel without credentials",
					slog.String("venue", venue),
					slog.String("channel", string(ch)),
				)
			}
			continue
		}
		for _, pair := range pairs {
			if _, err := o.Info.ExchangeSymbol(pair); err != nil {
				return nil, fmt.Errorf("%s: %w", venue, err)
			}
		}
	}

	for _, tf := range o.Timeframes {
		if _, err := candle.ParseTimeframe(tf); err != nil {
			return nil, fmt.Errorf("%s: %w", venue, err)
		}
	}

	return subs, nil
}

// AllPairs returns the union of the subscription pair lists.
func (s Subscriptions) AllPairs() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, pairs := range s {
		for _, p := range pairs {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				out = append(out, p)
			}
		}
	}
	return out
}

// Has reports whether the channel survived validation.
func (s Subscriptions) Has(ch domain.Channel) bool {
	_, ok := s[ch]
	return ok
}
