// Package router discovers the best venue for a swap. It fans a quote
// request out to both configured venues in parallel, tolerates one venue
// failing or timing out, and selects the quote with the highest effective
// price (raw price net of the venue's proportional fee).
package router

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coinexec/orderflow/internal/errs"
	"github.com/coinexec/orderflow/internal/venue"
)

// WrappedSOLMint is the canonical wrapped-SOL mint address.
const WrappedSOLMint = "So11111111111111111111111111111111111111112"

// NativeSOLSentinel is the placeholder callers may pass for the chain-native
// token; it has no pool of its own and is rewritten to the wrapped mint.
const NativeSOLSentinel = "SOL"

// Config controls quote fan-out and the native-token rewrite.
type Config struct {
	QuoteTimeout  time.Duration
	NativeToken   string
	WrappedNative string
}

// DefaultConfig returns the standard router parameters.
func DefaultConfig() Config {
	return Config{
		QuoteTimeout:  5 * time.Second,
		NativeToken:   NativeSOLSentinel,
		WrappedNative: WrappedSOLMint,
	}
}

// Router compares a fixed, ordered pair of venues. The configured order is
// the tie-break order: on equal effective prices the earlier venue wins.
type Router struct {
	venues []venue.Adapter
	cfg    Config
}

// New creates a Router over the configured venues, first venue favored on
// price ties.
func New(venues []venue.Adapter, cfg Config) *Router {
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = DefaultConfig().QuoteTimeout
	}
	if cfg.NativeToken == "" {
		cfg.NativeToken = NativeSOLSentinel
	}
	if cfg.WrappedNative == "" {
		cfg.WrappedNative = WrappedSOLMint
	}
	return &Router{venues: venues, cfg: cfg}
}

// VenueNames returns the configured venue tags in tie-break order.
func (r *Router) VenueNames() []string {
	names := make([]string, len(r.venues))
	for i, v := range r.venues {
		names[i] = v.Name()
	}
	return names
}

// Rewrite replaces the native-token sentinel with the wrapped mint. Venues
// only trade the wrapped form.
func (r *Router) Rewrite(token string) string {
	if token == r.cfg.NativeToken {
		return r.cfg.WrappedNative
	}
	return token
}

// GetQuotes asks every venue for a quote concurrently, each call bounded by
// the quote timeout. Failed or timed-out venues are dropped with a warning;
// the result preserves the configured venue order. Only when no venue
// produced a quote does it fail, with a ROUTING error.
func (r *Router) GetQuotes(ctx context.Context, tokenIn, tokenOut string, amountIn int64) ([]*venue.Quote, error) {
	tokenIn = r.Rewrite(tokenIn)
	tokenOut = r.Rewrite(tokenOut)

	results := make([]*venue.Quote, len(r.venues))
	var wg sync.WaitGroup
	for i, v := range r.venues {
		wg.Add(1)
		go func(i int, v venue.Adapter) {
			defer wg.Done()
			quoteCtx, cancel := context.WithTimeout(ctx, r.cfg.QuoteTimeout)
			defer cancel()

			q, err := v.Quote(quoteCtx, tokenIn, tokenOut, amountIn)
			if err != nil {
				log.Warn().
					Err(err).
					Str("venue", v.Name()).
					Str("tokenIn", tokenIn).
					Str("tokenOut", tokenOut).
					Int64("amountIn", amountIn).
					Msg("dropping venue from quote comparison")
				return
			}
			results[i] = q
		}(i, v)
	}
	wg.Wait()

	quotes := make([]*venue.Quote, 0, len(results))
	for _, q := range results {
		if q != nil {
			quotes = append(quotes, q)
		}
	}
	if len(quotes) == 0 {
		return nil, errs.Routing("failed to get quotes: all venues failed or timed out").
			WithContext("tokenIn", tokenIn).
			WithContext("tokenOut", tokenOut)
	}
	return quotes, nil
}

// SelectBest picks the quote with the strictly greatest effective price.
// Quotes arrive in configured venue order, so ties resolve to the earlier
// venue.
func (r *Router) SelectBest(quotes []*venue.Quote) (*venue.Quote, error) {
	if len(quotes) == 0 {
		return nil, errs.Routing("no quotes to select from")
	}

	best := quotes[0]
	for _, q := range quotes[1:] {
		if q.EffectivePrice > best.EffectivePrice {
			best = q
		}
	}

	r.logDecision(quotes, best)
	return best, nil
}

// logDecision records the full comparison: every venue's raw price, fee,
// effective price and estimated output, the winner, and the price gap.
func (r *Router) logDecision(quotes []*venue.Quote, best *venue.Quote) {
	evt := log.Info().Str("selectedVenue", best.Venue)

	runnerUp := math.Inf(-1)
	for _, q := range quotes {
		evt = evt.
			Float64(q.Venue+".rawPrice", q.RawPrice).
			Float64(q.Venue+".fee", q.Fee).
			Float64(q.Venue+".effectivePrice", q.EffectivePrice).
			Int64(q.Venue+".estimatedOutput", q.EstimatedOutput)
		if q != best && q.EffectivePrice > runnerUp {
			runnerUp = q.EffectivePrice
		}
	}
	if !math.IsInf(runnerUp, -1) {
		evt = evt.Float64("effectivePriceDelta", best.EffectivePrice-runnerUp)
	}
	evt.Int("quotesCompared", len(quotes)).Msg("routing decision")
}
