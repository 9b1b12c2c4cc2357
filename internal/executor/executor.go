// Package executor turns a chosen quote into a swap. It computes the
// minimum acceptable output from the quote and the caller's slippage
// tolerance, dispatches to the venue that produced the quote, and translates
// venue failures into classified pipeline errors. It never retries; the
// worker's retry policy owns that decision.
package executor

import (
	"context"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/coinexec/orderflow/internal/errs"
	"github.com/coinexec/orderflow/internal/venue"
)

// Config bounds the slippage tolerance.
type Config struct {
	DefaultSlippage float64
	MaxSlippage     float64
}

// DefaultConfig returns the standard slippage bounds.
func DefaultConfig() Config {
	return Config{
		DefaultSlippage: 0.005,
		MaxSlippage:     0.05,
	}
}

// Executor dispatches swaps to the venue matching the selected quote.
type Executor struct {
	venues map[string]venue.Adapter
	cfg    Config
}

// New creates an Executor over the given adapters.
func New(adapters []venue.Adapter, cfg Config) *Executor {
	if cfg.MaxSlippage <= 0 {
		cfg.MaxSlippage = DefaultConfig().MaxSlippage
	}
	if cfg.DefaultSlippage <= 0 {
		cfg.DefaultSlippage = DefaultConfig().DefaultSlippage
	}
	venues := make(map[string]venue.Adapter, len(adapters))
	for _, a := range adapters {
		venues[a.Name()] = a
	}
	return &Executor{venues: venues, cfg: cfg}
}

// MinAmountOut floors the estimated output reduced by the slippage
// tolerance. Flooring is mandatory: fractional smallest-unit tokens do not
// exist.
func MinAmountOut(estimatedOutput int64, slippage float64) int64 {
	return int64(math.Floor(float64(estimatedOutput) * (1 - slippage)))
}

// ResolveSlippage substitutes the configured default for a nil tolerance and
// validates the bound.
func (e *Executor) ResolveSlippage(slippage *float64) (float64, error) {
	s := e.cfg.DefaultSlippage
	if slippage != nil {
		s = *slippage
	}
	if s < 0 {
		return 0, errs.Validation("slippage must be greater than or equal to 0")
	}
	if s > e.cfg.MaxSlippage {
		return 0, errs.Newf(errs.KindValidation, "slippage must not exceed %g", e.cfg.MaxSlippage)
	}
	return s, nil
}

// ExecuteSwap performs the swap behind the quote under the slippage bound.
// Token identifiers must already be rewritten (wrapped mint, not the native
// sentinel).
func (e *Executor) ExecuteSwap(ctx context.Context, quote *venue.Quote, tokenIn, tokenOut string, amountIn int64, slippage *float64) (*venue.SwapResult, error) {
	s, err := e.ResolveSlippage(slippage)
	if err != nil {
		return nil, err
	}

	adapter, ok := e.venues[quote.Venue]
	if !ok {
		return nil, errs.Newf(errs.KindExecution, "no adapter for venue %s", quote.Venue).
			WithContext("venue", quote.Venue)
	}

	params := &venue.SwapParams{
		Venue:        quote.Venue,
		TokenIn:      tokenIn,
		TokenOut:     tokenOut,
		AmountIn:     amountIn,
		MinAmountOut: MinAmountOut(quote.EstimatedOutput, s),
		PoolID:       quote.PoolID,
	}

	log.Debug().
		Str("venue", params.Venue).
		Int64("amountIn", params.AmountIn).
		Int64("estimatedOutput", quote.EstimatedOutput).
		Float64("slippage", s).
		Int64("minAmountOut", params.MinAmountOut).
		Msg("executing swap")

	result, err := adapter.Swap(ctx, params)
	if err != nil {
		if venue.IsSlippageExceeded(err) {
			return nil, errs.Wrap(errs.KindExecution, err, "swap failed on venue "+quote.Venue+": slippage exceeded").
				WithContext("venue", quote.Venue).
				WithContext("minAmountOut", params.MinAmountOut)
		}
		return nil, errs.From(err).WithContext("venue", quote.Venue)
	}

	realizedSlippage := 0.0
	if quote.EstimatedOutput > 0 {
		realizedSlippage = float64(quote.EstimatedOutput-result.AmountOut) / float64(quote.EstimatedOutput)
	}
	log.Info().
		Str("venue", quote.Venue).
		Str("txHash", result.TxHash).
		Int64("amountOut", result.AmountOut).
		Float64("executedPrice", result.ExecutedPrice).
		Float64("realizedSlippage", realizedSlippage).
		Msg("swap executed")

	return result, nil
}
