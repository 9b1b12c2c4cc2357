// Package venue defines the adapter contract for a liquidity source: a venue
// answers quote requests and performs swaps. Two implementations exist, the
// deterministic fake (package fake) and the HTTP client for live venues
// (package httpapi); both are wrapped by the circuit-breaker decorator at
// construction time.
package venue

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Quote is one venue's answer for a token pair and input amount.
type Quote struct {
	Venue           string  `json:"venue"`
	RawPrice        float64 `json:"rawPrice"`
	Fee             float64 `json:"fee"`
	EffectivePrice  float64 `json:"effectivePrice"`
	EstimatedOutput int64   `json:"estimatedOutput"`
	PoolID          string  `json:"poolId"`
}

// SwapParams carries everything a venue needs to execute a swap. Token
// identifiers are post-rewrite (native sentinel already replaced by the
// wrapped mint).
type SwapParams struct {
	Venue        string `json:"venue"`
	TokenIn      string `json:"tokenIn"`
	TokenOut     string `json:"tokenOut"`
	AmountIn     int64  `json:"amountIn"`
	MinAmountOut int64  `json:"minAmountOut"`
	PoolID       string `json:"poolId"`
}

// SwapResult is the venue's report of an executed swap. AmountOut is
// guaranteed by the venue to be at least SwapParams.MinAmountOut.
type SwapResult struct {
	TxHash        string    `json:"txHash"`
	ExecutedPrice float64   `json:"executedPrice"`
	AmountIn      int64     `json:"amountIn"`
	AmountOut     int64     `json:"amountOut"`
	FeeAmount     int64     `json:"feeAmount"`
	Timestamp     time.Time `json:"timestamp"`
}

// Adapter is the venue contract. Both calls may fail; Swap fails with a
// slippage-exceeded signal when the produced output would fall below
// MinAmountOut.
type Adapter interface {
	Name() string
	Quote(ctx context.Context, tokenIn, tokenOut string, amountIn int64) (*Quote, error)
	Swap(ctx context.Context, params *SwapParams) (*SwapResult, error)
}

// ErrSlippageExceeded is the typed slippage-breach signal. Adapters wrap it;
// the executor translates it into an EXECUTION-kind pipeline error.
var ErrSlippageExceeded = errors.New("slippage tolerance exceeded: output below minimum")

// IsSlippageExceeded detects a slippage breach either by the typed sentinel
// or by the venue's message.
func IsSlippageExceeded(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSlippageExceeded) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "slippage")
}
