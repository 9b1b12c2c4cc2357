// Package fake implements the venue adapter with deterministic synthetic
// pricing. It backs the `mock` venue implementation so the whole pipeline
// runs without network access, and its prices are stable across runs for a
// given venue name and token pair.
package fake

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coinexec/orderflow/internal/venue"
)

// Adapter generates quotes and swap results from a hash of the venue name
// and token pair instead of a live market.
type Adapter struct {
	name string
	seed int64

	fee      float64 // proportional venue fee, e.g. 0.0025
	spread   float64 // max deviation of the raw price around 1.0
	drift    float64 // executed-price shortfall versus the quoted raw price
	latency  time.Duration
	sequence int64
}

// NewAdapter creates a fake venue with an explicit seed.
func NewAdapter(name string, seed int64) *Adapter {
	return &Adapter{
		name:    name,
		seed:    seed,
		fee:     0.0025,
		spread:  0.05,
		drift:   0.002,
		latency: 5 * time.Millisecond,
	}
}

// NewDeterministicAdapter derives the seed from the venue name so repeated
// runs see identical prices.
func NewDeterministicAdapter(name string) *Adapter {
	hash := md5.Sum([]byte(name))
	seed := int64(binary.BigEndian.Uint64(hash[:8]) &^ (1 << 63))
	a := NewAdapter(name, seed)
	log.Info().Str("venue", name).Int64("seed", seed).Msg("created deterministic fake venue")
	return a
}

// SetFee configures the proportional fee reported on quotes.
func (a *Adapter) SetFee(fee float64) {
	a.fee = fee
}

// SetDrift configures how far the executed price falls below the quoted
// price. Raising it above the caller's slippage tolerance forces breaches.
func (a *Adapter) SetDrift(drift float64) {
	a.drift = drift
}

// SetLatency configures the simulated call latency.
func (a *Adapter) SetLatency(d time.Duration) {
	a.latency = d
}

// Name returns the venue tag.
func (a *Adapter) Name() string {
	return a.name
}

// Quote produces a deterministic quote for the pair.
func (a *Adapter) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn int64) (*venue.Quote, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}

	raw := a.rawPrice(tokenIn, tokenOut)
	q := &venue.Quote{
		Venue:           a.name,
		RawPrice:        raw,
		Fee:             a.fee,
		EffectivePrice:  raw * (1 - a.fee),
		EstimatedOutput: int64(math.Floor(float64(amountIn) * raw)),
		PoolID:          fmt.Sprintf("%s-pool-%08x", a.name, a.pairHash(tokenIn, tokenOut)&0xffffffff),
	}
	return q, nil
}

// Swap executes against the deterministic price with a small drift below the
// quote. It enforces the caller's floor the way a live venue would.
func (a *Adapter) Swap(ctx context.Context, params *venue.SwapParams) (*venue.SwapResult, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}

	raw := a.rawPrice(params.TokenIn, params.TokenOut)
	executed := raw * (1 - a.drift)
	amountOut := int64(math.Floor(float64(params.AmountIn) * executed))
	if amountOut < params.MinAmountOut {
		return nil, fmt.Errorf("venue %s: %w (got %d, need %d)",
			a.name, venue.ErrSlippageExceeded, amountOut, params.MinAmountOut)
	}

	seq := atomic.AddInt64(&a.sequence, 1)
	return &venue.SwapResult{
		TxHash:        fmt.Sprintf("%s-%016x-%d", a.name, a.pairHash(params.TokenIn, params.TokenOut), seq),
		ExecutedPrice: executed,
		AmountIn:      params.AmountIn,
		AmountOut:     amountOut,
		FeeAmount:     int64(math.Floor(float64(amountOut) * a.fee)),
		Timestamp:     time.Now().UTC(),
	}, nil
}

func (a *Adapter) wait(ctx context.Context) error {
	if a.latency <= 0 {
		return nil
	}
	timer := time.NewTimer(a.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// rawPrice maps the pair hash onto [1-spread, 1+spread] around parity.
func (a *Adapter) rawPrice(tokenIn, tokenOut string) float64 {
	h := a.pairHash(tokenIn, tokenOut)
	unit := float64(h%100_000) / 100_000 // [0, 1)
	return 1.0 + a.spread*(2*unit-1)
}

func (a *Adapter) pairHash(tokenIn, tokenOut string) uint64 {
	sum := md5.Sum([]byte(fmt.Sprintf("%d|%s|%s|%s", a.seed, a.name, tokenIn, tokenOut)))
	return binary.BigEndian.Uint64(sum[:8])
}
