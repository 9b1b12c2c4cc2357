// Package httpapi implements the venue adapter against a live swap API. The
// venue exposes a quote endpoint and a swap endpoint; requests are
// authenticated with the configured signing key and throttled by a token
// bucket.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/coinexec/orderflow/internal/venue"
)

// Config holds the venue client configuration.
type Config struct {
	Name           string
	BaseURL        string
	SigningKey     string
	RequestTimeout time.Duration
	RateLimitRPS   float64
	UserAgent      string
}

// Client talks to one live venue over HTTP.
type Client struct {
	name       string
	baseURL    string
	signingKey string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a venue client, filling unset config fields with
// defaults.
func NewClient(config Config) *Client {
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 10 * time.Second
	}
	if config.RateLimitRPS == 0 {
		config.RateLimitRPS = 5.0
	}
	if config.UserAgent == "" {
		config.UserAgent = "orderflow/1.0"
	}

	burst := int(math.Ceil(config.RateLimitRPS))
	if burst < 1 {
		burst = 1
	}

	return &Client{
		name:       config.Name,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		signingKey: config.SigningKey,
		userAgent:  config.UserAgent,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimitRPS), burst),
	}
}

// Name returns the venue tag.
func (c *Client) Name() string {
	return c.name
}

type quoteResponse struct {
	Price   float64 `json:"price"`
	FeeRate float64 `json:"feeRate"`
	PoolID  string  `json:"poolId"`
}

// Quote asks the venue to price the pair for the given input amount.
func (c *Client) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn int64) (*venue.Quote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	params := url.Values{}
	params.Set("inputMint", tokenIn)
	params.Set("outputMint", tokenOut)
	params.Set("amount", strconv.FormatInt(amountIn, 10))

	body, err := c.makeRequest(ctx, http.MethodGet, fmt.Sprintf("%s/v1/quote?%s", c.baseURL, params.Encode()), nil)
	if err != nil {
		return nil, fmt.Errorf("venue %s quote failed: %w", c.name, err)
	}

	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal quote response: %w", err)
	}
	if resp.Price <= 0 {
		return nil, fmt.Errorf("venue %s returned non-positive price %v", c.name, resp.Price)
	}

	return &venue.Quote{
		Venue:           c.name,
		RawPrice:        resp.Price,
		Fee:             resp.FeeRate,
		EffectivePrice:  resp.Price * (1 - resp.FeeRate),
		EstimatedOutput: int64(math.Floor(float64(amountIn) * resp.Price)),
		PoolID:          resp.PoolID,
	}, nil
}

type swapRequest struct {
	InputMint    string `json:"inputMint"`
	OutputMint   string `json:"outputMint"`
	Amount       int64  `json:"amount"`
	MinAmountOut int64  `json:"minAmountOut"`
	PoolID       string `json:"poolId,omitempty"`
}

type swapResponse struct {
	TxHash        string  `json:"txHash"`
	ExecutedPrice float64 `json:"executedPrice"`
	AmountIn      int64   `json:"amountIn"`
	AmountOut     int64   `json:"amountOut"`
	FeeAmount     int64   `json:"feeAmount"`
}

// Swap submits the swap with the caller's output floor. A venue rejection
// that names slippage is surfaced as the typed slippage-exceeded signal.
func (c *Client) Swap(ctx context.Context, p *venue.SwapParams) (*venue.SwapResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	payload, err := json.Marshal(swapRequest{
		InputMint:    p.TokenIn,
		OutputMint:   p.TokenOut,
		Amount:       p.AmountIn,
		MinAmountOut: p.MinAmountOut,
		PoolID:       p.PoolID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal swap request: %w", err)
	}

	body, err := c.makeRequest(ctx, http.MethodPost, c.baseURL+"/v1/swap", bytes.NewReader(payload))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "slippage") {
			return nil, fmt.Errorf("venue %s: %w: %v", c.name, venue.ErrSlippageExceeded, err)
		}
		return nil, fmt.Errorf("venue %s swap failed: %w", c.name, err)
	}

	var resp swapResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal swap response: %w", err)
	}
	if resp.TxHash == "" {
		return nil, fmt.Errorf("venue %s returned no transaction hash", c.name)
	}

	return &venue.SwapResult{
		TxHash:        resp.TxHash,
		ExecutedPrice: resp.ExecutedPrice,
		AmountIn:      resp.AmountIn,
		AmountOut:     resp.AmountOut,
		FeeAmount:     resp.FeeAmount,
		Timestamp:     time.Now().UTC(),
	}, nil
}

func (c *Client) makeRequest(ctx context.Context, method, requestURL string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.signingKey != "" {
		req.Header.Set("X-API-Key", c.signingKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}
