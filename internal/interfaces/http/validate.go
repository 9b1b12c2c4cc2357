package http

import (
	"encoding/json"
	"strings"

	"github.com/coinexec/orderflow/internal/errs"
)

// Submission is the first client frame on the order stream. Amount stays
// a json.Number until validation so non-integral and non-finite inputs
// fail the amount rule instead of the decoder.
type Submission struct {
	TokenIn  string      `json:"tokenIn"`
	TokenOut string      `json:"tokenOut"`
	Amount   json.Number `json:"amount"`
	Slippage *float64    `json:"slippage"`
}

// Validated is a submission that passed every rule, with the default
// slippage applied.
type Validated struct {
	TokenIn  string
	TokenOut string
	AmountIn int64
	Slippage float64
}

// ValidateSubmission checks every submission rule in order and returns a
// VALIDATION error carrying the first failed rule's message. It has no
// side effects; rejected submissions leave no trace.
func ValidateSubmission(s *Submission, defaultSlippage, maxSlippage float64) (*Validated, error) {
	if strings.TrimSpace(s.TokenIn) == "" {
		return nil, errs.Validation("tokenIn is required")
	}
	if strings.TrimSpace(s.TokenOut) == "" {
		return nil, errs.Validation("tokenOut is required")
	}
	if s.TokenIn == s.TokenOut {
		return nil, errs.Validation("tokenIn and tokenOut must be different")
	}

	amount, err := s.Amount.Int64()
	if err != nil || amount <= 0 {
		return nil, errs.Validation("amount must be greater than 0")
	}

	slippage := defaultSlippage
	if s.Slippage != nil {
		slippage = *s.Slippage
	}
	if slippage < 0 {
		return nil, errs.Validation("slippage must be greater than or equal to 0")
	}
	if slippage > maxSlippage {
		return nil, errs.Newf(errs.KindValidation, "slippage must not exceed %g", maxSlippage)
	}

	return &Validated{
		TokenIn:  s.TokenIn,
		TokenOut: s.TokenOut,
		AmountIn: amount,
		Slippage: slippage,
	}, nil
}
