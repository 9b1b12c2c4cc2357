package http

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinexec/orderflow/internal/errs"
)

func slippagePtr(v float64) *float64 { return &v }

func TestValidateSubmission_Rules(t *testing.T) {
	tests := []struct {
		name       string
		submission Submission
		wantErr    string
	}{
		{
			name:       "missing_token_in",
			submission: Submission{TokenOut: "B", Amount: json.Number("100")},
			wantErr:    "tokenIn is required",
		},
		{
			name:       "blank_token_in",
			submission: Submission{TokenIn: "   ", TokenOut: "B", Amount: json.Number("100")},
			wantErr:    "tokenIn is required",
		},
		{
			name:       "missing_token_out",
			submission: Submission{TokenIn: "A", Amount: json.Number("100")},
			wantErr:    "tokenOut is required",
		},
		{
			name:       "same_tokens",
			submission: Submission{TokenIn: "A", TokenOut: "A", Amount: json.Number("100")},
			wantErr:    "tokenIn and tokenOut must be different",
		},
		{
			name:       "zero_amount",
			submission: Submission{TokenIn: "A", TokenOut: "B", Amount: json.Number("0")},
			wantErr:    "amount must be greater than 0",
		},
		{
			name:       "negative_amount",
			submission: Submission{TokenIn: "A", TokenOut: "B", Amount: json.Number("-5")},
			wantErr:    "amount must be greater than 0",
		},
		{
			name:       "fractional_amount",
			submission: Submission{TokenIn: "A", TokenOut: "B", Amount: json.Number("1.5")},
			wantErr:    "amount must be greater than 0",
		},
		{
			name:       "absent_amount",
			submission: Submission{TokenIn: "A", TokenOut: "B"},
			wantErr:    "amount must be greater than 0",
		},
		{
			name:       "negative_slippage",
			submission: Submission{TokenIn: "A", TokenOut: "B", Amount: json.Number("100"), Slippage: slippagePtr(-0.01)},
			wantErr:    "slippage must be greater than or equal to 0",
		},
		{
			name:       "slippage_over_max",
			submission: Submission{TokenIn: "A", TokenOut: "B", Amount: json.Number("100"), Slippage: slippagePtr(0.06)},
			wantErr:    "slippage must not exceed 0.05",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ValidateSubmission(&tt.submission, 0.005, 0.05)
			require.Error(t, err)
			assert.Nil(t, v)
			assert.Equal(t, tt.wantErr, err.Error())
			assert.True(t, errs.IsKind(err, errs.KindValidation))
			assert.False(t, errs.Retryable(err))
		})
	}
}

func TestValidateSubmission_AppliesDefaultSlippage(t *testing.T) {
	v, err := ValidateSubmission(&Submission{
		TokenIn:  "A",
		TokenOut: "B",
		Amount:   json.Number("1000000"),
	}, 0.005, 0.05)

	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), v.AmountIn)
	assert.InDelta(t, 0.005, v.Slippage, 1e-9)
}

func TestValidateSubmission_KeepsExplicitSlippage(t *testing.T) {
	v, err := ValidateSubmission(&Submission{
		TokenIn:  "A",
		TokenOut: "B",
		Amount:   json.Number("1000000"),
		Slippage: slippagePtr(0.01),
	}, 0.005, 0.05)

	require.NoError(t, err)
	assert.InDelta(t, 0.01, v.Slippage, 1e-9)
}

func TestValidateSubmission_ZeroSlippageIsValid(t *testing.T) {
	v, err := ValidateSubmission(&Submission{
		TokenIn:  "A",
		TokenOut: "B",
		Amount:   json.Number("100"),
		Slippage: slippagePtr(0),
	}, 0.005, 0.05)

	require.NoError(t, err)
	assert.Zero(t, v.Slippage)
}
