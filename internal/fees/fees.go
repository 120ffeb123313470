package fees

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrNonPositiveAmount = errors.New("token amount must be positive")
	ErrNonPositivePrice  = errors.New("price must be positive")
	ErrNegativeFeeRate   = errors.New("fee rate must not be negative")
	ErrInvalidLimits     = errors.New("limits must satisfy 0 < min <= max <= quote amount")
)

// Breakdown is the server-computed economics of an order. The platform never
// trusts client-supplied derived fields; every order stamps a Breakdown
// recomputed from (tokenAmount, price, feeRate).
type Breakdown struct {
	QuoteAmount decimal.Decimal
	Fee         decimal.Decimal
	NetReceived decimal.Decimal
}

// Compute derives quote amount, fee and net received using fixed-point
// arithmetic. The fee is floored at tokenDecimals so that
// fee + netReceived == tokenAmount holds exactly.
func Compute(tokenAmount, price, feeRate decimal.Decimal, tokenDecimals, quoteDecimals int32) (Breakdown, error) {
	if !tokenAmount.IsPositive() {
		return Breakdown{}, ErrNonPositiveAmount
	}
	if !price.IsPositive() {
		return Breakdown{}, ErrNonPositivePrice
	}
	if feeRate.IsNegative() {
		return Breakdown{}, ErrNegativeFeeRate
	}

	fee := tokenAmount.Mul(feeRate).RoundDown(tokenDecimals)
	return Breakdown{
		QuoteAmount: tokenAmount.Mul(price).RoundDown(quoteDecimals),
		Fee:         fee,
		NetReceived: tokenAmount.Sub(fee),
	}, nil
}

// ValidateLimits enforces 0 < min <= max <= quote for take limits.
func ValidateLimits(minQuote, maxQuote, quoteAmount decimal.Decimal) error {
	if !minQuote.IsPositive() {
		return ErrInvalidLimits
	}
	if minQuote.GreaterThan(maxQuote) {
		return ErrInvalidLimits
	}
	if maxQuote.GreaterThan(quoteAmount) {
		return ErrInvalidLimits
	}
	return nil
}

// TokensForQuote converts a taken quote amount back into tokens at the
// order's price, floored at the token's precision. Used when a partial fill
// spawns a sub-order.
func TokensForQuote(quoteAmount, price decimal.Decimal, tokenDecimals int32) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, ErrNonPositivePrice
	}
	tokens := quoteAmount.DivRound(price, tokenDecimals+4).RoundDown(tokenDecimals)
	if !tokens.IsPositive() {
		return decimal.Zero, ErrNonPositiveAmount
	}
	return tokens, nil
}
