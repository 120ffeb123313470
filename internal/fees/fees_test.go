package fees

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name        string
		tokenAmount string
		price       string
		feeRate     string
		quote       string
		fee         string
		net         string
	}{
		{
			name:        "standard one percent",
			tokenAmount: "10000",
			price:       "0.5",
			feeRate:     "0.01",
			quote:       "5000.00",
			fee:         "100",
			net:         "9900",
		},
		{
			name:        "fee floors at token precision",
			tokenAmount: "333.333333",
			price:       "1.5",
			feeRate:     "0.01",
			quote:       "499.99",
			fee:         "3.333333",
			net:         "330.000000",
		},
		{
			name:        "zero fee rate",
			tokenAmount: "100",
			price:       "2",
			feeRate:     "0",
			quote:       "200.00",
			fee:         "0",
			net:         "100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Compute(d(tt.tokenAmount), d(tt.price), d(tt.feeRate), 6, 2)
			require.NoError(t, err)
			assert.True(t, b.QuoteAmount.Equal(d(tt.quote)), "quote: got %s", b.QuoteAmount)
			assert.True(t, b.Fee.Equal(d(tt.fee)), "fee: got %s", b.Fee)
			assert.True(t, b.NetReceived.Equal(d(tt.net)), "net: got %s", b.NetReceived)
		})
	}
}

func TestComputeConservation(t *testing.T) {
	// fee + netReceived must reconstruct the escrowed amount exactly for
	// awkward fractional inputs too.
	amounts := []string{"10000", "0.000001", "333.333333", "987654.321987", "1"}
	for _, a := range amounts {
		b, err := Compute(d(a), d("0.731"), d("0.0125"), 6, 2)
		require.NoError(t, err)
		assert.True(t, b.Fee.Add(b.NetReceived).Equal(d(a)),
			"amount %s: fee %s + net %s", a, b.Fee, b.NetReceived)
	}
}

func TestComputeRejectsBadInput(t *testing.T) {
	_, err := Compute(d("0"), d("1"), d("0.01"), 6, 2)
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	_, err = Compute(d("-5"), d("1"), d("0.01"), 6, 2)
	assert.ErrorIs(t, err, ErrNonPositiveAmount)

	_, err = Compute(d("10"), d("0"), d("0.01"), 6, 2)
	assert.ErrorIs(t, err, ErrNonPositivePrice)

	_, err = Compute(d("10"), d("1"), d("-0.01"), 6, 2)
	assert.ErrorIs(t, err, ErrNegativeFeeRate)
}

func TestValidateLimits(t *testing.T) {
	assert.NoError(t, ValidateLimits(d("10"), d("100"), d("100")))
	assert.NoError(t, ValidateLimits(d("100"), d("100"), d("100")))

	assert.ErrorIs(t, ValidateLimits(d("0"), d("100"), d("100")), ErrInvalidLimits)
	assert.ErrorIs(t, ValidateLimits(d("50"), d("40"), d("100")), ErrInvalidLimits)
	assert.ErrorIs(t, ValidateLimits(d("10"), d("200"), d("100")), ErrInvalidLimits)
}

func TestTokensForQuote(t *testing.T) {
	tokens, err := TokensForQuote(d("5000"), d("0.5"), 6)
	require.NoError(t, err)
	assert.True(t, tokens.Equal(d("10000")), "got %s", tokens)

	// Floors, never rounds up past the available escrow.
	tokens, err = TokensForQuote(d("100"), d("3"), 6)
	require.NoError(t, err)
	assert.True(t, tokens.Equal(d("33.333333")), "got %s", tokens)

	_, err = TokensForQuote(d("100"), d("0"), 6)
	assert.ErrorIs(t, err, ErrNonPositivePrice)

	_, err = TokensForQuote(d("0"), d("1"), 6)
	assert.ErrorIs(t, err, ErrNonPositiveAmount)
}
