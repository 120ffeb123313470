package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tpotp2p/internal/config"
)

// USDT TRC20 contract, a well-known base58check/hex pair.
const (
	usdtTronBase58 = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
	usdtTronHex    = "a614f803b6fd780986a42c78ec9c7f77e6ded13c"
)

func TestTronAddressRoundTrip(t *testing.T) {
	hex20, err := TronToHex20(usdtTronBase58)
	require.NoError(t, err)
	assert.Equal(t, usdtTronHex, hex20)

	addr, err := TronFromHex20(usdtTronHex)
	require.NoError(t, err)
	assert.Equal(t, usdtTronBase58, addr)

	// Version-prefixed and 0x forms decode to the same address.
	addr, err = TronFromHex20("41" + usdtTronHex)
	require.NoError(t, err)
	assert.Equal(t, usdtTronBase58, addr)

	addr, err = TronFromHex20("0x" + usdtTronHex)
	require.NoError(t, err)
	assert.Equal(t, usdtTronBase58, addr)
}

func TestTronAddressRejectsGarbage(t *testing.T) {
	_, err := TronToHex20("not-base58-!!!")
	assert.ErrorIs(t, err, ErrBadAddress)

	_, err = TronFromHex20("zzzz")
	assert.ErrorIs(t, err, ErrBadAddress)

	_, err = TronFromHex20("a614")
	assert.ErrorIs(t, err, ErrBadAddress)

	// EVM addresses are not valid base58check.
	_, err = TronToHex20("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	assert.ErrorIs(t, err, ErrBadAddress)
}

func TestEIP55(t *testing.T) {
	// Reference vectors from the EIP.
	vectors := map[string]string{
		"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed": "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359": "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbf03b407c01e7cd3cbea99509d93f8dddc8c6fb": "0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
	}
	for in, want := range vectors {
		got, err := EIP55(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		// Checksumming is idempotent.
		again, err := EIP55(got)
		require.NoError(t, err)
		assert.Equal(t, want, again)
	}

	_, err := EIP55("0x1234")
	assert.ErrorIs(t, err, ErrBadAddress)

	_, err = EIP55("0xgggggggggggggggggggggggggggggggggggggggg")
	assert.ErrorIs(t, err, ErrBadAddress)
}

func TestTransferTopic(t *testing.T) {
	assert.Equal(t,
		"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
		transferTopic)
}

func TestValidateAddress(t *testing.T) {
	// System program id decodes to 32 zero bytes.
	got, err := ValidateAddress(config.KindSolana, "11111111111111111111111111111111")
	require.NoError(t, err)
	assert.Equal(t, "11111111111111111111111111111111", got)

	_, err = ValidateAddress(config.KindSolana, "tooshort")
	assert.ErrorIs(t, err, ErrBadAddress)

	got, err = ValidateAddress(config.KindTron, usdtTronBase58)
	require.NoError(t, err)
	assert.Equal(t, usdtTronBase58, got)

	_, err = ValidateAddress(config.KindTron, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	assert.ErrorIs(t, err, ErrBadAddress)

	// EVM addresses normalize to checksummed form.
	got, err = ValidateAddress(config.KindEVM, "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	require.NoError(t, err)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", got)

	_, err = ValidateAddress(config.ChainKind("cosmos"), "anything")
	assert.ErrorIs(t, err, ErrBadAddress)
}
