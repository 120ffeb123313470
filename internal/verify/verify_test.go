package verify

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tpotp2p/internal/chain"
	"tpotp2p/internal/models"
)

const (
	escrowAccount = "EscrowAcct"
	tokenMint     = "TPOT"
	makerWallet   = "MakerWallet"
	payAddress    = "TMakerUSDTAddr"
)

type fakeAdapter struct {
	id  string
	txs map[string]*chain.TxInfo
	err error
}

func (f *fakeAdapter) ChainID() string { return f.id }

func (f *fakeAdapter) FetchTransfer(_ context.Context, txHash string) (*chain.TxInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	info, ok := f.txs[txHash]
	if !ok {
		return nil, chain.ErrTxNotFound
	}
	return info, nil
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newEngine(t *testing.T, escrow *fakeAdapter, payment *fakeAdapter) *Engine {
	t.Helper()
	registry := chain.NewRegistry()
	registry.Register(escrow)
	if payment != nil {
		registry.Register(payment)
	}
	return NewEngine(registry, escrow.id, escrowAccount, tokenMint, d("0.01"), nil)
}

func escrowOrder() *models.Order {
	return &models.Order{
		ID:           "ord-1",
		Maker:        makerWallet,
		PaymentChain: "tron",
		PayAddress:   payAddress,
		TokenAmount:  d("10000"),
		QuoteAmount:  d("5000.00"),
	}
}

func credit(sender, receiver, token, amount string) *chain.TxInfo {
	return &chain.TxInfo{
		Success: true,
		Sender:  sender,
		Transfers: []chain.Transfer{
			{Receiver: receiver, Token: token, Amount: d(amount)},
		},
	}
}

func TestVerifyEscrow(t *testing.T) {
	tests := []struct {
		name   string
		info   *chain.TxInfo
		ok     bool
		code   Code
		amount string
	}{
		{
			name:   "exact deposit",
			info:   credit(makerWallet, escrowAccount, tokenMint, "10000"),
			ok:     true,
			code:   CodeOK,
			amount: "10000",
		},
		{
			name:   "within one percent tolerance",
			info:   credit(makerWallet, escrowAccount, tokenMint, "9950"),
			ok:     true,
			code:   CodeOK,
			amount: "9950",
		},
		{
			name: "below tolerance",
			info: credit(makerWallet, escrowAccount, tokenMint, "9800"),
			code: CodeInsufficientAmount,
		},
		{
			name: "failed on chain",
			info: &chain.TxInfo{Success: false, Sender: makerWallet},
			code: CodeTransactionFailed,
		},
		{
			name: "wrong sender",
			info: credit("SomeoneElse", escrowAccount, tokenMint, "10000"),
			code: CodeWrongSender,
		},
		{
			name: "wrong receiver",
			info: credit(makerWallet, "NotEscrow", tokenMint, "10000"),
			code: CodeWrongReceiver,
		},
		{
			name: "wrong token",
			info: credit(makerWallet, escrowAccount, "OTHER", "10000"),
			code: CodeWrongToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := &fakeAdapter{id: "solana", txs: map[string]*chain.TxInfo{"tx1": tt.info}}
			engine := newEngine(t, adapter, nil)

			res, err := engine.VerifyEscrow(context.Background(), escrowOrder(), "tx1")
			require.NoError(t, err)
			assert.Equal(t, tt.ok, res.OK)
			assert.Equal(t, tt.code, res.Code)
			if tt.amount != "" {
				assert.True(t, res.Amount.Equal(d(tt.amount)), "got %s", res.Amount)
			}
		})
	}
}

func TestVerifyEscrowSumsSplitCredits(t *testing.T) {
	// Two legs to the same escrow account count together.
	info := &chain.TxInfo{
		Success: true,
		Sender:  makerWallet,
		Transfers: []chain.Transfer{
			{Receiver: escrowAccount, Token: tokenMint, Amount: d("6000")},
			{Receiver: escrowAccount, Token: tokenMint, Amount: d("4000")},
		},
	}
	adapter := &fakeAdapter{id: "solana", txs: map[string]*chain.TxInfo{"tx1": info}}
	engine := newEngine(t, adapter, nil)

	res, err := engine.VerifyEscrow(context.Background(), escrowOrder(), "tx1")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.True(t, res.Amount.Equal(d("10000")))
}

func TestVerifyEscrowNotFound(t *testing.T) {
	adapter := &fakeAdapter{id: "solana", txs: map[string]*chain.TxInfo{}}
	engine := newEngine(t, adapter, nil)

	res, err := engine.VerifyEscrow(context.Background(), escrowOrder(), "missing")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, CodeTransactionNotFound, res.Code)
}

func TestVerifyEscrowUnavailable(t *testing.T) {
	adapter := &fakeAdapter{id: "solana", err: chain.ErrUnavailable}
	engine := newEngine(t, adapter, nil)

	_, err := engine.VerifyEscrow(context.Background(), escrowOrder(), "tx1")
	assert.ErrorIs(t, err, chain.ErrUnavailable)
}

func TestVerifyPayment(t *testing.T) {
	tests := []struct {
		name   string
		info   *chain.TxInfo
		ok     bool
		code   Code
		amount string
	}{
		{
			name:   "exact amount",
			info:   credit("AnyPayer", payAddress, "USDT", "5000.00"),
			ok:     true,
			code:   CodeOK,
			amount: "5000.00",
		},
		{
			name:   "one cent short is a mismatch",
			info:   credit("AnyPayer", payAddress, "USDT", "4999.99"),
			code:   CodeAmountMismatch,
			amount: "4999.99",
		},
		{
			name:   "overpayment is a mismatch too",
			info:   credit("AnyPayer", payAddress, "USDT", "5000.01"),
			code:   CodeAmountMismatch,
			amount: "5000.01",
		},
		{
			name: "wrong receiver",
			info: credit("AnyPayer", "SomeOtherAddr", "USDT", "5000.00"),
			code: CodeWrongReceiver,
		},
		{
			name: "failed on chain",
			info: &chain.TxInfo{Success: false, Sender: "AnyPayer"},
			code: CodeTransactionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			escrow := &fakeAdapter{id: "solana"}
			payment := &fakeAdapter{id: "tron", txs: map[string]*chain.TxInfo{"pay1": tt.info}}
			engine := newEngine(t, escrow, payment)

			res, err := engine.VerifyPayment(context.Background(), escrowOrder(), "pay1")
			require.NoError(t, err)
			assert.Equal(t, tt.ok, res.OK)
			assert.Equal(t, tt.code, res.Code)
			if tt.amount != "" {
				assert.True(t, res.Amount.Equal(d(tt.amount)), "got %s", res.Amount)
			}
		})
	}
}

func TestVerifyPaymentRecordsSender(t *testing.T) {
	// The payer wallet is whatever signed the transfer; it is recorded for
	// the audit trail but never matched against the taker.
	escrow := &fakeAdapter{id: "solana"}
	payment := &fakeAdapter{id: "tron", txs: map[string]*chain.TxInfo{
		"pay1": credit("TUnknownThirdParty", payAddress, "USDT", "5000.00"),
	}}
	engine := newEngine(t, escrow, payment)

	res, err := engine.VerifyPayment(context.Background(), escrowOrder(), "pay1")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "TUnknownThirdParty", res.Sender)
}
