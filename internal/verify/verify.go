package verify

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tpotp2p/internal/chain"
	"tpotp2p/internal/models"
)

// Code classifies a verification outcome.
type Code string

const (
	CodeOK                  Code = "ok"
	CodeTransactionNotFound Code = "transaction_not_found"
	CodeTransactionFailed   Code = "transaction_failed"
	CodeWrongSender         Code = "wrong_sender"
	CodeWrongReceiver       Code = "wrong_receiver"
	CodeWrongToken          Code = "wrong_token"
	CodeInsufficientAmount  Code = "insufficient_amount"
	CodeAmountMismatch      Code = "amount_mismatch"
)

// Result is an ephemeral value object; the lifecycle controller folds it
// into the order's evidence fields, it is never persisted on its own.
type Result struct {
	OK       bool
	Code     Code
	Amount   decimal.Decimal
	Sender   string
	Receiver string
}

// Engine applies matching rules to chain lookups. It holds no mutable state
// and performs no writes, so the same hash can be verified any number of
// times before the controller commits a transition.
type Engine struct {
	registry *chain.Registry

	escrowChainID string
	escrowAccount string
	tokenMint     string
	tolerance     decimal.Decimal

	logger *zap.Logger
}

func NewEngine(registry *chain.Registry, escrowChainID, escrowAccount, tokenMint string, tolerance decimal.Decimal, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		registry:      registry,
		escrowChainID: escrowChainID,
		escrowAccount: escrowAccount,
		tokenMint:     tokenMint,
		tolerance:     tolerance,
		logger:        logger,
	}
}

// VerifyEscrow checks that txHash deposited at least
// order.TokenAmount * (1 - tolerance) of the platform token from the maker
// into the platform escrow account.
func (e *Engine) VerifyEscrow(ctx context.Context, order *models.Order, txHash string) (Result, error) {
	adapter, err := e.registry.Get(e.escrowChainID)
	if err != nil {
		return Result{}, err
	}
	info, err := adapter.FetchTransfer(ctx, txHash)
	if errors.Is(err, chain.ErrTxNotFound) {
		return Result{Code: CodeTransactionNotFound}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("escrow lookup: %w", err)
	}
	if !info.Success {
		return Result{Code: CodeTransactionFailed, Sender: info.Sender}, nil
	}
	if info.Sender != order.Maker {
		return Result{Code: CodeWrongSender, Sender: info.Sender}, nil
	}

	credited, found, wrongToken := creditedAmount(info, e.escrowAccount, e.tokenMint)
	if !found {
		if wrongToken {
			return Result{Code: CodeWrongToken, Sender: info.Sender}, nil
		}
		return Result{Code: CodeWrongReceiver, Sender: info.Sender}, nil
	}

	minRequired := order.TokenAmount.Mul(decimal.NewFromInt(1).Sub(e.tolerance))
	if credited.LessThan(minRequired) {
		e.logger.Info("escrow amount below tolerance",
			zap.String("order_id", order.ID),
			zap.String("detected", credited.String()),
			zap.String("min_required", minRequired.String()))
		return Result{Code: CodeInsufficientAmount, Amount: credited, Sender: info.Sender}, nil
	}

	return Result{
		OK:       true,
		Code:     CodeOK,
		Amount:   credited,
		Sender:   info.Sender,
		Receiver: e.escrowAccount,
	}, nil
}

// VerifyPayment checks that txHash paid exactly the expected quote amount of
// USDT to the maker's payment address on the order's bound chain. The sender
// is recorded but never validated; buyers are not pre-registered wallets in
// the payment-chain namespace. Equality is exact: stablecoin transfers are
// deterministic and "close enough" has no principled threshold.
func (e *Engine) VerifyPayment(ctx context.Context, order *models.Order, txHash string) (Result, error) {
	adapter, err := e.registry.Get(order.PaymentChain)
	if err != nil {
		return Result{}, err
	}
	info, err := adapter.FetchTransfer(ctx, txHash)
	if errors.Is(err, chain.ErrTxNotFound) {
		return Result{Code: CodeTransactionNotFound}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("payment lookup: %w", err)
	}
	if !info.Success {
		return Result{Code: CodeTransactionFailed, Sender: info.Sender}, nil
	}

	paid, found, wrongToken := creditedAmount(info, order.PayAddress, "")
	if !found {
		if wrongToken {
			return Result{Code: CodeWrongToken, Sender: info.Sender}, nil
		}
		return Result{Code: CodeWrongReceiver, Sender: info.Sender}, nil
	}

	if !paid.Equal(order.QuoteAmount) {
		return Result{Code: CodeAmountMismatch, Amount: paid, Sender: info.Sender, Receiver: order.PayAddress}, nil
	}
	return Result{
		OK:       true,
		Code:     CodeOK,
		Amount:   paid,
		Sender:   info.Sender,
		Receiver: order.PayAddress,
	}, nil
}

// creditedAmount sums transfers credited to receiver, optionally requiring a
// specific token identity. Reports whether any transfer reached the receiver
// and whether the only candidates carried the wrong token.
func creditedAmount(info *chain.TxInfo, receiver, token string) (decimal.Decimal, bool, bool) {
	total := decimal.Zero
	found := false
	wrongToken := false
	for _, t := range info.Transfers {
		if t.Receiver != receiver {
			continue
		}
		if token != "" && t.Token != token {
			wrongToken = true
			continue
		}
		total = total.Add(t.Amount)
		found = true
	}
	return total, found, wrongToken && !found
}
