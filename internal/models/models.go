package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPendingEscrow    OrderStatus = "pending_escrow"
	OrderEscrowConfirmed  OrderStatus = "escrow_confirmed"
	OrderMatched          OrderStatus = "matched"
	OrderPaymentSubmitted OrderStatus = "payment_submitted"
	OrderPaymentConfirmed OrderStatus = "payment_confirmed"
	OrderAmountMismatch   OrderStatus = "amount_mismatch"
	OrderReleasing        OrderStatus = "releasing"
	OrderCompleted        OrderStatus = "completed"
	OrderCancelled        OrderStatus = "cancelled"
	OrderDisputed         OrderStatus = "disputed"
)

// Terminal reports whether no further transition may leave the status.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderCompleted, OrderCancelled:
		return true
	}
	return false
}

// Cancellable statuses are everything before the release lock is taken.
func (s OrderStatus) Cancellable() bool {
	switch s {
	case OrderPendingEscrow, OrderEscrowConfirmed, OrderMatched, OrderAmountMismatch:
		return true
	}
	return false
}

type OrderType string

const (
	OrderTypeBuy  OrderType = "buy"
	OrderTypeSell OrderType = "sell"
)

// Order is the central entity of the escrow desk. The maker deposits
// platform tokens into the platform escrow account; the taker pays USDT to
// the maker's payment address on the order's bound payment chain. All
// monetary fields are fixed-point decimals; settlement never touches floats.
type Order struct {
	ID       string
	ParentID *string
	Type     OrderType
	Status   OrderStatus

	Maker         string
	MakerNickname string
	PaymentChain  string
	PayAddress    string
	Taker         *string
	TakerNickname *string

	TokenAmount decimal.Decimal
	Price       decimal.Decimal
	QuoteAmount decimal.Decimal
	FeeRate     decimal.Decimal
	Fee         decimal.Decimal
	NetReceived decimal.Decimal
	MinQuote    decimal.Decimal
	MaxQuote    decimal.Decimal

	EscrowTxHash      *string
	EscrowConfirmedAt *time.Time

	PaymentTxHash         *string
	PaymentSubmittedAt    *time.Time
	PaymentDetectedAmount *decimal.Decimal
	PaymentConfirmedAt    *time.Time

	PaymentTimeout time.Duration

	CreatedAt   time.Time
	ExpiresAt   time.Time
	TakenAt     *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
	UpdatedAt   time.Time
}

// Participant reports whether wallet is the maker or the bound taker.
func (o *Order) Participant(wallet string) bool {
	if wallet == o.Maker {
		return true
	}
	return o.Taker != nil && *o.Taker == wallet
}

type User struct {
	Wallet         string
	Nickname       string
	TotalTrades    int
	CompletionRate decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PaymentAddress binds a user's USDT receiving address to one payment chain.
// Unique per (wallet, chain); mutable only while the user has zero orders in
// a non-terminal state.
type PaymentAddress struct {
	Wallet    string
	Chain     string
	Address   string
	UpdatedAt time.Time
}

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageSystem MessageType = "system"
)

// Message is append-only order chat; system entries double as the audit
// trail of state transitions.
type Message struct {
	ID        string
	OrderID   string
	Sender    string
	Content   string
	Type      MessageType
	CreatedAt time.Time
}

type MarketStats struct {
	TotalOrders  int64
	ActiveOrders int64
	TotalVolume  decimal.Decimal
}
