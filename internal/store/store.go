package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tpotp2p/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrActiveOrders guards payment-address changes: the address is frozen
	// while the user has any order in a non-terminal state.
	ErrActiveOrders = errors.New("user has active orders")
)

// OrderFilter selects orders for listing. Zero values mean "any".
type OrderFilter struct {
	Status       []models.OrderStatus
	Type         models.OrderType
	PaymentChain string
	Participant  string
	Limit        int
	Offset       int
}

// OrderUpdate carries the target status plus whichever evidence fields the
// transition records. Nil fields are left untouched.
type OrderUpdate struct {
	Status models.OrderStatus

	Taker         *string
	TakerNickname *string
	TakenAt       *time.Time

	EscrowTxHash      *string
	EscrowConfirmedAt *time.Time

	PaymentTxHash         *string
	PaymentSubmittedAt    *time.Time
	PaymentDetectedAmount *decimal.Decimal
	PaymentConfirmedAt    *time.Time

	CompletedAt *time.Time
	CancelledAt *time.Time
}

// ParentReduction is the remaining economics of a partially filled order
// after a sub-order is carved out of it.
type ParentReduction struct {
	TokenAmount decimal.Decimal
	QuoteAmount decimal.Decimal
	Fee         decimal.Decimal
	NetReceived decimal.Decimal
	MinQuote    decimal.Decimal
	MaxQuote    decimal.Decimal
}

// Store owns durability. Every status transition goes through
// CompareAndSetStatus so concurrent writers serialize on the stored status.
type Store interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]*models.Order, error)

	// CompareAndSetStatus applies upd only if the stored status equals
	// expected, reporting whether the write took effect.
	CompareAndSetStatus(ctx context.Context, id string, expected models.OrderStatus, upd OrderUpdate) (bool, error)

	// SpawnSubOrder atomically reduces the parent's remaining amounts and
	// inserts the child, both guarded on the parent's expected status.
	SpawnSubOrder(ctx context.Context, parentID string, expected models.OrderStatus, reduce ParentReduction, child *models.Order) (bool, error)

	AppendMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, orderID string) ([]*models.Message, error)

	GetUser(ctx context.Context, wallet string) (*models.User, error)
	UpsertUser(ctx context.Context, user *models.User) error
	GetPaymentAddress(ctx context.Context, wallet, chainID string) (*models.PaymentAddress, error)
	ListPaymentAddresses(ctx context.Context, wallet string) ([]*models.PaymentAddress, error)
	// UpsertPaymentAddress fails with ErrActiveOrders while the user is
	// party to any non-terminal order.
	UpsertPaymentAddress(ctx context.Context, wallet, chainID, address string) error

	MarketStats(ctx context.Context) (*models.MarketStats, error)
}
