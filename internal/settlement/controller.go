package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tpotp2p/internal/chain"
	"tpotp2p/internal/config"
	"tpotp2p/internal/fees"
	"tpotp2p/internal/models"
	"tpotp2p/internal/notify"
	"tpotp2p/internal/store"
	"tpotp2p/internal/verify"
)

// Releaser invokes the external escrow release. The signer deduplicates by
// order id; the controller additionally guards with the releasing status so
// the call happens at most once per order from our side.
type Releaser interface {
	Release(ctx context.Context, order *models.Order) error
}

// Config is the platform policy stamped onto orders at creation time.
// Later changes never affect in-flight orders.
type Config struct {
	FeeRate        decimal.Decimal
	TokenDecimals  int32
	QuoteDecimals  int32
	Expiry         time.Duration
	PaymentTimeout time.Duration
	ArbiterWallet  string
	ChainKinds     map[string]config.ChainKind
}

// Controller is the order lifecycle state machine. Every transition is a
// compare-and-set against the stored status, so concurrent evidence
// submissions, double-clicks and duplicate webhooks serialize per order
// without any cross-order locking.
type Controller struct {
	store     store.Store
	verifier  *verify.Engine
	releaser  Releaser
	publisher notify.Publisher
	cfg       Config
	logger    *zap.Logger
}

func New(st store.Store, verifier *verify.Engine, releaser Releaser, publisher notify.Publisher, cfg Config, logger *zap.Logger) *Controller {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		store:     st,
		verifier:  verifier,
		releaser:  releaser,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

type CreateOrderInput struct {
	Maker         string
	MakerNickname string
	Type          models.OrderType
	PaymentChain  string
	TokenAmount   decimal.Decimal
	Price         decimal.Decimal
	MinQuote      decimal.Decimal
	MaxQuote      decimal.Decimal
}

// CreateOrder validates input, recomputes all derived economics server-side
// (client-supplied fee or net amounts are ignored) and persists the order in
// pending_escrow.
func (c *Controller) CreateOrder(ctx context.Context, in CreateOrderInput) (*models.Order, error) {
	if in.Maker == "" {
		return nil, fmt.Errorf("%w: missing maker wallet", ErrValidation)
	}
	if in.Type != models.OrderTypeBuy && in.Type != models.OrderTypeSell {
		return nil, fmt.Errorf("%w: type must be buy or sell", ErrValidation)
	}
	if _, ok := c.cfg.ChainKinds[in.PaymentChain]; !ok {
		return nil, fmt.Errorf("%w: unsupported payment chain %q", ErrValidation, in.PaymentChain)
	}

	payAddr, err := c.store.GetPaymentAddress(ctx, in.Maker, in.PaymentChain)
	if err == store.ErrNotFound {
		return nil, fmt.Errorf("%w: no payment address bound for chain %s", ErrValidation, in.PaymentChain)
	}
	if err != nil {
		return nil, err
	}

	breakdown, err := fees.Compute(in.TokenAmount, in.Price, c.cfg.FeeRate, c.cfg.TokenDecimals, c.cfg.QuoteDecimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	minQuote, maxQuote := in.MinQuote, in.MaxQuote
	if maxQuote.IsZero() {
		maxQuote = breakdown.QuoteAmount
	}
	if minQuote.IsZero() {
		minQuote = maxQuote
	}
	if err := fees.ValidateLimits(minQuote, maxQuote, breakdown.QuoteAmount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	now := time.Now().UTC()
	order := &models.Order{
		ID:             uuid.NewString(),
		Type:           in.Type,
		Status:         models.OrderPendingEscrow,
		Maker:          in.Maker,
		MakerNickname:  in.MakerNickname,
		PaymentChain:   in.PaymentChain,
		PayAddress:     payAddr.Address,
		TokenAmount:    in.TokenAmount,
		Price:          in.Price,
		QuoteAmount:    breakdown.QuoteAmount,
		FeeRate:        c.cfg.FeeRate,
		Fee:            breakdown.Fee,
		NetReceived:    breakdown.NetReceived,
		MinQuote:       minQuote,
		MaxQuote:       maxQuote,
		PaymentTimeout: c.cfg.PaymentTimeout,
		CreatedAt:      now,
		ExpiresAt:      now.Add(c.cfg.Expiry),
		UpdatedAt:      now,
	}
	if err := c.store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	c.publisher.PublishOrderUpdate(order)
	c.systemMessage(ctx, order.ID, "order created, waiting for escrow deposit")
	return order, nil
}

// GetOrder loads an order, enforcing lazy expiry first so callers never see
// an actionable state on an order whose deadline has passed.
func (c *Controller) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return c.loadOrder(ctx, id)
}

func (c *Controller) ListOrders(ctx context.Context, filter store.OrderFilter) ([]*models.Order, error) {
	return c.store.ListOrders(ctx, filter)
}

func (c *Controller) loadOrder(ctx context.Context, id string) (*models.Order, error) {
	order, err := c.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.applyLazyExpiry(ctx, order)
}

// applyLazyExpiry transitions overdue orders to cancelled on read using the
// same compare-and-set discipline as every other transition.
func (c *Controller) applyLazyExpiry(ctx context.Context, order *models.Order) (*models.Order, error) {
	now := time.Now().UTC()
	expired := false
	switch order.Status {
	case models.OrderPendingEscrow, models.OrderEscrowConfirmed:
		expired = now.After(order.ExpiresAt)
	case models.OrderMatched:
		expired = order.TakenAt != nil && order.PaymentTimeout > 0 &&
			now.After(order.TakenAt.Add(order.PaymentTimeout))
	}
	if !expired {
		return order, nil
	}

	ok, err := c.store.CompareAndSetStatus(ctx, order.ID, order.Status, store.OrderUpdate{
		Status:      models.OrderCancelled,
		CancelledAt: &now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost the race; someone else moved the order.
		return c.store.GetOrder(ctx, order.ID)
	}

	order.Status = models.OrderCancelled
	order.CancelledAt = &now
	c.logger.Info("order expired", zap.String("order_id", order.ID))
	c.publisher.PublishOrderUpdate(order)
	c.systemMessage(ctx, order.ID, "order expired and was cancelled")
	return order, nil
}

// SubmitEscrowEvidence verifies the maker's deposit transaction and moves
// pending_escrow to escrow_confirmed. Resubmitting the confirmed hash is an
// idempotent no-op returning the recorded evidence.
func (c *Controller) SubmitEscrowEvidence(ctx context.Context, orderID, caller, txHash string) (*models.Order, error) {
	if txHash == "" {
		return nil, fmt.Errorf("%w: missing transaction hash", ErrValidation)
	}
	order, err := c.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if caller != order.Maker {
		return nil, ErrUnauthorized
	}
	if order.Status != models.OrderPendingEscrow {
		if order.EscrowTxHash != nil && *order.EscrowTxHash == txHash && !order.Status.Terminal() {
			return order, nil
		}
		return nil, &ConflictError{Current: order}
	}

	res, err := c.verifier.VerifyEscrow(ctx, order, txHash)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		// InsufficientAmount included: the order stays pending_escrow and
		// the maker can top up and resubmit.
		return nil, &VerificationError{Code: res.Code}
	}

	now := time.Now().UTC()
	ok, err := c.store.CompareAndSetStatus(ctx, order.ID, models.OrderPendingEscrow, store.OrderUpdate{
		Status:            models.OrderEscrowConfirmed,
		EscrowTxHash:      &txHash,
		EscrowConfirmedAt: &now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := c.store.GetOrder(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		if current.EscrowTxHash != nil && *current.EscrowTxHash == txHash {
			return current, nil
		}
		return nil, &ConflictError{Current: current}
	}

	order.Status = models.OrderEscrowConfirmed
	order.EscrowTxHash = &txHash
	order.EscrowConfirmedAt = &now
	c.logger.Info("escrow confirmed",
		zap.String("order_id", order.ID),
		zap.String("tx_hash", txHash),
		zap.String("amount", res.Amount.String()))
	c.publisher.PublishOrderUpdate(order)
	c.systemMessage(ctx, order.ID, "escrow deposit confirmed")
	return order, nil
}

// TakeOrder binds a taker. A take for less than the full quote amount
// spawns a sub-order with its own lifecycle and shrinks the parent's
// remaining escrow atomically; the parent's totals are never corrupted by
// in-place partial mutation.
func (c *Controller) TakeOrder(ctx context.Context, orderID, taker, takerNickname string, quoteAmount decimal.Decimal) (*models.Order, error) {
	if taker == "" {
		return nil, fmt.Errorf("%w: missing taker wallet", ErrValidation)
	}
	order, err := c.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderEscrowConfirmed {
		return nil, &ConflictError{Current: order}
	}
	if taker == order.Maker {
		return nil, fmt.Errorf("%w: maker cannot take own order", ErrValidation)
	}
	if quoteAmount.LessThan(order.MinQuote) || quoteAmount.GreaterThan(order.MaxQuote) {
		return nil, fmt.Errorf("%w: amount outside [%s, %s]", ErrValidation, order.MinQuote, order.MaxQuote)
	}

	now := time.Now().UTC()

	if quoteAmount.Equal(order.QuoteAmount) {
		ok, err := c.store.CompareAndSetStatus(ctx, order.ID, models.OrderEscrowConfirmed, store.OrderUpdate{
			Status:        models.OrderMatched,
			Taker:         &taker,
			TakerNickname: &takerNickname,
			TakenAt:       &now,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			current, err := c.store.GetOrder(ctx, order.ID)
			if err != nil {
				return nil, err
			}
			return nil, &ConflictError{Current: current}
		}
		order.Status = models.OrderMatched
		order.Taker = &taker
		order.TakerNickname = &takerNickname
		order.TakenAt = &now
		c.publisher.PublishOrderUpdate(order)
		c.systemMessage(ctx, order.ID, "order taken, waiting for payment")
		return order, nil
	}

	// Partial fill.
	childTokens, err := fees.TokensForQuote(quoteAmount, order.Price, c.cfg.TokenDecimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if childTokens.GreaterThanOrEqual(order.TokenAmount) {
		return nil, fmt.Errorf("%w: partial amount exceeds remaining escrow", ErrValidation)
	}
	childBreakdown, err := fees.Compute(childTokens, order.Price, order.FeeRate, c.cfg.TokenDecimals, c.cfg.QuoteDecimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	remaining := order.TokenAmount.Sub(childTokens)
	parentBreakdown, err := fees.Compute(remaining, order.Price, order.FeeRate, c.cfg.TokenDecimals, c.cfg.QuoteDecimals)
	if err != nil {
		return nil, fmt.Errorf("%w: remaining escrow too small to split", ErrValidation)
	}

	child := &models.Order{
		ID:                uuid.NewString(),
		ParentID:          &order.ID,
		Type:              order.Type,
		Status:            models.OrderMatched,
		Maker:             order.Maker,
		MakerNickname:     order.MakerNickname,
		PaymentChain:      order.PaymentChain,
		PayAddress:        order.PayAddress,
		Taker:             &taker,
		TakerNickname:     &takerNickname,
		TokenAmount:       childTokens,
		Price:             order.Price,
		QuoteAmount:       childBreakdown.QuoteAmount,
		FeeRate:           order.FeeRate,
		Fee:               childBreakdown.Fee,
		NetReceived:       childBreakdown.NetReceived,
		MinQuote:          childBreakdown.QuoteAmount,
		MaxQuote:          childBreakdown.QuoteAmount,
		EscrowTxHash:      order.EscrowTxHash,
		EscrowConfirmedAt: order.EscrowConfirmedAt,
		PaymentTimeout:    order.PaymentTimeout,
		CreatedAt:         now,
		ExpiresAt:         order.ExpiresAt,
		TakenAt:           &now,
		UpdatedAt:         now,
	}

	reduce := store.ParentReduction{
		TokenAmount: remaining,
		QuoteAmount: parentBreakdown.QuoteAmount,
		Fee:         parentBreakdown.Fee,
		NetReceived: parentBreakdown.NetReceived,
		MinQuote:    decimal.Min(order.MinQuote, parentBreakdown.QuoteAmount),
		MaxQuote:    decimal.Min(order.MaxQuote, parentBreakdown.QuoteAmount),
	}
	ok, err := c.store.SpawnSubOrder(ctx, order.ID, models.OrderEscrowConfirmed, reduce, child)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := c.store.GetOrder(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		return nil, &ConflictError{Current: current}
	}

	c.logger.Info("partial fill",
		zap.String("parent_id", order.ID),
		zap.String("child_id", child.ID),
		zap.String("quote_amount", child.QuoteAmount.String()))
	c.publisher.PublishOrderUpdate(child)
	c.systemMessage(ctx, child.ID, "order taken (partial fill), waiting for payment")
	return child, nil
}

// SubmitPaymentEvidence records the taker's payment hash and verifies it.
// Exact amount match confirms and auto-releases; any deviation routes to
// amount_mismatch. While unverified, the taker may replace the hash; once
// the order advanced with a different hash the submission conflicts.
func (c *Controller) SubmitPaymentEvidence(ctx context.Context, orderID, caller, txHash string) (*models.Order, error) {
	if txHash == "" {
		return nil, fmt.Errorf("%w: missing transaction hash", ErrValidation)
	}
	order, err := c.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch order.Status {
	case models.OrderPaymentConfirmed, models.OrderReleasing, models.OrderCompleted:
		if order.PaymentTxHash != nil && *order.PaymentTxHash == txHash {
			return order, nil
		}
		return nil, &ConflictError{Current: order}
	case models.OrderMatched, models.OrderPaymentSubmitted:
	default:
		return nil, &ConflictError{Current: order}
	}
	if order.Taker == nil || caller != *order.Taker {
		return nil, ErrUnauthorized
	}

	now := time.Now().UTC()
	if order.Status == models.OrderMatched {
		ok, err := c.store.CompareAndSetStatus(ctx, order.ID, models.OrderMatched, store.OrderUpdate{
			Status:             models.OrderPaymentSubmitted,
			PaymentTxHash:      &txHash,
			PaymentSubmittedAt: &now,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			current, err := c.store.GetOrder(ctx, order.ID)
			if err != nil {
				return nil, err
			}
			if current.PaymentTxHash != nil && *current.PaymentTxHash == txHash {
				order = current
			} else {
				return nil, &ConflictError{Current: current}
			}
		} else {
			order.Status = models.OrderPaymentSubmitted
			order.PaymentTxHash = &txHash
			order.PaymentSubmittedAt = &now
			c.publisher.PublishOrderUpdate(order)
		}
	} else if order.PaymentTxHash != nil && *order.PaymentTxHash != txHash {
		// Unverified evidence may be replaced with a corrected hash.
		ok, err := c.store.CompareAndSetStatus(ctx, order.ID, models.OrderPaymentSubmitted, store.OrderUpdate{
			Status:             models.OrderPaymentSubmitted,
			PaymentTxHash:      &txHash,
			PaymentSubmittedAt: &now,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			current, err := c.store.GetOrder(ctx, order.ID)
			if err != nil {
				return nil, err
			}
			return nil, &ConflictError{Current: current}
		}
		order.PaymentTxHash = &txHash
		order.PaymentSubmittedAt = &now
	}

	res, err := c.verifier.VerifyPayment(ctx, order, txHash)
	if err != nil {
		// Transient: the order stays payment_submitted and the same hash
		// can be re-verified later.
		return nil, err
	}

	switch {
	case res.OK:
		ok, err := c.store.CompareAndSetStatus(ctx, order.ID, models.OrderPaymentSubmitted, store.OrderUpdate{
			Status:                models.OrderPaymentConfirmed,
			PaymentDetectedAmount: &res.Amount,
			PaymentConfirmedAt:    &now,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			current, err := c.store.GetOrder(ctx, order.ID)
			if err != nil {
				return nil, err
			}
			if current.PaymentTxHash != nil && *current.PaymentTxHash == txHash {
				return current, nil
			}
			return nil, &ConflictError{Current: current}
		}
		order.Status = models.OrderPaymentConfirmed
		order.PaymentDetectedAmount = &res.Amount
		order.PaymentConfirmedAt = &now
		c.logger.Info("payment confirmed",
			zap.String("order_id", order.ID),
			zap.String("tx_hash", txHash),
			zap.String("amount", res.Amount.String()))
		c.publisher.PublishOrderUpdate(order)
		c.systemMessage(ctx, order.ID, "payment confirmed on chain, releasing tokens")
		return c.autoRelease(ctx, order)

	case res.Code == verify.CodeAmountMismatch:
		ok, err := c.store.CompareAndSetStatus(ctx, order.ID, models.OrderPaymentSubmitted, store.OrderUpdate{
			Status:                models.OrderAmountMismatch,
			PaymentDetectedAmount: &res.Amount,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			current, err := c.store.GetOrder(ctx, order.ID)
			if err != nil {
				return nil, err
			}
			return nil, &ConflictError{Current: current}
		}
		order.Status = models.OrderAmountMismatch
		order.PaymentDetectedAmount = &res.Amount
		c.logger.Warn("payment amount mismatch",
			zap.String("order_id", order.ID),
			zap.String("expected", order.QuoteAmount.String()),
			zap.String("detected", res.Amount.String()))
		c.publisher.PublishOrderUpdate(order)
		c.systemMessage(ctx, order.ID, fmt.Sprintf(
			"detected payment of %s does not match expected %s",
			res.Amount, order.QuoteAmount))
		return order, nil

	default:
		return nil, &VerificationError{Code: res.Code}
	}
}

// autoRelease takes the releasing lock from payment_confirmed and invokes
// the external release. If the signer call fails the order stays in
// releasing and the sweep retries it.
func (c *Controller) autoRelease(ctx context.Context, order *models.Order) (*models.Order, error) {
	ok, err := c.store.CompareAndSetStatus(ctx, order.ID, models.OrderPaymentConfirmed, store.OrderUpdate{
		Status: models.OrderReleasing,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		// A concurrent confirmation already holds the release lock.
		return c.store.GetOrder(ctx, order.ID)
	}
	order.Status = models.OrderReleasing
	c.publisher.PublishOrderUpdate(order)
	return c.finishRelease(ctx, order)
}

// finishRelease assumes the caller holds the releasing lock.
func (c *Controller) finishRelease(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := c.releaser.Release(ctx, order); err != nil {
		c.logger.Warn("release call failed, will retry",
			zap.String("order_id", order.ID), zap.Error(err))
		return order, nil
	}

	now := time.Now().UTC()
	ok, err := c.store.CompareAndSetStatus(ctx, order.ID, models.OrderReleasing, store.OrderUpdate{
		Status:      models.OrderCompleted,
		CompletedAt: &now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return c.store.GetOrder(ctx, order.ID)
	}
	order.Status = models.OrderCompleted
	order.CompletedAt = &now
	c.logger.Info("order completed", zap.String("order_id", order.ID))
	c.publisher.PublishOrderUpdate(order)
	c.systemMessage(ctx, order.ID, "tokens released, trade completed")
	return order, nil
}

// ManualRelease lets the maker accept a mismatched payment and release
// anyway. The amount_mismatch -> releasing compare-and-set is the
// at-most-once lock: of N concurrent requests exactly one wins.
func (c *Controller) ManualRelease(ctx context.Context, orderID, caller string) (*models.Order, error) {
	order, err := c.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if caller != order.Maker {
		return nil, ErrUnauthorized
	}
	if order.Status != models.OrderAmountMismatch {
		return nil, &ConflictError{Current: order}
	}

	ok, err := c.store.CompareAndSetStatus(ctx, order.ID, models.OrderAmountMismatch, store.OrderUpdate{
		Status: models.OrderReleasing,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := c.store.GetOrder(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		return nil, &ConflictError{Current: current}
	}
	order.Status = models.OrderReleasing
	c.logger.Info("manual release authorized",
		zap.String("order_id", order.ID), zap.String("maker", caller))
	c.publisher.PublishOrderUpdate(order)
	c.systemMessage(ctx, order.ID, "maker authorized release despite amount mismatch")
	return c.finishRelease(ctx, order)
}

// Cancel aborts an order before the release lock is taken.
func (c *Controller) Cancel(ctx context.Context, orderID, caller string) (*models.Order, error) {
	order, err := c.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == models.OrderCancelled {
		return order, nil
	}
	if !order.Status.Cancellable() {
		return nil, &ConflictError{Current: order}
	}
	if caller != order.Maker {
		return nil, ErrUnauthorized
	}

	now := time.Now().UTC()
	ok, err := c.store.CompareAndSetStatus(ctx, order.ID, order.Status, store.OrderUpdate{
		Status:      models.OrderCancelled,
		CancelledAt: &now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := c.store.GetOrder(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.OrderCancelled {
			return current, nil
		}
		return nil, &ConflictError{Current: current}
	}
	order.Status = models.OrderCancelled
	order.CancelledAt = &now
	c.publisher.PublishOrderUpdate(order)
	c.systemMessage(ctx, order.ID, "order cancelled by maker")
	return order, nil
}

// OpenDispute freezes an order pending arbitration. Either counterparty may
// open one from amount_mismatch or payment_submitted.
func (c *Controller) OpenDispute(ctx context.Context, orderID, caller string) (*models.Order, error) {
	order, err := c.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Participant(caller) {
		return nil, ErrUnauthorized
	}
	if order.Status != models.OrderAmountMismatch && order.Status != models.OrderPaymentSubmitted {
		return nil, &ConflictError{Current: order}
	}

	ok, err := c.store.CompareAndSetStatus(ctx, order.ID, order.Status, store.OrderUpdate{
		Status: models.OrderDisputed,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := c.store.GetOrder(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.OrderDisputed {
			return current, nil
		}
		return nil, &ConflictError{Current: current}
	}
	order.Status = models.OrderDisputed
	c.logger.Warn("dispute opened",
		zap.String("order_id", order.ID), zap.String("by", caller))
	c.publisher.PublishOrderUpdate(order)
	c.systemMessage(ctx, order.ID, "dispute opened, order frozen pending arbitration")
	return order, nil
}

type DisputeOutcome string

const (
	OutcomeRelease DisputeOutcome = "release"
	OutcomeRefund  DisputeOutcome = "refund"
)

// ResolveDispute is the single arbitration entry point. Only the configured
// arbiter wallet may resolve; how the decision is reached is outside the
// platform.
func (c *Controller) ResolveDispute(ctx context.Context, orderID, caller string, outcome DisputeOutcome) (*models.Order, error) {
	if c.cfg.ArbiterWallet == "" || caller != c.cfg.ArbiterWallet {
		return nil, ErrUnauthorized
	}
	order, err := c.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderDisputed {
		return nil, &ConflictError{Current: order}
	}

	now := time.Now().UTC()
	switch outcome {
	case OutcomeRelease:
		ok, err := c.store.CompareAndSetStatus(ctx, order.ID, models.OrderDisputed, store.OrderUpdate{
			Status: models.OrderReleasing,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			current, err := c.store.GetOrder(ctx, order.ID)
			if err != nil {
				return nil, err
			}
			return nil, &ConflictError{Current: current}
		}
		order.Status = models.OrderReleasing
		c.publisher.PublishOrderUpdate(order)
		c.systemMessage(ctx, order.ID, "dispute resolved in favor of buyer, releasing")
		return c.finishRelease(ctx, order)

	case OutcomeRefund:
		ok, err := c.store.CompareAndSetStatus(ctx, order.ID, models.OrderDisputed, store.OrderUpdate{
			Status:      models.OrderCancelled,
			CancelledAt: &now,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			current, err := c.store.GetOrder(ctx, order.ID)
			if err != nil {
				return nil, err
			}
			return nil, &ConflictError{Current: current}
		}
		order.Status = models.OrderCancelled
		order.CancelledAt = &now
		c.publisher.PublishOrderUpdate(order)
		c.systemMessage(ctx, order.ID, "dispute resolved in favor of seller, order cancelled")
		return order, nil

	default:
		return nil, fmt.Errorf("%w: outcome must be release or refund", ErrValidation)
	}
}

// PostMessage appends a chat message; only participants may write.
func (c *Controller) PostMessage(ctx context.Context, orderID, sender, content string) (*models.Message, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: empty message", ErrValidation)
	}
	order, err := c.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Participant(sender) {
		return nil, ErrUnauthorized
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Sender:    sender,
		Content:   content,
		Type:      models.MessageText,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (c *Controller) ListMessages(ctx context.Context, orderID string) ([]*models.Message, error) {
	if _, err := c.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return c.store.ListMessages(ctx, orderID)
}

// SetPaymentAddress validates the address format for the chain and stores
// the canonical form. Rejected while the user has active orders.
func (c *Controller) SetPaymentAddress(ctx context.Context, wallet, chainID, address string) error {
	kind, ok := c.cfg.ChainKinds[chainID]
	if !ok {
		return fmt.Errorf("%w: unsupported chain %q", ErrValidation, chainID)
	}
	canonical, err := chain.ValidateAddress(kind, address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return c.store.UpsertPaymentAddress(ctx, wallet, chainID, canonical)
}

func (c *Controller) GetUser(ctx context.Context, wallet string) (*models.User, []*models.PaymentAddress, error) {
	user, err := c.store.GetUser(ctx, wallet)
	if err != nil {
		return nil, nil, err
	}
	addrs, err := c.store.ListPaymentAddresses(ctx, wallet)
	if err != nil {
		return nil, nil, err
	}
	return user, addrs, nil
}

func (c *Controller) UpsertUser(ctx context.Context, user *models.User) error {
	if user.Wallet == "" {
		return fmt.Errorf("%w: missing wallet", ErrValidation)
	}
	return c.store.UpsertUser(ctx, user)
}

func (c *Controller) MarketStats(ctx context.Context) (*models.MarketStats, error) {
	return c.store.MarketStats(ctx)
}

// systemMessage appends an audit entry to the order chat. Best-effort: a
// failed append never rolls back a committed transition.
func (c *Controller) systemMessage(ctx context.Context, orderID, content string) {
	msg := &models.Message{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Sender:    "system",
		Content:   content,
		Type:      models.MessageSystem,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.store.AppendMessage(ctx, msg); err != nil {
		c.logger.Warn("append system message failed",
			zap.String("order_id", orderID), zap.Error(err))
	}
}
