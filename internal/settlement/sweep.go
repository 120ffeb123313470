package settlement

import (
	"context"

	"go.uber.org/zap"

	"tpotp2p/internal/models"
	"tpotp2p/internal/store"
)

// Sweep is the periodic safety net behind lazy expiry. It cancels overdue
// orders that nobody read recently and resumes releases that were
// interrupted anywhere between the payment confirmation and the signer ack.
func (c *Controller) Sweep(ctx context.Context) error {
	stale, err := c.store.ListOrders(ctx, store.OrderFilter{
		Status: []models.OrderStatus{
			models.OrderPendingEscrow,
			models.OrderEscrowConfirmed,
			models.OrderMatched,
		},
	})
	if err != nil {
		return err
	}
	for _, order := range stale {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := c.applyLazyExpiry(ctx, order); err != nil {
			c.logger.Warn("expiry sweep failed",
				zap.String("order_id", order.ID), zap.Error(err))
		}
	}

	stuck, err := c.store.ListOrders(ctx, store.OrderFilter{
		Status: []models.OrderStatus{
			models.OrderPaymentConfirmed,
			models.OrderReleasing,
		},
	})
	if err != nil {
		return err
	}
	for _, order := range stuck {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// payment_confirmed here means the process died before the releasing
		// lock was taken; autoRelease claims it through the same CAS.
		var rerr error
		if order.Status == models.OrderPaymentConfirmed {
			_, rerr = c.autoRelease(ctx, order)
		} else {
			_, rerr = c.finishRelease(ctx, order)
		}
		if rerr != nil {
			c.logger.Warn("release retry failed",
				zap.String("order_id", order.ID), zap.Error(rerr))
		}
	}
	return nil
}
