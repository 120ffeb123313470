package release

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"tpotp2p/internal/models"
)

// ErrSignerUnavailable marks transient signer failures; the worker retries
// stuck releasing orders with the same order id.
var ErrSignerUnavailable = errors.New("release signer unavailable")

// SignerClient asks the escrow signer service to release escrowed tokens to
// the buyer. The signer deduplicates by order id, so the call is idempotent
// from our side.
type SignerClient struct {
	Endpoint string
	Client   *http.Client
	Logger   *zap.Logger
}

func NewSignerClient(endpoint string, logger *zap.Logger) *SignerClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SignerClient{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Client:   &http.Client{Timeout: 30 * time.Second},
		Logger:   logger,
	}
}

type releaseRequest struct {
	OrderID   string `json:"orderId"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

func (c *SignerClient) Release(ctx context.Context, order *models.Order) error {
	if order.Taker == nil {
		return errors.New("order has no bound taker")
	}

	body, err := json.Marshal(releaseRequest{
		OrderID:   order.ID,
		Recipient: *order.Taker,
		Amount:    order.NetReceived.String(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+"/release", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignerUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: status %d: %s", ErrSignerUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
		}
		return fmt.Errorf("release rejected: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	c.Logger.Info("escrow release acknowledged",
		zap.String("order_id", order.ID),
		zap.String("recipient", *order.Taker),
		zap.String("amount", order.NetReceived.String()))
	return nil
}
