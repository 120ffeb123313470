package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tpotp2p/internal/chain"
	"tpotp2p/internal/models"
	"tpotp2p/internal/release"
	"tpotp2p/internal/settlement"
	"tpotp2p/internal/store"
)

type Handler struct {
	Orders *settlement.Controller
	Logger *zap.Logger
}

func NewHandler(orders *settlement.Controller, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Orders: orders, Logger: logger}
}

type orderResponse struct {
	ID            string `json:"id"`
	ParentID      string `json:"parentId,omitempty"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	Maker         string `json:"maker"`
	MakerNickname string `json:"makerNickname,omitempty"`
	PaymentChain  string `json:"paymentChain"`
	PayAddress    string `json:"payAddress"`
	Taker         string `json:"taker,omitempty"`
	TakerNickname string `json:"takerNickname,omitempty"`

	TokenAmount string `json:"tokenAmount"`
	Price       string `json:"price"`
	QuoteAmount string `json:"quoteAmount"`
	FeeRate     string `json:"feeRate"`
	Fee         string `json:"fee"`
	NetReceived string `json:"netReceived"`
	MinQuote    string `json:"minQuote"`
	MaxQuote    string `json:"maxQuote"`

	EscrowTxHash          string `json:"escrowTxHash,omitempty"`
	EscrowConfirmedAt     string `json:"escrowConfirmedAt,omitempty"`
	PaymentTxHash         string `json:"paymentTxHash,omitempty"`
	PaymentSubmittedAt    string `json:"paymentSubmittedAt,omitempty"`
	PaymentDetectedAmount string `json:"paymentDetectedAmount,omitempty"`
	PaymentConfirmedAt    string `json:"paymentConfirmedAt,omitempty"`

	PaymentTimeoutMinutes int64 `json:"paymentTimeoutMinutes"`

	CreatedAt   string `json:"createdAt"`
	ExpiresAt   string `json:"expiresAt"`
	TakenAt     string `json:"takenAt,omitempty"`
	CompletedAt string `json:"completedAt,omitempty"`
	CancelledAt string `json:"cancelledAt,omitempty"`
	UpdatedAt   string `json:"updatedAt"`
}

func toOrderResponse(o *models.Order) orderResponse {
	resp := orderResponse{
		ID:                    o.ID,
		Type:                  string(o.Type),
		Status:                string(o.Status),
		Maker:                 o.Maker,
		MakerNickname:         o.MakerNickname,
		PaymentChain:          o.PaymentChain,
		PayAddress:            o.PayAddress,
		TokenAmount:           o.TokenAmount.String(),
		Price:                 o.Price.String(),
		QuoteAmount:           o.QuoteAmount.String(),
		FeeRate:               o.FeeRate.String(),
		Fee:                   o.Fee.String(),
		NetReceived:           o.NetReceived.String(),
		MinQuote:              o.MinQuote.String(),
		MaxQuote:              o.MaxQuote.String(),
		PaymentTimeoutMinutes: int64(o.PaymentTimeout / time.Minute),
		CreatedAt:             o.CreatedAt.Format(time.RFC3339),
		ExpiresAt:             o.ExpiresAt.Format(time.RFC3339),
		UpdatedAt:             o.UpdatedAt.Format(time.RFC3339),
	}
	if o.ParentID != nil {
		resp.ParentID = *o.ParentID
	}
	if o.Taker != nil {
		resp.Taker = *o.Taker
	}
	if o.TakerNickname != nil {
		resp.TakerNickname = *o.TakerNickname
	}
	if o.EscrowTxHash != nil {
		resp.EscrowTxHash = *o.EscrowTxHash
	}
	if o.EscrowConfirmedAt != nil {
		resp.EscrowConfirmedAt = o.EscrowConfirmedAt.Format(time.RFC3339)
	}
	if o.PaymentTxHash != nil {
		resp.PaymentTxHash = *o.PaymentTxHash
	}
	if o.PaymentSubmittedAt != nil {
		resp.PaymentSubmittedAt = o.PaymentSubmittedAt.Format(time.RFC3339)
	}
	if o.PaymentDetectedAmount != nil {
		resp.PaymentDetectedAmount = o.PaymentDetectedAmount.String()
	}
	if o.PaymentConfirmedAt != nil {
		resp.PaymentConfirmedAt = o.PaymentConfirmedAt.Format(time.RFC3339)
	}
	if o.TakenAt != nil {
		resp.TakenAt = o.TakenAt.Format(time.RFC3339)
	}
	if o.CompletedAt != nil {
		resp.CompletedAt = o.CompletedAt.Format(time.RFC3339)
	}
	if o.CancelledAt != nil {
		resp.CancelledAt = o.CancelledAt.Format(time.RFC3339)
	}
	return resp
}

// wallet extracts the caller identity. The gateway in front of this service
// verifies wallet signatures and injects the header.
func wallet(r *http.Request) string {
	return r.Header.Get("X-Wallet")
}

func (h *Handler) handleError(w http.ResponseWriter, err error) {
	var conflict *settlement.ConflictError
	var verification *settlement.VerificationError
	switch {
	case errors.Is(err, settlement.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, settlement.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "caller not authorized")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrActiveOrders):
		writeError(w, http.StatusConflict, "payment address locked by active orders")
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": conflict.Error(),
			"order": toOrderResponse(conflict.Current),
		})
	case errors.As(err, &verification):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "verification failed",
			"code":  string(verification.Code),
		})
	case errors.Is(err, chain.ErrUnavailable), errors.Is(err, release.ErrSignerUnavailable):
		writeError(w, http.StatusServiceUnavailable, "upstream unavailable, retry later")
	default:
		h.Logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type createOrderRequest struct {
	Type         string `json:"type"`
	PaymentChain string `json:"paymentChain"`
	TokenAmount  string `json:"tokenAmount"`
	Price        string `json:"price"`
	MinQuote     string `json:"minQuote"`
	MaxQuote     string `json:"maxQuote"`
	Nickname     string `json:"nickname"`
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	caller := wallet(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "missing wallet identity")
		return
	}
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	tokenAmount, err := parseDecimal(req.TokenAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tokenAmount")
		return
	}
	price, err := parseDecimal(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid price")
		return
	}
	minQuote, err := parseDecimal(req.MinQuote)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid minQuote")
		return
	}
	maxQuote, err := parseDecimal(req.MaxQuote)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid maxQuote")
		return
	}

	order, err := h.Orders.CreateOrder(r.Context(), settlement.CreateOrderInput{
		Maker:         caller,
		MakerNickname: req.Nickname,
		Type:          models.OrderType(req.Type),
		PaymentChain:  req.PaymentChain,
		TokenAmount:   tokenAmount,
		Price:         price,
		MinQuote:      minQuote,
		MaxQuote:      maxQuote,
	})
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.OrderFilter{
		Type:         models.OrderType(q.Get("type")),
		PaymentChain: q.Get("chain"),
		Participant:  q.Get("participant"),
		Limit:        100,
	}
	for _, s := range q["status"] {
		filter.Status = append(filter.Status, models.OrderStatus(s))
	}

	orders, err := h.Orders.ListOrders(r.Context(), filter)
	if err != nil {
		h.handleError(w, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Orders.GetOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type txHashRequest struct {
	TxHash string `json:"txHash"`
}

func (h *Handler) SubmitEscrowEvidence(w http.ResponseWriter, r *http.Request) {
	caller := wallet(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "missing wallet identity")
		return
	}
	var req txHashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	order, err := h.Orders.SubmitEscrowEvidence(r.Context(), chi.URLParam(r, "orderId"), caller, req.TxHash)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type takeOrderRequest struct {
	QuoteAmount string `json:"quoteAmount"`
	Nickname    string `json:"nickname"`
}

func (h *Handler) TakeOrder(w http.ResponseWriter, r *http.Request) {
	caller := wallet(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "missing wallet identity")
		return
	}
	var req takeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	quoteAmount, err := parseDecimal(req.QuoteAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid quoteAmount")
		return
	}
	order, err := h.Orders.TakeOrder(r.Context(), chi.URLParam(r, "orderId"), caller, req.Nickname, quoteAmount)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) SubmitPaymentEvidence(w http.ResponseWriter, r *http.Request) {
	caller := wallet(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "missing wallet identity")
		return
	}
	var req txHashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	order, err := h.Orders.SubmitPaymentEvidence(r.Context(), chi.URLParam(r, "orderId"), caller, req.TxHash)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) ManualRelease(w http.ResponseWriter, r *http.Request) {
	caller := wallet(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "missing wallet identity")
		return
	}
	order, err := h.Orders.ManualRelease(r.Context(), chi.URLParam(r, "orderId"), caller)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	caller := wallet(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "missing wallet identity")
		return
	}
	order, err := h.Orders.Cancel(r.Context(), chi.URLParam(r, "orderId"), caller)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	caller := wallet(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "missing wallet identity")
		return
	}
	order, err := h.Orders.OpenDispute(r.Context(), chi.URLParam(r, "orderId"), caller)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type resolveDisputeRequest struct {
	Outcome string `json:"outcome"`
}

func (h *Handler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	caller := wallet(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "missing wallet identity")
		return
	}
	var req resolveDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	order, err := h.Orders.ResolveDispute(r.Context(), chi.URLParam(r, "orderId"), caller, settlement.DisputeOutcome(req.Outcome))
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type messageResponse struct {
	ID        string `json:"id"`
	OrderID   string `json:"orderId"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	CreatedAt string `json:"createdAt"`
}

func toMessageResponse(m *models.Message) messageResponse {
	return messageResponse{
		ID:        m.ID,
		OrderID:   m.OrderID,
		Sender:    m.Sender,
		Content:   m.Content,
		Type:      string(m.Type),
		CreatedAt: m.CreatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.Orders.ListMessages(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.handleError(w, err)
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

type postMessageRequest struct {
	Content string `json:"content"`
}

func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	caller := wallet(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "missing wallet identity")
		return
	}
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	msg, err := h.Orders.PostMessage(r.Context(), chi.URLParam(r, "orderId"), caller, req.Content)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponse(msg))
}

type userResponse struct {
	Wallet           string            `json:"wallet"`
	Nickname         string            `json:"nickname,omitempty"`
	TotalTrades      int               `json:"totalTrades"`
	CompletionRate   string            `json:"completionRate"`
	PaymentAddresses map[string]string `json:"paymentAddresses"`
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, addrs, err := h.Orders.GetUser(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		h.handleError(w, err)
		return
	}
	resp := userResponse{
		Wallet:           user.Wallet,
		Nickname:         user.Nickname,
		TotalTrades:      user.TotalTrades,
		CompletionRate:   user.CompletionRate.String(),
		PaymentAddresses: map[string]string{},
	}
	for _, pa := range addrs {
		resp.PaymentAddresses[pa.Chain] = pa.Address
	}
	writeJSON(w, http.StatusOK, resp)
}

type paymentAddressRequest struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
}

func (h *Handler) SetPaymentAddress(w http.ResponseWriter, r *http.Request) {
	caller := wallet(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "missing wallet identity")
		return
	}
	if caller != chi.URLParam(r, "wallet") {
		writeError(w, http.StatusForbidden, "caller not authorized")
		return
	}
	var req paymentAddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := h.Orders.SetPaymentAddress(r.Context(), caller, req.Chain, req.Address); err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type updateProfileRequest struct {
	Nickname string `json:"nickname"`
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	caller := wallet(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "missing wallet identity")
		return
	}
	if caller != chi.URLParam(r, "wallet") {
		writeError(w, http.StatusForbidden, "caller not authorized")
		return
	}
	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := h.Orders.UpsertUser(r.Context(), &models.User{Wallet: caller, Nickname: req.Nickname}); err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) MarketStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Orders.MarketStats(r.Context())
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"totalOrders":  stats.TotalOrders,
		"activeOrders": stats.ActiveOrders,
		"totalVolume":  stats.TotalVolume.String(),
	})
}
