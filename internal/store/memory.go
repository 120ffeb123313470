package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tpotp2p/internal/models"
)

// Memory is an in-process Store with the same compare-and-set semantics as
// Postgres. Used in tests and local development.
type Memory struct {
	mu        sync.Mutex
	orders    map[string]*models.Order
	messages  map[string][]*models.Message
	users     map[string]*models.User
	addresses map[string]map[string]*models.PaymentAddress
}

func NewMemory() *Memory {
	return &Memory{
		orders:    map[string]*models.Order{},
		messages:  map[string][]*models.Message{},
		users:     map[string]*models.User{},
		addresses: map[string]map[string]*models.PaymentAddress{},
	}
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	c.ParentID = clonePtr(o.ParentID)
	c.Taker = clonePtr(o.Taker)
	c.TakerNickname = clonePtr(o.TakerNickname)
	c.EscrowTxHash = clonePtr(o.EscrowTxHash)
	c.EscrowConfirmedAt = clonePtr(o.EscrowConfirmedAt)
	c.PaymentTxHash = clonePtr(o.PaymentTxHash)
	c.PaymentSubmittedAt = clonePtr(o.PaymentSubmittedAt)
	c.PaymentDetectedAmount = clonePtr(o.PaymentDetectedAmount)
	c.PaymentConfirmedAt = clonePtr(o.PaymentConfirmedAt)
	c.TakenAt = clonePtr(o.TakenAt)
	c.CompletedAt = clonePtr(o.CompletedAt)
	c.CancelledAt = clonePtr(o.CancelledAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (m *Memory) CreateOrder(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = cloneOrder(order)
	return nil
}

func (m *Memory) GetOrder(_ context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (m *Memory) ListOrders(_ context.Context, filter OrderFilter) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Order
	for _, o := range m.orders {
		if len(filter.Status) > 0 && !containsStatus(filter.Status, o.Status) {
			continue
		}
		if filter.Type != "" && o.Type != filter.Type {
			continue
		}
		if filter.PaymentChain != "" && o.PaymentChain != filter.PaymentChain {
			continue
		}
		if filter.Participant != "" && !o.Participant(filter.Participant) {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func containsStatus(list []models.OrderStatus, st models.OrderStatus) bool {
	for _, s := range list {
		if s == st {
			return true
		}
	}
	return false
}

func (m *Memory) CompareAndSetStatus(_ context.Context, id string, expected models.OrderStatus, upd OrderUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A missing id reports as a plain CAS miss, matching the UPDATE with
	// zero rows affected that Postgres produces.
	o, ok := m.orders[id]
	if !ok || o.Status != expected {
		return false, nil
	}
	applyUpdate(o, upd)
	return true, nil
}

func applyUpdate(o *models.Order, upd OrderUpdate) {
	o.Status = upd.Status
	o.UpdatedAt = time.Now().UTC()
	if upd.Taker != nil {
		o.Taker = clonePtr(upd.Taker)
	}
	if upd.TakerNickname != nil {
		o.TakerNickname = clonePtr(upd.TakerNickname)
	}
	if upd.TakenAt != nil {
		o.TakenAt = clonePtr(upd.TakenAt)
	}
	if upd.EscrowTxHash != nil {
		o.EscrowTxHash = clonePtr(upd.EscrowTxHash)
	}
	if upd.EscrowConfirmedAt != nil {
		o.EscrowConfirmedAt = clonePtr(upd.EscrowConfirmedAt)
	}
	if upd.PaymentTxHash != nil {
		o.PaymentTxHash = clonePtr(upd.PaymentTxHash)
	}
	if upd.PaymentSubmittedAt != nil {
		o.PaymentSubmittedAt = clonePtr(upd.PaymentSubmittedAt)
	}
	if upd.PaymentDetectedAmount != nil {
		o.PaymentDetectedAmount = clonePtr(upd.PaymentDetectedAmount)
	}
	if upd.PaymentConfirmedAt != nil {
		o.PaymentConfirmedAt = clonePtr(upd.PaymentConfirmedAt)
	}
	if upd.CompletedAt != nil {
		o.CompletedAt = clonePtr(upd.CompletedAt)
	}
	if upd.CancelledAt != nil {
		o.CancelledAt = clonePtr(upd.CancelledAt)
	}
}

func (m *Memory) SpawnSubOrder(_ context.Context, parentID string, expected models.OrderStatus, reduce ParentReduction, child *models.Order) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, ok := m.orders[parentID]
	if !ok || parent.Status != expected {
		return false, nil
	}
	parent.TokenAmount = reduce.TokenAmount
	parent.QuoteAmount = reduce.QuoteAmount
	parent.Fee = reduce.Fee
	parent.NetReceived = reduce.NetReceived
	parent.MinQuote = reduce.MinQuote
	parent.MaxQuote = reduce.MaxQuote
	parent.UpdatedAt = time.Now().UTC()

	m.orders[child.ID] = cloneOrder(child)
	return true, nil
}

func (m *Memory) AppendMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *msg
	m.messages[msg.OrderID] = append(m.messages[msg.OrderID], &c)
	return nil
}

func (m *Memory) ListMessages(_ context.Context, orderID string) ([]*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[orderID]
	out := make([]*models.Message, 0, len(msgs))
	for _, msg := range msgs {
		c := *msg
		out = append(out, &c)
	}
	return out, nil
}

func (m *Memory) GetUser(_ context.Context, wallet string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[wallet]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *Memory) UpsertUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := m.users[user.Wallet]; ok {
		existing.Nickname = user.Nickname
		existing.UpdatedAt = now
		return nil
	}
	c := *user
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.CompletionRate.IsZero() {
		c.CompletionRate = decimal.NewFromInt(100)
	}
	m.users[user.Wallet] = &c
	return nil
}

func (m *Memory) GetPaymentAddress(_ context.Context, wallet, chainID string) (*models.PaymentAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pa, ok := m.addresses[wallet][chainID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *pa
	return &c, nil
}

func (m *Memory) ListPaymentAddresses(_ context.Context, wallet string) ([]*models.PaymentAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PaymentAddress
	for _, pa := range m.addresses[wallet] {
		c := *pa
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Chain < out[j].Chain })
	return out, nil
}

func (m *Memory) UpsertPaymentAddress(_ context.Context, wallet, chainID, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range m.orders {
		if o.Participant(wallet) && !o.Status.Terminal() {
			return ErrActiveOrders
		}
	}
	if m.addresses[wallet] == nil {
		m.addresses[wallet] = map[string]*models.PaymentAddress{}
	}
	m.addresses[wallet][chainID] = &models.PaymentAddress{
		Wallet:    wallet,
		Chain:     chainID,
		Address:   address,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

func (m *Memory) MarketStats(_ context.Context) (*models.MarketStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &models.MarketStats{TotalVolume: decimal.Zero}
	for _, o := range m.orders {
		stats.TotalOrders++
		if !o.Status.Terminal() {
			stats.ActiveOrders++
		}
		if o.Status == models.OrderCompleted {
			stats.TotalVolume = stats.TotalVolume.Add(o.QuoteAmount)
		}
	}
	return stats, nil
}
