package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"tpotp2p/internal/models"
)

// Postgres is the durable Store. Monetary columns are TEXT holding decimal
// strings; conversion happens here so the rest of the code only sees
// decimal.Decimal.
type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Pool: pool}
}

const orderColumns = `
	id, parent_id, type, status,
	maker, maker_nickname, payment_chain, pay_address, taker, taker_nickname,
	token_amount, price, quote_amount, fee_rate, fee, net_received,
	min_quote, max_quote,
	escrow_tx_hash, escrow_confirmed_at,
	payment_tx_hash, payment_submitted_at, payment_detected_amount, payment_confirmed_at,
	payment_timeout_minutes,
	created_at, expires_at, taken_at, completed_at, cancelled_at, updated_at`

func (s *Postgres) CreateOrder(ctx context.Context, order *models.Order) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,
			$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31)
	`, orderArgs(order)...)
	return err
}

func orderArgs(o *models.Order) []any {
	return []any{
		o.ID, o.ParentID, o.Type, o.Status,
		o.Maker, o.MakerNickname, o.PaymentChain, o.PayAddress, o.Taker, o.TakerNickname,
		o.TokenAmount.String(), o.Price.String(), o.QuoteAmount.String(),
		o.FeeRate.String(), o.Fee.String(), o.NetReceived.String(),
		o.MinQuote.String(), o.MaxQuote.String(),
		o.EscrowTxHash, o.EscrowConfirmedAt,
		o.PaymentTxHash, o.PaymentSubmittedAt, decimalPtrString(o.PaymentDetectedAmount), o.PaymentConfirmedAt,
		int(o.PaymentTimeout / time.Minute),
		o.CreatedAt, o.ExpiresAt, o.TakenAt, o.CompletedAt, o.CancelledAt, o.UpdatedAt,
	}
}

func decimalPtrString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var parentID, taker, takerNickname, escrowTxHash, paymentTxHash, detectedAmount sql.NullString
	var escrowConfirmedAt, paymentSubmittedAt, paymentConfirmedAt, takenAt, completedAt, cancelledAt sql.NullTime
	var tokenAmount, price, quoteAmount, feeRate, fee, netReceived, minQuote, maxQuote string
	var timeoutMinutes int

	err := row.Scan(
		&o.ID, &parentID, &o.Type, &o.Status,
		&o.Maker, &o.MakerNickname, &o.PaymentChain, &o.PayAddress, &taker, &takerNickname,
		&tokenAmount, &price, &quoteAmount, &feeRate, &fee, &netReceived,
		&minQuote, &maxQuote,
		&escrowTxHash, &escrowConfirmedAt,
		&paymentTxHash, &paymentSubmittedAt, &detectedAmount, &paymentConfirmedAt,
		&timeoutMinutes,
		&o.CreatedAt, &o.ExpiresAt, &takenAt, &completedAt, &cancelledAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	for _, pair := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&o.TokenAmount, tokenAmount}, {&o.Price, price}, {&o.QuoteAmount, quoteAmount},
		{&o.FeeRate, feeRate}, {&o.Fee, fee}, {&o.NetReceived, netReceived},
		{&o.MinQuote, minQuote}, {&o.MaxQuote, maxQuote},
	} {
		d, err := decimal.NewFromString(pair.src)
		if err != nil {
			return nil, fmt.Errorf("corrupt decimal column: %w", err)
		}
		*pair.dst = d
	}

	if parentID.Valid {
		o.ParentID = &parentID.String
	}
	if taker.Valid {
		o.Taker = &taker.String
	}
	if takerNickname.Valid {
		o.TakerNickname = &takerNickname.String
	}
	if escrowTxHash.Valid {
		o.EscrowTxHash = &escrowTxHash.String
	}
	if escrowConfirmedAt.Valid {
		o.EscrowConfirmedAt = &escrowConfirmedAt.Time
	}
	if paymentTxHash.Valid {
		o.PaymentTxHash = &paymentTxHash.String
	}
	if paymentSubmittedAt.Valid {
		o.PaymentSubmittedAt = &paymentSubmittedAt.Time
	}
	if detectedAmount.Valid {
		d, err := decimal.NewFromString(detectedAmount.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt decimal column: %w", err)
		}
		o.PaymentDetectedAmount = &d
	}
	if paymentConfirmedAt.Valid {
		o.PaymentConfirmedAt = &paymentConfirmedAt.Time
	}
	if takenAt.Valid {
		o.TakenAt = &takenAt.Time
	}
	if completedAt.Valid {
		o.CompletedAt = &completedAt.Time
	}
	if cancelledAt.Valid {
		o.CancelledAt = &cancelledAt.Time
	}
	o.PaymentTimeout = time.Duration(timeoutMinutes) * time.Minute
	return &o, nil
}

func (s *Postgres) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return order, err
}

func (s *Postgres) ListOrders(ctx context.Context, filter OrderFilter) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
	var args []any

	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, st := range filter.Status {
			statuses = append(statuses, string(st))
		}
		args = append(args, statuses)
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if filter.PaymentChain != "" {
		args = append(args, filter.PaymentChain)
		query += fmt.Sprintf(" AND payment_chain = $%d", len(args))
	}
	if filter.Participant != "" {
		args = append(args, filter.Participant)
		query += fmt.Sprintf(" AND (maker = $%d OR taker = $%d)", len(args), len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (s *Postgres) CompareAndSetStatus(ctx context.Context, id string, expected models.OrderStatus, upd OrderUpdate) (bool, error) {
	sets, args := buildSets(upd)
	args = append(args, id, expected)
	query := fmt.Sprintf(
		"UPDATE orders SET %s WHERE id=$%d AND status=$%d",
		strings.Join(sets, ", "), len(args)-1, len(args),
	)
	res, err := s.Pool.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func buildSets(upd OrderUpdate) ([]string, []any) {
	sets := []string{"updated_at=now()"}
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}

	add("status", upd.Status)
	if upd.Taker != nil {
		add("taker", *upd.Taker)
	}
	if upd.TakerNickname != nil {
		add("taker_nickname", *upd.TakerNickname)
	}
	if upd.TakenAt != nil {
		add("taken_at", *upd.TakenAt)
	}
	if upd.EscrowTxHash != nil {
		add("escrow_tx_hash", *upd.EscrowTxHash)
	}
	if upd.EscrowConfirmedAt != nil {
		add("escrow_confirmed_at", *upd.EscrowConfirmedAt)
	}
	if upd.PaymentTxHash != nil {
		add("payment_tx_hash", *upd.PaymentTxHash)
	}
	if upd.PaymentSubmittedAt != nil {
		add("payment_submitted_at", *upd.PaymentSubmittedAt)
	}
	if upd.PaymentDetectedAmount != nil {
		add("payment_detected_amount", upd.PaymentDetectedAmount.String())
	}
	if upd.PaymentConfirmedAt != nil {
		add("payment_confirmed_at", *upd.PaymentConfirmedAt)
	}
	if upd.CompletedAt != nil {
		add("completed_at", *upd.CompletedAt)
	}
	if upd.CancelledAt != nil {
		add("cancelled_at", *upd.CancelledAt)
	}
	return sets, args
}

func (s *Postgres) SpawnSubOrder(ctx context.Context, parentID string, expected models.OrderStatus, reduce ParentReduction, child *models.Order) (bool, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	res, err := tx.Exec(ctx, `
		UPDATE orders
		SET token_amount=$3, quote_amount=$4, fee=$5, net_received=$6,
			min_quote=$7, max_quote=$8, updated_at=now()
		WHERE id=$1 AND status=$2
	`, parentID, expected,
		reduce.TokenAmount.String(), reduce.QuoteAmount.String(),
		reduce.Fee.String(), reduce.NetReceived.String(),
		reduce.MinQuote.String(), reduce.MaxQuote.String())
	if err != nil {
		return false, err
	}
	if res.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,
			$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31)
	`, orderArgs(child)...)
	if err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (s *Postgres) AppendMessage(ctx context.Context, msg *models.Message) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO messages (id, order_id, sender, content, type, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, msg.ID, msg.OrderID, msg.Sender, msg.Content, msg.Type, msg.CreatedAt)
	return err
}

func (s *Postgres) ListMessages(ctx context.Context, orderID string) ([]*models.Message, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, order_id, sender, content, type, created_at
		FROM messages WHERE order_id=$1 ORDER BY created_at ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.OrderID, &m.Sender, &m.Content, &m.Type, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

func (s *Postgres) GetUser(ctx context.Context, wallet string) (*models.User, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT wallet, nickname, total_trades, completion_rate, created_at, updated_at
		FROM users WHERE wallet=$1
	`, wallet)

	var u models.User
	var completionRate string
	err := row.Scan(&u.Wallet, &u.Nickname, &u.TotalTrades, &completionRate, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CompletionRate, err = decimal.NewFromString(completionRate)
	if err != nil {
		return nil, fmt.Errorf("corrupt decimal column: %w", err)
	}
	return &u, nil
}

func (s *Postgres) UpsertUser(ctx context.Context, user *models.User) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO users (wallet, nickname, total_trades, completion_rate, created_at, updated_at)
		VALUES ($1,$2,$3,$4,now(),now())
		ON CONFLICT (wallet) DO UPDATE SET nickname=EXCLUDED.nickname, updated_at=now()
	`, user.Wallet, user.Nickname, user.TotalTrades, user.CompletionRate.String())
	return err
}

func (s *Postgres) GetPaymentAddress(ctx context.Context, wallet, chainID string) (*models.PaymentAddress, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT wallet, chain_id, address, updated_at
		FROM payment_addresses WHERE wallet=$1 AND chain_id=$2
	`, wallet, chainID)

	var pa models.PaymentAddress
	err := row.Scan(&pa.Wallet, &pa.Chain, &pa.Address, &pa.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pa, nil
}

func (s *Postgres) ListPaymentAddresses(ctx context.Context, wallet string) ([]*models.PaymentAddress, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT wallet, chain_id, address, updated_at
		FROM payment_addresses WHERE wallet=$1 ORDER BY chain_id
	`, wallet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.PaymentAddress
	for rows.Next() {
		var pa models.PaymentAddress
		if err := rows.Scan(&pa.Wallet, &pa.Chain, &pa.Address, &pa.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &pa)
	}
	return out, rows.Err()
}

func (s *Postgres) UpsertPaymentAddress(ctx context.Context, wallet, chainID, address string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var active int
	err = tx.QueryRow(ctx, `
		SELECT count(*) FROM orders
		WHERE (maker=$1 OR taker=$1) AND status NOT IN ('completed','cancelled')
	`, wallet).Scan(&active)
	if err != nil {
		return err
	}
	if active > 0 {
		return ErrActiveOrders
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO payment_addresses (wallet, chain_id, address, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (wallet, chain_id) DO UPDATE SET address=EXCLUDED.address, updated_at=now()
	`, wallet, chainID, address)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Postgres) MarketStats(ctx context.Context) (*models.MarketStats, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT count(*),
			count(*) FILTER (WHERE status NOT IN ('completed','cancelled')),
			coalesce(sum(quote_amount::numeric) FILTER (WHERE status='completed'), 0)::text
		FROM orders
	`)

	var stats models.MarketStats
	var volume string
	if err := row.Scan(&stats.TotalOrders, &stats.ActiveOrders, &volume); err != nil {
		return nil, err
	}
	var err error
	stats.TotalVolume, err = decimal.NewFromString(volume)
	if err != nil {
		return nil, fmt.Errorf("corrupt volume aggregate: %w", err)
	}
	return &stats, nil
}
