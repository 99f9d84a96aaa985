package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"

	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/domain"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/store"
)

type orderRow struct {
	OrderID                 string          `db:"order_id"`
	UserID                  string          `db:"user_id"`
	UserEmail               string          `db:"user_email"`
	AddressID               string          `db:"address_id"`
	Products                types.JSONText  `db:"products"`
	TotalAmount             decimal.Decimal `db:"total_amount"`
	TotalDiscountAmount     decimal.Decimal `db:"total_discount_amount"`
	TotalPriceAfterDiscount decimal.Decimal `db:"total_price_after_discount"`
	DeliveryStatus          string          `db:"delivery_status"`
	OrderCreated            bool            `db:"order_created"`
	PaymentID               string          `db:"payment_id"`
	GatewayOrderID          string          `db:"gateway_order_id"`
	CouponCode              string          `db:"coupon_code"`
	CouponType              string          `db:"coupon_type"`
	CreatedAt               time.Time       `db:"created_at"`
	UpdatedAt               time.Time       `db:"updated_at"`
}

func (r orderRow) toDomain() (domain.Order, error) {
	order := domain.Order{
		OrderID:                 r.OrderID,
		UserID:                  r.UserID,
		UserEmail:               r.UserEmail,
		AddressID:               r.AddressID,
		TotalAmount:             r.TotalAmount,
		TotalDiscountAmount:     r.TotalDiscountAmount,
		TotalPriceAfterDiscount: r.TotalPriceAfterDiscount,
		DeliveryStatus:          r.DeliveryStatus,
		OrderCreated:            r.OrderCreated,
		PaymentID:               r.PaymentID,
		GatewayOrderID:          r.GatewayOrderID,
		CouponCode:              r.CouponCode,
		CouponType:              r.CouponType,
		CreatedAt:               r.CreatedAt.UTC(),
		UpdatedAt:               r.UpdatedAt.UTC(),
	}
	if err := fromJSON(r.Products, &order.Products); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func ordersFromRows(rows []orderRow) ([]domain.Order, error) {
	out := make([]domain.Order, 0, len(rows))
	for _, r := range rows {
		order, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, nil
}

const orderColumns = `order_id, user_id, user_email, address_id, products, total_amount, total_discount_amount,
	total_price_after_discount, delivery_status, order_created, payment_id, gateway_order_id, coupon_code,
	coupon_type, created_at, updated_at`

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) error {
	products, err := toJSON(order.Products)
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, order.OrderID, order.UserID, order.UserEmail, order.AddressID, products, order.TotalAmount,
		order.TotalDiscountAmount, order.TotalPriceAfterDiscount, order.DeliveryStatus, order.OrderCreated,
		order.PaymentID, order.GatewayOrderID, order.CouponCode, order.CouponType, order.CreatedAt.UTC(),
		order.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var row orderRow
	err := sqlx.GetContext(ctx, s.conn(ctx), &row, `
		SELECT `+orderColumns+` FROM orders WHERE order_id = $1
	`, orderID)
	if err != nil {
		return nil, notFound(err)
	}
	order, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	var rows []orderRow
	err := sqlx.SelectContext(ctx, s.conn(ctx), &rows, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return ordersFromRows(rows)
}

func (s *Store) ListOrdersByStatus(ctx context.Context, status string, limit int) ([]domain.Order, error) {
	if limit < 1 {
		limit = 100
	}
	var rows []orderRow
	err := sqlx.SelectContext(ctx, s.conn(ctx), &rows, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE delivery_status = $1 AND order_created
		ORDER BY created_at ASC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	return ordersFromRows(rows)
}

func (s *Store) SetGatewayOrderID(ctx context.Context, orderID string, gatewayOrderID string) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE orders SET gateway_order_id = $2, updated_at = now() WHERE order_id = $1
	`, orderID, gatewayOrderID)
	if err != nil {
		return err
	}
	ok, err := expectOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) MarkOrderCreated(ctx context.Context, orderID string, paymentID string, at time.Time) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE orders
		SET order_created = true, payment_id = $2, updated_at = $3
		WHERE order_id = $1 AND NOT order_created AND delivery_status = $4
	`, orderID, paymentID, at.UTC(), domain.DeliveryPending)
	if err != nil {
		return err
	}
	ok, err := expectOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return s.missing(ctx, "orders", "order_id", orderID)
	}
	return nil
}

func (s *Store) DeleteUnpaidOrder(ctx context.Context, orderID string) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		DELETE FROM orders WHERE order_id = $1 AND NOT order_created
	`, orderID)
	if err != nil {
		return err
	}
	ok, err := expectOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return s.missing(ctx, "orders", "order_id", orderID)
	}
	return nil
}

func (s *Store) ListStaleOrders(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	if limit < 1 {
		limit = 100
	}
	var rows []orderRow
	err := sqlx.SelectContext(ctx, s.conn(ctx), &rows, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE NOT order_created AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, before.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return ordersFromRows(rows)
}

func (s *Store) UpdateDeliveryStatus(ctx context.Context, orderID string, from []string, to string, at time.Time) (*domain.Order, error) {
	var row orderRow
	err := sqlx.GetContext(ctx, s.conn(ctx), &row, `
		UPDATE orders
		SET delivery_status = $3, updated_at = $4
		WHERE order_id = $1 AND delivery_status = ANY($2)
		RETURNING `+orderColumns,
		orderID, from, to, at.UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.missing(ctx, "orders", "order_id", orderID)
		}
		return nil, err
	}
	order, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) SaveOrderLines(ctx context.Context, orderID string, lines []domain.OrderLine, at time.Time) error {
	products, err := toJSON(lines)
	if err != nil {
		return err
	}
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE orders SET products = $2, updated_at = $3 WHERE order_id = $1
	`, orderID, products, at.UTC())
	if err != nil {
		return err
	}
	ok, err := expectOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

type paymentRow struct {
	PaymentID        string          `db:"payment_id"`
	OrderID          string          `db:"order_id"`
	GatewayOrderID   string          `db:"gateway_order_id"`
	GatewayPaymentID string          `db:"gateway_payment_id"`
	Signature        string          `db:"signature"`
	Amount           decimal.Decimal `db:"amount"`
	CreatedAt        time.Time       `db:"created_at"`
}

func (s *Store) CreatePayment(ctx context.Context, payment domain.Payment) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO payments (payment_id, order_id, gateway_order_id, gateway_payment_id, signature, amount, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, payment.PaymentID, payment.OrderID, payment.GatewayOrderID, payment.GatewayPaymentID,
		payment.Signature, payment.Amount, payment.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) GetPaymentByOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	var row paymentRow
	err := sqlx.GetContext(ctx, s.conn(ctx), &row, `
		SELECT payment_id, order_id, gateway_order_id, gateway_payment_id, signature, amount, created_at
		FROM payments
		WHERE order_id = $1
	`, orderID)
	if err != nil {
		return nil, notFound(err)
	}
	return &domain.Payment{
		PaymentID:        row.PaymentID,
		OrderID:          row.OrderID,
		GatewayOrderID:   row.GatewayOrderID,
		GatewayPaymentID: row.GatewayPaymentID,
		Signature:        row.Signature,
		Amount:           row.Amount,
		CreatedAt:        row.CreatedAt.UTC(),
	}, nil
}

type returnRow struct {
	ReturnID    string         `db:"return_id"`
	OrderID     string         `db:"order_id"`
	UserID      string         `db:"user_id"`
	Lines       types.JSONText `db:"lines"`
	Status      string         `db:"status"`
	RequestedAt time.Time      `db:"requested_at"`
	DecidedAt   *time.Time     `db:"decided_at"`
}

func (r returnRow) toDomain() (domain.ReturnOrder, error) {
	ret := domain.ReturnOrder{
		ReturnID:    r.ReturnID,
		OrderID:     r.OrderID,
		UserID:      r.UserID,
		Status:      r.Status,
		RequestedAt: r.RequestedAt.UTC(),
		DecidedAt:   utcPtr(r.DecidedAt),
	}
	if err := fromJSON(r.Lines, &ret.Lines); err != nil {
		return domain.ReturnOrder{}, err
	}
	return ret, nil
}

const returnColumns = `return_id, order_id, user_id, lines, status, requested_at, decided_at`

func (s *Store) CreateReturnOrder(ctx context.Context, ret domain.ReturnOrder) error {
	lines, err := toJSON(ret.Lines)
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO return_orders (`+returnColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, ret.ReturnID, ret.OrderID, ret.UserID, lines, ret.Status, ret.RequestedAt.UTC(), nullTime(ret.DecidedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) GetReturnOrder(ctx context.Context, returnID string) (*domain.ReturnOrder, error) {
	var row returnRow
	err := sqlx.GetContext(ctx, s.conn(ctx), &row, `
		SELECT `+returnColumns+` FROM return_orders WHERE return_id = $1
	`, returnID)
	if err != nil {
		return nil, notFound(err)
	}
	ret, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &ret, nil
}

func (s *Store) TransitionReturnOrder(ctx context.Context, returnID string, from string, to string, at time.Time) (*domain.ReturnOrder, error) {
	var row returnRow
	err := sqlx.GetContext(ctx, s.conn(ctx), &row, `
		UPDATE return_orders
		SET status = $3, decided_at = $4
		WHERE return_id = $1 AND status = $2
		RETURNING `+returnColumns,
		returnID, from, to, at.UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.missing(ctx, "return_orders", "return_id", returnID)
		}
		return nil, err
	}
	ret, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &ret, nil
}
