package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/domain"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/store"
)

type couponRow struct {
	CouponCode         string         `db:"coupon_code"`
	Type               string         `db:"type"`
	DiscountPercentage int            `db:"discount_percentage"`
	Status             string         `db:"status"`
	ExpiryDate         time.Time      `db:"expiry_date"`
	LinkedGroup        string         `db:"linked_group"`
	LinkedProductID    string         `db:"linked_product_id"`
	CustomerID         string         `db:"customer_id"`
	OrderID            string         `db:"order_id"`
	UsedBy             types.JSONText `db:"used_by"`
	CreatedBy          string         `db:"created_by"`
	CreatedAt          time.Time      `db:"created_at"`
}

func (r couponRow) toDomain() (domain.Coupon, error) {
	coupon := domain.Coupon{
		CouponCode:         r.CouponCode,
		Type:               r.Type,
		DiscountPercentage: r.DiscountPercentage,
		Status:             r.Status,
		ExpiryDate:         r.ExpiryDate.UTC(),
		LinkedGroup:        r.LinkedGroup,
		LinkedProductID:    r.LinkedProductID,
		CustomerID:         r.CustomerID,
		OrderID:            r.OrderID,
		CreatedBy:          r.CreatedBy,
		CreatedAt:          r.CreatedAt.UTC(),
	}
	if err := fromJSON(r.UsedBy, &coupon.UsedBy); err != nil {
		return domain.Coupon{}, err
	}
	return coupon, nil
}

const couponColumns = `coupon_code, type, discount_percentage, status, expiry_date, linked_group,
	linked_product_id, customer_id, order_id, used_by, created_by, created_at`

func (s *Store) CreateCoupon(ctx context.Context, coupon domain.Coupon) error {
	if coupon.UsedBy == nil {
		coupon.UsedBy = []domain.CouponUsage{}
	}
	usedBy, err := toJSON(coupon.UsedBy)
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO coupons (`+couponColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, coupon.CouponCode, coupon.Type, coupon.DiscountPercentage, coupon.Status, coupon.ExpiryDate.UTC(),
		coupon.LinkedGroup, coupon.LinkedProductID, coupon.CustomerID, coupon.OrderID, usedBy,
		coupon.CreatedBy, coupon.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) GetCoupon(ctx context.Context, code string) (*domain.Coupon, error) {
	var row couponRow
	err := sqlx.GetContext(ctx, s.conn(ctx), &row, `
		SELECT `+couponColumns+` FROM coupons WHERE coupon_code = $1
	`, code)
	if err != nil {
		return nil, notFound(err)
	}
	coupon, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

func (s *Store) ListCoupons(ctx context.Context, status string) ([]domain.Coupon, error) {
	var rows []couponRow
	err := sqlx.SelectContext(ctx, s.conn(ctx), &rows, `
		SELECT `+couponColumns+`
		FROM coupons
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
	`, status)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Coupon, 0, len(rows))
	for _, r := range rows {
		coupon, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, coupon)
	}
	return out, nil
}

func (s *Store) ReserveCoupon(ctx context.Context, code string, customerID string, orderID string) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE coupons
		SET status = $2, customer_id = $3, order_id = $4
		WHERE coupon_code = $1 AND status = $5
	`, code, domain.CouponReserved, customerID, orderID, domain.CouponPending)
	if err != nil {
		return err
	}
	ok, err := expectOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return s.missing(ctx, "coupons", "coupon_code", code)
	}
	return nil
}

func (s *Store) ReleaseCoupon(ctx context.Context, code string, orderID string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE coupons
		SET status = $3, customer_id = '', order_id = ''
		WHERE coupon_code = $1 AND order_id = $2 AND status = $4
	`, code, orderID, domain.CouponPending, domain.CouponReserved)
	return err
}

func (s *Store) MarkCouponUsed(ctx context.Context, code string, orderID string) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE coupons
		SET status = $3
		WHERE coupon_code = $1 AND order_id = $2 AND status = $4
	`, code, orderID, domain.CouponUsed, domain.CouponReserved)
	if err != nil {
		return err
	}
	ok, err := expectOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return s.missing(ctx, "coupons", "coupon_code", code)
	}
	return nil
}

// AppendCouponUsage relies on jsonb containment to refuse a second use by
// the same customer.
func (s *Store) AppendCouponUsage(ctx context.Context, code string, usage domain.CouponUsage) error {
	entry, err := toJSON([]domain.CouponUsage{usage})
	if err != nil {
		return err
	}
	customer, err := toJSON([]map[string]string{{"customer_id": usage.CustomerID}})
	if err != nil {
		return err
	}
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE coupons
		SET used_by = used_by || $2::jsonb
		WHERE coupon_code = $1 AND status = $3 AND NOT used_by @> $4::jsonb
	`, code, entry, domain.CouponPending, customer)
	if err != nil {
		return err
	}
	ok, err := expectOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return s.missing(ctx, "coupons", "coupon_code", code)
	}
	return nil
}

func (s *Store) ExpireCoupons(ctx context.Context, now time.Time) (int, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE coupons SET status = $1 WHERE status = $2 AND expiry_date < $3
	`, domain.CouponExpired, domain.CouponPending, now.UTC())
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}
