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

type assignedRow struct {
	ID                string          `db:"id"`
	StoreID           string          `db:"store_id"`
	Status            string          `db:"status"`
	TotalAmount       decimal.Decimal `db:"total_amount"`
	Products          types.JSONText  `db:"products"`
	RaisedInventoryID string          `db:"raised_inventory_id"`
	CreatedBy         string          `db:"created_by"`
	AssignedDate      time.Time       `db:"assigned_date"`
	ReceivedDate      *time.Time      `db:"received_date"`
}

func (r assignedRow) toDomain() (domain.AssignedInventory, error) {
	inv := domain.AssignedInventory{
		AssignedInventoryID:   r.ID,
		StoreID:               r.StoreID,
		Status:                r.Status,
		TotalAmountOfAssigned: r.TotalAmount,
		RaisedInventoryID:     r.RaisedInventoryID,
		CreatedBy:             r.CreatedBy,
		AssignedDate:          r.AssignedDate.UTC(),
		ReceivedDate:          utcPtr(r.ReceivedDate),
	}
	if err := fromJSON(r.Products, &inv.Products); err != nil {
		return domain.AssignedInventory{}, err
	}
	return inv, nil
}

const assignedColumns = `id, store_id, status, total_amount, products, raised_inventory_id, created_by, assigned_date, received_date`

func (s *Store) CreateAssignedInventory(ctx context.Context, inv domain.AssignedInventory) error {
	products, err := toJSON(inv.Products)
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO assigned_inventories (`+assignedColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, inv.AssignedInventoryID, inv.StoreID, inv.Status, inv.TotalAmountOfAssigned, products,
		inv.RaisedInventoryID, inv.CreatedBy, inv.AssignedDate.UTC(), nullTime(inv.ReceivedDate))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) GetAssignedInventory(ctx context.Context, id string) (*domain.AssignedInventory, error) {
	var row assignedRow
	err := sqlx.GetContext(ctx, s.conn(ctx), &row, `
		SELECT `+assignedColumns+` FROM assigned_inventories WHERE id = $1
	`, id)
	if err != nil {
		return nil, notFound(err)
	}
	inv, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Store) ListAssignedInventories(ctx context.Context, storeID string, status string) ([]domain.AssignedInventory, error) {
	var rows []assignedRow
	err := sqlx.SelectContext(ctx, s.conn(ctx), &rows, `
		SELECT `+assignedColumns+`
		FROM assigned_inventories
		WHERE ($1 = '' OR store_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY assigned_date DESC
	`, storeID, status)
	if err != nil {
		return nil, err
	}

	out := make([]domain.AssignedInventory, 0, len(rows))
	for _, r := range rows {
		inv, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

func (s *Store) MarkAssignedReceived(ctx context.Context, id string, at time.Time) (*domain.AssignedInventory, error) {
	var row assignedRow
	err := sqlx.GetContext(ctx, s.conn(ctx), &row, `
		UPDATE assigned_inventories
		SET status = $2, received_date = $3
		WHERE id = $1 AND status = $4
		RETURNING `+assignedColumns,
		id, domain.AssignedStatusReceived, at.UTC(), domain.AssignedStatusAssigned)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.missing(ctx, "assigned_inventories", "id", id)
		}
		return nil, err
	}
	inv, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

type raisedRow struct {
	ID           string          `db:"id"`
	StoreID      string          `db:"store_id"`
	Status       string          `db:"status"`
	TotalAmount  decimal.Decimal `db:"total_amount"`
	Products     types.JSONText  `db:"products"`
	RaisedBy     string          `db:"raised_by"`
	DecisionNote string          `db:"decision_note"`
	FulfilledBy  string          `db:"fulfilled_by"`
	RaisedDate   time.Time       `db:"raised_date"`
	ApprovedDate *time.Time      `db:"approved_date"`
	RejectedDate *time.Time      `db:"rejected_date"`
	ReceivedDate *time.Time      `db:"received_date"`
}

func (r raisedRow) toDomain() (domain.RaisedInventory, error) {
	inv := domain.RaisedInventory{
		RaisedInventoryID: r.ID,
		StoreID:           r.StoreID,
		Status:            r.Status,
		TotalAmountRaised: r.TotalAmount,
		RaisedBy:          r.RaisedBy,
		DecisionNote:      r.DecisionNote,
		FulfilledBy:       r.FulfilledBy,
		RaisedDate:        r.RaisedDate.UTC(),
		ApprovedDate:      utcPtr(r.ApprovedDate),
		RejectedDate:      utcPtr(r.RejectedDate),
		ReceivedDate:      utcPtr(r.ReceivedDate),
	}
	if err := fromJSON(r.Products, &inv.Products); err != nil {
		return domain.RaisedInventory{}, err
	}
	return inv, nil
}

const raisedColumns = `id, store_id, status, total_amount, products, raised_by, decision_note, fulfilled_by,
	raised_date, approved_date, rejected_date, received_date`

func (s *Store) CreateRaisedInventory(ctx context.Context, inv domain.RaisedInventory) error {
	products, err := toJSON(inv.Products)
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO raised_inventories (`+raisedColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, inv.RaisedInventoryID, inv.StoreID, inv.Status, inv.TotalAmountRaised, products, inv.RaisedBy,
		inv.DecisionNote, inv.FulfilledBy, inv.RaisedDate.UTC(), nullTime(inv.ApprovedDate),
		nullTime(inv.RejectedDate), nullTime(inv.ReceivedDate))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) GetRaisedInventory(ctx context.Context, id string) (*domain.RaisedInventory, error) {
	var row raisedRow
	err := sqlx.GetContext(ctx, s.conn(ctx), &row, `
		SELECT `+raisedColumns+` FROM raised_inventories WHERE id = $1
	`, id)
	if err != nil {
		return nil, notFound(err)
	}
	inv, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Store) ListRaisedInventories(ctx context.Context, storeID string, status string) ([]domain.RaisedInventory, error) {
	var rows []raisedRow
	err := sqlx.SelectContext(ctx, s.conn(ctx), &rows, `
		SELECT `+raisedColumns+`
		FROM raised_inventories
		WHERE ($1 = '' OR store_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY raised_date DESC
	`, storeID, status)
	if err != nil {
		return nil, err
	}

	out := make([]domain.RaisedInventory, 0, len(rows))
	for _, r := range rows {
		inv, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

func (s *Store) TransitionRaisedInventory(ctx context.Context, id string, from string, to string, note string, at time.Time) (*domain.RaisedInventory, error) {
	var row raisedRow
	err := sqlx.GetContext(ctx, s.conn(ctx), &row, `
		UPDATE raised_inventories SET
			status = $3,
			decision_note = CASE WHEN $4 <> '' THEN $4 ELSE decision_note END,
			approved_date = CASE WHEN $3 = 'APPROVED' THEN $5 ELSE approved_date END,
			rejected_date = CASE WHEN $3 = 'REJECTED' THEN $5 ELSE rejected_date END,
			received_date = CASE WHEN $3 = 'RECEIVED' THEN $5 ELSE received_date END
		WHERE id = $1 AND status = $2
		RETURNING `+raisedColumns,
		id, from, to, note, at.UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.missing(ctx, "raised_inventories", "id", id)
		}
		return nil, err
	}
	inv, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Store) MarkRaisedFulfilled(ctx context.Context, id string, assignedInventoryID string) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE raised_inventories
		SET fulfilled_by = $2
		WHERE id = $1 AND status = $3 AND fulfilled_by = ''
	`, id, assignedInventoryID, domain.RaisedStatusApproved)
	if err != nil {
		return err
	}
	ok, err := expectOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return s.missing(ctx, "raised_inventories", "id", id)
	}
	return nil
}
