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

type billRow struct {
	BillID             string          `db:"bill_id"`
	StoreID            string          `db:"store_id"`
	Customer           types.JSONText  `db:"customer"`
	Products           types.JSONText  `db:"products"`
	TotalAmount        decimal.Decimal `db:"total_amount"`
	DiscountPercentage int             `db:"discount_percentage"`
	PriceAfterDiscount decimal.Decimal `db:"price_after_discount"`
	ModeOfPayment      string          `db:"mode_of_payment"`
	InvoiceURL         string          `db:"invoice_url"`
	EditStatus         string          `db:"edit_status"`
	DeleteReqStatus    string          `db:"delete_req_status"`
	DeleteReqNote      string          `db:"delete_req_note"`
	DeleteValidateNote string          `db:"delete_validate_note"`
	IsDeleted          bool            `db:"is_deleted"`
	CreatedBy          string          `db:"created_by"`
	CreatedAt          time.Time       `db:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at"`
}

func (r billRow) toDomain() (domain.Bill, error) {
	bill := domain.Bill{
		BillID:             r.BillID,
		StoreID:            r.StoreID,
		TotalAmount:        r.TotalAmount,
		DiscountPercentage: r.DiscountPercentage,
		PriceAfterDiscount: r.PriceAfterDiscount,
		ModeOfPayment:      r.ModeOfPayment,
		InvoiceURL:         r.InvoiceURL,
		EditStatus:         r.EditStatus,
		DeleteReqStatus:    r.DeleteReqStatus,
		DeleteReqNote:      r.DeleteReqNote,
		DeleteValidateNote: r.DeleteValidateNote,
		IsDeleted:          r.IsDeleted,
		CreatedBy:          r.CreatedBy,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
	if err := fromJSON(r.Customer, &bill.Customer); err != nil {
		return domain.Bill{}, err
	}
	if err := fromJSON(r.Products, &bill.Products); err != nil {
		return domain.Bill{}, err
	}
	return bill, nil
}

const billColumns = `bill_id, store_id, customer, products, total_amount, discount_percentage, price_after_discount,
	mode_of_payment, invoice_url, edit_status, delete_req_status, delete_req_note, delete_validate_note,
	is_deleted, created_by, created_at, updated_at`

func (s *Store) CreateBill(ctx context.Context, bill domain.Bill) error {
	customer, err := toJSON(bill.Customer)
	if err != nil {
		return err
	}
	products, err := toJSON(bill.Products)
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO bills (`+billColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, bill.BillID, bill.StoreID, customer, products, bill.TotalAmount, bill.DiscountPercentage,
		bill.PriceAfterDiscount, bill.ModeOfPayment, bill.InvoiceURL, bill.EditStatus, bill.DeleteReqStatus,
		bill.DeleteReqNote, bill.DeleteValidateNote, bill.IsDeleted, bill.CreatedBy, bill.CreatedAt.UTC(),
		bill.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) GetBill(ctx context.Context, billID string) (*domain.Bill, error) {
	var row billRow
	err := sqlx.GetContext(ctx, s.conn(ctx), &row, `
		SELECT `+billColumns+` FROM bills WHERE bill_id = $1
	`, billID)
	if err != nil {
		return nil, notFound(err)
	}
	bill, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &bill, nil
}

func (s *Store) ListBills(ctx context.Context, storeID string, includeDeleted bool) ([]domain.Bill, error) {
	var rows []billRow
	err := sqlx.SelectContext(ctx, s.conn(ctx), &rows, `
		SELECT `+billColumns+`
		FROM bills
		WHERE ($1 = '' OR store_id = $1) AND ($2 OR NOT is_deleted)
		ORDER BY created_at DESC
	`, storeID, includeDeleted)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Bill, 0, len(rows))
	for _, r := range rows {
		bill, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, bill)
	}
	return out, nil
}

func (s *Store) SetInvoiceURL(ctx context.Context, billID string, url string) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE bills SET invoice_url = $2 WHERE bill_id = $1
	`, billID, url)
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

func (s *Store) ReplaceBill(ctx context.Context, bill domain.Bill) error {
	customer, err := toJSON(bill.Customer)
	if err != nil {
		return err
	}
	products, err := toJSON(bill.Products)
	if err != nil {
		return err
	}
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE bills SET
			customer = $2, products = $3, total_amount = $4, discount_percentage = $5,
			price_after_discount = $6, mode_of_payment = $7, invoice_url = $8, edit_status = $9,
			updated_at = $10
		WHERE bill_id = $1
	`, bill.BillID, customer, products, bill.TotalAmount, bill.DiscountPercentage, bill.PriceAfterDiscount,
		bill.ModeOfPayment, bill.InvoiceURL, bill.EditStatus, bill.UpdatedAt.UTC())
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

type oldBillRow struct {
	ArchiveID     string         `db:"archive_id"`
	BillID        string         `db:"bill_id"`
	EditBillReqID string         `db:"edit_bill_req_id"`
	Snapshot      types.JSONText `db:"snapshot"`
	ArchivedAt    time.Time      `db:"archived_at"`
}

func (s *Store) ArchiveBill(ctx context.Context, old domain.OldBill) error {
	snapshot, err := toJSON(old.Snapshot)
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO old_bills (archive_id, bill_id, edit_bill_req_id, snapshot, archived_at)
		VALUES ($1,$2,$3,$4,$5)
	`, old.ArchiveID, old.BillID, old.EditBillReqID, snapshot, old.ArchivedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListOldBills(ctx context.Context, billID string) ([]domain.OldBill, error) {
	var rows []oldBillRow
	err := sqlx.SelectContext(ctx, s.conn(ctx), &rows, `
		SELECT archive_id, bill_id, edit_bill_req_id, snapshot, archived_at
		FROM old_bills
		WHERE bill_id = $1
		ORDER BY archived_at ASC
	`, billID)
	if err != nil {
		return nil, err
	}

	out := make([]domain.OldBill, 0, len(rows))
	for _, r := range rows {
		old := domain.OldBill{
			ArchiveID:     r.ArchiveID,
			BillID:        r.BillID,
			EditBillReqID: r.EditBillReqID,
			ArchivedAt:    r.ArchivedAt.UTC(),
		}
		if err := fromJSON(r.Snapshot, &old.Snapshot); err != nil {
			return nil, err
		}
		out = append(out, old)
	}
	return out, nil
}

func (s *Store) SetBillEditStatus(ctx context.Context, billID string, from []string, to string, at time.Time) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE bills
		SET edit_status = $3, updated_at = $4
		WHERE bill_id = $1 AND NOT is_deleted AND edit_status = ANY($2)
	`, billID, from, to, at.UTC())
	if err != nil {
		return err
	}
	ok, err := expectOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return s.missing(ctx, "bills", "bill_id", billID)
	}
	return nil
}

func (s *Store) RequestBillDelete(ctx context.Context, billID string, note string, at time.Time) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE bills
		SET delete_req_status = $2, delete_req_note = $3, delete_validate_note = '', updated_at = $4
		WHERE bill_id = $1 AND NOT is_deleted AND delete_req_status <> $2
	`, billID, domain.ApprovalPending, note, at.UTC())
	if err != nil {
		return err
	}
	ok, err := expectOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return s.missing(ctx, "bills", "bill_id", billID)
	}
	return nil
}

func (s *Store) DecideBillDelete(ctx context.Context, billID string, approved bool, note string, at time.Time) (*domain.Bill, error) {
	status := domain.ApprovalRejected
	if approved {
		status = domain.ApprovalApproved
	}

	var row billRow
	err := sqlx.GetContext(ctx, s.conn(ctx), &row, `
		UPDATE bills
		SET delete_req_status = $2, is_deleted = $3, delete_validate_note = $4, updated_at = $5
		WHERE bill_id = $1 AND delete_req_status = $6
		RETURNING `+billColumns,
		billID, status, approved, note, at.UTC(), domain.ApprovalPending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.missing(ctx, "bills", "bill_id", billID)
		}
		return nil, err
	}
	bill, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &bill, nil
}

type editReqRow struct {
	ID                 string          `db:"id"`
	BillID             string          `db:"bill_id"`
	StoreID            string          `db:"store_id"`
	Before             types.JSONText  `db:"before"`
	Customer           types.JSONText  `db:"customer"`
	Products           types.JSONText  `db:"products"`
	TotalAmount        decimal.Decimal `db:"total_amount"`
	DiscountPercentage int             `db:"discount_percentage"`
	PriceAfterDiscount decimal.Decimal `db:"price_after_discount"`
	ModeOfPayment      string          `db:"mode_of_payment"`
	RequestNote        string          `db:"request_note"`
	Status             string          `db:"status"`
	ValidateNote       string          `db:"validate_note"`
	RequestedBy        string          `db:"requested_by"`
	RequestedAt        time.Time       `db:"requested_at"`
	ValidatedAt        *time.Time      `db:"validated_at"`
}

func (r editReqRow) toDomain() (domain.BillEditReq, error) {
	req := domain.BillEditReq{
		EditBillReqID:      r.ID,
		BillID:             r.BillID,
		StoreID:            r.StoreID,
		TotalAmount:        r.TotalAmount,
		DiscountPercentage: r.DiscountPercentage,
		PriceAfterDiscount: r.PriceAfterDiscount,
		ModeOfPayment:      r.ModeOfPayment,
		RequestNote:        r.RequestNote,
		Status:             r.Status,
		ValidateNote:       r.ValidateNote,
		RequestedBy:        r.RequestedBy,
		RequestedAt:        r.RequestedAt.UTC(),
		ValidatedAt:        utcPtr(r.ValidatedAt),
	}
	if err := fromJSON(r.Before, &req.Before); err != nil {
		return domain.BillEditReq{}, err
	}
	if err := fromJSON(r.Customer, &req.Customer); err != nil {
		return domain.BillEditReq{}, err
	}
	if err := fromJSON(r.Products, &req.Products); err != nil {
		return domain.BillEditReq{}, err
	}
	return req, nil
}

const editReqColumns = `id, bill_id, store_id, before, customer, products, total_amount, discount_percentage,
	price_after_discount, mode_of_payment, request_note, status, validate_note, requested_by, requested_at,
	validated_at`

func (s *Store) CreateBillEditReq(ctx context.Context, req domain.BillEditReq) error {
	before, err := toJSON(req.Before)
	if err != nil {
		return err
	}
	customer, err := toJSON(req.Customer)
	if err != nil {
		return err
	}
	products, err := toJSON(req.Products)
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO bill_edit_reqs (`+editReqColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, req.EditBillReqID, req.BillID, req.StoreID, before, customer, products, req.TotalAmount,
		req.DiscountPercentage, req.PriceAfterDiscount, req.ModeOfPayment, req.RequestNote, req.Status,
		req.ValidateNote, req.RequestedBy, req.RequestedAt.UTC(), nullTime(req.ValidatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) GetBillEditReq(ctx context.Context, id string) (*domain.BillEditReq, error) {
	var row editReqRow
	err := sqlx.GetContext(ctx, s.conn(ctx), &row, `
		SELECT `+editReqColumns+` FROM bill_edit_reqs WHERE id = $1
	`, id)
	if err != nil {
		return nil, notFound(err)
	}
	req, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *Store) ListBillEditReqs(ctx context.Context, storeID string, status string) ([]domain.BillEditReq, error) {
	var rows []editReqRow
	err := sqlx.SelectContext(ctx, s.conn(ctx), &rows, `
		SELECT `+editReqColumns+`
		FROM bill_edit_reqs
		WHERE ($1 = '' OR store_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY requested_at DESC
	`, storeID, status)
	if err != nil {
		return nil, err
	}

	out := make([]domain.BillEditReq, 0, len(rows))
	for _, r := range rows {
		req, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

func (s *Store) DecideBillEditReq(ctx context.Context, id string, status string, note string, at time.Time) (*domain.BillEditReq, error) {
	var row editReqRow
	err := sqlx.GetContext(ctx, s.conn(ctx), &row, `
		UPDATE bill_edit_reqs
		SET status = $2, validate_note = $3, validated_at = $4
		WHERE id = $1 AND status = $5
		RETURNING `+editReqColumns,
		id, status, note, at.UTC(), domain.ApprovalPending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.missing(ctx, "bill_edit_reqs", "id", id)
		}
		return nil, err
	}
	req, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &req, nil
}
