package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
	"go.uber.org/zap"

	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/apperr"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/catalog"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/domain"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/policy"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/store"
)

const phoneRegion = "IN"

// normalizePhone returns the E.164 form of a customer number.
func normalizePhone(phone string) (string, error) {
	num, err := libphonenumber.Parse(strings.TrimSpace(phone), phoneRegion)
	if err != nil {
		return "", apperr.BadRequest("invalid customer phone: %v", err)
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", apperr.BadRequest("invalid customer phone number")
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}

type billDraft struct {
	customer      domain.Customer
	lines         []domain.BillLine
	total         decimal.Decimal
	discountPct   int
	afterDiscount decimal.Decimal
	modeOfPayment string
}

// draftBill snapshots catalog prices for the requested lines. Billing never
// touches stock.
func (s *Service) draftBill(ctx context.Context, req domain.CreateBillRequest) (billDraft, error) {
	if err := s.validateStruct(req); err != nil {
		return billDraft{}, err
	}
	phone, err := normalizePhone(req.Customer.Phone)
	if err != nil {
		return billDraft{}, err
	}

	lines := make([]domain.BillLine, 0, len(req.Products))
	total := decimal.Zero
	for _, item := range req.Products {
		brand, ok := catalog.Lookup(item.Group)
		if !ok {
			return billDraft{}, apperr.BadRequest("unknown group %q", item.Group)
		}
		ref := item.SizeRef
		ref.Group = brand.Group
		stock, err := s.repo.FindVariantSize(ctx, ref)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return billDraft{}, apperr.BadRequest("product %s %s/%s not found", ref.ProductID, ref.Color, ref.Size)
			}
			return billDraft{}, apperr.Internal(err)
		}
		total = total.Add(lineAmount(stock.Price, item.Quantity))
		lines = append(lines, domain.BillLine{
			Group:       stock.Group,
			ProductID:   stock.ProductID,
			ProductName: stock.ProductName,
			Color:       stock.Color,
			Size:        stock.Size,
			SKU:         stock.SKU,
			Quantity:    item.Quantity,
			Price:       stock.Price,
		})
	}

	customer := req.Customer
	customer.Name = strings.TrimSpace(customer.Name)
	customer.Phone = phone
	customer.Email = strings.TrimSpace(customer.Email)
	return billDraft{
		customer:      customer,
		lines:         lines,
		total:         total,
		discountPct:   req.DiscountPercentage,
		afterDiscount: total.Sub(percentOf(total, req.DiscountPercentage)),
		modeOfPayment: req.ModeOfPayment,
	}, nil
}

func (s *Service) CreateBill(ctx context.Context, req domain.CreateBillRequest) (domain.Bill, error) {
	actor, err := policy.RequireRole(ctx, domain.RoleStoreManager)
	if err != nil {
		return domain.Bill{}, err
	}
	if actor.StoreID == "" {
		return domain.Bill{}, apperr.Forbidden("store manager has no store")
	}
	draft, err := s.draftBill(ctx, req)
	if err != nil {
		return domain.Bill{}, err
	}

	var bill domain.Bill
	err = withCode(ledgerCodeLength, func(code string) error {
		now := s.now()
		bill = domain.Bill{
			BillID:             code,
			StoreID:            actor.StoreID,
			Customer:           draft.customer,
			Products:           draft.lines,
			TotalAmount:        draft.total,
			DiscountPercentage: draft.discountPct,
			PriceAfterDiscount: draft.afterDiscount,
			ModeOfPayment:      draft.modeOfPayment,
			CreatedBy:          actor.Username,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		return s.repo.CreateBill(ctx, bill)
	})
	if err != nil {
		return domain.Bill{}, storeErr(err, "bill")
	}

	if url := s.publishInvoice(ctx, bill); url != "" {
		bill.InvoiceURL = url
	}
	return bill, nil
}

// publishInvoice renders the bill, stores it and records the URL. Failures are
// logged and leave the bill without an invoice.
func (s *Service) publishInvoice(ctx context.Context, bill domain.Bill) string {
	body, err := renderInvoice(bill)
	if err != nil {
		s.log.Warn("render invoice", zap.String("bill_id", bill.BillID), zap.Error(err))
		return ""
	}
	key := "invoices/" + bill.StoreID + "/" + bill.BillID + "-" + bill.UpdatedAt.Format("20060102150405") + ".html"
	url, err := s.blobs.Put(ctx, key, body, "text/html; charset=utf-8")
	if err != nil {
		s.log.Warn("upload invoice", zap.String("bill_id", bill.BillID), zap.Error(err))
		return ""
	}
	if err := s.repo.SetInvoiceURL(ctx, bill.BillID, url); err != nil {
		s.log.Warn("save invoice url", zap.String("bill_id", bill.BillID), zap.Error(err))
		return ""
	}
	return url
}

// ownBill loads a bill the calling store manager may act on.
func (s *Service) ownBill(ctx context.Context, billID string) (domain.Actor, *domain.Bill, error) {
	actor, err := policy.RequireRole(ctx, domain.RoleStoreManager)
	if err != nil {
		return domain.Actor{}, nil, err
	}
	bill, err := s.repo.GetBill(ctx, billID)
	if err != nil {
		return domain.Actor{}, nil, storeErr(err, "bill")
	}
	if bill.StoreID != actor.StoreID {
		return domain.Actor{}, nil, apperr.Forbidden("store mismatch")
	}
	if bill.IsDeleted {
		return domain.Actor{}, nil, apperr.Conflict("bill has been deleted")
	}
	return actor, bill, nil
}

// RequestBillEdit files a change for warehouse approval. One edit may be
// pending per bill.
func (s *Service) RequestBillEdit(ctx context.Context, billID string, req domain.BillEditRequest) (domain.BillEditReq, error) {
	actor, bill, err := s.ownBill(ctx, billID)
	if err != nil {
		return domain.BillEditReq{}, err
	}
	draft, err := s.draftBill(ctx, req.CreateBillRequest)
	if err != nil {
		return domain.BillEditReq{}, err
	}

	var out domain.BillEditReq
	err = withCode(ledgerCodeLength, func(code string) error {
		return s.repo.WithinTx(ctx, func(ctx context.Context) error {
			now := s.now()
			err := s.repo.SetBillEditStatus(ctx, billID,
				[]string{"", domain.ApprovalApproved, domain.ApprovalRejected}, domain.ApprovalPending, now)
			if err != nil {
				if errors.Is(err, store.ErrConflict) {
					return apperr.Wrap(apperr.KindConflict, err, "an edit request is already pending for this bill")
				}
				return err
			}
			out = domain.BillEditReq{
				EditBillReqID:      code,
				BillID:             billID,
				StoreID:            bill.StoreID,
				Before:             *bill,
				Customer:           draft.customer,
				Products:           draft.lines,
				TotalAmount:        draft.total,
				DiscountPercentage: draft.discountPct,
				PriceAfterDiscount: draft.afterDiscount,
				ModeOfPayment:      draft.modeOfPayment,
				RequestNote:        strings.TrimSpace(req.RequestNote),
				Status:             domain.ApprovalPending,
				RequestedBy:        actor.Username,
				RequestedAt:        now,
			}
			return s.repo.CreateBillEditReq(ctx, out)
		})
	})
	if err != nil {
		return domain.BillEditReq{}, storeErr(err, "bill")
	}
	return out, nil
}

// ValidateBillEditReq decides an edit request. Approval archives the current
// bill before the requested fields overwrite it; rejection leaves it as is.
func (s *Service) ValidateBillEditReq(ctx context.Context, editBillReqID string, req domain.ValidateRequest) (domain.BillEditReq, error) {
	if _, err := policy.RequireRole(ctx, domain.RoleWarehouseManager); err != nil {
		return domain.BillEditReq{}, err
	}

	status := domain.ApprovalRejected
	if req.IsApproved {
		status = domain.ApprovalApproved
	}
	note := strings.TrimSpace(req.ValidateNote)

	var (
		decided *domain.BillEditReq
		updated domain.Bill
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		now := s.now()
		var err error
		decided, err = s.repo.DecideBillEditReq(ctx, editBillReqID, status, note, now)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apperr.Wrap(apperr.KindConflict, err, "edit request has already been decided")
			}
			return err
		}
		if !req.IsApproved {
			return s.repo.SetBillEditStatus(ctx, decided.BillID, []string{domain.ApprovalPending}, domain.ApprovalRejected, now)
		}

		current, err := s.repo.GetBill(ctx, decided.BillID)
		if err != nil {
			return err
		}
		if current.IsDeleted {
			return apperr.Conflict("bill has been deleted")
		}
		if err := s.repo.ArchiveBill(ctx, domain.OldBill{
			ArchiveID:     uuid.NewString(),
			BillID:        current.BillID,
			EditBillReqID: decided.EditBillReqID,
			Snapshot:      *current,
			ArchivedAt:    now,
		}); err != nil {
			return err
		}

		updated = *current
		updated.Customer = decided.Customer
		updated.Products = decided.Products
		updated.TotalAmount = decided.TotalAmount
		updated.DiscountPercentage = decided.DiscountPercentage
		updated.PriceAfterDiscount = decided.PriceAfterDiscount
		updated.ModeOfPayment = decided.ModeOfPayment
		updated.EditStatus = domain.ApprovalApproved
		updated.UpdatedAt = now
		return s.repo.ReplaceBill(ctx, updated)
	})
	if err != nil {
		return domain.BillEditReq{}, storeErr(err, "bill edit request")
	}

	if req.IsApproved {
		s.publishInvoice(ctx, updated)
	}
	return *decided, nil
}

func (s *Service) RequestBillDelete(ctx context.Context, billID string, req domain.DeleteBillRequest) (domain.Bill, error) {
	if _, _, err := s.ownBill(ctx, billID); err != nil {
		return domain.Bill{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.Bill{}, err
	}
	if err := s.repo.RequestBillDelete(ctx, billID, strings.TrimSpace(req.Note), s.now()); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Bill{}, apperr.Wrap(apperr.KindConflict, err, "a delete request is already pending for this bill")
		}
		return domain.Bill{}, storeErr(err, "bill")
	}
	bill, err := s.repo.GetBill(ctx, billID)
	if err != nil {
		return domain.Bill{}, storeErr(err, "bill")
	}
	return *bill, nil
}

func (s *Service) ValidateBillDeleteReq(ctx context.Context, billID string, req domain.ValidateRequest) (domain.Bill, error) {
	if _, err := policy.RequireRole(ctx, domain.RoleWarehouseManager); err != nil {
		return domain.Bill{}, err
	}
	bill, err := s.repo.DecideBillDelete(ctx, billID, req.IsApproved, strings.TrimSpace(req.ValidateNote), s.now())
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Bill{}, apperr.Wrap(apperr.KindConflict, err, "no pending delete request for this bill")
		}
		return domain.Bill{}, storeErr(err, "bill")
	}
	return *bill, nil
}

func (s *Service) ListBills(ctx context.Context, storeID string, includeDeleted bool) ([]domain.Bill, error) {
	actor, err := policy.RequireRole(ctx, domain.RoleStoreManager, domain.RoleWarehouseManager, domain.RoleAdmin)
	if err != nil {
		return nil, err
	}
	storeID, err = scopeStore(actor, storeID)
	if err != nil {
		return nil, err
	}
	out, err := s.repo.ListBills(ctx, storeID, includeDeleted)
	return out, storeErr(err, "bill")
}

func (s *Service) GetBill(ctx context.Context, billID string) (domain.Bill, error) {
	actor, err := policy.RequireRole(ctx, domain.RoleStoreManager, domain.RoleWarehouseManager, domain.RoleAdmin)
	if err != nil {
		return domain.Bill{}, err
	}
	bill, err := s.repo.GetBill(ctx, billID)
	if err != nil {
		return domain.Bill{}, storeErr(err, "bill")
	}
	if _, err := scopeStore(actor, bill.StoreID); err != nil {
		return domain.Bill{}, err
	}
	return *bill, nil
}

func (s *Service) ListBillEditReqs(ctx context.Context, storeID string, status string) ([]domain.BillEditReq, error) {
	actor, err := policy.RequireRole(ctx, domain.RoleStoreManager, domain.RoleWarehouseManager, domain.RoleAdmin)
	if err != nil {
		return nil, err
	}
	storeID, err = scopeStore(actor, storeID)
	if err != nil {
		return nil, err
	}
	out, err := s.repo.ListBillEditReqs(ctx, storeID, strings.ToUpper(status))
	return out, storeErr(err, "bill edit request")
}

// ListOldBills returns the archived versions of a bill, oldest first.
func (s *Service) ListOldBills(ctx context.Context, billID string) ([]domain.OldBill, error) {
	if _, err := s.GetBill(ctx, billID); err != nil {
		return nil, err
	}
	out, err := s.repo.ListOldBills(ctx, billID)
	return out, storeErr(err, "bill")
}
