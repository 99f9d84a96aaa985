package service

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/apperr"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/catalog"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/domain"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/policy"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/store"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/tabular"
)

// ProcessCsvFile applies a warehouse stock sheet to the group's catalog. The
// ledger and every row are written in one transaction; a bad row leaves the
// catalog untouched.
func (s *Service) ProcessCsvFile(ctx context.Context, group string, destinationStoreID string, filename string, data []byte) (domain.UploadResponse, error) {
	actor, err := policy.RequireRole(ctx, domain.RoleWarehouseManager)
	if err != nil {
		return domain.UploadResponse{}, err
	}
	brand, ok := catalog.Lookup(group)
	if !ok {
		return domain.UploadResponse{}, apperr.BadRequest("unknown group %q", group)
	}
	dest := strings.TrimSpace(destinationStoreID)
	if dest == "" {
		dest = s.warehouseID
	}

	rows, err := tabular.Decode(filename, data)
	if err != nil {
		return domain.UploadResponse{}, apperr.Wrap(apperr.KindBadRequest, err, "could not read stock sheet: "+err.Error())
	}

	lines := make([]domain.StockLine, 0, len(rows))
	total := decimal.Zero
	for i, row := range rows {
		line, err := parseStockRow(brand, row)
		if err != nil {
			return domain.UploadResponse{}, apperr.BadRequest("row %d: %v", i+2, err)
		}
		total = total.Add(line.Amount())
		lines = append(lines, line)
	}

	status := domain.AssignedStatusAssigned
	if dest == s.warehouseID {
		status = domain.AssignedStatusReceived
	}

	var resp domain.UploadResponse
	err = withCode(ledgerCodeLength, func(code string) error {
		now := s.now()
		inv := domain.AssignedInventory{
			AssignedInventoryID:   code,
			StoreID:               dest,
			Status:                status,
			TotalAmountOfAssigned: total,
			Products:              lines,
			CreatedBy:             actor.Username,
			AssignedDate:          now,
		}
		if status == domain.AssignedStatusReceived {
			inv.ReceivedDate = &now
		}

		refs := make([]domain.ProductRef, 0, len(lines))
		err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
			if err := s.repo.CreateAssignedInventory(ctx, inv); err != nil {
				return err
			}
			// rows apply in order; later rows may extend a product created above
			for i, line := range lines {
				ref, err := s.repo.UpsertProductFromLine(ctx, line, code, dest, now)
				if rowRejected(err) {
					return apperr.Wrap(apperr.KindBadRequest, err, "row "+strconv.Itoa(i+2)+": could not apply stock")
				}
				if err != nil {
					return err
				}
				refs = append(refs, ref)
			}
			return nil
		})
		if err != nil {
			return err
		}
		resp = domain.UploadResponse{Ledger: &inv, Products: refs}
		return nil
	})
	if err != nil {
		return domain.UploadResponse{}, storeErr(err, "assigned inventory")
	}

	if err := s.facets.Invalidate(ctx, brand.Group); err != nil {
		s.log.Warn("facet cache invalidate failed", zap.String("group", brand.Group), zap.Error(err))
	}
	s.log.Info("stock sheet applied",
		zap.String("group", brand.Group),
		zap.String("ledger_id", resp.Ledger.AssignedInventoryID),
		zap.String("store_id", dest),
		zap.Int("rows", len(lines)),
		zap.String("total", total.StringFixed(2)),
	)
	return resp, nil
}

func parseStockRow(brand catalog.Brand, row tabular.Row) (domain.StockLine, error) {
	line := domain.StockLine{
		Group:           brand.Group,
		Category:        strings.ToUpper(row.Get("category")),
		SubCategory:     row.Get("sub_category"),
		SchoolName:      row.Get("school_name"),
		ProductCategory: row.Get("product_category"),
		ProductName:     row.Get("product_name"),
		Gender:          strings.ToUpper(row.Get("gender")),
		Pattern:         row.Get("pattern"),
		Fit:             row.Get("fit"),
		Neckline:        row.Get("neckline"),
		Sleeves:         row.Get("sleeves"),
		Fabric:          row.Get("fabric"),
		Description:     row.Get("description"),
		Color: domain.Color{
			Name:    strings.ToUpper(row.Get("variant_color")),
			Hexcode: row.Get("hexcode"),
		},
		Size:      strings.ToUpper(row.Get("variant_size")),
		StyleCoat: row.Get("style_coat"),
		SKU:       row.Get("sku"),
	}

	missing := make([]string, 0)
	for header, v := range map[string]string{
		"category":         line.Category,
		"product_category": line.ProductCategory,
		"product_name":     line.ProductName,
		"variant_color":    line.Color.Name,
		"variant_size":     line.Size,
	} {
		if v == "" {
			missing = append(missing, header)
		}
	}
	if line.Category == "SCHOOL" && line.SchoolName == "" {
		missing = append(missing, "school_name")
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return domain.StockLine{}, errors.New("missing " + strings.Join(missing, ", "))
	}

	qty, err := strconv.Atoi(row.Get("quantity"))
	if err != nil || qty < 1 {
		return domain.StockLine{}, errors.New("quantity must be a positive integer")
	}
	price, err := decimal.NewFromString(row.Get("price"))
	if err != nil || price.IsNegative() {
		return domain.StockLine{}, errors.New("price must be a non-negative number")
	}
	line.Quantity = qty
	line.Price = price

	if err := catalog.ValidateLine(brand, line); err != nil {
		return domain.StockLine{}, err
	}
	line.ProductID = catalog.ProductKey(line)
	return line, nil
}

// ReceiveInventory confirms that a store got a warehouse push. Receiving a
// shipment cut for a raised request also closes the request.
func (s *Service) ReceiveInventory(ctx context.Context, assignedInventoryID string) (domain.AssignedInventory, error) {
	if _, err := policy.RequireRole(ctx, domain.RoleStoreManager); err != nil {
		return domain.AssignedInventory{}, err
	}
	inv, err := s.repo.GetAssignedInventory(ctx, assignedInventoryID)
	if err != nil {
		return domain.AssignedInventory{}, storeErr(err, "assigned inventory")
	}
	if _, err := policy.RequireStoreManager(ctx, inv.StoreID); err != nil {
		return domain.AssignedInventory{}, err
	}
	var out domain.AssignedInventory
	err = s.repo.WithinTx(ctx, func(ctx context.Context) error {
		now := s.now()
		updated, err := s.repo.MarkAssignedReceived(ctx, assignedInventoryID, now)
		if err != nil {
			return err
		}
		out = *updated
		if inv.RaisedInventoryID == "" {
			return nil
		}
		// a shipment cut for a request closes that request too
		_, err = s.repo.TransitionRaisedInventory(ctx, inv.RaisedInventoryID, domain.RaisedStatusApproved, domain.RaisedStatusReceived, "", now)
		if errors.Is(err, store.ErrConflict) {
			return nil
		}
		return err
	})
	if err != nil {
		return domain.AssignedInventory{}, storeErr(err, "assigned inventory")
	}
	return out, nil
}

// RaiseInventory records a store's replenishment request. Every line must
// name a size that exists in the catalog; prices come from the catalog.
func (s *Service) RaiseInventory(ctx context.Context, filename string, data []byte) (domain.RaisedInventory, error) {
	actor, err := policy.RequireRole(ctx, domain.RoleStoreManager)
	if err != nil {
		return domain.RaisedInventory{}, err
	}
	if actor.StoreID == "" {
		return domain.RaisedInventory{}, apperr.Forbidden("store manager has no store")
	}

	rows, err := tabular.Decode(filename, data)
	if err != nil {
		return domain.RaisedInventory{}, apperr.Wrap(apperr.KindBadRequest, err, "could not read request sheet: "+err.Error())
	}

	lines := make([]domain.StockLine, 0, len(rows))
	total := decimal.Zero
	for i, row := range rows {
		line, err := s.resolveRaiseRow(ctx, row)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindInternal {
				return domain.RaisedInventory{}, err
			}
			return domain.RaisedInventory{}, apperr.BadRequest("row %d: %s", i+2, apperr.PublicMessage(err))
		}
		total = total.Add(line.Amount())
		lines = append(lines, line)
	}

	var out domain.RaisedInventory
	err = withCode(ledgerCodeLength, func(code string) error {
		out = domain.RaisedInventory{
			RaisedInventoryID: code,
			StoreID:           actor.StoreID,
			Status:            domain.RaisedStatusPending,
			TotalAmountRaised: total,
			Products:          lines,
			RaisedBy:          actor.Username,
			RaisedDate:        s.now(),
		}
		return s.repo.CreateRaisedInventory(ctx, out)
	})
	if err != nil {
		return domain.RaisedInventory{}, storeErr(err, "raised inventory")
	}
	return out, nil
}

func (s *Service) resolveRaiseRow(ctx context.Context, row tabular.Row) (domain.StockLine, error) {
	brand, ok := catalog.Lookup(row.Get("group"))
	if !ok {
		return domain.StockLine{}, apperr.BadRequest("unknown group %q", row.Get("group"))
	}
	qty, err := strconv.Atoi(row.Get("quantity"))
	if err != nil || qty < 1 {
		return domain.StockLine{}, apperr.BadRequest("quantity must be a positive integer")
	}

	productID := row.Get("product_id")
	if productID == "" {
		productID = catalog.ProductKey(domain.StockLine{
			Category:        strings.ToUpper(row.Get("category")),
			SchoolName:      row.Get("school_name"),
			ProductCategory: row.Get("product_category"),
			ProductName:     row.Get("product_name"),
			Gender:          strings.ToUpper(row.Get("gender")),
			Pattern:         row.Get("pattern"),
		})
	}
	ref := domain.SizeRef{
		Group:     brand.Group,
		ProductID: productID,
		Color:     strings.ToUpper(row.Get("variant_color")),
		Size:      strings.ToUpper(row.Get("variant_size")),
	}
	item, err := s.repo.FindVariantSize(ctx, ref)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.StockLine{}, apperr.BadRequest("%s %s %s/%s is not in the catalog", ref.Group, ref.ProductID, ref.Color, ref.Size)
		}
		return domain.StockLine{}, apperr.Internal(err)
	}

	product, err := s.repo.GetProduct(ctx, ref.Group, ref.ProductID)
	if err != nil {
		return domain.StockLine{}, storeErr(err, "product")
	}
	return snapshotLine(*product, *item, qty), nil
}

// snapshotLine copies the catalog fields a ledger keeps for one line.
func snapshotLine(p domain.Product, item domain.StockItem, qty int) domain.StockLine {
	return domain.StockLine{
		Group:           p.Group,
		ProductID:       p.ProductID,
		Category:        p.Category,
		SubCategory:     p.SubCategory,
		SchoolName:      p.SchoolName,
		ProductCategory: p.ProductCategory,
		ProductName:     p.ProductName,
		Gender:          p.Gender,
		Pattern:         p.Pattern,
		Fit:             p.Fit,
		Neckline:        p.Neckline,
		Sleeves:         p.Sleeves,
		Fabric:          p.Fabric,
		Color:           item.Color,
		Size:            item.Size,
		StyleCoat:       item.StyleCoat,
		SKU:             item.SKU,
		Quantity:        qty,
		Price:           item.Price,
	}
}

func (s *Service) ApproveInventory(ctx context.Context, raisedInventoryID string, note string) (domain.RaisedInventory, error) {
	return s.decideRaise(ctx, raisedInventoryID, domain.RaisedStatusApproved, note)
}

func (s *Service) RejectInventory(ctx context.Context, raisedInventoryID string, note string) (domain.RaisedInventory, error) {
	return s.decideRaise(ctx, raisedInventoryID, domain.RaisedStatusRejected, note)
}

func (s *Service) decideRaise(ctx context.Context, id string, to string, note string) (domain.RaisedInventory, error) {
	actor, err := policy.RequireRole(ctx, domain.RoleWarehouseManager)
	if err != nil {
		return domain.RaisedInventory{}, err
	}
	inv, err := s.repo.TransitionRaisedInventory(ctx, id, domain.RaisedStatusPending, to, strings.TrimSpace(note), s.now())
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.RaisedInventory{}, apperr.Wrap(apperr.KindConflict, err, "only pending requests can be approved or rejected")
		}
		return domain.RaisedInventory{}, storeErr(err, "raised inventory")
	}
	s.log.Info("raise request decided",
		zap.String("raised_inventory_id", id),
		zap.String("status", to),
		zap.String("by", actor.Username),
	)
	return *inv, nil
}

// FulfillRaisedInventory ships an approved request: the warehouse view of each
// line moves to the store view and an ASSIGNED ledger links back to the request.
func (s *Service) FulfillRaisedInventory(ctx context.Context, raisedInventoryID string) (domain.AssignedInventory, error) {
	actor, err := policy.RequireRole(ctx, domain.RoleWarehouseManager)
	if err != nil {
		return domain.AssignedInventory{}, err
	}

	var out domain.AssignedInventory
	err = withCode(ledgerCodeLength, func(code string) error {
		return s.repo.WithinTx(ctx, func(ctx context.Context) error {
			raise, err := s.repo.GetRaisedInventory(ctx, raisedInventoryID)
			if err != nil {
				return err
			}
			if raise.Status != domain.RaisedStatusApproved {
				return apperr.Conflict("only approved requests can be fulfilled")
			}
			if raise.FulfilledBy != "" {
				return apperr.Conflict("request already fulfilled by %s", raise.FulfilledBy)
			}

			now := s.now()
			out = domain.AssignedInventory{
				AssignedInventoryID:   code,
				StoreID:               raise.StoreID,
				Status:                domain.AssignedStatusAssigned,
				TotalAmountOfAssigned: raise.TotalAmountRaised,
				Products:              raise.Products,
				RaisedInventoryID:     raise.RaisedInventoryID,
				CreatedBy:             actor.Username,
				AssignedDate:          now,
			}
			if err := s.repo.CreateAssignedInventory(ctx, out); err != nil {
				return err
			}
			for _, line := range raise.Products {
				if err := s.repo.TransferToStore(ctx, line.Ref(), s.warehouseID, raise.StoreID, code, line.Quantity, now); err != nil {
					if errors.Is(err, store.ErrInsufficientStock) {
						return apperr.Wrap(apperr.KindBadRequest, err, "Insufficient stock in warehouse for "+line.ProductID+" "+line.Color.Name+"/"+line.Size)
					}
					return err
				}
			}
			return s.repo.MarkRaisedFulfilled(ctx, raise.RaisedInventoryID, code)
		})
	})
	if err != nil {
		return domain.AssignedInventory{}, storeErr(err, "raised inventory")
	}
	return out, nil
}

// ReceiveInventoryReq closes a fulfilled request and receives its shipment.
// Only APPROVED requests qualify.
func (s *Service) ReceiveInventoryReq(ctx context.Context, raisedInventoryID string) (domain.RaisedInventory, error) {
	if _, err := policy.RequireRole(ctx, domain.RoleStoreManager); err != nil {
		return domain.RaisedInventory{}, err
	}
	raise, err := s.repo.GetRaisedInventory(ctx, raisedInventoryID)
	if err != nil {
		return domain.RaisedInventory{}, storeErr(err, "raised inventory")
	}
	if _, err := policy.RequireStoreManager(ctx, raise.StoreID); err != nil {
		return domain.RaisedInventory{}, err
	}
	if raise.Status != domain.RaisedStatusApproved {
		return domain.RaisedInventory{}, apperr.Conflict("request is %s; only approved requests can be received", raise.Status)
	}
	if raise.FulfilledBy == "" {
		return domain.RaisedInventory{}, apperr.Conflict("request has not been fulfilled yet")
	}

	var out domain.RaisedInventory
	err = s.repo.WithinTx(ctx, func(ctx context.Context) error {
		now := s.now()
		updated, err := s.repo.TransitionRaisedInventory(ctx, raisedInventoryID, domain.RaisedStatusApproved, domain.RaisedStatusReceived, "", now)
		if err != nil {
			return err
		}
		out = *updated
		// the shipment may already have been received on its own
		_, err = s.repo.MarkAssignedReceived(ctx, raise.FulfilledBy, now)
		if errors.Is(err, store.ErrConflict) {
			return nil
		}
		return err
	})
	if err != nil {
		return domain.RaisedInventory{}, storeErr(err, "raised inventory")
	}
	return out, nil
}

// rowRejected reports whether a stock row failed on its own content rather
// than on the store.
func rowRejected(err error) bool {
	return errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInsufficientStock)
}

// scopeStore pins store managers to their own store; other staff see any store.
func scopeStore(actor domain.Actor, storeID string) (string, error) {
	if actor.Role != domain.RoleStoreManager {
		return storeID, nil
	}
	if storeID != "" && storeID != actor.StoreID {
		return "", apperr.Forbidden("store mismatch")
	}
	return actor.StoreID, nil
}

func (s *Service) ListAssignedInventories(ctx context.Context, storeID string, status string) ([]domain.AssignedInventory, error) {
	actor, err := policy.RequireRole(ctx, domain.RoleWarehouseManager, domain.RoleStoreManager, domain.RoleAdmin)
	if err != nil {
		return nil, err
	}
	storeID, err = scopeStore(actor, storeID)
	if err != nil {
		return nil, err
	}
	out, err := s.repo.ListAssignedInventories(ctx, storeID, strings.ToUpper(status))
	return out, storeErr(err, "assigned inventory")
}

func (s *Service) GetAssignedInventory(ctx context.Context, id string) (domain.AssignedInventory, error) {
	actor, err := policy.RequireRole(ctx, domain.RoleWarehouseManager, domain.RoleStoreManager, domain.RoleAdmin)
	if err != nil {
		return domain.AssignedInventory{}, err
	}
	inv, err := s.repo.GetAssignedInventory(ctx, id)
	if err != nil {
		return domain.AssignedInventory{}, storeErr(err, "assigned inventory")
	}
	if _, err := scopeStore(actor, inv.StoreID); err != nil {
		return domain.AssignedInventory{}, err
	}
	return *inv, nil
}

func (s *Service) ListRaisedInventories(ctx context.Context, storeID string, status string) ([]domain.RaisedInventory, error) {
	actor, err := policy.RequireRole(ctx, domain.RoleWarehouseManager, domain.RoleStoreManager, domain.RoleAdmin)
	if err != nil {
		return nil, err
	}
	storeID, err = scopeStore(actor, storeID)
	if err != nil {
		return nil, err
	}
	out, err := s.repo.ListRaisedInventories(ctx, storeID, strings.ToUpper(status))
	return out, storeErr(err, "raised inventory")
}

func (s *Service) GetRaisedInventory(ctx context.Context, id string) (domain.RaisedInventory, error) {
	actor, err := policy.RequireRole(ctx, domain.RoleWarehouseManager, domain.RoleStoreManager, domain.RoleAdmin)
	if err != nil {
		return domain.RaisedInventory{}, err
	}
	inv, err := s.repo.GetRaisedInventory(ctx, id)
	if err != nil {
		return domain.RaisedInventory{}, storeErr(err, "raised inventory")
	}
	if _, err := scopeStore(actor, inv.StoreID); err != nil {
		return domain.RaisedInventory{}, err
	}
	return *inv, nil
}
