package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/apperr"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/catalog"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/domain"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/lock"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/policy"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/store"
)

const paymentCurrency = "INR"

// DiscountPercentage is the quantity tier applied to one order line.
func DiscountPercentage(qty int) int {
	switch {
	case qty >= 21:
		return 15
	case qty >= 11:
		return 10
	case qty >= 6:
		return 5
	default:
		return 0
	}
}

// CreateOrder prices the requested lines and opens a gateway intent. Stock is
// only checked here; it is taken when the payment is verified.
func (s *Service) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (domain.CreateOrderResponse, error) {
	actor, err := policy.RequireRole(ctx, domain.RoleCustomer)
	if err != nil {
		return domain.CreateOrderResponse{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.CreateOrderResponse{}, err
	}
	if s.gateway == nil {
		return domain.CreateOrderResponse{}, apperr.Internal(errors.New("payment gateway not configured"))
	}

	var coupon *domain.Coupon
	if code := strings.ToUpper(strings.TrimSpace(req.CouponCode)); code != "" {
		coupon, err = s.usableCoupon(ctx, code, actor.Username)
		if err != nil {
			return domain.CreateOrderResponse{}, err
		}
	}

	lines := make([]domain.OrderLine, 0, len(req.Products))
	total := decimal.Zero
	totalDiscount := decimal.Zero
	couponApplied := false
	for _, item := range req.Products {
		brand, ok := catalog.Lookup(item.Group)
		if !ok {
			return domain.CreateOrderResponse{}, apperr.BadRequest("unknown group %q", item.Group)
		}
		ref := item.SizeRef
		ref.Group = brand.Group
		stock, err := s.repo.FindVariantSize(ctx, ref)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.CreateOrderResponse{}, apperr.BadRequest("product %s %s/%s not found", ref.ProductID, ref.Color, ref.Size)
			}
			return domain.CreateOrderResponse{}, apperr.Internal(err)
		}
		if stock.Quantity < item.Quantity {
			return domain.CreateOrderResponse{}, apperr.BadRequest("Insufficient stock")
		}

		pct := DiscountPercentage(item.Quantity)
		if coupon != nil && coupon.Applies(ref.Group, ref.ProductID) && coupon.DiscountPercentage > pct {
			pct = coupon.DiscountPercentage
			couponApplied = true
		}
		amount := lineAmount(stock.Price, item.Quantity)
		discount := percentOf(amount, pct)
		total = total.Add(amount)
		totalDiscount = totalDiscount.Add(discount)

		lines = append(lines, domain.OrderLine{
			Group:              stock.Group,
			ProductID:          stock.ProductID,
			ProductName:        stock.ProductName,
			Color:              stock.Color,
			Size:               stock.Size,
			SKU:                stock.SKU,
			QuantityOrdered:    item.Quantity,
			Price:              stock.Price,
			DiscountPercentage: pct,
			DiscountAmount:     discount,
		})
	}
	if coupon != nil && !couponApplied {
		return domain.CreateOrderResponse{}, apperr.BadRequest("coupon %s does not improve the discount on these products", coupon.CouponCode)
	}
	after := total.Sub(totalDiscount)
	paise := after.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	if paise < 1 {
		return domain.CreateOrderResponse{}, apperr.BadRequest("order total must be positive")
	}

	var order domain.Order
	err = withCode(ledgerCodeLength, func(code string) error {
		now := s.now()
		order = domain.Order{
			OrderID:                 code,
			UserID:                  actor.Username,
			UserEmail:               actor.Email,
			AddressID:               req.AddressID,
			Products:                lines,
			TotalAmount:             total,
			TotalDiscountAmount:     totalDiscount,
			TotalPriceAfterDiscount: after,
			DeliveryStatus:          domain.DeliveryPending,
			CreatedAt:               now,
			UpdatedAt:               now,
		}
		if coupon != nil {
			order.CouponCode = coupon.CouponCode
			order.CouponType = coupon.Type
		}
		return s.repo.WithinTx(ctx, func(ctx context.Context) error {
			if err := s.repo.CreateOrder(ctx, order); err != nil {
				return err
			}
			if !singleUse(order) {
				return nil
			}
			if err := s.repo.ReserveCoupon(ctx, order.CouponCode, order.UserID, order.OrderID); err != nil {
				if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
					return apperr.BadRequest("coupon %s is no longer available", order.CouponCode)
				}
				return err
			}
			return nil
		})
	})
	if err != nil {
		return domain.CreateOrderResponse{}, storeErr(err, "order")
	}

	intent, err := s.gateway.CreateOrderIntent(ctx, paise, paymentCurrency, order.OrderID)
	if err != nil {
		if delErr := s.dropUnpaidOrder(ctx, order); delErr != nil {
			s.log.Warn("drop order after gateway failure", zap.String("order_id", order.OrderID), zap.Error(delErr))
		}
		return domain.CreateOrderResponse{}, apperr.Internal(err)
	}
	if err := s.repo.SetGatewayOrderID(ctx, order.OrderID, intent.ID); err != nil {
		return domain.CreateOrderResponse{}, storeErr(err, "order")
	}
	order.GatewayOrderID = intent.ID

	return domain.CreateOrderResponse{Order: order, Payment: intent}, nil
}

// VerifyPayment is the point where stock is taken. The payment record, every
// line's decrement, the order flag and the coupon update commit together.
func (s *Service) VerifyPayment(ctx context.Context, req domain.VerifyPaymentRequest) (domain.VerifyPaymentResponse, error) {
	actor, err := policy.RequireRole(ctx, domain.RoleCustomer)
	if err != nil {
		return domain.VerifyPaymentResponse{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.VerifyPaymentResponse{}, err
	}
	if s.gateway == nil {
		return domain.VerifyPaymentResponse{}, apperr.Internal(errors.New("payment gateway not configured"))
	}

	held, err := s.locker.Obtain(ctx, verifyLockKey(req.OrderID), verifyLockTTL, verifyLockWait)
	if err != nil {
		if errors.Is(err, lock.ErrNotObtained) {
			return domain.VerifyPaymentResponse{}, apperr.Conflict("payment verification for this order is already running")
		}
		return domain.VerifyPaymentResponse{}, apperr.Internal(err)
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("release verify lock", zap.String("order_id", req.OrderID), zap.Error(err))
		}
	}()

	order, err := s.repo.GetOrder(ctx, req.OrderID)
	if err != nil {
		return domain.VerifyPaymentResponse{}, storeErr(err, "order")
	}
	if order.UserID != actor.Username {
		return domain.VerifyPaymentResponse{}, apperr.Forbidden("order belongs to another customer")
	}
	if order.OrderCreated {
		return domain.VerifyPaymentResponse{
			OrderID:   order.OrderID,
			Verified:  true,
			Duplicate: true,
			PaymentID: order.PaymentID,
			Message:   "payment already verified",
		}, nil
	}
	if order.DeliveryStatus != domain.DeliveryPending {
		return domain.VerifyPaymentResponse{}, apperr.Conflict("order is %s; payment cannot be applied", order.DeliveryStatus)
	}

	sameIntent := order.GatewayOrderID == "" || order.GatewayOrderID == req.GatewayOrderID
	if !sameIntent || !s.gateway.VerifySignature(req.GatewayOrderID, req.GatewayPaymentID, req.Signature) {
		if err := s.dropUnpaidOrder(ctx, *order); err != nil && !errors.Is(err, store.ErrNotFound) {
			return domain.VerifyPaymentResponse{}, storeErr(err, "order")
		}
		s.log.Warn("payment signature mismatch; order removed", zap.String("order_id", order.OrderID))
		return domain.VerifyPaymentResponse{
			OrderID: order.OrderID,
			Deleted: true,
			Message: "payment could not be verified; order deleted",
		}, nil
	}

	paymentID := uuid.NewString()
	err = s.repo.WithinTx(ctx, func(ctx context.Context) error {
		now := s.now()
		if err := s.repo.MarkOrderCreated(ctx, order.OrderID, paymentID, now); err != nil {
			return err
		}
		if err := s.repo.CreatePayment(ctx, domain.Payment{
			PaymentID:        paymentID,
			OrderID:          order.OrderID,
			GatewayOrderID:   req.GatewayOrderID,
			GatewayPaymentID: req.GatewayPaymentID,
			Signature:        req.Signature,
			Amount:           order.TotalPriceAfterDiscount,
			CreatedAt:        now,
		}); err != nil {
			return err
		}
		for _, line := range order.Products {
			if err := s.repo.DecrementQuantity(ctx, line.Ref(), line.QuantityOrdered); err != nil {
				return err
			}
		}
		return s.consumeCoupon(ctx, order, now)
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.VerifyPaymentResponse{}, apperr.Wrap(apperr.KindConflict, err, "order was verified or canceled concurrently")
		}
		return domain.VerifyPaymentResponse{}, storeErr(err, "order")
	}

	order.OrderCreated = true
	order.PaymentID = paymentID
	s.sendOrderEmails(ctx, *order)
	s.log.Info("payment verified",
		zap.String("order_id", order.OrderID),
		zap.String("payment_id", paymentID),
		zap.String("amount", order.TotalPriceAfterDiscount.StringFixed(2)),
	)
	return domain.VerifyPaymentResponse{
		OrderID:   order.OrderID,
		Verified:  true,
		PaymentID: paymentID,
		Message:   "payment verified",
	}, nil
}

func (s *Service) consumeCoupon(ctx context.Context, order *domain.Order, now time.Time) error {
	if order.CouponCode == "" {
		return nil
	}
	var err error
	if singleUse(*order) {
		err = s.repo.MarkCouponUsed(ctx, order.CouponCode, order.OrderID)
	} else {
		err = s.repo.AppendCouponUsage(ctx, order.CouponCode, domain.CouponUsage{
			CustomerID: order.UserID,
			OrderID:    order.OrderID,
			UsedAt:     now,
		})
	}
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
		s.log.Warn("coupon no longer usable at payment", zap.String("coupon_code", order.CouponCode), zap.String("order_id", order.OrderID))
		return apperr.Conflict("coupon %s is no longer available for this order", order.CouponCode)
	}
	return err
}

// singleUse reports whether the order's coupon is held exclusively from
// order creation until payment or release.
func singleUse(order domain.Order) bool {
	return order.CouponCode != "" && order.CouponType != domain.CouponTypeDresscode
}

func verifyLockKey(orderID string) string {
	return "order-verify:" + orderID
}

// dropUnpaidOrder deletes an order that was never paid and frees the coupon
// it reserved.
func (s *Service) dropUnpaidOrder(ctx context.Context, order domain.Order) error {
	return s.repo.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.DeleteUnpaidOrder(ctx, order.OrderID); err != nil {
			return err
		}
		return s.releaseCoupon(ctx, order)
	})
}

func (s *Service) releaseCoupon(ctx context.Context, order domain.Order) error {
	if !singleUse(order) {
		return nil
	}
	return s.repo.ReleaseCoupon(ctx, order.CouponCode, order.OrderID)
}

func (s *Service) sendOrderEmails(ctx context.Context, order domain.Order) {
	body, err := renderOrderEmail(order)
	if err != nil {
		s.log.Warn("render order email", zap.String("order_id", order.OrderID), zap.Error(err))
		return
	}
	s.sendEmailAsync(ctx, order.UserEmail, "Order "+order.OrderID+" confirmed", body)
	s.sendEmailAsync(ctx, s.adminEmail, "New order "+order.OrderID, body)
}

// CancelOrder cancels a Pending order. Paid orders get their stock back;
// unpaid ones give up their coupon reservation.
func (s *Service) CancelOrder(ctx context.Context, orderID string) (domain.Order, error) {
	actor, err := policy.RequireRole(ctx, domain.RoleCustomer, domain.RoleWarehouseManager, domain.RoleAdmin)
	if err != nil {
		return domain.Order{}, err
	}

	var out domain.Order
	err = s.repo.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.repo.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if actor.Role == domain.RoleCustomer && order.UserID != actor.Username {
			return apperr.Forbidden("order belongs to another customer")
		}
		updated, err := s.repo.UpdateDeliveryStatus(ctx, orderID, []string{domain.DeliveryPending}, domain.DeliveryCanceled, s.now())
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apperr.Wrap(apperr.KindConflict, err, "only pending orders can be canceled")
			}
			return err
		}
		if order.OrderCreated {
			for _, line := range order.Products {
				if err := s.repo.IncrementQuantity(ctx, line.Ref(), line.QuantityOrdered); err != nil {
					return err
				}
			}
		} else if err := s.releaseCoupon(ctx, *order); err != nil {
			return err
		}
		out = *updated
		return nil
	})
	if err != nil {
		return domain.Order{}, storeErr(err, "order")
	}
	return out, nil
}

// UpdateDeliveryStatus moves a paid order Pending -> Dispatched -> Delivered.
func (s *Service) UpdateDeliveryStatus(ctx context.Context, orderID string, status string) (domain.Order, error) {
	if _, err := policy.RequireRole(ctx, domain.RoleWarehouseManager, domain.RoleAdmin); err != nil {
		return domain.Order{}, err
	}
	var from string
	switch status {
	case domain.DeliveryDispatched:
		from = domain.DeliveryPending
	case domain.DeliveryDelivered:
		from = domain.DeliveryDispatched
	default:
		return domain.Order{}, apperr.BadRequest("status must be %s or %s", domain.DeliveryDispatched, domain.DeliveryDelivered)
	}

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, storeErr(err, "order")
	}
	if !order.OrderCreated {
		return domain.Order{}, apperr.Conflict("order has not been paid")
	}
	updated, err := s.repo.UpdateDeliveryStatus(ctx, orderID, []string{from}, status, s.now())
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Order{}, apperr.Wrap(apperr.KindConflict, err, "order must be "+from+" to become "+status)
		}
		return domain.Order{}, storeErr(err, "order")
	}
	return *updated, nil
}

func (s *Service) ListOrders(ctx context.Context) ([]domain.Order, error) {
	actor, err := policy.RequireRole(ctx, domain.RoleCustomer)
	if err != nil {
		return nil, err
	}
	out, err := s.repo.ListOrdersByUser(ctx, actor.Username)
	return out, storeErr(err, "order")
}

func (s *Service) ListOrdersByStatus(ctx context.Context, status string, limit int) ([]domain.Order, error) {
	if _, err := policy.RequireRole(ctx, domain.RoleWarehouseManager, domain.RoleAdmin); err != nil {
		return nil, err
	}
	if status == "" {
		status = domain.DeliveryPending
	}
	out, err := s.repo.ListOrdersByStatus(ctx, status, limit)
	return out, storeErr(err, "order")
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	actor, err := policy.RequireRole(ctx, domain.RoleCustomer, domain.RoleWarehouseManager, domain.RoleAdmin)
	if err != nil {
		return domain.Order{}, err
	}
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, storeErr(err, "order")
	}
	if actor.Role == domain.RoleCustomer && order.UserID != actor.Username {
		return domain.Order{}, apperr.NotFound("order not found")
	}
	return *order, nil
}

// RequestReturn opens a return for lines of a delivered order.
func (s *Service) RequestReturn(ctx context.Context, orderID string, req domain.ReturnRequest) (domain.ReturnOrder, error) {
	actor, err := policy.RequireRole(ctx, domain.RoleCustomer)
	if err != nil {
		return domain.ReturnOrder{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.ReturnOrder{}, err
	}

	var out domain.ReturnOrder
	err = s.repo.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.repo.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != actor.Username {
			return apperr.Forbidden("order belongs to another customer")
		}
		if order.DeliveryStatus != domain.DeliveryDelivered {
			return apperr.Conflict("only delivered orders can be returned")
		}

		lines := slices.Clone(order.Products)
		returned := make([]domain.ReturnLine, 0, len(req.Lines))
		for _, rl := range req.Lines {
			idx := matchOrderLine(lines, rl.SizeRef)
			if idx < 0 {
				return apperr.BadRequest("%s %s/%s is not part of order %s", rl.ProductID, rl.Color, rl.Size, orderID)
			}
			if lines[idx].ReturnStatus != "" && lines[idx].ReturnStatus != domain.ReturnRejected {
				return apperr.Conflict("%s %s/%s already has a return", rl.ProductID, rl.Color, rl.Size)
			}
			if rl.Quantity > lines[idx].QuantityOrdered {
				return apperr.BadRequest("cannot return more than %d of %s", lines[idx].QuantityOrdered, rl.ProductID)
			}
			lines[idx].ReturnStatus = domain.ReturnRequested
			rl.SizeRef = lines[idx].Ref()
			returned = append(returned, rl)
		}

		now := s.now()
		out = domain.ReturnOrder{
			ReturnID:    uuid.NewString(),
			OrderID:     orderID,
			UserID:      actor.Username,
			Lines:       returned,
			Status:      domain.ReturnRequested,
			RequestedAt: now,
		}
		if err := s.repo.CreateReturnOrder(ctx, out); err != nil {
			return err
		}
		return s.repo.SaveOrderLines(ctx, orderID, lines, now)
	})
	if err != nil {
		return domain.ReturnOrder{}, storeErr(err, "order")
	}
	return out, nil
}

// ConfirmReturn accepts returned goods and puts them back into stock.
func (s *Service) ConfirmReturn(ctx context.Context, returnID string) (domain.ReturnOrder, error) {
	return s.decideReturn(ctx, returnID, domain.ReturnReturned)
}

func (s *Service) RejectReturn(ctx context.Context, returnID string) (domain.ReturnOrder, error) {
	return s.decideReturn(ctx, returnID, domain.ReturnRejected)
}

func (s *Service) decideReturn(ctx context.Context, returnID string, to string) (domain.ReturnOrder, error) {
	if _, err := policy.RequireRole(ctx, domain.RoleWarehouseManager, domain.RoleAdmin); err != nil {
		return domain.ReturnOrder{}, err
	}

	var out domain.ReturnOrder
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		now := s.now()
		ret, err := s.repo.TransitionReturnOrder(ctx, returnID, domain.ReturnRequested, to, now)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apperr.Wrap(apperr.KindConflict, err, "return has already been decided")
			}
			return err
		}
		order, err := s.repo.GetOrder(ctx, ret.OrderID)
		if err != nil {
			return err
		}
		lines := slices.Clone(order.Products)
		for _, rl := range ret.Lines {
			if idx := matchOrderLine(lines, rl.SizeRef); idx >= 0 {
				lines[idx].ReturnStatus = to
			}
			if to == domain.ReturnReturned {
				if err := s.repo.IncrementQuantity(ctx, rl.SizeRef, rl.Quantity); err != nil {
					return err
				}
			}
		}
		if err := s.repo.SaveOrderLines(ctx, ret.OrderID, lines, now); err != nil {
			return err
		}
		out = *ret
		return nil
	})
	if err != nil {
		return domain.ReturnOrder{}, storeErr(err, "return")
	}
	return out, nil
}

func matchOrderLine(lines []domain.OrderLine, ref domain.SizeRef) int {
	group := catalog.NormalizeGroup(ref.Group)
	return slices.IndexFunc(lines, func(l domain.OrderLine) bool {
		return l.Group == group &&
			l.ProductID == ref.ProductID &&
			strings.EqualFold(l.Color.Name, ref.Color) &&
			strings.EqualFold(l.Size, ref.Size)
	})
}
