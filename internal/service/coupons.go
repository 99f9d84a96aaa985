package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/apperr"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/catalog"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/domain"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/policy"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/store"
)

func (s *Service) CreateCoupon(ctx context.Context, req domain.CreateCouponRequest) (domain.Coupon, error) {
	actor, err := policy.RequireRole(ctx, domain.RoleWarehouseManager, domain.RoleAdmin)
	if err != nil {
		return domain.Coupon{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.Coupon{}, err
	}
	now := s.now()
	if !req.ExpiryDate.After(now) {
		return domain.Coupon{}, apperr.BadRequest("expiry date must be in the future")
	}

	linkedGroup := ""
	if strings.TrimSpace(req.LinkedGroup) != "" {
		brand, ok := catalog.Lookup(req.LinkedGroup)
		if !ok {
			return domain.Coupon{}, apperr.BadRequest("unknown group %q", req.LinkedGroup)
		}
		linkedGroup = brand.Group
	}
	linkedProduct := strings.TrimSpace(req.LinkedProductID)
	if linkedProduct != "" {
		if linkedGroup == "" {
			return domain.Coupon{}, apperr.BadRequest("linked product requires a linked group")
		}
		if _, err := s.repo.GetProduct(ctx, linkedGroup, linkedProduct); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Coupon{}, apperr.BadRequest("product %s not found in %s", linkedProduct, linkedGroup)
			}
			return domain.Coupon{}, apperr.Internal(err)
		}
	}

	var coupon domain.Coupon
	err = withCode(couponCodeLength, func(code string) error {
		coupon = domain.Coupon{
			CouponCode:         code,
			Type:               req.Type,
			DiscountPercentage: req.DiscountPercentage,
			Status:             domain.CouponPending,
			ExpiryDate:         req.ExpiryDate.UTC(),
			LinkedGroup:        linkedGroup,
			LinkedProductID:    linkedProduct,
			CreatedBy:          actor.Username,
			CreatedAt:          now,
		}
		return s.repo.CreateCoupon(ctx, coupon)
	})
	if err != nil {
		return domain.Coupon{}, storeErr(err, "coupon")
	}
	return coupon, nil
}

func (s *Service) GetCoupon(ctx context.Context, code string) (domain.Coupon, error) {
	if _, err := policy.RequireRole(ctx, domain.RoleCustomer, domain.RoleWarehouseManager, domain.RoleStoreManager, domain.RoleAdmin); err != nil {
		return domain.Coupon{}, err
	}
	coupon, err := s.repo.GetCoupon(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return domain.Coupon{}, storeErr(err, "coupon")
	}
	return *coupon, nil
}

func (s *Service) ListCoupons(ctx context.Context, status string) ([]domain.Coupon, error) {
	if _, err := policy.RequireRole(ctx, domain.RoleWarehouseManager, domain.RoleAdmin); err != nil {
		return nil, err
	}
	out, err := s.repo.ListCoupons(ctx, strings.ToLower(strings.TrimSpace(status)))
	return out, storeErr(err, "coupon")
}

// usableCoupon loads a coupon a customer may still redeem.
func (s *Service) usableCoupon(ctx context.Context, code string, customerID string) (*domain.Coupon, error) {
	coupon, err := s.repo.GetCoupon(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.BadRequest("invalid coupon code")
		}
		return nil, apperr.Internal(err)
	}
	if coupon.Status != domain.CouponPending || !coupon.ExpiryDate.After(s.now()) {
		return nil, apperr.BadRequest("coupon %s is %s", code, couponState(*coupon, s.now()))
	}
	if coupon.Type == domain.CouponTypeDresscode && slices.ContainsFunc(coupon.UsedBy, func(u domain.CouponUsage) bool {
		return u.CustomerID == customerID
	}) {
		return nil, apperr.BadRequest("coupon %s already used", code)
	}
	return coupon, nil
}

func couponState(c domain.Coupon, now time.Time) string {
	if c.Status == domain.CouponPending && !c.ExpiryDate.After(now) {
		return domain.CouponExpired
	}
	return c.Status
}

// ExpireCoupons flips pending coupons past their expiry date.
func (s *Service) ExpireCoupons(ctx context.Context) (int, error) {
	n, err := s.repo.ExpireCoupons(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("coupons expired", zap.Int("count", n))
	}
	return n, nil
}
