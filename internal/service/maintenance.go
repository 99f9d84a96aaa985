package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/domain"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/lock"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/store"
)

const (
	courierBatch = 100
	purgeBatch   = 200
)

// PurgeStaleOrders drops unpaid orders older than the unpaid-order TTL and
// frees any coupon they reserved. Orders whose verification lock is held are
// left for the next run.
func (s *Service) PurgeStaleOrders(ctx context.Context) (int, error) {
	orders, err := s.repo.ListStaleOrders(ctx, s.now().Add(-s.unpaidOrderTTL), purgeBatch)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, order := range orders {
		if ctx.Err() != nil {
			return purged, ctx.Err()
		}
		ok, err := s.purgeOrder(ctx, order)
		if err != nil {
			s.log.Warn("purge unpaid order failed", zap.String("order_id", order.OrderID), zap.Error(err))
			continue
		}
		if ok {
			purged++
		}
	}
	if purged > 0 {
		s.log.Info("stale unpaid orders purged", zap.Int("count", purged))
	}
	return purged, nil
}

func (s *Service) purgeOrder(ctx context.Context, order domain.Order) (bool, error) {
	held, err := s.locker.Obtain(ctx, verifyLockKey(order.OrderID), verifyLockTTL, 0)
	if errors.Is(err, lock.ErrNotObtained) {
		s.log.Debug("unpaid order is being verified, skipping purge", zap.String("order_id", order.OrderID))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("release verify lock", zap.String("order_id", order.OrderID), zap.Error(err))
		}
	}()

	err = s.dropUnpaidOrder(ctx, order)
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
		// paid or removed since it was listed
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SyncCourier marks dispatched orders delivered once the courier confirms.
// A failing lookup skips that order until the next run.
func (s *Service) SyncCourier(ctx context.Context) (int, error) {
	orders, err := s.repo.ListOrdersByStatus(ctx, domain.DeliveryDispatched, courierBatch)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, order := range orders {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		ok, err := s.courier.Delivered(ctx, order.OrderID)
		if err != nil {
			s.log.Warn("courier lookup failed", zap.String("order_id", order.OrderID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if _, err := s.repo.UpdateDeliveryStatus(ctx, order.OrderID, []string{domain.DeliveryDispatched}, domain.DeliveryDelivered, s.now()); err != nil {
			s.log.Warn("mark delivered failed", zap.String("order_id", order.OrderID), zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered, nil
}
