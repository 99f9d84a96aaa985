package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/apperr"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/blob"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/cache"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/courier"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/lock"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/notify"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/payment"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/store"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/xid"
)

const (
	ledgerCodeLength = 6
	couponCodeLength = 8
	codeAttempts     = 5

	verifyLockTTL  = 30 * time.Second
	verifyLockWait = 5 * time.Second
	notifyTimeout  = 15 * time.Second
)

type Deps struct {
	Repo     store.Repository
	Gateway  payment.Gateway
	Locker   lock.Locker
	Notifier notify.Notifier
	Blob     blob.Store
	Cache    cache.FacetCache
	Courier  courier.Tracker
	Logger   *zap.Logger

	WarehouseID    string
	AdminEmail     string
	FacetTTL       time.Duration
	UnpaidOrderTTL time.Duration
	Now            func() time.Time
}

type Service struct {
	repo     store.Repository
	gateway  payment.Gateway
	locker   lock.Locker
	notifier notify.Notifier
	blobs    blob.Store
	facets   cache.FacetCache
	courier  courier.Tracker
	log      *zap.Logger
	validate *validator.Validate

	warehouseID    string
	adminEmail     string
	facetTTL       time.Duration
	unpaidOrderTTL time.Duration
	now            func() time.Time

	background sync.WaitGroup
}

func New(deps Deps) *Service {
	s := &Service{
		repo:           deps.Repo,
		gateway:        deps.Gateway,
		locker:         deps.Locker,
		notifier:       deps.Notifier,
		blobs:          deps.Blob,
		facets:         deps.Cache,
		courier:        deps.Courier,
		log:            deps.Logger,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		warehouseID:    deps.WarehouseID,
		adminEmail:     deps.AdminEmail,
		facetTTL:       deps.FacetTTL,
		unpaidOrderTTL: deps.UnpaidOrderTTL,
		now:            deps.Now,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.locker == nil {
		s.locker = lock.NewLocal()
	}
	if s.notifier == nil {
		s.notifier = notify.NewLog(s.log)
	}
	if s.blobs == nil {
		s.blobs = blob.NewMemory()
	}
	if s.facets == nil {
		s.facets = cache.NoopFacetCache{}
	}
	if s.courier == nil {
		s.courier = courier.Noop{}
	}
	if s.warehouseID == "" {
		s.warehouseID = "WAREHOUSE"
	}
	if s.facetTTL <= 0 {
		s.facetTTL = 5 * time.Minute
	}
	if s.unpaidOrderTTL <= 0 {
		s.unpaidOrderTTL = 24 * time.Hour
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Drain waits for outstanding best-effort work such as queued emails.
func (s *Service) Drain() {
	s.background.Wait()
}

func (s *Service) WarehouseID() string {
	return s.warehouseID
}

// storeErr classifies a repository error for callers; what names the entity.
func storeErr(err error, what string) error {
	var appErr *apperr.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, store.ErrNotFound):
		return apperr.Wrap(apperr.KindNotFound, err, what+" not found")
	case errors.Is(err, store.ErrInsufficientStock):
		return apperr.Wrap(apperr.KindBadRequest, err, "Insufficient stock")
	case errors.Is(err, store.ErrConflict):
		return apperr.Wrap(apperr.KindConflict, err, what+" is not in a state that allows this action")
	case errors.Is(err, store.ErrDuplicate):
		return apperr.Wrap(apperr.KindConflict, err, what+" already exists")
	default:
		return apperr.Internal(err)
	}
}

func (s *Service) validateStruct(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperr.Internal(err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return apperr.BadRequest("invalid request: %s", strings.Join(msgs, "; "))
}

// withCode runs fn with fresh codes until it stops failing on a duplicate key.
// fn should wrap the whole transaction that inserts the code.
func withCode(n int, fn func(code string) error) error {
	for attempt := 0; attempt < codeAttempts; attempt++ {
		code, err := xid.Code(n)
		if err != nil {
			return apperr.Internal(err)
		}
		err = fn(code)
		if !errors.Is(err, store.ErrDuplicate) {
			return err
		}
	}
	return apperr.Internal(fmt.Errorf("no free %d-char code after %d attempts", n, codeAttempts))
}

// sendEmailAsync delivers mail after the request has returned. Failures are logged.
func (s *Service) sendEmailAsync(ctx context.Context, to string, subject string, body string) {
	if strings.TrimSpace(to) == "" {
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := s.notifier.SendEmail(ctx, to, subject, body); err != nil {
			s.log.Warn("send email failed", zap.String("to", to), zap.String("subject", subject), zap.Error(err))
		}
	}()
}

func lineAmount(price decimal.Decimal, qty int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(qty)))
}

// percentOf returns pct percent of amount rounded to paise.
func percentOf(amount decimal.Decimal, pct int) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(int64(pct))).Div(decimal.NewFromInt(100)).Round(2)
}
