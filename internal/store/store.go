package store

import (
	"context"
	"errors"
	"time"

	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("state conflict")
	ErrDuplicate         = errors.New("duplicate key")
)

// Transactor runs fn inside one transaction. The transaction travels in the
// context handed to fn; repository calls made with that context join it, and
// nested WithinTx calls reuse it. fn returning an error rolls everything back.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type CatalogStore interface {
	GetProduct(ctx context.Context, group string, productID string) (*domain.Product, error)
	ListProducts(ctx context.Context, group string) ([]domain.Product, error)
	FindVariantSize(ctx context.Context, ref domain.SizeRef) (*domain.StockItem, error)
	// DecrementQuantity subtracts amount only when at least amount is on hand.
	DecrementQuantity(ctx context.Context, ref domain.SizeRef, amount int) error
	IncrementQuantity(ctx context.Context, ref domain.SizeRef, amount int) error
	UpsertProductFromLine(ctx context.Context, line domain.StockLine, ledgerID string, storeID string, at time.Time) (domain.ProductRef, error)
	TransferToStore(ctx context.Context, ref domain.SizeRef, fromStoreID string, toStoreID string, ledgerID string, amount int, at time.Time) error
}

type LedgerStore interface {
	CreateAssignedInventory(ctx context.Context, inv domain.AssignedInventory) error
	GetAssignedInventory(ctx context.Context, id string) (*domain.AssignedInventory, error)
	ListAssignedInventories(ctx context.Context, storeID string, status string) ([]domain.AssignedInventory, error)
	MarkAssignedReceived(ctx context.Context, id string, at time.Time) (*domain.AssignedInventory, error)

	CreateRaisedInventory(ctx context.Context, inv domain.RaisedInventory) error
	GetRaisedInventory(ctx context.Context, id string) (*domain.RaisedInventory, error)
	ListRaisedInventories(ctx context.Context, storeID string, status string) ([]domain.RaisedInventory, error)
	// TransitionRaisedInventory moves the request from one status to another,
	// failing with ErrConflict when it is not currently in from.
	TransitionRaisedInventory(ctx context.Context, id string, from string, to string, note string, at time.Time) (*domain.RaisedInventory, error)
	MarkRaisedFulfilled(ctx context.Context, id string, assignedInventoryID string) error
}

type OrderStore interface {
	CreateOrder(ctx context.Context, order domain.Order) error
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error)
	ListOrdersByStatus(ctx context.Context, status string, limit int) ([]domain.Order, error)
	SetGatewayOrderID(ctx context.Context, orderID string, gatewayOrderID string) error
	// MarkOrderCreated flips order_created once, and only while the order is
	// Pending. Anything else gets ErrConflict.
	MarkOrderCreated(ctx context.Context, orderID string, paymentID string, at time.Time) error
	// DeleteUnpaidOrder removes an order that was never confirmed.
	DeleteUnpaidOrder(ctx context.Context, orderID string) error
	// ListStaleOrders returns unpaid orders created before the cutoff, oldest first.
	ListStaleOrders(ctx context.Context, before time.Time, limit int) ([]domain.Order, error)
	UpdateDeliveryStatus(ctx context.Context, orderID string, from []string, to string, at time.Time) (*domain.Order, error)
	SaveOrderLines(ctx context.Context, orderID string, lines []domain.OrderLine, at time.Time) error

	CreatePayment(ctx context.Context, payment domain.Payment) error
	GetPaymentByOrder(ctx context.Context, orderID string) (*domain.Payment, error)

	CreateReturnOrder(ctx context.Context, ret domain.ReturnOrder) error
	GetReturnOrder(ctx context.Context, returnID string) (*domain.ReturnOrder, error)
	TransitionReturnOrder(ctx context.Context, returnID string, from string, to string, at time.Time) (*domain.ReturnOrder, error)
}

type BillStore interface {
	CreateBill(ctx context.Context, bill domain.Bill) error
	GetBill(ctx context.Context, billID string) (*domain.Bill, error)
	ListBills(ctx context.Context, storeID string, includeDeleted bool) ([]domain.Bill, error)
	SetInvoiceURL(ctx context.Context, billID string, url string) error
	// ReplaceBill overwrites the live bill's mutable fields.
	ReplaceBill(ctx context.Context, bill domain.Bill) error
	ArchiveBill(ctx context.Context, old domain.OldBill) error
	ListOldBills(ctx context.Context, billID string) ([]domain.OldBill, error)
	SetBillEditStatus(ctx context.Context, billID string, from []string, to string, at time.Time) error
	RequestBillDelete(ctx context.Context, billID string, note string, at time.Time) error
	DecideBillDelete(ctx context.Context, billID string, approved bool, note string, at time.Time) (*domain.Bill, error)

	CreateBillEditReq(ctx context.Context, req domain.BillEditReq) error
	GetBillEditReq(ctx context.Context, id string) (*domain.BillEditReq, error)
	ListBillEditReqs(ctx context.Context, storeID string, status string) ([]domain.BillEditReq, error)
	DecideBillEditReq(ctx context.Context, id string, status string, note string, at time.Time) (*domain.BillEditReq, error)
}

type CouponStore interface {
	CreateCoupon(ctx context.Context, coupon domain.Coupon) error
	GetCoupon(ctx context.Context, code string) (*domain.Coupon, error)
	ListCoupons(ctx context.Context, status string) ([]domain.Coupon, error)
	// ReserveCoupon holds a pending single-use coupon for one order.
	ReserveCoupon(ctx context.Context, code string, customerID string, orderID string) error
	// ReleaseCoupon returns a coupon reserved by orderID to pending. It is a
	// no-op when the coupon is not held by that order.
	ReleaseCoupon(ctx context.Context, code string, orderID string) error
	// MarkCouponUsed consumes a coupon reserved by orderID.
	MarkCouponUsed(ctx context.Context, code string, orderID string) error
	// AppendCouponUsage records one use of a multi-use coupon; a customer
	// already on the list gets ErrConflict.
	AppendCouponUsage(ctx context.Context, code string, usage domain.CouponUsage) error
	ExpireCoupons(ctx context.Context, now time.Time) (int, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	Transactor
	CatalogStore
	LedgerStore
	OrderStore
	BillStore
	CouponStore
	UserStore
}
