package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleWarehouseManager = "WAREHOUSE_MANAGER"
	RoleStoreManager     = "STORE_MANAGER"
	RoleAdmin            = "ADMIN"
	RoleCustomer         = "CUSTOMER"
)

type Actor struct {
	Username string
	Role     string
	StoreID  string
	Email    string
}

type Color struct {
	Name    string `json:"name"`
	Hexcode string `json:"hexcode,omitempty"`
}

type AssignedHistoryEntry struct {
	LedgerID           string    `json:"ledger_id"`
	QuantityOfAssigned int       `json:"quantity_of_assigned"`
	AssignedAt         time.Time `json:"assigned_at"`
}

type StoreQuantity struct {
	StoreID         string                 `json:"store_id"`
	PresentQuantity int                    `json:"present_quantity"`
	AssignedHistory []AssignedHistoryEntry `json:"assigned_history"`
}

type VariantSize struct {
	Size             string          `json:"size"`
	Quantity         int             `json:"quantity"`
	StyleCoat        string          `json:"style_coat,omitempty"`
	SKU              string          `json:"sku,omitempty"`
	QuantityByStores []StoreQuantity `json:"quantity_by_stores"`
}

type Variant struct {
	VariantID    string        `json:"variant_id"`
	Color        Color         `json:"color"`
	IsDeleted    bool          `json:"is_deleted"`
	VariantSizes []VariantSize `json:"variant_sizes"`
}

type Product struct {
	Group           string          `json:"group"`
	ProductID       string          `json:"product_id"`
	Category        string          `json:"category"`
	SubCategory     string          `json:"sub_category,omitempty"`
	SchoolName      string          `json:"school_name,omitempty"`
	ProductCategory string          `json:"product_category"`
	ProductName     string          `json:"product_name"`
	Gender          string          `json:"gender,omitempty"`
	Pattern         string          `json:"pattern,omitempty"`
	Fit             string          `json:"fit,omitempty"`
	Neckline        string          `json:"neckline,omitempty"`
	Sleeves         string          `json:"sleeves,omitempty"`
	Fabric          string          `json:"fabric,omitempty"`
	Description     string          `json:"description,omitempty"`
	Price           decimal.Decimal `json:"price"`
	IsDeleted       bool            `json:"is_deleted"`
	Variants        []Variant       `json:"variants"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// SizeRef addresses one variant size inside a group's catalog.
type SizeRef struct {
	Group     string `json:"group" validate:"required"`
	ProductID string `json:"product_id" validate:"required"`
	Color     string `json:"color" validate:"required"`
	Size      string `json:"size" validate:"required"`
}

// StockItem is a flattened read of one variant size together with the
// product fields callers snapshot into orders, bills and ledgers.
type StockItem struct {
	Group           string          `json:"group"`
	ProductID       string          `json:"product_id"`
	ProductName     string          `json:"product_name"`
	ProductCategory string          `json:"product_category"`
	Price           decimal.Decimal `json:"price"`
	VariantID       string          `json:"variant_id"`
	Color           Color           `json:"color"`
	Size            string          `json:"size"`
	Quantity        int             `json:"quantity"`
	StyleCoat       string          `json:"style_coat,omitempty"`
	SKU             string          `json:"sku,omitempty"`
	StoreQuantities map[string]int  `json:"store_quantities,omitempty"`
}

type ProductRef struct {
	Group     string `json:"group"`
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Created   bool   `json:"created"`
}

// StockLine is one normalized row of an uploaded stock sheet.
type StockLine struct {
	Group           string          `json:"group"`
	ProductID       string          `json:"product_id"`
	Category        string          `json:"category"`
	SubCategory     string          `json:"sub_category,omitempty"`
	SchoolName      string          `json:"school_name,omitempty"`
	ProductCategory string          `json:"product_category"`
	ProductName     string          `json:"product_name"`
	Gender          string          `json:"gender,omitempty"`
	Pattern         string          `json:"pattern,omitempty"`
	Fit             string          `json:"fit,omitempty"`
	Neckline        string          `json:"neckline,omitempty"`
	Sleeves         string          `json:"sleeves,omitempty"`
	Fabric          string          `json:"fabric,omitempty"`
	Description     string          `json:"description,omitempty"`
	Color           Color           `json:"color"`
	Size            string          `json:"size"`
	StyleCoat       string          `json:"style_coat,omitempty"`
	SKU             string          `json:"sku,omitempty"`
	Quantity        int             `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
}

func (l StockLine) Ref() SizeRef {
	return SizeRef{Group: l.Group, ProductID: l.ProductID, Color: l.Color.Name, Size: l.Size}
}

func (l StockLine) Amount() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

const (
	AssignedStatusAssigned = "ASSIGNED"
	AssignedStatusReceived = "RECEIVED"

	RaisedStatusPending  = "PENDING"
	RaisedStatusApproved = "APPROVED"
	RaisedStatusRejected = "REJECTED"
	RaisedStatusReceived = "RECEIVED"
)

type AssignedInventory struct {
	AssignedInventoryID   string          `json:"assigned_inventory_id"`
	StoreID               string          `json:"store_id"`
	Status                string          `json:"status"`
	TotalAmountOfAssigned decimal.Decimal `json:"total_amount_of_assigned"`
	Products              []StockLine     `json:"products"`
	RaisedInventoryID     string          `json:"raised_inventory_id,omitempty"`
	CreatedBy             string          `json:"created_by"`
	AssignedDate          time.Time       `json:"assigned_date"`
	ReceivedDate          *time.Time      `json:"received_date,omitempty"`
}

type RaisedInventory struct {
	RaisedInventoryID string          `json:"raised_inventory_id"`
	StoreID           string          `json:"store_id"`
	Status            string          `json:"status"`
	TotalAmountRaised decimal.Decimal `json:"total_amount_raised"`
	Products          []StockLine     `json:"products"`
	RaisedBy          string          `json:"raised_by"`
	DecisionNote      string          `json:"decision_note,omitempty"`
	FulfilledBy       string          `json:"fulfilled_by,omitempty"`
	RaisedDate        time.Time       `json:"raised_date"`
	ApprovedDate      *time.Time      `json:"approved_date,omitempty"`
	RejectedDate      *time.Time      `json:"rejected_date,omitempty"`
	ReceivedDate      *time.Time      `json:"received_date,omitempty"`
}

type UploadResponse struct {
	Ledger   *AssignedInventory `json:"ledger,omitempty"`
	Products []ProductRef       `json:"products"`
}

const (
	DeliveryPending    = "Pending"
	DeliveryDispatched = "Dispatched"
	DeliveryDelivered  = "Delivered"
	DeliveryCanceled   = "Canceled"

	ReturnRequested = "REQUESTED"
	ReturnReturned  = "RETURNED"
	ReturnRejected  = "REJECTED"
)

type OrderLine struct {
	Group              string          `json:"group"`
	ProductID          string          `json:"product_id"`
	ProductName        string          `json:"product_name"`
	Color              Color           `json:"color"`
	Size               string          `json:"size"`
	SKU                string          `json:"sku,omitempty"`
	QuantityOrdered    int             `json:"quantity_ordered"`
	Price              decimal.Decimal `json:"price"`
	DiscountPercentage int             `json:"discount_percentage"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	ReturnStatus       string          `json:"return_status,omitempty"`
}

func (l OrderLine) Ref() SizeRef {
	return SizeRef{Group: l.Group, ProductID: l.ProductID, Color: l.Color.Name, Size: l.Size}
}

type Order struct {
	OrderID                 string          `json:"order_id"`
	UserID                  string          `json:"user_id"`
	UserEmail               string          `json:"user_email,omitempty"`
	AddressID               string          `json:"address_id"`
	Products                []OrderLine     `json:"products"`
	TotalAmount             decimal.Decimal `json:"total_amount"`
	TotalDiscountAmount     decimal.Decimal `json:"total_discount_amount"`
	TotalPriceAfterDiscount decimal.Decimal `json:"total_price_after_discount"`
	DeliveryStatus          string          `json:"delivery_status"`
	OrderCreated            bool            `json:"order_created"`
	PaymentID               string          `json:"payment_id,omitempty"`
	GatewayOrderID          string          `json:"gateway_order_id,omitempty"`
	CouponCode              string          `json:"coupon_code,omitempty"`
	CouponType              string          `json:"coupon_type,omitempty"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

type Payment struct {
	PaymentID        string          `json:"payment_id"`
	OrderID          string          `json:"order_id"`
	GatewayOrderID   string          `json:"gateway_order_id"`
	GatewayPaymentID string          `json:"gateway_payment_id"`
	Signature        string          `json:"signature"`
	Amount           decimal.Decimal `json:"amount"`
	CreatedAt        time.Time       `json:"created_at"`
}

type ReturnLine struct {
	SizeRef
	Quantity int    `json:"quantity" validate:"min=1"`
	Reason   string `json:"reason,omitempty"`
}

type ReturnOrder struct {
	ReturnID    string       `json:"return_id"`
	OrderID     string       `json:"order_id"`
	UserID      string       `json:"user_id"`
	Lines       []ReturnLine `json:"lines"`
	Status      string       `json:"status"`
	RequestedAt time.Time    `json:"requested_at"`
	DecidedAt   *time.Time   `json:"decided_at,omitempty"`
}

type OrderLineRequest struct {
	SizeRef
	Quantity int `json:"quantity" validate:"min=1"`
}

type CreateOrderRequest struct {
	AddressID  string             `json:"address_id" validate:"required"`
	Products   []OrderLineRequest `json:"products" validate:"required,min=1,dive"`
	CouponCode string             `json:"coupon_code,omitempty"`
}

type CreateOrderResponse struct {
	Order   Order         `json:"order"`
	Payment PaymentIntent `json:"payment"`
}

type PaymentIntent struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type VerifyPaymentRequest struct {
	GatewayOrderID   string `json:"razorpay_order_id" validate:"required"`
	GatewayPaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature        string `json:"razorpay_signature" validate:"required"`
	OrderID          string `json:"order_id" validate:"required"`
}

type VerifyPaymentResponse struct {
	OrderID   string `json:"order_id"`
	Verified  bool   `json:"verified"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Deleted   bool   `json:"deleted,omitempty"`
	PaymentID string `json:"payment_id,omitempty"`
	Message   string `json:"message"`
}

type ReturnRequest struct {
	Lines []ReturnLine `json:"lines" validate:"required,min=1,dive"`
}

const (
	PaymentCash = "CASH"
	PaymentUPI  = "UPI"
	PaymentCard = "CARD"

	ApprovalPending  = "PENDING"
	ApprovalApproved = "APPROVED"
	ApprovalRejected = "REJECTED"
)

type Customer struct {
	Name  string `json:"name" validate:"required"`
	Phone string `json:"phone" validate:"required"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
}

type BillLine struct {
	Group       string          `json:"group"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Color       Color           `json:"color"`
	Size        string          `json:"size"`
	SKU         string          `json:"sku,omitempty"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

type Bill struct {
	BillID             string          `json:"bill_id"`
	StoreID            string          `json:"store_id"`
	Customer           Customer        `json:"customer"`
	Products           []BillLine      `json:"products"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	DiscountPercentage int             `json:"discount_percentage"`
	PriceAfterDiscount decimal.Decimal `json:"price_after_discount"`
	ModeOfPayment      string          `json:"mode_of_payment"`
	InvoiceURL         string          `json:"invoice_url,omitempty"`
	EditStatus         string          `json:"edit_status,omitempty"`
	DeleteReqStatus    string          `json:"delete_req_status,omitempty"`
	DeleteReqNote      string          `json:"delete_req_note,omitempty"`
	DeleteValidateNote string          `json:"delete_validate_note,omitempty"`
	IsDeleted          bool            `json:"is_deleted"`
	CreatedBy          string          `json:"created_by"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type OldBill struct {
	ArchiveID     string    `json:"archive_id"`
	BillID        string    `json:"bill_id"`
	EditBillReqID string    `json:"edit_bill_req_id"`
	Snapshot      Bill      `json:"snapshot"`
	ArchivedAt    time.Time `json:"archived_at"`
}

type BillEditReq struct {
	EditBillReqID      string          `json:"edit_bill_req_id"`
	BillID             string          `json:"bill_id"`
	StoreID            string          `json:"store_id"`
	Before             Bill            `json:"before"`
	Customer           Customer        `json:"customer"`
	Products           []BillLine      `json:"products"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	DiscountPercentage int             `json:"discount_percentage"`
	PriceAfterDiscount decimal.Decimal `json:"price_after_discount"`
	ModeOfPayment      string          `json:"mode_of_payment"`
	RequestNote        string          `json:"request_note,omitempty"`
	Status             string          `json:"status"`
	ValidateNote       string          `json:"validate_note,omitempty"`
	RequestedBy        string          `json:"requested_by"`
	RequestedAt        time.Time       `json:"requested_at"`
	ValidatedAt        *time.Time      `json:"validated_at,omitempty"`
}

type BillLineRequest struct {
	SizeRef
	Quantity int `json:"quantity" validate:"min=1"`
}

type CreateBillRequest struct {
	Customer           Customer          `json:"customer" validate:"required"`
	Products           []BillLineRequest `json:"products" validate:"required,min=1,dive"`
	DiscountPercentage int               `json:"discount_percentage" validate:"min=0,max=100"`
	ModeOfPayment      string            `json:"mode_of_payment" validate:"required,oneof=CASH UPI CARD"`
}

type BillEditRequest struct {
	CreateBillRequest
	RequestNote string `json:"request_note,omitempty"`
}

type ValidateRequest struct {
	IsApproved   bool   `json:"is_approved"`
	ValidateNote string `json:"validate_note,omitempty"`
}

type DeleteBillRequest struct {
	Note string `json:"note" validate:"required"`
}

const (
	CouponTypeTrumz     = "trumz"
	CouponTypeDresscode = "dresscode"

	CouponPending  = "pending"
	CouponReserved = "reserved"
	CouponExpired  = "expired"
	CouponUsed     = "used"
)

type CouponUsage struct {
	CustomerID string    `json:"customer_id"`
	OrderID    string    `json:"order_id"`
	UsedAt     time.Time `json:"used_at"`
}

type Coupon struct {
	CouponCode         string        `json:"coupon_code"`
	Type               string        `json:"type"`
	DiscountPercentage int           `json:"discount_percentage"`
	Status             string        `json:"status"`
	ExpiryDate         time.Time     `json:"expiry_date"`
	LinkedGroup        string        `json:"linked_group,omitempty"`
	LinkedProductID    string        `json:"linked_product_id,omitempty"`
	CustomerID         string        `json:"customer_id,omitempty"`
	OrderID            string        `json:"order_id,omitempty"`
	UsedBy             []CouponUsage `json:"used_by,omitempty"`
	CreatedBy          string        `json:"created_by"`
	CreatedAt          time.Time     `json:"created_at"`
}

// Applies reports whether the coupon covers the given catalog line.
func (c Coupon) Applies(group, productID string) bool {
	if c.LinkedGroup != "" && c.LinkedGroup != group {
		return false
	}
	if c.LinkedProductID != "" && c.LinkedProductID != productID {
		return false
	}
	return true
}

type CreateCouponRequest struct {
	Type               string    `json:"type" validate:"required,oneof=trumz dresscode"`
	DiscountPercentage int       `json:"discount_percentage" validate:"min=1,max=100"`
	ExpiryDate         time.Time `json:"expiry_date" validate:"required"`
	LinkedGroup        string    `json:"linked_group,omitempty"`
	LinkedProductID    string    `json:"linked_product_id,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	StoreID     string `json:"store_id,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

type CreateUserRequest struct {
	Username string `json:"username" validate:"required,min=4"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role" validate:"required,oneof=WAREHOUSE_MANAGER STORE_MANAGER ADMIN CUSTOMER"`
	StoreID  string `json:"store_id,omitempty" validate:"required_if=Role STORE_MANAGER"`
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	StoreID   string    `json:"store_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
