package memory

import (
	"context"
	"maps"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/catalog"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/domain"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/store"
)

// Store keeps every record in maps. Stored values are never mutated in place:
// writers clone, modify and put back, so a transaction snapshot is a shallow
// copy of the maps.
type Store struct {
	mu    sync.Mutex
	state state
}

type state struct {
	products map[string]domain.Product
	assigned map[string]domain.AssignedInventory
	raised   map[string]domain.RaisedInventory
	orders   map[string]domain.Order
	payments map[string]domain.Payment
	returns  map[string]domain.ReturnOrder
	bills    map[string]domain.Bill
	oldBills []domain.OldBill
	editReqs map[string]domain.BillEditReq
	coupons  map[string]domain.Coupon
	users    map[string]domain.UserAccount
}

func (s state) snapshot() state {
	return state{
		products: maps.Clone(s.products),
		assigned: maps.Clone(s.assigned),
		raised:   maps.Clone(s.raised),
		orders:   maps.Clone(s.orders),
		payments: maps.Clone(s.payments),
		returns:  maps.Clone(s.returns),
		bills:    maps.Clone(s.bills),
		oldBills: slices.Clone(s.oldBills),
		editReqs: maps.Clone(s.editReqs),
		coupons:  maps.Clone(s.coupons),
		users:    maps.Clone(s.users),
	}
}

type txKey struct{}

func New() *Store {
	return &Store{state: state{
		products: make(map[string]domain.Product),
		assigned: make(map[string]domain.AssignedInventory),
		raised:   make(map[string]domain.RaisedInventory),
		orders:   make(map[string]domain.Order),
		payments: make(map[string]domain.Payment),
		returns:  make(map[string]domain.ReturnOrder),
		bills:    make(map[string]domain.Bill),
		editReqs: make(map[string]domain.BillEditReq),
		coupons:  make(map[string]domain.Coupon),
		users:    make(map[string]domain.UserAccount),
	}}
}

// NewSeeded returns a store with demo accounts and a small warehouse catalog.
// Passwords come from SEED_* variables, falling back to dev defaults.
func NewSeeded(warehouseID string) *Store {
	s := New()
	if os.Getenv("SEED_WAREHOUSE_PASSWORD") == "" || os.Getenv("SEED_STORE_PASSWORD") == "" {
		zap.L().Warn("memory store: using default dev credentials; set SEED_WAREHOUSE_PASSWORD and SEED_STORE_PASSWORD to override")
	}

	now := time.Now().UTC()
	for _, u := range []struct {
		username string
		password string
		role     string
		storeID  string
		email    string
	}{
		{"warehouse", envOr("SEED_WAREHOUSE_PASSWORD", "warehouse123"), domain.RoleWarehouseManager, warehouseID, "warehouse@dresscode.local"},
		{"store1", envOr("SEED_STORE_PASSWORD", "store123"), domain.RoleStoreManager, "STORE1", "store1@dresscode.local"},
		{"admin", envOr("SEED_ADMIN_PASSWORD", "admin123"), domain.RoleAdmin, "", "admin@dresscode.local"},
		{"customer", envOr("SEED_CUSTOMER_PASSWORD", "customer123"), domain.RoleCustomer, "", "customer@dresscode.local"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			zap.L().Fatal("memory store: hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		s.state.users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			StoreID:   u.storeID,
			Email:     u.email,
			Active:    true,
			CreatedAt: now,
		}
	}

	seed := []domain.StockLine{
		{Group: "TOGS", Category: "SCHOOL", SchoolName: "ABC", ProductCategory: "SHIRT", ProductName: "Formal", Gender: "BOY", Pattern: "PLAIN", Color: domain.Color{Name: "WHITE", Hexcode: "#FFFFFF"}, Size: "M", Quantity: 40, Price: decimal.NewFromInt(500)},
		{Group: "TOGS", Category: "SCHOOL", SchoolName: "ABC", ProductCategory: "SHIRT", ProductName: "Formal", Gender: "BOY", Pattern: "PLAIN", Color: domain.Color{Name: "WHITE", Hexcode: "#FFFFFF"}, Size: "L", Quantity: 25, Price: decimal.NewFromInt(500)},
		{Group: "HEAL", Category: "MEDICAL", ProductCategory: "SCRUB", ProductName: "Classic", Gender: "FEMALE", Fit: "REGULAR", Color: domain.Color{Name: "TEAL", Hexcode: "#008080"}, Size: "S", Quantity: 30, Price: decimal.NewFromInt(1200)},
	}
	for _, line := range seed {
		line.ProductID = catalog.ProductKey(line)
		if _, err := s.UpsertProductFromLine(context.Background(), line, "SEED00", warehouseID, now); err != nil {
			zap.L().Warn("memory store: seed product", zap.String("product_id", line.ProductID), zap.Error(err))
		}
	}
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) == s {
		return fn(ctx)
	}

	s.mu.Lock()
	snap := s.state.snapshot()
	committed := false
	defer func() {
		if !committed {
			s.state = snap
		}
		s.mu.Unlock()
	}()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		return err
	}
	committed = true
	return nil
}

// lock takes the store mutex unless ctx already holds it through WithinTx.
func (s *Store) lock(ctx context.Context) func() {
	if ctx.Value(txKey{}) == s {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func productKey(group, productID string) string {
	return group + "\x00" + productID
}

func cloneProduct(p domain.Product) domain.Product {
	out := p
	out.Variants = make([]domain.Variant, len(p.Variants))
	for i, v := range p.Variants {
		nv := v
		nv.VariantSizes = make([]domain.VariantSize, len(v.VariantSizes))
		for j, vs := range v.VariantSizes {
			nvs := vs
			nvs.QuantityByStores = make([]domain.StoreQuantity, len(vs.QuantityByStores))
			for k, sq := range vs.QuantityByStores {
				nsq := sq
				nsq.AssignedHistory = slices.Clone(sq.AssignedHistory)
				nvs.QuantityByStores[k] = nsq
			}
			nv.VariantSizes[j] = nvs
		}
		out.Variants[i] = nv
	}
	return out
}

// locate returns a private copy of the product holding ref plus the indexes
// of the matching variant and size.
func (s *Store) locate(ref domain.SizeRef) (domain.Product, int, int, error) {
	p, ok := s.state.products[productKey(ref.Group, ref.ProductID)]
	if !ok || p.IsDeleted {
		return domain.Product{}, 0, 0, store.ErrNotFound
	}
	for vi, v := range p.Variants {
		if v.IsDeleted || !strings.EqualFold(v.Color.Name, ref.Color) {
			continue
		}
		for si, vs := range v.VariantSizes {
			if strings.EqualFold(vs.Size, ref.Size) {
				return cloneProduct(p), vi, si, nil
			}
		}
	}
	return domain.Product{}, 0, 0, store.ErrNotFound
}

func (s *Store) GetProduct(ctx context.Context, group string, productID string) (*domain.Product, error) {
	defer s.lock(ctx)()
	p, ok := s.state.products[productKey(group, productID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneProduct(p)
	return &out, nil
}

func (s *Store) ListProducts(ctx context.Context, group string) ([]domain.Product, error) {
	defer s.lock(ctx)()
	out := make([]domain.Product, 0, len(s.state.products))
	for _, p := range s.state.products {
		if group != "" && p.Group != group {
			continue
		}
		out = append(out, cloneProduct(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out, nil
}

func (s *Store) FindVariantSize(ctx context.Context, ref domain.SizeRef) (*domain.StockItem, error) {
	defer s.lock(ctx)()
	p, vi, si, err := s.locate(ref)
	if err != nil {
		return nil, err
	}
	v := p.Variants[vi]
	vs := v.VariantSizes[si]
	item := &domain.StockItem{
		Group:           p.Group,
		ProductID:       p.ProductID,
		ProductName:     p.ProductName,
		ProductCategory: p.ProductCategory,
		Price:           p.Price,
		VariantID:       v.VariantID,
		Color:           v.Color,
		Size:            vs.Size,
		Quantity:        vs.Quantity,
		StyleCoat:       vs.StyleCoat,
		SKU:             vs.SKU,
		StoreQuantities: make(map[string]int, len(vs.QuantityByStores)),
	}
	for _, sq := range vs.QuantityByStores {
		item.StoreQuantities[sq.StoreID] = sq.PresentQuantity
	}
	return item, nil
}

func (s *Store) DecrementQuantity(ctx context.Context, ref domain.SizeRef, amount int) error {
	if amount < 1 {
		return store.ErrConflict
	}
	defer s.lock(ctx)()
	p, vi, si, err := s.locate(ref)
	if err != nil {
		return err
	}
	vs := &p.Variants[vi].VariantSizes[si]
	if vs.Quantity < amount {
		return store.ErrInsufficientStock
	}
	vs.Quantity -= amount
	p.UpdatedAt = time.Now().UTC()
	s.state.products[productKey(p.Group, p.ProductID)] = p
	return nil
}

func (s *Store) IncrementQuantity(ctx context.Context, ref domain.SizeRef, amount int) error {
	if amount < 1 {
		return store.ErrConflict
	}
	defer s.lock(ctx)()
	p, vi, si, err := s.locate(ref)
	if err != nil {
		return err
	}
	p.Variants[vi].VariantSizes[si].Quantity += amount
	p.UpdatedAt = time.Now().UTC()
	s.state.products[productKey(p.Group, p.ProductID)] = p
	return nil
}

func (s *Store) UpsertProductFromLine(ctx context.Context, line domain.StockLine, ledgerID string, storeID string, at time.Time) (domain.ProductRef, error) {
	if line.Group == "" || line.ProductID == "" || line.Color.Name == "" || line.Size == "" || line.Quantity < 1 {
		return domain.ProductRef{}, store.ErrConflict
	}
	defer s.lock(ctx)()

	key := productKey(line.Group, line.ProductID)
	existing, ok := s.state.products[key]
	created := !ok
	var p domain.Product
	if ok {
		p = cloneProduct(existing)
		p.IsDeleted = false
		if !line.Price.IsZero() {
			p.Price = line.Price
		}
	} else {
		p = domain.Product{
			Group:           line.Group,
			ProductID:       line.ProductID,
			Category:        line.Category,
			SubCategory:     line.SubCategory,
			SchoolName:      line.SchoolName,
			ProductCategory: line.ProductCategory,
			ProductName:     line.ProductName,
			Gender:          line.Gender,
			Pattern:         line.Pattern,
			Fit:             line.Fit,
			Neckline:        line.Neckline,
			Sleeves:         line.Sleeves,
			Fabric:          line.Fabric,
			Description:     line.Description,
			Price:           line.Price,
			CreatedAt:       at,
		}
	}
	p.UpdatedAt = at

	vi := slices.IndexFunc(p.Variants, func(v domain.Variant) bool {
		return strings.EqualFold(v.Color.Name, line.Color.Name)
	})
	if vi < 0 {
		p.Variants = append(p.Variants, domain.Variant{
			VariantID: uuid.NewString(),
			Color:     line.Color,
		})
		vi = len(p.Variants) - 1
	}
	variant := &p.Variants[vi]
	variant.IsDeleted = false
	if variant.Color.Hexcode == "" {
		variant.Color.Hexcode = line.Color.Hexcode
	}

	si := slices.IndexFunc(variant.VariantSizes, func(vs domain.VariantSize) bool {
		return strings.EqualFold(vs.Size, line.Size)
	})
	if si < 0 {
		variant.VariantSizes = append(variant.VariantSizes, domain.VariantSize{
			Size:      line.Size,
			StyleCoat: line.StyleCoat,
			SKU:       line.SKU,
		})
		si = len(variant.VariantSizes) - 1
	}
	size := &variant.VariantSizes[si]
	size.Quantity += line.Quantity
	addPresent(size, storeID, ledgerID, line.Quantity, at)

	s.state.products[key] = p
	return domain.ProductRef{Group: p.Group, ProductID: p.ProductID, VariantID: variant.VariantID, Created: created}, nil
}

func addPresent(size *domain.VariantSize, storeID string, ledgerID string, qty int, at time.Time) {
	idx := slices.IndexFunc(size.QuantityByStores, func(sq domain.StoreQuantity) bool {
		return sq.StoreID == storeID
	})
	if idx < 0 {
		size.QuantityByStores = append(size.QuantityByStores, domain.StoreQuantity{StoreID: storeID})
		idx = len(size.QuantityByStores) - 1
	}
	entry := &size.QuantityByStores[idx]
	entry.PresentQuantity += qty
	entry.AssignedHistory = append(entry.AssignedHistory, domain.AssignedHistoryEntry{
		LedgerID:           ledgerID,
		QuantityOfAssigned: qty,
		AssignedAt:         at,
	})
}

func (s *Store) TransferToStore(ctx context.Context, ref domain.SizeRef, fromStoreID string, toStoreID string, ledgerID string, amount int, at time.Time) error {
	if amount < 1 || fromStoreID == toStoreID {
		return store.ErrConflict
	}
	defer s.lock(ctx)()
	p, vi, si, err := s.locate(ref)
	if err != nil {
		return err
	}
	size := &p.Variants[vi].VariantSizes[si]
	from := slices.IndexFunc(size.QuantityByStores, func(sq domain.StoreQuantity) bool {
		return sq.StoreID == fromStoreID
	})
	if from < 0 || size.QuantityByStores[from].PresentQuantity < amount {
		return store.ErrInsufficientStock
	}
	size.QuantityByStores[from].PresentQuantity -= amount
	addPresent(size, toStoreID, ledgerID, amount, at)
	p.UpdatedAt = at
	s.state.products[productKey(p.Group, p.ProductID)] = p
	return nil
}

func (s *Store) CreateAssignedInventory(ctx context.Context, inv domain.AssignedInventory) error {
	defer s.lock(ctx)()
	if _, exists := s.state.assigned[inv.AssignedInventoryID]; exists {
		return store.ErrDuplicate
	}
	inv.Products = slices.Clone(inv.Products)
	s.state.assigned[inv.AssignedInventoryID] = inv
	return nil
}

func (s *Store) GetAssignedInventory(ctx context.Context, id string) (*domain.AssignedInventory, error) {
	defer s.lock(ctx)()
	inv, ok := s.state.assigned[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	inv.Products = slices.Clone(inv.Products)
	return &inv, nil
}

func (s *Store) ListAssignedInventories(ctx context.Context, storeID string, status string) ([]domain.AssignedInventory, error) {
	defer s.lock(ctx)()
	out := make([]domain.AssignedInventory, 0)
	for _, inv := range s.state.assigned {
		if storeID != "" && inv.StoreID != storeID {
			continue
		}
		if status != "" && inv.Status != status {
			continue
		}
		inv.Products = slices.Clone(inv.Products)
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AssignedDate.After(out[j].AssignedDate)
	})
	return out, nil
}

func (s *Store) MarkAssignedReceived(ctx context.Context, id string, at time.Time) (*domain.AssignedInventory, error) {
	defer s.lock(ctx)()
	inv, ok := s.state.assigned[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if inv.Status != domain.AssignedStatusAssigned {
		return nil, store.ErrConflict
	}
	inv.Status = domain.AssignedStatusReceived
	inv.ReceivedDate = &at
	s.state.assigned[id] = inv
	return &inv, nil
}

func (s *Store) CreateRaisedInventory(ctx context.Context, inv domain.RaisedInventory) error {
	defer s.lock(ctx)()
	if _, exists := s.state.raised[inv.RaisedInventoryID]; exists {
		return store.ErrDuplicate
	}
	inv.Products = slices.Clone(inv.Products)
	s.state.raised[inv.RaisedInventoryID] = inv
	return nil
}

func (s *Store) GetRaisedInventory(ctx context.Context, id string) (*domain.RaisedInventory, error) {
	defer s.lock(ctx)()
	inv, ok := s.state.raised[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	inv.Products = slices.Clone(inv.Products)
	return &inv, nil
}

func (s *Store) ListRaisedInventories(ctx context.Context, storeID string, status string) ([]domain.RaisedInventory, error) {
	defer s.lock(ctx)()
	out := make([]domain.RaisedInventory, 0)
	for _, inv := range s.state.raised {
		if storeID != "" && inv.StoreID != storeID {
			continue
		}
		if status != "" && inv.Status != status {
			continue
		}
		inv.Products = slices.Clone(inv.Products)
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RaisedDate.After(out[j].RaisedDate)
	})
	return out, nil
}

func (s *Store) TransitionRaisedInventory(ctx context.Context, id string, from string, to string, note string, at time.Time) (*domain.RaisedInventory, error) {
	defer s.lock(ctx)()
	inv, ok := s.state.raised[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if inv.Status != from {
		return nil, store.ErrConflict
	}
	inv.Status = to
	switch to {
	case domain.RaisedStatusApproved:
		inv.ApprovedDate = &at
	case domain.RaisedStatusRejected:
		inv.RejectedDate = &at
	case domain.RaisedStatusReceived:
		inv.ReceivedDate = &at
	}
	if note != "" {
		inv.DecisionNote = note
	}
	s.state.raised[id] = inv
	return &inv, nil
}

func (s *Store) MarkRaisedFulfilled(ctx context.Context, id string, assignedInventoryID string) error {
	defer s.lock(ctx)()
	inv, ok := s.state.raised[id]
	if !ok {
		return store.ErrNotFound
	}
	if inv.Status != domain.RaisedStatusApproved || inv.FulfilledBy != "" {
		return store.ErrConflict
	}
	inv.FulfilledBy = assignedInventoryID
	s.state.raised[id] = inv
	return nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) error {
	defer s.lock(ctx)()
	if _, exists := s.state.orders[order.OrderID]; exists {
		return store.ErrDuplicate
	}
	order.Products = slices.Clone(order.Products)
	s.state.orders[order.OrderID] = order
	return nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	defer s.lock(ctx)()
	order, ok := s.state.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	order.Products = slices.Clone(order.Products)
	return &order, nil
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	defer s.lock(ctx)()
	out := make([]domain.Order, 0)
	for _, order := range s.state.orders {
		if order.UserID != userID {
			continue
		}
		order.Products = slices.Clone(order.Products)
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ListOrdersByStatus(ctx context.Context, status string, limit int) ([]domain.Order, error) {
	defer s.lock(ctx)()
	out := make([]domain.Order, 0)
	for _, order := range s.state.orders {
		if order.DeliveryStatus != status || !order.OrderCreated {
			continue
		}
		order.Products = slices.Clone(order.Products)
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SetGatewayOrderID(ctx context.Context, orderID string, gatewayOrderID string) error {
	defer s.lock(ctx)()
	order, ok := s.state.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	order.GatewayOrderID = gatewayOrderID
	s.state.orders[orderID] = order
	return nil
}

func (s *Store) MarkOrderCreated(ctx context.Context, orderID string, paymentID string, at time.Time) error {
	defer s.lock(ctx)()
	order, ok := s.state.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	if order.OrderCreated || order.DeliveryStatus != domain.DeliveryPending {
		return store.ErrConflict
	}
	order.OrderCreated = true
	order.PaymentID = paymentID
	order.UpdatedAt = at
	s.state.orders[orderID] = order
	return nil
}

func (s *Store) DeleteUnpaidOrder(ctx context.Context, orderID string) error {
	defer s.lock(ctx)()
	order, ok := s.state.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	if order.OrderCreated {
		return store.ErrConflict
	}
	delete(s.state.orders, orderID)
	return nil
}

func (s *Store) ListStaleOrders(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	defer s.lock(ctx)()
	out := make([]domain.Order, 0)
	for _, order := range s.state.orders {
		if order.OrderCreated || !order.CreatedAt.Before(before) {
			continue
		}
		order.Products = slices.Clone(order.Products)
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateDeliveryStatus(ctx context.Context, orderID string, from []string, to string, at time.Time) (*domain.Order, error) {
	defer s.lock(ctx)()
	order, ok := s.state.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !slices.Contains(from, order.DeliveryStatus) {
		return nil, store.ErrConflict
	}
	order.DeliveryStatus = to
	order.UpdatedAt = at
	order.Products = slices.Clone(order.Products)
	s.state.orders[orderID] = order
	return &order, nil
}

func (s *Store) SaveOrderLines(ctx context.Context, orderID string, lines []domain.OrderLine, at time.Time) error {
	defer s.lock(ctx)()
	order, ok := s.state.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	order.Products = slices.Clone(lines)
	order.UpdatedAt = at
	s.state.orders[orderID] = order
	return nil
}

func (s *Store) CreatePayment(ctx context.Context, payment domain.Payment) error {
	defer s.lock(ctx)()
	if _, exists := s.state.payments[payment.OrderID]; exists {
		return store.ErrDuplicate
	}
	s.state.payments[payment.OrderID] = payment
	return nil
}

func (s *Store) GetPaymentByOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	defer s.lock(ctx)()
	payment, ok := s.state.payments[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &payment, nil
}

func (s *Store) CreateReturnOrder(ctx context.Context, ret domain.ReturnOrder) error {
	defer s.lock(ctx)()
	if _, exists := s.state.returns[ret.ReturnID]; exists {
		return store.ErrDuplicate
	}
	ret.Lines = slices.Clone(ret.Lines)
	s.state.returns[ret.ReturnID] = ret
	return nil
}

func (s *Store) GetReturnOrder(ctx context.Context, returnID string) (*domain.ReturnOrder, error) {
	defer s.lock(ctx)()
	ret, ok := s.state.returns[returnID]
	if !ok {
		return nil, store.ErrNotFound
	}
	ret.Lines = slices.Clone(ret.Lines)
	return &ret, nil
}

func (s *Store) TransitionReturnOrder(ctx context.Context, returnID string, from string, to string, at time.Time) (*domain.ReturnOrder, error) {
	defer s.lock(ctx)()
	ret, ok := s.state.returns[returnID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if ret.Status != from {
		return nil, store.ErrConflict
	}
	ret.Status = to
	ret.DecidedAt = &at
	ret.Lines = slices.Clone(ret.Lines)
	s.state.returns[returnID] = ret
	return &ret, nil
}

func cloneBill(b domain.Bill) domain.Bill {
	b.Products = slices.Clone(b.Products)
	return b
}

func (s *Store) CreateBill(ctx context.Context, bill domain.Bill) error {
	defer s.lock(ctx)()
	if _, exists := s.state.bills[bill.BillID]; exists {
		return store.ErrDuplicate
	}
	s.state.bills[bill.BillID] = cloneBill(bill)
	return nil
}

func (s *Store) GetBill(ctx context.Context, billID string) (*domain.Bill, error) {
	defer s.lock(ctx)()
	bill, ok := s.state.bills[billID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneBill(bill)
	return &out, nil
}

func (s *Store) ListBills(ctx context.Context, storeID string, includeDeleted bool) ([]domain.Bill, error) {
	defer s.lock(ctx)()
	out := make([]domain.Bill, 0)
	for _, bill := range s.state.bills {
		if storeID != "" && bill.StoreID != storeID {
			continue
		}
		if bill.IsDeleted && !includeDeleted {
			continue
		}
		out = append(out, cloneBill(bill))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) SetInvoiceURL(ctx context.Context, billID string, url string) error {
	defer s.lock(ctx)()
	bill, ok := s.state.bills[billID]
	if !ok {
		return store.ErrNotFound
	}
	bill = cloneBill(bill)
	bill.InvoiceURL = url
	s.state.bills[billID] = bill
	return nil
}

func (s *Store) ReplaceBill(ctx context.Context, bill domain.Bill) error {
	defer s.lock(ctx)()
	if _, ok := s.state.bills[bill.BillID]; !ok {
		return store.ErrNotFound
	}
	s.state.bills[bill.BillID] = cloneBill(bill)
	return nil
}

func (s *Store) ArchiveBill(ctx context.Context, old domain.OldBill) error {
	defer s.lock(ctx)()
	old.Snapshot = cloneBill(old.Snapshot)
	s.state.oldBills = append(s.state.oldBills, old)
	return nil
}

func (s *Store) ListOldBills(ctx context.Context, billID string) ([]domain.OldBill, error) {
	defer s.lock(ctx)()
	out := make([]domain.OldBill, 0)
	for _, old := range s.state.oldBills {
		if old.BillID == billID {
			old.Snapshot = cloneBill(old.Snapshot)
			out = append(out, old)
		}
	}
	return out, nil
}

func (s *Store) SetBillEditStatus(ctx context.Context, billID string, from []string, to string, at time.Time) error {
	defer s.lock(ctx)()
	bill, ok := s.state.bills[billID]
	if !ok {
		return store.ErrNotFound
	}
	if bill.IsDeleted || !slices.Contains(from, bill.EditStatus) {
		return store.ErrConflict
	}
	bill = cloneBill(bill)
	bill.EditStatus = to
	bill.UpdatedAt = at
	s.state.bills[billID] = bill
	return nil
}

func (s *Store) RequestBillDelete(ctx context.Context, billID string, note string, at time.Time) error {
	defer s.lock(ctx)()
	bill, ok := s.state.bills[billID]
	if !ok {
		return store.ErrNotFound
	}
	if bill.IsDeleted || bill.DeleteReqStatus == domain.ApprovalPending {
		return store.ErrConflict
	}
	bill = cloneBill(bill)
	bill.DeleteReqStatus = domain.ApprovalPending
	bill.DeleteReqNote = note
	bill.DeleteValidateNote = ""
	bill.UpdatedAt = at
	s.state.bills[billID] = bill
	return nil
}

func (s *Store) DecideBillDelete(ctx context.Context, billID string, approved bool, note string, at time.Time) (*domain.Bill, error) {
	defer s.lock(ctx)()
	bill, ok := s.state.bills[billID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if bill.DeleteReqStatus != domain.ApprovalPending {
		return nil, store.ErrConflict
	}
	bill = cloneBill(bill)
	bill.DeleteReqStatus = domain.ApprovalRejected
	if approved {
		bill.DeleteReqStatus = domain.ApprovalApproved
		bill.IsDeleted = true
	}
	bill.DeleteValidateNote = note
	bill.UpdatedAt = at
	s.state.bills[billID] = bill
	out := cloneBill(bill)
	return &out, nil
}

func cloneEditReq(req domain.BillEditReq) domain.BillEditReq {
	req.Before = cloneBill(req.Before)
	req.Products = slices.Clone(req.Products)
	return req
}

func (s *Store) CreateBillEditReq(ctx context.Context, req domain.BillEditReq) error {
	defer s.lock(ctx)()
	if _, exists := s.state.editReqs[req.EditBillReqID]; exists {
		return store.ErrDuplicate
	}
	s.state.editReqs[req.EditBillReqID] = cloneEditReq(req)
	return nil
}

func (s *Store) GetBillEditReq(ctx context.Context, id string) (*domain.BillEditReq, error) {
	defer s.lock(ctx)()
	req, ok := s.state.editReqs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneEditReq(req)
	return &out, nil
}

func (s *Store) ListBillEditReqs(ctx context.Context, storeID string, status string) ([]domain.BillEditReq, error) {
	defer s.lock(ctx)()
	out := make([]domain.BillEditReq, 0)
	for _, req := range s.state.editReqs {
		if storeID != "" && req.StoreID != storeID {
			continue
		}
		if status != "" && req.Status != status {
			continue
		}
		out = append(out, cloneEditReq(req))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})
	return out, nil
}

func (s *Store) DecideBillEditReq(ctx context.Context, id string, status string, note string, at time.Time) (*domain.BillEditReq, error) {
	defer s.lock(ctx)()
	req, ok := s.state.editReqs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if req.Status != domain.ApprovalPending {
		return nil, store.ErrConflict
	}
	req = cloneEditReq(req)
	req.Status = status
	req.ValidateNote = note
	req.ValidatedAt = &at
	s.state.editReqs[id] = req
	out := cloneEditReq(req)
	return &out, nil
}

func (s *Store) CreateCoupon(ctx context.Context, coupon domain.Coupon) error {
	defer s.lock(ctx)()
	if _, exists := s.state.coupons[coupon.CouponCode]; exists {
		return store.ErrDuplicate
	}
	coupon.UsedBy = slices.Clone(coupon.UsedBy)
	s.state.coupons[coupon.CouponCode] = coupon
	return nil
}

func (s *Store) GetCoupon(ctx context.Context, code string) (*domain.Coupon, error) {
	defer s.lock(ctx)()
	coupon, ok := s.state.coupons[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	coupon.UsedBy = slices.Clone(coupon.UsedBy)
	return &coupon, nil
}

func (s *Store) ListCoupons(ctx context.Context, status string) ([]domain.Coupon, error) {
	defer s.lock(ctx)()
	out := make([]domain.Coupon, 0)
	for _, coupon := range s.state.coupons {
		if status != "" && coupon.Status != status {
			continue
		}
		coupon.UsedBy = slices.Clone(coupon.UsedBy)
		out = append(out, coupon)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ReserveCoupon(ctx context.Context, code string, customerID string, orderID string) error {
	defer s.lock(ctx)()
	coupon, ok := s.state.coupons[code]
	if !ok {
		return store.ErrNotFound
	}
	if coupon.Status != domain.CouponPending {
		return store.ErrConflict
	}
	coupon.Status = domain.CouponReserved
	coupon.CustomerID = customerID
	coupon.OrderID = orderID
	coupon.UsedBy = slices.Clone(coupon.UsedBy)
	s.state.coupons[code] = coupon
	return nil
}

func (s *Store) ReleaseCoupon(ctx context.Context, code string, orderID string) error {
	defer s.lock(ctx)()
	coupon, ok := s.state.coupons[code]
	if !ok || coupon.Status != domain.CouponReserved || coupon.OrderID != orderID {
		return nil
	}
	coupon.Status = domain.CouponPending
	coupon.CustomerID = ""
	coupon.OrderID = ""
	coupon.UsedBy = slices.Clone(coupon.UsedBy)
	s.state.coupons[code] = coupon
	return nil
}

func (s *Store) MarkCouponUsed(ctx context.Context, code string, orderID string) error {
	defer s.lock(ctx)()
	coupon, ok := s.state.coupons[code]
	if !ok {
		return store.ErrNotFound
	}
	if coupon.Status != domain.CouponReserved || coupon.OrderID != orderID {
		return store.ErrConflict
	}
	coupon.Status = domain.CouponUsed
	coupon.UsedBy = slices.Clone(coupon.UsedBy)
	s.state.coupons[code] = coupon
	return nil
}

func (s *Store) AppendCouponUsage(ctx context.Context, code string, usage domain.CouponUsage) error {
	defer s.lock(ctx)()
	coupon, ok := s.state.coupons[code]
	if !ok {
		return store.ErrNotFound
	}
	if coupon.Status != domain.CouponPending {
		return store.ErrConflict
	}
	if slices.ContainsFunc(coupon.UsedBy, func(u domain.CouponUsage) bool { return u.CustomerID == usage.CustomerID }) {
		return store.ErrConflict
	}
	coupon.UsedBy = append(slices.Clone(coupon.UsedBy), usage)
	s.state.coupons[code] = coupon
	return nil
}

func (s *Store) ExpireCoupons(ctx context.Context, now time.Time) (int, error) {
	defer s.lock(ctx)()
	expired := 0
	for code, coupon := range s.state.coupons {
		if coupon.Status == domain.CouponPending && coupon.ExpiryDate.Before(now) {
			coupon.Status = domain.CouponExpired
			s.state.coupons[code] = coupon
			expired++
		}
	}
	return expired, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	defer s.lock(ctx)()
	if _, exists := s.state.users[user.Username]; exists {
		return store.ErrDuplicate
	}
	s.state.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	defer s.lock(ctx)()
	out := make([]domain.UserAccount, 0, len(s.state.users))
	for _, user := range s.state.users {
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Username < out[j].Username
	})
	return out, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	defer s.lock(ctx)()
	user, ok := s.state.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.state.users[username] = user
	return nil
}
