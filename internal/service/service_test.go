package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/apperr"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/courier"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/domain"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/payment"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/policy"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/store"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/store/memory"
)

const (
	testSecret   = "test-gateway-secret"
	shirtID      = "SCHOOL_ABC_SHIRT_Formal_BOY_PLAIN"
	stockHeaders = "category,school_name,product_category,product_name,gender,pattern,variant_size,variant_color,quantity,price\n"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc   *Service
	repo  *memory.Store
	clock *testClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := memory.New()
	clock := &testClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	svc := New(Deps{
		Repo:        repo,
		Gateway:     payment.NewDev(testSecret, nil),
		Logger:      zap.NewNop(),
		WarehouseID: "WAREHOUSE",
		AdminEmail:  "admin@example.com",
		Now:         clock.Now,
	})
	t.Cleanup(svc.Drain)
	return fixture{svc: svc, repo: repo, clock: clock}
}

func warehouseCtx() context.Context {
	return policy.WithActor(context.Background(), domain.Actor{Username: "wh", Role: domain.RoleWarehouseManager, StoreID: "WAREHOUSE"})
}

func storeCtx(storeID string) context.Context {
	return policy.WithActor(context.Background(), domain.Actor{Username: "mgr-" + storeID, Role: domain.RoleStoreManager, StoreID: storeID})
}

func customerCtx(name string) context.Context {
	return policy.WithActor(context.Background(), domain.Actor{Username: name, Role: domain.RoleCustomer, Email: name + "@example.com"})
}

// stock uploads the shirt in the given sizes to the warehouse.
func (f fixture) stock(t *testing.T, rows string) domain.UploadResponse {
	t.Helper()
	resp, err := f.svc.ProcessCsvFile(warehouseCtx(), "TOGS", "", "stock.csv", []byte(stockHeaders+rows))
	if err != nil {
		t.Fatalf("upload stock: %v", err)
	}
	return resp
}

func (f fixture) quantity(t *testing.T, size string) int {
	t.Helper()
	item, err := f.repo.FindVariantSize(context.Background(), domain.SizeRef{Group: "TOGS", ProductID: shirtID, Color: "WHITE", Size: size})
	if err != nil {
		t.Fatalf("find size %s: %v", size, err)
	}
	return item.Quantity
}

func shirtLine(size string, qty int) domain.OrderLineRequest {
	return domain.OrderLineRequest{
		SizeRef:  domain.SizeRef{Group: "TOGS", ProductID: shirtID, Color: "WHITE", Size: size},
		Quantity: qty,
	}
}

func (f fixture) placeOrder(t *testing.T, ctx context.Context, lines ...domain.OrderLineRequest) domain.CreateOrderResponse {
	t.Helper()
	resp, err := f.svc.CreateOrder(ctx, domain.CreateOrderRequest{AddressID: "addr-1", Products: lines})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return resp
}

func verifyRequest(resp domain.CreateOrderResponse, paymentID string) domain.VerifyPaymentRequest {
	return domain.VerifyPaymentRequest{
		GatewayOrderID:   resp.Payment.ID,
		GatewayPaymentID: paymentID,
		Signature:        payment.Sign(testSecret, resp.Payment.ID, paymentID),
		OrderID:          resp.Order.OrderID,
	}
}

func TestProcessCsvFileSchoolUpload(t *testing.T) {
	f := newFixture(t)
	resp := f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,10,500\n")

	if resp.Ledger == nil {
		t.Fatalf("expected ledger in response")
	}
	if resp.Ledger.Status != domain.AssignedStatusReceived {
		t.Fatalf("expected RECEIVED ledger for warehouse upload, got %s", resp.Ledger.Status)
	}
	if !resp.Ledger.TotalAmountOfAssigned.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("expected total 5000, got %s", resp.Ledger.TotalAmountOfAssigned)
	}
	if len(resp.Products) != 1 || resp.Products[0].ProductID != shirtID || !resp.Products[0].Created {
		t.Fatalf("unexpected product refs %+v", resp.Products)
	}

	product, err := f.svc.GetProduct(context.Background(), "TOGS", shirtID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if len(product.Variants) != 1 || len(product.Variants[0].VariantSizes) != 1 {
		t.Fatalf("expected one variant with one size, got %+v", product.Variants)
	}
	size := product.Variants[0].VariantSizes[0]
	if size.Size != "M" || size.Quantity != 10 {
		t.Fatalf("expected size M quantity 10, got %+v", size)
	}

	ledger, err := f.svc.GetAssignedInventory(warehouseCtx(), resp.Ledger.AssignedInventoryID)
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if len(ledger.AssignedInventoryID) != 6 || len(ledger.Products) != 1 {
		t.Fatalf("unexpected ledger %+v", ledger)
	}
}

func TestProcessCsvFileQuantityMatchesLedgerHistory(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,10,500\nSCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,3,500\n")
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,7,500\n")

	product, err := f.repo.GetProduct(context.Background(), "TOGS", shirtID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	size := product.Variants[0].VariantSizes[0]
	assigned := 0
	for _, sq := range size.QuantityByStores {
		for _, h := range sq.AssignedHistory {
			assigned += h.QuantityOfAssigned
		}
	}
	if size.Quantity != 20 || assigned != size.Quantity {
		t.Fatalf("expected quantity 20 matching ledger total, got quantity=%d ledger=%d", size.Quantity, assigned)
	}
}

func TestProcessCsvFileRejectsWholeSheetOnBadRow(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ProcessCsvFile(warehouseCtx(), "TOGS", "", "stock.csv",
		[]byte(stockHeaders+"SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,10,500\nSCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,L,WHITE,many,500\n"))
	if apperr.KindOf(err) != apperr.KindBadRequest {
		t.Fatalf("expected bad request, got %v", err)
	}

	products, err := f.svc.ListProducts(context.Background(), "TOGS")
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(products) != 0 {
		t.Fatalf("expected no products after rejected sheet, got %d", len(products))
	}
	ledgers, err := f.svc.ListAssignedInventories(warehouseCtx(), "", "")
	if err != nil {
		t.Fatalf("list ledgers: %v", err)
	}
	if len(ledgers) != 0 {
		t.Fatalf("expected no ledger after rejected sheet, got %d", len(ledgers))
	}
}

func TestProcessCsvFileChecksRoleAndGroup(t *testing.T) {
	f := newFixture(t)
	data := []byte(stockHeaders + "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,10,500\n")

	if _, err := f.svc.ProcessCsvFile(storeCtx("STORE1"), "TOGS", "", "stock.csv", data); apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected forbidden for store manager, got %v", err)
	}
	if _, err := f.svc.ProcessCsvFile(context.Background(), "TOGS", "", "stock.csv", data); apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Fatalf("expected unauthorized without actor, got %v", err)
	}
	if _, err := f.svc.ProcessCsvFile(warehouseCtx(), "NOPE", "", "stock.csv", data); apperr.KindOf(err) != apperr.KindBadRequest {
		t.Fatalf("expected bad request for unknown group, got %v", err)
	}
}

func TestReceiveInventoryRequiresOwningStore(t *testing.T) {
	f := newFixture(t)
	resp, err := f.svc.ProcessCsvFile(warehouseCtx(), "TOGS", "STORE1", "stock.csv",
		[]byte(stockHeaders+"SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,4,500\n"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if resp.Ledger.Status != domain.AssignedStatusAssigned {
		t.Fatalf("expected ASSIGNED ledger for store upload, got %s", resp.Ledger.Status)
	}
	id := resp.Ledger.AssignedInventoryID

	if _, err := f.svc.ReceiveInventory(storeCtx("STORE2"), id); apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected forbidden for other store, got %v", err)
	}
	if _, err := f.svc.ReceiveInventory(warehouseCtx(), id); apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected forbidden for warehouse manager, got %v", err)
	}
	inv, err := f.svc.ReceiveInventory(storeCtx("STORE1"), id)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if inv.Status != domain.AssignedStatusReceived || inv.ReceivedDate == nil {
		t.Fatalf("expected RECEIVED with date, got %+v", inv)
	}
	if _, err := f.svc.ReceiveInventory(storeCtx("STORE1"), id); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict on second receive, got %v", err)
	}
}

func TestRaiseLifecycleReceivesOnlyFromApproved(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,10,500\n")

	raise, err := f.svc.RaiseInventory(storeCtx("STORE1"), "raise.csv",
		[]byte("group,product_id,variant_color,variant_size,quantity\nTOGS,"+shirtID+",WHITE,M,4\n"))
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if raise.Status != domain.RaisedStatusPending || !raise.TotalAmountRaised.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("unexpected raise %+v", raise)
	}
	id := raise.RaisedInventoryID

	if _, err := f.svc.ReceiveInventoryReq(storeCtx("STORE1"), id); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict receiving a pending request, got %v", err)
	}
	if _, err := f.svc.ApproveInventory(storeCtx("STORE1"), id, ""); apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected store manager approval to be forbidden, got %v", err)
	}
	if _, err := f.svc.ApproveInventory(warehouseCtx(), id, "ok"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.svc.RejectInventory(warehouseCtx(), id, "late"); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict rejecting an approved request, got %v", err)
	}
	if _, err := f.svc.ReceiveInventoryReq(storeCtx("STORE1"), id); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict receiving an unfulfilled request, got %v", err)
	}

	shipment, err := f.svc.FulfillRaisedInventory(warehouseCtx(), id)
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if shipment.Status != domain.AssignedStatusAssigned || shipment.RaisedInventoryID != id || shipment.StoreID != "STORE1" {
		t.Fatalf("unexpected shipment %+v", shipment)
	}
	if _, err := f.svc.FulfillRaisedInventory(warehouseCtx(), id); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict on second fulfillment, got %v", err)
	}

	item, err := f.repo.FindVariantSize(context.Background(), domain.SizeRef{Group: "TOGS", ProductID: shirtID, Color: "WHITE", Size: "M"})
	if err != nil {
		t.Fatalf("find size: %v", err)
	}
	if item.Quantity != 10 || item.StoreQuantities["WAREHOUSE"] != 6 || item.StoreQuantities["STORE1"] != 4 {
		t.Fatalf("unexpected stock views after fulfillment: quantity=%d views=%v", item.Quantity, item.StoreQuantities)
	}

	if _, err := f.svc.ReceiveInventoryReq(storeCtx("STORE2"), id); apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected forbidden for other store, got %v", err)
	}
	received, err := f.svc.ReceiveInventoryReq(storeCtx("STORE1"), id)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if received.Status != domain.RaisedStatusReceived {
		t.Fatalf("expected RECEIVED, got %s", received.Status)
	}
	ledger, err := f.repo.GetAssignedInventory(context.Background(), shipment.AssignedInventoryID)
	if err != nil {
		t.Fatalf("get shipment: %v", err)
	}
	if ledger.Status != domain.AssignedStatusReceived || ledger.ReceivedDate == nil {
		t.Fatalf("expected linked shipment received with the request, got %+v", ledger)
	}
	if _, err := f.svc.ReceiveInventoryReq(storeCtx("STORE1"), id); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict receiving twice, got %v", err)
	}
}

func TestReceivingShipmentClosesItsRequest(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,10,500\n")
	raise, err := f.svc.RaiseInventory(storeCtx("STORE1"), "raise.csv",
		[]byte("group,product_id,variant_color,variant_size,quantity\nTOGS,"+shirtID+",WHITE,M,3\n"))
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if _, err := f.svc.ApproveInventory(warehouseCtx(), raise.RaisedInventoryID, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	shipment, err := f.svc.FulfillRaisedInventory(warehouseCtx(), raise.RaisedInventoryID)
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}

	if _, err := f.svc.ReceiveInventory(storeCtx("STORE1"), shipment.AssignedInventoryID); err != nil {
		t.Fatalf("receive shipment: %v", err)
	}
	got, err := f.repo.GetRaisedInventory(context.Background(), raise.RaisedInventoryID)
	if err != nil {
		t.Fatalf("get raise: %v", err)
	}
	if got.Status != domain.RaisedStatusReceived {
		t.Fatalf("expected request closed by its shipment, got %s", got.Status)
	}
	if _, err := f.svc.ReceiveInventoryReq(storeCtx("STORE1"), raise.RaisedInventoryID); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict receiving a closed request, got %v", err)
	}
}

type failingUpsert struct {
	*memory.Store
}

func (failingUpsert) UpsertProductFromLine(context.Context, domain.StockLine, string, string, time.Time) (domain.ProductRef, error) {
	return domain.ProductRef{}, errors.New("connection reset")
}

func TestProcessCsvFileStoreFailureIsInternal(t *testing.T) {
	repo := failingUpsert{memory.New()}
	svc := New(Deps{Repo: repo, Logger: zap.NewNop(), WarehouseID: "WAREHOUSE"})
	t.Cleanup(svc.Drain)

	_, err := svc.ProcessCsvFile(warehouseCtx(), "TOGS", "", "stock.csv", []byte(stockHeaders+"SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,10,500\n"))
	if apperr.KindOf(err) != apperr.KindInternal {
		t.Fatalf("expected internal error for store failure, got %v", err)
	}
	ledgers, err := repo.ListAssignedInventories(context.Background(), "", "")
	if err != nil {
		t.Fatalf("list ledgers: %v", err)
	}
	if len(ledgers) != 0 {
		t.Fatalf("expected ledger rolled back, got %d", len(ledgers))
	}
}

func TestReceiveInventoryReqRejectsRejectedRequest(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,10,500\n")
	raise, err := f.svc.RaiseInventory(storeCtx("STORE1"), "raise.csv",
		[]byte("group,product_id,variant_color,variant_size,quantity\nTOGS,"+shirtID+",WHITE,M,2\n"))
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if _, err := f.svc.RejectInventory(warehouseCtx(), raise.RaisedInventoryID, "no stock"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := f.svc.ReceiveInventoryReq(storeCtx("STORE1"), raise.RaisedInventoryID); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict receiving a rejected request, got %v", err)
	}
}

func TestRaiseInventoryRejectsUnknownSize(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,10,500\n")
	_, err := f.svc.RaiseInventory(storeCtx("STORE1"), "raise.csv",
		[]byte("group,product_id,variant_color,variant_size,quantity\nTOGS,"+shirtID+",WHITE,XXL,2\n"))
	if apperr.KindOf(err) != apperr.KindBadRequest {
		t.Fatalf("expected bad request for unknown size, got %v", err)
	}
}

func TestDiscountPercentageTiers(t *testing.T) {
	cases := map[int]int{1: 0, 5: 0, 6: 5, 10: 5, 11: 10, 20: 10, 21: 15, 35: 15, 80: 15}
	for qty, want := range cases {
		if got := DiscountPercentage(qty); got != want {
			t.Fatalf("DiscountPercentage(%d) = %d, want %d", qty, got, want)
		}
	}
}

func TestCreateOrderTotals(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,20,100\nSCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,L,WHITE,20,100\n")

	resp := f.placeOrder(t, customerCtx("alice"), shirtLine("M", 8), shirtLine("L", 8))
	order := resp.Order
	if !order.TotalAmount.Equal(decimal.NewFromInt(1600)) {
		t.Fatalf("expected total 1600, got %s", order.TotalAmount)
	}
	if !order.TotalDiscountAmount.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("expected discount 80, got %s", order.TotalDiscountAmount)
	}
	if !order.TotalPriceAfterDiscount.Equal(decimal.NewFromInt(1520)) {
		t.Fatalf("expected 1520 after discount, got %s", order.TotalPriceAfterDiscount)
	}
	for _, line := range order.Products {
		if line.DiscountPercentage != 5 || !line.DiscountAmount.Equal(decimal.NewFromInt(40)) {
			t.Fatalf("unexpected line discount %+v", line)
		}
	}
	if resp.Payment.Amount != 152000 || resp.Payment.Currency != "INR" || order.GatewayOrderID != resp.Payment.ID {
		t.Fatalf("unexpected payment intent %+v / %s", resp.Payment, order.GatewayOrderID)
	}
	if order.DeliveryStatus != domain.DeliveryPending || order.OrderCreated {
		t.Fatalf("expected unpaid pending order, got %+v", order)
	}
	if f.quantity(t, "M") != 20 {
		t.Fatalf("order creation must not reserve stock")
	}
}

func TestCreateOrderValidatesStock(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,2,100\n")

	_, err := f.svc.CreateOrder(customerCtx("alice"), domain.CreateOrderRequest{AddressID: "a", Products: []domain.OrderLineRequest{shirtLine("M", 3)}})
	if apperr.KindOf(err) != apperr.KindBadRequest || apperr.PublicMessage(err) != "Insufficient stock" {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	_, err = f.svc.CreateOrder(customerCtx("alice"), domain.CreateOrderRequest{AddressID: "a", Products: []domain.OrderLineRequest{shirtLine("S", 1)}})
	if apperr.KindOf(err) != apperr.KindBadRequest {
		t.Fatalf("expected bad request for unknown size, got %v", err)
	}
	_, err = f.svc.CreateOrder(customerCtx("alice"), domain.CreateOrderRequest{AddressID: "a"})
	if apperr.KindOf(err) != apperr.KindBadRequest {
		t.Fatalf("expected validation error for empty order, got %v", err)
	}
	_, err = f.svc.CreateOrder(warehouseCtx(), domain.CreateOrderRequest{AddressID: "a", Products: []domain.OrderLineRequest{shirtLine("M", 1)}})
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected forbidden for staff, got %v", err)
	}
}

func TestVerifyPaymentIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,20,100\n")
	ctx := customerCtx("alice")
	resp := f.placeOrder(t, ctx, shirtLine("M", 8))
	req := verifyRequest(resp, "pay_1")

	first, err := f.svc.VerifyPayment(ctx, req)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !first.Verified || first.Duplicate || first.PaymentID == "" {
		t.Fatalf("unexpected first verification %+v", first)
	}
	second, err := f.svc.VerifyPayment(ctx, req)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if !second.Duplicate || second.PaymentID != first.PaymentID {
		t.Fatalf("expected duplicate short-circuit, got %+v", second)
	}
	if got := f.quantity(t, "M"); got != 12 {
		t.Fatalf("expected a single decrement to 12, got %d", got)
	}

	order, err := f.svc.GetOrder(ctx, resp.Order.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if !order.OrderCreated || order.PaymentID != first.PaymentID {
		t.Fatalf("expected paid order, got %+v", order)
	}
	pay, err := f.repo.GetPaymentByOrder(context.Background(), order.OrderID)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if pay.GatewayPaymentID != "pay_1" || !pay.Amount.Equal(order.TotalPriceAfterDiscount) {
		t.Fatalf("unexpected payment %+v", pay)
	}
}

func TestVerifyPaymentSignatureMismatchDeletesOrder(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,20,100\n")
	ctx := customerCtx("alice")
	resp := f.placeOrder(t, ctx, shirtLine("M", 2))

	req := verifyRequest(resp, "pay_1")
	req.Signature = payment.Sign("wrong-secret", resp.Payment.ID, "pay_1")
	out, err := f.svc.VerifyPayment(ctx, req)
	if err != nil {
		t.Fatalf("expected success response on mismatch, got %v", err)
	}
	if !out.Deleted || out.Verified {
		t.Fatalf("expected deletion result, got %+v", out)
	}
	if _, err := f.repo.GetOrder(context.Background(), resp.Order.OrderID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected order to be gone, got %v", err)
	}
	if got := f.quantity(t, "M"); got != 20 {
		t.Fatalf("expected stock untouched, got %d", got)
	}
}

func TestVerifyPaymentRejectsOtherCustomer(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,20,100\n")
	resp := f.placeOrder(t, customerCtx("alice"), shirtLine("M", 1))

	if _, err := f.svc.VerifyPayment(customerCtx("mallory"), verifyRequest(resp, "pay_1")); apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestConcurrentVerifyLastUnit(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,1,100\n")

	ctxA, ctxB := customerCtx("alice"), customerCtx("bob")
	orderA := f.placeOrder(t, ctxA, shirtLine("M", 1))
	orderB := f.placeOrder(t, ctxB, shirtLine("M", 1))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, call := range []struct {
		ctx  context.Context
		resp domain.CreateOrderResponse
	}{{ctxA, orderA}, {ctxB, orderB}} {
		wg.Add(1)
		go func(i int, ctx context.Context, resp domain.CreateOrderResponse) {
			defer wg.Done()
			_, errs[i] = f.svc.VerifyPayment(ctx, verifyRequest(resp, "pay_"+resp.Order.OrderID))
		}(i, call.ctx, call.resp)
	}
	wg.Wait()

	succeeded, shortfalls := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrInsufficientStock):
			shortfalls++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if succeeded != 1 || shortfalls != 1 {
		t.Fatalf("expected one success and one shortfall, got %d/%d", succeeded, shortfalls)
	}
	if got := f.quantity(t, "M"); got != 0 {
		t.Fatalf("expected quantity 0, got %d", got)
	}
}

func TestVerifyPaymentRollsBackEveryLineOnShortfall(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,5,100\nSCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,L,WHITE,5,100\n")
	ctx := customerCtx("alice")
	resp := f.placeOrder(t, ctx, shirtLine("M", 3), shirtLine("L", 3))

	// another buyer drains L between order and payment
	if err := f.repo.DecrementQuantity(context.Background(), domain.SizeRef{Group: "TOGS", ProductID: shirtID, Color: "WHITE", Size: "L"}, 4); err != nil {
		t.Fatalf("drain: %v", err)
	}

	_, err := f.svc.VerifyPayment(ctx, verifyRequest(resp, "pay_1"))
	if apperr.KindOf(err) != apperr.KindBadRequest || !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if got := f.quantity(t, "M"); got != 5 {
		t.Fatalf("expected M untouched at 5, got %d", got)
	}
	order, err := f.repo.GetOrder(context.Background(), resp.Order.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.OrderCreated {
		t.Fatalf("expected order to stay unconfirmed")
	}
	if _, err := f.repo.GetPaymentByOrder(context.Background(), order.OrderID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected payment rolled back, got %v", err)
	}
}

func (f fixture) paidOrder(t *testing.T, ctx context.Context, lines ...domain.OrderLineRequest) domain.Order {
	t.Helper()
	resp := f.placeOrder(t, ctx, lines...)
	if _, err := f.svc.VerifyPayment(ctx, verifyRequest(resp, "pay_"+resp.Order.OrderID)); err != nil {
		t.Fatalf("verify: %v", err)
	}
	order, err := f.svc.GetOrder(ctx, resp.Order.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	return order
}

func TestCancelPaidOrderRestoresStock(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,10,100\n")
	ctx := customerCtx("alice")
	order := f.paidOrder(t, ctx, shirtLine("M", 4))
	if got := f.quantity(t, "M"); got != 6 {
		t.Fatalf("expected 6 after payment, got %d", got)
	}

	if _, err := f.svc.CancelOrder(customerCtx("bob"), order.OrderID); apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected forbidden for other customer, got %v", err)
	}
	canceled, err := f.svc.CancelOrder(ctx, order.OrderID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.DeliveryStatus != domain.DeliveryCanceled {
		t.Fatalf("expected canceled, got %s", canceled.DeliveryStatus)
	}
	if got := f.quantity(t, "M"); got != 10 {
		t.Fatalf("expected stock restored to 10, got %d", got)
	}
	if _, err := f.svc.CancelOrder(ctx, order.OrderID); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict on second cancel, got %v", err)
	}
}

func TestCancelDispatchedOrderIsRejected(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,10,100\n")
	ctx := customerCtx("alice")
	order := f.paidOrder(t, ctx, shirtLine("M", 1))

	if _, err := f.svc.UpdateDeliveryStatus(warehouseCtx(), order.OrderID, domain.DeliveryDelivered); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict skipping dispatch, got %v", err)
	}
	if _, err := f.svc.UpdateDeliveryStatus(warehouseCtx(), order.OrderID, domain.DeliveryDispatched); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := f.svc.CancelOrder(ctx, order.OrderID); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict canceling dispatched order, got %v", err)
	}
	if got := f.quantity(t, "M"); got != 9 {
		t.Fatalf("expected stock unchanged at 9, got %d", got)
	}
}

func TestVerifyAfterCancelIsRejected(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,10,100\n")
	ctx := customerCtx("alice")
	resp := f.placeOrder(t, ctx, shirtLine("M", 3))
	if _, err := f.svc.CancelOrder(ctx, resp.Order.OrderID); err != nil {
		t.Fatalf("cancel unpaid order: %v", err)
	}

	if _, err := f.svc.VerifyPayment(ctx, verifyRequest(resp, "pay_late")); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict verifying canceled order, got %v", err)
	}
	if got := f.quantity(t, "M"); got != 10 {
		t.Fatalf("expected stock untouched at 10, got %d", got)
	}
	order, err := f.svc.GetOrder(ctx, resp.Order.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.OrderCreated || order.DeliveryStatus != domain.DeliveryCanceled {
		t.Fatalf("expected unpaid canceled order, got created=%v status=%s", order.OrderCreated, order.DeliveryStatus)
	}
}

func TestReturnFlowRestoresStockOnConfirm(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,10,100\nSCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,L,WHITE,10,100\n")
	ctx := customerCtx("alice")
	order := f.paidOrder(t, ctx, shirtLine("M", 3), shirtLine("L", 2))

	returnReq := domain.ReturnRequest{Lines: []domain.ReturnLine{{SizeRef: shirtLine("M", 0).SizeRef, Quantity: 2, Reason: "too small"}}}
	if _, err := f.svc.RequestReturn(ctx, order.OrderID, returnReq); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict returning undelivered order, got %v", err)
	}
	for _, status := range []string{domain.DeliveryDispatched, domain.DeliveryDelivered} {
		if _, err := f.svc.UpdateDeliveryStatus(warehouseCtx(), order.OrderID, status); err != nil {
			t.Fatalf("set %s: %v", status, err)
		}
	}

	ret, err := f.svc.RequestReturn(ctx, order.OrderID, returnReq)
	if err != nil {
		t.Fatalf("request return: %v", err)
	}
	if _, err := f.svc.RequestReturn(ctx, order.OrderID, returnReq); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict on duplicate return, got %v", err)
	}
	if got := f.quantity(t, "M"); got != 7 {
		t.Fatalf("expected no restore before confirmation, got %d", got)
	}

	confirmed, err := f.svc.ConfirmReturn(warehouseCtx(), ret.ReturnID)
	if err != nil {
		t.Fatalf("confirm return: %v", err)
	}
	if confirmed.Status != domain.ReturnReturned {
		t.Fatalf("expected RETURNED, got %s", confirmed.Status)
	}
	if got := f.quantity(t, "M"); got != 9 {
		t.Fatalf("expected 2 units restored to 9, got %d", got)
	}
	if got := f.quantity(t, "L"); got != 8 {
		t.Fatalf("expected L untouched at 8, got %d", got)
	}
	if _, err := f.svc.RejectReturn(warehouseCtx(), ret.ReturnID); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict deciding twice, got %v", err)
	}

	updated, err := f.svc.GetOrder(ctx, order.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if updated.Products[0].ReturnStatus != domain.ReturnReturned || updated.Products[1].ReturnStatus != "" {
		t.Fatalf("unexpected line return flags %+v", updated.Products)
	}
}

func TestRejectReturnKeepsStock(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,10,100\n")
	ctx := customerCtx("alice")
	order := f.paidOrder(t, ctx, shirtLine("M", 3))
	for _, status := range []string{domain.DeliveryDispatched, domain.DeliveryDelivered} {
		if _, err := f.svc.UpdateDeliveryStatus(warehouseCtx(), order.OrderID, status); err != nil {
			t.Fatalf("set %s: %v", status, err)
		}
	}
	ret, err := f.svc.RequestReturn(ctx, order.OrderID, domain.ReturnRequest{Lines: []domain.ReturnLine{{SizeRef: shirtLine("M", 0).SizeRef, Quantity: 1}}})
	if err != nil {
		t.Fatalf("request return: %v", err)
	}
	if _, err := f.svc.RejectReturn(warehouseCtx(), ret.ReturnID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got := f.quantity(t, "M"); got != 7 {
		t.Fatalf("expected stock to stay at 7, got %d", got)
	}
}

func TestSyncCourierMarksDelivered(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,10,100\n")
	ctx := customerCtx("alice")
	first := f.paidOrder(t, ctx, shirtLine("M", 1))
	second := f.paidOrder(t, ctx, shirtLine("M", 1))
	for _, o := range []domain.Order{first, second} {
		if _, err := f.svc.UpdateDeliveryStatus(warehouseCtx(), o.OrderID, domain.DeliveryDispatched); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}

	f.svc.courier = courier.Static{first.OrderID: true}
	n, err := f.svc.SyncCourier(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one delivery, got %d", n)
	}
	got, err := f.svc.GetOrder(ctx, first.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.DeliveryStatus != domain.DeliveryDelivered {
		t.Fatalf("expected Delivered, got %s", got.DeliveryStatus)
	}
}

func TestPurgeStaleOrdersKeepsPaid(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,10,100\n")
	ctx := customerCtx("alice")
	unpaid := f.placeOrder(t, ctx, shirtLine("M", 1))
	paid := f.paidOrder(t, ctx, shirtLine("M", 1))

	f.clock.Advance(25 * time.Hour)
	n, err := f.svc.PurgeStaleOrders(context.Background())
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one purged order, got %d", n)
	}
	if _, err := f.repo.GetOrder(context.Background(), unpaid.Order.OrderID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected unpaid order purged, got %v", err)
	}
	if _, err := f.repo.GetOrder(context.Background(), paid.OrderID); err != nil {
		t.Fatalf("expected paid order kept, got %v", err)
	}
}

func TestPurgeSkipsOrderUnderVerification(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,10,100\n")
	ctx := customerCtx("alice")
	busy := f.placeOrder(t, ctx, shirtLine("M", 1))
	idle := f.placeOrder(t, ctx, shirtLine("M", 1))

	held, err := f.svc.locker.Obtain(context.Background(), verifyLockKey(busy.Order.OrderID), verifyLockTTL, 0)
	if err != nil {
		t.Fatalf("hold verify lock: %v", err)
	}
	f.clock.Advance(25 * time.Hour)
	n, err := f.svc.PurgeStaleOrders(context.Background())
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected only the idle order purged, got %d", n)
	}
	if _, err := f.repo.GetOrder(context.Background(), busy.Order.OrderID); err != nil {
		t.Fatalf("expected locked order kept, got %v", err)
	}
	if _, err := f.repo.GetOrder(context.Background(), idle.Order.OrderID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected idle order purged, got %v", err)
	}

	if err := held.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if n, err := f.svc.PurgeStaleOrders(context.Background()); err != nil || n != 1 {
		t.Fatalf("expected locked order purged once free, got %d %v", n, err)
	}
}

func newBill(t *testing.T, f fixture) domain.Bill {
	t.Helper()
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,10,500\n")
	bill, err := f.svc.CreateBill(storeCtx("STORE1"), domain.CreateBillRequest{
		Customer:           domain.Customer{Name: "Ravi", Phone: "98765 43210"},
		Products:           []domain.BillLineRequest{{SizeRef: shirtLine("M", 0).SizeRef, Quantity: 2}},
		DiscountPercentage: 10,
		ModeOfPayment:      domain.PaymentCash,
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}
	return bill
}

func TestCreateBill(t *testing.T) {
	f := newFixture(t)
	bill := newBill(t, f)

	if !bill.TotalAmount.Equal(decimal.NewFromInt(1000)) || !bill.PriceAfterDiscount.Equal(decimal.NewFromInt(900)) {
		t.Fatalf("unexpected totals %s / %s", bill.TotalAmount, bill.PriceAfterDiscount)
	}
	if bill.Customer.Phone != "+919876543210" {
		t.Fatalf("expected E.164 phone, got %s", bill.Customer.Phone)
	}
	if bill.InvoiceURL == "" {
		t.Fatalf("expected invoice url")
	}
	if got := f.quantity(t, "M"); got != 10 {
		t.Fatalf("billing must not change stock, got %d", got)
	}

	_, err := f.svc.CreateBill(storeCtx("STORE1"), domain.CreateBillRequest{
		Customer:      domain.Customer{Name: "Ravi", Phone: "12"},
		Products:      []domain.BillLineRequest{{SizeRef: shirtLine("M", 0).SizeRef, Quantity: 1}},
		ModeOfPayment: domain.PaymentUPI,
	})
	if apperr.KindOf(err) != apperr.KindBadRequest {
		t.Fatalf("expected bad request for invalid phone, got %v", err)
	}
}

func editRequest() domain.BillEditRequest {
	return domain.BillEditRequest{
		CreateBillRequest: domain.CreateBillRequest{
			Customer:      domain.Customer{Name: "Ravi Kumar", Phone: "9876543210"},
			Products:      []domain.BillLineRequest{{SizeRef: shirtLine("M", 0).SizeRef, Quantity: 3}},
			ModeOfPayment: domain.PaymentCard,
		},
		RequestNote: "customer added one shirt",
	}
}

func TestBillEditApprovalArchivesAndOverwrites(t *testing.T) {
	f := newFixture(t)
	bill := newBill(t, f)

	if _, err := f.svc.RequestBillEdit(storeCtx("STORE2"), bill.BillID, editRequest()); apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected forbidden for other store, got %v", err)
	}
	req, err := f.svc.RequestBillEdit(storeCtx("STORE1"), bill.BillID, editRequest())
	if err != nil {
		t.Fatalf("request edit: %v", err)
	}
	if _, err := f.svc.RequestBillEdit(storeCtx("STORE1"), bill.BillID, editRequest()); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict for second pending edit, got %v", err)
	}
	if _, err := f.svc.ValidateBillEditReq(storeCtx("STORE1"), req.EditBillReqID, domain.ValidateRequest{IsApproved: true}); apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected store manager validation to be forbidden, got %v", err)
	}

	decided, err := f.svc.ValidateBillEditReq(warehouseCtx(), req.EditBillReqID, domain.ValidateRequest{IsApproved: true, ValidateNote: "ok"})
	if err != nil {
		t.Fatalf("approve edit: %v", err)
	}
	if decided.Status != domain.ApprovalApproved || decided.ValidatedAt == nil {
		t.Fatalf("unexpected decided request %+v", decided)
	}

	live, err := f.svc.GetBill(storeCtx("STORE1"), bill.BillID)
	if err != nil {
		t.Fatalf("get bill: %v", err)
	}
	if live.Products[0].Quantity != 3 || live.Customer.Name != "Ravi Kumar" || live.ModeOfPayment != domain.PaymentCard {
		t.Fatalf("expected requested fields on live bill, got %+v", live)
	}
	if !live.PriceAfterDiscount.Equal(decimal.NewFromInt(1500)) || live.EditStatus != domain.ApprovalApproved {
		t.Fatalf("unexpected live totals/status %s %s", live.PriceAfterDiscount, live.EditStatus)
	}

	archived, err := f.svc.ListOldBills(warehouseCtx(), bill.BillID)
	if err != nil {
		t.Fatalf("list old bills: %v", err)
	}
	if len(archived) != 1 || archived[0].Snapshot.Products[0].Quantity != 2 || archived[0].EditBillReqID != req.EditBillReqID {
		t.Fatalf("expected archived original bill, got %+v", archived)
	}
}

func TestBillEditRejectionLeavesBillUntouched(t *testing.T) {
	f := newFixture(t)
	bill := newBill(t, f)

	req, err := f.svc.RequestBillEdit(storeCtx("STORE1"), bill.BillID, editRequest())
	if err != nil {
		t.Fatalf("request edit: %v", err)
	}
	decided, err := f.svc.ValidateBillEditReq(warehouseCtx(), req.EditBillReqID, domain.ValidateRequest{IsApproved: false, ValidateNote: "no"})
	if err != nil {
		t.Fatalf("reject edit: %v", err)
	}
	if decided.Status != domain.ApprovalRejected {
		t.Fatalf("expected REJECTED request, got %s", decided.Status)
	}

	live, err := f.svc.GetBill(storeCtx("STORE1"), bill.BillID)
	if err != nil {
		t.Fatalf("get bill: %v", err)
	}
	if live.Products[0].Quantity != 2 || live.Customer.Name != "Ravi" || !live.PriceAfterDiscount.Equal(bill.PriceAfterDiscount) {
		t.Fatalf("expected bill untouched, got %+v", live)
	}
	if live.EditStatus != domain.ApprovalRejected {
		t.Fatalf("expected bill edit status REJECTED, got %s", live.EditStatus)
	}
	archived, err := f.svc.ListOldBills(warehouseCtx(), bill.BillID)
	if err != nil {
		t.Fatalf("list old bills: %v", err)
	}
	if len(archived) != 0 {
		t.Fatalf("expected no archive on rejection, got %d", len(archived))
	}
	if _, err := f.svc.ValidateBillEditReq(warehouseCtx(), req.EditBillReqID, domain.ValidateRequest{IsApproved: true}); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict deciding twice, got %v", err)
	}
	if _, err := f.svc.RequestBillEdit(storeCtx("STORE1"), bill.BillID, editRequest()); err != nil {
		t.Fatalf("expected a new edit request after rejection, got %v", err)
	}
}

func TestBillDeleteDualApproval(t *testing.T) {
	f := newFixture(t)
	bill := newBill(t, f)

	if _, err := f.svc.ValidateBillDeleteReq(warehouseCtx(), bill.BillID, domain.ValidateRequest{IsApproved: true}); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict without a pending request, got %v", err)
	}
	if _, err := f.svc.RequestBillDelete(storeCtx("STORE1"), bill.BillID, domain.DeleteBillRequest{}); apperr.KindOf(err) != apperr.KindBadRequest {
		t.Fatalf("expected note to be required, got %v", err)
	}
	pending, err := f.svc.RequestBillDelete(storeCtx("STORE1"), bill.BillID, domain.DeleteBillRequest{Note: "duplicate"})
	if err != nil {
		t.Fatalf("request delete: %v", err)
	}
	if pending.DeleteReqStatus != domain.ApprovalPending || pending.DeleteReqNote != "duplicate" {
		t.Fatalf("unexpected pending bill %+v", pending)
	}
	deleted, err := f.svc.ValidateBillDeleteReq(warehouseCtx(), bill.BillID, domain.ValidateRequest{IsApproved: true, ValidateNote: "fine"})
	if err != nil {
		t.Fatalf("approve delete: %v", err)
	}
	if !deleted.IsDeleted || deleted.DeleteReqStatus != domain.ApprovalApproved {
		t.Fatalf("expected deleted bill, got %+v", deleted)
	}
	bills, err := f.svc.ListBills(storeCtx("STORE1"), "", false)
	if err != nil {
		t.Fatalf("list bills: %v", err)
	}
	if len(bills) != 0 {
		t.Fatalf("expected deleted bill hidden, got %d", len(bills))
	}
}

func TestCouponAppliesAndIsConsumed(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,10,100\n")
	coupon, err := f.svc.CreateCoupon(warehouseCtx(), domain.CreateCouponRequest{
		Type:               domain.CouponTypeTrumz,
		DiscountPercentage: 20,
		ExpiryDate:         f.clock.Now().Add(48 * time.Hour),
		LinkedGroup:        "togs",
	})
	if err != nil {
		t.Fatalf("create coupon: %v", err)
	}
	if len(coupon.CouponCode) != 8 || coupon.LinkedGroup != "TOGS" {
		t.Fatalf("unexpected coupon %+v", coupon)
	}

	ctx := customerCtx("alice")
	resp, err := f.svc.CreateOrder(ctx, domain.CreateOrderRequest{
		AddressID:  "addr-1",
		Products:   []domain.OrderLineRequest{shirtLine("M", 2)},
		CouponCode: coupon.CouponCode,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if resp.Order.Products[0].DiscountPercentage != 20 || !resp.Order.TotalPriceAfterDiscount.Equal(decimal.NewFromInt(160)) {
		t.Fatalf("expected coupon discount, got %+v", resp.Order)
	}
	if _, err := f.svc.VerifyPayment(ctx, verifyRequest(resp, "pay_1")); err != nil {
		t.Fatalf("verify: %v", err)
	}

	used, err := f.svc.GetCoupon(ctx, coupon.CouponCode)
	if err != nil {
		t.Fatalf("get coupon: %v", err)
	}
	if used.Status != domain.CouponUsed || used.OrderID != resp.Order.OrderID || used.CustomerID != "alice" {
		t.Fatalf("expected used coupon, got %+v", used)
	}
	_, err = f.svc.CreateOrder(customerCtx("bob"), domain.CreateOrderRequest{
		AddressID:  "addr-2",
		Products:   []domain.OrderLineRequest{shirtLine("M", 1)},
		CouponCode: coupon.CouponCode,
	})
	if apperr.KindOf(err) != apperr.KindBadRequest {
		t.Fatalf("expected used coupon to be refused, got %v", err)
	}
}

func (f fixture) trumzCoupon(t *testing.T) domain.Coupon {
	t.Helper()
	coupon, err := f.svc.CreateCoupon(warehouseCtx(), domain.CreateCouponRequest{
		Type:               domain.CouponTypeTrumz,
		DiscountPercentage: 10,
		ExpiryDate:         f.clock.Now().Add(48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create coupon: %v", err)
	}
	return coupon
}

func (f fixture) couponStatus(t *testing.T, code string) domain.Coupon {
	t.Helper()
	got, err := f.svc.GetCoupon(warehouseCtx(), code)
	if err != nil {
		t.Fatalf("get coupon: %v", err)
	}
	return got
}

func TestSingleUseCouponHeldByFirstPendingOrder(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,10,100\n")
	coupon := f.trumzCoupon(t)

	alice := customerCtx("alice")
	first, err := f.svc.CreateOrder(alice, domain.CreateOrderRequest{
		AddressID:  "addr-1",
		Products:   []domain.OrderLineRequest{shirtLine("M", 1)},
		CouponCode: coupon.CouponCode,
	})
	if err != nil {
		t.Fatalf("create order for alice: %v", err)
	}
	if got := f.couponStatus(t, coupon.CouponCode); got.Status != domain.CouponReserved || got.OrderID != first.Order.OrderID {
		t.Fatalf("expected coupon reserved by alice's order, got %+v", got)
	}

	bob := customerCtx("bob")
	_, err = f.svc.CreateOrder(bob, domain.CreateOrderRequest{
		AddressID:  "addr-2",
		Products:   []domain.OrderLineRequest{shirtLine("M", 1)},
		CouponCode: coupon.CouponCode,
	})
	if apperr.KindOf(err) != apperr.KindBadRequest {
		t.Fatalf("expected reserved coupon refused for bob, got %v", err)
	}

	if _, err := f.svc.CancelOrder(alice, first.Order.OrderID); err != nil {
		t.Fatalf("cancel alice's order: %v", err)
	}
	if got := f.couponStatus(t, coupon.CouponCode); got.Status != domain.CouponPending || got.OrderID != "" {
		t.Fatalf("expected coupon released on cancel, got %+v", got)
	}

	second, err := f.svc.CreateOrder(bob, domain.CreateOrderRequest{
		AddressID:  "addr-2",
		Products:   []domain.OrderLineRequest{shirtLine("M", 1)},
		CouponCode: coupon.CouponCode,
	})
	if err != nil {
		t.Fatalf("create order for bob after release: %v", err)
	}
	if _, err := f.svc.VerifyPayment(alice, verifyRequest(first, "pay_alice")); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected canceled order to stay unpaid, got %v", err)
	}
	if _, err := f.svc.VerifyPayment(bob, verifyRequest(second, "pay_bob")); err != nil {
		t.Fatalf("verify bob: %v", err)
	}
	if got := f.couponStatus(t, coupon.CouponCode); got.Status != domain.CouponUsed || got.CustomerID != "bob" {
		t.Fatalf("expected coupon used by bob, got %+v", got)
	}
}

func TestSignatureMismatchReleasesCoupon(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,10,100\n")
	coupon := f.trumzCoupon(t)
	ctx := customerCtx("alice")
	resp, err := f.svc.CreateOrder(ctx, domain.CreateOrderRequest{
		AddressID:  "addr-1",
		Products:   []domain.OrderLineRequest{shirtLine("M", 1)},
		CouponCode: coupon.CouponCode,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	req := verifyRequest(resp, "pay_1")
	req.Signature = payment.Sign("wrong-secret", resp.Payment.ID, "pay_1")
	out, err := f.svc.VerifyPayment(ctx, req)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out.Verified || !out.Deleted {
		t.Fatalf("expected order deleted on mismatch, got %+v", out)
	}
	if got := f.couponStatus(t, coupon.CouponCode); got.Status != domain.CouponPending {
		t.Fatalf("expected coupon released after mismatch, got %+v", got)
	}
}

func TestPurgeReleasesReservedCoupon(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,10,100\n")
	coupon := f.trumzCoupon(t)
	_, err := f.svc.CreateOrder(customerCtx("alice"), domain.CreateOrderRequest{
		AddressID:  "addr-1",
		Products:   []domain.OrderLineRequest{shirtLine("M", 1)},
		CouponCode: coupon.CouponCode,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	f.clock.Advance(25 * time.Hour)
	if n, err := f.svc.PurgeStaleOrders(context.Background()); err != nil || n != 1 {
		t.Fatalf("expected one purged order, got %d %v", n, err)
	}
	if got := f.couponStatus(t, coupon.CouponCode); got.Status != domain.CouponPending || got.CustomerID != "" {
		t.Fatalf("expected coupon free after purge, got %+v", got)
	}
}

func TestDresscodeCouponRecordsEveryUse(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,10,100\n")
	coupon, err := f.svc.CreateCoupon(warehouseCtx(), domain.CreateCouponRequest{
		Type:               domain.CouponTypeDresscode,
		DiscountPercentage: 25,
		ExpiryDate:         f.clock.Now().Add(48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create coupon: %v", err)
	}

	for _, name := range []string{"alice", "bob"} {
		ctx := customerCtx(name)
		resp, err := f.svc.CreateOrder(ctx, domain.CreateOrderRequest{
			AddressID:  "addr",
			Products:   []domain.OrderLineRequest{shirtLine("M", 1)},
			CouponCode: coupon.CouponCode,
		})
		if err != nil {
			t.Fatalf("create order for %s: %v", name, err)
		}
		if _, err := f.svc.VerifyPayment(ctx, verifyRequest(resp, "pay_"+name)); err != nil {
			t.Fatalf("verify for %s: %v", name, err)
		}
	}

	got, err := f.svc.GetCoupon(warehouseCtx(), coupon.CouponCode)
	if err != nil {
		t.Fatalf("get coupon: %v", err)
	}
	if got.Status != domain.CouponPending || len(got.UsedBy) != 2 {
		t.Fatalf("expected pending coupon with two uses, got %+v", got)
	}
	_, err = f.svc.CreateOrder(customerCtx("alice"), domain.CreateOrderRequest{
		AddressID:  "addr",
		Products:   []domain.OrderLineRequest{shirtLine("M", 1)},
		CouponCode: coupon.CouponCode,
	})
	if apperr.KindOf(err) != apperr.KindBadRequest {
		t.Fatalf("expected repeat use by same customer to be refused, got %v", err)
	}
}

func TestCouponExpirySweep(t *testing.T) {
	f := newFixture(t)
	short, err := f.svc.CreateCoupon(warehouseCtx(), domain.CreateCouponRequest{
		Type:               domain.CouponTypeTrumz,
		DiscountPercentage: 10,
		ExpiryDate:         f.clock.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create coupon: %v", err)
	}
	long, err := f.svc.CreateCoupon(warehouseCtx(), domain.CreateCouponRequest{
		Type:               domain.CouponTypeTrumz,
		DiscountPercentage: 10,
		ExpiryDate:         f.clock.Now().Add(72 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create coupon: %v", err)
	}

	f.clock.Advance(2 * time.Hour)
	n, err := f.svc.ExpireCoupons(context.Background())
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one expired coupon, got %d", n)
	}
	for code, want := range map[string]string{short.CouponCode: domain.CouponExpired, long.CouponCode: domain.CouponPending} {
		c, err := f.svc.GetCoupon(warehouseCtx(), code)
		if err != nil {
			t.Fatalf("get coupon %s: %v", code, err)
		}
		if c.Status != want {
			t.Fatalf("coupon %s: expected %s, got %s", code, want, c.Status)
		}
	}

	if _, err := f.svc.CreateCoupon(warehouseCtx(), domain.CreateCouponRequest{
		Type:               domain.CouponTypeTrumz,
		DiscountPercentage: 10,
		ExpiryDate:         f.clock.Now().Add(-time.Minute),
	}); apperr.KindOf(err) != apperr.KindBadRequest {
		t.Fatalf("expected past expiry to be refused, got %v", err)
	}
}

func TestFacetValues(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "SCHOOL,ABC,SHIRT,Formal,BOY,PLAIN,M,WHITE,10,100\nSCHOOL,XYZ,SHIRT,Formal,GIRL,CHECKS,L,BLUE,10,100\n")

	genders, err := f.svc.FacetValues(context.Background(), "TOGS", "gender")
	if err != nil {
		t.Fatalf("facet: %v", err)
	}
	if len(genders) != 2 || genders[0] != "BOY" || genders[1] != "GIRL" {
		t.Fatalf("expected enum-ordered genders, got %v", genders)
	}
	schools, err := f.svc.FacetValues(context.Background(), "TOGS", "school_name")
	if err != nil {
		t.Fatalf("facet: %v", err)
	}
	if len(schools) != 2 {
		t.Fatalf("expected two schools, got %v", schools)
	}
	if _, err := f.svc.FacetValues(context.Background(), "HEAL", "school_name"); apperr.KindOf(err) != apperr.KindBadRequest {
		t.Fatalf("expected unsupported facet to be refused, got %v", err)
	}
}
