package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/apperr"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/domain"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/policy"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/service"
)

const (
	maxJSONBody   = 1 << 20
	maxUploadBody = 10 << 20
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	log           *zap.Logger
	allowedOrigin string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		log.Warn("crypto/rand failed; using fallback csrf secret", zap.Error(err))
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		log:           log,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour computes the hex HMAC token for one hour bucket.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken accepts tokens from the current or previous hour.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/v1/auth/csrf-token", a.handleCSRFToken)
	mux.HandleFunc("GET /api/v1/users", a.requireAuth(a.handleListUsers, domain.RoleAdmin))
	mux.HandleFunc("POST /api/v1/users", a.requireAuth(a.handleCreateUser, domain.RoleAdmin))

	mux.HandleFunc("GET /api/v1/groups", a.handleGroups)
	mux.HandleFunc("GET /api/v1/groups/{group}/products", a.handleListProducts)
	mux.HandleFunc("GET /api/v1/groups/{group}/products/{productID}", a.handleGetProduct)
	mux.HandleFunc("GET /api/v1/groups/{group}/facets/{facet}", a.handleFacetValues)
	mux.HandleFunc("POST /api/v1/groups/{group}/stock-sheets", a.requireAuth(a.handleUploadStock, domain.RoleWarehouseManager))

	mux.HandleFunc("GET /api/v1/assigned-inventories", a.requireAuth(a.handleListAssigned))
	mux.HandleFunc("GET /api/v1/assigned-inventories/{id}", a.requireAuth(a.handleGetAssigned))
	mux.HandleFunc("POST /api/v1/assigned-inventories/{id}/receive", a.requireAuth(a.handleReceiveAssigned, domain.RoleStoreManager))

	mux.HandleFunc("POST /api/v1/raised-inventories", a.requireAuth(a.handleRaiseInventory, domain.RoleStoreManager))
	mux.HandleFunc("GET /api/v1/raised-inventories", a.requireAuth(a.handleListRaised))
	mux.HandleFunc("GET /api/v1/raised-inventories/{id}", a.requireAuth(a.handleGetRaised))
	mux.HandleFunc("POST /api/v1/raised-inventories/{id}/approve", a.requireAuth(a.handleDecideRaise(true), domain.RoleWarehouseManager))
	mux.HandleFunc("POST /api/v1/raised-inventories/{id}/reject", a.requireAuth(a.handleDecideRaise(false), domain.RoleWarehouseManager))
	mux.HandleFunc("POST /api/v1/raised-inventories/{id}/fulfill", a.requireAuth(a.handleFulfillRaise, domain.RoleWarehouseManager))
	mux.HandleFunc("POST /api/v1/raised-inventories/{id}/receive", a.requireAuth(a.handleReceiveRaise, domain.RoleStoreManager))

	mux.HandleFunc("POST /api/v1/orders", a.requireAuth(a.handleCreateOrder, domain.RoleCustomer))
	mux.HandleFunc("GET /api/v1/orders", a.requireAuth(a.handleListOrders))
	mux.HandleFunc("POST /api/v1/orders/verify-payment", a.requireAuth(a.handleVerifyPayment, domain.RoleCustomer))
	mux.HandleFunc("GET /api/v1/orders/{id}", a.requireAuth(a.handleGetOrder))
	mux.HandleFunc("POST /api/v1/orders/{id}/cancel", a.requireAuth(a.handleCancelOrder))
	mux.HandleFunc("PATCH /api/v1/orders/{id}/delivery-status", a.requireAuth(a.handleDeliveryStatus, domain.RoleWarehouseManager, domain.RoleAdmin))
	mux.HandleFunc("POST /api/v1/orders/{id}/returns", a.requireAuth(a.handleRequestReturn, domain.RoleCustomer))
	mux.HandleFunc("POST /api/v1/returns/{id}/confirm", a.requireAuth(a.handleDecideReturn(true), domain.RoleWarehouseManager, domain.RoleAdmin))
	mux.HandleFunc("POST /api/v1/returns/{id}/reject", a.requireAuth(a.handleDecideReturn(false), domain.RoleWarehouseManager, domain.RoleAdmin))

	mux.HandleFunc("POST /api/v1/bills", a.requireAuth(a.handleCreateBill, domain.RoleStoreManager))
	mux.HandleFunc("GET /api/v1/bills", a.requireAuth(a.handleListBills))
	mux.HandleFunc("GET /api/v1/bills/{id}", a.requireAuth(a.handleGetBill))
	mux.HandleFunc("GET /api/v1/bills/{id}/history", a.requireAuth(a.handleBillHistory))
	mux.HandleFunc("POST /api/v1/bills/{id}/edit-requests", a.requireAuth(a.handleRequestBillEdit, domain.RoleStoreManager))
	mux.HandleFunc("POST /api/v1/bills/{id}/delete-request", a.requireAuth(a.handleRequestBillDelete, domain.RoleStoreManager))
	mux.HandleFunc("POST /api/v1/bills/{id}/delete-request/validate", a.requireAuth(a.handleValidateBillDelete, domain.RoleWarehouseManager))
	mux.HandleFunc("GET /api/v1/bill-edit-requests", a.requireAuth(a.handleListBillEditReqs))
	mux.HandleFunc("POST /api/v1/bill-edit-requests/{id}/validate", a.requireAuth(a.handleValidateBillEdit, domain.RoleWarehouseManager))

	mux.HandleFunc("POST /api/v1/coupons", a.requireAuth(a.handleCreateCoupon, domain.RoleWarehouseManager, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/coupons", a.requireAuth(a.handleListCoupons, domain.RoleWarehouseManager, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/coupons/{code}", a.requireAuth(a.handleGetCoupon))

	return a.withMiddleware(mux)
}

// requireAuth resolves the bearer token. When roles are given the caller must
// hold one of them; services still make their own finer checks.
func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, apperr.Unauthorized("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeError(w, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			a.writeError(w, apperr.Forbidden("forbidden role"))
			return
		}

		next(w, r.WithContext(policy.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "too many login attempts"})
		return
	}

	var req domain.LoginRequest
	if !a.decode(w, r, &req) {
		return
	}
	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token for the X-CSRF-Token header.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// checkCSRF enforces the CSRF header on state-changing methods.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	method := r.Method
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		a.writeError(w, apperr.Forbidden("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"users": a.auth.ListUsers(r.Context())})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateUserRequest
	if !a.decode(w, r, &req) {
		return
	}
	user, err := a.auth.CreateUser(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (a *API) handleGroups(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"groups": a.service.Groups()})
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context(), r.PathValue("group"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), r.PathValue("group"), r.PathValue("productID"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleFacetValues(w http.ResponseWriter, r *http.Request) {
	facet := r.PathValue("facet")
	values, err := a.service.FacetValues(r.Context(), r.PathValue("group"), facet)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"facet": facet, "values": values})
}

func (a *API) handleUploadStock(w http.ResponseWriter, r *http.Request) {
	filename, data, ok := a.readUpload(w, r)
	if !ok {
		return
	}
	resp, err := a.service.ProcessCsvFile(r.Context(), r.PathValue("group"), r.FormValue("store_id"), filename, data)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleListAssigned(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := a.service.ListAssignedInventories(r.Context(), q.Get("store_id"), q.Get("status"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assigned_inventories": out})
}

func (a *API) handleGetAssigned(w http.ResponseWriter, r *http.Request) {
	inv, err := a.service.GetAssignedInventory(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assigned_inventory": inv})
}

func (a *API) handleReceiveAssigned(w http.ResponseWriter, r *http.Request) {
	inv, err := a.service.ReceiveInventory(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assigned_inventory": inv})
}

func (a *API) handleRaiseInventory(w http.ResponseWriter, r *http.Request) {
	filename, data, ok := a.readUpload(w, r)
	if !ok {
		return
	}
	raise, err := a.service.RaiseInventory(r.Context(), filename, data)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"raised_inventory": raise})
}

func (a *API) handleListRaised(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := a.service.ListRaisedInventories(r.Context(), q.Get("store_id"), q.Get("status"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"raised_inventories": out})
}

func (a *API) handleGetRaised(w http.ResponseWriter, r *http.Request) {
	raise, err := a.service.GetRaisedInventory(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"raised_inventory": raise})
}

type decisionNote struct {
	Note string `json:"note"`
}

func (a *API) handleDecideRaise(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req decisionNote
		if !a.decodeOptional(w, r, &req) {
			return
		}
		decide := a.service.RejectInventory
		if approve {
			decide = a.service.ApproveInventory
		}
		raise, err := decide(r.Context(), r.PathValue("id"), req.Note)
		if err != nil {
			a.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"raised_inventory": raise})
	}
}

func (a *API) handleFulfillRaise(w http.ResponseWriter, r *http.Request) {
	shipment, err := a.service.FulfillRaisedInventory(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"assigned_inventory": shipment})
}

func (a *API) handleReceiveRaise(w http.ResponseWriter, r *http.Request) {
	raise, err := a.service.ReceiveInventoryReq(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"raised_inventory": raise})
}

func (a *API) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateOrderRequest
	if !a.decode(w, r, &req) {
		return
	}
	resp, err := a.service.CreateOrder(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleListOrders returns the caller's orders for customers and a status
// queue for staff.
func (a *API) handleListOrders(w http.ResponseWriter, r *http.Request) {
	actor, _ := policy.ActorFromContext(r.Context())
	var (
		orders []domain.Order
		err    error
	)
	if actor.Role == domain.RoleCustomer {
		orders, err = a.service.ListOrders(r.Context())
	} else {
		q := r.URL.Query()
		orders, err = a.service.ListOrdersByStatus(r.Context(), q.Get("status"), parsePositiveLimit(q.Get("limit"), 100, 500))
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (a *API) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyPaymentRequest
	if !a.decode(w, r, &req) {
		return
	}
	resp, err := a.service.VerifyPayment(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.CancelOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

type deliveryStatusRequest struct {
	Status string `json:"status"`
}

func (a *API) handleDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	var req deliveryStatusRequest
	if !a.decode(w, r, &req) {
		return
	}
	order, err := a.service.UpdateDeliveryStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (a *API) handleRequestReturn(w http.ResponseWriter, r *http.Request) {
	var req domain.ReturnRequest
	if !a.decode(w, r, &req) {
		return
	}
	ret, err := a.service.RequestReturn(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"return": ret})
}

func (a *API) handleDecideReturn(confirm bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decide := a.service.RejectReturn
		if confirm {
			decide = a.service.ConfirmReturn
		}
		ret, err := decide(r.Context(), r.PathValue("id"))
		if err != nil {
			a.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"return": ret})
	}
}

func (a *API) handleCreateBill(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateBillRequest
	if !a.decode(w, r, &req) {
		return
	}
	bill, err := a.service.CreateBill(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"bill": bill})
}

func (a *API) handleListBills(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	includeDeleted, _ := strconv.ParseBool(q.Get("include_deleted"))
	bills, err := a.service.ListBills(r.Context(), q.Get("store_id"), includeDeleted)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bills": bills})
}

func (a *API) handleGetBill(w http.ResponseWriter, r *http.Request) {
	bill, err := a.service.GetBill(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bill": bill})
}

func (a *API) handleBillHistory(w http.ResponseWriter, r *http.Request) {
	history, err := a.service.ListOldBills(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"old_bills": history})
}

func (a *API) handleRequestBillEdit(w http.ResponseWriter, r *http.Request) {
	var req domain.BillEditRequest
	if !a.decode(w, r, &req) {
		return
	}
	editReq, err := a.service.RequestBillEdit(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"edit_request": editReq})
}

func (a *API) handleListBillEditReqs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	reqs, err := a.service.ListBillEditReqs(r.Context(), q.Get("store_id"), q.Get("status"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"edit_requests": reqs})
}

func (a *API) handleValidateBillEdit(w http.ResponseWriter, r *http.Request) {
	var req domain.ValidateRequest
	if !a.decode(w, r, &req) {
		return
	}
	decided, err := a.service.ValidateBillEditReq(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"edit_request": decided})
}

func (a *API) handleRequestBillDelete(w http.ResponseWriter, r *http.Request) {
	var req domain.DeleteBillRequest
	if !a.decode(w, r, &req) {
		return
	}
	bill, err := a.service.RequestBillDelete(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bill": bill})
}

func (a *API) handleValidateBillDelete(w http.ResponseWriter, r *http.Request) {
	var req domain.ValidateRequest
	if !a.decode(w, r, &req) {
		return
	}
	bill, err := a.service.ValidateBillDeleteReq(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bill": bill})
}

func (a *API) handleCreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateCouponRequest
	if !a.decode(w, r, &req) {
		return
	}
	coupon, err := a.service.CreateCoupon(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"coupon": coupon})
}

func (a *API) handleListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := a.service.ListCoupons(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"coupons": coupons})
}

func (a *API) handleGetCoupon(w http.ResponseWriter, r *http.Request) {
	coupon, err := a.service.GetCoupon(r.Context(), r.PathValue("code"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"coupon": coupon})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			limit := int64(maxJSONBody)
			if strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/") {
				limit = maxUploadBody
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(startedAt)),
		)
	})
}

// readUpload pulls the "file" part of a multipart upload.
func (a *API) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	if err := r.ParseMultipartForm(maxUploadBody); err != nil {
		a.writeError(w, apperr.BadRequest("invalid multipart upload: %v", err))
		return "", nil, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		a.writeError(w, apperr.BadRequest("file part is required"))
		return "", nil, false
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		a.writeError(w, apperr.BadRequest("could not read upload: %v", err))
		return "", nil, false
	}
	return header.Filename, data, true
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		a.writeError(w, apperr.BadRequest("invalid JSON body: %v", err))
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func (a *API) decodeOptional(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil && !errors.Is(err, io.EOF) {
		a.writeError(w, apperr.BadRequest("invalid JSON body: %v", err))
		return false
	}
	return true
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// writeError maps err to its status. Internal errors are logged and answered
// with a generic message.
func (a *API) writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		a.log.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, map[string]any{
		"error": apperr.PublicMessage(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
