package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pharmacy/backend/internal/domain"
	"pharmacy/backend/internal/service"
	"pharmacy/backend/internal/store/memory"
)

const seedAdminPassword = "admin123"

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", seedAdminPassword)

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, service.Options{DefaultReorderLevel: 10})
	auth := NewAuthManager("test-secret-key-test-secret-key-32", time.Hour, repo)

	return New(svc, auth, "*")
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, rec.Body.String())
	}
}

func login(t *testing.T, handler http.Handler, email string, password string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/auth/login", "", domain.LoginRequest{Email: email, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d (body: %s)", email, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	decodeBody(t, rec, &resp)
	if resp.Token == "" {
		t.Fatalf("expected token in login response")
	}
	return resp.Token
}

func loginAsAdmin(t *testing.T, handler http.Handler) string {
	t.Helper()
	return login(t, handler, "admin@pharmacy.local", seedAdminPassword)
}

func registerStaff(t *testing.T, handler http.Handler, email string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/auth/register", "", domain.RegisterRequest{
		Username: "staff",
		Email:    email,
		Password: "secret123",
		Role:     "staff",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	return login(t, handler, email, "secret123")
}

func createMedicine(t *testing.T, handler http.Handler, token string, name string, qty int, price string) domain.Medicine {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/medicines", token, domain.MedicineCreateRequest{
		Name:        name,
		Category:    "General",
		BatchNumber: "B-" + name,
		Quantity:    qty,
		Price:       decimal.RequireFromString(price),
		ExpiryDate:  "2099-12-31",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create medicine: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var medicine domain.Medicine
	decodeBody(t, rec, &medicine)
	return medicine
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestRegisterLoginVerify(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := registerStaff(t, handler, "Nurse@Example.com")

	rec := doJSON(t, handler, http.MethodGet, "/api/auth/verify", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Valid bool         `json:"valid"`
		User  domain.Staff `json:"user"`
	}
	decodeBody(t, rec, &body)
	if !body.Valid || body.User.Email != "nurse@example.com" || body.User.Role != domain.RoleStaff {
		t.Fatalf("unexpected verify body %+v", body)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/auth/logout", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rec.Code)
	}
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	handler := newTestAPI(t).Handler()
	rec := doJSON(t, handler, http.MethodPost, "/api/auth/register", "", domain.RegisterRequest{
		Username: "another admin",
		Email:    "admin@pharmacy.local",
		Password: "secret123",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/auth/login", "", domain.LoginRequest{Email: "admin@pharmacy.local", Password: "wrong-pass"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["message"] == "" {
		t.Fatalf("expected error message in body")
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	for _, path := range []string{"/api/medicines", "/api/orders", "/api/sales", "/api/dashboard/stats"} {
		rec := doJSON(t, handler, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rec.Code)
		}
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/medicines", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := registerStaff(t, handler, "cashier@example.com")
	medicine := createMedicine(t, handler, token, "Ibuprofen", 10, "4.50")

	rec := doJSON(t, handler, http.MethodPost, "/api/orders", token, domain.CreateOrderRequest{
		CustomerName: "Budi",
		Items:        []domain.OrderLineRequest{{MedicineID: medicine.ID, Quantity: 3}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var order domain.Order
	decodeBody(t, rec, &order)
	if order.PaymentStatus != domain.StatusPending || !order.TotalAmount.Equal(decimal.RequireFromString("13.5")) {
		t.Fatalf("unexpected order %+v", order)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/medicines/"+medicine.ID, token, nil)
	var after domain.Medicine
	decodeBody(t, rec, &after)
	if after.Quantity != 7 {
		t.Fatalf("expected stock 7 after order, got %d", after.Quantity)
	}

	rec = doJSON(t, handler, http.MethodPut, "/api/orders/"+order.ID, token, domain.UpdateOrderStatusRequest{PaymentStatus: "paid"})
	if rec.Code != http.StatusOK {
		t.Fatalf("mark paid: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/sales", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list sales: expected 200, got %d", rec.Code)
	}
	var sales domain.SalesListResponse
	decodeBody(t, rec, &sales)
	if sales.Total != 1 || sales.TotalQuantity != 3 || !sales.TotalRevenue.Equal(decimal.RequireFromString("13.5")) {
		t.Fatalf("unexpected sales %+v", sales)
	}

	rec = doJSON(t, handler, http.MethodPut, "/api/orders/"+order.ID, token, domain.UpdateOrderStatusRequest{PaymentStatus: "pending"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("paid -> pending: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/orders?status=paid&search=budi", token, nil)
	var list domain.OrderListResponse
	decodeBody(t, rec, &list)
	if list.Total != 1 || list.Orders[0].ID != order.ID {
		t.Fatalf("unexpected order list %+v", list)
	}
}

func TestCreateOrderErrorsMapToStatusCodes(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := registerStaff(t, handler, "errors@example.com")
	medicine := createMedicine(t, handler, token, "Scarce", 5, "2.00")

	rec := doJSON(t, handler, http.MethodPost, "/api/orders", token, domain.CreateOrderRequest{
		CustomerName: "Ani",
		Items:        []domain.OrderLineRequest{{MedicineID: "missing", Quantity: 1}},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown medicine: expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/orders", token, domain.CreateOrderRequest{
		CustomerName: "Ani",
		Items:        []domain.OrderLineRequest{{MedicineID: medicine.ID, Quantity: 6}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("insufficient stock: expected 400, got %d", rec.Code)
	}
	var body struct {
		Message   string `json:"message"`
		Available int    `json:"available"`
	}
	decodeBody(t, rec, &body)
	if body.Available != 5 || body.Message == "" {
		t.Fatalf("unexpected insufficient stock body %+v", body)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/orders", token, domain.CreateOrderRequest{
		Items: []domain.OrderLineRequest{{MedicineID: medicine.ID, Quantity: 1}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing customer: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPut, "/api/orders/unknown", token, domain.UpdateOrderStatusRequest{PaymentStatus: "paid"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown order: expected 404, got %d", rec.Code)
	}
}

func TestOrdersAreScopedToTheirOwner(t *testing.T) {
	handler := newTestAPI(t).Handler()
	owner := registerStaff(t, handler, "owner-a@example.com")
	other := registerStaff(t, handler, "owner-b@example.com")
	medicine := createMedicine(t, handler, owner, "Private", 5, "1.00")

	rec := doJSON(t, handler, http.MethodPost, "/api/orders", other, domain.CreateOrderRequest{
		CustomerName: "Intruder",
		Items:        []domain.OrderLineRequest{{MedicineID: medicine.ID, Quantity: 1}},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign medicine: expected 404, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/medicines/"+medicine.ID, other, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign medicine read: expected 404, got %d", rec.Code)
	}
}

func TestUnknownJSONFieldsRejected(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginAsAdmin(t, handler)

	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString(`{"customer_name":"x","items":[],"discount":5}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAuditLogsAdminOnly(t *testing.T) {
	handler := newTestAPI(t).Handler()
	staff := registerStaff(t, handler, "plain@example.com")

	rec := doJSON(t, handler, http.MethodGet, "/api/audit-logs", staff, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff: expected 403, got %d", rec.Code)
	}

	admin := loginAsAdmin(t, handler)
	rec = doJSON(t, handler, http.MethodGet, "/api/audit-logs", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestSupplierRoutes(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginAsAdmin(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/suppliers", token, domain.SupplierRequest{Name: "PT Sehat", MedicinesSupplied: []string{"Paracetamol"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create supplier: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var supplier domain.Supplier
	decodeBody(t, rec, &supplier)
	rec = doJSON(t, handler, http.MethodPost, "/api/suppliers", token, domain.SupplierRequest{Name: "CV Medika"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create second supplier: expected 201, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/suppliers?search=SEHAT&page=1&limit=5", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list suppliers: expected 200, got %d", rec.Code)
	}
	var listed domain.SupplierListResponse
	decodeBody(t, rec, &listed)
	if listed.Total != 1 || len(listed.Suppliers) != 1 || listed.Suppliers[0].ID != supplier.ID || listed.CurrentPage != 1 || listed.TotalPages != 1 {
		t.Fatalf("unexpected supplier search result %+v", listed)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/suppliers?limit=1&page=2", token, nil)
	decodeBody(t, rec, &listed)
	if listed.Total != 2 || len(listed.Suppliers) != 1 || listed.Suppliers[0].ID != supplier.ID || listed.TotalPages != 2 {
		t.Fatalf("unexpected supplier page %+v", listed)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/suppliers?page=abc", token, nil)
	decodeBody(t, rec, &listed)
	if rec.Code != http.StatusOK || listed.CurrentPage != 1 {
		t.Fatalf("unparseable page should fall back to page 1, got %d %+v", rec.Code, listed)
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/suppliers/"+supplier.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete supplier: expected 200, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodDelete, "/api/suppliers/"+supplier.ID, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", rec.Code)
	}
}

func TestParseMedicineFilter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/medicines?search=para&categories=Analgesic,+Antibiotic,&minPrice=2.5&filterLowStock=true&sortBy=price:desc&page=2&limit=5&expiryEnd=2030-01-31", nil)

	filter, err := parseMedicineFilter(req)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if filter.Search != "para" || len(filter.Categories) != 2 || filter.Categories[1] != "Antibiotic" {
		t.Fatalf("unexpected search/categories %+v", filter)
	}
	if filter.MinPrice == nil || !filter.MinPrice.Equal(decimal.RequireFromString("2.5")) || filter.MaxPrice != nil {
		t.Fatalf("unexpected price bounds %+v", filter)
	}
	if !filter.LowStockOnly || filter.SortBy != "price" || !filter.SortDesc || filter.Page != 2 || filter.Limit != 5 {
		t.Fatalf("unexpected flags %+v", filter)
	}
	if filter.ExpiryTo == nil || filter.ExpiryTo.Day() != 31 || filter.ExpiryTo.Hour() != 23 {
		t.Fatalf("expected end of day expiry bound, got %v", filter.ExpiryTo)
	}

	bad := httptest.NewRequest(http.MethodGet, "/api/medicines?maxPrice=cheap", nil)
	if _, err := parseMedicineFilter(bad); err == nil {
		t.Fatalf("expected invalid maxPrice to fail")
	}
}
