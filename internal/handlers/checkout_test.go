package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/eyeline-optics/api/internal/domain"
	"github.com/eyeline-optics/api/internal/platform/auth"
	"github.com/eyeline-optics/api/internal/services"
)

type fakeCheckoutService struct {
	requirements services.CheckoutRequirements
	result       services.CheckoutResult
	err          error

	lastCustomerID string
	lastCommand    services.PlaceOrderCommand
}

func (f *fakeCheckoutService) Requirements(_ context.Context, customerID string) (services.CheckoutRequirements, error) {
	f.lastCustomerID = customerID
	if f.err != nil {
		return services.CheckoutRequirements{}, f.err
	}
	return f.requirements, nil
}

func (f *fakeCheckoutService) PlaceOrder(_ context.Context, cmd services.PlaceOrderCommand) (services.CheckoutResult, error) {
	f.lastCommand = cmd
	if f.err != nil {
		return services.CheckoutResult{}, f.err
	}
	return f.result, nil
}

func identityRequest(req *http.Request, uid string, roles ...string) *http.Request {
	if len(roles) == 0 {
		roles = []string{auth.RoleCustomer}
	}
	identity := &auth.Identity{UID: uid, Roles: roles}
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}

func checkoutRouter(service services.CheckoutService) chi.Router {
	r := chi.NewRouter()
	NewCheckoutHandlers(nil, service).Routes(r)
	return r
}

func sampleOrder() domain.Order {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return domain.Order{
		ID:           "ord_1",
		OrderNumber:  "OD240501100000001",
		CustomerID:   "cus_1",
		Type:         domain.OrderTypePrescription,
		Status:       domain.OrderStatusAwaitingPayment,
		PaymentState: domain.PaymentStateUnpaid,
		Currency:     "VND",
		Subtotal:     500000,
		ShippingFee:  30000,
		TotalAmount:  530000,
		Items: []domain.OrderItem{
			{VariantID: "var_frame", ProductName: "Aviator Classic", Quantity: 1, UnitPrice: 500000, Subtotal: 500000},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestCheckoutRequirements(t *testing.T) {
	service := &fakeCheckoutService{
		requirements: services.CheckoutRequirements{
			ItemCount:               2,
			RequiresPrescription:    true,
			RequiresShippingAddress: true,
		},
	}
	router := checkoutRouter(service)

	req := identityRequest(httptest.NewRequest(http.MethodGet, "/requirements", nil), "cus_1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if service.lastCustomerID != "cus_1" {
		t.Fatalf("expected customer cus_1, got %s", service.lastCustomerID)
	}

	var body checkoutRequirementsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected body: %v", err)
	}
	if body.ItemCount != 2 || !body.RequiresPrescription || !body.RequiresShippingAddress {
		t.Fatalf("unexpected requirements payload: %+v", body)
	}
}

func TestPlaceOrderCreated(t *testing.T) {
	service := &fakeCheckoutService{
		result: services.CheckoutResult{Order: sampleOrder(), RequiresPrescription: true},
	}
	router := checkoutRouter(service)

	payload := `{"addressId":"addr_1","prescriptionId":"rx_1","promoCode":"SUMMER10","shippingMethod":"express"}`
	req := identityRequest(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload)), "cus_1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if service.lastCommand.CustomerID != "cus_1" {
		t.Fatalf("expected customer from token, got %s", service.lastCommand.CustomerID)
	}
	if service.lastCommand.AddressID != "addr_1" || service.lastCommand.PromoCode != "SUMMER10" {
		t.Fatalf("unexpected command: %+v", service.lastCommand)
	}
	if service.lastCommand.PrescriptionID == nil || *service.lastCommand.PrescriptionID != "rx_1" {
		t.Fatalf("expected prescription id rx_1")
	}

	var body placeOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected body: %v", err)
	}
	if body.Order.ID != "ord_1" || body.Order.OrderNumber != "OD240501100000001" {
		t.Fatalf("unexpected order payload: %+v", body.Order)
	}
	if !body.RequiresPrescription {
		t.Fatalf("expected requiresPrescription true")
	}
}

func TestPlaceOrderRequiresAuthentication(t *testing.T) {
	router := checkoutRouter(&fakeCheckoutService{})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"addressId":"addr_1"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestPlaceOrderRequiresAddress(t *testing.T) {
	router := checkoutRouter(&fakeCheckoutService{})

	req := identityRequest(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"promoCode":"X"}`)), "cus_1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestPlaceOrderCompatibilityIssues(t *testing.T) {
	service := &fakeCheckoutService{
		err: &services.CompatibilityError{Issues: []string{
			"sphere -9.00 outside lens range",
			"frame has no declared eye size",
		}},
	}
	router := checkoutRouter(service)

	req := identityRequest(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"addressId":"addr_1"}`)), "cus_1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}

	var body struct {
		Error  string   `json:"error"`
		Issues []string `json:"issues"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected body: %v", err)
	}
	if body.Error != "incompatible_items" {
		t.Fatalf("expected incompatible_items, got %s", body.Error)
	}
	if len(body.Issues) != 2 {
		t.Fatalf("expected 2 issues, got %v", body.Issues)
	}
}

func TestPlaceOrderErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"cart empty", services.ErrCheckoutCartEmpty, http.StatusBadRequest, "cart_empty"},
		{"address missing", services.ErrCheckoutAddressNotFound, http.StatusNotFound, "address_not_found"},
		{"prescription required", services.ErrCheckoutPrescriptionRequired, http.StatusBadRequest, "prescription_required"},
		{"insufficient stock", services.ErrCheckoutInsufficientStock, http.StatusConflict, "insufficient_stock"},
		{"promotion invalid", services.ErrCheckoutPromotionInvalid, http.StatusBadRequest, "promotion_invalid"},
		{"conflict", services.ErrCheckoutConflict, http.StatusConflict, "checkout_conflict"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := checkoutRouter(&fakeCheckoutService{err: tc.err})

			req := identityRequest(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"addressId":"addr_1"}`)), "cus_1")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("unexpected body: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
		})
	}
}
