package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/eyeline-optics/api/internal/domain"
	"github.com/eyeline-optics/api/internal/platform/auth"
	"github.com/eyeline-optics/api/internal/services"
)

type fakeOrderService struct {
	page  domain.CursorPage[domain.Order]
	order domain.Order
	err   error

	lastList       services.OrderListQuery
	lastGet        services.GetOrderQuery
	lastTransition services.OrderStatusTransitionCommand
}

func (f *fakeOrderService) ListOrders(_ context.Context, query services.OrderListQuery) (domain.CursorPage[domain.Order], error) {
	f.lastList = query
	if f.err != nil {
		return domain.CursorPage[domain.Order]{}, f.err
	}
	return f.page, nil
}

func (f *fakeOrderService) GetOrder(_ context.Context, query services.GetOrderQuery) (domain.Order, error) {
	f.lastGet = query
	if f.err != nil {
		return domain.Order{}, f.err
	}
	return f.order, nil
}

func (f *fakeOrderService) TransitionStatus(_ context.Context, cmd services.OrderStatusTransitionCommand) (domain.Order, error) {
	f.lastTransition = cmd
	if f.err != nil {
		return domain.Order{}, f.err
	}
	return f.order, nil
}

type fakePaymentService struct {
	creation services.PaymentCreation
	outcome  services.CallbackOutcome
	report   services.PaymentStatusReport
	payments []domain.Payment
	err      error

	lastCreate   services.CreatePaymentCommand
	lastCallback services.GatewayCallbackCommand
}

func (f *fakePaymentService) CreatePayment(_ context.Context, cmd services.CreatePaymentCommand) (services.PaymentCreation, error) {
	f.lastCreate = cmd
	if f.err != nil {
		return services.PaymentCreation{}, f.err
	}
	return f.creation, nil
}

func (f *fakePaymentService) HandleGatewayCallback(_ context.Context, cmd services.GatewayCallbackCommand) (services.CallbackOutcome, error) {
	f.lastCallback = cmd
	if f.err != nil {
		return services.CallbackOutcome{}, f.err
	}
	return f.outcome, nil
}

func (f *fakePaymentService) PaymentStatus(_ context.Context, orderID string) (services.PaymentStatusReport, error) {
	if f.err != nil {
		return services.PaymentStatusReport{}, f.err
	}
	report := f.report
	report.OrderID = orderID
	return report, nil
}

func (f *fakePaymentService) ListPayments(_ context.Context, _ string) ([]domain.Payment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.payments, nil
}

type fakeReturnService struct {
	request domain.ReturnRequest
	list    []domain.ReturnRequest
	err     error

	lastCreate     services.CreateReturnCommand
	lastTransition services.ReturnTransitionCommand
}

func (f *fakeReturnService) CreateReturn(_ context.Context, cmd services.CreateReturnCommand) (domain.ReturnRequest, error) {
	f.lastCreate = cmd
	if f.err != nil {
		return domain.ReturnRequest{}, f.err
	}
	return f.request, nil
}

func (f *fakeReturnService) GetReturn(_ context.Context, _ services.GetReturnQuery) (domain.ReturnRequest, error) {
	if f.err != nil {
		return domain.ReturnRequest{}, f.err
	}
	return f.request, nil
}

func (f *fakeReturnService) ListReturnsByOrder(_ context.Context, _ services.ListReturnsQuery) ([]domain.ReturnRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.list, nil
}

func (f *fakeReturnService) TransitionReturn(_ context.Context, cmd services.ReturnTransitionCommand) (domain.ReturnRequest, error) {
	f.lastTransition = cmd
	if f.err != nil {
		return domain.ReturnRequest{}, f.err
	}
	return f.request, nil
}

func orderRouter(orders *fakeOrderService, payments *fakePaymentService, returns *fakeReturnService) chi.Router {
	if orders == nil {
		orders = &fakeOrderService{}
	}
	if payments == nil {
		payments = &fakePaymentService{}
	}
	if returns == nil {
		returns = &fakeReturnService{}
	}
	r := chi.NewRouter()
	NewOrderHandlers(nil, orders, payments, returns).Routes(r)
	return r
}

func TestListOrdersPassesQuery(t *testing.T) {
	orders := &fakeOrderService{
		page: domain.CursorPage[domain.Order]{
			Items:         []domain.Order{sampleOrder()},
			NextPageToken: "token-2",
		},
	}
	router := orderRouter(orders, nil, nil)

	req := identityRequest(
		httptest.NewRequest(http.MethodGet, "/?pageSize=10&status=pending,confirmed&customerId=cus_9", nil),
		"staff_1", auth.RoleManager,
	)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if orders.lastList.ActorRole != domain.RoleManager {
		t.Fatalf("expected manager role, got %s", orders.lastList.ActorRole)
	}
	if orders.lastList.CustomerID != "cus_9" {
		t.Fatalf("expected customer filter cus_9, got %s", orders.lastList.CustomerID)
	}
	if orders.lastList.Pagination.PageSize != 10 {
		t.Fatalf("expected page size 10, got %d", orders.lastList.Pagination.PageSize)
	}
	if len(orders.lastList.Status) != 2 || orders.lastList.Status[0] != domain.OrderStatusPending {
		t.Fatalf("unexpected status filter: %v", orders.lastList.Status)
	}

	var body orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected body: %v", err)
	}
	if len(body.Orders) != 1 || body.NextPageToken != "token-2" {
		t.Fatalf("unexpected list payload: %+v", body)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	router := orderRouter(&fakeOrderService{err: services.ErrOrderNotFound}, nil, nil)

	req := identityRequest(httptest.NewRequest(http.MethodGet, "/ord_missing", nil), "cus_1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestTransitionStatusDenied(t *testing.T) {
	router := orderRouter(&fakeOrderService{err: services.ErrOrderTransitionDenied}, nil, nil)

	req := identityRequest(
		httptest.NewRequest(http.MethodPost, "/ord_1/status", strings.NewReader(`{"status":"processing"}`)),
		"staff_1", auth.RoleSalesSupport,
	)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected body: %v", err)
	}
	if body["error"] != "transition_denied" {
		t.Fatalf("expected transition_denied, got %v", body["error"])
	}
}

func TestTransitionStatusPassesCommand(t *testing.T) {
	orders := &fakeOrderService{order: sampleOrder()}
	router := orderRouter(orders, nil, nil)

	req := identityRequest(
		httptest.NewRequest(http.MethodPost, "/ord_1/status", strings.NewReader(`{"status":"Validated","reason":"checked"}`)),
		"staff_1", auth.RoleSalesSupport,
	)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if orders.lastTransition.Target != domain.OrderStatusValidated {
		t.Fatalf("expected validated target, got %s", orders.lastTransition.Target)
	}
	if orders.lastTransition.ActorRole != domain.RoleSalesSupport {
		t.Fatalf("expected sales_support actor, got %s", orders.lastTransition.ActorRole)
	}
	if orders.lastTransition.Reason != "checked" {
		t.Fatalf("expected reason checked, got %s", orders.lastTransition.Reason)
	}
}

func TestPaymentStatusReport(t *testing.T) {
	payments := &fakePaymentService{
		report: services.PaymentStatusReport{
			TotalAmount:      530000,
			TotalPaid:        530000,
			RemainingBalance: 0,
			PaymentState:     domain.PaymentStatePaid,
		},
	}
	router := orderRouter(nil, payments, nil)

	req := identityRequest(httptest.NewRequest(http.MethodGet, "/ord_1/payment-status", nil), "cus_1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body paymentStatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected body: %v", err)
	}
	if body.OrderID != "ord_1" || body.TotalPaid != 530000 || body.PaymentState != "paid" {
		t.Fatalf("unexpected payment status payload: %+v", body)
	}
}

func TestCreateReturnCreated(t *testing.T) {
	returns := &fakeReturnService{
		request: domain.ReturnRequest{
			ID:            "ret_1",
			RequestNumber: "RT000001",
			OrderID:       "ord_1",
			CustomerID:    "cus_1",
			Type:          domain.ReturnTypeReturn,
			Status:        domain.OrderStatusReturnRequested,
			Reason:        "frame bent",
			Items:         []domain.ReturnItem{{VariantID: "var_frame", Quantity: 1}},
		},
	}
	router := orderRouter(nil, nil, returns)

	payload := `{"type":"return","reason":"frame bent","items":[{"variantId":"var_frame","quantity":1}]}`
	req := identityRequest(httptest.NewRequest(http.MethodPost, "/ord_1/returns", strings.NewReader(payload)), "cus_1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if returns.lastCreate.Type != domain.ReturnTypeReturn {
		t.Fatalf("expected RETURN type, got %s", returns.lastCreate.Type)
	}
	if returns.lastCreate.CustomerID != "cus_1" || returns.lastCreate.OrderID != "ord_1" {
		t.Fatalf("unexpected create command: %+v", returns.lastCreate)
	}

	var body returnResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected body: %v", err)
	}
	if body.RequestNumber != "RT000001" || body.Status != "return_requested" {
		t.Fatalf("unexpected return payload: %+v", body)
	}
}

func TestCreateReturnErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not returnable", services.ErrReturnInvalidState, http.StatusConflict, "order_not_returnable"},
		{"invalid items", services.ErrReturnInvalidItems, http.StatusBadRequest, "invalid_return_items"},
		{"order missing", services.ErrReturnOrderNotFound, http.StatusNotFound, "order_not_found"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := orderRouter(nil, nil, &fakeReturnService{err: tc.err})

			payload := `{"type":"return","reason":"x","items":[{"variantId":"var_1","quantity":1}]}`
			req := identityRequest(httptest.NewRequest(http.MethodPost, "/ord_1/returns", strings.NewReader(payload)), "cus_1")
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
				t.Fatalf("expected %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestListReturnsByOrder(t *testing.T) {
	returns := &fakeReturnService{
		list: []domain.ReturnRequest{
			{ID: "ret_1", OrderID: "ord_1", Status: domain.OrderStatusReturnRequested},
		},
	}
	router := orderRouter(nil, nil, returns)

	req := identityRequest(httptest.NewRequest(http.MethodGet, "/ord_1/returns", nil), "cus_1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Returns []returnResponse `json:"returns"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected body: %v", err)
	}
	if len(body.Returns) != 1 || body.Returns[0].ID != "ret_1" {
		t.Fatalf("unexpected returns payload: %+v", body)
	}
}
