package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/eyeline-optics/api/internal/domain"
	"github.com/eyeline-optics/api/internal/platform/auth"
	"github.com/eyeline-optics/api/internal/platform/httpx"
	"github.com/eyeline-optics/api/internal/platform/pagination"
	"github.com/eyeline-optics/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderHandlers exposes order reads, the staff status state machine, payment
// status reads and the per-order return endpoints.
type OrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	payments services.PaymentService
	returns  services.ReturnService
}

// NewOrderHandlers builds the order endpoint set.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, payments services.PaymentService, returns services.ReturnService) *OrderHandlers {
	return &OrderHandlers{authn: authn, orders: orders, payments: payments, returns: returns}
}

// Routes registers the order endpoints on the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	group := r
	staff := r
	if h.authn != nil {
		group = r.With(h.authn.RequireFirebaseAuth())
		staff = r.With(h.authn.RequireFirebaseAuth(auth.StaffRoles...))
	}

	group.Get("/", h.List)
	group.Get("/{orderID}", h.Get)
	group.Get("/{orderID}/payment-status", h.PaymentStatus)
	group.Get("/{orderID}/payments", h.ListPayments)
	group.Post("/{orderID}/returns", h.CreateReturn)
	group.Get("/{orderID}/returns", h.ListReturns)

	staff.Post("/{orderID}/status", h.TransitionStatus)
}

type orderListResponse struct {
	Orders        []orderResponse `json:"orders"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
}

// List returns the caller's orders, or any customer's orders for staff.
func (h *OrderHandlers) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order service not configured", http.StatusServiceUnavailable))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultOrderPageSize,
		MaxPageSize:     maxOrderPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	query := services.OrderListQuery{
		ActorID:    identity.UID,
		ActorRole:  actorRole(identity),
		CustomerID: strings.TrimSpace(r.URL.Query().Get("customerId")),
		Status:     parseStatusFilter(r.URL.Query().Get("status")),
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	}

	page, err := h.orders.ListOrders(ctx, query)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	orders := make([]orderResponse, 0, len(page.Items))
	for _, order := range page.Items {
		orders = append(orders, orderToResponse(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Orders:        orders,
		NextPageToken: page.NextPageToken,
	})
}

// Get returns a single order visible to the caller.
func (h *OrderHandlers) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order service not configured", http.StatusServiceUnavailable))
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{
		OrderID:   chi.URLParam(r, "orderID"),
		ActorID:   identity.UID,
		ActorRole: actorRole(identity),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderToResponse(order))
}

type orderStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// TransitionStatus moves an order through its staff-gated state machine.
func (h *OrderHandlers) TransitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order service not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, defaultMaxRequestBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		return
	}

	var payload orderStatusRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	target := domain.OrderStatus(strings.TrimSpace(strings.ToLower(payload.Status)))
	if target == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:   chi.URLParam(r, "orderID"),
		Target:    target,
		ActorID:   identity.UID,
		ActorRole: actorRole(identity),
		Reason:    strings.TrimSpace(payload.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderToResponse(order))
}

type paymentStatusResponse struct {
	OrderID           string               `json:"orderId"`
	TotalAmount       int64                `json:"totalAmount"`
	TotalPaid         int64                `json:"totalPaid"`
	RemainingBalance  int64                `json:"remainingBalance"`
	PaymentState      string               `json:"paymentState"`
	LatestTransaction *transactionResponse `json:"latestTransaction,omitempty"`
}

// PaymentStatus summarises confirmed payments against the order total.
func (h *OrderHandlers) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := auth.IdentityFromContext(ctx); !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "payment service not configured", http.StatusServiceUnavailable))
		return
	}

	report, err := h.payments.PaymentStatus(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	resp := paymentStatusResponse{
		OrderID:          report.OrderID,
		TotalAmount:      report.TotalAmount,
		TotalPaid:        report.TotalPaid,
		RemainingBalance: report.RemainingBalance,
		PaymentState:     string(report.PaymentState),
	}
	if report.LatestTransaction != nil {
		tx := transactionToResponse(*report.LatestTransaction)
		resp.LatestTransaction = &tx
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

// ListPayments returns the materialised payments recorded against the order.
func (h *OrderHandlers) ListPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := auth.IdentityFromContext(ctx); !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "payment service not configured", http.StatusServiceUnavailable))
		return
	}

	records, err := h.payments.ListPayments(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	payments := make([]paymentResponse, 0, len(records))
	for _, record := range records {
		payments = append(payments, paymentToResponse(record))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"payments": payments})
}

type createReturnRequest struct {
	Type        string               `json:"type"`
	Reason      string               `json:"reason"`
	Description string               `json:"description,omitempty"`
	Items       []returnItemResponse `json:"items"`
}

// CreateReturn files a return, exchange or warranty request for a delivered order.
func (h *OrderHandlers) CreateReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "return service not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, defaultMaxRequestBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		return
	}

	var payload createReturnRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	items := make([]services.ReturnItem, 0, len(payload.Items))
	for _, item := range payload.Items {
		items = append(items, services.ReturnItem{VariantID: item.VariantID, Quantity: item.Quantity})
	}

	request, err := h.returns.CreateReturn(ctx, services.CreateReturnCommand{
		OrderID:     chi.URLParam(r, "orderID"),
		CustomerID:  identity.UID,
		Type:        domain.ReturnType(strings.ToUpper(strings.TrimSpace(payload.Type))),
		Reason:      payload.Reason,
		Description: payload.Description,
		Items:       items,
	})
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, returnToResponse(request))
}

// ListReturns returns the return requests filed against an order.
func (h *OrderHandlers) ListReturns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "return service not configured", http.StatusServiceUnavailable))
		return
	}

	requests, err := h.returns.ListReturnsByOrder(ctx, services.ListReturnsQuery{
		OrderID:   chi.URLParam(r, "orderID"),
		ActorID:   identity.UID,
		ActorRole: actorRole(identity),
	})
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}

	out := make([]returnResponse, 0, len(requests))
	for _, request := range requests {
		out = append(out, returnToResponse(request))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"returns": out})
}

func parseStatusFilter(raw string) []domain.OrderStatus {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	statuses := make([]domain.OrderStatus, 0, len(parts))
	for _, part := range parts {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		statuses = append(statuses, domain.OrderStatus(part))
	}
	return statuses
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order request is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderTransitionDenied):
		httpx.WriteError(ctx, w, httpx.NewError("transition_denied", "status transition not allowed for this role", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order store unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unable to process order request", http.StatusInternalServerError))
	}
}
