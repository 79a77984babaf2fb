package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/eyeline-optics/api/internal/platform/auth"
	"github.com/eyeline-optics/api/internal/platform/httpx"
	"github.com/eyeline-optics/api/internal/services"
)

// PaymentHandlers opens payments and receives gateway browser returns.
type PaymentHandlers struct {
	authn   *auth.Authenticator
	service services.PaymentService
}

// NewPaymentHandlers builds the payment endpoint set.
func NewPaymentHandlers(authn *auth.Authenticator, service services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{authn: authn, service: service}
}

// Routes registers the payment endpoints on the provided router.
// The gateway return route stays unauthenticated because the customer arrives
// from the gateway's redirect without an API token.
func (h *PaymentHandlers) Routes(r chi.Router) {
	group := r
	if h.authn != nil {
		group = r.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/", h.Create)

	r.Get("/return/{gateway}", h.GatewayReturn)
}

type createPaymentRequest struct {
	OrderID       string `json:"orderId"`
	PaymentType   string `json:"paymentType,omitempty"`
	PaymentMethod string `json:"paymentMethod"`
	Amount        int64  `json:"amount"`
	Note          string `json:"note,omitempty"`
	ReturnURL     string `json:"returnUrl,omitempty"`
}

type createPaymentResponse struct {
	Gateway     bool                 `json:"gateway"`
	RequestID   string               `json:"requestId,omitempty"`
	RedirectURL string               `json:"redirectUrl,omitempty"`
	Transaction *transactionResponse `json:"transaction,omitempty"`
	Payment     *paymentResponse     `json:"payment,omitempty"`
}

// Create opens a gateway payment or records a manual one.
func (h *PaymentHandlers) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	if h.service == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "payment service not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, defaultMaxRequestBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		return
	}

	var payload createPaymentRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(payload.OrderID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orderId is required", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(payload.PaymentMethod) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "paymentMethod is required", http.StatusBadRequest))
		return
	}

	creation, err := h.service.CreatePayment(ctx, services.CreatePaymentCommand{
		OrderID:       strings.TrimSpace(payload.OrderID),
		CustomerID:    identity.UID,
		ActorRole:     actorRole(identity),
		PaymentType:   strings.TrimSpace(payload.PaymentType),
		PaymentMethod: strings.TrimSpace(payload.PaymentMethod),
		Amount:        payload.Amount,
		Note:          payload.Note,
		ReturnURL:     strings.TrimSpace(payload.ReturnURL),
		ClientIP:      clientIP(r),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	resp := createPaymentResponse{
		Gateway:     creation.Gateway,
		RequestID:   creation.RequestID,
		RedirectURL: creation.RedirectURL,
	}
	if creation.Transaction != nil {
		tx := transactionToResponse(*creation.Transaction)
		resp.Transaction = &tx
	}
	if creation.Payment != nil {
		payment := paymentToResponse(*creation.Payment)
		resp.Payment = &payment
	}
	writeJSONResponse(w, http.StatusCreated, resp)
}

type gatewayReturnResponse struct {
	OrderID   string `json:"orderId,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Success   bool   `json:"success"`
	Replayed  bool   `json:"replayed,omitempty"`
}

// GatewayReturn reconciles the redirect the gateway sends the customer's
// browser back through. The same verification path as the webhook applies, so
// a tampered redirect is rejected before any state changes.
func (h *PaymentHandlers) GatewayReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.service == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "payment service not configured", http.StatusServiceUnavailable))
		return
	}

	gateway := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "gateway")))
	params := make(map[string]string, len(r.URL.Query()))
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	outcome, err := h.service.HandleGatewayCallback(ctx, services.GatewayCallbackCommand{
		Gateway: gateway,
		Params:  params,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, gatewayReturnResponse{
		OrderID:   outcome.OrderID,
		RequestID: outcome.RequestID,
		Success:   outcome.Success,
		Replayed:  outcome.Replayed,
	})
}

func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return strings.Trim(host, "[]")
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment request is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentTransactionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("transaction_not_found", "payment transaction not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("payment_invalid_state", "order is not payable in its current state", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentUnsupportedMethod):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_method", "payment method is not supported", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentSignatureInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("signature_invalid", "callback signature verification failed", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentGatewayFailed):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_error", "payment gateway rejected the request", http.StatusBadGateway))
	case errors.Is(err, services.ErrPaymentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "payment store unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unable to process payment request", http.StatusInternalServerError))
	}
}
