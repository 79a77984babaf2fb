package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eyeline-optics/api/internal/platform/httpx"
	"github.com/eyeline-optics/api/internal/services"
)

const maxWebhookBody = 64 * 1024

// WebhookHandlers receives server-to-server payment notifications. Gateways
// authenticate through their callback signatures, not through bearer tokens.
type WebhookHandlers struct {
	service services.PaymentService
	limiter rateLimiter
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// WebhookOption customises WebhookHandlers construction.
type WebhookOption func(*WebhookHandlers)

// WithWebhookRateLimit caps callback volume per remote address.
func WithWebhookRateLimit(limit int, window time.Duration) WebhookOption {
	return func(h *WebhookHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// WithWebhookLogger wires structured logging for callback outcomes.
func WithWebhookLogger(logger func(ctx context.Context, event string, fields map[string]any)) WebhookOption {
	return func(h *WebhookHandlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewWebhookHandlers builds the webhook endpoint set.
func NewWebhookHandlers(service services.PaymentService, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{
		service: service,
		logger:  func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the webhook endpoints on the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	r.Post("/payments/{gateway}", h.PaymentCallback)
}

// PaymentCallback reconciles a gateway notification and answers in the shape
// the gateway expects. Reconciliation errors never surface as 5xx; gateways
// treat those as delivery failures and retry indefinitely.
func (h *WebhookHandlers) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	gateway := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "gateway")))

	if h.limiter != nil && !h.limiter.Allow(clientIP(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many callbacks", http.StatusTooManyRequests))
		return
	}
	if h.service == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "payment service not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read callback body", http.StatusBadRequest))
		return
	}

	params := make(map[string]string, len(r.URL.Query()))
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	headers := make(map[string]string, len(r.Header))
	for key := range r.Header {
		headers[key] = r.Header.Get(key)
	}

	outcome, err := h.service.HandleGatewayCallback(ctx, services.GatewayCallbackCommand{
		Gateway: gateway,
		Params:  params,
		Body:    body,
		Headers: headers,
	})
	if err != nil {
		h.logger(ctx, "webhook.callback_rejected", map[string]any{
			"gateway": gateway,
			"error":   err.Error(),
		})
		h.acknowledgeError(w, gateway, err)
		return
	}

	h.logger(ctx, "webhook.callback_processed", map[string]any{
		"gateway":   gateway,
		"orderId":   outcome.OrderID,
		"requestId": outcome.RequestID,
		"success":   outcome.Success,
		"replayed":  outcome.Replayed,
	})
	h.acknowledge(w, gateway, outcome)
}

func (h *WebhookHandlers) acknowledge(w http.ResponseWriter, gateway string, outcome services.CallbackOutcome) {
	switch gateway {
	case "momo":
		w.WriteHeader(http.StatusNoContent)
	case "vnpay":
		code := "00"
		message := "Confirm Success"
		if outcome.Replayed {
			code = "02"
			message = "Order already confirmed"
		}
		writeJSONResponse(w, http.StatusOK, map[string]string{"RspCode": code, "Message": message})
	default:
		writeJSONResponse(w, http.StatusOK, map[string]any{
			"received": true,
			"success":  outcome.Success,
		})
	}
}

func (h *WebhookHandlers) acknowledgeError(w http.ResponseWriter, gateway string, err error) {
	switch gateway {
	case "momo":
		// MoMo retries on anything but 204. Verification failures are final,
		// so they are acknowledged and only logged.
		w.WriteHeader(http.StatusNoContent)
	case "vnpay":
		code := "99"
		message := "Unknown error"
		switch {
		case errors.Is(err, services.ErrPaymentSignatureInvalid):
			code = "97"
			message = "Invalid signature"
		case errors.Is(err, services.ErrPaymentTransactionNotFound):
			code = "01"
			message = "Order not found"
		case errors.Is(err, services.ErrPaymentInvalidInput):
			code = "04"
			message = "Invalid amount"
		}
		writeJSONResponse(w, http.StatusOK, map[string]string{"RspCode": code, "Message": message})
	default:
		status := http.StatusBadRequest
		code := "callback_rejected"
		if errors.Is(err, services.ErrPaymentSignatureInvalid) {
			code = "signature_invalid"
		}
		writeJSONResponse(w, status, map[string]any{
			"received": false,
			"error":    code,
		})
	}
}
