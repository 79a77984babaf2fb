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

// CheckoutHandlers exposes the checkout requirements probe and order placement.
type CheckoutHandlers struct {
	authn   *auth.Authenticator
	service services.CheckoutService
}

// NewCheckoutHandlers builds the checkout endpoint set.
func NewCheckoutHandlers(authn *auth.Authenticator, service services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{authn: authn, service: service}
}

// Routes registers the checkout endpoints on the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	group := r
	if h.authn != nil {
		group = r.With(h.authn.RequireFirebaseAuth())
	}
	group.Get("/requirements", h.Requirements)
	group.Post("/", h.PlaceOrder)
}

type placeOrderRequest struct {
	AddressID      string  `json:"addressId"`
	PrescriptionID *string `json:"prescriptionId,omitempty"`
	PromoCode      string  `json:"promoCode,omitempty"`
	ShippingMethod string  `json:"shippingMethod,omitempty"`
}

type checkoutRequirementsResponse struct {
	ItemCount               int  `json:"itemCount"`
	RequiresPrescription    bool `json:"requiresPrescription"`
	RequiresShippingAddress bool `json:"requiresShippingAddress"`
}

type placeOrderResponse struct {
	Order                orderResponse `json:"order"`
	RequiresPrescription bool          `json:"requiresPrescription"`
}

// Requirements reports what the current cart will demand at checkout.
func (h *CheckoutHandlers) Requirements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	if h.service == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "checkout service not configured", http.StatusServiceUnavailable))
		return
	}

	requirements, err := h.service.Requirements(ctx, identity.UID)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, checkoutRequirementsResponse{
		ItemCount:               requirements.ItemCount,
		RequiresPrescription:    requirements.RequiresPrescription,
		RequiresShippingAddress: requirements.RequiresShippingAddress,
	})
}

// PlaceOrder converts the customer's cart into an order.
func (h *CheckoutHandlers) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	if h.service == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "checkout service not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, defaultMaxRequestBody)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds limit", http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		return
	}

	var payload placeOrderRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(payload.AddressID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "addressId is required", http.StatusBadRequest))
		return
	}

	result, err := h.service.PlaceOrder(ctx, services.PlaceOrderCommand{
		CustomerID:     identity.UID,
		AddressID:      strings.TrimSpace(payload.AddressID),
		PrescriptionID: payload.PrescriptionID,
		PromoCode:      strings.TrimSpace(payload.PromoCode),
		ShippingMethod: strings.TrimSpace(payload.ShippingMethod),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, placeOrderResponse{
		Order:                orderToResponse(result.Order),
		RequiresPrescription: result.RequiresPrescription,
	})
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	var compat *services.CompatibilityError
	if errors.As(err, &compat) {
		httpErr := httpx.NewError("incompatible_items", "cart items are not compatible", http.StatusBadRequest).
			WithDetails(map[string]any{"issues": compat.Issues})
		httpx.WriteError(ctx, w, httpErr)
		return
	}

	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "checkout request is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart has no items", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutAddressNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("address_not_found", "shipping address not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutPrescriptionRequired):
		httpx.WriteError(ctx, w, httpx.NewError("prescription_required", "cart requires a prescription", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutPrescriptionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("prescription_not_found", "prescription not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutVariantUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("variant_unavailable", "an item in the cart is no longer available", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "not enough stock to fulfil the cart", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutPromotionInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("promotion_invalid", "promotion code cannot be applied", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutConflict):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_conflict", "checkout could not complete, retry the request", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unable to complete checkout", http.StatusInternalServerError))
	}
}
