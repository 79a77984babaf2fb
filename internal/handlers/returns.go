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
	"github.com/eyeline-optics/api/internal/services"
)

// ReturnHandlers exposes return request reads and the staff decision flow.
type ReturnHandlers struct {
	authn   *auth.Authenticator
	service services.ReturnService
}

// NewReturnHandlers builds the return endpoint set.
func NewReturnHandlers(authn *auth.Authenticator, service services.ReturnService) *ReturnHandlers {
	return &ReturnHandlers{authn: authn, service: service}
}

// Routes registers the return endpoints on the provided router.
func (h *ReturnHandlers) Routes(r chi.Router) {
	group := r
	staff := r
	if h.authn != nil {
		group = r.With(h.authn.RequireFirebaseAuth())
		staff = r.With(h.authn.RequireFirebaseAuth(auth.StaffRoles...))
	}

	group.Get("/{returnID}", h.Get)
	staff.Post("/{returnID}/status", h.TransitionStatus)
}

// Get returns a single return request visible to the caller.
func (h *ReturnHandlers) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	if h.service == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "return service not configured", http.StatusServiceUnavailable))
		return
	}

	request, err := h.service.GetReturn(ctx, services.GetReturnQuery{
		RequestID: chi.URLParam(r, "returnID"),
		ActorID:   identity.UID,
		ActorRole: actorRole(identity),
	})
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, returnToResponse(request))
}

type returnStatusRequest struct {
	Status string `json:"status"`
}

// TransitionStatus moves a return request through its staff-gated lifecycle.
func (h *ReturnHandlers) TransitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	if h.service == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "return service not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, defaultMaxRequestBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		return
	}

	var payload returnStatusRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	target := domain.OrderStatus(strings.TrimSpace(strings.ToLower(payload.Status)))
	if target == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	request, err := h.service.TransitionReturn(ctx, services.ReturnTransitionCommand{
		RequestID: chi.URLParam(r, "returnID"),
		Target:    target,
		ActorID:   identity.UID,
		ActorRole: actorRole(identity),
	})
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, returnToResponse(request))
}

func writeReturnError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrReturnInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "return request is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrReturnInvalidItems):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_return_items", "return items do not match the order", http.StatusBadRequest))
	case errors.Is(err, services.ErrReturnOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReturnNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("return_not_found", "return request not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReturnInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_returnable", "order is not in a returnable state", http.StatusConflict))
	case errors.Is(err, services.ErrReturnTransitionDenied):
		httpx.WriteError(ctx, w, httpx.NewError("transition_denied", "return transition not allowed for this role", http.StatusForbidden))
	case errors.Is(err, services.ErrReturnUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "return store unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unable to process return request", http.StatusInternalServerError))
	}
}
