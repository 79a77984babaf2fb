package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeClients struct {
	sessions stripeSessionAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	WebhookSecret string
	AccountID     string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time
	Clients       *stripeClients
}

// StripeProvider implements the Provider interface using Stripe Checkout.
// Unlike the redirect gateways it receives callbacks as signed webhook
// events, so VerifyCallback reads the raw body and Stripe-Signature header.
type StripeProvider struct {
	api           stripeClients
	webhookSecret string
	account       string
	clock         func() time.Time
	logger        StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{sessions: sc.CheckoutSessions}
	}
	if clients.sessions == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:           clients,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		account:       strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Name identifies the provider inside the manager registry.
func (p *StripeProvider) Name() string { return "stripe" }

// CreatePayment opens a Stripe Checkout session covering the full order total
// as a single line item. The request id rides in the session metadata so the
// webhook can hand it back for reconciliation.
func (p *StripeProvider) CreatePayment(ctx context.Context, req CreatePaymentRequest) (PaymentIntent, error) {
	if p == nil {
		return PaymentIntent{}, errors.New("stripe: provider is nil")
	}
	requestID := strings.TrimSpace(req.RequestID)
	if requestID == "" {
		return PaymentIntent{}, errors.New("stripe: request id is required")
	}
	if req.Amount <= 0 {
		return PaymentIntent{}, errors.New("stripe: amount must be positive")
	}

	name := strings.TrimSpace(req.OrderInfo)
	if name == "" {
		name = "Order " + strings.TrimSpace(req.OrderNumber)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.ReturnURL),
		CancelURL:  stripe.String(req.ReturnURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(defaultString(req.Currency, "vnd"))),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(name),
				},
			},
		}},
	}
	params.Context = ctx
	params.SetIdempotencyKey(requestID)
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	metadata := map[string]string{
		"requestId":   requestID,
		"orderId":     strings.TrimSpace(req.OrderID),
		"orderNumber": strings.TrimSpace(req.OrderNumber),
	}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	params.Metadata = metadata

	session, err := p.api.sessions.New(params)
	if err != nil {
		p.logger(ctx, "stripe.create.error", map[string]any{"requestId": requestID, "error": err.Error()})
		return PaymentIntent{}, fmt.Errorf("%w: %v", ErrGatewayRejected, err)
	}

	p.logger(ctx, "stripe.create.ok", map[string]any{"requestId": requestID, "sessionId": session.ID})
	return PaymentIntent{
		Provider:  p.Name(),
		RequestID: requestID,
		PayURL:    session.URL,
		Raw:       structToMap(session),
	}, nil
}

// VerifyCallback validates a Stripe webhook event. Only completed checkout
// sessions produce a successful result; every other event type is reported as
// a non-success callback so the caller can acknowledge and move on.
func (p *StripeProvider) VerifyCallback(ctx context.Context, cb Callback) (CallbackResult, error) {
	if p == nil {
		return CallbackResult{}, errors.New("stripe: provider is nil")
	}
	if p.webhookSecret == "" {
		return CallbackResult{}, errors.New("stripe: webhook secret is not configured")
	}
	header := cb.Headers["Stripe-Signature"]
	if header == "" {
		header = cb.Headers["stripe-signature"]
	}

	event, err := webhook.ConstructEvent(cb.Body, header, p.webhookSecret)
	if err != nil {
		p.logger(ctx, "stripe.webhook.signature_mismatch", map[string]any{"error": err.Error()})
		return CallbackResult{}, fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}

	result := CallbackResult{
		Provider:     p.Name(),
		ResponseCode: string(event.Type),
		Raw:          structToMap(event),
	}
	if event.Type != "checkout.session.completed" {
		result.Message = "ignored event " + string(event.Type)
		return result, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return CallbackResult{}, fmt.Errorf("stripe: decode session payload: %w", err)
	}

	result.RequestID = session.Metadata["requestId"]
	result.OrderNumber = session.Metadata["orderNumber"]
	result.Success = session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid
	result.Message = string(session.PaymentStatus)
	result.Amount = session.AmountTotal
	result.GatewayTransactionID = session.ID
	if session.PaymentIntent != nil {
		result.GatewayTransactionID = session.PaymentIntent.ID
	}
	return result, nil
}

func structToMap(v any) map[string]any {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	out := map[string]any{}
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil
	}
	return out
}
