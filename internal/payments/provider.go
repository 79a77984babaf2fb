package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// ErrSignatureMismatch is returned when a gateway callback fails signature
// verification. Callers must treat the callback payload as untrusted.
var ErrSignatureMismatch = errors.New("payments: callback signature mismatch")

// ErrGatewayRejected is returned when the gateway refuses to open a payment.
var ErrGatewayRejected = errors.New("payments: gateway rejected request")

// CreatePaymentRequest captures the payload required to open a gateway payment.
// RequestID doubles as the reconciliation key: the provider hands it to the
// gateway verbatim and the gateway echoes it back on the callback.
type CreatePaymentRequest struct {
	RequestID   string
	OrderID     string
	OrderNumber string
	Amount      int64
	Currency    string
	OrderInfo   string
	CustomerID  string
	ClientIP    string
	ReturnURL   string
	Metadata    map[string]string
}

// PaymentIntent represents an opened gateway payment awaiting the customer.
type PaymentIntent struct {
	Provider  string
	RequestID string
	PayURL    string
	Raw       map[string]any
}

// Callback carries an unverified gateway notification. Redirect gateways
// deliver key/value params; webhook gateways deliver a signed raw body.
type Callback struct {
	Params  map[string]string
	Body    []byte
	Headers map[string]string
}

// CallbackResult is the verified, normalised outcome of a gateway callback.
type CallbackResult struct {
	Provider             string
	RequestID            string
	OrderNumber          string
	Success              bool
	ResponseCode         string
	Message              string
	Amount               int64
	GatewayTransactionID string
	Raw                  map[string]any
}

// Provider defines the contract gateway adapters implement.
type Provider interface {
	Name() string
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (PaymentIntent, error)
	VerifyCallback(ctx context.Context, cb Callback) (CallbackResult, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used when no explicit selection matches.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers []Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registry := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if p == nil {
			return nil, errors.New("payments: nil provider registration")
		}
		key := strings.TrimSpace(strings.ToLower(p.Name()))
		if key == "" {
			return nil, errors.New("payments: provider with empty name")
		}
		if _, exists := registry[key]; exists {
			return nil, fmt.Errorf("payments: duplicate provider registration for %q", key)
		}
		registry[key] = p
	}
	m := &Manager{providers: registry}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

// Providers lists the registered provider keys.
func (m *Manager) Providers() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m.providers))
	for key := range m.providers {
		keys = append(keys, key)
	}
	return keys
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
		return "", nil, ErrUnsupportedProvider
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreatePayment delegates to the resolved provider.
func (m *Manager) CreatePayment(ctx context.Context, paymentCtx PaymentContext, req CreatePaymentRequest) (PaymentIntent, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentIntent{}, err
	}
	intent, err := provider.CreatePayment(ctx, req)
	if err != nil {
		return PaymentIntent{}, err
	}
	intent.Provider = key
	return intent, nil
}

// VerifyCallback delegates to the resolved provider.
func (m *Manager) VerifyCallback(ctx context.Context, paymentCtx PaymentContext, cb Callback) (CallbackResult, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return CallbackResult{}, err
	}
	result, err := provider.VerifyCallback(ctx, cb)
	if err != nil {
		return CallbackResult{}, err
	}
	result.Provider = key
	return result, nil
}
