package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MoMoLogger defines the logging contract for MoMo provider operations.
type MoMoLogger func(ctx context.Context, event string, fields map[string]any)

// momoDoer abstracts the HTTP client so tests can intercept gateway calls.
type momoDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// MoMoProviderConfig configures the MoMoProvider.
type MoMoProviderConfig struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string
	RedirectURL string
	IPNURL      string
	RequestType string
	Logger      MoMoLogger
	Clock       func() time.Time
	HTTPClient  momoDoer
}

// MoMoProvider implements the Provider interface against the MoMo v2 gateway.
type MoMoProvider struct {
	partnerCode string
	accessKey   string
	secretKey   string
	endpoint    string
	redirectURL string
	ipnURL      string
	requestType string
	client      momoDoer
	clock       func() time.Time
	logger      MoMoLogger
}

// NewMoMoProvider constructs a MoMo Provider using the given configuration.
func NewMoMoProvider(cfg MoMoProviderConfig) (*MoMoProvider, error) {
	partnerCode := strings.TrimSpace(cfg.PartnerCode)
	accessKey := strings.TrimSpace(cfg.AccessKey)
	secretKey := strings.TrimSpace(cfg.SecretKey)
	if partnerCode == "" || accessKey == "" || secretKey == "" {
		return nil, errors.New("momo: partner code, access key and secret key are required")
	}
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("momo: endpoint is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	requestType := strings.TrimSpace(cfg.RequestType)
	if requestType == "" {
		requestType = "captureWallet"
	}

	return &MoMoProvider{
		partnerCode: partnerCode,
		accessKey:   accessKey,
		secretKey:   secretKey,
		endpoint:    endpoint,
		redirectURL: strings.TrimSpace(cfg.RedirectURL),
		ipnURL:      strings.TrimSpace(cfg.IPNURL),
		requestType: requestType,
		client:      client,
		clock:       clock,
		logger:      logger,
	}, nil
}

// Name identifies the provider inside the manager registry.
func (p *MoMoProvider) Name() string { return "momo" }

type momoCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	AccessKey   string `json:"accessKey"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IPNURL      string `json:"ipnUrl"`
	ExtraData   string `json:"extraData"`
	RequestType string `json:"requestType"`
	Lang        string `json:"lang"`
	Signature   string `json:"signature"`
}

type momoCreateResponse struct {
	PartnerCode  string `json:"partnerCode"`
	RequestID    string `json:"requestId"`
	OrderID      string `json:"orderId"`
	Amount       int64  `json:"amount"`
	ResponseTime int64  `json:"responseTime"`
	Message      string `json:"message"`
	ResultCode   int    `json:"resultCode"`
	PayURL       string `json:"payUrl"`
	DeepLink     string `json:"deeplink"`
	QRCodeURL    string `json:"qrCodeUrl"`
}

// CreatePayment opens a MoMo payment and returns the customer pay URL.
// The gateway identifies the payment by the request id and order number we
// send, so the caller must persist the request id before invoking this.
func (p *MoMoProvider) CreatePayment(ctx context.Context, req CreatePaymentRequest) (PaymentIntent, error) {
	if p == nil {
		return PaymentIntent{}, errors.New("momo: provider is nil")
	}
	requestID := strings.TrimSpace(req.RequestID)
	orderNumber := strings.TrimSpace(req.OrderNumber)
	if requestID == "" || orderNumber == "" {
		return PaymentIntent{}, errors.New("momo: request id and order number are required")
	}
	if req.Amount <= 0 {
		return PaymentIntent{}, errors.New("momo: amount must be positive")
	}

	redirectURL := defaultString(req.ReturnURL, p.redirectURL)
	extraData := ""
	signature := p.signCreate(req.Amount, extraData, orderNumber, req.OrderInfo, redirectURL, requestID)

	body := momoCreateRequest{
		PartnerCode: p.partnerCode,
		AccessKey:   p.accessKey,
		RequestID:   requestID,
		Amount:      req.Amount,
		OrderID:     orderNumber,
		OrderInfo:   req.OrderInfo,
		RedirectURL: redirectURL,
		IPNURL:      p.ipnURL,
		ExtraData:   extraData,
		RequestType: p.requestType,
		Lang:        "vi",
		Signature:   signature,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return PaymentIntent{}, fmt.Errorf("momo: encode create request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/v2/gateway/api/create", bytes.NewReader(payload))
	if err != nil {
		return PaymentIntent{}, fmt.Errorf("momo: build create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return PaymentIntent{}, fmt.Errorf("momo: create request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return PaymentIntent{}, fmt.Errorf("momo: read create response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		p.logger(ctx, "momo.create.http_error", map[string]any{"status": resp.StatusCode})
		return PaymentIntent{}, fmt.Errorf("%w: momo returned http %d", ErrGatewayRejected, resp.StatusCode)
	}

	var decoded momoCreateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return PaymentIntent{}, fmt.Errorf("momo: decode create response: %w", err)
	}
	if decoded.ResultCode != 0 {
		p.logger(ctx, "momo.create.rejected", map[string]any{
			"resultCode": decoded.ResultCode,
			"message":    decoded.Message,
		})
		return PaymentIntent{}, fmt.Errorf("%w: momo result %d: %s", ErrGatewayRejected, decoded.ResultCode, decoded.Message)
	}

	var rawMap map[string]any
	_ = json.Unmarshal(raw, &rawMap)

	p.logger(ctx, "momo.create.ok", map[string]any{"requestId": requestID})
	return PaymentIntent{
		Provider:  p.Name(),
		RequestID: requestID,
		PayURL:    decoded.PayURL,
		Raw:       rawMap,
	}, nil
}

// signCreate produces the create-payment signature. MoMo fixes the field order
// of the raw string; accessKey and partnerCode come from config, never the
// request.
func (p *MoMoProvider) signCreate(amount int64, extraData, orderID, orderInfo, redirectURL, requestID string) string {
	raw := "accessKey=" + p.accessKey +
		"&amount=" + strconv.FormatInt(amount, 10) +
		"&extraData=" + extraData +
		"&ipnUrl=" + p.ipnURL +
		"&orderId=" + orderID +
		"&orderInfo=" + orderInfo +
		"&partnerCode=" + p.partnerCode +
		"&redirectUrl=" + redirectURL +
		"&requestId=" + requestID +
		"&requestType=" + p.requestType
	return p.hmacHex(raw)
}

// momoIPNFields lists the callback fields in MoMo's mandated signature order.
// accessKey is injected from config and is not part of the payload.
var momoIPNFields = []string{
	"amount", "extraData", "message", "orderId", "orderInfo", "orderType",
	"partnerCode", "payType", "requestId", "responseTime", "resultCode", "transId",
}

// VerifyCallback validates a MoMo IPN payload and normalises the outcome.
func (p *MoMoProvider) VerifyCallback(ctx context.Context, cb Callback) (CallbackResult, error) {
	if p == nil {
		return CallbackResult{}, errors.New("momo: provider is nil")
	}
	params := cb.Params
	if len(params) == 0 && len(cb.Body) > 0 {
		decoded := map[string]any{}
		if err := json.Unmarshal(cb.Body, &decoded); err != nil {
			return CallbackResult{}, fmt.Errorf("momo: decode ipn body: %w", err)
		}
		params = make(map[string]string, len(decoded))
		for k, v := range decoded {
			params[k] = stringifyParam(v)
		}
	}
	if len(params) == 0 {
		return CallbackResult{}, errors.New("momo: empty callback payload")
	}

	if params["partnerCode"] != p.partnerCode {
		return CallbackResult{}, fmt.Errorf("%w: partner code mismatch", ErrSignatureMismatch)
	}
	if key, ok := params["accessKey"]; ok && key != p.accessKey {
		return CallbackResult{}, fmt.Errorf("%w: access key mismatch", ErrSignatureMismatch)
	}

	var raw strings.Builder
	raw.WriteString("accessKey=")
	raw.WriteString(p.accessKey)
	for _, field := range momoIPNFields {
		raw.WriteString("&")
		raw.WriteString(field)
		raw.WriteString("=")
		raw.WriteString(params[field])
	}
	expected := p.hmacHex(raw.String())
	provided := strings.TrimSpace(params["signature"])
	if provided == "" || !hmac.Equal([]byte(strings.ToLower(provided)), []byte(expected)) {
		p.logger(ctx, "momo.ipn.signature_mismatch", map[string]any{"orderId": params["orderId"]})
		return CallbackResult{}, ErrSignatureMismatch
	}

	amount, _ := strconv.ParseInt(params["amount"], 10, 64)
	resultCode := params["resultCode"]

	rawMap := make(map[string]any, len(params))
	for k, v := range params {
		rawMap[k] = v
	}

	return CallbackResult{
		Provider:             p.Name(),
		RequestID:            params["requestId"],
		OrderNumber:          params["orderId"],
		Success:              resultCode == "0",
		ResponseCode:         resultCode,
		Message:              params["message"],
		Amount:               amount,
		GatewayTransactionID: params["transId"],
		Raw:                  rawMap,
	}, nil
}

func (p *MoMoProvider) hmacHex(raw string) string {
	mac := hmac.New(sha256.New, []byte(p.secretKey))
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// stringifyParam renders decoded JSON values the way MoMo signs them. Numeric
// fields such as amount and transId arrive as JSON numbers and must not pick
// up an exponent or trailing fraction.
func stringifyParam(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case float64:
		if value == float64(int64(value)) {
			return strconv.FormatInt(int64(value), 10)
		}
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	case nil:
		return ""
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
