package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// VNPayLogger defines the logging contract for VNPay provider operations.
type VNPayLogger func(ctx context.Context, event string, fields map[string]any)

// VNPayProviderConfig configures the VNPayProvider.
type VNPayProviderConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
	Locale     string
	OrderType  string
	Logger     VNPayLogger
	Clock      func() time.Time
}

// VNPayProvider implements the Provider interface against the VNPay gateway.
// VNPay payments are pure redirect flows: opening one is a local URL signing
// operation, no gateway call happens until the customer follows the link.
type VNPayProvider struct {
	tmnCode    string
	hashSecret string
	payURL     string
	returnURL  string
	locale     string
	orderType  string
	clock      func() time.Time
	logger     VNPayLogger
}

// vnpayLocation pins vnp_CreateDate to Vietnam local time regardless of the
// host timezone.
var vnpayLocation = time.FixedZone("ICT", 7*60*60)

// NewVNPayProvider constructs a VNPay Provider using the given configuration.
func NewVNPayProvider(cfg VNPayProviderConfig) (*VNPayProvider, error) {
	tmnCode := strings.TrimSpace(cfg.TmnCode)
	hashSecret := strings.TrimSpace(cfg.HashSecret)
	if tmnCode == "" || hashSecret == "" {
		return nil, errors.New("vnpay: tmn code and hash secret are required")
	}
	payURL := strings.TrimSpace(cfg.PayURL)
	if payURL == "" {
		return nil, errors.New("vnpay: pay url is required")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	locale := strings.TrimSpace(cfg.Locale)
	if locale == "" {
		locale = "vn"
	}
	orderType := strings.TrimSpace(cfg.OrderType)
	if orderType == "" {
		orderType = "other"
	}

	return &VNPayProvider{
		tmnCode:    tmnCode,
		hashSecret: hashSecret,
		payURL:     payURL,
		returnURL:  strings.TrimSpace(cfg.ReturnURL),
		locale:     locale,
		orderType:  orderType,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Name identifies the provider inside the manager registry.
func (p *VNPayProvider) Name() string { return "vnpay" }

// CreatePayment builds the signed VNPay redirect URL. The request id becomes
// vnp_TxnRef, which VNPay limits to 32 characters.
func (p *VNPayProvider) CreatePayment(ctx context.Context, req CreatePaymentRequest) (PaymentIntent, error) {
	if p == nil {
		return PaymentIntent{}, errors.New("vnpay: provider is nil")
	}
	requestID := strings.TrimSpace(req.RequestID)
	if requestID == "" {
		return PaymentIntent{}, errors.New("vnpay: request id is required")
	}
	if len(requestID) > 32 {
		return PaymentIntent{}, fmt.Errorf("vnpay: request id %q exceeds 32 characters", requestID)
	}
	if req.Amount <= 0 {
		return PaymentIntent{}, errors.New("vnpay: amount must be positive")
	}

	orderInfo := strings.TrimSpace(req.OrderInfo)
	if orderInfo == "" {
		orderInfo = "Thanh toan don hang " + strings.TrimSpace(req.OrderNumber)
	}
	clientIP := defaultString(req.ClientIP, "127.0.0.1")

	params := map[string]string{
		"vnp_Version":    "2.1.0",
		"vnp_Command":    "pay",
		"vnp_TmnCode":    p.tmnCode,
		"vnp_Amount":     strconv.FormatInt(req.Amount*100, 10),
		"vnp_CreateDate": p.clock().In(vnpayLocation).Format("20060102150405"),
		"vnp_CurrCode":   defaultString(strings.ToUpper(req.Currency), "VND"),
		"vnp_IpAddr":     clientIP,
		"vnp_Locale":     p.locale,
		"vnp_OrderInfo":  orderInfo,
		"vnp_OrderType":  p.orderType,
		"vnp_ReturnUrl":  defaultString(req.ReturnURL, p.returnURL),
		"vnp_TxnRef":     requestID,
	}

	rawData, query := buildVNPayQuery(params)
	signature := p.hmacHex(rawData)
	payURL := p.payURL + "?" + query + "&vnp_SecureHash=" + signature

	rawMap := make(map[string]any, len(params))
	for k, v := range params {
		rawMap[k] = v
	}

	p.logger(ctx, "vnpay.create.ok", map[string]any{"txnRef": requestID})
	return PaymentIntent{
		Provider:  p.Name(),
		RequestID: requestID,
		PayURL:    payURL,
		Raw:       rawMap,
	}, nil
}

// VerifyCallback validates a VNPay return/IPN payload by rebuilding the
// signed data from every vnp_ parameter except the hash itself.
func (p *VNPayProvider) VerifyCallback(ctx context.Context, cb Callback) (CallbackResult, error) {
	if p == nil {
		return CallbackResult{}, errors.New("vnpay: provider is nil")
	}
	if len(cb.Params) == 0 {
		return CallbackResult{}, errors.New("vnpay: empty callback payload")
	}

	provided := strings.TrimSpace(cb.Params["vnp_SecureHash"])
	if provided == "" {
		return CallbackResult{}, fmt.Errorf("%w: missing vnp_SecureHash", ErrSignatureMismatch)
	}

	signed := make(map[string]string, len(cb.Params))
	for k, v := range cb.Params {
		if k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
			continue
		}
		signed[k] = v
	}
	rawData, _ := buildVNPayQuery(signed)
	expected := p.hmacHex(rawData)
	if !hmac.Equal([]byte(strings.ToLower(provided)), []byte(expected)) {
		p.logger(ctx, "vnpay.callback.signature_mismatch", map[string]any{"txnRef": cb.Params["vnp_TxnRef"]})
		return CallbackResult{}, ErrSignatureMismatch
	}
	if code := cb.Params["vnp_TmnCode"]; code != "" && code != p.tmnCode {
		return CallbackResult{}, fmt.Errorf("%w: tmn code mismatch", ErrSignatureMismatch)
	}

	amount, _ := strconv.ParseInt(cb.Params["vnp_Amount"], 10, 64)
	responseCode := cb.Params["vnp_ResponseCode"]

	rawMap := make(map[string]any, len(cb.Params))
	for k, v := range cb.Params {
		rawMap[k] = v
	}

	return CallbackResult{
		Provider:             p.Name(),
		RequestID:            cb.Params["vnp_TxnRef"],
		OrderNumber:          cb.Params["vnp_TxnRef"],
		Success:              responseCode == "00",
		ResponseCode:         responseCode,
		Message:              cb.Params["vnp_OrderInfo"],
		Amount:               amount / 100,
		GatewayTransactionID: cb.Params["vnp_TransactionNo"],
		Raw:                  rawMap,
	}, nil
}

func (p *VNPayProvider) hmacHex(raw string) string {
	mac := hmac.New(sha512.New, []byte(p.hashSecret))
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// buildVNPayQuery sorts the parameters by key and renders two forms: the raw
// signing string with plain values and the URL-encoded query string. Empty
// values are excluded from both, matching the gateway's hashing rules.
func buildVNPayQuery(params map[string]string) (rawData string, query string) {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var raw strings.Builder
	var enc strings.Builder
	for i, k := range keys {
		if i > 0 {
			raw.WriteString("&")
			enc.WriteString("&")
		}
		raw.WriteString(k)
		raw.WriteString("=")
		raw.WriteString(params[k])
		enc.WriteString(url.QueryEscape(k))
		enc.WriteString("=")
		enc.WriteString(url.QueryEscape(params[k]))
	}
	return raw.String(), enc.String()
}
