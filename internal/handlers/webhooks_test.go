package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eyeline-optics/api/internal/services"
)

func webhookRouter(service services.PaymentService, opts ...WebhookOption) chi.Router {
	r := chi.NewRouter()
	NewWebhookHandlers(service, opts...).Routes(r)
	return r
}

func TestMomoCallbackAcknowledged(t *testing.T) {
	service := &fakePaymentService{
		outcome: services.CallbackOutcome{OrderID: "ord_1", Success: true},
	}
	router := webhookRouter(service)

	payload := `{"orderId":"OD240501100000001","requestId":"OD240501100000001-01HX8ABC","resultCode":0,"signature":"abc"}`
	req := httptest.NewRequest(http.MethodPost, "/payments/momo", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if service.lastCallback.Gateway != "momo" {
		t.Fatalf("expected momo gateway, got %s", service.lastCallback.Gateway)
	}
	if len(service.lastCallback.Body) == 0 {
		t.Fatalf("expected raw body forwarded")
	}
}

func TestMomoCallbackSignatureFailureStillAcknowledged(t *testing.T) {
	router := webhookRouter(&fakePaymentService{err: services.ErrPaymentSignatureInvalid})

	req := httptest.NewRequest(http.MethodPost, "/payments/momo", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestVNPayCallbackConfirm(t *testing.T) {
	service := &fakePaymentService{
		outcome: services.CallbackOutcome{OrderID: "ord_1", Success: true},
	}
	router := webhookRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/payments/vnpay?vnp_TxnRef=OD240501100000001-01HX8ABC&vnp_SecureHash=abc", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected body: %v", err)
	}
	if body["RspCode"] != "00" {
		t.Fatalf("expected RspCode 00, got %s", body["RspCode"])
	}
	if service.lastCallback.Params["vnp_TxnRef"] == "" {
		t.Fatalf("expected query params forwarded")
	}
}

func TestVNPayCallbackReplay(t *testing.T) {
	service := &fakePaymentService{
		outcome: services.CallbackOutcome{OrderID: "ord_1", Success: true, Replayed: true},
	}
	router := webhookRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/payments/vnpay?vnp_TxnRef=x", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected body: %v", err)
	}
	if body["RspCode"] != "02" {
		t.Fatalf("expected RspCode 02 for replay, got %s", body["RspCode"])
	}
}

func TestVNPayCallbackErrorCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
	}{
		{"bad signature", services.ErrPaymentSignatureInvalid, "97"},
		{"unknown transaction", services.ErrPaymentTransactionNotFound, "01"},
		{"amount mismatch", services.ErrPaymentInvalidInput, "04"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := webhookRouter(&fakePaymentService{err: tc.err})

			req := httptest.NewRequest(http.MethodPost, "/payments/vnpay?vnp_TxnRef=x", nil)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rr.Code)
			}
			var body map[string]string
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("unexpected body: %v", err)
			}
			if body["RspCode"] != tc.code {
				t.Fatalf("expected RspCode %s, got %s", tc.code, body["RspCode"])
			}
		})
	}
}

func TestStripeCallbackRejected(t *testing.T) {
	router := webhookRouter(&fakePaymentService{err: services.ErrPaymentSignatureInvalid})

	req := httptest.NewRequest(http.MethodPost, "/payments/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=bad")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected body: %v", err)
	}
	if body["error"] != "signature_invalid" {
		t.Fatalf("expected signature_invalid, got %v", body["error"])
	}
}

func TestWebhookRateLimit(t *testing.T) {
	service := &fakePaymentService{outcome: services.CallbackOutcome{Success: true}}
	router := webhookRouter(service, WithWebhookRateLimit(2, time.Minute))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/payments/vnpay?vnp_TxnRef=x", nil)
		req.RemoteAddr = "203.0.113.7:1000"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200 on call %d, got %d", i+1, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/payments/vnpay?vnp_TxnRef=x", nil)
	req.RemoteAddr = "203.0.113.7:1000"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
}
