package handlers

import (
	"time"

	domain "github.com/eyeline-optics/api/internal/domain"
)

// JSON shapes returned by the order, payment and return endpoints. Monetary
// amounts are integer minor units in the order's currency.

type orderItemResponse struct {
	VariantID   string `json:"variantId"`
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	ProductType string `json:"productType"`
	SKU         string `json:"sku"`
	UnitPrice   int64  `json:"unitPrice"`
	Quantity    int    `json:"quantity"`
	Subtotal    int64  `json:"subtotal"`
}

type shippingResponse struct {
	RecipientName  string `json:"recipientName"`
	PhoneNumber    string `json:"phoneNumber"`
	AddressLine    string `json:"addressLine"`
	City           string `json:"city"`
	District       string `json:"district,omitempty"`
	Ward           string `json:"ward,omitempty"`
	Note           string `json:"note,omitempty"`
	ShippingMethod string `json:"shippingMethod,omitempty"`
	Carrier        string `json:"carrier,omitempty"`
	TrackingCode   string `json:"trackingCode,omitempty"`
}

type orderResponse struct {
	ID              string              `json:"id"`
	OrderNumber     string              `json:"orderNumber"`
	CustomerID      string              `json:"customerId"`
	Type            string              `json:"type"`
	Status          string              `json:"status"`
	PaymentState    string              `json:"paymentState"`
	Currency        string              `json:"currency"`
	Subtotal        int64               `json:"subtotal"`
	ShippingFee     int64               `json:"shippingFee"`
	DiscountAmount  int64               `json:"discountAmount"`
	TotalAmount     int64               `json:"totalAmount"`
	PromoCode       string              `json:"promoCode,omitempty"`
	Items           []orderItemResponse `json:"items"`
	Shipping        shippingResponse    `json:"shipping"`
	HasPrescription bool                `json:"hasPrescription"`
	CreatedAt       string              `json:"createdAt"`
	UpdatedAt       string              `json:"updatedAt"`
	PaidAt          *string             `json:"paidAt,omitempty"`
	ShippedAt       *string             `json:"shippedAt,omitempty"`
	DeliveredAt     *string             `json:"deliveredAt,omitempty"`
	CompletedAt     *string             `json:"completedAt,omitempty"`
	CancelledAt     *string             `json:"cancelledAt,omitempty"`
}

type transactionResponse struct {
	RequestID            string  `json:"requestId"`
	OrderID              string  `json:"orderId"`
	Gateway              string  `json:"gateway"`
	GatewayTransactionID *string `json:"gatewayTransactionId,omitempty"`
	Amount               int64   `json:"amount"`
	Currency             string  `json:"currency"`
	Status               string  `json:"status"`
	CreatedAt            string  `json:"createdAt"`
	PaidAt               *string `json:"paidAt,omitempty"`
}

type paymentResponse struct {
	ID        string `json:"id"`
	OrderID   string `json:"orderId"`
	Type      string `json:"type"`
	Method    string `json:"method"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	Note      string `json:"note,omitempty"`
	CreatedAt string `json:"createdAt"`
}

type returnItemResponse struct {
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

type returnResponse struct {
	ID              string               `json:"id"`
	RequestNumber   string               `json:"requestNumber"`
	OrderID         string               `json:"orderId"`
	CustomerID      string               `json:"customerId"`
	Type            string               `json:"type"`
	Status          string               `json:"status"`
	Reason          string               `json:"reason"`
	Description     string               `json:"description,omitempty"`
	ExchangeOrderID *string              `json:"exchangeOrderId,omitempty"`
	Items           []returnItemResponse `json:"items"`
	CreatedAt       string               `json:"createdAt"`
	UpdatedAt       string               `json:"updatedAt"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func orderToResponse(order domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			VariantID:   item.VariantID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			ProductType: string(item.ProductType),
			SKU:         item.SKU,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			Subtotal:    item.Subtotal,
		})
	}

	return orderResponse{
		ID:             order.ID,
		OrderNumber:    order.OrderNumber,
		CustomerID:     order.CustomerID,
		Type:           string(order.Type),
		Status:         string(order.Status),
		PaymentState:   string(order.PaymentState),
		Currency:       order.Currency,
		Subtotal:       order.Subtotal,
		ShippingFee:    order.ShippingFee,
		DiscountAmount: order.DiscountAmount,
		TotalAmount:    order.TotalAmount,
		PromoCode:      order.PromoCode,
		Items:          items,
		Shipping: shippingResponse{
			RecipientName:  order.Shipping.RecipientName,
			PhoneNumber:    order.Shipping.PhoneNumber,
			AddressLine:    order.Shipping.AddressLine,
			City:           order.Shipping.City,
			District:       order.Shipping.District,
			Ward:           order.Shipping.Ward,
			Note:           order.Shipping.Note,
			ShippingMethod: order.Shipping.ShippingMethod,
			Carrier:        order.Shipping.Carrier,
			TrackingCode:   order.Shipping.TrackingCode,
		},
		HasPrescription: order.Prescription != nil,
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
		PaidAt:          formatTimePtr(order.PaidAt),
		ShippedAt:       formatTimePtr(order.ShippedAt),
		DeliveredAt:     formatTimePtr(order.DeliveredAt),
		CompletedAt:     formatTimePtr(order.CompletedAt),
		CancelledAt:     formatTimePtr(order.CancelledAt),
	}
}

func transactionToResponse(tx domain.PaymentTransaction) transactionResponse {
	return transactionResponse{
		RequestID:            tx.RequestID,
		OrderID:              tx.OrderID,
		Gateway:              tx.Gateway,
		GatewayTransactionID: tx.GatewayTransactionID,
		Amount:               tx.Amount,
		Currency:             tx.Currency,
		Status:               string(tx.Status),
		CreatedAt:            formatTime(tx.CreatedAt),
		PaidAt:               formatTimePtr(tx.PaidAt),
	}
}

func paymentToResponse(p domain.Payment) paymentResponse {
	return paymentResponse{
		ID:        p.ID,
		OrderID:   p.OrderID,
		Type:      p.Type,
		Method:    p.Method,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Status:    string(p.Status),
		Note:      p.Note,
		CreatedAt: formatTime(p.CreatedAt),
	}
}

func returnToResponse(req domain.ReturnRequest) returnResponse {
	items := make([]returnItemResponse, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, returnItemResponse{VariantID: item.VariantID, Quantity: item.Quantity})
	}
	return returnResponse{
		ID:              req.ID,
		RequestNumber:   req.RequestNumber,
		OrderID:         req.OrderID,
		CustomerID:      req.CustomerID,
		Type:            string(req.Type),
		Status:          string(req.Status),
		Reason:          req.Reason,
		Description:     req.Description,
		ExchangeOrderID: req.ExchangeOrderID,
		Items:           items,
		CreatedAt:       formatTime(req.CreatedAt),
		UpdatedAt:       formatTime(req.UpdatedAt),
	}
}
