package models

import "time"

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusFailed     OrderStatus = "FAILED"
	OrderStatusRefunded   OrderStatus = "REFUNDED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// Terminal reports whether no further gateway-driven transition is possible
// from s. COMPLETED is terminal for the gateway but still admits an
// admin-initiated refund.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusFailed, OrderStatusRefunded, OrderStatusCancelled:
		return true
	}
	return false
}

// Order is a payment or donation tracked through its lifecycle. Amounts are
// kept in minor units (cents) so arithmetic never touches floating point.
type Order struct {
	ID                int         `json:"id"`
	ExternalOrderID   string      `json:"order_id"`
	SessionID         int         `json:"session_id,omitempty"`
	AmountCents       int64       `json:"amount_cents"`
	Currency          string      `json:"currency"`
	Status            OrderStatus `json:"status"`
	ExternalPaymentID string      `json:"payment_id,omitempty"`
	DonorName         string      `json:"donor_name,omitempty"`
	DonorEmail        string      `json:"donor_email,omitempty"`
	IsAnonymous       bool        `json:"is_anonymous"`
	Message           string      `json:"message,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// CheckoutNotification is the form-encoded webhook payload PayHere posts back
// after a checkout attempt. It lives for the duration of one request.
type CheckoutNotification struct {
	MerchantID      string
	OrderID         string
	PaymentID       string
	PayhereAmount   string
	PayhereCurrency string
	StatusCode      string
	MD5Sig          string
	Custom1         string
	Custom2         string
	StatusMessage   string
	Method          string
}

// RefundDecision is the outcome of the cancellation refund policy. It is
// derived on demand and never persisted.
type RefundDecision struct {
	OriginalAmountCents int64
	RefundAmountCents   int64
	RefundPercentage    int
	HoursBeforeSession  float64
	Eligible            bool
}

type RefundPolicyInfo struct {
	FullRefund    string `json:"fullRefund"`
	PartialRefund string `json:"partialRefund"`
	NoRefund      string `json:"noRefund"`
}

type CreateDonationRequest struct {
	Amount      float64 `json:"amount" binding:"required,gt=0"`
	DonorName   string  `json:"donorName"`
	DonorEmail  string  `json:"donorEmail" binding:"omitempty,email"`
	IsAnonymous bool    `json:"isAnonymous"`
	Message     string  `json:"message"`
	SessionID   int     `json:"sessionId"`
}

type CompleteOrderRequest struct {
	PaymentID     string `json:"paymentId"`
	StatusMessage string `json:"statusMessage"`
	Method        string `json:"method"`
}

type VoidOrderRequest struct {
	Reason string `json:"reason"`
}

type RefundQuoteRequest struct {
	SessionID int `json:"sessionId" binding:"required"`
}

// OrderEvent is published to Kafka when an order reaches a state the
// notification service cares about.
type OrderEvent struct {
	OrderID         int         `json:"order_id"`
	ExternalOrderID string      `json:"external_order_id"`
	AmountCents     int64       `json:"amount_cents"`
	Currency        string      `json:"currency"`
	Status          OrderStatus `json:"status"`
	DonorEmail      string      `json:"donor_email,omitempty"`
	EventType       string      `json:"event_type"` // payment_completed, payment_failed, order_cancelled
	PaymentID       string      `json:"payment_id,omitempty"`
}
