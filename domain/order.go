package domain

import "time"

// OrderDraftItem is one purchase line as sent to the order service.
type OrderDraftItem struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// OrderDraft is the immutable order-creation request.
// Built once by the orchestrator and never mutated afterwards.
type OrderDraft struct {
	UserID      int64            `json:"user_id"`
	PaymentType PaymentMethod    `json:"payment_type"`
	Items       []OrderDraftItem `json:"items"`
}

// PendingOrder is the durable snapshot written before redirecting to an
// external gateway. It carries everything needed to reconstruct order
// intent when the browser comes back. At most one exists per user.
type PendingOrder struct {
	// OrderID is the client-generated correlation id; the gateway echoes
	// it back as the transaction reference.
	OrderID       string        `json:"order_id"`
	Cart          Cart          `json:"cart"`
	Shipping      ShippingInfo  `json:"shipping"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Subtotal      int64         `json:"subtotal"`
	ShippingFee   int64         `json:"shipping_fee"`
	Total         int64         `json:"total"`
	CreatedAt     time.Time     `json:"created_at"`

	// BackendOrderID is set only once the order service has acknowledged
	// creation. A reconciliation pass that finds it set must not create
	// the order again.
	BackendOrderID string `json:"backend_order_id,omitempty"`
}

// PaymentInfo records how the order was paid, taken from the gateway
// callback for redirect methods.
type PaymentInfo struct {
	Method       PaymentMethod `json:"method"`
	ResponseCode string        `json:"response_code,omitempty"`
	BankCode     string        `json:"bank_code,omitempty"`
	PayDate      string        `json:"pay_date,omitempty"`
}

type OrderStatus string

const OrderStatusCommitted OrderStatus = "COMMITTED"

// CompletedOrder is the terminal record written once payment is settled
// and the backend order exists. Stored under the last-order key; the
// PendingOrder is deleted in the same reconciliation pass.
type CompletedOrder struct {
	OrderID        string       `json:"order_id"`
	BackendOrderID string       `json:"backend_order_id"`
	Cart           Cart         `json:"cart"`
	Shipping       ShippingInfo `json:"shipping"`
	Subtotal       int64        `json:"subtotal"`
	ShippingFee    int64        `json:"shipping_fee"`
	Total          int64        `json:"total"`
	Status         OrderStatus  `json:"status"`
	Payment        PaymentInfo  `json:"payment"`
	CreatedAt      time.Time    `json:"created_at"`
	CompletedAt    time.Time    `json:"completed_at"`
}
