package checkout

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/go_storefront/domain"
	"github.com/fjod/go_storefront/internal/cart"
	"github.com/fjod/go_storefront/internal/metrics"
	"github.com/fjod/go_storefront/internal/orders"
	"github.com/fjod/go_storefront/internal/publisher"
	"github.com/fjod/go_storefront/internal/vnpay"
	log "github.com/sirupsen/logrus"
)

// Orchestrator drives the happy path from a validated cart to either a
// committed COD order or a gateway redirect. For redirect methods control
// does not come back here: the browser leaves the page, and resumption
// happens in the guard package on the return URL.
type Orchestrator struct {
	cart    *cart.Service
	records *Records
	orders  orders.Client
	gateway *vnpay.Client
	pub     *publisher.Publisher

	shippingFee int64
	now         func() time.Time
	newOrderID  func() string
}

func NewOrchestrator(
	cartSvc *cart.Service,
	records *Records,
	ordersClient orders.Client,
	gateway *vnpay.Client,
	pub *publisher.Publisher,
	shippingFee int64,
) *Orchestrator {
	return &Orchestrator{
		cart:        cartSvc,
		records:     records,
		orders:      ordersClient,
		gateway:     gateway,
		pub:         pub,
		shippingFee: shippingFee,
		now:         time.Now,
		newOrderID:  generateOrderID,
	}
}

// generateOrderID produces the client-side correlation id the gateway will
// echo back as the transaction reference. Timestamp plus random suffix
// keeps it unique per attempt.
func generateOrderID() string {
	return time.Now().Format("20060102150405") + fmt.Sprintf("%04d", rand.Intn(10000))
}

// BuildOrderDraft assembles the immutable order-creation request from a
// cart snapshot. Pure; the only failure is an empty cart.
func BuildOrderDraft(snapshot *domain.Cart, method domain.PaymentMethod, userID int64) (*domain.OrderDraft, error) {
	if snapshot.IsEmpty() {
		return nil, ErrEmptyCart
	}

	items := make([]domain.OrderDraftItem, 0, len(snapshot.Lines))
	for _, line := range snapshot.Lines {
		items = append(items, domain.OrderDraftItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	return &domain.OrderDraft{
		UserID:      userID,
		PaymentType: method,
		Items:       items,
	}, nil
}

// PlaceOrderResult is either a committed order (COD) or a redirect URL
// (gateway methods), never both.
type PlaceOrderResult struct {
	Order       *domain.CompletedOrder
	RedirectURL string
}

func (o *Orchestrator) PlaceOrder(ctx context.Context, userID int64, shipping *domain.ShippingInfo, method domain.PaymentMethod) (*PlaceOrderResult, error) {
	if reasons := ValidateReadiness(userID, shipping, method); len(reasons) > 0 {
		return nil, &NotReadyError{Reasons: reasons}
	}

	snapshot, err := o.cart.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if snapshot.IsEmpty() {
		return nil, ErrEmptyCart
	}

	subtotal := snapshot.Total
	total := subtotal + o.shippingFee

	switch method {
	case domain.PaymentMethodCOD:
		return o.placeCOD(ctx, userID, shipping, snapshot, subtotal, total)
	case domain.PaymentMethodVNPay:
		return o.placeRedirect(ctx, userID, shipping, snapshot, method, subtotal, total)
	}
	// Unreachable: ValidateReadiness rejects methods outside the enum.
	return nil, fmt.Errorf("unsupported payment method %q", method)
}

// placeCOD creates the backend order immediately; there is no external
// gateway involved and therefore no pending order.
func (o *Orchestrator) placeCOD(ctx context.Context, userID int64, shipping *domain.ShippingInfo, snapshot *domain.Cart, subtotal, total int64) (*PlaceOrderResult, error) {
	draft, err := BuildOrderDraft(snapshot, domain.PaymentMethodCOD, userID)
	if err != nil {
		return nil, err
	}

	backendID, err := o.orders.CreateOrder(ctx, draft)
	if err != nil {
		metrics.RecordCheckoutOperation("place_cod", false)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	createdAt := o.now()
	completed := &domain.CompletedOrder{
		OrderID:        backendID,
		BackendOrderID: backendID,
		Cart:           *snapshot,
		Shipping:       *shipping,
		Subtotal:       subtotal,
		ShippingFee:    total - subtotal,
		Total:          total,
		Status:         domain.OrderStatusCommitted,
		Payment:        domain.PaymentInfo{Method: domain.PaymentMethodCOD},
		CreatedAt:      createdAt,
		CompletedAt:    createdAt,
	}

	if err2 := o.records.SaveCompleted(ctx, userID, completed); err2 != nil {
		return nil, err2
	}
	if err2 := o.cart.Clear(ctx, userID); err2 != nil {
		return nil, err2
	}

	if err2 := o.pub.Publish(ctx, publisher.OrderEvent{
		Type:           publisher.EventOrderCompleted,
		OrderID:        completed.OrderID,
		BackendOrderID: backendID,
		UserID:         userID,
		Total:          total,
		OccurredAt:     o.now(),
	}); err2 != nil {
		log.Errorf("failed to publish order completed event: %v", err2)
	}

	metrics.RecordCheckoutOperation("place_cod", true)
	return &PlaceOrderResult{Order: completed}, nil
}

// placeRedirect durably records the order intent, then hands control to
// the gateway. The pending order is written before the redirect URL is
// built, and rolled back if the URL cannot be produced, so a pending
// order only ever exists when a navigation may actually have happened.
func (o *Orchestrator) placeRedirect(ctx context.Context, userID int64, shipping *domain.ShippingInfo, snapshot *domain.Cart, method domain.PaymentMethod, subtotal, total int64) (*PlaceOrderResult, error) {
	orderID := o.newOrderID()

	pending := &domain.PendingOrder{
		OrderID:       orderID,
		Cart:          *snapshot,
		Shipping:      *shipping,
		PaymentMethod: method,
		Subtotal:      subtotal,
		ShippingFee:   total - subtotal,
		Total:         total,
		CreatedAt:     o.now(),
	}
	if err := o.records.SavePending(ctx, userID, pending); err != nil {
		return nil, err
	}

	redirectURL, err := o.gateway.BuildRedirectURL(orderID, total, "Thanh toan don hang "+orderID)
	if err != nil {
		if err2 := o.records.DeletePending(ctx, userID); err2 != nil {
			log.Errorf("failed to roll back pending order %s: %v", orderID, err2)
		}
		metrics.RecordCheckoutOperation("place_redirect", false)
		return nil, fmt.Errorf("failed to build redirect URL: %w", err)
	}

	metrics.RecordCheckoutOperation("place_redirect", true)
	return &PlaceOrderResult{RedirectURL: redirectURL}, nil
}
