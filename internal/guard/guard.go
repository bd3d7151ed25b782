// Package guard reconciles payment gateway callbacks into exactly one
// terminal order outcome per transaction reference. The return URL can be
// loaded any number of times (refresh, back button, duplicated tab); order
// creation happens at most once.
package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_storefront/domain"
	"github.com/fjod/go_storefront/internal/cart"
	"github.com/fjod/go_storefront/internal/checkout"
	"github.com/fjod/go_storefront/internal/metrics"
	"github.com/fjod/go_storefront/internal/orders"
	"github.com/fjod/go_storefront/internal/publisher"
	"github.com/fjod/go_storefront/internal/store"
	"github.com/fjod/go_storefront/internal/vnpay"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const processingMessage = "Your payment result is being processed. Please wait a moment and refresh."

// Guard owns the transaction-record key namespace in the session store.
// Records are written once per transition and never deleted: a terminal
// record is the durable proof that this reference was already handled.
type Guard struct {
	session store.KVStore
	records *checkout.Records
	cart    *cart.Service
	orders  orders.Client
	pub     *publisher.Publisher

	now func() time.Time
	sfg singleflight.Group // collapses same-reference invocations in-process
}

func New(session store.KVStore, records *checkout.Records, cartSvc *cart.Service, ordersClient orders.Client, pub *publisher.Publisher) *Guard {
	return &Guard{
		session: session,
		records: records,
		cart:    cartSvc,
		orders:  ordersClient,
		pub:     pub,
		now:     time.Now,
	}
}

// Outcome is what the return page renders: the terminal (or in-flight)
// status of this transaction reference and, on success, the backend order
// to show. Replayed marks outcomes served from a prior record without
// re-running any business logic.
type Outcome struct {
	Status         domain.CallbackStatus
	Message        string
	BackendOrderID string
	Replayed       bool
}

func statusKey(sessionID, txnRef string) string {
	return fmt.Sprintf("sess:%s:txn:%s", sessionID, txnRef)
}

// callbackRecord is the durable per-reference record. The message is
// captured when the transition is decided so replays render what was
// recorded, not whatever the incoming query claims.
type callbackRecord struct {
	Status  domain.CallbackStatus `json:"status"`
	Message string                `json:"message,omitempty"`
}

func orderKey(sessionID, txnRef string) string {
	return statusKey(sessionID, txnRef) + ":order"
}

// HandleReturn processes one load of the gateway return URL. An error is
// returned only when the record itself cannot be read or written; every
// business failure converges to a terminal Outcome instead.
func (g *Guard) HandleReturn(ctx context.Context, userID int64, sessionID string, cb *vnpay.CallbackResult) (*Outcome, error) {
	v, err, _ := g.sfg.Do(statusKey(sessionID, cb.TxnRef), func() (interface{}, error) {
		return g.handle(ctx, userID, sessionID, cb)
	})
	if err != nil {
		return nil, err
	}

	outcome := v.(*Outcome)
	metrics.RecordCallbackOutcome(outcome.Status.String(), outcome.Replayed)
	return outcome, nil
}

func (g *Guard) handle(ctx context.Context, userID int64, sessionID string, cb *vnpay.CallbackResult) (*Outcome, error) {
	rec, err := g.readRecord(ctx, sessionID, cb.TxnRef)
	if err != nil {
		return nil, err
	}

	if rec.Status.IsTerminal() {
		return g.replay(ctx, rec, sessionID, cb.TxnRef), nil
	}

	if rec.Status == domain.CallbackStatusProcessing {
		// Another invocation is mid-flight (second tab racing the first,
		// or a re-render in the same tab). Back off without touching
		// anything; the first pass will reach a terminal state.
		return &Outcome{Status: domain.CallbackStatusProcessing, Message: processingMessage, Replayed: true}, nil
	}

	// Unseen. The PROCESSING mark must be durably written before any
	// network I/O so a re-entrant read observes it and backs off.
	if err2 := g.writeRecord(ctx, sessionID, cb.TxnRef, domain.CallbackStatusProcessing, ""); err2 != nil {
		return nil, err2
	}

	return g.reconcile(ctx, userID, sessionID, cb), nil
}

// replay serves the previously recorded outcome. No order creation, no
// store mutation; this is what makes duplicate deliveries safe.
func (g *Guard) replay(ctx context.Context, rec callbackRecord, sessionID, txnRef string) *Outcome {
	outcome := &Outcome{Status: rec.Status, Message: rec.Message, Replayed: true}

	if rec.Status == domain.CallbackStatusCompleted {
		if data, err := g.session.Get(ctx, orderKey(sessionID, txnRef)); err == nil {
			outcome.BackendOrderID = string(data)
		}
	}
	return outcome
}

// reconcile runs the business logic for a reference seen for the first
// time. Nothing may escape unhandled: any error or panic inside this
// window converts the record to ERROR, because a record stuck in
// PROCESSING would block replay forever.
func (g *Guard) reconcile(ctx context.Context, userID int64, sessionID string, cb *vnpay.CallbackResult) (outcome *Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic while reconciling txn %s: %v", cb.TxnRef, r)
			outcome = g.markError(ctx, userID, sessionID, cb.TxnRef, reconcileErrorMessage(cb.TxnRef))
		}
	}()

	pending, err := g.records.LoadPending(ctx, userID)
	if err != nil || pending.OrderID != cb.TxnRef {
		// Payment may have moved money with no recorded intent to
		// reconcile against. Surfaced as a distinct error, not a decline.
		return g.markError(ctx, userID, sessionID, cb.TxnRef, missingOrderMessage(cb.TxnRef))
	}

	cls := vnpay.Classify(cb.ResponseCode)
	if cls.Outcome != vnpay.OutcomeSuccess {
		return g.markFailed(ctx, userID, sessionID, cb, pending, cls.Message)
	}

	return g.complete(ctx, userID, sessionID, cb, pending)
}

// complete creates the backend order if it does not exist yet, commits the
// completed order and clears the cart.
func (g *Guard) complete(ctx context.Context, userID int64, sessionID string, cb *vnpay.CallbackResult, pending *domain.PendingOrder) *Outcome {
	backendID := pending.BackendOrderID

	if backendID == "" {
		draft, err := checkout.BuildOrderDraft(&pending.Cart, pending.PaymentMethod, userID)
		if err != nil {
			return g.markError(ctx, userID, sessionID, cb.TxnRef, reconcileErrorMessage(cb.TxnRef))
		}

		backendID, err = g.orders.CreateOrder(ctx, draft)
		if err != nil {
			log.Errorf("order creation failed for paid txn %s: %v", cb.TxnRef, err)
			return g.markError(ctx, userID, sessionID, cb.TxnRef, reconcileErrorMessage(cb.TxnRef))
		}

		// Persist the backend id immediately: if anything below fails, a
		// later pass must skip creation instead of duplicating the order.
		pending.BackendOrderID = backendID
		if err2 := g.records.SavePending(ctx, userID, pending); err2 != nil {
			log.Errorf("failed to persist backend order id for txn %s: %v", cb.TxnRef, err2)
		}
		if err2 := g.session.Set(ctx, orderKey(sessionID, cb.TxnRef), []byte(backendID)); err2 != nil {
			log.Errorf("failed to record order id for txn %s: %v", cb.TxnRef, err2)
		}
	}

	completed := &domain.CompletedOrder{
		OrderID:        pending.OrderID,
		BackendOrderID: backendID,
		Cart:           pending.Cart,
		Shipping:       pending.Shipping,
		Subtotal:       pending.Subtotal,
		ShippingFee:    pending.ShippingFee,
		Total:          pending.Total,
		Status:         domain.OrderStatusCommitted,
		Payment: domain.PaymentInfo{
			Method:       pending.PaymentMethod,
			ResponseCode: cb.ResponseCode,
			BankCode:     cb.BankCode,
			PayDate:      cb.PayDate,
		},
		CreatedAt:   pending.CreatedAt,
		CompletedAt: g.now(),
	}

	if err := g.records.SaveCompleted(ctx, userID, completed); err != nil {
		return g.markError(ctx, userID, sessionID, cb.TxnRef, reconcileErrorMessage(cb.TxnRef))
	}
	if err := g.records.DeletePending(ctx, userID); err != nil {
		return g.markError(ctx, userID, sessionID, cb.TxnRef, reconcileErrorMessage(cb.TxnRef))
	}
	if err := g.cart.Clear(ctx, userID); err != nil {
		log.Errorf("failed to clear cart after txn %s: %v", cb.TxnRef, err)
	}

	if err := g.writeRecord(ctx, sessionID, cb.TxnRef, domain.CallbackStatusCompleted, ""); err != nil {
		// The order is committed, but a record left in PROCESSING would
		// block replays forever. Converge on a terminal record; support
		// can find the committed order by the reference.
		log.Errorf("failed to mark txn %s completed: %v", cb.TxnRef, err)
		return g.markError(ctx, userID, sessionID, cb.TxnRef, reconcileErrorMessage(cb.TxnRef))
	}

	if err := g.pub.Publish(ctx, publisher.OrderEvent{
		Type:           publisher.EventOrderCompleted,
		OrderID:        pending.OrderID,
		BackendOrderID: backendID,
		UserID:         userID,
		Total:          pending.Total,
		OccurredAt:     g.now(),
	}); err != nil {
		log.Errorf("failed to publish order completed event: %v", err)
	}

	return &Outcome{Status: domain.CallbackStatusCompleted, BackendOrderID: backendID}
}

// markFailed records a classified decline. The pending order is left in
// place: the user keeps their cart and may retry payment.
func (g *Guard) markFailed(ctx context.Context, userID int64, sessionID string, cb *vnpay.CallbackResult, pending *domain.PendingOrder, message string) *Outcome {
	if err := g.writeRecord(ctx, sessionID, cb.TxnRef, domain.CallbackStatusFailed, message); err != nil {
		log.Errorf("failed to mark txn %s failed: %v", cb.TxnRef, err)
		return g.markError(ctx, userID, sessionID, cb.TxnRef, reconcileErrorMessage(cb.TxnRef))
	}

	if err := g.pub.Publish(ctx, publisher.OrderEvent{
		Type:       publisher.EventPaymentFailed,
		OrderID:    pending.OrderID,
		UserID:     userID,
		Total:      pending.Total,
		Reason:     message,
		OccurredAt: g.now(),
	}); err != nil {
		log.Errorf("failed to publish payment failed event: %v", err)
	}

	return &Outcome{Status: domain.CallbackStatusFailed, Message: message}
}

func (g *Guard) markError(ctx context.Context, userID int64, sessionID, txnRef, message string) *Outcome {
	if err := g.writeRecord(ctx, sessionID, txnRef, domain.CallbackStatusError, message); err != nil {
		log.Errorf("failed to mark txn %s as error: %v", txnRef, err)
	}

	if err := g.pub.Publish(ctx, publisher.OrderEvent{
		Type:       publisher.EventReconcileError,
		OrderID:    txnRef,
		UserID:     userID,
		Reason:     message,
		OccurredAt: g.now(),
	}); err != nil {
		log.Errorf("failed to publish reconcile error event: %v", err)
	}

	return &Outcome{Status: domain.CallbackStatusError, Message: message}
}

func (g *Guard) readRecord(ctx context.Context, sessionID, txnRef string) (callbackRecord, error) {
	data, err := g.session.Get(ctx, statusKey(sessionID, txnRef))
	if errors.Is(err, store.ErrKeyNotFound) {
		return callbackRecord{Status: domain.CallbackStatusUnseen}, nil
	}
	if err != nil {
		return callbackRecord{}, fmt.Errorf("failed to read callback record: %w", err)
	}

	var rec callbackRecord
	if err2 := json.Unmarshal(data, &rec); err2 != nil {
		return callbackRecord{}, fmt.Errorf("malformed callback record: %w", err2)
	}
	return rec, nil
}

func (g *Guard) writeRecord(ctx context.Context, sessionID, txnRef string, status domain.CallbackStatus, message string) error {
	current, err := g.readRecord(ctx, sessionID, txnRef)
	if err != nil {
		return err
	}
	if !domain.CanTransitionTo(current.Status, status) {
		return fmt.Errorf("illegal callback transition %s -> %s for txn %s", current.Status, status, txnRef)
	}

	data, err := json.Marshal(callbackRecord{Status: status, Message: message})
	if err != nil {
		return fmt.Errorf("marshal callback record failed: %w", err)
	}
	if err2 := g.session.Set(ctx, statusKey(sessionID, txnRef), data); err2 != nil {
		return fmt.Errorf("failed to write callback record: %w", err2)
	}
	return nil
}

func missingOrderMessage(txnRef string) string {
	return fmt.Sprintf("Order information is missing for this payment. Please contact support with reference %s.", txnRef)
}

func reconcileErrorMessage(txnRef string) string {
	return fmt.Sprintf("Your payment was received but the order could not be recorded. Please contact support with reference %s.", txnRef)
}
