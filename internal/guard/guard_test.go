package guard

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/go_storefront/domain"
	"github.com/fjod/go_storefront/internal/cart"
	"github.com/fjod/go_storefront/internal/checkout"
	"github.com/fjod/go_storefront/internal/store"
	"github.com/fjod/go_storefront/internal/vnpay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockOrderClient implements orders.Client and counts creation calls.
type mockOrderClient struct {
	calls    atomic.Int32
	id       string
	err      error
	onCreate func()
}

func (m *mockOrderClient) CreateOrder(context.Context, *domain.OrderDraft) (string, error) {
	m.calls.Add(1)
	if m.onCreate != nil {
		m.onCreate()
	}
	if m.err != nil {
		return "", m.err
	}
	return m.id, nil
}

type fixture struct {
	guard   *Guard
	session *store.MemoryStore
	durable *store.MemoryStore
	records *checkout.Records
	cart    *cart.Service
	orders  *mockOrderClient
}

func setup(t *testing.T) *fixture {
	t.Helper()
	session := store.NewMemoryStore()
	durable := store.NewMemoryStore()
	records := checkout.NewRecords(durable)
	cartSvc := cart.NewService(durable)
	ordersClient := &mockOrderClient{id: "ord-42"}

	return &fixture{
		guard:   New(session, records, cartSvc, ordersClient, nil),
		session: session,
		durable: durable,
		records: records,
		cart:    cartSvc,
		orders:  ordersClient,
	}
}

func (f *fixture) writePending(t *testing.T, txnRef string) *domain.PendingOrder {
	t.Helper()
	ctx := context.Background()

	_, err := f.cart.AddLine(ctx, 1, "7", 2, cart.AddDetails{Name: "Robusta blend", UnitPrice: 45000})
	require.NoError(t, err)

	snapshot, err := f.cart.Get(ctx, 1)
	require.NoError(t, err)

	pending := &domain.PendingOrder{
		OrderID:       txnRef,
		Cart:          *snapshot,
		Shipping:      domain.ShippingInfo{FullName: "Nguyen Van A", Phone: "0912345678", City: "Ha Noi"},
		PaymentMethod: domain.PaymentMethodVNPay,
		Subtotal:      snapshot.Total,
		ShippingFee:   30000,
		Total:         snapshot.Total + 30000,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, f.records.SavePending(ctx, 1, pending))
	return pending
}

func successCallback(txnRef string) *vnpay.CallbackResult {
	return &vnpay.CallbackResult{
		TxnRef:       txnRef,
		ResponseCode: "00",
		Amount:       120000,
		BankCode:     "NCB",
		PayDate:      "20260830103245",
	}
}

func TestHandleReturn_SuccessfulPayment(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	pending := f.writePending(t, "T1")

	outcome, err := f.guard.HandleReturn(ctx, 1, "s1", successCallback("T1"))
	require.NoError(t, err)

	assert.Equal(t, domain.CallbackStatusCompleted, outcome.Status)
	assert.Equal(t, "ord-42", outcome.BackendOrderID)
	assert.False(t, outcome.Replayed)
	assert.Equal(t, int32(1), f.orders.calls.Load())

	// Completed order committed with the snapshot's totals.
	last, err := f.records.LoadLast(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, pending.Total, last.Total)
	assert.Equal(t, pending.Subtotal, last.Subtotal)
	assert.Equal(t, pending.Shipping, last.Shipping)
	assert.Equal(t, domain.OrderStatusCommitted, last.Status)
	assert.Equal(t, "00", last.Payment.ResponseCode)
	assert.Equal(t, "NCB", last.Payment.BankCode)

	// Pending order is gone and the cart is cleared.
	_, err = f.records.LoadPending(ctx, 1)
	assert.ErrorIs(t, err, checkout.ErrNoPendingOrder)

	c, err := f.cart.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
}

func TestHandleReturn_DuplicateDelivery_CreatesOrderOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.writePending(t, "T1")

	first, err := f.guard.HandleReturn(ctx, 1, "s1", successCallback("T1"))
	require.NoError(t, err)

	// Simulate the user refreshing the return URL.
	second, err := f.guard.HandleReturn(ctx, 1, "s1", successCallback("T1"))
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.orders.calls.Load())
	assert.Equal(t, domain.CallbackStatusCompleted, first.Status)
	assert.Equal(t, domain.CallbackStatusCompleted, second.Status)
	assert.Equal(t, first.BackendOrderID, second.BackendOrderID)
	assert.True(t, second.Replayed)
}

func TestHandleReturn_MissingPendingOrder(t *testing.T) {
	f := setup(t)

	outcome, err := f.guard.HandleReturn(context.Background(), 1, "s1", successCallback("T1"))
	require.NoError(t, err)

	assert.Equal(t, domain.CallbackStatusError, outcome.Status)
	assert.Contains(t, outcome.Message, "T1")
	assert.Zero(t, f.orders.calls.Load())
}

func TestHandleReturn_TxnRefMismatchIsError(t *testing.T) {
	f := setup(t)
	f.writePending(t, "T1")

	outcome, err := f.guard.HandleReturn(context.Background(), 1, "s1", successCallback("T2"))
	require.NoError(t, err)

	assert.Equal(t, domain.CallbackStatusError, outcome.Status)
	assert.Zero(t, f.orders.calls.Load())
}

func TestHandleReturn_UserCancelled(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.writePending(t, "T1")

	cb := successCallback("T1")
	cb.ResponseCode = "24"

	outcome, err := f.guard.HandleReturn(ctx, 1, "s1", cb)
	require.NoError(t, err)

	assert.Equal(t, domain.CallbackStatusFailed, outcome.Status)
	assert.Equal(t, "You cancelled the transaction.", outcome.Message)
	assert.Zero(t, f.orders.calls.Load())

	// The pending order stays so the user can retry from the cart.
	_, err = f.records.LoadPending(ctx, 1)
	require.NoError(t, err)
}

func TestHandleReturn_TerminalStateIsStable(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.writePending(t, "T1")

	cb := successCallback("T1")
	cb.ResponseCode = "24"

	first, err := f.guard.HandleReturn(ctx, 1, "s1", cb)
	require.NoError(t, err)
	require.Equal(t, domain.CallbackStatusFailed, first.Status)

	// A later replay with a success code must not flip the outcome or
	// create an order; the recorded terminal state wins.
	replay, err := f.guard.HandleReturn(ctx, 1, "s1", successCallback("T1"))
	require.NoError(t, err)

	assert.Equal(t, domain.CallbackStatusFailed, replay.Status)
	assert.True(t, replay.Replayed)
	assert.Zero(t, f.orders.calls.Load())
}

func TestHandleReturn_ProcessingRecordBacksOff(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.writePending(t, "T1")

	data, err := json.Marshal(callbackRecord{Status: domain.CallbackStatusProcessing})
	require.NoError(t, err)
	require.NoError(t, f.session.Set(ctx, statusKey("s1", "T1"), data))

	outcome, err := f.guard.HandleReturn(ctx, 1, "s1", successCallback("T1"))
	require.NoError(t, err)

	assert.Equal(t, domain.CallbackStatusProcessing, outcome.Status)
	assert.Zero(t, f.orders.calls.Load())
}

func TestHandleReturn_MarksProcessingBeforeOrderCreation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.writePending(t, "T1")

	var statusDuringCall domain.CallbackStatus
	f.orders.onCreate = func() {
		data, err := f.session.Get(ctx, statusKey("s1", "T1"))
		require.NoError(t, err)
		var rec callbackRecord
		require.NoError(t, json.Unmarshal(data, &rec))
		statusDuringCall = rec.Status
	}

	_, err := f.guard.HandleReturn(ctx, 1, "s1", successCallback("T1"))
	require.NoError(t, err)

	assert.Equal(t, domain.CallbackStatusProcessing, statusDuringCall)
}

func TestHandleReturn_ReusesExistingBackendOrder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	pending := f.writePending(t, "T1")
	pending.BackendOrderID = "ord-earlier"
	require.NoError(t, f.records.SavePending(ctx, 1, pending))

	outcome, err := f.guard.HandleReturn(ctx, 1, "s1", successCallback("T1"))
	require.NoError(t, err)

	assert.Equal(t, domain.CallbackStatusCompleted, outcome.Status)
	assert.Equal(t, "ord-earlier", outcome.BackendOrderID)
	assert.Zero(t, f.orders.calls.Load())
}

func TestHandleReturn_OrderCreationFailureIsTerminalError(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.writePending(t, "T1")
	f.orders.err = errors.New("order service down")

	outcome, err := f.guard.HandleReturn(ctx, 1, "s1", successCallback("T1"))
	require.NoError(t, err)

	assert.Equal(t, domain.CallbackStatusError, outcome.Status)
	assert.Contains(t, outcome.Message, "contact support")
	assert.Equal(t, int32(1), f.orders.calls.Load())

	// The record is terminal, not stuck in PROCESSING: replays do not
	// retry the creation call.
	replay, err := f.guard.HandleReturn(ctx, 1, "s1", successCallback("T1"))
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackStatusError, replay.Status)
	assert.True(t, replay.Replayed)
	assert.Equal(t, int32(1), f.orders.calls.Load())
}

func TestHandleReturn_ReplayUsesRecordedDeclineMessage(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.writePending(t, "T1")

	cb := successCallback("T1")
	cb.ResponseCode = "24"

	first, err := f.guard.HandleReturn(ctx, 1, "s1", cb)
	require.NoError(t, err)
	require.Equal(t, "You cancelled the transaction.", first.Message)

	// A replay with a doctored response code must render the recorded
	// outcome, not reclassify the incoming query.
	doctored := successCallback("T1")
	doctored.ResponseCode = "51"

	replay, err := f.guard.HandleReturn(ctx, 1, "s1", doctored)
	require.NoError(t, err)

	assert.Equal(t, domain.CallbackStatusFailed, replay.Status)
	assert.Equal(t, "You cancelled the transaction.", replay.Message)
	assert.True(t, replay.Replayed)
}

// failingRecordStore refuses writes of selected record statuses; other
// keys (like the backend-order side record) pass through untouched.
type failingRecordStore struct {
	*store.MemoryStore
	refuse map[domain.CallbackStatus]bool
}

func (s *failingRecordStore) Set(ctx context.Context, key string, value []byte) error {
	var rec callbackRecord
	if err := json.Unmarshal(value, &rec); err == nil && s.refuse[rec.Status] {
		return errors.New("session store write refused")
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func TestHandleReturn_CompletedWriteFailureDoesNotStayProcessing(t *testing.T) {
	ctx := context.Background()
	session := &failingRecordStore{
		MemoryStore: store.NewMemoryStore(),
		refuse:      map[domain.CallbackStatus]bool{domain.CallbackStatusCompleted: true},
	}
	durable := store.NewMemoryStore()
	records := checkout.NewRecords(durable)
	cartSvc := cart.NewService(durable)
	ordersClient := &mockOrderClient{id: "ord-42"}
	g := New(session, records, cartSvc, ordersClient, nil)

	_, err := cartSvc.AddLine(ctx, 1, "7", 2, cart.AddDetails{UnitPrice: 45000})
	require.NoError(t, err)
	snapshot, err := cartSvc.Get(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, records.SavePending(ctx, 1, &domain.PendingOrder{
		OrderID:       "T1",
		Cart:          *snapshot,
		PaymentMethod: domain.PaymentMethodVNPay,
		Subtotal:      snapshot.Total,
		Total:         snapshot.Total,
		CreatedAt:     time.Now(),
	}))

	outcome, err := g.HandleReturn(ctx, 1, "s1", successCallback("T1"))
	require.NoError(t, err)

	// The record converges on a terminal state rather than staying in
	// PROCESSING, which would block replays forever.
	assert.Equal(t, domain.CallbackStatusError, outcome.Status)
	assert.Equal(t, int32(1), ordersClient.calls.Load())

	data, err := session.Get(ctx, statusKey("s1", "T1"))
	require.NoError(t, err)
	var rec callbackRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, domain.CallbackStatusError, rec.Status)

	replay, err := g.HandleReturn(ctx, 1, "s1", successCallback("T1"))
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, domain.CallbackStatusError, replay.Status)
	assert.Equal(t, int32(1), ordersClient.calls.Load())
}

func TestHandleReturn_SeparateReferencesAreIndependent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.writePending(t, "T2")

	// T1 was never prepared; T2 was.
	bad, err := f.guard.HandleReturn(ctx, 1, "s1", successCallback("T1"))
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackStatusError, bad.Status)

	good, err := f.guard.HandleReturn(ctx, 1, "s1", successCallback("T2"))
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackStatusCompleted, good.Status)
}
