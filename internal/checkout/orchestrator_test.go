package checkout

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/fjod/go_storefront/domain"
	"github.com/fjod/go_storefront/internal/cart"
	"github.com/fjod/go_storefront/internal/store"
	"github.com/fjod/go_storefront/internal/vnpay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockOrderClient implements orders.Client for testing.
type mockOrderClient struct {
	calls atomic.Int32
	draft *domain.OrderDraft
	id    string
	err   error
}

func (m *mockOrderClient) CreateOrder(_ context.Context, draft *domain.OrderDraft) (string, error) {
	m.calls.Add(1)
	m.draft = draft
	if m.err != nil {
		return "", m.err
	}
	return m.id, nil
}

func validShipping() *domain.ShippingInfo {
	return &domain.ShippingInfo{
		FullName: "Nguyen Van A",
		Email:    "a.nguyen@example.com",
		Phone:    "0912345678",
		Address:  "12 Ly Thuong Kiet",
		City:     "Ha Noi",
		District: "Hoan Kiem",
		Ward:     "Trang Tien",
	}
}

func testGateway() *vnpay.Client {
	return vnpay.NewClient(vnpay.Config{
		TmnCode:    "DEMOTMN1",
		HashSecret: "SECRET",
		PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:  "https://shop.example.com/payment/return",
	})
}

type fixture struct {
	orch    *Orchestrator
	durable *store.MemoryStore
	records *Records
	cart    *cart.Service
	orders  *mockOrderClient
}

func setup(t *testing.T, gateway *vnpay.Client) *fixture {
	t.Helper()
	durable := store.NewMemoryStore()
	records := NewRecords(durable)
	cartSvc := cart.NewService(durable)
	ordersClient := &mockOrderClient{id: "ord-42"}

	orch := NewOrchestrator(cartSvc, records, ordersClient, gateway, nil, 30000)
	orch.newOrderID = func() string { return "20260830103000123" }

	return &fixture{orch: orch, durable: durable, records: records, cart: cartSvc, orders: ordersClient}
}

func (f *fixture) fillCart(t *testing.T) {
	t.Helper()
	_, err := f.cart.AddLine(context.Background(), 1, "7", 2, cart.AddDetails{Name: "Robusta blend", UnitPrice: 45000})
	require.NoError(t, err)
}

func TestValidateReadiness_Ready(t *testing.T) {
	reasons := ValidateReadiness(1, validShipping(), domain.PaymentMethodCOD)
	assert.Empty(t, reasons)
}

func TestValidateReadiness_CollectsAllReasons(t *testing.T) {
	reasons := ValidateReadiness(0, &domain.ShippingInfo{}, domain.PaymentMethod("WIRE"))

	fields := make(map[string]bool)
	for _, r := range reasons {
		fields[r.Field] = true
	}
	for _, want := range []string{"user", "full_name", "email", "phone", "address", "city", "district", "ward", "payment_method"} {
		assert.True(t, fields[want], "missing reason for %s", want)
	}
}

func TestValidateReadiness_FieldRules(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.ShippingInfo)
		field  string
	}{
		{"name with digits", func(s *domain.ShippingInfo) { s.FullName = "user123" }, "full_name"},
		{"bad email", func(s *domain.ShippingInfo) { s.Email = "not-an-email" }, "email"},
		{"short phone", func(s *domain.ShippingInfo) { s.Phone = "09123" }, "phone"},
		{"foreign prefix", func(s *domain.ShippingInfo) { s.Phone = "+15551234567" }, "phone"},
		{"short address", func(s *domain.ShippingInfo) { s.Address = "x" }, "address"},
		{"blank city", func(s *domain.ShippingInfo) { s.City = "  " }, "city"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			shipping := validShipping()
			tc.mutate(shipping)

			reasons := ValidateReadiness(1, shipping, domain.PaymentMethodCOD)
			require.Len(t, reasons, 1)
			assert.Equal(t, tc.field, reasons[0].Field)
		})
	}
}

func TestValidateReadiness_AcceptsVietnameseNames(t *testing.T) {
	shipping := validShipping()
	shipping.FullName = "Trần Thị Ngọc Ánh"

	assert.Empty(t, ValidateReadiness(1, shipping, domain.PaymentMethodVNPay))
}

func TestBuildOrderDraft_EmptyCart(t *testing.T) {
	_, err := BuildOrderDraft(&domain.Cart{}, domain.PaymentMethodCOD, 1)
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestBuildOrderDraft_MapsLines(t *testing.T) {
	snapshot := &domain.Cart{
		Lines: []domain.CartLine{
			{ProductID: "7", Name: "Robusta blend", UnitPrice: 45000, Quantity: 2},
		},
	}
	snapshot.Recalculate()

	draft, err := BuildOrderDraft(snapshot, domain.PaymentMethodVNPay, 9)
	require.NoError(t, err)

	assert.Equal(t, int64(9), draft.UserID)
	assert.Equal(t, domain.PaymentMethodVNPay, draft.PaymentType)
	require.Len(t, draft.Items, 1)
	assert.Equal(t, domain.OrderDraftItem{ProductID: "7", Quantity: 2, UnitPrice: 45000}, draft.Items[0])
}

func TestPlaceOrder_NotReady(t *testing.T) {
	f := setup(t, testGateway())
	f.fillCart(t)

	_, err := f.orch.PlaceOrder(context.Background(), 1, &domain.ShippingInfo{}, domain.PaymentMethodCOD)

	var notReady *NotReadyError
	require.ErrorAs(t, err, &notReady)
	assert.NotEmpty(t, notReady.Reasons)
	assert.Zero(t, f.orders.calls.Load())
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	f := setup(t, testGateway())

	_, err := f.orch.PlaceOrder(context.Background(), 1, validShipping(), domain.PaymentMethodCOD)
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestPlaceOrder_COD(t *testing.T) {
	f := setup(t, testGateway())
	ctx := context.Background()
	f.fillCart(t)

	result, err := f.orch.PlaceOrder(ctx, 1, validShipping(), domain.PaymentMethodCOD)
	require.NoError(t, err)

	// Exactly one order creation, no redirect.
	assert.Equal(t, int32(1), f.orders.calls.Load())
	assert.Empty(t, result.RedirectURL)
	require.NotNil(t, result.Order)
	assert.Equal(t, domain.OrderStatusCommitted, result.Order.Status)
	assert.Equal(t, "ord-42", result.Order.BackendOrderID)
	assert.Equal(t, int64(90000), result.Order.Subtotal)
	assert.Equal(t, int64(120000), result.Order.Total)

	// Committed to the last-order key, cart cleared, no pending order.
	last, err := f.records.LoadLast(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, result.Order.BackendOrderID, last.BackendOrderID)

	c, err := f.cart.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())

	_, err = f.records.LoadPending(ctx, 1)
	assert.ErrorIs(t, err, ErrNoPendingOrder)
}

func TestPlaceOrder_COD_OrderServiceFailure(t *testing.T) {
	f := setup(t, testGateway())
	ctx := context.Background()
	f.fillCart(t)
	f.orders.err = errors.New("boom")

	_, err := f.orch.PlaceOrder(ctx, 1, validShipping(), domain.PaymentMethodCOD)
	require.Error(t, err)

	// Nothing committed, cart untouched.
	c, err2 := f.cart.Get(ctx, 1)
	require.NoError(t, err2)
	assert.False(t, c.IsEmpty())
}

func TestPlaceOrder_Redirect_WritesPendingOrderFirst(t *testing.T) {
	f := setup(t, testGateway())
	ctx := context.Background()
	f.fillCart(t)

	result, err := f.orch.PlaceOrder(ctx, 1, validShipping(), domain.PaymentMethodVNPay)
	require.NoError(t, err)

	assert.Nil(t, result.Order)
	require.True(t, strings.HasPrefix(result.RedirectURL, "https://sandbox.vnpayment.vn/"))

	parsed, err := url.Parse(result.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "20260830103000123", parsed.Query().Get("vnp_TxnRef"))
	assert.Equal(t, "12000000", parsed.Query().Get("vnp_Amount")) // total x100

	// No backend order yet; that happens on return.
	assert.Zero(t, f.orders.calls.Load())

	pending, err := f.records.LoadPending(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "20260830103000123", pending.OrderID)
	assert.Equal(t, int64(90000), pending.Subtotal)
	assert.Equal(t, int64(30000), pending.ShippingFee)
	assert.Equal(t, int64(120000), pending.Total)
	assert.Empty(t, pending.BackendOrderID)
	assert.Equal(t, *validShipping(), pending.Shipping)

	// Cart stays until payment settles.
	c, err := f.cart.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, c.IsEmpty())
}

func TestPlaceOrder_GatewayUnavailable_RollsBackPendingOrder(t *testing.T) {
	f := setup(t, vnpay.NewClient(vnpay.Config{})) // no credentials
	ctx := context.Background()
	f.fillCart(t)

	_, err := f.orch.PlaceOrder(ctx, 1, validShipping(), domain.PaymentMethodVNPay)
	require.ErrorIs(t, err, vnpay.ErrGatewayUnavailable)

	// The failed attempt must not leave a pending order behind.
	_, err = f.records.LoadPending(ctx, 1)
	assert.ErrorIs(t, err, ErrNoPendingOrder)
}
