package reconcile

import (
	"context"
	"testing"
	"time"

	"commerce-core-go/internal/config"
	"commerce-core-go/internal/constants"
	"commerce-core-go/internal/gateway"
	"commerce-core-go/internal/storage/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOrderStore 记录调用痕迹的订单存储桩
type fakeOrderStore struct {
	pending []models.Order

	timeoutCalls    []string
	timeoutReasons  []string
	retryIncrements []string
	attachedKeys    map[string]string
	applied         map[string]string // orderID -> status
}

func newFakeOrderStore(pending ...models.Order) *fakeOrderStore {
	return &fakeOrderStore{
		pending:      pending,
		attachedKeys: make(map[string]string),
		applied:      make(map[string]string),
	}
}

func (f *fakeOrderStore) FindPendingGatewayOrdersBefore(ctx context.Context, threshold time.Time) ([]models.Order, error) {
	return f.pending, nil
}

func (f *fakeOrderStore) MarkOrderFailedByTimeout(ctx context.Context, orderID, reason string) error {
	f.timeoutCalls = append(f.timeoutCalls, orderID)
	f.timeoutReasons = append(f.timeoutReasons, reason)
	return nil
}

func (f *fakeOrderStore) IncrementOrderRetryCount(ctx context.Context, orderID string) error {
	f.retryIncrements = append(f.retryIncrements, orderID)
	return nil
}

func (f *fakeOrderStore) AttachTransactionKey(ctx context.Context, orderID, transactionKey string) error {
	f.attachedKeys[orderID] = transactionKey
	return nil
}

func (f *fakeOrderStore) ApplyGatewayResult(ctx context.Context, orderID, status, reason string, transactionKey *string) error {
	f.applied[orderID] = status
	return nil
}

// stubGateway 固定返回的网关桩
type stubGateway struct {
	requestResult gateway.TransactionResult
	requestCalls  int

	orderRecord gateway.OrderPaymentRecord
	detail      gateway.TransactionDetail
	detailCalls int
}

func (s *stubGateway) RequestPayment(ctx context.Context, req gateway.PaymentRequest) gateway.TransactionResult {
	s.requestCalls++
	if s.requestResult.OrderID == "" {
		s.requestResult.OrderID = req.OrderID
	}
	return s.requestResult
}

func (s *stubGateway) LookupByOrderID(ctx context.Context, orderID string) gateway.OrderPaymentRecord {
	rec := s.orderRecord
	if rec.OrderID == "" {
		rec.OrderID = orderID
	}
	return rec
}

func (s *stubGateway) LookupByTransactionKey(ctx context.Context, transactionKey string) gateway.TransactionDetail {
	s.detailCalls++
	return s.detail
}

func newTestScheduler(orders OrderStore, gw Gateway, now time.Time) *Scheduler {
	s := NewScheduler(orders, gw, &config.ReconcilerConfig{
		PollInterval:      "60s",
		SettleThreshold:   "1m",
		TimeoutThreshold:  "30m",
		MaxPaymentRetries: 2,
	}, "https://shop.example.com/callback", zerolog.Nop())
	s.now = func() time.Time { return now }
	return s
}

func strPtr(s string) *string { return &s }

// TestReconcileSyncByTransactionKey 验证已有交易键的订单按网关结论落库
func TestReconcileSyncByTransactionKey(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	store := newFakeOrderStore(models.Order{
		ID:                    "order-1",
		Status:                constants.OrderStatusPending,
		GatewayTransactionKey: strPtr("txn-1"),
		CreatedAt:             now.Add(-5 * time.Minute),
	})
	gw := &stubGateway{detail: gateway.TransactionDetail{
		TransactionKey: "txn-1",
		Status:         gateway.StatusSuccess,
	}}

	s := newTestScheduler(store, gw, now)
	require.NoError(t, s.ReconcileTick(context.Background()))

	assert.Equal(t, constants.OrderStatusPaid, store.applied["order-1"])
	assert.Equal(t, 1, gw.detailCalls)
	assert.Empty(t, store.timeoutCalls)
}

// TestReconcilePendingDetailIsNotTerminal 验证网关仍在处理时本轮不动作
func TestReconcilePendingDetailIsNotTerminal(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	store := newFakeOrderStore(models.Order{
		ID:                    "order-2",
		Status:                constants.OrderStatusPending,
		GatewayTransactionKey: strPtr("txn-2"),
		CreatedAt:             now.Add(-5 * time.Minute),
	})
	gw := &stubGateway{detail: gateway.TransactionDetail{
		TransactionKey: "txn-2",
		Status:         gateway.StatusPending,
	}}

	s := newTestScheduler(store, gw, now)
	require.NoError(t, s.ReconcileTick(context.Background()))

	assert.Empty(t, store.applied)
	assert.Empty(t, store.timeoutCalls)
	assert.Empty(t, store.retryIncrements)
}

// TestReconcileAdoptsGatewayRecord 验证无键订单从网关记录补登交易键
func TestReconcileAdoptsGatewayRecord(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	store := newFakeOrderStore(models.Order{
		ID:        "order-3",
		Status:    constants.OrderStatusPending,
		CreatedAt: now.Add(-5 * time.Minute),
	})
	gw := &stubGateway{orderRecord: gateway.OrderPaymentRecord{
		Transactions: []gateway.TransactionDetail{
			{TransactionKey: "txn-3", Status: gateway.StatusPending, UpdatedAt: now.Add(-time.Minute)},
		},
	}}

	s := newTestScheduler(store, gw, now)
	require.NoError(t, s.ReconcileTick(context.Background()))

	assert.Equal(t, "txn-3", store.attachedKeys["order-3"])
	assert.Empty(t, store.applied)
	assert.Equal(t, 0, gw.requestCalls, "网关已有记录时不应补发支付")
}

// TestReconcileTimeout 验证超过阈值且无交易键的订单判定失败，
// 失败原因包含timeout字样
func TestReconcileTimeout(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	store := newFakeOrderStore(models.Order{
		ID:         "order-4",
		Status:     constants.OrderStatusPending,
		RetryCount: 2,
		CreatedAt:  now.Add(-31 * time.Minute),
	})
	gw := &stubGateway{orderRecord: gateway.OrderPaymentRecord{Fallback: true}}

	s := newTestScheduler(store, gw, now)
	require.NoError(t, s.ReconcileTick(context.Background()))

	require.Len(t, store.timeoutCalls, 1)
	assert.Equal(t, "order-4", store.timeoutCalls[0])
	assert.Contains(t, store.timeoutReasons[0], "timeout")
	assert.Equal(t, 0, gw.requestCalls)
}

// TestReconcileRetryPayment 验证未超时且有额度时补发支付请求
func TestReconcileRetryPayment(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	store := newFakeOrderStore(models.Order{
		ID:         "order-5",
		Status:     constants.OrderStatusPending,
		RetryCount: 0,
		CreatedAt:  now.Add(-10 * time.Minute),
	})
	gw := &stubGateway{
		requestResult: gateway.TransactionResult{Status: gateway.StatusUnavailable},
	}

	s := newTestScheduler(store, gw, now)
	require.NoError(t, s.ReconcileTick(context.Background()))

	assert.Equal(t, 1, gw.requestCalls)
	assert.Equal(t, []string{"order-5"}, store.retryIncrements, "未获交易键应消耗一次补发额度")
}

// TestReconcileRetryBudgetExhausted 验证补发额度耗尽后不再请求网关
func TestReconcileRetryBudgetExhausted(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	store := newFakeOrderStore(models.Order{
		ID:         "order-6",
		Status:     constants.OrderStatusPending,
		RetryCount: 2, // == max_payment_retries
		CreatedAt:  now.Add(-10 * time.Minute),
	})
	gw := &stubGateway{orderRecord: gateway.OrderPaymentRecord{Fallback: true}}

	s := newTestScheduler(store, gw, now)
	require.NoError(t, s.ReconcileTick(context.Background()))

	assert.Equal(t, 0, gw.requestCalls, "额度耗尽后不应再补发")
	assert.Empty(t, store.retryIncrements)
	assert.Empty(t, store.timeoutCalls, "未到超时阈值不应判定失败")
}

// TestReconcileRetryPaymentTerminal 验证补发即得终态时直接落库
func TestReconcileRetryPaymentTerminal(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	store := newFakeOrderStore(models.Order{
		ID:        "order-7",
		Status:    constants.OrderStatusPending,
		CreatedAt: now.Add(-10 * time.Minute),
	})
	gw := &stubGateway{
		requestResult: gateway.TransactionResult{TransactionKey: "txn-7", Status: gateway.StatusFailed, Reason: "card declined"},
	}

	s := newTestScheduler(store, gw, now)
	require.NoError(t, s.ReconcileTick(context.Background()))

	assert.Equal(t, constants.OrderStatusFailed, store.applied["order-7"])
	assert.Empty(t, store.retryIncrements)
}

// panicStore 第一个订单触发panic，用于验证隔离
type panicStore struct {
	*fakeOrderStore
}

func (p *panicStore) MarkOrderFailedByTimeout(ctx context.Context, orderID, reason string) error {
	if orderID == "order-bad" {
		panic("storage corrupted")
	}
	return p.fakeOrderStore.MarkOrderFailedByTimeout(ctx, orderID, reason)
}

// TestReconcilePerOrderIsolation 验证单个订单panic不影响同轮其余订单
func TestReconcilePerOrderIsolation(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	inner := newFakeOrderStore(
		models.Order{ID: "order-bad", Status: constants.OrderStatusPending, RetryCount: 2, CreatedAt: now.Add(-40 * time.Minute)},
		models.Order{ID: "order-good", Status: constants.OrderStatusPending, RetryCount: 2, CreatedAt: now.Add(-40 * time.Minute)},
	)
	store := &panicStore{fakeOrderStore: inner}
	gw := &stubGateway{orderRecord: gateway.OrderPaymentRecord{Fallback: true}}

	s := newTestScheduler(store, gw, now)
	require.NotPanics(t, func() {
		require.NoError(t, s.ReconcileTick(context.Background()))
	})

	assert.Equal(t, []string{"order-good"}, inner.timeoutCalls, "panic订单之后的订单仍应被处理")
}
