package reconcile // 在途支付订单与外部网关之间的对账调度

import (
	"context"
	"fmt"
	"time"

	"commerce-core-go/internal/config"
	"commerce-core-go/internal/constants"
	"commerce-core-go/internal/gateway"
	"commerce-core-go/internal/storage/models"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// timeoutReason 超时判定的失败原因。必须包含"timeout"字样，
// 运维侧按此检索超时失败的订单。
const timeoutReason = "timeout: no transaction key issued"

// OrderStore 对账所需的订单操作，由订单聚合的所有方提供
type OrderStore interface {
	FindPendingGatewayOrdersBefore(ctx context.Context, threshold time.Time) ([]models.Order, error)
	MarkOrderFailedByTimeout(ctx context.Context, orderID, reason string) error
	IncrementOrderRetryCount(ctx context.Context, orderID string) error
	AttachTransactionKey(ctx context.Context, orderID, transactionKey string) error
	ApplyGatewayResult(ctx context.Context, orderID, status, reason string, transactionKey *string) error
}

// Gateway 对账使用的网关操作。降级语义见gateway.ProtectedClient：
// 这些调用从不失败，不可达时返回合成结果。
type Gateway interface {
	RequestPayment(ctx context.Context, req gateway.PaymentRequest) gateway.TransactionResult
	LookupByOrderID(ctx context.Context, orderID string) gateway.OrderPaymentRecord
	LookupByTransactionKey(ctx context.Context, transactionKey string) gateway.TransactionDetail
}

// Scheduler 周期性驱动卡住的PENDING订单走向终态。
// 每个订单独立处理：单个订单的失败不会中止本轮其余订单。
type Scheduler struct {
	orders  OrderStore
	gateway Gateway
	logger  zerolog.Logger
	tracer  trace.Tracer

	pollInterval     time.Duration
	settleThreshold  time.Duration // 创建后多久才纳入对账
	timeoutThreshold time.Duration // 无交易键订单的超时阈值
	maxRetries       int           // 主动补发支付请求的次数上限
	callbackURL      string

	done chan struct{}
	now  func() time.Time // 测试注入
}

// NewScheduler 创建对账调度器
func NewScheduler(orders OrderStore, gw Gateway, cfg *config.ReconcilerConfig, callbackURL string, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		orders:           orders,
		gateway:          gw,
		logger:           logger.With().Str("component", "payment-reconciler").Logger(),
		tracer:           otel.Tracer("payment-reconciler"),
		pollInterval:     config.ParseInterval(cfg.PollInterval, 60*time.Second),
		settleThreshold:  config.ParseInterval(cfg.SettleThreshold, time.Minute),
		timeoutThreshold: config.ParseInterval(cfg.TimeoutThreshold, 30*time.Minute),
		maxRetries:       cfg.MaxPaymentRetries,
		callbackURL:      callbackURL,
		done:             make(chan struct{}),
		now:              time.Now,
	}
}

// Start 启动对账轮询
func (s *Scheduler) Start() {
	s.logger.Info().Dur("interval", s.pollInterval).Msg("支付对账调度器启动")
	ticker := time.NewTicker(s.pollInterval)

	go func() {
		for {
			select {
			case <-s.done:
				ticker.Stop()
				s.logger.Info().Msg("支付对账调度器已停止")
				return
			case <-ticker.C:
				if err := s.ReconcileTick(context.Background()); err != nil {
					s.logger.Error().Err(err).Msg("对账轮询失败")
				}
			}
		}
	}()
}

// Stop 优雅地停止调度器
func (s *Scheduler) Stop() {
	close(s.done)
}

// ReconcileTick 执行一轮对账
func (s *Scheduler) ReconcileTick(ctx context.Context) error {
	threshold := s.now().Add(-s.settleThreshold)
	orders, err := s.orders.FindPendingGatewayOrdersBefore(ctx, threshold)
	if err != nil {
		return fmt.Errorf("查询待对账订单失败: %w", err)
	}
	if len(orders) == 0 {
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "reconcile.Tick",
		trace.WithAttributes(attribute.Int("reconcile.order_count", len(orders))),
	)
	defer span.End()

	for i := range orders {
		s.reconcileOrder(ctx, &orders[i])
	}
	return nil
}

// reconcileOrder 处理单个订单。任何异常都被限制在本订单内。
func (s *Scheduler) reconcileOrder(ctx context.Context, order *models.Order) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("order_id", order.ID).
				Interface("panic", r).
				Msg("对账单个订单时发生panic")
		}
	}()

	var err error
	if order.GatewayTransactionKey != nil && *order.GatewayTransactionKey != "" {
		err = s.syncByTransactionKey(ctx, order)
	} else {
		err = s.resolveWithoutKey(ctx, order)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("order_id", order.ID).Msg("对账单个订单失败")
	}
}

// syncByTransactionKey 已有交易键的订单：拉取网关结论并同步
func (s *Scheduler) syncByTransactionKey(ctx context.Context, order *models.Order) error {
	detail := s.gateway.LookupByTransactionKey(ctx, *order.GatewayTransactionKey)

	status, terminal := mapGatewayStatus(detail.Status)
	if !terminal {
		// 网关仍在处理或不可达，等待下一轮
		return nil
	}
	if status == order.Status {
		return nil
	}

	s.logger.Info().
		Str("order_id", order.ID).
		Str("gateway_status", string(detail.Status)).
		Str("order_status", status).
		Msg("按交易键同步订单状态")
	return s.orders.ApplyGatewayResult(ctx, order.ID, status, detail.Reason, &detail.TransactionKey)
}

// resolveWithoutKey 尚无交易键的订单：先查网关记录，再依次考虑
// 超时判定与补发支付请求。
func (s *Scheduler) resolveWithoutKey(ctx context.Context, order *models.Order) error {
	record := s.gateway.LookupByOrderID(ctx, order.ID)

	// 网关持有真实记录（非降级、非空）：以最近一笔交易为准
	if !record.Fallback && len(record.Transactions) > 0 {
		latest := record.Latest()
		status, terminal := mapGatewayStatus(latest.Status)
		if terminal {
			s.logger.Info().
				Str("order_id", order.ID).
				Str("transaction_key", latest.TransactionKey).
				Str("gateway_status", string(latest.Status)).
				Msg("按订单查询同步订单状态")
			return s.orders.ApplyGatewayResult(ctx, order.ID, status, latest.Reason, &latest.TransactionKey)
		}
		// 交易仍在处理：补登交易键，下一轮走按键查询路径
		return s.orders.AttachTransactionKey(ctx, order.ID, latest.TransactionKey)
	}

	// 降级或确实无记录。先判超时：超过阈值仍无交易键的订单不可能成功。
	if s.now().Sub(order.CreatedAt) > s.timeoutThreshold {
		s.logger.Warn().
			Str("order_id", order.ID).
			Time("created_at", order.CreatedAt).
			Msg("订单超时且无交易键，判定失败")
		return s.orders.MarkOrderFailedByTimeout(ctx, order.ID, timeoutReason)
	}

	// 未超时且还有补发额度：主动补发一次支付请求
	if order.RetryCount < s.maxRetries {
		return s.retryPayment(ctx, order)
	}

	// 补发额度耗尽但未到超时：本轮不动作，等待网关记录出现或超时。
	// 该等待状态对运维可见（而非静默），作为30分钟超时前的预警。
	s.logger.Warn().
		Str("order_id", order.ID).
		Int("retry_count", order.RetryCount).
		Time("created_at", order.CreatedAt).
		Msg("订单补发额度耗尽，等待网关记录或超时")
	return nil
}

// retryPayment 补发支付请求
func (s *Scheduler) retryPayment(ctx context.Context, order *models.Order) error {
	result := s.gateway.RequestPayment(ctx, gateway.PaymentRequest{
		OrderID:     order.ID,
		Amount:      order.Amount,
		CallbackURL: s.callbackURL,
	})

	if result.TransactionKey == "" {
		// 失败或降级：未签发交易键，消耗一次补发额度后继续等待
		s.logger.Warn().
			Str("order_id", order.ID).
			Str("gateway_status", string(result.Status)).
			Int("retry_count", order.RetryCount+1).
			Msg("补发支付请求未获交易键")
		return s.orders.IncrementOrderRetryCount(ctx, order.ID)
	}

	s.logger.Info().
		Str("order_id", order.ID).
		Str("transaction_key", result.TransactionKey).
		Str("gateway_status", string(result.Status)).
		Msg("补发支付请求成功")

	status, terminal := mapGatewayStatus(result.Status)
	if terminal {
		return s.orders.ApplyGatewayResult(ctx, order.ID, status, result.Reason, &result.TransactionKey)
	}
	return s.orders.AttachTransactionKey(ctx, order.ID, result.TransactionKey)
}

// mapGatewayStatus 把网关状态映射为订单状态。
// 第二个返回值表示是否为可落库的终态。
func mapGatewayStatus(status gateway.TransactionStatus) (string, bool) {
	switch status {
	case gateway.StatusSuccess:
		return constants.OrderStatusPaid, true
	case gateway.StatusFailed:
		return constants.OrderStatusFailed, true
	default:
		// PENDING与UNAVAILABLE都不是结论
		return "", false
	}
}
