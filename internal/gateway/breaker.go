package gateway

import (
	"context"
	"errors"
	"time"

	"commerce-core-go/internal/config"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ProtectedClient 在裸客户端外套三层保护：
//  1. 熔断器：基于滚动窗口失败率的closed/open/half-open状态机；
//  2. 有界重试：仅在熔断器closed/half-open时生效，打开后立即放弃；
//  3. 降级：熔断打开或重试耗尽时返回合成的"不可达"结果，
//     永不失败，并携带原始输入的关联键供调用方区分
//     "网关说不行"与"联系不上网关"。
type ProtectedClient struct {
	inner       Client
	logger      zerolog.Logger
	maxAttempts int
	callTimeout time.Duration

	requestBreaker *gobreaker.CircuitBreaker
	orderBreaker   *gobreaker.CircuitBreaker
	detailBreaker  *gobreaker.CircuitBreaker
}

// NewProtectedClient 创建受保护的网关客户端
func NewProtectedClient(inner Client, cfg *config.GatewayConfig, logger zerolog.Logger) *ProtectedClient {
	p := &ProtectedClient{
		inner:       inner,
		logger:      logger.With().Str("component", "gateway-client").Logger(),
		maxAttempts: cfg.MaxAttempts,
		callTimeout: cfg.Timeout(),
	}
	p.requestBreaker = p.newBreaker("gateway-request-payment", cfg)
	p.orderBreaker = p.newBreaker("gateway-lookup-order", cfg)
	p.detailBreaker = p.newBreaker("gateway-lookup-transaction", cfg)
	return p
}

// newBreaker 按操作创建熔断器，一个操作的故障不影响其他操作
func (p *ProtectedClient) newBreaker(name string, cfg *config.GatewayConfig) *gobreaker.CircuitBreaker {
	interval := config.ParseInterval(cfg.BreakerInterval, 60*time.Second)
	cooldown := config.ParseInterval(cfg.BreakerCooldown, 30*time.Second)

	halfOpenProbes := cfg.BreakerHalfOpenProbes
	if halfOpenProbes == 0 {
		halfOpenProbes = 3
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: halfOpenProbes,
		Interval:    interval,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.BreakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("网关熔断器状态变化")
		},
	})
}

// execute 熔断+重试地执行一次网关操作
func (p *ProtectedClient) execute(ctx context.Context, cb *gobreaker.CircuitBreaker, op func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(p.maxAttempts-1)),
		ctx,
	)

	var result interface{}
	err := backoff.Retry(func() error {
		value, err := cb.Execute(func() (interface{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
			defer cancel()
			return op(callCtx)
		})
		if err != nil {
			// 熔断器打开后继续重试只会空转，立即放弃走降级
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = value
		return nil
	}, policy)

	return result, err
}

// RequestPayment 发起支付。降级结果不携带交易键，
// 状态为UNAVAILABLE，订单侧据此增加补发计数而非判定失败。
func (p *ProtectedClient) RequestPayment(ctx context.Context, req PaymentRequest) TransactionResult {
	value, err := p.execute(ctx, p.requestBreaker, func(ctx context.Context) (interface{}, error) {
		return p.inner.RequestPayment(ctx, req)
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("order_id", req.OrderID).Msg("支付请求降级")
		return TransactionResult{
			OrderID: req.OrderID,
			Status:  StatusUnavailable,
			Reason:  "payment gateway unreachable",
		}
	}
	return value.(TransactionResult)
}

// LookupByOrderID 按订单查询。降级结果带Fallback标记——
// "查询失败"必须与"网关确实没有记录"可区分。
func (p *ProtectedClient) LookupByOrderID(ctx context.Context, orderID string) OrderPaymentRecord {
	value, err := p.execute(ctx, p.orderBreaker, func(ctx context.Context) (interface{}, error) {
		return p.inner.LookupByOrderID(ctx, orderID)
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("order_id", orderID).Msg("订单支付记录查询降级")
		return OrderPaymentRecord{
			OrderID:  orderID,
			Fallback: true,
		}
	}
	return value.(OrderPaymentRecord)
}

// LookupByTransactionKey 按交易键查询。降级结果状态为UNAVAILABLE，
// 携带原交易键。
func (p *ProtectedClient) LookupByTransactionKey(ctx context.Context, transactionKey string) TransactionDetail {
	value, err := p.execute(ctx, p.detailBreaker, func(ctx context.Context) (interface{}, error) {
		return p.inner.LookupByTransactionKey(ctx, transactionKey)
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("transaction_key", transactionKey).Msg("交易详情查询降级")
		return TransactionDetail{
			TransactionKey: transactionKey,
			Status:         StatusUnavailable,
			Reason:         "payment gateway unreachable",
		}
	}
	return value.(TransactionDetail)
}
