package consumer

import (
	"context"

	"commerce-core-go/internal/constants"
	"commerce-core-go/internal/event"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// SalesCounters 订单消费者依赖的销量计数操作
type SalesCounters interface {
	IncrementProductSalesCount(tx *gorm.DB, productID string, quantity int64) error
}

// OrderProcessor 订单副作用消费者：已支付订单落成商品销量计数。
// 订单状态本身由对账调度器推进，这里只消费它产生的事实。
type OrderProcessor struct {
	counters SalesCounters
	logger   zerolog.Logger
}

// NewOrderProcessor 创建订单副作用消费者
func NewOrderProcessor(counters SalesCounters, logger zerolog.Logger) *OrderProcessor {
	return &OrderProcessor{
		counters: counters,
		logger:   logger.With().Str("handler", constants.HandlerOrder).Logger(),
	}
}

// Name 实现Processor接口
func (p *OrderProcessor) Name() string {
	return constants.HandlerOrder
}

// Handle 应用订单事件的领域副作用
func (p *OrderProcessor) Handle(ctx context.Context, tx *gorm.DB, evt *event.Event) error {
	switch evt.Kind {
	case event.KindOrderPaid:
		if evt.Order.ProductID == "" {
			// 支付完成事件未必携带商品明细（对账路径产生的事件只有金额）
			p.logger.Debug().Str("order_id", evt.Order.OrderID).Msg("支付事件无商品明细，跳过销量计数")
			return nil
		}
		return p.counters.IncrementProductSalesCount(tx, evt.Order.ProductID, max64(evt.Order.Quantity, 1))
	case event.KindOrderCreated, event.KindOrderPaymentFailed:
		// 目前没有需要落库的副作用，保留分支便于观察
		p.logger.Debug().
			Str("order_id", evt.Order.OrderID).
			Str("event_type", evt.Envelope.EventType).
			Msg("订单事件无副作用")
		return nil
	default:
		p.logger.Debug().Str("event_type", evt.Envelope.EventType).Msg("订单消费者忽略事件")
		return nil
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
