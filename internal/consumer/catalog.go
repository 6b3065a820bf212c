package consumer

import (
	"context"
	"fmt"

	"commerce-core-go/internal/constants"
	"commerce-core-go/internal/event"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// ProductCounters 目录消费者依赖的商品计数操作
type ProductCounters interface {
	AdjustProductLikeCount(tx *gorm.DB, productID string, delta int64) error
	IncrementProductViewCount(tx *gorm.DB, productID string) error
}

// CatalogProcessor 目录副作用消费者：把浏览/点赞/取消点赞事件
// 落成商品表上的计数器变更。计数器增量可交换，天然容忍跨批次乱序。
type CatalogProcessor struct {
	counters ProductCounters
	logger   zerolog.Logger
}

// NewCatalogProcessor 创建目录副作用消费者
func NewCatalogProcessor(counters ProductCounters, logger zerolog.Logger) *CatalogProcessor {
	return &CatalogProcessor{
		counters: counters,
		logger:   logger.With().Str("handler", constants.HandlerCatalog).Logger(),
	}
}

// Name 实现Processor接口
func (p *CatalogProcessor) Name() string {
	return constants.HandlerCatalog
}

// Handle 应用目录事件的领域副作用
func (p *CatalogProcessor) Handle(ctx context.Context, tx *gorm.DB, evt *event.Event) error {
	switch evt.Kind {
	case event.KindProductViewed:
		return p.counters.IncrementProductViewCount(tx, evt.Product.ProductID)
	case event.KindProductLiked:
		return p.counters.AdjustProductLikeCount(tx, evt.Product.ProductID, 1)
	case event.KindProductUnliked:
		return p.counters.AdjustProductLikeCount(tx, evt.Product.ProductID, -1)
	case event.KindOrderCreated, event.KindOrderPaid, event.KindOrderPaymentFailed:
		// 订单事件不属于本消费者组，binding配置错误时会走到这里
		return fmt.Errorf("目录消费者收到订单事件: %s", evt.Envelope.EventType)
	default:
		p.logger.Debug().Str("event_type", evt.Envelope.EventType).Msg("目录消费者忽略事件")
		return nil
	}
}
