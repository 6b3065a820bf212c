package ranking

import (
	"context"
	"time"

	"commerce-core-go/internal/constants"
	"commerce-core-go/internal/event"
	"commerce-core-go/internal/storage"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// ScoreStore 榜单存储操作，由Redis有序集合实现
type ScoreStore interface {
	IncrRankingScore(ctx context.Context, day time.Time, productID string, delta float64, ttl time.Duration) error
	TopRankedProducts(ctx context.Context, day time.Time, n int64) ([]storage.ScoredProduct, error)
	ProductRank(ctx context.Context, day time.Time, productID string) (*storage.ScoredProduct, error)
}

// Aggregator 榜单聚合器。作为幂等消费者的一个实例消费目录与订单
// 事件，把加权分数贡献原子累加到当日榜单。
//
// 注意已接受的放宽：Redis累加不在批次的数据库事务内，事务回滚后的
// 重投递可能让同一事件的分数贡献短暂地应用两次。榜单是近似热度的
// 展示数据，不是账务数据。
type Aggregator struct {
	store   ScoreStore
	weights WeightPolicy
	ttl     time.Duration
	logger  zerolog.Logger
	now     func() time.Time // 测试注入
}

// NewAggregator 创建榜单聚合器
func NewAggregator(store ScoreStore, weights WeightPolicy, ttl time.Duration, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		store:   store,
		weights: weights,
		ttl:     ttl,
		logger:  logger.With().Str("handler", constants.HandlerRanking).Logger(),
		now:     time.Now,
	}
}

// Name 实现consumer.Processor接口
func (a *Aggregator) Name() string {
	return constants.HandlerRanking
}

// Handle 把事件换算成分数贡献并累加到当日榜单
func (a *Aggregator) Handle(ctx context.Context, tx *gorm.DB, evt *event.Event) error {
	productID, delta := a.contribution(evt)
	if productID == "" || delta == 0 {
		return nil
	}
	return a.store.IncrRankingScore(ctx, a.now(), productID, delta, a.ttl)
}

// contribution 计算事件的商品与分数贡献。不产生贡献的事件返回空商品ID。
func (a *Aggregator) contribution(evt *event.Event) (string, float64) {
	switch evt.Kind {
	case event.KindProductViewed:
		return evt.Product.ProductID, a.weights.ViewScore()
	case event.KindProductLiked:
		return evt.Product.ProductID, a.weights.LikeScore()
	case event.KindProductUnliked:
		// 取消点赞贡献负分，榜单分数可以下降
		return evt.Product.ProductID, -a.weights.LikeScore()
	case event.KindOrderPaid:
		if evt.Order.ProductID == "" {
			return "", 0
		}
		return evt.Order.ProductID, a.weights.OrderScore(evt.Order.UnitPrice, evt.Order.Quantity)
	default:
		return "", 0
	}
}

// TopN 返回某日榜单的前n名，名次按位置从1起分配
func (a *Aggregator) TopN(ctx context.Context, day time.Time, n int64) ([]storage.ScoredProduct, error) {
	return a.store.TopRankedProducts(ctx, day, n)
}

// ProductRank 返回单个商品的名次与分数，不在榜时返回nil
func (a *Aggregator) ProductRank(ctx context.Context, day time.Time, productID string) (*storage.ScoredProduct, error) {
	return a.store.ProductRank(ctx, day, productID)
}
