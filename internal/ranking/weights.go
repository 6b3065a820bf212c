package ranking // 商品热度榜：事件加权聚合与每日结转

import "commerce-core-go/internal/config"

// WeightPolicy 打分权重策略。具体数值是可插拔的业务策略，
// 聚合管道本身不关心权重怎么来。
type WeightPolicy interface {
	// ViewScore 一次浏览的分数贡献
	ViewScore() float64

	// LikeScore 一次点赞的分数贡献；取消点赞贡献其相反数
	LikeScore() float64

	// OrderScore 一笔已支付订单的分数贡献
	OrderScore(unitPrice, quantity int64) float64
}

// ConfigWeights 从配置读取权重的默认策略
type ConfigWeights struct {
	view  float64
	like  float64
	order float64
}

// 确保ConfigWeights实现了WeightPolicy接口
var _ WeightPolicy = (*ConfigWeights)(nil)

// NewConfigWeights 创建配置驱动的权重策略
func NewConfigWeights(cfg *config.RankingConfig) *ConfigWeights {
	return &ConfigWeights{
		view:  cfg.ViewWeight,
		like:  cfg.LikeWeight,
		order: cfg.OrderWeight,
	}
}

// ViewScore 实现WeightPolicy接口
func (w *ConfigWeights) ViewScore() float64 {
	return w.view
}

// LikeScore 实现WeightPolicy接口
func (w *ConfigWeights) LikeScore() float64 {
	return w.like
}

// OrderScore 订单贡献 = 权重 × 成交额（元）
func (w *ConfigWeights) OrderScore(unitPrice, quantity int64) float64 {
	if quantity <= 0 {
		quantity = 1
	}
	return w.order * float64(unitPrice*quantity) / 100.0
}
