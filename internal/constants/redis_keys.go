package constants

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// RankingModulePrefix 排行榜模块
	RankingModulePrefix = "ranking"

	// EntityProductScore 商品打分实体
	EntityProductScore = "product"

	// KeyDailyProductRanking 每日商品排行榜 (ZSET)
	// 格式: app:ranking:product:{yyyyMMdd}
	KeyDailyProductRanking = AppPrefix + ":" + RankingModulePrefix + ":" + EntityProductScore + ":%s"

	// RankingDayLayout 榜单日期的格式化布局
	RankingDayLayout = "20060102"
)
