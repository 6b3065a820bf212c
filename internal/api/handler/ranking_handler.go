package handler

import (
	"context"
	"strconv"
	"time"

	"commerce-core-go/internal/constants"
	"commerce-core-go/internal/ranking"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog"
)

const (
	defaultTopLimit = 10
	maxTopLimit     = 100
)

// RankingHandler 处理商品热度榜单的查询请求。
type RankingHandler struct {
	aggregator *ranking.Aggregator
	logger     zerolog.Logger
}

// NewRankingHandler 创建一个新的 RankingHandler 实例。
func NewRankingHandler(aggregator *ranking.Aggregator, logger zerolog.Logger) *RankingHandler {
	return &RankingHandler{
		aggregator: aggregator,
		logger:     logger,
	}
}

// HandleTopRanked 返回指定日期的热度Top-N商品。
// GET /api/v1/rankings/top?date=20260828&limit=10
func (h *RankingHandler) HandleTopRanked(ctx context.Context, c *app.RequestContext) {
	day, err := h.parseDay(c)
	if err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "date 格式必须为 " + constants.RankingDayLayout})
		return
	}

	limit := int64(defaultTopLimit)
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "limit 必须是正整数"})
			return
		}
		if n > maxTopLimit {
			n = maxTopLimit
		}
		limit = n
	}

	entries, err := h.aggregator.TopN(ctx, day, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("date", day.Format(constants.RankingDayLayout)).Msg("查询热度榜单失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "查询榜单失败"})
		return
	}

	c.JSON(consts.StatusOK, utils.H{
		"date":    day.Format(constants.RankingDayLayout),
		"entries": entries,
	})
}

// HandleProductRank 返回单个商品在指定日期榜单中的名次与分数。
// GET /api/v1/rankings/products/:product_id?date=20260828
func (h *RankingHandler) HandleProductRank(ctx context.Context, c *app.RequestContext) {
	productID := c.Param("product_id")
	if productID == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "product_id 不能为空"})
		return
	}

	day, err := h.parseDay(c)
	if err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "date 格式必须为 " + constants.RankingDayLayout})
		return
	}

	entry, err := h.aggregator.ProductRank(ctx, day, productID)
	if err != nil {
		h.logger.Error().Err(err).Str("product_id", productID).Msg("查询商品榜单名次失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "查询名次失败"})
		return
	}
	if entry == nil {
		c.JSON(consts.StatusNotFound, utils.H{"error": "商品不在当日榜单中"})
		return
	}

	c.JSON(consts.StatusOK, entry)
}

// parseDay 解析 date 查询参数，缺省时使用当天。
func (h *RankingHandler) parseDay(c *app.RequestContext) (time.Time, error) {
	raw := c.Query("date")
	if raw == "" {
		return time.Now(), nil
	}
	return time.Parse(constants.RankingDayLayout, raw)
}
