package handler

import (
	"context"
	"errors"
	"strconv"

	"commerce-core-go/internal/storage"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// OpsHandler 提供运维排障接口：发件箱积压统计、失败消息重投与失败订单计数。
type OpsHandler struct {
	mysql  *storage.MySQL
	logger zerolog.Logger
}

// NewOpsHandler 创建一个新的 OpsHandler 实例。
func NewOpsHandler(mysql *storage.MySQL, logger zerolog.Logger) *OpsHandler {
	return &OpsHandler{
		mysql:  mysql,
		logger: logger,
	}
}

// HandleOutboxStats 按状态统计发件箱记录数量。
// GET /api/v1/ops/outbox/stats
func (h *OpsHandler) HandleOutboxStats(ctx context.Context, c *app.RequestContext) {
	stats, err := h.mysql.CountOutboxByStatus(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("统计发件箱状态失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "统计失败"})
		return
	}
	c.JSON(consts.StatusOK, utils.H{"counts": stats})
}

// HandleRequeueOutbox 将一条终态失败的发件箱记录重置为待发布。
// POST /api/v1/ops/outbox/:id/requeue
func (h *OpsHandler) HandleRequeueOutbox(ctx context.Context, c *app.RequestContext) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "id 必须是数字"})
		return
	}

	if err := h.mysql.RequeueFailedOutbox(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(consts.StatusNotFound, utils.H{"error": "记录不存在或不处于失败状态"})
			return
		}
		h.logger.Error().Err(err).Uint64("outbox_id", id).Msg("重投发件箱记录失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "重投失败"})
		return
	}

	h.logger.Info().Uint64("outbox_id", id).Msg("发件箱记录已重置为待发布")
	c.JSON(consts.StatusOK, utils.H{"requeued": id})
}

// HandleFailedOrdersCount 返回处于失败状态的订单数量。
// GET /api/v1/ops/orders/failed/count
func (h *OpsHandler) HandleFailedOrdersCount(ctx context.Context, c *app.RequestContext) {
	count, err := h.mysql.CountFailedOrders(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("统计失败订单数量失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "统计失败"})
		return
	}
	c.JSON(consts.StatusOK, utils.H{"failed_orders": count})
}
