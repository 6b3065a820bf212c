package router

import (
	"context"
	"crypto/subtle"

	"commerce-core-go/internal/api/handler"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
)

// RegisterRoutes 注册 API 路由。运维接口组由 keyauth 中间件保护。
func RegisterRoutes(h *server.Hertz, rankingHandler *handler.RankingHandler, opsHandler *handler.OpsHandler, opsAPIKey string) {
	api := h.Group("/api/v1")

	api.GET("/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	rankings := api.Group("/rankings")
	{
		rankings.GET("/top", rankingHandler.HandleTopRanked)
		rankings.GET("/products/:product_id", rankingHandler.HandleProductRank)
	}

	ops := api.Group("/ops")
	ops.Use(keyauth.New(
		keyauth.WithKeyLookUp("header:X-API-Key", ""),
		keyauth.WithValidator(func(ctx context.Context, c *app.RequestContext, key string) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(opsAPIKey)) == 1, nil
		}),
	))
	{
		ops.GET("/outbox/stats", opsHandler.HandleOutboxStats)
		ops.POST("/outbox/:id/requeue", opsHandler.HandleRequeueOutbox)
		ops.GET("/orders/failed/count", opsHandler.HandleFailedOrdersCount)
	}
}
