package router

import (
	"github.com/gin-gonic/gin"

	"selene.app/actioncore/internal/http/handler"
)

func PlanRouter(rg *gin.RouterGroup, h *handler.PlanHandler) {
	rg.GET("/operator-required", h.ListOperatorRequired)
	rg.GET("/:id", h.Get)
	rg.POST("/:id/advance", h.Advance)
	rg.POST("/:id/cancel", h.Cancel)
	rg.GET("/:id/replay", h.Replay)
}
