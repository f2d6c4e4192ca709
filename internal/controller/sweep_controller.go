package controller

import (
	"learning_platform_backend/internal/service"
	"learning_platform_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type SweepController struct {
	Sweeper *service.TimeoutSweeper
}

func NewSweepController(sweeper *service.TimeoutSweeper) *SweepController {
	return &SweepController{Sweeper: sweeper}
}

// @Summary 立即执行超时巡检
// @Tags 课程管理
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/admin/timeouts/sweep [post]
func (c *SweepController) Run(ctx *gin.Context) {
	report, err := c.Sweeper.CheckAllTimeouts(ctx.Request.Context())
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, report)
}
