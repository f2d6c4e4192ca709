package controller

import (
	"learning_platform_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// pathID 解析路径中的 ID，非法时直接返回 400
func pathID(ctx *gin.Context, name string) (uint, bool) {
	id, err := util.ParseID(ctx.Param(name))
	if err != nil {
		util.BadRequest(ctx, name+": "+err.Error())
		return 0, false
	}
	return id, true
}

// currentUser 未登录时返回 401
func currentUser(ctx *gin.Context) (*util.Claims, bool) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return nil, false
	}
	return user, true
}
