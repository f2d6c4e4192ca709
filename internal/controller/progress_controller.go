package controller

import (
	"learning_platform_backend/internal/service"
	"learning_platform_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type ProgressController struct {
	ProgressService *service.ProgressService
}

func NewProgressController(progressService *service.ProgressService) *ProgressController {
	return &ProgressController{ProgressService: progressService}
}

// chapterParams 解析 courseId 与 chapterId
func chapterParams(ctx *gin.Context) (userID, courseID, chapterID uint, ok bool) {
	user, ok := currentUser(ctx)
	if !ok {
		return 0, 0, 0, false
	}
	if courseID, ok = pathID(ctx, "courseId"); !ok {
		return 0, 0, 0, false
	}
	if chapterID, ok = pathID(ctx, "chapterId"); !ok {
		return 0, 0, 0, false
	}
	return user.UserID, courseID, chapterID, true
}

// @Summary 课程学习进度
// @Tags 学习进度
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Success 200 {object} util.Response
// @Router /api/courses/{courseId}/progress [get]
func (c *ProgressController) GetCourseProgress(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	courseID, ok := pathID(ctx, "courseId")
	if !ok {
		return
	}
	view, err := c.ProgressService.GetCourseProgress(ctx.Request.Context(), user.UserID, courseID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, view)
}

// @Summary 开始章节
// @Tags 学习进度
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Param chapterId path int true "章节ID"
// @Success 200 {object} util.Response
// @Router /api/courses/{courseId}/chapters/{chapterId}/start [post]
func (c *ProgressController) StartChapter(ctx *gin.Context) {
	userID, courseID, chapterID, ok := chapterParams(ctx)
	if !ok {
		return
	}
	result, err := c.ProgressService.StartChapter(ctx.Request.Context(), userID, courseID, chapterID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

type watchRequest struct {
	Rate *int `json:"rate" binding:"required"`
}

// @Summary 上报观看进度
// @Tags 学习进度
// @Security BearerAuth
// @Accept json
// @Param courseId path int true "课程ID"
// @Param chapterId path int true "章节ID"
// @Param body body watchRequest true "观看进度 0-100"
// @Success 200 {object} util.Response
// @Router /api/courses/{courseId}/chapters/{chapterId}/watch [post]
func (c *ProgressController) RecordWatch(ctx *gin.Context) {
	userID, courseID, chapterID, ok := chapterParams(ctx)
	if !ok {
		return
	}
	var req watchRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	result, err := c.ProgressService.RecordWatchProgress(ctx.Request.Context(), userID, courseID, chapterID, *req.Rate)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

type submissionRequest struct {
	Content string `json:"content" binding:"required"`
}

// @Summary 提交章节任务
// @Tags 学习进度
// @Security BearerAuth
// @Accept json
// @Param courseId path int true "课程ID"
// @Param chapterId path int true "章节ID"
// @Param body body submissionRequest true "提交内容"
// @Success 200 {object} util.Response
// @Router /api/courses/{courseId}/chapters/{chapterId}/submissions [post]
func (c *ProgressController) Submit(ctx *gin.Context) {
	userID, courseID, chapterID, ok := chapterParams(ctx)
	if !ok {
		return
	}
	var req submissionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	result, err := c.ProgressService.RecordSubmission(ctx.Request.Context(), userID, courseID, chapterID, req.Content)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// @Summary 提交记录
// @Tags 学习进度
// @Security BearerAuth
// @Router /api/courses/{courseId}/chapters/{chapterId}/submissions [get]
func (c *ProgressController) ListSubmissions(ctx *gin.Context) {
	userID, courseID, chapterID, ok := chapterParams(ctx)
	if !ok {
		return
	}
	list, err := c.ProgressService.ListSubmissions(ctx.Request.Context(), userID, courseID, chapterID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, list)
}

// @Summary 检查章节是否超时
// @Tags 学习进度
// @Security BearerAuth
// @Router /api/courses/{courseId}/chapters/{chapterId}/timeout [get]
func (c *ProgressController) CheckTimeout(ctx *gin.Context) {
	userID, courseID, chapterID, ok := chapterParams(ctx)
	if !ok {
		return
	}
	result, err := c.ProgressService.CheckTimeout(ctx.Request.Context(), userID, courseID, chapterID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, result)
}
