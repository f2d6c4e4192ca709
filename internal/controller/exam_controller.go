package controller

import (
	"learning_platform_backend/internal/service"
	"learning_platform_backend/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

type ExamController struct {
	ExamService *service.ExamService
}

func NewExamController(examService *service.ExamService) *ExamController {
	return &ExamController{ExamService: examService}
}

// @Summary 期末考试状态
// @Tags 期末考试
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Param chapterId path int true "章节ID"
// @Success 200 {object} util.Response
// @Router /api/courses/{courseId}/chapters/{chapterId}/exam [get]
func (c *ExamController) GetExam(ctx *gin.Context) {
	userID, courseID, chapterID, ok := chapterParams(ctx)
	if !ok {
		return
	}
	state, err := c.ExamService.GetExamState(ctx.Request.Context(), userID, courseID, chapterID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, state)
}

// @Summary 提交考试大题
// @Tags 期末考试
// @Security BearerAuth
// @Accept json
// @Param courseId path int true "课程ID"
// @Param chapterId path int true "章节ID"
// @Param section path int true "大题序号（从 0 开始）"
// @Param body body submissionRequest true "作答内容"
// @Success 200 {object} util.Response
// @Router /api/courses/{courseId}/chapters/{chapterId}/exam/sections/{section} [post]
func (c *ExamController) SubmitSection(ctx *gin.Context) {
	userID, courseID, chapterID, ok := chapterParams(ctx)
	if !ok {
		return
	}
	section, err := strconv.Atoi(ctx.Param("section"))
	if err != nil {
		util.BadRequest(ctx, "invalid section")
		return
	}
	var req submissionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	result, err := c.ExamService.SubmitSection(ctx.Request.Context(), userID, courseID, chapterID, section, req.Content)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, result)
}
