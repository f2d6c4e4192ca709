package controller

import (
	"learning_platform_backend/internal/service"
	"learning_platform_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type CourseController struct {
	CourseService *service.CourseService
}

func NewCourseController(courseService *service.CourseService) *CourseController {
	return &CourseController{CourseService: courseService}
}

// @Summary 我的课程列表
// @Tags 课程
// @Security BearerAuth
// @Produce json
// @Success 200 {object} util.Response
// @Router /api/courses [get]
func (c *CourseController) ListCourses(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	list, err := c.CourseService.ListCourses(ctx.Request.Context(), user.UserID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, list)
}

// @Summary 开始学习课程
// @Tags 课程
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Success 200 {object} util.Response
// @Router /api/courses/{courseId}/activate [post]
func (c *CourseController) ActivateCourse(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	courseID, ok := pathID(ctx, "courseId")
	if !ok {
		return
	}
	en, err := c.CourseService.ActivateCourse(ctx.Request.Context(), user.UserID, courseID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, en)
}

// @Summary 切换当前课程
// @Tags 课程
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Success 200 {object} util.Response
// @Router /api/courses/{courseId}/select [post]
func (c *CourseController) SelectCourse(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	courseID, ok := pathID(ctx, "courseId")
	if !ok {
		return
	}
	en, err := c.CourseService.SelectCourse(ctx.Request.Context(), user.UserID, courseID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, en)
}

// @Summary 重置课程
// @Tags 课程
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Success 200 {object} util.Response
// @Router /api/courses/{courseId}/format [post]
func (c *CourseController) FormatCourse(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	courseID, ok := pathID(ctx, "courseId")
	if !ok {
		return
	}
	en, err := c.CourseService.FormatCourse(ctx.Request.Context(), user.UserID, courseID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, en)
}

// @Summary 检查课程是否超时
// @Tags 课程
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Success 200 {object} util.Response
// @Router /api/courses/{courseId}/timeout [get]
func (c *CourseController) CheckTimeout(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	courseID, ok := pathID(ctx, "courseId")
	if !ok {
		return
	}
	res, err := c.CourseService.CheckCourseTimeout(ctx.Request.Context(), user.UserID, courseID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, res)
}

// @Summary 成绩与 GPA
// @Tags 课程
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/grades [get]
func (c *CourseController) GetGrades(ctx *gin.Context) {
	user, ok := currentUser(ctx)
	if !ok {
		return
	}
	report, err := c.CourseService.GetGPA(ctx.Request.Context(), user.UserID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, report)
}

type grantRequest struct {
	UserID   uint `json:"userId" binding:"required"`
	CourseID uint `json:"courseId" binding:"required"`
}

// @Summary 为学员开放课程
// @Tags 课程管理
// @Security BearerAuth
// @Accept json
// @Param body body grantRequest true "学员与课程"
// @Success 201 {object} util.Response
// @Router /api/admin/enrollments [post]
func (c *CourseController) GrantCourse(ctx *gin.Context) {
	var req grantRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	en, err := c.CourseService.GrantCourse(ctx.Request.Context(), req.UserID, req.CourseID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Created(ctx, en)
}

// @Summary 手动判定课程超时
// @Tags 课程管理
// @Security BearerAuth
// @Param userId path int true "学员ID"
// @Param courseId path int true "课程ID"
// @Success 200 {object} util.Response
// @Router /api/admin/users/{userId}/courses/{courseId}/timeout [post]
func (c *CourseController) HandleTimeout(ctx *gin.Context) {
	userID, ok := pathID(ctx, "userId")
	if !ok {
		return
	}
	courseID, ok := pathID(ctx, "courseId")
	if !ok {
		return
	}
	en, err := c.CourseService.HandleTimeout(ctx.Request.Context(), userID, courseID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, en)
}

// @Summary 重新执行结业处理
// @Tags 课程管理
// @Security BearerAuth
// @Param userId path int true "学员ID"
// @Param courseId path int true "课程ID"
// @Success 200 {object} util.Response
// @Router /api/admin/users/{userId}/courses/{courseId}/complete [post]
func (c *CourseController) CompleteCourse(ctx *gin.Context) {
	userID, ok := pathID(ctx, "userId")
	if !ok {
		return
	}
	courseID, ok := pathID(ctx, "courseId")
	if !ok {
		return
	}
	out, err := c.CourseService.HandleCourseCompletion(ctx.Request.Context(), userID, courseID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, out)
}
