package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"netwatch/internal/service/task"
)

// GetTaskStatusReq 查询任务状态参数
type GetTaskStatusReq struct {
	TaskType task.TaskType `form:"task_type" binding:"required"`
}

// GetTaskStatus 获取指定探测任务的状态
func GetTaskStatus(manager task.TaskManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req GetTaskStatusReq
		if err := c.ShouldBindQuery(&req); err != nil {
			fail(c, http.StatusBadRequest, "Invalid request parameters")
			return
		}
		status := manager.GetStatus(req.TaskType)
		if status == nil {
			fail(c, http.StatusNotFound, "任务尚未运行过")
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// GetAllTaskStatus 获取全部探测任务状态
func GetAllTaskStatus(manager task.TaskManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, manager.GetAllStatus())
	}
}
