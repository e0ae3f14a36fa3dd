package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"netwatch/internal/service/task"
)

// StopTaskRequest 停止任务请求
type StopTaskRequest struct {
	TaskType string `form:"task_type" json:"task_type" binding:"required"` // latency_probe 或 bandwidth_probe
	Wait     *bool  `form:"wait" json:"wait"`                              // 是否等待探测退出
}

// StopTask 取消运行中的探测，本次结果不会记录
func StopTask(taskManager task.TaskManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req StopTaskRequest

		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "无效的请求参数，必须指定task_type")
			return
		}

		taskType := task.TaskType(req.TaskType)
		if !taskManager.IsRunning(taskType) {
			fail(c, http.StatusNotFound, "指定的探测不存在或未在运行")
			return
		}

		// 默认等待探测退出，最多10秒
		wait := true
		if req.Wait != nil {
			wait = *req.Wait
		}

		cancelled, timedOut := taskManager.CancelTask(taskType, wait)
		if !cancelled {
			fail(c, http.StatusInternalServerError, "停止探测失败")
			return
		}

		msg := "探测已取消"
		if timedOut {
			msg = "探测已取消，但等待退出超时"
		}
		c.JSON(http.StatusOK, gin.H{
			"result":      "success",
			"status_code": http.StatusOK,
			"status_msg":  msg,
			"timed_out":   timedOut,
		})
	}
}
