package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"netwatch/internal/model"
	"netwatch/internal/scheduler"
	"netwatch/internal/service"
	"netwatch/internal/service/task"
)

// ProbeTrigger 手动触发探测
type ProbeTrigger interface {
	RunNow(taskType task.TaskType) error
}

// RunProbeRequest 手动探测请求
type RunProbeRequest struct {
	Kind string `json:"kind" binding:"required"` // latency 或 bandwidth
}

// RunProbe 立即触发一次探测，结果通过status/ws获取
func RunProbe(trigger ProbeTrigger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RunProbeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "无效的请求参数，必须指定kind")
			return
		}

		var taskType task.TaskType
		switch model.MeasurementKind(req.Kind) {
		case model.MeasurementKindLatency:
			taskType = task.TaskTypeLatencyProbe
		case model.MeasurementKindBandwidth:
			taskType = task.TaskTypeBandwidthProbe
		default:
			fail(c, http.StatusBadRequest, "Invalid kind: "+req.Kind)
			return
		}

		err := trigger.RunNow(taskType)
		switch {
		case errors.Is(err, service.ErrProbeRunning):
			fail(c, http.StatusConflict, "探测正在进行中")
			return
		case errors.Is(err, scheduler.ErrNotRunning):
			fail(c, http.StatusServiceUnavailable, "调度器未运行")
			return
		case err != nil:
			fail(c, http.StatusInternalServerError, "触发探测失败: "+err.Error())
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"result":      "success",
			"status_code": http.StatusAccepted,
			"status_msg":  "探测已启动",
			"task_type":   taskType,
		})
	}
}
