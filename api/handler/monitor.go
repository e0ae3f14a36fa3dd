package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"netwatch/internal/model"
	"netwatch/internal/service"
)

// Monitor 处理器依赖的测量服务
type Monitor interface {
	Latest() service.LatestSnapshot
	History(kind model.MeasurementKind, limit int) []model.Measurement
	Summary() service.Summary
	ClearHistory() error
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{
		"result":      "fail",
		"status_code": status,
		"status_msg":  msg,
	})
}

// GetStatus 获取最新样本与健康状态
func GetStatus(monitor Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"result":      "success",
			"status_code": http.StatusOK,
			"data":        monitor.Latest(),
		})
	}
}

// GetSummary 获取历史统计
func GetSummary(monitor Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"result":      "success",
			"status_code": http.StatusOK,
			"data":        monitor.Summary(),
		})
	}
}

// ClearHistory 清空历史，调度不受影响
func ClearHistory(monitor Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := monitor.ClearHistory(); err != nil {
			fail(c, http.StatusInternalServerError, "清空历史失败: "+err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"result":      "success",
			"status_code": http.StatusOK,
			"status_msg":  "历史已清空",
		})
	}
}
