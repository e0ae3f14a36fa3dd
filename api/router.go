package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"netwatch/api/handler"
	"netwatch/api/middleware"
	"netwatch/internal/metrics"
	"netwatch/internal/repository"
	"netwatch/internal/scheduler"
	"netwatch/internal/service"
	"netwatch/internal/service/task"
)

// Scheduler 路由需要的调度器能力
type Scheduler interface {
	handler.ProbeTrigger
	GetStatus() map[string]interface{}
}

// Dependencies 路由依赖
type Dependencies struct {
	Monitor     handler.Monitor
	TaskManager task.TaskManager
	Scheduler   Scheduler
	Hub         http.Handler
	Repository  repository.MeasurementRepository // 可以为nil
}

// SetupRouter 由服务集合设置API路由
func SetupRouter(services *service.Services, sched *scheduler.Scheduler) *gin.Engine {
	deps := Dependencies{
		Monitor:     services.Monitor,
		TaskManager: services.TaskManager,
		Scheduler:   sched,
		Hub:         services.Hub,
	}
	if services.Repositories != nil {
		deps.Repository = services.Repositories.Measurement
	}
	return NewRouter(deps)
}

// NewRouter 设置API路由
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(middleware.Logger())
	router.Use(middleware.Recovery())

	apiGroup := router.Group("/api/v1")
	{
		apiGroup.GET("/status", handler.GetStatus(deps.Monitor))
		apiGroup.GET("/history", handler.GetHistory(deps.Monitor, deps.Repository))
		apiGroup.GET("/summary", handler.GetSummary(deps.Monitor))
		apiGroup.POST("/history/clear", handler.ClearHistory(deps.Monitor))

		// 手动探测与任务控制
		apiGroup.POST("/probe", handler.RunProbe(deps.Scheduler))
		apiGroup.GET("/task_all_status", handler.GetAllTaskStatus(deps.TaskManager))
		apiGroup.GET("/get_task_status", handler.GetTaskStatus(deps.TaskManager))
		apiGroup.POST("/stop_task", handler.StopTask(deps.TaskManager))

		apiGroup.GET("/scheduler_status", func(c *gin.Context) {
			c.JSON(http.StatusOK, deps.Scheduler.GetStatus())
		})
	}

	router.GET("/ws", gin.WrapH(deps.Hub))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router
}
