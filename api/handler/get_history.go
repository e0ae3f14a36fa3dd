package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"netwatch/internal/model"
	"netwatch/internal/repository"
)

// GetHistoryRequest 历史查询参数
type GetHistoryRequest struct {
	Kind      string `form:"kind"`
	Limit     int    `form:"limit"`
	Source    string `form:"source"` // memory(默认) 或 db
	StartTime string `form:"start_time"`
	EndTime   string `form:"end_time"`
}

// GetHistory 查询历史记录，repo为nil时不支持source=db
func GetHistory(monitor Monitor, repo repository.MeasurementRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req GetHistoryRequest
		if err := c.ShouldBindQuery(&req); err != nil {
			fail(c, http.StatusBadRequest, "Invalid request parameters")
			return
		}
		if req.Limit < 0 {
			fail(c, http.StatusBadRequest, "limit must not be negative")
			return
		}

		kind := model.MeasurementKind(req.Kind)
		switch kind {
		case "", model.MeasurementKindLatency, model.MeasurementKindBandwidth:
		default:
			fail(c, http.StatusBadRequest, "Invalid kind: "+req.Kind)
			return
		}

		startTime, err := parseTime(req.StartTime)
		if err != nil {
			fail(c, http.StatusBadRequest, "Invalid start time format")
			return
		}
		endTime, err := parseTime(req.EndTime)
		if err != nil {
			fail(c, http.StatusBadRequest, "Invalid end time format")
			return
		}

		var history []model.Measurement
		switch req.Source {
		case "", "memory":
			req.Source = "memory"
			history = filterByTime(monitor.History(kind, 0), startTime, endTime)
			if req.Limit > 0 && len(history) > req.Limit {
				history = history[len(history)-req.Limit:]
			}
		case "db":
			if repo == nil {
				fail(c, http.StatusBadRequest, "Database is not enabled")
				return
			}
			rows, err := repo.Find(repository.MeasurementQuery{
				Kind:      kind,
				StartTime: startTime,
				EndTime:   endTime,
				Limit:     req.Limit,
			})
			if err != nil {
				fail(c, http.StatusInternalServerError, "Failed to fetch history: "+err.Error())
				return
			}
			history = make([]model.Measurement, len(rows))
			for i, row := range rows {
				history[i] = *row
			}
		default:
			fail(c, http.StatusBadRequest, "Invalid source: "+req.Source)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"result":      "success",
			"status_code": http.StatusOK,
			"data": gin.H{
				"kind":    kind,
				"source":  req.Source,
				"total":   len(history),
				"history": history,
			},
		})
	}
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}

func filterByTime(history []model.Measurement, start, end time.Time) []model.Measurement {
	if start.IsZero() && end.IsZero() {
		return history
	}
	filtered := history[:0]
	for _, m := range history {
		if !start.IsZero() && m.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && m.Timestamp.After(end) {
			continue
		}
		filtered = append(filtered, m)
	}
	return filtered
}
