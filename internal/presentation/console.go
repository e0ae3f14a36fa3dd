package presentation

import (
	"fmt"
	"strconv"

	"github.com/guregu/null/v5"
	"github.com/metacubex/mihomo/log"

	"netwatch/internal/model"
)

// ConsolePresenter 每次更新输出一行状态
type ConsolePresenter struct {
	printf func(format string, args ...any)
}

// NewConsolePresenter 输出到日志
func NewConsolePresenter() *ConsolePresenter {
	return &ConsolePresenter{printf: log.Infoln}
}

// Render 输出状态行
func (c *ConsolePresenter) Render(frame Frame) error {
	c.printf("%s", StatusLine(frame))
	return nil
}

// StatusLine 形如 "Ping: 23.45 ms | Download: – Mbps | Upload: – Mbps | Status: ✅ OK"
func StatusLine(frame Frame) string {
	label := frame.Label
	if label == "" {
		label = model.Placeholder
	}
	return fmt.Sprintf("Ping: %s ms | Download: %s Mbps | Upload: %s Mbps | Status: %s",
		display(frame.LatestLatency), display(frame.LatestDownload), display(frame.LatestUpload), label)
}

func display(v null.Float) string {
	if !v.Valid {
		return model.Placeholder
	}
	return strconv.FormatFloat(v.Float64, 'f', 2, 64)
}
