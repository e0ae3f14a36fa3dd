package presentation

import (
	"errors"
	"time"

	"github.com/guregu/null/v5"

	"netwatch/internal/model"
)

// Point 图表上的一个点，横轴为样本序号
type Point struct {
	Index int        `json:"index"`
	Value null.Float `json:"value"`
}

// Frame 一次完整的展示快照
type Frame struct {
	Latency        []Point            `json:"latency"`
	Download       []Point            `json:"download"`
	Upload         []Point            `json:"upload"`
	LatestLatency  null.Float         `json:"latest_latency"`
	LatestDownload null.Float         `json:"latest_download"`
	LatestUpload   null.Float         `json:"latest_upload"`
	Status         model.HealthStatus `json:"status"`
	Label          string             `json:"label"`
	Color          string             `json:"color"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// BuildFrame 由两类历史和当前状态生成快照，缺失值保持为空
func BuildFrame(latency, bandwidth []model.Measurement, status model.HealthStatus, updatedAt time.Time) Frame {
	frame := Frame{
		Latency:   make([]Point, len(latency)),
		Download:  make([]Point, len(bandwidth)),
		Upload:    make([]Point, len(bandwidth)),
		Status:    status,
		Label:     status.Label(),
		Color:     status.Color(),
		UpdatedAt: updatedAt,
	}
	for i, m := range latency {
		frame.Latency[i] = Point{Index: i, Value: m.LatencyMs}
	}
	for i, m := range bandwidth {
		frame.Download[i] = Point{Index: i, Value: m.DownloadMbps}
		frame.Upload[i] = Point{Index: i, Value: m.UploadMbps}
	}
	if n := len(latency); n > 0 {
		frame.LatestLatency = latency[n-1].LatencyMs
	}
	if n := len(bandwidth); n > 0 {
		frame.LatestDownload = bandwidth[n-1].DownloadMbps
		frame.LatestUpload = bandwidth[n-1].UploadMbps
	}
	return frame
}

// Presenter 展示当前快照
type Presenter interface {
	Render(frame Frame) error
}

// MultiPresenter 依次调用多个Presenter
type MultiPresenter struct {
	presenters []Presenter
}

// NewMultiPresenter nil会被忽略
func NewMultiPresenter(presenters ...Presenter) *MultiPresenter {
	multi := &MultiPresenter{}
	for _, p := range presenters {
		if p != nil {
			multi.presenters = append(multi.presenters, p)
		}
	}
	return multi
}

// Render 调用全部Presenter并合并错误
func (m *MultiPresenter) Render(frame Frame) error {
	var errs []error
	for _, p := range m.presenters {
		if err := p.Render(frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
