package presentation

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	lineColor   = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	chartWidth  = 8 * vg.Inch
	chartHeight = 3 * vg.Inch
)

// ChartPresenter 将三条曲线写为PNG，缺失值处断开
type ChartPresenter struct {
	dir string
}

// NewChartPresenter 创建输出目录
func NewChartPresenter(dir string) (*ChartPresenter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chart dir %s: %w", dir, err)
	}
	return &ChartPresenter{dir: dir}, nil
}

// Render 重绘 latency.png、download.png、upload.png
func (c *ChartPresenter) Render(frame Frame) error {
	charts := []struct {
		file   string
		title  string
		unit   string
		points []Point
	}{
		{"latency.png", "Latency (ms)", "ms", frame.Latency},
		{"download.png", "Download (Mbps)", "Mbps", frame.Download},
		{"upload.png", "Upload (Mbps)", "Mbps", frame.Upload},
	}
	for _, chart := range charts {
		p, err := newSeriesPlot(chart.title, chart.unit, chart.points)
		if err != nil {
			return fmt.Errorf("plot %s: %w", chart.file, err)
		}
		if err := p.Save(chartWidth, chartHeight, filepath.Join(c.dir, chart.file)); err != nil {
			return fmt.Errorf("save %s: %w", chart.file, err)
		}
	}
	return nil
}

func newSeriesPlot(title, unit string, points []Point) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "sample"
	p.Y.Label.Text = unit
	p.Add(plotter.NewGrid())

	for _, segment := range Segments(points) {
		line, err := plotter.NewLine(segment)
		if err != nil {
			return nil, err
		}
		line.Color = lineColor
		line.Width = vg.Points(2)
		p.Add(line)

		dots, err := plotter.NewScatter(segment)
		if err != nil {
			return nil, err
		}
		dots.Color = lineColor
		p.Add(dots)
	}
	return p, nil
}

// Segments 按缺失值切分为连续的折线段
func Segments(points []Point) []plotter.XYs {
	var segments []plotter.XYs
	var current plotter.XYs
	for _, pt := range points {
		if !pt.Value.Valid {
			if len(current) > 0 {
				segments = append(segments, current)
				current = nil
			}
			continue
		}
		current = append(current, plotter.XY{X: float64(pt.Index), Y: pt.Value.Float64})
	}
	if len(current) > 0 {
		segments = append(segments, current)
	}
	return segments
}
