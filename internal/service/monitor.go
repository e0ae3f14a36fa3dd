package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/metacubex/mihomo/log"

	"netwatch/internal/adapter/pinger"
	"netwatch/internal/adapter/speedtester"
	"netwatch/internal/eventbus"
	"netwatch/internal/health"
	"netwatch/internal/history"
	"netwatch/internal/metrics"
	"netwatch/internal/model"
	"netwatch/internal/presentation"
	"netwatch/internal/service/task"
)

// ErrProbeRunning 同类型探测尚未结束
var ErrProbeRunning = errors.New("probe already running")

// BandwidthProber 带宽探测，由speedtester.Chain实现
type BandwidthProber interface {
	Run(ctx context.Context) speedtester.Result
}

// Options 运行参数
type Options struct {
	Target           string
	PingTimeout      time.Duration
	BandwidthCapable bool
	// MaxPoints 内存中每类保留的记录数，0表示不限
	MaxPoints int
}

// LatestSnapshot 最新样本与状态
type LatestSnapshot struct {
	Latency          *model.Measurement `json:"latency"`
	Bandwidth        *model.Measurement `json:"bandwidth"`
	Status           model.HealthStatus `json:"status"`
	Label            string             `json:"label"`
	Color            string             `json:"color"`
	BandwidthCapable bool               `json:"bandwidth_capable"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Monitor 测量状态的唯一持有者，按顺序执行 追加→判定→落盘→展示→事件
type Monitor struct {
	opts      Options
	pinger    pinger.Pinger
	bandwidth BandwidthProber
	store     history.Store
	presenter presentation.Presenter
	bus       eventbus.EventBus
	tasks     task.TaskManager
	now       func() time.Time
	newRunID  func() string

	// publishMu 保证落盘顺序与内存顺序一致
	publishMu sync.Mutex

	mu               sync.RWMutex
	latencyHistory   []model.Measurement
	bandwidthHistory []model.Measurement
	status           model.HealthStatus
	lastTimestamp    time.Time
	updatedAt        time.Time
}

// NewMonitor 创建测量服务，store、presenter、bus可以为nil
func NewMonitor(
	opts Options,
	p pinger.Pinger,
	bandwidth BandwidthProber,
	store history.Store,
	presenter presentation.Presenter,
	bus eventbus.EventBus,
	tasks task.TaskManager,
) *Monitor {
	if store == nil {
		store = history.NewMultiStore()
	}
	if presenter == nil {
		presenter = presentation.NewMultiPresenter()
	}
	if tasks == nil {
		tasks = task.NewTaskManager()
	}
	return &Monitor{
		opts:      opts,
		pinger:    p,
		bandwidth: bandwidth,
		store:     store,
		presenter: presenter,
		bus:       bus,
		tasks:     tasks,
		now:       time.Now,
		newRunID:  uuid.NewString,
		status:    model.HealthStatusUnknown,
	}
}

// ProbeLatency 执行一次延迟探测并记录
func (m *Monitor) ProbeLatency(ctx context.Context) (model.Measurement, error) {
	ctx, ok := m.tasks.StartTask(ctx, task.TaskTypeLatencyProbe)
	if !ok {
		return model.Measurement{}, ErrProbeRunning
	}

	started := m.now()
	outcome := m.pinger.Ping(ctx, m.opts.Target, m.opts.PingTimeout)
	elapsed := m.now().Sub(started)
	if errors.Is(ctx.Err(), context.Canceled) {
		m.tasks.FinishTask(task.TaskTypeLatencyProbe, ctx.Err())
		return model.Measurement{}, ctx.Err()
	}
	if !outcome.OK() {
		log.Warnln("ping %s failed (%s): %v", m.opts.Target, outcome.Reason, outcome.Err)
	}

	rec := m.record(model.NewLatencyMeasurement(m.newRunID(), started, outcome), elapsed)
	m.tasks.FinishTask(task.TaskTypeLatencyProbe, outcome.Err)
	return rec, nil
}

// ProbeBandwidth 执行一次带宽探测并记录
func (m *Monitor) ProbeBandwidth(ctx context.Context) (model.Measurement, error) {
	ctx, ok := m.tasks.StartTask(ctx, task.TaskTypeBandwidthProbe)
	if !ok {
		return model.Measurement{}, ErrProbeRunning
	}

	started := m.now()
	result := m.bandwidth.Run(ctx)
	elapsed := m.now().Sub(started)
	if errors.Is(ctx.Err(), context.Canceled) {
		m.tasks.FinishTask(task.TaskTypeBandwidthProbe, ctx.Err())
		return model.Measurement{}, ctx.Err()
	}
	if !result.Download.OK() {
		log.Warnln("download test failed (%s): %v", result.Download.Reason, result.Download.Err)
	}
	if !result.Upload.OK() {
		log.Warnln("upload test failed (%s): %v", result.Upload.Reason, result.Upload.Err)
	}

	rec := m.record(model.NewBandwidthMeasurement(m.newRunID(), started, result.Download, result.Upload), elapsed)
	m.tasks.FinishTask(task.TaskTypeBandwidthProbe, errors.Join(result.Download.Err, result.Upload.Err))
	return rec, nil
}

func (m *Monitor) record(rec model.Measurement, elapsed time.Duration) model.Measurement {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.mu.Lock()
	ts := m.now()
	if ts.Before(m.lastTimestamp) {
		ts = m.lastTimestamp
	}
	rec.Timestamp = ts
	m.lastTimestamp = ts
	m.updatedAt = ts

	switch rec.Kind {
	case model.MeasurementKindLatency:
		m.latencyHistory = m.appendBounded(m.latencyHistory, rec)
	case model.MeasurementKindBandwidth:
		m.bandwidthHistory = m.appendBounded(m.bandwidthHistory, rec)
	}
	previous := m.status
	m.status = health.Evaluate(m.inputLocked())
	status := m.status
	frame := m.frameLocked()
	m.mu.Unlock()

	if err := m.store.Append(rec); err != nil {
		log.Errorln("append history: %v", err)
	}
	if err := m.presenter.Render(frame); err != nil {
		log.Warnln("render: %v", err)
	}
	metrics.ObserveMeasurement(rec, elapsed)
	metrics.SetStatus(status)
	m.publish(eventbus.NewMeasurementRecordedEvent(rec, status))
	if previous != status {
		m.publish(eventbus.NewStatusChangedEvent(previous, status, ts))
	}
	return rec
}

func (m *Monitor) appendBounded(list []model.Measurement, rec model.Measurement) []model.Measurement {
	list = append(list, rec)
	if m.opts.MaxPoints > 0 && len(list) > m.opts.MaxPoints {
		list = append([]model.Measurement(nil), list[len(list)-m.opts.MaxPoints:]...)
	}
	return list
}

func (m *Monitor) publish(event eventbus.Event) {
	if m.bus == nil {
		return
	}
	_ = m.bus.Publish(event)
}

// ClearHistory 清空内存历史和存储，状态回到unknown，不影响调度
func (m *Monitor) ClearHistory() error {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.mu.Lock()
	m.latencyHistory = nil
	m.bandwidthHistory = nil
	previous := m.status
	m.status = model.HealthStatusUnknown
	m.updatedAt = m.now()
	at := m.updatedAt
	frame := m.frameLocked()
	m.mu.Unlock()

	err := m.store.Reset()
	if err != nil {
		log.Errorln("reset history: %v", err)
	}
	if renderErr := m.presenter.Render(frame); renderErr != nil {
		log.Warnln("render: %v", renderErr)
	}
	metrics.HistoryClearsTotal.Inc()
	metrics.SetStatus(model.HealthStatusUnknown)
	log.Infoln("history cleared")

	m.publish(eventbus.NewHistoryClearedEvent(at))
	if previous != model.HealthStatusUnknown {
		m.publish(eventbus.NewStatusChangedEvent(previous, model.HealthStatusUnknown, at))
	}
	return err
}

// Status 当前状态
func (m *Monitor) Status() model.HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// BandwidthCapable 是否判定带宽
func (m *Monitor) BandwidthCapable() bool {
	return m.opts.BandwidthCapable
}

// Latest 最新样本与状态
func (m *Monitor) Latest() LatestSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return LatestSnapshot{
		Latency:          lastOf(m.latencyHistory),
		Bandwidth:        lastOf(m.bandwidthHistory),
		Status:           m.status,
		Label:            m.status.Label(),
		Color:            m.status.Color(),
		BandwidthCapable: m.opts.BandwidthCapable,
		UpdatedAt:        m.updatedAt,
	}
}

// History 内存中的历史副本，kind为空时按时间合并两类，limit<=0表示全部
func (m *Monitor) History(kind model.MeasurementKind, limit int) []model.Measurement {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Measurement
	switch kind {
	case model.MeasurementKindLatency:
		out = append(out, m.latencyHistory...)
	case model.MeasurementKindBandwidth:
		out = append(out, m.bandwidthHistory...)
	default:
		out = mergeByTimestamp(m.latencyHistory, m.bandwidthHistory)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Frame 当前展示快照
func (m *Monitor) Frame() presentation.Frame {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frameLocked()
}

// Summary 内存历史的统计摘要
func (m *Monitor) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Summarize(m.latencyHistory, m.bandwidthHistory)
}

func (m *Monitor) inputLocked() health.Input {
	return health.FromLatest(lastOf(m.latencyHistory), lastOf(m.bandwidthHistory), m.opts.BandwidthCapable)
}

func (m *Monitor) frameLocked() presentation.Frame {
	return presentation.BuildFrame(m.latencyHistory, m.bandwidthHistory, m.status, m.updatedAt)
}

func lastOf(list []model.Measurement) *model.Measurement {
	if len(list) == 0 {
		return nil
	}
	last := list[len(list)-1]
	return &last
}

func mergeByTimestamp(a, b []model.Measurement) []model.Measurement {
	out := make([]model.Measurement, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if b[j].Timestamp.Before(a[i].Timestamp) {
			out = append(out, b[j])
			j++
		} else {
			out = append(out, a[i])
			i++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}
