package task

import (
	"context"
	"errors"
	"sync"
	"time"
)

// TaskType 任务类型
type TaskType string

const (
	TaskTypeLatencyProbe   TaskType = "latency_probe"   // 延迟探测
	TaskTypeBandwidthProbe TaskType = "bandwidth_probe" // 带宽探测
)

// TaskState 任务状态
type TaskState int

const (
	TaskStateRunning   TaskState = iota // 运行中
	TaskStateFinished                   // 已完成
	TaskStateCancelled                  // 已取消
)

// String 状态名称
func (s TaskState) String() string {
	switch s {
	case TaskStateRunning:
		return "running"
	case TaskStateFinished:
		return "finished"
	case TaskStateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalText JSON中使用状态名称
func (s TaskState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TaskManager 任务管理器接口
type TaskManager interface {
	// StartTask 开始一个新任务，返回任务上下文和是否成功
	// 如果同类型任务已在运行，则返回(nil, false)
	StartTask(ctx context.Context, taskType TaskType) (context.Context, bool)

	// FinishTask 完成任务
	FinishTask(taskType TaskType, err error)

	// CancelTask 取消任务，如果wait为true则等待任务完成
	// 返回是否成功取消和是否因等待超时
	CancelTask(taskType TaskType, wait bool) (bool, bool)

	// CancelAll 取消全部运行中的任务，最多等待timeout
	CancelAll(timeout time.Duration)

	// IsRunning 检查指定类型的任务是否正在运行
	IsRunning(taskType TaskType) bool

	// IsAnyRunning 检查是否有任何任务正在运行
	IsAnyRunning() bool

	// GetStatus 获取任务状态
	GetStatus(taskType TaskType) *TaskStatus

	GetAllStatus() map[TaskType]*TaskStatus
}

// TaskStatus 任务状态
type TaskStatus struct {
	Type       TaskType      `json:"type"`
	State      TaskState     `json:"state"`
	StartTime  time.Time     `json:"start_time"`
	FinishTime *time.Time    `json:"finish_time,omitempty"`
	Duration   time.Duration `json:"duration"`
	Runs       int           `json:"runs"`    // 已启动次数
	Skipped    int           `json:"skipped"` // 因上一次未结束而跳过的次数
	Error      string        `json:"error,omitempty"`
}

// 内部任务结构
type taskInfo struct {
	status     TaskStatus
	cancelFunc context.CancelFunc
	doneChan   chan struct{}
}

// defaultTaskManager 默认任务管理器实现
type defaultTaskManager struct {
	mu    sync.RWMutex
	tasks map[TaskType]*taskInfo
	// cancelWait 取消后等待任务结束的上限
	cancelWait time.Duration
}

// NewTaskManager 创建任务管理器
func NewTaskManager() TaskManager {
	return &defaultTaskManager{
		tasks:      make(map[TaskType]*taskInfo),
		cancelWait: 10 * time.Second,
	}
}

// StartTask 开始一个新任务
func (m *defaultTaskManager) StartTask(ctx context.Context, taskType TaskType) (context.Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var runs, skipped int
	if task, exists := m.tasks[taskType]; exists {
		if task.status.State == TaskStateRunning {
			task.status.Skipped++
			return nil, false
		}
		runs, skipped = task.status.Runs, task.status.Skipped
	}

	ctx, cancelFunc := context.WithCancel(ctx)
	m.tasks[taskType] = &taskInfo{
		status: TaskStatus{
			Type:      taskType,
			State:     TaskStateRunning,
			StartTime: time.Now(),
			Runs:      runs + 1,
			Skipped:   skipped,
		},
		cancelFunc: cancelFunc,
		doneChan:   make(chan struct{}),
	}
	return ctx, true
}

// FinishTask 完成任务，err为context.Canceled时记为已取消
func (m *defaultTaskManager) FinishTask(taskType TaskType, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := TaskStateFinished
	if errors.Is(err, context.Canceled) {
		state = TaskStateCancelled
	}
	m.finishLocked(taskType, state, err)
}

func (m *defaultTaskManager) finishLocked(taskType TaskType, state TaskState, err error) {
	task, exists := m.tasks[taskType]
	if !exists || task.status.State != TaskStateRunning {
		return
	}

	now := time.Now()
	task.status.FinishTime = &now
	task.status.Duration = now.Sub(task.status.StartTime)
	task.status.State = state
	task.status.Error = ""
	if err != nil {
		task.status.Error = err.Error()
	}
	task.cancelFunc()
	close(task.doneChan)
}

// CancelTask 取消任务
func (m *defaultTaskManager) CancelTask(taskType TaskType, wait bool) (bool, bool) {
	m.mu.Lock()
	task, exists := m.tasks[taskType]
	if !exists || task.status.State != TaskStateRunning {
		m.mu.Unlock()
		return false, false
	}
	task.cancelFunc()
	doneChan := task.doneChan
	m.mu.Unlock()

	if !wait {
		return true, false
	}

	select {
	case <-doneChan:
		return true, false
	case <-time.After(m.cancelWait):
		m.mu.Lock()
		m.finishLocked(taskType, TaskStateCancelled, context.Canceled)
		m.mu.Unlock()
		return true, true
	}
}

// CancelAll 取消全部运行中的任务
func (m *defaultTaskManager) CancelAll(timeout time.Duration) {
	m.mu.Lock()
	var pending []chan struct{}
	for _, task := range m.tasks {
		if task.status.State == TaskStateRunning {
			task.cancelFunc()
			pending = append(pending, task.doneChan)
		}
	}
	m.mu.Unlock()

	deadline := time.After(timeout)
	for _, done := range pending {
		select {
		case <-done:
		case <-deadline:
			return
		}
	}
}

// IsRunning 检查指定类型的任务是否正在运行
func (m *defaultTaskManager) IsRunning(taskType TaskType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	task, exists := m.tasks[taskType]
	return exists && task.status.State == TaskStateRunning
}

// IsAnyRunning 检查是否有任何任务正在运行
func (m *defaultTaskManager) IsAnyRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, task := range m.tasks {
		if task.status.State == TaskStateRunning {
			return true
		}
	}
	return false
}

// GetStatus 获取任务状态副本
func (m *defaultTaskManager) GetStatus(taskType TaskType) *TaskStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	task, exists := m.tasks[taskType]
	if !exists {
		return nil
	}
	status := task.status
	return &status
}

// GetAllStatus 获取全部任务状态副本
func (m *defaultTaskManager) GetAllStatus() map[TaskType]*TaskStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statusMap := make(map[TaskType]*TaskStatus, len(m.tasks))
	for taskType, task := range m.tasks {
		status := task.status
		statusMap[taskType] = &status
	}
	return statusMap
}
