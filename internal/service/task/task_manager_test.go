package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskManager_StartFinish(t *testing.T) {
	m := NewTaskManager()

	ctx, ok := m.StartTask(context.Background(), TaskTypeLatencyProbe)
	require.True(t, ok)
	require.NotNil(t, ctx)
	assert.True(t, m.IsRunning(TaskTypeLatencyProbe))
	assert.True(t, m.IsAnyRunning())

	t.Run("同类型任务不能重复启动", func(t *testing.T) {
		_, ok := m.StartTask(context.Background(), TaskTypeLatencyProbe)
		assert.False(t, ok)
		assert.Equal(t, 1, m.GetStatus(TaskTypeLatencyProbe).Skipped)
	})

	t.Run("不同类型互不影响", func(t *testing.T) {
		_, ok := m.StartTask(context.Background(), TaskTypeBandwidthProbe)
		assert.True(t, ok)
		m.FinishTask(TaskTypeBandwidthProbe, nil)
	})

	m.FinishTask(TaskTypeLatencyProbe, errors.New("no reply"))
	status := m.GetStatus(TaskTypeLatencyProbe)
	require.NotNil(t, status)
	assert.Equal(t, TaskStateFinished, status.State)
	assert.Equal(t, "no reply", status.Error)
	assert.NotNil(t, status.FinishTime)
	assert.Error(t, ctx.Err(), "完成后上下文被释放")
	assert.False(t, m.IsAnyRunning())

	_, ok = m.StartTask(context.Background(), TaskTypeLatencyProbe)
	require.True(t, ok)
	status = m.GetStatus(TaskTypeLatencyProbe)
	assert.Equal(t, 2, status.Runs)
	assert.Equal(t, 1, status.Skipped)
	assert.Empty(t, status.Error)
}

func TestTaskManager_CancelTask(t *testing.T) {
	m := NewTaskManager()
	ctx, ok := m.StartTask(context.Background(), TaskTypeBandwidthProbe)
	require.True(t, ok)

	go func() {
		<-ctx.Done()
		m.FinishTask(TaskTypeBandwidthProbe, ctx.Err())
	}()

	cancelled, timedOut := m.CancelTask(TaskTypeBandwidthProbe, true)
	assert.True(t, cancelled)
	assert.False(t, timedOut)
	assert.False(t, m.IsRunning(TaskTypeBandwidthProbe))
	assert.Equal(t, TaskStateCancelled, m.GetStatus(TaskTypeBandwidthProbe).State)

	cancelled, _ = m.CancelTask(TaskTypeBandwidthProbe, false)
	assert.False(t, cancelled, "没有运行中的任务")
}

func TestTaskManager_CancelTaskTimeout(t *testing.T) {
	m := &defaultTaskManager{tasks: make(map[TaskType]*taskInfo), cancelWait: 10 * time.Millisecond}
	_, ok := m.StartTask(context.Background(), TaskTypeLatencyProbe)
	require.True(t, ok)

	cancelled, timedOut := m.CancelTask(TaskTypeLatencyProbe, true)
	assert.True(t, cancelled)
	assert.True(t, timedOut)
	assert.Equal(t, TaskStateCancelled, m.GetStatus(TaskTypeLatencyProbe).State)
}

func TestTaskManager_CancelAll(t *testing.T) {
	m := NewTaskManager()
	for _, taskType := range []TaskType{TaskTypeLatencyProbe, TaskTypeBandwidthProbe} {
		ctx, ok := m.StartTask(context.Background(), taskType)
		require.True(t, ok)
		go func(taskType TaskType) {
			<-ctx.Done()
			m.FinishTask(taskType, ctx.Err())
		}(taskType)
	}

	m.CancelAll(time.Second)
	assert.False(t, m.IsAnyRunning())
}

func TestTaskManager_GetAllStatusIsCopy(t *testing.T) {
	m := NewTaskManager()
	_, _ = m.StartTask(context.Background(), TaskTypeLatencyProbe)

	all := m.GetAllStatus()
	require.Contains(t, all, TaskTypeLatencyProbe)
	all[TaskTypeLatencyProbe].Runs = 99
	assert.Equal(t, 1, m.GetStatus(TaskTypeLatencyProbe).Runs)

	data, err := json.Marshal(all[TaskTypeLatencyProbe])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"running"`)
}
