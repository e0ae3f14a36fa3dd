package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netwatch/config"
	"netwatch/internal/model"
	"netwatch/internal/service"
	"netwatch/internal/service/task"
)

type countingProber struct {
	latency   atomic.Int32
	bandwidth atomic.Int32
	block          bool
	blockBandwidth bool
	panics         bool
}

func (p *countingProber) ProbeLatency(ctx context.Context) (model.Measurement, error) {
	p.latency.Add(1)
	if p.panics {
		panic("boom")
	}
	if p.block {
		<-ctx.Done()
		return model.Measurement{}, ctx.Err()
	}
	return model.Measurement{Kind: model.MeasurementKindLatency}, nil
}

func (p *countingProber) ProbeBandwidth(ctx context.Context) (model.Measurement, error) {
	p.bandwidth.Add(1)
	if p.block || p.blockBandwidth {
		<-ctx.Done()
		return model.Measurement{}, ctx.Err()
	}
	return model.Measurement{Kind: model.MeasurementKindBandwidth}, nil
}

var hourly = config.Schedule{Latency: "@every 1h", Bandwidth: "@every 1h"}

func TestScheduler_StartRunsImmediately(t *testing.T) {
	prober := &countingProber{}
	s := NewScheduler(prober, task.NewTaskManager())
	require.NoError(t, s.Start(hourly))
	defer s.Stop(time.Second)

	assert.Eventually(t, func() bool {
		return prober.latency.Load() == 1 && prober.bandwidth.Load() == 1
	}, time.Second, 10*time.Millisecond)

	assert.Error(t, s.Start(hourly), "重复启动")
}

func TestScheduler_RunNow(t *testing.T) {
	prober := &countingProber{}
	s := NewScheduler(prober, task.NewTaskManager())

	assert.ErrorIs(t, s.RunNow(task.TaskTypeLatencyProbe), ErrNotRunning)

	require.NoError(t, s.Start(hourly))
	defer s.Stop(time.Second)
	assert.Eventually(t, func() bool { return prober.latency.Load() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, s.RunNow(task.TaskTypeLatencyProbe))
	assert.Eventually(t, func() bool { return prober.latency.Load() == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), prober.bandwidth.Load())

	assert.Error(t, s.RunNow("unknown"))
}

func TestScheduler_RunNowWhileRunning(t *testing.T) {
	tasks := task.NewTaskManager()
	s := NewScheduler(&countingProber{}, tasks)
	require.NoError(t, s.Start(hourly))
	defer s.Stop(time.Second)

	_, ok := tasks.StartTask(context.Background(), task.TaskTypeBandwidthProbe)
	require.True(t, ok)
	assert.ErrorIs(t, s.RunNow(task.TaskTypeBandwidthProbe), service.ErrProbeRunning)
	tasks.FinishTask(task.TaskTypeBandwidthProbe, nil)
}

func TestScheduler_LatencyKeepsFiringDuringBandwidth(t *testing.T) {
	prober := &countingProber{blockBandwidth: true}
	s := NewScheduler(prober, task.NewTaskManager())
	require.NoError(t, s.Start(config.Schedule{Latency: "@every 1s", Bandwidth: "@every 1s"}))
	defer s.Stop(time.Second)

	assert.Eventually(t, func() bool { return prober.latency.Load() >= 3 }, 5*time.Second, 20*time.Millisecond,
		"延迟任务不应被进行中的带宽任务阻塞")
	assert.Equal(t, int32(1), prober.bandwidth.Load(), "带宽任务未结束时跳过后续触发")
}

func TestScheduler_StopCancelsRunningProbes(t *testing.T) {
	prober := &countingProber{block: true}
	s := NewScheduler(prober, task.NewTaskManager())
	require.NoError(t, s.Start(hourly))
	assert.Eventually(t, func() bool {
		return prober.latency.Load() == 1 && prober.bandwidth.Load() == 1
	}, time.Second, 10*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		s.Stop(5 * time.Second)
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after cancelling probes")
	}
	assert.Equal(t, false, s.GetStatus()["is_running"])
}

func TestScheduler_RecoversPanic(t *testing.T) {
	prober := &countingProber{panics: true}
	s := NewScheduler(prober, task.NewTaskManager())
	require.NoError(t, s.Start(hourly))
	defer s.Stop(time.Second)

	assert.Eventually(t, func() bool { return prober.bandwidth.Load() == 1 }, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return prober.latency.Load() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, s.RunNow(task.TaskTypeBandwidthProbe))
	assert.Eventually(t, func() bool { return prober.bandwidth.Load() == 2 }, time.Second, 10*time.Millisecond)
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := NewScheduler(&countingProber{}, task.NewTaskManager())
	err := s.Start(config.Schedule{Latency: "not a schedule", Bandwidth: "@every 1m"})
	assert.Error(t, err)
	assert.Equal(t, false, s.GetStatus()["is_running"])
}

func TestScheduler_GetStatus(t *testing.T) {
	s := NewScheduler(&countingProber{}, task.NewTaskManager())
	require.NoError(t, s.Start(config.Schedule{Latency: "@every 5s", Bandwidth: "@every 60s"}))
	defer s.Stop(time.Second)

	status := s.GetStatus()
	assert.Equal(t, true, status["is_running"])
	jobs, ok := status["jobs"].(map[string]interface{})
	require.True(t, ok)
	require.Len(t, jobs, 2)
	latency := jobs["latency_probe"].(map[string]interface{})
	assert.Equal(t, "@every 5s", latency["schedule"])
	assert.Contains(t, latency, "next_run")
}
