package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/metacubex/mihomo/log"
	"github.com/robfig/cron/v3"

	"netwatch/config"
	"netwatch/internal/model"
	"netwatch/internal/service"
	"netwatch/internal/service/task"
)

// ErrNotRunning 调度器未启动
var ErrNotRunning = errors.New("scheduler is not running")

// Prober 两类探测，由service.Monitor实现
type Prober interface {
	ProbeLatency(ctx context.Context) (model.Measurement, error)
	ProbeBandwidth(ctx context.Context) (model.Measurement, error)
}

// Scheduler 定时任务调度器，两类探测各自独立计时
type Scheduler struct {
	cron        *cron.Cron
	jobMutex    sync.Mutex
	isRunning   bool
	prober      Prober
	taskManager task.TaskManager
	jobIDs      map[task.TaskType]cron.EntryID
	schedules   map[task.TaskType]string
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewScheduler 创建调度器
func NewScheduler(prober Prober, taskManager task.TaskManager) *Scheduler {
	return &Scheduler{
		prober:      prober,
		taskManager: taskManager,
		jobIDs:      make(map[task.TaskType]cron.EntryID),
		schedules:   make(map[task.TaskType]string),
	}
}

// Start 注册两类任务并各立即执行一次
func (s *Scheduler) Start(schedule config.Schedule) error {
	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()

	if s.isRunning {
		return errors.New("scheduler already running")
	}

	logger := cronLogger{}
	s.cron = cron.New(
		cron.WithParser(config.ScheduleParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	s.jobIDs = make(map[task.TaskType]cron.EntryID)
	s.schedules = make(map[task.TaskType]string)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	jobs := []struct {
		taskType task.TaskType
		spec     string
		run      func(ctx context.Context) (model.Measurement, error)
	}{
		{task.TaskTypeLatencyProbe, schedule.Latency, s.prober.ProbeLatency},
		{task.TaskTypeBandwidthProbe, schedule.Bandwidth, s.prober.ProbeBandwidth},
	}
	for _, job := range jobs {
		entryID, err := s.cron.AddFunc(job.spec, func() {
			s.executeJob(job.taskType, job.run)
		})
		if err != nil {
			s.cancel()
			return fmt.Errorf("add job %s: %w", job.taskType, err)
		}
		s.jobIDs[job.taskType] = entryID
		s.schedules[job.taskType] = job.spec
		log.Infoln("Added job %s with schedule %s", job.taskType, job.spec)
	}

	s.cron.Start()
	s.isRunning = true

	// 启动后立即各执行一次
	for _, id := range s.jobIDs {
		s.runEntry(id)
	}
	return nil
}

// runEntry 经由包装链执行，与定时触发共用跳过逻辑
func (s *Scheduler) runEntry(id cron.EntryID) {
	entry := s.cron.Entry(id)
	if !entry.Valid() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		entry.WrappedJob.Run()
	}()
}

func (s *Scheduler) executeJob(taskType task.TaskType, run func(ctx context.Context) (model.Measurement, error)) {
	_, err := run(s.ctx)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrProbeRunning):
		log.Debugln("job %s skipped: previous run still in progress", taskType)
	case errors.Is(err, context.Canceled):
		log.Debugln("job %s cancelled", taskType)
	default:
		log.Warnln("job %s failed: %v", taskType, err)
	}
}

// RunNow 立即触发一次探测，不影响下一次定时
func (s *Scheduler) RunNow(taskType task.TaskType) error {
	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()

	if !s.isRunning {
		return ErrNotRunning
	}
	id, ok := s.jobIDs[taskType]
	if !ok {
		return fmt.Errorf("unknown task type: %s", taskType)
	}
	if s.taskManager.IsRunning(taskType) {
		return service.ErrProbeRunning
	}
	s.runEntry(id)
	return nil
}

// Stop 停止调度并取消运行中的探测，最多等待timeout
func (s *Scheduler) Stop(timeout time.Duration) {
	s.jobMutex.Lock()
	if !s.isRunning {
		s.jobMutex.Unlock()
		return
	}
	s.isRunning = false
	s.cancel()
	stopped := s.cron.Stop()
	s.jobMutex.Unlock()

	s.taskManager.CancelAll(timeout)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		<-stopped.Done()
		close(done)
	}()
	select {
	case <-done:
		log.Infoln("Scheduler stopped")
	case <-time.After(timeout):
		log.Warnln("Scheduler stopped, but running jobs did not finish within %v", timeout)
	}
}

// GetStatus 获取调度器状态
func (s *Scheduler) GetStatus() map[string]interface{} {
	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()

	status := make(map[string]interface{})
	status["is_running"] = s.isRunning

	jobs := make(map[string]interface{})
	for taskType, id := range s.jobIDs {
		jobStatus := map[string]interface{}{
			"schedule": s.schedules[taskType],
		}
		if s.cron != nil {
			entry := s.cron.Entry(id)
			if !entry.Next.IsZero() {
				jobStatus["next_run"] = entry.Next.Format(time.RFC3339)
			}
			if !entry.Prev.IsZero() {
				jobStatus["prev_run"] = entry.Prev.Format(time.RFC3339)
			}
		}
		jobs[string(taskType)] = jobStatus
	}
	status["jobs"] = jobs
	return status
}

// cronLogger 将cron日志转到mihomo log
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debugln("[cron] %s%s", msg, formatKeysAndValues(keysAndValues))
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Errorln("[cron] %s: %v%s", msg, err, formatKeysAndValues(keysAndValues))
}

func formatKeysAndValues(keysAndValues []interface{}) string {
	var b strings.Builder
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	return b.String()
}
