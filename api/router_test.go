package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/guregu/null/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netwatch/config"
	"netwatch/internal/model"
	"netwatch/internal/presentation"
	"netwatch/internal/repository"
	"netwatch/internal/scheduler"
	"netwatch/internal/service"
	"netwatch/internal/service/task"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type stubMonitor struct {
	history []model.Measurement
	cleared int
}

func (m *stubMonitor) Latest() service.LatestSnapshot {
	status := model.HealthStatusOK
	return service.LatestSnapshot{Status: status, Label: status.Label(), Color: status.Color(), BandwidthCapable: true}
}

func (m *stubMonitor) History(kind model.MeasurementKind, limit int) []model.Measurement {
	var out []model.Measurement
	for _, h := range m.history {
		if kind == "" || h.Kind == kind {
			out = append(out, h)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (m *stubMonitor) Summary() service.Summary {
	return service.Summarize(m.History(model.MeasurementKindLatency, 0), m.History(model.MeasurementKindBandwidth, 0))
}

func (m *stubMonitor) ClearHistory() error {
	m.cleared++
	m.history = nil
	return nil
}

type stubScheduler struct {
	triggered []task.TaskType
	err       error
}

func (s *stubScheduler) RunNow(taskType task.TaskType) error {
	if s.err != nil {
		return s.err
	}
	s.triggered = append(s.triggered, taskType)
	return nil
}

func (s *stubScheduler) GetStatus() map[string]interface{} {
	return map[string]interface{}{"is_running": true}
}

type testEnv struct {
	router    *gin.Engine
	monitor   *stubMonitor
	scheduler *stubScheduler
	tasks     task.TaskManager
	hub       *presentation.Hub
}

func newTestEnv(t *testing.T, repo repository.MeasurementRepository) *testEnv {
	t.Helper()
	env := &testEnv{
		monitor: &stubMonitor{history: []model.Measurement{
			{Kind: model.MeasurementKindLatency, Timestamp: t0, LatencyMs: null.FloatFrom(20)},
			{Kind: model.MeasurementKindBandwidth, Timestamp: t0.Add(time.Second), DownloadMbps: null.FloatFrom(8.39)},
			{Kind: model.MeasurementKindLatency, Timestamp: t0.Add(2 * time.Second)},
			{Kind: model.MeasurementKindLatency, Timestamp: t0.Add(3 * time.Second), LatencyMs: null.FloatFrom(30)},
		}},
		scheduler: &stubScheduler{},
		tasks:     task.NewTaskManager(),
		hub:       presentation.NewHub(),
	}
	t.Cleanup(env.hub.Close)
	env.router = NewRouter(Dependencies{
		Monitor:     env.monitor,
		TaskManager: env.tasks,
		Scheduler:   env.scheduler,
		Hub:         env.hub,
		Repository:  repo,
	})
	return env
}

func (env *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

type historyResponse struct {
	Result string `json:"result"`
	Data   struct {
		Source  string              `json:"source"`
		Total   int                 `json:"total"`
		History []model.Measurement `json:"history"`
	} `json:"data"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestRouter_Status(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[struct {
		Result string                 `json:"result"`
		Data   service.LatestSnapshot `json:"data"`
	}](t, w)
	assert.Equal(t, "success", resp.Result)
	assert.Equal(t, model.HealthStatusOK, resp.Data.Status)
	assert.Equal(t, "green", resp.Data.Color)
}

func TestRouter_History(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("默认返回内存中全部记录", func(t *testing.T) {
		resp := decode[historyResponse](t, env.do(http.MethodGet, "/api/v1/history", ""))
		assert.Equal(t, "memory", resp.Data.Source)
		assert.Equal(t, 4, resp.Data.Total)
	})

	t.Run("按类型和数量过滤", func(t *testing.T) {
		resp := decode[historyResponse](t, env.do(http.MethodGet, "/api/v1/history?kind=latency&limit=2", ""))
		require.Len(t, resp.Data.History, 2)
		assert.False(t, resp.Data.History[0].LatencyMs.Valid, "缺失值保持为null")
		assert.Equal(t, null.FloatFrom(30), resp.Data.History[1].LatencyMs)
	})

	t.Run("按时间过滤", func(t *testing.T) {
		start := t0.Add(time.Second).Format(time.RFC3339)
		end := t0.Add(2 * time.Second).Format(time.RFC3339)
		resp := decode[historyResponse](t, env.do(http.MethodGet, "/api/v1/history?start_time="+start+"&end_time="+end, ""))
		assert.Equal(t, 2, resp.Data.Total)
	})

	for _, target := range []string{
		"/api/v1/history?kind=jitter",
		"/api/v1/history?limit=-1",
		"/api/v1/history?start_time=yesterday",
		"/api/v1/history?source=db",
		"/api/v1/history?source=s3",
	} {
		w := env.do(http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}
}

func TestRouter_HistoryFromDB(t *testing.T) {
	db, err := repository.InitDB(config.Database{Enabled: true, Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	repo := repository.NewMeasurementRepository(db)
	for i := range 3 {
		m := model.Measurement{
			Kind:      model.MeasurementKindLatency,
			Timestamp: t0.Add(time.Duration(i) * time.Second),
			LatencyMs: null.FloatFrom(float64(10 * (i + 1))),
		}
		require.NoError(t, repo.Create(&m))
	}

	env := newTestEnv(t, repo)
	w := env.do(http.MethodGet, "/api/v1/history?source=db&kind=latency&limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[historyResponse](t, w)
	assert.Equal(t, "db", resp.Data.Source)
	require.Len(t, resp.Data.History, 2)
	assert.Equal(t, null.FloatFrom(20), resp.Data.History[0].LatencyMs)
	assert.Equal(t, null.FloatFrom(30), resp.Data.History[1].LatencyMs)
}

func TestRouter_Summary(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := decode[struct {
		Data service.Summary `json:"data"`
	}](t, env.do(http.MethodGet, "/api/v1/summary", ""))

	assert.Equal(t, 2, resp.Data.Latency.Count)
	assert.Equal(t, 1, resp.Data.Latency.Missing)
	assert.Equal(t, null.FloatFrom(25), resp.Data.Latency.Mean)
}

func TestRouter_ClearHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(http.MethodPost, "/api/v1/history/clear", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, env.monitor.cleared)

	resp := decode[historyResponse](t, env.do(http.MethodGet, "/api/v1/history", ""))
	assert.Zero(t, resp.Data.Total)
}

func TestRouter_Probe(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodPost, "/api/v1/probe", `{"kind":"bandwidth"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []task.TaskType{task.TaskTypeBandwidthProbe}, env.scheduler.triggered)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/v1/probe", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/v1/probe", `{"kind":"jitter"}`).Code)

	env.scheduler.err = service.ErrProbeRunning
	assert.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/api/v1/probe", `{"kind":"latency"}`).Code)

	env.scheduler.err = scheduler.ErrNotRunning
	assert.Equal(t, http.StatusServiceUnavailable, env.do(http.MethodPost, "/api/v1/probe", `{"kind":"latency"}`).Code)
}

func TestRouter_Tasks(t *testing.T) {
	env := newTestEnv(t, nil)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/v1/get_task_status?task_type=latency_probe", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/api/v1/stop_task", `{"task_type":"latency_probe","wait":false}`).Code)

	ctx, ok := env.tasks.StartTask(t.Context(), task.TaskTypeLatencyProbe)
	require.True(t, ok)
	go func() {
		<-ctx.Done()
		env.tasks.FinishTask(task.TaskTypeLatencyProbe, ctx.Err())
	}()

	w := env.do(http.MethodGet, "/api/v1/task_all_status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"latency_probe"`)
	assert.Contains(t, w.Body.String(), `"running"`)

	w = env.do(http.MethodPost, "/api/v1/stop_task", `{"task_type":"latency_probe"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"timed_out":false`)

	w = env.do(http.MethodGet, "/api/v1/get_task_status?task_type=latency_probe", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cancelled"`)
}

func TestRouter_SchedulerStatusAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/api/v1/scheduler_status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"is_running":true}`, w.Body.String())

	w = env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "netwatch_health_status")
}

func TestRouter_WebSocket(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.hub.Render(presentation.BuildFrame(env.monitor.history, nil, model.HealthStatusOK, t0)))

	server := httptest.NewServer(env.router)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame presentation.Frame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, model.HealthStatusOK, frame.Status)
	assert.Len(t, frame.Latency, 4)
}
