package speedtester

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"netwatch/internal/model"
)

// fakeTester 记录调用次数和收到的need
type fakeTester struct {
	name      string
	available bool
	result    Result
	needs     []Need
}

func (f *fakeTester) Name() string    { return f.name }
func (f *fakeTester) Available() bool { return f.available }
func (f *fakeTester) Test(_ context.Context, need Need) Result {
	f.needs = append(f.needs, need)
	return f.result
}

func ok(v float64, source string) model.ProbeOutcome {
	return model.Success(v, source)
}

func failed(reason model.FailureReason) model.ProbeOutcome {
	return model.Failure(reason, errors.New(string(reason)), "")
}

func TestChain_Run(t *testing.T) {
	t.Run("第一层成功后不再调用后续层", func(t *testing.T) {
		library := &fakeTester{name: "library", available: true, result: Result{Download: ok(93.12, "library"), Upload: ok(11.05, "library")}}
		cli := &fakeTester{name: "cli", available: true}
		httpTier := &fakeTester{name: "http", available: true}

		result := NewChain(library, cli, httpTier).Run(context.Background())

		assert.Equal(t, 93.12, result.Download.Value.Float64)
		assert.Equal(t, 11.05, result.Upload.Value.Float64)
		assert.Len(t, library.needs, 1)
		assert.Empty(t, cli.needs)
		assert.Empty(t, httpTier.needs)
	})

	t.Run("命令行补齐两个方向", func(t *testing.T) {
		library := &fakeTester{name: "library", available: true, result: Result{Download: failed(model.ReasonTransportError), Upload: failed(model.ReasonTransportError)}}
		cli := &fakeTester{name: "cli", available: true, result: Result{Download: ok(50, ""), Upload: ok(10, "")}}
		httpTier := &fakeTester{name: "http", available: true}

		result := NewChain(library, cli, httpTier).Run(context.Background())

		assert.Equal(t, "cli", result.Download.Source)
		assert.Equal(t, "cli", result.Upload.Source)
		assert.Empty(t, httpTier.needs)
	})

	t.Run("HTTP层只测缺失的方向", func(t *testing.T) {
		cli := &fakeTester{name: "cli", available: true, result: Result{Download: ok(50, "cli"), Upload: failed(model.ReasonParseError)}}
		httpTier := &fakeTester{name: "http", available: true, result: Result{Upload: ok(4.19, "http")}}

		result := NewChain(cli, httpTier).Run(context.Background())

		assert.Equal(t, []Need{{Upload: true}}, httpTier.needs)
		assert.Equal(t, "cli", result.Download.Source)
		assert.Equal(t, "http", result.Upload.Source)
		assert.Equal(t, 4.19, result.Upload.Value.Float64)
	})

	t.Run("最后一层的失败原因保留", func(t *testing.T) {
		cli := &fakeTester{name: "cli", available: true, result: Result{Download: failed(model.ReasonParseError), Upload: failed(model.ReasonParseError)}}
		httpTier := &fakeTester{name: "http", available: true, result: Result{Download: failed(model.ReasonTimeout), Upload: ok(2, "http")}}

		result := NewChain(cli, httpTier).Run(context.Background())

		assert.False(t, result.Download.OK())
		assert.Equal(t, model.ReasonTimeout, result.Download.Reason)
		assert.True(t, result.Upload.OK())
	})

	t.Run("不可用的层被跳过", func(t *testing.T) {
		cli := &fakeTester{name: "cli", available: false}
		httpTier := &fakeTester{name: "http", available: true, result: Result{Download: ok(8.39, "http"), Upload: ok(4.19, "http")}}

		result := NewChain(nil, cli, httpTier).Run(context.Background())

		assert.Empty(t, cli.needs)
		assert.True(t, result.Download.OK())
		assert.True(t, result.Upload.OK())
	})

	t.Run("没有任何可用层", func(t *testing.T) {
		result := NewChain(&fakeTester{name: "cli"}).Run(context.Background())

		assert.Equal(t, model.ReasonToolUnavailable, result.Download.Reason)
		assert.Equal(t, model.ReasonToolUnavailable, result.Upload.Reason)
		assert.False(t, result.Download.Value.Valid)
	})

	t.Run("上下文已取消", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		httpTier := &fakeTester{name: "http", available: true}

		result := NewChain(httpTier).Run(ctx)

		assert.Empty(t, httpTier.needs)
		assert.False(t, result.Download.OK())
		assert.Equal(t, model.ReasonTransportError, result.Upload.Reason)
	})

	t.Run("未设置原因的失败被补全", func(t *testing.T) {
		httpTier := &fakeTester{name: "http", available: true, result: Result{
			Download: model.ProbeOutcome{Err: context.DeadlineExceeded},
			Upload:   model.ProbeOutcome{},
		}}

		result := NewChain(httpTier).Run(context.Background())

		assert.Equal(t, model.ReasonTimeout, result.Download.Reason)
		assert.Equal(t, model.ReasonTransportError, result.Upload.Reason)
		assert.Equal(t, "http", result.Upload.Source)
	})
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Measure(ctx context.Context) (float64, float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Get(1).(float64), args.Error(2)
}

type panicProvider struct{}

func (panicProvider) Name() string { return "panic" }
func (panicProvider) Measure(context.Context) (float64, float64, error) {
	panic("server list exploded")
}

type blockingProvider struct{}

func (blockingProvider) Name() string { return "blocking" }
func (blockingProvider) Measure(ctx context.Context) (float64, float64, error) {
	<-ctx.Done()
	time.Sleep(5 * time.Millisecond)
	return 1, 1, nil
}

func TestLibrarySpeedTester(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		provider := new(mockProvider)
		provider.On("Measure", mock.Anything).Return(93.123, 11.049, nil).Once()

		result := NewLibrarySpeedTester(provider, time.Second).Test(context.Background(), Need{Download: true, Upload: true})

		assert.Equal(t, 93.12, result.Download.Value.Float64)
		assert.Equal(t, 11.05, result.Upload.Value.Float64)
		assert.Equal(t, "library", result.Download.Source)
		provider.AssertExpectations(t)
	})

	t.Run("error fails both directions", func(t *testing.T) {
		provider := new(mockProvider)
		provider.On("Measure", mock.Anything).Return(0.0, 0.0, errors.New("no servers"))

		result := NewLibrarySpeedTester(provider, time.Second).Test(context.Background(), Need{Download: true, Upload: true})

		assert.False(t, result.Download.OK())
		assert.False(t, result.Upload.OK())
		assert.Equal(t, model.ReasonTransportError, result.Download.Reason)
	})

	t.Run("partial result is discarded", func(t *testing.T) {
		provider := new(mockProvider)
		provider.On("Measure", mock.Anything).Return(93.12, 0.0, nil)

		result := NewLibrarySpeedTester(provider, time.Second).Test(context.Background(), Need{Download: true, Upload: true})

		assert.False(t, result.Download.OK())
		assert.False(t, result.Upload.OK())
		assert.Equal(t, model.ReasonParseError, result.Upload.Reason)
	})

	t.Run("panic is recovered", func(t *testing.T) {
		result := NewLibrarySpeedTester(panicProvider{}, time.Second).Test(context.Background(), Need{Download: true, Upload: true})

		assert.False(t, result.Download.OK())
		assert.Error(t, result.Upload.Err)
		assert.Contains(t, result.Upload.Err.Error(), "panic")
	})

	t.Run("timeout", func(t *testing.T) {
		result := NewLibrarySpeedTester(blockingProvider{}, 10*time.Millisecond).Test(context.Background(), Need{Download: true, Upload: true})

		assert.Equal(t, model.ReasonTimeout, result.Download.Reason)
		assert.Equal(t, model.ReasonTimeout, result.Upload.Reason)
	})

	t.Run("timeout covers provider bound", func(t *testing.T) {
		provider := NewClashCoreProvider()
		assert.Equal(t, 22*time.Second, provider.MaxDuration())

		tester := NewLibrarySpeedTester(provider, 5*time.Second)
		assert.Equal(t, provider.MaxDuration(), tester.timeout)

		tester = NewLibrarySpeedTester(provider, 90*time.Second)
		assert.Equal(t, 90*time.Second, tester.timeout)
	})

	t.Run("nil provider unavailable", func(t *testing.T) {
		tester := NewLibrarySpeedTester(nil, 0)
		assert.False(t, tester.Available())
	})
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(ProviderSpeedtestNet)
	assert.NoError(t, err)
	assert.Equal(t, ProviderSpeedtestNet, p.Name())

	p, err = NewProvider(ProviderCloudflare)
	assert.NoError(t, err)
	assert.IsType(t, &ClashCoreProvider{}, p)
	assert.Equal(t, "https://speed.cloudflare.com", p.(*ClashCoreProvider).ServerURL)

	p, err = NewProvider(ProviderNone)
	assert.NoError(t, err)
	assert.Nil(t, p)

	_, err = NewProvider("fast.com")
	assert.Error(t, err)
}
