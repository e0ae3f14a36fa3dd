package service

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/metacubex/mihomo/log"
	"gorm.io/gorm"

	"netwatch/config"
	"netwatch/internal/adapter/pinger"
	"netwatch/internal/adapter/speedtester"
	"netwatch/internal/eventbus"
	"netwatch/internal/history"
	"netwatch/internal/presentation"
	"netwatch/internal/repository"
	"netwatch/internal/service/task"
	"netwatch/internal/util"
)

// Services 所有服务的集合
type Services struct {
	Monitor      *Monitor
	TaskManager  task.TaskManager
	EventBus     eventbus.EventBus
	Hub          *presentation.Hub
	SpeedChain   *speedtester.Chain
	Repositories *repository.Repositories // 未启用数据库时为nil

	webhooks *eventbus.AsyncEventHandler
}

// NewServices 初始化所有服务，db可以为nil
func NewServices(cfg *config.Config, db *gorm.DB) (*Services, error) {
	// 延迟探测器
	p, err := pinger.New(pinger.Method(cfg.Probe.PingMethod), pinger.Options{
		Privileged: cfg.Probe.Privileged,
		TCPPort:    cfg.Probe.TCPPort,
	})
	if err != nil {
		return nil, err
	}

	// 带宽测速链：测速库 → 命令行工具 → HTTP
	chain, err := NewSpeedChain(cfg.Bandwidth)
	if err != nil {
		return nil, err
	}

	// 历史存储
	csvStore, err := history.NewCSVStore(cfg.History.CSVPath, cfg.History.Append)
	if err != nil {
		return nil, err
	}
	stores := []history.Store{csvStore}
	var repos *repository.Repositories
	if db != nil {
		repos = repository.NewRepositories(db)
		stores = append(stores, history.NewDBStore(repos.Measurement))
	}

	// 展示
	hub := presentation.NewHub()
	presenters := []presentation.Presenter{hub}
	if cfg.Console.Enabled {
		presenters = append(presenters, presentation.NewConsolePresenter())
	}
	if cfg.Charts.Enabled {
		charts, err := presentation.NewChartPresenter(cfg.Charts.Dir)
		if err != nil {
			return nil, err
		}
		presenters = append(presenters, charts)
	}

	// 事件
	bus := eventbus.NewEventBus()
	if err := bus.Subscribe(&eventbus.LoggingEventHandler{}); err != nil {
		return nil, err
	}
	var webhooks *eventbus.AsyncEventHandler
	if len(cfg.Webhooks) > 0 {
		retry := eventbus.NewRetryEventHandler(util.NewWebhookEventHandler(util.NewWebhookClient(), cfg.Webhooks), 3, 2*time.Second, nil)
		filtered := eventbus.NewFilteredEventHandler(retry, []string{eventbus.EventStatusChanged}, nil)
		webhooks = eventbus.NewAsyncEventHandler(filtered, 64, 1)
		webhooks.Start()
		if err := bus.Subscribe(webhooks); err != nil {
			return nil, err
		}
		log.Infoln("%d webhook(s) registered for status changes", len(cfg.Webhooks))
	}

	taskManager := task.NewTaskManager()
	monitor := NewMonitor(Options{
		Target:           cfg.Probe.Target,
		PingTimeout:      cfg.Probe.Timeout(),
		BandwidthCapable: cfg.BandwidthCapable(),
		MaxPoints:        cfg.History.MaxPoints,
	}, p, chain, history.NewMultiStore(stores...), presentation.NewMultiPresenter(presenters...), bus, taskManager)

	return &Services{
		Monitor:      monitor,
		TaskManager:  taskManager,
		EventBus:     bus,
		Hub:          hub,
		SpeedChain:   chain,
		Repositories: repos,
		webhooks:     webhooks,
	}, nil
}

// NewSpeedChain 按配置组装测速链，provider为none时跳过测速库层
func NewSpeedChain(cfg config.Bandwidth) (*speedtester.Chain, error) {
	var testers []speedtester.SpeedTester

	provider, err := speedtester.NewProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	if provider != nil {
		testers = append(testers, speedtester.NewLibrarySpeedTester(provider, cfg.LibraryTimeout()))
	}
	testers = append(testers,
		speedtester.NewCLISpeedTester(cfg.CLIPath, cfg.CLIArgs, cfg.CLITimeout()),
		speedtester.NewHTTPSpeedTester(&http.Client{}, speedtester.HTTPOptions{
			DownloadURL: cfg.HTTP.DownloadURL,
			UploadURL:   cfg.HTTP.UploadURL,
			Timeout:     cfg.HTTP.Timeout(),
		}),
	)
	return speedtester.NewChain(testers...), nil
}

// Close 停止后台处理并断开浏览器连接，可重复调用
func (s *Services) Close() error {
	var errs []error
	if s.webhooks != nil {
		if err := s.EventBus.Unsubscribe(s.webhooks); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe webhooks: %w", err))
		}
		s.webhooks.Stop()
		s.webhooks = nil
	}
	s.Hub.Close()
	return errors.Join(errs...)
}
