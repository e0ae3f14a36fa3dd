package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/metacubex/mihomo/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"netwatch/api"
	"netwatch/config"
	"netwatch/internal/adapter/speedtester"
	"netwatch/internal/repository"
	"netwatch/internal/scheduler"
	"netwatch/internal/service"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file (yaml or toml)")
	flag.Parse()

	if err := run(config.ResolvePath(*configPath)); err != nil {
		log.Fatalln("netwatch: %v", err)
	}
}

func run(configPath string) error {
	// 1. 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.SetLevel(log.LogLevelMapping[strings.ToLower(cfg.LogLevel)])
	cfg.Resolve(speedtester.DetectCLI)

	// 2. 初始化数据库
	var db *gorm.DB
	if cfg.Database.Enabled {
		db, err = repository.InitDB(cfg.Database)
		if err != nil {
			return err
		}
		defer closeDB(db)
	}

	// 3. 初始化服务
	services, err := service.NewServices(cfg, db)
	if err != nil {
		return err
	}
	defer func() {
		if err := services.Close(); err != nil {
			log.Warnln("close services: %v", err)
		}
	}()

	// 4. 初始化调度器，两类探测立即各执行一次
	sched := scheduler.NewScheduler(services.Monitor, services.TaskManager)
	if err := sched.Start(cfg.Schedule); err != nil {
		return err
	}

	// 5. 启动HTTP服务器
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.SetupRouter(services, sched),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infoln("Starting server on %s, probing %s", cfg.Server.Address, cfg.Probe.Target)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Infoln("Shutting down")

		sched.Stop(shutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		services.Hub.Close()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func closeDB(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warnln("close database: %v", err)
	}
}
