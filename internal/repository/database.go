package repository

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/metacubex/mihomo/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"netwatch/config"
	"netwatch/internal/model"
)

// InitDB 初始化数据库连接并迁移测量表
func InitDB(dbConfig config.Database) (*gorm.DB, error) {
	var dialector gorm.Dialector

	// 根据配置选择数据库驱动
	switch dbConfig.Driver {
	case "sqlite":
		dialector = sqlite.Open(dbConfig.DSN)
	case "postgres":
		dialector = postgres.Open(dbConfig.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", dbConfig.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dbConfig.Driver, err)
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if dbConfig.Driver == "sqlite" {
		// WAL模式和busy_timeout，避免"database is locked"
		db.Exec("PRAGMA journal_mode = WAL;")
		db.Exec("PRAGMA busy_timeout = 5000;")
		db.Exec("PRAGMA synchronous = NORMAL;")
	}

	if err := db.AutoMigrate(&model.Measurement{}); err != nil {
		return nil, fmt.Errorf("migrate measurements: %w", err)
	}

	log.Infoln("database initialized (%s)", dbConfig.Driver)
	return db, nil
}
