// Package store 负责所有交易记录的持久化，基于 GORM + SQLite。
package store

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Sisyphusclub/ai-crypto-trader/internal/config"
)

// Store 封装数据库连接与仓储方法。
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open 打开数据库并完成建表迁移。
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", cfg.Path)
	if cfg.InMemory {
		dsn = "file::memory:?cache=shared"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层连接失败: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(
		&Trader{},
		&Strategy{},
		&ExchangeAccount{},
		&ModelConfig{},
		&MarketSnapshot{},
		&Signal{},
		&TradePlan{},
		&Execution{},
		&DecisionLog{},
	); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}

	logger.Info("数据库初始化完成", zap.String("path", cfg.Path), zap.Bool("in_memory", cfg.InMemory))

	return &Store{db: db, logger: logger}, nil
}

// DB 暴露底层 gorm 句柄，仅供测试种子数据使用。
func (s *Store) DB() *gorm.DB { return s.db }

// Close 关闭数据库连接。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
