package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Lock      LockConfig      `mapstructure:"lock"`
	AI        AIConfig        `mapstructure:"ai"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
	// PaperTrading 为全局纸面交易开关，开启后所有 trader 均不触达真实交易所。
	PaperTrading bool `mapstructure:"paper_trading"`
	// MasterKey 用于派生凭证解密密钥，长度不得少于32字节。
	MasterKey string `mapstructure:"master_key"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	InMemory        bool          `mapstructure:"in_memory"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LockConfig 控制分布式互斥锁。
type LockConfig struct {
	// Backend 取值 redis 或 memory；memory 仅适用于单进程部署与测试。
	Backend         string        `mapstructure:"backend"`
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	TTL             time.Duration `mapstructure:"ttl"`
	ReconcileTTL    time.Duration `mapstructure:"reconcile_ttl"`
	BlockingTimeout time.Duration `mapstructure:"blocking_timeout"`
}

// AIConfig 描述大模型调用参数。
type AIConfig struct {
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
}

// SchedulerConfig 控制主循环节奏。
type SchedulerConfig struct {
	CycleInterval   time.Duration `mapstructure:"cycle_interval"`
	ReconcileCron   string        `mapstructure:"reconcile_cron"`
	Workers         int           `mapstructure:"workers"`
	SignalBatchSize int           `mapstructure:"signal_batch_size"`
}

// ReconcileConfig 控制对账窗口。
type ReconcileConfig struct {
	LookbackHours int `mapstructure:"lookback_hours"`
	BatchSize     int `mapstructure:"batch_size"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if len(c.App.MasterKey) < 32 {
		err = multierr.Append(err, errors.New("app.master_key 长度不得少于32字节"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}

	switch strings.ToLower(c.Lock.Backend) {
	case "redis":
		if c.Lock.RedisAddr == "" {
			err = multierr.Append(err, errors.New("lock.redis_addr 不能为空"))
		}
	case "memory":
	default:
		err = multierr.Append(err, fmt.Errorf("lock.backend 取值非法: %s", c.Lock.Backend))
	}
	if c.Lock.TTL <= 0 {
		err = multierr.Append(err, errors.New("lock.ttl 必须大于0"))
	}
	if c.Lock.ReconcileTTL <= 0 {
		err = multierr.Append(err, errors.New("lock.reconcile_ttl 必须大于0"))
	}
	if c.Lock.BlockingTimeout <= 0 {
		err = multierr.Append(err, errors.New("lock.blocking_timeout 必须大于0"))
	}

	if c.AI.Timeout <= 0 {
		err = multierr.Append(err, errors.New("ai.timeout 必须大于0"))
	}
	if c.AI.MaxRetries <= 0 {
		err = multierr.Append(err, errors.New("ai.max_retries 必须大于0"))
	}
	if c.AI.RateLimitPerMinute <= 0 {
		err = multierr.Append(err, errors.New("ai.rate_limit_per_minute 必须大于0"))
	}

	if c.Scheduler.CycleInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.cycle_interval 必须大于0"))
	}
	if c.Scheduler.ReconcileCron == "" {
		err = multierr.Append(err, errors.New("scheduler.reconcile_cron 不能为空"))
	}
	if c.Scheduler.Workers <= 0 {
		err = multierr.Append(err, errors.New("scheduler.workers 必须大于0"))
	}
	if c.Scheduler.SignalBatchSize <= 0 {
		err = multierr.Append(err, errors.New("scheduler.signal_batch_size 必须大于0"))
	}

	if c.Reconcile.LookbackHours <= 0 {
		err = multierr.Append(err, errors.New("reconcile.lookback_hours 必须大于0"))
	}
	if c.Reconcile.BatchSize <= 0 {
		err = multierr.Append(err, errors.New("reconcile.batch_size 必须大于0"))
	}

	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
