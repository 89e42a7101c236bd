// Package app 聚合核心依赖并驱动系统生命周期:
// 周期性跑一轮全部 trader 的决策,按 cron 对账全部活跃账户。
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Sisyphusclub/ai-crypto-trader/internal/ai"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/config"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/lock"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/reconcile"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/secret"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/store"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/trader"
)

// App 聚合核心依赖并驱动调度循环。
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      *store.Store
	runner     *trader.Runner
	reconciler *reconcile.Engine
}

// New 组装锁、凭证解密、模型路由、周期执行器与对账引擎。
func New(cfg *config.Config, logger *zap.Logger, st *store.Store) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	locker, err := lock.New(cfg.Lock, logger)
	if err != nil {
		return nil, err
	}
	crypto, err := secret.NewCrypto(cfg.App.MasterKey)
	if err != nil {
		return nil, err
	}
	router := ai.NewRouter(cfg.AI, logger)

	return &App{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		runner:     trader.NewRunner(cfg, st, router, locker, crypto, logger),
		reconciler: reconcile.NewEngine(cfg, st, locker, crypto, logger),
	}, nil
}

// Run 阻塞运行主循环,直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Bool("paper_trading", a.cfg.App.PaperTrading),
		zap.Duration("cycle_interval", a.cfg.Scheduler.CycleInterval),
		zap.String("reconcile_cron", a.cfg.Scheduler.ReconcileCron),
	)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(a.cfg.Scheduler.ReconcileCron, func() {
		a.ReconcileAllAccounts(ctx)
	}); err != nil {
		return fmt.Errorf("注册对账任务失败: %w", err)
	}
	scheduler.Start()
	defer func() {
		<-scheduler.Stop().Done()
	}()

	// 启动后先跑一轮,不等第一个周期。
	a.RunAllTraders(ctx)

	ticker := time.NewTicker(a.cfg.Scheduler.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			a.logger.Info("系统收到退出信号，正在停止")
			return nil
		case <-ticker.C:
			a.RunAllTraders(ctx)
		}
	}
}

// RunAllTraders 并发跑一轮所有启用 trader 的决策周期。
// 单个 trader 失败只记日志,不影响其他 trader。
func (a *App) RunAllTraders(ctx context.Context) {
	traders, err := a.store.ListEnabledTraders(ctx)
	if err != nil {
		a.logger.Error("读取启用 trader 失败", zap.Error(err))
		return
	}
	if len(traders) == 0 {
		a.logger.Debug("没有启用的 trader")
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Scheduler.Workers)
	for i := range traders {
		t := traders[i]
		g.Go(func() error {
			if err := a.runner.RunCycle(gctx, t.ID); err != nil {
				a.logger.Error("trader 周期执行失败",
					zap.String("trader_id", t.ID),
					zap.String("trader_name", t.Name),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// ReconcileAllAccounts 逐个对账所有活跃交易所账户。
func (a *App) ReconcileAllAccounts(ctx context.Context) {
	accounts, err := a.store.ListActiveAccounts(ctx)
	if err != nil {
		a.logger.Error("读取活跃账户失败", zap.Error(err))
		return
	}

	for i := range accounts {
		account := &accounts[i]
		result, err := a.reconciler.ReconcileAccount(ctx, account.ID)
		if err != nil {
			a.logger.Error("账户对账失败",
				zap.String("account_id", account.ID),
				zap.String("exchange", account.Exchange),
				zap.Error(err))
			continue
		}
		if result.Skipped {
			continue
		}
		a.logger.Info("账户对账结束",
			zap.String("account_id", account.ID),
			zap.Int("checked", result.Checked),
			zap.Int("updated", result.Updated),
			zap.Int("errors", result.Errors))
	}
}
