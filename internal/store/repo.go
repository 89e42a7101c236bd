package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GetTrader 按 ID 读取 trader。
func (s *Store) GetTrader(ctx context.Context, id string) (*Trader, error) {
	var t Trader
	if err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("查询 trader 失败: %w", err)
	}
	return &t, nil
}

// ListEnabledTraders 返回所有启用的 trader。
func (s *Store) ListEnabledTraders(ctx context.Context) ([]Trader, error) {
	var traders []Trader
	if err := s.db.WithContext(ctx).Where("enabled = ?", true).Find(&traders).Error; err != nil {
		return nil, fmt.Errorf("查询启用 trader 失败: %w", err)
	}
	return traders, nil
}

// GetStrategy 按 ID 读取策略。
func (s *Store) GetStrategy(ctx context.Context, id string) (*Strategy, error) {
	var st Strategy
	if err := s.db.WithContext(ctx).First(&st, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("查询策略失败: %w", err)
	}
	return &st, nil
}

// GetExchangeAccount 按 ID 读取交易所账户。
func (s *Store) GetExchangeAccount(ctx context.Context, id string) (*ExchangeAccount, error) {
	var acc ExchangeAccount
	if err := s.db.WithContext(ctx).First(&acc, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("查询交易所账户失败: %w", err)
	}
	return &acc, nil
}

// ListActiveAccounts 返回所有 active 状态的交易所账户。
func (s *Store) ListActiveAccounts(ctx context.Context) ([]ExchangeAccount, error) {
	var accounts []ExchangeAccount
	if err := s.db.WithContext(ctx).Where("status = ?", "active").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("查询账户列表失败: %w", err)
	}
	return accounts, nil
}

// GetModelConfig 按 ID 读取模型配置。
func (s *Store) GetModelConfig(ctx context.Context, id string) (*ModelConfig, error) {
	var mc ModelConfig
	if err := s.db.WithContext(ctx).First(&mc, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("查询模型配置失败: %w", err)
	}
	return &mc, nil
}

// GetSnapshot 按 ID 读取行情快照。
func (s *Store) GetSnapshot(ctx context.Context, id string) (*MarketSnapshot, error) {
	var snap MarketSnapshot
	if err := s.db.WithContext(ctx).First(&snap, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("查询行情快照失败: %w", err)
	}
	return &snap, nil
}

// GetSignal 按 ID 读取信号。
func (s *Store) GetSignal(ctx context.Context, id string) (*Signal, error) {
	var sig Signal
	if err := s.db.WithContext(ctx).First(&sig, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("查询信号失败: %w", err)
	}
	return &sig, nil
}

// UnconsumedSignals 返回该 trader 尚未处理过的策略信号，按时间倒序截取。
// 已有同 trader 决策记录的信号视为已消费。
func (s *Store) UnconsumedSignals(ctx context.Context, traderID, strategyID string, limit int) ([]Signal, error) {
	var signals []Signal
	sub := s.db.Model(&DecisionLog{}).
		Select("signal_id").
		Where("trader_id = ? AND signal_id IS NOT NULL", traderID)
	err := s.db.WithContext(ctx).
		Where("strategy_id = ?", strategyID).
		Where("id NOT IN (?)", sub).
		Order("created_at DESC").
		Limit(limit).
		Find(&signals).Error
	if err != nil {
		return nil, fmt.Errorf("查询未消费信号失败: %w", err)
	}
	return signals, nil
}

// FindDecisionByClientOrderID 按幂等键查找决策；不存在时返回 nil。
func (s *Store) FindDecisionByClientOrderID(ctx context.Context, clientOrderID string) (*DecisionLog, error) {
	var d DecisionLog
	err := s.db.WithContext(ctx).First(&d, "client_order_id = ?", clientOrderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询决策记录失败: %w", err)
	}
	return &d, nil
}

// CreateDecision 写入新决策记录。
func (s *Store) CreateDecision(ctx context.Context, d *DecisionLog) error {
	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("写入决策记录失败: %w", err)
	}
	return nil
}

// SaveDecision 持久化决策记录的全部字段。
func (s *Store) SaveDecision(ctx context.Context, d *DecisionLog) error {
	if err := s.db.WithContext(ctx).Save(d).Error; err != nil {
		return fmt.Errorf("更新决策记录失败: %w", err)
	}
	return nil
}

// GetDecision 按 ID 读取决策记录。
func (s *Store) GetDecision(ctx context.Context, id string) (*DecisionLog, error) {
	var d DecisionLog
	if err := s.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("查询决策记录失败: %w", err)
	}
	return &d, nil
}

// DecisionFilter 为决策回放的筛选条件。
type DecisionFilter struct {
	TraderID string
	Status   string
	IsPaper  *bool
	Limit    int
}

// ListDecisions 按筛选条件返回决策记录，按时间倒序。
func (s *Store) ListDecisions(ctx context.Context, f DecisionFilter) ([]DecisionLog, error) {
	q := s.db.WithContext(ctx).Model(&DecisionLog{})
	if f.TraderID != "" {
		q = q.Where("trader_id = ?", f.TraderID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.IsPaper != nil {
		q = q.Where("is_paper = ?", *f.IsPaper)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var decisions []DecisionLog
	if err := q.Order("created_at DESC").Limit(limit).Find(&decisions).Error; err != nil {
		return nil, fmt.Errorf("查询决策列表失败: %w", err)
	}
	return decisions, nil
}

// DecisionsBySignal 列出同一信号触发的全部决策,按创建时间升序。
func (s *Store) DecisionsBySignal(ctx context.Context, signalID string) ([]DecisionLog, error) {
	var decisions []DecisionLog
	err := s.db.WithContext(ctx).
		Where("signal_id = ?", signalID).
		Order("created_at ASC").
		Find(&decisions).Error
	if err != nil {
		return nil, fmt.Errorf("查询信号决策失败: %w", err)
	}
	return decisions, nil
}

// FindDecisionByTradePlanID 查找创建了指定计划的决策;不存在时返回 nil。
func (s *Store) FindDecisionByTradePlanID(ctx context.Context, tradePlanID string) (*DecisionLog, error) {
	var d DecisionLog
	err := s.db.WithContext(ctx).First(&d, "trade_plan_id = ?", tradePlanID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询决策记录失败: %w", err)
	}
	return &d, nil
}

// RecentExecutedDecisions 返回 trader 在时间窗内已执行的决策,供冷却检查。
func (s *Store) RecentExecutedDecisions(ctx context.Context, traderID string, since time.Time) ([]DecisionLog, error) {
	var decisions []DecisionLog
	err := s.db.WithContext(ctx).
		Where("trader_id = ? AND status = ? AND created_at > ?", traderID, DecisionStatusExecuted, since).
		Find(&decisions).Error
	if err != nil {
		return nil, fmt.Errorf("查询近期已执行决策失败: %w", err)
	}
	return decisions, nil
}

// CreateTradePlan 写入交易计划。
func (s *Store) CreateTradePlan(ctx context.Context, p *TradePlan) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("写入交易计划失败: %w", err)
	}
	return nil
}

// SaveTradePlan 持久化交易计划的全部字段。
func (s *Store) SaveTradePlan(ctx context.Context, p *TradePlan) error {
	if err := s.db.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("更新交易计划失败: %w", err)
	}
	return nil
}

// GetTradePlan 按 ID 读取交易计划。
func (s *Store) GetTradePlan(ctx context.Context, id string) (*TradePlan, error) {
	var p TradePlan
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("查询交易计划失败: %w", err)
	}
	return &p, nil
}

// NonTerminalPlans 返回账户在回看窗口内的非终态实盘计划，用于对账。
func (s *Store) NonTerminalPlans(ctx context.Context, accountID string, since time.Time, batchSize int) ([]TradePlan, error) {
	var plans []TradePlan
	err := s.db.WithContext(ctx).
		Where("exchange_account_id = ?", accountID).
		Where("is_paper = ?", false).
		Where("status NOT IN ?", []string{TradePlanStatusCompleted, TradePlanStatusFailed, TradePlanStatusCancelled}).
		Where("created_at >= ?", since).
		Order("created_at ASC").
		Limit(batchSize).
		Find(&plans).Error
	if err != nil {
		return nil, fmt.Errorf("查询待对账计划失败: %w", err)
	}
	return plans, nil
}

// CountOpenPlans 统计账户当前未到终态的计划数，供纸面模式估算持仓数量。
func (s *Store) CountOpenPlans(ctx context.Context, accountID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&TradePlan{}).
		Where("exchange_account_id = ?", accountID).
		Where("status IN ?", []string{TradePlanStatusEntryPlaced, TradePlanStatusEntryFilled, TradePlanStatusTPSLPlaced}).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("统计未结计划失败: %w", err)
	}
	return int(count), nil
}

// LastPlanTime 返回账户同方向同标的最近一笔未被拒绝的计划时间，用于冷却判断。
func (s *Store) LastPlanTime(ctx context.Context, accountID, symbol, side string) (*time.Time, error) {
	var p TradePlan
	err := s.db.WithContext(ctx).
		Where("exchange_account_id = ? AND symbol = ? AND side = ?", accountID, symbol, side).
		Where("status NOT IN ?", []string{TradePlanStatusFailed, TradePlanStatusCancelled}).
		Order("created_at DESC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询最近计划失败: %w", err)
	}
	return &p.CreatedAt, nil
}

// DailyRealizedPnL 汇总账户当日(UTC)已实现盈亏；无记录时为零。
func (s *Store) DailyRealizedPnL(ctx context.Context, accountID string, now time.Time) (decimal.Decimal, error) {
	dayStart := now.UTC().Truncate(24 * time.Hour)

	var plans []TradePlan
	err := s.db.WithContext(ctx).
		Where("exchange_account_id = ?", accountID).
		Where("updated_at >= ?", dayStart).
		Where("realized_pnl IS NOT NULL").
		Find(&plans).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("查询当日盈亏失败: %w", err)
	}

	total := decimal.Zero
	for _, p := range plans {
		if p.RealizedPnL.Valid {
			total = total.Add(p.RealizedPnL.Decimal)
		}
	}
	return total, nil
}

// CreateExecution 写入委托记录。
func (s *Store) CreateExecution(ctx context.Context, e *Execution) error {
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("写入委托记录失败: %w", err)
	}
	return nil
}

// SaveExecution 持久化委托记录的全部字段。
func (s *Store) SaveExecution(ctx context.Context, e *Execution) error {
	if err := s.db.WithContext(ctx).Save(e).Error; err != nil {
		return fmt.Errorf("更新委托记录失败: %w", err)
	}
	return nil
}

// ExecutionsByPlan 返回计划下全部委托，按创建时间排序。
func (s *Store) ExecutionsByPlan(ctx context.Context, planID string) ([]Execution, error) {
	var execs []Execution
	err := s.db.WithContext(ctx).
		Where("trade_plan_id = ?", planID).
		Order("created_at ASC").
		Find(&execs).Error
	if err != nil {
		return nil, fmt.Errorf("查询计划委托失败: %w", err)
	}
	return execs, nil
}
