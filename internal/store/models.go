package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TradePlanStatus 为交易计划状态机取值，只允许前向推进。
const (
	TradePlanStatusPending    = "pending"
	TradePlanStatusEntryPlaced = "entry_placed"
	TradePlanStatusEntryFilled = "entry_filled"
	TradePlanStatusTPSLPlaced  = "tp_sl_placed"
	TradePlanStatusCompleted   = "completed"
	TradePlanStatusFailed      = "failed"
	TradePlanStatusCancelled   = "cancelled"
)

// ExecutionStatus 为单笔委托状态。
const (
	ExecutionStatusPending         = "pending"
	ExecutionStatusSubmitted       = "submitted"
	ExecutionStatusFilled          = "filled"
	ExecutionStatusPartiallyFilled = "partially_filled"
	ExecutionStatusFailed          = "failed"
	ExecutionStatusCancelled       = "cancelled"
)

// DecisionStatus 为决策日志状态。
const (
	DecisionStatusPending  = "pending"
	DecisionStatusAllowed  = "allowed"
	DecisionStatusBlocked  = "blocked"
	DecisionStatusExecuted = "executed"
	DecisionStatusFailed   = "failed"
)

// OrderType 标记 Execution 所属的委托类别。
const (
	OrderTypeEntry = "entry"
	OrderTypeTP    = "tp"
	OrderTypeSL    = "sl"
)

// TraderMode 取值。
const (
	TraderModePaper = "paper"
	TraderModeLive  = "live"
)

// Trader 绑定交易所账户、模型配置与策略。
type Trader struct {
	ID                     string              `gorm:"column:id;primaryKey;size:36"`
	Name                   string              `gorm:"column:name;size:100;not null"`
	ExchangeAccountID      string              `gorm:"column:exchange_account_id;size:36;not null;index"`
	ModelConfigID          string              `gorm:"column:model_config_id;size:36;not null"`
	StrategyID             string              `gorm:"column:strategy_id;size:36;not null"`
	Enabled                bool                `gorm:"column:enabled;not null;default:false;index"`
	Mode                   string              `gorm:"column:mode;size:10;not null;default:paper"`
	MaxConcurrentPositions int                 `gorm:"column:max_concurrent_positions;not null;default:3"`
	DailyLossCap           decimal.NullDecimal `gorm:"column:daily_loss_cap;type:decimal(20,8)"`
	CreatedAt              time.Time           `gorm:"column:created_at"`
	UpdatedAt              time.Time           `gorm:"column:updated_at"`
}

func (Trader) TableName() string { return "traders" }

// Strategy 描述策略配置；指标与触发规则由外部评估器消费，这里只读取风控参数。
type Strategy struct {
	ID              string         `gorm:"column:id;primaryKey;size:36"`
	Name            string         `gorm:"column:name;size:100;not null"`
	Enabled         bool           `gorm:"column:enabled;not null;default:false;index"`
	Symbols         datatypes.JSON `gorm:"column:symbols"`
	Timeframe       string         `gorm:"column:timeframe;size:10;not null;default:1h"`
	RiskJSON        datatypes.JSON `gorm:"column:risk_json"`
	CooldownSeconds int            `gorm:"column:cooldown_seconds;not null;default:3600"`
	CreatedAt       time.Time      `gorm:"column:created_at"`
	UpdatedAt       time.Time      `gorm:"column:updated_at"`
}

func (Strategy) TableName() string { return "strategies" }

// ExchangeAccount 保存交易所接入配置，密钥均为密文。
type ExchangeAccount struct {
	ID                 string    `gorm:"column:id;primaryKey;size:36"`
	Exchange           string    `gorm:"column:exchange;size:20;not null"`
	Label              string    `gorm:"column:label;size:100;not null"`
	APIKeyEncrypted    string    `gorm:"column:api_key_encrypted;not null"`
	APISecretEncrypted string    `gorm:"column:api_secret_encrypted;not null"`
	IsTestnet          bool      `gorm:"column:is_testnet;not null;default:false"`
	Status             string    `gorm:"column:status;size:50;not null;default:active"`
	CreatedAt          time.Time `gorm:"column:created_at"`
	UpdatedAt          time.Time `gorm:"column:updated_at"`
}

func (ExchangeAccount) TableName() string { return "exchange_accounts" }

// ModelConfig 保存模型提供商配置，密钥为密文。
type ModelConfig struct {
	ID              string    `gorm:"column:id;primaryKey;size:36"`
	Provider        string    `gorm:"column:provider;size:50;not null"`
	ModelName       string    `gorm:"column:model_name;size:100;not null"`
	Label           string    `gorm:"column:label;size:100;not null"`
	BaseURL         string    `gorm:"column:base_url;size:255"`
	APIKeyEncrypted string    `gorm:"column:api_key_encrypted;not null"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

func (ModelConfig) TableName() string { return "model_configs" }

// MarketSnapshot 为信号引用的行情快照。
type MarketSnapshot struct {
	ID         string         `gorm:"column:id;primaryKey;size:36"`
	Exchange   string         `gorm:"column:exchange;size:20;not null;index"`
	Symbol     string         `gorm:"column:symbol;size:50;not null;index"`
	Timeframe  string         `gorm:"column:timeframe;size:10;not null"`
	Timestamp  time.Time      `gorm:"column:timestamp;not null;index"`
	OHLCV      datatypes.JSON `gorm:"column:ohlcv;not null"`
	Indicators datatypes.JSON `gorm:"column:indicators"`
	CreatedAt  time.Time      `gorm:"column:created_at"`
}

func (MarketSnapshot) TableName() string { return "market_snapshots" }

// Signal 为外部触发评估器产出的交易信号，创建后不可变。
type Signal struct {
	ID            string          `gorm:"column:id;primaryKey;size:36"`
	StrategyID    string          `gorm:"column:strategy_id;size:36;not null;index"`
	Symbol        string          `gorm:"column:symbol;size:50;not null;index"`
	Timeframe     string          `gorm:"column:timeframe;size:10;not null"`
	Side          string          `gorm:"column:side;size:10;not null"`
	Score         decimal.Decimal `gorm:"column:score;type:decimal(5,2);not null"`
	SnapshotID    *string         `gorm:"column:snapshot_id;size:36"`
	ReasonSummary string          `gorm:"column:reason_summary"`
	CreatedAt     time.Time       `gorm:"column:created_at;index"`
}

func (Signal) TableName() string { return "signals" }

// TradePlan 为一次持仓动作的持久化记录；状态只能前向推进，记录从不删除。
type TradePlan struct {
	ID                string              `gorm:"column:id;primaryKey;size:36"`
	ExchangeAccountID string              `gorm:"column:exchange_account_id;size:36;not null;index"`
	ClientOrderID     string              `gorm:"column:client_order_id;size:100;not null;uniqueIndex"`
	Symbol            string              `gorm:"column:symbol;size:50;not null;index"`
	Side              string              `gorm:"column:side;size:10;not null"`
	Quantity          decimal.Decimal     `gorm:"column:quantity;type:decimal(20,8);not null"`
	EntryPrice        decimal.NullDecimal `gorm:"column:entry_price;type:decimal(20,8)"`
	TPPrice           decimal.NullDecimal `gorm:"column:tp_price;type:decimal(20,8)"`
	SLPrice           decimal.NullDecimal `gorm:"column:sl_price;type:decimal(20,8)"`
	Leverage          decimal.Decimal     `gorm:"column:leverage;type:decimal(5,2);not null;default:1"`
	RealizedPnL       decimal.NullDecimal `gorm:"column:realized_pnl;type:decimal(20,8)"`
	EntryOrder        datatypes.JSON      `gorm:"column:entry_order"`
	TPOrder           datatypes.JSON      `gorm:"column:tp_order"`
	SLOrder           datatypes.JSON      `gorm:"column:sl_order"`
	Status            string              `gorm:"column:status;size:20;not null;default:pending;index"`
	IsPaper           bool                `gorm:"column:is_paper;not null;default:true"`
	ErrorMessage      string              `gorm:"column:error_message"`
	CreatedAt         time.Time           `gorm:"column:created_at"`
	UpdatedAt         time.Time           `gorm:"column:updated_at"`
}

func (TradePlan) TableName() string { return "trade_plans" }

// IsTerminal 判断计划是否已到终态。
func (p *TradePlan) IsTerminal() bool {
	switch p.Status {
	case TradePlanStatusCompleted, TradePlanStatusFailed, TradePlanStatusCancelled:
		return true
	}
	return false
}

// Execution 为交易所单笔委托记录，exchange_order_id 全局唯一。
type Execution struct {
	ID               string              `gorm:"column:id;primaryKey;size:36"`
	TradePlanID      string              `gorm:"column:trade_plan_id;size:36;not null;index"`
	OrderType        string              `gorm:"column:order_type;size:20;not null"`
	ExchangeOrderID  *string             `gorm:"column:exchange_order_id;size:100;uniqueIndex"`
	ClientOrderID    string              `gorm:"column:client_order_id;size:100;not null;index"`
	Symbol           string              `gorm:"column:symbol;size:50;not null"`
	Side             string              `gorm:"column:side;size:10;not null"`
	Quantity         decimal.Decimal     `gorm:"column:quantity;type:decimal(20,8);not null"`
	Price            decimal.NullDecimal `gorm:"column:price;type:decimal(20,8)"`
	Status           string              `gorm:"column:status;size:20;not null;default:pending;index"`
	ExchangeResponse datatypes.JSON      `gorm:"column:exchange_response"`
	ErrorMessage     string              `gorm:"column:error_message"`
	IsPaper          bool                `gorm:"column:is_paper;not null;default:true"`
	FilledAt         *time.Time          `gorm:"column:filled_at"`
	CreatedAt        time.Time           `gorm:"column:created_at"`
	UpdatedAt        time.Time           `gorm:"column:updated_at"`
}

func (Execution) TableName() string { return "executions" }

// IsTerminal 判断委托是否已到终态。
func (e *Execution) IsTerminal() bool {
	switch e.Status {
	case ExecutionStatusFilled, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// DecisionLog 为信号×trader 的完整审计记录，client_order_id 唯一。
type DecisionLog struct {
	ID             string              `gorm:"column:id;primaryKey;size:36"`
	TraderID       string              `gorm:"column:trader_id;size:36;not null;index"`
	SignalID       *string             `gorm:"column:signal_id;size:36;index"`
	ClientOrderID  string              `gorm:"column:client_order_id;size:100;not null;uniqueIndex"`
	Status         string              `gorm:"column:status;size:20;not null;default:pending;index"`
	InputSnapshot  datatypes.JSON      `gorm:"column:input_snapshot"`
	TradePlanJSON  datatypes.JSON      `gorm:"column:trade_plan"`
	Confidence     decimal.NullDecimal `gorm:"column:confidence;type:decimal(3,2)"`
	ReasonSummary  string              `gorm:"column:reason_summary"`
	Evidence       datatypes.JSON      `gorm:"column:evidence"`
	RiskAllowed    *bool               `gorm:"column:risk_allowed"`
	RiskReasons    datatypes.JSON      `gorm:"column:risk_reasons"`
	NormalizedPlan datatypes.JSON      `gorm:"column:normalized_plan"`
	TradePlanID    *string             `gorm:"column:trade_plan_id;size:36"`
	ExecutionError string              `gorm:"column:execution_error"`
	ModelProvider  string              `gorm:"column:model_provider;size:50"`
	ModelName      string              `gorm:"column:model_name;size:100"`
	TokensUsed     *int                `gorm:"column:tokens_used"`
	IsPaper        bool                `gorm:"column:is_paper;not null;default:true"`
	CreatedAt      time.Time           `gorm:"column:created_at;index"`
}

func (DecisionLog) TableName() string { return "decision_logs" }

// BeforeCreate 为缺省主键补充 UUID。
func (t *Trader) BeforeCreate(*gorm.DB) error { ensureID(&t.ID); return nil }

func (s *Strategy) BeforeCreate(*gorm.DB) error { ensureID(&s.ID); return nil }

func (a *ExchangeAccount) BeforeCreate(*gorm.DB) error { ensureID(&a.ID); return nil }

func (m *ModelConfig) BeforeCreate(*gorm.DB) error { ensureID(&m.ID); return nil }

func (s *MarketSnapshot) BeforeCreate(*gorm.DB) error { ensureID(&s.ID); return nil }

func (s *Signal) BeforeCreate(*gorm.DB) error { ensureID(&s.ID); return nil }

func (p *TradePlan) BeforeCreate(*gorm.DB) error { ensureID(&p.ID); return nil }

func (e *Execution) BeforeCreate(*gorm.DB) error { ensureID(&e.ID); return nil }

func (d *DecisionLog) BeforeCreate(*gorm.DB) error { ensureID(&d.ID); return nil }

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}
