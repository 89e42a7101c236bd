package ai

import "encoding/json"

// 交易计划输出的 JSON Schema,随请求下发给支持结构化输出的提供商,
// 返回后再做一次服务端校验。
const tradePlanSchema = `{
  "type": "object",
  "properties": {
    "action": {"type": "string", "enum": ["open", "close", "skip"]},
    "symbol": {"type": "string"},
    "side": {"type": "string", "enum": ["long", "short"]},
    "entry": {
      "type": "object",
      "properties": {
        "type": {"type": "string", "enum": ["market", "limit"]},
        "price": {"type": ["number", "null"]}
      },
      "required": ["type"]
    },
    "position_size": {
      "type": "object",
      "properties": {
        "mode": {"type": "string", "enum": ["notional", "qty"]},
        "value": {"type": "number"}
      },
      "required": ["mode", "value"]
    },
    "leverage": {"type": "integer", "minimum": 1, "maximum": 125},
    "tp": {
      "type": "object",
      "properties": {
        "mode": {"type": "string", "enum": ["percent", "price"]},
        "value": {"type": "number"}
      },
      "required": ["mode", "value"]
    },
    "sl": {
      "type": "object",
      "properties": {
        "mode": {"type": "string", "enum": ["percent", "price"]},
        "value": {"type": "number"}
      },
      "required": ["mode", "value"]
    },
    "time_in_force": {"type": ["string", "null"], "enum": ["GTC", "IOC", null]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reason_summary": {"type": "string", "maxLength": 500},
    "evidence": {
      "type": "object",
      "properties": {
        "signals": {"type": "array"},
        "indicators": {"type": "object"},
        "key_levels": {"type": "object"}
      }
    }
  },
  "required": ["action", "confidence", "reason_summary"],
  "additionalProperties": false
}`

// TradePlanSchema 返回模型输出 Schema 的原始字节。
func TradePlanSchema() json.RawMessage {
	return json.RawMessage(tradePlanSchema)
}

// 交易动作。
const (
	ActionOpen  = "open"
	ActionClose = "close"
	ActionSkip  = "skip"
)

// 持仓方向。
const (
	SideLong  = "long"
	SideShort = "short"
)

// EntryConfig 为入场方式。
type EntryConfig struct {
	Type  string   `json:"type"`
	Price *float64 `json:"price,omitempty"`
}

// PositionSize 为仓位大小,mode 取 notional(USDT 名义)或 qty(合约数量)。
type PositionSize struct {
	Mode  string  `json:"mode"`
	Value float64 `json:"value"`
}

// TPSLConfig 为止盈止损配置,mode 取 percent 或 price。
type TPSLConfig struct {
	Mode  string  `json:"mode"`
	Value float64 `json:"value"`
}

// Evidence 为模型给出的依据,仅用于审计展示。
type Evidence struct {
	Signals    []map[string]any `json:"signals,omitempty"`
	Indicators map[string]any   `json:"indicators,omitempty"`
	KeyLevels  map[string]any   `json:"key_levels,omitempty"`
}

// TradePlanOutput 为校验通过后的模型交易计划。
type TradePlanOutput struct {
	Action        string        `json:"action"`
	Symbol        string        `json:"symbol,omitempty"`
	Side          string        `json:"side,omitempty"`
	Entry         *EntryConfig  `json:"entry,omitempty"`
	PositionSize  *PositionSize `json:"position_size,omitempty"`
	Leverage      int           `json:"leverage,omitempty"`
	TP            *TPSLConfig   `json:"tp,omitempty"`
	SL            *TPSLConfig   `json:"sl,omitempty"`
	TimeInForce   string        `json:"time_in_force,omitempty"`
	Confidence    float64       `json:"confidence"`
	ReasonSummary string        `json:"reason_summary"`
	Evidence      Evidence      `json:"evidence,omitempty"`
}
