package ai

import (
	"encoding/json"
	"fmt"
)

const systemPrompt = `You are a professional cryptocurrency trading assistant. Your task is to analyze market signals and generate precise trade plans.

RULES:
1. Always respond with valid JSON matching the required schema
2. Be conservative - if uncertain, set action to "skip"
3. Never exceed the risk limits provided
4. Confidence should reflect your certainty (0.0 to 1.0)
5. Keep reason_summary concise but informative (max 500 chars)
6. Do not include any explanation outside the JSON

OUTPUT SCHEMA:
{
  "action": "open" | "close" | "skip",
  "symbol": "BTCUSDT",
  "side": "long" | "short",
  "entry": { "type": "market" | "limit", "price": number|null },
  "position_size": { "mode": "notional"|"qty", "value": number },
  "leverage": number (1-125),
  "tp": { "mode": "percent"|"price", "value": number },
  "sl": { "mode": "percent"|"price", "value": number },
  "time_in_force": "GTC"|"IOC"|null,
  "confidence": number (0-1),
  "reason_summary": "string",
  "evidence": { "signals": [], "indicators": {}, "key_levels": {} }
}

If action is "skip", only action, confidence, reason_summary, and evidence are required.`

const userPromptTemplate = `Analyze this trading signal and generate a trade plan:

SIGNAL:
%s

MARKET SNAPSHOT:
%s

RISK PROFILE:
%s

ACCOUNT STATE:
%s

Generate a trade plan following the schema. Respond with JSON only.`

// BuildPrompt 组装 system/user 提示词,入参会被序列化为缩进 JSON。
func BuildPrompt(signal, snapshot, riskProfile, accountState any) (string, string, error) {
	blocks := make([]string, 0, 4)
	for _, v := range []any{signal, snapshot, riskProfile, accountState} {
		raw, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", "", fmt.Errorf("序列化提示词入参失败: %w", err)
		}
		blocks = append(blocks, string(raw))
	}

	user := fmt.Sprintf(userPromptTemplate, blocks[0], blocks[1], blocks[2], blocks[3])
	return systemPrompt, user, nil
}
