package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var compiledTradePlanSchema = jsonschema.MustCompileString("trade_plan.json", tradePlanSchema)

// ValidationResult 为模型输出校验结果。
type ValidationResult struct {
	Valid  bool
	Plan   *TradePlanOutput
	Errors []string
}

// ValidateTradePlan 对模型输出做 JSON 解析、Schema 校验与跨字段检查。
func ValidateTradePlan(content string) ValidationResult {
	var raw any
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return ValidationResult{Errors: []string{truncateError("Invalid JSON: " + err.Error())}}
	}

	if err := compiledTradePlanSchema.Validate(raw); err != nil {
		return ValidationResult{Errors: []string{truncateError("Schema error: " + err.Error())}}
	}

	var plan TradePlanOutput
	if err := json.Unmarshal([]byte(content), &plan); err != nil {
		return ValidationResult{Errors: []string{truncateError("Validation error: " + err.Error())}}
	}
	if plan.Leverage == 0 {
		plan.Leverage = 1
	}

	if errs := crossFieldErrors(&plan); len(errs) > 0 {
		return ValidationResult{Errors: errs}
	}

	return ValidationResult{Valid: true, Plan: &plan}
}

// crossFieldErrors 检查 Schema 表达不了的约束:open 动作必须给全开仓字段。
func crossFieldErrors(plan *TradePlanOutput) []string {
	var errs []string

	if plan.Action == ActionOpen {
		if plan.Symbol == "" {
			errs = append(errs, "symbol is required when action is 'open'")
		}
		if plan.Side == "" {
			errs = append(errs, "side is required when action is 'open'")
		}
		if plan.Entry == nil {
			errs = append(errs, "entry is required when action is 'open'")
		}
		if plan.PositionSize == nil {
			errs = append(errs, "position_size is required when action is 'open'")
		}
	}
	if plan.PositionSize != nil && plan.PositionSize.Value <= 0 {
		errs = append(errs, "position_size.value must be positive")
	}
	if plan.TP != nil && plan.TP.Value <= 0 {
		errs = append(errs, "tp.value must be positive")
	}
	if plan.SL != nil && plan.SL.Value <= 0 {
		errs = append(errs, "sl.value must be positive")
	}

	return errs
}

func truncateError(msg string) string {
	msg = strings.ReplaceAll(msg, "\n", " ")
	if len(msg) > 200 {
		return msg[:200]
	}
	return msg
}

// FormatValidationErrors 把校验错误合并为单条错误消息。
func FormatValidationErrors(errs []string) string {
	return fmt.Sprintf("invalid model output: %s", strings.Join(errs, "; "))
}
