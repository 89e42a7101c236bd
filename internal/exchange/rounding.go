package exchange

import "github.com/shopspring/decimal"

// TruncateQuantity 按数量精度向零截断,绝不向上进位。
func TruncateQuantity(quantity decimal.Decimal, precision int32) decimal.Decimal {
	return quantity.Truncate(precision)
}

// RoundPrice 按价格精度四舍五入。
func RoundPrice(price decimal.Decimal, precision int32) decimal.Decimal {
	return price.Round(precision)
}
