package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents 是以整数分表示的金额。所有下单、仓位和止损计算都以分为单位进行，避免浮点误差。
type Cents int64

var hundred = decimal.NewFromInt(100)

// ParseCents 将经纪商返回的价格字符串（可能带有4位小数）四舍五入到2位小数后转换为分。
func ParseCents(value string) (Cents, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("invalid money value %q: %w", value, err)
	}
	return FromDecimal(d), nil
}

// FromDecimal 将美元金额四舍五入到分。
func FromDecimal(d decimal.Decimal) Cents {
	return Cents(d.Round(2).Mul(hundred).IntPart())
}

// FromDollars 将浮点美元金额转换为分，仅用于配置和测试中的字面量。
func FromDollars(dollars float64) Cents {
	return FromDecimal(decimal.NewFromFloat(dollars))
}

// Decimal 返回以美元为单位的精确十进制值。
func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

// Dollars 返回浮点美元值，仅供指标计算使用。
func (c Cents) Dollars() float64 {
	f, _ := c.Decimal().Float64()
	return f
}

// MulFraction 计算 c * fraction，结果向下取整到分。
func (c Cents) MulFraction(fraction float64) Cents {
	d := decimal.NewFromInt(int64(c)).Mul(decimal.NewFromFloat(fraction))
	return Cents(d.Floor().IntPart())
}

// String 以 "12.34" 的形式输出金额。
func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}
