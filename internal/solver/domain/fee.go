package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FeePolicy 固定比例协议手续费：fee(x) = floor(x * Numerator / Denominator)
type FeePolicy struct {
	Numerator   int64 `json:"numerator"`
	Denominator int64 `json:"denominator"`
}

// DefaultFeePolicy 默认 0.05%
func DefaultFeePolicy() FeePolicy {
	return FeePolicy{Numerator: 5, Denominator: 10000}
}

// Validate 校验费率配置
func (p FeePolicy) Validate() error {
	if p.Denominator <= 0 {
		return fmt.Errorf("fee denominator must be positive, got %d", p.Denominator)
	}
	if p.Numerator < 0 || p.Numerator >= p.Denominator {
		return fmt.Errorf("fee numerator must be in [0, %d), got %d", p.Denominator, p.Numerator)
	}
	return nil
}

// Fee 计算手续费，向下取整到整数单位
func (p FeePolicy) Fee(amount decimal.Decimal) decimal.Decimal {
	q, _ := amount.Mul(decimal.NewFromInt(p.Numerator)).QuoRem(decimal.NewFromInt(p.Denominator), 0)
	return q
}

// Payout 参与者实得数量 amount - fee(amount)
func (p FeePolicy) Payout(amount decimal.Decimal) decimal.Decimal {
	return amount.Sub(p.Fee(amount))
}
