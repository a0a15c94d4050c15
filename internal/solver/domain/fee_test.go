package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestFeeFloor(t *testing.T) {
	p := DefaultFeePolicy()
	cases := []struct {
		in, fee int64
	}{
		{100_000_000, 50_000},
		{50_000_000, 25_000},
		{1_999, 0},
		{2_000, 1},
		{3_999, 1},
		{0, 0},
	}
	for _, c := range cases {
		got := p.Fee(decimal.NewFromInt(c.in))
		assert.True(t, got.Equal(decimal.NewFromInt(c.fee)), "fee(%d) = %s, want %d", c.in, got, c.fee)
		assert.True(t, p.Payout(decimal.NewFromInt(c.in)).Equal(decimal.NewFromInt(c.in-c.fee)))
	}
}

func TestFeePolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultFeePolicy().Validate())
	assert.NoError(t, FeePolicy{Numerator: 0, Denominator: 1}.Validate())
	assert.Error(t, FeePolicy{Numerator: 1, Denominator: 0}.Validate())
	assert.Error(t, FeePolicy{Numerator: -1, Denominator: 10}.Validate())
	assert.Error(t, FeePolicy{Numerator: 10, Denominator: 10}.Validate())
}

func TestFeePlusPayoutIsAmount(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		den := rapid.Int64Range(1, 1_000_000).Draw(t, "den")
		num := rapid.Int64Range(0, den-1).Draw(t, "num")
		amount := decimal.NewFromInt(rapid.Int64Range(0, 1<<52).Draw(t, "amount"))
		p := FeePolicy{Numerator: num, Denominator: den}

		fee := p.Fee(amount)
		if !fee.IsInteger() || fee.IsNegative() || fee.GreaterThan(amount) {
			t.Fatalf("fee %s out of range for amount %s", fee, amount)
		}
		if !fee.Add(p.Payout(amount)).Equal(amount) {
			t.Fatalf("fee + payout != amount for %s", amount)
		}
		// 确定性
		if !p.Fee(amount).Equal(fee) {
			t.Fatalf("fee not deterministic")
		}
	})
}
