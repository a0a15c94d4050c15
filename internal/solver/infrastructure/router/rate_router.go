// Package router ExchangeRouter 的实现：账本内固定汇率场所与远程 HTTP 场所
package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/cowsolver/internal/solver/domain"
)

type direction struct {
	in, out common.Address
}

// RateRouter 在同一个账本事务内完成兑换的场所：
// 收取 AmountIn 到场所账户，再从场所账户付出 floor(AmountIn * rate)。
// 汇率按方向设置，未设置的方向使用默认汇率。
type RateRouter struct {
	account common.Address

	mu          sync.RWMutex
	rates       map[direction]decimal.Decimal
	defaultRate decimal.Decimal
}

// NewRateRouter account 为场所持有流动性的账户
func NewRateRouter(account common.Address, defaultRate decimal.Decimal) *RateRouter {
	return &RateRouter{
		account:     account,
		rates:       make(map[direction]decimal.Decimal),
		defaultRate: defaultRate,
	}
}

// SetRate 设置 in -> out 方向每单位输入的输出数量
func (r *RateRouter) SetRate(in, out common.Address, rate decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rates[direction{in, out}] = rate
}

// Rate 当前生效的汇率
func (r *RateRouter) Rate(in, out common.Address) decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rate, ok := r.rates[direction{in, out}]; ok {
		return rate
	}
	return r.defaultRate
}

// Account 场所账户
func (r *RateRouter) Account() common.Address {
	return r.account
}

func (r *RateRouter) Swap(ctx context.Context, tx domain.LedgerTx, req domain.SwapRequest) (decimal.Decimal, error) {
	rate := r.Rate(req.AssetIn, req.AssetOut)
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("no liquidity for %s -> %s", req.AssetIn.Hex(), req.AssetOut.Hex())
	}
	out := req.AmountIn.Mul(rate).Floor()
	if out.LessThan(req.MinAmountOut) {
		return decimal.Zero, fmt.Errorf("%w: venue quotes %s, min %s", domain.ErrInsufficientSwapOutput, out, req.MinAmountOut)
	}

	if err := tx.Transfer(ctx, req.AssetIn, req.Recipient, r.account, req.AmountIn); err != nil {
		return decimal.Zero, fmt.Errorf("venue collect: %w", err)
	}
	if err := tx.Transfer(ctx, req.AssetOut, r.account, req.Recipient, out); err != nil {
		return decimal.Zero, fmt.Errorf("venue pay: %w", err)
	}
	return out, nil
}
