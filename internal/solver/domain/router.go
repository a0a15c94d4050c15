package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// SwapRequest 一次净额兑换请求
type SwapRequest struct {
	Reference    string
	Venue        common.Address
	AssetIn      common.Address
	AssetOut     common.Address
	AmountIn     decimal.Decimal
	MinAmountOut decimal.Decimal
	// Recipient 付出 AmountIn 并接收兑换结果的账户（引擎托管账户）
	Recipient common.Address
}

// ExchangeRouter 外部交易场所，只用于净额部分
type ExchangeRouter interface {
	Swap(ctx context.Context, tx LedgerTx, req SwapRequest) (decimal.Decimal, error)
}

// VenueRegistry 按地址查找交易场所
type VenueRegistry interface {
	Router(venue common.Address) (ExchangeRouter, bool)
}

// Venues 基于 map 的 VenueRegistry
type Venues map[common.Address]ExchangeRouter

func (v Venues) Router(venue common.Address) (ExchangeRouter, bool) {
	r, ok := v[venue]
	return r, ok
}
