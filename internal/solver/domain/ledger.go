package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Permit 签名授权：owner 授权 spender 划走 Value 数量的 Asset，截止 Deadline
type Permit struct {
	Asset    common.Address
	Owner    common.Address
	Spender  common.Address
	Value    decimal.Decimal
	Deadline time.Time
	Auth     Authorization
}

// PermitVerifier 纯函数式的签名校验能力，密码学细节藏在实现里
type PermitVerifier interface {
	Verify(p Permit, nonce uint64) bool
}

// TokenLedger 外部代币账本
type TokenLedger interface {
	// Begin 开启账本事务，事务内的所有划转要么全部生效要么全部回滚
	Begin(ctx context.Context) (LedgerTx, error)
	BalanceOf(ctx context.Context, asset, owner common.Address) (decimal.Decimal, error)
}

// LedgerTx 账本事务
type LedgerTx interface {
	// PermitTransferFrom 校验 permit 并把 Value 从 owner 划到 to，消费 owner 在该资产上的 nonce
	PermitTransferFrom(ctx context.Context, p Permit, to common.Address) error
	Transfer(ctx context.Context, asset, from, to common.Address, amount decimal.Decimal) error
	BalanceOf(ctx context.Context, asset, owner common.Address) (decimal.Decimal, error)
	// OnRollback 注册回滚时执行的补偿动作，按注册的逆序执行
	OnRollback(fn func(ctx context.Context))
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
