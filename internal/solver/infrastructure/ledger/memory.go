// Package ledger TokenLedger 的实现：进程内账本与 MySQL 账本
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/cowsolver/internal/solver/domain"
)

// ErrTxDone 事务已提交或回滚
var ErrTxDone = errors.New("ledger transaction already finished")

type balanceKey struct {
	asset common.Address
	owner common.Address
}

// MemoryLedger 进程内账本。事务串行执行，未提交的写入只对本事务可见。
type MemoryLedger struct {
	mu       sync.RWMutex
	balances map[balanceKey]decimal.Decimal
	nonces   map[balanceKey]uint64

	txLock   chan struct{}
	verifier domain.PermitVerifier
	clock    func() time.Time
}

// NewMemoryLedger 创建空账本
func NewMemoryLedger(verifier domain.PermitVerifier, clock func() time.Time) *MemoryLedger {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryLedger{
		balances: make(map[balanceKey]decimal.Decimal),
		nonces:   make(map[balanceKey]uint64),
		txLock:   make(chan struct{}, 1),
		verifier: verifier,
		clock:    clock,
	}
}

// Mint 直接增加余额，用于初始化
func (l *MemoryLedger) Mint(asset, owner common.Address, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := balanceKey{asset, owner}
	l.balances[k] = l.balances[k].Add(amount)
}

// BalanceOf 已提交的余额
func (l *MemoryLedger) BalanceOf(_ context.Context, asset, owner common.Address) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[balanceKey{asset, owner}], nil
}

// Nonce owner 在 asset 上下一个可用的 permit nonce
func (l *MemoryLedger) Nonce(asset, owner common.Address) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nonces[balanceKey{asset, owner}]
}

// Begin 等待前一个事务结束后开启新事务
func (l *MemoryLedger) Begin(ctx context.Context) (domain.LedgerTx, error) {
	select {
	case l.txLock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &memoryTx{
		ledger:   l,
		balances: make(map[balanceKey]decimal.Decimal),
		nonces:   make(map[balanceKey]uint64),
	}, nil
}

type memoryTx struct {
	ledger       *MemoryLedger
	balances     map[balanceKey]decimal.Decimal
	nonces       map[balanceKey]uint64
	compensators []func(ctx context.Context)
	done         bool
}

func (tx *memoryTx) balance(k balanceKey) decimal.Decimal {
	if v, ok := tx.balances[k]; ok {
		return v
	}
	tx.ledger.mu.RLock()
	defer tx.ledger.mu.RUnlock()
	return tx.ledger.balances[k]
}

func (tx *memoryTx) nonce(k balanceKey) uint64 {
	if v, ok := tx.nonces[k]; ok {
		return v
	}
	tx.ledger.mu.RLock()
	defer tx.ledger.mu.RUnlock()
	return tx.ledger.nonces[k]
}

func (tx *memoryTx) BalanceOf(_ context.Context, asset, owner common.Address) (decimal.Decimal, error) {
	if tx.done {
		return decimal.Zero, ErrTxDone
	}
	return tx.balance(balanceKey{asset, owner}), nil
}

func (tx *memoryTx) Transfer(_ context.Context, asset, from, to common.Address, amount decimal.Decimal) error {
	if tx.done {
		return ErrTxDone
	}
	if amount.IsNegative() {
		return fmt.Errorf("negative transfer amount %s", amount)
	}
	if amount.IsZero() || from == to {
		return nil
	}
	fromKey, toKey := balanceKey{asset, from}, balanceKey{asset, to}
	fromBal := tx.balance(fromKey)
	if fromBal.LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s", domain.ErrInsufficientBalance, from.Hex(), fromBal, asset.Hex(), amount)
	}
	tx.balances[fromKey] = fromBal.Sub(amount)
	tx.balances[toKey] = tx.balance(toKey).Add(amount)
	return nil
}

func (tx *memoryTx) PermitTransferFrom(ctx context.Context, p domain.Permit, to common.Address) error {
	if tx.done {
		return ErrTxDone
	}
	if !tx.ledger.clock().Before(p.Deadline) {
		return fmt.Errorf("%w: permit deadline %s", domain.ErrExpiredAuthorization, p.Deadline.UTC().Format(time.RFC3339))
	}
	k := balanceKey{p.Asset, p.Owner}
	nonce := tx.nonce(k)
	if tx.ledger.verifier == nil || !tx.ledger.verifier.Verify(p, nonce) {
		return fmt.Errorf("%w: owner %s nonce %d", domain.ErrInvalidAuthorization, p.Owner.Hex(), nonce)
	}
	if err := tx.Transfer(ctx, p.Asset, p.Owner, to, p.Value); err != nil {
		return err
	}
	tx.nonces[k] = nonce + 1
	return nil
}

func (tx *memoryTx) OnRollback(fn func(ctx context.Context)) {
	tx.compensators = append(tx.compensators, fn)
}

func (tx *memoryTx) Commit(_ context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	l := tx.ledger
	l.mu.Lock()
	for k, v := range tx.balances {
		l.balances[k] = v
	}
	for k, v := range tx.nonces {
		l.nonces[k] = v
	}
	l.mu.Unlock()
	tx.finish()
	return nil
}

func (tx *memoryTx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	for i := len(tx.compensators) - 1; i >= 0; i-- {
		tx.compensators[i](ctx)
	}
	tx.finish()
	return nil
}

func (tx *memoryTx) finish() {
	tx.done = true
	tx.balances, tx.nonces, tx.compensators = nil, nil, nil
	<-tx.ledger.txLock
}
