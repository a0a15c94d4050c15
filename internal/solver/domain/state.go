package domain

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Counters 单调不减的累计计数
type Counters struct {
	TotalSettlements uint64          `json:"total_settlements"`
	TotalNetVolume   decimal.Decimal `json:"total_net_volume"`
}

// SettlementState 引擎持有的长期可变状态：按资产累计的手续费与计数器。
// Version 每次提交加一，同一次提交产生的记录带相同的版本号。
type SettlementState struct {
	Version  uint64                             `json:"version"`
	Fees     map[common.Address]decimal.Decimal `json:"fees"`
	Counters Counters                           `json:"counters"`
}

// NewSettlementState 空状态
func NewSettlementState() *SettlementState {
	return &SettlementState{Fees: make(map[common.Address]decimal.Decimal)}
}

// Clone 深拷贝，结算在副本上进行，成功后整体替换
func (s *SettlementState) Clone() *SettlementState {
	out := &SettlementState{
		Version:  s.Version,
		Fees:     make(map[common.Address]decimal.Decimal, len(s.Fees)),
		Counters: s.Counters,
	}
	for asset, amount := range s.Fees {
		out.Fees[asset] = amount
	}
	return out
}

// FeeBalance 某资产的累计手续费
func (s *SettlementState) FeeBalance(asset common.Address) decimal.Decimal {
	return s.Fees[asset]
}

// CreditFee 记入手续费
func (s *SettlementState) CreditFee(asset common.Address, amount decimal.Decimal) {
	if amount.IsZero() {
		return
	}
	s.Fees[asset] = s.Fees[asset].Add(amount)
}

// StateRepository 状态持久化
type StateRepository interface {
	Load(ctx context.Context) (*SettlementState, error)
	// Save 原子地写入新状态与本次记录，记录归属 state.Version
	Save(ctx context.Context, state *SettlementState, records SettlementLog) error
	// Revert 回到 state，并删除版本号大于 state.Version 的记录
	Revert(ctx context.Context, state *SettlementState) error
}

// Store 显式持有的结算状态，替代全局变量。
// 写入只发生在结算或提取手续费时，由调用方的单飞约束串行化。
type Store struct {
	mu    sync.RWMutex
	state *SettlementState
	repo  StateRepository
}

// NewStore 从仓储加载状态
func NewStore(ctx context.Context, repo StateRepository) (*Store, error) {
	state, err := repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settlement state: %w", err)
	}
	if state == nil {
		state = NewSettlementState()
	}
	if state.Fees == nil {
		state.Fees = make(map[common.Address]decimal.Decimal)
	}
	return &Store{state: state, repo: repo}, nil
}

// Snapshot 当前状态的副本
func (s *Store) Snapshot() *SettlementState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Commit 持久化 next 并替换当前状态，返回替换前的状态用于撤销
func (s *Store) Commit(ctx context.Context, next *SettlementState, records SettlementLog) (*SettlementState, error) {
	s.mu.RLock()
	next.Version = s.state.Version + 1
	s.mu.RUnlock()
	if err := s.repo.Save(ctx, next, records); err != nil {
		return nil, fmt.Errorf("persist settlement state: %w", err)
	}
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	return prev, nil
}

// Restore 账本提交失败时回退到 prev
func (s *Store) Restore(ctx context.Context, prev *SettlementState) error {
	if err := s.repo.Revert(ctx, prev); err != nil {
		return fmt.Errorf("restore settlement state: %w", err)
	}
	s.mu.Lock()
	s.state = prev
	s.mu.Unlock()
	return nil
}

// Version 最近一次提交的版本号
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Version
}

func (s *Store) FeeBalance(asset common.Address) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.FeeBalance(asset)
}

func (s *Store) TotalSettlements() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Counters.TotalSettlements
}

func (s *Store) TotalNetVolume() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Counters.TotalNetVolume
}
