// Package memory 进程内的结算状态仓储
package memory

import (
	"context"
	"sync"

	"github.com/wyfcoding/cowsolver/internal/solver/domain"
)

type versionedRecord struct {
	version uint64
	record  domain.Record
}

// StateRepository 保存最新状态与全部记录
type StateRepository struct {
	mu      sync.RWMutex
	state   *domain.SettlementState
	records []versionedRecord
}

func NewStateRepository() *StateRepository {
	return &StateRepository{state: domain.NewSettlementState()}
}

func (r *StateRepository) Load(_ context.Context) (*domain.SettlementState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Clone(), nil
}

func (r *StateRepository) Save(_ context.Context, state *domain.SettlementState, records domain.SettlementLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state.Clone()
	for _, rec := range records {
		r.records = append(r.records, versionedRecord{version: state.Version, record: rec})
	}
	return nil
}

func (r *StateRepository) Revert(_ context.Context, state *domain.SettlementState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state.Clone()
	kept := r.records[:0]
	for _, vr := range r.records {
		if vr.version <= state.Version {
			kept = append(kept, vr)
		}
	}
	r.records = kept
	return nil
}

// Since 版本号大于 afterVersion 的记录，最多 limit 条
func (r *StateRepository) Since(_ context.Context, afterVersion uint64, limit int) (domain.SettlementLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(domain.SettlementLog, 0)
	for _, vr := range r.records {
		if vr.version <= afterVersion {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, vr.record)
	}
	return out, nil
}

// Records 已保存的全部记录
func (r *StateRepository) Records() domain.SettlementLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(domain.SettlementLog, 0, len(r.records))
	for _, vr := range r.records {
		out = append(out, vr.record)
	}
	return out
}
