// Package mysql 基于 GORM 的结算状态仓储
package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/cowsolver/internal/solver/domain"
	"github.com/wyfcoding/cowsolver/pkg/db"
	"gorm.io/gorm"
)

// StateRepository 状态、手续费余额与记录在同一个数据库事务内写入
type StateRepository struct {
	db *db.DB
}

func NewStateRepository(database *db.DB) *StateRepository {
	return &StateRepository{db: database}
}

// AutoMigrate 建表，dev 环境使用
func (r *StateRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&SettlementStatePO{}, &FeeBalancePO{}, &RecordPO{})
}

func (r *StateRepository) Load(ctx context.Context) (*domain.SettlementState, error) {
	var state SettlementStatePO
	err := r.db.WithContext(ctx).Where("id = ?", stateRowID).First(&state).Error
	statePtr := &state
	if errors.Is(err, gorm.ErrRecordNotFound) {
		statePtr = nil
	} else if err != nil {
		return nil, err
	}

	var fees []FeeBalancePO
	if err := r.db.WithContext(ctx).Find(&fees).Error; err != nil {
		return nil, err
	}
	return stateToDomain(statePtr, fees), nil
}

func (r *StateRepository) Save(ctx context.Context, state *domain.SettlementState, records domain.SettlementLog) error {
	return r.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := writeState(tx, state); err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		pos := make([]*RecordPO, 0, len(records))
		for _, rec := range records {
			po, err := newRecordPO(state.Version, rec)
			if err != nil {
				return fmt.Errorf("encode %s record: %w", rec.EventType(), err)
			}
			pos = append(pos, po)
		}
		return tx.CreateInBatches(pos, 500).Error
	})
}

func (r *StateRepository) Revert(ctx context.Context, state *domain.SettlementState) error {
	return r.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("version > ?", state.Version).Delete(&RecordPO{}).Error; err != nil {
			return err
		}
		// 删除后整体重写，回到 state 中不存在的资产余额
		if err := tx.Where("1 = 1").Delete(&FeeBalancePO{}).Error; err != nil {
			return err
		}
		return writeState(tx, state)
	})
}

// Since 读取 version 之后的记录，按写入顺序；limit <= 0 不限条数
func (r *StateRepository) Since(ctx context.Context, afterVersion uint64, limit int) (domain.SettlementLog, error) {
	q := r.db.WithContext(ctx).Where("version > ?", afterVersion).Order("id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var pos []RecordPO
	if err := q.Find(&pos).Error; err != nil {
		return nil, err
	}
	out := make(domain.SettlementLog, 0, len(pos))
	for i := range pos {
		rec, err := pos[i].toDomain()
		if err != nil {
			return nil, fmt.Errorf("decode record %d: %w", pos[i].ID, err)
		}
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

func writeState(tx *gorm.DB, state *domain.SettlementState) error {
	po := &SettlementStatePO{
		ID:               stateRowID,
		Version:          state.Version,
		TotalSettlements: state.Counters.TotalSettlements,
		TotalNetVolume:   state.Counters.TotalNetVolume,
	}
	if err := db.Upsert(tx, po, []string{"id"}, []string{"version", "total_settlements", "total_net_volume", "updated_at"}); err != nil {
		return fmt.Errorf("write solver state: %w", err)
	}
	for asset, amount := range state.Fees {
		fee := &FeeBalancePO{Asset: asset.Hex(), Amount: amount}
		if err := db.Upsert(tx, fee, []string{"asset"}, []string{"amount", "updated_at"}); err != nil {
			return fmt.Errorf("write fee balance %s: %w", asset.Hex(), err)
		}
	}
	return nil
}
