package mysql

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/cowsolver/internal/solver/domain"
)

const stateRowID = 1

// SettlementStatePO 计数器与版本号，单行表
type SettlementStatePO struct {
	ID               uint            `gorm:"column:id;primaryKey"`
	Version          uint64          `gorm:"column:version;not null"`
	TotalSettlements uint64          `gorm:"column:total_settlements;not null"`
	TotalNetVolume   decimal.Decimal `gorm:"column:total_net_volume;type:decimal(65,0);not null"`
	UpdatedAt        time.Time       `gorm:"column:updated_at"`
}

func (SettlementStatePO) TableName() string {
	return "solver_state"
}

// FeeBalancePO 按资产累计的手续费
type FeeBalancePO struct {
	Asset     string          `gorm:"column:asset;type:char(42);primaryKey"`
	Amount    decimal.Decimal `gorm:"column:amount;type:decimal(65,0);not null"`
	UpdatedAt time.Time       `gorm:"column:updated_at"`
}

func (FeeBalancePO) TableName() string {
	return "solver_fee_balances"
}

// RecordPO 只追加的结算记录
type RecordPO struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Version    uint64    `gorm:"column:version;index;not null"`
	EventType  string    `gorm:"column:event_type;type:varchar(32);index;not null"`
	Payload    string    `gorm:"column:payload;type:json;not null"`
	OccurredAt time.Time `gorm:"column:occurred_at;not null"`
}

func (RecordPO) TableName() string {
	return "solver_records"
}

func newRecordPO(version uint64, r domain.Record) (*RecordPO, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return &RecordPO{
		Version:    version,
		EventType:  r.EventType(),
		Payload:    string(payload),
		OccurredAt: r.OccurredAt(),
	}, nil
}

// toDomain 解码记录
func (po *RecordPO) toDomain() (domain.Record, error) {
	var (
		rec domain.Record
		err error
	)
	switch po.EventType {
	case domain.EventBatchSettled:
		var e domain.BatchSettledEvent
		err = json.Unmarshal([]byte(po.Payload), &e)
		rec = e
	case domain.EventParticipantSettled:
		var e domain.ParticipantSettledEvent
		err = json.Unmarshal([]byte(po.Payload), &e)
		rec = e
	case domain.EventFeesWithdrawn:
		var e domain.FeesWithdrawnEvent
		err = json.Unmarshal([]byte(po.Payload), &e)
		rec = e
	case domain.EventIntentAccepted:
		var e domain.IntentAcceptedEvent
		err = json.Unmarshal([]byte(po.Payload), &e)
		rec = e
	default:
		return nil, nil
	}
	return rec, err
}

func stateToDomain(s *SettlementStatePO, fees []FeeBalancePO) *domain.SettlementState {
	out := domain.NewSettlementState()
	if s != nil {
		out.Version = s.Version
		out.Counters = domain.Counters{TotalSettlements: s.TotalSettlements, TotalNetVolume: s.TotalNetVolume}
	}
	for _, f := range fees {
		out.Fees[common.HexToAddress(f.Asset)] = f.Amount
	}
	return out
}
