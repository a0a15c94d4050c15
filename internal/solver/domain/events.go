package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const (
	EventIntentAccepted     = "IntentAccepted"
	EventBatchSettled       = "BatchSettled"
	EventParticipantSettled = "ParticipantSettled"
	EventFeesWithdrawn      = "FeesWithdrawn"
)

// Record 结算过程产生的只追加记录
type Record interface {
	EventType() string
	OccurredAt() time.Time
}

type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// IntentAcceptedEvent 意图进入 intake
type IntentAcceptedEvent struct {
	BaseEvent
	IntentID  string         `json:"intent_id"`
	Submitter common.Address `json:"submitter"`
	PairKey   PairKey        `json:"pair_key"`
}

func (e IntentAcceptedEvent) EventType() string { return EventIntentAccepted }

// BatchSettledEvent 单个批次的结算汇总
type BatchSettledEvent struct {
	BaseEvent
	AssetLow   common.Address  `json:"asset_low"`
	AssetHigh  common.Address  `json:"asset_high"`
	Venue      common.Address  `json:"venue"`
	SumForward decimal.Decimal `json:"sum_forward"`
	SumReverse decimal.Decimal `json:"sum_reverse"`
	Net        decimal.Decimal `json:"net"`
	NetAsset   common.Address  `json:"net_asset"`
}

func (e BatchSettledEvent) EventType() string { return EventBatchSettled }

// ParticipantSettledEvent 单个参与者的兑付
type ParticipantSettledEvent struct {
	BaseEvent
	IntentID       string          `json:"intent_id"`
	Submitter      common.Address  `json:"submitter"`
	AssetReceived  common.Address  `json:"asset_received"`
	AmountReceived decimal.Decimal `json:"amount_received"`
}

func (e ParticipantSettledEvent) EventType() string { return EventParticipantSettled }

// FeesWithdrawnEvent operator 提取手续费
type FeesWithdrawnEvent struct {
	BaseEvent
	Asset  common.Address  `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

func (e FeesWithdrawnEvent) EventType() string { return EventFeesWithdrawn }

// SettlementLog 一次结算调用产生的记录序列
type SettlementLog []Record

// BatchesSettled 过滤出 BatchSettled 记录
func (l SettlementLog) BatchesSettled() []BatchSettledEvent {
	out := make([]BatchSettledEvent, 0)
	for _, r := range l {
		if e, ok := r.(BatchSettledEvent); ok {
			out = append(out, e)
		}
	}
	return out
}

// ParticipantsSettled 过滤出 ParticipantSettled 记录
func (l SettlementLog) ParticipantsSettled() []ParticipantSettledEvent {
	out := make([]ParticipantSettledEvent, 0)
	for _, r := range l {
		if e, ok := r.(ParticipantSettledEvent); ok {
			out = append(out, e)
		}
	}
	return out
}
