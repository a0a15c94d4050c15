package application

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/cowsolver/internal/solver/domain"
)

// AuthorizationDTO permit 签名，r/s 为 0x 前缀的 32 字节十六进制
type AuthorizationDTO struct {
	V uint8  `json:"v" binding:"required"`
	R string `json:"r" binding:"required"`
	S string `json:"s" binding:"required"`
}

// SubmitIntentRequest 提交意图请求 DTO，HTTP 与 Kafka 共用
type SubmitIntentRequest struct {
	Submitter     string           `json:"submitter" binding:"required"`
	AssetSell     string           `json:"asset_sell" binding:"required"`
	AssetBuy      string           `json:"asset_buy" binding:"required"`
	Venue         string           `json:"venue" binding:"required"`
	AmountIn      string           `json:"amount_in" binding:"required"` // 整数基本单位
	Expiry        int64            `json:"expiry" binding:"required"`    // unix 秒
	Authorization AuthorizationDTO `json:"authorization" binding:"required"`
}

// ToIntent 解析为领域对象，字段语义校验交给 IntentQueue
func (r *SubmitIntentRequest) ToIntent() (domain.Intent, error) {
	var it domain.Intent
	addrs := []struct {
		name string
		raw  string
		dst  *common.Address
	}{
		{"submitter", r.Submitter, &it.Submitter},
		{"asset_sell", r.AssetSell, &it.AssetSell},
		{"asset_buy", r.AssetBuy, &it.AssetBuy},
		{"venue", r.Venue, &it.Venue},
	}
	for _, a := range addrs {
		addr, err := ParseAddress(a.raw)
		if err != nil {
			return it, fmt.Errorf("%w: %s: %v", domain.ErrInvalidIntent, a.name, err)
		}
		*a.dst = addr
	}

	amount, err := decimal.NewFromString(r.AmountIn)
	if err != nil {
		return it, fmt.Errorf("%w: amount_in: %v", domain.ErrInvalidIntent, err)
	}
	it.AmountIn = amount
	it.Expiry = time.Unix(r.Expiry, 0).UTC()

	rb, err := parseWord(r.Authorization.R)
	if err != nil {
		return it, fmt.Errorf("%w: authorization.r: %v", domain.ErrInvalidIntent, err)
	}
	sb, err := parseWord(r.Authorization.S)
	if err != nil {
		return it, fmt.Errorf("%w: authorization.s: %v", domain.ErrInvalidIntent, err)
	}
	it.Auth = domain.Authorization{V: r.Authorization.V, R: rb, S: sb}
	return it, nil
}

// ParseAddress 解析 0x 前缀的 20 字节地址
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("malformed address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseWord(s string) (common.Hash, error) {
	if len(s) != 66 || s[:2] != "0x" {
		return common.Hash{}, fmt.Errorf("expected 0x-prefixed 32-byte hex, got %q", s)
	}
	b := common.FromHex(s)
	if len(b) != 32 {
		return common.Hash{}, fmt.Errorf("malformed hex %q", s)
	}
	return common.BytesToHash(b), nil
}

// IntentDTO 已接受的意图
type IntentDTO struct {
	ID         string    `json:"id"`
	Seq        uint64    `json:"seq"`
	Submitter  string    `json:"submitter"`
	AssetSell  string    `json:"asset_sell"`
	AssetBuy   string    `json:"asset_buy"`
	Venue      string    `json:"venue"`
	AmountIn   string    `json:"amount_in"`
	Expiry     time.Time `json:"expiry"`
	AcceptedAt time.Time `json:"accepted_at"`
}

func toIntentDTO(it *domain.Intent) *IntentDTO {
	return &IntentDTO{
		ID:         it.ID,
		Seq:        it.Seq,
		Submitter:  it.Submitter.Hex(),
		AssetSell:  it.AssetSell.Hex(),
		AssetBuy:   it.AssetBuy.Hex(),
		Venue:      it.Venue.Hex(),
		AmountIn:   it.AmountIn.String(),
		Expiry:     it.Expiry,
		AcceptedAt: it.AcceptedAt,
	}
}

// BatchDTO 单个批次的结算汇总
type BatchDTO struct {
	AssetLow   string `json:"asset_low"`
	AssetHigh  string `json:"asset_high"`
	Venue      string `json:"venue"`
	SumForward string `json:"sum_forward"`
	SumReverse string `json:"sum_reverse"`
	Net        string `json:"net"`
	NetAsset   string `json:"net_asset"`
}

// PayoutDTO 单个参与者的兑付
type PayoutDTO struct {
	IntentID  string `json:"intent_id"`
	Submitter string `json:"submitter"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
}

// TriggerDTO trigger 结果
type TriggerDTO struct {
	Empty         bool         `json:"empty"`
	CapturedSlot  string       `json:"captured_slot,omitempty"`
	IntentCount   int          `json:"intent_count"`
	Batches       []*BatchDTO  `json:"batches"`
	Payouts       []*PayoutDTO `json:"payouts"`
	IntakeHandle  string       `json:"intake_handle"`
	RetiredHandle string       `json:"retired_handle"`
}

func toTriggerDTO(res *domain.TriggerResult) *TriggerDTO {
	out := &TriggerDTO{
		Empty:         res.Empty,
		CapturedSlot:  res.CapturedSlot,
		IntentCount:   res.IntentCount,
		Batches:       make([]*BatchDTO, 0),
		Payouts:       make([]*PayoutDTO, 0),
		IntakeHandle:  res.IntakeHandle,
		RetiredHandle: res.RetiredHandle,
	}
	for _, e := range res.Records.BatchesSettled() {
		out.Batches = append(out.Batches, &BatchDTO{
			AssetLow:   e.AssetLow.Hex(),
			AssetHigh:  e.AssetHigh.Hex(),
			Venue:      e.Venue.Hex(),
			SumForward: e.SumForward.String(),
			SumReverse: e.SumReverse.String(),
			Net:        e.Net.String(),
			NetAsset:   e.NetAsset.Hex(),
		})
	}
	for _, e := range res.Records.ParticipantsSettled() {
		out.Payouts = append(out.Payouts, &PayoutDTO{
			IntentID:  e.IntentID,
			Submitter: e.Submitter.Hex(),
			Asset:     e.AssetReceived.Hex(),
			Amount:    e.AmountReceived.String(),
		})
	}
	return out
}

// WithdrawalDTO 提取手续费结果，Withdrawn 为 false 表示余额为零的空操作
type WithdrawalDTO struct {
	Withdrawn bool   `json:"withdrawn"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	To        string `json:"to,omitempty"`
}

// QueueDTO 队列状态
type QueueDTO struct {
	IntakeHandle  string `json:"intake_handle"`
	RetiredHandle string `json:"retired_handle"`
	Pending       int    `json:"pending"`
	RetiredSize   int    `json:"retired_size"`
}

// StatsDTO 累计计数
type StatsDTO struct {
	TotalSettlements uint64 `json:"total_settlements"`
	TotalNetVolume   string `json:"total_net_volume"`
}

// FeeBalanceDTO 某资产累计手续费
type FeeBalanceDTO struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// RecordDTO 已落库的结算记录
type RecordDTO struct {
	Type       string        `json:"type"`
	OccurredAt time.Time     `json:"occurred_at"`
	Payload    domain.Record `json:"payload"`
}
