package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Batch 同一 PairKey 下的一组意图。
// Forward 卖出低位资产换高位资产，Reverse 卖出高位资产换低位资产。
type Batch struct {
	Key     PairKey   `json:"key"`
	Forward []*Intent `json:"forward"`
	Reverse []*Intent `json:"reverse"`
}

func (b *Batch) AssetLow() common.Address  { return b.Key.Low }
func (b *Batch) AssetHigh() common.Address { return b.Key.High }
func (b *Batch) Venue() common.Address     { return b.Key.Venue }

// Size 批次内意图总数
func (b *Batch) Size() int {
	return len(b.Forward) + len(b.Reverse)
}

// Sums 返回两个方向的卖出总量
func (b *Batch) Sums() (sumForward, sumReverse decimal.Decimal) {
	for _, it := range b.Forward {
		sumForward = sumForward.Add(it.AmountIn)
	}
	for _, it := range b.Reverse {
		sumReverse = sumReverse.Add(it.AmountIn)
	}
	return sumForward, sumReverse
}

// GroupIntents 按 PairKey 分组。
// 组内保持输入顺序；批次按其 PairKey 首次出现的顺序排列。
func GroupIntents(intents []*Intent) []*Batch {
	index := make(map[PairKey]*Batch)
	batches := make([]*Batch, 0)

	for _, it := range intents {
		key, forward := it.Key()
		b, ok := index[key]
		if !ok {
			b = &Batch{Key: key}
			index[key] = b
			batches = append(batches, b)
		}
		if forward {
			b.Forward = append(b.Forward, it)
		} else {
			b.Reverse = append(b.Reverse, it)
		}
	}
	return batches
}
