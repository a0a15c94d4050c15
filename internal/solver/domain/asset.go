package domain

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ZeroAddress 空地址，净额为零时作为 BatchSettled 的 netAsset
var ZeroAddress common.Address

// CompareAssets 资产的全序：按地址字节比较
func CompareAssets(a, b common.Address) int {
	return bytes.Compare(a[:], b[:])
}

// PairKey 交易对的规范化标识：低位资产、高位资产、交易场所。
// 方向无关，(A,B,v) 与 (B,A,v) 得到同一个 PairKey。
type PairKey struct {
	Low   common.Address `json:"asset_low"`
	High  common.Address `json:"asset_high"`
	Venue common.Address `json:"venue"`
}

// NewPairKey 规范化 (sell, buy, venue)。forward 表示 sell 排在 buy 之前。
func NewPairKey(sell, buy, venue common.Address) (key PairKey, forward bool) {
	if CompareAssets(sell, buy) <= 0 {
		return PairKey{Low: sell, High: buy, Venue: venue}, true
	}
	return PairKey{Low: buy, High: sell, Venue: venue}, false
}

func (k PairKey) String() string {
	return fmt.Sprintf("%s/%s@%s", k.Low.Hex(), k.High.Hex(), k.Venue.Hex())
}
