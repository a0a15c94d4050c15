package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Authorization permit 签名三元组 (v, r, s)
type Authorization struct {
	V uint8       `json:"v"`
	R common.Hash `json:"r"`
	S common.Hash `json:"s"`
}

// Intent 参与者签名的兑换意图。创建后不可变，由一次结算恰好消费一次。
type Intent struct {
	ID         string          `json:"id"`
	Seq        uint64          `json:"seq"`
	Submitter  common.Address  `json:"submitter"`
	AssetSell  common.Address  `json:"asset_sell"`
	AssetBuy   common.Address  `json:"asset_buy"`
	Venue      common.Address  `json:"venue"`
	AmountIn   decimal.Decimal `json:"amount_in"`
	Expiry     time.Time       `json:"expiry"`
	Auth       Authorization   `json:"authorization"`
	AcceptedAt time.Time       `json:"accepted_at"`
}

// Key 返回意图所属的交易对以及方向
func (i *Intent) Key() (PairKey, bool) {
	return NewPairKey(i.AssetSell, i.AssetBuy, i.Venue)
}

// Expired 判断在 now 时刻意图是否已过期
func (i *Intent) Expired(now time.Time) bool {
	return !now.Before(i.Expiry)
}

// Validate 校验意图字段，不检查过期
func (i *Intent) Validate() error {
	switch {
	case i.Submitter == ZeroAddress:
		return fmt.Errorf("%w: submitter is zero address", ErrInvalidIntent)
	case i.AssetSell == ZeroAddress || i.AssetBuy == ZeroAddress:
		return fmt.Errorf("%w: asset is zero address", ErrInvalidIntent)
	case i.AssetSell == i.AssetBuy:
		return fmt.Errorf("%w: sell and buy asset are identical", ErrInvalidIntent)
	case i.Venue == ZeroAddress:
		return fmt.Errorf("%w: venue is zero address", ErrInvalidIntent)
	case !i.AmountIn.IsPositive():
		return fmt.Errorf("%w: amount_in must be positive", ErrInvalidIntent)
	case !i.AmountIn.IsInteger():
		return fmt.Errorf("%w: amount_in must be an integer number of base units", ErrInvalidIntent)
	case i.Expiry.IsZero():
		return fmt.Errorf("%w: expiry is required", ErrInvalidIntent)
	}
	return nil
}
