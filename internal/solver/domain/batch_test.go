package domain

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokA   = common.HexToAddress("0x000000000000000000000000000000000000000a")
	tokB   = common.HexToAddress("0x000000000000000000000000000000000000000b")
	tokC   = common.HexToAddress("0x000000000000000000000000000000000000000c")
	venue1 = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	venue2 = common.HexToAddress("0x00000000000000000000000000000000000000f2")
	user1  = common.HexToAddress("0x0000000000000000000000000000000000000101")
	user2  = common.HexToAddress("0x0000000000000000000000000000000000000102")
)

func intent(id string, seq uint64, sell, buy, venue common.Address, amount int64) *Intent {
	return &Intent{
		ID:        id,
		Seq:       seq,
		Submitter: user1,
		AssetSell: sell,
		AssetBuy:  buy,
		Venue:     venue,
		AmountIn:  decimal.NewFromInt(amount),
		Expiry:    time.Now().Add(time.Hour),
	}
}

func TestPairKeyIsDirectionless(t *testing.T) {
	k1, fwd1 := NewPairKey(tokA, tokB, venue1)
	k2, fwd2 := NewPairKey(tokB, tokA, venue1)
	assert.Equal(t, k1, k2)
	assert.True(t, fwd1)
	assert.False(t, fwd2)
	assert.Equal(t, tokA, k1.Low)
	assert.Equal(t, tokB, k1.High)

	k3, _ := NewPairKey(tokA, tokB, venue2)
	assert.NotEqual(t, k1, k3)
}

func TestGroupIntents(t *testing.T) {
	in := []*Intent{
		intent("1", 1, tokB, tokC, venue1, 10),
		intent("2", 2, tokA, tokB, venue1, 100),
		intent("3", 3, tokB, tokA, venue1, 50),
		intent("4", 4, tokA, tokB, venue1, 7),
		intent("5", 5, tokA, tokB, venue2, 1),
		intent("6", 6, tokC, tokB, venue1, 3),
	}
	batches := GroupIntents(in)
	require.Len(t, batches, 3)

	bc := batches[0]
	assert.Equal(t, PairKey{Low: tokB, High: tokC, Venue: venue1}, bc.Key)
	assert.Equal(t, []string{"1"}, ids(bc.Forward))
	assert.Equal(t, []string{"6"}, ids(bc.Reverse))

	ab := batches[1]
	assert.Equal(t, []string{"2", "4"}, ids(ab.Forward))
	assert.Equal(t, []string{"3"}, ids(ab.Reverse))
	assert.Equal(t, 3, ab.Size())
	sf, sr := ab.Sums()
	assert.True(t, sf.Equal(decimal.NewFromInt(107)))
	assert.True(t, sr.Equal(decimal.NewFromInt(50)))

	assert.Equal(t, venue2, batches[2].Venue())

	total := 0
	for _, b := range batches {
		total += b.Size()
	}
	assert.Equal(t, len(in), total)
}

func TestGroupIntentsEmpty(t *testing.T) {
	assert.Empty(t, GroupIntents(nil))
}

func TestIntentValidate(t *testing.T) {
	ok := intent("x", 0, tokA, tokB, venue1, 5)
	require.NoError(t, ok.Validate())

	cases := map[string]func(i *Intent){
		"zero submitter":  func(i *Intent) { i.Submitter = ZeroAddress },
		"zero asset":      func(i *Intent) { i.AssetBuy = ZeroAddress },
		"same assets":     func(i *Intent) { i.AssetBuy = i.AssetSell },
		"zero venue":      func(i *Intent) { i.Venue = ZeroAddress },
		"zero amount":     func(i *Intent) { i.AmountIn = decimal.Zero },
		"fraction amount": func(i *Intent) { i.AmountIn = decimal.RequireFromString("1.5") },
		"no expiry":       func(i *Intent) { i.Expiry = time.Time{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			it := *ok
			mutate(&it)
			assert.ErrorIs(t, it.Validate(), ErrInvalidIntent)
		})
	}
}

func ids(in []*Intent) []string {
	out := make([]string, len(in))
	for i, it := range in {
		out[i] = it.ID
	}
	return out
}
