package permit

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/cowsolver/internal/solver/domain"
)

var (
	assetX  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	custody = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func TestSignThenVerify(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey)

	v := NewVerifier(1, map[common.Address]string{assetX: "Token X"})
	p := domain.Permit{
		Asset:    assetX,
		Owner:    owner,
		Spender:  custody,
		Value:    decimal.NewFromInt(100_000_000),
		Deadline: time.Unix(1_900_000_000, 0),
	}
	p.Auth, err = v.Sign(key, p, 0)
	require.NoError(t, err)
	assert.Contains(t, []uint8{27, 28}, p.Auth.V)

	assert.True(t, v.Verify(p, 0))

	t.Run("wrong nonce", func(t *testing.T) {
		assert.False(t, v.Verify(p, 1))
	})
	t.Run("wrong amount", func(t *testing.T) {
		q := p
		q.Value = decimal.NewFromInt(100_000_001)
		assert.False(t, v.Verify(q, 0))
	})
	t.Run("wrong spender", func(t *testing.T) {
		q := p
		q.Spender = owner
		assert.False(t, v.Verify(q, 0))
	})
	t.Run("wrong owner", func(t *testing.T) {
		q := p
		q.Owner = custody
		assert.False(t, v.Verify(q, 0))
	})
	t.Run("other chain", func(t *testing.T) {
		other := NewVerifier(5, map[common.Address]string{assetX: "Token X"})
		assert.False(t, other.Verify(p, 0))
	})
	t.Run("unregistered asset", func(t *testing.T) {
		q := p
		q.Asset = custody
		assert.False(t, v.Verify(q, 0))
	})
	t.Run("zero signature", func(t *testing.T) {
		q := p
		q.Auth = domain.Authorization{}
		assert.False(t, v.Verify(q, 0))
	})
}

func TestDigestCoversDeadline(t *testing.T) {
	v := NewVerifier(1, map[common.Address]string{assetX: "Token X"})
	p := domain.Permit{
		Asset:    assetX,
		Owner:    common.HexToAddress("0x0000000000000000000000000000000000000011"),
		Spender:  custody,
		Value:    decimal.NewFromInt(1),
		Deadline: time.Unix(1, 0),
	}
	d1, err := v.Digest(p, 0)
	require.NoError(t, err)
	d2, err := v.Digest(p, 0)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	p.Deadline = time.Unix(2, 0)
	d3, err := v.Digest(p, 0)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}

func TestSignIntent(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	v := NewVerifier(1, map[common.Address]string{assetX: "Token X"})

	it := &domain.Intent{
		Submitter: crypto.PubkeyToAddress(key.PublicKey),
		AssetSell: assetX,
		AmountIn:  decimal.NewFromInt(42),
		Expiry:    time.Now().Add(time.Hour),
	}
	require.NoError(t, v.SignIntent(key, it, custody, 3))

	assert.True(t, v.Verify(domain.Permit{
		Asset: it.AssetSell, Owner: it.Submitter, Spender: custody,
		Value: it.AmountIn, Deadline: it.Expiry, Auth: it.Auth,
	}, 3))
}
