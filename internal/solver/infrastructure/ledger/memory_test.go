package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/cowsolver/internal/solver/domain"
	"github.com/wyfcoding/cowsolver/internal/solver/infrastructure/permit"
)

var (
	assetX  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	custody = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	now     = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func fixedClock() time.Time { return now }

func TestTransferVisibleOnlyAfterCommit(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(nil, fixedClock)
	l.Mint(assetX, alice, d(100))

	tx, err := l.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Transfer(ctx, assetX, alice, bob, d(40)))

	inTx, err := tx.BalanceOf(ctx, assetX, bob)
	require.NoError(t, err)
	assert.True(t, inTx.Equal(d(40)))

	committed, err := l.BalanceOf(ctx, assetX, bob)
	require.NoError(t, err)
	assert.True(t, committed.IsZero())

	require.NoError(t, tx.Commit(ctx))
	committed, err = l.BalanceOf(ctx, assetX, bob)
	require.NoError(t, err)
	assert.True(t, committed.Equal(d(40)))

	assert.ErrorIs(t, tx.Commit(ctx), ErrTxDone)
}

func TestRollbackDiscardsAndRunsCompensationsInReverse(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(nil, fixedClock)
	l.Mint(assetX, alice, d(100))

	tx, err := l.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Transfer(ctx, assetX, alice, bob, d(100)))

	var order []int
	tx.OnRollback(func(context.Context) { order = append(order, 1) })
	tx.OnRollback(func(context.Context) { order = append(order, 2) })
	require.NoError(t, tx.Rollback(ctx))

	assert.Equal(t, []int{2, 1}, order)
	bal, _ := l.BalanceOf(ctx, assetX, alice)
	assert.True(t, bal.Equal(d(100)))

	// 锁已释放，可以再次开启事务
	tx2, err := l.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx2.Rollback(ctx))
}

func TestTransferInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(nil, fixedClock)
	l.Mint(assetX, alice, d(10))

	tx, err := l.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	err = tx.Transfer(ctx, assetX, alice, bob, d(11))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Error(t, tx.Transfer(ctx, assetX, alice, bob, d(-1)))
}

func TestBeginHonoursContext(t *testing.T) {
	l := NewMemoryLedger(nil, fixedClock)
	tx, err := l.Begin(context.Background())
	require.NoError(t, err)
	defer tx.Rollback(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Begin(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPermitTransferFrom(t *testing.T) {
	ctx := context.Background()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey)

	v := permit.NewVerifier(1, map[common.Address]string{assetX: "Token X"})
	l := NewMemoryLedger(v, fixedClock)
	l.Mint(assetX, owner, d(1_000))

	sign := func(value int64, nonce uint64, deadline time.Time) domain.Permit {
		p := domain.Permit{Asset: assetX, Owner: owner, Spender: custody, Value: d(value), Deadline: deadline}
		p.Auth, err = v.Sign(key, p, nonce)
		require.NoError(t, err)
		return p
	}

	t.Run("consumes nonce", func(t *testing.T) {
		tx, err := l.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.PermitTransferFrom(ctx, sign(100, 0, now.Add(time.Hour)), custody))
		// 同一签名不能重放
		err = tx.PermitTransferFrom(ctx, sign(100, 0, now.Add(time.Hour)), custody)
		assert.ErrorIs(t, err, domain.ErrInvalidAuthorization)
		require.NoError(t, tx.PermitTransferFrom(ctx, sign(50, 1, now.Add(time.Hour)), custody))
		require.NoError(t, tx.Commit(ctx))

		assert.Equal(t, uint64(2), l.Nonce(assetX, owner))
		bal, _ := l.BalanceOf(ctx, assetX, custody)
		assert.True(t, bal.Equal(d(150)))
	})

	t.Run("rollback restores nonce", func(t *testing.T) {
		tx, err := l.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.PermitTransferFrom(ctx, sign(10, 2, now.Add(time.Hour)), custody))
		require.NoError(t, tx.Rollback(ctx))
		assert.Equal(t, uint64(2), l.Nonce(assetX, owner))
	})

	t.Run("expired", func(t *testing.T) {
		tx, err := l.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback(ctx)
		err = tx.PermitTransferFrom(ctx, sign(10, 2, now), custody)
		assert.ErrorIs(t, err, domain.ErrExpiredAuthorization)
	})

	t.Run("amount mismatch", func(t *testing.T) {
		tx, err := l.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback(ctx)
		p := sign(10, 2, now.Add(time.Hour))
		p.Value = d(11)
		assert.ErrorIs(t, tx.PermitTransferFrom(ctx, p, custody), domain.ErrInvalidAuthorization)
	})
}
