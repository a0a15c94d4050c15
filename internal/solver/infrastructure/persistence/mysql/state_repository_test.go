package mysql

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/cowsolver/internal/solver/domain"
	"github.com/wyfcoding/cowsolver/pkg/db"
	"github.com/wyfcoding/cowsolver/pkg/logger"
)

var (
	assetX = common.HexToAddress("0x0000000000000000000000000000000000000001")
	assetY = common.HexToAddress("0x0000000000000000000000000000000000000002")
	at     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func TestRecordPODecodesKnownTypes(t *testing.T) {
	ev := domain.BatchSettledEvent{
		BaseEvent:  domain.BaseEvent{Timestamp: at},
		AssetLow:   assetX,
		AssetHigh:  assetY,
		SumForward: decimal.RequireFromString("100000000000000000000000"),
		SumReverse: decimal.NewFromInt(1),
		Net:        decimal.RequireFromString("99999999999999999999999"),
		NetAsset:   assetX,
	}
	po, err := newRecordPO(7, ev)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), po.Version)
	assert.Equal(t, domain.EventBatchSettled, po.EventType)

	rec, err := po.toDomain()
	require.NoError(t, err)
	got, ok := rec.(domain.BatchSettledEvent)
	require.True(t, ok)
	assert.True(t, got.Net.Equal(ev.Net))
	assert.Equal(t, assetX, got.NetAsset)

	// 未知类型跳过，兼容以后新增的记录
	unknown := &RecordPO{EventType: "Something", Payload: "{}"}
	rec, err = unknown.toDomain()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func openRepository(t *testing.T) *StateRepository {
	t.Helper()
	dsn := os.Getenv("COWSOLVER_MYSQL_DSN")
	if dsn == "" {
		t.Skip("COWSOLVER_MYSQL_DSN not set")
	}
	database, err := db.Init(context.Background(), db.Config{
		Driver:          "mysql",
		DSN:             dsn,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 60,
	}, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	repo := NewStateRepository(database)
	require.NoError(t, repo.AutoMigrate())
	for _, table := range []string{"solver_records", "solver_fee_balances", "solver_state"} {
		require.NoError(t, database.Exec("DELETE FROM "+table).Error)
	}
	return repo
}

func TestStateRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := openRepository(t)

	empty, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.Version)

	s1 := domain.NewSettlementState()
	s1.Version = 1
	s1.CreditFee(assetX, decimal.NewFromInt(50_000))
	s1.Counters.TotalSettlements = 2
	require.NoError(t, repo.Save(ctx, s1, domain.SettlementLog{
		domain.FeesWithdrawnEvent{BaseEvent: domain.BaseEvent{Timestamp: at}, Asset: assetX, Amount: decimal.NewFromInt(1)},
	}))

	s2 := s1.Clone()
	s2.Version = 2
	s2.CreditFee(assetY, decimal.NewFromInt(25_000))
	require.NoError(t, repo.Save(ctx, s2, domain.SettlementLog{
		domain.FeesWithdrawnEvent{BaseEvent: domain.BaseEvent{Timestamp: at}, Asset: assetY, Amount: decimal.NewFromInt(2)},
	}))

	loaded, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), loaded.Version)
	assert.Equal(t, uint64(2), loaded.Counters.TotalSettlements)
	assert.True(t, loaded.FeeBalance(assetY).Equal(decimal.NewFromInt(25_000)))

	all, err := repo.Since(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Revert 删除更高版本的记录与余额
	require.NoError(t, repo.Revert(ctx, s1))
	loaded, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), loaded.Version)
	assert.True(t, loaded.FeeBalance(assetY).IsZero())

	tail, err := repo.Since(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, tail)
}
