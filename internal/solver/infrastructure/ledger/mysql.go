package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/cowsolver/internal/solver/domain"
	"github.com/wyfcoding/cowsolver/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountPO 某账户在某资产上的余额与 permit nonce
type AccountPO struct {
	Asset     string          `gorm:"column:asset;type:char(42);primaryKey"`
	Owner     string          `gorm:"column:owner;type:char(42);primaryKey"`
	Balance   decimal.Decimal `gorm:"column:balance;type:decimal(65,0);not null"`
	Nonce     uint64          `gorm:"column:nonce;not null;default:0"`
	UpdatedAt time.Time       `gorm:"column:updated_at"`
}

func (AccountPO) TableName() string {
	return "ledger_accounts"
}

// MySQLLedger 余额存放在 MySQL，事务内对涉及的行加 FOR UPDATE 锁
type MySQLLedger struct {
	db       *db.DB
	verifier domain.PermitVerifier
	clock    func() time.Time
}

func NewMySQLLedger(database *db.DB, verifier domain.PermitVerifier, clock func() time.Time) *MySQLLedger {
	if clock == nil {
		clock = time.Now
	}
	return &MySQLLedger{db: database, verifier: verifier, clock: clock}
}

// AutoMigrate 建表，dev 环境使用
func (l *MySQLLedger) AutoMigrate() error {
	return l.db.AutoMigrate(&AccountPO{})
}

// Mint 直接增加余额，用于初始化
func (l *MySQLLedger) Mint(ctx context.Context, asset, owner common.Address, amount decimal.Decimal) error {
	return l.db.WithTx(ctx, func(tx *gorm.DB) error {
		acc, err := lockAccount(tx, asset, owner)
		if err != nil {
			return err
		}
		acc.Balance = acc.Balance.Add(amount)
		return tx.Save(acc).Error
	})
}

func (l *MySQLLedger) BalanceOf(ctx context.Context, asset, owner common.Address) (decimal.Decimal, error) {
	var acc AccountPO
	err := l.db.WithContext(ctx).Where("asset = ? AND owner = ?", asset.Hex(), owner.Hex()).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance, nil
}

func (l *MySQLLedger) Begin(ctx context.Context) (domain.LedgerTx, error) {
	tx, err := l.db.Begin(ctx, sql.LevelRepeatableRead)
	if err != nil {
		return nil, fmt.Errorf("begin mysql tx: %w", err)
	}
	return &mysqlTx{ledger: l, tx: tx}, nil
}

type mysqlTx struct {
	ledger       *MySQLLedger
	tx           *gorm.DB
	compensators []func(ctx context.Context)
	done         bool
}

// lockAccount 读取并锁定账户行，不存在时插入零余额行再锁定
func lockAccount(tx *gorm.DB, asset, owner common.Address) (*AccountPO, error) {
	acc := &AccountPO{Asset: asset.Hex(), Owner: owner.Hex(), Balance: decimal.Zero}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(acc).Error; err != nil {
		return nil, err
	}
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("asset = ? AND owner = ?", acc.Asset, acc.Owner).
		First(acc).Error; err != nil {
		return nil, err
	}
	return acc, nil
}

func (t *mysqlTx) BalanceOf(ctx context.Context, asset, owner common.Address) (decimal.Decimal, error) {
	if t.done {
		return decimal.Zero, ErrTxDone
	}
	var acc AccountPO
	err := t.tx.WithContext(ctx).Where("asset = ? AND owner = ?", asset.Hex(), owner.Hex()).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance, nil
}

func (t *mysqlTx) Transfer(ctx context.Context, asset, from, to common.Address, amount decimal.Decimal) error {
	if t.done {
		return ErrTxDone
	}
	if amount.IsNegative() {
		return fmt.Errorf("negative transfer amount %s", amount)
	}
	if amount.IsZero() || from == to {
		return nil
	}
	tx := t.tx.WithContext(ctx)

	// 固定加锁顺序避免死锁
	first, second := from, to
	if domain.CompareAssets(first, second) > 0 {
		first, second = second, first
	}
	accFirst, err := lockAccount(tx, asset, first)
	if err != nil {
		return err
	}
	accSecond, err := lockAccount(tx, asset, second)
	if err != nil {
		return err
	}
	src, dst := accFirst, accSecond
	if first != from {
		src, dst = accSecond, accFirst
	}

	if src.Balance.LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s", domain.ErrInsufficientBalance, from.Hex(), src.Balance, asset.Hex(), amount)
	}
	src.Balance = src.Balance.Sub(amount)
	dst.Balance = dst.Balance.Add(amount)
	if err := tx.Save(src).Error; err != nil {
		return err
	}
	return tx.Save(dst).Error
}

func (t *mysqlTx) PermitTransferFrom(ctx context.Context, p domain.Permit, to common.Address) error {
	if t.done {
		return ErrTxDone
	}
	if !t.ledger.clock().Before(p.Deadline) {
		return fmt.Errorf("%w: permit deadline %s", domain.ErrExpiredAuthorization, p.Deadline.UTC().Format(time.RFC3339))
	}
	tx := t.tx.WithContext(ctx)
	acc, err := lockAccount(tx, p.Asset, p.Owner)
	if err != nil {
		return err
	}
	if t.ledger.verifier == nil || !t.ledger.verifier.Verify(p, acc.Nonce) {
		return fmt.Errorf("%w: owner %s nonce %d", domain.ErrInvalidAuthorization, p.Owner.Hex(), acc.Nonce)
	}
	if err := tx.Model(acc).Update("nonce", acc.Nonce+1).Error; err != nil {
		return err
	}
	return t.Transfer(ctx, p.Asset, p.Owner, to, p.Value)
}

func (t *mysqlTx) OnRollback(fn func(ctx context.Context)) {
	t.compensators = append(t.compensators, fn)
}

func (t *mysqlTx) Commit(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	return t.tx.Commit().Error
}

func (t *mysqlTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	err := t.tx.Rollback().Error
	for i := len(t.compensators) - 1; i >= 0; i-- {
		t.compensators[i](ctx)
	}
	return err
}
