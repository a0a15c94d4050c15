package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// NettingEngine 净额结算引擎。
// 先按提交顺序拉取全部批次的资金，再对每个批次：计算净额 -> 仅对净额调用交易场所 -> 兑付 -> 记入手续费。
// 一次 Settle 调用内所有批次共用一个账本事务，任一失败整体回滚。
// Settle 与 WithdrawFees 互斥执行。
type NettingEngine struct {
	mu sync.Mutex

	ledger  TokenLedger
	venues  VenueRegistry
	store   *Store
	fee     FeePolicy
	custody common.Address
	clock   func() time.Time
	logger  *slog.Logger
}

// EngineConfig 引擎依赖
type EngineConfig struct {
	Ledger  TokenLedger
	Venues  VenueRegistry
	Store   *Store
	Fee     FeePolicy
	Custody common.Address
	Clock   func() time.Time
	Logger  *slog.Logger
}

// NewNettingEngine 创建引擎
func NewNettingEngine(cfg EngineConfig) (*NettingEngine, error) {
	if err := cfg.Fee.Validate(); err != nil {
		return nil, err
	}
	if cfg.Custody == ZeroAddress {
		return nil, errors.New("custody account is required")
	}
	if cfg.Ledger == nil || cfg.Venues == nil || cfg.Store == nil {
		return nil, errors.New("ledger, venues and store are required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &NettingEngine{
		ledger:  cfg.Ledger,
		venues:  cfg.Venues,
		store:   cfg.Store,
		fee:     cfg.Fee,
		custody: cfg.Custody,
		clock:   clock,
		logger:  logger.With("module", "netting_engine"),
	}, nil
}

// Custody 引擎托管账户
func (e *NettingEngine) Custody() common.Address { return e.custody }

// FeePolicy 当前费率
func (e *NettingEngine) FeePolicy() FeePolicy { return e.fee }

// Settle 结算全部批次。失败时账本、手续费与计数器都保持调用前的状态。
func (e *NettingEngine) Settle(ctx context.Context, batches []*Batch) (log SettlementLog, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.ledger.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin ledger tx: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			e.logger.ErrorContext(ctx, "ledger rollback failed", "error", rbErr)
		}
	}()

	working := e.store.Snapshot()
	log = make(SettlementLog, 0, len(batches)*3)
	now := e.clock()

	// FundsPulled
	if err := e.pullAll(ctx, tx, batches, now); err != nil {
		e.logger.WarnContext(ctx, "funds pull aborted", "error", err)
		return nil, err
	}

	for _, b := range batches {
		if err := e.settleBatch(ctx, tx, working, b, now, &log); err != nil {
			e.logger.WarnContext(ctx, "batch settlement aborted", "pair", b.Key.String(), "error", err)
			return nil, fmt.Errorf("settle batch %s: %w", b.Key, err)
		}
	}

	prev, err := e.store.Commit(ctx, working, log)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		if rsErr := e.store.Restore(ctx, prev); rsErr != nil {
			e.logger.ErrorContext(ctx, "restore settlement state failed", "error", rsErr)
		}
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}
	committed = true
	return log, nil
}

type payout struct {
	intent *Intent
	asset  common.Address
	amount decimal.Decimal
}

func (e *NettingEngine) settleBatch(ctx context.Context, tx LedgerTx, state *SettlementState, b *Batch, now time.Time, log *SettlementLog) error {
	low, high := b.AssetLow(), b.AssetHigh()

	router, ok := e.venues.Router(b.Venue())
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVenue, b.Venue().Hex())
	}

	// 资金已在 pullAll 中转入托管账户，守恒基线扣除本批次拉取的部分
	sumForward, sumReverse := b.Sums()
	lowBefore, err := tx.BalanceOf(ctx, low, e.custody)
	if err != nil {
		return err
	}
	highBefore, err := tx.BalanceOf(ctx, high, e.custody)
	if err != nil {
		return err
	}
	lowBefore, highBefore = lowBefore.Sub(sumForward), highBefore.Sub(sumReverse)

	// Netted
	payouts := make([]payout, 0, b.Size())
	owedHigh, owedLow := decimal.Zero, decimal.Zero
	for _, it := range b.Forward {
		amt := e.fee.Payout(it.AmountIn)
		owedHigh = owedHigh.Add(amt)
		payouts = append(payouts, payout{intent: it, asset: high, amount: amt})
	}
	for _, it := range b.Reverse {
		amt := e.fee.Payout(it.AmountIn)
		owedLow = owedLow.Add(amt)
		payouts = append(payouts, payout{intent: it, asset: low, amount: amt})
	}

	net := sumForward.Sub(sumReverse).Abs()
	netAsset := ZeroAddress
	// 托管账户在本批次中收到的两种资产
	inLow, inHigh := sumForward, sumReverse

	// Swapped
	if net.IsPositive() {
		req := SwapRequest{
			Reference: fmt.Sprintf("%s#%d", b.Key, now.UnixNano()),
			Venue:     b.Venue(),
			AmountIn:  net,
			Recipient: e.custody,
		}
		var required decimal.Decimal
		if sumForward.GreaterThan(sumReverse) {
			netAsset = low
			req.AssetIn, req.AssetOut = low, high
			required = owedHigh.Sub(sumReverse)
		} else {
			netAsset = high
			req.AssetIn, req.AssetOut = high, low
			required = owedLow.Sub(sumForward)
		}
		if required.IsNegative() {
			required = decimal.Zero
		}
		req.MinAmountOut = required

		out, err := router.Swap(ctx, tx, req)
		if err != nil {
			return fmt.Errorf("swap %s %s->%s: %w", net, req.AssetIn.Hex(), req.AssetOut.Hex(), err)
		}
		if out.LessThan(required) {
			return fmt.Errorf("%w: got %s, need %s", ErrInsufficientSwapOutput, out, required)
		}
		if netAsset == low {
			inLow, inHigh = inLow.Sub(net), inHigh.Add(out)
		} else {
			inHigh, inLow = inHigh.Sub(net), inLow.Add(out)
		}
	}

	// Paid
	for _, p := range payouts {
		if err := tx.Transfer(ctx, p.asset, e.custody, p.intent.Submitter, p.amount); err != nil {
			return fmt.Errorf("pay %s: %w", p.intent.Submitter.Hex(), err)
		}
		*log = append(*log, ParticipantSettledEvent{
			BaseEvent:      BaseEvent{Timestamp: now},
			IntentID:       p.intent.ID,
			Submitter:      p.intent.Submitter,
			AssetReceived:  p.asset,
			AmountReceived: p.amount,
		})
	}

	feeLow, feeHigh := inLow.Sub(owedLow), inHigh.Sub(owedHigh)
	if err := e.checkConservation(ctx, tx, low, lowBefore, feeLow); err != nil {
		return err
	}
	if err := e.checkConservation(ctx, tx, high, highBefore, feeHigh); err != nil {
		return err
	}

	// Recorded
	state.CreditFee(low, feeLow)
	state.CreditFee(high, feeHigh)
	state.Counters.TotalSettlements += uint64(b.Size())
	state.Counters.TotalNetVolume = state.Counters.TotalNetVolume.Add(net)

	*log = append(*log, BatchSettledEvent{
		BaseEvent:  BaseEvent{Timestamp: now},
		AssetLow:   low,
		AssetHigh:  high,
		Venue:      b.Venue(),
		SumForward: sumForward,
		SumReverse: sumReverse,
		Net:        net,
		NetAsset:   netAsset,
	})
	return nil
}

// pullAll 按 Seq 顺序拉取所有批次的资金。
// 提交者按提交顺序为每个 (asset, owner) 签发递增 nonce，批次顺序与之无关。
func (e *NettingEngine) pullAll(ctx context.Context, tx LedgerTx, batches []*Batch, now time.Time) error {
	pulls := make([]*Intent, 0)
	for _, b := range batches {
		pulls = append(pulls, b.Forward...)
		pulls = append(pulls, b.Reverse...)
	}
	sort.Slice(pulls, func(i, j int) bool { return pulls[i].Seq < pulls[j].Seq })
	for _, it := range pulls {
		if err := e.pull(ctx, tx, it, now); err != nil {
			return err
		}
	}
	return nil
}

func (e *NettingEngine) pull(ctx context.Context, tx LedgerTx, it *Intent, now time.Time) error {
	if it.Expired(now) {
		return fmt.Errorf("%w: intent %s expired at %s", ErrExpiredAuthorization, it.ID, it.Expiry.UTC().Format(time.RFC3339))
	}
	p := Permit{
		Asset:    it.AssetSell,
		Owner:    it.Submitter,
		Spender:  e.custody,
		Value:    it.AmountIn,
		Deadline: it.Expiry,
		Auth:     it.Auth,
	}
	if err := tx.PermitTransferFrom(ctx, p, e.custody); err != nil {
		return fmt.Errorf("pull intent %s from %s: %w", it.ID, it.Submitter.Hex(), err)
	}
	return nil
}

func (e *NettingEngine) checkConservation(ctx context.Context, tx LedgerTx, asset common.Address, before, fee decimal.Decimal) error {
	after, err := tx.BalanceOf(ctx, asset, e.custody)
	if err != nil {
		return err
	}
	if delta := after.Sub(before); !delta.Equal(fee) {
		return fmt.Errorf("%w: asset %s custody delta %s, fee %s", ErrConservationViolated, asset.Hex(), delta, fee)
	}
	if fee.IsNegative() {
		return fmt.Errorf("%w: asset %s negative fee %s", ErrConservationViolated, asset.Hex(), fee)
	}
	return nil
}

// WithdrawFees 把某资产的累计手续费全部转给 to 并清零。余额为零时为空操作，返回 nil 记录。
func (e *NettingEngine) WithdrawFees(ctx context.Context, asset, to common.Address) (*FeesWithdrawnEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	amount := e.store.FeeBalance(asset)
	if !amount.IsPositive() {
		return nil, nil
	}

	tx, err := e.ledger.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin ledger tx: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			e.logger.ErrorContext(ctx, "ledger rollback failed", "error", rbErr)
		}
	}()

	if err := tx.Transfer(ctx, asset, e.custody, to, amount); err != nil {
		return nil, fmt.Errorf("withdraw fees %s: %w", asset.Hex(), err)
	}

	next := e.store.Snapshot()
	next.Fees[asset] = decimal.Zero
	ev := FeesWithdrawnEvent{
		BaseEvent: BaseEvent{Timestamp: e.clock()},
		Asset:     asset,
		Amount:    amount,
	}

	prev, err := e.store.Commit(ctx, next, SettlementLog{ev})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		if rsErr := e.store.Restore(ctx, prev); rsErr != nil {
			e.logger.ErrorContext(ctx, "restore settlement state failed", "error", rsErr)
		}
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}
	committed = true

	e.logger.InfoContext(ctx, "fees withdrawn", "asset", asset.Hex(), "amount", amount.String(), "to", to.Hex())
	return &ev, nil
}
