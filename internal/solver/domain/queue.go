package domain

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Settler 消费分组后的批次。由 NettingEngine 实现，只会被 IntentQueue 调用。
type Settler interface {
	Settle(ctx context.Context, batches []*Batch) (SettlementLog, error)
}

// TriggerResult 一次 trigger 的结果。Empty 为 true 时表示空操作。
type TriggerResult struct {
	Empty         bool          `json:"empty"`
	CapturedSlot  string        `json:"captured_slot"`
	IntentCount   int           `json:"intent_count"`
	Batches       []*Batch      `json:"batches"`
	Records       SettlementLog `json:"-"`
	IntakeHandle  string        `json:"intake_handle"`
	RetiredHandle string        `json:"retired_handle"`
}

// IntentQueue 双槽位的意图队列。
// intake 槽位接受并发提交；trigger 时把 intake 整体交给结算，同时把空的 retired 槽位改为新的 intake。
type IntentQueue struct {
	// rotate 由提交方共享持有，只有槽位切换时独占，保证不会有提交写进切换了一半的槽位
	rotate sync.RWMutex
	slots  [2]*intentSlot
	intake int

	seq     atomic.Uint64
	flight  chan struct{}
	settler Settler
	clock   func() time.Time
}

// QueueOption 队列可选配置
type QueueOption func(*IntentQueue)

// WithClock 替换时钟，测试使用
func WithClock(clock func() time.Time) QueueOption {
	return func(q *IntentQueue) { q.clock = clock }
}

// WithSlotHandles 指定两个槽位的标识
func WithSlotHandles(intake, retired string) QueueOption {
	return func(q *IntentQueue) {
		q.slots[0].handle = intake
		q.slots[1].handle = retired
	}
}

// NewIntentQueue 创建队列
func NewIntentQueue(settler Settler, opts ...QueueOption) *IntentQueue {
	q := &IntentQueue{
		slots:   [2]*intentSlot{newIntentSlot("slot-0"), newIntentSlot("slot-1")},
		flight:  make(chan struct{}, 1),
		settler: settler,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Submit 校验并追加到当前 intake 槽位，返回带序号的副本
func (q *IntentQueue) Submit(it Intent) (*Intent, error) {
	if err := it.Validate(); err != nil {
		return nil, err
	}
	now := q.clock()
	if it.Expired(now) {
		return nil, fmt.Errorf("%w: intent expired at %s", ErrExpiredAuthorization, it.Expiry.UTC().Format(time.RFC3339))
	}

	accepted := it
	accepted.AcceptedAt = now

	q.rotate.RLock()
	accepted.Seq = q.seq.Add(1)
	q.slots[q.intake].push(&accepted)
	q.rotate.RUnlock()

	return &accepted, nil
}

// Trigger 快照 intake、分组、结算、轮换。
// 结算失败时队列回到调用前的状态：捕获的意图未被消费，期间新提交的意图并入原 intake。
func (q *IntentQueue) Trigger(ctx context.Context) (*TriggerResult, error) {
	select {
	case q.flight <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-q.flight }()

	q.rotate.Lock()
	capturedIdx := q.intake
	captured := q.slots[capturedIdx]
	if captured.len() == 0 {
		res := &TriggerResult{
			Empty:         true,
			IntakeHandle:  captured.handle,
			RetiredHandle: q.slots[1-capturedIdx].handle,
		}
		q.rotate.Unlock()
		return res, nil
	}
	q.intake = 1 - capturedIdx
	q.rotate.Unlock()

	intents := captured.items()
	batches := GroupIntents(intents)

	records, err := q.settler.Settle(ctx, batches)
	if err != nil {
		q.rotate.Lock()
		fresh := q.slots[q.intake]
		for _, it := range fresh.drain() {
			captured.push(it)
		}
		q.intake = capturedIdx
		q.rotate.Unlock()
		return nil, err
	}

	captured.reset()

	q.rotate.RLock()
	res := &TriggerResult{
		CapturedSlot:  captured.handle,
		IntentCount:   len(intents),
		Batches:       batches,
		Records:       records,
		IntakeHandle:  q.slots[q.intake].handle,
		RetiredHandle: q.slots[1-q.intake].handle,
	}
	q.rotate.RUnlock()
	return res, nil
}

// EvictExpired 从 intake 中移除已过期的意图，返回被移除的意图。
// 与 Trigger 共用单飞约束。
func (q *IntentQueue) EvictExpired(ctx context.Context) ([]*Intent, error) {
	select {
	case q.flight <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-q.flight }()

	now := q.clock()

	q.rotate.Lock()
	defer q.rotate.Unlock()

	slot := q.slots[q.intake]
	evicted := make([]*Intent, 0)
	for _, it := range slot.drain() {
		if it.Expired(now) {
			evicted = append(evicted, it)
			continue
		}
		slot.push(it)
	}
	return evicted, nil
}

// IntakeHandle 当前 intake 槽位标识
func (q *IntentQueue) IntakeHandle() string {
	q.rotate.RLock()
	defer q.rotate.RUnlock()
	return q.slots[q.intake].handle
}

// RetiredHandle 当前 retired 槽位标识
func (q *IntentQueue) RetiredHandle() string {
	q.rotate.RLock()
	defer q.rotate.RUnlock()
	return q.slots[1-q.intake].handle
}

// Pending intake 中待处理的意图数量
func (q *IntentQueue) Pending() int {
	q.rotate.RLock()
	defer q.rotate.RUnlock()
	return q.slots[q.intake].len()
}

// RetiredSize retired 槽位中的意图数量，轮换完成后应为 0
func (q *IntentQueue) RetiredSize() int {
	q.rotate.RLock()
	defer q.rotate.RUnlock()
	return q.slots[1-q.intake].len()
}
